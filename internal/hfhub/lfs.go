package hfhub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strconv"
)

// LFSUploadInfo tells where to send one LFS object. An empty UploadURL means
// the hub already has it.
type LFSUploadInfo struct {
	OID       string
	Size      int64
	UploadURL string
	Header    map[string]string
}

// LFSBatchObject represents an object in the LFS batch request/response
type LFSBatchObject struct {
	OID     string      `json:"oid"`
	Size    int64       `json:"size"`
	Actions *LFSActions `json:"actions,omitempty"`
}

// LFSActions contains upload and verify actions
type LFSActions struct {
	Upload *LFSAction `json:"upload,omitempty"`
	Verify *LFSAction `json:"verify,omitempty"`
}

// LFSAction represents an upload or verify action
type LFSAction struct {
	Href   string            `json:"href"`
	Header map[string]string `json:"header"`
}

// LFSBatchRequest is the request to the LFS batch endpoint
type LFSBatchRequest struct {
	Operation string           `json:"operation"`
	Transfers []string         `json:"transfers"`
	Objects   []LFSBatchObject `json:"objects"`
	HashAlgo  string           `json:"hash_algo"`
}

// LFSBatchResponse is the response from the LFS batch endpoint
type LFSBatchResponse struct {
	Objects  []LFSBatchObject `json:"objects"`
	Transfer string           `json:"transfer,omitempty"`
}

// preuploadLFS asks the Git LFS batch API where each object goes
func (p *Publisher) preuploadLFS(ctx context.Context, repoID string, ops []CommitOperation) (map[string]*LFSUploadInfo, error) {
	objects := make([]LFSBatchObject, 0, len(ops))
	for _, op := range ops {
		objects = append(objects, LFSBatchObject{OID: op.LFSFile.SHA256, Size: op.LFSFile.Size})
	}
	body, err := json.Marshal(LFSBatchRequest{
		Operation: "upload",
		Transfers: []string{"basic", "multipart"},
		Objects:   objects,
		HashAlgo:  "sha256",
	})
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/%s.git/info/lfs/objects/batch", p.endpoint, repoID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.token)
	req.Header.Set("Content-Type", "application/vnd.git-lfs+json")
	req.Header.Set("Accept", "application/vnd.git-lfs+json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("LFS batch failed with status %d: %s", resp.StatusCode, preview(string(bodyBytes)))
	}

	var batch LFSBatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&batch); err != nil {
		return nil, fmt.Errorf("failed to decode LFS batch response: %w", err)
	}

	uploads := make(map[string]*LFSUploadInfo, len(batch.Objects))
	for _, obj := range batch.Objects {
		info := &LFSUploadInfo{OID: obj.OID, Size: obj.Size}
		if obj.Actions != nil && obj.Actions.Upload != nil {
			info.UploadURL = obj.Actions.Upload.Href
			info.Header = obj.Actions.Upload.Header
		}
		uploads[obj.OID] = info
	}
	p.logger.Debug("LFS batch completed", "objects", len(uploads), "transfer", batch.Transfer)
	return uploads, nil
}

// uploadLFS sends one object with the basic or multipart protocol
func (p *Publisher) uploadLFS(ctx context.Context, info *LFSUploadInfo, data []byte) error {
	if info.UploadURL == "" {
		p.logger.Debug("LFS object already on the hub", "oid", info.OID)
		return nil
	}
	if chunk, ok := info.Header["chunk_size"]; ok {
		return p.uploadLFSMultipart(ctx, info, data, chunk)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, info.UploadURL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	for key, value := range info.Header {
		if !isNumericKey(key) {
			req.Header.Set(key, value)
		}
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("LFS upload failed with status %d: %s", resp.StatusCode, preview(string(bodyBytes)))
	}

	p.logger.Info("LFS object uploaded", "oid", info.OID, "size", len(data))
	return nil
}

type completedPart struct {
	PartNumber int    `json:"partNumber"`
	ETag       string `json:"etag"`
}

// uploadLFSMultipart PUTs each chunk to its presigned URL (header keys
// "1", "2", ...) and then posts the ETags to the completion URL.
func (p *Publisher) uploadLFSMultipart(ctx context.Context, info *LFSUploadInfo, data []byte, chunkSizeStr string) error {
	chunkSize, err := strconv.ParseInt(chunkSizeStr, 10, 64)
	if err != nil || chunkSize <= 0 {
		return fmt.Errorf("invalid chunk_size: %s", chunkSizeStr)
	}

	partURLs := extractPartURLs(info.Header)
	if len(partURLs) == 0 {
		return fmt.Errorf("no part URLs found in multipart upload response")
	}
	numbers := make([]int, 0, len(partURLs))
	for n := range partURLs {
		numbers = append(numbers, n)
	}
	slices.Sort(numbers)

	parts := make([]completedPart, 0, len(numbers))
	for _, n := range numbers {
		offset := int64(n-1) * chunkSize
		if offset >= int64(len(data)) {
			return fmt.Errorf("part %d starts beyond the object size %d", n, len(data))
		}
		end := min(offset+chunkSize, int64(len(data)))

		req, err := http.NewRequestWithContext(ctx, http.MethodPut, partURLs[n], bytes.NewReader(data[offset:end]))
		if err != nil {
			return fmt.Errorf("failed to create request for part %d: %w", n, err)
		}
		req.Header.Set("Content-Type", "application/octet-stream")

		resp, err := p.client.Do(req)
		if err != nil {
			return fmt.Errorf("failed to upload part %d: %w", n, err)
		}
		etag := resp.Header.Get("ETag")
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			bodyBytes, _ := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			return fmt.Errorf("part %d upload failed with status %d: %s", n, resp.StatusCode, preview(string(bodyBytes)))
		}
		_ = resp.Body.Close()
		if etag == "" {
			return fmt.Errorf("no ETag returned for part %d", n)
		}
		parts = append(parts, completedPart{PartNumber: n, ETag: etag})
	}

	body, err := json.Marshal(struct {
		OID   string          `json:"oid"`
		Parts []completedPart `json:"parts"`
	}{OID: info.OID, Parts: parts})
	if err != nil {
		return fmt.Errorf("failed to marshal completion payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, info.UploadURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/vnd.git-lfs+json")
	req.Header.Set("Accept", "application/vnd.git-lfs+json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send completion request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("completion request failed with status %d: %s", resp.StatusCode, preview(string(bodyBytes)))
	}

	p.logger.Info("LFS object uploaded (multipart)", "oid", info.OID, "size", len(data), "parts", len(parts))
	return nil
}

func extractPartURLs(header map[string]string) map[int]string {
	urls := make(map[int]string)
	for key, value := range header {
		if !isNumericKey(key) {
			continue
		}
		if n, err := strconv.Atoi(key); err == nil && n > 0 {
			urls[n] = value
		}
	}
	return urls
}

func isNumericKey(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
