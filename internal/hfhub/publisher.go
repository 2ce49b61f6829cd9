// Package hfhub publishes trained models to a Hugging Face Hub model
// repository through the commit API, sending large files through Git LFS.
package hfhub

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultEndpoint is the public hub
	DefaultEndpoint = "https://huggingface.co"
	// DefaultTimeout bounds a single request, LFS uploads included
	DefaultTimeout = 600 * time.Second
	// MaxRetries is the maximum number of retries for failed LFS operations
	MaxRetries = 3
	// LogPreviewLength is the maximum length for response previews
	LogPreviewLength = 500
)

// ErrInvalidRepoID is returned for repository ids not shaped owner/name
var ErrInvalidRepoID = errors.New("invalid repo_id format, expected 'username/reponame'")

// Publisher uploads files to model repositories
type Publisher struct {
	token        string
	endpoint     string
	client       *http.Client
	lfsThreshold int64
	maxRetries   int
	backoff      time.Duration
	logger       *slog.Logger
}

// NewPublisher creates a publisher for the hub at endpoint (DefaultEndpoint
// when empty)
func NewPublisher(token, endpoint string, logger *slog.Logger) *Publisher {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Publisher{
		token:        token,
		endpoint:     strings.TrimRight(endpoint, "/"),
		client:       &http.Client{Timeout: DefaultTimeout},
		lfsThreshold: LFSThreshold,
		maxRetries:   MaxRetries,
		backoff:      2 * time.Second,
		logger:       logger.With("component", "hf_publisher"),
	}
}

// Upload is one commit to a model repository
type Upload struct {
	RepoID  string
	Branch  string
	Private bool // applied only when the repository is created
	Message string
	Files   []File
}

// Publish creates the repository when needed, uploads LFS objects and
// commits every file. It returns the repository URL.
func (p *Publisher) Publish(ctx context.Context, up Upload) (string, error) {
	if err := ValidateRepoID(up.RepoID); err != nil {
		return "", err
	}
	if len(up.Files) == 0 {
		return "", fmt.Errorf("no files to upload")
	}
	branch := up.Branch
	if branch == "" {
		branch = "main"
	}

	p.logger.Info("Starting upload to Hugging Face Hub", "repo_id", up.RepoID, "files", len(up.Files))

	if err := p.createRepo(ctx, up.RepoID, up.Private); err != nil {
		return "", fmt.Errorf("failed to create repository: %w", err)
	}

	ops := make([]CommitOperation, 0, len(up.Files))
	var lfsOps []CommitOperation
	for _, f := range up.Files {
		op := PrepareFileOperation(f, p.lfsThreshold)
		ops = append(ops, op)
		if op.LFSFile != nil {
			lfsOps = append(lfsOps, op)
			p.logger.Debug("File will use LFS", "file", op.Path, "size", op.LFSFile.Size)
		}
	}

	if len(lfsOps) > 0 {
		var uploads map[string]*LFSUploadInfo
		err := p.retry(ctx, "LFS preupload", func() error {
			var err error
			uploads, err = p.preuploadLFS(ctx, up.RepoID, lfsOps)
			return err
		})
		if err != nil {
			return "", fmt.Errorf("failed to preupload LFS: %w", err)
		}

		for _, op := range lfsOps {
			info, ok := uploads[op.LFSFile.SHA256]
			if !ok {
				return "", fmt.Errorf("LFS batch response is missing %s", op.Path)
			}
			err := p.retry(ctx, "LFS upload", func() error {
				return p.uploadLFS(ctx, info, op.data)
			})
			if err != nil {
				return "", fmt.Errorf("failed to upload LFS file %s: %w", op.Path, err)
			}
		}
	}

	if err := p.createCommit(ctx, up.RepoID, branch, ops, up.Message); err != nil {
		return "", fmt.Errorf("failed to create commit: %w", err)
	}

	url := fmt.Sprintf("%s/%s", p.endpoint, up.RepoID)
	p.logger.Info("Upload completed successfully", "repo_id", up.RepoID, "url", url)
	return url, nil
}

// ValidateRepoID checks the owner/name shape of a repository id
func ValidateRepoID(repoID string) error {
	owner, name, ok := strings.Cut(repoID, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return fmt.Errorf("%w, got %q", ErrInvalidRepoID, repoID)
	}
	return nil
}

func (p *Publisher) createRepo(ctx context.Context, repoID string, private bool) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/api/models/%s", p.endpoint, repoID), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		p.logger.Info("Repository already exists", "repo_id", repoID)
		return nil
	}

	_, name, _ := strings.Cut(repoID, "/")
	body, err := json.Marshal(map[string]any{
		"name":    name,
		"type":    "model",
		"private": private,
	})
	if err != nil {
		return err
	}

	req, err = http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/api/repos/create", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err = p.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusConflict:
	default:
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("create repo failed with status %d: %s", resp.StatusCode, preview(string(bodyBytes)))
	}

	p.logger.Info("Repository created", "repo_id", repoID, "private", private)
	return nil
}

func (p *Publisher) createCommit(ctx context.Context, repoID, branch string, ops []CommitOperation, message string) error {
	payload, err := commitPayload(message, "", ops)
	if err != nil {
		return err
	}
	p.logger.Debug("Commit payload (NDJSON)", "preview", preview(string(payload)))

	url := fmt.Sprintf("%s/api/models/%s/commit/%s", p.endpoint, repoID, branch)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.token)
	req.Header.Set("Content-Type", "application/x-ndjson")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	bodyBytes, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("commit failed with status %d: %s", resp.StatusCode, preview(string(bodyBytes)))
	}

	p.logger.Info("Commit created successfully", "branch", branch, "operations", len(ops))
	return nil
}

// retry runs fn with exponential backoff until it succeeds, maxRetries is
// exhausted or ctx is done
func (p *Publisher) retry(ctx context.Context, what string, fn func() error) error {
	var lastErr error
	backoff := p.backoff

	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			p.logger.Warn("Retrying "+what,
				"attempt", attempt,
				"max_retries", p.maxRetries,
				"backoff", backoff)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		if lastErr = fn(); lastErr == nil {
			return nil
		}
		p.logger.Warn(what+" failed", "attempt", attempt, "error", lastErr)
	}
	return fmt.Errorf("%s failed after %d attempts: %w", what, p.maxRetries+1, lastErr)
}

// preview truncates s to LogPreviewLength runes
func preview(s string) string {
	runes := []rune(s)
	if len(runes) <= LogPreviewLength {
		return s
	}
	return string(runes[:LogPreviewLength]) + "..."
}
