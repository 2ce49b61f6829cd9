package hfhub

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// LFSThreshold is the size from which a file is sent through LFS (10MB)
const LFSThreshold = 10 * 1024 * 1024

// File is one file of a commit, addressed by its path in the repository
type File struct {
	Path string
	Data []byte
}

// LFSFileInfo identifies a file stored through LFS
type LFSFileInfo struct {
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
}

// CommitOperation adds one file, either inline or as an LFS pointer
type CommitOperation struct {
	Path    string
	Content string       // base64, empty for LFS files
	LFSFile *LFSFileInfo // nil for inline files
	data    []byte
}

// PrepareFileOperation embeds small files and hashes large ones for LFS
func PrepareFileOperation(f File, threshold int64) CommitOperation {
	op := CommitOperation{Path: f.Path, data: f.Data}
	if int64(len(f.Data)) < threshold {
		op.Content = base64.StdEncoding.EncodeToString(f.Data)
		return op
	}
	sum := sha256.Sum256(f.Data)
	op.LFSFile = &LFSFileInfo{SHA256: hex.EncodeToString(sum[:]), Size: int64(len(f.Data))}
	return op
}

type commitLine struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

type commitHeader struct {
	Summary     string `json:"summary"`
	Description string `json:"description"`
}

type inlineFile struct {
	Content  string `json:"content"`
	Path     string `json:"path"`
	Encoding string `json:"encoding"`
}

type lfsFile struct {
	Path string `json:"path"`
	Algo string `json:"algo"`
	OID  string `json:"oid"`
	Size int64  `json:"size"`
}

// commitPayload builds the NDJSON body of the commit endpoint: one header
// line followed by one line per file.
func commitPayload(summary, description string, ops []CommitOperation) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)

	if err := enc.Encode(commitLine{Key: "header", Value: commitHeader{Summary: summary, Description: description}}); err != nil {
		return nil, fmt.Errorf("failed to marshal header: %w", err)
	}
	for _, op := range ops {
		line := commitLine{Key: "file", Value: inlineFile{Content: op.Content, Path: op.Path, Encoding: "base64"}}
		if op.LFSFile != nil {
			line = commitLine{Key: "lfsFile", Value: lfsFile{Path: op.Path, Algo: "sha256", OID: op.LFSFile.SHA256, Size: op.LFSFile.Size}}
		}
		if err := enc.Encode(line); err != nil {
			return nil, fmt.Errorf("failed to marshal %s: %w", op.Path, err)
		}
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// gitattributes routes checkpoints through LFS on the hub
const gitattributes = `*.ckpt filter=lfs diff=lfs merge=lfs -text
*.bin filter=lfs diff=lfs merge=lfs -text
*.pt filter=lfs diff=lfs merge=lfs -text
*.pth filter=lfs diff=lfs merge=lfs -text
*.safetensors filter=lfs diff=lfs merge=lfs -text
*.onnx filter=lfs diff=lfs merge=lfs -text
*.tar filter=lfs diff=lfs merge=lfs -text
*.zip filter=lfs diff=lfs merge=lfs -text
`
