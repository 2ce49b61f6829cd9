package hfhub

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/lamim/dermaforge/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeHub implements the subset of the hub API the publisher talks to
type fakeHub struct {
	mu          sync.Mutex
	server      *httptest.Server
	repoExists  bool
	created     map[string]any
	lfsObjects  map[string][]byte
	commitLines []map[string]any
	batchFails  int
	multipart   int64 // chunk size; 0 selects basic uploads
	parts       map[int][]byte
	auth        []string
}

func newFakeHub(t *testing.T) *fakeHub {
	h := &fakeHub{lfsObjects: map[string][]byte{}, parts: map[int][]byte{}}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/models/lamim/skin-b1", func(w http.ResponseWriter, r *http.Request) {
		h.record(r)
		if h.repoExists {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("POST /api/repos/create", func(w http.ResponseWriter, r *http.Request) {
		h.record(r)
		h.mu.Lock()
		defer h.mu.Unlock()
		_ = json.NewDecoder(r.Body).Decode(&h.created)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /lamim/skin-b1.git/info/lfs/objects/batch", func(w http.ResponseWriter, r *http.Request) {
		h.record(r)
		h.mu.Lock()
		defer h.mu.Unlock()
		if h.batchFails > 0 {
			h.batchFails--
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		var req LFSBatchRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		var resp LFSBatchResponse
		for _, obj := range req.Objects {
			header := map[string]string{}
			if h.multipart > 0 {
				header["chunk_size"] = jsonInt(h.multipart)
				for i := int64(0); i*h.multipart < obj.Size; i++ {
					header[jsonInt(i+1)] = h.server.URL + "/part/" + jsonInt(i+1)
				}
			}
			obj.Actions = &LFSActions{Upload: &LFSAction{Href: h.server.URL + "/lfs/" + obj.OID, Header: header}}
			resp.Objects = append(resp.Objects, obj)
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("PUT /lfs/{oid}", func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		h.mu.Lock()
		h.lfsObjects[r.PathValue("oid")] = data
		h.mu.Unlock()
	})
	mux.HandleFunc("PUT /part/{n}", func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		var n int
		_ = json.Unmarshal([]byte(r.PathValue("n")), &n)
		h.mu.Lock()
		h.parts[n] = data
		h.mu.Unlock()
		w.Header().Set("ETag", "etag-"+r.PathValue("n"))
	})
	mux.HandleFunc("POST /lfs/{oid}", func(w http.ResponseWriter, r *http.Request) {
		var done struct {
			Parts []completedPart `json:"parts"`
		}
		_ = json.NewDecoder(r.Body).Decode(&done)
		h.mu.Lock()
		defer h.mu.Unlock()
		var joined []byte
		for _, p := range done.Parts {
			joined = append(joined, h.parts[p.PartNumber]...)
		}
		h.lfsObjects[r.PathValue("oid")] = joined
	})
	mux.HandleFunc("POST /api/models/lamim/skin-b1/commit/main", func(w http.ResponseWriter, r *http.Request) {
		h.record(r)
		if r.Header.Get("Content-Type") != "application/x-ndjson" {
			http.Error(w, "bad content type", http.StatusBadRequest)
			return
		}
		h.mu.Lock()
		defer h.mu.Unlock()
		sc := bufio.NewScanner(r.Body)
		sc.Buffer(make([]byte, 1<<20), 1<<24)
		for sc.Scan() {
			var line map[string]any
			if err := json.Unmarshal(sc.Bytes(), &line); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			h.commitLines = append(h.commitLines, line)
		}
		_, _ = w.Write([]byte(`{"success":true}`))
	})

	h.server = httptest.NewServer(mux)
	t.Cleanup(h.server.Close)
	return h
}

func jsonInt(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func (h *fakeHub) record(r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.auth = append(h.auth, r.Header.Get("Authorization"))
}

func (h *fakeHub) publisher() *Publisher {
	p := NewPublisher("hf_secret", h.server.URL+"/", testLogger())
	p.backoff = time.Millisecond
	return p
}

func (h *fakeHub) committedPaths() map[string]string {
	out := map[string]string{}
	for _, line := range h.commitLines[1:] {
		value := line["value"].(map[string]any)
		out[value["path"].(string)] = line["key"].(string)
	}
	return out
}

func TestPublishInlineFiles(t *testing.T) {
	hub := newFakeHub(t)
	p := hub.publisher()

	url, err := p.Publish(context.Background(), Upload{
		RepoID:  "lamim/skin-b1",
		Private: true,
		Message: "Upload best checkpoint",
		Files:   []File{{Path: "README.md", Data: []byte("# card")}, {Path: "best.ckpt", Data: []byte(`{"epoch":3}`)}},
	})
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if url != hub.server.URL+"/lamim/skin-b1" {
		t.Errorf("url = %q", url)
	}

	if hub.created["name"] != "skin-b1" || hub.created["type"] != "model" || hub.created["private"] != true {
		t.Errorf("unexpected create payload %v", hub.created)
	}

	header := hub.commitLines[0]["value"].(map[string]any)
	if hub.commitLines[0]["key"] != "header" || header["summary"] != "Upload best checkpoint" {
		t.Errorf("unexpected commit header %v", hub.commitLines[0])
	}
	want := map[string]string{"README.md": "file", "best.ckpt": "file"}
	if diff := cmp.Diff(want, hub.committedPaths()); diff != "" {
		t.Errorf("commit files mismatch (-want +got):\n%s", diff)
	}

	card := hub.commitLines[1]["value"].(map[string]any)
	decoded, err := base64.StdEncoding.DecodeString(card["content"].(string))
	if err != nil || string(decoded) != "# card" {
		t.Errorf("README content = %q, %v", decoded, err)
	}

	for _, a := range hub.auth {
		if a != "Bearer hf_secret" {
			t.Errorf("request sent with authorization %q", a)
		}
	}
}

func TestPublishLFSBasic(t *testing.T) {
	hub := newFakeHub(t)
	hub.repoExists = true
	hub.batchFails = 1
	p := hub.publisher()
	p.lfsThreshold = 16

	data := bytes.Repeat([]byte("w"), 100)
	if _, err := p.Publish(context.Background(), Upload{
		RepoID: "lamim/skin-b1",
		Files:  []File{{Path: "best.ckpt", Data: data}, {Path: "README.md", Data: []byte("tiny")}},
	}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if hub.created != nil {
		t.Error("existing repository was created again")
	}
	op := PrepareFileOperation(File{Path: "best.ckpt", Data: data}, 16)
	if !bytes.Equal(hub.lfsObjects[op.LFSFile.SHA256], data) {
		t.Error("LFS object content mismatch")
	}
	want := map[string]string{"best.ckpt": "lfsFile", "README.md": "file"}
	if diff := cmp.Diff(want, hub.committedPaths()); diff != "" {
		t.Errorf("commit files mismatch (-want +got):\n%s", diff)
	}
}

func TestPublishLFSMultipart(t *testing.T) {
	hub := newFakeHub(t)
	hub.multipart = 30
	p := hub.publisher()
	p.lfsThreshold = 16

	data := []byte(strings.Repeat("0123456789", 10))
	if _, err := p.Publish(context.Background(), Upload{
		RepoID: "lamim/skin-b1",
		Files:  []File{{Path: "best.ckpt", Data: data}},
	}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if len(hub.parts) != 4 {
		t.Errorf("got %d parts, want 4", len(hub.parts))
	}
	op := PrepareFileOperation(File{Path: "best.ckpt", Data: data}, 16)
	if !bytes.Equal(hub.lfsObjects[op.LFSFile.SHA256], data) {
		t.Errorf("reassembled object = %q", hub.lfsObjects[op.LFSFile.SHA256])
	}
}

func TestPublishGivesUpAfterRetries(t *testing.T) {
	hub := newFakeHub(t)
	hub.batchFails = 10
	p := hub.publisher()
	p.lfsThreshold = 1
	p.maxRetries = 2

	_, err := p.Publish(context.Background(), Upload{RepoID: "lamim/skin-b1", Files: []File{{Path: "best.ckpt", Data: []byte("xy")}}})
	if err == nil || !strings.Contains(err.Error(), "after 3 attempts") {
		t.Errorf("Publish() error = %v, want retry exhaustion", err)
	}
	if hub.commitLines != nil {
		t.Error("commit was sent after LFS failure")
	}
}

func TestPublishValidation(t *testing.T) {
	p := NewPublisher("token", "", testLogger())
	if _, err := p.Publish(context.Background(), Upload{RepoID: "no-owner", Files: []File{{Path: "a"}}}); !errors.Is(err, ErrInvalidRepoID) {
		t.Errorf("Publish() error = %v, want ErrInvalidRepoID", err)
	}
	if _, err := p.Publish(context.Background(), Upload{RepoID: "a/b"}); err == nil {
		t.Error("Publish() accepted an empty upload")
	}
}

func TestCommitPayload(t *testing.T) {
	ops := []CommitOperation{
		PrepareFileOperation(File{Path: "small.txt", Data: []byte("hi")}, 10),
		PrepareFileOperation(File{Path: "big.ckpt", Data: []byte("0123456789abc")}, 10),
	}
	payload, err := commitPayload("summary", "", ops)
	if err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(string(payload), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3:\n%s", len(lines), payload)
	}
	for _, want := range []string{`"key":"header"`, `"key":"file"`, `"key":"lfsFile"`} {
		if !strings.Contains(string(payload), want) {
			t.Errorf("payload missing %s", want)
		}
	}
	if !strings.Contains(lines[2], `"size":13`) || !strings.Contains(lines[2], `"algo":"sha256"`) {
		t.Errorf("unexpected lfs line %s", lines[2])
	}
}

func TestRenderCard(t *testing.T) {
	loss := 0.3125
	cp := &models.Checkpoint{
		Epoch:           12,
		TrainingPhase:   models.PhaseFinetune,
		ClassIndexMap:   map[int]string{1: "nevus", 0: "melanoma"},
		Hyperparameters: &models.Hyperparameters{Arch: "mlp_b1", ImageSize: 16},
		RunID:           "run-7",
		SavedAt:         time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC),
		ValLoss:         &loss,
	}

	card, err := RenderCard(DefaultCardTemplate, CardData("lamim/skin-b1", "best_skin.ckpt", cp))
	if err != nil {
		t.Fatalf("RenderCard() error = %v", err)
	}
	for _, want := range []string{"# skin-b1", "| Epoch | 12 |", "| Validation loss | 0.3125 |", "| 0 | melanoma |\n| 1 | nevus |", "`best_skin.ckpt`", "2026-05-01T08:00:00Z"} {
		if !strings.Contains(card, want) {
			t.Errorf("card missing %q:\n%s", want, card)
		}
	}
}

func TestRenderCardRejects(t *testing.T) {
	tests := []struct {
		name string
		tmpl string
	}{
		{"forbidden define", `{{define "x"}}{{end}}`},
		{"missing key", `{{.Nope}}`},
		{"parse error", `{{.Epoch`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := RenderCard(tt.tmpl, map[string]any{"Epoch": 1}); err == nil {
				t.Error("RenderCard() succeeded")
			}
		})
	}
}

func TestModelFiles(t *testing.T) {
	files := ModelFiles("best.ckpt", []byte("ck"), "card", File{Path: "config.toml", Data: []byte("x")})
	var paths []string
	for _, f := range files {
		paths = append(paths, f.Path)
	}
	if diff := cmp.Diff([]string{".gitattributes", "README.md", "best.ckpt", "config.toml"}, paths); diff != "" {
		t.Errorf("files mismatch (-want +got):\n%s", diff)
	}
}
