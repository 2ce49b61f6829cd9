package dataset

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writePNG(t *testing.T, path string, c color.Color) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, c)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

var identityNorm = Normalization{Mean: [3]float64{0, 0, 0}, Std: [3]float64{1, 1, 1}}

func buildTree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	red := color.RGBA{R: 255, A: 255}
	blue := color.RGBA{B: 255, A: 255}
	writePNG(t, filepath.Join(dir, "train", "nevus", "a.png"), red)
	writePNG(t, filepath.Join(dir, "train", "nevus", "b.png"), red)
	writePNG(t, filepath.Join(dir, "train", "melanoma", "c.png"), blue)
	writePNG(t, filepath.Join(dir, "val", "melanoma", "d.png"), blue)
	writePNG(t, filepath.Join(dir, "val", "nevus", "e.png"), red)
	if err := os.WriteFile(filepath.Join(dir, "train", "nevus", "notes.txt"), []byte("skip"), 0644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestLoad(t *testing.T) {
	dir := buildTree(t)
	ds, err := Load(context.Background(), Options{Dir: dir, ImageSize: 4, NumWorkers: 2, Norm: identityNorm}, testLogger())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if diff := cmp.Diff([]string{"melanoma", "nevus"}, ds.Classes); diff != "" {
		t.Errorf("classes mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[int]string{0: "melanoma", 1: "nevus"}, ds.ClassIndexMap()); diff != "" {
		t.Errorf("class index map mismatch (-want +got):\n%s", diff)
	}
	if len(ds.Train.Samples) != 3 {
		t.Errorf("train samples = %d, want 3", len(ds.Train.Samples))
	}
	if len(ds.Val.Samples) != 2 {
		t.Errorf("val samples = %d, want 2", len(ds.Val.Samples))
	}

	for _, s := range ds.Train.Samples {
		if len(s.Pixels) != 3*4*4 {
			t.Fatalf("sample %s has %d pixels, want 48", s.Path, len(s.Pixels))
		}
		// melanoma images are pure blue, nevus pure red
		wantRed := 0.0
		if s.Label == 1 {
			wantRed = 1.0
		}
		if math.Abs(s.Pixels[0]-wantRed) > 0.02 {
			t.Errorf("sample %s red channel = %v, want %v", s.Path, s.Pixels[0], wantRed)
		}
	}
}

func TestLoadRejectsUnknownValClass(t *testing.T) {
	dir := buildTree(t)
	writePNG(t, filepath.Join(dir, "val", "keratosis", "x.png"), color.White)

	_, err := Load(context.Background(), Options{Dir: dir, ImageSize: 4, Norm: identityNorm}, testLogger())
	if err == nil {
		t.Fatal("expected error for class missing from train split")
	}
}

func TestLoadCorruptImage(t *testing.T) {
	dir := buildTree(t)
	if err := os.WriteFile(filepath.Join(dir, "train", "nevus", "bad.png"), []byte("not a png"), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := Load(context.Background(), Options{Dir: dir, ImageSize: 4, Norm: identityNorm}, testLogger())
	if err == nil {
		t.Fatal("expected error for undecodable image")
	}
}

func TestPreprocessNormalizes(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			img.Set(x, y, color.RGBA{R: 255, G: 0, B: 255, A: 255})
		}
	}
	norm := Normalization{Mean: [3]float64{0.5, 0.5, 0.5}, Std: [3]float64{0.5, 0.5, 0.5}}
	px := Preprocess(img, 2, norm)

	want := []float64{1, 1, 1, 1, -1, -1, -1, -1, 1, 1, 1, 1}
	if diff := cmp.Diff(want, px); diff != "" {
		t.Errorf("Preprocess mismatch (-want +got):\n%s", diff)
	}
}

func TestHFlip(t *testing.T) {
	px := []float64{
		1, 2, 3, 4,
		5, 6, 7, 8,
		9, 10, 11, 12,
	}
	want := []float64{
		2, 1, 4, 3,
		6, 5, 8, 7,
		10, 9, 12, 11,
	}
	if diff := cmp.Diff(want, HFlip(px, 2)); diff != "" {
		t.Errorf("HFlip mismatch (-want +got):\n%s", diff)
	}
}

func makeSplit(n int) *Split {
	s := &Split{ImageSize: 1}
	for i := 0; i < n; i++ {
		s.Samples = append(s.Samples, Sample{Pixels: []float64{float64(i), 0, 0}, Label: i})
	}
	return s
}

func TestBatches(t *testing.T) {
	s := makeSplit(10)

	if got := s.NumBatches(4); got != 3 {
		t.Errorf("NumBatches(4) = %d, want 3", got)
	}

	ordered := s.Batches(1, BatchOptions{BatchSize: 4})
	if len(ordered) != 3 || len(ordered[2].Labels) != 2 {
		t.Fatalf("unexpected batch layout: %d batches", len(ordered))
	}
	if diff := cmp.Diff([]int{0, 1, 2, 3}, ordered[0].Labels); diff != "" {
		t.Errorf("unshuffled first batch mismatch (-want +got):\n%s", diff)
	}

	opts := BatchOptions{BatchSize: 4, Shuffle: true, Seed: 42}
	a := s.Batches(3, opts)
	b := s.Batches(3, opts)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("same epoch and seed must give same order (-a +b):\n%s", diff)
	}

	seen := map[int]bool{}
	for _, batch := range a {
		for _, l := range batch.Labels {
			seen[l] = true
		}
	}
	if len(seen) != 10 {
		t.Errorf("shuffled pass covered %d samples, want 10", len(seen))
	}
}
