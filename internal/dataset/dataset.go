// Package dataset loads an image-folder classification dataset into memory
// and serves shuffled mini-batches.
package dataset

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Split names under the dataset root
const (
	TrainSplit = "train"
	ValSplit   = "val"
)

var imageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".bmp": true, ".webp": true}

// Sample is one preprocessed image in CHW order
type Sample struct {
	Pixels []float64
	Label  int
	Path   string
}

// Split is an in-memory list of samples
type Split struct {
	Samples   []Sample
	ImageSize int
}

// Dataset holds both splits and the sorted class names
type Dataset struct {
	Classes []string
	Train   *Split
	Val     *Split
}

// Options controls loading
type Options struct {
	Dir        string
	ImageSize  int
	NumWorkers int
	Norm       Normalization
}

// ClassIndexMap returns index -> class name
func (d *Dataset) ClassIndexMap() map[int]string {
	m := make(map[int]string, len(d.Classes))
	for i, c := range d.Classes {
		m[i] = c
	}
	return m
}

// Load reads <dir>/train/<class>/* and <dir>/val/<class>/*. Class indices
// come from the sorted train class directories; val must not introduce new
// classes.
func Load(ctx context.Context, opts Options, logger *slog.Logger) (*Dataset, error) {
	if opts.ImageSize < 1 {
		return nil, fmt.Errorf("image size must be positive (got %d)", opts.ImageSize)
	}

	classes, err := listClasses(filepath.Join(opts.Dir, TrainSplit))
	if err != nil {
		return nil, err
	}
	if len(classes) < 2 {
		return nil, fmt.Errorf("dataset needs at least 2 classes in %s (found %d)",
			filepath.Join(opts.Dir, TrainSplit), len(classes))
	}
	index := make(map[string]int, len(classes))
	for i, c := range classes {
		index[c] = i
	}

	train, err := loadSplit(ctx, opts, TrainSplit, index)
	if err != nil {
		return nil, err
	}
	val, err := loadSplit(ctx, opts, ValSplit, index)
	if err != nil {
		return nil, err
	}
	if len(train.Samples) == 0 {
		return nil, fmt.Errorf("train split in %s has no images", opts.Dir)
	}
	if len(val.Samples) == 0 {
		return nil, fmt.Errorf("val split in %s has no images", opts.Dir)
	}

	logger.Info("Dataset loaded",
		"dir", opts.Dir,
		"classes", len(classes),
		"train", len(train.Samples),
		"val", len(val.Samples),
		"image_size", opts.ImageSize)

	return &Dataset{Classes: classes, Train: train, Val: val}, nil
}

func listClasses(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read class directories: %w", err)
	}
	var classes []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			classes = append(classes, e.Name())
		}
	}
	sort.Strings(classes)
	return classes, nil
}

type fileRef struct {
	path  string
	label int
}

func loadSplit(ctx context.Context, opts Options, split string, index map[string]int) (*Split, error) {
	root := filepath.Join(opts.Dir, split)
	classes, err := listClasses(root)
	if err != nil {
		return nil, err
	}

	var refs []fileRef
	for _, class := range classes {
		label, ok := index[class]
		if !ok {
			return nil, fmt.Errorf("class %q in %s split is not present in train split", class, split)
		}
		entries, err := os.ReadDir(filepath.Join(root, class))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", filepath.Join(root, class), err)
		}
		for _, e := range entries {
			if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
				continue
			}
			refs = append(refs, fileRef{path: filepath.Join(root, class, e.Name()), label: label})
		}
	}

	samples := make([]Sample, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	workers := opts.NumWorkers
	if workers < 1 {
		workers = 1
	}
	g.SetLimit(workers)

	for i, ref := range refs {
		i, ref := i, ref
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			pixels, err := LoadFile(ref.path, opts.ImageSize, opts.Norm)
			if err != nil {
				return err
			}
			samples[i] = Sample{Pixels: pixels, Label: ref.label, Path: ref.path}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to load %s split: %w", split, err)
	}

	return &Split{Samples: samples, ImageSize: opts.ImageSize}, nil
}

// Batch is a mini-batch of inputs and labels
type Batch struct {
	Inputs [][]float64
	Labels []int
}

// BatchOptions controls iteration order and augmentation
type BatchOptions struct {
	BatchSize int
	Shuffle   bool
	Seed      int64
	HFlipProb float64
}

// NumBatches returns the number of batches per pass, counting a final
// partial batch
func (s *Split) NumBatches(batchSize int) int {
	if batchSize < 1 || len(s.Samples) == 0 {
		return 0
	}
	return (len(s.Samples) + batchSize - 1) / batchSize
}

// Batches returns one pass worth of batches. With Shuffle the order and the
// flips depend only on Seed and epoch, so a resumed run sees the same data
// order for a given epoch.
func (s *Split) Batches(epoch int, opts BatchOptions) []Batch {
	n := len(s.Samples)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}

	var rng *rand.Rand
	if opts.Shuffle {
		rng = rand.New(rand.NewSource(opts.Seed + int64(epoch)))
		rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })
	}

	batches := make([]Batch, 0, s.NumBatches(opts.BatchSize))
	for start := 0; start < n; start += opts.BatchSize {
		end := min(start+opts.BatchSize, n)
		b := Batch{
			Inputs: make([][]float64, 0, end-start),
			Labels: make([]int, 0, end-start),
		}
		for _, idx := range order[start:end] {
			smp := s.Samples[idx]
			px := smp.Pixels
			if rng != nil && opts.HFlipProb > 0 && rng.Float64() < opts.HFlipProb {
				px = HFlip(px, s.ImageSize)
			}
			b.Inputs = append(b.Inputs, px)
			b.Labels = append(b.Labels, smp.Label)
		}
		batches = append(batches, b)
	}
	return batches
}
