package earlystop

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"os"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/lamim/dermaforge/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type recordingWriter struct {
	writes []int // epochs written to BEST
	slots  []models.Slot
	err    error
}

func (w *recordingWriter) Write(_ context.Context, slot models.Slot, cp *models.Checkpoint) error {
	if w.err != nil {
		return w.err
	}
	w.slots = append(w.slots, slot)
	w.writes = append(w.writes, cp.Epoch)
	return nil
}

func snapshotFor(epoch int) Snapshot {
	return func() (*models.Checkpoint, error) {
		return &models.Checkpoint{Epoch: epoch, ModelState: []byte("w")}, nil
	}
}

func TestNewValidation(t *testing.T) {
	w := &recordingWriter{}
	if _, err := New(0, 0, w, testLogger()); err == nil {
		t.Error("expected error for zero patience")
	}
	if _, err := New(3, -1e-3, w, testLogger()); err == nil {
		t.Error("expected error for negative min_delta")
	}
	if _, err := New(3, 0, nil, testLogger()); err == nil {
		t.Error("expected error for nil writer")
	}
}

func TestEarlyStopTrigger(t *testing.T) {
	w := &recordingWriter{}
	m, err := New(3, 0, w, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	losses := []float64{0.9, 0.95, 0.95, 0.95}
	var stops []bool
	for i, loss := range losses {
		d, err := m.Evaluate(context.Background(), loss, snapshotFor(i+1))
		if err != nil {
			t.Fatalf("Evaluate(%v) error = %v", loss, err)
		}
		stops = append(stops, d.Stop)
	}

	if diff := cmp.Diff([]bool{false, false, false, true}, stops); diff != "" {
		t.Errorf("stop sequence mismatch (-want +got):\n%s", diff)
	}
	if !m.Stopped() {
		t.Error("Stopped() = false after patience exhausted")
	}
}

func TestBestSlotMonotonicity(t *testing.T) {
	w := &recordingWriter{}
	m, err := New(10, 0, w, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	var improved []bool
	for i, loss := range []float64{0.5, 0.6, 0.4, 0.4} {
		d, err := m.Evaluate(context.Background(), loss, snapshotFor(i+1))
		if err != nil {
			t.Fatal(err)
		}
		improved = append(improved, d.Improved)
	}

	if diff := cmp.Diff([]int{1, 3}, w.writes); diff != "" {
		t.Errorf("BEST written for wrong epochs (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]bool{true, false, true, false}, improved); diff != "" {
		t.Errorf("improvement flags mismatch (-want +got):\n%s", diff)
	}
	for _, s := range w.slots {
		if s != models.SlotBest {
			t.Errorf("monitor wrote slot %q, must only write best", s)
		}
	}
}

func TestMinDelta(t *testing.T) {
	w := &recordingWriter{}
	m, _ := New(5, 0.01, w, testLogger())
	ctx := context.Background()

	m.Evaluate(ctx, 1.0, snapshotFor(1))
	d, _ := m.Evaluate(ctx, 0.995, snapshotFor(2))
	if d.Improved {
		t.Error("improvement smaller than min_delta must not count")
	}
	if d.StaleCount != 1 {
		t.Errorf("stale = %d, want 1", d.StaleCount)
	}
	d, _ = m.Evaluate(ctx, 0.98, snapshotFor(3))
	if !d.Improved || d.StaleCount != 0 {
		t.Errorf("expected improvement resetting stale, got %+v", d)
	}
}

func TestSameLossOnDifferentEpochs(t *testing.T) {
	w := &recordingWriter{}
	m, _ := New(2, 0, w, testLogger())
	ctx := context.Background()

	d1, _ := m.Evaluate(ctx, 0.7, snapshotFor(1))
	d2, _ := m.Evaluate(ctx, 0.7, snapshotFor(2))
	if !d1.Improved || d2.Improved {
		t.Errorf("equal loss must not improve: %+v %+v", d1, d2)
	}
	if d2.StaleCount != 1 {
		t.Errorf("stale = %d, want 1", d2.StaleCount)
	}
}

func TestNaNNeverImproves(t *testing.T) {
	w := &recordingWriter{}
	m, _ := New(1, 0, w, testLogger())

	d, err := m.Evaluate(context.Background(), math.NaN(), snapshotFor(1))
	if err != nil {
		t.Fatal(err)
	}
	if d.Improved || !d.Stop {
		t.Errorf("NaN loss decision = %+v, want no improvement and stop with patience 1", d)
	}
	if len(w.writes) != 0 {
		t.Error("NaN loss must not write BEST")
	}
	if m.State().BestLoss != nil {
		t.Error("best loss must stay unset")
	}
}

func TestWriteFailureIsReturned(t *testing.T) {
	boom := errors.New("disk full")
	m, _ := New(3, 0, &recordingWriter{err: boom}, testLogger())

	_, err := m.Evaluate(context.Background(), 0.5, snapshotFor(1))
	if !errors.Is(err, boom) {
		t.Fatalf("Evaluate() error = %v, want %v", err, boom)
	}
	if !math.IsInf(m.BestLoss(), 1) {
		t.Errorf("best loss = %v after failed write, want +Inf", m.BestLoss())
	}
}

func TestSnapshotFailureIsReturned(t *testing.T) {
	w := &recordingWriter{}
	m, _ := New(3, 0, w, testLogger())
	_, err := m.Evaluate(context.Background(), 0.5, func() (*models.Checkpoint, error) {
		return nil, errors.New("state dict failed")
	})
	if err == nil {
		t.Fatal("expected snapshot error")
	}
	if len(w.writes) != 0 {
		t.Error("nothing should be written when the snapshot fails")
	}
}

func TestStateRestore(t *testing.T) {
	w := &recordingWriter{}
	m, _ := New(3, 0, w, testLogger())
	ctx := context.Background()
	m.Evaluate(ctx, 0.5, snapshotFor(1))
	m.Evaluate(ctx, 0.6, snapshotFor(2))
	m.Evaluate(ctx, 0.6, snapshotFor(3))

	st := m.State()
	if st.BestLoss == nil || *st.BestLoss != 0.5 || st.StaleCount != 2 {
		t.Fatalf("unexpected state %+v", st)
	}

	resumed, _ := New(3, 0, w, testLogger())
	resumed.Restore(st)
	d, _ := resumed.Evaluate(ctx, 0.55, snapshotFor(4))
	if d.Improved || !d.Stop {
		t.Errorf("resumed monitor should stop on the third stale epoch, got %+v", d)
	}

	fresh, _ := New(3, 0, w, testLogger())
	fresh.Restore(nil)
	if !math.IsInf(fresh.BestLoss(), 1) {
		t.Error("Restore(nil) must keep the initial state")
	}
}
