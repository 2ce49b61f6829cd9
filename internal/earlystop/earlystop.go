// Package earlystop tracks the best validation loss of a run, promotes
// improving epochs to the BEST checkpoint slot and signals when training
// should stop.
package earlystop

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/lamim/dermaforge/pkg/models"
)

// BestWriter persists a checkpoint to a slot; *checkpoint.Store satisfies it
type BestWriter interface {
	Write(ctx context.Context, slot models.Slot, cp *models.Checkpoint) error
}

// Snapshot builds the checkpoint to promote. It is called only on improvement.
type Snapshot func() (*models.Checkpoint, error)

// Decision is the outcome of one Evaluate call
type Decision struct {
	Improved   bool
	Stop       bool
	BestLoss   float64
	StaleCount int
}

// Monitor implements patience-based early stopping on validation loss
type Monitor struct {
	patience int
	minDelta float64
	writer   BestWriter
	logger   *slog.Logger

	best  float64
	stale int
	stop  bool
}

// New creates a monitor; patience must be positive and minDelta non-negative
func New(patience int, minDelta float64, writer BestWriter, logger *slog.Logger) (*Monitor, error) {
	if patience < 1 {
		return nil, fmt.Errorf("patience must be a positive integer (got %d)", patience)
	}
	if minDelta < 0 || math.IsNaN(minDelta) {
		return nil, fmt.Errorf("min_delta must be non-negative (got %g)", minDelta)
	}
	if writer == nil {
		return nil, fmt.Errorf("early stopping needs a checkpoint writer")
	}
	return &Monitor{
		patience: patience,
		minDelta: minDelta,
		writer:   writer,
		logger:   logger,
		best:     math.Inf(1),
	}, nil
}

// Evaluate applies the improvement rule val < best - minDelta. On improvement
// the snapshot is written to BEST before the new best is recorded; a write
// failure is returned and leaves the monitor unchanged. A NaN loss never
// improves.
func (m *Monitor) Evaluate(ctx context.Context, valLoss float64, snapshot Snapshot) (Decision, error) {
	if valLoss < m.best-m.minDelta {
		cp, err := snapshot()
		if err != nil {
			return m.decision(false), fmt.Errorf("failed to snapshot best state: %w", err)
		}
		if err := m.writer.Write(ctx, models.SlotBest, cp); err != nil {
			return m.decision(false), err
		}

		prev := m.best
		m.best = valLoss
		m.stale = 0
		m.logger.Info("Validation loss improved, saved best checkpoint",
			"epoch", cp.Epoch,
			"val_loss", valLoss,
			"previous_best", prev)
		return m.decision(true), nil
	}

	m.stale++
	if m.stale >= m.patience {
		m.stop = true
	}
	m.logger.Info("No improvement in validation loss",
		"val_loss", valLoss,
		"best_loss", m.best,
		"stale", m.stale,
		"patience", m.patience)
	return m.decision(false), nil
}

func (m *Monitor) decision(improved bool) Decision {
	return Decision{Improved: improved, Stop: m.stop, BestLoss: m.best, StaleCount: m.stale}
}

// Stopped reports whether patience has been exhausted
func (m *Monitor) Stopped() bool { return m.stop }

// BestLoss returns the best validation loss seen, +Inf before any
func (m *Monitor) BestLoss() float64 { return m.best }

// State returns the persistable part of the monitor
func (m *Monitor) State() *models.EarlyStoppingState {
	st := &models.EarlyStoppingState{StaleCount: m.stale}
	if !math.IsInf(m.best, 1) {
		best := m.best
		st.BestLoss = &best
	}
	return st
}

// Restore resumes from a persisted state. The stop flag is recomputed from
// the stale count against the current patience.
func (m *Monitor) Restore(st *models.EarlyStoppingState) {
	if st == nil {
		return
	}
	m.best = math.Inf(1)
	if st.BestLoss != nil {
		m.best = *st.BestLoss
	}
	m.stale = st.StaleCount
	m.stop = m.stale >= m.patience
}
