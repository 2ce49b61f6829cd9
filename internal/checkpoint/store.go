// Package checkpoint persists training snapshots in two slots: LAST, written
// after every completed epoch so a run can resume, and BEST, written only
// when validation loss strictly improves.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/lamim/dermaforge/internal/config"
	"github.com/lamim/dermaforge/pkg/models"
)

// Store reads and writes the LAST and BEST slots through a Backend
type Store struct {
	backend Backend
	names   map[models.Slot]string
	logger  *slog.Logger
}

// NewStore creates a store over backend with the given object names
func NewStore(backend Backend, bestName, lastName string, logger *slog.Logger) *Store {
	return &Store{
		backend: backend,
		names: map[models.Slot]string{
			models.SlotBest: bestName,
			models.SlotLast: lastName,
		},
		logger: logger,
	}
}

// Open builds the store selected by configuration
func Open(cfg config.CheckpointConfig, secrets *config.Secrets, logger *slog.Logger) (*Store, error) {
	var backend Backend
	switch cfg.Backend {
	case config.BackendFilesystem:
		backend = NewFSBackend(cfg.Dir)
	case config.BackendS3:
		s3b, err := NewS3BackendFromConfig(cfg.S3, secrets)
		if err != nil {
			return nil, err
		}
		backend = s3b
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", cfg.Backend)
	}
	return NewStore(backend, cfg.BestName, cfg.LastName, logger), nil
}

func (s *Store) name(slot models.Slot) (string, error) {
	name, ok := s.names[slot]
	if !ok {
		return "", fmt.Errorf("unknown checkpoint slot %q", slot)
	}
	return name, nil
}

// Location returns a human-readable path of the slot
func (s *Store) Location(slot models.Slot) string {
	name, err := s.name(slot)
	if err != nil {
		return string(slot)
	}
	return s.backend.Location(name)
}

// Write atomically replaces the slot's content
func (s *Store) Write(ctx context.Context, slot models.Slot, cp *models.Checkpoint) error {
	name, err := s.name(slot)
	if err != nil {
		return err
	}

	data, err := Encode(cp)
	if err != nil {
		return &StorageError{Slot: slot, Op: "encode", Err: err}
	}
	if err := s.backend.Put(ctx, name, data); err != nil {
		return &StorageError{Slot: slot, Op: "write", Err: err}
	}

	s.logger.Debug("Checkpoint saved",
		"slot", slot,
		"location", s.backend.Location(name),
		"epoch", cp.Epoch,
		"phase", cp.TrainingPhase,
		"bytes", len(data))
	return nil
}

// Read returns the slot's checkpoint, or nil without error when the slot
// was never written
func (s *Store) Read(ctx context.Context, slot models.Slot) (*models.Checkpoint, error) {
	name, err := s.name(slot)
	if err != nil {
		return nil, err
	}

	data, err := s.backend.Get(ctx, name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, &StorageError{Slot: slot, Op: "read", Err: err}
	}

	cp, err := Decode(slot, data)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Checkpoint loaded",
		"slot", slot,
		"location", s.backend.Location(name),
		"epoch", cp.Epoch,
		"phase", cp.TrainingPhase)
	return cp, nil
}

// Exists reports whether the slot holds any content
func (s *Store) Exists(ctx context.Context, slot models.Slot) (bool, error) {
	name, err := s.name(slot)
	if err != nil {
		return false, err
	}
	if _, err := s.backend.Get(ctx, name); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, &StorageError{Slot: slot, Op: "stat", Err: err}
	}
	return true, nil
}

// Remove deletes the slot; removing an absent slot is not an error
func (s *Store) Remove(ctx context.Context, slot models.Slot) error {
	name, err := s.name(slot)
	if err != nil {
		return err
	}
	if err := s.backend.Delete(ctx, name); err != nil {
		return &StorageError{Slot: slot, Op: "remove", Err: err}
	}
	s.logger.Info("Checkpoint removed", "slot", slot, "location", s.backend.Location(name))
	return nil
}
