package writer

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/lamim/dermaforge/pkg/models"
)

// HistoryWriter appends one JSON line per completed epoch to history.jsonl.
// A resumed run reusing its directory keeps appending to the same file.
type HistoryWriter struct {
	file   *os.File
	mu     sync.Mutex
	logger *slog.Logger
}

// NewHistoryWriter opens the run's history file for appending
func NewHistoryWriter(sessionMgr *SessionManager, logger *slog.Logger) (*HistoryWriter, error) {
	path := sessionMgr.GetHistoryPath()

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open history file: %w", err)
	}

	logger.Debug("Opened epoch history", "path", path)

	return &HistoryWriter{
		file:   file,
		logger: logger,
	}, nil
}

// Append writes a single epoch record
func (hw *HistoryWriter) Append(record models.EpochRecord) error {
	hw.mu.Lock()
	defer hw.mu.Unlock()

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal epoch record: %w", err)
	}

	if _, err := hw.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write epoch record: %w", err)
	}

	return nil
}

// Close syncs and closes the history file
func (hw *HistoryWriter) Close() error {
	if err := hw.file.Sync(); err != nil {
		hw.logger.Warn("Failed to sync history file", "error", err)
	}

	if err := hw.file.Close(); err != nil {
		return fmt.Errorf("failed to close history file: %w", err)
	}
	return nil
}

// ReadHistory loads every record of a history file, skipping blank lines
func ReadHistory(path string) ([]models.EpochRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history file: %w", err)
	}
	defer file.Close()

	var records []models.EpochRecord
	scanner := bufio.NewScanner(file)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var rec models.EpochRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("failed to parse history line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read history file: %w", err)
	}
	return records, nil
}
