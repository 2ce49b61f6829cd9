package writer

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// RunDirPrefix prefixes every run directory name
const RunDirPrefix = "run_"

// Files kept in each run directory
const (
	HistoryFilename      = "history.jsonl"
	LogFilename          = "session.log"
	ConfigBackupFilename = "config.toml.bak"
)

// SessionManager manages the per-run output directory
type SessionManager struct {
	runDir string
	logger *slog.Logger
}

// NewSessionManager creates a timestamped run directory under outputDir, or
// reopens an existing one when runName is set.
func NewSessionManager(logger *slog.Logger, outputDir, runName string) (*SessionManager, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	var runDir string
	if runName != "" {
		if err := ValidateRunName(outputDir, runName); err != nil {
			return nil, err
		}
		runDir = filepath.Join(outputDir, runName)
		if _, err := os.Stat(runDir); os.IsNotExist(err) {
			return nil, fmt.Errorf("run directory not found: %s", runDir)
		}
		logger.Info("Reusing existing run directory", "path", runDir)
	} else {
		timestamp := time.Now().Format(runTimeLayout)
		runDir = filepath.Join(outputDir, RunDirPrefix+timestamp)

		if err := os.MkdirAll(runDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create run directory: %w", err)
		}

		logger.Info("Created new run directory", "path", runDir)
	}

	return &SessionManager{
		runDir: runDir,
		logger: logger,
	}, nil
}

// GetRunDir returns the run directory path
func (sm *SessionManager) GetRunDir() string {
	return sm.runDir
}

// GetHistoryPath returns the epoch history file
func (sm *SessionManager) GetHistoryPath() string {
	return filepath.Join(sm.runDir, HistoryFilename)
}

// GetLogPath returns the full path to the session log file
func (sm *SessionManager) GetLogPath() string {
	return filepath.Join(sm.runDir, LogFilename)
}

// GetConfigBackupPath returns the full path to the config backup
func (sm *SessionManager) GetConfigBackupPath() string {
	return filepath.Join(sm.runDir, ConfigBackupFilename)
}

// SetLogger replaces the bootstrap logger once the run logger exists
func (sm *SessionManager) SetLogger(logger *slog.Logger) {
	sm.logger = logger
}

// BackupConfig copies the config file to the run directory
func (sm *SessionManager) BackupConfig(configPath string) error {
	source, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	backupPath := sm.GetConfigBackupPath()
	if err := os.WriteFile(backupPath, source, 0644); err != nil {
		return fmt.Errorf("failed to write config backup: %w", err)
	}

	sm.logger.Info("Backed up config file", "path", backupPath)
	return nil
}
