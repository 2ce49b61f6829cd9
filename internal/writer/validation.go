package writer

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

const runTimeLayout = "2006-01-02T15-04-05"

// Run name format: run_2025-10-30T14-30-00
var runNameRegex = regexp.MustCompile(`^run_\d{4}-\d{2}-\d{2}T\d{2}-\d{2}-\d{2}$`)

// ValidateRunName checks a run directory name given on the command line so
// that it names a direct child of outputDir:
//   - no ".." components
//   - not absolute, no path separators
//   - run_YYYY-MM-DDTHH-MM-SS format
func ValidateRunName(outputDir, runName string) error {
	if runName == "" {
		return fmt.Errorf("run name cannot be empty")
	}

	if strings.Contains(runName, "..") {
		return fmt.Errorf("invalid run name: contains '..' (path traversal attempt)")
	}

	if filepath.IsAbs(runName) {
		return fmt.Errorf("invalid run name: must be relative path")
	}

	if strings.ContainsAny(runName, "/\\") {
		return fmt.Errorf("invalid run name: must be directory name without path separators")
	}

	if !runNameRegex.MatchString(runName) {
		return fmt.Errorf("invalid run name format: expected 'run_YYYY-MM-DDTHH-MM-SS', got '%s'", runName)
	}

	absOutput, err := filepath.Abs(outputDir)
	if err != nil {
		return fmt.Errorf("failed to resolve output directory: %w", err)
	}
	absPath, err := filepath.Abs(filepath.Join(outputDir, runName))
	if err != nil {
		return fmt.Errorf("failed to resolve run path: %w", err)
	}
	// separator suffix keeps "/out/run" from matching "/out-other/run"
	if !strings.HasPrefix(absPath, absOutput+string(filepath.Separator)) {
		return fmt.Errorf("run path escapes output directory")
	}

	return nil
}
