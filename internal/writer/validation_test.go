package writer

import (
	"strings"
	"testing"
)

func TestValidateRunName_Valid(t *testing.T) {
	out := t.TempDir()
	for _, name := range []string{
		"run_2025-10-30T14-30-00",
		"run_2024-01-01T00-00-00",
	} {
		t.Run(name, func(t *testing.T) {
			if err := ValidateRunName(out, name); err != nil {
				t.Errorf("ValidateRunName(%q) returned unexpected error: %v", name, err)
			}
		})
	}
}

func TestValidateRunName_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string // substring of expected error message
	}{
		{name: "empty", input: "", want: "cannot be empty"},
		{name: "traversal", input: "../etc", want: "path traversal"},
		{name: "traversal_after_prefix", input: "run_2025-10-30T14-30-00/../etc", want: "path traversal"},
		{name: "absolute_unix", input: "/etc/passwd", want: "must be relative"},
		{name: "with_forward_slash", input: "run/2025", want: "without path separators"},
		{name: "with_backslash", input: "run\\2025", want: "without path separators"},
		{name: "old_session_prefix", input: "session_2025-10-30T14-30-00", want: "invalid run name format"},
		{name: "missing_separator", input: "run_20251030T143000", want: "invalid run name format"},
		{name: "null_byte", input: "run_2025-10-30T14-30-00\x00", want: "invalid run name format"},
	}

	out := t.TempDir()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRunName(out, tt.input)
			if err == nil {
				t.Fatalf("ValidateRunName(%q) expected error containing %q, got nil", tt.input, tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("ValidateRunName(%q) error = %v, want substring %q", tt.input, err, tt.want)
			}
		})
	}
}
