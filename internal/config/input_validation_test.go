package config

import (
	"strings"
	"testing"
)

func TestValidateInputs(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(c *Config) {}},
		{name: "control char in data dir", mutate: func(c *Config) { c.Data.Dir = "data\x00evil" }, wantErr: "data.dir"},
		{name: "very long output dir", mutate: func(c *Config) { c.Output.Dir = strings.Repeat("a", MaxPathLength+1) }, wantErr: "output.dir"},
		{name: "valid endpoint", mutate: func(c *Config) { c.Checkpoint.S3.EndpointURL = "http://localhost:9000" }},
		{name: "endpoint without scheme", mutate: func(c *Config) { c.Checkpoint.S3.EndpointURL = "ftp://minio:9000" }, wantErr: "http or https"},
		{name: "endpoint without host", mutate: func(c *Config) { c.Checkpoint.S3.EndpointURL = "http://" }, wantErr: "must have a host"},
		{name: "listen addr without port", mutate: func(c *Config) { c.Serve.ListenAddr = "localhost" }, wantErr: "serve.listen_addr"},
		{name: "metrics addr", mutate: func(c *Config) { c.Metrics.ListenAddr = "127.0.0.1:9090" }},
		{name: "bad metrics addr", mutate: func(c *Config) { c.Metrics.ListenAddr = "9090" }, wantErr: "metrics.listen_addr"},
		{name: "hub mirror", mutate: func(c *Config) { c.Publish.Endpoint = "https://hf-mirror.example.com" }},
		{name: "hub endpoint without scheme", mutate: func(c *Config) { c.Publish.Endpoint = "huggingface.co" }, wantErr: "publish.endpoint"},
		{name: "upload limit too high", mutate: func(c *Config) { c.Serve.MaxUploadBytes = MaxUploadLimit + 1 }, wantErr: "serve.max_upload_bytes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.ValidateInputs()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("ValidateInputs() unexpected error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("ValidateInputs() error = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestContainsControlChars(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"./checkpoints/skin2", false},
		{"tab\there", true},
		{"bell\a", true},
		{"", false},
	}
	for _, tt := range tests {
		if got := containsControlChars(tt.in); got != tt.want {
			t.Errorf("containsControlChars(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
