package config

import (
	"fmt"
	"net"
	"net/url"
	"unicode"
)

const (
	// MaxPathLength is the maximum allowed length for configured paths
	MaxPathLength = 4096

	// MaxUploadLimit caps serve.max_upload_bytes
	MaxUploadLimit = 256 << 20
)

// ValidateInputs performs additional validation on user-controllable fields
// that feed file paths, network listeners and remote endpoints.
func (c *Config) ValidateInputs() error {
	paths := []struct {
		name  string
		value string
	}{
		{"data.dir", c.Data.Dir},
		{"checkpoint.dir", c.Checkpoint.Dir},
		{"checkpoint.best_name", c.Checkpoint.BestName},
		{"checkpoint.last_name", c.Checkpoint.LastName},
		{"checkpoint.s3.prefix", c.Checkpoint.S3.Prefix},
		{"output.dir", c.Output.Dir},
		{"publish.card_template", c.Publish.CardTemplate},
	}
	for _, p := range paths {
		if err := validatePath(p.name, p.value); err != nil {
			return err
		}
	}

	if c.Checkpoint.S3.EndpointURL != "" {
		if err := validateEndpointURL("checkpoint.s3.endpoint_url", c.Checkpoint.S3.EndpointURL); err != nil {
			return err
		}
	}

	if err := validateListenAddr("serve.listen_addr", c.Serve.ListenAddr); err != nil {
		return err
	}
	if c.Publish.Endpoint != "" {
		if err := validateEndpointURL("publish.endpoint", c.Publish.Endpoint); err != nil {
			return err
		}
	}
	if c.Metrics.ListenAddr != "" {
		if err := validateListenAddr("metrics.listen_addr", c.Metrics.ListenAddr); err != nil {
			return err
		}
	}

	if c.Serve.MaxUploadBytes > MaxUploadLimit {
		return fmt.Errorf("serve.max_upload_bytes exceeds maximum of %d (got %d)", MaxUploadLimit, c.Serve.MaxUploadBytes)
	}

	return nil
}

func validatePath(key, value string) error {
	if len(value) > MaxPathLength {
		return fmt.Errorf("%s exceeds maximum length of %d characters (got %d)", key, MaxPathLength, len(value))
	}
	if containsControlChars(value) {
		return fmt.Errorf("%s contains invalid control characters", key)
	}
	return nil
}

// validateEndpointURL checks that a remote endpoint is properly formatted
func validateEndpointURL(key, endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("%s is invalid: %w", key, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must use http or https scheme (got %s)", key, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%s must have a host", key)
	}
	return nil
}

func validateListenAddr(key, addr string) error {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("%s must be host:port (got %q): %w", key, addr, err)
	}
	return nil
}

// containsControlChars checks if a string contains control characters
func containsControlChars(s string) bool {
	for _, r := range s {
		if unicode.IsControl(r) {
			return true
		}
	}
	return false
}
