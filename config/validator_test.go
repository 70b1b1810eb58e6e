package config

import (
	"os"
	"path/filepath"
	"testing"
)

// Test structs exercising the custom validators in isolation.
type fileExistsTestStruct struct {
	Path string `validate:"file_exists"`
}

type dirExistsTestStruct struct {
	Path string `validate:"dir_exists"`
}

type hostTestStruct struct {
	Host string `validate:"host"`
}

type envTestStruct struct {
	Env string `validate:"env"`
}

func TestValidateFileExists(t *testing.T) {
	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "cert.pem")
	if err := os.WriteFile(tmpFile, []byte("test"), 0644); err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}

	tests := []struct {
		name     string
		path     string
		expected bool
	}{
		{"empty path (optional)", "", true},
		{"existing file", tmpFile, true},
		{"non-existent file", "/nonexistent/file.txt", false},
		{"directory instead of file", tmpDir, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := fileExistsTestStruct{Path: tt.path}
			err := validate.Struct(s)
			if tt.expected && err != nil {
				t.Errorf("expected valid, got error: %v", err)
			}
			if !tt.expected && err == nil {
				t.Errorf("expected invalid for path %q, got valid", tt.path)
			}
		})
	}
}

func TestValidateDirExists(t *testing.T) {
	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "journal.db")
	if err := os.WriteFile(tmpFile, []byte("test"), 0644); err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}

	tests := []struct {
		name     string
		path     string
		expected bool
	}{
		{"empty path (optional)", "", true},
		{"existing directory", tmpDir, true},
		{"non-existent directory", "/nonexistent/dir", false},
		{"file instead of directory", tmpFile, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := dirExistsTestStruct{Path: tt.path}
			err := validate.Struct(s)
			if tt.expected && err != nil {
				t.Errorf("expected valid, got error: %v", err)
			}
			if !tt.expected && err == nil {
				t.Errorf("expected invalid for path %q, got valid", tt.path)
			}
		})
	}
}

func TestValidateHost(t *testing.T) {
	tests := []struct {
		name     string
		host     string
		expected bool
	}{
		{"empty host (optional)", "", true},
		{"localhost", "localhost", true},
		{"IP address", "127.0.0.1", true},
		{"IP with port", "127.0.0.1:6379", true},
		{"hostname", "redis.example.com", true},
		{"hostname with port", "redis.example.com:6380", true},
		{"IPv6 localhost", "::1", true},
		{"IPv6 address", "2001:db8::1", true},
		{"host with underscore", "redis_primary", true},
		{"invalid host with space", "invalid host", false},
		{"invalid host with tab", "invalid\thost", false},
		{"invalid host with newline", "invalid\nhost", false},
		{"invalid host with slash", "redis/0", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := hostTestStruct{Host: tt.host}
			err := validate.Struct(s)
			if tt.expected && err != nil {
				t.Errorf("expected valid, got error: %v", err)
			}
			if !tt.expected && err == nil {
				t.Errorf("expected invalid for host %q, got valid", tt.host)
			}
		})
	}
}

func TestValidateEnvTag(t *testing.T) {
	for _, env := range []string{"development", "staging", "production"} {
		if err := validate.Struct(envTestStruct{Env: env}); err != nil {
			t.Errorf("environment %q should be valid: %v", env, err)
		}
	}
	if err := validate.Struct(envTestStruct{Env: "prod"}); err == nil {
		t.Error("expected 'prod' to fail the env validator")
	}
}

func TestIsValidHostChar(t *testing.T) {
	tests := []struct {
		char     rune
		expected bool
	}{
		{'a', true},
		{'Z', true},
		{'0', true},
		{'9', true},
		{'-', true},
		{'.', true},
		{':', true},
		{'_', true},
		{' ', false},
		{'!', false},
		{'@', false},
		{'/', false},
		{'%', false},
	}

	for _, tt := range tests {
		t.Run(string(tt.char), func(t *testing.T) {
			result := isValidHostChar(tt.char)
			if result != tt.expected {
				t.Errorf("isValidHostChar(%q) = %v, want %v", tt.char, result, tt.expected)
			}
		})
	}
}
