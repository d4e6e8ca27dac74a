// Package config tests document the environment contract.
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"BSKYFEEDS_HANDLE", "BSKYFEEDS_PASSWORD", "BSKYFEEDS_HOSTNAME",
		"BSKYFEEDS_PORT", "BSKYFEEDS_APPVIEW_URL", "BSKYFEEDS_PDS_URL",
		"BSKYFEEDS_PAGE_DELAY",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

// TestLoad_Defaults verifies the defaults with a bare environment.
func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != DefaultPort {
		t.Errorf("port = %d, want %d", cfg.Port, DefaultPort)
	}
	if cfg.AppViewURL != DefaultAppViewURL || cfg.PDSURL != DefaultPDSURL {
		t.Errorf("urls = %q / %q, want defaults", cfg.AppViewURL, cfg.PDSURL)
	}
	if cfg.PageDelay != DefaultPageDelay {
		t.Errorf("page delay = %s, want %s", cfg.PageDelay, DefaultPageDelay)
	}
}

// TestLoad_ReadsEnvironment verifies every field comes from its variable.
func TestLoad_ReadsEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("BSKYFEEDS_HANDLE", "feeds.test")
	t.Setenv("BSKYFEEDS_PASSWORD", "app-password")
	t.Setenv("BSKYFEEDS_HOSTNAME", "feeds.example.com")
	t.Setenv("BSKYFEEDS_PORT", "8080")
	t.Setenv("BSKYFEEDS_APPVIEW_URL", "http://appview.local")
	t.Setenv("BSKYFEEDS_PDS_URL", "http://pds.local")
	t.Setenv("BSKYFEEDS_PAGE_DELAY", "250ms")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Handle != "feeds.test" || cfg.Password != "app-password" {
		t.Errorf("credentials = %q / %q", cfg.Handle, cfg.Password)
	}
	if cfg.Hostname != "feeds.example.com" || cfg.Port != 8080 {
		t.Errorf("host = %q port = %d", cfg.Hostname, cfg.Port)
	}
	if cfg.AppViewURL != "http://appview.local" || cfg.PDSURL != "http://pds.local" {
		t.Errorf("urls = %q / %q", cfg.AppViewURL, cfg.PDSURL)
	}
	if cfg.PageDelay != 250*time.Millisecond {
		t.Errorf("page delay = %s", cfg.PageDelay)
	}
	if cfg.ServiceDID() != "did:web:feeds.example.com" {
		t.Errorf("service DID = %q", cfg.ServiceDID())
	}
}

// TestLoad_EnvFile verifies values come from an explicit .env file.
func TestLoad_EnvFile(t *testing.T) {
	clearEnv(t)

	envFile := filepath.Join(t.TempDir(), "test.env")
	content := "BSKYFEEDS_HOSTNAME=fromfile.example.com\n"
	if err := os.WriteFile(envFile, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	defer os.Unsetenv("BSKYFEEDS_HOSTNAME")

	cfg, err := Load(envFile)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Hostname != "fromfile.example.com" {
		t.Errorf("hostname = %q, want the file value", cfg.Hostname)
	}
}

// TestLoad_MissingEnvFile verifies an explicit file that does not exist
// is an error, unlike the implicit .env lookup.
func TestLoad_MissingEnvFile(t *testing.T) {
	clearEnv(t)

	if _, err := Load(filepath.Join(t.TempDir(), "absent.env")); err == nil {
		t.Error("expected an error for a missing explicit env file")
	}
}

// TestLoad_BadValues verifies malformed numbers and durations fail
// loudly instead of being defaulted away.
func TestLoad_BadValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("BSKYFEEDS_PORT", "not-a-port")
	if _, err := Load(""); err == nil {
		t.Error("expected an error for a bad port")
	}

	clearEnv(t)
	t.Setenv("BSKYFEEDS_PAGE_DELAY", "soon")
	if _, err := Load(""); err == nil {
		t.Error("expected an error for a bad delay")
	}
}

// TestValidateServe documents the fields serve cannot run without.
func TestValidateServe(t *testing.T) {
	full := Config{Handle: "feeds.test", Password: "pw", Hostname: "feeds.example.com"}
	if err := full.ValidateServe(); err != nil {
		t.Errorf("complete config should validate: %v", err)
	}

	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing password", Config{Handle: "feeds.test", Hostname: "h"}},
		{"missing handle", Config{Password: "pw", Hostname: "h"}},
		{"missing hostname", Config{Handle: "feeds.test", Password: "pw"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.cfg.ValidateServe(); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}
