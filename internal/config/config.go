// Package config loads service configuration from the environment, with
// optional .env file support.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultPort       = 3000
	DefaultAppViewURL = "https://api.bsky.app"
	DefaultPDSURL     = "https://bsky.social"
	DefaultPageDelay  = time.Second
)

// Config holds everything the service reads from the environment.
type Config struct {
	// Handle and Password are the service account's credentials (an app
	// password, not the account password).
	Handle   string
	Password string

	// Hostname is the public host the generator is served from; it
	// becomes the did:web identity in did.json.
	Hostname string

	Port       int
	AppViewURL string
	PDSURL     string

	// PageDelay is the pause between author-feed page fetches.
	PageDelay time.Duration
}

// Load reads configuration from the environment. When envFile is
// non-empty it is loaded first; otherwise a .env in the working
// directory is loaded if present. Real environment variables win over
// file values either way.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return Config{}, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	} else {
		_ = godotenv.Load()
	}

	cfg := Config{
		Handle:     os.Getenv("BSKYFEEDS_HANDLE"),
		Password:   os.Getenv("BSKYFEEDS_PASSWORD"),
		Hostname:   os.Getenv("BSKYFEEDS_HOSTNAME"),
		Port:       DefaultPort,
		AppViewURL: getenvDefault("BSKYFEEDS_APPVIEW_URL", DefaultAppViewURL),
		PDSURL:     getenvDefault("BSKYFEEDS_PDS_URL", DefaultPDSURL),
		PageDelay:  DefaultPageDelay,
	}

	if raw := os.Getenv("BSKYFEEDS_PORT"); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse BSKYFEEDS_PORT %q: %w", raw, err)
		}
		cfg.Port = port
	}

	if raw := os.Getenv("BSKYFEEDS_PAGE_DELAY"); raw != "" {
		delay, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse BSKYFEEDS_PAGE_DELAY %q: %w", raw, err)
		}
		cfg.PageDelay = delay
	}

	return cfg, nil
}

// ValidateServe checks the fields the serve command cannot run without.
func (c Config) ValidateServe() error {
	if c.Handle == "" || c.Password == "" {
		return fmt.Errorf("BSKYFEEDS_HANDLE and BSKYFEEDS_PASSWORD must be set")
	}
	if c.Hostname == "" {
		return fmt.Errorf("BSKYFEEDS_HOSTNAME must be set")
	}
	return nil
}

// ServiceDID returns the did:web identity derived from the hostname.
func (c Config) ServiceDID() string {
	return "did:web:" + c.Hostname
}

func getenvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
