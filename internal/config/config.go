package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

type Config struct {
	// ServerURL is the base URL of the marketplace API. The realtime socket
	// endpoint is derived from it.
	ServerURL string

	// Home is the directory where partnerlink stores local state (keychain,
	// instance ID).
	Home string

	// InstanceID is a stable per-install identifier used to namespace
	// keychain entries.
	InstanceID string

	// LogLevel is the logger threshold (trace|debug|info|warn|error).
	LogLevel string

	// Debug enables verbose logging regardless of LogLevel.
	Debug bool
}

const defaultServerURL = "https://api.savorly.app"

// Load loads configuration from environment and defaults.
func Load() (*Config, error) {
	home := os.Getenv("PARTNERLINK_HOME_DIR")
	if home == "" {
		userHome, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		home = filepath.Join(userHome, ".partnerlink")
	}
	if err := os.MkdirAll(home, 0700); err != nil {
		return nil, fmt.Errorf("failed to create partnerlink home: %w", err)
	}

	serverURL := strings.TrimRight(os.Getenv("PARTNERLINK_SERVER_URL"), "/")
	if serverURL == "" {
		serverURL = defaultServerURL
	}

	instanceID, err := getOrCreateInstanceID(filepath.Join(home, "instance.id"))
	if err != nil {
		return nil, err
	}

	debug := os.Getenv("PARTNERLINK_DEBUG") == "true" || os.Getenv("PARTNERLINK_DEBUG") == "1"
	logLevel := os.Getenv("PARTNERLINK_LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	if debug {
		logLevel = "debug"
	}

	return &Config{
		ServerURL:  serverURL,
		Home:       home,
		InstanceID: instanceID,
		LogLevel:   logLevel,
		Debug:      debug,
	}, nil
}

// SocketURL derives the realtime endpoint (the /notifications namespace) from
// the API base URL.
func (c *Config) SocketURL() string {
	return c.ServerURL + "/notifications"
}

// getOrCreateInstanceID loads a persisted instance ID, generating one on first
// run.
func getOrCreateInstanceID(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		id := strings.TrimSpace(string(data))
		if id != "" {
			return id, nil
		}
	}

	id := uuid.NewString()
	if err := os.WriteFile(path, []byte(id), 0600); err != nil {
		return "", fmt.Errorf("failed to save instance ID: %w", err)
	}
	return id, nil
}
