// Package daemon exposes the review pipeline over a Unix socket so CLI
// commands can trigger and inspect runs without re-initializing the
// embedder and rule index on every invocation.
package daemon

import (
	"os"
	"path/filepath"
	"time"
)

// Config holds configuration for the daemon service.
type Config struct {
	// SocketPath is the Unix domain socket path for IPC.
	// Default: ~/.vetrail/vetrail.sock
	SocketPath string

	// PIDPath is the file path for storing the daemon's process ID.
	// Default: ~/.vetrail/vetrail.pid
	PIDPath string

	// Timeout is the maximum duration for client-daemon communication.
	// Default: 30s
	Timeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "/tmp"
	}
	dir := filepath.Join(home, ".vetrail")
	return Config{
		SocketPath: filepath.Join(dir, "vetrail.sock"),
		PIDPath:    filepath.Join(dir, "vetrail.pid"),
		Timeout:    30 * time.Second,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.SocketPath == "" {
		c.SocketPath = def.SocketPath
	}
	if c.PIDPath == "" {
		c.PIDPath = def.PIDPath
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	return c
}
