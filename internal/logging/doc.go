// Package logging provides structured JSON logging for vetrail with
// size-based file rotation. The daemon logs to ~/.vetrail/logs/daemon.log;
// CLI commands log there too when --debug is set.
package logging
