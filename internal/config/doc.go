// Package config loads, normalizes, and validates the TOML configuration
// shared by the storyreel daemon and CLI.
package config
