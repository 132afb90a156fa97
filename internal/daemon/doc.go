// Package daemon assembles the storyreel process: stores, rate limiter,
// generation engine, recovery scanner, and HTTP API, with a file lock
// enforcing single-instance execution.
package daemon
