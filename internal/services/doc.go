// Package services provides shared error classification and context
// annotation helpers used across the generation subsystem.
package services
