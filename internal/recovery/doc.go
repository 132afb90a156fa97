// Package recovery scans the storyboard store for jobs stuck
// mid-generation and resumes them. A scan runs once at daemon start and
// then on a fixed interval; resumption reuses the generation engine, whose
// idempotence rule skips scenes that already produced clips.
package recovery
