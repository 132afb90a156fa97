// Package storyboard defines the durable movie-generation record (scene
// plan, clips, generation status) and the file-backed store that persists
// it with per-record locking and atomic verified writes.
package storyboard
