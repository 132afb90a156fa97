// Package assets provides durable blob storage for generated scene
// artifacts. Each asset holds the generated content plus a caption history,
// addressed by an opaque identifier; storyboards reference assets by ID and
// never embed content.
package assets
