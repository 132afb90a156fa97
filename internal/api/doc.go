// Package api exposes the daemon's HTTP surface: session lifecycle for
// generation runs, server-sent progress streams, storyboard CRUD, asset
// retrieval, and daemon status.
package api
