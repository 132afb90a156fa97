// Package generator defines the provider abstraction for scene content
// generation. Adapters turn one scene prompt into generated content plus a
// caption; failures carry a typed kind so callers can distinguish throttling
// from transient faults from permanent rejections without inspecting message
// text.
package generator
