// Package ratelimit provides per-provider admission control for generation
// requests. Each provider gets a token bucket refilled on a per-minute rate
// plus a concurrent-request ceiling; callers run work through Execute, which
// retries admission with exponential backoff before giving up.
package ratelimit
