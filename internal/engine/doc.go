// Package engine runs the scene fan-out for one storyboard. Every pending
// scene becomes an independent task gated by the rate limiter; one scene's
// failure never aborts its siblings, and every completed clip is persisted
// the moment it exists. Throttle signals pause the storyboard for later
// recovery instead of failing it.
package engine
