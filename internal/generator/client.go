package generator

import "context"

// Result is the outcome of one successful scene generation.
type Result struct {
	Content string
	Caption string
}

// Client turns a scene prompt into generated content. Implementations must
// honor context cancellation and return *ProviderError for classified
// failures.
type Client interface {
	Generate(ctx context.Context, prompt string) (Result, error)
}
