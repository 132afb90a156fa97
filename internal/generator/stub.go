package generator

import (
	"context"
	"fmt"
	"strings"
)

// StubClient generates deterministic placeholder content without any
// network calls. It serves local development and the test suite.
type StubClient struct {
	// Fail, when set, is consulted per prompt to inject failures.
	Fail func(prompt string) error
}

// Generate returns canned content derived from the prompt.
func (s *StubClient) Generate(ctx context.Context, prompt string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if s.Fail != nil {
		if err := s.Fail(prompt); err != nil {
			return Result{}, err
		}
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return Result{}, &ProviderError{Provider: ProviderStub, Kind: KindPermanent, Message: "scene prompt required"}
	}
	return Result{
		Content: fmt.Sprintf("stub clip for prompt: %s", prompt),
		Caption: firstWords(prompt, 8),
	}, nil
}

func firstWords(text string, n int) string {
	words := strings.Fields(text)
	if len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, " ")
}
