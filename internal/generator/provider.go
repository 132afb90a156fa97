package generator

import (
	"fmt"
	"strings"
)

// Provider identifies a configured generation backend.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderStub      Provider = "stub"
)

// ParseProvider normalizes and validates a provider name.
func ParseProvider(value string) (Provider, error) {
	switch Provider(strings.ToLower(strings.TrimSpace(value))) {
	case ProviderOpenAI:
		return ProviderOpenAI, nil
	case ProviderAnthropic:
		return ProviderAnthropic, nil
	case ProviderStub:
		return ProviderStub, nil
	default:
		return "", fmt.Errorf("unknown provider %q", value)
	}
}

func (p Provider) String() string {
	return string(p)
}
