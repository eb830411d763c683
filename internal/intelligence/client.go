// Package intelligence provides clients for the opaque intelligence
// provider that backs schema-driven generation. The provider may be
// absent or failing at any time; callers route every request through a
// circuit breaker and fall back to deterministic generation.
package intelligence

import (
	"context"
)

// Request is a single provider call.
type Request struct {
	Prompt      string
	System      string
	MaxTokens   int
	Temperature float64
}

// Client is the provider contract. Request returns the raw model text;
// structured callers extract and validate JSON themselves.
type Client interface {
	Request(ctx context.Context, req Request) (string, error)
	Name() string
}
