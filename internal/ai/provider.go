package ai

import "context"

// Provider is the insight step's view of an LLM backend.
type Provider interface {
	// Analyze sends the prompts and parses the model's JSON assessment.
	Analyze(ctx context.Context, systemPrompt, userPrompt string) (*Analysis, *Stats, error)

	// GetModelInfo returns information about the configured model
	GetModelInfo() map[string]interface{}

	// GetProviderName returns the name of the provider
	GetProviderName() string
}
