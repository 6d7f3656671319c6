// Package providers implements the LLM back-ends that generation requests
// are dispatched to: OpenAI-compatible APIs (OpenAI, DeepSeek, OpenRouter),
// Anthropic, and the AI Horde polling queue.
package providers

import "context"

// Provider is the interface all generation back-ends implement.
type Provider interface {
	// Name returns the provider identifier (e.g. "anthropic", "horde").
	Name() string

	// Capabilities reports what the back-end supports.
	Capabilities() Capabilities

	// ValidateConfig checks that the provider has what it needs to issue
	// requests (API key, model) before any network call is made.
	ValidateConfig() error

	// Generate performs a blocking completion.
	Generate(ctx context.Context, req Request) (*Response, error)

	// GenerateStream streams completion chunks via callback. Back-ends
	// without native streaming emit a single chunk followed by the
	// finished marker.
	GenerateStream(ctx context.Context, req Request, onChunk func(Chunk)) error
}

// Capabilities describes a provider variant.
type Capabilities struct {
	Streaming        bool `json:"streaming"`
	Reasoning        bool `json:"reasoning"`
	VisionAPI        bool `json:"visionAPI"`
	MaxContextWindow int  `json:"maxContextWindow"`
	RequiresPolling  bool `json:"requiresPolling"`
}

// Request is a fully built prompt plus sampling parameters.
type Request struct {
	SystemPrompt string
	UserPrompt   string
	Model        string

	MaxTokens        int
	Temperature      float64
	TopP             float64
	TopK             int
	FrequencyPenalty float64
	PresencePenalty  float64
	StopSequences    []string
}

// Response is a complete non-streaming result.
type Response struct {
	Content   string `json:"content"`
	Reasoning string `json:"reasoning,omitempty"`
	Model     string `json:"model,omitempty"`
}

// Chunk is one piece of a streaming response.
type Chunk struct {
	Content   string `json:"content,omitempty"`
	Reasoning string `json:"reasoning,omitempty"`
	Finished  bool   `json:"finished,omitempty"`
}
