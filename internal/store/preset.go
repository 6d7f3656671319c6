package store

import "context"

// ProviderType tags which back-end a preset targets.
type ProviderType string

const (
	ProviderOpenAI     ProviderType = "openai"
	ProviderDeepSeek   ProviderType = "deepseek"
	ProviderOpenRouter ProviderType = "openrouter"
	ProviderAnthropic  ProviderType = "anthropic"
	ProviderHorde      ProviderType = "horde"
)

// KnownProvider reports whether t is one of the supported provider tags.
func KnownProvider(t ProviderType) bool {
	switch t {
	case ProviderOpenAI, ProviderDeepSeek, ProviderOpenRouter, ProviderAnthropic, ProviderHorde:
		return true
	}
	return false
}

// APIConfig carries provider-specific connection settings.
type APIConfig struct {
	APIKey  string `json:"apiKey,omitempty"`
	BaseURL string `json:"baseUrl,omitempty"`
	Model   string `json:"model,omitempty"`

	// Horde-specific worker filters.
	Models         []string `json:"models,omitempty"`
	Workers        []string `json:"workers,omitempty"`
	TrustedWorkers bool     `json:"trustedWorkers,omitempty"`
	SlowWorkers    bool     `json:"slowWorkers,omitempty"`

	// OpenRouter provider preference list (comma-separated).
	ProviderPrefs string `json:"providerPrefs,omitempty"`
}

// GenerationSettings are the sampling knobs sent to providers.
type GenerationSettings struct {
	MaxTokens               int      `json:"maxTokens"`
	MaxContextTokens        int      `json:"maxContextTokens"`
	Temperature             float64  `json:"temperature"`
	TopP                    float64  `json:"topP,omitempty"`
	TopK                    int      `json:"topK,omitempty"`
	FrequencyPenalty        float64  `json:"frequencyPenalty,omitempty"`
	PresencePenalty         float64  `json:"presencePenalty,omitempty"`
	StopSequences           []string `json:"stopSequences,omitempty"`
	IncludeDialogueExamples bool     `json:"includeDialogueExamples"`
}

// LorebookSettings are the per-preset lorebook activation knobs.
type LorebookSettings struct {
	ScanDepth       int  `json:"scanDepth"`
	TokenBudget     int  `json:"tokenBudget"`
	RecursionDepth  int  `json:"recursionDepth"`
	EnableRecursion bool `json:"enableRecursion"`
}

// PromptTemplates optionally override the built-in prompt text.
// Empty strings mean "use the default".
type PromptTemplates struct {
	SystemPrompt string `json:"systemPrompt,omitempty"`
	Continue     string `json:"continue,omitempty"`
	Character    string `json:"character,omitempty"`
	Instruction  string `json:"instruction,omitempty"`
	Rewrite      string `json:"rewrite,omitempty"`
}

// Preset bundles provider config, generation settings, and templates.
type Preset struct {
	ID                 string             `json:"id"`
	Name               string             `json:"name"`
	Provider           ProviderType       `json:"provider"`
	APIConfig          APIConfig          `json:"apiConfig"`
	GenerationSettings GenerationSettings `json:"generationSettings"`
	LorebookSettings   LorebookSettings   `json:"lorebookSettings"`
	PromptTemplates    PromptTemplates    `json:"promptTemplates"`
	IsDefault          bool               `json:"isDefault"`
}

// PresetStore persists presets. At most one preset is the default.
type PresetStore interface {
	Create(ctx context.Context, p *Preset) error
	Get(ctx context.Context, id string) (*Preset, error)
	List(ctx context.Context) ([]Preset, error)
	Update(ctx context.Context, p *Preset) error

	// Delete clears configPresetId on stories referencing the preset.
	Delete(ctx context.Context, id string) error

	// SetDefault marks one preset as default, unsetting any previous one
	// in the same transaction.
	SetDefault(ctx context.Context, id string) error
}
