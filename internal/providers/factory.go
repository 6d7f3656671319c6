package providers

import (
	"github.com/amiantos/ursceal/internal/store"
)

// FromPreset constructs the provider a preset targets.
func FromPreset(p *store.Preset) (Provider, error) {
	cfg := p.APIConfig
	switch p.Provider {
	case store.ProviderOpenAI:
		return NewOpenAI(cfg.APIKey, cfg.BaseURL, cfg.Model), nil
	case store.ProviderDeepSeek:
		return NewDeepSeek(cfg.APIKey, cfg.BaseURL, cfg.Model), nil
	case store.ProviderOpenRouter:
		return NewOpenRouter(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.ProviderPrefs), nil
	case store.ProviderAnthropic:
		return NewAnthropic(cfg.APIKey, cfg.BaseURL, cfg.Model), nil
	case store.ProviderHorde:
		h := NewHorde(cfg.APIKey, cfg.BaseURL, cfg.Models).
			WithWorkerFilters(cfg.Workers, cfg.TrustedWorkers, cfg.SlowWorkers)
		if p.GenerationSettings.MaxContextTokens > 0 {
			h.SetMaxContextLength(p.GenerationSettings.MaxContextTokens)
		}
		return h, nil
	default:
		return nil, apiErr(string(p.Provider), KindAPI, "unknown provider type")
	}
}
