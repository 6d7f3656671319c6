package store

import "context"

// Settings is the singleton application settings row.
type Settings struct {
	ShowReasoning           bool `json:"showReasoning"`
	AutoSave                bool `json:"autoSave"`
	ShowPrompt              bool `json:"showPrompt"`
	ThirdPerson             bool `json:"thirdPerson"`
	FilterAsterisks         bool `json:"filterAsterisks"`
	IncludeDialogueExamples bool `json:"includeDialogueExamples"`

	// Global lorebook defaults, used when a preset or lorebook leaves
	// the corresponding knob unset.
	LorebookScanDepth       int  `json:"lorebookScanDepth"`
	LorebookTokenBudget     int  `json:"lorebookTokenBudget"`
	LorebookRecursionDepth  int  `json:"lorebookRecursionDepth"`
	LorebookEnableRecursion bool `json:"lorebookEnableRecursion"`

	DefaultPersonaID    *string `json:"defaultPersonaId"`
	DefaultPresetID     *string `json:"defaultPresetId"`
	OnboardingCompleted bool    `json:"onboardingCompleted"`
}

// DefaultSettings returns the values seeded on first run.
func DefaultSettings() *Settings {
	return &Settings{
		AutoSave:                true,
		IncludeDialogueExamples: true,
		LorebookScanDepth:       1000,
		LorebookTokenBudget:     500,
		LorebookRecursionDepth:  2,
		LorebookEnableRecursion: true,
	}
}

// SettingsStore persists the singleton settings row.
type SettingsStore interface {
	Get(ctx context.Context) (*Settings, error)
	Update(ctx context.Context, s *Settings) error
}
