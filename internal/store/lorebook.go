package store

import "context"

// SelectiveLogic controls how secondary keys gate an entry activation.
type SelectiveLogic int

const (
	LogicAndAny SelectiveLogic = 0 // keep if any secondary matches
	LogicNotAll SelectiveLogic = 1 // keep unless every secondary matches
	LogicNotAny SelectiveLogic = 2 // keep unless any secondary matches
	LogicAndAll SelectiveLogic = 3 // keep only if every secondary matches
)

// Position determines where an activated entry is injected into the prompt.
type Position int

const (
	PosBeforeChar       Position = 0
	PosAfterChar        Position = 1
	PosAuthorNoteBefore Position = 2
	PosAuthorNoteAfter  Position = 3
	PosAtDepth          Position = 4
)

// Lorebook is a collection of keyword-triggered world-information entries.
// ScanDepth and TokenBudget of nil defer to the global settings.
type Lorebook struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	Description       string          `json:"description"`
	ScanDepth         *int            `json:"scanDepth"`
	TokenBudget       *int            `json:"tokenBudget"`
	RecursiveScanning bool            `json:"recursiveScanning"`
	Extensions        map[string]any  `json:"extensions"`
	Entries           []LorebookEntry `json:"entries"`
}

// LorebookEntry is one keyed world-info fragment. IDs are stable only until
// the next SaveEntries call (delete-then-reinsert); callers refetch after
// any entry-bearing save.
type LorebookEntry struct {
	ID                  int64          `json:"id"`
	Keys                []string       `json:"keys"`
	SecondaryKeys       []string       `json:"secondaryKeys"`
	Content             string         `json:"content"`
	Comment             string         `json:"comment"`
	Enabled             bool           `json:"enabled"`
	Constant            bool           `json:"constant"`
	Selective           bool           `json:"selective"`
	SelectiveLogic      SelectiveLogic `json:"selectiveLogic"`
	InsertionOrder      int            `json:"insertionOrder"`
	Position            Position       `json:"position"`
	CaseSensitive       bool           `json:"caseSensitive"`
	MatchWholeWords     bool           `json:"matchWholeWords"`
	UseRegex            bool           `json:"useRegex"`
	Probability         int            `json:"probability"`
	UseProbability      bool           `json:"useProbability"`
	Depth               int            `json:"depth"`
	ScanDepth           *int           `json:"scanDepth"`
	Group               string         `json:"group"`
	PreventRecursion    bool           `json:"preventRecursion"`
	DelayUntilRecursion bool           `json:"delayUntilRecursion"`
	DisplayIndex        int            `json:"displayIndex"`
	Extensions          map[string]any `json:"extensions"`
}

// LorebookStore persists lorebooks and their owned entries.
type LorebookStore interface {
	Create(ctx context.Context, lb *Lorebook) error

	// Get loads the lorebook with entries ordered by id.
	Get(ctx context.Context, id string) (*Lorebook, error)

	// List returns lorebooks without entries.
	List(ctx context.Context) ([]Lorebook, error)

	// Update persists lorebook metadata only; entries go through SaveEntries.
	Update(ctx context.Context, lb *Lorebook) error

	Delete(ctx context.Context, id string) error

	// SaveEntries replaces all entries in one transaction
	// (delete-all-then-reinsert; entry ids are reassigned).
	SaveEntries(ctx context.Context, lorebookID string, entries []LorebookEntry) error
}
