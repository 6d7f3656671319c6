// Package lorebook implements keyword-triggered world-info activation:
// scanning recent story text for entry keys, secondary-key logic,
// recursion, probability gating, and token-budgeted injection.
package lorebook

import (
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/amiantos/ursceal/internal/macros"
	"github.com/amiantos/ursceal/internal/prompt"
	"github.com/amiantos/ursceal/internal/store"
)

// Settings are the effective global activation knobs. Per-lorebook and
// per-entry overrides take precedence over ScanDepth.
type Settings struct {
	ScanDepth       int // tokens
	TokenBudget     int // tokens
	RecursionDepth  int // max passes
	EnableRecursion bool
}

// Activation is one budgeted injection record for the prompt builder.
type Activation struct {
	Content  string
	Position store.Position
	Comment  string
	Depth    int
}

// Engine runs activation passes. Rand is injectable for deterministic
// probability gating in tests.
type Engine struct {
	Rand   *rand.Rand
	Macros *macros.Processor
}

func NewEngine() *Engine {
	return &Engine{
		Rand:   rand.New(rand.NewSource(time.Now().UnixNano())),
		Macros: macros.New(),
	}
}

// entryRef pairs an entry with its owning lorebook for override resolution.
type entryRef struct {
	book  *store.Lorebook
	entry *store.LorebookEntry
}

// Activate scans storyText against all enabled entries and returns the
// ordered, token-budgeted injection list. Entry contents are macro-processed
// (and asterisk-filtered when filterAsterisks is set) on the way out.
func (e *Engine) Activate(books []store.Lorebook, storyText string, cfg Settings, mctx macros.Context, filterAsterisks bool) []Activation {
	var refs []entryRef
	for i := range books {
		for j := range books[i].Entries {
			if books[i].Entries[j].Enabled {
				refs = append(refs, entryRef{book: &books[i], entry: &books[i].Entries[j]})
			}
		}
	}
	if len(refs) == 0 {
		return nil
	}

	activated := make(map[*store.LorebookEntry]bool)
	var activatedRefs []entryRef

	maxPasses := 1
	if cfg.EnableRecursion && cfg.RecursionDepth > 1 {
		maxPasses = cfg.RecursionDepth
	}

	scanText := storyText
	for pass := 0; pass < maxPasses; pass++ {
		var newThisPass []entryRef

		for _, ref := range refs {
			entry := ref.entry
			if activated[entry] {
				continue
			}
			if entry.DelayUntilRecursion && pass == 0 {
				continue
			}
			if !entry.Constant {
				window := e.window(ref, scanText, cfg)
				if !anyKeyMatches(entry.Keys, window, entry) {
					continue
				}
				if entry.Selective && !secondaryKeysPass(entry, window) {
					continue
				}
			}
			if entry.UseProbability {
				if e.Rand.Intn(100)+1 > entry.Probability {
					continue
				}
			}
			activated[entry] = true
			newThisPass = append(newThisPass, ref)
		}

		if len(newThisPass) == 0 {
			break
		}
		activatedRefs = append(activatedRefs, newThisPass...)

		// Feed the next pass with this pass's new content, minus entries
		// that refuse to trigger recursion.
		var seed strings.Builder
		for _, ref := range newThisPass {
			if ref.entry.PreventRecursion {
				continue
			}
			seed.WriteString(ref.entry.Content)
			seed.WriteString("\n")
		}
		if seed.Len() == 0 {
			break
		}
		scanText = seed.String()
	}

	activatedRefs = resolveGroups(activatedRefs)
	orderRefs(activatedRefs)
	return e.emit(activatedRefs, cfg, mctx, filterAsterisks)
}

// window returns the scan window for one entry: the trailing chunk of text
// sized by the effective scan depth (entry override, then lorebook, then
// global), at roughly four characters per token.
func (e *Engine) window(ref entryRef, text string, cfg Settings) string {
	depth := cfg.ScanDepth
	if ref.book.ScanDepth != nil {
		depth = *ref.book.ScanDepth
	}
	if ref.entry.ScanDepth != nil {
		depth = *ref.entry.ScanDepth
	}
	chars := depth * prompt.CharsPerToken
	if chars <= 0 || chars >= len(text) {
		return text
	}
	return text[len(text)-chars:]
}

func secondaryKeysPass(entry *store.LorebookEntry, window string) bool {
	if len(entry.SecondaryKeys) == 0 {
		return true
	}
	any, all := false, true
	for _, key := range entry.SecondaryKeys {
		if keyMatches(key, window, entry) {
			any = true
		} else {
			all = false
		}
	}
	switch entry.SelectiveLogic {
	case store.LogicAndAny:
		return any
	case store.LogicNotAll:
		return !all
	case store.LogicNotAny:
		return !any
	case store.LogicAndAll:
		return all
	}
	return any
}

// resolveGroups keeps only the highest-insertionOrder activated entry
// within each mutual-exclusion group.
func resolveGroups(refs []entryRef) []entryRef {
	best := make(map[string]entryRef)
	for _, ref := range refs {
		g := ref.entry.Group
		if g == "" {
			continue
		}
		cur, ok := best[g]
		if !ok || ref.entry.InsertionOrder > cur.entry.InsertionOrder {
			best[g] = ref
		}
	}

	out := refs[:0]
	for _, ref := range refs {
		if g := ref.entry.Group; g != "" && best[g].entry != ref.entry {
			continue
		}
		out = append(out, ref)
	}
	return out
}

// orderRefs sorts by position, then insertionOrder descending, then id.
func orderRefs(refs []entryRef) {
	sort.SliceStable(refs, func(i, j int) bool {
		a, b := refs[i].entry, refs[j].entry
		if a.Position != b.Position {
			return a.Position < b.Position
		}
		if a.InsertionOrder != b.InsertionOrder {
			return a.InsertionOrder > b.InsertionOrder
		}
		return a.ID < b.ID
	})
}

// emit walks the ordered entries, applying macros and the token budget.
func (e *Engine) emit(refs []entryRef, cfg Settings, mctx macros.Context, filterAsterisks bool) []Activation {
	var out []Activation
	used := 0
	for _, ref := range refs {
		content := e.Macros.Process(ref.entry.Content, mctx)
		if filterAsterisks {
			content = strings.ReplaceAll(content, "*", "")
		}
		cost := prompt.EstimateTokens(content)
		if cfg.TokenBudget > 0 && used+cost > cfg.TokenBudget {
			break
		}
		used += cost
		out = append(out, Activation{
			Content:  content,
			Position: ref.entry.Position,
			Comment:  ref.entry.Comment,
			Depth:    ref.entry.Depth,
		})
	}
	return out
}
