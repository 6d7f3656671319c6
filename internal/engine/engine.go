// Package engine orchestrates a generation request: it loads the story and
// its preset, persona, characters, and lorebooks, runs lorebook activation,
// builds the prompts, and dispatches to the configured provider.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/amiantos/ursceal/internal/lorebook"
	"github.com/amiantos/ursceal/internal/macros"
	"github.com/amiantos/ursceal/internal/prompt"
	"github.com/amiantos/ursceal/internal/providers"
	"github.com/amiantos/ursceal/internal/store"
)

var (
	ErrInvalidType      = errors.New("invalid generation type")
	ErrEmptyInstruction = errors.New("custom generation requires an instruction")
	ErrNoPreset         = errors.New("no generation preset configured")
)

// GenerateRequest is the client's generation order.
type GenerateRequest struct {
	StoryID      string `json:"storyId"`
	Type         string `json:"type"`
	CustomPrompt string `json:"customPrompt,omitempty"`
	CharacterID  string `json:"characterId,omitempty"`
}

// Generation is a fully prepared request ready to stream.
type Generation struct {
	Provider providers.Provider
	Request  providers.Request
	StoryID  string
}

// Engine wires storage, lorebook activation, and prompt building together.
type Engine struct {
	stores  *store.Stores
	books   *lorebook.Engine
	prompts *prompt.Builder
	tracer  trace.Tracer
	logger  *slog.Logger
}

func New(stores *store.Stores, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		stores:  stores,
		books:   lorebook.NewEngine(),
		prompts: prompt.NewBuilder(),
		tracer:  otel.Tracer("ursceal/engine"),
		logger:  logger,
	}
}

// Prepare validates the request, assembles both prompts, and picks the
// provider. It also records the pre-generation history snapshot so the
// user can undo back to the state before the model wrote anything.
func (e *Engine) Prepare(ctx context.Context, req GenerateRequest) (*Generation, error) {
	ctx, span := e.tracer.Start(ctx, "engine.prepare",
		trace.WithAttributes(attribute.String("generation.type", req.Type)))
	defer span.End()

	switch req.Type {
	case prompt.TypeContinue, prompt.TypeCharacter, prompt.TypeRewrite:
	case prompt.TypeCustom:
		if req.CustomPrompt == "" {
			return nil, ErrEmptyInstruction
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidType, req.Type)
	}

	story, err := e.stores.Stories.Get(ctx, req.StoryID)
	if err != nil {
		return nil, fmt.Errorf("load story: %w", err)
	}
	settings, err := e.stores.Settings.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	preset, err := e.loadPreset(ctx, story, settings)
	if err != nil {
		return nil, err
	}

	persona, characters, err := e.loadCast(ctx, story, settings, req.CharacterID)
	if err != nil {
		return nil, err
	}

	mctx := macros.Context{}
	if persona != nil {
		mctx.UserName = persona.Name
	}
	if len(characters) > 0 {
		mctx.CharName = characters[0].Name
	}

	world, err := e.activateLorebooks(ctx, story, preset, settings, characters, persona, mctx)
	if err != nil {
		return nil, err
	}

	systemPrompt := e.prompts.BuildSystemPrompt(e.systemInput(preset, settings, characters, persona, world), mctx)

	// The request carries a character id; the prompt wants the name.
	characterName := req.CharacterID
	for _, c := range characters {
		if c.ID == req.CharacterID {
			characterName = c.Name
			break
		}
	}

	userIn := e.userInput(req, story, preset, systemPrompt)
	userIn.CharacterName = characterName
	userPrompt, err := e.prompts.BuildUserPrompt(userIn, mctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidType, err)
	}

	provider, err := providers.FromPreset(preset)
	if err != nil {
		return nil, err
	}
	if err := provider.ValidateConfig(); err != nil {
		return nil, err
	}

	// Horde context windows depend on which workers are online, so the
	// user prompt is re-budgeted against live worker data.
	if horde, ok := provider.(*providers.HordeProvider); ok {
		userPrompt, err = e.rebudgetForHorde(ctx, horde, preset, userIn, systemPrompt, mctx)
		if err != nil {
			return nil, err
		}
	}

	// Snapshot before generation so undo can restore the pre-write state.
	if err := e.stores.History.SaveToHistory(ctx, story.ID, story.Content); err != nil {
		return nil, fmt.Errorf("save history snapshot: %w", err)
	}

	gen := preset.GenerationSettings
	e.logger.Info("engine.prepared",
		"story_id", story.ID,
		"type", req.Type,
		"provider", provider.Name(),
		"system_tokens", prompt.EstimateTokens(systemPrompt),
		"user_tokens", prompt.EstimateTokens(userPrompt))

	return &Generation{
		Provider: provider,
		StoryID:  story.ID,
		Request: providers.Request{
			SystemPrompt:     systemPrompt,
			UserPrompt:       userPrompt,
			Model:            preset.APIConfig.Model,
			MaxTokens:        gen.MaxTokens,
			Temperature:      gen.Temperature,
			TopP:             gen.TopP,
			TopK:             gen.TopK,
			FrequencyPenalty: gen.FrequencyPenalty,
			PresencePenalty:  gen.PresencePenalty,
			StopSequences:    gen.StopSequences,
		},
	}, nil
}

// Stream runs the prepared generation, forwarding provider chunks.
func (e *Engine) Stream(ctx context.Context, gen *Generation, onChunk func(providers.Chunk)) error {
	ctx, span := e.tracer.Start(ctx, "engine.stream",
		trace.WithAttributes(
			attribute.String("provider", gen.Provider.Name()),
			attribute.String("story.id", gen.StoryID)))
	defer span.End()

	if err := gen.Provider.GenerateStream(ctx, gen.Request, onChunk); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

func (e *Engine) loadPreset(ctx context.Context, story *store.Story, settings *store.Settings) (*store.Preset, error) {
	presetID := story.ConfigPresetID
	if presetID == nil {
		presetID = settings.DefaultPresetID
	}
	if presetID == nil {
		return nil, ErrNoPreset
	}
	preset, err := e.stores.Presets.Get(ctx, *presetID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNoPreset
	}
	if err != nil {
		return nil, fmt.Errorf("load preset: %w", err)
	}
	return preset, nil
}

// loadCast returns the persona (may be nil) and the story's non-persona
// characters. When the request names a focus character it is moved to the
// front so {{char}} resolves to it.
func (e *Engine) loadCast(ctx context.Context, story *store.Story, settings *store.Settings, focusID string) (*store.Character, []store.Character, error) {
	personaID := story.PersonaCharacterID
	if personaID == nil {
		personaID = settings.DefaultPersonaID
	}

	var persona *store.Character
	if personaID != nil {
		p, err := e.stores.Characters.Get(ctx, *personaID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, nil, fmt.Errorf("load persona: %w", err)
		}
		persona = p
	}

	all, err := e.stores.Stories.Characters(ctx, story.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("load story characters: %w", err)
	}

	characters := make([]store.Character, 0, len(all))
	for _, c := range all {
		if persona != nil && c.ID == persona.ID {
			continue
		}
		if c.ID == focusID && len(characters) > 0 {
			characters = append([]store.Character{c}, characters...)
			continue
		}
		characters = append(characters, c)
	}
	return persona, characters, nil
}

// activateLorebooks merges the story's lorebooks with any lorebook linked
// from a character card and runs activation over the story tail.
func (e *Engine) activateLorebooks(ctx context.Context, story *store.Story, preset *store.Preset, settings *store.Settings, characters []store.Character, persona *store.Character, mctx macros.Context) ([]prompt.WorldEntry, error) {
	books, err := e.stores.Stories.Lorebooks(ctx, story.ID)
	if err != nil {
		return nil, fmt.Errorf("load lorebooks: %w", err)
	}

	seen := make(map[string]bool, len(books))
	for _, b := range books {
		seen[b.ID] = true
	}

	cast := characters
	if persona != nil {
		cast = append(append([]store.Character{}, characters...), *persona)
	}
	for _, c := range cast {
		id, _ := c.Data.Extensions["ursceal_lorebook_id"].(string)
		if id == "" || seen[id] {
			continue
		}
		lb, err := e.stores.Lorebooks.Get(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load character lorebook: %w", err)
		}
		books = append(books, *lb)
		seen[id] = true
	}
	if len(books) == 0 {
		return nil, nil
	}

	cfg := lorebook.Settings{
		ScanDepth:       preset.LorebookSettings.ScanDepth,
		TokenBudget:     preset.LorebookSettings.TokenBudget,
		RecursionDepth:  preset.LorebookSettings.RecursionDepth,
		EnableRecursion: preset.LorebookSettings.EnableRecursion,
	}
	if cfg.ScanDepth <= 0 {
		cfg.ScanDepth = settings.LorebookScanDepth
	}
	if cfg.TokenBudget <= 0 {
		cfg.TokenBudget = settings.LorebookTokenBudget
	}
	if cfg.RecursionDepth <= 0 {
		cfg.RecursionDepth = settings.LorebookRecursionDepth
		cfg.EnableRecursion = settings.LorebookEnableRecursion
	}

	activations := e.books.Activate(books, story.Content, cfg, mctx, settings.FilterAsterisks)

	world := make([]prompt.WorldEntry, 0, len(activations))
	for _, a := range activations {
		world = append(world, prompt.WorldEntry{Content: a.Content, Comment: a.Comment})
	}
	return world, nil
}

func (e *Engine) systemInput(preset *store.Preset, settings *store.Settings, characters []store.Character, persona *store.Character, world []prompt.WorldEntry) prompt.SystemInput {
	profiles := make([]prompt.CharacterProfile, 0, len(characters))
	for _, c := range characters {
		profiles = append(profiles, prompt.CharacterProfile{
			Name:             c.Name,
			Description:      c.Data.Description,
			Personality:      c.Data.Personality,
			Scenario:         c.Data.Scenario,
			DialogueExamples: c.Data.MesExample,
		})
	}

	in := prompt.SystemInput{
		Characters:              profiles,
		World:                   world,
		IncludeDialogueExamples: preset.GenerationSettings.IncludeDialogueExamples && settings.IncludeDialogueExamples,
		ShowComments:            settings.ShowPrompt,
		ThirdPerson:             settings.ThirdPerson,
		FilterAsterisks:         settings.FilterAsterisks,
		Template:                preset.PromptTemplates.SystemPrompt,
	}
	if persona != nil {
		style, _ := persona.Data.Extensions["writing_style"].(string)
		in.Persona = &prompt.Persona{
			Name:         persona.Name,
			Description:  persona.Data.Description,
			WritingStyle: style,
		}
	}
	return in
}

func (e *Engine) userInput(req GenerateRequest, story *store.Story, preset *store.Preset, systemPrompt string) prompt.UserInput {
	in := prompt.UserInput{
		Type:                req.Type,
		StoryContent:        story.Content,
		CustomInstruction:   req.CustomPrompt,
		MaxContextTokens:    preset.GenerationSettings.MaxContextTokens,
		MaxGenerationTokens: preset.GenerationSettings.MaxTokens,
		SystemPromptTokens:  prompt.EstimateTokens(systemPrompt),
	}
	switch req.Type {
	case prompt.TypeContinue:
		in.Template = preset.PromptTemplates.Continue
	case prompt.TypeCharacter:
		in.Template = preset.PromptTemplates.Character
	case prompt.TypeCustom:
		in.Template = preset.PromptTemplates.Instruction
	case prompt.TypeRewrite:
		in.Template = preset.PromptTemplates.Rewrite
	}
	return in
}

// rebudgetForHorde rebuilds the user prompt against the context limit the
// online workers can actually serve.
func (e *Engine) rebudgetForHorde(ctx context.Context, horde *providers.HordeProvider, preset *store.Preset, in prompt.UserInput, systemPrompt string, mctx macros.Context) (string, error) {
	models := preset.APIConfig.Models
	if len(models) == 0 {
		available, err := horde.GetAvailableModels(ctx)
		if err != nil {
			return "", err
		}
		models = providers.AutoSelectModels(available)
	}

	contextLen, maxChars, err := horde.CalculateDynamicContextLimit(ctx, models, preset.GenerationSettings.MaxTokens)
	if err != nil {
		return "", err
	}
	horde.SetMaxContextLength(contextLen)

	// maxChars already accounts for the reply length and safety margin, so
	// feed the builder a context size that cancels its own subtractions.
	in.MaxContextTokens = maxChars/prompt.CharsPerToken + in.MaxGenerationTokens +
		prompt.EstimateTokens(systemPrompt) + 100

	e.logger.Info("engine.horde_rebudget",
		"models", len(models), "context_length", contextLen, "max_chars", maxChars)

	userPrompt, err := e.prompts.BuildUserPrompt(in, mctx)
	if err != nil {
		return "", err
	}
	return userPrompt, nil
}
