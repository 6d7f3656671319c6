// Package prompt assembles the system and user prompts sent to providers,
// enforcing a character-based token budget on the story context.
package prompt

import (
	"fmt"
	"strings"

	"github.com/amiantos/ursceal/internal/macros"
)

// Generation types accepted by the builder and the generate endpoint.
const (
	TypeContinue  = "continue"
	TypeCharacter = "character"
	TypeCustom    = "custom"
	TypeRewrite   = "rewrite-third-person"
)

const (
	preamble = "You are a creative writing assistant helping to write a novel-style story.\n\n"

	instructionsSection = "\n=== INSTRUCTIONS ===\n" +
		"Write in a novel style with flowing narrative prose. " +
		"Use descriptive language for actions, settings, and emotions. " +
		"Format dialogue with quotation marks and natural paragraph breaks.\n"

	perspectiveSection = "\nWrite in third-person perspective using past tense. " +
		"Refer to characters by name or pronoun and never narrate in first person.\n"

	noAsterisksSection = "\nDo not use asterisks for actions or emphasis; express everything in plain prose.\n"

	continueInstruction = "Continue the story naturally from where it left off. " +
		"Write the next 2-3 paragraphs maximum, maintaining the established tone and style, " +
		"writing less if it sets up a good opportunity for other characters."

	rewriteInstruction = "Rewrite the story so far in third-person past tense. " +
		"Remove all asterisk-style actions and convert any first-person narration to third person. " +
		"Preserve the plot, dialogue, and tone of the original."

	defaultCustomInstruction = "Continue the story."

	// safetyMarginTokens is held back from the context window so prompt
	// overhead never pushes the request over the provider limit.
	safetyMarginTokens = 100

	defaultContextTokens = 8192
)

// CharacterProfile carries the card fields the system prompt renders.
type CharacterProfile struct {
	Name             string
	Description      string
	Personality      string
	Scenario         string
	DialogueExamples string
}

// Persona is the user-controlled character, if one is set on the story.
type Persona struct {
	Name         string
	Description  string
	WritingStyle string
}

// WorldEntry is one activated lorebook record ready for injection.
type WorldEntry struct {
	Content string
	Comment string
}

// SystemInput collects everything the system prompt depends on. When
// Template is non-empty it replaces the built-in sections entirely.
type SystemInput struct {
	Characters              []CharacterProfile
	World                   []WorldEntry
	Persona                 *Persona
	IncludeDialogueExamples bool
	ShowComments            bool
	ThirdPerson             bool
	FilterAsterisks         bool
	Template                string
}

// UserInput collects the pieces of the user prompt and its budget.
type UserInput struct {
	Type                string
	StoryContent        string
	CharacterName       string
	CustomInstruction   string
	Template            string
	MaxContextTokens    int
	MaxGenerationTokens int
	SystemPromptTokens  int
}

// Builder renders prompts. The macro processor handles {{user}}, {{char}}
// and the utility macros embedded in card text.
type Builder struct {
	Macros *macros.Processor
}

func NewBuilder() *Builder {
	return &Builder{Macros: macros.New()}
}

// BuildSystemPrompt assembles the fixed-section system prompt, or renders
// the preset's template override when one is provided.
func (b *Builder) BuildSystemPrompt(in SystemInput, mctx macros.Context) string {
	if in.Template != "" {
		return Render(in.Template, b.templateData(in, mctx))
	}

	var sb strings.Builder
	sb.WriteString(preamble)

	switch {
	case len(in.Characters) == 1:
		writeSingleProfile(&sb, in.Characters[0], in.IncludeDialogueExamples)
	case len(in.Characters) > 1:
		writeMultiProfiles(&sb, in.Characters)
	}

	if len(in.World) > 0 {
		sb.WriteString("\n=== WORLD INFORMATION ===\n\n")
		for i, entry := range in.World {
			if i > 0 {
				sb.WriteString("\n\n")
			}
			if in.ShowComments && entry.Comment != "" {
				sb.WriteString("<!-- " + entry.Comment + " -->\n")
			}
			sb.WriteString(entry.Content)
		}
		sb.WriteString("\n")
	}

	if in.Persona != nil {
		sb.WriteString("\n=== USER CHARACTER (PERSONA) ===\n")
		sb.WriteString("Name: " + in.Persona.Name + "\n")
		if in.Persona.Description != "" {
			sb.WriteString("Description: " + in.Persona.Description + "\n")
		}
		if in.Persona.WritingStyle != "" {
			sb.WriteString("Writing Style: " + in.Persona.WritingStyle + "\n")
		}
	}

	sb.WriteString(instructionsSection)
	if in.ThirdPerson {
		sb.WriteString(perspectiveSection)
	}
	if in.FilterAsterisks {
		sb.WriteString(noAsterisksSection)
	}

	out := b.Macros.Process(sb.String(), mctx)
	if in.FilterAsterisks {
		out = stripAsterisks(out)
	}
	return out
}

func writeSingleProfile(sb *strings.Builder, c CharacterProfile, withExamples bool) {
	sb.WriteString("=== CHARACTER PROFILE ===\n")
	sb.WriteString("Name: " + c.Name + "\n")
	sb.WriteString("Description: " + c.Description + "\n")
	sb.WriteString("Personality: " + c.Personality + "\n")
	if c.Scenario != "" {
		sb.WriteString("Current Scenario: " + c.Scenario + "\n")
	}
	if withExamples && c.DialogueExamples != "" {
		sb.WriteString("\nDIALOGUE STYLE EXAMPLES:\n" + c.DialogueExamples + "\n")
	}
}

// writeMultiProfiles omits per-character scenarios, which would conflict
// when several characters share a story.
func writeMultiProfiles(sb *strings.Builder, chars []CharacterProfile) {
	sb.WriteString("=== CHARACTER PROFILES ===\n\n")
	for i, c := range chars {
		if i > 0 {
			sb.WriteString("\n---\n\n")
		}
		fmt.Fprintf(sb, "Character %d: %s\n", i+1, c.Name)
		sb.WriteString("Description: " + c.Description + "\n")
		sb.WriteString("Personality: " + c.Personality + "\n")
	}
}

// BuildUserPrompt renders the story context plus the per-type instruction.
// For rewrites the story is embedded in the instruction rather than framed
// as prior context.
func (b *Builder) BuildUserPrompt(in UserInput, mctx macros.Context) (string, error) {
	instruction, err := b.instructionFor(in, mctx)
	if err != nil {
		return "", err
	}

	maxContext := in.MaxContextTokens
	if maxContext <= 0 {
		maxContext = defaultContextTokens
	}
	budget := maxContext - in.SystemPromptTokens - EstimateTokens(instruction) -
		in.MaxGenerationTokens - safetyMarginTokens
	tail := truncateTail(in.StoryContent, budget*CharsPerToken)

	if in.Type == TypeRewrite {
		if tail == "" {
			return instruction, nil
		}
		return instruction + "\n\n" + tail, nil
	}

	if tail == "" {
		return instruction, nil
	}
	return "Here is the current story so far:\n\n" + tail + "\n\n---\n\n" + instruction, nil
}

func (b *Builder) instructionFor(in UserInput, mctx macros.Context) (string, error) {
	var instruction string
	switch in.Type {
	case TypeContinue:
		instruction = continueInstruction
	case TypeCharacter:
		instruction = fmt.Sprintf(
			"Write the next part of the story from %s's perspective. "+
				"Focus on their thoughts, actions, and dialogue. Write 2-3 paragraphs maximum.",
			in.CharacterName)
	case TypeCustom:
		instruction = in.CustomInstruction
		if instruction == "" {
			instruction = defaultCustomInstruction
		}
	case TypeRewrite:
		instruction = rewriteInstruction
	default:
		return "", fmt.Errorf("unknown generation type %q", in.Type)
	}

	if in.Template != "" {
		instruction = Render(in.Template, map[string]any{
			"charName":    in.CharacterName,
			"instruction": instruction,
		})
	}
	return b.Macros.Process(instruction, mctx), nil
}

// truncateTail keeps at most maxChars from the end of s, marking the cut
// with a leading ellipsis.
func truncateTail(s string, maxChars int) string {
	if maxChars <= 0 {
		return ""
	}
	if len(s) <= maxChars {
		return s
	}
	return "..." + s[len(s)-maxChars:]
}

func stripAsterisks(s string) string {
	return strings.ReplaceAll(s, "*", "")
}

func (b *Builder) templateData(in SystemInput, mctx macros.Context) map[string]any {
	chars := make([]any, 0, len(in.Characters))
	for _, c := range in.Characters {
		chars = append(chars, map[string]any{
			"name":        c.Name,
			"description": c.Description,
			"personality": c.Personality,
			"scenario":    c.Scenario,
		})
	}
	world := make([]any, 0, len(in.World))
	for _, w := range in.World {
		world = append(world, w.Content)
	}
	data := map[string]any{
		"user":       mctx.UserName,
		"char":       mctx.CharName,
		"characters": chars,
		"worldInfo":  world,
	}
	if in.Persona != nil {
		data["persona"] = map[string]any{
			"name":         in.Persona.Name,
			"description":  in.Persona.Description,
			"writingStyle": in.Persona.WritingStyle,
		}
	}
	return data
}
