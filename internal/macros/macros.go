// Package macros evaluates the {{...}} placeholder macros used throughout
// character cards, lorebook entries, and prompt templates.
package macros

import (
	"hash/fnv"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Context supplies the substitution names for {{user}} and {{char}}.
type Context struct {
	UserName string
	CharName string
}

func (c Context) user() string {
	if c.UserName == "" {
		return "User"
	}
	return c.UserName
}

func (c Context) char() string {
	if c.CharName == "" {
		return "Character"
	}
	return c.CharName
}

var macroRe = regexp.MustCompile(`\{\{([a-zA-Z_]+)(?::([^{}]*))?\}\}`)

// Processor evaluates macros. Now and Rand are injectable for tests;
// the zero value is not usable, call New.
type Processor struct {
	Now  func() time.Time
	Rand *rand.Rand
}

// New returns a Processor backed by the wall clock and a time-seeded PRNG.
func New() *Processor {
	return &Processor{
		Now:  time.Now,
		Rand: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// ReplacePlaceholders substitutes only {{user}}, {{char}} and {{character}}
// (case-insensitive). It runs before macro evaluation so persona and
// character names never get re-scanned as macros.
func ReplacePlaceholders(text string, ctx Context) string {
	return macroRe.ReplaceAllStringFunc(text, func(m string) string {
		name, _ := splitMacro(m)
		switch name {
		case "user":
			return ctx.user()
		case "char", "character":
			return ctx.char()
		}
		return m
	})
}

// Process evaluates all macros in a single left-to-right pass.
// Substituted text is never re-scanned, so a user name that happens to
// contain macro syntax stays literal. Unknown macros are left as-is.
func (p *Processor) Process(text string, ctx Context) string {
	return macroRe.ReplaceAllStringFunc(text, func(m string) string {
		name, arg := splitMacro(m)
		switch name {
		case "user":
			return ctx.user()
		case "char", "character":
			return ctx.char()
		case "random":
			return p.pickRandom(arg)
		case "pick":
			return pickSeeded(arg, ctx.char())
		case "roll":
			return p.roll(arg)
		case "date":
			return p.Now().Format("January 2, 2006")
		case "time":
			return p.Now().Format("3:04 PM")
		case "weekday":
			return p.Now().Format("Monday")
		case "isotime":
			return p.Now().Format("15:04:05")
		case "idle_duration":
			return "a moment"
		}
		return m
	})
}

func splitMacro(m string) (name, arg string) {
	inner := strings.TrimSuffix(strings.TrimPrefix(m, "{{"), "}}")
	name, arg, _ = strings.Cut(inner, ":")
	return strings.ToLower(name), arg
}

func (p *Processor) pickRandom(arg string) string {
	opts := splitOptions(arg)
	if len(opts) == 0 {
		return ""
	}
	return opts[p.Rand.Intn(len(opts))]
}

// pickSeeded picks deterministically: the same character name and option
// list always yield the same choice.
func pickSeeded(arg, charName string) string {
	opts := splitOptions(arg)
	if len(opts) == 0 {
		return ""
	}
	h := fnv.New64a()
	h.Write([]byte(charName))
	h.Write([]byte(arg))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))
	return opts[rng.Intn(len(opts))]
}

func splitOptions(arg string) []string {
	if strings.TrimSpace(arg) == "" {
		return nil
	}
	parts := strings.Split(arg, ",")
	out := make([]string, 0, len(parts))
	for _, s := range parts {
		out = append(out, strings.TrimSpace(s))
	}
	return out
}

// roll evaluates NdM dice notation ("2d6"). Malformed input is left literal.
func (p *Processor) roll(arg string) string {
	nStr, mStr, ok := strings.Cut(strings.ToLower(arg), "d")
	if !ok {
		return "{{roll:" + arg + "}}"
	}
	if nStr == "" {
		nStr = "1"
	}
	n, err1 := strconv.Atoi(strings.TrimSpace(nStr))
	m, err2 := strconv.Atoi(strings.TrimSpace(mStr))
	if err1 != nil || err2 != nil || n < 1 || m < 1 || n > 1000 {
		return "{{roll:" + arg + "}}"
	}
	sum := 0
	for i := 0; i < n; i++ {
		sum += p.Rand.Intn(m) + 1
	}
	return strconv.Itoa(sum)
}
