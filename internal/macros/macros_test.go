package macros

import (
	"math/rand"
	"strconv"
	"strings"
	"testing"
	"time"
)

func fixedProcessor() *Processor {
	return &Processor{
		Now:  func() time.Time { return time.Date(2024, time.March, 9, 14, 30, 5, 0, time.UTC) },
		Rand: rand.New(rand.NewSource(1)),
	}
}

func TestReplacePlaceholders(t *testing.T) {
	ctx := Context{UserName: "Anna", CharName: "Morgan"}
	got := ReplacePlaceholders("{{user}} meets {{char}} and {{Character}}.", ctx)
	want := "Anna meets Morgan and Morgan."
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestReplacePlaceholders_Defaults(t *testing.T) {
	got := ReplacePlaceholders("{{user}} and {{char}}", Context{})
	if got != "User and Character" {
		t.Errorf("got %q", got)
	}
}

func TestProcess_UnknownMacroPreserved(t *testing.T) {
	p := fixedProcessor()
	in := "keep {{frobnicate}} and {{widget:a,b}}"
	if got := p.Process(in, Context{}); got != in {
		t.Errorf("got %q, want unchanged", got)
	}
}

func TestProcess_PlaceholdersBeforeMacros(t *testing.T) {
	// A user name containing macro syntax must not be evaluated.
	p := fixedProcessor()
	ctx := Context{UserName: "{{random:x,y}}"}
	got := p.Process("hello {{user}}", ctx)
	if got != "hello {{random:x,y}}" {
		t.Errorf("substituted text was re-scanned: %q", got)
	}
}

func TestProcess_DateTimeMacros(t *testing.T) {
	p := fixedProcessor()
	cases := map[string]string{
		"{{date}}":    "March 9, 2024",
		"{{time}}":    "2:30 PM",
		"{{weekday}}": "Saturday",
		"{{isotime}}": "14:30:05",
	}
	for in, want := range cases {
		if got := p.Process(in, Context{}); got != want {
			t.Errorf("Process(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestProcess_Random(t *testing.T) {
	p := fixedProcessor()
	got := p.Process("{{random:alpha, beta, gamma}}", Context{})
	if got != "alpha" && got != "beta" && got != "gamma" {
		t.Errorf("got %q, want one of the options", got)
	}
}

func TestProcess_PickDeterministic(t *testing.T) {
	a := New().Process("{{pick:red,green,blue}}", Context{CharName: "Morgan"})
	b := New().Process("{{pick:red,green,blue}}", Context{CharName: "Morgan"})
	if a != b {
		t.Errorf("pick not deterministic: %q vs %q", a, b)
	}
	if a != "red" && a != "green" && a != "blue" {
		t.Errorf("got %q, want one of the options", a)
	}
}

func TestProcess_Roll(t *testing.T) {
	p := fixedProcessor()
	got := p.Process("{{roll:3d6}}", Context{})
	n, err := strconv.Atoi(got)
	if err != nil {
		t.Fatalf("roll output not numeric: %q", got)
	}
	if n < 3 || n > 18 {
		t.Errorf("3d6 = %d, out of range", n)
	}
}

func TestProcess_RollMalformed(t *testing.T) {
	p := fixedProcessor()
	for _, in := range []string{"{{roll:banana}}", "{{roll:0d6}}", "{{roll:2dx}}"} {
		if got := p.Process(in, Context{}); got != in {
			t.Errorf("Process(%q) = %q, want literal", in, got)
		}
	}
}

func TestProcess_IdleDuration(t *testing.T) {
	p := fixedProcessor()
	if got := p.Process("{{idle_duration}}", Context{}); got != "a moment" {
		t.Errorf("got %q", got)
	}
}

func TestProcess_CaseInsensitiveNames(t *testing.T) {
	p := fixedProcessor()
	got := p.Process("{{ROLL:1d1}} {{Date}}", Context{})
	if !strings.HasPrefix(got, "1 ") {
		t.Errorf("got %q", got)
	}
}
