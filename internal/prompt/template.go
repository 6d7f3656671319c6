package prompt

import (
	"fmt"
	"regexp"
	"strings"
)

// Render evaluates a small handlebars-like template against data. Supported
// forms: {{var}}, {{#if var}}...{{/if}}, {{#unless var}}...{{/unless}} and
// {{#each list}}...{{/each}} (with {{this}} bound inside the loop). Paths
// may use dots to reach into nested maps. Unknown variables render empty.
func Render(tmpl string, data map[string]any) string {
	return substituteVars(renderBlocks(tmpl, data), data)
}

var (
	blockOpenRe = regexp.MustCompile(`\{\{#(if|unless|each)\s+([a-zA-Z0-9_.]+)\}\}`)
	varRe       = regexp.MustCompile(`\{\{([a-zA-Z0-9_.]+)\}\}`)
)

func renderBlocks(tmpl string, data map[string]any) string {
	var out strings.Builder
	for {
		loc := blockOpenRe.FindStringSubmatchIndex(tmpl)
		if loc == nil {
			out.WriteString(tmpl)
			return out.String()
		}
		kind := tmpl[loc[2]:loc[3]]
		path := tmpl[loc[4]:loc[5]]
		out.WriteString(tmpl[:loc[0]])

		body, rest, ok := matchBlock(tmpl[loc[1]:], kind)
		if !ok {
			// Unterminated block; emit the opener literally and move on.
			out.WriteString(tmpl[loc[0]:loc[1]])
			tmpl = tmpl[loc[1]:]
			continue
		}

		value := lookup(data, path)
		switch kind {
		case "if":
			if truthy(value) {
				out.WriteString(Render(body, data))
			}
		case "unless":
			if !truthy(value) {
				out.WriteString(Render(body, data))
			}
		case "each":
			for _, item := range asList(value) {
				out.WriteString(Render(body, scopeFor(data, item)))
			}
		}
		tmpl = rest
	}
}

// matchBlock splits text into the block body and the remainder after the
// matching {{/kind}}, accounting for nested blocks of the same kind.
func matchBlock(text, kind string) (body, rest string, ok bool) {
	open := "{{#" + kind
	close := "{{/" + kind + "}}"
	depth := 1
	pos := 0
	for {
		nextOpen := strings.Index(text[pos:], open)
		nextClose := strings.Index(text[pos:], close)
		if nextClose < 0 {
			return "", "", false
		}
		if nextOpen >= 0 && nextOpen < nextClose {
			depth++
			pos += nextOpen + len(open)
			continue
		}
		depth--
		if depth == 0 {
			end := pos + nextClose
			return text[:end], text[end+len(close):], true
		}
		pos += nextClose + len(close)
	}
}

func substituteVars(tmpl string, data map[string]any) string {
	return varRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		path := varRe.FindStringSubmatch(m)[1]
		v := lookup(data, path)
		if v == nil {
			return ""
		}
		return fmt.Sprintf("%v", v)
	})
}

func lookup(data map[string]any, path string) any {
	parts := strings.Split(path, ".")
	var cur any = data
	for _, part := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = m[part]
		if !ok {
			return nil
		}
	}
	return cur
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case int:
		return x != 0
	case float64:
		return x != 0
	case []any:
		return len(x) > 0
	}
	return true
}

func asList(v any) []any {
	if list, ok := v.([]any); ok {
		return list
	}
	return nil
}

// scopeFor binds a loop item: map items are merged over the outer scope,
// everything else is reachable as {{this}}.
func scopeFor(outer map[string]any, item any) map[string]any {
	scope := make(map[string]any, len(outer)+2)
	for k, v := range outer {
		scope[k] = v
	}
	if m, ok := item.(map[string]any); ok {
		for k, v := range m {
			scope[k] = v
		}
	}
	scope["this"] = item
	return scope
}
