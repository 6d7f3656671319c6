package lorebook

import (
	"regexp"
	"strings"

	"github.com/amiantos/ursceal/internal/store"
)

func anyKeyMatches(keys []string, window string, entry *store.LorebookEntry) bool {
	for _, key := range keys {
		if keyMatches(key, window, entry) {
			return true
		}
	}
	return false
}

// keyMatches tests one key against the scan window honoring the entry's
// matching flags. Invalid regex keys never match.
func keyMatches(key, window string, entry *store.LorebookEntry) bool {
	key = strings.TrimSpace(key)
	if key == "" {
		return false
	}

	if entry.UseRegex {
		pattern := key
		if !entry.CaseSensitive {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false
		}
		return re.MatchString(window)
	}

	if entry.MatchWholeWords {
		pattern := `\b` + regexp.QuoteMeta(key) + `\b`
		if !entry.CaseSensitive {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false
		}
		return re.MatchString(window)
	}

	if entry.CaseSensitive {
		return strings.Contains(window, key)
	}
	return strings.Contains(strings.ToLower(window), strings.ToLower(key))
}
