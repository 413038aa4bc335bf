package data

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	objectRe = regexp.MustCompile(`\{[^{}]*\}`)
	urlRe    = regexp.MustCompile(`https?://[^\s"'<>\\` + "`" + `]+`)
)

// JSONObjects parses s as a JSON object, or failing that returns every flat
// object embedded in it that parses.
func JSONObjects(s string) []map[string]any {
	s = strings.TrimSpace(s)
	var whole map[string]any
	if err := json.Unmarshal([]byte(s), &whole); err == nil {
		return []map[string]any{whole}
	}
	var out []map[string]any
	for _, match := range objectRe.FindAllString(s, -1) {
		var obj map[string]any
		if err := json.Unmarshal([]byte(match), &obj); err == nil {
			out = append(out, obj)
		}
	}
	return out
}

// URLs returns every http(s) URL in s in order of appearance, with trailing
// punctuation stripped.
func URLs(s string) []string {
	matches := urlRe.FindAllString(s, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		m = strings.TrimRight(m, ".,;:!?)]}")
		if m != "" {
			out = append(out, m)
		}
	}
	return out
}
