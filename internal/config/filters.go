package config

import "strings"

// ParseFilterList splits a newline-separated filter block into individual
// filter expressions. Blank lines and '#' comment lines are ignored;
// surrounding whitespace is trimmed.
func ParseFilterList(s string) []string {
	if s == "" {
		return nil
	}

	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out
}
