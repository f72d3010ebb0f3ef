// Package normalizers tidies help text written as indented Go raw strings.
package normalizers

import "strings"

// Indentation prefixes every example line.
const Indentation = "  "

// LongDesc trims the whitespace around a long description.
func LongDesc(s string) string {
	return strings.TrimSpace(s)
}

// Examples trims s and re-indents each of its lines by Indentation, so
// examples line up however the source literal was indented.
func Examples(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = Indentation + strings.TrimSpace(line)
	}
	return strings.Join(lines, "\n")
}
