package textclass

import (
	"regexp"
	"strings"
)

var escapePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\x1b\[[<>?=]?[0-9;]*[A-Za-z@^` + "`" + `~{|}!]`), // CSI
	regexp.MustCompile(`\x1b\][^\x07\x1b]*(?:\x07|\x1b\\)`),             // OSC
	regexp.MustCompile(`\x1b[()][AB012]`),
}

// Scrub strips terminal escape sequences and other control junk that leaks
// into text extracted from embedded terminal widgets.
func Scrub(input string) string {
	for _, p := range escapePatterns {
		input = p.ReplaceAllString(input, "")
	}

	var b strings.Builder
	b.Grow(len(input))
	for _, r := range input {
		if r == '\n' || r == '\t' || r >= 32 && r != 127 {
			b.WriteRune(r)
		}
	}
	return b.String()
}
