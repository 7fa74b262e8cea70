// Package textclass separates user-facing response text from transient UI
// chrome and tool-activity noise. Everything here is pure string logic.
package textclass

import (
	"regexp"
	"strings"
)

// Bare status phrases the panel flashes while the assistant works. A bare
// verb is chrome; verb plus object is an activity-log line.
var chromePhrases = map[string]struct{}{
	"analyzed":    {},
	"analyzing":   {},
	"thinking":    {},
	"generating":  {},
	"working":     {},
	"planning":    {},
	"searching":   {},
	"reading":     {},
	"editing":     {},
	"writing":     {},
	"running":     {},
	"executing":   {},
	"formatting":  {},
	"retrying":    {},
	"refactoring": {},
	"done":        {},
	"good response": {},
	"bad response":  {},
}

var (
	reDiffMarker   = regexp.MustCompile(`^\s*\d+\s*[-+±]\s*\d*\s*$`)
	reCharCount    = regexp.MustCompile(`^\(?\d+\s+chars?\)?$`)
	reEditorPos    = regexp.MustCompile(`^Ln\s+\d+,\s*Col\s+\d+$`)
	reJSONKeyValue = regexp.MustCompile(`^"[^"]+"\s*:\s*\S.*$`)
	reServerTool   = regexp.MustCompile(`^[\w.-]+\s*/\s*[\w.-]+$`)
	reBareBrace    = regexp.MustCompile(`^[{}\[\]]{1,2},?$`)
	reFeedbackRow  = regexp.MustCompile(`(?i)^good\b.{0,30}\bbad\b.{0,20}$`)
)

var toolTracePrefixes = []string{
	"called tool",
	"tool call",
	"tool result",
	"ran tool",
	"running tool",
	"mcp tool",
}

// IsToolCallLine recognizes tool-call/result trace lines. Their presence
// switches SplitOutputAndLogs to the last-paragraph-wins path.
func IsToolCallLine(line string) bool {
	t := strings.ToLower(strings.TrimSpace(line))
	for _, p := range toolTracePrefixes {
		if strings.HasPrefix(t, p) {
			return true
		}
	}
	return reServerTool.MatchString(strings.TrimSpace(line))
}

// IsChromeLine reports whether a line is transient UI chrome rather than
// content: a bare status phrase or a structural artifact of the panel.
func IsChromeLine(line string) bool {
	t := strings.TrimSpace(line)
	if t == "" {
		return false
	}

	key := strings.ToLower(strings.TrimRight(t, ".…"))
	if _, ok := chromePhrases[key]; ok {
		return true
	}

	lower := strings.ToLower(t)
	if strings.HasPrefix(lower, "full output written to") {
		return true
	}
	if IsToolCallLine(t) {
		return true
	}

	switch {
	case reDiffMarker.MatchString(t),
		reCharCount.MatchString(t),
		reEditorPos.MatchString(t),
		reBareBrace.MatchString(t),
		reJSONKeyValue.MatchString(t),
		reFeedbackRow.MatchString(t):
		return true
	}
	return false
}

var progressVerbs = map[string]struct{}{
	"analyzed":   {},
	"analyzing":  {},
	"read":       {},
	"reading":    {},
	"searched":   {},
	"searching":  {},
	"edited":     {},
	"editing":    {},
	"ran":        {},
	"running":    {},
	"wrote":      {},
	"writing":    {},
	"created":    {},
	"creating":   {},
	"checked":    {},
	"checking":   {},
	"installed":  {},
	"installing": {},
	"executed":   {},
	"executing":  {},
	"generated":  {},
	"generating": {},
}

const maxActivityLineLen = 160

// IsActivityLogLine reports whether a line looks like a progress entry:
// a progress verb followed by what it acted on, within a bounded length.
func IsActivityLogLine(line string) bool {
	t := strings.TrimSpace(line)
	if t == "" || len(t) > maxActivityLineLen {
		return false
	}
	fields := strings.Fields(t)
	if len(fields) < 2 {
		return false
	}
	verb := strings.ToLower(strings.TrimRight(fields[0], ":…"))
	_, ok := progressVerbs[verb]
	return ok
}

type lineClass int

const (
	classBlank lineClass = iota
	classCode
	classChrome
	classOutput
)

// SplitOutputAndLogs divides raw extracted text into the user-facing answer
// and the activity/log stream.
//
// Without tool-call-shaped lines, each line routes by its own class. With
// them, the text is working notes: only the final contiguous run of
// output/code lines uninterrupted by a blank or chrome line is the answer,
// and everything earlier is logged.
func SplitOutputAndLogs(text string) (output, logs string) {
	lines := strings.Split(text, "\n")
	classes := make([]lineClass, len(lines))

	inFence := false
	hasToolCall := false
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			classes[i] = classCode
			inFence = !inFence
			continue
		}
		if inFence {
			classes[i] = classCode
			continue
		}
		if trimmed == "" {
			classes[i] = classBlank
			continue
		}
		if IsChromeLine(trimmed) || IsActivityLogLine(trimmed) {
			classes[i] = classChrome
			if IsToolCallLine(trimmed) {
				hasToolCall = true
			}
			continue
		}
		classes[i] = classOutput
	}

	if !hasToolCall {
		return splitSimple(lines, classes)
	}
	return splitLastParagraph(lines, classes)
}

func splitSimple(lines []string, classes []lineClass) (string, string) {
	var outLines, logLines []string
	for i, line := range lines {
		switch classes[i] {
		case classChrome:
			logLines = append(logLines, strings.TrimSpace(line))
		case classBlank:
			outLines = append(outLines, "")
		default:
			outLines = append(outLines, line)
		}
	}
	return finishText(outLines), finishText(logLines)
}

// splitLastParagraph keeps only the final uninterrupted run of output/code
// lines as the answer; all earlier content joins the logs.
func splitLastParagraph(lines []string, classes []lineClass) (string, string) {
	end := -1
	for i := len(lines) - 1; i >= 0; i-- {
		if classes[i] == classOutput || classes[i] == classCode {
			end = i
			break
		}
	}
	if end == -1 {
		return "", finishText(nonBlank(lines, classes, 0, len(lines)))
	}

	start := end
	for start > 0 && (classes[start-1] == classOutput || classes[start-1] == classCode) {
		start--
	}

	var outLines []string
	outLines = append(outLines, lines[start:end+1]...)
	logLines := nonBlank(lines, classes, 0, start)
	logLines = append(logLines, nonBlank(lines, classes, end+1, len(lines))...)
	return finishText(outLines), finishText(logLines)
}

func nonBlank(lines []string, classes []lineClass, from, to int) []string {
	var out []string
	for i := from; i < to; i++ {
		if classes[i] == classBlank {
			continue
		}
		out = append(out, strings.TrimSpace(lines[i]))
	}
	return out
}

// finishText collapses 3+ consecutive blank lines to 2 and trims the ends.
func finishText(lines []string) string {
	var kept []string
	blanks := 0
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			blanks++
			if blanks >= 3 {
				continue
			}
			kept = append(kept, "")
			continue
		}
		blanks = 0
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

// SanitizeActivityLines cleans an activity stream for display: blanks and
// chrome dropped, activity-log lines kept, duplicates removed in order.
func SanitizeActivityLines(text string) string {
	seen := make(map[string]struct{})
	var kept []string
	for _, line := range strings.Split(text, "\n") {
		t := strings.TrimSpace(line)
		if t == "" {
			continue
		}
		if IsChromeLine(t) && !IsActivityLogLine(t) {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		kept = append(kept, t)
	}
	return strings.Join(kept, "\n")
}
