package surface

import "strings"

// Container scores for response extraction. Preferred containers hold the
// assistant's rendered answer; unknown containers rank below all of them.
var containerScores = map[string]int{
	"response":      30,
	"markdown":      20,
	"message":       10,
	"conversation":  5,
	"tool-output":   -1,
	"feedback":      -1,
	"status":        -1,
	"input-preview": -1,
}

// BestResponseText picks the best candidate block: highest container score
// wins, most recent instance breaks ties. Tool output, feedback footers and
// transient status text never win.
func BestResponseText(blocks []TextBlock) string {
	best := -1
	bestScore := 0
	for i, b := range blocks {
		text := strings.TrimSpace(b.Text)
		if text == "" {
			continue
		}
		if isExcludedBlock(b.Container, text) {
			continue
		}
		score := containerScores[normalizeContainer(b.Container)]
		if score < 0 {
			continue
		}
		if best == -1 || score > bestScore || (score == bestScore && b.Index >= blocks[best].Index) {
			best = i
			bestScore = score
		}
	}
	if best == -1 {
		return ""
	}
	return strings.TrimSpace(blocks[best].Text)
}

func normalizeContainer(container string) string {
	c := strings.ToLower(container)
	switch {
	case strings.Contains(c, "tool"):
		return "tool-output"
	case strings.Contains(c, "feedback"):
		return "feedback"
	case strings.Contains(c, "status"), strings.Contains(c, "progress"):
		return "status"
	case strings.Contains(c, "response"):
		return "response"
	case strings.Contains(c, "markdown"):
		return "markdown"
	case strings.Contains(c, "message"):
		return "message"
	case strings.Contains(c, "conversation"), strings.Contains(c, "chat"):
		return "conversation"
	}
	return c
}

func isExcludedBlock(container, text string) bool {
	score, known := containerScores[normalizeContainer(container)]
	if known && score < 0 {
		return true
	}
	if isFeedbackFooter(text) {
		return true
	}
	if isTransientStatus(text) {
		return true
	}
	return false
}

// isFeedbackFooter recognizes the thumbs-up/down strip rendered under a
// finished response.
func isFeedbackFooter(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	if len(t) > 60 {
		return false
	}
	return strings.Contains(t, "good") && strings.Contains(t, "bad") ||
		t == "was this response helpful?" ||
		strings.HasPrefix(t, "rate this response")
}

var transientPhrases = []string{
	"thinking", "generating", "working", "analyzing", "planning",
	"loading", "connecting", "one moment",
}

// isTransientStatus matches short spinner-adjacent phrases that flash while
// the assistant works. Only bare phrases count; a sentence that merely starts
// with one of these verbs is real text.
func isTransientStatus(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	t = strings.TrimRight(t, ".…")
	if len(t) > 24 {
		return false
	}
	for _, p := range transientPhrases {
		if t == p || t == p+"…" {
			return true
		}
	}
	return false
}
