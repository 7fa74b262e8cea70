package textclass

import (
	"strings"
	"testing"
)

func TestIsChromeLine(t *testing.T) {
	tests := []struct {
		name string
		line string
		want bool
	}{
		{"bare status verb", "Analyzing", true},
		{"bare verb with ellipsis", "Thinking…", true},
		{"bare verb with dots", "Generating...", true},
		{"past tense bare verb", "Analyzed", true},
		{"feedback row", "Good response  Bad response", true},
		{"editor position", "Ln 42, Col 7", true},
		{"diff marker", "3 + 1", true},
		{"char count", "(1204 chars)", true},
		{"bare char count", "87 chars", true},
		{"stray json key", `"model": "large"`, true},
		{"bare brace", "{", true},
		{"bare bracket pair", "},", true},
		{"tool trace", "Called tool read_file", true},
		{"server slash tool", "filesystem / read_file", true},
		{"truncation notice", "Full output written to /tmp/out.txt", true},
		{"verb with object is content-adjacent", "Analyzed the repository layout", false},
		{"plain sentence", "The fix is in the parser.", false},
		{"empty", "", false},
		{"sentence mentioning thinking", "Thinking about this differently helps.", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsChromeLine(tt.line); got != tt.want {
				t.Errorf("IsChromeLine(%q) = %v, want %v", tt.line, got, tt.want)
			}
		})
	}
}

func TestIsActivityLogLine(t *testing.T) {
	tests := []struct {
		name string
		line string
		want bool
	}{
		{"verb plus object", "Analyzed the codebase", true},
		{"reading a file", "Reading src/main.go", true},
		{"verb with colon", "Ran: go vet ./...", true},
		{"bare verb", "Analyzed", false},
		{"unknown verb", "Pondering the question", false},
		{"too long", "Edited " + strings.Repeat("x", 200), false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsActivityLogLine(tt.line); got != tt.want {
				t.Errorf("IsActivityLogLine(%q) = %v, want %v", tt.line, got, tt.want)
			}
		})
	}
}

func TestSplitOutputAndLogsSimple(t *testing.T) {
	text := strings.Join([]string{
		"Here is the summary.",
		"Analyzing",
		"",
		"The parser drops empty tokens.",
		"Ln 3, Col 9",
	}, "\n")

	output, logs := SplitOutputAndLogs(text)

	wantOutput := "Here is the summary.\n\nThe parser drops empty tokens."
	if output != wantOutput {
		t.Errorf("output = %q, want %q", output, wantOutput)
	}
	wantLogs := "Analyzing\nLn 3, Col 9"
	if logs != wantLogs {
		t.Errorf("logs = %q, want %q", logs, wantLogs)
	}
}

func TestSplitOutputAndLogsLastParagraph(t *testing.T) {
	text := strings.Join([]string{
		"Let me check the config first.",
		"Called tool read_file",
		"Reading internal/config/config.go",
		"",
		"Now the tests.",
		"Ran tool bash",
		"",
		"All done. The default timeout was zero.",
		"I raised it to ten seconds.",
		"",
		"Good response  Bad response",
	}, "\n")

	output, logs := SplitOutputAndLogs(text)

	wantOutput := "All done. The default timeout was zero.\nI raised it to ten seconds."
	if output != wantOutput {
		t.Errorf("output = %q, want %q", output, wantOutput)
	}
	for _, want := range []string{
		"Let me check the config first.",
		"Called tool read_file",
		"Now the tests.",
		"Good response  Bad response",
	} {
		if !strings.Contains(logs, want) {
			t.Errorf("logs missing %q; logs = %q", want, logs)
		}
	}
	if strings.Contains(logs, "All done") {
		t.Errorf("final paragraph leaked into logs: %q", logs)
	}
}

func TestSplitOutputAndLogsFenceProtected(t *testing.T) {
	text := strings.Join([]string{
		"Use this snippet:",
		"```",
		"Analyzing",
		"{",
		"```",
	}, "\n")

	output, logs := SplitOutputAndLogs(text)

	if !strings.Contains(output, "Analyzing") || !strings.Contains(output, "{") {
		t.Errorf("fenced lines reclassified, output = %q", output)
	}
	if logs != "" {
		t.Errorf("logs = %q, want empty", logs)
	}
}

func TestSplitOutputAndLogsAllChrome(t *testing.T) {
	text := strings.Join([]string{
		"Called tool bash",
		"Running go test",
		"Executing",
	}, "\n")

	output, logs := SplitOutputAndLogs(text)
	if output != "" {
		t.Errorf("output = %q, want empty", output)
	}
	if logs == "" {
		t.Error("logs empty, want the trace lines")
	}
}

func TestSplitOutputAndLogsCollapsesBlankRuns(t *testing.T) {
	text := "First.\n\n\n\n\nSecond."
	output, _ := SplitOutputAndLogs(text)
	if output != "First.\n\n\nSecond." && output != "First.\n\nSecond." {
		t.Errorf("blank run not collapsed: %q", output)
	}
}

func TestSanitizeActivityLines(t *testing.T) {
	text := strings.Join([]string{
		"Analyzed the codebase",
		"",
		"Thinking",
		"Analyzed the codebase",
		"Reading src/main.go",
	}, "\n")

	got := SanitizeActivityLines(text)
	want := "Analyzed the codebase\nReading src/main.go"
	if got != want {
		t.Errorf("SanitizeActivityLines = %q, want %q", got, want)
	}
}

func TestScrub(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"csi color", "\x1b[31mred\x1b[0m text", "red text"},
		{"osc title", "\x1b]0;title\x07after", "after"},
		{"control chars", "a\x00b\x08c", "abc"},
		{"keeps newline and tab", "a\n\tb", "a\n\tb"},
		{"plain", "untouched", "untouched"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Scrub(tt.input); got != tt.want {
				t.Errorf("Scrub(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
