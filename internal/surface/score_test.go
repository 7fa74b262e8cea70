package surface

import "testing"

func TestBestResponseText(t *testing.T) {
	tests := []struct {
		name   string
		blocks []TextBlock
		want   string
	}{
		{
			name: "response container beats conversation",
			blocks: []TextBlock{
				{Container: "chat-history", Index: 0, Text: "older turn"},
				{Container: "response-body", Index: 1, Text: "the answer"},
			},
			want: "the answer",
		},
		{
			name: "newest wins a container tie",
			blocks: []TextBlock{
				{Container: "markdown-view", Index: 0, Text: "first render"},
				{Container: "markdown-view", Index: 3, Text: "latest render"},
			},
			want: "latest render",
		},
		{
			name: "tool output never wins",
			blocks: []TextBlock{
				{Container: "tool-output-panel", Index: 5, Text: "$ go test ./..."},
				{Container: "message-row", Index: 1, Text: "spoken answer"},
			},
			want: "spoken answer",
		},
		{
			name: "feedback footer excluded regardless of container",
			blocks: []TextBlock{
				{Container: "response", Index: 2, Text: "Good response Bad response"},
				{Container: "conversation", Index: 0, Text: "real content"},
			},
			want: "real content",
		},
		{
			name: "transient status excluded",
			blocks: []TextBlock{
				{Container: "response", Index: 1, Text: "Thinking…"},
				{Container: "message", Index: 0, Text: "actual text"},
			},
			want: "actual text",
		},
		{
			name: "sentence starting with a status verb is kept",
			blocks: []TextBlock{
				{Container: "response", Index: 0, Text: "Thinking about it, the cache is stale."},
			},
			want: "Thinking about it, the cache is stale.",
		},
		{
			name: "blank blocks skipped",
			blocks: []TextBlock{
				{Container: "response", Index: 1, Text: "   "},
				{Container: "message", Index: 0, Text: "something"},
			},
			want: "something",
		},
		{
			name:   "no candidates",
			blocks: nil,
			want:   "",
		},
		{
			name: "only excluded candidates",
			blocks: []TextBlock{
				{Container: "status-bar", Index: 0, Text: "Generating"},
				{Container: "tool-output", Index: 1, Text: "stdout"},
			},
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BestResponseText(tt.blocks); got != tt.want {
				t.Errorf("BestResponseText = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNormalizeContainer(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"interactive-response-body", "response"},
		{"rendered-markdown", "markdown"},
		{"chat-message-row", "message"},
		{"chat-list", "conversation"},
		{"tool-invocation-output", "tool-output"},
		{"progress-indicator", "status"},
		{"something-else", "something-else"},
	}
	for _, tt := range tests {
		if got := normalizeContainer(tt.in); got != tt.want {
			t.Errorf("normalizeContainer(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
