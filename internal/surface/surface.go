// Package surface is the typed boundary between the detection engine and the
// remote UI. Reads return structured snapshots decoded from one remote
// evaluation; every selection and scoring rule lives here as ordinary Go code
// rather than inside remote script strings.
package surface

import "context"

// Button is one clickable affordance visible on the panel.
type Button struct {
	Label string `json:"label"`
	// InMenu marks buttons that only become clickable after expanding the
	// secondary options menu.
	InMenu bool `json:"inMenu"`
}

// Dialog is a modal or inline prompt with a title, body and buttons.
type Dialog struct {
	Kind    string   `json:"kind"` // "approval", "plan", "error"
	Title   string   `json:"title"`
	Body    string   `json:"body"`
	Buttons []Button `json:"buttons"`
}

// TextBlock is one candidate chunk of extracted response text.
type TextBlock struct {
	// Container names the DOM region the text came from.
	Container string `json:"container"`
	// Index increases in document order; higher means more recent.
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// Observer exposes everything the detectors and the response monitor read or
// touch on the remote surface.
type Observer interface {
	Dialogs(ctx context.Context) ([]Dialog, error)
	Buttons(ctx context.Context) ([]Button, error)
	ResponseCandidates(ctx context.Context) ([]TextBlock, error)
	ProcessLog(ctx context.Context) ([]string, error)
	LatestUserMessage(ctx context.Context) (string, error)
	IsGenerating(ctx context.Context) (bool, error)
	QuotaExhausted(ctx context.Context) (bool, error)

	// ClickButton finds a visible button by normalized label and clicks it.
	ClickButton(ctx context.Context, label string) (bool, error)
	// ExpandMoreOptions opens the secondary options menu if present.
	ExpandMoreOptions(ctx context.Context) (bool, error)
	// ClickStop presses the cancel-generation affordance.
	ClickStop(ctx context.Context) (bool, error)
	// InsertPrompt types text into the assistant input and submits it.
	InsertPrompt(ctx context.Context, text string) error
}
