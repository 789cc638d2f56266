package reminder

import (
	"context"

	"github.com/basket/nudge/internal/bus"
)

// ModelRef names a provider/model pair to issue a prompt under.
type ModelRef struct {
	ProviderID string `json:"providerID"`
	ModelID    string `json:"modelID"`
}

// PromptRequest is a continuation prompt to inject into a session.
type PromptRequest struct {
	Text      string
	Agent     string
	Model     *ModelRef
	Synthetic bool
}

// PromptResult reports the outcome of an injection. Cancelled means the
// user dismissed the prompt; the injection itself succeeded.
type PromptResult struct {
	Cancelled bool
}

// Notice is a best-effort toast shown to the user.
type Notice struct {
	Title    string
	Message  string
	Severity string // "info" or "warning"
}

// TodoSource queries the current todo snapshot for a session.
type TodoSource interface {
	FetchTodos(ctx context.Context, sessionID string) ([]bus.Todo, error)
}

// PromptInjector delivers a synthetic prompt into a session.
type PromptInjector interface {
	SendPrompt(ctx context.Context, sessionID string, req PromptRequest) (PromptResult, error)
}

// NotificationSink shows a toast in the session's UI. Failures are ignored
// by callers.
type NotificationSink interface {
	ShowNotice(ctx context.Context, sessionID string, n Notice) error
}
