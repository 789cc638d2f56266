// Package host implements the agent-host collaborators: it streams session
// lifecycle events from the host's websocket endpoint onto the bus and
// exposes the todo-query, prompt-injection, and toast endpoints the
// reminder engine calls.
package host

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/basket/nudge/internal/bus"
	otelpkg "github.com/basket/nudge/internal/otel"
	"github.com/basket/nudge/internal/reminder"
	"github.com/basket/nudge/internal/shared"
)

const requestTimeout = 30 * time.Second

// Config holds the dependencies for the host client.
type Config struct {
	BaseURL string
	Token   string
	Bus     *bus.Bus
	Logger  *slog.Logger
	Metrics *otelpkg.Metrics // nil disables instrumentation
}

// Client talks to a single agent host. It implements reminder.TodoSource,
// reminder.PromptInjector, and reminder.NotificationSink.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
	bus     *bus.Bus
	logger  *slog.Logger
	metrics *otelpkg.Metrics
}

// NewClient creates a host client for the given config.
func NewClient(cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		httpc:   &http.Client{Timeout: requestTimeout},
		bus:     cfg.Bus,
		logger:  logger,
		metrics: cfg.Metrics,
	}
}

// envelope is a single event frame from the host's /event stream.
type envelope struct {
	Type       string          `json:"type"`
	Properties json.RawMessage `json:"properties"`
}

type sessionProps struct {
	SessionID string `json:"sessionID"`
}

type todoProps struct {
	SessionID string     `json:"sessionID"`
	Todos     []bus.Todo `json:"todos"`
}

type messageProps struct {
	SessionID  string `json:"sessionID"`
	Role       string `json:"role"`
	AgentID    string `json:"agent"`
	ProviderID string `json:"providerID"`
	ModelID    string `json:"modelID"`
}

// Run consumes the host event stream until ctx is cancelled, reconnecting
// with capped exponential backoff.
func (c *Client) Run(ctx context.Context) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return
		}
		err := c.stream(ctx)
		if ctx.Err() != nil {
			return
		}
		c.logger.Warn("host event stream disconnected, reconnecting", "error", err, "backoff", backoff)
		if c.metrics != nil {
			c.metrics.HostReconnects.Add(ctx, 1)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// stream opens one websocket connection and pumps events until it fails.
func (c *Client) stream(ctx context.Context) error {
	wsURL := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/event"
	opts := &websocket.DialOptions{}
	if c.token != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + c.token}}
	}
	conn, _, err := websocket.Dial(ctx, wsURL, opts)
	if err != nil {
		return fmt.Errorf("dial host event stream: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "shutting down")

	c.logger.Info("host event stream connected", "url", wsURL, "trace_id", shared.NewTraceID())

	for {
		var ev envelope
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			return fmt.Errorf("read event: %w", err)
		}
		c.publish(ev)
	}
}

// publish maps a host event envelope onto a bus topic. Unknown event types
// are ignored so host upgrades cannot break the daemon.
func (c *Client) publish(ev envelope) {
	switch ev.Type {
	case "session.idle":
		var p sessionProps
		if err := json.Unmarshal(ev.Properties, &p); err != nil || p.SessionID == "" {
			return
		}
		c.bus.Publish(bus.TopicSessionIdle, bus.SessionIdleEvent{SessionID: p.SessionID})
	case "session.deleted":
		var p sessionProps
		if err := json.Unmarshal(ev.Properties, &p); err != nil || p.SessionID == "" {
			return
		}
		c.bus.Publish(bus.TopicSessionDeleted, bus.SessionDeletedEvent{SessionID: p.SessionID})
	case "todo.updated":
		var p todoProps
		if err := json.Unmarshal(ev.Properties, &p); err != nil || p.SessionID == "" {
			return
		}
		c.bus.Publish(bus.TopicTodoUpdated, bus.TodoUpdatedEvent{SessionID: p.SessionID, Todos: p.Todos})
	case "message.updated":
		var p messageProps
		if err := json.Unmarshal(ev.Properties, &p); err != nil || p.SessionID == "" {
			return
		}
		c.bus.Publish(bus.TopicMessageUpdated, bus.MessageUpdatedEvent{
			SessionID:  p.SessionID,
			Role:       p.Role,
			AgentID:    p.AgentID,
			ProviderID: p.ProviderID,
			ModelID:    p.ModelID,
		})
	case "message.part.updated":
		var p messageProps
		if err := json.Unmarshal(ev.Properties, &p); err != nil || p.SessionID == "" {
			return
		}
		c.bus.Publish(bus.TopicMessagePartUpdated, bus.MessagePartUpdatedEvent{
			SessionID: p.SessionID,
			Role:      p.Role,
		})
	}
}

// FetchTodos implements reminder.TodoSource.
func (c *Client) FetchTodos(ctx context.Context, sessionID string) ([]bus.Todo, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/session/"+sessionID+"/todo", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch todos: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch todos: host returned %s", resp.Status)
	}
	var todos []bus.Todo
	if err := json.NewDecoder(resp.Body).Decode(&todos); err != nil {
		return nil, fmt.Errorf("decode todos: %w", err)
	}
	return todos, nil
}

type promptBody struct {
	Parts     []promptPart       `json:"parts"`
	Agent     string             `json:"agent,omitempty"`
	Model     *reminder.ModelRef `json:"model,omitempty"`
	Synthetic bool               `json:"synthetic"`
}

type promptPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type promptResponse struct {
	Cancelled bool `json:"cancelled"`
}

// SendPrompt implements reminder.PromptInjector.
func (c *Client) SendPrompt(ctx context.Context, sessionID string, pr reminder.PromptRequest) (reminder.PromptResult, error) {
	body := promptBody{
		Parts:     []promptPart{{Type: "text", Text: pr.Text}},
		Agent:     pr.Agent,
		Model:     pr.Model,
		Synthetic: pr.Synthetic,
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return reminder.PromptResult{}, fmt.Errorf("marshal prompt: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/session/"+sessionID+"/prompt_async", bytes.NewReader(raw))
	if err != nil {
		return reminder.PromptResult{}, err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return reminder.PromptResult{}, fmt.Errorf("send prompt: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return reminder.PromptResult{}, fmt.Errorf("send prompt: host returned %s", resp.Status)
	}
	var pres promptResponse
	// An empty body means delivered; only an explicit marker means cancelled.
	if err := json.NewDecoder(resp.Body).Decode(&pres); err != nil && err != io.EOF {
		return reminder.PromptResult{}, fmt.Errorf("decode prompt response: %w", err)
	}
	return reminder.PromptResult{Cancelled: pres.Cancelled}, nil
}

type toastBody struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Variant string `json:"variant"`
}

// ShowNotice implements reminder.NotificationSink. The toast endpoint is
// host-global; the session id only scopes the caller's intent.
func (c *Client) ShowNotice(ctx context.Context, sessionID string, n reminder.Notice) error {
	body := toastBody{Title: n.Title, Message: n.Message, Variant: n.Severity}
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal toast: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/tui/show-toast", bytes.NewReader(raw))
	if err != nil {
		return err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("show toast: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("show toast: host returned %s", resp.Status)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}
