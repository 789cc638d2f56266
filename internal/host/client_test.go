package host

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/basket/nudge/internal/bus"
	"github.com/basket/nudge/internal/reminder"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *bus.Bus, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	b := bus.New()
	c := NewClient(Config{BaseURL: srv.URL, Token: "test-token", Bus: b})
	return c, b, srv
}

func TestFetchTodos(t *testing.T) {
	var gotAuth string
	c, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/session/s1/todo" {
			t.Errorf("path = %q", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode([]bus.Todo{
			{ID: "a", Content: "write tests", Status: "pending"},
			{ID: "b", Content: "ship it", Status: "completed"},
		})
	}))

	todos, err := c.FetchTodos(context.Background(), "s1")
	if err != nil {
		t.Fatalf("fetch todos: %v", err)
	}
	if len(todos) != 2 {
		t.Fatalf("len(todos) = %d, want 2", len(todos))
	}
	if todos[0].ID != "a" || todos[0].Status != "pending" {
		t.Fatalf("unexpected first todo: %+v", todos[0])
	}
	if gotAuth != "Bearer test-token" {
		t.Fatalf("auth header = %q", gotAuth)
	}
}

func TestFetchTodos_HostError(t *testing.T) {
	c, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))

	if _, err := c.FetchTodos(context.Background(), "s1"); err == nil {
		t.Fatal("expected error on 500")
	}
}

func TestSendPrompt(t *testing.T) {
	var gotBody promptBody
	c, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/session/s1/prompt_async" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))

	res, err := c.SendPrompt(context.Background(), "s1", reminder.PromptRequest{
		Text:      "keep going",
		Agent:     "build",
		Model:     &reminder.ModelRef{ProviderID: "anthropic", ModelID: "claude"},
		Synthetic: true,
	})
	if err != nil {
		t.Fatalf("send prompt: %v", err)
	}
	if res.Cancelled {
		t.Fatal("expected not cancelled on empty body")
	}
	if len(gotBody.Parts) != 1 || gotBody.Parts[0].Text != "keep going" {
		t.Fatalf("unexpected parts: %+v", gotBody.Parts)
	}
	if !gotBody.Synthetic || gotBody.Agent != "build" {
		t.Fatalf("unexpected body: %+v", gotBody)
	}
	if gotBody.Model == nil || gotBody.Model.ProviderID != "anthropic" {
		t.Fatalf("model not carried: %+v", gotBody.Model)
	}
}

func TestSendPrompt_Cancelled(t *testing.T) {
	c, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(promptResponse{Cancelled: true})
	}))

	res, err := c.SendPrompt(context.Background(), "s1", reminder.PromptRequest{Text: "x"})
	if err != nil {
		t.Fatalf("send prompt: %v", err)
	}
	if !res.Cancelled {
		t.Fatal("expected cancelled result")
	}
}

func TestShowNotice(t *testing.T) {
	var gotBody toastBody
	c, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tui/show-toast" {
			t.Errorf("path = %q", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
	}))

	err := c.ShowNotice(context.Background(), "s1", reminder.Notice{
		Title: "Todo reminders paused", Message: "stuck", Severity: "warning",
	})
	if err != nil {
		t.Fatalf("show notice: %v", err)
	}
	if gotBody.Variant != "warning" || gotBody.Title == "" {
		t.Fatalf("unexpected toast body: %+v", gotBody)
	}
}

func TestPublish_MapsEnvelopesToBusTopics(t *testing.T) {
	b := bus.New()
	c := NewClient(Config{BaseURL: "http://127.0.0.1:1", Bus: b})
	sub := b.Subscribe("")
	defer b.Unsubscribe(sub)

	mustRaw := func(v any) json.RawMessage {
		raw, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		return raw
	}

	c.publish(envelope{Type: "session.idle", Properties: mustRaw(map[string]string{"sessionID": "s1"})})
	c.publish(envelope{Type: "todo.updated", Properties: mustRaw(map[string]any{
		"sessionID": "s1",
		"todos":     []bus.Todo{{ID: "a", Content: "task", Status: "pending"}},
	})})
	c.publish(envelope{Type: "message.updated", Properties: mustRaw(map[string]string{
		"sessionID": "s1", "role": "user", "agent": "build", "providerID": "p", "modelID": "m",
	})})
	c.publish(envelope{Type: "some.future.event", Properties: mustRaw(map[string]string{"sessionID": "s1"})})
	c.publish(envelope{Type: "session.idle", Properties: json.RawMessage(`{notjson`)})

	wantTopics := []string{bus.TopicSessionIdle, bus.TopicTodoUpdated, bus.TopicMessageUpdated}
	for _, want := range wantTopics {
		select {
		case ev := <-sub.Ch():
			if ev.Topic != want {
				t.Fatalf("topic = %q, want %q", ev.Topic, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for %s", want)
		}
	}

	// The unknown type and the malformed envelope publish nothing.
	select {
	case ev := <-sub.Ch():
		t.Fatalf("unexpected extra event: %v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStream_DeliversEventsOverWebsocket(t *testing.T) {
	events := []envelope{
		{Type: "session.idle", Properties: json.RawMessage(`{"sessionID":"s1"}`)},
		{Type: "session.deleted", Properties: json.RawMessage(`{"sessionID":"s1"}`)},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/event" {
			http.NotFound(w, r)
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		for _, ev := range events {
			if err := wsjson.Write(r.Context(), conn, ev); err != nil {
				return
			}
		}
		conn.Close(websocket.StatusNormalClosure, "done")
	}))
	defer srv.Close()

	b := bus.New()
	sub := b.Subscribe("session.")
	defer b.Unsubscribe(sub)

	c := NewClient(Config{BaseURL: srv.URL, Bus: b})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// stream returns once the server closes the connection.
	_ = c.stream(ctx)

	for _, want := range []string{bus.TopicSessionIdle, bus.TopicSessionDeleted} {
		select {
		case ev := <-sub.Ch():
			if ev.Topic != want {
				t.Fatalf("topic = %q, want %q", ev.Topic, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for %s", want)
		}
	}
}
