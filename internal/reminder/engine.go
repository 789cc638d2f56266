// Package reminder implements the per-session todo-continuation state
// machine: it watches session lifecycle events on the bus and injects a
// synthetic continuation prompt when a session goes idle with incomplete
// todos, subject to a cooldown and per-todo loop protection.
package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/basket/nudge/internal/bus"
	otelpkg "github.com/basket/nudge/internal/otel"
	"github.com/basket/nudge/internal/shared"
)

const roleUser = "user"

// Config holds the engine's reminder policy. Values are assumed normalized
// by the config package; zero values are still tolerated.
type Config struct {
	Enabled           bool
	TriggerStatuses   []string
	MaxPerTodo        int
	IdleDelay         time.Duration
	Cooldown          time.Duration // zero disables the cooldown
	MessageTemplate   string
	ShowNotifications bool
	Synthetic         bool

	// CancelOnAnyActivity restores the behavior of reminder variants that
	// cancel a pending evaluation on any message activity. The default
	// (false) cancels only on user messages, so an assistant producing
	// output cannot starve the reminder.
	CancelOnAnyActivity bool
}

// Options holds the dependencies for the engine.
type Options struct {
	Config    Config
	Todos     TodoSource
	Prompts   PromptInjector
	Notices   NotificationSink
	Bus       *bus.Bus
	Scheduler Scheduler // defaults to the time.AfterFunc scheduler
	Logger    *slog.Logger
	Metrics   *otelpkg.Metrics // nil disables instrumentation
}

// promptContext is the agent/model pair carried forward from the most
// recent user message, so reminders are issued under the same context.
type promptContext struct {
	agent string
	model *ModelRef
}

// sessionState is the engine's per-session runtime state. It exists only
// for sessions with observed activity and is removed once no todo is
// pending or the session is deleted.
type sessionState struct {
	hasPending     bool
	lastInjection  time.Time
	timer          Handle // at most one live timer per session
	gen            uint64 // invalidates queued evaluations from stale timers
	injections     map[string]int
	loopProtection bool
	prompt         promptContext
}

type evalRequest struct {
	sessionID string
	gen       uint64 // zero marks a sweep-originated evaluation
}

// Engine owns the session-state registry. All state mutation happens on
// the single goroutine running loop, so no lock guards the sessions map.
type Engine struct {
	cfg      Config
	trigger  map[string]struct{}
	todos    TodoSource
	prompts  PromptInjector
	notices  NotificationSink
	eventBus *bus.Bus
	sched    Scheduler
	logger   *slog.Logger
	metrics  *otelpkg.Metrics
	now      func() time.Time

	sessions map[string]*sessionState
	evalCh   chan evalRequest
	sweepCh  chan struct{}

	sub    *bus.Subscription
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine creates an Engine with the given options.
func NewEngine(opts Options) *Engine {
	cfg := opts.Config
	if cfg.MessageTemplate == "" {
		cfg.MessageTemplate = DefaultTemplate
	}
	if len(cfg.TriggerStatuses) == 0 {
		cfg.TriggerStatuses = []string{"pending", "in_progress"}
	}
	if cfg.MaxPerTodo <= 0 {
		cfg.MaxPerTodo = 3
	}
	sched := opts.Scheduler
	if sched == nil {
		sched = NewTimerScheduler()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:      cfg,
		trigger:  triggerSet(cfg.TriggerStatuses),
		todos:    opts.Todos,
		prompts:  opts.Prompts,
		notices:  opts.Notices,
		eventBus: opts.Bus,
		sched:    sched,
		logger:   logger,
		metrics:  opts.Metrics,
		now:      time.Now,
		sessions: make(map[string]*sessionState),
		evalCh:   make(chan evalRequest, 32),
		sweepCh:  make(chan struct{}, 1),
	}
}

// Start subscribes to the bus and begins the engine loop.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	// Subscribe to everything; the dispatch switch ignores topics the
	// engine does not handle (including its own reminder.* events).
	e.sub = e.eventBus.Subscribe("")
	e.wg.Add(1)
	go e.loop(ctx)
	e.logger.Info("reminder engine started",
		"idle_delay", e.cfg.IdleDelay,
		"cooldown", e.cfg.Cooldown,
		"max_per_todo", e.cfg.MaxPerTodo)
}

// Stop cancels the engine loop and waits for it to exit.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	e.eventBus.Unsubscribe(e.sub)
	e.logger.Info("reminder engine stopped")
}

// RequestSweep asks the engine to re-evaluate every tracked session with
// pending todos. Non-blocking; a sweep already queued is enough.
func (e *Engine) RequestSweep() {
	select {
	case e.sweepCh <- struct{}{}:
	default:
	}
}

// loop serializes all event handling and delayed evaluations on one
// goroutine. Timers never touch state directly; they post to evalCh.
func (e *Engine) loop(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-e.sub.Ch():
			if !ok {
				return
			}
			e.dispatch(ev.Payload)
		case req := <-e.evalCh:
			e.evaluate(ctx, req)
		case <-e.sweepCh:
			e.sweep(ctx)
		}
	}
}

func (e *Engine) dispatch(payload interface{}) {
	switch ev := payload.(type) {
	case bus.TodoUpdatedEvent:
		e.onTodoUpdated(ev)
	case bus.SessionIdleEvent:
		e.onIdle(ev.SessionID)
	case bus.MessageUpdatedEvent:
		e.onMessageUpdated(ev)
	case bus.MessagePartUpdatedEvent:
		e.onMessagePartUpdated(ev)
	case bus.SessionDeletedEvent:
		e.onSessionDeleted(ev.SessionID)
	}
}

// session returns the state for a session id, creating it lazily.
func (e *Engine) session(sessionID string) *sessionState {
	st, ok := e.sessions[sessionID]
	if !ok {
		st = &sessionState{injections: make(map[string]int)}
		e.sessions[sessionID] = st
		if e.metrics != nil {
			e.metrics.ActiveSessions.Add(context.Background(), 1)
		}
	}
	return st
}

func (e *Engine) dropSession(sessionID, reason string) {
	st, ok := e.sessions[sessionID]
	if !ok {
		return
	}
	e.cancelTimer(st)
	delete(e.sessions, sessionID)
	if e.metrics != nil {
		e.metrics.ActiveSessions.Add(context.Background(), -1)
	}
	e.logger.Debug("reminder: session state dropped", "session_id", sessionID, "reason", reason)
}

// cancelTimer stops any pending delayed evaluation and invalidates
// evaluations already queued by a fired timer. Idempotent.
func (e *Engine) cancelTimer(st *sessionState) {
	if st.timer != nil {
		st.timer.Cancel()
		st.timer = nil
	}
	st.gen++
}

func (e *Engine) onTodoUpdated(ev bus.TodoUpdatedEvent) {
	pending := Filter(ev.Todos, e.trigger)
	if len(pending) == 0 {
		e.dropSession(ev.SessionID, "no pending todos")
		return
	}
	st := e.session(ev.SessionID)
	st.hasPending = true
	e.refreshCounters(st, pending)
}

// refreshCounters applies a fresh todo snapshot to the per-todo reminder
// counters: entries for todos no longer pending are purged, and loop
// protection lifts as soon as any pending todo is still under the cap.
func (e *Engine) refreshCounters(st *sessionState, pending []bus.Todo) {
	keys := make(map[string]struct{}, len(pending))
	for _, t := range pending {
		keys[Key(t)] = struct{}{}
	}
	for k := range st.injections {
		if _, ok := keys[k]; !ok {
			delete(st.injections, k)
		}
	}
	if st.loopProtection {
		for _, t := range pending {
			if st.injections[Key(t)] < e.cfg.MaxPerTodo {
				st.loopProtection = false
				break
			}
		}
	}
}

func (e *Engine) onIdle(sessionID string) {
	st, ok := e.sessions[sessionID]
	if !ok || !st.hasPending {
		return
	}
	e.scheduleEvaluation(sessionID, st)
}

// scheduleEvaluation arms the delayed check for a session, always
// cancelling the previous timer first so at most one is live.
func (e *Engine) scheduleEvaluation(sessionID string, st *sessionState) {
	if st.timer != nil {
		st.timer.Cancel()
	}
	st.gen++
	gen := st.gen
	st.timer = e.sched.Schedule(e.cfg.IdleDelay, func() {
		select {
		case e.evalCh <- evalRequest{sessionID: sessionID, gen: gen}:
		default:
			e.logger.Warn("reminder: evaluation queue full, dropping cycle", "session_id", sessionID)
		}
	})
}

func (e *Engine) onMessageUpdated(ev bus.MessageUpdatedEvent) {
	if ev.Role == roleUser {
		// The only event that resets the interaction clock by default.
		st := e.session(ev.SessionID)
		e.cancelTimer(st)
		if ev.AgentID != "" {
			st.prompt.agent = ev.AgentID
		}
		if ev.ProviderID != "" && ev.ModelID != "" {
			st.prompt.model = &ModelRef{ProviderID: ev.ProviderID, ModelID: ev.ModelID}
		}
		return
	}
	if e.cfg.CancelOnAnyActivity {
		if st, ok := e.sessions[ev.SessionID]; ok {
			e.cancelTimer(st)
		}
	}
}

func (e *Engine) onMessagePartUpdated(ev bus.MessagePartUpdatedEvent) {
	if !e.cfg.CancelOnAnyActivity {
		return
	}
	if st, ok := e.sessions[ev.SessionID]; ok {
		e.cancelTimer(st)
	}
}

func (e *Engine) onSessionDeleted(sessionID string) {
	e.dropSession(sessionID, "session deleted")
}

// sweep re-evaluates every tracked session with pending todos and no timer
// already armed. Covers idle events the host client may have missed.
func (e *Engine) sweep(ctx context.Context) {
	for sessionID, st := range e.sessions {
		if !st.hasPending || st.loopProtection || st.timer != nil {
			continue
		}
		e.evaluate(ctx, evalRequest{sessionID: sessionID})
	}
}

// evaluate runs the delayed check for a session. Collaborator failures are
// logged and end the cycle; they never propagate.
func (e *Engine) evaluate(ctx context.Context, req evalRequest) {
	st, ok := e.sessions[req.sessionID]
	if !ok {
		return
	}
	if req.gen != 0 {
		if req.gen != st.gen {
			// Superseded by a newer schedule or cancelled by activity.
			return
		}
		st.timer = nil
	}
	if !e.cfg.Enabled || st.loopProtection {
		return
	}

	log := e.logger.With("session_id", req.sessionID, "trace_id", shared.NewTraceID())
	start := e.now()

	todos, err := e.todos.FetchTodos(ctx, req.sessionID)
	if err != nil {
		log.Debug("reminder: todo fetch failed, skipping cycle", "error", err)
		return
	}
	pending := Filter(todos, e.trigger)
	if len(pending) == 0 {
		e.dropSession(req.sessionID, "all todos resolved")
		return
	}
	st.hasPending = true
	e.refreshCounters(st, pending)

	now := e.now()
	if e.cfg.Cooldown > 0 && !st.lastInjection.IsZero() && now.Sub(st.lastInjection) < e.cfg.Cooldown {
		log.Debug("reminder: within cooldown, deferring",
			"since_last", now.Sub(st.lastInjection), "cooldown", e.cfg.Cooldown)
		e.countSuppressed(ctx, "cooldown")
		return
	}

	attributed := pending[0]
	key := Key(attributed)
	if st.injections[key] >= e.cfg.MaxPerTodo {
		e.pause(ctx, log, req.sessionID, st, attributed)
		return
	}

	st.injections[key]++
	attempt := st.injections[key]
	text := RenderTemplate(e.cfg.MessageTemplate, todos, pending)
	res, err := e.prompts.SendPrompt(ctx, req.sessionID, PromptRequest{
		Text:      text,
		Agent:     st.prompt.agent,
		Model:     st.prompt.model,
		Synthetic: e.cfg.Synthetic,
	})
	if err != nil {
		log.Warn("reminder: prompt injection failed", "error", err)
		e.countSuppressed(ctx, "inject_error")
		return
	}
	// Record the timestamp even for a dismissed prompt so the next idle
	// cycle does not immediately re-fire.
	st.lastInjection = now
	if res.Cancelled {
		log.Info("reminder: prompt dismissed by user", "todo", key)
		e.countSuppressed(ctx, "dismissed")
		return
	}

	log.Info("reminder: continuation prompt sent",
		"todo", key, "attempt", attempt, "pending", len(pending), "total", len(todos))
	e.eventBus.Publish(bus.TopicReminderSent, bus.ReminderSentEvent{
		SessionID: req.sessionID,
		TodoKey:   key,
		Attempt:   attempt,
		Pending:   len(pending),
		Total:     len(todos),
	})
	if e.metrics != nil {
		e.metrics.RemindersSent.Add(ctx, 1)
		e.metrics.EvalDuration.Record(ctx, e.now().Sub(start).Seconds())
	}
}

// pause engages loop protection: one distinctly-worded notice, then
// silence until a todo leaves the trigger set.
func (e *Engine) pause(ctx context.Context, log *slog.Logger, sessionID string, st *sessionState, stuck bus.Todo) {
	key := Key(stuck)
	attempts := st.injections[key]
	st.loopProtection = true
	log.Warn("reminder: loop protection engaged", "todo", key, "attempts", attempts)

	if e.cfg.ShowNotifications {
		notice := Notice{
			Title:    "Todo reminders paused",
			Message:  fmt.Sprintf("No progress on %q after %d reminders. Update the todo list to resume.", stuck.Content, attempts),
			Severity: "warning",
		}
		if err := e.notices.ShowNotice(ctx, sessionID, notice); err != nil {
			log.Debug("reminder: notice delivery failed", "error", err)
		}
	}
	e.eventBus.Publish(bus.TopicReminderPaused, bus.ReminderPausedEvent{
		SessionID:   sessionID,
		TodoKey:     key,
		TodoContent: stuck.Content,
		Attempts:    attempts,
	})
	if e.metrics != nil {
		e.metrics.RemindersPaused.Add(ctx, 1)
	}
}

func (e *Engine) countSuppressed(ctx context.Context, reason string) {
	if e.metrics == nil {
		return
	}
	e.metrics.RemindersSuppressed.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)))
}
