package reminder

import "github.com/basket/nudge/internal/bus"

// Statuses that count as "done" for template rendering. A cancelled todo is
// finished work as far as reminders are concerned.
var doneStatuses = map[string]struct{}{
	"completed": {},
	"cancelled": {},
}

// Key returns the identity key for a todo: the ID when present, otherwise
// the content. Two todos with empty IDs and identical content collide; the
// engine accepts that.
func Key(t bus.Todo) string {
	if t.ID != "" {
		return t.ID
	}
	return t.Content
}

// Filter returns the todos whose status is in the trigger set, preserving
// the original relative order. Order matters: the first pending todo is the
// one reminders are attributed to.
func Filter(todos []bus.Todo, trigger map[string]struct{}) []bus.Todo {
	var pending []bus.Todo
	for _, t := range todos {
		if _, ok := trigger[t.Status]; ok {
			pending = append(pending, t)
		}
	}
	return pending
}

// CountDone returns how many todos are completed or cancelled.
func CountDone(todos []bus.Todo) int {
	n := 0
	for _, t := range todos {
		if _, ok := doneStatuses[t.Status]; ok {
			n++
		}
	}
	return n
}

func triggerSet(statuses []string) map[string]struct{} {
	set := make(map[string]struct{}, len(statuses))
	for _, s := range statuses {
		set[s] = struct{}{}
	}
	return set
}
