package reminder

import "time"

// Handle is a cancellable scheduled task. Cancel reports whether the task
// was stopped before it ran; cancelling an already-fired handle is a no-op.
type Handle interface {
	Cancel() bool
}

// Scheduler runs a function once after a delay. The engine guarantees at
// most one live handle per session; tests substitute a manual
// implementation.
type Scheduler interface {
	Schedule(d time.Duration, fn func()) Handle
}

type timerScheduler struct{}

// NewTimerScheduler returns the production Scheduler backed by
// time.AfterFunc.
func NewTimerScheduler() Scheduler {
	return timerScheduler{}
}

func (timerScheduler) Schedule(d time.Duration, fn func()) Handle {
	return timerHandle{t: time.AfterFunc(d, fn)}
}

type timerHandle struct {
	t *time.Timer
}

func (h timerHandle) Cancel() bool {
	return h.t.Stop()
}
