// Package sched runs the ornament's fixed set of tasks cooperatively on a
// single goroutine. Tasks run to completion, one at a time, in declaration
// order; nothing is ever preempted. A task that blocks starves the loop —
// that is accepted here, because the watchdog exists as the hardware-level
// backstop.
//
// Task bodies may read and write the register map and the config table, but
// must not call back into the scheduler.
package sched

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Signal is a single-slot pending-event flag connecting an event source to
// an on-demand task. Sets coalesce: however many arrive before the task's
// next due cycle, the task runs once. Set may be called from any goroutine.
type Signal struct {
	pending atomic.Bool
	wake    func()
}

// Set marks the event pending and wakes the scheduler.
func (s *Signal) Set() {
	s.pending.Store(true)
	if s.wake != nil {
		s.wake()
	}
}

// Pending reports whether an event is waiting, without consuming it.
func (s *Signal) Pending() bool { return s.pending.Load() }

func (s *Signal) consume() bool { return s.pending.CompareAndSwap(true, false) }

// Task is one entry in the static task table. A task is due when its period
// has elapsed, or its trigger has fired, or both kinds apply (the flasher is
// periodic for frame stepping and triggered for starting). A period of zero
// means on-demand only.
type Task struct {
	Name    string
	Period  time.Duration
	Trigger *Signal
	Enabled bool
	Run     func(now time.Time) error

	last time.Time
}

// Scheduler owns the task table. Tasks are added once at boot; the zero
// ordering rule is declaration order, which doubles as priority within a
// cycle.
type Scheduler struct {
	tasks    []*Task
	preCycle func()
	wake     chan struct{}
	log      *slog.Logger
	now      func() time.Time
}

// New returns an empty scheduler. preCycle, if non-nil, runs at the top of
// every cycle before any task; it is where staged register writes get
// committed, so a host write is visible no earlier than the next cycle.
func New(log *slog.Logger, preCycle func()) *Scheduler {
	return &Scheduler{
		preCycle: preCycle,
		wake:     make(chan struct{}, 1),
		log:      log,
		now:      time.Now,
	}
}

// Add appends t to the task table and binds its trigger. Boot-time only.
func (s *Scheduler) Add(t *Task) {
	if t.Trigger != nil {
		t.Trigger.wake = s.Wake
	}
	s.tasks = append(s.tasks, t)
}

// Wake interrupts the scheduler's sleep so an external event (a wireless
// interrupt, a trigger) is handled without waiting out the timer. Safe from
// any goroutine; never blocks.
func (s *Scheduler) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Step runs exactly one cycle at the given instant: commit staged writes,
// scan for due tasks, run them in declaration order. It returns the next
// period deadline (zero if no periodic task is enabled). Tests drive Step
// directly with a synthetic clock.
func (s *Scheduler) Step(now time.Time) time.Time {
	if s.preCycle != nil {
		s.preCycle()
	}
	for _, t := range s.tasks {
		if !t.Enabled {
			continue
		}
		if t.last.IsZero() {
			// First cycle establishes the phase; periods elapse from here.
			t.last = now
		}
		due := t.Trigger != nil && t.Trigger.consume()
		if t.Period > 0 && now.Sub(t.last) >= t.Period {
			due = true
		}
		if !due {
			continue
		}
		t.last = now
		if err := t.Run(now); err != nil {
			// Recoverable by contract: the task skips this cycle's work
			// and retries next period. Only the watchdog can kill us.
			s.log.LogAttrs(context.Background(), slog.LevelWarn, "task cycle failed",
				slog.String("task", t.Name), slog.Any("err", err))
		}
	}
	return s.nextDeadline()
}

func (s *Scheduler) nextDeadline() time.Time {
	var next time.Time
	for _, t := range s.tasks {
		if !t.Enabled || t.Period <= 0 || t.last.IsZero() {
			continue
		}
		due := t.last.Add(t.Period)
		if next.IsZero() || due.Before(next) {
			next = due
		}
	}
	return next
}

func (s *Scheduler) anyTriggered() bool {
	for _, t := range s.tasks {
		if t.Enabled && t.Trigger != nil && t.Trigger.Pending() {
			return true
		}
	}
	return false
}

// Run is the production loop: cycle, then sleep until the next deadline or
// an external wake. It returns only when ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		next := s.Step(s.now())
		if s.anyTriggered() {
			continue
		}
		d := time.Hour
		if !next.IsZero() {
			d = next.Sub(s.now())
		}
		if d <= 0 {
			continue
		}
		resetTimer(timer, d)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.wake:
		case <-timer.C:
		}
	}
}

// resetTimer stops, drains, and re-arms the sleep timer. Stop returning
// false means the timer fired since the last drain and its channel may
// still hold the tick.
func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
