package sched

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"ornament-go/errcode"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func at(s int) time.Time { return time.Unix(int64(s), 0) }

func TestPeriodicDueAfterPeriod(t *testing.T) {
	s := New(discard(), nil)
	var runs int
	s.Add(&Task{
		Name: "tick", Period: 5 * time.Second, Enabled: true,
		Run: func(time.Time) error { runs++; return nil },
	})

	// First cycle only establishes the phase.
	s.Step(at(0))
	if runs != 0 {
		t.Fatalf("ran on phase-establishing cycle")
	}
	s.Step(at(4))
	if runs != 0 {
		t.Fatalf("ran before period elapsed")
	}
	s.Step(at(5))
	if runs != 1 {
		t.Fatalf("runs = %d after period elapsed", runs)
	}
	// Period counts from the run, not from wall-aligned slots.
	s.Step(at(9))
	if runs != 1 {
		t.Fatalf("ran again too early")
	}
	s.Step(at(10))
	if runs != 2 {
		t.Fatalf("runs = %d", runs)
	}
}

func TestDeclarationOrderWithinCycle(t *testing.T) {
	s := New(discard(), nil)
	var order []string
	add := func(name string) {
		s.Add(&Task{
			Name: name, Period: time.Second, Enabled: true,
			Run: func(time.Time) error { order = append(order, name); return nil },
		})
	}
	add("pet")
	add("light")
	add("accel")

	s.Step(at(0))
	s.Step(at(10)) // all due at once
	want := []string{"pet", "light", "accel"}
	if len(order) != len(want) {
		t.Fatalf("order = %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestDisabledTasksSkipped(t *testing.T) {
	s := New(discard(), nil)
	var runs int
	task := &Task{
		Name: "t", Period: time.Second, Enabled: false,
		Run: func(time.Time) error { runs++; return nil },
	}
	s.Add(task)
	s.Step(at(0))
	s.Step(at(10))
	if runs != 0 {
		t.Fatalf("disabled task ran")
	}
	task.Enabled = true
	s.Step(at(20))
	s.Step(at(30))
	if runs != 1 {
		t.Fatalf("re-enabled task runs = %d", runs)
	}
}

func TestTriggerCoalesces(t *testing.T) {
	s := New(discard(), nil)
	var sig Signal
	var runs int
	s.Add(&Task{
		Name: "flash", Trigger: &sig, Enabled: true,
		Run: func(time.Time) error { runs++; return nil },
	})

	sig.Set()
	sig.Set()
	sig.Set()
	s.Step(at(0))
	if runs != 1 {
		t.Fatalf("coalesced signals: runs = %d, want 1", runs)
	}
	// Nothing pending: no run.
	s.Step(at(1))
	if runs != 1 {
		t.Fatalf("spurious run with no signal")
	}
	sig.Set()
	s.Step(at(2))
	if runs != 2 {
		t.Fatalf("runs = %d", runs)
	}
}

func TestTaskErrorDoesNotAbortCycle(t *testing.T) {
	s := New(discard(), nil)
	var ran bool
	s.Add(&Task{
		Name: "bad", Period: time.Second, Enabled: true,
		Run: func(time.Time) error { return errcode.SensorRead },
	})
	s.Add(&Task{
		Name: "good", Period: time.Second, Enabled: true,
		Run: func(time.Time) error { ran = true; return nil },
	})
	s.Step(at(0))
	s.Step(at(5))
	if !ran {
		t.Fatal("later task did not run after earlier task failed")
	}
}

func TestPreCycleRunsBeforeTasks(t *testing.T) {
	var trace []string
	s := New(discard(), func() { trace = append(trace, "apply") })
	s.Add(&Task{
		Name: "t", Period: time.Second, Enabled: true,
		Run: func(time.Time) error { trace = append(trace, "task"); return nil },
	})
	s.Step(at(0))
	s.Step(at(5))
	want := []string{"apply", "apply", "task"}
	if len(trace) != len(want) {
		t.Fatalf("trace = %v", trace)
	}
	for i := range want {
		if trace[i] != want[i] {
			t.Fatalf("trace = %v, want %v", trace, want)
		}
	}
}

func TestNextDeadline(t *testing.T) {
	s := New(discard(), nil)
	s.Add(&Task{Name: "slow", Period: 30 * time.Second, Enabled: true, Run: func(time.Time) error { return nil }})
	s.Add(&Task{Name: "fast", Period: 5 * time.Second, Enabled: true, Run: func(time.Time) error { return nil }})
	next := s.Step(at(0))
	if !next.Equal(at(5)) {
		t.Fatalf("next = %v, want %v", next, at(5))
	}
}

func TestWakeNeverBlocks(t *testing.T) {
	s := New(discard(), nil)
	for i := 0; i < 10; i++ {
		s.Wake()
	}
}
