package watchdog

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"ornament-go/sched"
)

func TestNewRejectsBadMargins(t *testing.T) {
	var hw Sim
	if _, err := New(&hw, 10*time.Second, 10*time.Second); err == nil {
		t.Error("pet == timeout accepted")
	}
	if _, err := New(&hw, 10*time.Second, 15*time.Second); err == nil {
		t.Error("pet > timeout accepted")
	}
	if _, err := New(&hw, 10*time.Second, 6*time.Second); err == nil {
		t.Error("pet past half the timeout accepted")
	}
	if _, err := New(&hw, 0, 0); err == nil {
		t.Error("zero intervals accepted")
	}
	if _, err := New(&hw, 10*time.Second, 5*time.Second); err != nil {
		t.Errorf("valid margins rejected: %v", err)
	}
}

func TestPetKeepsSimQuiet(t *testing.T) {
	// Pet every 5s against a 10s budget: the watchdog never fires.
	var fired int
	hw := Sim{OnReset: func() { fired++ }}
	sup, err := New(&hw, 10*time.Second, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if err := sup.Start(); err != nil {
		t.Fatal(err)
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := sched.New(log, nil)
	s.Add(sup.Task())

	start := time.Unix(0, 0)
	for sec := 0; sec <= 120; sec++ {
		now := start.Add(time.Duration(sec) * time.Second)
		s.Step(now)
		hw.Check(now)
	}
	if fired != 0 {
		t.Fatalf("watchdog fired %d times under normal operation", fired)
	}
}

func TestStallFiresExactlyOnce(t *testing.T) {
	var fired int
	hw := Sim{OnReset: func() { fired++ }}
	hw.Configure(10 * time.Second)

	start := time.Unix(0, 0)
	hw.FeedAt(start)

	// Stall: no feeds for a minute. The reset action happens once, not
	// once per check.
	for sec := 1; sec <= 60; sec++ {
		hw.Check(start.Add(time.Duration(sec) * time.Second))
	}
	if fired != 1 {
		t.Fatalf("fired %d times during one stall, want 1", fired)
	}

	// Recovery and a second stall fires again.
	hw.FeedAt(start.Add(61 * time.Second))
	for sec := 62; sec <= 120; sec++ {
		hw.Check(start.Add(time.Duration(sec) * time.Second))
	}
	if fired != 2 {
		t.Fatalf("fired %d times after second stall, want 2", fired)
	}
}

func TestCheckWithinBudgetDoesNotFire(t *testing.T) {
	var fired int
	hw := Sim{OnReset: func() { fired++ }}
	hw.Configure(10 * time.Second)
	start := time.Unix(0, 0)
	hw.FeedAt(start)
	if hw.Check(start.Add(10 * time.Second)) {
		t.Error("fired exactly at budget boundary")
	}
	if !hw.Check(start.Add(10*time.Second + time.Millisecond)) {
		t.Error("did not fire past budget")
	}
}
