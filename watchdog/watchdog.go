// Package watchdog couples the hardware countdown timer to a scheduler
// task. The pet task becomes due once per pet interval and feeds the timer;
// if the scheduler wedges for longer than the timeout, the hardware resets
// the whole device. That reset is the system's only fatal-failure recovery
// path — there is no in-process rescue for a stuck task.
package watchdog

import (
	"time"

	"ornament-go/errcode"
	"ornament-go/sched"
)

// Timer is the hardware countdown. machine.Watchdog satisfies it on device
// builds; Sim stands in on host builds and in tests.
type Timer interface {
	// Configure arms the countdown with the given budget.
	Configure(timeout time.Duration) error
	// Feed restarts the countdown.
	Feed()
}

// Supervisor owns the one process-wide watchdog instance.
type Supervisor struct {
	hw      Timer
	timeout time.Duration
	pet     time.Duration
}

// New validates the margins and wraps the hardware timer. The pet interval
// must leave room for one slow task cycle before the countdown expires, so
// it is required to be at most half the timeout.
func New(hw Timer, timeout, pet time.Duration) (*Supervisor, error) {
	if timeout <= 0 || pet <= 0 {
		return nil, &errcode.E{C: errcode.OutOfRange, Op: "watchdog.New", Msg: "non-positive interval"}
	}
	if 2*pet > timeout {
		return nil, &errcode.E{C: errcode.OutOfRange, Op: "watchdog.New", Msg: "pet interval must be at most half the timeout"}
	}
	return &Supervisor{hw: hw, timeout: timeout, pet: pet}, nil
}

// Start arms the hardware. Call this last in the boot sequence: after this
// point a wedged boot is fatal.
func (s *Supervisor) Start() error {
	return s.hw.Configure(s.timeout)
}

// Task returns the pet task. It should be first in the task table so that a
// long cycle still pets before the slow tasks run.
func (s *Supervisor) Task() *sched.Task {
	return &sched.Task{
		Name:    "watchdog_pet",
		Period:  s.pet,
		Enabled: true,
		Run: func(time.Time) error {
			s.hw.Feed()
			return nil
		},
	}
}
