// Package autonomy runs the companion's background observe-and-react
// loop. Each tick fires after a jittered delay; attaching an external
// controller cancels the pending tick immediately and keeps the loop
// stopped until the controller detaches.
package autonomy

import (
	"context"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/stellarlinkco/deskmate/internal/clock"
)

const (
	// TickMin is the shortest delay between ticks; TickJitter is the
	// width of the uniform random window on top of it, so delays fall
	// in [TickMin, TickMin+TickJitter).
	TickMin    = 45 * time.Second
	TickJitter = 75 * time.Second
)

type State int

const (
	Stopped State = iota
	Scheduled
	Running
)

func (s State) String() string {
	switch s {
	case Scheduled:
		return "scheduled"
	case Running:
		return "running"
	default:
		return "stopped"
	}
}

// Ticker is one autonomous observe-and-maybe-react cycle. Errors are
// logged and suppressed; they never stop the loop.
type Ticker interface {
	AutonomousTick(ctx context.Context) error
}

type Scheduler struct {
	mu         sync.Mutex
	clk        clock.Clock
	timer      clock.Timer
	state      State
	enabled    bool
	controller bool
	// stopping records a Stop issued while a tick runs, so the tick's
	// tail does not re-arm the timer.
	stopping bool
	tick     Ticker

	// Jitter is the random-delay source, swappable for deterministic
	// tests. Defaults to rand.Int63n.
	Jitter func(n int64) int64
}

func New(clk clock.Clock, tick Ticker, enabled bool) *Scheduler {
	return &Scheduler{
		clk:     clk,
		tick:    tick,
		enabled: enabled,
		Jitter:  rand.Int63n,
	}
}

// Start arms the first tick. It is a no-op when autonomy is disabled,
// a controller is attached, or the loop is already running.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopping = false
	if !s.enabled || s.controller || s.state != Stopped {
		return
	}
	s.scheduleLocked()
}

// Stop cancels any pending tick. A tick already running finishes but
// does not reschedule.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopping = true
	s.stopLocked()
}

// AttachController forces the loop stopped immediately: an external
// controller now drives the engine.
func (s *Scheduler) AttachController() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.controller = true
	s.stopLocked()
}

// DetachController re-enters the loop if configuration allows.
func (s *Scheduler) DetachController() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.controller = false
	if s.enabled && !s.stopping && s.state == Stopped {
		s.scheduleLocked()
	}
}

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Active reports whether the engine is self-driven right now.
func (s *Scheduler) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled && !s.controller
}

func (s *Scheduler) stopLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.state == Scheduled {
		s.state = Stopped
	}
}

func (s *Scheduler) scheduleLocked() {
	delay := TickMin + time.Duration(s.Jitter(int64(TickJitter)))
	s.state = Scheduled
	s.timer = s.clk.AfterFunc(delay, s.fire)
}

func (s *Scheduler) fire() {
	s.mu.Lock()
	if s.controller || !s.enabled || s.state != Scheduled {
		s.state = Stopped
		s.mu.Unlock()
		return
	}
	s.state = Running
	s.timer = nil
	s.mu.Unlock()

	if err := s.tick.AutonomousTick(context.Background()); err != nil {
		log.Printf("[autonomy] tick error: %v", err)
	}

	s.mu.Lock()
	if s.controller || !s.enabled || s.stopping {
		s.state = Stopped
	} else {
		s.scheduleLocked()
	}
	s.mu.Unlock()
}
