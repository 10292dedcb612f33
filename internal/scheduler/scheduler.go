// Package scheduler owns the request queue: priority-ordered insertion,
// bounded depth with newest-low-priority overflow eviction, and a
// dispatcher that keeps at most two completions in flight.
package scheduler

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/stellarlinkco/deskmate/internal/completion"
	"github.com/stellarlinkco/deskmate/internal/models"
)

type Priority int

const (
	PriorityHigh Priority = iota
	PriorityMedium
	PriorityLow
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	default:
		return "low"
	}
}

const (
	MaxQueue    = 10
	MaxInflight = 2
)

// ErrQueueFull rejects the request evicted on overflow; other queued
// requests are unaffected.
var ErrQueueFull = errors.New("scheduler: queue full")

type Request struct {
	ID          string
	System      string
	Messages    []completion.Message
	Priority    Priority
	Importance  models.Importance
	WantsVision bool
	MaxTokens   int
	Override    models.Override
	ImageB64    string
}

type Result struct {
	Text  string
	Model string
	Cost  float64
}

type outcome struct {
	res *Result
	err error
}

// Future resolves once the request completes, fails, or is evicted.
type Future struct {
	ch chan outcome
}

func (f *Future) Wait(ctx context.Context) (*Result, error) {
	select {
	case out := <-f.ch:
		return out.res, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CostRecorder is the ledger's write side.
type CostRecorder interface {
	RecordCost(model string, inputTokens, outputTokens int) (float64, error)
}

type entry struct {
	req  Request
	done chan outcome
}

type Scheduler struct {
	mu       sync.Mutex
	queue    []*entry
	inflight int

	completer completion.Client
	selector  *models.Selector
	budget    models.BudgetState
	recorder  CostRecorder
}

func New(completer completion.Client, selector *models.Selector, budget models.BudgetState, recorder CostRecorder) *Scheduler {
	return &Scheduler{
		completer: completer,
		selector:  selector,
		budget:    budget,
		recorder:  recorder,
	}
}

// Enqueue inserts the request in priority order (stable within a tier)
// and starts dispatching if a slot is free. When the queue would exceed
// MaxQueue, the tail entry — the most recently appended among the
// lowest tier — is evicted and its future rejected with ErrQueueFull.
func (s *Scheduler) Enqueue(req Request) *Future {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	e := &entry{req: req, done: make(chan outcome, 1)}

	s.mu.Lock()
	idx := len(s.queue)
	for i, q := range s.queue {
		if q.req.Priority > req.Priority {
			idx = i
			break
		}
	}
	s.queue = append(s.queue, nil)
	copy(s.queue[idx+1:], s.queue[idx:])
	s.queue[idx] = e

	for len(s.queue) > MaxQueue {
		tail := s.queue[len(s.queue)-1]
		s.queue = s.queue[:len(s.queue)-1]
		tail.done <- outcome{err: ErrQueueFull}
	}

	s.dispatchLocked()
	s.mu.Unlock()

	return &Future{ch: e.done}
}

// QueueLen reports how many requests are queued but not yet dispatched.
func (s *Scheduler) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Inflight reports how many completions are currently outstanding.
func (s *Scheduler) Inflight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight
}

func (s *Scheduler) dispatchLocked() {
	for s.inflight < MaxInflight && len(s.queue) > 0 {
		head := s.queue[0]
		s.queue = s.queue[1:]
		s.inflight++

		// Model choice happens synchronously at dispatch, before the
		// suspending call, so budget state cannot shift underneath it.
		model := s.selectModel(head.req)
		go s.run(head, model)
	}
}

func (s *Scheduler) selectModel(req Request) string {
	if s.selector == nil {
		return ""
	}
	return s.selector.Select(req.Importance, req.WantsVision, req.Override, s.budget)
}

func (s *Scheduler) run(e *entry, model string) {
	res, err := s.completer.Complete(context.Background(), completion.Request{
		Model:     model,
		System:    e.req.System,
		Messages:  e.req.Messages,
		MaxTokens: e.req.MaxTokens,
		ImageB64:  e.req.ImageB64,
	})

	if err != nil {
		e.done <- outcome{err: err}
	} else {
		var cost float64
		if s.recorder != nil {
			cost, err = s.recorder.RecordCost(model, res.InputTokens, res.OutputTokens)
			if err != nil {
				log.Printf("[scheduler] record cost warning: %v", err)
			}
		}
		e.done <- outcome{res: &Result{Text: res.Text, Model: model, Cost: cost}}
	}

	// Refill the freed slot immediately, preserving priority order
	// across completions.
	s.mu.Lock()
	s.inflight--
	s.dispatchLocked()
	s.mu.Unlock()
}
