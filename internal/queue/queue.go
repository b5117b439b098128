// Package queue implements the cooperative run queue that sequences
// generator lifecycle work. Tasks are grouped under named priorities declared
// in a fixed order; every task in one priority settles before the next
// priority starts. Callers await explicit futures instead of subscribing to
// lifecycle events.
package queue

import (
	"context"
	"fmt"
	"sync"
)

// DefaultPriorities is the lifecycle order generators may rely on.
var DefaultPriorities = []string{
	"run",
	"initializing",
	"prompting",
	"configuring",
	"default",
	"writing",
	"transform",
	"conflicts",
	"post-conflicts",
	"install",
	"end",
}

// Work is one unit of scheduled work. The TaskContext lets once-tasks re-arm
// themselves for a later pass.
type Work func(ctx context.Context, tc *TaskContext) error

// TaskError wraps a failed task with the priority it ran under.
type TaskError struct {
	Priority string
	Err      error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("queue: task in priority %q failed: %v", e.Priority, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

// Future settles exactly once with the outcome of a submitted task.
type Future struct {
	once sync.Once
	done chan struct{}
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) settle(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Done is closed when the task has settled.
func (f *Future) Done() <-chan struct{} { return f.done }

// Await blocks until the task settles or the context is cancelled.
func (f *Future) Await(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type task struct {
	priority string
	work     Work
	onceKey  string
	future   *Future
}

// Scheduler is a single-threaded priority run queue.
type Scheduler struct {
	mu         sync.Mutex
	priorities []string
	pending    map[string][]*task
	once       map[string]*task
	paused     bool
	resumeCh   chan struct{}
}

// New builds a scheduler over the given priority names, in declaration
// order. With no arguments the default lifecycle order is used.
func New(priorities ...string) *Scheduler {
	if len(priorities) == 0 {
		priorities = DefaultPriorities
	}
	s := &Scheduler{
		priorities: append([]string(nil), priorities...),
		pending:    make(map[string][]*task),
		once:       make(map[string]*task),
	}
	return s
}

// Priorities returns the declared order.
func (s *Scheduler) Priorities() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.priorities...)
}

// AddPriority inserts a new priority name, before the named existing one
// when given, appended otherwise. Adding an existing name is a no-op.
func (s *Scheduler) AddPriority(name string, before ...string) error {
	if name == "" {
		return fmt.Errorf("queue: priority name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.priorities {
		if p == name {
			return nil
		}
	}
	if len(before) > 0 && before[0] != "" {
		for i, p := range s.priorities {
			if p == before[0] {
				s.priorities = append(s.priorities[:i], append([]string{name}, s.priorities[i:]...)...)
				return nil
			}
		}
		return fmt.Errorf("queue: unknown priority %q", before[0])
	}
	s.priorities = append(s.priorities, name)
	return nil
}

// SubmitOption customizes a submission.
type SubmitOption func(*submitOptions)

type submitOptions struct {
	onceKey string
}

// Once collapses submissions sharing a key: a second submission before the
// first runs replaces the pending work, and both callers share one future.
// The replacement must name the same priority as the pending registration.
func Once(key string) SubmitOption {
	return func(o *submitOptions) { o.onceKey = key }
}

// Submit enqueues work under the named priority and returns its future.
func (s *Scheduler) Submit(priority string, work Work, opts ...SubmitOption) (*Future, error) {
	if work == nil {
		return nil, fmt.Errorf("queue: work is required")
	}
	var options submitOptions
	for _, opt := range opts {
		opt(&options)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasPriority(priority) {
		return nil, fmt.Errorf("queue: unknown priority %q", priority)
	}
	if options.onceKey != "" {
		if existing, ok := s.once[options.onceKey]; ok {
			if existing.priority != priority {
				return nil, fmt.Errorf("queue: once key %q is pending under priority %q, cannot resubmit under %q",
					options.onceKey, existing.priority, priority)
			}
			// Replace the registration in place: the earlier queue slot and
			// future survive, the work does not.
			existing.work = work
			return existing.future, nil
		}
	}
	t := &task{
		priority: priority,
		work:     work,
		onceKey:  options.onceKey,
		future:   newFuture(),
	}
	s.pending[priority] = append(s.pending[priority], t)
	if t.onceKey != "" {
		s.once[t.onceKey] = t
	}
	return t.future, nil
}

// Pause suspends the run loop after the current task without losing queued
// work.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.paused {
		s.paused = true
		s.resumeCh = make(chan struct{})
	}
}

// Resume continues a paused run from exactly where it stopped.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused {
		s.paused = false
		close(s.resumeCh)
	}
}

// Run drains the queue: priorities strictly in declared order, FIFO starts
// within a priority. Tasks may submit more work while running, including to
// earlier priorities, which the loop revisits. The first task error aborts
// everything still pending and is returned as the run's terminal error.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		if err := s.awaitResume(ctx); err != nil {
			s.failPending(err)
			return err
		}
		t := s.next()
		if t == nil {
			return nil
		}
		tc := &TaskContext{scheduler: s, priority: t.priority, onceKey: t.onceKey}
		if err := t.work(ctx, tc); err != nil {
			terr := &TaskError{Priority: t.priority, Err: err}
			t.future.settle(terr)
			s.failPending(terr)
			return terr
		}
		t.future.settle(nil)
	}
}

// next pops the head task of the first non-empty priority.
func (s *Scheduler) next() *task {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.priorities {
		queue := s.pending[p]
		if len(queue) == 0 {
			continue
		}
		t := queue[0]
		s.pending[p] = queue[1:]
		if t.onceKey != "" {
			// Deregister before running so the task can re-arm itself under
			// the same key.
			delete(s.once, t.onceKey)
		}
		return t
	}
	return nil
}

func (s *Scheduler) awaitResume(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.mu.Lock()
		paused := s.paused
		resume := s.resumeCh
		s.mu.Unlock()
		if !paused {
			return nil
		}
		select {
		case <-resume:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// failPending settles every queued future with the terminal error and clears
// the queue. Already-settled priorities are not rolled back.
func (s *Scheduler) failPending(err error) {
	s.mu.Lock()
	var stranded []*task
	for p, queue := range s.pending {
		stranded = append(stranded, queue...)
		s.pending[p] = nil
	}
	s.once = make(map[string]*task)
	s.mu.Unlock()
	for _, t := range stranded {
		t.future.settle(err)
	}
}

func (s *Scheduler) hasPriority(name string) bool {
	for _, p := range s.priorities {
		if p == name {
			return true
		}
	}
	return false
}

// TaskContext is handed to running work.
type TaskContext struct {
	scheduler *Scheduler
	priority  string
	onceKey   string
}

// Priority names the priority the task runs under.
func (tc *TaskContext) Priority() string { return tc.priority }

// Rearm re-registers work under the task's own once key, so it fires again
// in a later pass of the same priority. Only valid for once-tasks.
func (tc *TaskContext) Rearm(work Work) (*Future, error) {
	if tc.onceKey == "" {
		return nil, fmt.Errorf("queue: rearm requires a once key")
	}
	return tc.scheduler.Submit(tc.priority, work, Once(tc.onceKey))
}

// Submit lets running work enqueue follow-up tasks.
func (tc *TaskContext) Submit(priority string, work Work, opts ...SubmitOption) (*Future, error) {
	return tc.scheduler.Submit(priority, work, opts...)
}
