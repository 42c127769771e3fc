package brood

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MaxWorkers returns the advisory fan-out ceiling for the host, currently
// the number of CPUs.
func MaxWorkers() int {
	return runtime.NumCPU()
}

// Worker identifies one leg of a fan-out to the body running it.
type Worker struct {
	id     int
	parent bool
	proc   *Proc
}

// ID returns the worker index, 0..N-1 for spawned workers and -1 for the
// parent leg.
func (w Worker) ID() int {
	return w.id
}

// Parent reports whether the body is running in the calling goroutine.
func (w Worker) Parent() bool {
	return w.parent
}

// Proc returns the handle of the worker's child, nil for the parent leg.
func (w Worker) Proc() *Proc {
	return w.proc
}

// Body is the code block fanned out across workers.
type Body func(ctx context.Context, w Worker) error

// Task is a configured fan-out of N parallel worker copies of a body.
type Task struct {
	workers   int
	wait      bool
	deadline  time.Duration
	runParent bool
	noop      bool
	group     *Group
	label     string
}

// TaskOption configures a Task.
type TaskOption func(*Task)

// Workers sets the number of spawned worker copies.
func Workers(n int) TaskOption {
	return func(t *Task) {
		t.workers = n
	}
}

// WaitDone makes Run block until every worker has exited.
func WaitDone() TaskOption {
	return func(t *Task) {
		t.wait = true
	}
}

// Deadline makes Run wait up to d and then terminate stragglers. Workers
// killed this way are not counted as failures. Zero means no deadline.
func Deadline(d time.Duration) TaskOption {
	return func(t *Task) {
		t.deadline = d
	}
}

// RunParent additionally runs the body in the calling goroutine, with
// Worker.Parent() true and ID -1.
func RunParent() TaskOption {
	return func(t *Task) {
		t.runParent = true
	}
}

// Noop makes the body run inline exactly once in the caller; nothing is
// spawned and the registry is untouched. A synchronous debug mode.
func Noop() TaskOption {
	return func(t *Task) {
		t.noop = true
	}
}

// InGroup selects the Group that owns the spawned workers. Defaults to the
// package-level group.
func InGroup(g *Group) TaskOption {
	return func(t *Task) {
		if g != nil {
			t.group = g
		}
	}
}

// Label sets the name prefix used for worker handles and events.
func Label(label string) TaskOption {
	return func(t *Task) {
		t.label = label
	}
}

// NewTask builds a fan-out configuration. The zero configuration spawns a
// single worker and returns without waiting.
func NewTask(opts ...TaskOption) *Task {
	t := &Task{workers: 1}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Task) owner() *Group {
	if t.group != nil {
		return t.group
	}
	return defaultGroup
}

func (t *Task) name(worker int) string {
	label := t.label
	if label == "" {
		label = "task"
	}
	return fmt.Sprintf("%s-%d", label, worker)
}

// Start spawns the configured workers and returns without waiting. Worker i
// receives ID i; IDs are dense in spawn order. With RunParent the body also
// runs inline in the caller and its error is Start's error, never attributed
// to a child. With Noop the body runs inline once and nothing is spawned.
func (t *Task) Start(ctx context.Context, body Body) (*Run, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if t.workers < 0 {
		return nil, fmt.Errorf("invalid worker count %d", t.workers)
	}

	run := &Run{id: uuid.NewString(), task: t}
	if t.noop {
		return run, body(ctx, Worker{id: -1, parent: true})
	}

	g := t.owner()
	for i := 0; i < t.workers; i++ {
		i := i
		procCh := make(chan *Proc, 1)
		p := g.spawnFunc(ctx, t.name(i), i, func(ctx context.Context) error {
			return body(ctx, Worker{id: i, proc: <-procCh})
		})
		procCh <- p
		run.procs = append(run.procs, p)
	}

	var parentErr error
	if t.runParent {
		parentErr = body(ctx, Worker{id: -1, parent: true})
	}
	return run, parentErr
}

// Run starts the fan-out and honors the wait configuration: WaitDone blocks
// for every worker, Deadline waits out the window and terminates stragglers,
// and with neither the call returns right after spawning, leaving the
// workers to be reaped by their group.
func (t *Task) Run(ctx context.Context, body Body) error {
	run, parentErr := t.Start(ctx, body)
	if run == nil {
		return parentErr
	}

	switch {
	case t.noop:
		return parentErr
	case t.wait:
		return errors.Join(parentErr, run.Wait(ctx))
	case t.deadline > 0:
		return errors.Join(parentErr, t.waitDeadline(ctx, run))
	default:
		return parentErr
	}
}

func (t *Task) waitDeadline(ctx context.Context, run *Run) error {
	waited := make(chan error, 1)
	go func() {
		waited <- run.Wait(ctx)
	}()

	timer := t.owner().clock.NewTimer(t.deadline)
	defer timer.Stop()
	select {
	case err := <-waited:
		return err
	case <-timer.Chan():
		run.Terminate()
		return run.Wait(ctx)
	}
}

// Run is a started fan-out.
type Run struct {
	id    string
	task  *Task
	procs []*Proc

	terminateOnce sync.Once
}

// ID returns the unique identifier of this fan-out.
func (r *Run) ID() string {
	return r.id
}

// Procs returns the worker handles in spawn order.
func (r *Run) Procs() []*Proc {
	return append([]*Proc(nil), r.procs...)
}

// Terminate forcibly kills every worker. Idempotent; terminated workers
// report ErrKilled and are not counted as failures by Wait.
func (r *Run) Terminate() {
	r.terminateOnce.Do(func() {
		for _, p := range r.procs {
			p.Kill()
		}
	})
}

// Wait blocks until every worker has been reaped or ctx ends, then returns
// the joined failures. Deliberately terminated workers are clean. An
// already-done ctx returns its error without disturbing the workers.
func (r *Run) Wait(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	var errs []error
	for _, p := range r.procs {
		err := p.Wait(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil && !errors.Is(err, ErrKilled) {
			errs = append(errs, fmt.Errorf("%s: %w", p.name, err))
		}
	}
	return errors.Join(errs...)
}
