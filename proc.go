package brood

import (
	"context"
	"errors"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/Paintersrp/brood/internal/childproc"
)

// Kind distinguishes the two child flavours tracked by a Group.
type Kind string

const (
	KindFunc    Kind = "func"
	KindCommand Kind = "command"
)

// Proc is the logical handle for one spawned child. Handles are created by
// Group.Go and Group.Command and stay registered with their Group until the
// child has been reaped.
type Proc struct {
	id      int64
	name    string
	worker  int
	kind    Kind
	group   *Group
	started time.Time

	cancel context.CancelFunc
	child  *childproc.Child

	killed  atomic.Bool
	dropped atomic.Int64

	mu  sync.Mutex
	err error

	done chan struct{}
}

// ID returns the registry identifier. IDs are assigned monotonically and
// never reused within a Group.
func (p *Proc) ID() int64 {
	return p.id
}

// Name returns the label used in events and errors.
func (p *Proc) Name() string {
	return p.name
}

// Kind reports whether the child is a function or a command child.
func (p *Proc) Kind() Kind {
	return p.kind
}

// Worker returns the fan-out worker index, or -1 for children spawned
// outside a Task.
func (p *Proc) Worker() int {
	return p.worker
}

// StartedAt returns the spawn time of the child.
func (p *Proc) StartedAt() time.Time {
	return p.started
}

// Pid returns the OS process id for command children and 0 for function
// children.
func (p *Proc) Pid() int {
	if p.child == nil {
		return 0
	}
	return p.child.Pid()
}

// Done is closed once the child has exited and its bookkeeping is final.
func (p *Proc) Done() <-chan struct{} {
	return p.done
}

// Err returns the exit error recorded for the child. It is nil before Done
// closes and stable afterwards.
func (p *Proc) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Wait blocks until the child exits or ctx ends.
func (p *Proc) Wait(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return p.Err()
	}
}

// Alive reports whether the child still exists.
func (p *Proc) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
	}
	if p.child != nil {
		return p.child.Alive()
	}
	return true
}

// Kill forces immediate termination: context cancellation for function
// children, SIGKILL to the process group for command children. It does not
// wait for the child to be reaped.
func (p *Proc) Kill() {
	select {
	case <-p.done:
		return
	default:
	}
	p.killed.Store(true)
	if p.child != nil {
		p.child.Kill()
		return
	}
	p.cancel()
}

// Stop terminates the child gracefully: cancellation or SIGTERM, a grace
// window, then a forced kill. It blocks until the child has been reaped or
// ctx ends, and is safe to call multiple times. On an already-exited child it
// returns the recorded exit error.
func (p *Proc) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-p.done:
		return p.Err()
	default:
	}

	p.killed.Store(true)
	p.group.emit(Event{Child: p.name, ID: p.id, Worker: p.worker, Type: EventTypeStopping, Message: "stopping child"})

	if p.child != nil {
		// The raw exit error is recorded by the reaper goroutine; Stop only
		// drives the signal sequence.
		_ = p.child.Stop(ctx)
	} else {
		p.cancel()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return p.Err()
	}
}

// mapExit normalizes the raw exit error. Deliberate terminations collapse to
// ErrKilled; command exit statuses become *ExitError with the code preserved.
func (p *Proc) mapExit(err error) error {
	if err == nil {
		return nil
	}
	if p.killed.Load() {
		return ErrKilled
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ExitError{Code: exitErr.ExitCode(), Err: err}
	}
	return err
}

// finalize records the exit error, deregisters the handle and closes Done,
// in that order.
func (p *Proc) finalize(err error) {
	err = p.mapExit(err)
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()

	p.group.deregister(p)
	p.group.reportExit(p, err)
	close(p.done)
}
