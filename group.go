package brood

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/atomic"

	"github.com/Paintersrp/brood/internal/childproc"
	"github.com/Paintersrp/brood/internal/metrics"
)

const defaultStopGrace = 2 * time.Second

// Func is the body of a function child. The context is cancelled when the
// child is stopped, killed or its parent context ends.
type Func func(ctx context.Context) error

// Group owns the registry mapping child identifiers to logical handles. It
// spawns children, reaps them as they exit, and provides the global wait and
// terminate operations over everything it tracks.
type Group struct {
	clock  clockwork.Clock
	events chan<- Event
	grace  time.Duration

	nextID atomic.Int64

	mu    sync.Mutex
	procs map[int64]*Proc
	byPid map[int]*Proc

	shutdownOnce sync.Once
	shutdownErr  error
}

// Option configures a Group.
type Option func(*Group)

// WithClock injects the clock used for spawn timestamps, stop grace windows
// and duration bookkeeping.
func WithClock(clock clockwork.Clock) Option {
	return func(g *Group) {
		if clock != nil {
			g.clock = clock
		}
	}
}

// WithEvents wires a channel receiving lifecycle and log events. Delivery is
// best effort: events that would block are dropped. The caller must keep the
// channel open for the lifetime of the group.
func WithEvents(events chan<- Event) Option {
	return func(g *Group) {
		g.events = events
	}
}

// WithStopGrace sets the window between the graceful termination request and
// the forced kill. Defaults to 2s.
func WithStopGrace(grace time.Duration) Option {
	return func(g *Group) {
		if grace > 0 {
			g.grace = grace
		}
	}
}

// NewGroup constructs an empty registry.
func NewGroup(opts ...Option) *Group {
	g := &Group{
		clock: clockwork.NewRealClock(),
		grace: defaultStopGrace,
		procs: make(map[int64]*Proc),
		byPid: make(map[int]*Proc),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Go spawns fn as a function child. The handle is registered before the body
// runs; panics in the body are recovered into *PanicError.
func (g *Group) Go(ctx context.Context, name string, fn Func) *Proc {
	return g.spawnFunc(ctx, name, -1, fn)
}

func (g *Group) spawnFunc(ctx context.Context, name string, worker int, fn Func) *Proc {
	if ctx == nil {
		ctx = context.Background()
	}
	cctx, cancel := context.WithCancel(ctx)
	p := &Proc{
		id:      g.nextID.Inc(),
		name:    name,
		worker:  worker,
		kind:    KindFunc,
		group:   g,
		started: g.clock.Now(),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	g.register(p)
	g.emit(Event{Child: name, ID: p.id, Worker: worker, Type: EventTypeSpawned, Message: "child spawned"})
	metrics.ChildSpawned(string(KindFunc))

	go func() {
		defer cancel()
		p.finalize(Recover(fn)(cctx))
	}()
	return p
}

// CommandOption configures a command child.
type CommandOption func(*commandConfig)

type commandConfig struct {
	dir    string
	env    map[string]string
	worker int
}

// CommandDir sets the working directory of the child process.
func CommandDir(dir string) CommandOption {
	return func(c *commandConfig) {
		c.dir = dir
	}
}

// CommandEnv adds environment overrides on top of the parent environment.
func CommandEnv(env map[string]string) CommandOption {
	return func(c *commandConfig) {
		if len(env) == 0 {
			return
		}
		if c.env == nil {
			c.env = make(map[string]string, len(env))
		}
		for k, v := range env {
			c.env[k] = v
		}
	}
}

// CommandWorker tags the child with a fan-out worker index, exported to the
// child as BROOD_WORKER.
func CommandWorker(worker int) CommandOption {
	return func(c *commandConfig) {
		c.worker = worker
	}
}

// Command spawns argv as a command child in its own process group. Stdout
// and stderr are streamed as log events; the child is stopped SIGTERM first
// with the group's grace window, SIGKILL after. A start failure returns an
// error and registers nothing.
//
// Each child receives BROOD_CHILD_ID with its registry id and, when spawned
// by a Task, BROOD_WORKER with its worker index.
func (g *Group) Command(ctx context.Context, name string, argv []string, opts ...CommandOption) (*Proc, error) {
	cfg := commandConfig{worker: -1}
	for _, opt := range opts {
		opt(&cfg)
	}
	return g.spawnCommand(ctx, name, argv, cfg)
}

func (g *Group) spawnCommand(ctx context.Context, name string, argv []string, cfg commandConfig) (*Proc, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	id := g.nextID.Inc()

	env := make(map[string]string, len(cfg.env)+2)
	for k, v := range cfg.env {
		env[k] = v
	}
	env["BROOD_CHILD_ID"] = strconv.FormatInt(id, 10)
	if cfg.worker >= 0 {
		env["BROOD_WORKER"] = strconv.Itoa(cfg.worker)
	}

	child, err := childproc.Start(ctx, childproc.Spec{
		Name:    name,
		Command: argv,
		Dir:     cfg.dir,
		Env:     env,
		Grace:   g.grace,
		Clock:   g.clock,
	})
	if err != nil {
		return nil, err
	}

	p := &Proc{
		id:      id,
		name:    name,
		worker:  cfg.worker,
		kind:    KindCommand,
		group:   g,
		started: g.clock.Now(),
		child:   child,
		cancel:  func() {},
		done:    make(chan struct{}),
	}
	g.register(p)
	g.emit(Event{Child: name, ID: id, Worker: cfg.worker, Type: EventTypeSpawned, Message: "child spawned pid=" + strconv.Itoa(child.Pid())})
	metrics.ChildSpawned(string(KindCommand))

	go func() {
		for entry := range child.Logs() {
			if entry.Message == "" {
				continue
			}
			level := entry.Level
			if level == "" {
				level = "info"
			}
			g.emitLog(p, entry.Message, level, entry.Source)
		}
		<-child.Done()
		p.finalize(child.ExitErr())
	}()
	return p, nil
}

// Wait blocks until every child registered at any point during the call has
// been reaped, then returns the joined failures. Children terminated
// deliberately (ErrKilled) are not failures. An empty group returns nil
// immediately.
func (g *Group) Wait(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var errs []error
	for {
		procs := g.Procs()
		if len(procs) == 0 {
			return errors.Join(errs...)
		}
		for _, p := range procs {
			err := p.Wait(ctx)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err != nil && !errors.Is(err, ErrKilled) {
				errs = append(errs, fmt.Errorf("%s: %w", p.name, err))
			}
		}
	}
}

// Shutdown stops every live child gracefully, bounded by ctx, and waits for
// the registry to drain. It is idempotent: later calls return the first
// result. Children that die only from Shutdown's own terminations do not
// count as failures.
func (g *Group) Shutdown(ctx context.Context) error {
	g.shutdownOnce.Do(func() {
		if ctx == nil {
			ctx = context.Background()
		}
		procs := g.Procs()
		errCh := make(chan error, len(procs))
		var wg sync.WaitGroup
		for _, p := range procs {
			wg.Add(1)
			go func(p *Proc) {
				defer wg.Done()
				err := p.Stop(ctx)
				if err != nil && !errors.Is(err, ErrKilled) {
					errCh <- fmt.Errorf("%s: %w", p.name, err)
				}
			}(p)
		}
		wg.Wait()
		close(errCh)
		var errs []error
		for err := range errCh {
			errs = append(errs, err)
		}
		g.shutdownErr = errors.Join(errs...)
	})
	return g.shutdownErr
}

// Active returns the number of live children.
func (g *Group) Active() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.procs)
}

// Procs returns a snapshot of the live handles sorted by ID.
func (g *Group) Procs() []*Proc {
	g.mu.Lock()
	procs := make([]*Proc, 0, len(g.procs))
	for _, p := range g.procs {
		procs = append(procs, p)
	}
	g.mu.Unlock()
	sort.Slice(procs, func(i, j int) bool { return procs[i].id < procs[j].id })
	return procs
}

// Lookup resolves a registry id to its handle.
func (g *Group) Lookup(id int64) (*Proc, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.procs[id]
	return p, ok
}

// FindPid resolves an OS pid to the handle of a live command child.
func (g *Group) FindPid(pid int) (*Proc, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.byPid[pid]
	return p, ok
}

func (g *Group) register(p *Proc) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.procs[p.id] = p
	if pid := p.Pid(); pid != 0 {
		g.byPid[pid] = p
	}
}

func (g *Group) deregister(p *Proc) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.procs, p.id)
	if pid := p.Pid(); pid != 0 && g.byPid[pid] == p {
		delete(g.byPid, pid)
	}
}

func (g *Group) reportExit(p *Proc, err error) {
	failed := err != nil && !errors.Is(err, ErrKilled)
	metrics.ChildExited(string(p.kind), failed, g.clock.Since(p.started))

	evt := Event{Child: p.name, ID: p.id, Worker: p.worker, Err: err}
	switch {
	case err == nil:
		evt.Type = EventTypeExited
		evt.Message = "child exited"
	case errors.Is(err, ErrKilled):
		evt.Type = EventTypeKilled
		evt.Message = "child killed"
	default:
		evt.Type = EventTypeFailed
		evt.Message = "child failed"
		evt.Level = "error"
	}
	g.emit(evt)
}
