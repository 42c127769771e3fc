package brood

import (
	"context"
	"errors"
	"testing"
	"time"
)

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestGoRegistersBeforeBodyRuns(t *testing.T) {
	g := NewGroup()
	registered := make(chan bool, 1)

	procCh := make(chan *Proc, 1)
	p := g.Go(context.Background(), "probe", func(ctx context.Context) error {
		self := <-procCh
		_, ok := g.Lookup(self.ID())
		registered <- ok
		return nil
	})
	procCh <- p

	select {
	case ok := <-registered:
		if !ok {
			t.Fatal("expected handle to be registered before the body runs")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("body never ran")
	}
	if err := p.Wait(waitCtx(t)); err != nil {
		t.Fatalf("unexpected exit error: %v", err)
	}
	if g.Active() != 0 {
		t.Fatalf("expected empty registry, got %d live children", g.Active())
	}
}

func TestWaitReturnsNilOnEmptyGroup(t *testing.T) {
	g := NewGroup()
	if err := g.Wait(context.Background()); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestWaitJoinsFailuresAndSkipsKilled(t *testing.T) {
	g := NewGroup()
	boom := errors.New("boom")

	g.Go(context.Background(), "failing", func(ctx context.Context) error {
		return boom
	})
	victim := g.Go(context.Background(), "victim", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	if err := victim.Stop(waitCtx(t)); !errors.Is(err, ErrKilled) {
		t.Fatalf("expected ErrKilled from Stop, got %v", err)
	}

	err := g.Wait(waitCtx(t))
	if !errors.Is(err, boom) {
		t.Fatalf("expected wait to report the failure, got %v", err)
	}
	if errors.Is(err, ErrKilled) {
		t.Fatalf("wait must not report deliberately killed children, got %v", err)
	}
}

func TestWaitReapsChildrenSpawnedDuringWait(t *testing.T) {
	g := NewGroup()
	grandchild := make(chan struct{})

	g.Go(context.Background(), "parent", func(ctx context.Context) error {
		g.Go(context.Background(), "grandchild", func(ctx context.Context) error {
			close(grandchild)
			return nil
		})
		return nil
	})

	if err := g.Wait(waitCtx(t)); err != nil {
		t.Fatalf("unexpected wait error: %v", err)
	}
	select {
	case <-grandchild:
	default:
		t.Fatal("grandchild never ran")
	}
	if g.Active() != 0 {
		t.Fatalf("expected empty registry, got %d live children", g.Active())
	}
}

func TestPanicBecomesPanicError(t *testing.T) {
	g := NewGroup()
	p := g.Go(context.Background(), "panicky", func(ctx context.Context) error {
		panic("kaboom")
	})

	err := p.Wait(waitCtx(t))
	var panicErr *PanicError
	if !errors.As(err, &panicErr) {
		t.Fatalf("expected *PanicError, got %v", err)
	}
	if panicErr.Value != "kaboom" {
		t.Fatalf("expected panic value to be preserved, got %v", panicErr.Value)
	}
	if len(panicErr.Stack) == 0 {
		t.Fatal("expected stack to be captured")
	}
}

func TestStopIsIdempotentAndRecordsErrKilled(t *testing.T) {
	g := NewGroup()
	p := g.Go(context.Background(), "sleeper", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	if err := p.Stop(waitCtx(t)); !errors.Is(err, ErrKilled) {
		t.Fatalf("expected ErrKilled, got %v", err)
	}
	if err := p.Stop(waitCtx(t)); !errors.Is(err, ErrKilled) {
		t.Fatalf("expected second Stop to return the recorded error, got %v", err)
	}
	if err := p.Err(); !errors.Is(err, ErrKilled) {
		t.Fatalf("expected recorded ErrKilled, got %v", err)
	}
	if err := p.Wait(waitCtx(t)); !errors.Is(err, ErrKilled) {
		t.Fatalf("expected Wait after exit to repeat the error, got %v", err)
	}
}

func TestKillCancelsFunctionChild(t *testing.T) {
	g := NewGroup()
	p := g.Go(context.Background(), "sleeper", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	if !p.Alive() {
		t.Fatal("expected child to be alive before kill")
	}
	p.Kill()
	if err := p.Wait(waitCtx(t)); !errors.Is(err, ErrKilled) {
		t.Fatalf("expected ErrKilled, got %v", err)
	}
	if p.Alive() {
		t.Fatal("expected child to be gone after kill")
	}
}

func TestShutdownStopsEverythingOnce(t *testing.T) {
	g := NewGroup()
	for i := 0; i < 3; i++ {
		g.Go(context.Background(), "worker", func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})
	}

	if err := g.Shutdown(waitCtx(t)); err != nil {
		t.Fatalf("expected clean shutdown, got %v", err)
	}
	if g.Active() != 0 {
		t.Fatalf("expected empty registry, got %d live children", g.Active())
	}
	if err := g.Shutdown(waitCtx(t)); err != nil {
		t.Fatalf("expected repeated shutdown to return the first result, got %v", err)
	}
}

func TestProcsSnapshotSortedAndLookup(t *testing.T) {
	g := NewGroup()
	release := make(chan struct{})
	var procs []*Proc
	for i := 0; i < 3; i++ {
		procs = append(procs, g.Go(context.Background(), "held", func(ctx context.Context) error {
			<-release
			return nil
		}))
	}

	snapshot := g.Procs()
	if len(snapshot) != 3 {
		t.Fatalf("expected 3 live handles, got %d", len(snapshot))
	}
	for i := 1; i < len(snapshot); i++ {
		if snapshot[i-1].ID() >= snapshot[i].ID() {
			t.Fatalf("expected snapshot sorted by id, got %d before %d", snapshot[i-1].ID(), snapshot[i].ID())
		}
	}
	if p, ok := g.Lookup(procs[1].ID()); !ok || p != procs[1] {
		t.Fatalf("lookup mismatch for id %d", procs[1].ID())
	}
	if _, ok := g.Lookup(999); ok {
		t.Fatal("expected unknown id to miss")
	}

	close(release)
	if err := g.Wait(waitCtx(t)); err != nil {
		t.Fatalf("unexpected wait error: %v", err)
	}
}

func TestLifecycleEventSequence(t *testing.T) {
	events := make(chan Event, 16)
	g := NewGroup(WithEvents(events))

	p := g.Go(context.Background(), "ok", func(ctx context.Context) error {
		return nil
	})
	if err := p.Wait(waitCtx(t)); err != nil {
		t.Fatalf("unexpected exit error: %v", err)
	}

	var types []EventType
	for len(events) > 0 {
		evt := <-events
		if evt.Child != "ok" {
			t.Fatalf("unexpected child %q in event", evt.Child)
		}
		types = append(types, evt.Type)
	}
	if len(types) != 2 || types[0] != EventTypeSpawned || types[1] != EventTypeExited {
		t.Fatalf("expected spawned then exited, got %v", types)
	}
}

func TestFailureEventCarriesError(t *testing.T) {
	events := make(chan Event, 16)
	g := NewGroup(WithEvents(events))
	boom := errors.New("boom")

	p := g.Go(context.Background(), "bad", func(ctx context.Context) error {
		return boom
	})
	if err := p.Wait(waitCtx(t)); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	var failed *Event
	for len(events) > 0 {
		evt := <-events
		if evt.Type == EventTypeFailed {
			failed = &evt
		}
	}
	if failed == nil {
		t.Fatal("expected a failed event")
	}
	if !errors.Is(failed.Err, boom) {
		t.Fatalf("expected event error boom, got %v", failed.Err)
	}
	if failed.Level != "error" {
		t.Fatalf("expected level error, got %q", failed.Level)
	}
}

func TestDefaultGroupHelpers(t *testing.T) {
	p := Go(context.Background(), "default", func(ctx context.Context) error {
		return nil
	})
	if p.Worker() != -1 {
		t.Fatalf("expected worker -1 outside fan-outs, got %d", p.Worker())
	}
	if err := Wait(waitCtx(t)); err != nil {
		t.Fatalf("unexpected wait error: %v", err)
	}
	if Active() != 0 {
		t.Fatalf("expected empty default group, got %d", Active())
	}
	if Default() == nil {
		t.Fatal("expected default group")
	}
}
