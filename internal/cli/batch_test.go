package cli

import (
	"bytes"
	stdcontext "context"
	"errors"
	"strings"
	"testing"

	"github.com/Paintersrp/brood"
	"github.com/Paintersrp/brood/internal/config"
)

func taskfileWith(names ...string) *config.Taskfile {
	tasks := make(map[string]*config.TaskSpec, len(names))
	for _, name := range names {
		tasks[name] = &config.TaskSpec{Command: []string{"true"}, Workers: 1}
	}
	return &config.Taskfile{Version: "1", Tasks: tasks}
}

func TestSelectTasksDefaultsToAllSorted(t *testing.T) {
	doc := taskfileWith("zeta", "alpha", "mid")
	names, err := selectTasks(doc, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"alpha", "mid", "zeta"}
	if len(names) != len(want) {
		t.Fatalf("expected %v, got %v", want, names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, names)
		}
	}
}

func TestSelectTasksValidatesAndDedupes(t *testing.T) {
	doc := taskfileWith("alpha", "beta")

	names, err := selectTasks(doc, []string{"beta", "alpha", "beta"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(names) != 2 || names[0] != "beta" || names[1] != "alpha" {
		t.Fatalf("expected requested order without duplicates, got %v", names)
	}

	if _, err := selectTasks(doc, []string{"missing"}); err == nil || !strings.Contains(err.Error(), "missing") {
		t.Fatalf("expected unknown task error, got %v", err)
	}
}

func TestSuppressExits(t *testing.T) {
	ctx := stdcontext.Background()
	exit3 := func(ctx stdcontext.Context) error { return &brood.ExitError{Code: 3} }

	if err := suppressExits(exit3, []int{3})(ctx); err != nil {
		t.Fatalf("expected code 3 suppressed, got %v", err)
	}
	if err := suppressExits(exit3, []int{4})(ctx); err == nil {
		t.Fatal("expected unmatched code to propagate")
	}

	plain := func(ctx stdcontext.Context) error { return errors.New("boom") }
	if err := suppressExits(plain, []int{3})(ctx); err == nil {
		t.Fatal("expected non-exit error to propagate")
	}
}

func TestLoopOptions(t *testing.T) {
	if opts := loopOptions(&config.LoopSpec{}); len(opts) != 0 {
		t.Fatalf("expected no options for empty spec, got %d", len(opts))
	}

	retries := 2
	spec := &config.LoopSpec{MaxRetries: &retries}
	spec.Every.Duration = 10 // nanoseconds, enough to count as set
	if opts := loopOptions(spec); len(opts) != 2 {
		t.Fatalf("expected interval and restart options, got %d", len(opts))
	}
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	printSummary(&buf, []taskResult{
		{name: "build", workers: 1},
		{name: "poll", workers: 2, err: errors.New("exit status 1")},
	})

	out := buf.String()
	for _, fragment := range []string{"TASK", "build", "ok", "poll", "failed", "exit status 1"} {
		if !strings.Contains(out, fragment) {
			t.Fatalf("expected %q in summary:\n%s", fragment, out)
		}
	}
}
