package cli

import (
	"errors"
	"fmt"
	"testing"

	"github.com/Paintersrp/brood"
)

func TestRootRegistersSubcommands(t *testing.T) {
	root := NewRootCmd()
	for _, name := range []string{"run", "batch"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd == root {
			t.Fatalf("expected %s subcommand, got %v (%v)", name, cmd, err)
		}
	}
}

func TestExitCode(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"interrupted", errInterrupted, 130},
		{"wrapped interrupt", fmt.Errorf("run: %w", errInterrupted), 130},
		{"exit error", &brood.ExitError{Code: 3}, 3},
		{"wrapped exit error", fmt.Errorf("worker-0: %w", &brood.ExitError{Code: 7}), 7},
		{"exit zero falls back", &brood.ExitError{Code: 0}, 1},
		{"generic error", errors.New("boom"), 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := exitCode(tc.err); got != tc.want {
				t.Fatalf("exitCode(%v) = %d, want %d", tc.err, got, tc.want)
			}
		})
	}
}
