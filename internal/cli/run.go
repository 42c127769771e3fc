package cli

import (
	stdcontext "context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Paintersrp/brood"
	"github.com/Paintersrp/brood/internal/logflags"
	"github.com/Paintersrp/brood/internal/logmux"
)

const (
	eventBuffer     = 256
	shutdownTimeout = 10 * time.Second
)

func newRunCmd() *cobra.Command {
	var workers int
	var timeout time.Duration
	var dir string
	var parentEnv []string
	var statusAddr string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "run [flags] -- command [args...]",
		Short: "Fan out parallel command workers and stream their output",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := parseEnvPairs(parentEnv)
			if err != nil {
				return err
			}
			return runFanout(cmd, runOptions{
				argv:       args,
				workers:    workers,
				timeout:    timeout,
				dir:        dir,
				env:        env,
				statusAddr: statusAddr,
				jsonOut:    jsonOut,
			})
		},
	}

	cmd.Flags().IntVarP(&workers, "workers", "n", 1, "Number of parallel worker copies")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Terminate stragglers after this window (0 disables)")
	cmd.Flags().StringVar(&dir, "dir", "", "Working directory for the children")
	cmd.Flags().StringArrayVar(&parentEnv, "parent-env", nil, "Extra KEY=VALUE environment entries for the children")
	cmd.Flags().StringVar(&statusAddr, "status-addr", "", "Expose the status API and metrics on this address")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Force JSON log records even on a terminal")

	return cmd
}

type runOptions struct {
	argv       []string
	workers    int
	timeout    time.Duration
	dir        string
	env        map[string]string
	statusAddr string
	jsonOut    bool
}

func runFanout(cmd *cobra.Command, opts runOptions) error {
	ctx := cmd.Context()
	if opts.workers < 0 {
		return fmt.Errorf("invalid worker count %d", opts.workers)
	}

	events := make(chan brood.Event, eventBuffer)
	group := brood.NewGroup(brood.WithEvents(events))

	if err := serveStatus(ctx, group, opts.statusAddr); err != nil {
		return err
	}

	mux := startEventPump(events)

	label := filepath.Base(opts.argv[0])
	cmdOpts := make([]brood.CommandOption, 0, 3)
	if opts.dir != "" {
		cmdOpts = append(cmdOpts, brood.CommandDir(opts.dir))
	}
	if len(opts.env) > 0 {
		cmdOpts = append(cmdOpts, brood.CommandEnv(opts.env))
	}

	procs := make([]*brood.Proc, 0, opts.workers)
	var spawnErr error
	for i := 0; i < opts.workers; i++ {
		name := fmt.Sprintf("%s-%d", label, i)
		p, err := group.Command(ctx, name, opts.argv, append(cmdOpts, brood.CommandWorker(i))...)
		if err != nil {
			spawnErr = err
			break
		}
		procs = append(procs, p)
	}

	waited := make(chan error, 1)
	go func() {
		if spawnErr != nil {
			sctx, cancel := stdcontext.WithTimeout(stdcontext.Background(), shutdownTimeout)
			_ = group.Shutdown(sctx)
			cancel()
			waited <- spawnErr
		} else {
			waited <- waitGroup(ctx, group, opts.timeout)
		}
		close(events)
	}()

	renderEvents(cmd, mux.Output(), opts.jsonOut)

	if err := <-waited; err != nil {
		return err
	}
	return firstFailure(procs)
}

// startEventPump splits the group's event stream: log events flow into the
// returned mux, lifecycle transitions go to the diagnostic logger. The mux
// output closes once the events channel does.
func startEventPump(events chan brood.Event) *logmux.Mux {
	mux := logmux.New(eventBuffer)
	muxIn := make(chan brood.Event, eventBuffer)
	mux.Add(muxIn)
	go func() {
		logger := logflags.GroupLogger()
		for evt := range events {
			if evt.Type == brood.EventTypeLog {
				muxIn <- evt
				continue
			}
			entry := logger.WithFields(logrus.Fields{"child": evt.Child, "id": evt.ID, "worker": evt.Worker})
			if evt.Err != nil {
				entry = entry.WithError(evt.Err)
			}
			entry.Debug(string(evt.Type))
		}
		close(muxIn)
		mux.Close()
	}()
	return mux
}

// waitGroup reaps the whole group, honoring the optional deadline. Deadline
// expiry terminates stragglers and is not a failure; an interrupt surfaces
// as errInterrupted after a bounded shutdown.
func waitGroup(ctx stdcontext.Context, group *brood.Group, timeout time.Duration) error {
	wctx := ctx
	cancel := stdcontext.CancelFunc(func() {})
	if timeout > 0 {
		wctx, cancel = stdcontext.WithTimeout(ctx, timeout)
	}
	defer cancel()

	err := group.Wait(wctx)
	if err == nil {
		return nil
	}
	if wctx.Err() == nil {
		return err
	}

	sctx, scancel := stdcontext.WithTimeout(stdcontext.Background(), shutdownTimeout)
	defer scancel()
	_ = group.Shutdown(sctx)
	if ctx.Err() != nil {
		return errInterrupted
	}
	return nil
}

func firstFailure(procs []*brood.Proc) error {
	for _, p := range procs {
		if err := p.Err(); err != nil && !errors.Is(err, brood.ErrKilled) {
			return fmt.Errorf("%s: %w", p.Name(), err)
		}
	}
	return nil
}

func renderEvents(cmd *cobra.Command, events <-chan brood.Event, jsonOut bool) {
	stdout := cmd.OutOrStdout()
	stderr := cmd.ErrOrStderr()
	pretty := !jsonOut && isTerminal(stdout)
	var enc *json.Encoder
	if !pretty {
		enc = json.NewEncoder(stdout)
	}
	for evt := range events {
		if pretty {
			writePrettyEvent(stdout, evt)
		} else {
			encodeLogEvent(enc, stderr, evt)
		}
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func parseEnvPairs(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	env := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		sep := strings.IndexRune(pair, '=')
		if sep <= 0 {
			return nil, fmt.Errorf("invalid environment entry %q", pair)
		}
		env[pair[:sep]] = pair[sep+1:]
	}
	return env, nil
}
