package cli

import (
	stdcontext "context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"text/tabwriter"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/cobra"

	"github.com/Paintersrp/brood"
	"github.com/Paintersrp/brood/internal/config"
	"github.com/Paintersrp/brood/internal/logflags"
)

func newBatchCmd() *cobra.Command {
	var file string
	var statusAddr string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "batch [task...]",
		Short: "Run taskfile tasks concurrently, each as its own fan-out",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, args, file, statusAddr, jsonOut)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "brood.yaml", "Path to taskfile")
	cmd.Flags().StringVar(&statusAddr, "status-addr", "", "Expose the status API and metrics on this address")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Force JSON log records even on a terminal")

	return cmd
}

type taskResult struct {
	name    string
	workers int
	err     error
}

func runBatch(cmd *cobra.Command, args []string, file, statusAddr string, jsonOut bool) error {
	ctx := cmd.Context()

	doc, err := config.Load(file)
	if err != nil {
		return err
	}
	selected, err := selectTasks(doc, args)
	if err != nil {
		return err
	}

	events := make(chan brood.Event, eventBuffer)
	group := brood.NewGroup(brood.WithEvents(events))
	if err := serveStatus(ctx, group, statusAddr); err != nil {
		return err
	}
	mux := startEventPump(events)

	results := make([]taskResult, len(selected))
	var wg sync.WaitGroup
	for i, name := range selected {
		wg.Add(1)
		go func(i int, name string, spec *config.TaskSpec) {
			defer wg.Done()
			logflags.BatchLogger().WithField("task", name).Debug("starting task")
			results[i] = taskResult{name: name, workers: spec.Workers, err: runTask(ctx, group, name, spec)}
		}(i, name, doc.Tasks[name])
	}

	waited := make(chan struct{})
	go func() {
		defer close(waited)
		wg.Wait()
		if ctx.Err() != nil {
			sctx, cancel := stdcontext.WithTimeout(stdcontext.Background(), shutdownTimeout)
			_ = group.Shutdown(sctx)
			cancel()
		} else {
			_ = group.Wait(stdcontext.Background())
		}
		close(events)
	}()

	renderEvents(cmd, mux.Output(), jsonOut)
	<-waited

	printSummary(cmd.OutOrStdout(), results)
	if ctx.Err() != nil {
		return errInterrupted
	}

	var errs []error
	for _, res := range results {
		if res.err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", res.name, res.err))
		}
	}
	return errors.Join(errs...)
}

func selectTasks(doc *config.Taskfile, args []string) ([]string, error) {
	if len(args) == 0 {
		names := make([]string, 0, len(doc.Tasks))
		for name := range doc.Tasks {
			names = append(names, name)
		}
		sort.Strings(names)
		return names, nil
	}
	seen := make(map[string]bool, len(args))
	names := make([]string, 0, len(args))
	for _, name := range args {
		if _, ok := doc.Tasks[name]; !ok {
			return nil, fmt.Errorf("unknown task %q", name)
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names, nil
}

// runTask fans out the task's workers and honors its wait configuration: a
// timeout terminates stragglers, otherwise the task blocks until every
// worker exits.
func runTask(ctx stdcontext.Context, group *brood.Group, name string, spec *config.TaskSpec) error {
	opts := []brood.TaskOption{
		brood.Workers(spec.Workers),
		brood.InGroup(group),
		brood.Label(name),
	}
	if spec.Timeout.Duration > 0 {
		opts = append(opts, brood.Deadline(spec.Timeout.Duration))
	} else {
		opts = append(opts, brood.WaitDone())
	}
	task := brood.NewTask(opts...)
	return task.Run(ctx, func(ctx stdcontext.Context, w brood.Worker) error {
		return taskBody(group, name, spec, w.ID())(ctx)
	})
}

// taskBody composes the per-worker function: run the command, suppress the
// configured exit codes, loop per the task's policy.
func taskBody(group *brood.Group, name string, spec *config.TaskSpec, worker int) brood.Func {
	fn := func(ctx stdcontext.Context) error {
		cmdOpts := []brood.CommandOption{
			brood.CommandWorker(worker),
			brood.CommandDir(spec.ResolvedDir),
		}
		if len(spec.Env) > 0 {
			cmdOpts = append(cmdOpts, brood.CommandEnv(spec.Env))
		}
		childName := fmt.Sprintf("%s-%d", name, worker)
		p, err := group.Command(ctx, childName, spec.Command, cmdOpts...)
		if err != nil {
			return err
		}
		err = p.Wait(ctx)
		if ctx.Err() != nil {
			sctx, cancel := stdcontext.WithTimeout(stdcontext.Background(), shutdownTimeout)
			defer cancel()
			_ = p.Stop(sctx)
			return ctx.Err()
		}
		return err
	}
	if len(spec.SuppressExits) > 0 {
		fn = suppressExits(fn, spec.SuppressExits)
	}
	if spec.Loop != nil {
		fn = brood.Loop(fn, loopOptions(spec.Loop)...)
	}
	return fn
}

func loopOptions(spec *config.LoopSpec) []brood.LoopOption {
	var opts []brood.LoopOption
	if spec.Every.Duration > 0 {
		opts = append(opts, brood.Every(spec.Every.Duration))
	}
	if spec.MaxRetries != nil {
		bo := backoff.NewExponentialBackOff()
		if spec.Backoff != nil {
			bo.InitialInterval = spec.Backoff.Min.Duration
			bo.MaxInterval = spec.Backoff.Max.Duration
			bo.Multiplier = spec.Backoff.Factor
		}
		bo.MaxElapsedTime = 0
		opts = append(opts, brood.Restart(*spec.MaxRetries, bo))
	}
	return opts
}

func suppressExits(fn brood.Func, codes []int) brood.Func {
	return func(ctx stdcontext.Context) error {
		err := fn(ctx)
		var exitErr *brood.ExitError
		if err != nil && errors.As(err, &exitErr) {
			for _, code := range codes {
				if exitErr.Code == code {
					return nil
				}
			}
		}
		return err
	}
}

func printSummary(w io.Writer, results []taskResult) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK\tWORKERS\tSTATUS\tDETAIL")
	for _, res := range results {
		status, detail := "ok", "-"
		if res.err != nil {
			status, detail = "failed", res.err.Error()
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", res.name, res.workers, status, detail)
	}
	_ = tw.Flush()
}
