package cli

import (
	stdcontext "context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Paintersrp/brood"
	"github.com/Paintersrp/brood/internal/logflags"
)

// errInterrupted marks a run that was cut short by SIGINT/SIGTERM.
var errInterrupted = errors.New("interrupted")

func NewRootCmd() *cobra.Command {
	var logEnabled bool
	var logOutput string

	root := &cobra.Command{
		Use:   "brood",
		Short: "Run commands as managed background children",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logflags.Setup(logEnabled, logOutput)
		},
	}

	root.PersistentFlags().BoolVar(&logEnabled, "log", false, "Enable diagnostic logging")
	root.PersistentFlags().StringVar(&logOutput, "log-output", "", "Comma-separated components to log (group,cli,batch)")

	root.AddCommand(newRunCmd())
	root.AddCommand(newBatchCmd())

	root.SilenceUsage = true
	root.SilenceErrors = true

	return root
}

// Execute runs the CLI entrypoint.
func Execute() {
	ctx, stop := signal.NotifyContext(stdcontext.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCmd()
	root.SetContext(ctx)

	if err := root.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errInterrupted) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(exitCode(err))
	}
}

// exitCode maps a run failure to the process exit status: the first failing
// worker's exit code, 130 on interrupt, 1 otherwise.
func exitCode(err error) int {
	if errors.Is(err, errInterrupted) {
		return 130
	}
	var exitErr *brood.ExitError
	if errors.As(err, &exitErr) && exitErr.Code > 0 {
		return exitErr.Code
	}
	return 1
}
