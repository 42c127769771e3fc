package childproc

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const defaultGrace = 2 * time.Second

// Log event sources reported by command children.
const (
	SourceStdout = "stdout"
	SourceStderr = "stderr"
)

// LogEntry is a single line of child output.
type LogEntry struct {
	Message string
	Source  string
	Level   string
}

// Spec describes a command child to start.
type Spec struct {
	Name    string
	Command []string
	Dir     string
	Env     map[string]string
	Grace   time.Duration
	Clock   clockwork.Clock
}

// Start launches the command described by spec. The child runs in its own
// process group; stdout and stderr are streamed on the Logs channel until
// both pipes close, after which the channel is closed. A start failure leaves
// nothing behind to reap.
func Start(ctx context.Context, spec Spec) (*Child, error) {
	if len(spec.Command) == 0 {
		return nil, fmt.Errorf("child %s requires a command", spec.Name)
	}

	cmd := exec.CommandContext(ctx, spec.Command[0], spec.Command[1:]...)
	if spec.Dir != "" {
		cmd.Dir = spec.Dir
	}

	env := os.Environ()
	if len(spec.Env) > 0 {
		keys := make([]string, 0, len(spec.Env))
		for k := range spec.Env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			env = append(env, fmt.Sprintf("%s=%s", k, spec.Env[k]))
		}
	}
	cmd.Env = env

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("child %s stdout: %w", spec.Name, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("child %s stderr: %w", spec.Name, err)
	}

	configureCmdSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start child %s: %w", spec.Name, err)
	}

	c := &Child{
		name:     spec.Name,
		cmd:      cmd,
		grace:    spec.Grace,
		clock:    spec.Clock,
		logs:     make(chan LogEntry, 64),
		waitDone: make(chan struct{}),
	}
	if c.grace <= 0 {
		c.grace = defaultGrace
	}
	if c.clock == nil {
		c.clock = clockwork.NewRealClock()
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go c.streamLogs(stdout, SourceStdout, &wg)
	go c.streamLogs(stderr, SourceStderr, &wg)
	go func() {
		wg.Wait()
		close(c.logs)
	}()

	go func() {
		c.waitErr = cmd.Wait()
		close(c.waitDone)
	}()

	return c, nil
}

// Child is a started command process.
type Child struct {
	name  string
	cmd   *exec.Cmd
	grace time.Duration
	clock clockwork.Clock

	logs     chan LogEntry
	waitDone chan struct{}
	waitErr  error
}

// Pid returns the OS process id of the child.
func (c *Child) Pid() int {
	if c.cmd.Process == nil {
		return 0
	}
	return c.cmd.Process.Pid
}

// Logs exposes the child's output stream. The channel is closed once both
// pipes have drained.
func (c *Child) Logs() <-chan LogEntry {
	return c.logs
}

// Done is closed after the child has been reaped.
func (c *Child) Done() <-chan struct{} {
	return c.waitDone
}

// ExitErr reports the result of the reap. Only valid after Done is closed.
func (c *Child) ExitErr() error {
	return c.waitErr
}

// Wait blocks until the child is reaped or ctx ends.
func (c *Child) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.waitDone:
		return c.waitErr
	}
}

// Alive reports whether the child process still exists.
func (c *Child) Alive() bool {
	select {
	case <-c.waitDone:
		return false
	default:
	}
	return signalZero(c.cmd)
}

func (c *Child) streamLogs(r io.Reader, source string, wg *sync.WaitGroup) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\n")
		entry := LogEntry{Message: line, Source: source}
		if source == SourceStderr {
			entry.Level = "warn"
		}
		c.logs <- entry
	}
}
