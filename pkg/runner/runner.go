// Package runner gives the subprocess-backed diagnostic tools (ping,
// traceroute, whois, dig, netstat) the same contract the port scanner
// offers: run a bounded concurrent batch, stream results incrementally,
// honor cancellation. Output is passed through verbatim, line by line;
// nothing here interprets what a tool prints.
package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"

	"github.com/d1childress/neo/pkg/logger"
	"github.com/d1childress/neo/pkg/scan"
)

var (
	ErrUnknownTool = errors.New("unknown tool")
	ErrNoCommands  = errors.New("no commands to run")
)

// Command is one external tool invocation.
type Command struct {
	Name string
	Args []string
}

func (c Command) String() string {
	return fmt.Sprintf("%s %v", c.Name, c.Args)
}

// Output is one event from a running command: either a line of combined
// stdout/stderr, or the terminal event (Done true, Err carrying the exit
// error if the command failed).
type Output struct {
	Command Command
	Line    string
	Done    bool
	Err     error
}

// tools is the allowlist of diagnostic commands a caller may run against
// a single target argument. Anything else is rejected before exec.
var tools = map[string][]string{
	"ping":       {"ping", "-c", "4"},
	"traceroute": {"traceroute"},
	"whois":      {"whois"},
	"dig":        {"dig"},
	"netstat":    {"netstat", "-an"},
}

// Tool builds the allowlisted invocation for a named diagnostic tool.
// netstat takes no target; every other tool gets exactly one.
func Tool(name, target string) (Command, error) {
	argv, ok := tools[name]
	if !ok {
		return Command{}, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}

	cmd := Command{Name: argv[0], Args: append([]string{}, argv[1:]...)}

	if name != "netstat" {
		cmd.Args = append(cmd.Args, target)
	}

	return cmd, nil
}

// Runner executes command batches with the same admission control the
// scanner uses for probes.
type Runner struct {
	limiter *scan.Limiter
	logger  logger.Logger
}

func New(maxConcurrent int, log logger.Logger) *Runner {
	return &Runner{
		limiter: scan.NewLimiter(maxConcurrent),
		logger:  log,
	}
}

// Run starts the batch and streams output events until every command has
// finished or the context ends. The returned channel closes when the
// batch is fully resolved.
func (r *Runner) Run(ctx context.Context, cmds []Command) (<-chan Output, error) {
	if len(cmds) == 0 {
		return nil, ErrNoCommands
	}

	out := make(chan Output, len(cmds))

	go func() {
		defer close(out)

		var wg sync.WaitGroup

		for _, cmd := range cmds {
			if err := r.limiter.Acquire(ctx); err != nil {
				break
			}

			wg.Add(1)

			go func(cmd Command) {
				defer wg.Done()
				defer r.limiter.Release()

				r.runOne(ctx, cmd, out)
			}(cmd)
		}

		wg.Wait()
	}()

	return out, nil
}

func (r *Runner) runOne(ctx context.Context, cmd Command, out chan<- Output) {
	proc := exec.CommandContext(ctx, cmd.Name, cmd.Args...)

	stdout, err := proc.StdoutPipe()
	if err != nil {
		r.emit(ctx, out, Output{Command: cmd, Done: true, Err: err})
		return
	}

	// Combined stream: the tools interleave status on stderr and the
	// caller renders everything verbatim anyway.
	proc.Stderr = proc.Stdout

	if err := proc.Start(); err != nil {
		r.emit(ctx, out, Output{Command: cmd, Done: true, Err: err})
		return
	}

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		if !r.emit(ctx, out, Output{Command: cmd, Line: scanner.Text()}) {
			break
		}
	}

	err = proc.Wait()
	if ctx.Err() != nil {
		err = ctx.Err()
	}

	r.emit(ctx, out, Output{Command: cmd, Done: true, Err: err})
}

// emit delivers an event, giving up only when the consumer has stopped
// draining and the context is gone. The buffered fast path keeps terminal
// events flowing after cancellation, so a cancelled batch still resolves
// every command that started.
func (r *Runner) emit(ctx context.Context, out chan<- Output, ev Output) bool {
	select {
	case out <- ev:
		return true
	default:
	}

	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
