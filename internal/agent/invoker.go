// Package agent invokes the external AI agent CLI with a bounded wall-clock
// time and classifies every failure.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	defaultTimeout       = 300 * time.Second
	defaultProbeTimeout  = 5 * time.Second
	defaultRunnerTimeout = 10 * time.Second
	versionFlag          = "--version"
	promptFlag           = "-p"
	maxDetailBytes       = 4 << 10
)

// DefaultCandidates are probed in order when none are configured.
var DefaultCandidates = []string{"qwen", "qwen-code", "@alibaba/qwen-code", "npx qwen"}

// Output is the result of a successful invocation.
type Output struct {
	Text     string
	Command  []string
	Duration time.Duration
}

// Client is what the orchestrator needs from an agent.
type Client interface {
	Invoke(ctx context.Context, prompt string) (Output, error)
}

// Options configures an Invoker.
type Options struct {
	// Candidates are command lines such as "qwen" or "npx qwen".
	Candidates []string
	Dir        string
	Timeout    time.Duration
	// ProbeTimeout applies to single-word candidates, RunnerTimeout to
	// candidates launched through a package runner like npx.
	ProbeTimeout  time.Duration
	RunnerTimeout time.Duration
	Runner        Runner
}

// Invoker is the production Client. The agent command is discovered on
// first use and cached; a discovery cut short by cancellation is not cached.
type Invoker struct {
	opts     Options
	mu       sync.Mutex
	resolved []string
}

func NewInvoker(opts Options) *Invoker {
	if len(opts.Candidates) == 0 {
		opts.Candidates = DefaultCandidates
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = defaultProbeTimeout
	}
	if opts.RunnerTimeout <= 0 {
		opts.RunnerTimeout = defaultRunnerTimeout
	}
	if opts.Runner == nil {
		opts.Runner = ExecRunner{}
	}
	return &Invoker{opts: opts}
}

// Command returns the discovered command line, probing candidates on first
// use. It returns nil when ctx ends before discovery completes.
func (inv *Invoker) Command(ctx context.Context) []string {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if inv.resolved == nil {
		inv.resolved = inv.discover(ctx)
	}
	return inv.resolved
}

// Invoke runs "<command> -p <prompt>" in the configured directory and
// returns stdout. Failures are always *Error.
func (inv *Invoker) Invoke(ctx context.Context, prompt string) (Output, error) {
	command := inv.Command(ctx)
	if len(command) == 0 {
		if err := ctx.Err(); err != nil {
			return Output{}, &Error{Kind: KindUnexpected, Command: "<discovery>", Err: err}
		}
		return Output{}, &Error{Kind: KindNotFound, Command: "<none>"}
	}
	commandLine := strings.Join(command, " ")

	callCtx, cancel := context.WithTimeout(ctx, inv.opts.Timeout)
	defer cancel()

	args := append(append([]string(nil), command[1:]...), promptFlag, prompt)
	start := time.Now()
	res, err := inv.opts.Runner.Run(callCtx, inv.opts.Dir, command[0], args...)
	elapsed := time.Since(start)

	switch {
	case err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded):
		return Output{}, &Error{Kind: KindTimeout, Command: commandLine, Timeout: inv.opts.Timeout, Err: err}
	case err != nil && isNotFound(err):
		return Output{}, &Error{Kind: KindNotFound, Command: commandLine, Err: err}
	case err != nil:
		return Output{}, &Error{Kind: KindUnexpected, Command: commandLine, Err: err}
	case res.ExitCode != 0:
		detail := tail(strings.TrimSpace(string(res.Stderr)), maxDetailBytes)
		if detail == "" {
			detail = fmt.Sprintf("exit code %d", res.ExitCode)
		}
		return Output{}, &Error{Kind: KindNonZeroExit, Command: commandLine, ExitCode: res.ExitCode, Detail: detail}
	}

	log.Debug().Str("command", commandLine).Dur("took", elapsed).Int("stdout_bytes", len(res.Stdout)).Msg("agent finished")
	return Output{Text: string(res.Stdout), Command: command, Duration: elapsed}, nil
}

func (inv *Invoker) discover(ctx context.Context) []string {
	for _, candidate := range inv.opts.Candidates {
		if ctx.Err() != nil {
			return nil
		}
		fields := strings.Fields(candidate)
		if len(fields) == 0 {
			continue
		}
		timeout := inv.opts.ProbeTimeout
		if len(fields) > 1 {
			timeout = inv.opts.RunnerTimeout
		}
		probeCtx, cancel := context.WithTimeout(ctx, timeout)
		args := append(append([]string(nil), fields[1:]...), versionFlag)
		res, err := inv.opts.Runner.Run(probeCtx, inv.opts.Dir, fields[0], args...)
		cancel()
		if ctx.Err() != nil {
			log.Debug().Str("command", candidate).Msg("agent discovery interrupted")
			return nil
		}
		if err == nil && res.ExitCode == 0 {
			log.Info().Str("command", candidate).Msg("agent command discovered")
			return fields
		}
		log.Debug().Str("command", candidate).Err(err).Int("exit_code", res.ExitCode).Msg("agent candidate unavailable")
	}
	fallback := strings.Fields(inv.opts.Candidates[0])
	log.Warn().Strs("candidates", inv.opts.Candidates).Msg("no agent command responded, falling back to the first candidate")
	return fallback
}

// tail keeps the last limit bytes of s, cut on a rune boundary.
func tail(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return strings.ToValidUTF8(s[len(s)-limit:], "")
}

func isNotFound(err error) bool {
	return errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist)
}
