package agent

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"
)

type call struct {
	dir  string
	name string
	args []string
}

// fakeRunner answers by executable name and records every call.
type fakeRunner struct {
	mu      sync.Mutex
	calls   []call
	results map[string]RunResult
	errs    map[string]error
}

func (f *fakeRunner) Run(ctx context.Context, dir, name string, args ...string) (RunResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{dir: dir, name: name, args: args})
	f.mu.Unlock()
	if err, ok := f.errs[name]; ok {
		return RunResult{}, err
	}
	if res, ok := f.results[name]; ok {
		return res, nil
	}
	return RunResult{}, &exec.Error{Name: name, Err: exec.ErrNotFound}
}

func (f *fakeRunner) probes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if len(c.args) > 0 && c.args[len(c.args)-1] == versionFlag {
			n++
		}
	}
	return n
}

func TestDiscoveryCachesFirstRespondingCandidate(t *testing.T) {
	runner := &fakeRunner{results: map[string]RunResult{
		"qwen-code": {Stdout: []byte("done")},
		"npx":       {},
	}}
	inv := NewInvoker(Options{Dir: "/vault", Runner: runner})

	out, err := inv.Invoke(context.Background(), "do it")
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if out.Text != "done" || strings.Join(out.Command, " ") != "qwen-code" {
		t.Fatalf("unexpected output %+v", out)
	}
	if _, err := inv.Invoke(context.Background(), "again"); err != nil {
		t.Fatalf("second invoke: %v", err)
	}
	if got := runner.probes(); got != 2 {
		t.Fatalf("expected discovery to probe twice in total, got %d", got)
	}

	last := runner.calls[len(runner.calls)-1]
	if last.dir != "/vault" || last.name != "qwen-code" || strings.Join(last.args, "|") != "-p|again" {
		t.Fatalf("unexpected invocation %+v", last)
	}
}

func TestPackageRunnerCandidateKeepsItsArguments(t *testing.T) {
	runner := &fakeRunner{results: map[string]RunResult{"npx": {Stdout: []byte("ran")}}}
	inv := NewInvoker(Options{Candidates: []string{"qwen", "npx qwen"}, Runner: runner})

	if _, err := inv.Invoke(context.Background(), "hello"); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	last := runner.calls[len(runner.calls)-1]
	if last.name != "npx" || strings.Join(last.args, "|") != "qwen|-p|hello" {
		t.Fatalf("unexpected invocation %+v", last)
	}
}

func TestFallbackCandidateFailsWithNotFound(t *testing.T) {
	inv := NewInvoker(Options{Runner: &fakeRunner{}})
	_, err := inv.Invoke(context.Background(), "x")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	var agentErr *Error
	if !errors.As(err, &agentErr) || agentErr.Command != "qwen" {
		t.Fatalf("expected fallback to first candidate, got %v", err)
	}
}

func TestNonZeroExitDetail(t *testing.T) {
	cases := []struct {
		name   string
		stderr string
		want   string
	}{
		{"with stderr", "  quota exceeded\n", "quota exceeded"},
		{"without stderr", "", "exit code 3"},
		{"long stderr keeps the tail", strings.Repeat("a", 3*maxDetailBytes) + "final line", strings.Repeat("a", maxDetailBytes-len("final line")) + "final line"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			runner := &fakeRunner{results: map[string]RunResult{
				"qwen": {ExitCode: 3, Stderr: []byte(tc.stderr)},
			}}
			inv := NewInvoker(Options{Candidates: []string{"qwen"}, Runner: runner})

			_, err := inv.Invoke(context.Background(), "x")
			var agentErr *Error
			if !errors.As(err, &agentErr) || !errors.Is(err, ErrNonZeroExit) {
				t.Fatalf("expected non-zero exit, got %v", err)
			}
			if agentErr.ExitCode != 3 || agentErr.Detail != tc.want {
				t.Fatalf("unexpected error %+v", agentErr)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("message lacks detail: %q", err.Error())
			}
		})
	}
}

// blockingRunner holds every call until its context ends.
type blockingRunner struct {
	started chan struct{}
}

func (b blockingRunner) Run(ctx context.Context, dir, name string, args ...string) (RunResult, error) {
	select {
	case b.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return RunResult{}, ctx.Err()
}

func TestCancelledDiscoveryReturnsPromptly(t *testing.T) {
	runner := blockingRunner{started: make(chan struct{}, 1)}
	inv := NewInvoker(Options{ProbeTimeout: time.Minute, RunnerTimeout: time.Minute, Runner: runner})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-runner.started
		cancel()
	}()
	start := time.Now()
	_, err := inv.Invoke(ctx, "x")
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("discovery ignored cancellation for %s", elapsed)
	}
	if !errors.Is(err, ErrUnexpected) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancelled discovery, got %v", err)
	}
	if inv.Command(ctx) != nil {
		t.Fatal("interrupted discovery must not be cached")
	}
}

func TestUnexpectedRunnerError(t *testing.T) {
	runner := &fakeRunner{errs: map[string]error{"qwen": errors.New("permission denied")}}
	inv := NewInvoker(Options{Candidates: []string{"qwen"}, Runner: runner})
	_, err := inv.Invoke(context.Background(), "x")
	if !errors.Is(err, ErrUnexpected) || errors.Is(err, ErrTimeout) {
		t.Fatalf("expected unexpected error, got %v", err)
	}
}

func TestErrorKinds(t *testing.T) {
	err := &Error{Kind: KindTimeout, Timeout: 300 * time.Second}
	if !errors.Is(err, ErrTimeout) || errors.Is(err, ErrNotFound) {
		t.Fatal("kind matching broken")
	}
	if err.Error() != "agent timed out after 5m0s" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if KindNonZeroExit.String() != "non_zero_exit" {
		t.Fatal("unexpected kind name")
	}
}

func TestStubRecordsPrompts(t *testing.T) {
	stub := &Stub{Reply: func(n int, prompt string) (string, error) {
		if n == 2 {
			return "", &Error{Kind: KindTimeout}
		}
		return "reply " + prompt, nil
	}}
	ctx := context.Background()
	if out, err := stub.Invoke(ctx, "a"); err != nil || out.Text != "reply a" {
		t.Fatalf("first call: %+v %v", out, err)
	}
	if _, err := stub.Invoke(ctx, "b"); !errors.Is(err, ErrTimeout) {
		t.Fatalf("second call: %v", err)
	}
	if got := stub.Prompts(); len(got) != 2 || got[1] != "b" {
		t.Fatalf("unexpected prompts %v", got)
	}
}
