package agent

import (
	"context"
	"sync"
)

// Stub is a scriptable Client that records every prompt.
type Stub struct {
	// Reply produces the result of the n-th call (starting at 1). A nil
	// Reply answers "ok".
	Reply func(n int, prompt string) (string, error)

	mu      sync.Mutex
	prompts []string
}

func (s *Stub) Invoke(ctx context.Context, prompt string) (Output, error) {
	if err := ctx.Err(); err != nil {
		return Output{}, &Error{Kind: KindUnexpected, Command: "stub", Err: err}
	}
	s.mu.Lock()
	s.prompts = append(s.prompts, prompt)
	n := len(s.prompts)
	s.mu.Unlock()

	if s.Reply == nil {
		return Output{Text: "ok", Command: []string{"stub"}}, nil
	}
	text, err := s.Reply(n, prompt)
	if err != nil {
		return Output{}, err
	}
	return Output{Text: text, Command: []string{"stub"}}, nil
}

// Prompts returns the prompts received so far, in call order.
func (s *Stub) Prompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts...)
}
