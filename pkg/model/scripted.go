package model

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
)

// Scripted answers deterministically without a network call. It is used for
// dry runs and tests. For each question it returns the scripted answer, or
// the first option, or a fixed placeholder.
type Scripted struct {
	mu      sync.RWMutex
	answers map[string]string
	calls   atomic.Int64
}

// NewScripted returns a scripted caller. answers maps question name to the
// text to return.
func NewScripted(answers map[string]string) *Scripted {
	s := &Scripted{answers: make(map[string]string, len(answers))}
	for k, v := range answers {
		s.answers[k] = v
	}
	return s
}

// Set changes the scripted answer for question.
func (s *Scripted) Set(question, answer string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers[question] = answer
}

// Calls returns how many times Invoke ran.
func (s *Scripted) Calls() int64 {
	return s.calls.Load()
}

// Invoke returns the scripted answer.
func (s *Scripted) Invoke(ctx context.Context, req *Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, classifyTransport(ctx, err, ProviderScripted)
	}
	s.calls.Add(1)

	s.mu.RLock()
	text, ok := s.answers[req.Question]
	s.mu.RUnlock()
	if !ok {
		switch {
		case len(req.Options) > 0:
			text = req.Options[0]
		default:
			text = fmt.Sprintf("scripted answer to %s", req.Question)
		}
	}

	raw, _ := json.Marshal(map[string]any{
		"provider": ProviderScripted,
		"model":    req.Model.Name,
		"question": req.Question,
		"text":     text,
	})
	return &Response{
		Text:         text,
		Raw:          raw,
		InputTokens:  int64(len(strings.Fields(req.System + " " + req.Prompt))),
		OutputTokens: int64(len(strings.Fields(text))),
	}, nil
}
