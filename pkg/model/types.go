// Package model defines the model caller the interview engine talks to and
// the provider adapters behind it.
package model

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Provider names understood by the registry.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderScripted  = "scripted"
)

// Spec identifies a model and its sampling parameters.
type Spec struct {
	Name     string         `yaml:"name" json:"name"`
	Provider string         `yaml:"provider" json:"provider"`
	Params   map[string]any `yaml:"params,omitempty" json:"params,omitempty"`
}

// String returns provider/name followed by sorted params.
func (s Spec) String() string {
	var b strings.Builder
	b.WriteString(s.Provider)
	b.WriteString("/")
	b.WriteString(s.Name)
	if len(s.Params) > 0 {
		keys := make([]string, 0, len(s.Params))
		for k := range s.Params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("{")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(",")
			}
			fmt.Fprintf(&b, "%s=%v", k, s.Params[k])
		}
		b.WriteString("}")
	}
	return b.String()
}

// Float returns a numeric parameter.
func (s Spec) Float(key string) (float64, bool) {
	return toFloat(s.Params[key])
}

// Int returns an integer parameter.
func (s Spec) Int(key string) (int64, bool) {
	f, ok := toFloat(s.Params[key])
	if !ok {
		return 0, false
	}
	return int64(f), true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// Request is one rendered question sent to a model.
type Request struct {
	Model     Spec
	System    string
	Prompt    string
	Question  string
	Options   []string
	Iteration int
}

// Response is the raw model output.
type Response struct {
	Text         string
	Raw          json.RawMessage
	InputTokens  int64
	OutputTokens int64
}

// Caller invokes a model.
type Caller interface {
	Invoke(ctx context.Context, req *Request) (*Response, error)
}

// CallerFunc adapts a function to Caller.
type CallerFunc func(ctx context.Context, req *Request) (*Response, error)

// Invoke calls f.
func (f CallerFunc) Invoke(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// CheckFunc inspects a response and returns an error when it is unusable.
type CheckFunc func(*Response) error

// Checker is a caller that can retry until check accepts a response.
type Checker interface {
	Caller
	Do(ctx context.Context, req *Request, check CheckFunc) (*Response, error)
}
