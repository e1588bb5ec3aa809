// Package survey models a survey and compiles it into the read-only form
// interviews execute: rules, memory plan and dependency graph.
package survey

import (
	"regexp"

	"github.com/expectedparrot/edsl-sub003/pkg/errors"
	"github.com/expectedparrot/edsl-sub003/pkg/expr"
)

var questionName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Question is one item of a survey. Text and options may contain
// {{ placeholder }} references to agent traits, scenario fields and the
// answers of other questions.
type Question struct {
	Name    string         `yaml:"name" json:"name"`
	Text    string         `yaml:"text" json:"text"`
	Type    string         `yaml:"type,omitempty" json:"type,omitempty"`
	Options []string       `yaml:"options,omitempty" json:"options,omitempty"`
	Extra   map[string]any `yaml:"extra,omitempty" json:"extra,omitempty"`
}

func (q Question) clone() Question {
	out := q
	if q.Options != nil {
		out.Options = append([]string(nil), q.Options...)
	}
	if q.Extra != nil {
		out.Extra = make(map[string]any, len(q.Extra))
		for k, v := range q.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

func validateQuestions(questions []Question) error {
	if len(questions) == 0 {
		return errors.New(errors.ErrCodeSurveyInvalid, "survey has no questions")
	}
	seen := make(map[string]int, len(questions))
	for i, q := range questions {
		if !questionName.MatchString(q.Name) {
			return errors.Newf(errors.ErrCodeSurveyInvalid, "invalid question name %q", q.Name).
				WithContext("position", i)
		}
		if expr.IsReserved(q.Name) {
			return errors.Newf(errors.ErrCodeSurveyInvalid, "question name %q is reserved", q.Name).
				WithContext("position", i)
		}
		if prev, ok := seen[q.Name]; ok {
			return errors.Newf(errors.ErrCodeSurveyInvalid, "duplicate question name %q", q.Name).
				WithContext("first", prev).
				WithContext("second", i)
		}
		seen[q.Name] = i
	}
	return nil
}
