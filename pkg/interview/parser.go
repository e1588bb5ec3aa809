package interview

import (
	"strconv"
	"strings"

	"github.com/expectedparrot/edsl-sub003/pkg/model"
	"github.com/expectedparrot/edsl-sub003/pkg/survey"
)

// Parsed is the answer and optional comment extracted from a response.
type Parsed struct {
	Answer  string
	Comment string
}

// Parser extracts an answer from a model response. Returning a
// MODEL_MALFORMED error makes the retrying caller ask again.
type Parser interface {
	Parse(q survey.Question, options []string, resp *model.Response) (Parsed, error)
}

// ParserFunc adapts a function to Parser.
type ParserFunc func(q survey.Question, options []string, resp *model.Response) (Parsed, error)

// Parse calls f.
func (f ParserFunc) Parse(q survey.Question, options []string, resp *model.Response) (Parsed, error) {
	return f(q, options, resp)
}

// LineParser takes the first non-empty line as the answer and the rest as
// the comment. When the question has options the answer must match one of
// them, ignoring case and surrounding punctuation.
type LineParser struct{}

// Parse implements Parser.
func (LineParser) Parse(q survey.Question, options []string, resp *model.Response) (Parsed, error) {
	if resp == nil {
		return Parsed{}, model.Malformed("empty response")
	}
	lines := strings.Split(strings.ReplaceAll(resp.Text, "\r\n", "\n"), "\n")

	first := -1
	for i, line := range lines {
		if strings.TrimSpace(line) != "" {
			first = i
			break
		}
	}
	if first < 0 {
		return Parsed{}, model.Malformed("response has no answer line").WithContext("question", q.Name)
	}

	answer := strings.TrimSpace(lines[first])
	comment := strings.TrimSpace(strings.Join(lines[first+1:], "\n"))

	if len(options) > 0 {
		matched, ok := matchOption(answer, options)
		if !ok {
			return Parsed{}, model.Malformed("answer is not one of the options").
				WithContext("question", q.Name).
				WithContext("answer", answer)
		}
		answer = matched
	} else if isNumeric(q.Type) {
		if _, err := strconv.ParseFloat(trimAnswer(answer), 64); err != nil {
			return Parsed{}, model.Malformed("answer is not a number").
				WithContext("question", q.Name).
				WithContext("answer", answer)
		}
		answer = trimAnswer(answer)
	}
	return Parsed{Answer: answer, Comment: comment}, nil
}

func matchOption(answer string, options []string) (string, bool) {
	want := strings.ToLower(trimAnswer(answer))
	for _, opt := range options {
		if strings.ToLower(strings.TrimSpace(opt)) == want {
			return opt, true
		}
	}
	return "", false
}

func trimAnswer(s string) string {
	return strings.Trim(strings.TrimSpace(s), ".,;:!\"'`*")
}

func isNumeric(questionType string) bool {
	switch strings.ToLower(questionType) {
	case "numerical", "numeric", "number", "linear_scale":
		return true
	}
	return false
}

// answerValue converts stored answer text to the value rules and records
// see. Numeric questions yield float64.
func answerValue(q survey.Question, text string) any {
	if isNumeric(q.Type) {
		if f, err := strconv.ParseFloat(text, 64); err == nil {
			return f
		}
	}
	return text
}
