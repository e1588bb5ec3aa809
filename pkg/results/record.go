// Package results holds interview records and the ordered result set of a
// job, plus its CSV, JSONL and XLSX exporters.
package results

import (
	"sort"
	"strings"
)

// Interview statuses.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusStopped   = "stopped"
	StatusFailed    = "failed"
)

// Question statuses.
const (
	QuestionPending         = "pending"
	QuestionAnswered        = "answered"
	QuestionSkipped         = "skipped"
	QuestionNotAdministered = "not_administered"
	QuestionFailed          = "failed"
)

// Record key namespaces.
const (
	KeyInterviewID    = "interview.id"
	KeyIndex          = "interview.index"
	KeyIteration      = "interview.iteration"
	KeyStatus         = "interview.status"
	KeyError          = "interview.error"
	KeyFailedQuestion = "interview.failed_question"
	KeyWarnings       = "interview.warnings"
	KeyAgentName      = "agent.name"
	KeyScenarioName   = "scenario.name"
	KeyModelName      = "model.name"
	KeyModelProvider  = "model.provider"
	prefixAgent       = "agent."
	prefixScenario    = "scenario."
	prefixModel       = "model."
	prefixAnswer      = "answer."
	prefixComment     = "comment."
	prefixStatus      = "status."
	prefixQuestionErr = "error."
	prefixCached      = "cached."
	prefixSequence    = "sequence."
	prefixPrompt      = "prompt."
)

// AgentKey returns the column for an agent trait.
func AgentKey(trait string) string { return prefixAgent + trait }

// ScenarioKey returns the column for a scenario field.
func ScenarioKey(field string) string { return prefixScenario + field }

// ModelKey returns the column for a model parameter.
func ModelKey(param string) string { return prefixModel + param }

// AnswerKey returns the answer column of question q.
func AnswerKey(q string) string { return prefixAnswer + q }

// CommentKey returns the comment column of question q.
func CommentKey(q string) string { return prefixComment + q }

// StatusKey returns the status column of question q.
func StatusKey(q string) string { return prefixStatus + q }

// ErrorKey returns the error column of question q.
func ErrorKey(q string) string { return prefixQuestionErr + q }

// CachedKey returns the cache-hit column of question q.
func CachedKey(q string) string { return prefixCached + q }

// SequenceKey returns the sequence column of question q.
func SequenceKey(q string) string { return prefixSequence + q }

// PromptKey returns the rendered prompt column of question q.
func PromptKey(q string) string { return prefixPrompt + q }

// Record is the flat result of one interview. Keys are namespaced so that
// agent traits, scenario fields and answers never collide.
type Record map[string]any

// Index returns the combination index of the interview.
func (r Record) Index() int {
	switch v := r[KeyIndex].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return -1
}

// Status returns the terminal interview status.
func (r Record) Status() string {
	s, _ := r[KeyStatus].(string)
	return s
}

// Answer returns the answer to question q, or nil.
func (r Record) Answer(q string) any {
	return r[AnswerKey(q)]
}

// QuestionStatus returns the status of question q.
func (r Record) QuestionStatus(q string) string {
	s, _ := r[StatusKey(q)].(string)
	return s
}

// Sequence returns the answer sequence number of q, or 0 when it was not
// answered.
func (r Record) Sequence(q string) int {
	n, _ := r[SequenceKey(q)].(int)
	return n
}

// Cached reports whether q was served from the cache.
func (r Record) Cached(q string) bool {
	b, _ := r[CachedKey(q)].(bool)
	return b
}

// Questions returns the question names present in the record, sorted.
func (r Record) Questions() []string {
	var out []string
	for k := range r {
		if strings.HasPrefix(k, prefixStatus) {
			out = append(out, strings.TrimPrefix(k, prefixStatus))
		}
	}
	sort.Strings(out)
	return out
}

// Clone returns a shallow copy.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
