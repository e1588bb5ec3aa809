package interview

import (
	"encoding/json"
	"time"

	"github.com/expectedparrot/edsl-sub003/pkg/results"
)

// QuestionStatus is the lifecycle position of one question.
type QuestionStatus string

const (
	QuestionPending         QuestionStatus = results.QuestionPending
	QuestionAnswered        QuestionStatus = results.QuestionAnswered
	QuestionSkipped         QuestionStatus = results.QuestionSkipped
	QuestionNotAdministered QuestionStatus = results.QuestionNotAdministered
	QuestionFailed          QuestionStatus = results.QuestionFailed
)

// Status is the lifecycle position of an interview.
type Status string

const (
	StatusPending   Status = results.StatusPending
	StatusRunning   Status = results.StatusRunning
	StatusCompleted Status = results.StatusCompleted
	StatusStopped   Status = results.StatusStopped
	StatusFailed    Status = results.StatusFailed
)

// QuestionState is what the interview knows about one question.
type QuestionState struct {
	Name       string
	Status     QuestionStatus
	Answer     any
	Comment    string
	Raw        json.RawMessage
	Text       string
	Prompt     string
	Sequence   int
	Cached     bool
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// resolved reports whether the question reached a final state.
func (q *QuestionState) resolved() bool {
	return q.Status != QuestionPending
}

// State is owned by the dispatch loop. It is never touched by the goroutines
// that call the model.
type State struct {
	Status         Status
	Questions      []QuestionState
	Warnings       []string
	Err            error
	FailedQuestion string
	Cancelled      bool
	StartedAt      time.Time
	FinishedAt     time.Time

	seq int
}

func newState(names []string) *State {
	s := &State{Status: StatusPending, Questions: make([]QuestionState, len(names))}
	for i, name := range names {
		s.Questions[i] = QuestionState{Name: name, Status: QuestionPending}
	}
	return s
}

// nextSequence returns the next answer sequence number, starting at 1.
func (s *State) nextSequence() int {
	s.seq++
	return s.seq
}
