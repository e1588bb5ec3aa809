package interview

import (
	"github.com/oklog/ulid/v2"

	"github.com/expectedparrot/edsl-sub003/pkg/cohort"
	"github.com/expectedparrot/edsl-sub003/pkg/results"
	"github.com/expectedparrot/edsl-sub003/pkg/survey"
)

// Record flattens the interview state into a result record.
func (iv *Interview) Record() results.Record {
	st := iv.state
	rec := baseRecord(iv.id, iv.combo, string(st.Status))

	if st.Err != nil {
		rec[results.KeyError] = st.Err.Error()
		rec[results.KeyFailedQuestion] = st.FailedQuestion
	} else {
		rec[results.KeyError] = nil
		rec[results.KeyFailedQuestion] = nil
	}
	if len(st.Warnings) > 0 {
		rec[results.KeyWarnings] = append([]string(nil), st.Warnings...)
	}

	for _, q := range st.Questions {
		var errText, prompt, comment any
		if q.Err != nil {
			errText = q.Err.Error()
		}
		if q.Prompt != "" {
			prompt = q.Prompt
		}
		if q.Status == QuestionAnswered {
			comment = q.Comment
		}
		var seq any
		if q.Sequence > 0 {
			seq = q.Sequence
		}
		rec[results.AnswerKey(q.Name)] = q.Answer
		rec[results.CommentKey(q.Name)] = comment
		rec[results.StatusKey(q.Name)] = string(q.Status)
		rec[results.ErrorKey(q.Name)] = errText
		rec[results.CachedKey(q.Name)] = q.Cached
		rec[results.SequenceKey(q.Name)] = seq
		rec[results.PromptKey(q.Name)] = prompt
	}
	return rec
}

// Unstarted returns the record of a combination that never ran because its
// job was cancelled first. Every question is not_administered.
func Unstarted(compiled *survey.Compiled, combo cohort.Combination) results.Record {
	rec := baseRecord(ulid.Make().String(), combo, results.StatusStopped)
	rec[results.KeyError] = nil
	rec[results.KeyFailedQuestion] = nil
	for _, name := range compiled.Names() {
		rec[results.AnswerKey(name)] = nil
		rec[results.CommentKey(name)] = nil
		rec[results.StatusKey(name)] = results.QuestionNotAdministered
		rec[results.ErrorKey(name)] = nil
		rec[results.CachedKey(name)] = false
		rec[results.SequenceKey(name)] = nil
		rec[results.PromptKey(name)] = nil
	}
	return rec
}

func baseRecord(id string, combo cohort.Combination, status string) results.Record {
	rec := results.Record{
		results.KeyInterviewID: id,
		results.KeyIndex:       combo.Index,
		results.KeyIteration:   combo.Iteration,
		results.KeyStatus:      status,
	}

	rec[results.KeyAgentName] = combo.Agent.Name
	for k, v := range combo.Agent.Traits {
		rec[results.AgentKey(k)] = v
	}
	rec[results.KeyScenarioName] = combo.Scenario.Name
	for k, v := range combo.Scenario.Fields {
		rec[results.ScenarioKey(k)] = v
	}
	for k, v := range combo.Model.Params {
		rec[results.ModelKey(k)] = v
	}
	rec[results.KeyModelName] = combo.Model.Name
	rec[results.KeyModelProvider] = combo.Model.Provider
	return rec
}
