package survey

import (
	"github.com/expectedparrot/edsl-sub003/pkg/errors"
)

// Turn is one earlier question and its answer shown as context.
type Turn struct {
	Question string `json:"question"`
	Text     string `json:"text"`
	Answer   any    `json:"answer"`
}

// MemoryPlan decides which earlier turns each question sees.
type MemoryPlan struct {
	mode      MemoryMode
	questions []Question
	// preds[i] lists the declared predecessors of question i in declaration order.
	preds [][]int
}

func compileMemory(s *Survey, res *resolver) (*MemoryPlan, error) {
	plan := &MemoryPlan{
		mode:      s.memory.Mode,
		questions: s.questions,
	}
	if plan.mode == "" {
		plan.mode = MemoryNone
	}

	switch plan.mode {
	case MemoryNone, MemoryFull:
		if len(s.memory.Targeted) > 0 {
			return nil, errors.Newf(errors.ErrCodeMemoryInvalid, "targeted pairs declared under %s memory", plan.mode)
		}
		return plan, nil
	case MemoryTargeted:
	default:
		return nil, errors.Newf(errors.ErrCodeMemoryInvalid, "unknown memory mode %q", plan.mode)
	}

	plan.preds = make([][]int, len(s.questions))
	seen := make(map[[2]int]bool)
	for _, pair := range s.memory.Targeted {
		qs, ok := res.many(pair.Question)
		if !ok {
			return nil, errors.Newf(errors.ErrCodeMemoryInvalid, "unknown question %q", pair.Question)
		}
		ps, ok := res.many(pair.Predecessor)
		if !ok {
			return nil, errors.Newf(errors.ErrCodeMemoryInvalid, "unknown predecessor %q", pair.Predecessor).
				WithContext("question", pair.Question)
		}
		for _, q := range qs {
			for _, p := range ps {
				if p == q {
					return nil, errors.Newf(errors.ErrCodeMemoryInvalid, "question %q cannot remember itself", s.questions[q].Name)
				}
				key := [2]int{q, p}
				if seen[key] {
					continue
				}
				seen[key] = true
				plan.preds[q] = append(plan.preds[q], p)
			}
		}
	}
	return plan, nil
}

// Mode returns the memory mode.
func (m *MemoryPlan) Mode() MemoryMode { return m.mode }

// edges returns (predecessor, question) pairs the dependency graph must honor.
func (m *MemoryPlan) edges() [][2]int {
	var out [][2]int
	switch m.mode {
	case MemoryFull:
		for j := range m.questions {
			for i := 0; i < j; i++ {
				out = append(out, [2]int{i, j})
			}
		}
	case MemoryTargeted:
		for q, ps := range m.preds {
			for _, p := range ps {
				out = append(out, [2]int{p, q})
			}
		}
	}
	return out
}

// ContextFor returns the turns visible to question. Under full memory that
// is every answered question before it in survey order; under targeted
// memory it is the declared predecessors that were answered, in declaration
// order. Unknown questions get no context.
func (m *MemoryPlan) ContextFor(question string, snap Snapshot) []Turn {
	pos := -1
	for i, q := range m.questions {
		if q.Name == question {
			pos = i
			break
		}
	}
	if pos < 0 {
		return nil
	}

	var positions []int
	switch m.mode {
	case MemoryFull:
		for i := 0; i < pos; i++ {
			positions = append(positions, i)
		}
	case MemoryTargeted:
		positions = m.preds[pos]
	default:
		return nil
	}

	var turns []Turn
	for _, i := range positions {
		q := m.questions[i]
		answer, ok := snap.Env.Answers[q.Name]
		if !ok {
			continue
		}
		text := q.Text
		if rendered, ok := snap.Prompts[q.Name]; ok && rendered != "" {
			text = rendered
		}
		turns = append(turns, Turn{Question: q.Name, Text: text, Answer: answer})
	}
	return turns
}
