package survey

import "sort"

// RuleKind distinguishes skip rules from stop rules.
type RuleKind string

const (
	RuleSkip RuleKind = "skip"
	RuleStop RuleKind = "stop"
)

// Rule is a declared skip or stop rule.
//
// A skip rule with a Trigger is evaluated once the trigger is answered and
// removes Target from the traversal. A skip rule without a Trigger is
// evaluated just before Target would be asked. A stop rule ends the interview
// once Trigger is answered and Expression is true.
type Rule struct {
	Kind       RuleKind `yaml:"kind" json:"kind"`
	Trigger    string   `yaml:"trigger,omitempty" json:"trigger,omitempty"`
	Expression string   `yaml:"if" json:"if"`
	Target     string   `yaml:"target,omitempty" json:"target,omitempty"`
	Priority   int      `yaml:"-" json:"priority"`
}

// MemoryMode selects which earlier turns a question sees.
type MemoryMode string

const (
	MemoryNone     MemoryMode = "none"
	MemoryFull     MemoryMode = "full"
	MemoryTargeted MemoryMode = "targeted"
)

// MemoryPolicy applies to the whole survey. Targeted pairs are additive.
type MemoryPolicy struct {
	Mode     MemoryMode
	Targeted []MemoryPair
}

// MemoryPair declares that Question must see Predecessor.
type MemoryPair struct {
	Question    string `yaml:"question" json:"question"`
	Predecessor string `yaml:"predecessor" json:"predecessor"`
}

// Group names a contiguous, inclusive range of question positions.
type Group struct {
	Name  string `yaml:"name" json:"name"`
	Start int    `yaml:"start" json:"start"`
	End   int    `yaml:"end" json:"end"`
}

// Built-in pseudo names.
const (
	PseudoStart = "start"
	PseudoEnd   = "end"
)

// Survey is an immutable survey definition. Every With* method returns a new
// Survey and leaves the receiver untouched, so a Survey can be shared freely.
type Survey struct {
	questions []Question
	rules     []Rule
	memory    MemoryPolicy
	groups    []Group
	pseudo    map[string]int
}

// New returns a survey over questions with no rules and no memory.
func New(questions ...Question) *Survey {
	qs := make([]Question, len(questions))
	for i, q := range questions {
		qs[i] = q.clone()
	}
	return &Survey{
		questions: qs,
		memory:    MemoryPolicy{Mode: MemoryNone},
	}
}

func (s *Survey) copy() *Survey {
	out := &Survey{
		questions: s.questions,
		rules:     append([]Rule(nil), s.rules...),
		memory: MemoryPolicy{
			Mode:     s.memory.Mode,
			Targeted: append([]MemoryPair(nil), s.memory.Targeted...),
		},
		groups: append([]Group(nil), s.groups...),
	}
	if s.pseudo != nil {
		out.pseudo = make(map[string]int, len(s.pseudo))
		for k, v := range s.pseudo {
			out.pseudo[k] = v
		}
	}
	return out
}

// WithSkipRule skips target when expression is true after trigger is answered.
func (s *Survey) WithSkipRule(trigger, expression, target string) *Survey {
	return s.withRule(Rule{Kind: RuleSkip, Trigger: trigger, Expression: expression, Target: target})
}

// WithSkipIf skips target when expression is true just before it is asked.
func (s *Survey) WithSkipIf(target, expression string) *Survey {
	return s.withRule(Rule{Kind: RuleSkip, Expression: expression, Target: target})
}

// WithStopRule ends the interview when expression is true after trigger is answered.
func (s *Survey) WithStopRule(trigger, expression string) *Survey {
	return s.withRule(Rule{Kind: RuleStop, Trigger: trigger, Expression: expression})
}

// WithRule appends a rule as declared.
func (s *Survey) WithRule(r Rule) *Survey {
	return s.withRule(r)
}

func (s *Survey) withRule(r Rule) *Survey {
	out := s.copy()
	r.Priority = len(out.rules)
	out.rules = append(out.rules, r)
	return out
}

// WithFullMemory makes every earlier answered question visible to every later one.
func (s *Survey) WithFullMemory() *Survey {
	out := s.copy()
	out.memory.Mode = MemoryFull
	out.memory.Targeted = nil
	return out
}

// WithNoMemory clears the memory policy.
func (s *Survey) WithNoMemory() *Survey {
	out := s.copy()
	out.memory = MemoryPolicy{Mode: MemoryNone}
	return out
}

// WithTargetedMemory adds predecessors to the memory of question. Calls are
// additive and repeating a pair has no effect.
func (s *Survey) WithTargetedMemory(question string, predecessors ...string) *Survey {
	out := s.copy()
	out.memory.Mode = MemoryTargeted
	for _, p := range predecessors {
		pair := MemoryPair{Question: question, Predecessor: p}
		dup := false
		for _, existing := range out.memory.Targeted {
			if existing == pair {
				dup = true
				break
			}
		}
		if !dup {
			out.memory.Targeted = append(out.memory.Targeted, pair)
		}
	}
	return out
}

// WithGroup names the inclusive position range [start, end].
func (s *Survey) WithGroup(name string, start, end int) *Survey {
	out := s.copy()
	out.groups = append(out.groups, Group{Name: name, Start: start, End: end})
	return out
}

// WithPseudo names a position that rules and memory may reference.
func (s *Survey) WithPseudo(name string, position int) *Survey {
	out := s.copy()
	if out.pseudo == nil {
		out.pseudo = make(map[string]int)
	}
	out.pseudo[name] = position
	return out
}

// Questions returns a copy of the questions in survey order.
func (s *Survey) Questions() []Question {
	out := make([]Question, len(s.questions))
	for i, q := range s.questions {
		out[i] = q.clone()
	}
	return out
}

// Rules returns the declared rules in declaration order.
func (s *Survey) Rules() []Rule {
	return append([]Rule(nil), s.rules...)
}

// Memory returns the memory policy.
func (s *Survey) Memory() MemoryPolicy {
	return MemoryPolicy{Mode: s.memory.Mode, Targeted: append([]MemoryPair(nil), s.memory.Targeted...)}
}

// Groups returns the declared groups.
func (s *Survey) Groups() []Group {
	return append([]Group(nil), s.groups...)
}

// Pseudo returns the declared pseudo names, sorted by name.
func (s *Survey) Pseudo() []string {
	names := make([]string, 0, len(s.pseudo))
	for name := range s.pseudo {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of questions.
func (s *Survey) Len() int { return len(s.questions) }
