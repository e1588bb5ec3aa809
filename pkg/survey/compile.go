package survey

import (
	"github.com/expectedparrot/edsl-sub003/pkg/errors"
	"github.com/expectedparrot/edsl-sub003/pkg/expr"
)

// Compiled is a validated survey with its rules, memory plan and dependency
// graph. It is built once per job and shared read-only by every interview.
type Compiled struct {
	survey   *Survey
	index    map[string]int
	texts    []*expr.Template
	options  [][]*expr.Template
	Rules    *RuleCollection
	Memory   *MemoryPlan
	Graph    *Graph
	required Requirements
}

// Requirements lists the agent traits and scenario fields a survey reads.
type Requirements struct {
	Agent    []string
	Scenario []string
}

// Build validates s and compiles it. It fails fast on invalid names,
// unresolvable placeholders, bad rule or memory references and dependency
// cycles, before any interview starts.
func Build(s *Survey) (*Compiled, error) {
	if s == nil {
		return nil, errors.New(errors.ErrCodeSurveyInvalid, "nil survey")
	}
	if err := validateQuestions(s.questions); err != nil {
		return nil, err
	}
	res, err := newResolver(s)
	if err != nil {
		return nil, err
	}

	names := make([]string, len(s.questions))
	known := make(map[string]bool, len(s.questions))
	for i, q := range s.questions {
		names[i] = q.Name
		known[q.Name] = true
	}
	templateScope := expr.Scope{Questions: known, BareScenario: true}
	ruleScope := expr.Scope{Questions: known}

	c := &Compiled{
		survey:  s,
		index:   res.index,
		texts:   make([]*expr.Template, len(s.questions)),
		options: make([][]*expr.Template, len(s.questions)),
	}
	var refs expr.Refs

	for i, q := range s.questions {
		tmpl, err := expr.ParseTemplate(q.Text, templateScope)
		if err != nil {
			return nil, withQuestion(err, q.Name)
		}
		c.texts[i] = tmpl
		refs = mergeRefs(refs, tmpl.Refs())
		for _, opt := range q.Options {
			ot, err := expr.ParseTemplate(opt, templateScope)
			if err != nil {
				return nil, withQuestion(err, q.Name)
			}
			c.options[i] = append(c.options[i], ot)
			refs = mergeRefs(refs, ot.Refs())
		}
	}

	c.Rules, err = compileRules(s, res, ruleScope)
	if err != nil {
		return nil, err
	}
	for _, r := range c.Rules.rules {
		refs = mergeRefs(refs, r.program.Refs())
	}

	c.Memory, err = compileMemory(s, res)
	if err != nil {
		return nil, err
	}

	c.Graph, err = analyze(c, names)
	if err != nil {
		return nil, err
	}

	c.required = Requirements{Agent: refs.Agent, Scenario: refs.Scenario}
	return c, nil
}

// Analyze builds only the dependency graph of s.
func Analyze(s *Survey) (*Graph, error) {
	c, err := Build(s)
	if err != nil {
		return nil, err
	}
	return c.Graph, nil
}

func analyze(c *Compiled, names []string) (*Graph, error) {
	g := newGraph(names)

	for i := range names {
		deps := c.texts[i].Refs().Questions()
		for _, ot := range c.options[i] {
			deps = append(deps, ot.Refs().Questions()...)
		}
		for _, dep := range deps {
			g.addEdge(c.index[dep], i, ReasonTemplate)
		}
	}

	for _, r := range c.Rules.rules {
		switch r.Kind {
		case RuleSkip:
			if r.trigger >= 0 {
				g.addEdge(r.trigger, r.target, ReasonSkipRule)
			}
			for _, ref := range r.reads {
				g.addEdge(c.index[ref], r.target, ReasonSkipRule)
			}
		case RuleStop:
			for _, ref := range r.reads {
				if c.index[ref] != r.trigger {
					g.addEdge(c.index[ref], r.trigger, ReasonStopRule)
				}
			}
			// Nothing after a stop point may start before the stop decision.
			for q := r.trigger + 1; q < len(names); q++ {
				g.addEdge(r.trigger, q, ReasonStopRule)
			}
		}
	}

	for _, e := range c.Memory.edges() {
		g.addEdge(e[0], e[1], ReasonMemory)
	}

	if err := g.finish(); err != nil {
		return nil, err
	}
	return g, nil
}

func withQuestion(err error, name string) error {
	if e, ok := errors.As(err); ok {
		return e.WithContext("question", name)
	}
	return err
}

func mergeRefs(a, b expr.Refs) expr.Refs {
	return expr.Refs{
		Answers:  appendUnique(a.Answers, b.Answers),
		Comments: appendUnique(a.Comments, b.Comments),
		Agent:    appendUnique(a.Agent, b.Agent),
		Scenario: appendUnique(a.Scenario, b.Scenario),
		Model:    appendUnique(a.Model, b.Model),
	}
}

func appendUnique(dst, src []string) []string {
	for _, s := range src {
		dup := false
		for _, d := range dst {
			if d == s {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, s)
		}
	}
	return dst
}

// Survey returns the source survey.
func (c *Compiled) Survey() *Survey { return c.survey }

// Len returns the number of questions.
func (c *Compiled) Len() int { return len(c.survey.questions) }

// Question returns the question at position i.
func (c *Compiled) Question(i int) Question { return c.survey.questions[i].clone() }

// Names returns the question names in survey order.
func (c *Compiled) Names() []string {
	out := make([]string, len(c.survey.questions))
	for i, q := range c.survey.questions {
		out[i] = q.Name
	}
	return out
}

// Index returns the position of the named question.
func (c *Compiled) Index(name string) (int, bool) {
	i, ok := c.index[name]
	return i, ok
}

// Render renders the text and options of question i against env.
func (c *Compiled) Render(i int, env expr.Env) (string, []string, error) {
	text, err := c.texts[i].Render(env)
	if err != nil {
		return "", nil, withQuestion(err, c.survey.questions[i].Name)
	}
	var options []string
	for _, ot := range c.options[i] {
		opt, err := ot.Render(env)
		if err != nil {
			return "", nil, withQuestion(err, c.survey.questions[i].Name)
		}
		options = append(options, opt)
	}
	return text, options, nil
}

// RequiredFields returns the agent traits and scenario fields referenced
// anywhere in the survey, sorted.
func (c *Compiled) RequiredFields() Requirements {
	return Requirements{
		Agent:    sortedCopy(c.required.Agent),
		Scenario: sortedCopy(c.required.Scenario),
	}
}
