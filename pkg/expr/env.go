package expr

// Env is the data an expression or template is evaluated against.
type Env struct {
	Answers   map[string]any
	Comments  map[string]any
	Agent     map[string]any
	Scenario  map[string]any
	Model     map[string]any
	Iteration int
}

// Map flattens env into the layout compiled programs expect: question names
// at the top level bound to their answers, plus the reserved roots.
func (e Env) Map() map[string]any {
	m := make(map[string]any, len(e.Answers)+len(Reserved))
	for name, answer := range e.Answers {
		m[name] = answer
	}
	m[RootAgent] = orEmpty(e.Agent)
	m[RootScenario] = orEmpty(e.Scenario)
	m[RootComments] = orEmpty(e.Comments)
	m[RootModel] = orEmpty(e.Model)
	m[RootIteration] = e.Iteration
	return m
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
