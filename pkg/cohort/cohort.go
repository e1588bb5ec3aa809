// Package cohort describes who answers a survey: agents, scenarios and
// models, and the lazy Cartesian product of them.
package cohort

import (
	"fmt"
	"sort"
	"strings"

	"github.com/expectedparrot/edsl-sub003/pkg/model"
)

// Agent is a respondent persona.
type Agent struct {
	Name        string         `yaml:"name" json:"name"`
	Traits      map[string]any `yaml:"traits,omitempty" json:"traits,omitempty"`
	Instruction string         `yaml:"instruction,omitempty" json:"instruction,omitempty"`
}

// SystemPrompt renders the agent's instruction and traits.
func (a Agent) SystemPrompt() string {
	var b strings.Builder
	if a.Instruction != "" {
		b.WriteString(strings.TrimSpace(a.Instruction))
	} else {
		b.WriteString("You are answering questions as if you were a human. Do not break character.")
	}
	if len(a.Traits) > 0 {
		b.WriteString("\nYour traits:")
		for _, k := range sortedKeys(a.Traits) {
			fmt.Fprintf(&b, "\n- %s: %v", k, a.Traits[k])
		}
	}
	return b.String()
}

// Fields returns the traits visible to expressions as agent.<trait>. The
// agent's name is always present, possibly empty, unless a trait defines it.
func (a Agent) Fields() map[string]any {
	out := make(map[string]any, len(a.Traits)+1)
	out["name"] = a.Name
	for k, v := range a.Traits {
		out[k] = v
	}
	return out
}

// Scenario is content substituted into question templates.
type Scenario struct {
	Name   string         `yaml:"name" json:"name"`
	Fields map[string]any `yaml:"fields,omitempty" json:"fields,omitempty"`
}

// Values returns the fields visible to expressions as scenario.<field>.
// The scenario's name is always present, possibly empty.
func (s Scenario) Values() map[string]any {
	out := make(map[string]any, len(s.Fields)+1)
	out["name"] = s.Name
	for k, v := range s.Fields {
		out[k] = v
	}
	return out
}

// Missing returns the required names that fields does not define, in the
// order given.
func Missing(fields map[string]any, required []string) []string {
	var out []string
	for _, name := range required {
		if _, ok := fields[name]; !ok {
			out = append(out, name)
		}
	}
	return out
}

// Combination is one (agent, scenario, model, iteration) tuple. Index is its
// position in the product.
type Combination struct {
	Index     int
	Agent     Agent
	Scenario  Scenario
	Model     model.Spec
	Iteration int
}

// Product is the Cartesian product agents × scenarios × models × iterations.
// Empty agent or scenario sets stand for a single blank entry; an empty
// model set yields no combinations.
type Product struct {
	Agents      []Agent
	Scenarios   []Scenario
	Models      []model.Spec
	Repetitions int
}

func (p Product) dims() (agents []Agent, scenarios []Scenario, reps int) {
	agents = p.Agents
	if len(agents) == 0 {
		agents = []Agent{{}}
	}
	scenarios = p.Scenarios
	if len(scenarios) == 0 {
		scenarios = []Scenario{{}}
	}
	reps = p.Repetitions
	if reps <= 0 {
		reps = 1
	}
	return agents, scenarios, reps
}

// Len returns the number of combinations.
func (p Product) Len() int {
	agents, scenarios, reps := p.dims()
	return len(agents) * len(scenarios) * len(p.Models) * reps
}

// At returns combination i, 0 <= i < Len(). Agents vary slowest, iterations fastest.
func (p Product) At(index int) Combination {
	agents, scenarios, reps := p.dims()
	i := index
	iter := i % reps
	i /= reps
	m := i % len(p.Models)
	i /= len(p.Models)
	s := i % len(scenarios)
	a := i / len(scenarios)
	return Combination{
		Index:     index,
		Agent:     agents[a],
		Scenario:  scenarios[s],
		Model:     p.Models[m],
		Iteration: iter,
	}
}

// Iterator yields combinations one at a time without materialising the product.
type Iterator struct {
	p    Product
	next int
	n    int
}

// Iter returns an iterator positioned before the first combination.
func (p Product) Iter() *Iterator {
	return &Iterator{p: p, n: p.Len()}
}

// Next returns the next combination, or false when exhausted.
func (it *Iterator) Next() (Combination, bool) {
	if it.next >= it.n {
		return Combination{}, false
	}
	c := it.p.At(it.next)
	it.next++
	return c, true
}

// Remaining returns how many combinations are left.
func (it *Iterator) Remaining() int { return it.n - it.next }

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
