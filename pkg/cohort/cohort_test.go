package cohort

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/expectedparrot/edsl-sub003/pkg/model"
)

func TestProductOrderAndLen(t *testing.T) {
	p := Product{
		Agents:      []Agent{{Name: "a1"}, {Name: "a2"}},
		Scenarios:   []Scenario{{Name: "s1"}, {Name: "s2"}, {Name: "s3"}},
		Models:      []model.Spec{{Name: "m1"}, {Name: "m2"}},
		Repetitions: 2,
	}
	require.Equal(t, 24, p.Len())

	it := p.Iter()
	var got []Combination
	for {
		c, ok := it.Next()
		if !ok {
			break
		}
		got = append(got, c)
	}
	require.Len(t, got, 24)
	assert.Zero(t, it.Remaining())

	for i, c := range got {
		assert.Equal(t, i, c.Index)
	}
	assert.Equal(t, "a1", got[0].Agent.Name)
	assert.Equal(t, 1, got[1].Iteration)
	assert.Equal(t, "m2", got[2].Model.Name)
	assert.Equal(t, "s2", got[4].Scenario.Name)
	assert.Equal(t, "a2", got[12].Agent.Name)
	assert.Equal(t, Combination{Index: 23, Agent: Agent{Name: "a2"}, Scenario: Scenario{Name: "s3"}, Model: model.Spec{Name: "m2"}, Iteration: 1}, got[23])
}

func TestProductDefaults(t *testing.T) {
	p := Product{Models: []model.Spec{{Name: "m"}}}
	assert.Equal(t, 1, p.Len())
	c := p.At(0)
	assert.Equal(t, 0, c.Iteration)
	assert.Empty(t, c.Agent.Name)

	assert.Zero(t, Product{Agents: []Agent{{Name: "a"}}}.Len(), "no models means no work")
	_, ok := Product{}.Iter().Next()
	assert.False(t, ok)
}

func TestSystemPrompt(t *testing.T) {
	a := Agent{Traits: map[string]any{"persona": "student", "age": 20}}
	assert.Equal(t, "You are answering questions as if you were a human. Do not break character.\nYour traits:\n- age: 20\n- persona: student", a.SystemPrompt())

	b := Agent{Instruction: " Answer tersely. "}
	assert.Equal(t, "Answer tersely.", b.SystemPrompt())
}

func TestFieldsAndMissing(t *testing.T) {
	agent := Agent{Name: "alice", Traits: map[string]any{"age": 30}}
	fields := agent.Fields()
	assert.Equal(t, "alice", fields["name"])
	assert.Equal(t, 30, fields["age"])

	override := Agent{Name: "alice", Traits: map[string]any{"name": "Alice Smith"}}
	assert.Equal(t, "Alice Smith", override.Fields()["name"])

	scenario := Scenario{Name: "s1", Fields: map[string]any{"topic": "cats"}}
	assert.Equal(t, "cats", scenario.Values()["topic"])
	assert.Equal(t, "s1", scenario.Values()["name"])

	assert.Equal(t, []string{"city"}, Missing(fields, []string{"age", "city", "name"}))
	assert.Empty(t, Missing(Scenario{}.Values(), nil))

	assert.Empty(t, Missing(Agent{}.Fields(), []string{"name"}), "blank agents still expose a name")
	assert.Empty(t, Missing(Scenario{}.Values(), []string{"name"}), "blank scenarios still expose a name")
	assert.Equal(t, "", Agent{}.Fields()["name"])
}
