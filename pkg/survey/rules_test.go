package survey

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/expectedparrot/edsl-sub003/pkg/expr"
)

func TestApplicableSkipTargets(t *testing.T) {
	c, err := Build(carSurvey().WithSkipRule("q1", "{{ q1.answer }} == 'No'", "q2"))
	require.NoError(t, err)

	tests := []struct {
		name string
		snap Snapshot
		want map[string]bool
	}{
		{name: "fires on No", snap: answers("q1", "No"), want: map[string]bool{"q2": true}},
		{name: "does not fire on Yes", snap: answers("q1", "Yes"), want: map[string]bool{}},
		{name: "trigger unanswered", snap: answers(), want: map[string]bool{}},
		{name: "target already answered", snap: answers("q1", "No", "q2", "red"), want: map[string]bool{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, warnings := c.Rules.ApplicableSkipTargets(tt.snap)
			assert.Empty(t, warnings)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMultipleRulesOnSameTrigger(t *testing.T) {
	s := New(
		Question{Name: "q1", Text: "a"},
		Question{Name: "q2", Text: "b"},
		Question{Name: "q3", Text: "c"},
		Question{Name: "q4", Text: "d"},
	).
		WithSkipRule("q1", "q1 == 'No'", "q2").
		WithSkipRule("q1", "q1 == 'No'", "q3").
		WithSkipRule("q1", "q1 == 'Yes'", "q4")

	c, err := Build(s)
	require.NoError(t, err)
	got, _ := c.Rules.ApplicableSkipTargets(answers("q1", "No"))
	assert.Equal(t, map[string]bool{"q2": true, "q3": true}, got)
}

func TestSkipRuleWaitsForReads(t *testing.T) {
	s := New(
		Question{Name: "q1", Text: "a"},
		Question{Name: "q2", Text: "b"},
		Question{Name: "q3", Text: "c"},
	).WithSkipIf("q3", "q2 == nil")

	c, err := Build(s)
	require.NoError(t, err)

	snap := answers("q1", "x")
	snap.Resolved = map[string]bool{"q1": true}
	got, _ := c.Rules.ApplicableSkipTargets(snap)
	assert.Empty(t, got, "q2 not resolved yet")

	snap.Resolved["q2"] = true
	got, _ = c.Rules.ApplicableSkipTargets(snap)
	assert.Equal(t, map[string]bool{"q3": true}, got, "q2 resolved without an answer")
}

func TestSkippedTriggerNeverFires(t *testing.T) {
	s := New(
		Question{Name: "q1", Text: "a"},
		Question{Name: "q2", Text: "b"},
		Question{Name: "q3", Text: "c"},
	).
		WithSkipRule("q1", "q1 == 'No'", "q2").
		WithSkipRule("q2", "true", "q3")

	c, err := Build(s)
	require.NoError(t, err)

	got, _ := c.Rules.ApplicableSkipTargets(answers("q1", "No"))
	assert.Equal(t, map[string]bool{"q2": true}, got)
}

func TestNonBooleanRuleDoesNotFire(t *testing.T) {
	c, err := Build(carSurvey().WithSkipRule("q1", "q1", "q2").WithStopRule("q1", "q1 + 'x'"))
	require.NoError(t, err)

	got, warnings := c.Rules.ApplicableSkipTargets(answers("q1", "No"))
	assert.Empty(t, got)
	assert.Len(t, warnings, 1)

	stop, warnings := c.Rules.ShouldStop("q1", answers("q1", "No"))
	assert.False(t, stop)
	assert.Len(t, warnings, 1)
}

func TestShouldStop(t *testing.T) {
	c, err := Build(carSurvey().WithStopRule("q1", "q1 == 'No'"))
	require.NoError(t, err)

	stop, _ := c.Rules.ShouldStop("q1", answers("q1", "No"))
	assert.True(t, stop)
	stop, _ = c.Rules.ShouldStop("q1", answers("q1", "Yes"))
	assert.False(t, stop)
	stop, _ = c.Rules.ShouldStop("q2", answers("q1", "No"))
	assert.False(t, stop, "rule is bound to q1 only")
	assert.Len(t, c.Rules.StopRulesFor("q1"), 1)
	assert.Empty(t, c.Rules.StopRulesFor("q2"))
}

func TestRulesReadAgentAndScenario(t *testing.T) {
	c, err := Build(carSurvey().WithSkipRule("q1", "agent.age < 18 or scenario.region == 'EU'", "q2"))
	require.NoError(t, err)

	snap := answers("q1", "Yes")
	snap.Env.Agent = map[string]any{"age": 16}
	got, _ := c.Rules.ApplicableSkipTargets(snap)
	assert.True(t, got["q2"])

	snap.Env = expr.Env{Answers: snap.Env.Answers, Agent: map[string]any{"age": 40}, Scenario: map[string]any{"region": "US"}}
	got, _ = c.Rules.ApplicableSkipTargets(snap)
	assert.False(t, got["q2"])
}
