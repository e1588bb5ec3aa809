package survey

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/expectedparrot/edsl-sub003/pkg/errors"
)

func threeQuestions() *Survey {
	return New(
		Question{Name: "q1", Text: "first"},
		Question{Name: "q2", Text: "second"},
		Question{Name: "q3", Text: "third"},
	)
}

func TestMemoryNone(t *testing.T) {
	c, err := Build(threeQuestions())
	require.NoError(t, err)
	assert.Equal(t, MemoryNone, c.Memory.Mode())
	assert.Empty(t, c.Memory.ContextFor("q3", answers("q1", "a", "q2", "b")))
}

func TestMemoryFull(t *testing.T) {
	c, err := Build(threeQuestions().WithFullMemory())
	require.NoError(t, err)

	snap := answers("q1", "a")
	snap.Prompts = map[string]string{"q1": "rendered first"}
	turns := c.Memory.ContextFor("q3", snap)
	assert.Equal(t, []Turn{{Question: "q1", Text: "rendered first", Answer: "a"}}, turns, "unanswered q2 is omitted")

	assert.Empty(t, c.Memory.ContextFor("q1", snap))
	assert.Equal(t, 3, c.Graph.EdgeCount())
}

func TestMemoryTargetedDeclarationOrder(t *testing.T) {
	s := threeQuestions().
		WithTargetedMemory("q3", "q2").
		WithTargetedMemory("q3", "q1", "q2")

	c, err := Build(s)
	require.NoError(t, err)

	turns := c.Memory.ContextFor("q3", answers("q1", "a", "q2", "b"))
	require.Len(t, turns, 2)
	assert.Equal(t, "q2", turns[0].Question)
	assert.Equal(t, "q1", turns[1].Question)
	assert.Empty(t, c.Memory.ContextFor("q2", answers("q1", "a")))
	assert.Equal(t, []int{0, 1}, c.Graph.Predecessors(2))
}

func TestMemoryTargetedErrors(t *testing.T) {
	_, err := Build(threeQuestions().WithTargetedMemory("q3", "nope"))
	assert.True(t, errors.IsCode(err, errors.ErrCodeMemoryInvalid))

	_, err = Build(threeQuestions().WithTargetedMemory("q2", "q2"))
	assert.True(t, errors.IsCode(err, errors.ErrCodeMemoryInvalid))

	_, err = Build(threeQuestions().WithTargetedMemory("q1", "q2").WithTargetedMemory("q2", "q1"))
	assert.True(t, errors.IsCode(err, errors.ErrCodeDependencyCycle))
}
