package bank

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/mindengage-cat/internal/cat"
)

const goodFile = `[
  {"id": 1, "question": "What does JVM stand for?", "options": ["Java Virtual Machine", "Just Very Modern"],
   "answer": "Java Virtual Machine", "difficulty": "Easy", "param_a": 0.9, "param_b": -1.2, "param_c": 0.25},
  {"id": 2, "question": "Which keyword prevents inheritance?", "options": ["final", "static", "const"],
   "answer": " final ", "difficulty": "medium"}
]`

func TestLoad_ImportsWithDefaults(t *testing.T) {
	st := cat.NewInMemoryStore()
	n, err := Load(context.Background(), st, "asg-java", strings.NewReader(goodFile))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	items, err := st.GetItemsForAssignment(context.Background(), "asg-java")
	require.NoError(t, err)
	require.Len(t, items, 2)

	byID := map[string]cat.Item{}
	for _, it := range items {
		byID[it.ID] = it
	}
	first := byID[ItemID("asg-java", 1)]
	assert.Equal(t, 0.9, first.A)
	assert.Equal(t, -1.2, first.B)
	assert.Equal(t, 0.25, first.C)

	second := byID[ItemID("asg-java", 2)]
	assert.Equal(t, DefaultParamA, second.A)
	assert.Equal(t, DefaultParamB, second.B)
	assert.Equal(t, DefaultParamC, second.C)

	choices, err := st.GetChoicesForItem(context.Background(), second.ID)
	require.NoError(t, err)
	require.Len(t, choices, 3)
	assert.Equal(t, "final", choices[0].Content)
}

func TestToEntries_MarksCorrectChoice(t *testing.T) {
	items, err := Decode(strings.NewReader(goodFile))
	require.NoError(t, err)
	entries := ToEntries("asg", items)

	require.Len(t, entries[1].Choices, 3)
	assert.True(t, entries[1].Choices[0].Correct)
	assert.False(t, entries[1].Choices[1].Correct)
	assert.Equal(t, "medium", entries[1].Difficulty)
	assert.Equal(t, "easy", entries[0].Difficulty)
}

func TestItemID_StableAcrossImports(t *testing.T) {
	assert.Equal(t, ItemID("a", 7), ItemID("a", 7))
	assert.NotEqual(t, ItemID("a", 7), ItemID("b", 7))
	assert.NotEqual(t, ItemID("a", 7), ItemID("a", 8))
}

func TestValidate_ListsEveryProblem(t *testing.T) {
	bad := `[
	  {"id": 1, "question": "  ", "options": ["x"], "answer": "y", "difficulty": "trivial", "param_c": 1.5},
	  {"id": 1, "question": "ok?", "options": ["a", "b"], "answer": "a", "difficulty": "HARD", "param_a": 0}
	]`
	items, err := Decode(strings.NewReader(bad))
	require.NoError(t, err)

	err = Validate(items)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	joined := strings.Join(verr.Problems, "\n")
	assert.Contains(t, joined, "question is required")
	assert.Contains(t, joined, "options needs at least 2")
	assert.Contains(t, joined, "answer is not one of the options")
	assert.Contains(t, joined, "difficulty must be one of easy, medium, hard")
	assert.Contains(t, joined, "param_c must be within [0,1]")
	assert.Contains(t, joined, "duplicate of item 1")
	assert.Contains(t, joined, "param_a must be greater than 0")
}

func TestValidate_MissingID(t *testing.T) {
	items, err := Decode(strings.NewReader(`[{"question": "q", "options": ["a","b"], "answer": "a", "difficulty": "easy"}]`))
	require.NoError(t, err)
	err = Validate(items)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "id is required")
}

type recordingImporter struct{ calls int }

func (r *recordingImporter) ImportItems(context.Context, []cat.BankEntry) error {
	r.calls++
	return nil
}

func TestLoad_InvalidFileWritesNothing(t *testing.T) {
	imp := &recordingImporter{}
	_, err := Load(context.Background(), imp, "asg", strings.NewReader(`[{"id": 1}]`))
	require.Error(t, err)
	assert.Zero(t, imp.calls)

	_, err = Load(context.Background(), imp, "asg", strings.NewReader(`{"not": "a list"}`))
	require.Error(t, err)
	assert.Zero(t, imp.calls)

	_, err = Load(context.Background(), imp, "", strings.NewReader(goodFile))
	require.Error(t, err)
	assert.Zero(t, imp.calls)
}
