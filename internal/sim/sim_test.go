package sim

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/mindengage-cat/internal/cat"
	"github.com/mind-engage/mindengage-cat/internal/irt"
)

func seeded(t *testing.T, n int) (*cat.MemoryStore, *cat.Engine) {
	t.Helper()
	st := cat.NewInMemoryStore()
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < n; i++ {
		it := irt.Item{
			ID: fmt.Sprintf("item-%02d", i),
			A:  0.5 + rng.Float64()*1.5,
			B:  -3 + rng.Float64()*6,
			C:  0.1 + rng.Float64()*0.15,
		}
		require.NoError(t, st.PutItem(cat.Item{Item: it, AssignmentID: "asg", Content: it.ID},
			[]cat.Choice{{ID: it.ID + "-a", Content: "A"}, {ID: it.ID + "-b", Content: "B"}}))
	}
	eng := cat.NewEngine(st, st, st, cat.Options{Selector: irt.NewSelector(3, rand.NewSource(2))})
	return st, eng
}

func TestRunOne_ExhaustsSmallPool(t *testing.T) {
	st, eng := seeded(t, 6)
	r := NewRunner(eng, st, nil)

	run, err := r.RunOne(context.Background(), Config{CourseID: "c", AssignmentID: "asg"},
		"stu", 1.0, rand.New(rand.NewSource(5)))
	require.NoError(t, err)
	assert.True(t, run.Completed)
	require.Len(t, run.Steps, 6)
	assert.Equal(t, 6, run.TotalQuestions)

	seen := map[string]bool{}
	correct := 0
	for _, s := range run.Steps {
		assert.False(t, seen[s.ItemID], "item %s administered twice", s.ItemID)
		seen[s.ItemID] = true
		assert.GreaterOrEqual(t, s.Theta, irt.MinTheta)
		assert.LessOrEqual(t, s.Theta, irt.MaxTheta)
		if s.Response {
			correct++
		}
	}
	assert.Equal(t, correct, run.CorrectCount)
	assert.Len(t, st.Administered("stu", "c", "asg"), 6)
}

func TestRunOne_StopsAtMaxItems(t *testing.T) {
	st, eng := seeded(t, 30)
	r := NewRunner(eng, st, nil)

	run, err := r.RunOne(context.Background(), Config{CourseID: "c", AssignmentID: "asg", MaxItems: 10},
		"stu", -0.5, rand.New(rand.NewSource(9)))
	require.NoError(t, err)
	assert.False(t, run.Completed)
	assert.Len(t, run.Steps, 10)
	assert.Equal(t, 10, run.TotalQuestions)
	// Every response, including the last, reaches the response log.
	assert.Len(t, st.Administered("stu", "c", "asg"), 10)
}

func TestSimulate_ManyExamineesConcurrently(t *testing.T) {
	st, eng := seeded(t, 20)
	r := NewRunner(eng, st, nil)

	runs, err := r.Simulate(context.Background(), Config{
		CourseID: "c", AssignmentID: "asg",
		Examinees: 16, MaxItems: 8, Concurrency: 4, Seed: 100,
	})
	require.NoError(t, err)
	require.Len(t, runs, 16)
	for i, run := range runs {
		assert.Equal(t, fmt.Sprintf("sim-%04d", i), run.ExamineeID)
		assert.Len(t, run.Steps, 8)
		assert.GreaterOrEqual(t, run.FinalTheta, irt.MinTheta)
		assert.LessOrEqual(t, run.FinalTheta, irt.MaxTheta)

		a, found, err := st.GetAbility(context.Background(), run.ExamineeID, "c")
		require.NoError(t, err)
		require.True(t, found)
		assert.InDelta(t, run.UpdatedAbility, a.Theta, 1e-12)
	}
}

func TestSimulate_UnknownAssignment(t *testing.T) {
	st, eng := seeded(t, 3)
	r := NewRunner(eng, st, nil)

	_, err := r.Simulate(context.Background(), Config{CourseID: "c", AssignmentID: "missing", Examinees: 2})
	require.Error(t, err)
	assert.ErrorIs(t, err, cat.ErrInput)

	_, err = r.Simulate(context.Background(), Config{AssignmentID: "asg"})
	assert.Error(t, err)
}
