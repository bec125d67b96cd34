package cat

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/mindengage-cat/internal/irt"
)

const (
	examinee   = "stu-1"
	course     = "course-1"
	assignment = "asg-1"
)

var fiveItems = []irt.Item{
	{ID: "q1", A: 0.8, B: -1.5, C: 0.20},
	{ID: "q2", A: 1.2, B: -0.5, C: 0.25},
	{ID: "q3", A: 1.0, B: 0.0, C: 0.20},
	{ID: "q4", A: 1.6, B: 0.7, C: 0.15},
	{ID: "q5", A: 2.0, B: 1.5, C: 0.10},
}

func seedStore(t *testing.T, items []irt.Item) *MemoryStore {
	t.Helper()
	st := NewInMemoryStore()
	for _, it := range items {
		choices := []Choice{
			{ID: it.ID + "-a", Content: "A"},
			{ID: it.ID + "-b", Content: "B"},
		}
		require.NoError(t, st.PutItem(Item{Item: it, AssignmentID: assignment, Content: "stem " + it.ID}, choices))
	}
	return st
}

func newTestEngine(st Store) *Engine {
	return NewEngine(st, st, st, Options{Selector: irt.NewSelector(3, rand.NewSource(7))})
}

func TestNextStep_FirstContact(t *testing.T) {
	st := seedStore(t, fiveItems)
	eng := newTestEngine(st)

	res, err := eng.NextStep(context.Background(), NextStepRequest{
		ExamineeID: examinee, CourseID: course, AssignmentID: assignment,
	})
	require.NoError(t, err)
	require.False(t, res.Completed)
	require.NotNil(t, res.NextItem)
	assert.Len(t, res.NextItem.Choices, 2)
	assert.Equal(t, "stem "+res.NextItem.ID, res.NextItem.Content)
	assert.Equal(t, 0.0, res.ProvisionalTheta)
	assert.Nil(t, res.Estimate)

	theta, found, err := st.GetTheta(context.Background(), examinee, course)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 0.0, theta)
	assert.Empty(t, st.Administered(examinee, course, assignment))
}

func TestNextStep_FirstResponseUsesShortHistoryStep(t *testing.T) {
	st := seedStore(t, fiveItems)
	eng := newTestEngine(st)

	res, err := eng.NextStep(context.Background(), NextStepRequest{
		ExamineeID: examinee, CourseID: course, AssignmentID: assignment,
		AnsweredItemIDs: []string{"q3"},
		LastResponse:    []bool{true},
	})
	require.NoError(t, err)
	require.NotNil(t, res.Estimate)
	assert.Equal(t, irt.ReasonShortHistory, res.Estimate.Reason)
	assert.InDelta(t, 0.3, res.ProvisionalTheta, 1e-12)
	assert.NotEqual(t, "q3", res.NextItem.ID)

	recs := st.Administered(examinee, course, assignment)
	require.Len(t, recs, 1)
	assert.Equal(t, "q3", recs[0].ItemID)
	assert.True(t, recs[0].Response)
	assert.Equal(t, 0.0, recs[0].ThetaBefore)
	assert.InDelta(t, 0.3, recs[0].ThetaAfter, 1e-12)

	// The incremental step does not persist theta.
	theta, _, _ := st.GetTheta(context.Background(), examinee, course)
	assert.Equal(t, 0.0, theta)
}

func TestNextStep_LongerHistoryTakesDegradedStep(t *testing.T) {
	st := seedStore(t, fiveItems)
	eng := newTestEngine(st)
	ct := 1.0

	res, err := eng.NextStep(context.Background(), NextStepRequest{
		ExamineeID: examinee, CourseID: course, AssignmentID: assignment,
		AnsweredItemIDs: []string{"q1", "q2"},
		LastResponse:    []bool{true, false},
		ClientTheta:     &ct,
	})
	require.NoError(t, err)
	require.NotNil(t, res.Estimate)
	assert.Equal(t, irt.StatusFallback, res.Estimate.Status)
	assert.Equal(t, irt.ReasonIncompleteHistory, res.Estimate.Reason)
	assert.InDelta(t, 0.8, res.ProvisionalTheta, 1e-12)
}

func TestNextStep_ClientThetaIsClamped(t *testing.T) {
	st := seedStore(t, fiveItems)
	eng := newTestEngine(st)
	ct := 3.9

	res, err := eng.NextStep(context.Background(), NextStepRequest{
		ExamineeID: examinee, CourseID: course, AssignmentID: assignment,
		AnsweredItemIDs: []string{"q5"},
		LastResponse:    []bool{true},
		ClientTheta:     &ct,
	})
	require.NoError(t, err)
	assert.Equal(t, irt.MaxTheta, res.ProvisionalTheta)

	huge := 40.0
	res, err = eng.NextStep(context.Background(), NextStepRequest{
		ExamineeID: examinee, CourseID: course, AssignmentID: assignment,
		ClientTheta: &huge,
	})
	require.NoError(t, err)
	assert.Equal(t, irt.MaxTheta, res.ProvisionalTheta)
}

func TestNextStep_NeverReoffersAnsweredItems(t *testing.T) {
	st := seedStore(t, fiveItems)
	eng := newTestEngine(st)
	ctx := context.Background()

	for trial := 0; trial < 50; trial++ {
		answered := []string{"q1", "q4"}
		res, err := eng.NextStep(ctx, NextStepRequest{
			ExamineeID: fmt.Sprintf("stu-%d", trial), CourseID: course, AssignmentID: assignment,
			AnsweredItemIDs: answered,
			LastResponse:    []bool{false, true},
		})
		require.NoError(t, err)
		require.NotNil(t, res.NextItem)
		assert.NotContains(t, answered, res.NextItem.ID)
	}
}

func TestNextStep_CompletesWhenPoolExhausted(t *testing.T) {
	st := seedStore(t, fiveItems)
	eng := newTestEngine(st)

	res, err := eng.NextStep(context.Background(), NextStepRequest{
		ExamineeID: examinee, CourseID: course, AssignmentID: assignment,
		AnsweredItemIDs: []string{"q1", "q2", "q3", "q4", "q5"},
		LastResponse:    []bool{true, true, false, true, false},
	})
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.Nil(t, res.NextItem)
	assert.InDelta(t, -0.2, res.FinalTheta, 1e-12)
}

func TestNextStep_InputErrors(t *testing.T) {
	st := seedStore(t, fiveItems)
	eng := newTestEngine(st)
	ctx := context.Background()

	_, err := eng.NextStep(ctx, NextStepRequest{ExamineeID: examinee, AssignmentID: assignment})
	require.ErrorIs(t, err, ErrInput)
	assert.Equal(t, ReasonMissingIdentity, ReasonOf(err))

	_, err = eng.NextStep(ctx, NextStepRequest{ExamineeID: examinee, CourseID: course, AssignmentID: "nope"})
	require.ErrorIs(t, err, ErrInput)
	assert.Equal(t, ReasonNoEligibleItems, ReasonOf(err))

	// No ability row is created for a rejected request.
	_, found, _ := st.GetTheta(ctx, examinee, course)
	assert.False(t, found)
}

func TestNextStep_IncompleteItemsAreIneligible(t *testing.T) {
	st := seedStore(t, []irt.Item{{ID: "bad", A: 0, B: 0, C: 0.2}})
	eng := newTestEngine(st)

	_, err := eng.NextStep(context.Background(), NextStepRequest{
		ExamineeID: examinee, CourseID: course, AssignmentID: assignment,
	})
	require.ErrorIs(t, err, ErrInput)
}

type failingBank struct{}

func (failingBank) GetItemsForAssignment(context.Context, string) ([]Item, error) {
	return nil, errors.New("connection refused")
}
func (failingBank) GetChoicesForItem(context.Context, string) ([]Choice, error) {
	return nil, errors.New("connection refused")
}

func TestEngine_BankFailureIsUnavailable(t *testing.T) {
	st := NewInMemoryStore()
	eng := NewEngine(failingBank{}, st, st, Options{})

	_, err := eng.NextStep(context.Background(), NextStepRequest{
		ExamineeID: examinee, CourseID: course, AssignmentID: assignment,
	})
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, ReasonBankUnavailable, ReasonOf(err))
	assert.NotContains(t, ReasonOf(err), "connection refused")

	_, err = eng.Submit(context.Background(), SubmitRequest{
		ExamineeID: examinee, CourseID: course, AssignmentID: assignment,
		AnsweredItemIDs: []string{"q1"}, Responses: []bool{true},
	})
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestSubmit_Validation(t *testing.T) {
	st := seedStore(t, fiveItems)
	eng := newTestEngine(st)
	ctx := context.Background()
	base := SubmitRequest{ExamineeID: examinee, CourseID: course, AssignmentID: assignment}

	req := base
	_, err := eng.Submit(ctx, req)
	assert.Equal(t, ReasonEmptySubmission, ReasonOf(err))

	req = base
	req.AnsweredItemIDs = []string{"q1", "q2"}
	req.Responses = []bool{true}
	_, err = eng.Submit(ctx, req)
	require.ErrorIs(t, err, ErrInput)
	assert.Equal(t, ReasonLengthMismatch, ReasonOf(err))

	req = base
	req.AnsweredItemIDs = []string{"x", "y"}
	req.Responses = []bool{true, false}
	_, err = eng.Submit(ctx, req)
	assert.Equal(t, ReasonNoResolvedItems, ReasonOf(err))

	bad := 1.5
	req = base
	req.AnsweredItemIDs = []string{"q1"}
	req.Responses = []bool{true}
	req.SmoothingAlpha = &bad
	_, err = eng.Submit(ctx, req)
	assert.Equal(t, ReasonInvalidAlpha, ReasonOf(err))

	// Nothing was written by any rejected submission.
	assert.Empty(t, st.Results(examinee, course))
	_, found, _ := st.GetTheta(ctx, examinee, course)
	assert.False(t, found)
}

func TestSubmit_SmoothsIntoStoredAbility(t *testing.T) {
	st := seedStore(t, fiveItems)
	eng := newTestEngine(st)
	ctx := context.Background()
	require.NoError(t, st.UpsertTheta(ctx, examinee, course, 1.0))

	alpha := 0.5
	res, err := eng.Submit(ctx, SubmitRequest{
		ExamineeID: examinee, CourseID: course, AssignmentID: assignment,
		AnsweredItemIDs: []string{"q1", "q2", "q3", "q4", "q5", "ghost"},
		Responses:       []bool{true, true, true, false, false, true},
		SmoothingAlpha:  &alpha,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.CorrectCount)
	assert.Equal(t, 5, res.TotalQuestions)
	assert.True(t, res.Estimate.Converged())
	assert.Equal(t, 1.0, res.Estimate.Prior)
	assert.InDelta(t, 0.5*1.0+0.5*res.FinalTheta, res.UpdatedAbility, 1e-12)

	theta, _, _ := st.GetTheta(ctx, examinee, course)
	assert.Equal(t, res.UpdatedAbility, theta)

	rs := st.Results(examinee, course)
	require.Len(t, rs, 1)
	assert.Equal(t, 1.0, rs[0].ThetaBefore)
	assert.Equal(t, res.FinalTheta, rs[0].ThetaAfter)
	assert.Equal(t, res.FinalTheta, rs[0].FinalTheta)
}

func TestSubmit_DefaultAlpha(t *testing.T) {
	st := seedStore(t, fiveItems)
	eng := newTestEngine(st)

	res, err := eng.Submit(context.Background(), SubmitRequest{
		ExamineeID: examinee, CourseID: course, AssignmentID: assignment,
		AnsweredItemIDs: []string{"q3"},
		Responses:       []bool{true},
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.3, res.FinalTheta, 1e-12)
	assert.InDelta(t, 0.06, res.UpdatedAbility, 1e-12)
}

func TestSubmit_ConfiguredAlpha(t *testing.T) {
	cases := []struct {
		name  string
		alpha *float64
		want  float64
	}{
		{"nil uses default", nil, 0.06},
		{"zero keeps stored ability", ptrTo(0.0), 0},
		{"one adopts final theta", ptrTo(1.0), 0.3},
		{"out of range uses default", ptrTo(1.5), 0.06},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := seedStore(t, fiveItems)
			eng := NewEngine(st, st, st, Options{SmoothingAlpha: tc.alpha})

			res, err := eng.Submit(context.Background(), SubmitRequest{
				ExamineeID: examinee, CourseID: course, AssignmentID: assignment,
				AnsweredItemIDs: []string{"q3"},
				Responses:       []bool{true},
			})
			require.NoError(t, err)
			assert.InDelta(t, tc.want, res.UpdatedAbility, 1e-12)

			stored, found, err := st.GetTheta(context.Background(), examinee, course)
			require.NoError(t, err)
			require.True(t, found)
			assert.InDelta(t, tc.want, stored, 1e-12)
		})
	}
}

func ptrTo(v float64) *float64 { return &v }

// assertNoLostUpdate checks that two concurrent first-time submissions were
// applied one after the other.
func assertNoLostUpdate(t *testing.T, results []SubmitResult, stored float64) {
	t.Helper()
	require.Len(t, results, 2)
	first, second := results[0], results[1]
	if first.Estimate.Prior != 0 {
		first, second = second, first
	}
	assert.Equal(t, 0.0, first.Estimate.Prior)
	assert.InDelta(t, 0.2*first.FinalTheta, first.UpdatedAbility, 1e-12)
	assert.InDelta(t, first.UpdatedAbility, second.Estimate.Prior, 1e-12)
	assert.InDelta(t, 0.8*second.Estimate.Prior+0.2*second.FinalTheta, second.UpdatedAbility, 1e-12)
	assert.InDelta(t, second.UpdatedAbility, stored, 1e-12)
}

func submitConcurrently(t *testing.T, eng *Engine) []SubmitResult {
	t.Helper()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []SubmitResult
	)
	start := make(chan struct{})
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			res, err := eng.Submit(context.Background(), SubmitRequest{
				ExamineeID: examinee, CourseID: course, AssignmentID: assignment,
				AnsweredItemIDs: []string{"q1", "q2", "q3", "q4", "q5"},
				Responses:       []bool{true, true, false, true, false},
			})
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
		}()
	}
	close(start)
	wg.Wait()
	return results
}

func TestSubmit_ConcurrentFirstAttemptsKeepBothContributions(t *testing.T) {
	st := seedStore(t, fiveItems)
	eng := newTestEngine(st)

	results := submitConcurrently(t, eng)
	stored, found, err := st.GetTheta(context.Background(), examinee, course)
	require.NoError(t, err)
	require.True(t, found)
	assertNoLostUpdate(t, results, stored)
	assert.Len(t, st.Results(examinee, course), 2)
}

func TestEndToEnd_FiveItems(t *testing.T) {
	st := seedStore(t, fiveItems)
	eng := newTestEngine(st)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	var answered []string
	var responses []bool
	for step := 0; ; step++ {
		require.LessOrEqual(t, step, len(fiveItems), "engine kept offering items")
		res, err := eng.NextStep(ctx, NextStepRequest{
			ExamineeID: examinee, CourseID: course, AssignmentID: assignment,
			AnsweredItemIDs: answered,
			LastResponse:    responses,
		})
		require.NoError(t, err)
		if res.Completed {
			assert.Len(t, answered, len(fiveItems))
			assert.GreaterOrEqual(t, res.FinalTheta, irt.MinTheta)
			assert.LessOrEqual(t, res.FinalTheta, irt.MaxTheta)
			break
		}
		require.NotContains(t, answered, res.NextItem.ID)
		assert.GreaterOrEqual(t, res.ProvisionalTheta, irt.MinTheta)
		assert.LessOrEqual(t, res.ProvisionalTheta, irt.MaxTheta)
		answered = append(answered, res.NextItem.ID)
		responses = append(responses, rng.Intn(2) == 1)
	}
	assert.Len(t, st.Administered(examinee, course, assignment), len(fiveItems))

	sub, err := eng.Submit(ctx, SubmitRequest{
		ExamineeID: examinee, CourseID: course, AssignmentID: assignment,
		AnsweredItemIDs: answered,
		Responses:       responses,
	})
	require.NoError(t, err)
	want := 0
	for _, r := range responses {
		if r {
			want++
		}
	}
	assert.Equal(t, want, sub.CorrectCount)
	assert.Equal(t, len(fiveItems), sub.TotalQuestions)
	assert.GreaterOrEqual(t, sub.FinalTheta, irt.MinTheta)
	assert.LessOrEqual(t, sub.FinalTheta, irt.MaxTheta)
}

func TestAbilityKey_Unambiguous(t *testing.T) {
	assert.NotEqual(t, abilityKey("a|b", "c"), abilityKey("a", "b|c"))
}
