// Package cat coordinates adaptive test sessions: it loads ability, feeds new
// evidence to the estimator, picks the next item and folds finished attempts
// back into the stored ability.
package cat

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mind-engage/mindengage-cat/internal/irt"
	"github.com/mind-engage/mindengage-cat/internal/lock"
	"github.com/mind-engage/mindengage-cat/internal/logger"
	"github.com/mind-engage/mindengage-cat/internal/metrics"
)

const DefaultSmoothingAlpha = 0.2

type Options struct {
	// SmoothingAlpha is the weight of an attempt's final theta when folded
	// into the stored ability. Nil selects DefaultSmoothingAlpha; zero keeps
	// the stored ability unchanged.
	SmoothingAlpha *float64
	Estimator      irt.Estimator
	// Selector defaults to a clock-seeded top-3 selector.
	Selector *irt.Selector
	// Locker defaults to an in-process keyed mutex.
	Locker lock.Locker
	Logger *logger.Logger
	Now    func() time.Time
}

// Engine holds no per-session state; every call is rebuilt from the stored
// ability and the caller's answered-item list.
type Engine struct {
	bank      QuestionBank
	abilities AbilityStore
	log       ResponseLog

	alpha     float64
	estimator irt.Estimator
	selector  *irt.Selector
	locker    lock.Locker
	logger    *logger.Logger
	now       func() time.Time
}

func NewEngine(bank QuestionBank, abilities AbilityStore, log ResponseLog, opts Options) *Engine {
	e := &Engine{
		bank:      bank,
		abilities: abilities,
		log:       log,
		alpha:     DefaultSmoothingAlpha,
		estimator: opts.Estimator,
		selector:  opts.Selector,
		locker:    opts.Locker,
		logger:    opts.Logger,
		now:       opts.Now,
	}
	if e.selector == nil {
		e.selector = irt.NewSelector(irt.DefaultTopK, nil)
	}
	if e.locker == nil {
		e.locker = lock.NewKeyedMutex()
	}
	if e.logger == nil {
		e.logger = logger.Nop()
	}
	if e.now == nil {
		e.now = time.Now
	}
	if a := opts.SmoothingAlpha; a != nil {
		if validAlpha(*a) {
			e.alpha = *a
		} else {
			e.logger.Warn("smoothing alpha outside [0,1], using default", "alpha", *a, "default", DefaultSmoothingAlpha)
		}
	}
	return e
}

// NextStep consumes the most recent response, if any, and returns either the
// next item to administer or a completion once every item has been answered.
func (e *Engine) NextStep(ctx context.Context, req NextStepRequest) (res NextStepResult, err error) {
	defer func() { e.observe(err) }()

	if blank(req.ExamineeID, req.CourseID, req.AssignmentID) {
		return NextStepResult{}, inputError(ReasonMissingIdentity)
	}
	items, err := e.eligibleItems(ctx, req.AssignmentID)
	if err != nil {
		return NextStepResult{}, err
	}

	unlock, err := e.lockAbility(ctx, req.ExamineeID, req.CourseID)
	if err != nil {
		return NextStepResult{}, err
	}
	defer unlock()

	theta, found, err := e.abilities.GetTheta(ctx, req.ExamineeID, req.CourseID)
	if err != nil {
		return NextStepResult{}, unavailable(ReasonAbilityStore, err)
	}
	if !found {
		theta = 0
		if err := e.abilities.UpsertTheta(ctx, req.ExamineeID, req.CourseID, theta); err != nil {
			return NextStepResult{}, unavailable(ReasonAbilityStore, err)
		}
		e.logger.Debug("ability created", "examinee_id", req.ExamineeID, "course_id", req.CourseID)
	}
	if req.ClientTheta != nil {
		theta = irt.Clamp(*req.ClientTheta)
	}

	byID := indexItems(items)

	if len(req.LastResponse) > 0 && len(req.AnsweredItemIDs) > 0 {
		history := make([]irt.Item, 0, len(req.AnsweredItemIDs))
		for _, id := range req.AnsweredItemIDs {
			if it, ok := byID[id]; ok {
				history = append(history, it.Item)
			}
		}
		last := req.LastResponse[len(req.LastResponse)-1]
		est := e.estimator.Estimate(theta, history, []bool{last})
		e.recordEstimate("incremental", req.ExamineeID, est)

		rec := AdministeredRecord{
			ID:           uuid.NewString(),
			ExamineeID:   req.ExamineeID,
			CourseID:     req.CourseID,
			AssignmentID: req.AssignmentID,
			ItemID:       req.AnsweredItemIDs[len(req.AnsweredItemIDs)-1],
			Response:     last,
			ThetaBefore:  est.Prior,
			ThetaAfter:   est.Theta,
			At:           e.now(),
		}
		if err := e.log.AppendAdministered(ctx, rec); err != nil {
			return NextStepResult{}, unavailable(ReasonResponseLog, err)
		}
		theta = est.Theta
		res.Estimate = &est
	}

	answered := make(map[string]struct{}, len(req.AnsweredItemIDs))
	for _, id := range req.AnsweredItemIDs {
		answered[id] = struct{}{}
	}
	pool := make([]irt.Item, 0, len(items))
	for _, it := range items {
		if _, seen := answered[it.ID]; !seen {
			pool = append(pool, it.Item)
		}
	}

	next, ok := e.selector.SelectNext(pool, theta)
	if !ok {
		metrics.RecordCompletion()
		e.logger.Info("assessment complete",
			"examinee_id", req.ExamineeID, "assignment_id", req.AssignmentID, "final_theta", theta)
		res.Completed = true
		res.FinalTheta = theta
		return res, nil
	}

	choices, err := e.bank.GetChoicesForItem(ctx, next.ID)
	if err != nil {
		return NextStepResult{}, unavailable(ReasonBankUnavailable, err)
	}
	metrics.RecordSelection()
	res.NextItem = &Question{ID: next.ID, Content: byID[next.ID].Content, Choices: choices}
	res.ProvisionalTheta = theta
	return res, nil
}

// Submit refits theta over the whole attempt, records the result and folds
// it into the stored ability by exponential smoothing.
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (res SubmitResult, err error) {
	defer func() { e.observe(err) }()

	if blank(req.ExamineeID, req.CourseID, req.AssignmentID) {
		return SubmitResult{}, inputError(ReasonMissingIdentity)
	}
	if len(req.AnsweredItemIDs) == 0 || len(req.Responses) == 0 {
		return SubmitResult{}, inputError(ReasonEmptySubmission)
	}
	if len(req.AnsweredItemIDs) != len(req.Responses) {
		return SubmitResult{}, inputError(ReasonLengthMismatch)
	}
	alpha := e.alpha
	if req.SmoothingAlpha != nil {
		alpha = *req.SmoothingAlpha
		if !validAlpha(alpha) {
			return SubmitResult{}, inputError(ReasonInvalidAlpha)
		}
	}

	items, err := e.eligibleItems(ctx, req.AssignmentID)
	if err != nil {
		return SubmitResult{}, err
	}
	byID := indexItems(items)

	// Answers to items outside the assignment are ignored.
	history := make([]irt.Item, 0, len(req.AnsweredItemIDs))
	responses := make([]bool, 0, len(req.Responses))
	correct := 0
	for i, id := range req.AnsweredItemIDs {
		it, ok := byID[id]
		if !ok {
			continue
		}
		history = append(history, it.Item)
		responses = append(responses, req.Responses[i])
		if req.Responses[i] {
			correct++
		}
	}
	if len(history) == 0 {
		return SubmitResult{}, inputError(ReasonNoResolvedItems)
	}

	unlock, err := e.lockAbility(ctx, req.ExamineeID, req.CourseID)
	if err != nil {
		return SubmitResult{}, err
	}
	defer unlock()

	before, _, err := e.abilities.GetTheta(ctx, req.ExamineeID, req.CourseID)
	if err != nil {
		return SubmitResult{}, unavailable(ReasonAbilityStore, err)
	}

	est := e.estimator.Estimate(before, history, responses)
	e.recordEstimate("submit", req.ExamineeID, est)

	result := SubmissionResult{
		ID:             uuid.NewString(),
		ExamineeID:     req.ExamineeID,
		CourseID:       req.CourseID,
		AssignmentID:   req.AssignmentID,
		FinalTheta:     est.Theta,
		CorrectCount:   correct,
		TotalQuestions: len(history),
		ThetaBefore:    est.Prior,
		ThetaAfter:     est.Theta,
		CompletedAt:    e.now(),
	}
	if err := e.log.AppendSubmissionResult(ctx, result); err != nil {
		return SubmitResult{}, unavailable(ReasonResponseLog, err)
	}

	updated := irt.Clamp(est.Prior*(1-alpha) + est.Theta*alpha)
	if err := e.abilities.UpsertTheta(ctx, req.ExamineeID, req.CourseID, updated); err != nil {
		return SubmitResult{}, unavailable(ReasonAbilityStore, err)
	}

	metrics.RecordSubmission(est.Theta)
	e.logger.Info("attempt submitted",
		"examinee_id", req.ExamineeID,
		"course_id", req.CourseID,
		"assignment_id", req.AssignmentID,
		"final_theta", est.Theta,
		"updated_ability", updated,
		"correct", correct,
		"total", len(history),
	)

	return SubmitResult{
		FinalTheta:     est.Theta,
		UpdatedAbility: updated,
		CorrectCount:   correct,
		TotalQuestions: len(history),
		Estimate:       est,
	}, nil
}

func (e *Engine) eligibleItems(ctx context.Context, assignmentID string) ([]Item, error) {
	items, err := e.bank.GetItemsForAssignment(ctx, assignmentID)
	if err != nil {
		return nil, unavailable(ReasonBankUnavailable, err)
	}
	if len(items) == 0 {
		return nil, inputError(ReasonNoEligibleItems)
	}
	return items, nil
}

func (e *Engine) lockAbility(ctx context.Context, examineeID, courseID string) (func(), error) {
	unlock, err := e.locker.Lock(ctx, abilityKey(examineeID, courseID))
	if err != nil {
		return nil, unavailable(ReasonLockUnavailable, err)
	}
	return unlock, nil
}

func (e *Engine) recordEstimate(mode, examineeID string, est irt.Estimate) {
	metrics.RecordEstimation(mode, string(est.Status), string(est.Reason))
	if !est.Converged() {
		e.logger.Debug("estimator fallback",
			"mode", mode,
			"examinee_id", examineeID,
			"reason", est.Reason,
			"prior", est.Prior,
			"theta", est.Theta,
			"iterations", est.Iterations,
		)
	}
}

func (e *Engine) observe(err error) {
	if err == nil {
		return
	}
	if ce, ok := err.(*Error); ok {
		metrics.RecordRejection(string(ce.Kind))
		if ce.Kind == KindUnavailable {
			e.logger.Error("collaborator failure", "reason", ce.Reason, "error", ce.Err)
		}
	}
}

// abilityKey is length-prefixed so ("a|b","c") and ("a","b|c") differ.
func abilityKey(examineeID, courseID string) string {
	return fmt.Sprintf("%d:%s|%s", len(examineeID), examineeID, courseID)
}

func validAlpha(a float64) bool {
	return !math.IsNaN(a) && a >= 0 && a <= 1
}

func indexItems(items []Item) map[string]Item {
	m := make(map[string]Item, len(items))
	for _, it := range items {
		m[it.ID] = it
	}
	return m
}

func blank(ss ...string) bool {
	for _, s := range ss {
		if strings.TrimSpace(s) == "" {
			return true
		}
	}
	return false
}
