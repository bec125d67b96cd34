// Package sim drives the engine with simulated examinees whose true ability
// is known, answering each item with its 3PL response probability.
package sim

import (
	"context"
	"fmt"
	"math/rand"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/mind-engage/mindengage-cat/internal/cat"
	"github.com/mind-engage/mindengage-cat/internal/irt"
	"github.com/mind-engage/mindengage-cat/internal/logger"
)

const DefaultMaxItems = 25

type Config struct {
	CourseID     string
	AssignmentID string
	Examinees    int
	// MaxItems stops an attempt early; zero selects DefaultMaxItems.
	MaxItems    int
	Concurrency int
	Seed        int64
	// TrueTheta overrides the default N(0,1) ability draw.
	TrueTheta func(i int, rng *rand.Rand) float64
}

// Step is one administered item of a simulated attempt.
type Step struct {
	ItemID   string
	A, B, C  float64
	Response bool
	Theta    float64 // provisional theta after this response
}

type Run struct {
	ExamineeID     string
	TrueTheta      float64
	Steps          []Step
	Completed      bool // pool exhausted before MaxItems
	FinalTheta     float64
	UpdatedAbility float64
	CorrectCount   int
	TotalQuestions int
}

type Runner struct {
	engine *cat.Engine
	bank   cat.QuestionBank
	log    *logger.Logger
}

func NewRunner(engine *cat.Engine, bank cat.QuestionBank, log *logger.Logger) *Runner {
	if log == nil {
		log = logger.Nop()
	}
	return &Runner{engine: engine, bank: bank, log: log}
}

// Simulate runs cfg.Examinees attempts concurrently. Each examinee has its
// own seeded source so a run is reproducible for a given Seed.
func (r *Runner) Simulate(ctx context.Context, cfg Config) ([]Run, error) {
	if cfg.Examinees <= 0 {
		return nil, fmt.Errorf("sim: examinees must be positive")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = runtime.NumCPU()
	}
	params, err := r.itemParams(ctx, cfg.AssignmentID)
	if err != nil {
		return nil, err
	}

	runs := make([]Run, cfg.Examinees)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Concurrency)
	for i := 0; i < cfg.Examinees; i++ {
		i := i
		g.Go(func() error {
			rng := rand.New(rand.NewSource(cfg.Seed + int64(i)))
			theta := irt.Clamp(rng.NormFloat64())
			if cfg.TrueTheta != nil {
				theta = cfg.TrueTheta(i, rng)
			}
			run, err := r.run(gctx, cfg, params, fmt.Sprintf("sim-%04d", i), theta, rng)
			if err != nil {
				return fmt.Errorf("examinee %d: %w", i, err)
			}
			runs[i] = run
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return runs, nil
}

// RunOne simulates a single attempt.
func (r *Runner) RunOne(ctx context.Context, cfg Config, examineeID string, trueTheta float64, rng *rand.Rand) (Run, error) {
	params, err := r.itemParams(ctx, cfg.AssignmentID)
	if err != nil {
		return Run{}, err
	}
	return r.run(ctx, cfg, params, examineeID, trueTheta, rng)
}

func (r *Runner) run(ctx context.Context, cfg Config, params map[string]irt.Item, examineeID string, trueTheta float64, rng *rand.Rand) (Run, error) {
	maxItems := cfg.MaxItems
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}
	run := Run{ExamineeID: examineeID, TrueTheta: trueTheta}

	var answered []string
	var responses []bool
	for {
		res, err := r.engine.NextStep(ctx, cat.NextStepRequest{
			ExamineeID:      examineeID,
			CourseID:        cfg.CourseID,
			AssignmentID:    cfg.AssignmentID,
			AnsweredItemIDs: answered,
			LastResponse:    responses,
		})
		if err != nil {
			return Run{}, err
		}
		if n := len(run.Steps); n > 0 {
			run.Steps[n-1].Theta = res.ProvisionalTheta
			if res.Completed {
				run.Steps[n-1].Theta = res.FinalTheta
			}
		}
		if res.Completed {
			run.Completed = true
			break
		}
		if len(answered) >= maxItems {
			break
		}

		it := params[res.NextItem.ID]
		correct := rng.Float64() < it.Probability(trueTheta)
		answered = append(answered, it.ID)
		responses = append(responses, correct)
		run.Steps = append(run.Steps, Step{ItemID: it.ID, A: it.A, B: it.B, C: it.C, Response: correct})
	}
	if len(answered) == 0 {
		return run, nil
	}

	sub, err := r.engine.Submit(ctx, cat.SubmitRequest{
		ExamineeID:      examineeID,
		CourseID:        cfg.CourseID,
		AssignmentID:    cfg.AssignmentID,
		AnsweredItemIDs: answered,
		Responses:       responses,
	})
	if err != nil {
		return Run{}, err
	}
	run.FinalTheta = sub.FinalTheta
	run.UpdatedAbility = sub.UpdatedAbility
	run.CorrectCount = sub.CorrectCount
	run.TotalQuestions = sub.TotalQuestions

	r.log.Debug("simulated attempt",
		"examinee_id", examineeID,
		"true_theta", trueTheta,
		"final_theta", sub.FinalTheta,
		"items", len(answered),
	)
	return run, nil
}

func (r *Runner) itemParams(ctx context.Context, assignmentID string) (map[string]irt.Item, error) {
	items, err := r.bank.GetItemsForAssignment(ctx, assignmentID)
	if err != nil {
		return nil, fmt.Errorf("sim: load items: %w", err)
	}
	m := make(map[string]irt.Item, len(items))
	for _, it := range items {
		m[it.ID] = it.Item
	}
	return m, nil
}
