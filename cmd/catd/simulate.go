package main

import (
	"fmt"
	"io"
	"math"

	"github.com/spf13/cobra"

	"github.com/mind-engage/mindengage-cat/internal/cat"
	"github.com/mind-engage/mindengage-cat/internal/lock"
	"github.com/mind-engage/mindengage-cat/internal/logger"
	"github.com/mind-engage/mindengage-cat/internal/sim"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run simulated examinees through the engine",
	Long: `Runs simulated examinees with known true ability through NextStep and
Submit. With --bank the items are loaded into an in-memory store and nothing
is written to the configured database.`,
	RunE: runSimulate,
}

func init() {
	f := simulateCmd.Flags()
	f.String("assignment", "", "assignment id to draw items from")
	f.String("course", "sim-course", "course id abilities are recorded under")
	f.String("bank", "", "bank file to simulate against in memory")
	f.Int("examinees", 1, "number of simulated examinees")
	f.Int("max-items", sim.DefaultMaxItems, "maximum items per attempt")
	f.Int64("seed", 1, "random seed")
	f.Int("concurrency", 0, "parallel attempts (0 = number of CPUs)")
	f.Bool("trace", false, "print every administered item")
	_ = simulateCmd.MarkFlagRequired("assignment")
}

func runSimulate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return err
	}
	defer log.Sync()

	f := cmd.Flags()
	assignmentID, _ := f.GetString("assignment")
	courseID, _ := f.GetString("course")
	bankPath, _ := f.GetString("bank")
	examinees, _ := f.GetInt("examinees")
	maxItems, _ := f.GetInt("max-items")
	seed, _ := f.GetInt64("seed")
	concurrency, _ := f.GetInt("concurrency")
	trace, _ := f.GetBool("trace")

	ctx := cmd.Context()
	var store cat.Store
	if bankPath != "" {
		mem := cat.NewInMemoryStore()
		if _, err := importFile(cmd, mem, assignmentID, bankPath); err != nil {
			return fmt.Errorf("%s: %w", bankPath, err)
		}
		store = mem
	} else {
		sqlStore, conn, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer conn.Close()
		store = sqlStore
	}

	eng := newEngine(cfg, store, store, lock.NewKeyedMutex(), log)
	runs, err := sim.NewRunner(eng, store, log).Simulate(ctx, sim.Config{
		CourseID:     courseID,
		AssignmentID: assignmentID,
		Examinees:    examinees,
		MaxItems:     maxItems,
		Concurrency:  concurrency,
		Seed:         seed,
	})
	if err != nil {
		return err
	}
	printRuns(cmd.OutOrStdout(), runs, trace)
	return nil
}

func printRuns(w io.Writer, runs []sim.Run, trace bool) {
	var sqErr float64
	for _, run := range runs {
		fmt.Fprintf(w, "%s true=%+.3f final=%+.3f updated=%+.3f correct=%d/%d exhausted=%t\n",
			run.ExamineeID, run.TrueTheta, run.FinalTheta, run.UpdatedAbility,
			run.CorrectCount, run.TotalQuestions, run.Completed)
		if trace {
			for i, s := range run.Steps {
				fmt.Fprintf(w, "  %2d %s a=%.2f b=%+.2f c=%.2f resp=%d theta=%+.3f\n",
					i+1, s.ItemID, s.A, s.B, s.C, b2i(s.Response), s.Theta)
			}
		}
		d := run.FinalTheta - run.TrueTheta
		sqErr += d * d
	}
	if len(runs) > 0 {
		fmt.Fprintf(w, "examinees=%d rmse=%.3f\n", len(runs), math.Sqrt(sqErr/float64(len(runs))))
	}
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

