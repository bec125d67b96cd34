package http

import (
	"context"
	"errors"
	nethttp "net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/mindengage-cat/internal/bank"
	"github.com/mind-engage/mindengage-cat/internal/cat"
)

const maxBankFileBytes = 10 << 20

type abilityResponse struct {
	ExamineeID string    `json:"examinee_id"`
	CourseID   string    `json:"course_id"`
	Theta      float64   `json:"theta"`
	LastUpdate time.Time `json:"last_update"`
}

// GetAbilityHandler serves GET /abilities/{examineeID}/{courseID}.
func GetAbilityHandler(abilities cat.AbilityReader) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		examineeID := chi.URLParam(r, "examineeID")
		courseID := chi.URLParam(r, "courseID")
		a, found, err := abilities.GetAbility(r.Context(), examineeID, courseID)
		if err != nil {
			writeError(w, nethttp.StatusServiceUnavailable, cat.ReasonAbilityStore)
			return
		}
		if !found {
			writeError(w, nethttp.StatusNotFound, cat.ReasonAbilityNotFound)
			return
		}
		writeJSON(w, nethttp.StatusOK, abilityResponse{
			ExamineeID: a.ExamineeID,
			CourseID:   a.CourseID,
			Theta:      round3(a.Theta),
			LastUpdate: a.LastUpdate,
		})
	}
}

// ImportItemsHandler serves POST /assignments/{assignmentID}/items with a
// bank file as the body. onImported, if set, runs after a successful import.
func ImportItemsHandler(imp bank.Importer, onImported func(assignmentID string)) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		assignmentID := chi.URLParam(r, "assignmentID")
		body := nethttp.MaxBytesReader(w, r.Body, maxBankFileBytes)

		n, err := bank.Load(r.Context(), imp, assignmentID, body)
		if err != nil {
			var verr *bank.ValidationError
			if errors.As(err, &verr) {
				writeJSON(w, nethttp.StatusBadRequest, map[string]any{
					"error":    "invalid bank file",
					"problems": verr.Problems,
				})
				return
			}
			if errors.Is(err, bank.ErrMalformed) {
				writeError(w, nethttp.StatusBadRequest, "bad json")
				return
			}
			writeError(w, nethttp.StatusServiceUnavailable, "import failed")
			return
		}
		if onImported != nil {
			onImported(assignmentID)
		}
		writeJSON(w, nethttp.StatusCreated, map[string]any{"assignment_id": assignmentID, "imported": n})
	}
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

func HealthzHandler() nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		writeJSON(w, nethttp.StatusOK, map[string]string{"status": "ok"})
	}
}

// ReadyzHandler reports 503 until every dependency answers.
func ReadyzHandler(deps ...Pinger) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		for _, d := range deps {
			if err := d.Ping(ctx); err != nil {
				writeError(w, nethttp.StatusServiceUnavailable, "not ready")
				return
			}
		}
		writeJSON(w, nethttp.StatusOK, map[string]string{"status": "ready"})
	}
}
