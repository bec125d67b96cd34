package http

import (
	"encoding/json"
	"errors"
	"math"
	nethttp "net/http"

	"github.com/go-playground/validator/v10"

	"github.com/mind-engage/mindengage-cat/internal/cat"
	"github.com/mind-engage/mindengage-cat/internal/metrics"
)

var validate = validator.New()

func writeJSON(w nethttp.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w nethttp.ResponseWriter, status int, reason string) {
	writeJSON(w, status, map[string]string{"error": reason})
}

// writeEngineError maps engine errors to a status and their stable reason.
// Anything else is reported without detail.
func writeEngineError(w nethttp.ResponseWriter, err error) {
	var ce *cat.Error
	if errors.As(err, &ce) {
		switch ce.Kind {
		case cat.KindInput:
			writeError(w, nethttp.StatusBadRequest, ce.Reason)
			return
		case cat.KindUnavailable:
			writeError(w, nethttp.StatusServiceUnavailable, ce.Reason)
			return
		}
	}
	metrics.RecordRejection("internal")
	writeError(w, nethttp.StatusInternalServerError, "internal error")
}

// round3 rounds theta for display; the engine keeps full precision.
func round3(x float64) float64 {
	return math.Round(x*1000) / 1000
}

func ptr[T any](v T) *T { return &v }
