package http

import (
	"context"
	"encoding/json"
	"errors"
	nethttp "net/http"

	"github.com/mind-engage/mindengage-cat/internal/cat"
)

// Engine is the session coordinator as seen by the transport.
type Engine interface {
	NextStep(ctx context.Context, req cat.NextStepRequest) (cat.NextStepResult, error)
	Submit(ctx context.Context, req cat.SubmitRequest) (cat.SubmitResult, error)
}

const (
	reasonBadResponses = "responses must be 0 or 1"
	reasonTooLarge     = "request body too large"

	maxRequestBytes = 1 << 20
)

type nextQuestionRequest struct {
	ExamineeID      string   `json:"examinee_id"`
	CourseID        string   `json:"course_id"`
	AssignmentID    string   `json:"assignment_id"`
	AnsweredItemIDs []string `json:"answered_item_ids"`
	LastResponse    []int    `json:"last_response" validate:"dive,oneof=0 1"`
	ClientTheta     *float64 `json:"client_theta"`
}

type nextQuestionResponse struct {
	NextItem         *cat.Question `json:"next_item,omitempty"`
	ProvisionalTheta *float64      `json:"provisional_theta,omitempty"`
	Completed        bool          `json:"completed,omitempty"`
	FinalTheta       *float64      `json:"final_theta,omitempty"`
}

type submitRequest struct {
	ExamineeID      string   `json:"examinee_id"`
	CourseID        string   `json:"course_id"`
	AssignmentID    string   `json:"assignment_id"`
	AnsweredItemIDs []string `json:"answered_item_ids"`
	Responses       []int    `json:"responses" validate:"dive,oneof=0 1"`
	SmoothingAlpha  *float64 `json:"smoothing_alpha"`
}

type submitResponse struct {
	FinalTheta     float64 `json:"final_theta"`
	UpdatedAbility float64 `json:"updated_ability"`
	CorrectCount   int     `json:"correct_count"`
	TotalQuestions int     `json:"total_questions"`
}

// NextQuestionHandler serves POST /cat/next-question.
func NextQuestionHandler(eng Engine) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		var req nextQuestionRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, nethttp.StatusBadRequest, reasonBadResponses)
			return
		}

		res, err := eng.NextStep(r.Context(), cat.NextStepRequest{
			ExamineeID:      req.ExamineeID,
			CourseID:        req.CourseID,
			AssignmentID:    req.AssignmentID,
			AnsweredItemIDs: req.AnsweredItemIDs,
			LastResponse:    toBools(req.LastResponse),
			ClientTheta:     req.ClientTheta,
		})
		if err != nil {
			writeEngineError(w, err)
			return
		}
		if res.Completed {
			writeJSON(w, nethttp.StatusOK, nextQuestionResponse{
				Completed:  true,
				FinalTheta: ptr(round3(res.FinalTheta)),
			})
			return
		}
		writeJSON(w, nethttp.StatusOK, nextQuestionResponse{
			NextItem:         res.NextItem,
			ProvisionalTheta: ptr(round3(res.ProvisionalTheta)),
		})
	}
}

// SubmitHandler serves POST /cat/submit.
func SubmitHandler(eng Engine) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		var req submitRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, nethttp.StatusBadRequest, reasonBadResponses)
			return
		}

		res, err := eng.Submit(r.Context(), cat.SubmitRequest{
			ExamineeID:      req.ExamineeID,
			CourseID:        req.CourseID,
			AssignmentID:    req.AssignmentID,
			AnsweredItemIDs: req.AnsweredItemIDs,
			Responses:       toBools(req.Responses),
			SmoothingAlpha:  req.SmoothingAlpha,
		})
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, nethttp.StatusOK, submitResponse{
			FinalTheta:     round3(res.FinalTheta),
			UpdatedAbility: round3(res.UpdatedAbility),
			CorrectCount:   res.CorrectCount,
			TotalQuestions: res.TotalQuestions,
		})
	}
}

// decodeBody reads at most maxRequestBytes of JSON into v and writes the
// error response itself when it cannot.
func decodeBody(w nethttp.ResponseWriter, r *nethttp.Request, v any) bool {
	body := nethttp.MaxBytesReader(w, r.Body, maxRequestBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		var tooLarge *nethttp.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, nethttp.StatusRequestEntityTooLarge, reasonTooLarge)
			return false
		}
		writeError(w, nethttp.StatusBadRequest, "bad json")
		return false
	}
	return true
}

func toBools(xs []int) []bool {
	if xs == nil {
		return nil
	}
	out := make([]bool, len(xs))
	for i, x := range xs {
		out[i] = x == 1
	}
	return out
}
