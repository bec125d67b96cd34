package cat

import (
	"time"

	"github.com/mind-engage/mindengage-cat/internal/irt"
)

// Item is a calibrated bank item together with its stem.
type Item struct {
	irt.Item
	AssignmentID string `json:"assignment_id,omitempty"`
	Content      string `json:"content"`
}

type Choice struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

// Question is what an examinee is shown. Correctness is never included.
type Question struct {
	ID      string   `json:"id"`
	Content string   `json:"content"`
	Choices []Choice `json:"choices"`
}

type Ability struct {
	ExamineeID string    `json:"examinee_id"`
	CourseID   string    `json:"course_id"`
	Theta      float64   `json:"theta"`
	LastUpdate time.Time `json:"last_update"`
}

// AdministeredRecord is one append-only entry of an attempt's trace.
type AdministeredRecord struct {
	ID           string
	ExamineeID   string
	CourseID     string
	AssignmentID string
	ItemID       string
	Response     bool
	ThetaBefore  float64
	ThetaAfter   float64
	At           time.Time
}

// SubmissionResult is written once per finalized attempt.
type SubmissionResult struct {
	ID             string
	ExamineeID     string
	CourseID       string
	AssignmentID   string
	FinalTheta     float64
	CorrectCount   int
	TotalQuestions int
	ThetaBefore    float64
	ThetaAfter     float64
	CompletedAt    time.Time
}

type NextStepRequest struct {
	ExamineeID      string
	CourseID        string
	AssignmentID    string
	AnsweredItemIDs []string
	// LastResponse holds the examinee's responses; only the final element is used.
	LastResponse []bool
	// ClientTheta overrides the stored ability for this step only. It is not
	// checked against history.
	ClientTheta *float64
}

// NextStepResult is either a question to administer or a completion.
type NextStepResult struct {
	Completed        bool
	NextItem         *Question
	ProvisionalTheta float64
	FinalTheta       float64
	// Estimate is set when the step consumed a response.
	Estimate *irt.Estimate
}

type SubmitRequest struct {
	ExamineeID      string
	CourseID        string
	AssignmentID    string
	AnsweredItemIDs []string
	Responses       []bool
	// SmoothingAlpha overrides the engine default when set.
	SmoothingAlpha *float64
}

type SubmitResult struct {
	FinalTheta     float64
	UpdatedAbility float64
	CorrectCount   int
	TotalQuestions int
	Estimate       irt.Estimate
}

// KeyedChoice is a choice with its correctness, used only when loading a bank.
type KeyedChoice struct {
	Choice
	Correct bool
}

// BankEntry is one item as written to the bank by an import.
type BankEntry struct {
	Item       Item
	Difficulty string
	Choices    []KeyedChoice
}
