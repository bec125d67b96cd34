package cat

import "context"

// QuestionBank resolves an assignment's calibrated items. Only items with all
// of a, b and c set are returned.
type QuestionBank interface {
	GetItemsForAssignment(ctx context.Context, assignmentID string) ([]Item, error)
	GetChoicesForItem(ctx context.Context, itemID string) ([]Choice, error)
}

// AbilityStore persists one theta per (examinee, course).
type AbilityStore interface {
	// GetTheta reports found=false on first contact.
	GetTheta(ctx context.Context, examineeID, courseID string) (theta float64, found bool, err error)
	// UpsertTheta updates the row, inserting it when absent. A concurrent
	// first insert must be resolved as an update, never as an error.
	UpsertTheta(ctx context.Context, examineeID, courseID string, theta float64) error
}

// AbilityReader serves read-only lookups outside the engine.
type AbilityReader interface {
	GetAbility(ctx context.Context, examineeID, courseID string) (Ability, bool, error)
}

// ResponseLog receives the append-only attempt trace and final results.
type ResponseLog interface {
	AppendAdministered(ctx context.Context, rec AdministeredRecord) error
	AppendSubmissionResult(ctx context.Context, res SubmissionResult) error
}

// Store bundles every collaborator; both the memory and SQL stores satisfy it.
type Store interface {
	QuestionBank
	AbilityStore
	AbilityReader
	ResponseLog
}
