package cat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/mind-engage/mindengage-cat/internal/db"
	"github.com/mind-engage/mindengage-cat/internal/metrics"
)

type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(conn *sql.DB) *SQLStore {
	return &SQLStore{db: conn}
}

func (s *SQLStore) GetItemsForAssignment(ctx context.Context, assignmentID string) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content, param_a, param_b, param_c
		FROM items
		WHERE assignment_id=$1
		  AND param_a IS NOT NULL AND param_b IS NOT NULL AND param_c IS NOT NULL
		ORDER BY created_at, id`, assignmentID)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		it := Item{AssignmentID: assignmentID}
		if err := rows.Scan(&it.ID, &it.Content, &it.A, &it.B, &it.C); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		if it.Valid() {
			out = append(out, it)
		}
	}
	return out, rows.Err()
}

func (s *SQLStore) GetChoicesForItem(ctx context.Context, itemID string) ([]Choice, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content FROM item_choices WHERE item_id=$1 ORDER BY position`, itemID)
	if err != nil {
		return nil, fmt.Errorf("query choices: %w", err)
	}
	defer rows.Close()

	var out []Choice
	for rows.Next() {
		var c Choice
		if err := rows.Scan(&c.ID, &c.Content); err != nil {
			return nil, fmt.Errorf("scan choice: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLStore) GetTheta(ctx context.Context, examineeID, courseID string) (float64, bool, error) {
	var theta float64
	err := s.db.QueryRowContext(ctx,
		`SELECT theta FROM abilities WHERE examinee_id=$1 AND course_id=$2`,
		examineeID, courseID).Scan(&theta)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get theta: %w", err)
	}
	return theta, true, nil
}

func (s *SQLStore) GetAbility(ctx context.Context, examineeID, courseID string) (Ability, bool, error) {
	a := Ability{ExamineeID: examineeID, CourseID: courseID}
	var ts int64
	err := s.db.QueryRowContext(ctx,
		`SELECT theta, last_update FROM abilities WHERE examinee_id=$1 AND course_id=$2`,
		examineeID, courseID).Scan(&a.Theta, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return Ability{}, false, nil
	}
	if err != nil {
		return Ability{}, false, fmt.Errorf("get ability: %w", err)
	}
	a.LastUpdate = time.Unix(ts, 0).UTC()
	return a, true, nil
}

// UpsertTheta updates first and inserts only when no row exists. If another
// writer inserted in between, the unique violation is retried as an update.
func (s *SQLStore) UpsertTheta(ctx context.Context, examineeID, courseID string, theta float64) error {
	now := time.Now().Unix()
	updated, err := s.updateTheta(ctx, examineeID, courseID, theta, now)
	if err != nil {
		return err
	}
	if updated {
		return nil
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO abilities (examinee_id, course_id, theta, last_update) VALUES ($1,$2,$3,$4)`,
		examineeID, courseID, theta, now)
	if err == nil {
		return nil
	}
	if !isUniqueViolation(err) {
		return fmt.Errorf("insert theta: %w", err)
	}

	metrics.RecordUpsertConflict()
	updated, err = s.updateTheta(ctx, examineeID, courseID, theta, now)
	if err != nil {
		return err
	}
	if !updated {
		return errors.New("upsert theta: row vanished after conflict")
	}
	return nil
}

func (s *SQLStore) updateTheta(ctx context.Context, examineeID, courseID string, theta float64, now int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE abilities SET theta=$1, last_update=$2 WHERE examinee_id=$3 AND course_id=$4`,
		theta, now, examineeID, courseID)
	if err != nil {
		return false, fmt.Errorf("update theta: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update theta: %w", err)
	}
	return n > 0, nil
}

func (s *SQLStore) AppendAdministered(ctx context.Context, rec AdministeredRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.At.IsZero() {
		rec.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO administered_log
		 (id, examinee_id, course_id, assignment_id, item_id, response, theta_before, theta_after, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		rec.ID, rec.ExamineeID, rec.CourseID, rec.AssignmentID, rec.ItemID,
		rec.Response, rec.ThetaBefore, rec.ThetaAfter, rec.At.Unix())
	if err != nil {
		return fmt.Errorf("append administered: %w", err)
	}
	return nil
}

func (s *SQLStore) AppendSubmissionResult(ctx context.Context, r SubmissionResult) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CompletedAt.IsZero() {
		r.CompletedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO submission_results
		 (id, examinee_id, course_id, assignment_id, final_theta, correct_count, total_questions, theta_before, theta_after, completed_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		r.ID, r.ExamineeID, r.CourseID, r.AssignmentID, r.FinalTheta,
		r.CorrectCount, r.TotalQuestions, r.ThetaBefore, r.ThetaAfter, r.CompletedAt.Unix())
	if err != nil {
		return fmt.Errorf("append submission result: %w", err)
	}
	return nil
}

// Administered returns one attempt's trace in append order.
func (s *SQLStore) Administered(ctx context.Context, examineeID, courseID, assignmentID string) ([]AdministeredRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, item_id, response, theta_before, theta_after, created_at
		FROM administered_log
		WHERE examinee_id=$1 AND course_id=$2 AND assignment_id=$3
		ORDER BY seq`, examineeID, courseID, assignmentID)
	if err != nil {
		return nil, fmt.Errorf("query administered: %w", err)
	}
	defer rows.Close()

	var out []AdministeredRecord
	for rows.Next() {
		r := AdministeredRecord{ExamineeID: examineeID, CourseID: courseID, AssignmentID: assignmentID}
		var ts int64
		if err := rows.Scan(&r.ID, &r.ItemID, &r.Response, &r.ThetaBefore, &r.ThetaAfter, &ts); err != nil {
			return nil, fmt.Errorf("scan administered: %w", err)
		}
		r.At = time.Unix(ts, 0).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// ImportItems writes entries for one assignment in a single transaction.
// Existing items with the same id are replaced along with their choices.
func (s *SQLStore) ImportItems(ctx context.Context, entries []BankEntry) error {
	now := time.Now().Unix()
	return db.WithTx(ctx, s.db, nil, func(tx *sql.Tx) error {
		for _, e := range entries {
			it := e.Item
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO items (id, assignment_id, content, param_a, param_b, param_c, difficulty, created_at)
				 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
				 ON CONFLICT (id) DO UPDATE SET assignment_id=EXCLUDED.assignment_id, content=EXCLUDED.content,
				   param_a=EXCLUDED.param_a, param_b=EXCLUDED.param_b, param_c=EXCLUDED.param_c,
				   difficulty=EXCLUDED.difficulty`,
				it.ID, it.AssignmentID, it.Content, it.A, it.B, it.C, e.Difficulty, now); err != nil {
				return fmt.Errorf("import item %s: %w", it.ID, err)
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM item_choices WHERE item_id=$1`, it.ID); err != nil {
				return fmt.Errorf("import item %s: clear choices: %w", it.ID, err)
			}
			for pos, c := range e.Choices {
				id := c.ID
				if id == "" {
					id = uuid.NewString()
				}
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO item_choices (id, item_id, position, content, is_correct) VALUES ($1,$2,$3,$4,$5)`,
					id, it.ID, pos, c.Content, c.Correct); err != nil {
					return fmt.Errorf("import item %s: choice %d: %w", it.ID, pos, err)
				}
			}
		}
		return nil
	})
}

// Ping reports whether the database is reachable.
func (s *SQLStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var sqErr *sqlite.Error
	if errors.As(err, &sqErr) {
		switch sqErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return false
}
