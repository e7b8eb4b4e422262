package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/nidhogg/mindprint/internal/enrollment"
	"github.com/nidhogg/mindprint/internal/profile"
)

const profileColumns = `id, owner_id, name, tier, status, min_interactions, coverage,
	total_answered, completion, consistency_score, activated_at, created_at, updated_at`

// CreateProfile inserts a new profile.
func (s *Store) CreateProfile(ctx context.Context, p *profile.Profile) error {
	coverage, err := json.Marshal(p.Coverage)
	if err != nil {
		return fmt.Errorf("marshal coverage: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO profiles (`+profileColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		p.ID, p.OwnerID, p.Name, string(p.Tier), string(p.Status), p.MinInteractions, coverage,
		p.TotalAnswered, p.Completion, p.ConsistencyScore, p.ActivatedAt, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create profile %s: %w", p.ID, err)
	}
	return nil
}

// GetProfile retrieves a single profile by ID.
func (s *Store) GetProfile(ctx context.Context, id string) (*profile.Profile, error) {
	row := s.db.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = $1`, id)
	p, err := scanProfile(row)
	if err != nil {
		return nil, notFound(err, "profile", id)
	}
	return p, nil
}

// ListProfiles returns an owner's profiles oldest first.
func (s *Store) ListProfiles(ctx context.Context, ownerID string) ([]*profile.Profile, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+profileColumns+` FROM profiles
		WHERE owner_id = $1
		ORDER BY created_at ASC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	var out []*profile.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// execer is satisfied by both the pool and a transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// UpdateProfile writes every mutable column of p.
func (s *Store) UpdateProfile(ctx context.Context, p *profile.Profile) error {
	return updateProfile(ctx, s.db, p)
}

func updateProfile(ctx context.Context, db execer, p *profile.Profile) error {
	coverage, err := json.Marshal(p.Coverage)
	if err != nil {
		return fmt.Errorf("marshal coverage: %w", err)
	}
	tag, err := db.Exec(ctx, `
		UPDATE profiles SET
			name = $2,
			status = $3,
			coverage = $4,
			total_answered = $5,
			completion = $6,
			consistency_score = $7,
			activated_at = $8,
			updated_at = $9
		WHERE id = $1`,
		p.ID, p.Name, string(p.Status), coverage, p.TotalAnswered, p.Completion,
		p.ConsistencyScore, p.ActivatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update profile %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("profile %s: %w", p.ID, profile.ErrNotFound)
	}
	return nil
}

// DeleteProfile removes a profile; foreign keys cascade to everything it owns.
func (s *Store) DeleteProfile(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM profiles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete profile %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("profile %s: %w", id, profile.ErrNotFound)
	}
	return nil
}

func scanProfile(row pgx.Row) (*profile.Profile, error) {
	var p profile.Profile
	var coverage []byte
	err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Tier, &p.Status, &p.MinInteractions, &coverage,
		&p.TotalAnswered, &p.Completion, &p.ConsistencyScore, &p.ActivatedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(coverage, &p.Coverage); err != nil {
		return nil, fmt.Errorf("unmarshal coverage: %w", err)
	}
	return &p, nil
}

// Questions

const questionColumns = `id, profile_id, category, text, turn, source, answer, answered_at, created_at`

// InsertQuestion stores an issued question.
func (s *Store) InsertQuestion(ctx context.Context, q *enrollment.Question) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO questions (id, profile_id, category, text, turn, source, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		q.ID, q.ProfileID, string(q.Category), q.Text, q.Turn, string(q.Source), q.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert question: %w", err)
	}
	return nil
}

// GetQuestion retrieves a question by ID.
func (s *Store) GetQuestion(ctx context.Context, id string) (*enrollment.Question, error) {
	row := s.db.QueryRow(ctx, `SELECT `+questionColumns+` FROM questions WHERE id = $1`, id)
	q, err := scanQuestion(row)
	if err != nil {
		return nil, notFound(err, "question", id)
	}
	return q, nil
}

// ListQuestions returns a profile's questions in turn order.
func (s *Store) ListQuestions(ctx context.Context, profileID string) ([]*enrollment.Question, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+questionColumns+` FROM questions
		WHERE profile_id = $1
		ORDER BY turn ASC`, profileID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	var out []*enrollment.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// AnswerQuestion sets the answer while the question is unanswered and
// writes p in the same transaction.
func (s *Store) AnswerQuestion(ctx context.Context, id, answer string, at time.Time, p *profile.Profile) error {
	var answered bool
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE questions SET answer = $2, answered_at = $3
			WHERE id = $1 AND answered_at IS NULL`, id, answer, at)
		if err != nil {
			return fmt.Errorf("answer question %s: %w", id, err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		answered = true
		return updateProfile(ctx, tx, p)
	})
	if err != nil {
		return err
	}
	if answered {
		return nil
	}
	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM questions WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("answer question %s: %w", id, err)
	}
	if !exists {
		return fmt.Errorf("question %s: %w", id, profile.ErrNotFound)
	}
	return fmt.Errorf("question %s: %w", id, profile.ErrAlreadyAnswered)
}

func scanQuestion(row pgx.Row) (*enrollment.Question, error) {
	var q enrollment.Question
	var answer *string
	err := row.Scan(&q.ID, &q.ProfileID, &q.Category, &q.Text, &q.Turn, &q.Source,
		&answer, &q.AnsweredAt, &q.CreatedAt)
	if err != nil {
		return nil, err
	}
	if answer != nil {
		q.Answer = *answer
	}
	return &q, nil
}
