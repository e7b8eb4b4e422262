// Package enrollment runs the interview loop: it issues questions, records
// answers into memories and the coverage ledger, and moves a profile to
// active once both readiness thresholds are met.
package enrollment

import (
	"context"
	"time"

	"github.com/nidhogg/mindprint/internal/memory"
	"github.com/nidhogg/mindprint/internal/profile"
	"github.com/nidhogg/mindprint/internal/question"
)

// Question is an interview question issued to one profile. Once answered it
// never changes.
type Question struct {
	ID         string           `json:"id"`
	ProfileID  string           `json:"profile_id"`
	Category   profile.Category `json:"category"`
	Text       string           `json:"text"`
	Turn       int              `json:"turn"`
	Source     question.Source  `json:"source"`
	Answer     string           `json:"answer,omitempty"`
	AnsweredAt *time.Time       `json:"answered_at,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
}

// Answered reports whether the question has an answer.
func (q *Question) Answered() bool { return q.AnsweredAt != nil }

// Repository persists profiles and their questions.
type Repository interface {
	CreateProfile(ctx context.Context, p *profile.Profile) error
	GetProfile(ctx context.Context, id string) (*profile.Profile, error)
	ListProfiles(ctx context.Context, ownerID string) ([]*profile.Profile, error)
	UpdateProfile(ctx context.Context, p *profile.Profile) error
	// DeleteProfile removes the profile and every row it owns.
	DeleteProfile(ctx context.Context, id string) error

	InsertQuestion(ctx context.Context, q *Question) error
	GetQuestion(ctx context.Context, id string) (*Question, error)
	// ListQuestions returns a profile's questions in turn order.
	ListQuestions(ctx context.Context, profileID string) ([]*Question, error)
	// AnswerQuestion stores the answer and p's updated progress atomically.
	// It writes nothing and returns profile.ErrAlreadyAnswered if the
	// question already has an answer.
	AnswerQuestion(ctx context.Context, id, answer string, at time.Time, p *profile.Profile) error
}

// Memories is the memory store as seen by the tracker.
type Memories interface {
	Add(ctx context.Context, profileID, content string, category profile.Category, importance float64, metadata map[string]string) (*memory.Memory, error)
	All(ctx context.Context, profileID string) ([]*memory.Memory, error)
	Remove(ctx context.Context, profileID, id string) error
}

// Evaluator scores how consistent a profile's memories are. It never fails;
// a neutral score stands in for an unavailable generator.
type Evaluator interface {
	EvaluateConsistency(ctx context.Context, mems []*memory.Memory) float64
}

// Selector picks the next question.
type Selector interface {
	Next(ctx context.Context, coverage profile.CoverageMap, asked []string) question.Pick
}

// Purger removes data a profile owns outside the repository.
type Purger interface {
	Purge(ctx context.Context, profileID string) error
}

// Progress is the externally visible enrollment state.
type Progress struct {
	ProfileID        string              `json:"profile_id"`
	Status           profile.Status      `json:"status"`
	Completion       int                 `json:"completion"`
	Ready            bool                `json:"ready"`
	TotalAnswered    int                 `json:"total_answered"`
	MinInteractions  int                 `json:"min_interactions"`
	Coverage         profile.CoverageMap `json:"coverage"`
	ConsistencyScore *float64            `json:"consistency_score,omitempty"`
	ActivatedAt      *time.Time          `json:"activated_at,omitempty"`
}

// ProgressOf derives the progress view of p.
func ProgressOf(p *profile.Profile) *Progress {
	return &Progress{
		ProfileID:        p.ID,
		Status:           p.Status,
		Completion:       profile.Completion(p.TotalAnswered, p.MinInteractions, p.Coverage),
		Ready:            p.IsReady(),
		TotalAnswered:    p.TotalAnswered,
		MinInteractions:  p.MinInteractions,
		Coverage:         p.Coverage.Clone(),
		ConsistencyScore: p.ConsistencyScore,
		ActivatedAt:      p.ActivatedAt,
	}
}

// AnswerResult is returned by RecordAnswer.
type AnswerResult struct {
	Question  *Question      `json:"question"`
	Memory    *memory.Memory `json:"memory"`
	Progress  *Progress      `json:"progress"`
	Activated bool           `json:"activated"`
}
