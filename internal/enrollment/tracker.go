package enrollment

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/mindprint/internal/memory"
	"github.com/nidhogg/mindprint/internal/profile"
	"go.uber.org/zap"
)

// Default minimums per tier.
var (
	DefaultStandard = profile.Minimums{Interactions: 40, PerCategory: 5}
	DefaultTrial    = profile.Minimums{Interactions: 16, PerCategory: 2}
)

const (
	defaultEvaluationTimeout = 30 * time.Second
	neutralConsistency       = 0.5
)

// Config wires a Tracker. Evaluator, Locker and Purgers are optional.
type Config struct {
	Repo              Repository
	Memories          Memories
	Selector          Selector
	Evaluator         Evaluator
	Locker            Locker
	Purgers           []Purger
	Standard          profile.Minimums
	Trial             profile.Minimums
	EvaluationTimeout time.Duration
	Logger            *zap.Logger
}

// Tracker owns profile lifecycle and the coverage ledger. It is the only
// writer of a profile's coverage map.
type Tracker struct {
	repo        Repository
	memories    Memories
	selector    Selector
	evaluator   Evaluator
	locker      Locker
	purgers     []Purger
	minimums    map[profile.Tier]profile.Minimums
	evalTimeout time.Duration
	logger      *zap.Logger
}

// NewTracker creates a tracker.
func NewTracker(cfg Config) *Tracker {
	if cfg.Standard.Interactions <= 0 {
		cfg.Standard = DefaultStandard
	}
	if cfg.Trial.Interactions <= 0 {
		cfg.Trial = DefaultTrial
	}
	if cfg.Locker == nil {
		cfg.Locker = NewLocalLocker()
	}
	if cfg.EvaluationTimeout <= 0 {
		cfg.EvaluationTimeout = defaultEvaluationTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Tracker{
		repo:      cfg.Repo,
		memories:  cfg.Memories,
		selector:  cfg.Selector,
		evaluator: cfg.Evaluator,
		locker:    cfg.Locker,
		purgers:   cfg.Purgers,
		minimums: map[profile.Tier]profile.Minimums{
			profile.TierStandard: cfg.Standard,
			profile.TierTrial:    cfg.Trial,
		},
		evalTimeout: cfg.EvaluationTimeout,
		logger:      cfg.Logger,
	}
}

// CreateProfile starts enrollment. The tier's minimums are copied onto the
// profile and never re-read.
func (t *Tracker) CreateProfile(ctx context.Context, ownerID, name string, tier profile.Tier) (*profile.Profile, error) {
	name = strings.TrimSpace(name)
	if ownerID == "" || name == "" {
		return nil, fmt.Errorf("create profile: %w: owner and name are required", profile.ErrInvalidInput)
	}
	if tier == "" {
		tier = profile.TierStandard
	}
	m, ok := t.minimums[tier]
	if !ok {
		return nil, fmt.Errorf("create profile: %w: unknown tier %q", profile.ErrInvalidInput, tier)
	}

	p := profile.New(uuid.New().String(), ownerID, name, tier, m)
	p.Completion = profile.Completion(0, p.MinInteractions, p.Coverage)
	if err := t.repo.CreateProfile(ctx, p); err != nil {
		return nil, fmt.Errorf("create profile: %w", err)
	}
	t.logger.Info("profile created",
		zap.String("profile", p.ID),
		zap.String("tier", string(tier)),
		zap.Int("min_interactions", m.Interactions),
		zap.Int("min_per_category", m.PerCategory))
	return p, nil
}

// Get loads a profile owned by requester.
func (t *Tracker) Get(ctx context.Context, requester, profileID string) (*profile.Profile, error) {
	p, err := t.repo.GetProfile(ctx, profileID)
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	if err := p.Authorize(requester); err != nil {
		return nil, err
	}
	return p, nil
}

// List returns the requester's profiles.
func (t *Tracker) List(ctx context.Context, requester string) ([]*profile.Profile, error) {
	ps, err := t.repo.ListProfiles(ctx, requester)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	return ps, nil
}

// Progress is a pure read; it never calls a provider.
func (t *Tracker) Progress(ctx context.Context, requester, profileID string) (*Progress, error) {
	p, err := t.Get(ctx, requester, profileID)
	if err != nil {
		return nil, err
	}
	return ProgressOf(p), nil
}

// Questions returns the profile's interview history.
func (t *Tracker) Questions(ctx context.Context, requester, profileID string) ([]*Question, error) {
	if _, err := t.Get(ctx, requester, profileID); err != nil {
		return nil, err
	}
	qs, err := t.repo.ListQuestions(ctx, profileID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	return qs, nil
}

// NextQuestion issues the next interview question. A pending unanswered
// question is returned again rather than issuing another.
func (t *Tracker) NextQuestion(ctx context.Context, requester, profileID string) (*Question, error) {
	p, err := t.Get(ctx, requester, profileID)
	if err != nil {
		return nil, err
	}
	if p.Status == profile.StatusArchived {
		return nil, profile.ErrArchived
	}

	unlock, err := t.locker.Lock(ctx, profileID)
	if err != nil {
		return nil, fmt.Errorf("lock profile: %w", err)
	}
	defer unlock()

	if p, err = t.repo.GetProfile(ctx, profileID); err != nil {
		return nil, fmt.Errorf("next question: %w", err)
	}
	qs, err := t.repo.ListQuestions(ctx, profileID)
	if err != nil {
		return nil, fmt.Errorf("next question: %w", err)
	}
	asked := make([]string, 0, len(qs))
	for _, q := range qs {
		if !q.Answered() {
			return q, nil
		}
		asked = append(asked, q.Text)
	}

	pick := t.selector.Next(ctx, p.Coverage, asked)
	q := &Question{
		ID:        uuid.New().String(),
		ProfileID: profileID,
		Category:  pick.Category,
		Text:      pick.Text,
		Turn:      len(qs) + 1,
		Source:    pick.Source,
		CreatedAt: time.Now().UTC(),
	}
	if err := t.repo.InsertQuestion(ctx, q); err != nil {
		return nil, fmt.Errorf("next question: %w", err)
	}
	t.logger.Info("question issued",
		zap.String("profile", profileID),
		zap.String("question", q.ID),
		zap.String("category", string(q.Category)),
		zap.String("source", string(q.Source)),
		zap.Int("turn", q.Turn))
	return q, nil
}

// RecordAnswer writes a memory in the question's category, advances
// coverage, activates the profile once it is ready and stores the answer.
// The answer and the profile are committed together; if that fails the
// memory is removed again so the question can be resubmitted. Answering the
// same question twice returns profile.ErrAlreadyAnswered.
func (t *Tracker) RecordAnswer(ctx context.Context, requester, questionID, answer string) (*AnswerResult, error) {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return nil, fmt.Errorf("record answer: %w: empty answer", profile.ErrInvalidInput)
	}
	q, err := t.repo.GetQuestion(ctx, questionID)
	if err != nil {
		return nil, fmt.Errorf("record answer: %w", err)
	}
	p, err := t.Get(ctx, requester, q.ProfileID)
	if err != nil {
		return nil, err
	}
	if p.Status == profile.StatusArchived {
		return nil, profile.ErrArchived
	}

	unlock, err := t.locker.Lock(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("lock profile: %w", err)
	}
	defer unlock()

	// Re-read under the lock; another submission may have won.
	if q, err = t.repo.GetQuestion(ctx, questionID); err != nil {
		return nil, fmt.Errorf("record answer: %w", err)
	}
	if q.Answered() {
		return nil, profile.ErrAlreadyAnswered
	}
	if p, err = t.repo.GetProfile(ctx, q.ProfileID); err != nil {
		return nil, fmt.Errorf("record answer: %w", err)
	}

	now := time.Now().UTC()
	mem, err := t.memories.Add(ctx, p.ID,
		fmt.Sprintf("Q: %s\nA: %s", q.Text, answer),
		q.Category, memory.ImportanceAnswer,
		map[string]string{
			"source":      "enrollment",
			"question_id": q.ID,
			"turn":        strconv.Itoa(q.Turn),
		})
	if err != nil {
		return nil, fmt.Errorf("record answer memory: %w", err)
	}

	if err := p.Coverage.Record(q.Category); err != nil {
		t.discard(ctx, mem)
		return nil, fmt.Errorf("record answer: %w", err)
	}
	p.TotalAnswered++
	p.Completion = profile.Completion(p.TotalAnswered, p.MinInteractions, p.Coverage)

	activated := false
	if p.Status == profile.StatusEnrolling && p.IsReady() {
		t.activate(ctx, p)
		activated = true
	}
	p.UpdatedAt = now
	if err := t.repo.AnswerQuestion(ctx, q.ID, answer, now, p); err != nil {
		t.discard(ctx, mem)
		return nil, fmt.Errorf("record answer: %w", err)
	}
	q.Answer, q.AnsweredAt = answer, &now

	t.logger.Info("answer recorded",
		zap.String("profile", p.ID),
		zap.String("question", q.ID),
		zap.String("category", string(q.Category)),
		zap.Int("total", p.TotalAnswered),
		zap.Int("completion", p.Completion),
		zap.Bool("activated", activated))

	return &AnswerResult{
		Question:  q,
		Memory:    mem,
		Progress:  ProgressOf(p),
		Activated: activated,
	}, nil
}

// discard removes a memory whose answer was never committed.
func (t *Tracker) discard(ctx context.Context, mem *memory.Memory) {
	if err := t.memories.Remove(context.WithoutCancel(ctx), mem.ProfileID, mem.ID); err != nil {
		t.logger.Warn("discard uncommitted answer memory",
			zap.String("profile", mem.ProfileID),
			zap.String("memory", mem.ID),
			zap.Error(err))
	}
}

// Activate moves a ready profile to active. Activating an active profile is
// a no-op; a profile short of either threshold gets a
// *profile.ShortfallError.
func (t *Tracker) Activate(ctx context.Context, requester, profileID string) (*Progress, error) {
	if _, err := t.Get(ctx, requester, profileID); err != nil {
		return nil, err
	}
	unlock, err := t.locker.Lock(ctx, profileID)
	if err != nil {
		return nil, fmt.Errorf("lock profile: %w", err)
	}
	defer unlock()

	p, err := t.repo.GetProfile(ctx, profileID)
	if err != nil {
		return nil, fmt.Errorf("activate: %w", err)
	}
	switch p.Status {
	case profile.StatusActive:
		return ProgressOf(p), nil
	case profile.StatusArchived:
		return nil, profile.ErrArchived
	}
	if s := p.Shortfall(); s != nil {
		return nil, s
	}

	t.activate(ctx, p)
	p.UpdatedAt = time.Now().UTC()
	if err := t.repo.UpdateProfile(ctx, p); err != nil {
		return nil, fmt.Errorf("activate: %w", err)
	}
	return ProgressOf(p), nil
}

// activate scores consistency under its own deadline and marks p active.
// The caller persists p.
func (t *Tracker) activate(ctx context.Context, p *profile.Profile) {
	score := neutralConsistency
	if t.evaluator != nil {
		mems, err := t.memories.All(ctx, p.ID)
		if err != nil {
			t.logger.Warn("load memories for consistency", zap.String("profile", p.ID), zap.Error(err))
		} else {
			evalCtx, cancel := context.WithTimeout(ctx, t.evalTimeout)
			score = t.evaluator.EvaluateConsistency(evalCtx, mems)
			cancel()
		}
	}
	now := time.Now().UTC()
	p.Status = profile.StatusActive
	p.ConsistencyScore = &score
	p.ActivatedAt = &now
	t.logger.Info("profile activated", zap.String("profile", p.ID), zap.Float64("consistency", score))
}

// Archive moves a profile out of the acquisition loop.
func (t *Tracker) Archive(ctx context.Context, requester, profileID string) (*profile.Profile, error) {
	if _, err := t.Get(ctx, requester, profileID); err != nil {
		return nil, err
	}
	unlock, err := t.locker.Lock(ctx, profileID)
	if err != nil {
		return nil, fmt.Errorf("lock profile: %w", err)
	}
	defer unlock()

	p, err := t.repo.GetProfile(ctx, profileID)
	if err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}
	if p.Status == profile.StatusArchived {
		return p, nil
	}
	p.Status = profile.StatusArchived
	p.UpdatedAt = time.Now().UTC()
	if err := t.repo.UpdateProfile(ctx, p); err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}
	t.logger.Info("profile archived", zap.String("profile", p.ID))
	return p, nil
}

// DeleteProfile removes the profile and everything it owns.
func (t *Tracker) DeleteProfile(ctx context.Context, requester, profileID string) error {
	if _, err := t.Get(ctx, requester, profileID); err != nil {
		return err
	}
	unlock, err := t.locker.Lock(ctx, profileID)
	if err != nil {
		return fmt.Errorf("lock profile: %w", err)
	}
	defer unlock()

	var errs []error
	for _, pg := range t.purgers {
		if err := pg.Purge(ctx, profileID); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("delete profile: %w", err)
	}
	if err := t.repo.DeleteProfile(ctx, profileID); err != nil {
		return fmt.Errorf("delete profile: %w", err)
	}
	t.logger.Info("profile deleted", zap.String("profile", profileID))
	return nil
}
