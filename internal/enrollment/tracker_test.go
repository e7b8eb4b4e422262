package enrollment_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nidhogg/mindprint/internal/enrollment"
	"github.com/nidhogg/mindprint/internal/memory"
	"github.com/nidhogg/mindprint/internal/profile"
	"github.com/nidhogg/mindprint/internal/question"
	"github.com/nidhogg/mindprint/internal/store/memstore"
	"go.uber.org/zap"
)

type countingEvaluator struct {
	score float64
	calls atomic.Int32
	seen  atomic.Int32
}

func (e *countingEvaluator) EvaluateConsistency(_ context.Context, mems []*memory.Memory) float64 {
	e.calls.Add(1)
	e.seen.Store(int32(len(mems)))
	return e.score
}

// scriptedSelector issues questions in a fixed category order.
type scriptedSelector struct {
	mu   sync.Mutex
	cats []profile.Category
	next int
}

func (s *scriptedSelector) Next(_ context.Context, _ profile.CoverageMap, asked []string) question.Pick {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.cats[s.next%len(s.cats)]
	s.next++
	return question.Pick{Category: c, Text: fmt.Sprintf("question %d about %s", len(asked)+1, c), Source: question.SourceBank}
}

type recordingPurger struct{ purged []string }

func (p *recordingPurger) Purge(_ context.Context, id string) error {
	p.purged = append(p.purged, id)
	return nil
}

type fixture struct {
	repo     *memstore.Store
	memories *memory.Store
	eval     *countingEvaluator
	tracker  *enrollment.Tracker
}

func newFixture(t *testing.T, sel enrollment.Selector, purgers ...enrollment.Purger) *fixture {
	t.Helper()
	repo := memstore.New()
	f := &fixture{
		repo:     repo,
		memories: memory.NewStore(memory.Config{Repo: repo}),
		eval:     &countingEvaluator{score: 0.8},
	}
	if sel == nil {
		sel = question.NewSelector(nil, zap.NewNop(), question.WithRand(rand.New(rand.NewPCG(7, 7))))
	}
	purgers = append(purgers, f.memories)
	f.tracker = enrollment.NewTracker(enrollment.Config{
		Repo:      repo,
		Memories:  f.memories,
		Selector:  sel,
		Evaluator: f.eval,
		Purgers:   purgers,
		Standard:  profile.Minimums{Interactions: 40, PerCategory: 5},
		Trial:     profile.Minimums{Interactions: 20, PerCategory: 2},
		Logger:    zap.NewNop(),
	})
	return f
}

func (f *fixture) answerNext(t *testing.T, owner, profileID string) *enrollment.AnswerResult {
	t.Helper()
	ctx := context.Background()
	q, err := f.tracker.NextQuestion(ctx, owner, profileID)
	if err != nil {
		t.Fatalf("NextQuestion: %v", err)
	}
	res, err := f.tracker.RecordAnswer(ctx, owner, q.ID, "an honest answer about "+string(q.Category))
	if err != nil {
		t.Fatalf("RecordAnswer: %v", err)
	}
	return res
}

func TestReadinessNeedsBothThresholds(t *testing.T) {
	cats := profile.Categories
	var script []profile.Category
	for _, c := range cats[:7] {
		script = append(script, c, c)
	}
	lagging := cats[7]
	script = append(script, lagging, cats[0], lagging, cats[1], cats[2], cats[3], cats[4])

	f := newFixture(t, &scriptedSelector{cats: script})
	ctx := context.Background()
	p, err := f.tracker.CreateProfile(ctx, "u1", "Ada", profile.TierTrial)
	if err != nil {
		t.Fatalf("CreateProfile: %v", err)
	}

	var res *enrollment.AnswerResult
	for i := 0; i < 16; i++ {
		res = f.answerNext(t, "u1", p.ID)
	}
	if res.Progress.Ready || res.Activated {
		t.Fatal("ready after 16 answers with one category short")
	}
	if got := res.Progress.Coverage[lagging]; got.Count != 1 || got.Covered {
		t.Fatalf("lagging coverage = %+v", got)
	}

	res = f.answerNext(t, "u1", p.ID) // 17: every category covered, volume short
	if res.Progress.Ready || res.Activated {
		t.Fatal("ready at 17 of 20 answers")
	}
	if len(res.Progress.Coverage) != len(profile.Categories) {
		t.Fatalf("coverage keys changed: %d", len(res.Progress.Coverage))
	}
	for c, cv := range res.Progress.Coverage {
		if !cv.Covered {
			t.Fatalf("%s not covered at 17", c)
		}
	}

	for i := 18; i < 20; i++ {
		if res = f.answerNext(t, "u1", p.ID); res.Activated {
			t.Fatalf("activated at %d answers", i)
		}
	}
	res = f.answerNext(t, "u1", p.ID)
	if !res.Activated || !res.Progress.Ready || res.Progress.Status != profile.StatusActive {
		t.Fatalf("not activated at 20 answers: %+v", res.Progress)
	}
	if res.Progress.Completion != 100 {
		t.Errorf("Completion = %d, want 100", res.Progress.Completion)
	}
	if res.Progress.ConsistencyScore == nil || *res.Progress.ConsistencyScore != 0.8 {
		t.Errorf("ConsistencyScore = %v", res.Progress.ConsistencyScore)
	}
	if f.eval.calls.Load() != 1 || f.eval.seen.Load() != 20 {
		t.Errorf("evaluator calls=%d memories=%d", f.eval.calls.Load(), f.eval.seen.Load())
	}

	res = f.answerNext(t, "u1", p.ID)
	if res.Activated || f.eval.calls.Load() != 1 {
		t.Error("active profile was evaluated again")
	}
}

func TestCompletionNeverDecreases(t *testing.T) {
	f := newFixture(t, nil)
	p, err := f.tracker.CreateProfile(context.Background(), "u1", "Ada", profile.TierTrial)
	if err != nil {
		t.Fatalf("CreateProfile: %v", err)
	}
	last := -1
	for i := 0; i < 25; i++ {
		res := f.answerNext(t, "u1", p.ID)
		if res.Progress.Completion < last {
			t.Fatalf("completion fell from %d to %d", last, res.Progress.Completion)
		}
		last = res.Progress.Completion
	}
}

func TestRecordAnswerWritesMemory(t *testing.T) {
	f := newFixture(t, &scriptedSelector{cats: []profile.Category{profile.CategoryValues}})
	ctx := context.Background()
	p, _ := f.tracker.CreateProfile(ctx, "u1", "Ada", profile.TierStandard)

	res := f.answerNext(t, "u1", p.ID)
	if res.Memory.Category != profile.CategoryValues || res.Memory.Importance != memory.ImportanceAnswer {
		t.Errorf("memory = %+v", res.Memory)
	}
	mems, _ := f.memories.All(ctx, p.ID)
	if len(mems) != 1 || mems[0].Metadata["question_id"] != res.Question.ID {
		t.Errorf("stored memories = %+v", mems)
	}
}

func TestRecordAnswerTwiceRejected(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	p, _ := f.tracker.CreateProfile(ctx, "u1", "Ada", profile.TierStandard)
	q, _ := f.tracker.NextQuestion(ctx, "u1", p.ID)

	if _, err := f.tracker.RecordAnswer(ctx, "u1", q.ID, "first"); err != nil {
		t.Fatalf("first answer: %v", err)
	}
	if _, err := f.tracker.RecordAnswer(ctx, "u1", q.ID, "second"); !errors.Is(err, profile.ErrAlreadyAnswered) {
		t.Fatalf("second answer err = %v, want ErrAlreadyAnswered", err)
	}
	prog, _ := f.tracker.Progress(ctx, "u1", p.ID)
	if prog.TotalAnswered != 1 || prog.Coverage[q.Category].Count != 1 {
		t.Errorf("re-answer changed counts: %+v", prog)
	}
	mems, _ := f.memories.All(ctx, p.ID)
	if len(mems) != 1 {
		t.Errorf("memories = %d, want 1", len(mems))
	}
}

// flakyMemories fails the next n memory inserts.
type flakyMemories struct {
	*memstore.Store
	fail atomic.Int32
}

func (m *flakyMemories) InsertMemory(ctx context.Context, mem *memory.Memory) error {
	if m.fail.Add(-1) >= 0 {
		return errors.New("memory backend down")
	}
	return m.Store.InsertMemory(ctx, mem)
}

// flakyCommit fails the next n answer commits.
type flakyCommit struct {
	*memstore.Store
	fail atomic.Int32
}

func (r *flakyCommit) AnswerQuestion(ctx context.Context, id, answer string, at time.Time, p *profile.Profile) error {
	if r.fail.Add(-1) >= 0 {
		return errors.New("database unavailable")
	}
	return r.Store.AnswerQuestion(ctx, id, answer, at, p)
}

func TestRecordAnswerRetryAfterMemoryFailure(t *testing.T) {
	repo := memstore.New()
	memRepo := &flakyMemories{Store: repo}
	memRepo.fail.Store(1)
	mems := memory.NewStore(memory.Config{Repo: memRepo})
	tracker := enrollment.NewTracker(enrollment.Config{
		Repo:     repo,
		Memories: mems,
		Selector: &scriptedSelector{cats: []profile.Category{profile.CategoryLinguistic}},
		Logger:   zap.NewNop(),
	})
	ctx := context.Background()
	p, _ := tracker.CreateProfile(ctx, "u1", "Ada", profile.TierStandard)
	q, _ := tracker.NextQuestion(ctx, "u1", p.ID)

	if _, err := tracker.RecordAnswer(ctx, "u1", q.ID, "I keep it short."); err == nil {
		t.Fatal("expected the memory failure to surface")
	}
	stored, _ := repo.GetQuestion(ctx, q.ID)
	if stored.Answered() {
		t.Fatal("question marked answered without its memory")
	}
	again, err := tracker.NextQuestion(ctx, "u1", p.ID)
	if err != nil || again.ID != q.ID {
		t.Fatalf("pending question = %v, %v; want %s", again, err, q.ID)
	}

	res, err := tracker.RecordAnswer(ctx, "u1", q.ID, "I keep it short.")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if res.Progress.TotalAnswered != 1 || res.Progress.Coverage[profile.CategoryLinguistic].Count != 1 {
		t.Errorf("progress after retry = %+v", res.Progress)
	}
	all, _ := mems.All(ctx, p.ID)
	if len(all) != 1 {
		t.Errorf("memories = %d, want 1", len(all))
	}
}

func TestRecordAnswerCommitFailureLeavesNothing(t *testing.T) {
	repo := &flakyCommit{Store: memstore.New()}
	repo.fail.Store(1)
	mems := memory.NewStore(memory.Config{Repo: repo.Store})
	tracker := enrollment.NewTracker(enrollment.Config{
		Repo:     repo,
		Memories: mems,
		Selector: &scriptedSelector{cats: []profile.Category{profile.CategoryValues}},
		Logger:   zap.NewNop(),
	})
	ctx := context.Background()
	p, _ := tracker.CreateProfile(ctx, "u1", "Ada", profile.TierStandard)
	q, _ := tracker.NextQuestion(ctx, "u1", p.ID)

	if _, err := tracker.RecordAnswer(ctx, "u1", q.ID, "Fairness."); err == nil {
		t.Fatal("expected the commit failure to surface")
	}
	prog, _ := tracker.Progress(ctx, "u1", p.ID)
	if prog.TotalAnswered != 0 || prog.Coverage[profile.CategoryValues].Count != 0 {
		t.Errorf("progress after failed commit = %+v", prog)
	}
	if all, _ := mems.All(ctx, p.ID); len(all) != 0 {
		t.Errorf("orphan memories = %d", len(all))
	}

	if _, err := tracker.RecordAnswer(ctx, "u1", q.ID, "Fairness."); err != nil {
		t.Fatalf("retry: %v", err)
	}
	prog, _ = tracker.Progress(ctx, "u1", p.ID)
	if prog.TotalAnswered != 1 || prog.Coverage[profile.CategoryValues].Count != 1 {
		t.Errorf("progress after retry = %+v", prog)
	}
	if all, _ := mems.All(ctx, p.ID); len(all) != 1 {
		t.Errorf("memories after retry = %d, want 1", len(all))
	}
}

func TestRecordAnswerRejectsEmpty(t *testing.T) {
	f := newFixture(t, nil)
	if _, err := f.tracker.RecordAnswer(context.Background(), "u1", "q", "  "); !errors.Is(err, profile.ErrInvalidInput) {
		t.Errorf("err = %v", err)
	}
}

func TestNextQuestionReturnsPending(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	p, _ := f.tracker.CreateProfile(ctx, "u1", "Ada", profile.TierStandard)

	q1, err := f.tracker.NextQuestion(ctx, "u1", p.ID)
	if err != nil {
		t.Fatalf("NextQuestion: %v", err)
	}
	again, _ := f.tracker.NextQuestion(ctx, "u1", p.ID)
	if again.ID != q1.ID {
		t.Errorf("pending question not reissued: %s vs %s", again.ID, q1.ID)
	}
	if _, err := f.tracker.RecordAnswer(ctx, "u1", q1.ID, "yes"); err != nil {
		t.Fatalf("RecordAnswer: %v", err)
	}
	q2, _ := f.tracker.NextQuestion(ctx, "u1", p.ID)
	if q2.ID == q1.ID || q2.Turn != 2 || q2.Text == q1.Text {
		t.Errorf("second question = %+v", q2)
	}
}

func TestNextQuestionNeverRepeats(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	p, _ := f.tracker.CreateProfile(ctx, "u1", "Ada", profile.TierStandard)
	seen := map[string]bool{}
	for i := 0; i < 60; i++ {
		res := f.answerNext(t, "u1", p.ID)
		if seen[res.Question.Text] {
			t.Fatalf("question repeated at turn %d: %q", res.Question.Turn, res.Question.Text)
		}
		seen[res.Question.Text] = true
	}
	qs, _ := f.tracker.Questions(ctx, "u1", p.ID)
	if len(qs) != 60 {
		t.Errorf("questions = %d", len(qs))
	}
}

func TestOwnershipAndNotFound(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	p, _ := f.tracker.CreateProfile(ctx, "owner", "Ada", profile.TierStandard)
	q, _ := f.tracker.NextQuestion(ctx, "owner", p.ID)

	if _, err := f.tracker.Progress(ctx, "intruder", p.ID); !errors.Is(err, profile.ErrForbidden) {
		t.Errorf("Progress err = %v, want forbidden", err)
	}
	if _, err := f.tracker.RecordAnswer(ctx, "intruder", q.ID, "x"); !errors.Is(err, profile.ErrForbidden) {
		t.Errorf("RecordAnswer err = %v, want forbidden", err)
	}
	if _, err := f.tracker.Progress(ctx, "owner", "missing"); !errors.Is(err, profile.ErrNotFound) {
		t.Errorf("missing profile err = %v, want not found", err)
	}
	if _, err := f.tracker.RecordAnswer(ctx, "owner", "missing", "x"); !errors.Is(err, profile.ErrNotFound) {
		t.Errorf("missing question err = %v, want not found", err)
	}
	prog, _ := f.tracker.Progress(ctx, "owner", p.ID)
	if prog.TotalAnswered != 0 {
		t.Error("rejected request changed state")
	}
}

func TestActivateShortfallThenSuccess(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	p, _ := f.tracker.CreateProfile(ctx, "u1", "Ada", profile.TierTrial)

	_, err := f.tracker.Activate(ctx, "u1", p.ID)
	var short *profile.ShortfallError
	if !errors.As(err, &short) {
		t.Fatalf("Activate err = %v, want ShortfallError", err)
	}
	if short.Answered != 0 || short.Required != 20 || len(short.Uncovered) != len(profile.Categories) {
		t.Errorf("shortfall = %+v", short)
	}

	for i := 0; i < 20; i++ {
		f.answerNext(t, "u1", p.ID)
	}
	prog, err := f.tracker.Activate(ctx, "u1", p.ID)
	if err != nil {
		t.Fatalf("Activate when already active: %v", err)
	}
	if prog.Status != profile.StatusActive || f.eval.calls.Load() != 1 {
		t.Errorf("status %s, evaluator calls %d", prog.Status, f.eval.calls.Load())
	}
}

func TestArchiveBlocksAcquisition(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	p, _ := f.tracker.CreateProfile(ctx, "u1", "Ada", profile.TierStandard)
	q, _ := f.tracker.NextQuestion(ctx, "u1", p.ID)

	archived, err := f.tracker.Archive(ctx, "u1", p.ID)
	if err != nil || archived.Status != profile.StatusArchived {
		t.Fatalf("Archive = %+v, %v", archived, err)
	}
	if _, err := f.tracker.NextQuestion(ctx, "u1", p.ID); !errors.Is(err, profile.ErrArchived) {
		t.Errorf("NextQuestion err = %v", err)
	}
	if _, err := f.tracker.RecordAnswer(ctx, "u1", q.ID, "late"); !errors.Is(err, profile.ErrArchived) {
		t.Errorf("RecordAnswer err = %v", err)
	}
	if _, err := f.tracker.Activate(ctx, "u1", p.ID); !errors.Is(err, profile.ErrArchived) {
		t.Errorf("Activate err = %v", err)
	}
	if _, err := f.tracker.Progress(ctx, "u1", p.ID); err != nil {
		t.Errorf("Progress on archived profile: %v", err)
	}
}

func TestDeleteProfileCascades(t *testing.T) {
	extra := &recordingPurger{}
	f := newFixture(t, nil, extra)
	ctx := context.Background()
	p, _ := f.tracker.CreateProfile(ctx, "u1", "Ada", profile.TierStandard)
	f.answerNext(t, "u1", p.ID)

	if err := f.tracker.DeleteProfile(ctx, "intruder", p.ID); !errors.Is(err, profile.ErrForbidden) {
		t.Fatalf("intruder delete err = %v", err)
	}
	if err := f.tracker.DeleteProfile(ctx, "u1", p.ID); err != nil {
		t.Fatalf("DeleteProfile: %v", err)
	}
	if _, err := f.tracker.Get(ctx, "u1", p.ID); !errors.Is(err, profile.ErrNotFound) {
		t.Errorf("Get after delete err = %v", err)
	}
	if mems, _ := f.repo.ListMemories(ctx, p.ID); len(mems) != 0 {
		t.Errorf("memories survived: %d", len(mems))
	}
	if qs, _ := f.repo.ListQuestions(ctx, p.ID); len(qs) != 0 {
		t.Errorf("questions survived: %d", len(qs))
	}
	if len(extra.purged) != 1 || extra.purged[0] != p.ID {
		t.Errorf("purger calls = %v", extra.purged)
	}
}

func TestMinimumsFixedAtCreation(t *testing.T) {
	repo := memstore.New()
	tr := enrollment.NewTracker(enrollment.Config{Repo: repo, Memories: memory.NewStore(memory.Config{Repo: repo})})
	ctx := context.Background()

	std, _ := tr.CreateProfile(ctx, "u1", "Std", profile.TierStandard)
	trial, _ := tr.CreateProfile(ctx, "u1", "Trial", profile.TierTrial)
	if std.MinInteractions != 40 || std.Coverage[profile.CategoryValues].MinRequired != 5 {
		t.Errorf("standard minimums = %d/%d", std.MinInteractions, std.Coverage[profile.CategoryValues].MinRequired)
	}
	if trial.MinInteractions != 16 || trial.Coverage[profile.CategoryValues].MinRequired != 2 {
		t.Errorf("trial minimums = %d/%d", trial.MinInteractions, trial.Coverage[profile.CategoryValues].MinRequired)
	}

	trial.Tier = profile.TierStandard
	if err := repo.UpdateProfile(ctx, trial); err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	got, _ := tr.Get(ctx, "u1", trial.ID)
	if got.MinInteractions != 16 {
		t.Errorf("tier change moved minimums to %d", got.MinInteractions)
	}

	if _, err := tr.CreateProfile(ctx, "u1", "X", profile.Tier("gold")); !errors.Is(err, profile.ErrInvalidInput) {
		t.Errorf("unknown tier err = %v", err)
	}
}

func TestConcurrentAnswersSameProfile(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	p, _ := f.tracker.CreateProfile(ctx, "u1", "Ada", profile.TierStandard)

	const n = 24
	ids := make([]string, n)
	for i := range ids {
		q := &enrollment.Question{
			ID:        fmt.Sprintf("q%d", i),
			ProfileID: p.ID,
			Category:  profile.Categories[i%len(profile.Categories)],
			Text:      fmt.Sprintf("q%d", i),
			Turn:      i + 1,
			CreatedAt: time.Now(),
		}
		if err := f.repo.InsertQuestion(ctx, q); err != nil {
			t.Fatalf("InsertQuestion: %v", err)
		}
		ids[i] = q.ID
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := f.tracker.RecordAnswer(ctx, "u1", id, "answer "+id); err != nil {
				t.Errorf("RecordAnswer %s: %v", id, err)
			}
		}(id)
	}
	wg.Wait()

	prog, _ := f.tracker.Progress(ctx, "u1", p.ID)
	if prog.TotalAnswered != n {
		t.Errorf("TotalAnswered = %d, want %d", prog.TotalAnswered, n)
	}
	for c, cv := range prog.Coverage {
		if cv.Count != n/len(profile.Categories) {
			t.Errorf("%s count = %d", c, cv.Count)
		}
	}
}

type slowEvaluator struct{}

func (slowEvaluator) EvaluateConsistency(ctx context.Context, _ []*memory.Memory) float64 {
	<-ctx.Done()
	return 0.5
}

func TestActivationEvaluationIsBounded(t *testing.T) {
	repo := memstore.New()
	mems := memory.NewStore(memory.Config{Repo: repo})
	tr := enrollment.NewTracker(enrollment.Config{
		Repo:              repo,
		Memories:          mems,
		Selector:          question.NewSelector(nil, nil),
		Evaluator:         slowEvaluator{},
		Trial:             profile.Minimums{Interactions: 8, PerCategory: 1},
		EvaluationTimeout: 20 * time.Millisecond,
	})
	ctx := context.Background()
	p, _ := tr.CreateProfile(ctx, "u1", "Ada", profile.TierTrial)

	var last *enrollment.AnswerResult
	for i := 0; i < 8; i++ {
		q, err := tr.NextQuestion(ctx, "u1", p.ID)
		if err != nil {
			t.Fatalf("NextQuestion: %v", err)
		}
		if last, err = tr.RecordAnswer(ctx, "u1", q.ID, "ok"); err != nil {
			t.Fatalf("RecordAnswer: %v", err)
		}
	}
	if !last.Activated || *last.Progress.ConsistencyScore != 0.5 {
		t.Errorf("result = %+v", last.Progress)
	}
}
