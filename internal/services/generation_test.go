package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/edforge/edforge-backend/internal/clients/llm"
	"github.com/edforge/edforge-backend/internal/pipeline"
	"github.com/edforge/edforge-backend/internal/pkg/logger"
	"github.com/edforge/edforge-backend/internal/types"
)

type stubUserRepo struct {
	mu    sync.Mutex
	users map[uuid.UUID]*types.User
	spent map[uuid.UUID]float64
}

func newStubUserRepo() *stubUserRepo {
	return &stubUserRepo{users: make(map[uuid.UUID]*types.User), spent: make(map[uuid.UUID]float64)}
}

func (r *stubUserRepo) GetByID(_ context.Context, _ *gorm.DB, id uuid.UUID) (*types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (r *stubUserRepo) Create(_ context.Context, _ *gorm.DB, u *types.User) (*types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	r.users[u.ID] = u
	return u, nil
}

func (r *stubUserRepo) AddSpentCredits(_ context.Context, _ *gorm.DB, id uuid.UUID, amount float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok && amount > 0 {
		u.SpentCredits += amount
		r.spent[id] += amount
	}
	return nil
}

type stubGenerationRepo struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*types.Generation
}

func newStubGenerationRepo() *stubGenerationRepo {
	return &stubGenerationRepo{rows: make(map[uuid.UUID]*types.Generation)}
}

func (r *stubGenerationRepo) Create(_ context.Context, _ *gorm.DB, gen *types.Generation) (*types.Generation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if gen.ID == uuid.Nil {
		gen.ID = uuid.New()
	}
	if gen.Status == "" {
		gen.Status = types.GenerationStatusQueued
	}
	cp := *gen
	r.rows[gen.ID] = &cp
	return gen, nil
}

func (r *stubGenerationRepo) GetByID(_ context.Context, _ *gorm.DB, id uuid.UUID) (*types.Generation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return nil, nil
	}
	cp := *row
	return &cp, nil
}

func (r *stubGenerationRepo) ListByUserID(_ context.Context, _ *gorm.DB, userID uuid.UUID, _ int) ([]*types.Generation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.Generation
	for _, row := range r.rows {
		if row.UserID == userID {
			cp := *row
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *stubGenerationRepo) apply(row *types.Generation, updates map[string]any) {
	for k, v := range updates {
		switch k {
		case "status":
			row.Status = v.(string)
		case "message":
			row.Message = v.(string)
		case "error":
			row.Error = v.(string)
		}
	}
}

func (r *stubGenerationRepo) UpdateFields(_ context.Context, _ *gorm.DB, id uuid.UUID, updates map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if row, ok := r.rows[id]; ok {
		r.apply(row, updates)
	}
	return nil
}

func (r *stubGenerationRepo) UpdateFieldsUnlessStatus(_ context.Context, _ *gorm.DB, id uuid.UUID, excluded []string, updates map[string]any) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return false, nil
	}
	for _, s := range excluded {
		if row.Status == s {
			return false, nil
		}
	}
	r.apply(row, updates)
	return true, nil
}

func (r *stubGenerationRepo) MarkProcessing(_ context.Context, _ *gorm.DB, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok || row.Status == types.GenerationStatusProcessing {
		return false, nil
	}
	row.Status = types.GenerationStatusProcessing
	row.Error = ""
	return true, nil
}

func (r *stubGenerationRepo) status(id uuid.UUID) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if row, ok := r.rows[id]; ok {
		return row.Status
	}
	return ""
}

type stubLogRepo struct {
	mu      sync.Mutex
	entries map[uuid.UUID][]*types.GenerationLog
}

func newStubLogRepo() *stubLogRepo {
	return &stubLogRepo{entries: make(map[uuid.UUID][]*types.GenerationLog)}
}

func (r *stubLogRepo) Append(_ context.Context, _ *gorm.DB, e *types.GenerationLog) (*types.GenerationLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[e.GenerationID] = append(r.entries[e.GenerationID], e)
	return e, nil
}

func (r *stubLogRepo) ListByGenerationID(_ context.Context, _ *gorm.DB, id uuid.UUID) ([]*types.GenerationLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries[id], nil
}

type stubCheckpointRepo struct{}

func (stubCheckpointRepo) Create(_ context.Context, _ *gorm.DB, cp *types.Checkpoint) (*types.Checkpoint, error) {
	return cp, nil
}
func (stubCheckpointRepo) GetLatestByGenerationID(_ context.Context, _ *gorm.DB, _ uuid.UUID) (*types.Checkpoint, error) {
	return nil, nil
}
func (stubCheckpointRepo) ListByGenerationID(_ context.Context, _ *gorm.DB, _ uuid.UUID) ([]*types.Checkpoint, error) {
	return nil, nil
}

// failGateway makes every pipeline run fail fast so launched goroutines
// settle deterministically.
type failGateway struct{}

func (failGateway) Generate(context.Context, llm.Request) (llm.Result, error) {
	return llm.Result{}, &llm.Error{Kind: llm.KindAuthError, Status: 401, Provider: "stub", Body: "bad key"}
}
func (failGateway) Stream(context.Context, llm.Request, func(string)) (llm.Result, error) {
	return llm.Result{}, &llm.Error{Kind: llm.KindAuthError, Status: 401, Provider: "stub", Body: "bad key"}
}
func (failGateway) Embed(context.Context, []string) ([][]float32, error) {
	return nil, &llm.Error{Kind: llm.KindAuthError, Status: 401, Provider: "stub", Body: "bad key"}
}

type fixture struct {
	users *stubUserRepo
	gens  *stubGenerationRepo
	logs  *stubLogRepo
	svc   GenerationService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	users := newStubUserRepo()
	gens := newStubGenerationRepo()
	logs := newStubLogRepo()
	orch := pipeline.New(logger.NewNop(), pipeline.Config{},
		gens, stubCheckpointRepo{}, logs, pipeline.NopNotifier{}, failGateway{}, nil, nil)
	svc := NewGenerationService(logger.NewNop(), users, gens, logs, orch, 2)
	return &fixture{users: users, gens: gens, logs: logs, svc: svc}
}

func (f *fixture) seedUser(t *testing.T, credits, spent float64) uuid.UUID {
	t.Helper()
	u, err := f.users.Create(context.Background(), nil, &types.User{
		Email:        uuid.NewString() + "@example.com",
		Credits:      credits,
		SpentCredits: spent,
	})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return u.ID
}

func validInput() StartInput {
	return StartInput{Topic: "calculus", Subtopics: "limits", Mode: types.ModeLecture}
}

func TestValidateStartInput(t *testing.T) {
	cases := []struct {
		name string
		in   StartInput
		ok   bool
	}{
		{"lecture ok", StartInput{Topic: "t", Mode: types.ModeLecture}, true},
		{"pre-read ok", StartInput{Topic: "t", Mode: types.ModePreRead}, true},
		{"missing topic", StartInput{Topic: "  ", Mode: types.ModeLecture}, false},
		{"unknown mode", StartInput{Topic: "t", Mode: "quiz"}, false},
		{"negative count", StartInput{Topic: "t", Mode: types.ModeLecture, SingleCorrect: -1}, false},
		{"assignment needs questions", StartInput{Topic: "t", Mode: types.ModeAssignment}, false},
		{"assignment ok", StartInput{Topic: "t", Mode: types.ModeAssignment, SingleCorrect: 5, MultiCorrect: 2, SubjectiveCount: 2}, true},
		{"assignment at cap", StartInput{Topic: "t", Mode: types.ModeAssignment, SingleCorrect: 25}, true},
		{"assignment over cap", StartInput{Topic: "t", Mode: types.ModeAssignment, SingleCorrect: 26}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateStartInput(tc.in)
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok {
				if err == nil {
					t.Fatal("expected validation error")
				}
				if !errors.Is(err, ErrInvalidInput) {
					t.Fatalf("error %v must wrap ErrInvalidInput", err)
				}
			}
		})
	}
}

func TestStartRejectsExhaustedBudget(t *testing.T) {
	f := newFixture(t)
	userID := f.seedUser(t, 2, 2)

	_, err := f.svc.Start(context.Background(), userID, validInput())
	if !errors.Is(err, ErrBudgetExhausted) {
		t.Fatalf("err = %v, want ErrBudgetExhausted", err)
	}
	if len(f.gens.rows) != 0 {
		t.Fatal("no generation row may be created when the budget gate rejects")
	}
}

func TestStartUnknownUserIsNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Start(context.Background(), uuid.New(), validInput())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestStartCreatesQueuedRowAndChargesFee(t *testing.T) {
	f := newFixture(t)
	userID := f.seedUser(t, 10, 0)

	gen, err := f.svc.Start(context.Background(), userID, StartInput{
		Topic: "  calculus  ", Subtopics: "limits", Mode: types.ModeLecture,
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if gen.Status != types.GenerationStatusQueued {
		t.Fatalf("status = %q, want queued", gen.Status)
	}
	if gen.Topic != "calculus" {
		t.Fatalf("topic = %q, want trimmed", gen.Topic)
	}

	f.users.mu.Lock()
	spent := f.users.spent[userID]
	f.users.mu.Unlock()
	if spent != submissionFee {
		t.Fatalf("spent = %f, want the submission fee %f", spent, submissionFee)
	}
}

func TestRetryOnlyFromRetryableStates(t *testing.T) {
	f := newFixture(t)

	completed, _ := f.gens.Create(context.Background(), nil, &types.Generation{
		UserID: uuid.New(), Topic: "t", Mode: types.ModeLecture,
		Status: types.GenerationStatusCompleted,
	})
	if _, err := f.svc.Retry(context.Background(), completed.ID); !errors.Is(err, ErrNotRetryable) {
		t.Fatalf("err = %v, want ErrNotRetryable for a completed row", err)
	}

	failed, _ := f.gens.Create(context.Background(), nil, &types.Generation{
		UserID: uuid.New(), Topic: "t", Mode: types.ModeLecture,
		Status: types.GenerationStatusFailed, Error: "boom",
	})
	gen, err := f.svc.Retry(context.Background(), failed.ID)
	if err != nil {
		t.Fatalf("retry failed row: %v", err)
	}
	if gen.Status != types.GenerationStatusQueued || gen.Error != "" {
		t.Fatalf("gen = %+v, want queued with cleared error", gen)
	}
}

func TestRetryMissingIsNotFound(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Retry(context.Background(), uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestStopFlipsQueuedRowNotRunningLocally(t *testing.T) {
	f := newFixture(t)
	gen, _ := f.gens.Create(context.Background(), nil, &types.Generation{
		UserID: uuid.New(), Topic: "t", Mode: types.ModeLecture,
		Status: types.GenerationStatusQueued,
	})

	if err := f.svc.Stop(context.Background(), gen.ID); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if got := f.gens.status(gen.ID); got != types.GenerationStatusStopped {
		t.Fatalf("status = %q, want stopped", got)
	}
}

func TestStopLeavesTerminalRowsAlone(t *testing.T) {
	f := newFixture(t)
	gen, _ := f.gens.Create(context.Background(), nil, &types.Generation{
		UserID: uuid.New(), Topic: "t", Mode: types.ModeLecture,
		Status: types.GenerationStatusCompleted,
	})

	if err := f.svc.Stop(context.Background(), gen.ID); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if got := f.gens.status(gen.ID); got != types.GenerationStatusCompleted {
		t.Fatalf("status = %q, completed row must stay completed", got)
	}
}

func TestLogsMissingGenerationIsNotFound(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Logs(context.Background(), uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestStartedRunEventuallyFailsWithStubGateway(t *testing.T) {
	f := newFixture(t)
	userID := f.seedUser(t, 10, 0)

	gen, err := f.svc.Start(context.Background(), userID, validInput())
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if f.gens.status(gen.ID) == types.GenerationStatusFailed {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	row, _ := f.gens.GetByID(context.Background(), nil, gen.ID)
	if row.Status != types.GenerationStatusFailed {
		t.Fatalf("status = %q, want failed after the gateway rejects", row.Status)
	}
	if !strings.Contains(strings.ToLower(row.Error), "stub") {
		t.Fatalf("error = %q, want the gateway failure surfaced", row.Error)
	}
}
