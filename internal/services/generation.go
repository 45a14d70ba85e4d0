package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/edforge/edforge-backend/internal/pipeline"
	"github.com/edforge/edforge-backend/internal/pkg/logger"
	"github.com/edforge/edforge-backend/internal/repos"
	"github.com/edforge/edforge-backend/internal/types"
)

var (
	ErrBudgetExhausted = errors.New("credit budget exhausted")
	ErrNotFound        = errors.New("generation not found")
	ErrNotRetryable    = errors.New("generation is not in a retryable state")
	ErrInvalidInput    = errors.New("invalid generation request")
)

// submissionFee is the flat credit charge taken when a request is accepted.
// The budget gate runs once here; cost accrued mid-pipeline never blocks it.
const submissionFee = 1.0

// maxAssignmentQuestions bounds a single assignment request.
const maxAssignmentQuestions = 25

type StartInput struct {
	Topic           string `json:"topic"`
	Subtopics       string `json:"subtopics"`
	Mode            string `json:"mode"`
	Transcript      string `json:"transcript"`
	SingleCorrect   int    `json:"single_correct"`
	MultiCorrect    int    `json:"multi_correct"`
	SubjectiveCount int    `json:"subjective_count"`
}

type GenerationService interface {
	Start(ctx context.Context, userID uuid.UUID, in StartInput) (*types.Generation, error)
	Retry(ctx context.Context, id uuid.UUID) (*types.Generation, error)
	Stop(ctx context.Context, id uuid.UUID) error
	Get(ctx context.Context, id uuid.UUID) (*types.Generation, error)
	List(ctx context.Context, userID uuid.UUID, limit int) ([]*types.Generation, error)
	Logs(ctx context.Context, id uuid.UUID) ([]*types.GenerationLog, error)
}

type generationService struct {
	log   *logger.Logger
	users repos.UserRepo
	gens  repos.GenerationRepo
	logs  repos.GenerationLogRepo
	orch  *pipeline.Orchestrator
	sem   *semaphore.Weighted
}

func NewGenerationService(
	baseLog *logger.Logger,
	users repos.UserRepo,
	gens repos.GenerationRepo,
	logs repos.GenerationLogRepo,
	orch *pipeline.Orchestrator,
	maxConcurrent int,
) GenerationService {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &generationService{
		log:   baseLog.With("service", "GenerationService"),
		users: users,
		gens:  gens,
		logs:  logs,
		orch:  orch,
		sem:   semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

func validateStartInput(in StartInput) error {
	if strings.TrimSpace(in.Topic) == "" {
		return fmt.Errorf("%w: topic is required", ErrInvalidInput)
	}
	switch in.Mode {
	case types.ModeLecture, types.ModePreRead, types.ModeAssignment:
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidInput, in.Mode)
	}
	counts := types.AssignmentCounts{
		SingleCorrect: in.SingleCorrect,
		MultiCorrect:  in.MultiCorrect,
		Subjective:    in.SubjectiveCount,
	}
	if in.SingleCorrect < 0 || in.MultiCorrect < 0 || in.SubjectiveCount < 0 {
		return fmt.Errorf("%w: question counts must be non-negative", ErrInvalidInput)
	}
	if in.Mode == types.ModeAssignment {
		if counts.Total() == 0 {
			return fmt.Errorf("%w: assignment requires at least one question", ErrInvalidInput)
		}
		if counts.Total() > maxAssignmentQuestions {
			return fmt.Errorf("%w: at most %d questions per assignment", ErrInvalidInput, maxAssignmentQuestions)
		}
	}
	return nil
}

func (s *generationService) Start(ctx context.Context, userID uuid.UUID, in StartInput) (*types.Generation, error) {
	if err := validateStartInput(in); err != nil {
		return nil, err
	}

	user, err := s.users.GetByID(ctx, nil, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	if user.BudgetExhausted() {
		return nil, ErrBudgetExhausted
	}

	gen := &types.Generation{
		UserID:          userID,
		Topic:           strings.TrimSpace(in.Topic),
		Subtopics:       strings.TrimSpace(in.Subtopics),
		Mode:            in.Mode,
		Transcript:      in.Transcript,
		SingleCorrect:   in.SingleCorrect,
		MultiCorrect:    in.MultiCorrect,
		SubjectiveCount: in.SubjectiveCount,
		Status:          types.GenerationStatusQueued,
		Message:         "Queued",
	}
	gen, err = s.gens.Create(ctx, nil, gen)
	if err != nil {
		return nil, err
	}

	if err := s.users.AddSpentCredits(ctx, nil, userID, submissionFee); err != nil {
		s.log.Warn("failed to record submission fee",
			"user_id", userID.String(), "error", err)
	}

	s.launch(gen.ID)
	return gen, nil
}

func (s *generationService) Retry(ctx context.Context, id uuid.UUID) (*types.Generation, error) {
	gen, err := s.gens.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if gen == nil {
		return nil, ErrNotFound
	}
	switch gen.Status {
	case types.GenerationStatusFailed, types.GenerationStatusStopped, types.GenerationStatusMismatch:
	default:
		return nil, fmt.Errorf("%w: status is %s", ErrNotRetryable, gen.Status)
	}

	if err := s.gens.UpdateFields(ctx, nil, id, map[string]any{
		"status":  types.GenerationStatusQueued,
		"error":   "",
		"message": "Retry queued",
	}); err != nil {
		return nil, err
	}
	gen.Status = types.GenerationStatusQueued
	gen.Error = ""
	gen.Message = "Retry queued"

	s.launch(id)
	return gen, nil
}

func (s *generationService) Stop(ctx context.Context, id uuid.UUID) error {
	gen, err := s.gens.GetByID(ctx, nil, id)
	if err != nil {
		return err
	}
	if gen == nil {
		return ErrNotFound
	}

	if s.orch.Stop(id) {
		// The run's own shutdown path persists the stopped status.
		return nil
	}

	// Not running in this process: flip queued rows directly, leave
	// terminal rows alone.
	_, err = s.gens.UpdateFieldsUnlessStatus(ctx, nil, id,
		[]string{
			types.GenerationStatusCompleted,
			types.GenerationStatusFailed,
			types.GenerationStatusProcessing,
		},
		map[string]any{
			"status":  types.GenerationStatusStopped,
			"message": "Stopped by user",
		})
	return err
}

func (s *generationService) Get(ctx context.Context, id uuid.UUID) (*types.Generation, error) {
	gen, err := s.gens.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if gen == nil {
		return nil, ErrNotFound
	}
	return gen, nil
}

func (s *generationService) List(ctx context.Context, userID uuid.UUID, limit int) ([]*types.Generation, error) {
	return s.gens.ListByUserID(ctx, nil, userID, limit)
}

func (s *generationService) Logs(ctx context.Context, id uuid.UUID) ([]*types.GenerationLog, error) {
	gen, err := s.gens.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if gen == nil {
		return nil, ErrNotFound
	}
	return s.logs.ListByGenerationID(ctx, nil, id)
}

// launch runs the pipeline on a bounded worker. The run gets a fresh
// background context: the HTTP request that started it returns immediately.
func (s *generationService) launch(id uuid.UUID) {
	go func() {
		ctx := context.Background()
		if err := s.sem.Acquire(ctx, 1); err != nil {
			s.log.Error("failed to acquire run slot", "generation_id", id.String(), "error", err)
			return
		}
		defer s.sem.Release(1)

		if err := s.orch.Run(ctx, id); err != nil {
			if errors.Is(err, pipeline.ErrAlreadyProcessing) {
				s.log.Warn("duplicate run suppressed", "generation_id", id.String())
				return
			}
			s.log.Error("pipeline run failed", "generation_id", id.String(), "error", err)
		}
	}()
}
