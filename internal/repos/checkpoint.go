package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/edforge/edforge-backend/internal/pkg/logger"
	"github.com/edforge/edforge-backend/internal/types"
)

type CheckpointRepo interface {
	Create(ctx context.Context, tx *gorm.DB, cp *types.Checkpoint) (*types.Checkpoint, error)
	GetLatestByGenerationID(ctx context.Context, tx *gorm.DB, generationID uuid.UUID) (*types.Checkpoint, error)
	ListByGenerationID(ctx context.Context, tx *gorm.DB, generationID uuid.UUID) ([]*types.Checkpoint, error)
}

type checkpointRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCheckpointRepo(db *gorm.DB, baseLog *logger.Logger) CheckpointRepo {
	return &checkpointRepo{db: db, log: baseLog.With("repo", "CheckpointRepo")}
}

func (r *checkpointRepo) Create(ctx context.Context, tx *gorm.DB, cp *types.Checkpoint) (*types.Checkpoint, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if cp == nil {
		return nil, errors.New("nil checkpoint")
	}
	if cp.GenerationID == uuid.Nil {
		return nil, errors.New("checkpoint missing generation id")
	}
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	if err := transaction.WithContext(ctx).Create(cp).Error; err != nil {
		return nil, err
	}
	return cp, nil
}

func (r *checkpointRepo) GetLatestByGenerationID(ctx context.Context, tx *gorm.DB, generationID uuid.UUID) (*types.Checkpoint, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if generationID == uuid.Nil {
		return nil, nil
	}
	var cp types.Checkpoint
	err := transaction.WithContext(ctx).
		Where("generation_id = ?", generationID).
		Order("step_number DESC").
		Limit(1).
		Find(&cp).Error
	if err != nil {
		return nil, err
	}
	if cp.ID == uuid.Nil {
		return nil, nil
	}
	return &cp, nil
}

func (r *checkpointRepo) ListByGenerationID(ctx context.Context, tx *gorm.DB, generationID uuid.UUID) ([]*types.Checkpoint, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.Checkpoint
	if generationID == uuid.Nil {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("generation_id = ?", generationID).
		Order("step_number ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
