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

type GenerationLogRepo interface {
	Append(ctx context.Context, tx *gorm.DB, entry *types.GenerationLog) (*types.GenerationLog, error)
	ListByGenerationID(ctx context.Context, tx *gorm.DB, generationID uuid.UUID) ([]*types.GenerationLog, error)
}

type generationLogRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewGenerationLogRepo(db *gorm.DB, baseLog *logger.Logger) GenerationLogRepo {
	return &generationLogRepo{db: db, log: baseLog.With("repo", "GenerationLogRepo")}
}

func (r *generationLogRepo) Append(ctx context.Context, tx *gorm.DB, entry *types.GenerationLog) (*types.GenerationLog, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if entry == nil {
		return nil, errors.New("nil log entry")
	}
	if entry.GenerationID == uuid.Nil {
		return nil, errors.New("log entry missing generation id")
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.Type == "" {
		entry.Type = types.LogTypeInfo
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if err := transaction.WithContext(ctx).Create(entry).Error; err != nil {
		return nil, err
	}
	return entry, nil
}

func (r *generationLogRepo) ListByGenerationID(ctx context.Context, tx *gorm.DB, generationID uuid.UUID) ([]*types.GenerationLog, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.GenerationLog
	if generationID == uuid.Nil {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("generation_id = ?", generationID).
		Order("created_at ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
