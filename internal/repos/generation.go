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

type GenerationRepo interface {
	Create(ctx context.Context, tx *gorm.DB, gen *types.Generation) (*types.Generation, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Generation, error)
	ListByUserID(ctx context.Context, tx *gorm.DB, userID uuid.UUID, limit int) ([]*types.Generation, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]any) error

	// UpdateFieldsUnlessStatus applies updates unless the row currently has
	// one of the excluded statuses. Returns false when the guard rejected
	// the write.
	UpdateFieldsUnlessStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, excluded []string, updates map[string]any) (bool, error)

	// MarkProcessing claims the row for a single pipeline run. It only
	// succeeds when the current status is not already processing, which is
	// the idempotency guard against double starts.
	MarkProcessing(ctx context.Context, tx *gorm.DB, id uuid.UUID) (bool, error)
}

type generationRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewGenerationRepo(db *gorm.DB, baseLog *logger.Logger) GenerationRepo {
	return &generationRepo{db: db, log: baseLog.With("repo", "GenerationRepo")}
}

func (r *generationRepo) Create(ctx context.Context, tx *gorm.DB, gen *types.Generation) (*types.Generation, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if gen == nil {
		return nil, errors.New("nil generation")
	}
	if gen.ID == uuid.Nil {
		gen.ID = uuid.New()
	}
	if gen.Status == "" {
		gen.Status = types.GenerationStatusQueued
	}
	now := time.Now()
	if gen.CreatedAt.IsZero() {
		gen.CreatedAt = now
	}
	gen.UpdatedAt = now
	if err := transaction.WithContext(ctx).Create(gen).Error; err != nil {
		return nil, err
	}
	return gen, nil
}

func (r *generationRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Generation, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var gen types.Generation
	err := transaction.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&gen).Error
	if err != nil {
		return nil, err
	}
	if gen.ID == uuid.Nil {
		return nil, nil
	}
	return &gen, nil
}

func (r *generationRepo) ListByUserID(ctx context.Context, tx *gorm.DB, userID uuid.UUID, limit int) ([]*types.Generation, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 {
		limit = 50
	}
	var results []*types.Generation
	if err := transaction.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *generationRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]any) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]any{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(ctx).
		Model(&types.Generation{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *generationRepo) UpdateFieldsUnlessStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, excluded []string, updates map[string]any) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return false, nil
	}
	if updates == nil {
		updates = map[string]any{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	q := transaction.WithContext(ctx).
		Model(&types.Generation{}).
		Where("id = ?", id)
	if len(excluded) > 0 {
		q = q.Where("status NOT IN ?", excluded)
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *generationRepo) MarkProcessing(ctx context.Context, tx *gorm.DB, id uuid.UUID) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return false, nil
	}
	now := time.Now()
	res := transaction.WithContext(ctx).
		Model(&types.Generation{}).
		Where("id = ? AND status <> ?", id, types.GenerationStatusProcessing).
		Updates(map[string]any{
			"status":     types.GenerationStatusProcessing,
			"error":      "",
			"updated_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
