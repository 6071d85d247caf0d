package repository

import (
	"context"
	"database/sql"
	"time"

	"golang-trade-dispatcher/internal/entity"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DispatcherRunRepository records dispatcher cycles for staleness detection.
type DispatcherRunRepository interface {
	Create(ctx context.Context, run *entity.DispatcherRun) error
	Finalize(ctx context.Context, id uint, summary datatypes.JSON) error
	GetLatest(ctx context.Context, limit int) ([]entity.DispatcherRun, error)
}

type dispatcherRunRepository struct {
	db *gorm.DB
}

// NewDispatcherRunRepository creates a new GORM-based dispatcher run repository.
func NewDispatcherRunRepository(db *gorm.DB) DispatcherRunRepository {
	return &dispatcherRunRepository{db: db}
}

func (r *dispatcherRunRepository) Create(ctx context.Context, run *entity.DispatcherRun) error {
	return r.db.WithContext(ctx).Create(run).Error
}

func (r *dispatcherRunRepository) Finalize(ctx context.Context, id uint, summary datatypes.JSON) error {
	return r.db.WithContext(ctx).Model(&entity.DispatcherRun{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"finished_at": sql.NullTime{Time: time.Now(), Valid: true},
			"summary":     summary,
		}).Error
}

func (r *dispatcherRunRepository) GetLatest(ctx context.Context, limit int) ([]entity.DispatcherRun, error) {
	var runs []entity.DispatcherRun
	err := r.db.WithContext(ctx).
		Order("started_at DESC").
		Limit(limit).
		Find(&runs).Error
	if err != nil {
		return nil, err
	}
	return runs, nil
}
