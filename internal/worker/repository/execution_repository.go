package repository

import (
	"context"

	"golang-trade-dispatcher/internal/entity"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ExecutionRepository is the idempotent recorder: at most one execution row
// ever exists per execution id, no matter how often dispatch is retried.
type ExecutionRepository interface {
	Record(ctx context.Context, execution *entity.Execution) (bool, error)
	FindByExecutionID(ctx context.Context, executionID string) (*entity.Execution, error)
	FindUnopened(ctx context.Context, limit int) ([]entity.Execution, error)
}

type executionRepository struct {
	db *gorm.DB
}

// NewExecutionRepository creates a new GORM-based execution repository.
func NewExecutionRepository(db *gorm.DB) ExecutionRepository {
	return &executionRepository{db: db}
}

// Record inserts the execution unless one with the same execution id already
// exists. On conflict it loads the pre-existing row into the argument and
// returns created=false; the store conflict never surfaces as an error.
func (r *executionRepository) Record(ctx context.Context, execution *entity.Execution) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "execution_id"}},
			DoNothing: true,
		}).
		Create(execution)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 1 {
		return true, nil
	}

	var existing entity.Execution
	if err := r.db.WithContext(ctx).
		Where("execution_id = ?", execution.ExecutionID).
		First(&existing).Error; err != nil {
		return false, err
	}
	*execution = existing
	return false, nil
}

// FindByExecutionID returns the execution for the given idempotency key, or
// nil when none exists.
func (r *executionRepository) FindByExecutionID(ctx context.Context, executionID string) (*entity.Execution, error) {
	var execution entity.Execution
	err := r.db.WithContext(ctx).
		Where("execution_id = ?", executionID).
		First(&execution).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &execution, nil
}

// FindUnopened returns executions that have no position yet. Simulated
// executions are economically inert and never become positions.
func (r *executionRepository) FindUnopened(ctx context.Context, limit int) ([]entity.Execution, error) {
	var executions []entity.Execution
	err := r.db.WithContext(ctx).
		Joins("LEFT JOIN active_positions ON active_positions.execution_id = executions.id").
		Where("active_positions.id IS NULL AND executions.execution_mode <> ?", entity.ExecutionModeSimulated).
		Order("executions.created_at ASC").
		Limit(limit).
		Find(&executions).Error
	if err != nil {
		return nil, err
	}
	return executions, nil
}
