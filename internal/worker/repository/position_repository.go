package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang-trade-dispatcher/internal/entity"
	"golang-trade-dispatcher/internal/worker/dto"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PositionRepository defines the interface for position data operations.
// Lifecycle transitions are conditional updates guarded on the current
// status, so open -> closing -> closed can never run backwards.
type PositionRepository interface {
	CreateIfAbsent(ctx context.Context, position *entity.Position) (bool, error)
	Get(ctx context.Context, param dto.GetPositionsParam) ([]entity.Position, error)
	ClaimForMonitoring(ctx context.Context, batchSize int, notMonitoredFor time.Duration) ([]entity.Position, error)
	UpdateMarketState(ctx context.Context, position *entity.Position) error
	MarkClosing(ctx context.Context, id uint, reason string) error
	RecordExitAttempt(ctx context.Context, id uint, attempts int) error
	ApplyFill(ctx context.Context, position *entity.Position, fill *entity.PositionFill) error
	CloseReconciled(ctx context.Context, id uint) error
	GetFills(ctx context.Context, positionID uint) ([]entity.PositionFill, error)
}

type positionRepository struct {
	db *gorm.DB
}

// NewPositionRepository creates a new GORM-based position repository.
func NewPositionRepository(db *gorm.DB) PositionRepository {
	return &positionRepository{db: db}
}

// CreateIfAbsent inserts a position unless one already exists for the same
// execution. Combined with the unique execution id this guarantees at most
// one position per execution.
func (r *positionRepository) CreateIfAbsent(ctx context.Context, position *entity.Position) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "execution_id"}},
			DoNothing: true,
		}).
		Create(position)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *positionRepository) Get(ctx context.Context, param dto.GetPositionsParam) ([]entity.Position, error) {
	qFilter := []string{}
	qFilterParam := []interface{}{}

	if len(param.IDs) > 0 {
		qFilter = append(qFilter, "id IN (?)")
		qFilterParam = append(qFilterParam, param.IDs)
	}
	if len(param.Tickers) > 0 {
		qFilter = append(qFilter, "ticker IN (?)")
		qFilterParam = append(qFilterParam, param.Tickers)
	}
	if len(param.Statuses) > 0 {
		qFilter = append(qFilter, "status IN (?)")
		qFilterParam = append(qFilterParam, param.Statuses)
	}
	q := r.db.WithContext(ctx).Order("created_at DESC")
	if len(qFilter) > 0 {
		q = q.Where(strings.Join(qFilter, " AND "), qFilterParam...)
	}
	if param.Limit > 0 {
		q = q.Limit(param.Limit)
	}

	var positions []entity.Position
	if err := q.Find(&positions).Error; err != nil {
		return nil, err
	}
	return positions, nil
}

// ClaimForMonitoring reserves a batch of open or closing positions for one
// monitoring tick, least recently monitored first. The skip-locked read keeps
// concurrent claimers off the same rows inside the transaction, and the
// last_monitored_at stamp keeps a claimed position invisible to overlapping
// ticks until notMonitoredFor has passed, so no two monitor instances ever
// process the same position concurrently.
func (r *positionRepository) ClaimForMonitoring(ctx context.Context, batchSize int, notMonitoredFor time.Duration) ([]entity.Position, error) {
	var claimed []entity.Position
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		var positions []entity.Position
		err := tx.
			Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate, Options: clause.LockingOptionsSkipLocked}).
			Where("status IN ?", []entity.PositionStatus{entity.PositionStatusOpen, entity.PositionStatusClosing}).
			Where("last_monitored_at IS NULL OR last_monitored_at < ?", now.Add(-notMonitoredFor)).
			Order("last_monitored_at ASC NULLS FIRST").
			Limit(batchSize).
			Find(&positions).Error
		if err != nil {
			return err
		}
		if len(positions) == 0 {
			return nil
		}

		ids := make([]uint, 0, len(positions))
		for _, p := range positions {
			ids = append(ids, p.ID)
		}
		if err := tx.Model(&entity.Position{}).
			Where("id IN ?", ids).
			Update("last_monitored_at", now).Error; err != nil {
			return err
		}
		for i := range positions {
			positions[i].LastMonitoredAt = &now
		}
		claimed = positions
		return nil
	})
	return claimed, err
}

// UpdateMarketState persists the per-tick pricing fields only.
func (r *positionRepository) UpdateMarketState(ctx context.Context, position *entity.Position) error {
	return r.db.WithContext(ctx).Model(position).
		Select("current_price", "peak_price", "trailing_stop_price", "pnl_dollars", "pnl_percent").
		Updates(position).Error
}

// MarkClosing transitions an open position to closing with the exit reason
// that fired. The guard on status makes a concurrent double-trigger a no-op.
func (r *positionRepository) MarkClosing(ctx context.Context, id uint, reason string) error {
	res := r.db.WithContext(ctx).Model(&entity.Position{}).
		Where("id = ? AND status = ?", id, entity.PositionStatusOpen).
		Updates(map[string]interface{}{
			"status":       entity.PositionStatusClosing,
			"close_reason": reason,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("position %d is not open", id)
	}
	return nil
}

// RecordExitAttempt bumps the exit retry counter for a closing position.
func (r *positionRepository) RecordExitAttempt(ctx context.Context, id uint, attempts int) error {
	return r.db.WithContext(ctx).Model(&entity.Position{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"exit_attempts":        attempts,
			"last_exit_attempt_at": time.Now(),
		}).Error
}

// ApplyFill persists one exit fill and the resulting position state in a
// single transaction, so the fill log and the remaining quantity cannot
// drift apart.
func (r *positionRepository) ApplyFill(ctx context.Context, position *entity.Position, fill *entity.PositionFill) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(fill).Error; err != nil {
			return err
		}
		return tx.Model(position).
			Select("quantity", "status", "close_reason", "exit_price", "closed_at",
				"pnl_dollars", "pnl_percent", "exit_attempts").
			Updates(position).Error
	})
}

// CloseReconciled closes a phantom position with zero P&L delta. The broker
// has no record of it, so it cannot be priced meaningfully.
func (r *positionRepository) CloseReconciled(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Model(&entity.Position{}).
		Where("id = ? AND status IN ?", id,
			[]entity.PositionStatus{entity.PositionStatusOpen, entity.PositionStatusClosing}).
		Updates(map[string]interface{}{
			"status":       entity.PositionStatusClosed,
			"close_reason": entity.CloseReasonReconciliation,
			"closed_at":    time.Now(),
			"pnl_dollars":  0,
			"pnl_percent":  0,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("position %d is already closed", id)
	}
	return nil
}

func (r *positionRepository) GetFills(ctx context.Context, positionID uint) ([]entity.PositionFill, error) {
	var fills []entity.PositionFill
	err := r.db.WithContext(ctx).
		Where("position_id = ?", positionID).
		Order("created_at ASC").
		Find(&fills).Error
	if err != nil {
		return nil, err
	}
	return fills, nil
}
