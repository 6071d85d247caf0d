package repository

import (
	"context"
	"time"

	"golang-trade-dispatcher/internal/entity"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// NewsEventRepository owns the claim-then-act queue over raw news events.
type NewsEventRepository interface {
	CreateIfAbsent(ctx context.Context, event *entity.NewsEvent) (bool, error)
	Claim(ctx context.Context, batchSize int, staleAfter time.Duration) ([]entity.NewsEvent, error)
	Complete(ctx context.Context, id uint) error
	Release(ctx context.Context, id uint) error
}

type newsEventRepository struct {
	db *gorm.DB
}

// NewNewsEventRepository creates a new GORM-based news event repository.
func NewNewsEventRepository(db *gorm.DB) NewsEventRepository {
	return &newsEventRepository{db: db}
}

// CreateIfAbsent inserts the event unless one with the same external id
// already exists. Returns whether a row was created.
func (r *newsEventRepository) CreateIfAbsent(ctx context.Context, event *entity.NewsEvent) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "external_id"}},
			DoNothing: true,
		}).
		Create(event)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Claim reserves a batch of unprocessed events for this worker. The locking
// read skips rows locked by a concurrent claimer instead of blocking on them,
// so two workers can never receive the same event. The claimed_at stamp keeps
// the row invisible to other workers between transactions; a claim older than
// staleAfter is treated as abandoned and returns to the pool.
func (r *newsEventRepository) Claim(ctx context.Context, batchSize int, staleAfter time.Duration) ([]entity.NewsEvent, error) {
	var claimed []entity.NewsEvent
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		var events []entity.NewsEvent
		err := tx.
			Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate, Options: clause.LockingOptionsSkipLocked}).
			Where("processed_at IS NULL AND (claimed_at IS NULL OR claimed_at < ?)", now.Add(-staleAfter)).
			Order("enqueued_at ASC").
			Limit(batchSize).
			Find(&events).Error
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}

		ids := make([]uint, 0, len(events))
		for _, e := range events {
			ids = append(ids, e.ID)
		}
		if err := tx.Model(&entity.NewsEvent{}).
			Where("id IN ?", ids).
			Update("claimed_at", now).Error; err != nil {
			return err
		}
		for i := range events {
			events[i].ClaimedAt = &now
		}
		claimed = events
		return nil
	})
	return claimed, err
}

// Complete marks an event processed. It is a conditional update so a double
// completion is a no-op rather than an error.
func (r *newsEventRepository) Complete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Model(&entity.NewsEvent{}).
		Where("id = ? AND processed_at IS NULL", id).
		Update("processed_at", time.Now()).Error
}

// Release returns a claimed event to the pool unchanged.
func (r *newsEventRepository) Release(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Model(&entity.NewsEvent{}).
		Where("id = ? AND processed_at IS NULL", id).
		Update("claimed_at", nil).Error
}
