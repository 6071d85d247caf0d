package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"golang-trade-dispatcher/internal/entity"
	"golang-trade-dispatcher/internal/worker/dto"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RecommendationRepository defines the interface for recommendation data
// operations. Status changes go through conditional transitions only, so the
// state machine can never move backwards.
type RecommendationRepository interface {
	CreateIfAbsent(ctx context.Context, rec *entity.Recommendation) (bool, error)
	Get(ctx context.Context, param dto.GetRecommendationsParam) ([]entity.Recommendation, error)
	ClaimPending(ctx context.Context, batchSize int, staleAfter time.Duration) ([]entity.Recommendation, error)
	MarkOutcome(ctx context.Context, id uint, status entity.RecommendationStatus, reason string) error
	Release(ctx context.Context, id uint) error
	Requeue(ctx context.Context, id uint) error
	Cancel(ctx context.Context, id uint) error
}

type recommendationRepository struct {
	db *gorm.DB
}

// NewRecommendationRepository creates a new GORM-based recommendation repository.
func NewRecommendationRepository(db *gorm.DB) RecommendationRepository {
	return &recommendationRepository{db: db}
}

// CreateIfAbsent inserts a recommendation unless one already exists for the
// same news event and ticker. Returns whether a row was created.
func (r *recommendationRepository) CreateIfAbsent(ctx context.Context, rec *entity.Recommendation) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "news_event_id"}, {Name: "ticker"}},
			DoNothing: true,
		}).
		Create(rec)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *recommendationRepository) Get(ctx context.Context, param dto.GetRecommendationsParam) ([]entity.Recommendation, error) {
	qFilter := []string{}
	qFilterParam := []interface{}{}

	if len(param.IDs) > 0 {
		qFilter = append(qFilter, "id IN (?)")
		qFilterParam = append(qFilterParam, param.IDs)
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

	var recommendations []entity.Recommendation
	if err := q.Find(&recommendations).Error; err != nil {
		return nil, err
	}
	return recommendations, nil
}

// ClaimPending atomically moves a batch of PENDING recommendations to
// PROCESSING, oldest first. The skip-locked read is the exclusivity boundary
// between concurrent dispatcher instances. A PROCESSING row whose claim is
// older than staleAfter belongs to a worker that died mid-cycle and is
// claimed again, so a crash can never leak a recommendation permanently.
func (r *recommendationRepository) ClaimPending(ctx context.Context, batchSize int, staleAfter time.Duration) ([]entity.Recommendation, error) {
	var claimed []entity.Recommendation
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		var recs []entity.Recommendation
		err := tx.
			Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate, Options: clause.LockingOptionsSkipLocked}).
			Where("status = ? OR (status = ? AND claimed_at < ?)",
				entity.RecommendationStatusPending, entity.RecommendationStatusProcessing, now.Add(-staleAfter)).
			Order("created_at ASC").
			Limit(batchSize).
			Find(&recs).Error
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			return nil
		}

		ids := make([]uint, 0, len(recs))
		for _, rec := range recs {
			ids = append(ids, rec.ID)
		}
		if err := tx.Model(&entity.Recommendation{}).
			Where("id IN ?", ids).
			Updates(map[string]interface{}{
				"status":     entity.RecommendationStatusProcessing,
				"claimed_at": now,
			}).Error; err != nil {
			return err
		}
		for i := range recs {
			recs[i].Status = entity.RecommendationStatusProcessing
			recs[i].ClaimedAt = &now
		}
		claimed = recs
		return nil
	})
	return claimed, err
}

// MarkOutcome moves a PROCESSING recommendation to a terminal status. The
// guard on the current status makes the transition forward-only.
func (r *recommendationRepository) MarkOutcome(ctx context.Context, id uint, status entity.RecommendationStatus, reason string) error {
	updates := map[string]interface{}{"status": status}
	if reason != "" {
		updates["failure_reason"] = sql.NullString{String: reason, Valid: true}
	}
	res := r.db.WithContext(ctx).Model(&entity.Recommendation{}).
		Where("id = ? AND status = ?", id, entity.RecommendationStatusProcessing).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("recommendation %d is not in PROCESSING", id)
	}
	return nil
}

// Release returns a PROCESSING recommendation to the pending pool unchanged,
// for retry on a later cycle.
func (r *recommendationRepository) Release(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Model(&entity.Recommendation{}).
		Where("id = ? AND status = ?", id, entity.RecommendationStatusProcessing).
		Updates(map[string]interface{}{
			"status":     entity.RecommendationStatusPending,
			"claimed_at": nil,
		}).Error
}

// Requeue moves a FAILED recommendation back to PENDING. This is the only
// automatic-retry exception and is operator initiated.
func (r *recommendationRepository) Requeue(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Model(&entity.Recommendation{}).
		Where("id = ? AND status = ?", id, entity.RecommendationStatusFailed).
		Updates(map[string]interface{}{
			"status":         entity.RecommendationStatusPending,
			"claimed_at":     nil,
			"failure_reason": sql.NullString{},
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("recommendation %d is not in FAILED", id)
	}
	return nil
}

// Cancel moves a PENDING recommendation to CANCELLED. A recommendation
// already claimed by a dispatcher cannot be cancelled.
func (r *recommendationRepository) Cancel(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Model(&entity.Recommendation{}).
		Where("id = ? AND status = ?", id, entity.RecommendationStatusPending).
		Update("status", entity.RecommendationStatusCancelled)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("recommendation %d is not in PENDING", id)
	}
	return nil
}
