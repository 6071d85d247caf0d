package repository

import (
	"context"

	"golang-trade-dispatcher/internal/entity"

	"gorm.io/gorm"
)

// WatchlistRepository reads the ranked ticker set maintained by the upstream
// selection scoring.
type WatchlistRepository interface {
	GetActive(ctx context.Context) ([]entity.WatchlistStock, error)
}

type watchlistRepository struct {
	db *gorm.DB
}

// NewWatchlistRepository creates a new GORM-based watchlist repository.
func NewWatchlistRepository(db *gorm.DB) WatchlistRepository {
	return &watchlistRepository{db: db}
}

func (r *watchlistRepository) GetActive(ctx context.Context) ([]entity.WatchlistStock, error) {
	var stocks []entity.WatchlistStock
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("rank ASC").
		Find(&stocks).Error
	if err != nil {
		return nil, err
	}
	return stocks, nil
}
