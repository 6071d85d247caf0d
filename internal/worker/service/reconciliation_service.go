package service

import (
	"context"
	"fmt"
	"time"

	"golang-trade-dispatcher/internal/entity"
	"golang-trade-dispatcher/internal/worker/config"
	"golang-trade-dispatcher/internal/worker/dto"
	"golang-trade-dispatcher/internal/worker/repository"
	"golang-trade-dispatcher/pkg/common"
	"golang-trade-dispatcher/pkg/logger"
	"golang-trade-dispatcher/pkg/redis"
	"golang-trade-dispatcher/pkg/telegram"
)

// ReconciliationService compares the local position ledger against the
// broker's authoritative list. Local positions the broker does not hold
// (phantoms) are closed with zero P&L; broker positions the ledger does not
// track (orphans) are surfaced to the operator and never adopted.
type ReconciliationService interface {
	Run(ctx context.Context)
}

type reconciliationService struct {
	cfg          *config.Config
	log          *logger.Logger
	positionRepo repository.PositionRepository
	brokerRepo   repository.BrokerRepository
	redis        *redis.Client
	notifier     telegram.Notifier
}

// NewReconciliationService creates a new ReconciliationService.
func NewReconciliationService(
	cfg *config.Config,
	log *logger.Logger,
	positionRepo repository.PositionRepository,
	brokerRepo repository.BrokerRepository,
	redisClient *redis.Client,
	notifier telegram.Notifier,
) ReconciliationService {
	return &reconciliationService{
		cfg:          cfg,
		log:          log,
		positionRepo: positionRepo,
		brokerRepo:   brokerRepo,
		redis:        redisClient,
		notifier:     notifier,
	}
}

// Run performs one reconciliation pass. A broker listing failure aborts the
// whole pass: without the authoritative list every local position would look
// like a phantom.
func (s *reconciliationService) Run(ctx context.Context) {
	brokerPositions, err := s.brokerRepo.ListPositions(ctx)
	if err != nil {
		s.log.Error("Failed to list broker positions", logger.ErrorField(err))
		return
	}

	localPositions, err := s.positionRepo.Get(ctx, dto.GetPositionsParam{
		Statuses: []entity.PositionStatus{entity.PositionStatusOpen, entity.PositionStatusClosing},
	})
	if err != nil {
		s.log.Error("Failed to load local positions", logger.ErrorField(err))
		return
	}

	phantoms, orphans := Reconcile(brokerPositions, localPositions)

	var closed int
	for i := range phantoms {
		if err := s.positionRepo.CloseReconciled(ctx, phantoms[i].ID); err != nil {
			s.log.Error("Failed to close phantom position",
				logger.Field("position_id", phantoms[i].ID),
				logger.StringField("ticker", phantoms[i].Ticker),
				logger.ErrorField(err))
			continue
		}
		s.log.Warn("Closed phantom position",
			logger.Field("position_id", phantoms[i].ID),
			logger.StringField("ticker", phantoms[i].Ticker))
		closed++
	}

	for _, orphan := range orphans {
		s.alertOrphan(ctx, orphan)
	}

	s.log.Info("Reconciliation finished",
		logger.IntField("broker_positions", len(brokerPositions)),
		logger.IntField("local_positions", len(localPositions)),
		logger.IntField("phantoms_closed", closed),
		logger.IntField("orphans", len(orphans)))
}

// alertOrphan notifies the operator about an untracked broker position, at
// most once per dedup window.
func (s *reconciliationService) alertOrphan(ctx context.Context, orphan dto.BrokerPosition) {
	key := fmt.Sprintf(common.RedisKeyOrphanAlert, orphan.Ticker)
	isNew, err := s.redis.SetNX(ctx, key, time.Now().Unix(), common.RedisOperatorAlertTTL).Result()
	if err != nil {
		s.log.Warn("Failed to deduplicate orphan alert", logger.StringField("ticker", orphan.Ticker), logger.ErrorField(err))
	}
	if !isNew {
		return
	}
	if err := s.notifier.SendMessage(telegram.FormatOrphanAlert(orphan)); err != nil {
		s.log.Error("Failed to send orphan alert", logger.StringField("ticker", orphan.Ticker), logger.ErrorField(err))
	}
}

// Reconcile splits the two position sets by ticker into phantoms (local only)
// and orphans (broker only). Simulated positions never reach the broker, so
// they are not phantom candidates.
func Reconcile(brokerPositions []dto.BrokerPosition, localPositions []entity.Position) ([]entity.Position, []dto.BrokerPosition) {
	brokerByTicker := make(map[string]struct{}, len(brokerPositions))
	for _, p := range brokerPositions {
		brokerByTicker[p.Ticker] = struct{}{}
	}
	localByTicker := make(map[string]struct{}, len(localPositions))
	for _, p := range localPositions {
		localByTicker[p.Ticker] = struct{}{}
	}

	var phantoms []entity.Position
	for _, p := range localPositions {
		if p.ExecutionMode == entity.ExecutionModeSimulated {
			continue
		}
		if _, ok := brokerByTicker[p.Ticker]; !ok {
			phantoms = append(phantoms, p)
		}
	}

	var orphans []dto.BrokerPosition
	for _, p := range brokerPositions {
		if _, ok := localByTicker[p.Ticker]; !ok {
			orphans = append(orphans, p)
		}
	}

	return phantoms, orphans
}
