package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"golang-trade-dispatcher/internal/entity"
	"golang-trade-dispatcher/internal/worker/config"
	"golang-trade-dispatcher/internal/worker/dto"
	"golang-trade-dispatcher/internal/worker/repository"
	"golang-trade-dispatcher/pkg/logger"

	"github.com/google/uuid"
)

// DispatchService advances claimed recommendations through the execution
// state machine, placing at most one brokerage order per recommendation.
type DispatchService interface {
	Run(ctx context.Context)
}

// Outcomes of processing one claimed recommendation.
const (
	outcomeExecuted  = "executed"
	outcomeSimulated = "simulated"
	outcomeSkipped   = "skipped"
	outcomeFailed    = "failed"
	outcomeReleased  = "released"
)

// DispatchSummary is the structured result of one dispatcher cycle.
type DispatchSummary struct {
	Claimed   int `json:"claimed"`
	Executed  int `json:"executed"`
	Simulated int `json:"simulated"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
	Released  int `json:"released"`
}

type dispatchService struct {
	cfg                *config.Config
	log                *logger.Logger
	recommendationRepo repository.RecommendationRepository
	executionRepo      repository.ExecutionRepository
	runRepo            repository.DispatcherRunRepository
	brokerRepo         repository.BrokerRepository
	marketDataRepo     repository.MarketDataRepository
}

// NewDispatchService creates a new DispatchService.
func NewDispatchService(
	cfg *config.Config,
	log *logger.Logger,
	recommendationRepo repository.RecommendationRepository,
	executionRepo repository.ExecutionRepository,
	runRepo repository.DispatcherRunRepository,
	brokerRepo repository.BrokerRepository,
	marketDataRepo repository.MarketDataRepository,
) DispatchService {
	return &dispatchService{
		cfg:                cfg,
		log:                log,
		recommendationRepo: recommendationRepo,
		executionRepo:      executionRepo,
		runRepo:            runRepo,
		brokerRepo:         brokerRepo,
		marketDataRepo:     marketDataRepo,
	}
}

// Run processes one dispatcher cycle: open a run record, claim a batch of
// pending recommendations, drive each to an outcome, finalize the run with a
// summary.
func (s *dispatchService) Run(ctx context.Context) {
	run := &entity.DispatcherRun{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
	}
	if err := s.runRepo.Create(ctx, run); err != nil {
		s.log.Error("Failed to create dispatcher run", logger.ErrorField(err))
		return
	}

	var summary DispatchSummary
	defer func() {
		summaryJSON, err := json.Marshal(summary)
		if err == nil {
			if err := s.runRepo.Finalize(ctx, run.ID, summaryJSON); err != nil {
				s.log.Error("Failed to finalize dispatcher run", logger.ErrorField(err))
			}
		}
		s.log.Info("Dispatch cycle finished",
			logger.StringField("run_id", run.RunID),
			logger.IntField("claimed", summary.Claimed),
			logger.IntField("executed", summary.Executed),
			logger.IntField("simulated", summary.Simulated),
			logger.IntField("skipped", summary.Skipped),
			logger.IntField("failed", summary.Failed),
			logger.IntField("released", summary.Released))
	}()

	recommendations, err := s.recommendationRepo.ClaimPending(ctx, s.cfg.Worker.DispatchBatchSize, s.cfg.Worker.ClaimStaleAfter)
	if err != nil {
		s.log.Error("Failed to claim recommendations", logger.ErrorField(err))
		return
	}
	summary.Claimed = len(recommendations)

	for i := range recommendations {
		switch s.processOne(ctx, &recommendations[i]) {
		case outcomeExecuted:
			summary.Executed++
		case outcomeSimulated:
			summary.Simulated++
		case outcomeSkipped:
			summary.Skipped++
		case outcomeFailed:
			summary.Failed++
		case outcomeReleased:
			summary.Released++
		}
	}
}

// processOne drives a single PROCESSING recommendation to an outcome. Errors
// are isolated to the item: terminal ones become FAILED, transient ones
// release the row for the next cycle.
func (s *dispatchService) processOne(ctx context.Context, rec *entity.Recommendation) string {
	if rec.Ticker == "" || (rec.Action != entity.ActionBuy && rec.Action != entity.ActionSell) {
		return s.fail(ctx, rec, fmt.Sprintf("missing or invalid required field: ticker=%q action=%q", rec.Ticker, rec.Action))
	}

	if rec.Confidence < s.cfg.Dispatch.ConfidenceFloor {
		reason := fmt.Sprintf("confidence %.2f below floor %.2f", rec.Confidence, s.cfg.Dispatch.ConfidenceFloor)
		if err := s.recommendationRepo.MarkOutcome(ctx, rec.ID, entity.RecommendationStatusSkipped, reason); err != nil {
			s.log.Error("Failed to mark recommendation skipped", logger.Field("recommendation_id", rec.ID), logger.ErrorField(err))
		}
		return outcomeSkipped
	}

	// The execution id is derived from the recommendation id, never random:
	// a retry after a partial failure re-derives the same key and converges
	// on the already-recorded execution instead of placing a second order.
	executionID := ExecutionIDFor(rec.ID)

	existing, err := s.executionRepo.FindByExecutionID(ctx, executionID)
	if err != nil {
		return s.release(ctx, rec, err)
	}
	if existing != nil {
		return s.settleRecorded(ctx, rec, existing)
	}

	quote, err := s.marketDataRepo.GetPrice(ctx, rec.Ticker)
	if err != nil {
		return s.release(ctx, rec, err)
	}

	quantity := math.Floor(s.cfg.Dispatch.OrderNotional / quote.Price)
	if quantity < 1 {
		quantity = 1
	}

	if s.cfg.Dispatch.ExecutionMode == entity.ExecutionModeSimulated {
		execution := s.buildExecution(rec, executionID, quantity, quote.Price, "", entity.ExecutionModeSimulated)
		if _, err := s.executionRepo.Record(ctx, execution); err != nil {
			return s.release(ctx, rec, err)
		}
		if err := s.recommendationRepo.MarkOutcome(ctx, rec.ID, entity.RecommendationStatusSimulated, ""); err != nil {
			s.log.Error("Failed to mark recommendation simulated", logger.Field("recommendation_id", rec.ID), logger.ErrorField(err))
		}
		return outcomeSimulated
	}

	orderSide := dto.OrderSideBuy
	if rec.Action == entity.ActionSell {
		orderSide = dto.OrderSideSell
	}
	result, err := s.brokerRepo.PlaceOrder(ctx, dto.OrderSpec{
		ClientOrderID: executionID,
		Ticker:        rec.Ticker,
		Side:          orderSide,
		Quantity:      quantity,
		Type:          "market",
		TimeInForce:   "day",
	})
	if err != nil {
		if rejected, ok := dto.AsOrderRejected(err); ok {
			return s.fail(ctx, rec, rejected.Reason)
		}
		// Includes timeouts: the order may or may not exist broker-side, but
		// the client order id makes the eventual re-submission a no-op there.
		return s.release(ctx, rec, err)
	}

	entryPrice := result.FillPrice
	if entryPrice == 0 {
		entryPrice = quote.Price
	}

	execution := s.buildExecution(rec, executionID, quantity, entryPrice, result.OrderID, s.cfg.Dispatch.ExecutionMode)
	if _, err := s.executionRepo.Record(ctx, execution); err != nil {
		// The order is placed but not recorded. Releasing is safe: the next
		// cycle finds the same execution id or deduplicates at the broker.
		return s.release(ctx, rec, err)
	}

	if err := s.recommendationRepo.MarkOutcome(ctx, rec.ID, entity.RecommendationStatusExecuted, ""); err != nil {
		s.log.Error("Failed to mark recommendation executed", logger.Field("recommendation_id", rec.ID), logger.ErrorField(err))
	}

	s.log.Info("Recommendation executed",
		logger.Field("recommendation_id", rec.ID),
		logger.StringField("ticker", rec.Ticker),
		logger.StringField("execution_id", executionID),
		logger.Field("quantity", quantity),
		logger.Field("entry_price", entryPrice))

	return outcomeExecuted
}

// settleRecorded finishes a recommendation whose execution already exists
// from an earlier, partially failed cycle.
func (s *dispatchService) settleRecorded(ctx context.Context, rec *entity.Recommendation, execution *entity.Execution) string {
	status := entity.RecommendationStatusExecuted
	outcome := outcomeExecuted
	if execution.ExecutionMode == entity.ExecutionModeSimulated {
		status = entity.RecommendationStatusSimulated
		outcome = outcomeSimulated
	}
	if err := s.recommendationRepo.MarkOutcome(ctx, rec.ID, status, ""); err != nil {
		s.log.Error("Failed to settle recorded execution", logger.Field("recommendation_id", rec.ID), logger.ErrorField(err))
	}
	return outcome
}

func (s *dispatchService) fail(ctx context.Context, rec *entity.Recommendation, reason string) string {
	s.log.Warn("Recommendation failed",
		logger.Field("recommendation_id", rec.ID),
		logger.StringField("ticker", rec.Ticker),
		logger.StringField("reason", reason))
	if err := s.recommendationRepo.MarkOutcome(ctx, rec.ID, entity.RecommendationStatusFailed, reason); err != nil {
		s.log.Error("Failed to mark recommendation failed", logger.Field("recommendation_id", rec.ID), logger.ErrorField(err))
	}
	return outcomeFailed
}

func (s *dispatchService) release(ctx context.Context, rec *entity.Recommendation, cause error) string {
	s.log.Warn("Releasing recommendation for retry",
		logger.Field("recommendation_id", rec.ID),
		logger.StringField("ticker", rec.Ticker),
		logger.ErrorField(cause))
	if err := s.recommendationRepo.Release(ctx, rec.ID); err != nil {
		s.log.Error("Failed to release recommendation", logger.Field("recommendation_id", rec.ID), logger.ErrorField(err))
	}
	return outcomeReleased
}

func (s *dispatchService) buildExecution(rec *entity.Recommendation, executionID string, quantity, entryPrice float64, brokerOrderID, mode string) *entity.Execution {
	side := entity.SideLong
	stopLoss := entryPrice * (1 - s.cfg.Dispatch.StopLossPct)
	takeProfit := entryPrice * (1 + s.cfg.Dispatch.TakeProfitPct)
	if rec.Action == entity.ActionSell {
		side = entity.SideShort
		stopLoss = entryPrice * (1 + s.cfg.Dispatch.StopLossPct)
		takeProfit = entryPrice * (1 - s.cfg.Dispatch.TakeProfitPct)
	}

	return &entity.Execution{
		ExecutionID:      executionID,
		RecommendationID: rec.ID,
		Ticker:           rec.Ticker,
		InstrumentType:   rec.InstrumentType,
		Side:             side,
		Quantity:         quantity,
		EntryPrice:       entryPrice,
		StopLossPrice:    stopLoss,
		TakeProfitPrice:  takeProfit,
		TrailingStopPct:  s.cfg.Dispatch.TrailingStopPct,
		MaxHoldMinutes:   s.cfg.Dispatch.MaxHoldMinutes,
		StrategyType:     s.cfg.Dispatch.StrategyType,
		ExecutionMode:    mode,
		AccountName:      s.cfg.Dispatch.AccountName,
		BrokerOrderID:    brokerOrderID,
	}
}

// ExecutionIDFor derives the idempotency key for a recommendation.
func ExecutionIDFor(recommendationID uint) string {
	return fmt.Sprintf("exec-rec-%d", recommendationID)
}
