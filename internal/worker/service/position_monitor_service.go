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
	"golang-trade-dispatcher/pkg/utils"
)

// PositionMonitorService manages open positions from entry to exit: it turns
// recorded executions into positions, reprices claimed positions, ratchets
// trailing stops, evaluates exit triggers in priority order, and submits and
// confirms exit orders.
type PositionMonitorService interface {
	Run(ctx context.Context)
}

type positionMonitorService struct {
	cfg            *config.Config
	log            *logger.Logger
	executionRepo  repository.ExecutionRepository
	positionRepo   repository.PositionRepository
	brokerRepo     repository.BrokerRepository
	marketDataRepo repository.MarketDataRepository
	redis          *redis.Client
	notifier       telegram.Notifier
}

// NewPositionMonitorService creates a new PositionMonitorService.
func NewPositionMonitorService(
	cfg *config.Config,
	log *logger.Logger,
	executionRepo repository.ExecutionRepository,
	positionRepo repository.PositionRepository,
	brokerRepo repository.BrokerRepository,
	marketDataRepo repository.MarketDataRepository,
	redisClient *redis.Client,
	notifier telegram.Notifier,
) PositionMonitorService {
	return &positionMonitorService{
		cfg:            cfg,
		log:            log,
		executionRepo:  executionRepo,
		positionRepo:   positionRepo,
		brokerRepo:     brokerRepo,
		marketDataRepo: marketDataRepo,
		redis:          redisClient,
		notifier:       notifier,
	}
}

// Run performs one monitoring tick: open positions for unopened executions,
// then claim and process a batch of live positions. A failing position is
// logged and skipped; the rest of the batch keeps going.
func (s *positionMonitorService) Run(ctx context.Context) {
	s.openNewPositions(ctx)

	positions, err := s.positionRepo.ClaimForMonitoring(ctx, s.cfg.Worker.MonitorBatchSize, s.cfg.Worker.MonitorClaimWindow)
	if err != nil {
		s.log.Error("Failed to claim positions", logger.ErrorField(err))
		return
	}
	if len(positions) == 0 {
		return
	}

	var exited, partial, failed int
	for i := range positions {
		outcome, err := s.processPosition(ctx, &positions[i])
		if err != nil {
			s.log.Error("Failed to process position",
				logger.Field("position_id", positions[i].ID),
				logger.StringField("ticker", positions[i].Ticker),
				logger.ErrorField(err))
			failed++
			continue
		}
		switch outcome {
		case entity.FillTypeFinal:
			exited++
		case entity.FillTypePartial:
			partial++
		}
	}

	s.log.Info("Monitoring tick finished",
		logger.IntField("claimed", len(positions)),
		logger.IntField("closed", exited),
		logger.IntField("partial_exits", partial),
		logger.IntField("failed", failed))
}

// openNewPositions creates a position for every recorded execution that does
// not have one yet. Creation is idempotent on execution id, so a crash
// between recording and opening heals on the next tick.
func (s *positionMonitorService) openNewPositions(ctx context.Context) {
	executions, err := s.executionRepo.FindUnopened(ctx, s.cfg.Worker.MonitorBatchSize)
	if err != nil {
		s.log.Error("Failed to find unopened executions", logger.ErrorField(err))
		return
	}

	for i := range executions {
		position := s.positionFromExecution(&executions[i])
		created, err := s.positionRepo.CreateIfAbsent(ctx, position)
		if err != nil {
			s.log.Error("Failed to open position",
				logger.StringField("execution_id", executions[i].ExecutionID),
				logger.ErrorField(err))
			continue
		}
		if created {
			s.log.Info("Position opened",
				logger.Field("position_id", position.ID),
				logger.StringField("ticker", position.Ticker),
				logger.StringField("side", position.Side),
				logger.Field("quantity", position.Quantity),
				logger.Field("entry_price", position.EntryPrice))
		}
	}
}

// positionFromExecution seeds a position from its execution. The peak starts
// at the entry price and the trailing stop is computed from it immediately;
// the activation threshold gates the trigger, not the bookkeeping.
func (s *positionMonitorService) positionFromExecution(execution *entity.Execution) *entity.Position {
	trailingStop := execution.EntryPrice * (1 - execution.TrailingStopPct)
	if execution.Side == entity.SideShort {
		trailingStop = execution.EntryPrice * (1 + execution.TrailingStopPct)
	}

	return &entity.Position{
		ExecutionID:           execution.ID,
		Ticker:                execution.Ticker,
		InstrumentType:        execution.InstrumentType,
		Side:                  execution.Side,
		Quantity:              execution.Quantity,
		OriginalQuantity:      execution.Quantity,
		EntryPrice:            execution.EntryPrice,
		EntryTime:             execution.CreatedAt,
		CurrentPrice:          execution.EntryPrice,
		PeakPrice:             execution.EntryPrice,
		TrailingStopPrice:     trailingStop,
		TrailingStopPct:       execution.TrailingStopPct,
		TrailingActivationPct: s.cfg.Dispatch.TrailingActivationPct,
		StopLossPrice:         execution.StopLossPrice,
		TakeProfitPrice:       execution.TakeProfitPrice,
		MaxHoldMinutes:        execution.MaxHoldMinutes,
		StrategyType:          execution.StrategyType,
		Expiration:            execution.Expiration,
		ExecutionMode:         execution.ExecutionMode,
		Status:                entity.PositionStatusOpen,
	}
}

// processPosition handles one claimed position for one tick and returns the
// fill type applied, if any.
func (s *positionMonitorService) processPosition(ctx context.Context, position *entity.Position) (string, error) {
	// A position stuck in closing had its exit order fail earlier; retry the
	// exit before anything else.
	if position.Status == entity.PositionStatusClosing {
		return s.submitExit(ctx, position, position.CloseReason)
	}

	quote, err := s.marketDataRepo.GetPrice(ctx, position.Ticker)
	if err != nil {
		return "", fmt.Errorf("price fetch failed: %w", err)
	}

	updateMarketState(position, quote.Price)
	if err := s.positionRepo.UpdateMarketState(ctx, position); err != nil {
		return "", err
	}
	s.mirrorLastPrice(ctx, position.Ticker, quote.Price)

	reason := s.evaluateExit(position, time.Now())
	if reason == "" {
		return "", nil
	}

	if err := s.positionRepo.MarkClosing(ctx, position.ID, reason); err != nil {
		return "", err
	}
	position.Status = entity.PositionStatusClosing
	position.CloseReason = reason

	return s.submitExit(ctx, position, reason)
}

// mirrorLastPrice publishes the latest price to Redis for other consumers.
// Best effort only; a mirror failure never fails the tick.
func (s *positionMonitorService) mirrorLastPrice(ctx context.Context, ticker string, price float64) {
	key := fmt.Sprintf(common.RedisKeyLastPrice, ticker)
	if err := s.redis.Set(ctx, key, price, common.RedisLastPriceTTL).Err(); err != nil {
		s.log.Warn("Failed to mirror last price", logger.StringField("ticker", ticker), logger.ErrorField(err))
	}
}

// updateMarketState reprices the position: current price, ratcheted peak,
// tightened trailing stop, unrealized P&L. The peak and the trailing stop
// only ever move in the position's favor.
func updateMarketState(position *entity.Position, price float64) {
	position.CurrentPrice = price

	if position.Side == entity.SideShort {
		if price < position.PeakPrice {
			position.PeakPrice = price
		}
		if candidate := position.PeakPrice * (1 + position.TrailingStopPct); candidate < position.TrailingStopPrice || position.TrailingStopPrice == 0 {
			position.TrailingStopPrice = candidate
		}
		position.PnlDollars = (position.EntryPrice - price) * position.Quantity
	} else {
		if price > position.PeakPrice {
			position.PeakPrice = price
		}
		if candidate := position.PeakPrice * (1 - position.TrailingStopPct); candidate > position.TrailingStopPrice {
			position.TrailingStopPrice = candidate
		}
		position.PnlDollars = (price - position.EntryPrice) * position.Quantity
	}

	if position.EntryPrice != 0 && position.Quantity != 0 {
		position.PnlPercent = position.PnlDollars / (position.EntryPrice * position.Quantity) * 100
	}
}

// evaluateExit returns the close reason that fires for the current state, or
// "" to keep holding. Triggers are checked in fixed priority order; within
// the minimum hold window only the hard stop-loss may fire.
func (s *positionMonitorService) evaluateExit(position *entity.Position, now time.Time) string {
	price := position.CurrentPrice
	short := position.Side == entity.SideShort

	// A zero threshold means the level is unset, never a live trigger.
	stopLossHit := position.StopLossPrice > 0 && price <= position.StopLossPrice
	takeProfitHit := position.TakeProfitPrice > 0 && price >= position.TakeProfitPrice
	trailingHit := position.TrailingStopPrice > 0 && price <= position.TrailingStopPrice
	if short {
		stopLossHit = position.StopLossPrice > 0 && price >= position.StopLossPrice
		takeProfitHit = position.TakeProfitPrice > 0 && price <= position.TakeProfitPrice
		trailingHit = position.TrailingStopPrice > 0 && price >= position.TrailingStopPrice
	}

	if stopLossHit {
		return entity.CloseReasonStopLoss
	}

	minHold := time.Duration(s.cfg.Monitor.MinHoldMinutes) * time.Minute
	if minHold > 0 && now.Sub(position.EntryTime) < minHold {
		return ""
	}

	if trailingHit && trailingArmed(position) {
		return entity.CloseReasonTrailingStop
	}
	if takeProfitHit {
		return entity.CloseReasonTakeProfit
	}
	if s.optionExpiryImminent(position, now) {
		return entity.CloseReasonOptionExpiry
	}
	if position.MaxHoldMinutes > 0 &&
		now.Sub(position.EntryTime) >= time.Duration(position.MaxHoldMinutes)*time.Minute {
		return entity.CloseReasonMaxHold
	}
	if position.StrategyType == entity.StrategyTypeDay && s.pastEndOfDay(now) {
		return entity.CloseReasonEndOfDay
	}
	return ""
}

// trailingArmed reports whether the price has ever moved favorably past the
// activation threshold. Until then the trailing stop is tracked but inert.
func trailingArmed(position *entity.Position) bool {
	threshold := position.EntryPrice * (1 + position.TrailingActivationPct)
	if position.Side == entity.SideShort {
		threshold = position.EntryPrice * (1 - position.TrailingActivationPct)
		return position.PeakPrice <= threshold
	}
	return position.PeakPrice >= threshold
}

// optionExpiryImminent reports whether an option position is inside the
// safety window before its expiration.
func (s *positionMonitorService) optionExpiryImminent(position *entity.Position, now time.Time) bool {
	if position.InstrumentType != entity.InstrumentTypeOption || position.Expiration == nil {
		return false
	}
	window := time.Duration(s.cfg.Monitor.OptionExpiryWindowHours) * time.Hour
	return position.Expiration.Sub(now) <= window
}

// pastEndOfDay reports whether the wall clock in the market time zone has
// reached the configured end-of-day close time.
func (s *positionMonitorService) pastEndOfDay(now time.Time) bool {
	loc, err := time.LoadLocation(s.cfg.Monitor.MarketTimeZone)
	if err != nil {
		loc = time.UTC
	}
	closeAt, err := time.ParseInLocation("15:04", s.cfg.Monitor.EndOfDayCloseTime, loc)
	if err != nil {
		return false
	}
	local := now.In(loc)
	cutoff := time.Date(local.Year(), local.Month(), local.Day(),
		closeAt.Hour(), closeAt.Minute(), 0, 0, loc)
	return !local.Before(cutoff)
}

// submitExit places the exit order for a closing position and applies the
// resulting fill. Take-profit exits scale out by the configured fraction;
// everything else flattens the position.
func (s *positionMonitorService) submitExit(ctx context.Context, position *entity.Position, reason string) (string, error) {
	exitQty := position.Quantity
	fillType := entity.FillTypeFinal
	fraction := s.cfg.Monitor.TakeProfitExitFraction
	// Scale out only on the first take-profit hit; a position that already
	// carries fills gets flattened on the next trigger.
	if reason == entity.CloseReasonTakeProfit && fraction > 0 && fraction < 1 &&
		position.Quantity == position.OriginalQuantity {
		exitQty = position.Quantity * fraction
		fillType = entity.FillTypePartial
	}

	fillPrice := position.CurrentPrice
	if position.ExecutionMode != entity.ExecutionModeSimulated {
		fills, err := s.positionRepo.GetFills(ctx, position.ID)
		if err != nil {
			return "", s.handleExitFailure(ctx, position, err)
		}

		exitSide := dto.OrderSideSell
		if position.Side == entity.SideShort {
			exitSide = dto.OrderSideBuy
		}
		clientOrderID := fmt.Sprintf("exit-%d-%d", position.ID, len(fills)+1)
		result, err := s.brokerRepo.PlaceOrder(ctx, dto.OrderSpec{
			ClientOrderID: clientOrderID,
			Ticker:        position.Ticker,
			Side:          exitSide,
			Quantity:      exitQty,
			Type:          "market",
			TimeInForce:   "day",
		})
		if err != nil {
			// A rejection for a client order id the broker already holds means
			// an earlier attempt went through and only the local bookkeeping
			// failed; converge on the accepted order instead of retrying.
			if _, rejected := dto.AsOrderRejected(err); rejected {
				existing, lookupErr := s.brokerRepo.GetOrderByClientID(ctx, clientOrderID)
				if lookupErr == nil && existing != nil {
					result, err = existing, nil
				}
			}
			if err != nil {
				return "", s.handleExitFailure(ctx, position, err)
			}
		}
		if result.FillPrice > 0 {
			fillPrice = result.FillPrice
		}
	}

	fill := &entity.PositionFill{
		PositionID: position.ID,
		FillType:   fillType,
		Quantity:   exitQty,
		Price:      fillPrice,
		Reason:     reason,
	}
	if err := s.applyFill(ctx, position, fill); err != nil {
		return "", err
	}
	return fillType, nil
}

// handleExitFailure leaves the position in closing, bumps the retry counter,
// and escalates to the operator once the retry budget is spent. The alert is
// deduplicated in Redis so a stuck position pages once, not every tick.
func (s *positionMonitorService) handleExitFailure(ctx context.Context, position *entity.Position, cause error) error {
	position.ExitAttempts++
	if err := s.positionRepo.RecordExitAttempt(ctx, position.ID, position.ExitAttempts); err != nil {
		s.log.Error("Failed to record exit attempt", logger.Field("position_id", position.ID), logger.ErrorField(err))
	}

	if position.ExitAttempts >= s.cfg.Monitor.MaxExitAttempts {
		key := fmt.Sprintf(common.RedisKeyExitAlert, position.ID)
		isNew, err := s.redis.SetNX(ctx, key, time.Now().Unix(), common.RedisOperatorAlertTTL).Result()
		if err != nil {
			s.log.Warn("Failed to deduplicate exit alert", logger.Field("position_id", position.ID), logger.ErrorField(err))
		}
		if isNew {
			if err := s.notifier.SendMessage(telegram.FormatExitFailureAlert(position, cause)); err != nil {
				s.log.Error("Failed to send exit alert", logger.Field("position_id", position.ID), logger.ErrorField(err))
			}
		}
	}

	return fmt.Errorf("exit order failed (attempt %d): %w", position.ExitAttempts, cause)
}

// applyFill records the fill and moves the position to its post-fill state:
// reduced and reopened after a partial exit, closed with frozen P&L after a
// final one.
func (s *positionMonitorService) applyFill(ctx context.Context, position *entity.Position, fill *entity.PositionFill) error {
	if fill.FillType == entity.FillTypePartial {
		position.Quantity -= fill.Quantity
		position.Status = entity.PositionStatusOpen
		position.CloseReason = ""
		position.ExitAttempts = 0
		if err := s.positionRepo.ApplyFill(ctx, position, fill); err != nil {
			return err
		}
		s.log.Info("Partial exit filled",
			logger.Field("position_id", position.ID),
			logger.StringField("ticker", position.Ticker),
			logger.Field("quantity", fill.Quantity),
			logger.Field("price", fill.Price),
			logger.Field("remaining", position.Quantity))
		return nil
	}

	previous, err := s.positionRepo.GetFills(ctx, position.ID)
	if err != nil {
		return err
	}

	position.Quantity = 0
	position.Status = entity.PositionStatusClosed
	position.CloseReason = fill.Reason
	position.ExitPrice = fill.Price
	position.ClosedAt = utils.ToPointer(time.Now())
	position.PnlDollars, position.PnlPercent = realizedPnl(position, append(previous, *fill))

	if err := s.positionRepo.ApplyFill(ctx, position, fill); err != nil {
		return err
	}

	s.log.Info("Position closed",
		logger.Field("position_id", position.ID),
		logger.StringField("ticker", position.Ticker),
		logger.StringField("reason", position.CloseReason),
		logger.Field("pnl_dollars", position.PnlDollars),
		logger.Field("pnl_percent", position.PnlPercent))

	if err := s.notifier.SendMessage(telegram.FormatPositionClosed(position)); err != nil {
		s.log.Warn("Failed to send close notification", logger.Field("position_id", position.ID), logger.ErrorField(err))
	}
	return nil
}

// realizedPnl computes the frozen P&L for a fully exited position from its
// complete fill log.
func realizedPnl(position *entity.Position, fills []entity.PositionFill) (dollars, percent float64) {
	var filledQty float64
	for _, f := range fills {
		if position.Side == entity.SideShort {
			dollars += (position.EntryPrice - f.Price) * f.Quantity
		} else {
			dollars += (f.Price - position.EntryPrice) * f.Quantity
		}
		filledQty += f.Quantity
	}
	if position.EntryPrice != 0 && filledQty != 0 {
		percent = dollars / (position.EntryPrice * filledQty) * 100
	}
	return dollars, percent
}
