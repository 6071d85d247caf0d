package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"golang-trade-dispatcher/internal/entity"
	"golang-trade-dispatcher/internal/worker/config"
	"golang-trade-dispatcher/internal/worker/dto"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func monitorTestConfig() *config.Config {
	return &config.Config{
		Worker: config.Worker{MonitorBatchSize: 50, MonitorClaimWindow: 45 * time.Second},
		Dispatch: config.Dispatch{
			TrailingActivationPct: 0.02,
		},
		Monitor: config.Monitor{
			MinHoldMinutes:          5,
			TakeProfitExitFraction:  0.5,
			MaxExitAttempts:         100,
			OptionExpiryWindowHours: 24,
			EndOfDayCloseTime:       "15:55",
			MarketTimeZone:          "America/New_York",
		},
	}
}

func newMonitorFixture(cfg *config.Config) (*positionMonitorService, *fakeExecutionRepo, *fakePositionRepo, *fakeBrokerRepo, *fakeNotifier) {
	execRepo := newFakeExecutionRepo()
	posRepo := newFakePositionRepo()
	broker := &fakeBrokerRepo{}
	marketData := &fakeMarketDataRepo{prices: map[string]float64{}}
	notifier := &fakeNotifier{}
	svc := NewPositionMonitorService(cfg, testLogger(), execRepo, posRepo, broker, marketData, nil, notifier).(*positionMonitorService)
	return svc, execRepo, posRepo, broker, notifier
}

func longPosition() *entity.Position {
	return &entity.Position{
		ID:                    1,
		Ticker:                "AAPL",
		InstrumentType:        entity.InstrumentTypeStock,
		Side:                  entity.SideLong,
		Quantity:              10,
		OriginalQuantity:      10,
		EntryPrice:            100,
		EntryTime:             time.Now().Add(-2 * time.Hour),
		CurrentPrice:          100,
		PeakPrice:             100,
		TrailingStopPrice:     95,
		TrailingStopPct:       0.05,
		TrailingActivationPct: 0.02,
		StopLossPrice:         97,
		TakeProfitPrice:       106,
		MaxHoldMinutes:        2880,
		StrategyType:          entity.StrategyTypeSwing,
		ExecutionMode:         entity.ExecutionModePaper,
		Status:                entity.PositionStatusOpen,
	}
}

func TestTrailingStopNeverRetreats(t *testing.T) {
	position := longPosition()

	prices := []float64{100, 105, 103, 108, 101}
	want := []float64{95, 99.75, 99.75, 102.6, 102.6}
	for i, price := range prices {
		updateMarketState(position, price)
		assert.InDelta(t, want[i], position.TrailingStopPrice, 1e-9, "after price %.2f", price)
	}
	assert.Equal(t, float64(108), position.PeakPrice)
}

func TestUpdateMarketStateShortSideMirrors(t *testing.T) {
	position := longPosition()
	position.Side = entity.SideShort
	position.TrailingStopPrice = 105

	updateMarketState(position, 90)

	assert.Equal(t, float64(90), position.PeakPrice)
	assert.InDelta(t, 94.5, position.TrailingStopPrice, 1e-9)
	assert.InDelta(t, 100, position.PnlDollars, 1e-9) // (100-90)*10
	assert.InDelta(t, 10, position.PnlPercent, 1e-9)

	// A bounce up must not loosen either the peak or the trailing stop.
	updateMarketState(position, 95)
	assert.Equal(t, float64(90), position.PeakPrice)
	assert.InDelta(t, 94.5, position.TrailingStopPrice, 1e-9)
}

func TestRunClaimsWithFreshnessWindow(t *testing.T) {
	svc, _, posRepo, _, _ := newMonitorFixture(monitorTestConfig())

	svc.Run(context.Background())

	assert.Equal(t, 45*time.Second, posRepo.claimWindow,
		"overlapping ticks must not re-claim a position monitored within the window")
}

func TestEvaluateExitIgnoresUnsetThresholds(t *testing.T) {
	svc, _, _, _, _ := newMonitorFixture(monitorTestConfig())

	// A short with no levels set sits above every zero threshold; none of
	// them may fire.
	position := longPosition()
	position.Side = entity.SideShort
	position.StopLossPrice = 0
	position.TakeProfitPrice = 0
	position.TrailingStopPrice = 0
	position.MaxHoldMinutes = 0
	position.CurrentPrice = 100
	assert.Equal(t, "", svc.evaluateExit(position, time.Now()))

	// A long with only the take-profit unset must not treat price>=0 as a hit.
	position = longPosition()
	position.TakeProfitPrice = 0
	position.MaxHoldMinutes = 0
	position.CurrentPrice = 100
	assert.Equal(t, "", svc.evaluateExit(position, time.Now()))
}

func TestEvaluateExitStopLossBeatsTakeProfit(t *testing.T) {
	svc, _, _, _, _ := newMonitorFixture(monitorTestConfig())
	position := longPosition()
	position.CurrentPrice = 96
	position.StopLossPrice = 97
	position.TakeProfitPrice = 95 // contrived so both trigger at once

	assert.Equal(t, entity.CloseReasonStopLoss, svc.evaluateExit(position, time.Now()))
}

func TestEvaluateExitMinHoldSuppressesAllButStopLoss(t *testing.T) {
	svc, _, _, _, _ := newMonitorFixture(monitorTestConfig())

	position := longPosition()
	position.EntryTime = time.Now().Add(-1 * time.Minute)
	position.CurrentPrice = 110 // past take-profit
	assert.Equal(t, "", svc.evaluateExit(position, time.Now()))

	position.CurrentPrice = 96 // past hard stop
	assert.Equal(t, entity.CloseReasonStopLoss, svc.evaluateExit(position, time.Now()))
}

func TestEvaluateExitTrailingRequiresActivation(t *testing.T) {
	svc, _, _, _, _ := newMonitorFixture(monitorTestConfig())

	// Peak never reached entry*(1+activation); the trailing level is touched
	// but the trigger is not armed.
	position := longPosition()
	position.PeakPrice = 101
	position.TrailingStopPrice = 98
	position.CurrentPrice = 98
	position.StopLossPrice = 90
	assert.Equal(t, "", svc.evaluateExit(position, time.Now()))

	position.PeakPrice = 103
	assert.Equal(t, entity.CloseReasonTrailingStop, svc.evaluateExit(position, time.Now()))
}

func TestEvaluateExitMaxHold(t *testing.T) {
	svc, _, _, _, _ := newMonitorFixture(monitorTestConfig())
	position := longPosition()
	position.MaxHoldMinutes = 60
	position.EntryTime = time.Now().Add(-2 * time.Hour)

	assert.Equal(t, entity.CloseReasonMaxHold, svc.evaluateExit(position, time.Now()))
}

func TestEvaluateExitEndOfDayOnlyForDayStrategy(t *testing.T) {
	svc, _, _, _, _ := newMonitorFixture(monitorTestConfig())
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	afterClose := time.Date(2025, 6, 2, 15, 58, 0, 0, loc)

	position := longPosition()
	position.MaxHoldMinutes = 0
	assert.Equal(t, "", svc.evaluateExit(position, afterClose))

	position.StrategyType = entity.StrategyTypeDay
	assert.Equal(t, entity.CloseReasonEndOfDay, svc.evaluateExit(position, afterClose))

	beforeClose := time.Date(2025, 6, 2, 12, 0, 0, 0, loc)
	assert.Equal(t, "", svc.evaluateExit(position, beforeClose))
}

func TestEvaluateExitOptionExpiryWindow(t *testing.T) {
	svc, _, _, _, _ := newMonitorFixture(monitorTestConfig())
	position := longPosition()
	position.InstrumentType = entity.InstrumentTypeOption
	expiry := time.Now().Add(6 * time.Hour)
	position.Expiration = &expiry

	assert.Equal(t, entity.CloseReasonOptionExpiry, svc.evaluateExit(position, time.Now()))

	farExpiry := time.Now().Add(72 * time.Hour)
	position.Expiration = &farExpiry
	assert.Equal(t, "", svc.evaluateExit(position, time.Now()))
}

func TestSubmitExitTakeProfitScalesOut(t *testing.T) {
	svc, _, posRepo, broker, _ := newMonitorFixture(monitorTestConfig())
	position := longPosition()
	position.Status = entity.PositionStatusClosing
	position.CloseReason = entity.CloseReasonTakeProfit
	position.CurrentPrice = 106
	position.ExitAttempts = 1
	broker.placeOrder = func(dto.OrderSpec) (*dto.OrderResult, error) {
		return &dto.OrderResult{OrderID: "exit-1", FillPrice: 106.2, Status: "filled"}, nil
	}

	fillType, err := svc.submitExit(context.Background(), position, entity.CloseReasonTakeProfit)
	require.NoError(t, err)

	assert.Equal(t, entity.FillTypePartial, fillType)
	require.Len(t, broker.orders, 1)
	assert.Equal(t, dto.OrderSideSell, broker.orders[0].Side)
	assert.Equal(t, float64(5), broker.orders[0].Quantity)
	assert.Equal(t, "exit-1-1", broker.orders[0].ClientOrderID)

	// Remainder reopens at the reduced quantity with a fresh retry budget.
	assert.Equal(t, float64(5), position.Quantity)
	assert.Equal(t, entity.PositionStatusOpen, position.Status)
	assert.Equal(t, 0, position.ExitAttempts)

	fills := posRepo.fills[position.ID]
	require.Len(t, fills, 1)
	assert.Equal(t, entity.FillTypePartial, fills[0].FillType)
	assert.Equal(t, 106.2, fills[0].Price)
}

func TestSubmitExitStopLossFlattens(t *testing.T) {
	svc, _, posRepo, broker, notifier := newMonitorFixture(monitorTestConfig())
	position := longPosition()
	position.Status = entity.PositionStatusClosing
	position.CloseReason = entity.CloseReasonStopLoss
	position.CurrentPrice = 96.5
	broker.placeOrder = func(dto.OrderSpec) (*dto.OrderResult, error) {
		return &dto.OrderResult{OrderID: "exit-2", FillPrice: 96.4, Status: "filled"}, nil
	}

	fillType, err := svc.submitExit(context.Background(), position, entity.CloseReasonStopLoss)
	require.NoError(t, err)

	assert.Equal(t, entity.FillTypeFinal, fillType)
	assert.Equal(t, entity.PositionStatusClosed, position.Status)
	assert.Equal(t, float64(0), position.Quantity)
	assert.Equal(t, 96.4, position.ExitPrice)
	require.NotNil(t, position.ClosedAt)
	assert.InDelta(t, (96.4-100)*10, position.PnlDollars, 1e-9)

	require.Len(t, posRepo.fills[position.ID], 1)
	require.Len(t, notifier.messages, 1)
	assert.Contains(t, notifier.messages[0], "AAPL")
}

func TestPartialThenFinalConservesQuantity(t *testing.T) {
	svc, _, posRepo, broker, _ := newMonitorFixture(monitorTestConfig())
	position := longPosition()
	position.Status = entity.PositionStatusClosing
	position.CurrentPrice = 106
	broker.placeOrder = func(dto.OrderSpec) (*dto.OrderResult, error) {
		return &dto.OrderResult{FillPrice: 106, Status: "filled"}, nil
	}

	fillType, err := svc.submitExit(context.Background(), position, entity.CloseReasonTakeProfit)
	require.NoError(t, err)
	require.Equal(t, entity.FillTypePartial, fillType)

	position.Status = entity.PositionStatusClosing
	broker.placeOrder = func(dto.OrderSpec) (*dto.OrderResult, error) {
		return &dto.OrderResult{FillPrice: 104, Status: "filled"}, nil
	}
	fillType, err = svc.submitExit(context.Background(), position, entity.CloseReasonMaxHold)
	require.NoError(t, err)
	require.Equal(t, entity.FillTypeFinal, fillType)

	fills := posRepo.fills[position.ID]
	require.Len(t, fills, 2)
	var filled float64
	for _, f := range fills {
		filled += f.Quantity
	}
	assert.InDelta(t, position.OriginalQuantity, filled, 1e-9)

	// P&L over both fills: 5*(106-100) + 5*(104-100).
	assert.InDelta(t, 50, position.PnlDollars, 1e-9)
	assert.InDelta(t, 5, position.PnlPercent, 1e-9)
}

func TestSubmitExitConvergesOnDuplicateClientOrderID(t *testing.T) {
	svc, _, posRepo, broker, _ := newMonitorFixture(monitorTestConfig())
	position := longPosition()
	position.Status = entity.PositionStatusClosing
	position.CloseReason = entity.CloseReasonStopLoss
	position.CurrentPrice = 96.5
	// The previous attempt's order went through but the local fill write
	// failed; the retry re-derives the same client order id and gets rejected.
	broker.placeOrder = func(dto.OrderSpec) (*dto.OrderResult, error) {
		return nil, &dto.OrderRejectedError{StatusCode: 422, Reason: "client_order_id must be unique"}
	}
	broker.getOrderByClientID = func(string) (*dto.OrderResult, error) {
		return &dto.OrderResult{OrderID: "exit-3", FillPrice: 96.3, Status: "filled"}, nil
	}

	fillType, err := svc.submitExit(context.Background(), position, entity.CloseReasonStopLoss)
	require.NoError(t, err)

	assert.Equal(t, entity.FillTypeFinal, fillType)
	assert.Equal(t, []string{"exit-1-1"}, broker.lookups)
	assert.Equal(t, entity.PositionStatusClosed, position.Status)
	assert.Equal(t, 96.3, position.ExitPrice)
	require.Len(t, posRepo.fills[position.ID], 1)
	assert.Equal(t, 96.3, posRepo.fills[position.ID][0].Price)

	// Converging on the accepted order is a success, not another failed attempt.
	assert.Equal(t, 0, position.ExitAttempts)
	assert.Empty(t, posRepo.exitAttempts)
}

func TestSubmitExitRejectionWithoutExistingOrderFails(t *testing.T) {
	svc, _, posRepo, broker, _ := newMonitorFixture(monitorTestConfig())
	position := longPosition()
	position.Status = entity.PositionStatusClosing
	position.CloseReason = entity.CloseReasonStopLoss
	broker.placeOrder = func(dto.OrderSpec) (*dto.OrderResult, error) {
		return nil, &dto.OrderRejectedError{StatusCode: 403, Reason: "account restricted"}
	}

	_, err := svc.submitExit(context.Background(), position, entity.CloseReasonStopLoss)
	require.Error(t, err)

	assert.Equal(t, []string{"exit-1-1"}, broker.lookups)
	assert.Equal(t, 1, position.ExitAttempts)
	assert.Empty(t, posRepo.fills[position.ID])
}

func TestExitFailureBumpsAttempts(t *testing.T) {
	svc, _, posRepo, broker, _ := newMonitorFixture(monitorTestConfig())
	position := longPosition()
	position.Status = entity.PositionStatusClosing
	position.CloseReason = entity.CloseReasonStopLoss
	broker.placeOrder = func(dto.OrderSpec) (*dto.OrderResult, error) {
		return nil, fmt.Errorf("gateway unavailable")
	}

	_, err := svc.submitExit(context.Background(), position, entity.CloseReasonStopLoss)
	require.Error(t, err)

	assert.Equal(t, 1, position.ExitAttempts)
	assert.Equal(t, 1, posRepo.exitAttempts[position.ID])
	assert.Equal(t, entity.PositionStatusClosing, position.Status)
	assert.Empty(t, posRepo.fills[position.ID])
}

func TestOpenNewPositionsSeedsTrailingState(t *testing.T) {
	svc, execRepo, posRepo, _, _ := newMonitorFixture(monitorTestConfig())
	execRepo.unopened = []entity.Execution{{
		ID:              11,
		ExecutionID:     "exec-rec-11",
		Ticker:          "TSLA",
		InstrumentType:  entity.InstrumentTypeStock,
		Side:            entity.SideLong,
		Quantity:        4,
		EntryPrice:      250,
		StopLossPrice:   242.5,
		TakeProfitPrice: 265,
		TrailingStopPct: 0.05,
		StrategyType:    entity.StrategyTypeSwing,
		ExecutionMode:   entity.ExecutionModePaper,
	}}

	svc.openNewPositions(context.Background())

	require.Len(t, posRepo.positions, 1)
	opened := posRepo.positions[0]
	assert.Equal(t, uint(11), opened.ExecutionID)
	assert.Equal(t, float64(250), opened.PeakPrice)
	assert.InDelta(t, 237.5, opened.TrailingStopPrice, 1e-9)
	assert.Equal(t, float64(4), opened.OriginalQuantity)
	assert.Equal(t, entity.PositionStatusOpen, opened.Status)

	// A second pass with the same execution does not duplicate the position.
	svc.openNewPositions(context.Background())
	assert.Len(t, posRepo.positions, 1)
}
