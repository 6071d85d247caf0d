package service

import (
	"context"
	"fmt"
	"time"

	"golang-trade-dispatcher/internal/entity"
	"golang-trade-dispatcher/internal/worker/dto"
	"golang-trade-dispatcher/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/datatypes"
)

func testLogger() *logger.Logger {
	return &logger.Logger{Logger: zap.NewNop()}
}

type fakeRecommendationRepo struct {
	pending         []entity.Recommendation
	outcomes        map[uint]entity.RecommendationStatus
	reasons         map[uint]string
	released        []uint
	created         []entity.Recommendation
	claimStaleAfter time.Duration
}

func newFakeRecommendationRepo() *fakeRecommendationRepo {
	return &fakeRecommendationRepo{
		outcomes: make(map[uint]entity.RecommendationStatus),
		reasons:  make(map[uint]string),
	}
}

func (f *fakeRecommendationRepo) CreateIfAbsent(_ context.Context, rec *entity.Recommendation) (bool, error) {
	for _, existing := range f.created {
		if existing.NewsEventID != nil && rec.NewsEventID != nil &&
			*existing.NewsEventID == *rec.NewsEventID && existing.Ticker == rec.Ticker {
			return false, nil
		}
	}
	f.created = append(f.created, *rec)
	return true, nil
}

func (f *fakeRecommendationRepo) Get(_ context.Context, _ dto.GetRecommendationsParam) ([]entity.Recommendation, error) {
	return f.pending, nil
}

func (f *fakeRecommendationRepo) ClaimPending(_ context.Context, batchSize int, staleAfter time.Duration) ([]entity.Recommendation, error) {
	f.claimStaleAfter = staleAfter
	if len(f.pending) > batchSize {
		return f.pending[:batchSize], nil
	}
	return f.pending, nil
}

func (f *fakeRecommendationRepo) MarkOutcome(_ context.Context, id uint, status entity.RecommendationStatus, reason string) error {
	f.outcomes[id] = status
	f.reasons[id] = reason
	return nil
}

func (f *fakeRecommendationRepo) Release(_ context.Context, id uint) error {
	f.released = append(f.released, id)
	return nil
}

func (f *fakeRecommendationRepo) Requeue(context.Context, uint) error { return nil }
func (f *fakeRecommendationRepo) Cancel(context.Context, uint) error  { return nil }

type fakeExecutionRepo struct {
	byExecutionID map[string]*entity.Execution
	unopened      []entity.Execution
	recorded      []entity.Execution
}

func newFakeExecutionRepo() *fakeExecutionRepo {
	return &fakeExecutionRepo{byExecutionID: make(map[string]*entity.Execution)}
}

func (f *fakeExecutionRepo) Record(_ context.Context, execution *entity.Execution) (bool, error) {
	if existing, ok := f.byExecutionID[execution.ExecutionID]; ok {
		*execution = *existing
		return false, nil
	}
	execution.ID = uint(len(f.recorded) + 1)
	stored := *execution
	f.byExecutionID[execution.ExecutionID] = &stored
	f.recorded = append(f.recorded, stored)
	return true, nil
}

func (f *fakeExecutionRepo) FindByExecutionID(_ context.Context, executionID string) (*entity.Execution, error) {
	if existing, ok := f.byExecutionID[executionID]; ok {
		found := *existing
		return &found, nil
	}
	return nil, nil
}

func (f *fakeExecutionRepo) FindUnopened(_ context.Context, _ int) ([]entity.Execution, error) {
	return f.unopened, nil
}

type fakeRunRepo struct {
	runs      []entity.DispatcherRun
	summaries map[uint]datatypes.JSON
}

func newFakeRunRepo() *fakeRunRepo {
	return &fakeRunRepo{summaries: make(map[uint]datatypes.JSON)}
}

func (f *fakeRunRepo) Create(_ context.Context, run *entity.DispatcherRun) error {
	run.ID = uint(len(f.runs) + 1)
	f.runs = append(f.runs, *run)
	return nil
}

func (f *fakeRunRepo) Finalize(_ context.Context, id uint, summary datatypes.JSON) error {
	f.summaries[id] = summary
	return nil
}

func (f *fakeRunRepo) GetLatest(context.Context, int) ([]entity.DispatcherRun, error) {
	return f.runs, nil
}

type fakeBrokerRepo struct {
	placeOrder         func(dto.OrderSpec) (*dto.OrderResult, error)
	getOrderByClientID func(string) (*dto.OrderResult, error)
	orders             []dto.OrderSpec
	lookups            []string
	positions          []dto.BrokerPosition
}

func (f *fakeBrokerRepo) PlaceOrder(_ context.Context, spec dto.OrderSpec) (*dto.OrderResult, error) {
	f.orders = append(f.orders, spec)
	if f.placeOrder != nil {
		return f.placeOrder(spec)
	}
	return &dto.OrderResult{OrderID: "order-1", FillPrice: 0, Status: "accepted"}, nil
}

func (f *fakeBrokerRepo) GetOrderByClientID(_ context.Context, clientOrderID string) (*dto.OrderResult, error) {
	f.lookups = append(f.lookups, clientOrderID)
	if f.getOrderByClientID != nil {
		return f.getOrderByClientID(clientOrderID)
	}
	return nil, nil
}

func (f *fakeBrokerRepo) ListPositions(context.Context) ([]dto.BrokerPosition, error) {
	return f.positions, nil
}

func (f *fakeBrokerRepo) CancelOrder(context.Context, string) error { return nil }

type fakeMarketDataRepo struct {
	prices map[string]float64
	err    error
}

func (f *fakeMarketDataRepo) GetPrice(_ context.Context, ticker string) (*dto.Quote, error) {
	if f.err != nil {
		return nil, f.err
	}
	price, ok := f.prices[ticker]
	if !ok {
		return nil, fmt.Errorf("no quote for %s", ticker)
	}
	return &dto.Quote{Ticker: ticker, Price: price, Timestamp: time.Now()}, nil
}

type fakePositionRepo struct {
	positions []entity.Position
	fills     map[uint][]entity.PositionFill

	closingMarked map[uint]string
	reconciled    []uint
	exitAttempts  map[uint]int
	applied       []entity.Position
	claimWindow   time.Duration
}

func newFakePositionRepo() *fakePositionRepo {
	return &fakePositionRepo{
		fills:         make(map[uint][]entity.PositionFill),
		closingMarked: make(map[uint]string),
		exitAttempts:  make(map[uint]int),
	}
}

func (f *fakePositionRepo) CreateIfAbsent(_ context.Context, position *entity.Position) (bool, error) {
	for _, existing := range f.positions {
		if existing.ExecutionID == position.ExecutionID {
			return false, nil
		}
	}
	position.ID = uint(len(f.positions) + 1)
	f.positions = append(f.positions, *position)
	return true, nil
}

func (f *fakePositionRepo) Get(_ context.Context, _ dto.GetPositionsParam) ([]entity.Position, error) {
	return f.positions, nil
}

func (f *fakePositionRepo) ClaimForMonitoring(_ context.Context, batchSize int, notMonitoredFor time.Duration) ([]entity.Position, error) {
	f.claimWindow = notMonitoredFor
	if len(f.positions) > batchSize {
		return f.positions[:batchSize], nil
	}
	return f.positions, nil
}

func (f *fakePositionRepo) UpdateMarketState(context.Context, *entity.Position) error { return nil }

func (f *fakePositionRepo) MarkClosing(_ context.Context, id uint, reason string) error {
	f.closingMarked[id] = reason
	return nil
}

func (f *fakePositionRepo) RecordExitAttempt(_ context.Context, id uint, attempts int) error {
	f.exitAttempts[id] = attempts
	return nil
}

func (f *fakePositionRepo) ApplyFill(_ context.Context, position *entity.Position, fill *entity.PositionFill) error {
	f.fills[position.ID] = append(f.fills[position.ID], *fill)
	f.applied = append(f.applied, *position)
	return nil
}

func (f *fakePositionRepo) CloseReconciled(_ context.Context, id uint) error {
	f.reconciled = append(f.reconciled, id)
	return nil
}

func (f *fakePositionRepo) GetFills(_ context.Context, positionID uint) ([]entity.PositionFill, error) {
	return f.fills[positionID], nil
}

type fakeNewsEventRepo struct {
	events    []entity.NewsEvent
	completed []uint
	released  []uint
	stored    []entity.NewsEvent
}

func (f *fakeNewsEventRepo) CreateIfAbsent(_ context.Context, event *entity.NewsEvent) (bool, error) {
	for _, existing := range f.stored {
		if existing.ExternalID == event.ExternalID {
			return false, nil
		}
	}
	f.stored = append(f.stored, *event)
	return true, nil
}

func (f *fakeNewsEventRepo) Claim(_ context.Context, batchSize int, _ time.Duration) ([]entity.NewsEvent, error) {
	if len(f.events) > batchSize {
		return f.events[:batchSize], nil
	}
	return f.events, nil
}

func (f *fakeNewsEventRepo) Complete(_ context.Context, id uint) error {
	f.completed = append(f.completed, id)
	return nil
}

func (f *fakeNewsEventRepo) Release(_ context.Context, id uint) error {
	f.released = append(f.released, id)
	return nil
}

type fakeWatchlistRepo struct {
	stocks []entity.WatchlistStock
}

func (f *fakeWatchlistRepo) GetActive(context.Context) ([]entity.WatchlistStock, error) {
	return f.stocks, nil
}

type fakeSentimentRepo struct {
	result   *dto.SentimentResult
	err      error
	classify func() (*dto.SentimentResult, error)
}

func (f *fakeSentimentRepo) Classify(context.Context, string) (*dto.SentimentResult, error) {
	if f.classify != nil {
		return f.classify()
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeSentimentRepo) ExtractTickers(text string, whitelist []string) []string {
	var found []string
	for _, ticker := range whitelist {
		for i := 0; i+len(ticker) <= len(text); i++ {
			if text[i:i+len(ticker)] == ticker {
				found = append(found, ticker)
				break
			}
		}
	}
	return found
}

type fakeNotifier struct {
	messages []string
}

func (f *fakeNotifier) SendMessage(text string) error {
	f.messages = append(f.messages, text)
	return nil
}
