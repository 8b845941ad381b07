package api

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"coin-shop-ledger-go/internal/models"
	"coin-shop-ledger-go/internal/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// fakeStore embeds the interface so tests only implement what they exercise.
type fakeStore struct {
	store.LedgerStore

	mu          sync.Mutex
	redeemCalls int
	redeemFn    func(ctx context.Context, params store.RedeemParams) (*models.RedemptionRecord, error)
	historyArgs [2]int
}

func (f *fakeStore) Redeem(ctx context.Context, params store.RedeemParams) (*models.RedemptionRecord, error) {
	f.mu.Lock()
	f.redeemCalls++
	f.mu.Unlock()
	return f.redeemFn(ctx, params)
}

func (f *fakeStore) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.redeemCalls
}

func (f *fakeStore) GetRedemptionHistory(ctx context.Context, accountId string, limit, offset int) ([]models.RedemptionRecord, error) {
	f.historyArgs = [2]int{limit, offset}
	return nil, nil
}

func (f *fakeStore) GetLeaderboard(ctx context.Context, limit int) ([]models.LeaderboardEntry, error) {
	return make([]models.LeaderboardEntry, limit), nil
}

func newTestService(st store.LedgerStore) *LedgerService {
	cfg := models.RedemptionConfig{
		OperationTimeout: 2 * time.Second,
		RetryInitial:     time.Millisecond,
		RetryMaxElapsed:  500 * time.Millisecond,
	}
	return NewLedgerService(st, cfg, MustNewMetrics(prometheus.NewRegistry()))
}

func completed(params store.RedeemParams) *models.RedemptionRecord {
	return &models.RedemptionRecord{
		Id:             "r-1",
		AccountId:      params.AccountId,
		ItemId:         params.ItemId,
		IdempotencyKey: params.IdempotencyKey,
		CoinsCharged:   60,
		Status:         models.StatusCompleted,
		BalanceBefore:  100,
		BalanceAfter:   40,
	}
}

func TestRedeemValidation(t *testing.T) {
	fake := &fakeStore{}
	svc := newTestService(fake)

	long := make([]byte, MaxIdempotencyKeyLength+1)
	for i := range long {
		long[i] = 'k'
	}

	tests := []struct {
		name               string
		account, item, key string
	}{
		{"missing account", "", "mug", "k1"},
		{"missing item", "alice", " ", "k1"},
		{"missing key", "alice", "mug", ""},
		{"key too long", "alice", "mug", string(long)},
	}
	for _, tt := range tests {
		_, err := svc.Redeem(context.Background(), tt.account, tt.item, tt.key)
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("%s: expected ErrInvalidInput, got %v", tt.name, err)
		}
	}
	if fake.calls() != 0 {
		t.Errorf("Invalid requests must not reach the store, got %d calls", fake.calls())
	}
}

func TestRedeemRetriesTransientFailures(t *testing.T) {
	var attempts int32
	fake := &fakeStore{redeemFn: func(ctx context.Context, params store.RedeemParams) (*models.RedemptionRecord, error) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return nil, fmt.Errorf("%w: database is locked", store.ErrBackendUnavailable)
		}
		return completed(params), nil
	}}
	svc := newTestService(fake)

	record, err := svc.Redeem(context.Background(), "alice", "mug", "k1")
	if err != nil {
		t.Fatalf("Expected success after retries, got %v", err)
	}
	if record.BalanceAfter != 40 {
		t.Errorf("Expected balance 40, got %d", record.BalanceAfter)
	}
	if fake.calls() != 3 {
		t.Errorf("Expected 3 attempts, got %d", fake.calls())
	}
	if got := testutil.ToFloat64(svc.Metrics().redemptionRetries); got != 2 {
		t.Errorf("Expected 2 retries recorded, got %v", got)
	}
	if got := testutil.ToFloat64(svc.Metrics().redemptions.WithLabelValues(OutcomeCompleted)); got != 1 {
		t.Errorf("Expected 1 completed redemption recorded, got %v", got)
	}
}

func TestRedeemDoesNotRetryLogicalErrors(t *testing.T) {
	fake := &fakeStore{redeemFn: func(ctx context.Context, params store.RedeemParams) (*models.RedemptionRecord, error) {
		return &models.RedemptionRecord{Status: models.StatusFailed, FailureReason: models.FailureInsufficientFunds}, store.ErrInsufficientFunds
	}}
	svc := newTestService(fake)

	record, err := svc.Redeem(context.Background(), "alice", "mug", "k1")
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("Expected ErrInsufficientFunds, got %v", err)
	}
	if record == nil || record.Status != models.StatusFailed {
		t.Errorf("Expected the failed record to be returned, got %+v", record)
	}
	if fake.calls() != 1 {
		t.Errorf("Logical errors must not be retried, got %d attempts", fake.calls())
	}
}

func TestRedeemGivesUpAfterMaxElapsed(t *testing.T) {
	fake := &fakeStore{redeemFn: func(ctx context.Context, params store.RedeemParams) (*models.RedemptionRecord, error) {
		return nil, store.ErrBackendUnavailable
	}}
	svc := newTestService(fake)

	_, err := svc.Redeem(context.Background(), "alice", "mug", "k1")
	if !errors.Is(err, store.ErrBackendUnavailable) {
		t.Fatalf("Expected ErrBackendUnavailable, got %v", err)
	}
	if fake.calls() < 2 {
		t.Errorf("Expected several attempts, got %d", fake.calls())
	}
}

func TestRedeemSurvivesCallerCancellation(t *testing.T) {
	release := make(chan struct{})
	finished := make(chan error, 1)
	fake := &fakeStore{redeemFn: func(ctx context.Context, params store.RedeemParams) (*models.RedemptionRecord, error) {
		<-release
		finished <- ctx.Err()
		return completed(params), nil
	}}
	svc := newTestService(fake)

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() {
		_, err := svc.Redeem(ctx, "alice", "mug", "k1")
		result <- err
	}()

	cancel()
	if err := <-result; !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled for the abandoned caller, got %v", err)
	}

	close(release)
	select {
	case err := <-finished:
		if err != nil {
			t.Errorf("Store operation must not observe caller cancellation, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Store operation did not finish")
	}
}

func TestRedemptionOutcome(t *testing.T) {
	tests := []struct {
		record *models.RedemptionRecord
		err    error
		want   string
	}{
		{&models.RedemptionRecord{}, nil, OutcomeCompleted},
		{&models.RedemptionRecord{Replayed: true}, nil, OutcomeReplayed},
		{nil, store.ErrInsufficientFunds, OutcomeInsufficientFunds},
		{nil, store.ErrOutOfStock, OutcomeOutOfStock},
		{nil, store.ErrItemNotFound, OutcomeNotFound},
		{nil, store.ErrIdempotencyConflict, OutcomeConflict},
		{nil, context.DeadlineExceeded, OutcomeUnavailable},
		{nil, errors.New("boom"), OutcomeError},
	}
	for _, tt := range tests {
		if got := RedemptionOutcome(tt.record, tt.err); got != tt.want {
			t.Errorf("RedemptionOutcome(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestPagingDefaults(t *testing.T) {
	fake := &fakeStore{}
	svc := newTestService(fake)

	if _, err := svc.GetRedemptionHistory(context.Background(), "alice", 0, -3); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if fake.historyArgs != [2]int{5, 0} {
		t.Errorf("Expected default limit 5 offset 0, got %v", fake.historyArgs)
	}

	board, err := svc.GetLeaderboard(context.Background(), 0)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(board) != 5 {
		t.Errorf("Expected default leaderboard size 5, got %d", len(board))
	}

	if _, err := svc.GetRedemptionHistory(context.Background(), "alice", 500, 10); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if fake.historyArgs != [2]int{MaxPageSize, 10} {
		t.Errorf("Expected limit capped at %d, got %v", MaxPageSize, fake.historyArgs)
	}

	board, err = svc.GetLeaderboard(context.Background(), 500)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(board) != MaxPageSize {
		t.Errorf("Expected leaderboard capped at %d, got %d", MaxPageSize, len(board))
	}
}

func TestCreateAccountValidation(t *testing.T) {
	svc := newTestService(&fakeStore{})

	tests := []store.CreateAccountParams{
		{FullName: "", Email: "a@example.com"},
		{FullName: "Alice", Email: "not-an-email"},
		{FullName: "Alice", Email: "a@example.com", Coins: -1},
		{FullName: "Alice", Email: "a@example.com", Role: "moderator"},
	}
	for _, params := range tests {
		if _, err := svc.CreateAccount(context.Background(), params); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("Expected ErrInvalidInput for %+v, got %v", params, err)
		}
	}
}

func TestAwardValidation(t *testing.T) {
	svc := newTestService(&fakeStore{})

	tests := []store.AwardParams{
		{Coins: 5},
		{AccountId: "alice"},
		{AccountId: "alice", Coins: -5},
		{AccountId: "alice", Events: -1},
	}
	for _, params := range tests {
		if _, err := svc.AwardCoins(context.Background(), params); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("Expected ErrInvalidInput for %+v, got %v", params, err)
		}
	}
}
