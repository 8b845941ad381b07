package reconciler

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"coin-shop-ledger-go/internal/api"
	"coin-shop-ledger-go/internal/models"
	"coin-shop-ledger-go/internal/store"

	"github.com/prometheus/client_golang/prometheus"
)

type fakeStore struct {
	store.LedgerStore
	accounts []models.Account
	results  map[string]error
	checks   int32
}

func (f *fakeStore) GetAccounts(ctx context.Context) ([]models.Account, error) {
	return f.accounts, nil
}

func (f *fakeStore) ReconcileAccountBalance(ctx context.Context, accountId string) error {
	atomic.AddInt32(&f.checks, 1)
	return f.results[accountId]
}

func newReconciler(st store.LedgerStore, interval time.Duration) *Reconciler {
	ledger := api.NewLedgerService(st, models.RedemptionConfig{}, api.MustNewMetrics(prometheus.NewRegistry()))
	return New(ledger, models.ReconcilerConfig{Interval: interval, Workers: 2})
}

func TestRunOnceReportsMismatches(t *testing.T) {
	fake := &fakeStore{
		accounts: []models.Account{{Id: "a"}, {Id: "b"}, {Id: "c"}, {Id: "d"}},
		results: map[string]error{
			"b": store.ErrBalanceMismatch,
			"c": store.ErrBackendUnavailable,
			"d": store.ErrBalanceMismatch,
		},
	}
	r := newReconciler(fake, time.Hour)

	report, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if report.Checked != 4 || report.Failed != 1 {
		t.Errorf("Unexpected report: %+v", report)
	}
	sort.Strings(report.Mismatched)
	if len(report.Mismatched) != 2 || report.Mismatched[0] != "b" || report.Mismatched[1] != "d" {
		t.Errorf("Expected mismatches [b d], got %v", report.Mismatched)
	}
	if last := r.LastReport(); last.Checked != 4 {
		t.Errorf("LastReport not updated: %+v", last)
	}
}

func TestStartRunsImmediatelyAndStops(t *testing.T) {
	fake := &fakeStore{accounts: []models.Account{{Id: "a"}}, results: map[string]error{}}
	r := newReconciler(fake, time.Hour)

	r.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&fake.checks) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	r.Stop()

	if checks := atomic.LoadInt32(&fake.checks); checks != 1 {
		t.Errorf("Expected exactly one pass before stop, got %d checks", checks)
	}
}

func TestRunOnceListFailure(t *testing.T) {
	r := newReconciler(&failingStore{}, time.Hour)
	if _, err := r.RunOnce(context.Background()); err == nil {
		t.Error("Expected error when accounts cannot be listed")
	}
}

type failingStore struct {
	store.LedgerStore
}

func (f *failingStore) GetAccounts(ctx context.Context) ([]models.Account, error) {
	return nil, errors.New("connection refused")
}
