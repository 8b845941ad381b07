/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"coin-shop-ledger-go/internal/api"
	"coin-shop-ledger-go/internal/models"
	"coin-shop-ledger-go/internal/store"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Reconciler periodically checks every account balance against its journal.
type Reconciler struct {
	ledger   *api.LedgerService
	interval time.Duration
	workers  int

	stopChan chan struct{}
	doneChan chan struct{}

	mu   sync.Mutex
	last Report
}

// Report summarises one reconciliation pass.
type Report struct {
	Checked    int
	Mismatched []string
	Failed     int
	Finished   time.Time
}

func New(ledger *api.LedgerService, cfg models.ReconcilerConfig) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &Reconciler{
		ledger:   ledger,
		interval: cfg.Interval,
		workers:  cfg.Workers,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start begins the reconciliation loop
func (r *Reconciler) Start(ctx context.Context) {
	zap.L().Info("Starting reconciler",
		zap.Duration("interval", r.interval),
		zap.Int("workers", r.workers))
	go r.pollLoop(ctx)
}

// Stop gracefully stops the reconciler
func (r *Reconciler) Stop() {
	zap.L().Info("Stopping reconciler")
	close(r.stopChan)
	<-r.doneChan
	zap.L().Info("Reconciler stopped")
}

// LastReport returns the outcome of the most recent pass.
func (r *Reconciler) LastReport() Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

func (r *Reconciler) pollLoop(ctx context.Context) {
	defer close(r.doneChan)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.runLogged(ctx)

	for {
		select {
		case <-ticker.C:
			r.runLogged(ctx)
		case <-r.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (r *Reconciler) runLogged(ctx context.Context) {
	if _, err := r.RunOnce(ctx); err != nil {
		zap.L().Error("Reconciliation pass failed", zap.Error(err))
	}
}

// RunOnce reconciles every account with bounded parallelism. Per-account
// failures are counted in the report; only failing to list accounts is an error.
func (r *Reconciler) RunOnce(ctx context.Context) (Report, error) {
	accounts, err := r.ledger.GetAccounts(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("failed to list accounts: %w", err)
	}

	var (
		mu     sync.Mutex
		report = Report{Checked: len(accounts)}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for _, account := range accounts {
		accountId := account.Id
		g.Go(func() error {
			err := r.ledger.ReconcileAccount(gctx, accountId)
			if err == nil {
				return nil
			}

			mu.Lock()
			defer mu.Unlock()
			if errors.Is(err, store.ErrBalanceMismatch) {
				report.Mismatched = append(report.Mismatched, accountId)
				zap.L().Error("Balance mismatch detected",
					zap.String("account_id", accountId),
					zap.Error(err))
			} else {
				report.Failed++
				zap.L().Warn("Failed to reconcile account",
					zap.String("account_id", accountId),
					zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	report.Finished = time.Now().UTC()
	r.ledger.Metrics().SetReconcileMismatches(len(report.Mismatched))

	r.mu.Lock()
	r.last = report
	r.mu.Unlock()

	zap.L().Info("Reconciliation pass finished",
		zap.Int("checked", report.Checked),
		zap.Int("mismatched", len(report.Mismatched)),
		zap.Int("failed", report.Failed))
	return report, nil
}
