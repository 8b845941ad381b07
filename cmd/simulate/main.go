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


package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"sort"
	"sync"
	"time"

	"coin-shop-ledger-go/internal/api"
	"coin-shop-ledger-go/internal/common"
	"coin-shop-ledger-go/internal/config"
	"coin-shop-ledger-go/internal/models"
	"coin-shop-ledger-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// snapshot is the observable state of one account and one item.
type snapshot struct {
	balance int64
	stock   int64
}

type tally struct {
	mu        sync.Mutex
	outcomes  map[string]int
	completed map[string]models.RedemptionRecord
}

func newTally() *tally {
	return &tally{
		outcomes:  make(map[string]int),
		completed: make(map[string]models.RedemptionRecord),
	}
}

func (t *tally) add(record *models.RedemptionRecord, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.outcomes[api.RedemptionOutcome(record, err)]++
	if err == nil && record != nil && record.Status == models.StatusCompleted {
		t.completed[record.Id] = *record
	}
}

// checkInvariants compares the state before and after a run with the set of
// distinct completed redemptions and returns every violation found.
func checkInvariants(before, after snapshot, price int64, completed int) []string {
	var violations []string
	if after.balance < 0 {
		violations = append(violations, fmt.Sprintf("balance went negative: %d", after.balance))
	}
	if after.stock < 0 {
		violations = append(violations, fmt.Sprintf("stock went negative: %d", after.stock))
	}
	if spent := before.balance - after.balance; spent != int64(completed)*price {
		violations = append(violations, fmt.Sprintf("coins spent %d, expected %d for %d redemptions", spent, int64(completed)*price, completed))
	}
	if sold := before.stock - after.stock; sold != int64(completed) {
		violations = append(violations, fmt.Sprintf("stock consumed %d, expected %d", sold, completed))
	}
	limit := before.stock
	if price > 0 && before.balance/price < limit {
		limit = before.balance / price
	}
	if int64(completed) > limit {
		violations = append(violations, fmt.Sprintf("%d redemptions completed, at most %d were affordable", completed, limit))
	}
	return violations
}

func takeSnapshot(ctx context.Context, ledger *api.LedgerService, accountId, itemId string) (snapshot, *models.CatalogItem, error) {
	account, err := ledger.GetAccount(ctx, accountId)
	if err != nil {
		return snapshot{}, nil, err
	}
	item, err := ledger.GetCatalogItem(ctx, itemId)
	if err != nil {
		return snapshot{}, nil, err
	}
	return snapshot{balance: account.Coins, stock: item.Stock}, item, nil
}

func main() {
	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	emailFlag := flag.String("email", "", "Account email (required)")
	itemFlag := flag.String("item", "", "Catalog item id (required)")
	requestsFlag := flag.Int("requests", 20, "Number of redemption requests to fire")
	keysFlag := flag.Int("keys", 0, "Number of distinct idempotency keys (default: one per request)")
	parallelFlag := flag.Int("parallel", 8, "Maximum requests in flight")
	flag.Parse()

	if *emailFlag == "" || *itemFlag == "" {
		zap.L().Fatal("Both flags are required: --email and --item")
	}
	if *requestsFlag <= 0 || *parallelFlag <= 0 {
		zap.L().Fatal("--requests and --parallel must be positive")
	}
	keys := *keysFlag
	if keys <= 0 || keys > *requestsFlag {
		keys = *requestsFlag
	}

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	ctx := models.WithRequestContext(context.Background(), &models.RequestContext{Source: "simulate"})

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	account, err := services.Ledger.GetAccountByEmail(ctx, *emailFlag)
	if err != nil {
		zap.L().Fatal("Failed to find account", zap.Error(err))
	}

	before, item, err := takeSnapshot(ctx, services.Ledger, account.Id, *itemFlag)
	if err != nil {
		zap.L().Fatal("Failed to read initial state", zap.Error(err))
	}

	zap.L().Info("Starting redemption simulation",
		zap.String("account_id", account.Id),
		zap.String("item_id", item.Id),
		zap.Int64("balance", before.balance),
		zap.Int64("stock", before.stock),
		zap.Int64("price", item.CoinPrice),
		zap.Int("requests", *requestsFlag),
		zap.Int("distinct_keys", keys))

	run := uuid.New().String()[:8]
	results := newTally()
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(*parallelFlag)
	for i := 0; i < *requestsFlag; i++ {
		key := fmt.Sprintf("sim-%s-%d", run, i%keys)
		g.Go(func() error {
			record, err := services.Ledger.Redeem(gctx, account.Id, item.Id, key)
			results.add(record, err)
			if err != nil && !store.IsLogical(err) {
				return fmt.Errorf("redemption %s: %w", key, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		zap.L().Error("Simulation aborted on infrastructure error", zap.Error(err))
	}
	elapsed := time.Since(start)

	after, _, err := takeSnapshot(ctx, services.Ledger, account.Id, item.Id)
	if err != nil {
		zap.L().Fatal("Failed to read final state", zap.Error(err))
	}

	violations := checkInvariants(before, after, item.CoinPrice, len(results.completed))
	if err := services.Ledger.ReconcileAccount(ctx, account.Id); err != nil {
		if !errors.Is(err, store.ErrBalanceMismatch) {
			zap.L().Fatal("Failed to reconcile account", zap.Error(err))
		}
		violations = append(violations, err.Error())
	}

	common.PrintHeader(fmt.Sprintf("SIMULATION %s: %d requests in %s", run, *requestsFlag, elapsed.Round(time.Millisecond)), common.DefaultWidth)
	outcomes := make([]string, 0, len(results.outcomes))
	for outcome := range results.outcomes {
		outcomes = append(outcomes, outcome)
	}
	sort.Strings(outcomes)
	for i, outcome := range outcomes {
		fmt.Printf("%s %-22s %d\n", common.BoxPrefix(i == len(outcomes)-1), outcome, results.outcomes[outcome])
	}
	fmt.Printf("\n  Balance: %s -> %s\n", common.FormatCoins(before.balance), common.FormatCoins(after.balance))
	fmt.Printf("  Stock:   %d -> %d\n", before.stock, after.stock)

	if len(violations) > 0 {
		for _, v := range violations {
			fmt.Printf("  %sVIOLATION%s %s\n", common.ColorRed, common.ColorReset, v)
		}
		common.PrintFooter(fmt.Sprintf("%d invariant violations", len(violations)), common.DefaultWidth)
		zap.L().Fatal("Invariant check failed", zap.Strings("violations", violations))
	}
	common.PrintFooter(fmt.Sprintf("%sAll invariants hold%s (%d distinct redemptions completed)", common.ColorGreen, common.ColorReset, len(results.completed)), common.DefaultWidth)
}
