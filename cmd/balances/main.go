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

	"coin-shop-ledger-go/internal/api"
	"coin-shop-ledger-go/internal/common"
	"coin-shop-ledger-go/internal/config"
	"coin-shop-ledger-go/internal/models"
	"coin-shop-ledger-go/internal/store"

	"go.uber.org/zap"
)

type balanceStats struct {
	totalAccounts int
	totalCoins    int64
	redemptions   int
	mismatched    []string
}

func formatRedemptionId(id string) string {
	if len(id) > 8 {
		return id[:8] + "..."
	}
	return id
}

func printRedemption(r models.RedemptionRecord, isLast bool) {
	detail := fmt.Sprintf("-%d", r.CoinsCharged)
	if r.Status == models.StatusFailed {
		detail = r.FailureReason
	}
	fmt.Printf("%s %s%-9s%s %-24s %18s (id: %s, %s)\n",
		common.BoxPrefix(isLast),
		common.StatusColor(r.Status), r.Status, common.ColorReset,
		r.ItemName,
		detail,
		formatRedemptionId(r.Id),
		r.CreatedAt.Format("2006-01-02 15:04:05"))
}

func printAccountHeader(account models.Account) {
	progress := models.ProgressFor(account.Rank, account.TotalXp)
	fmt.Printf("\n┌─ %s (%s) [%s]\n", account.FullName, account.Email, account.Role)
	fmt.Printf("│  ID:       %s\n", account.Id)
	fmt.Printf("│  Balance:  %s\n", common.FormatCoins(account.Coins))
	fmt.Printf("│  Rank:     %s, %s\n", account.Rank, common.ProgressBar(progress, 20))
}

func processAccount(ctx context.Context, ledger *api.LedgerService, account models.Account, history int, verify bool, stats *balanceStats) error {
	printAccountHeader(account)

	if verify {
		err := ledger.ReconcileAccount(ctx, account.Id)
		switch {
		case errors.Is(err, store.ErrBalanceMismatch):
			stats.mismatched = append(stats.mismatched, account.Id)
			fmt.Printf("│  Journal:  %sMISMATCH%s\n", common.ColorRed, common.ColorReset)
		case err != nil:
			return fmt.Errorf("failed to reconcile: %w", err)
		default:
			fmt.Printf("│  Journal:  %sok%s\n", common.ColorGreen, common.ColorReset)
		}
	}

	if history <= 0 {
		return nil
	}

	records, err := ledger.GetRedemptionHistory(ctx, account.Id, history, 0)
	if err != nil {
		return fmt.Errorf("failed to get redemption history: %w", err)
	}
	if len(records) == 0 {
		fmt.Printf("└  %sno redemptions%s\n", common.ColorGray, common.ColorReset)
		return nil
	}
	for i, r := range records {
		printRedemption(r, i == len(records)-1)
	}
	stats.redemptions += len(records)
	return nil
}

func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	emailFlag := flag.String("email", "", "Filter by specific account email (optional)")
	historyFlag := flag.Int("history", 5, "Number of recent redemptions to show per account (0 to hide)")
	verifyFlag := flag.Bool("verify", false, "Check each balance against its journal")
	flag.Parse()

	logger.Info("Starting balance query")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	accounts, err := common.InitializeAccounts(ctx, services.Store, *emailFlag, logger)
	if err != nil {
		logger.Fatal("Failed to initialize accounts", zap.Error(err))
	}

	common.PrintHeader("COIN BALANCE REPORT", common.WideWidth)

	stats := balanceStats{}
	for _, account := range accounts {
		stats.totalAccounts++
		stats.totalCoins += account.Coins
		if err := processAccount(ctx, services.Ledger, account, *historyFlag, *verifyFlag, &stats); err != nil {
			logger.Error("Failed to process account",
				zap.String("account_id", account.Id),
				zap.String("name", account.FullName),
				zap.Error(err))
		}
	}

	summary := fmt.Sprintf("SUMMARY: %d accounts holding %s (%d redemptions shown)",
		stats.totalAccounts, common.FormatCoins(stats.totalCoins), stats.redemptions)
	if *verifyFlag {
		summary += fmt.Sprintf(", %d journal mismatches", len(stats.mismatched))
	}
	common.PrintFooter(summary, common.WideWidth)

	logger.Info("Balance query completed",
		zap.Int("accounts", stats.totalAccounts),
		zap.Int64("total_coins", stats.totalCoins),
		zap.Strings("mismatched", stats.mismatched))
}
