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

	"coin-shop-ledger-go/internal/common"
	"coin-shop-ledger-go/internal/config"
	"coin-shop-ledger-go/internal/models"
	"coin-shop-ledger-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type redeemRequest struct {
	email          string
	accountId      string
	itemId         string
	idempotencyKey string
}

func parseAndValidateFlags() (*redeemRequest, error) {
	emailFlag := flag.String("email", "", "Account email (required unless --account is set)")
	accountFlag := flag.String("account", "", "Account id (alternative to --email)")
	itemFlag := flag.String("item", "", "Catalog item id (required)")
	keyFlag := flag.String("key", "", "Idempotency key (default: a new UUID; reuse it to retry safely)")
	flag.Parse()

	if *itemFlag == "" {
		return nil, fmt.Errorf("--item is required")
	}
	if (*emailFlag == "") == (*accountFlag == "") {
		return nil, fmt.Errorf("exactly one of --email or --account is required")
	}

	key := *keyFlag
	if key == "" {
		key = uuid.New().String()
	}

	return &redeemRequest{
		email:          *emailFlag,
		accountId:      *accountFlag,
		itemId:         *itemFlag,
		idempotencyKey: key,
	}, nil
}

func resolveAccount(ctx context.Context, services *common.Services, req *redeemRequest) (*models.Account, error) {
	if req.accountId != "" {
		return services.Ledger.GetAccount(ctx, req.accountId)
	}
	return services.Ledger.GetAccountByEmail(ctx, req.email)
}

func printRecord(record *models.RedemptionRecord) {
	color := common.StatusColor(record.Status)
	title := "REDEMPTION " + string(record.Status)
	if record.Replayed {
		title += " (idempotent replay)"
	}

	common.PrintHeader(color+title+common.ColorReset, common.DefaultWidth)
	fmt.Printf("  Redemption:     %s\n", record.Id)
	fmt.Printf("  Item:           %s (%s)\n", record.ItemName, record.ItemId)
	fmt.Printf("  Charged:        %s\n", common.FormatCoins(record.CoinsCharged))
	fmt.Printf("  Balance:        %s -> %s\n", common.FormatCoins(record.BalanceBefore), common.FormatCoins(record.BalanceAfter))
	if record.FailureReason != "" {
		fmt.Printf("  Failure reason: %s\n", record.FailureReason)
	}
	fmt.Printf("  Key:            %s\n", record.IdempotencyKey)
	fmt.Printf("  Created at:     %s\n", record.CreatedAt.Format("2006-01-02 15:04:05"))
	common.PrintSeparator("=", common.DefaultWidth)
}

func explain(err error) string {
	switch {
	case errors.Is(err, store.ErrInsufficientFunds):
		return "not enough coins for this item"
	case errors.Is(err, store.ErrOutOfStock):
		return "the item is sold out"
	case errors.Is(err, store.ErrIdempotencyConflict):
		return "this idempotency key was already used for a different item"
	case errors.Is(err, store.ErrNotFound):
		return "account or item does not exist"
	case errors.Is(err, store.ErrBackendUnavailable):
		return "the ledger is unavailable, retry with the same --key"
	}
	return err.Error()
}

func main() {
	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	req, err := parseAndValidateFlags()
	if err != nil {
		zap.L().Fatal("Invalid flags", zap.Error(err))
	}

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	ctx := models.WithRequestContext(context.Background(), &models.RequestContext{
		Source:    "cli",
		RequestId: req.idempotencyKey,
	})

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	account, err := resolveAccount(ctx, services, req)
	if err != nil {
		zap.L().Fatal("Failed to find account", zap.Error(err))
	}

	zap.L().Info("Redeeming catalog item",
		zap.String("account_id", account.Id),
		zap.String("item_id", req.itemId),
		zap.String("idempotency_key", req.idempotencyKey),
		zap.Int64("balance", account.Coins))

	record, err := services.Ledger.Redeem(ctx, account.Id, req.itemId, req.idempotencyKey)
	if record != nil {
		printRecord(record)
	}
	if err != nil {
		fmt.Printf("\n%sRedemption rejected:%s %s\n\n", common.ColorRed, common.ColorReset, explain(err))
		zap.L().Fatal("Redemption failed", zap.Error(err))
	}
}
