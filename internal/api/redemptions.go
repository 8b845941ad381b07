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

package api

import (
	"context"
	"errors"
	"strings"
	"time"

	"coin-shop-ledger-go/internal/models"
	"coin-shop-ledger-go/internal/store"

	backoff "github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Outcome labels used for metrics and logs.
const (
	OutcomeCompleted         = "completed"
	OutcomeReplayed          = "replayed"
	OutcomeInsufficientFunds = "insufficient_funds"
	OutcomeOutOfStock        = "out_of_stock"
	OutcomeNotFound          = "not_found"
	OutcomeConflict          = "idempotency_conflict"
	OutcomeUnavailable       = "unavailable"
	OutcomeError             = "error"
)

type redeemResult struct {
	record *models.RedemptionRecord
	err    error
}

// Redeem exchanges coins for one unit of a catalog item.
//
// The store call runs on a context detached from the caller, bounded by the
// operation timeout. If the caller goes away first it receives ctx.Err() while
// the redemption runs to completion; a retry with the same key then replays
// the stored outcome.
func (s *LedgerService) Redeem(ctx context.Context, accountId, itemId, idempotencyKey string) (*models.RedemptionRecord, error) {
	accountId = strings.TrimSpace(accountId)
	itemId = strings.TrimSpace(itemId)
	if accountId == "" || itemId == "" || idempotencyKey == "" {
		return nil, invalid("account_id, item_id and idempotency key are required")
	}
	if len(idempotencyKey) > MaxIdempotencyKeyLength {
		return nil, invalid("idempotency key exceeds %d characters", MaxIdempotencyKeyLength)
	}

	params := store.RedeemParams{AccountId: accountId, ItemId: itemId, IdempotencyKey: idempotencyKey}
	opCtx, cancel := s.operationContext(ctx)
	done := make(chan redeemResult, 1)
	start := time.Now()

	go func() {
		defer cancel()
		record, err := s.redeemWithRetry(opCtx, params)
		outcome := RedemptionOutcome(record, err)
		s.metrics.ObserveRedemption(outcome, time.Since(start))
		logRedemption(params, record, outcome, err)
		done <- redeemResult{record: record, err: err}
	}()

	select {
	case res := <-done:
		return res.record, res.err
	case <-ctx.Done():
		zap.L().Warn("Caller abandoned redemption, letting it finish",
			zap.String("account_id", accountId),
			zap.String("item_id", itemId),
			zap.String("idempotency_key", idempotencyKey),
			zap.Error(ctx.Err()))
		return nil, ctx.Err()
	}
}

func (s *LedgerService) operationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(ctx)
	if s.cfg.OperationTimeout > 0 {
		return context.WithTimeout(detached, s.cfg.OperationTimeout)
	}
	return context.WithCancel(detached)
}

// redeemWithRetry retries only ErrBackendUnavailable; business outcomes are permanent.
func (s *LedgerService) redeemWithRetry(ctx context.Context, params store.RedeemParams) (*models.RedemptionRecord, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.RetryInitial
	b.MaxElapsedTime = s.cfg.RetryMaxElapsed

	op := func() (*models.RedemptionRecord, error) {
		record, err := s.store.Redeem(ctx, params)
		if err == nil || errors.Is(err, store.ErrBackendUnavailable) {
			return record, err
		}
		return record, backoff.Permanent(err)
	}
	notify := func(err error, wait time.Duration) {
		s.metrics.IncRedemptionRetry()
		zap.L().Warn("Redemption backend unavailable, retrying",
			zap.String("account_id", params.AccountId),
			zap.String("idempotency_key", params.IdempotencyKey),
			zap.Duration("wait", wait),
			zap.Error(err))
	}

	return backoff.RetryNotifyWithData(op, backoff.WithContext(b, ctx), notify)
}

// RedemptionOutcome labels the result of a redemption.
func RedemptionOutcome(record *models.RedemptionRecord, err error) string {
	switch {
	case err == nil && record != nil && record.Replayed:
		return OutcomeReplayed
	case err == nil:
		return OutcomeCompleted
	case errors.Is(err, store.ErrInsufficientFunds):
		return OutcomeInsufficientFunds
	case errors.Is(err, store.ErrOutOfStock):
		return OutcomeOutOfStock
	case errors.Is(err, store.ErrNotFound):
		return OutcomeNotFound
	case errors.Is(err, store.ErrIdempotencyConflict):
		return OutcomeConflict
	case errors.Is(err, store.ErrBackendUnavailable), errors.Is(err, context.DeadlineExceeded):
		return OutcomeUnavailable
	}
	return OutcomeError
}

func logRedemption(params store.RedeemParams, record *models.RedemptionRecord, outcome string, err error) {
	fields := []zap.Field{
		zap.String("account_id", params.AccountId),
		zap.String("item_id", params.ItemId),
		zap.String("idempotency_key", params.IdempotencyKey),
		zap.String("outcome", outcome),
	}
	if record != nil {
		fields = append(fields,
			zap.String("redemption_id", record.Id),
			zap.Int64("coins", record.CoinsCharged),
			zap.Int64("balance_after", record.BalanceAfter))
	}

	switch outcome {
	case OutcomeCompleted, OutcomeReplayed:
		zap.L().Info("Redemption finished", fields...)
	case OutcomeUnavailable, OutcomeError:
		zap.L().Error("Redemption failed", append(fields, zap.Error(err))...)
	default:
		zap.L().Info("Redemption rejected", append(fields, zap.Error(err))...)
	}
}

// GetRedemptionHistory returns the newest redemptions of an account.
func (s *LedgerService) GetRedemptionHistory(ctx context.Context, accountId string, limit, offset int) ([]models.RedemptionRecord, error) {
	if accountId == "" {
		return nil, invalid("account_id is required")
	}
	limit = pageSize(limit)
	if offset < 0 {
		offset = 0
	}

	records, err := s.store.GetRedemptionHistory(ctx, accountId, limit, offset)
	if err != nil {
		zap.L().Error("Failed to get redemption history",
			zap.String("account_id", accountId),
			zap.Int("limit", limit),
			zap.Int("offset", offset),
			zap.Error(err))
		return nil, err
	}
	return records, nil
}
