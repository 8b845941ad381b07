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

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"coin-shop-ledger-go/internal/models"
	"coin-shop-ledger-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// attempt holds what the redemption transaction read before it failed, so the
// failed audit record can describe the state that was rejected.
type attempt struct {
	itemName string
	price    int64
	balance  int64
}

// Redeem debits the account, decrements stock and records the redemption as
// one database transaction. A logical failure rolls everything back and then
// writes a failed record in its own short transaction.
func (s *SubledgerService) Redeem(ctx context.Context, params store.RedeemParams) (*models.RedemptionRecord, error) {
	zap.L().Info("Processing redemption",
		zap.String("account_id", params.AccountId),
		zap.String("item_id", params.ItemId),
		zap.String("idempotency_key", params.IdempotencyKey))

	existing, err := s.FindRedemption(ctx, params.AccountId, params.IdempotencyKey)
	if err == nil {
		return replay(existing, params)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	record, snap, err := s.redeemTx(ctx, params)
	switch {
	case err == nil:
		zap.L().Info("Redemption completed",
			zap.String("redemption_id", record.Id),
			zap.String("account_id", record.AccountId),
			zap.String("item_id", record.ItemId),
			zap.Int64("coins", record.CoinsCharged),
			zap.Int64("old_balance", record.BalanceBefore),
			zap.Int64("new_balance", record.BalanceAfter))
		return record, nil

	case errors.Is(err, errDuplicateKey):
		zap.L().Info("Idempotency key committed concurrently, replaying",
			zap.String("account_id", params.AccountId),
			zap.String("idempotency_key", params.IdempotencyKey))
		existing, findErr := s.FindRedemption(ctx, params.AccountId, params.IdempotencyKey)
		if findErr != nil {
			return nil, findErr
		}
		return replay(existing, params)

	case snap != nil && store.FailureReason(err) != "":
		return s.recordFailure(ctx, params, snap, err)
	}

	return nil, err
}

// replay returns a stored record for a repeated key. Failed records replay
// with the error they originally produced.
func replay(existing *models.RedemptionRecord, params store.RedeemParams) (*models.RedemptionRecord, error) {
	if existing.ItemId != params.ItemId {
		return nil, fmt.Errorf("%w: key %s was used for item %s", store.ErrIdempotencyConflict, params.IdempotencyKey, existing.ItemId)
	}
	existing.Replayed = true
	if existing.Status == models.StatusFailed {
		return existing, store.FailureError(existing.FailureReason)
	}
	return existing, nil
}

func (s *SubledgerService) redeemTx(ctx context.Context, params store.RedeemParams) (*models.RedemptionRecord, *attempt, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", classifyError(err))
	}
	defer tx.Rollback()

	snap := &attempt{}
	var stock int64
	err = tx.QueryRowContext(ctx, s.dialect.q(queryGetItemForRedeem), params.ItemId).Scan(&snap.itemName, &snap.price, &stock)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("%w: %s", store.ErrItemNotFound, params.ItemId)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read item: %w", classifyError(err))
	}

	err = tx.QueryRowContext(ctx, s.dialect.q(queryGetAccountCoins), params.AccountId).Scan(&snap.balance)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("%w: %s", store.ErrAccountNotFound, params.AccountId)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read balance: %w", classifyError(err))
	}

	if stock < 1 {
		return nil, snap, store.ErrOutOfStock
	}
	if snap.balance < snap.price {
		return nil, snap, store.ErrInsufficientFunds
	}

	now := time.Now().UTC()

	// The reads above are advisory; the conditional updates decide.
	var remaining int64
	err = tx.QueryRowContext(ctx, s.dialect.q(queryDecrementStock), now, params.ItemId).Scan(&remaining)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, snap, store.ErrOutOfStock
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decrement stock: %w", classifyError(err))
	}

	var balanceAfter int64
	err = tx.QueryRowContext(ctx, s.dialect.q(queryDebitAccount), snap.price, now, params.AccountId, snap.price).Scan(&balanceAfter)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, snap, store.ErrInsufficientFunds
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to debit account: %w", classifyError(err))
	}

	record := &models.RedemptionRecord{
		Id:             uuid.New().String(),
		AccountId:      params.AccountId,
		ItemId:         params.ItemId,
		ItemName:       snap.itemName,
		CoinsCharged:   snap.price,
		IdempotencyKey: params.IdempotencyKey,
		Status:         models.StatusPending,
		BalanceBefore:  balanceAfter + snap.price,
		BalanceAfter:   balanceAfter,
		Source:         models.SourceFromContext(ctx),
		CreatedAt:      now,
	}

	_, err = tx.ExecContext(ctx, s.dialect.q(queryInsertRedemption),
		record.Id, record.AccountId, record.ItemId, record.ItemName, record.CoinsCharged, record.IdempotencyKey,
		string(record.Status), record.FailureReason, record.BalanceBefore, record.BalanceAfter, record.Source,
		record.CreatedAt, sql.NullTime{})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, nil, errDuplicateKey
		}
		return nil, nil, fmt.Errorf("failed to insert redemption: %w", classifyError(err))
	}

	entry := &models.CoinTransaction{
		Id:        uuid.New().String(),
		AccountId: params.AccountId,
		Amount:    -snap.price,
		Reason:    "redeemed " + snap.itemName,
		Reference: "redemption:" + record.Id,
		CreatedAt: now,
	}
	if err := s.appendJournal(ctx, tx, entry); err != nil {
		return nil, nil, err
	}

	if err := record.Transition(models.StatusCompleted); err != nil {
		return nil, nil, err
	}
	record.CompletedAt = now
	result, err := tx.ExecContext(ctx, s.dialect.q(queryCompleteRedemption),
		string(models.StatusCompleted), now, record.Id, string(models.StatusPending))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to complete redemption: %w", classifyError(err))
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, nil, fmt.Errorf("redemption completion failed - %w", store.ErrConcurrentModification)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit transaction: %w", classifyError(err))
	}

	return record, snap, nil
}

// recordFailure appends the failed audit record and returns it with cause.
// If the key was claimed meanwhile the stored record wins.
func (s *SubledgerService) recordFailure(ctx context.Context, params store.RedeemParams, snap *attempt, cause error) (*models.RedemptionRecord, error) {
	now := time.Now().UTC()
	record := &models.RedemptionRecord{
		Id:             uuid.New().String(),
		AccountId:      params.AccountId,
		ItemId:         params.ItemId,
		ItemName:       snap.itemName,
		CoinsCharged:   0,
		IdempotencyKey: params.IdempotencyKey,
		Status:         models.StatusPending,
		BalanceBefore:  snap.balance,
		BalanceAfter:   snap.balance,
		Source:         models.SourceFromContext(ctx),
		CreatedAt:      now,
	}
	if err := record.Transition(models.StatusFailed); err != nil {
		return nil, err
	}
	record.FailureReason = store.FailureReason(cause)
	record.CompletedAt = now

	result, err := s.db.ExecContext(ctx, s.dialect.q(queryInsertFailedRedemption),
		record.Id, record.AccountId, record.ItemId, record.ItemName, record.CoinsCharged, record.IdempotencyKey,
		string(record.Status), record.FailureReason, record.BalanceBefore, record.BalanceAfter, record.Source,
		record.CreatedAt, record.CompletedAt)
	if err != nil {
		zap.L().Error("Failed to record failed redemption",
			zap.String("account_id", params.AccountId),
			zap.String("idempotency_key", params.IdempotencyKey),
			zap.Error(err))
		return nil, fmt.Errorf("failed to record failed redemption: %w", classifyError(err))
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		existing, findErr := s.FindRedemption(ctx, params.AccountId, params.IdempotencyKey)
		if findErr != nil {
			return nil, findErr
		}
		return replay(existing, params)
	}

	zap.L().Info("Redemption rejected",
		zap.String("redemption_id", record.Id),
		zap.String("account_id", record.AccountId),
		zap.String("item_id", record.ItemId),
		zap.String("reason", record.FailureReason),
		zap.Int64("balance", record.BalanceBefore))
	return record, cause
}

func scanRedemption(row rowScanner) (*models.RedemptionRecord, error) {
	var r models.RedemptionRecord
	var completedAt sql.NullTime
	err := row.Scan(&r.Id, &r.AccountId, &r.ItemId, &r.ItemName, &r.CoinsCharged, &r.IdempotencyKey, &r.Status,
		&r.FailureReason, &r.BalanceBefore, &r.BalanceAfter, &r.Source, &r.CreatedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		r.CompletedAt = completedAt.Time
	}
	return &r, nil
}

func (s *SubledgerService) FindRedemption(ctx context.Context, accountId, idempotencyKey string) (*models.RedemptionRecord, error) {
	record, err := scanRedemption(s.db.QueryRowContext(ctx, s.dialect.q(queryFindRedemption), accountId, idempotencyKey))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("redemption %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to find redemption: %w", classifyError(err))
	}
	return record, nil
}

// GetRedemptionHistory returns the newest redemptions first.
func (s *SubledgerService) GetRedemptionHistory(ctx context.Context, accountId string, limit, offset int) ([]models.RedemptionRecord, error) {
	zap.L().Debug("Getting redemption history",
		zap.String("account_id", accountId),
		zap.Int("limit", limit),
		zap.Int("offset", offset))

	rows, err := s.db.QueryContext(ctx, s.dialect.q(queryGetRedemptionHistory), accountId, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get redemption history: %w", classifyError(err))
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var records []models.RedemptionRecord
	for rows.Next() {
		record, err := scanRedemption(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan redemption: %w", err)
		}
		records = append(records, *record)
	}

	if err := rows.Err(); err != nil {
		zap.L().Error("Error during redemption row iteration", zap.Error(err))
		return nil, fmt.Errorf("error iterating redemption rows: %w", classifyError(err))
	}

	return records, nil
}
