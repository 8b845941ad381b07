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

// SubledgerService owns every coin movement: awards, redemptions and the
// coin_transactions journal that backs reconciliation.
type SubledgerService struct {
	db      *sql.DB
	dialect dialect
}

func NewSubledgerService(db *sql.DB, d dialect) *SubledgerService {
	return &SubledgerService{
		db:      db,
		dialect: d,
	}
}

// appendJournal writes one signed coin movement inside tx.
func (s *SubledgerService) appendJournal(ctx context.Context, tx *sql.Tx, entry *models.CoinTransaction) error {
	_, err := tx.ExecContext(ctx, s.dialect.q(queryInsertCoinTransaction),
		entry.Id, entry.AccountId, entry.Amount, entry.Reason, entry.Reference, entry.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: reference %s already exists", store.ErrDuplicateTransaction, entry.Reference)
		}
		return fmt.Errorf("failed to insert journal entry: %w", classifyError(err))
	}
	return nil
}

// Award credits coins and XP earned outside the shop and re-derives the rank.
func (s *SubledgerService) Award(ctx context.Context, params store.AwardParams) (*models.CoinTransaction, error) {
	if params.Coins < 0 || params.Xp < 0 || params.Events < 0 {
		return nil, fmt.Errorf("award amounts cannot be negative")
	}
	if params.Coins == 0 && params.Xp == 0 && params.Events == 0 {
		return nil, fmt.Errorf("award must grant coins, xp or events")
	}

	zap.L().Info("Processing award",
		zap.String("account_id", params.AccountId),
		zap.Int64("coins", params.Coins),
		zap.Int64("xp", params.Xp),
		zap.Int64("events", params.Events),
		zap.String("reference", params.Reference))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", classifyError(err))
	}
	defer tx.Rollback()

	if params.Reference != "" {
		var existingId string
		err := tx.QueryRowContext(ctx, s.dialect.q(queryCheckDuplicateReference), params.Reference).Scan(&existingId)
		if err == nil {
			zap.L().Warn("Duplicate award reference detected, skipping",
				zap.String("reference", params.Reference),
				zap.String("existing_entry_id", existingId))
			return nil, fmt.Errorf("%w: reference %s already exists", store.ErrDuplicateTransaction, params.Reference)
		} else if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("failed to check for duplicate award: %w", classifyError(err))
		}
	}

	now := time.Now().UTC()
	var coins, totalXp int64
	err = tx.QueryRowContext(ctx, s.dialect.q(queryCreditAccount), params.Coins, params.Xp, params.Events, now, params.AccountId).
		Scan(&coins, &totalXp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", store.ErrAccountNotFound, params.AccountId)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to credit account: %w", classifyError(err))
	}

	rank := models.RankForXp(totalXp)
	if _, err := tx.ExecContext(ctx, s.dialect.q(queryUpdateAccountRank), string(rank), params.AccountId, string(rank)); err != nil {
		return nil, fmt.Errorf("failed to update rank: %w", classifyError(err))
	}

	reason := params.Reason
	if reason == "" {
		reason = "award"
	}
	entry := &models.CoinTransaction{
		Id:        uuid.New().String(),
		AccountId: params.AccountId,
		Amount:    params.Coins,
		Reason:    reason,
		Reference: params.Reference,
		CreatedAt: now,
	}
	if err := s.appendJournal(ctx, tx, entry); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", classifyError(err))
	}

	zap.L().Info("Award processed successfully",
		zap.String("account_id", params.AccountId),
		zap.Int64("new_balance", coins),
		zap.Int64("total_xp", totalXp),
		zap.String("rank", string(rank)))
	return entry, nil
}

// ReconcileBalance verifies that the stored balance matches the sum of the journal.
func (s *SubledgerService) ReconcileBalance(ctx context.Context, accountId string) error {
	zap.L().Debug("Reconciling balance", zap.String("account_id", accountId))

	tx, err := s.db.BeginTx(ctx, s.dialect.snapshotTx())
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", classifyError(err))
	}
	defer tx.Rollback()

	var current int64
	err = tx.QueryRowContext(ctx, s.dialect.q(queryGetAccountCoins), accountId).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", store.ErrAccountNotFound, accountId)
	}
	if err != nil {
		return fmt.Errorf("failed to get current balance: %w", classifyError(err))
	}

	var calculated int64
	if err := tx.QueryRowContext(ctx, s.dialect.q(queryReconcileBalance), accountId).Scan(&calculated); err != nil {
		return fmt.Errorf("failed to calculate balance from journal: %w", classifyError(err))
	}

	if current != calculated {
		zap.L().Error("Balance reconciliation failed",
			zap.String("account_id", accountId),
			zap.Int64("current_balance", current),
			zap.Int64("calculated_balance", calculated),
			zap.Int64("difference", current-calculated))
		return fmt.Errorf("%w: current=%d, calculated=%d", store.ErrBalanceMismatch, current, calculated)
	}

	zap.L().Debug("Balance reconciliation successful", zap.String("account_id", accountId), zap.Int64("balance", current))
	return nil
}
