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
	"net/mail"
	"strings"

	"coin-shop-ledger-go/internal/models"
	"coin-shop-ledger-go/internal/store"

	"go.uber.org/zap"
)

func (s *LedgerService) GetAccount(ctx context.Context, accountId string) (*models.Account, error) {
	if accountId == "" {
		return nil, invalid("account_id is required")
	}
	return s.store.GetAccount(ctx, accountId)
}

// GetAccountProgress returns the account together with its rank progress.
func (s *LedgerService) GetAccountProgress(ctx context.Context, accountId string) (*models.AccountView, error) {
	account, err := s.GetAccount(ctx, accountId)
	if err != nil {
		return nil, err
	}
	view := models.NewAccountView(account)
	return &view, nil
}

func (s *LedgerService) GetAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	if strings.TrimSpace(email) == "" {
		return nil, invalid("email is required")
	}
	return s.store.GetAccountByEmail(ctx, email)
}

func (s *LedgerService) GetAccounts(ctx context.Context) ([]models.Account, error) {
	return s.store.GetAccounts(ctx)
}

// CreateAccount validates and stores a new account with an optional opening balance.
func (s *LedgerService) CreateAccount(ctx context.Context, params store.CreateAccountParams) (*models.Account, error) {
	params.FullName = strings.TrimSpace(params.FullName)
	params.Email = strings.ToLower(strings.TrimSpace(params.Email))
	if params.FullName == "" {
		return nil, invalid("full_name is required")
	}
	if _, err := mail.ParseAddress(params.Email); err != nil {
		return nil, invalid("email %q is not valid", params.Email)
	}
	if params.Coins < 0 || params.TotalXp < 0 {
		return nil, invalid("coins and xp cannot be negative")
	}
	role, err := models.ParseRole(string(params.Role))
	if err != nil {
		return nil, invalid("%v", err)
	}
	params.Role = role

	account, err := s.store.CreateAccount(ctx, params)
	if err != nil {
		if !errors.Is(err, store.ErrAccountExists) {
			zap.L().Error("Failed to create account", zap.String("email", params.Email), zap.Error(err))
		}
		return nil, err
	}

	zap.L().Info("Account created",
		zap.String("account_id", account.Id),
		zap.String("email", account.Email),
		zap.Int64("coins", account.Coins))
	return account, nil
}

// AwardCoins credits coins and XP earned outside the shop.
func (s *LedgerService) AwardCoins(ctx context.Context, params store.AwardParams) (*models.CoinTransaction, error) {
	if params.AccountId == "" {
		return nil, invalid("account_id is required")
	}
	if params.Coins < 0 || params.Xp < 0 || params.Events < 0 {
		return nil, invalid("award amounts cannot be negative")
	}
	if params.Coins == 0 && params.Xp == 0 && params.Events == 0 {
		return nil, invalid("award must grant coins, xp or events")
	}

	entry, err := s.store.AwardCoins(ctx, params)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateTransaction) {
			zap.L().Info("Duplicate award detected",
				zap.String("account_id", params.AccountId),
				zap.String("reference", params.Reference))
		} else {
			zap.L().Error("Award processing failed",
				zap.String("account_id", params.AccountId),
				zap.Int64("coins", params.Coins),
				zap.Int64("xp", params.Xp),
				zap.Int64("events", params.Events),
				zap.Error(err))
		}
		return nil, err
	}
	return entry, nil
}

// GetLeaderboard returns the top students by coins; limit defaults to 5.
func (s *LedgerService) GetLeaderboard(ctx context.Context, limit int) ([]models.LeaderboardEntry, error) {
	return s.store.GetLeaderboard(ctx, pageSize(limit))
}

func (s *LedgerService) GetStats(ctx context.Context) (*models.Stats, error) {
	return s.store.GetStats(ctx)
}

// ReconcileAccount verifies the account balance against its journal.
func (s *LedgerService) ReconcileAccount(ctx context.Context, accountId string) error {
	if accountId == "" {
		return invalid("account_id is required")
	}
	return s.store.ReconcileAccountBalance(ctx, accountId)
}
