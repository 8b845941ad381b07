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
	"strings"
	"time"

	"coin-shop-ledger-go/internal/models"
	"coin-shop-ledger-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*models.Account, error) {
	var account models.Account
	err := row.Scan(&account.Id, &account.FullName, &account.Email, &account.Role, &account.Coins,
		&account.TotalXp, &account.Rank, &account.EventsAttended, &account.Version,
		&account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (s *Service) GetAccounts(ctx context.Context) ([]models.Account, error) {
	zap.L().Debug("Querying accounts")

	rows, err := s.db.QueryContext(ctx, s.dialect.q(queryGetAccounts))
	if err != nil {
		zap.L().Error("Failed to query accounts", zap.Error(err))
		return nil, fmt.Errorf("unable to query accounts: %w", classifyError(err))
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var accounts []models.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			zap.L().Error("Failed to scan account row", zap.Error(err))
			return nil, fmt.Errorf("unable to scan account row: %w", err)
		}
		accounts = append(accounts, *account)
	}

	if err := rows.Err(); err != nil {
		zap.L().Error("Error during account row iteration", zap.Error(err))
		return nil, fmt.Errorf("error iterating account rows: %w", classifyError(err))
	}

	zap.L().Debug("Retrieved accounts", zap.Int("count", len(accounts)))
	return accounts, nil
}

func (s *Service) GetAccount(ctx context.Context, accountId string) (*models.Account, error) {
	zap.L().Debug("Querying account by ID", zap.String("account_id", accountId))

	account, err := scanAccount(s.db.QueryRowContext(ctx, s.dialect.q(queryGetAccountById), accountId))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", store.ErrAccountNotFound, accountId)
		}
		zap.L().Error("Failed to query account by ID", zap.String("account_id", accountId), zap.Error(err))
		return nil, fmt.Errorf("unable to query account by ID: %w", classifyError(err))
	}

	return account, nil
}

func (s *Service) GetAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	zap.L().Debug("Querying account by email", zap.String("email", email))

	account, err := scanAccount(s.db.QueryRowContext(ctx, s.dialect.q(queryGetAccountByEmail), email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", store.ErrAccountNotFound, email)
		}
		zap.L().Error("Failed to query account by email", zap.String("email", email), zap.Error(err))
		return nil, fmt.Errorf("unable to query account by email: %w", classifyError(err))
	}

	return account, nil
}

// CreateAccount inserts the account and journals its opening balance in one transaction.
func (s *Service) CreateAccount(ctx context.Context, params store.CreateAccountParams) (*models.Account, error) {
	if params.Coins < 0 || params.TotalXp < 0 {
		return nil, fmt.Errorf("opening coins and xp cannot be negative")
	}
	if params.Id == "" {
		params.Id = uuid.New().String()
	}
	role := params.Role
	if role == "" {
		role = models.RoleStudent
	}
	email := strings.ToLower(strings.TrimSpace(params.Email))

	zap.L().Info("Creating account",
		zap.String("account_id", params.Id),
		zap.String("name", params.FullName),
		zap.String("email", email),
		zap.String("role", string(role)))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", classifyError(err))
	}
	defer tx.Rollback()

	var existing string
	err = tx.QueryRowContext(ctx, s.dialect.q(queryGetAccountIdByEmail), email).Scan(&existing)
	if err == nil {
		return nil, fmt.Errorf("%w: %s", store.ErrAccountExists, email)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to check existing account: %w", classifyError(err))
	}

	now := time.Now().UTC()
	rank := models.RankForXp(params.TotalXp)
	_, err = tx.ExecContext(ctx, s.dialect.q(queryInsertAccount),
		params.Id, params.FullName, email, string(role), params.Coins, params.TotalXp, string(rank), now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", store.ErrAccountExists, email)
		}
		zap.L().Error("Failed to insert account", zap.String("email", email), zap.Error(err))
		return nil, fmt.Errorf("unable to insert account: %w", classifyError(err))
	}

	if params.Coins > 0 {
		entry := &models.CoinTransaction{
			Id:        uuid.New().String(),
			AccountId: params.Id,
			Amount:    params.Coins,
			Reason:    "opening balance",
			Reference: "opening:" + params.Id,
			CreatedAt: now,
		}
		if err := s.subledger.appendJournal(ctx, tx, entry); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", classifyError(err))
	}

	zap.L().Info("Account created successfully", zap.String("account_id", params.Id), zap.String("name", params.FullName))
	return &models.Account{
		Id:        params.Id,
		FullName:  params.FullName,
		Email:     email,
		Role:      role,
		Coins:     params.Coins,
		TotalXp:   params.TotalXp,
		Rank:      rank,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}
