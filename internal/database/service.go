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

	"coin-shop-ledger-go/internal/models"
	"coin-shop-ledger-go/internal/store"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Compile-time check: *Service must satisfy store.LedgerStore.
var _ store.LedgerStore = (*Service)(nil)

type Service struct {
	db        *sql.DB
	dialect   dialect
	subledger *SubledgerService
}

func NewService(ctx context.Context, cfg models.DatabaseConfig) (*Service, error) {
	driverName, err := driverFor(cfg.Driver)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns <= 0 {
		return nil, fmt.Errorf("max open connections must be positive, got %d", cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns < 0 {
		return nil, fmt.Errorf("max idle connections cannot be negative, got %d", cfg.MaxIdleConns)
	}
	if cfg.PingTimeout <= 0 {
		return nil, fmt.Errorf("ping timeout must be positive, got %v", cfg.PingTimeout)
	}

	dsn, err := dataSourceName(driverName, cfg)
	if err != nil {
		return nil, err
	}

	if driverName == driverSqlite {
		zap.L().Info("Opening SQLite database", zap.String("file", cfg.Path))
	} else {
		zap.L().Info("Opening Postgres database")
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return nil, errors.Join(fmt.Errorf("unable to ping database: %w", classifyError(err)), db.Close())
	}

	d := dialect{driver: driverName}
	service := &Service{db: db, dialect: d, subledger: NewSubledgerService(db, d)}
	if err := service.initSchema(ctx); err != nil {
		return nil, errors.Join(fmt.Errorf("unable to initialize schema: %w", err), db.Close())
	}

	if cfg.CreateDummyUsers {
		service.createDummyAccounts(ctx)
	} else {
		zap.L().Info("Skipping dummy account creation (CREATE_DUMMY_USERS=false)")
	}

	zap.L().Info("Database service initialized successfully", zap.String("driver", driverName))
	return service, nil
}

func (s *Service) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", classifyError(err))
	}
	return nil
}

func (s *Service) Close() {
	if err := s.db.Close(); err != nil {
		zap.L().Warn("Failed to close database connection", zap.Error(err))
	}
}

// schema is shared by SQLite and Postgres; only portable types are used.
const schema = `
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		full_name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		role TEXT NOT NULL DEFAULT 'student' CHECK (role IN ('student', 'admin')),
		coins BIGINT NOT NULL DEFAULT 0 CHECK (coins >= 0),
		total_xp BIGINT NOT NULL DEFAULT 0 CHECK (total_xp >= 0),
		rank TEXT NOT NULL DEFAULT 'bronze',
		events_attended BIGINT NOT NULL DEFAULT 0,
		version BIGINT NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_accounts_coins ON accounts(coins);

	CREATE TABLE IF NOT EXISTS catalog_items (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		coin_price BIGINT NOT NULL CHECK (coin_price > 0),
		stock BIGINT NOT NULL DEFAULT 0 CHECK (stock >= 0),
		version BIGINT NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_catalog_items_price ON catalog_items(coin_price);

	-- Append-only audit of redemption attempts
	CREATE TABLE IF NOT EXISTS redemptions (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL REFERENCES accounts(id),
		item_id TEXT NOT NULL REFERENCES catalog_items(id),
		item_name TEXT NOT NULL,
		coins_charged BIGINT NOT NULL,
		idempotency_key TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('pending', 'completed', 'failed')),
		failure_reason TEXT NOT NULL DEFAULT '',
		balance_before BIGINT NOT NULL,
		balance_after BIGINT NOT NULL,
		source TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP,
		UNIQUE (account_id, idempotency_key)
	);

	CREATE INDEX IF NOT EXISTS idx_redemptions_account_created ON redemptions(account_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_redemptions_status ON redemptions(status);

	-- Signed coin movements; SUM(amount) per account equals accounts.coins
	CREATE TABLE IF NOT EXISTS coin_transactions (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL REFERENCES accounts(id),
		amount BIGINT NOT NULL,
		reason TEXT NOT NULL,
		reference TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_coin_transactions_account ON coin_transactions(account_id);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_coin_transactions_reference ON coin_transactions(reference) WHERE reference <> '';
	`

func (s *Service) initSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return classifyError(err)
	}
	return nil
}

func (s *Service) createDummyAccounts(ctx context.Context) {
	accounts := []store.CreateAccountParams{
		{FullName: "Alice Johnson", Email: "alice.johnson@example.com", Role: models.RoleStudent, Coins: 500, TotalXp: 1200},
		{FullName: "Bob Smith", Email: "bob.smith@example.com", Role: models.RoleStudent, Coins: 150, TotalXp: 300},
		{FullName: "Carol Williams", Email: "carol.williams@example.com", Role: models.RoleAdmin},
	}

	for _, params := range accounts {
		account, err := s.CreateAccount(ctx, params)
		if errors.Is(err, store.ErrAccountExists) {
			continue
		}
		if err != nil {
			zap.L().Error("Failed to insert dummy account", zap.String("name", params.FullName), zap.Error(err))
			continue
		}
		zap.L().Info("Dummy account created", zap.String("id", account.Id), zap.String("name", account.FullName))
	}
}

// Subledger convenience methods

func (s *Service) AwardCoins(ctx context.Context, params store.AwardParams) (*models.CoinTransaction, error) {
	return s.subledger.Award(ctx, params)
}

func (s *Service) Redeem(ctx context.Context, params store.RedeemParams) (*models.RedemptionRecord, error) {
	return s.subledger.Redeem(ctx, params)
}

func (s *Service) FindRedemption(ctx context.Context, accountId, idempotencyKey string) (*models.RedemptionRecord, error) {
	return s.subledger.FindRedemption(ctx, accountId, idempotencyKey)
}

func (s *Service) GetRedemptionHistory(ctx context.Context, accountId string, limit, offset int) ([]models.RedemptionRecord, error) {
	return s.subledger.GetRedemptionHistory(ctx, accountId, limit, offset)
}

func (s *Service) ReconcileAccountBalance(ctx context.Context, accountId string) error {
	return s.subledger.ReconcileBalance(ctx, accountId)
}
