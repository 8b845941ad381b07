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

package store

import (
	"context"
	"errors"
	"fmt"

	"coin-shop-ledger-go/internal/models"
)

// Sentinel errors shared across all backend implementations.
var (
	ErrNotFound            = errors.New("not found")
	ErrAccountNotFound     = fmt.Errorf("account %w", ErrNotFound)
	ErrItemNotFound        = fmt.Errorf("catalog item %w", ErrNotFound)
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrOutOfStock          = errors.New("out of stock")
	ErrIdempotencyConflict = errors.New("idempotency key reused with different parameters")
	ErrBackendUnavailable  = errors.New("backend unavailable")

	ErrDuplicateTransaction   = errors.New("duplicate transaction")
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrAccountExists          = errors.New("account already exists")
	ErrItemExists             = errors.New("catalog item already exists")
	ErrBalanceMismatch        = errors.New("balance does not match journal")
)

// IsLogical reports whether err is a terminal business outcome that must
// never be retried.
func IsLogical(err error) bool {
	return errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrOutOfStock) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrIdempotencyConflict)
}

// FailureError maps a stored failure reason back to its sentinel.
func FailureError(reason string) error {
	switch reason {
	case models.FailureInsufficientFunds:
		return ErrInsufficientFunds
	case models.FailureOutOfStock:
		return ErrOutOfStock
	}
	return fmt.Errorf("redemption failed: %s", reason)
}

// FailureReason maps a sentinel to the reason stored on failed records.
func FailureReason(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientFunds):
		return models.FailureInsufficientFunds
	case errors.Is(err, ErrOutOfStock):
		return models.FailureOutOfStock
	}
	return ""
}

// CreateAccountParams contains the parameters for creating an account.
type CreateAccountParams struct {
	Id       string
	FullName string
	Email    string
	Role     models.Role
	Coins    int64
	TotalXp  int64
}

// CreateCatalogItemParams contains the parameters for adding a shop item.
type CreateCatalogItemParams struct {
	Id          string
	Name        string
	Description string
	Category    string
	CoinPrice   int64
	Stock       int64
}

// RedeemParams identifies one redemption attempt.
type RedeemParams struct {
	AccountId      string
	ItemId         string
	IdempotencyKey string
}

// AwardParams credits coins and XP earned outside the shop (challenges,
// events). Events counts attended events. Reference deduplicates repeated
// deliveries of the same award.
type AwardParams struct {
	AccountId string
	Coins     int64
	Xp        int64
	Events    int64
	Reason    string
	Reference string
}

// LedgerStore defines the contract that every backend (SQLite, Postgres, Formance) must satisfy.
type LedgerStore interface {
	// --- Accounts ---
	CreateAccount(ctx context.Context, params CreateAccountParams) (*models.Account, error)
	GetAccount(ctx context.Context, accountId string) (*models.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*models.Account, error)
	GetAccounts(ctx context.Context) ([]models.Account, error)
	AwardCoins(ctx context.Context, params AwardParams) (*models.CoinTransaction, error)

	// --- Catalog ---
	CreateCatalogItem(ctx context.Context, params CreateCatalogItemParams) (*models.CatalogItem, error)
	GetCatalogItem(ctx context.Context, itemId string) (*models.CatalogItem, error)
	ListCatalog(ctx context.Context, inStockOnly bool) ([]models.CatalogItem, error)
	Restock(ctx context.Context, itemId string, quantity int64) (*models.CatalogItem, error)

	// --- Redemptions ---
	// Redeem debits the account, decrements stock and appends a completed
	// record as one atomic unit. On a logical failure it returns the failed
	// audit record (if one was written) together with the typed error.
	Redeem(ctx context.Context, params RedeemParams) (*models.RedemptionRecord, error)
	FindRedemption(ctx context.Context, accountId, idempotencyKey string) (*models.RedemptionRecord, error)
	GetRedemptionHistory(ctx context.Context, accountId string, limit, offset int) ([]models.RedemptionRecord, error)

	// --- Reporting ---
	GetLeaderboard(ctx context.Context, limit int) ([]models.LeaderboardEntry, error)
	GetStats(ctx context.Context) (*models.Stats, error)
	ReconcileAccountBalance(ctx context.Context, accountId string) error

	// --- Lifecycle ---
	Ping(ctx context.Context) error
	Close()
}
