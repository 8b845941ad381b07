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

package models

import (
	"time"
)

// Account represents a student profile and its coin balance
type Account struct {
	Id             string    `db:"id"`
	FullName       string    `db:"full_name"`
	Email          string    `db:"email"`
	Role           Role      `db:"role"`
	Coins          int64     `db:"coins"`
	TotalXp        int64     `db:"total_xp"`
	Rank           Rank      `db:"rank"`
	EventsAttended int64     `db:"events_attended"`
	Version        int64     `db:"version"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// IsAdmin reports whether the account may use admin endpoints
func (a *Account) IsAdmin() bool {
	return a != nil && a.Role == RoleAdmin
}

// CatalogItem represents a shop item that can be redeemed for coins
type CatalogItem struct {
	Id          string    `db:"id"`
	Name        string    `db:"name"`
	Description string    `db:"description"`
	Category    string    `db:"category"`
	CoinPrice   int64     `db:"coin_price"`
	Stock       int64     `db:"stock"`
	Version     int64     `db:"version"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// InStock reports whether at least one unit can be redeemed
func (c *CatalogItem) InStock() bool {
	return c.Stock > 0
}

// RedemptionRecord is the append-only audit entry for a redemption attempt
type RedemptionRecord struct {
	Id             string           `db:"id"`
	AccountId      string           `db:"account_id"`
	ItemId         string           `db:"item_id"`
	ItemName       string           `db:"item_name"`
	CoinsCharged   int64            `db:"coins_charged"`
	IdempotencyKey string           `db:"idempotency_key"`
	Status         RedemptionStatus `db:"status"`
	FailureReason  string           `db:"failure_reason"`
	BalanceBefore  int64            `db:"balance_before"`
	BalanceAfter   int64            `db:"balance_after"`
	Source         string           `db:"source"`
	CreatedAt      time.Time        `db:"created_at"`
	CompletedAt    time.Time        `db:"completed_at"`

	// Replayed is set when the record was returned for a repeated idempotency key.
	Replayed bool `db:"-"`
}

// CoinTransaction represents one signed coin movement in the journal
type CoinTransaction struct {
	Id        string    `db:"id"`
	AccountId string    `db:"account_id"`
	Amount    int64     `db:"amount"`
	Reason    string    `db:"reason"`
	Reference string    `db:"reference"`
	CreatedAt time.Time `db:"created_at"`
}

// LeaderboardEntry is one row of the coin leaderboard
type LeaderboardEntry struct {
	Position int    `json:"position"`
	FullName string `json:"full_name"`
	Coins    int64  `json:"coins"`
	Rank     Rank   `json:"rank"`
}

// Stats holds the aggregate figures shown on the admin dashboard
type Stats struct {
	TotalStudents           int64 `json:"total_students"`
	TotalCoinsInCirculation int64 `json:"total_coins_in_circulation"`
	CatalogItems            int64 `json:"catalog_items"`
	ItemsInStock            int64 `json:"items_in_stock"`
	CompletedRedemptions    int64 `json:"completed_redemptions"`
	FailedRedemptions       int64 `json:"failed_redemptions"`
	CoinsSpent              int64 `json:"coins_spent"`
}
