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

// AccountView is the public shape of an account with its rank progress
type AccountView struct {
	Id             string       `json:"id"`
	FullName       string       `json:"full_name"`
	Email          string       `json:"email"`
	Role           Role         `json:"role"`
	Coins          int64        `json:"coins"`
	EventsAttended int64        `json:"events_attended"`
	Progress       RankProgress `json:"progress"`
}

// CatalogItemView is a shop item as listed to students
type CatalogItemView struct {
	Id          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
	CoinPrice   int64  `json:"coin_price"`
	Stock       int64  `json:"stock"`
}

// RedemptionView represents a redemption in the user's order history
type RedemptionView struct {
	Id             string           `json:"id"`
	ItemId         string           `json:"item_id"`
	ItemName       string           `json:"item_name"`
	CoinsCharged   int64            `json:"coins_charged"`
	IdempotencyKey string           `json:"idempotency_key"`
	Status         RedemptionStatus `json:"status"`
	FailureReason  string           `json:"failure_reason,omitempty"`
	BalanceAfter   int64            `json:"balance_after"`
	CreatedAt      time.Time        `json:"created_at"`
}

// NewAccountView builds the public view of an account
func NewAccountView(a *Account) AccountView {
	return AccountView{
		Id:             a.Id,
		FullName:       a.FullName,
		Email:          a.Email,
		Role:           a.Role,
		Coins:          a.Coins,
		EventsAttended: a.EventsAttended,
		Progress:       ProgressFor(a.Rank, a.TotalXp),
	}
}

// NewCatalogItemView builds the public view of a catalog item
func NewCatalogItemView(c *CatalogItem) CatalogItemView {
	return CatalogItemView{
		Id:          c.Id,
		Name:        c.Name,
		Description: c.Description,
		Category:    c.Category,
		CoinPrice:   c.CoinPrice,
		Stock:       c.Stock,
	}
}

// NewRedemptionView builds the public view of a redemption record
func NewRedemptionView(r *RedemptionRecord) RedemptionView {
	return RedemptionView{
		Id:             r.Id,
		ItemId:         r.ItemId,
		ItemName:       r.ItemName,
		CoinsCharged:   r.CoinsCharged,
		IdempotencyKey: r.IdempotencyKey,
		Status:         r.Status,
		FailureReason:  r.FailureReason,
		BalanceAfter:   r.BalanceAfter,
		CreatedAt:      r.CreatedAt,
	}
}
