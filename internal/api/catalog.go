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
	"strings"

	"coin-shop-ledger-go/internal/models"
	"coin-shop-ledger-go/internal/store"

	"go.uber.org/zap"
)

// ListCatalog returns items cheapest first.
func (s *LedgerService) ListCatalog(ctx context.Context, inStockOnly bool) ([]models.CatalogItem, error) {
	items, err := s.store.ListCatalog(ctx, inStockOnly)
	if err != nil {
		zap.L().Error("Failed to list catalog", zap.Bool("in_stock_only", inStockOnly), zap.Error(err))
		return nil, err
	}
	return items, nil
}

func (s *LedgerService) GetCatalogItem(ctx context.Context, itemId string) (*models.CatalogItem, error) {
	if itemId == "" {
		return nil, invalid("item_id is required")
	}
	return s.store.GetCatalogItem(ctx, itemId)
}

func (s *LedgerService) CreateCatalogItem(ctx context.Context, params store.CreateCatalogItemParams) (*models.CatalogItem, error) {
	params.Name = strings.TrimSpace(params.Name)
	if params.Name == "" {
		return nil, invalid("name is required")
	}
	if params.CoinPrice <= 0 {
		return nil, invalid("coin_price must be positive")
	}
	if params.Stock < 0 {
		return nil, invalid("stock cannot be negative")
	}
	return s.store.CreateCatalogItem(ctx, params)
}

func (s *LedgerService) Restock(ctx context.Context, itemId string, quantity int64) (*models.CatalogItem, error) {
	if itemId == "" {
		return nil, invalid("item_id is required")
	}
	if quantity <= 0 {
		return nil, invalid("quantity must be positive")
	}
	return s.store.Restock(ctx, itemId, quantity)
}
