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

func scanCatalogItem(row rowScanner) (*models.CatalogItem, error) {
	var item models.CatalogItem
	err := row.Scan(&item.Id, &item.Name, &item.Description, &item.Category, &item.CoinPrice,
		&item.Stock, &item.Version, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Service) CreateCatalogItem(ctx context.Context, params store.CreateCatalogItemParams) (*models.CatalogItem, error) {
	if params.CoinPrice <= 0 {
		return nil, fmt.Errorf("coin price must be positive, got %d", params.CoinPrice)
	}
	if params.Stock < 0 {
		return nil, fmt.Errorf("stock cannot be negative, got %d", params.Stock)
	}
	if params.Id == "" {
		params.Id = uuid.New().String()
	}

	zap.L().Info("Creating catalog item",
		zap.String("item_id", params.Id),
		zap.String("name", params.Name),
		zap.Int64("coin_price", params.CoinPrice),
		zap.Int64("stock", params.Stock))

	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, s.dialect.q(queryInsertCatalogItem),
		params.Id, params.Name, params.Description, params.Category, params.CoinPrice, params.Stock, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", store.ErrItemExists, params.Id)
		}
		zap.L().Error("Failed to insert catalog item", zap.String("item_id", params.Id), zap.Error(err))
		return nil, fmt.Errorf("unable to insert catalog item: %w", classifyError(err))
	}

	return &models.CatalogItem{
		Id:          params.Id,
		Name:        params.Name,
		Description: params.Description,
		Category:    params.Category,
		CoinPrice:   params.CoinPrice,
		Stock:       params.Stock,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (s *Service) GetCatalogItem(ctx context.Context, itemId string) (*models.CatalogItem, error) {
	item, err := scanCatalogItem(s.db.QueryRowContext(ctx, s.dialect.q(queryGetCatalogItem), itemId))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", store.ErrItemNotFound, itemId)
		}
		zap.L().Error("Failed to query catalog item", zap.String("item_id", itemId), zap.Error(err))
		return nil, fmt.Errorf("unable to query catalog item: %w", classifyError(err))
	}
	return item, nil
}

// ListCatalog returns items ordered by price, cheapest first.
func (s *Service) ListCatalog(ctx context.Context, inStockOnly bool) ([]models.CatalogItem, error) {
	query := queryListCatalog
	if inStockOnly {
		query = queryListCatalogInStock
	}

	rows, err := s.db.QueryContext(ctx, s.dialect.q(query))
	if err != nil {
		zap.L().Error("Failed to query catalog", zap.Error(err))
		return nil, fmt.Errorf("unable to query catalog: %w", classifyError(err))
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var items []models.CatalogItem
	for rows.Next() {
		item, err := scanCatalogItem(rows)
		if err != nil {
			return nil, fmt.Errorf("unable to scan catalog row: %w", err)
		}
		items = append(items, *item)
	}

	if err := rows.Err(); err != nil {
		zap.L().Error("Error during catalog row iteration", zap.Error(err))
		return nil, fmt.Errorf("error iterating catalog rows: %w", classifyError(err))
	}

	zap.L().Debug("Retrieved catalog", zap.Int("count", len(items)), zap.Bool("in_stock_only", inStockOnly))
	return items, nil
}

// Restock adds quantity units to an item's stock.
func (s *Service) Restock(ctx context.Context, itemId string, quantity int64) (*models.CatalogItem, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("restock quantity must be positive, got %d", quantity)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", classifyError(err))
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, s.dialect.q(queryRestockItem), quantity, time.Now().UTC(), itemId)
	if err != nil {
		return nil, fmt.Errorf("failed to restock item: %w", classifyError(err))
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, fmt.Errorf("%w: %s", store.ErrItemNotFound, itemId)
	}

	item, err := scanCatalogItem(tx.QueryRowContext(ctx, s.dialect.q(queryGetCatalogItem), itemId))
	if err != nil {
		return nil, fmt.Errorf("failed to read restocked item: %w", classifyError(err))
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", classifyError(err))
	}

	zap.L().Info("Item restocked",
		zap.String("item_id", itemId),
		zap.Int64("added", quantity),
		zap.Int64("stock", item.Stock))
	return item, nil
}
