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
	"fmt"

	"coin-shop-ledger-go/internal/models"

	"go.uber.org/zap"
)

// GetLeaderboard returns students ordered by coin balance, highest first.
func (s *Service) GetLeaderboard(ctx context.Context, limit int) ([]models.LeaderboardEntry, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.q(queryGetLeaderboard), limit)
	if err != nil {
		zap.L().Error("Failed to query leaderboard", zap.Error(err))
		return nil, fmt.Errorf("unable to query leaderboard: %w", classifyError(err))
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var entries []models.LeaderboardEntry
	for rows.Next() {
		entry := models.LeaderboardEntry{Position: len(entries) + 1}
		if err := rows.Scan(&entry.FullName, &entry.Coins, &entry.Rank); err != nil {
			return nil, fmt.Errorf("unable to scan leaderboard row: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating leaderboard rows: %w", classifyError(err))
	}
	return entries, nil
}

func (s *Service) GetStats(ctx context.Context) (*models.Stats, error) {
	var stats models.Stats

	if err := s.db.QueryRowContext(ctx, s.dialect.q(queryStatsAccounts)).
		Scan(&stats.TotalStudents, &stats.TotalCoinsInCirculation); err != nil {
		return nil, fmt.Errorf("unable to query account stats: %w", classifyError(err))
	}

	if err := s.db.QueryRowContext(ctx, s.dialect.q(queryStatsCatalog)).
		Scan(&stats.CatalogItems, &stats.ItemsInStock); err != nil {
		return nil, fmt.Errorf("unable to query catalog stats: %w", classifyError(err))
	}

	if err := s.db.QueryRowContext(ctx, s.dialect.q(queryStatsRedemptions)).
		Scan(&stats.CompletedRedemptions, &stats.FailedRedemptions, &stats.CoinsSpent); err != nil {
		return nil, fmt.Errorf("unable to query redemption stats: %w", classifyError(err))
	}

	zap.L().Debug("Computed stats",
		zap.Int64("students", stats.TotalStudents),
		zap.Int64("coins_in_circulation", stats.TotalCoinsInCirculation),
		zap.Int64("completed_redemptions", stats.CompletedRedemptions))
	return &stats, nil
}
