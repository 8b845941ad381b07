package formance

import (
	"context"
	"fmt"
	"sort"

	"coin-shop-ledger-go/internal/models"

	"go.uber.org/zap"
)

// GetLeaderboard ranks students by coin balance. Ties sort by name.
func (s *Service) GetLeaderboard(ctx context.Context, limit int) ([]models.LeaderboardEntry, error) {
	accounts, err := s.listStudents(ctx)
	if err != nil {
		return nil, err
	}
	return leaderboard(accounts, limit), nil
}

func leaderboard(accounts []models.Account, limit int) []models.LeaderboardEntry {
	students := make([]models.Account, 0, len(accounts))
	for _, a := range accounts {
		if a.Role == models.RoleStudent {
			students = append(students, a)
		}
	}
	sort.SliceStable(students, func(i, j int) bool {
		if students[i].Coins != students[j].Coins {
			return students[i].Coins > students[j].Coins
		}
		return students[i].FullName < students[j].FullName
	})

	var entries []models.LeaderboardEntry
	for i, a := range page(students, limit, 0) {
		entries = append(entries, models.LeaderboardEntry{
			Position: i + 1,
			FullName: a.FullName,
			Coins:    a.Coins,
			Rank:     a.Rank,
		})
	}
	return entries
}

func (s *Service) GetStats(ctx context.Context) (*models.Stats, error) {
	var stats models.Stats

	accounts, err := s.listStudents(ctx)
	if err != nil {
		return nil, err
	}
	for _, a := range accounts {
		if a.Role != models.RoleStudent {
			continue
		}
		stats.TotalStudents++
		stats.TotalCoinsInCirculation += a.Coins
	}

	items, err := s.ListCatalog(ctx, false)
	if err != nil {
		return nil, err
	}
	stats.CatalogItems = int64(len(items))
	for _, item := range items {
		if item.InStock() {
			stats.ItemsInStock++
		}
	}

	txs, err := s.listTransactions(ctx, map[string]any{
		"$match": map[string]any{"metadata[event_type]": "redemption"},
	})
	if err != nil {
		return nil, fmt.Errorf("unable to query redemption stats: %w", err)
	}
	for i := range txs {
		if txs[i].Reverted {
			continue
		}
		stats.CompletedRedemptions++
		stats.CoinsSpent += recordFromTx(&txs[i]).CoinsCharged
	}

	failures, err := s.listAccounts(ctx, map[string]any{
		"$match": map[string]any{"metadata[entity_type]": entityFailedRedemption},
	})
	if err != nil {
		return nil, fmt.Errorf("unable to query failed redemptions: %w", err)
	}
	stats.FailedRedemptions = int64(len(failures))

	zap.L().Debug("Computed stats from Formance",
		zap.Int64("students", stats.TotalStudents),
		zap.Int64("coins_in_circulation", stats.TotalCoinsInCirculation),
		zap.Int64("completed_redemptions", stats.CompletedRedemptions))
	return &stats, nil
}
