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


package main

import (
	"context"
	"errors"
	"flag"
	"fmt"

	"coin-shop-ledger-go/internal/common"
	"coin-shop-ledger-go/internal/config"
	"coin-shop-ledger-go/internal/models"
	"coin-shop-ledger-go/internal/store"

	"go.uber.org/zap"
)

// seedItem creates a catalog item unless one with the same id already exists.
// Existing items are left untouched so setup can be re-run safely.
func seedItem(ctx context.Context, services *common.Services, entry common.CatalogEntry) (bool, error) {
	existing, err := services.Ledger.GetCatalogItem(ctx, entry.Id)
	if err == nil {
		zap.L().Info("Catalog item already exists",
			zap.String("item_id", existing.Id),
			zap.Int64("stock", existing.Stock))
		return false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return false, err
	}

	item, err := services.Ledger.CreateCatalogItem(ctx, entry.Params())
	if err != nil {
		return false, err
	}

	zap.L().Info("Created catalog item",
		zap.String("item_id", item.Id),
		zap.String("name", item.Name),
		zap.Int64("coin_price", item.CoinPrice),
		zap.Int64("stock", item.Stock))
	return true, nil
}

func printItem(item models.CatalogItem, isLast bool) {
	fmt.Printf("%s %-20s %-28s %14s  stock: %d\n",
		common.BoxPrefix(isLast),
		item.Id,
		item.Name,
		common.FormatCoins(item.CoinPrice),
		item.Stock)
}

func seedCatalog(ctx context.Context, services *common.Services, catalogFile string) {
	zap.L().Info("Loading catalog configuration", zap.String("file", catalogFile))
	entries, err := common.LoadCatalogConfig(catalogFile)
	if err != nil {
		zap.L().Fatal("Failed to load catalog config", zap.Error(err))
	}
	zap.L().Info("Catalog configuration loaded", zap.Int("count", len(entries)))

	var created, skipped int
	var failedItems []string

	for _, entry := range entries {
		ok, err := seedItem(ctx, services, entry)
		switch {
		case err != nil:
			zap.L().Error("Failed to seed catalog item",
				zap.String("item_id", entry.Id),
				zap.Error(err))
			failedItems = append(failedItems, entry.Id)
		case ok:
			created++
		default:
			skipped++
		}
	}

	if len(failedItems) > 0 {
		zap.L().Warn("Catalog seeding completed with some failures",
			zap.Int("created", created),
			zap.Int("skipped", skipped),
			zap.Strings("failed_items", failedItems))
	} else {
		zap.L().Info("Catalog seeding completed successfully",
			zap.Int("created", created),
			zap.Int("skipped", skipped))
	}
}

func printCatalog(ctx context.Context, services *common.Services) {
	items, err := services.Ledger.ListCatalog(ctx, false)
	if err != nil {
		zap.L().Fatal("Failed to list catalog", zap.Error(err))
	}

	common.PrintHeader("SHOP CATALOG", common.DefaultWidth)
	for i, item := range items {
		printItem(item, i == len(items)-1)
	}
	common.PrintFooter(fmt.Sprintf("%d items", len(items)), common.DefaultWidth)
}

func main() {
	ctx := context.Background()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	catalogFlag := flag.String("catalog", "", "Path to the catalog YAML file (default: CATALOG_FILE)")
	listOnly := flag.Bool("list", false, "Only print the current catalog")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	if !*listOnly {
		catalogFile := cfg.CatalogFile
		if *catalogFlag != "" {
			catalogFile = *catalogFlag
		}
		seedCatalog(ctx, services, catalogFile)
	}

	printCatalog(ctx, services)
}
