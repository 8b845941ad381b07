package formance

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"coin-shop-ledger-go/internal/models"
	"coin-shop-ledger-go/internal/store"

	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CreateCatalogItem writes the item metadata and mints its opening stock.
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

	existing, err := s.getAccount(ctx, itemAddress(params.Id))
	if err != nil {
		return nil, fmt.Errorf("unable to check catalog item: %w", err)
	}
	if existing != nil && existing.Metadata["entity_type"] == entityCatalogItem {
		return nil, fmt.Errorf("%w: %s", store.ErrItemExists, params.Id)
	}

	zap.L().Info("Creating catalog item in Formance",
		zap.String("item_id", params.Id),
		zap.String("name", params.Name),
		zap.Int64("coin_price", params.CoinPrice),
		zap.Int64("stock", params.Stock))

	now := time.Now().UTC()
	_, err = s.client.Ledger.V2.AddMetadataToAccount(ctx, operations.V2AddMetadataToAccountRequest{
		Ledger:  s.ledger,
		Address: itemAddress(params.Id),
		RequestBody: map[string]string{
			"entity_type": entityCatalogItem,
			"name":        params.Name,
			"description": params.Description,
			"category":    params.Category,
			"price":       strconv.FormatInt(params.CoinPrice, 10),
			"created_at":  formatTime(now),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("unable to write catalog item: %w", classifyError(err))
	}

	_, err = s.client.Ledger.V2.AddMetadataToAccount(ctx, operations.V2AddMetadataToAccountRequest{
		Ledger:  s.ledger,
		Address: stockAddress(params.Id),
		RequestBody: map[string]string{
			"entity_type": entityCatalogStock,
			"item_id":     params.Id,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("unable to tag stock account: %w", classifyError(err))
	}

	if params.Stock > 0 {
		if err := s.addStock(ctx, params.Id, params.Stock, "stock:"+params.Id+":initial", "initial_stock"); err != nil {
			return nil, err
		}
	}

	return &models.CatalogItem{
		Id:          params.Id,
		Name:        params.Name,
		Description: params.Description,
		Category:    params.Category,
		CoinPrice:   params.CoinPrice,
		Stock:       params.Stock,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (s *Service) GetCatalogItem(ctx context.Context, itemId string) (*models.CatalogItem, error) {
	acct, err := s.getAccount(ctx, itemAddress(itemId))
	if err != nil {
		return nil, fmt.Errorf("unable to query catalog item: %w", err)
	}
	if acct == nil || acct.Metadata["entity_type"] != entityCatalogItem {
		return nil, fmt.Errorf("%w: %s", store.ErrItemNotFound, itemId)
	}

	stock, err := s.balanceOf(ctx, stockAddress(itemId), assetUnit)
	if err != nil {
		return nil, fmt.Errorf("unable to query stock: %w", err)
	}
	return catalogItemFromV2(acct, stock), nil
}

// ListCatalog joins item metadata with stock volumes using two list queries.
func (s *Service) ListCatalog(ctx context.Context, inStockOnly bool) ([]models.CatalogItem, error) {
	metaAccounts, err := s.listAccounts(ctx, map[string]any{
		"$match": map[string]any{"metadata[entity_type]": entityCatalogItem},
	})
	if err != nil {
		return nil, fmt.Errorf("unable to query catalog: %w", err)
	}
	stockAccounts, err := s.listAccounts(ctx, map[string]any{
		"$match": map[string]any{"metadata[entity_type]": entityCatalogStock},
	})
	if err != nil {
		return nil, fmt.Errorf("unable to query stock: %w", err)
	}

	stock := make(map[string]int64, len(stockAccounts))
	for _, acct := range stockAccounts {
		stock[acct.Metadata["item_id"]] = bigToInt64(volumeBalance(acct.Volumes, assetUnit))
	}

	var items []models.CatalogItem
	for i := range metaAccounts {
		if !isTopLevel(metaAccounts[i].Address, "catalog") {
			continue
		}
		item := catalogItemFromV2(&metaAccounts[i], stock[strings.TrimPrefix(metaAccounts[i].Address, "catalog:")])
		if inStockOnly && !item.InStock() {
			continue
		}
		items = append(items, *item)
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].CoinPrice != items[j].CoinPrice {
			return items[i].CoinPrice < items[j].CoinPrice
		}
		return items[i].Name < items[j].Name
	})

	zap.L().Debug("Retrieved catalog from Formance", zap.Int("count", len(items)), zap.Bool("in_stock_only", inStockOnly))
	return items, nil
}

func (s *Service) Restock(ctx context.Context, itemId string, quantity int64) (*models.CatalogItem, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("restock quantity must be positive, got %d", quantity)
	}
	if _, err := s.GetCatalogItem(ctx, itemId); err != nil {
		return nil, err
	}

	if err := s.addStock(ctx, itemId, quantity, "restock:"+uuid.New().String(), "restock"); err != nil {
		return nil, err
	}

	item, err := s.GetCatalogItem(ctx, itemId)
	if err != nil {
		return nil, err
	}
	zap.L().Info("Item restocked in Formance",
		zap.String("item_id", itemId),
		zap.Int64("added", quantity),
		zap.Int64("stock", item.Stock))
	return item, nil
}

func (s *Service) addStock(ctx context.Context, itemId string, quantity int64, reference, eventType string) error {
	_, err := s.client.Ledger.V2.CreateTransaction(ctx, operations.V2CreateTransactionRequest{
		Ledger: s.ledger,
		V2PostTransaction: shared.V2PostTransaction{
			Reference: strPtr(reference),
			Script: &shared.V2PostTransactionScript{
				Plain: numscriptStock,
				Vars: map[string]string{
					"item_id":    itemId,
					"quantity":   strconv.FormatInt(quantity, 10),
					"item_key":   itemId,
					"event_type": eventType,
				},
			},
		},
	})
	if err != nil {
		if isConflictError(err) {
			return fmt.Errorf("%w: reference %s already exists", store.ErrDuplicateTransaction, reference)
		}
		return fmt.Errorf("unable to add stock: %w", classifyError(err))
	}
	return nil
}

func catalogItemFromV2(acct *shared.V2Account, stock int64) *models.CatalogItem {
	meta := acct.Metadata
	created := metaTime(meta, "created_at", acct.FirstUsage)
	updated := created
	if acct.UpdatedAt != nil {
		updated = *acct.UpdatedAt
	}
	return &models.CatalogItem{
		Id:          strings.TrimPrefix(acct.Address, "catalog:"),
		Name:        meta["name"],
		Description: meta["description"],
		Category:    meta["category"],
		CoinPrice:   metaInt(meta, "price"),
		Stock:       stock,
		CreatedAt:   created,
		UpdatedAt:   updated,
	}
}
