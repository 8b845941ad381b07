package formance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"coin-shop-ledger-go/internal/models"
	"coin-shop-ledger-go/internal/store"

	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"go.uber.org/zap"
)

// Redeem posts numscriptRedeem. The ledger applies both postings or neither,
// and the transaction reference makes the idempotency key unique per account.
func (s *Service) Redeem(ctx context.Context, params store.RedeemParams) (*models.RedemptionRecord, error) {
	zap.L().Info("Processing redemption in Formance",
		zap.String("account_id", params.AccountId),
		zap.String("item_id", params.ItemId),
		zap.String("idempotency_key", params.IdempotencyKey))

	existing, err := s.FindRedemption(ctx, params.AccountId, params.IdempotencyKey)
	if err == nil {
		return replay(existing, params)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	item, err := s.GetCatalogItem(ctx, params.ItemId)
	if err != nil {
		return nil, err
	}
	account, err := s.GetAccount(ctx, params.AccountId)
	if err != nil {
		return nil, err
	}

	if item.Stock < 1 {
		return s.recordFailure(ctx, params, item, account.Coins, store.ErrOutOfStock)
	}
	if account.Coins < item.CoinPrice {
		return s.recordFailure(ctx, params, item, account.Coins, store.ErrInsufficientFunds)
	}

	now := time.Now().UTC()
	source := models.SourceFromContext(ctx)
	resp, err := s.client.Ledger.V2.CreateTransaction(ctx, operations.V2CreateTransactionRequest{
		Ledger: s.ledger,
		V2PostTransaction: shared.V2PostTransaction{
			Reference: strPtr(redemptionReference(params.AccountId, params.IdempotencyKey)),
			Script: &shared.V2PostTransactionScript{
				Plain: numscriptRedeem,
				Vars: map[string]string{
					"account_id":      params.AccountId,
					"item_id":         params.ItemId,
					"price":           strconv.FormatInt(item.CoinPrice, 10),
					"account_key":     params.AccountId,
					"item_key":        params.ItemId,
					"item_name":       item.Name,
					"idempotency_key": params.IdempotencyKey,
					"source":          source,
					"created_at":      formatTime(now),
				},
			},
		},
	})
	if err != nil {
		switch {
		case isConflictError(err):
			zap.L().Info("Redemption reference committed concurrently, replaying",
				zap.String("account_id", params.AccountId),
				zap.String("idempotency_key", params.IdempotencyKey))
			existing, findErr := s.FindRedemption(ctx, params.AccountId, params.IdempotencyKey)
			if findErr != nil {
				return nil, findErr
			}
			return replay(existing, params)

		case isInsufficientFundError(err):
			// Either posting may have been short; the stock volume tells which.
			return s.classifyRejection(ctx, params, item)
		}
		zap.L().Error("Failed to post redemption",
			zap.String("account_id", params.AccountId),
			zap.String("item_id", params.ItemId),
			zap.Error(err))
		return nil, fmt.Errorf("failed to post redemption: %w", classifyError(err))
	}

	tx := resp.V2CreateTransactionResponse.Data
	record := &models.RedemptionRecord{
		Id:             tx.ID.String(),
		AccountId:      params.AccountId,
		ItemId:         params.ItemId,
		ItemName:       item.Name,
		CoinsCharged:   item.CoinPrice,
		IdempotencyKey: params.IdempotencyKey,
		Status:         models.StatusPending,
		Source:         source,
		CreatedAt:      now,
	}
	record.BalanceAfter = balanceAfter(&tx, params.AccountId, account.Coins-item.CoinPrice)
	record.BalanceBefore = record.BalanceAfter + item.CoinPrice
	if err := record.Transition(models.StatusCompleted); err != nil {
		return nil, err
	}
	record.CompletedAt = tx.Timestamp

	zap.L().Info("Redemption completed in Formance",
		zap.String("transaction_id", record.Id),
		zap.String("account_id", record.AccountId),
		zap.String("item_id", record.ItemId),
		zap.Int64("coins", record.CoinsCharged),
		zap.Int64("new_balance", record.BalanceAfter))
	return record, nil
}

// classifyRejection re-reads balances after INSUFFICIENT_FUND to decide which
// failure to record.
func (s *Service) classifyRejection(ctx context.Context, params store.RedeemParams, item *models.CatalogItem) (*models.RedemptionRecord, error) {
	stock, err := s.balanceOf(ctx, stockAddress(params.ItemId), assetUnit)
	if err != nil {
		return nil, fmt.Errorf("failed to read stock after rejection: %w", err)
	}
	balance, err := s.balanceOf(ctx, studentAddress(params.AccountId), assetCoin)
	if err != nil {
		return nil, fmt.Errorf("failed to read balance after rejection: %w", err)
	}

	cause := store.ErrInsufficientFunds
	if stock < 1 {
		cause = store.ErrOutOfStock
	}
	return s.recordFailure(ctx, params, item, balance, cause)
}

// replay returns a stored record for a repeated key. Failed records replay
// with the error they originally produced.
func replay(existing *models.RedemptionRecord, params store.RedeemParams) (*models.RedemptionRecord, error) {
	if existing.ItemId != params.ItemId {
		return nil, fmt.Errorf("%w: key %s was used for item %s", store.ErrIdempotencyConflict, params.IdempotencyKey, existing.ItemId)
	}
	existing.Replayed = true
	if existing.Status == models.StatusFailed {
		return existing, store.FailureError(existing.FailureReason)
	}
	return existing, nil
}

// recordFailure stores the rejected attempt as metadata on an audit account.
// A completed redemption committed meanwhile under the same key wins.
func (s *Service) recordFailure(ctx context.Context, params store.RedeemParams, item *models.CatalogItem, balance int64, cause error) (*models.RedemptionRecord, error) {
	addr := failedRedemptionAddress(params.AccountId, params.IdempotencyKey)
	if prior, err := s.getAccount(ctx, addr); err != nil {
		return nil, fmt.Errorf("failed to check failed redemption: %w", err)
	} else if prior != nil && prior.Metadata["entity_type"] == entityFailedRedemption {
		return replay(failedRecordFromV2(prior), params)
	}

	now := time.Now().UTC()
	record := &models.RedemptionRecord{
		Id:             addr,
		AccountId:      params.AccountId,
		ItemId:         params.ItemId,
		ItemName:       item.Name,
		IdempotencyKey: params.IdempotencyKey,
		Status:         models.StatusPending,
		BalanceBefore:  balance,
		BalanceAfter:   balance,
		Source:         models.SourceFromContext(ctx),
		CreatedAt:      now,
	}
	if err := record.Transition(models.StatusFailed); err != nil {
		return nil, err
	}
	record.FailureReason = store.FailureReason(cause)
	record.CompletedAt = now

	_, err := s.client.Ledger.V2.AddMetadataToAccount(ctx, operations.V2AddMetadataToAccountRequest{
		Ledger:  s.ledger,
		Address: addr,
		RequestBody: map[string]string{
			"entity_type":     entityFailedRedemption,
			"account_id":      record.AccountId,
			"item_id":         record.ItemId,
			"item_name":       record.ItemName,
			"idempotency_key": record.IdempotencyKey,
			"status":          string(record.Status),
			"reason":          record.FailureReason,
			"balance":         strconv.FormatInt(balance, 10),
			"source":          record.Source,
			"created_at":      formatTime(now),
		},
	})
	if err != nil {
		zap.L().Error("Failed to record failed redemption",
			zap.String("account_id", params.AccountId),
			zap.String("idempotency_key", params.IdempotencyKey),
			zap.Error(err))
		return nil, fmt.Errorf("failed to record failed redemption: %w", classifyError(err))
	}

	// A success posted between our read and the metadata write takes precedence.
	if tx, err := s.findRedemptionTx(ctx, params.AccountId, params.IdempotencyKey); err == nil && tx != nil {
		return replay(recordFromTx(tx), params)
	}

	zap.L().Info("Redemption rejected",
		zap.String("account_id", record.AccountId),
		zap.String("item_id", record.ItemId),
		zap.String("reason", record.FailureReason),
		zap.Int64("balance", balance))
	return record, cause
}

func (s *Service) FindRedemption(ctx context.Context, accountId, idempotencyKey string) (*models.RedemptionRecord, error) {
	tx, err := s.findRedemptionTx(ctx, accountId, idempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("failed to find redemption: %w", err)
	}
	if tx != nil {
		return recordFromTx(tx), nil
	}

	acct, err := s.getAccount(ctx, failedRedemptionAddress(accountId, idempotencyKey))
	if err != nil {
		return nil, fmt.Errorf("failed to find failed redemption: %w", err)
	}
	if acct == nil || acct.Metadata["entity_type"] != entityFailedRedemption {
		return nil, fmt.Errorf("redemption %w", store.ErrNotFound)
	}
	return failedRecordFromV2(acct), nil
}

func (s *Service) findRedemptionTx(ctx context.Context, accountId, idempotencyKey string) (*shared.V2Transaction, error) {
	txs, err := s.listTransactions(ctx, map[string]any{
		"$match": map[string]any{
			"reference": redemptionReference(accountId, idempotencyKey),
		},
	})
	if err != nil {
		return nil, err
	}
	for i := range txs {
		if !txs[i].Reverted {
			return &txs[i], nil
		}
	}
	return nil, nil
}

// GetRedemptionHistory merges completed redemption transactions with failed
// attempts, newest first.
func (s *Service) GetRedemptionHistory(ctx context.Context, accountId string, limit, offset int) ([]models.RedemptionRecord, error) {
	txs, err := s.listTransactions(ctx, map[string]any{
		"$and": []any{
			map[string]any{"$match": map[string]any{"metadata[event_type]": "redemption"}},
			map[string]any{"$match": map[string]any{"metadata[account_id]": accountId}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get redemption history: %w", err)
	}
	failures, err := s.listAccounts(ctx, map[string]any{
		"$and": []any{
			map[string]any{"$match": map[string]any{"metadata[entity_type]": entityFailedRedemption}},
			map[string]any{"$match": map[string]any{"metadata[account_id]": accountId}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get failed redemptions: %w", err)
	}

	records := make([]models.RedemptionRecord, 0, len(txs)+len(failures))
	for i := range txs {
		if txs[i].Reverted {
			continue
		}
		records = append(records, *recordFromTx(&txs[i]))
	}
	for i := range failures {
		records = append(records, *failedRecordFromV2(&failures[i]))
	}

	return page(sortHistory(records), limit, offset), nil
}

func sortHistory(records []models.RedemptionRecord) []models.RedemptionRecord {
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.After(records[j].CreatedAt)
		}
		return records[i].Id > records[j].Id
	})
	return records
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit >= 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// ---------- conversion ----------

func recordFromTx(tx *shared.V2Transaction) *models.RedemptionRecord {
	meta := tx.Metadata
	accountId := meta["account_id"]
	price := -postingsDelta(tx.Postings, studentAddress(accountId), assetCoin)
	after := balanceAfter(tx, accountId, 0)

	return &models.RedemptionRecord{
		Id:             tx.ID.String(),
		AccountId:      accountId,
		ItemId:         meta["item_id"],
		ItemName:       meta["item_name"],
		CoinsCharged:   price,
		IdempotencyKey: meta["idempotency_key"],
		Status:         models.StatusCompleted,
		BalanceBefore:  after + price,
		BalanceAfter:   after,
		Source:         meta["source"],
		CreatedAt:      metaTime(meta, "created_at", &tx.Timestamp),
		CompletedAt:    tx.Timestamp,
	}
}

func failedRecordFromV2(acct *shared.V2Account) *models.RedemptionRecord {
	meta := acct.Metadata
	created := metaTime(meta, "created_at", acct.FirstUsage)
	balance := metaInt(meta, "balance")
	return &models.RedemptionRecord{
		Id:             acct.Address,
		AccountId:      meta["account_id"],
		ItemId:         meta["item_id"],
		ItemName:       meta["item_name"],
		IdempotencyKey: meta["idempotency_key"],
		Status:         models.StatusFailed,
		FailureReason:  meta["reason"],
		BalanceBefore:  balance,
		BalanceAfter:   balance,
		Source:         meta["source"],
		CreatedAt:      created,
		CompletedAt:    created,
	}
}

// balanceAfter reads the student's coin balance from the transaction's
// post-commit volumes, falling back when the ledger did not expand them.
func balanceAfter(tx *shared.V2Transaction, accountId string, fallback int64) int64 {
	vols, ok := tx.PostCommitVolumes[studentAddress(accountId)]
	if !ok {
		return fallback
	}
	if bal := volumeBalance(vols, assetCoin); bal != nil {
		return bigToInt64(bal)
	}
	return fallback
}
