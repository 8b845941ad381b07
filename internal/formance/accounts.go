package formance

import (
	"context"
	"errors"
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

// ---------- Account CRUD ----------

func (s *Service) CreateAccount(ctx context.Context, params store.CreateAccountParams) (*models.Account, error) {
	if params.Coins < 0 || params.TotalXp < 0 {
		return nil, fmt.Errorf("opening coins and xp cannot be negative")
	}
	if params.Id == "" {
		params.Id = uuid.New().String()
	}
	role := params.Role
	if role == "" {
		role = models.RoleStudent
	}
	email := strings.ToLower(strings.TrimSpace(params.Email))

	// Reject duplicates by email.
	existing, err := s.GetAccountByEmail(ctx, email)
	if err == nil && existing != nil {
		zap.L().Info("Account with this email already exists in Formance",
			zap.String("existing_id", existing.Id),
			zap.String("email", email))
		return nil, fmt.Errorf("%w: %s", store.ErrAccountExists, email)
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	addr := studentAddress(params.Id)
	now := time.Now().UTC()
	rank := models.RankForXp(params.TotalXp)
	zap.L().Info("Creating account in Formance", zap.String("address", addr), zap.String("email", email))

	_, err = s.client.Ledger.V2.AddMetadataToAccount(ctx, operations.V2AddMetadataToAccountRequest{
		Ledger:  s.ledger,
		Address: addr,
		RequestBody: map[string]string{
			"entity_type":     entityStudent,
			"name":            params.FullName,
			"email":           email,
			"role":            string(role),
			"xp":              strconv.FormatInt(params.TotalXp, 10),
			"rank":            string(rank),
			"events_attended": "0",
			"created_at":      formatTime(now),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", classifyError(err))
	}

	if params.Coins > 0 {
		if _, err := s.credit(ctx, params.Id, params.Coins, "opening:"+params.Id, "opening_balance", "opening balance"); err != nil {
			return nil, err
		}
	}

	return s.GetAccount(ctx, params.Id)
}

func (s *Service) GetAccount(ctx context.Context, accountId string) (*models.Account, error) {
	acct, err := s.getAccount(ctx, studentAddress(accountId))
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	if acct == nil || acct.Metadata["entity_type"] != entityStudent {
		return nil, fmt.Errorf("%w: %s", store.ErrAccountNotFound, accountId)
	}
	return accountFromV2(acct), nil
}

func (s *Service) GetAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	accounts, err := s.listAccounts(ctx, map[string]any{
		"$match": map[string]any{
			"metadata[email]": email,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search account by email: %w", err)
	}

	for i := range accounts {
		if isTopLevel(accounts[i].Address, "students") {
			return accountFromV2(&accounts[i]), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", store.ErrAccountNotFound, email)
}

func (s *Service) GetAccounts(ctx context.Context) ([]models.Account, error) {
	accounts, err := s.listStudents(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(accounts, func(i, j int) bool {
		return accounts[i].CreatedAt.Before(accounts[j].CreatedAt)
	})
	return accounts, nil
}

func (s *Service) listStudents(ctx context.Context) ([]models.Account, error) {
	raw, err := s.listAccounts(ctx, map[string]any{
		"$match": map[string]any{
			"metadata[entity_type]": entityStudent,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	var accounts []models.Account
	for i := range raw {
		// Only top-level student accounts (students:{id}, not students:{id}:items).
		if isTopLevel(raw[i].Address, "students") {
			accounts = append(accounts, *accountFromV2(&raw[i]))
		}
	}
	return accounts, nil
}

// AwardCoins mints coins from @world and raises XP. Reference deduplicates
// both the coin transaction and the XP update through a marker on the account.
func (s *Service) AwardCoins(ctx context.Context, params store.AwardParams) (*models.CoinTransaction, error) {
	if params.Coins < 0 || params.Xp < 0 || params.Events < 0 {
		return nil, fmt.Errorf("award amounts cannot be negative")
	}
	if params.Coins == 0 && params.Xp == 0 && params.Events == 0 {
		return nil, fmt.Errorf("award must grant coins, xp or events")
	}

	acct, err := s.getAccount(ctx, studentAddress(params.AccountId))
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	if acct == nil || acct.Metadata["entity_type"] != entityStudent {
		return nil, fmt.Errorf("%w: %s", store.ErrAccountNotFound, params.AccountId)
	}

	marker := ""
	if params.Reference != "" {
		marker = "award_" + keyDigest(params.Reference)
		if acct.Metadata[marker] != "" {
			return nil, fmt.Errorf("%w: reference %s already exists", store.ErrDuplicateTransaction, params.Reference)
		}
	}

	reason := params.Reason
	if reason == "" {
		reason = "award"
	}
	reference := params.Reference
	if reference == "" {
		reference = "award:" + uuid.New().String()
	}

	entry := &models.CoinTransaction{
		Id:        reference,
		AccountId: params.AccountId,
		Amount:    params.Coins,
		Reason:    reason,
		Reference: params.Reference,
		CreatedAt: time.Now().UTC(),
	}
	if params.Coins > 0 {
		tx, err := s.credit(ctx, params.AccountId, params.Coins, reference, "award", reason)
		if err != nil {
			return nil, err
		}
		entry.Id = tx.ID.String()
		entry.CreatedAt = tx.Timestamp
	}

	totalXp := metaInt(acct.Metadata, "xp") + params.Xp
	meta := map[string]string{
		"xp":   strconv.FormatInt(totalXp, 10),
		"rank": string(models.RankForXp(totalXp)),
	}
	if params.Events > 0 {
		meta["events_attended"] = strconv.FormatInt(metaInt(acct.Metadata, "events_attended")+params.Events, 10)
	}
	if marker != "" {
		meta[marker] = formatTime(entry.CreatedAt)
	}
	_, err = s.client.Ledger.V2.AddMetadataToAccount(ctx, operations.V2AddMetadataToAccountRequest{
		Ledger:      s.ledger,
		Address:     studentAddress(params.AccountId),
		RequestBody: meta,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update xp: %w", classifyError(err))
	}

	zap.L().Info("Award recorded in Formance",
		zap.String("account_id", params.AccountId),
		zap.Int64("coins", params.Coins),
		zap.Int64("total_xp", totalXp))
	return entry, nil
}

// credit posts numscriptCredit. A reused reference maps to ErrDuplicateTransaction.
func (s *Service) credit(ctx context.Context, accountId string, amount int64, reference, eventType, reason string) (*shared.V2Transaction, error) {
	resp, err := s.client.Ledger.V2.CreateTransaction(ctx, operations.V2CreateTransactionRequest{
		Ledger: s.ledger,
		V2PostTransaction: shared.V2PostTransaction{
			Reference: strPtr(reference),
			Script: &shared.V2PostTransactionScript{
				Plain: numscriptCredit,
				Vars: map[string]string{
					"account_id":  accountId,
					"amount":      strconv.FormatInt(amount, 10),
					"account_key": accountId,
					"event_type":  eventType,
					"reason":      reason,
				},
			},
		},
	})
	if err != nil {
		if isConflictError(err) {
			return nil, fmt.Errorf("%w: reference %s already exists", store.ErrDuplicateTransaction, reference)
		}
		return nil, fmt.Errorf("failed to credit account: %w", classifyError(err))
	}
	return &resp.V2CreateTransactionResponse.Data, nil
}

// ReconcileAccountBalance recomputes the coin balance from every posting that
// touches the student account and compares it with the ledger's volume.
func (s *Service) ReconcileAccountBalance(ctx context.Context, accountId string) error {
	addr := studentAddress(accountId)
	account, err := s.GetAccount(ctx, accountId)
	if err != nil {
		return err
	}

	txs, err := s.listTransactions(ctx, map[string]any{
		"$or": []any{
			map[string]any{"$match": map[string]any{"source": addr}},
			map[string]any{"$match": map[string]any{"destination": addr}},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to list transactions: %w", err)
	}

	var calculated int64
	for _, tx := range txs {
		calculated += postingsDelta(tx.Postings, addr, assetCoin)
	}

	if account.Coins != calculated || account.Coins < 0 {
		zap.L().Error("Balance reconciliation failed",
			zap.String("account_id", accountId),
			zap.Int64("current_balance", account.Coins),
			zap.Int64("calculated_balance", calculated))
		return fmt.Errorf("%w: current=%d, calculated=%d", store.ErrBalanceMismatch, account.Coins, calculated)
	}
	return nil
}

// postingsDelta is the signed movement of asset on address across postings.
func postingsDelta(postings []shared.V2Posting, address, asset string) int64 {
	var delta int64
	for _, p := range postings {
		if p.Asset != asset {
			continue
		}
		amt := bigToInt64(p.Amount)
		if p.Destination == address {
			delta += amt
		}
		if p.Source == address {
			delta -= amt
		}
	}
	return delta
}

// ---------- helpers ----------

func accountFromV2(acct *shared.V2Account) *models.Account {
	meta := acct.Metadata
	created := metaTime(meta, "created_at", acct.FirstUsage)
	updated := created
	if acct.UpdatedAt != nil {
		updated = *acct.UpdatedAt
	}

	role, err := models.ParseRole(meta["role"])
	if err != nil {
		role = models.RoleStudent
	}
	rank, err := models.ParseRank(meta["rank"])
	if err != nil {
		rank = models.RankForXp(metaInt(meta, "xp"))
	}

	return &models.Account{
		Id:             strings.TrimPrefix(acct.Address, "students:"),
		FullName:       meta["name"],
		Email:          meta["email"],
		Role:           role,
		Coins:          bigToInt64(volumeBalance(acct.Volumes, assetCoin)),
		TotalXp:        metaInt(meta, "xp"),
		Rank:           rank,
		EventsAttended: metaInt(meta, "events_attended"),
		CreatedAt:      created,
		UpdatedAt:      updated,
	}
}
