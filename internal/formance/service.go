package formance

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"coin-shop-ledger-go/internal/models"
	"coin-shop-ledger-go/internal/store"

	v3 "github.com/formancehq/formance-sdk-go/v3"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/sdkerrors"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Compile-time check: *Service must satisfy store.LedgerStore.
var _ store.LedgerStore = (*Service)(nil)

// Coins and stock units are integer assets (precision 0).
const (
	assetCoin = "COIN"
	assetUnit = "UNIT"
)

// Metadata entity types used to tell account kinds apart in list queries.
const (
	entityStudent          = "student"
	entityCatalogItem      = "catalog_item"
	entityCatalogStock     = "catalog_stock"
	entityFailedRedemption = "failed_redemption"
)

// Service implements store.LedgerStore backed by a Formance Stack ledger.
//
// Account layout:
//
//	students:{id}              coin balance, profile metadata
//	students:{id}:items        redeemed units
//	catalog:{id}               item metadata (name, price)
//	catalog:{id}:stock         remaining units
//	shop:revenue               coins spent in the shop
//	audit:redemptions:{id}:{k} failed redemption attempts
type Service struct {
	client *v3.Formance
	ledger string
}

// NewService creates a Formance-backed LedgerStore.
// It connects to the stack, creates the ledger if it doesn't already exist, and returns ready to use.
func NewService(ctx context.Context, cfg models.FormanceConfig) (*Service, error) {
	if cfg.StackURL == "" || cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("formance config requires StackURL, ClientID, and ClientSecret")
	}
	if cfg.LedgerName == "" {
		cfg.LedgerName = "coin-shop"
	}

	zap.L().Info("Connecting to Formance Stack",
		zap.String("stack_url", cfg.StackURL),
		zap.String("ledger", cfg.LedgerName))

	client := v3.New(
		v3.WithServerURL(cfg.StackURL),
		v3.WithSecurity(shared.Security{
			ClientID:     v3.Pointer(cfg.ClientID),
			ClientSecret: v3.Pointer(cfg.ClientSecret),
		}),
	)

	svc := &Service{client: client, ledger: cfg.LedgerName}

	if err := svc.ensureLedger(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure ledger exists: %w", classifyError(err))
	}

	zap.L().Info("Formance service initialized", zap.String("ledger", cfg.LedgerName))
	return svc, nil
}

// ensureLedger creates the ledger if it does not already exist.
func (s *Service) ensureLedger(ctx context.Context) error {
	_, err := s.client.Ledger.V2.CreateLedger(ctx, operations.V2CreateLedgerRequest{
		Ledger: s.ledger,
		V2CreateLedgerRequest: shared.V2CreateLedgerRequest{
			Metadata: map[string]string{
				"application": "coin-shop-ledger",
			},
		},
	})
	if err != nil {
		var apiErr *sdkerrors.V2ErrorResponse
		if errors.As(err, &apiErr) && apiErr.ErrorCode == shared.V2ErrorsEnumLedgerAlreadyExists {
			zap.L().Info("Ledger already exists", zap.String("ledger", s.ledger))
			return nil
		}
		return err
	}
	zap.L().Info("Ledger created", zap.String("ledger", s.ledger))
	return nil
}

// Ping issues the cheapest read the ledger offers.
func (s *Service) Ping(ctx context.Context) error {
	_, err := s.client.Ledger.V2.ListAccounts(ctx, operations.V2ListAccountsRequest{
		Ledger:   s.ledger,
		PageSize: ptrInt64(1),
	})
	if err != nil {
		return fmt.Errorf("formance ping failed: %w", classifyError(err))
	}
	return nil
}

// Close is a no-op for the Formance backend (HTTP client needs no teardown).
func (s *Service) Close() {}

// ---------- addresses ----------

func studentAddress(accountId string) string { return "students:" + accountId }
func itemAddress(itemId string) string       { return "catalog:" + itemId }
func stockAddress(itemId string) string      { return "catalog:" + itemId + ":stock" }

func failedRedemptionAddress(accountId, idempotencyKey string) string {
	return "audit:redemptions:" + accountId + ":" + keyDigest(idempotencyKey)
}

// redemptionReference is the transaction reference that makes a redemption idempotent.
func redemptionReference(accountId, idempotencyKey string) string {
	return "redeem:" + accountId + ":" + idempotencyKey
}

// keyDigest makes arbitrary client keys safe for use as an address segment.
func keyDigest(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:16])
}

// isTopLevel reports whether address is exactly prefix:{id}.
func isTopLevel(address, prefix string) bool {
	rest, ok := strings.CutPrefix(address, prefix+":")
	return ok && rest != "" && !strings.Contains(rest, ":")
}

// ---------- errors ----------

// classifyError maps network failures and server-side errors to store.ErrBackendUnavailable.
func classifyError(err error) error {
	if err == nil || errors.Is(err, store.ErrBackendUnavailable) {
		return err
	}
	if isTransient(err) {
		return fmt.Errorf("%w: %v", store.ErrBackendUnavailable, err)
	}
	return err
}

func isTransient(err error) bool {
	var apiErr *sdkerrors.V2ErrorResponse
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode == shared.V2ErrorsEnumInternal || apiErr.ErrorCode == shared.V2ErrorsEnumTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

// isConflictError checks whether a Formance SDK error is a CONFLICT (duplicate reference).
func isConflictError(err error) bool {
	var apiErr *sdkerrors.V2ErrorResponse
	return errors.As(err, &apiErr) && apiErr.ErrorCode == shared.V2ErrorsEnumConflict
}

// isNotFoundError checks whether a Formance SDK error is NOT_FOUND.
func isNotFoundError(err error) bool {
	var apiErr *sdkerrors.V2ErrorResponse
	return errors.As(err, &apiErr) && apiErr.ErrorCode == shared.V2ErrorsEnumNotFound
}

// isInsufficientFundError checks whether a posting was rejected for lack of funds.
func isInsufficientFundError(err error) bool {
	var apiErr *sdkerrors.V2ErrorResponse
	return errors.As(err, &apiErr) && apiErr.ErrorCode == shared.V2ErrorsEnumInsufficientFund
}

// ---------- volumes & metadata ----------

// getAccount fetches an account with its volumes. A missing account yields (nil, nil).
func (s *Service) getAccount(ctx context.Context, address string) (*shared.V2Account, error) {
	resp, err := s.client.Ledger.V2.GetAccount(ctx, operations.V2GetAccountRequest{
		Ledger:  s.ledger,
		Address: address,
		Expand:  v3.Pointer("volumes"),
	})
	if err != nil {
		if isNotFoundError(err) {
			return nil, nil
		}
		return nil, classifyError(err)
	}
	return &resp.V2AccountResponse.Data, nil
}

// balanceOf returns the balance of asset on address, zero when the account has no volumes.
func (s *Service) balanceOf(ctx context.Context, address, asset string) (int64, error) {
	acct, err := s.getAccount(ctx, address)
	if err != nil {
		return 0, err
	}
	if acct == nil {
		return 0, nil
	}
	return bigToInt64(volumeBalance(acct.Volumes, asset)), nil
}

// listAccounts pages through every account matching filter.
func (s *Service) listAccounts(ctx context.Context, filter map[string]any) ([]shared.V2Account, error) {
	var (
		accounts []shared.V2Account
		cursor   *string
	)
	for {
		req := operations.V2ListAccountsRequest{
			Ledger:      s.ledger,
			PageSize:    ptrInt64(100),
			Expand:      v3.Pointer("volumes"),
			RequestBody: filter,
		}
		if cursor != nil {
			req.Cursor = cursor
			req.RequestBody = nil
		}
		resp, err := s.client.Ledger.V2.ListAccounts(ctx, req)
		if err != nil {
			return nil, classifyError(err)
		}
		page := resp.V2AccountsCursorResponse.Cursor
		accounts = append(accounts, page.Data...)
		if !page.HasMore || page.Next == nil {
			return accounts, nil
		}
		cursor = page.Next
	}
}

// listTransactions pages through every transaction matching filter, newest first.
func (s *Service) listTransactions(ctx context.Context, filter map[string]any) ([]shared.V2Transaction, error) {
	var (
		txs    []shared.V2Transaction
		cursor *string
	)
	for {
		req := operations.V2ListTransactionsRequest{
			Ledger:      s.ledger,
			PageSize:    ptrInt64(100),
			Expand:      v3.Pointer("volumes"),
			RequestBody: filter,
		}
		if cursor != nil {
			req.Cursor = cursor
			req.RequestBody = nil
		}
		resp, err := s.client.Ledger.V2.ListTransactions(ctx, req)
		if err != nil {
			return nil, classifyError(err)
		}
		page := resp.V2TransactionsCursorResponse.Cursor
		txs = append(txs, page.Data...)
		if !page.HasMore || page.Next == nil {
			return txs, nil
		}
		cursor = page.Next
	}
}

// volumeBalance extracts the balance for a specific asset from volumes.
func volumeBalance(vols map[string]shared.V2Volume, asset string) *big.Int {
	vol, ok := vols[asset]
	if !ok {
		return nil
	}
	if vol.Balance != nil {
		return vol.Balance
	}
	if vol.Input == nil {
		return nil
	}
	result := new(big.Int).Set(vol.Input)
	if vol.Output != nil {
		result.Sub(result, vol.Output)
	}
	return result
}

// bigToInt64 converts a ledger amount of a precision-0 asset.
func bigToInt64(raw *big.Int) int64 {
	if raw == nil {
		return 0
	}
	return decimal.NewFromBigInt(raw, 0).IntPart()
}

func metaInt(meta map[string]string, key string) int64 {
	v, err := strconv.ParseInt(meta[key], 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func metaTime(meta map[string]string, key string, fallback *time.Time) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, meta[key]); err == nil {
		return t
	}
	if fallback != nil {
		return *fallback
	}
	return time.Time{}
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func strPtr(s string) *string { return &s }
func ptrInt64(v int64) *int64 { return &v }
