package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"coin-shop-ledger-go/internal/api"
	"coin-shop-ledger-go/internal/database"
	"coin-shop-ledger-go/internal/models"
	"coin-shop-ledger-go/internal/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupServer(t *testing.T) (*Server, *database.Service) {
	t.Helper()
	return setupServerWithRegistry(t, prometheus.NewRegistry())
}

func setupServerWithRegistry(t *testing.T, reg *prometheus.Registry) (*Server, *database.Service) {
	t.Helper()
	ctx := context.Background()

	db, err := database.NewService(ctx, models.DatabaseConfig{
		Driver:       models.BackendSqlite,
		Path:         filepath.Join(t.TempDir(), "ledger.db"),
		MaxOpenConns: 4,
		MaxIdleConns: 4,
		PingTimeout:  5 * time.Second,
		BusyTimeout:  10 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(db.Close)

	_, err = db.CreateAccount(ctx, store.CreateAccountParams{Id: "alice", FullName: "Alice", Email: "alice@example.com", Coins: 100})
	require.NoError(t, err)
	_, err = db.CreateAccount(ctx, store.CreateAccountParams{Id: "root", FullName: "Root", Email: "root@example.com", Role: models.RoleAdmin})
	require.NoError(t, err)
	_, err = db.CreateCatalogItem(ctx, store.CreateCatalogItemParams{Id: "mug", Name: "Mug", CoinPrice: 60, Stock: 1})
	require.NoError(t, err)
	_, err = db.CreateCatalogItem(ctx, store.CreateCatalogItemParams{Id: "sticker", Name: "Sticker", CoinPrice: 5, Stock: 0})
	require.NoError(t, err)

	ledger := api.NewLedgerService(db, models.RedemptionConfig{
		OperationTimeout: 5 * time.Second,
		RetryInitial:     time.Millisecond,
		RetryMaxElapsed:  time.Second,
	}, api.MustNewMetrics(reg))

	srv, err := New(ledger, 16)
	require.NoError(t, err)
	return srv, db
}

func do(t *testing.T, srv *Server, method, path, account string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if account != "" {
		req.Header.Set(AccountHeader, account)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func redeem(t *testing.T, srv *Server, account, item, key string) *httptest.ResponseRecorder {
	return do(t, srv, http.MethodPost, "/v1/redemptions", account, redeemRequest{ItemId: item},
		map[string]string{IdempotencyKeyHeader: key})
}

// redemptionCount reads the redemptions counter for one outcome label.
func redemptionCount(t *testing.T, reg *prometheus.Registry, outcome string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != "coin_shop_ledger_redemptions_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "outcome" && label.GetValue() == outcome {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestRedeemEndpoint(t *testing.T) {
	srv, db := setupServer(t)

	rec := redeem(t, srv, "alice", "mug", "order-1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp redemptionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(40), resp.Balance)
	assert.Equal(t, models.StatusCompleted, resp.Redemption.Status)
	assert.Empty(t, rec.Header().Get(ReplayedHeader))

	// Same key again: served from the replay cache, same record.
	again := redeem(t, srv, "alice", "mug", "order-1")
	require.Equal(t, http.StatusOK, again.Code)
	assert.Equal(t, "true", again.Header().Get(ReplayedHeader))

	var replayed redemptionResponse
	require.NoError(t, json.Unmarshal(again.Body.Bytes(), &replayed))
	assert.Equal(t, resp.Redemption.Id, replayed.Redemption.Id)

	account, err := db.GetAccount(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(40), account.Coins, "replay must not charge twice")
}

func TestRedeemReplayWithoutCache(t *testing.T) {
	srv, _ := setupServer(t)

	require.Equal(t, http.StatusCreated, redeem(t, srv, "alice", "mug", "order-1").Code)
	srv.replay.entries.Purge()

	again := redeem(t, srv, "alice", "mug", "order-1")
	require.Equal(t, http.StatusOK, again.Code)
	assert.Equal(t, "true", again.Header().Get(ReplayedHeader))
}

func TestReplayCacheScopedToAccount(t *testing.T) {
	srv, db := setupServer(t)
	ctx := context.Background()

	for _, id := range []string{"bob:x", "bob"} {
		_, err := db.CreateAccount(ctx, store.CreateAccountParams{Id: id, FullName: "Bob", Email: id + "@example.com", Coins: 100})
		require.NoError(t, err)
	}
	restocked := do(t, srv, http.MethodPost, "/v1/admin/catalog/mug/restock", "root", restockRequest{Quantity: 5}, nil)
	require.Equal(t, http.StatusOK, restocked.Code, restocked.Body.String())

	require.Equal(t, http.StatusCreated, redeem(t, srv, "bob:x", "mug", "k1").Code)

	// "bob:x"+"k1" and "bob"+"x:k1" must not share a cache slot.
	rec := redeem(t, srv, "bob", "mug", "x:k1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Empty(t, rec.Header().Get(ReplayedHeader))

	var resp redemptionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(40), resp.Balance)

	account, err := db.GetAccount(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(40), account.Coins)
	assert.Equal(t, 2, srv.replay.size())
}

func TestReplayCacheLookupChecksAccount(t *testing.T) {
	cache, err := newReplayCache(4)
	require.NoError(t, err)

	cache.remember(&models.RedemptionRecord{
		Id:             "r-1",
		AccountId:      "bob:x",
		ItemId:         "mug",
		IdempotencyKey: "k1",
		Status:         models.StatusCompleted,
	}, nil)

	_, ok := cache.lookup("bob", "x:k1")
	assert.False(t, ok)
	_, ok = cache.lookup("bob:x", "k1")
	assert.True(t, ok)
}

func TestCachedKeyConflictIsCounted(t *testing.T) {
	reg := prometheus.NewRegistry()
	srv, _ := setupServerWithRegistry(t, reg)

	require.Equal(t, http.StatusCreated, redeem(t, srv, "alice", "mug", "k-1").Code)
	require.Equal(t, 1, srv.replay.size())

	rec := redeem(t, srv, "alice", "sticker", "k-1")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, float64(1), redemptionCount(t, reg, api.OutcomeConflict))
	assert.Equal(t, float64(1), redemptionCount(t, reg, api.OutcomeCompleted))
}

func TestRedeemErrorMapping(t *testing.T) {
	srv, _ := setupServer(t)

	rec := redeem(t, srv, "alice", "sticker", "k-oos")
	assert.Equal(t, http.StatusConflict, rec.Code)
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, api.OutcomeOutOfStock, body.Error.Code)
	require.NotNil(t, body.Redemption)
	assert.Equal(t, models.StatusFailed, body.Redemption.Status)

	assert.Equal(t, http.StatusNotFound, redeem(t, srv, "alice", "ghost", "k-missing").Code)
	assert.Equal(t, http.StatusUnprocessableEntity, redeem(t, srv, "alice", "mug", "k-oos").Code)

	require.Equal(t, http.StatusCreated, redeem(t, srv, "alice", "mug", "k-1").Code)
	_, err := srv.ledger.Restock(context.Background(), "mug", 1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusPaymentRequired, redeem(t, srv, "alice", "mug", "k-2").Code)

	missingKey := do(t, srv, http.MethodPost, "/v1/redemptions", "alice", redeemRequest{ItemId: "mug"}, nil)
	assert.Equal(t, http.StatusBadRequest, missingKey.Code)
}

func TestFailedRedemptionReplaysError(t *testing.T) {
	srv, _ := setupServer(t)

	first := redeem(t, srv, "alice", "sticker", "k-1")
	require.Equal(t, http.StatusConflict, first.Code)
	assert.Equal(t, 1, srv.replay.size())

	second := redeem(t, srv, "alice", "sticker", "k-1")
	assert.Equal(t, http.StatusConflict, second.Code)
	assert.Equal(t, "true", second.Header().Get(ReplayedHeader))
}

func TestIdentityAndAdmin(t *testing.T) {
	srv, _ := setupServer(t)

	assert.Equal(t, http.StatusUnauthorized, do(t, srv, http.MethodGet, "/v1/me", "", nil, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, srv, http.MethodGet, "/v1/me", "nobody", nil, nil).Code)
	assert.Equal(t, http.StatusForbidden, do(t, srv, http.MethodGet, "/v1/admin/stats", "alice", nil, nil).Code)

	me := do(t, srv, http.MethodGet, "/v1/me", "alice", nil, nil)
	require.Equal(t, http.StatusOK, me.Code)
	var view models.AccountView
	require.NoError(t, json.Unmarshal(me.Body.Bytes(), &view))
	assert.Equal(t, int64(100), view.Coins)
	assert.Equal(t, models.RankBronze, view.Progress.Rank)

	stats := do(t, srv, http.MethodGet, "/v1/admin/stats", "root", nil, nil)
	require.Equal(t, http.StatusOK, stats.Code)
	var s models.Stats
	require.NoError(t, json.Unmarshal(stats.Body.Bytes(), &s))
	assert.Equal(t, int64(1), s.TotalStudents)
	assert.Equal(t, int64(2), s.CatalogItems)
}

func TestCatalogAndAdminFlows(t *testing.T) {
	srv, _ := setupServer(t)

	rec := do(t, srv, http.MethodGet, "/v1/catalog", "alice", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var catalog struct {
		Items []models.CatalogItemView `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &catalog))
	require.Len(t, catalog.Items, 1, "sold out items are hidden by default")
	assert.Equal(t, "mug", catalog.Items[0].Id)

	created := do(t, srv, http.MethodPost, "/v1/admin/catalog", "root",
		createItemRequest{Id: "hoodie", Name: "Hoodie", CoinPrice: 300, Stock: 2}, nil)
	require.Equal(t, http.StatusCreated, created.Code, created.Body.String())
	duplicate := do(t, srv, http.MethodPost, "/v1/admin/catalog", "root",
		createItemRequest{Id: "mug", Name: "Mug", CoinPrice: 60, Stock: 1}, nil)
	assert.Equal(t, http.StatusConflict, duplicate.Code, duplicate.Body.String())

	restocked := do(t, srv, http.MethodPost, "/v1/admin/catalog/sticker/restock", "root", restockRequest{Quantity: 10}, nil)
	require.Equal(t, http.StatusOK, restocked.Code)
	var item models.CatalogItemView
	require.NoError(t, json.Unmarshal(restocked.Body.Bytes(), &item))
	assert.Equal(t, int64(10), item.Stock)

	award := do(t, srv, http.MethodPost, "/v1/admin/accounts/alice/awards", "root",
		awardRequest{Coins: 50, Xp: 1200, Reason: "hackathon", Reference: "hack-1"}, nil)
	require.Equal(t, http.StatusCreated, award.Code, award.Body.String())
	dup := do(t, srv, http.MethodPost, "/v1/admin/accounts/alice/awards", "root",
		awardRequest{Coins: 50, Reference: "hack-1"}, nil)
	assert.Equal(t, http.StatusConflict, dup.Code)

	attended := do(t, srv, http.MethodPost, "/v1/admin/accounts/alice/awards", "root",
		awardRequest{Events: 1, Reason: "guest lecture"}, nil)
	require.Equal(t, http.StatusCreated, attended.Code, attended.Body.String())
	me := do(t, srv, http.MethodGet, "/v1/me", "alice", nil, nil)
	require.Equal(t, http.StatusOK, me.Code)
	var view models.AccountView
	require.NoError(t, json.Unmarshal(me.Body.Bytes(), &view))
	assert.Equal(t, int64(1), view.EventsAttended)
	assert.Equal(t, int64(150), view.Coins)

	newAccount := do(t, srv, http.MethodPost, "/v1/admin/accounts", "root",
		createAccountRequest{FullName: "Bob", Email: "bob@example.com", Coins: 20}, nil)
	require.Equal(t, http.StatusCreated, newAccount.Code, newAccount.Body.String())
	badAccount := do(t, srv, http.MethodPost, "/v1/admin/accounts", "root",
		createAccountRequest{FullName: "Bob", Email: "nope"}, nil)
	assert.Equal(t, http.StatusBadRequest, badAccount.Code)

	reconcile := do(t, srv, http.MethodPost, "/v1/admin/accounts/alice/reconcile", "root", nil, nil)
	assert.Equal(t, http.StatusOK, reconcile.Code)
}

func TestHistoryAndLeaderboard(t *testing.T) {
	srv, _ := setupServer(t)
	require.Equal(t, http.StatusCreated, redeem(t, srv, "alice", "mug", "k-1").Code)
	require.Equal(t, http.StatusConflict, redeem(t, srv, "alice", "sticker", "k-2").Code)

	rec := do(t, srv, http.MethodGet, "/v1/redemptions?limit=10", "alice", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history struct {
		Redemptions []models.RedemptionView `json:"redemptions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	assert.Len(t, history.Redemptions, 2)

	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodGet, "/v1/redemptions?limit=abc", "alice", nil, nil).Code)

	// Limits above the page cap are clamped, not reset to the default.
	wide := do(t, srv, http.MethodGet, "/v1/redemptions?limit=500", "alice", nil, nil)
	require.Equal(t, http.StatusOK, wide.Code)
	require.NoError(t, json.Unmarshal(wide.Body.Bytes(), &history))
	assert.Len(t, history.Redemptions, 2)

	board := do(t, srv, http.MethodGet, "/v1/leaderboard", "alice", nil, nil)
	require.Equal(t, http.StatusOK, board.Code)
	var lb struct {
		Leaderboard []models.LeaderboardEntry `json:"leaderboard"`
	}
	require.NoError(t, json.Unmarshal(board.Body.Bytes(), &lb))
	require.Len(t, lb.Leaderboard, 1)
	assert.Equal(t, int64(40), lb.Leaderboard[0].Coins)

	wideBoard := do(t, srv, http.MethodGet, "/v1/leaderboard?limit=500", "alice", nil, nil)
	require.Equal(t, http.StatusOK, wideBoard.Code)
	require.NoError(t, json.Unmarshal(wideBoard.Body.Bytes(), &lb))
	assert.Len(t, lb.Leaderboard, 1)
}

func TestHealthz(t *testing.T) {
	srv, _ := setupServer(t)
	assert.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/healthz", "", nil, nil).Code)
}
