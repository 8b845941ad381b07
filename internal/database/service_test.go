package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"testing"

	"coin-shop-ledger-go/internal/models"
	"coin-shop-ledger-go/internal/store"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

func TestDialectRebind(t *testing.T) {
	query := "UPDATE accounts SET coins = coins - ? WHERE id = ? AND coins >= ?"

	if got := (dialect{driver: driverSqlite}).q(query); got != query {
		t.Errorf("SQLite query should be unchanged, got %q", got)
	}

	want := "UPDATE accounts SET coins = coins - $1 WHERE id = $2 AND coins >= $3"
	if got := (dialect{driver: driverPostgres}).q(query); got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

func TestSnapshotTxOptions(t *testing.T) {
	if opts := (dialect{driver: driverSqlite}).snapshotTx(); opts != nil {
		t.Errorf("SQLite should use default options, got %+v", opts)
	}

	opts := (dialect{driver: driverPostgres}).snapshotTx()
	if opts == nil {
		t.Fatal("Postgres should request snapshot isolation")
	}
	if opts.Isolation != sql.LevelRepeatableRead || !opts.ReadOnly {
		t.Errorf("Expected read-only repeatable read, got %+v", opts)
	}
}

func TestDataSourceName(t *testing.T) {
	dsn, err := dataSourceName(driverSqlite, models.DatabaseConfig{Path: "ledger.db"})
	if err != nil {
		t.Fatalf("dataSourceName failed: %v", err)
	}
	for _, opt := range []string{"_txlock=immediate", "_busy_timeout=5000", "_journal_mode=WAL"} {
		if !strings.Contains(dsn, opt) {
			t.Errorf("Expected %s in %q", opt, dsn)
		}
	}

	if _, err := dataSourceName(driverPostgres, models.DatabaseConfig{}); err == nil {
		t.Error("Expected error for empty postgres url")
	}
	if _, err := driverFor("mysql"); err == nil {
		t.Error("Expected error for unsupported driver")
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{"sqlite busy", sqlite3.Error{Code: sqlite3.ErrBusy}, true},
		{"sqlite locked", sqlite3.Error{Code: sqlite3.ErrLocked}, true},
		{"sqlite constraint", sqlite3.Error{Code: sqlite3.ErrConstraint}, false},
		{"pg serialization", &pq.Error{Code: "40001"}, true},
		{"pg deadlock", &pq.Error{Code: "40P01"}, true},
		{"pg connection", &pq.Error{Code: "08006"}, true},
		{"pg shutdown", &pq.Error{Code: "57P01"}, true},
		{"pg unique", &pq.Error{Code: "23505"}, false},
		{"bad conn", fmt.Errorf("query: %w", driver.ErrBadConn), true},
		{"plain", errors.New("syntax error"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := errors.Is(classifyError(tt.err), store.ErrBackendUnavailable)
			if got != tt.transient {
				t.Errorf("classifyError(%v) transient = %v, want %v", tt.err, got, tt.transient)
			}
		})
	}

	if classifyError(nil) != nil {
		t.Error("classifyError(nil) should be nil")
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if !isUniqueViolation(sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique}) {
		t.Error("Expected sqlite unique constraint to be detected")
	}
	if !isUniqueViolation(&pq.Error{Code: "23505"}) {
		t.Error("Expected postgres unique_violation to be detected")
	}
	if isUniqueViolation(&pq.Error{Code: "23503"}) {
		t.Error("Foreign key violation is not a unique violation")
	}
}

func TestCreateAccount(t *testing.T) {
	s := setupTestDb(t)
	ctx := context.Background()

	account, err := s.CreateAccount(ctx, store.CreateAccountParams{
		FullName: "Mia Chen",
		Email:    "Mia.Chen@Example.com",
		Coins:    250,
		TotalXp:  2600,
	})
	if err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
	if account.Rank != models.RankGold {
		t.Errorf("Expected rank gold for 2600 xp, got %s", account.Rank)
	}
	if account.Role != models.RoleStudent {
		t.Errorf("Expected default role student, got %s", account.Role)
	}

	byEmail, err := s.GetAccountByEmail(ctx, "mia.chen@example.com")
	if err != nil {
		t.Fatalf("GetAccountByEmail failed: %v", err)
	}
	if byEmail.Id != account.Id || byEmail.Coins != 250 {
		t.Errorf("Unexpected account: %+v", byEmail)
	}

	_, err = s.CreateAccount(ctx, store.CreateAccountParams{FullName: "Other", Email: "MIA.CHEN@example.com"})
	if !errors.Is(err, store.ErrAccountExists) {
		t.Errorf("Expected ErrAccountExists, got %v", err)
	}

	if err := s.ReconcileAccountBalance(ctx, account.Id); err != nil {
		t.Errorf("Opening balance should be journaled: %v", err)
	}

	if _, err := s.GetAccount(ctx, "nobody"); !errors.Is(err, store.ErrAccountNotFound) {
		t.Errorf("Expected ErrAccountNotFound, got %v", err)
	}
}

func TestAwardCountsEvents(t *testing.T) {
	s := setupTestDb(t)
	ctx := context.Background()

	account := createAccount(t, s, "omar", 10)

	entry, err := s.AwardCoins(ctx, store.AwardParams{AccountId: account.Id, Events: 1, Reason: "meetup"})
	if err != nil {
		t.Fatalf("Events-only award failed: %v", err)
	}
	if entry.Amount != 0 {
		t.Errorf("Expected zero journal amount, got %d", entry.Amount)
	}
	if _, err := s.AwardCoins(ctx, store.AwardParams{AccountId: account.Id, Coins: 5, Events: 2}); err != nil {
		t.Fatalf("Award failed: %v", err)
	}

	updated, err := s.GetAccount(ctx, account.Id)
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	if updated.EventsAttended != 3 || updated.Coins != 15 {
		t.Errorf("Expected 3 events and 15 coins, got events=%d coins=%d", updated.EventsAttended, updated.Coins)
	}

	if _, err := s.AwardCoins(ctx, store.AwardParams{AccountId: account.Id, Events: -1}); err == nil {
		t.Error("Expected error for negative events")
	}
	if err := s.ReconcileAccountBalance(ctx, account.Id); err != nil {
		t.Errorf("Reconcile after events award failed: %v", err)
	}
}

func TestAwardCoins(t *testing.T) {
	s := setupTestDb(t)
	ctx := context.Background()

	account := createAccount(t, s, "nina", 10)

	entry, err := s.AwardCoins(ctx, store.AwardParams{
		AccountId: account.Id,
		Coins:     90,
		Xp:        1500,
		Reason:    "hackathon",
		Reference: "event:hackathon:nina",
	})
	if err != nil {
		t.Fatalf("AwardCoins failed: %v", err)
	}
	if entry.Amount != 90 {
		t.Errorf("Expected journal amount 90, got %d", entry.Amount)
	}

	updated, err := s.GetAccount(ctx, account.Id)
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	if updated.Coins != 100 || updated.TotalXp != 1500 || updated.Rank != models.RankSilver {
		t.Errorf("Unexpected account after award: coins=%d xp=%d rank=%s", updated.Coins, updated.TotalXp, updated.Rank)
	}

	_, err = s.AwardCoins(ctx, store.AwardParams{AccountId: account.Id, Coins: 90, Reference: "event:hackathon:nina"})
	if !errors.Is(err, store.ErrDuplicateTransaction) {
		t.Errorf("Expected ErrDuplicateTransaction, got %v", err)
	}
	requireBalance(t, s, account.Id, 100)

	_, err = s.AwardCoins(ctx, store.AwardParams{AccountId: "ghost", Coins: 5})
	if !errors.Is(err, store.ErrAccountNotFound) {
		t.Errorf("Expected ErrAccountNotFound, got %v", err)
	}

	if err := s.ReconcileAccountBalance(ctx, account.Id); err != nil {
		t.Errorf("Reconcile failed: %v", err)
	}
}

func TestReconcileDetectsDrift(t *testing.T) {
	s := setupTestDb(t)
	ctx := context.Background()

	account := createAccount(t, s, "oscar", 100)
	if _, err := s.db.ExecContext(ctx, "UPDATE accounts SET coins = 120 WHERE id = ?", account.Id); err != nil {
		t.Fatalf("Failed to tamper with balance: %v", err)
	}

	err := s.ReconcileAccountBalance(ctx, account.Id)
	if !errors.Is(err, store.ErrBalanceMismatch) {
		t.Errorf("Expected ErrBalanceMismatch, got %v", err)
	}
}

func TestCatalogListingAndRestock(t *testing.T) {
	s := setupTestDb(t)
	ctx := context.Background()

	createItem(t, s, "Hoodie", 300, 2)
	soldOut := createItem(t, s, "Cap", 80, 0)
	createItem(t, s, "Sticker", 15, 50)

	all, err := s.ListCatalog(ctx, false)
	if err != nil {
		t.Fatalf("ListCatalog failed: %v", err)
	}
	if len(all) != 3 || all[0].Name != "Sticker" || all[2].Name != "Hoodie" {
		t.Fatalf("Expected catalog ordered by price, got %+v", all)
	}

	inStock, err := s.ListCatalog(ctx, true)
	if err != nil {
		t.Fatalf("ListCatalog failed: %v", err)
	}
	if len(inStock) != 2 {
		t.Errorf("Expected 2 in-stock items, got %d", len(inStock))
	}

	restocked, err := s.Restock(ctx, soldOut.Id, 4)
	if err != nil {
		t.Fatalf("Restock failed: %v", err)
	}
	if restocked.Stock != 4 {
		t.Errorf("Expected stock 4, got %d", restocked.Stock)
	}

	if _, err := s.Restock(ctx, "missing", 1); !errors.Is(err, store.ErrItemNotFound) {
		t.Errorf("Expected ErrItemNotFound, got %v", err)
	}
	if _, err := s.CreateCatalogItem(ctx, store.CreateCatalogItemParams{Name: "Free", CoinPrice: 0}); err == nil {
		t.Error("Expected error for zero price")
	}

	_, err = s.CreateCatalogItem(ctx, store.CreateCatalogItemParams{Id: soldOut.Id, Name: "Cap again", CoinPrice: 80})
	if !errors.Is(err, store.ErrItemExists) {
		t.Errorf("Expected ErrItemExists, got %v", err)
	}
}

func TestLeaderboardAndStats(t *testing.T) {
	s := setupTestDb(t)
	ctx := context.Background()

	rich := createAccount(t, s, "pat", 900)
	createAccount(t, s, "quinn", 400)
	createAccount(t, s, "ray", 650)
	if _, err := s.CreateAccount(ctx, store.CreateAccountParams{FullName: "Admin", Email: "admin@example.com", Role: models.RoleAdmin, Coins: 5000}); err != nil {
		t.Fatalf("CreateAccount admin failed: %v", err)
	}

	item := createItem(t, s, "Jacket", 500, 1)
	if _, err := s.Redeem(ctx, store.RedeemParams{AccountId: rich.Id, ItemId: item.Id, IdempotencyKey: "k1"}); err != nil {
		t.Fatalf("Redeem failed: %v", err)
	}
	if _, err := s.Redeem(ctx, store.RedeemParams{AccountId: rich.Id, ItemId: item.Id, IdempotencyKey: "k2"}); !errors.Is(err, store.ErrOutOfStock) {
		t.Fatalf("Expected ErrOutOfStock, got %v", err)
	}

	board, err := s.GetLeaderboard(ctx, 2)
	if err != nil {
		t.Fatalf("GetLeaderboard failed: %v", err)
	}
	if len(board) != 2 || board[0].FullName != "ray" || board[0].Position != 1 || board[1].FullName != "pat" {
		t.Errorf("Unexpected leaderboard: %+v", board)
	}

	stats, err := s.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	want := models.Stats{
		TotalStudents:           3,
		TotalCoinsInCirculation: 400 + 400 + 650,
		CatalogItems:            1,
		ItemsInStock:            0,
		CompletedRedemptions:    1,
		FailedRedemptions:       1,
		CoinsSpent:              500,
	}
	if *stats != want {
		t.Errorf("Expected stats %+v, got %+v", want, *stats)
	}
}
