package config

import (
	"testing"
	"time"

	"coin-shop-ledger-go/internal/models"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LEDGER_BACKEND", "")
	t.Setenv("REDEEM_OPERATION_TIMEOUT", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Backend != models.BackendSqlite || cfg.Database.Driver != models.BackendSqlite {
		t.Errorf("Expected sqlite backend by default, got %s/%s", cfg.Backend, cfg.Database.Driver)
	}
	if cfg.Redemption.OperationTimeout != 10*time.Second {
		t.Errorf("Expected 10s operation timeout, got %v", cfg.Redemption.OperationTimeout)
	}
	if cfg.Server.Addr == "" || cfg.Reconciler.Workers <= 0 {
		t.Errorf("Expected server and reconciler defaults, got %+v %+v", cfg.Server, cfg.Reconciler)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("LEDGER_BACKEND", "postgres")
	t.Setenv("DATABASE_URL", "postgres://ledger@localhost/ledger?sslmode=disable")
	t.Setenv("REDEEM_RETRY_MAX_ELAPSED", "750ms")
	t.Setenv("RECONCILE_WORKERS", "9")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Database.Driver != models.BackendPostgres {
		t.Errorf("Expected postgres driver, got %s", cfg.Database.Driver)
	}
	if cfg.Redemption.RetryMaxElapsed != 750*time.Millisecond {
		t.Errorf("Expected 750ms, got %v", cfg.Redemption.RetryMaxElapsed)
	}
	if cfg.Reconciler.Workers != 9 {
		t.Errorf("Expected 9 workers, got %d", cfg.Reconciler.Workers)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("LEDGER_BACKEND", "mongo")
	if _, err := Load(); err == nil {
		t.Error("Expected error for unknown backend")
	}

	t.Setenv("LEDGER_BACKEND", "sqlite")
	t.Setenv("RECONCILE_INTERVAL", "soon")
	if _, err := Load(); err == nil {
		t.Error("Expected error for invalid duration")
	}
}
