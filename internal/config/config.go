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

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"coin-shop-ledger-go/internal/models"
)

func Load() (*models.Config, error) {
	backend := getEnvString("LEDGER_BACKEND", models.BackendSqlite)
	switch backend {
	case models.BackendSqlite, models.BackendPostgres, models.BackendFormance:
	default:
		return nil, fmt.Errorf("invalid LEDGER_BACKEND %q (want sqlite, postgres or formance)", backend)
	}

	var (
		connMaxLifetime, connMaxIdleTime, pingTimeout, busyTimeout time.Duration
		readTimeout, writeTimeout, shutdownTimeout                 time.Duration
		operationTimeout, retryInitial, retryMaxElapsed            time.Duration
		reconcileInterval                                          time.Duration
	)
	var err error
	if connMaxLifetime, err = getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute); err != nil {
		return nil, err
	}
	if connMaxIdleTime, err = getEnvDuration("DB_CONN_MAX_IDLE_TIME", 30*time.Second); err != nil {
		return nil, err
	}
	if pingTimeout, err = getEnvDuration("DB_PING_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if busyTimeout, err = getEnvDuration("DB_BUSY_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if readTimeout, err = getEnvDuration("HTTP_READ_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if writeTimeout, err = getEnvDuration("HTTP_WRITE_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	if shutdownTimeout, err = getEnvDuration("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if operationTimeout, err = getEnvDuration("REDEEM_OPERATION_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if retryInitial, err = getEnvDuration("REDEEM_RETRY_INITIAL", 50*time.Millisecond); err != nil {
		return nil, err
	}
	if retryMaxElapsed, err = getEnvDuration("REDEEM_RETRY_MAX_ELAPSED", 3*time.Second); err != nil {
		return nil, err
	}
	if reconcileInterval, err = getEnvDuration("RECONCILE_INTERVAL", 5*time.Minute); err != nil {
		return nil, err
	}

	driver := backend
	if backend == models.BackendFormance {
		driver = ""
	}

	return &models.Config{
		Backend:     backend,
		CatalogFile: getEnvString("CATALOG_FILE", "catalog.yaml"),
		Database: models.DatabaseConfig{
			Driver:           driver,
			Path:             getEnvString("DATABASE_PATH", "ledger.db"),
			Url:              getEnvString("DATABASE_URL", ""),
			MaxOpenConns:     getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:     getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime:  connMaxLifetime,
			ConnMaxIdleTime:  connMaxIdleTime,
			PingTimeout:      pingTimeout,
			BusyTimeout:      busyTimeout,
			CreateDummyUsers: getEnvBool("CREATE_DUMMY_USERS", false),
		},
		Formance: models.FormanceConfig{
			StackURL:     getEnvString("FORMANCE_STACK_URL", ""),
			ClientID:     getEnvString("FORMANCE_CLIENT_ID", ""),
			ClientSecret: getEnvString("FORMANCE_CLIENT_SECRET", ""),
			LedgerName:   getEnvString("FORMANCE_LEDGER", "coin-shop"),
		},
		Server: models.ServerConfig{
			Addr:            getEnvString("HTTP_ADDR", ":8080"),
			ReadTimeout:     readTimeout,
			WriteTimeout:    writeTimeout,
			ShutdownTimeout: shutdownTimeout,
			ReplayCacheSize: getEnvInt("REPLAY_CACHE_SIZE", 4096),
		},
		Redemption: models.RedemptionConfig{
			OperationTimeout: operationTimeout,
			RetryInitial:     retryInitial,
			RetryMaxElapsed:  retryMaxElapsed,
		},
		Reconciler: models.ReconcilerConfig{
			Interval: reconcileInterval,
			Workers:  getEnvInt("RECONCILE_WORKERS", 4),
		},
	}, nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %q (%w)", key, value, err)
		}
		return duration, nil
	}
	return defaultValue, nil
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
