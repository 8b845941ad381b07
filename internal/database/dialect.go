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

package database

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"coin-shop-ledger-go/internal/models"
)

const (
	driverSqlite   = "sqlite3"
	driverPostgres = "postgres"
)

// dialect adapts the shared SQL to the connected driver.
type dialect struct {
	driver string
}

// q rewrites ? placeholders to $n for Postgres.
func (d dialect) q(query string) string {
	if d.driver != driverPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// snapshotTx returns options for multi-statement reads that must observe a
// single snapshot. SQLite transactions already take the write lock on begin
// (_txlock=immediate), so only Postgres needs a stronger isolation level.
func (d dialect) snapshotTx() *sql.TxOptions {
	if d.driver != driverPostgres {
		return nil
	}
	return &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
}

// driverFor maps a backend name to a database/sql driver name.
func driverFor(backend string) (string, error) {
	switch backend {
	case "", models.BackendSqlite, driverSqlite:
		return driverSqlite, nil
	case models.BackendPostgres:
		return driverPostgres, nil
	}
	return "", fmt.Errorf("unsupported database driver %q", backend)
}

// dataSourceName builds the connection string for the driver.
// SQLite transactions take the write lock at BEGIN so concurrent redemptions
// queue on the busy handler instead of failing at upgrade time.
func dataSourceName(driver string, cfg models.DatabaseConfig) (string, error) {
	switch driver {
	case driverSqlite:
		if cfg.Path == "" {
			return "", fmt.Errorf("database path cannot be empty")
		}
		busy := cfg.BusyTimeout.Milliseconds()
		if busy <= 0 {
			busy = 5000
		}
		return fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=1000&_foreign_keys=1&_txlock=immediate&_busy_timeout=%d",
			cfg.Path, busy), nil
	case driverPostgres:
		if cfg.Url == "" {
			return "", fmt.Errorf("database url cannot be empty")
		}
		return cfg.Url, nil
	}
	return "", fmt.Errorf("unsupported database driver %q", driver)
}
