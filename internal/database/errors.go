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
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"coin-shop-ledger-go/internal/store"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// errDuplicateKey signals that another attempt with the same idempotency key committed first.
var errDuplicateKey = errors.New("idempotency key already recorded")

// classifyError wraps transient driver failures with store.ErrBackendUnavailable.
// Anything else is returned unchanged.
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
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		code := string(pqErr.Code)
		switch {
		case code == "40001", code == "40P01": // serialization_failure, deadlock_detected
			return true
		case strings.HasPrefix(code, "08"): // connection exceptions
			return true
		case code == "57P01", code == "57P02", code == "57P03": // admin shutdown, crash shutdown, cannot connect now
			return true
		}
	}

	return false
}

func isUniqueViolation(err error) bool {
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}

	return false
}
