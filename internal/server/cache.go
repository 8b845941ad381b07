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

package server

import (
	"coin-shop-ledger-go/internal/models"
	"coin-shop-ledger-go/internal/store"

	lru "github.com/hashicorp/golang-lru/v2"
)

// replayCache keeps terminal redemption outcomes so repeated keys are
// answered without a store round trip. Terminal records never change.
type replayCache struct {
	entries *lru.Cache[replayKey, replayEntry]
}

// replayKey scopes idempotency keys to the account that used them.
type replayKey struct {
	accountId      string
	idempotencyKey string
}

type replayEntry struct {
	record models.RedemptionRecord
	err    error
}

func newReplayCache(size int) (*replayCache, error) {
	if size <= 0 {
		size = 4096
	}
	entries, err := lru.New[replayKey, replayEntry](size)
	if err != nil {
		return nil, err
	}
	return &replayCache{entries: entries}, nil
}

// remember stores completed records and failed records with a business error.
func (c *replayCache) remember(record *models.RedemptionRecord, err error) {
	if record == nil {
		return
	}
	if err != nil && store.FailureReason(err) == "" {
		return
	}
	if !record.Status.IsTerminal() {
		return
	}
	entry := replayEntry{record: *record, err: err}
	entry.record.Replayed = false
	c.entries.Add(replayKey{accountId: record.AccountId, idempotencyKey: record.IdempotencyKey}, entry)
}

// lookup returns the stored outcome marked as replayed.
func (c *replayCache) lookup(accountId, idempotencyKey string) (replayEntry, bool) {
	entry, ok := c.entries.Get(replayKey{accountId: accountId, idempotencyKey: idempotencyKey})
	if !ok || entry.record.AccountId != accountId {
		return replayEntry{}, false
	}
	entry.record.Replayed = true
	return entry, true
}

func (c *replayCache) size() int {
	return c.entries.Len()
}
