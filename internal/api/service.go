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

package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"coin-shop-ledger-go/internal/models"
	"coin-shop-ledger-go/internal/store"
)

// ErrInvalidInput marks requests rejected before reaching the store.
var ErrInvalidInput = errors.New("invalid input")

// MaxIdempotencyKeyLength bounds client supplied idempotency keys.
const MaxIdempotencyKeyLength = 128

// Page sizes for history and leaderboard reads.
const (
	DefaultPageSize = 5
	MaxPageSize     = 100
)

// LedgerService is the entry point for every coin movement.
type LedgerService struct {
	store   store.LedgerStore
	cfg     models.RedemptionConfig
	metrics *Metrics
}

func NewLedgerService(st store.LedgerStore, cfg models.RedemptionConfig, metrics *Metrics) *LedgerService {
	if cfg.RetryInitial <= 0 {
		cfg.RetryInitial = 50 * time.Millisecond
	}
	if cfg.RetryMaxElapsed <= 0 {
		cfg.RetryMaxElapsed = 3 * time.Second
	}
	return &LedgerService{
		store:   st,
		cfg:     cfg,
		metrics: metrics,
	}
}

func (s *LedgerService) Metrics() *Metrics {
	return s.metrics
}

func (s *LedgerService) HealthCheck(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("ledger health check failed: %w", err)
	}
	return nil
}

// pageSize applies the default to non-positive limits and caps large ones.
func pageSize(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	return min(limit, MaxPageSize)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
