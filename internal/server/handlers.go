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
	"net/http"
	"strconv"
	"time"

	"coin-shop-ledger-go/internal/api"
	"coin-shop-ledger-go/internal/models"
	"coin-shop-ledger-go/internal/store"

	"github.com/go-chi/chi/v5"
)

const (
	// IdempotencyKeyHeader is required on every redemption request.
	IdempotencyKeyHeader = "Idempotency-Key"
	// ReplayedHeader marks responses served from a stored redemption.
	ReplayedHeader = "Idempotent-Replayed"
)

type redeemRequest struct {
	ItemId string `json:"item_id"`
}

type redemptionResponse struct {
	Redemption models.RedemptionView `json:"redemption"`
	Balance    int64                 `json:"balance"`
}

type createAccountRequest struct {
	Id       string `json:"id"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	Coins    int64  `json:"coins"`
	Xp       int64  `json:"xp"`
}

type awardRequest struct {
	Coins     int64  `json:"coins"`
	Xp        int64  `json:"xp"`
	Events    int64  `json:"events"`
	Reason    string `json:"reason"`
	Reference string `json:"reference"`
}

type createItemRequest struct {
	Id          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
	CoinPrice   int64  `json:"coin_price"`
	Stock       int64  `json:"stock"`
}

type restockRequest struct {
	Quantity int64 `json:"quantity"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.ledger.HealthCheck(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, api.OutcomeUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.NewAccountView(accountFrom(r)))
}

// handleCatalog lists in-stock items; ?all=true includes sold out ones.
func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	items, err := s.ledger.ListCatalog(r.Context(), r.URL.Query().Get("all") != "true")
	if err != nil {
		writeStoreError(w, err)
		return
	}
	views := make([]models.CatalogItemView, len(items))
	for i := range items {
		views[i] = models.NewCatalogItemView(&items[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": views})
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	account := accountFrom(r)
	key := r.Header.Get(IdempotencyKeyHeader)
	if key == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing "+IdempotencyKeyHeader+" header")
		return
	}

	var req redeemRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if req.ItemId != "" {
		if entry, ok := s.replay.lookup(account.Id, key); ok {
			if entry.record.ItemId != req.ItemId {
				s.ledger.Metrics().ObserveRedemption(api.OutcomeConflict, time.Since(start))
				writeError(w, http.StatusUnprocessableEntity, api.OutcomeConflict,
					"idempotency key was used for item "+entry.record.ItemId)
				return
			}
			s.ledger.Metrics().ObserveRedemption(api.OutcomeReplayed, time.Since(start))
			writeRedemption(w, &entry.record, entry.err)
			return
		}
	}

	record, err := s.ledger.Redeem(r.Context(), account.Id, req.ItemId, key)
	s.replay.remember(record, err)
	writeRedemption(w, record, err)
}

func writeRedemption(w http.ResponseWriter, record *models.RedemptionRecord, err error) {
	if record != nil && record.Replayed {
		w.Header().Set(ReplayedHeader, "true")
	}

	if err != nil {
		status, code := statusFor(err)
		body := errorBody{Error: errorDetail{Code: code, Message: err.Error()}}
		if record != nil {
			view := models.NewRedemptionView(record)
			body.Redemption = &view
		}
		writeJSON(w, status, body)
		return
	}

	status := http.StatusCreated
	if record.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, redemptionResponse{
		Redemption: models.NewRedemptionView(record),
		Balance:    record.BalanceAfter,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}
	offset, ok := queryInt(w, r, "offset")
	if !ok {
		return
	}

	records, err := s.ledger.GetRedemptionHistory(r.Context(), accountFrom(r).Id, limit, offset)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	views := make([]models.RedemptionView, len(records))
	for i := range records {
		views[i] = models.NewRedemptionView(&records[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{"redemptions": views})
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}
	entries, err := s.ledger.GetLeaderboard(r.Context(), limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if entries == nil {
		entries = []models.LeaderboardEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"leaderboard": entries})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.ledger.GetStats(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	account, err := s.ledger.CreateAccount(r.Context(), store.CreateAccountParams{
		Id:       req.Id,
		FullName: req.FullName,
		Email:    req.Email,
		Role:     models.Role(req.Role),
		Coins:    req.Coins,
		TotalXp:  req.Xp,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, models.NewAccountView(account))
}

func (s *Server) handleAward(w http.ResponseWriter, r *http.Request) {
	var req awardRequest
	if !decodeBody(w, r, &req) {
		return
	}
	entry, err := s.ledger.AwardCoins(r.Context(), store.AwardParams{
		AccountId: chi.URLParam(r, "accountId"),
		Coins:     req.Coins,
		Xp:        req.Xp,
		Events:    req.Events,
		Reason:    req.Reason,
		Reference: req.Reference,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":         entry.Id,
		"account_id": entry.AccountId,
		"amount":     entry.Amount,
		"reason":     entry.Reason,
		"reference":  entry.Reference,
		"created_at": entry.CreatedAt,
	})
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	accountId := chi.URLParam(r, "accountId")
	if err := s.ledger.ReconcileAccount(r.Context(), accountId); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"account_id": accountId, "status": "balanced"})
}

func (s *Server) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	var req createItemRequest
	if !decodeBody(w, r, &req) {
		return
	}
	item, err := s.ledger.CreateCatalogItem(r.Context(), store.CreateCatalogItemParams{
		Id:          req.Id,
		Name:        req.Name,
		Description: req.Description,
		Category:    req.Category,
		CoinPrice:   req.CoinPrice,
		Stock:       req.Stock,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, models.NewCatalogItemView(item))
}

func (s *Server) handleRestock(w http.ResponseWriter, r *http.Request) {
	var req restockRequest
	if !decodeBody(w, r, &req) {
		return
	}
	item, err := s.ledger.Restock(r.Context(), chi.URLParam(r, "itemId"), req.Quantity)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.NewCatalogItemView(item))
}

// queryInt parses an optional integer query parameter; absent means 0.
func queryInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", name+" must be an integer")
		return 0, false
	}
	return v, true
}
