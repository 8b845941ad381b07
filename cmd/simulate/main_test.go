package main

import (
	"errors"
	"testing"

	"coin-shop-ledger-go/internal/models"
	"coin-shop-ledger-go/internal/store"
)

func TestCheckInvariants(t *testing.T) {
	before := snapshot{balance: 100, stock: 5}

	if v := checkInvariants(before, snapshot{balance: 40, stock: 4}, 60, 1); len(v) != 0 {
		t.Errorf("expected no violations, got %v", v)
	}

	if v := checkInvariants(before, snapshot{balance: -20, stock: 3}, 60, 2); len(v) != 2 {
		t.Errorf("expected negative balance and overspend violations, got %v", v)
	}

	if v := checkInvariants(before, snapshot{balance: 40, stock: 5}, 60, 1); len(v) != 1 {
		t.Errorf("expected stock mismatch, got %v", v)
	}
}

func TestTallyCountsDistinctCompletions(t *testing.T) {
	results := newTally()
	record := &models.RedemptionRecord{Id: "r1", Status: models.StatusCompleted}
	replay := &models.RedemptionRecord{Id: "r1", Status: models.StatusCompleted, Replayed: true}

	results.add(record, nil)
	results.add(replay, nil)
	results.add(nil, store.ErrOutOfStock)
	results.add(nil, errors.New("boom"))

	if len(results.completed) != 1 {
		t.Errorf("expected 1 distinct completion, got %d", len(results.completed))
	}
	if results.outcomes["completed"] != 1 || results.outcomes["replayed"] != 1 || results.outcomes["out_of_stock"] != 1 || results.outcomes["error"] != 1 {
		t.Errorf("unexpected outcomes: %v", results.outcomes)
	}
}
