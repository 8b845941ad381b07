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

package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Rank is the ordered tier of an account
type Rank string

const (
	RankBronze   Rank = "bronze"
	RankSilver   Rank = "silver"
	RankGold     Rank = "gold"
	RankPlatinum Rank = "platinum"
	RankDiamond  Rank = "diamond"
)

// rankOrder lists tiers from lowest to highest with the XP needed to enter each.
var rankOrder = []struct {
	rank  Rank
	minXp int64
}{
	{RankBronze, 0},
	{RankSilver, 1000},
	{RankGold, 2500},
	{RankPlatinum, 5000},
	{RankDiamond, 10000},
}

// nextRankXp is the XP target displayed on the dashboard for each tier.
var nextRankXp = map[Rank]int64{
	RankBronze:   1000,
	RankSilver:   2500,
	RankGold:     5000,
	RankPlatinum: 10000,
	RankDiamond:  20000,
}

// ParseRank validates a rank string
func ParseRank(s string) (Rank, error) {
	for _, r := range rankOrder {
		if string(r.rank) == s {
			return r.rank, nil
		}
	}
	return "", fmt.Errorf("unknown rank %q", s)
}

// Level returns the position of the rank in the tier order, -1 if unknown
func (r Rank) Level() int {
	for i, o := range rankOrder {
		if o.rank == r {
			return i
		}
	}
	return -1
}

// Less reports whether r is a lower tier than other
func (r Rank) Less(other Rank) bool {
	return r.Level() < other.Level()
}

// RankForXp returns the highest tier whose threshold is reached
func RankForXp(xp int64) Rank {
	rank := RankBronze
	for _, o := range rankOrder {
		if xp >= o.minXp {
			rank = o.rank
		}
	}
	return rank
}

// RankProgress describes how far an account is towards its next XP target
type RankProgress struct {
	Rank            Rank            `json:"rank"`
	TotalXp         int64           `json:"total_xp"`
	NextRankXp      int64           `json:"next_rank_xp"`
	XpToNextRank    int64           `json:"xp_to_next_rank"`
	ProgressPercent decimal.Decimal `json:"progress_percent"`
}

// ProgressFor computes the dashboard progress bar for a rank and XP total.
// The percentage is rounded to two places and capped at 100.
func ProgressFor(rank Rank, totalXp int64) RankProgress {
	target, ok := nextRankXp[rank]
	if !ok {
		target = nextRankXp[RankBronze]
	}

	remaining := target - totalXp
	if remaining < 0 {
		remaining = 0
	}

	hundred := decimal.NewFromInt(100)
	pct := decimal.NewFromInt(totalXp).Mul(hundred).Div(decimal.NewFromInt(target)).Round(2)
	if pct.GreaterThan(hundred) {
		pct = hundred
	}
	if pct.IsNegative() {
		pct = decimal.Zero
	}

	return RankProgress{
		Rank:            rank,
		TotalXp:         totalXp,
		NextRankXp:      target,
		XpToNextRank:    remaining,
		ProgressPercent: pct,
	}
}
