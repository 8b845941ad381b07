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

import "fmt"

// Role is the application role of an account
type Role string

const (
	RoleStudent Role = "student"
	RoleAdmin   Role = "admin"
)

// ParseRole validates a role string, defaulting empty input to student
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case "", RoleStudent:
		return RoleStudent, nil
	case RoleAdmin:
		return RoleAdmin, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// RedemptionStatus is the lifecycle state of a RedemptionRecord
type RedemptionStatus string

const (
	StatusPending   RedemptionStatus = "pending"
	StatusCompleted RedemptionStatus = "completed"
	StatusFailed    RedemptionStatus = "failed"
)

// Failure reasons stored on failed records.
const (
	FailureInsufficientFunds = "insufficient_funds"
	FailureOutOfStock        = "out_of_stock"
)

// IsTerminal reports whether no further transitions are allowed
func (s RedemptionStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether moving from s to next is a legal step.
// Only pending records move, and only to a terminal state.
func (s RedemptionStatus) CanTransition(next RedemptionStatus) bool {
	return s == StatusPending && next.IsTerminal()
}

// Transition moves the record to next or returns an error if the step is illegal
func (r *RedemptionRecord) Transition(next RedemptionStatus) error {
	if !r.Status.CanTransition(next) {
		return fmt.Errorf("illegal redemption transition %s -> %s", r.Status, next)
	}
	r.Status = next
	return nil
}
