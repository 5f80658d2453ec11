package entity

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// BudgetKey identifies one ledger bucket
type BudgetKey struct {
	OrgUnit      string `json:"org_unit"`
	Account      string `json:"account"`
	FiscalPeriod string `json:"fiscal_period"`
}

func (k BudgetKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.OrgUnit, k.Account, k.FiscalPeriod)
}

// Budget is the total amount allotted to a key
type Budget struct {
	Key       BudgetKey       `json:"key"`
	Total     decimal.Decimal `json:"total"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ReservationState of a BudgetReservation
type ReservationState string

const (
	ReservationLocked   ReservationState = "LOCKED"
	ReservationReleased ReservationState = "RELEASED"
)

// ReleaseReason records why a reservation was released
type ReleaseReason string

const (
	ReleaseRejected  ReleaseReason = "REJECTED"
	ReleaseCancelled ReleaseReason = "CANCELLED"
	ReleaseSettled   ReleaseReason = "SETTLED"
)

// BudgetReservation is a hold against a key for exactly one request or line.
type BudgetReservation struct {
	ID             string           `json:"id"`
	Key            BudgetKey        `json:"key"`
	Amount         decimal.Decimal  `json:"amount"`
	RequestID      int64            `json:"request_id"`
	LineID         int64            `json:"line_id,omitempty"`
	State          ReservationState `json:"state"`
	ReleasedAmount decimal.Decimal  `json:"released_amount"`
	ReleaseReason  ReleaseReason    `json:"release_reason,omitempty"`
	LockedAt       time.Time        `json:"locked_at"`
	ReleasedAt     *time.Time       `json:"released_at,omitempty"`
}

// IsLocked reports whether the reservation still holds funds
func (r *BudgetReservation) IsLocked() bool {
	return r.State == ReservationLocked
}

// Release moves a locked reservation to released, always for the full amount.
// It reports false when the reservation was already released.
func (r *BudgetReservation) Release(reason ReleaseReason, at time.Time) bool {
	if r.State == ReservationReleased {
		return false
	}
	r.State = ReservationReleased
	r.ReleasedAmount = r.Amount
	r.ReleaseReason = reason
	r.ReleasedAt = &at
	return true
}
