package models

import (
	"time"
)

// Allowance is the persisted payout schedule for an account. It replaces
// per-process cooldown maps so a restart cannot grant an early payout.
type Allowance struct {
	AccountID       string    `json:"account_id" db:"account_id"`
	SourceAccountID string    `json:"source_account_id" db:"source_account_id"`
	Amount          int64     `json:"amount" db:"amount"`
	Period          int64     `json:"period_seconds" db:"period_seconds"`
	NextPayoutAt    time.Time `json:"next_payout_at" db:"next_payout_at"`
	DateModified    time.Time `json:"date_modified" db:"date_modified"`
}

// Due reports whether the allowance can be claimed at the given time.
func (a *Allowance) Due(now time.Time) bool {
	return !now.Before(a.NextPayoutAt)
}
