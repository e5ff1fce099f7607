package models

import (
	"time"
)

// Transaction states. A transaction transitions at most once, from pending to
// one of the terminal states.
const (
	TransactionPending  = "pending"
	TransactionComplete = "complete"
	TransactionFailed   = "failed"
)

// Reasons recorded in state_reason when a transaction fails.
const (
	ReasonInsufficientFunds = "insufficient_funds"
	ReasonAccountDisabled   = "account_disabled"
)

// Transaction represents a transfer between two accounts.
type Transaction struct {
	ID               string    `json:"id" db:"id"`
	Amount           int64     `json:"amount" db:"amount"` // smallest currency unit
	State            string    `json:"state" db:"state"`
	StateReason      *string   `json:"state_reason" db:"state_reason"`
	Description      *string   `json:"description" db:"description"`
	SourceCurrencyID string    `json:"source_currency_id" db:"source_currency_id"`
	SourceAccountID  string    `json:"source_account_id" db:"source_account_id"`
	DestCurrencyID   string    `json:"dest_currency_id" db:"dest_currency_id"`
	DestAccountID    string    `json:"dest_account_id" db:"dest_account_id"`
	IntegrationID    string    `json:"integration_id" db:"integration_id"`
	DateCreated      time.Time `json:"date_created" db:"date_created"`
	DateModified     time.Time `json:"date_modified" db:"date_modified"`
}

// Terminal reports whether the transaction has reached a final state.
func (t *Transaction) Terminal() bool {
	return t.State == TransactionComplete || t.State == TransactionFailed
}

// LedgerEntry is one side of the double-entry journal written when a
// transaction executes.
type LedgerEntry struct {
	ID            int       `json:"id" db:"id"`
	TransactionID string    `json:"transaction_id" db:"transaction_id"`
	AccountID     string    `json:"account_id" db:"account_id"`
	Amount        int64     `json:"amount" db:"amount"`
	EntryType     string    `json:"entry_type" db:"entry_type"` // DEBIT or CREDIT
	Balance       int64     `json:"balance" db:"balance"`       // running balance after the entry
	DateCreated   time.Time `json:"date_created" db:"date_created"`
}
