package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// AccountID accepts both JSON strings and JSON numbers. Chat clients send
// platform user ids as bare integers, system accounts use string names.
type AccountID string

func (id *AccountID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*id = AccountID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		// Reject floats so 12.5 does not silently become "12.5"
		if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
			return fmt.Errorf("account id must be a string or integer")
		}
		*id = AccountID(n.String())
		return nil
	}

	return fmt.Errorf("account id must be a string or integer")
}

func (id AccountID) String() string {
	return string(id)
}

type Account struct {
	ID               string    `json:"id" db:"id"`
	CurrencyID       string    `json:"currency_id" db:"currency_id"`
	Balance          int64     `json:"balance" db:"balance"` // smallest currency unit
	EffectiveBalance int64     `json:"effective_balance" db:"effective_balance"`
	SystemAccount    bool      `json:"system_account" db:"system_account"`
	DisplayName      *string   `json:"display_name" db:"display_name"`
	Disabled         bool      `json:"-" db:"disabled"`
	Version          int       `json:"-" db:"version"` // for optimistic locking
	DateCreated      time.Time `json:"date_created" db:"date_created"`
	DateModified     time.Time `json:"date_modified" db:"date_modified"`
}
