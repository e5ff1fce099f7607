package models

import (
	"time"
)

// Currency holds display metadata for the deployment's currency. Immutable
// after creation except administrative edits.
type Currency struct {
	ID           string    `json:"id" db:"id"`
	Name         string    `json:"name" db:"name"`
	SingularForm string    `json:"singular_form" db:"singular_form"`
	PluralForm   string    `json:"plural_form" db:"plural_form"`
	Shortcode    string    `json:"shortcode" db:"shortcode"`
	OwnerID      string    `json:"owner_id" db:"owner_id"`
	DateCreated  time.Time `json:"date_created" db:"date_created"`
	DateModified time.Time `json:"date_modified" db:"date_modified"`
}

// Integration is an authenticated API consumer (e.g. a chat bot). Its token
// is stored as an argon2id hash, never in the clear.
type Integration struct {
	ID          string    `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	CurrencyID  string    `json:"currency_id" db:"currency_id"`
	TokenHash   string    `json:"-" db:"token_hash"`
	DateCreated time.Time `json:"date_created" db:"date_created"`
}

// Connection is a live session an integration has established. Connections
// carry short-lived JWTs so the opaque integration token stays off the wire
// after the first exchange.
type Connection struct {
	ID            string    `json:"id" db:"id"`
	IntegrationID string    `json:"integration_id" db:"integration_id"`
	ClientName    string    `json:"client_name" db:"client_name"`
	DateCreated   time.Time `json:"date_created" db:"date_created"`
	DateLastSeen  time.Time `json:"date_last_seen" db:"date_last_seen"`
}
