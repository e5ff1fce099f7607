package services

import (
	"database/sql"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

// EnsureCurrency creates the deployment currency on first boot and returns
// its id. Single-currency deployments have exactly one row.
func EnsureCurrency(db *sql.DB) (string, error) {
	viper.SetDefault("currency.name", "Hyperion Coin")
	viper.SetDefault("currency.singular_form", "coin")
	viper.SetDefault("currency.plural_form", "coins")
	viper.SetDefault("currency.shortcode", "HYP")
	viper.SetDefault("currency.owner_id", "system")

	var id string
	err := db.QueryRow(`SELECT id FROM currencies ORDER BY date_created ASC LIMIT 1`).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return "", fmt.Errorf("lookup currency: %w", err)
	}

	id = uuid.NewString()
	_, err = db.Exec(`
		INSERT INTO currencies (id, name, singular_form, plural_form, shortcode, owner_id, date_created, date_modified)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())`,
		id,
		viper.GetString("currency.name"),
		viper.GetString("currency.singular_form"),
		viper.GetString("currency.plural_form"),
		viper.GetString("currency.shortcode"),
		viper.GetString("currency.owner_id"))
	if err != nil {
		return "", fmt.Errorf("create currency: %w", err)
	}

	log.Printf("[BOOTSTRAP] Created currency %s (%s)", viper.GetString("currency.name"), id)
	return id, nil
}

// EnsureIntegration creates a first integration when none exists and prints
// its token once. Without this there is no way to authenticate against a
// fresh deployment.
func EnsureIntegration(db *sql.DB, currencyID string) error {
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM integrations`).Scan(&count); err != nil {
		return fmt.Errorf("count integrations: %w", err)
	}
	if count > 0 {
		return nil
	}

	id := uuid.NewString()
	token, tokenHash, err := GenerateIntegrationToken(id)
	if err != nil {
		return fmt.Errorf("generate integration token: %w", err)
	}

	_, err = db.Exec(`
		INSERT INTO integrations (id, name, currency_id, token_hash, date_created)
		VALUES ($1, $2, $3, $4, NOW())`,
		id, "bootstrap", currencyID, tokenHash)
	if err != nil {
		return fmt.Errorf("create integration: %w", err)
	}

	// The secret is not recoverable later; the hash is all we keep.
	log.Printf("[BOOTSTRAP] Created integration %s - token (shown once): %s", id, token)
	return nil
}
