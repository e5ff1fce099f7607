package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/lib/pq"

	"github.com/hyperion-ledger/hyperion/internal/models"
)

const accountSelectColumns = `
	a.id, a.currency_id, a.balance,
	a.balance - COALESCE((
		SELECT SUM(t.amount) FROM transactions t
		WHERE t.source_account_id = a.id AND t.state = 'pending'
	), 0) AS effective_balance,
	a.system_account, a.display_name, a.disabled, a.version, a.date_created, a.date_modified`

// AccountService owns the accounts table. Balances are mutated only by the
// ledger engine through the Tx helpers below.
type AccountService struct {
	db         *sql.DB
	redis      *redis.Client
	validator  *ValidationHelper
	currencyID string
	cacheTTL   time.Duration
}

func NewAccountService(db *sql.DB, redisClient *redis.Client, currencyID string, cacheTTL time.Duration) *AccountService {
	return &AccountService{
		db:         db,
		redis:      redisClient,
		validator:  NewValidationHelper(),
		currencyID: currencyID,
		cacheTTL:   cacheTTL,
	}
}

type OpenAccountRequest struct {
	ID              models.AccountID `json:"id" validate:"required"`
	DisplayName     *string          `json:"display_name" validate:"omitempty,max=120"`
	SystemAccount   bool             `json:"system_account"`
	StartingBalance *int64           `json:"starting_balance" validate:"omitempty,gte=0"`
}

// OpenAccount handles account creation
// @Summary Open a new account
// @Description Create a new ledger account with an externally assigned id
// @Tags accounts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param account body OpenAccountRequest true "Account to open"
// @Success 200 {object} models.Account
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /accounts [post]
func (s *AccountService) OpenAccount(w http.ResponseWriter, r *http.Request) {
	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req OpenAccountRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	startingBalance := int64(0)
	if req.StartingBalance != nil {
		startingBalance = *req.StartingBalance
	}

	id := req.ID.String()
	_, err := s.db.Exec(`
		INSERT INTO accounts (id, currency_id, balance, system_account, display_name, disabled, version, date_created, date_modified)
		VALUES ($1, $2, $3, $4, $5, FALSE, 1, NOW(), NOW())`,
		id, s.currencyID, startingBalance, req.SystemAccount, req.DisplayName)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			log.Printf("[ACCOUNT] Duplicate open attempt for account %s", id)
			SendErrorResponse(w, fmt.Sprintf("account %q already exists", id), http.StatusConflict, nil)
			return
		}
		log.Printf("[ACCOUNT] Failed to open account %s: %v", id, err)
		SendErrorResponse(w, "Failed to open account", http.StatusInternalServerError, nil)
		return
	}

	account, err := s.fetchAccount(id)
	if err != nil {
		log.Printf("[ACCOUNT] Failed to fetch account %s after open: %v", id, err)
		SendErrorResponse(w, "Failed to open account", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[ACCOUNT] Opened account %s (system=%v, starting_balance=%d)", id, req.SystemAccount, startingBalance)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(account)
}

// GetAccount retrieves a single account
// @Summary Get account by id
// @Description Retrieve an account with its balance and effective balance
// @Tags accounts
// @Produce json
// @Security BearerAuth
// @Param id path string true "Account ID"
// @Success 200 {object} models.Account
// @Failure 404 {object} ErrorResponse
// @Router /accounts/{id} [get]
func (s *AccountService) GetAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if account, ok := s.cacheGet(r.Context(), id); ok {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(account)
		return
	}

	account, err := s.fetchAccount(id)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, fmt.Sprintf("account %q not found", id), http.StatusNotFound, nil)
		} else {
			log.Printf("[ACCOUNT] Failed to fetch account %s: %v", id, err)
			SendErrorResponse(w, "Failed to fetch account", http.StatusInternalServerError, nil)
		}
		return
	}

	s.cacheSet(r.Context(), account)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(account)
}

// EnsureSystemAccount opens a system account if it does not exist yet. Used
// at startup for the payout source; racing instances both succeed.
func (s *AccountService) EnsureSystemAccount(id, displayName string) error {
	_, err := s.db.Exec(`
		INSERT INTO accounts (id, currency_id, balance, system_account, display_name, disabled, version, date_created, date_modified)
		VALUES ($1, $2, 0, TRUE, $3, FALSE, 1, NOW(), NOW())
		ON CONFLICT (id) DO NOTHING`,
		id, s.currencyID, displayName)
	if err != nil {
		return fmt.Errorf("ensure system account %s: %w", id, err)
	}
	return nil
}

// Exists reports whether an account id is present.
func (s *AccountService) Exists(id string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM accounts WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

func (s *AccountService) fetchAccount(id string) (*models.Account, error) {
	row := s.db.QueryRow(`SELECT`+accountSelectColumns+`
		FROM accounts a
		WHERE a.id = $1`, id)
	return scanAccount(row)
}

func scanAccount(row *sql.Row) (*models.Account, error) {
	var account models.Account
	err := row.Scan(
		&account.ID, &account.CurrencyID, &account.Balance, &account.EffectiveBalance,
		&account.SystemAccount, &account.DisplayName, &account.Disabled,
		&account.Version, &account.DateCreated, &account.DateModified,
	)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// LockAccountTx loads an account row under FOR UPDATE inside an engine
// transaction. Internal-only.
func (s *AccountService) LockAccountTx(tx *sql.Tx, id string) (*models.Account, error) {
	var account models.Account
	err := tx.QueryRow(`
		SELECT id, currency_id, balance, system_account, display_name, disabled, version, date_created, date_modified
		FROM accounts
		WHERE id = $1
		FOR UPDATE`, id).Scan(
		&account.ID, &account.CurrencyID, &account.Balance,
		&account.SystemAccount, &account.DisplayName, &account.Disabled,
		&account.Version, &account.DateCreated, &account.DateModified,
	)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// ApplyBalanceTx writes a new balance under the account's optimistic version.
// Internal-only, called by the ledger engine with the row already locked.
func (s *AccountService) ApplyBalanceTx(tx *sql.Tx, id string, newBalance int64, version int) error {
	result, err := tx.Exec(`
		UPDATE accounts
		SET balance = $1, version = version + 1, date_modified = $2
		WHERE id = $3 AND version = $4`,
		newBalance, time.Now(), id, version)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return fmt.Errorf("optimistic lock failed for account %s", id)
	}

	return nil
}

// InvalidateCache drops cached lookups after a balance write.
func (s *AccountService) InvalidateCache(ctx context.Context, ids ...string) {
	if s.redis == nil {
		return
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, accountCacheKey(id))
	}
	if err := s.redis.Del(ctx, keys...).Err(); err != nil {
		log.Printf("[ACCOUNT] Cache invalidation failed: %v", err)
	}
}

func (s *AccountService) cacheGet(ctx context.Context, id string) (*models.Account, bool) {
	if s.redis == nil {
		return nil, false
	}

	data, err := s.redis.Get(ctx, accountCacheKey(id)).Bytes()
	if err != nil {
		return nil, false
	}

	var account models.Account
	if err := json.Unmarshal(data, &account); err != nil {
		return nil, false
	}
	return &account, true
}

func (s *AccountService) cacheSet(ctx context.Context, account *models.Account) {
	if s.redis == nil {
		return
	}

	data, err := json.Marshal(account)
	if err != nil {
		return
	}
	if err := s.redis.Set(ctx, accountCacheKey(account.ID), data, s.cacheTTL).Err(); err != nil {
		log.Printf("[ACCOUNT] Cache write failed for %s: %v", account.ID, err)
	}
}

func accountCacheKey(id string) string {
	return fmt.Sprintf("account:%s", id)
}
