package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hyperion-ledger/hyperion/internal/models"
)

const transactionSelectColumns = `
	id, amount, state, state_reason, description,
	source_currency_id, source_account_id, dest_currency_id, dest_account_id,
	integration_id, date_created, date_modified`

// TransactionService owns the transactions table: creation, lookups and the
// ledger/history listing. Terminal state writes happen in the ledger engine.
type TransactionService struct {
	db         *sql.DB
	accounts   *AccountService
	validator  *ValidationHelper
	currencyID string
}

func NewTransactionService(db *sql.DB, accounts *AccountService, currencyID string) *TransactionService {
	return &TransactionService{
		db:         db,
		accounts:   accounts,
		validator:  NewValidationHelper(),
		currencyID: currencyID,
	}
}

type CreateTransactionRequest struct {
	SourceAccountID models.AccountID `json:"source_account_id" validate:"required"`
	DestAccountID   models.AccountID `json:"dest_account_id" validate:"required"`
	Amount          int64            `json:"amount"`
	Description     *string          `json:"description" validate:"omitempty,max=500"`
}

// CreateTransaction handles transaction creation
// @Summary Create a transaction
// @Description Record a pending transfer between two accounts
// @Tags transactions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param transaction body CreateTransactionRequest true "Transaction to create"
// @Success 200 {object} models.Transaction
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /transactions [post]
func (s *TransactionService) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req CreateTransactionRequest
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

	integrationID, _ := r.Context().Value("integrationID").(string)

	transaction, err := s.Create(r.Context(), req.SourceAccountID.String(), req.DestAccountID.String(), req.Amount, req.Description, integrationID)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidAmount):
			SendErrorResponse(w, ErrInvalidAmount.Error(), http.StatusBadRequest, nil)
		case errors.Is(err, ErrNotFound):
			SendErrorResponse(w, err.Error(), http.StatusNotFound, nil)
		default:
			log.Printf("[TRANSACTION] Failed to create transaction: %v", err)
			SendErrorResponse(w, "Failed to create transaction", http.StatusInternalServerError, nil)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(transaction)
}

// Create validates and records a pending transaction. Self-transfers are
// allowed; they execute as balance no-ops but are still logged.
func (s *TransactionService) Create(ctx context.Context, sourceID, destID string, amount int64, description *string, integrationID string) (*models.Transaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	for _, id := range []string{sourceID, destID} {
		exists, err := s.accounts.Exists(id)
		if err != nil {
			return nil, fmt.Errorf("account lookup: %w", err)
		}
		if !exists {
			return nil, fmt.Errorf("account %q %w", id, ErrNotFound)
		}
	}

	id := uuid.NewString()
	_, err := s.db.Exec(`
		INSERT INTO transactions
		(id, amount, state, state_reason, description, source_currency_id, source_account_id, dest_currency_id, dest_account_id, integration_id, date_created, date_modified)
		VALUES ($1, $2, $3, NULL, $4, $5, $6, $7, $8, $9, NOW(), NOW())`,
		id, amount, models.TransactionPending, description,
		s.currencyID, sourceID, s.currencyID, destID, integrationID)
	if err != nil {
		return nil, fmt.Errorf("insert transaction: %w", err)
	}

	// The source's effective balance changed; drop any cached lookup.
	s.accounts.InvalidateCache(ctx, sourceID)

	log.Printf("[TRANSACTION] Created %s: %s -> %s, amount %d", id, sourceID, destID, amount)
	return s.Fetch(id)
}

// GetTransaction retrieves a specific transaction
// @Summary Get transaction by id
// @Description Retrieve a transaction by its id
// @Tags transactions
// @Produce json
// @Security BearerAuth
// @Param id path string true "Transaction ID"
// @Success 200 {object} models.Transaction
// @Failure 404 {object} ErrorResponse
// @Router /transactions/{id} [get]
func (s *TransactionService) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	transaction, err := s.Fetch(id)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, fmt.Sprintf("transaction %q not found", id), http.StatusNotFound, nil)
		} else {
			log.Printf("[TRANSACTION] Failed to fetch transaction %s: %v", id, err)
			SendErrorResponse(w, "Failed to fetch transaction", http.StatusInternalServerError, nil)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(transaction)
}

// ListTransactions retrieves transactions with optional filters
// @Summary List transactions
// @Description List transactions ordered by creation time ascending, optionally filtered by account or state
// @Tags transactions
// @Produce json
// @Security BearerAuth
// @Param account query string false "Filter by account id (source or destination)"
// @Param state query string false "Filter by state"
// @Success 200 {array} models.Transaction
// @Failure 500 {object} ErrorResponse
// @Router /transactions [get]
func (s *TransactionService) ListTransactions(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("account")
	state := r.URL.Query().Get("state")

	transactions, err := s.list(accountID, state)
	if err != nil {
		log.Printf("[TRANSACTION] Failed to list transactions: %v", err)
		SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}

	// Clients iterate the response directly, so this is a bare array.
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(transactions)
}

// Fetch loads one transaction by id. Transaction ids are UUIDs; anything else
// cannot name a row, so it is treated as absent rather than handed to Postgres
// where the uuid cast would fail.
func (s *TransactionService) Fetch(id string) (*models.Transaction, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, sql.ErrNoRows
	}

	row := s.db.QueryRow(`SELECT`+transactionSelectColumns+`
		FROM transactions
		WHERE id = $1`, id)

	var transaction models.Transaction
	err := row.Scan(
		&transaction.ID, &transaction.Amount, &transaction.State, &transaction.StateReason,
		&transaction.Description, &transaction.SourceCurrencyID, &transaction.SourceAccountID,
		&transaction.DestCurrencyID, &transaction.DestAccountID, &transaction.IntegrationID,
		&transaction.DateCreated, &transaction.DateModified,
	)
	if err != nil {
		return nil, err
	}
	return &transaction, nil
}

func (s *TransactionService) list(accountID, state string) ([]models.Transaction, error) {
	var conditions []string
	var args []interface{}
	argIndex := 1

	baseQuery := `SELECT` + transactionSelectColumns + ` FROM transactions`

	if accountID != "" {
		conditions = append(conditions, fmt.Sprintf("(source_account_id = $%d OR dest_account_id = $%d)", argIndex, argIndex))
		args = append(args, accountID)
		argIndex++
	}

	if state != "" {
		conditions = append(conditions, fmt.Sprintf("state = $%d", argIndex))
		args = append(args, state)
		argIndex++
	}

	query := baseQuery
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	// Oldest first; clients take the tail for "most recent".
	query += " ORDER BY date_created ASC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transactions := []models.Transaction{}
	for rows.Next() {
		var transaction models.Transaction
		err := rows.Scan(
			&transaction.ID, &transaction.Amount, &transaction.State, &transaction.StateReason,
			&transaction.Description, &transaction.SourceCurrencyID, &transaction.SourceAccountID,
			&transaction.DestCurrencyID, &transaction.DestAccountID, &transaction.IntegrationID,
			&transaction.DateCreated, &transaction.DateModified,
		)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, transaction)
	}

	return transactions, rows.Err()
}
