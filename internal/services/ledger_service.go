package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hyperion-ledger/hyperion/internal/audit"
	"github.com/hyperion-ledger/hyperion/internal/models"
)

// LedgerService is the sole writer of account balances. Execution runs inside
// a single storage transaction: the transaction row is locked first, then the
// two account rows in ascending id order.
type LedgerService struct {
	db           *sql.DB
	accounts     *AccountService
	transactions *TransactionService
	audit        *audit.Logger
}

func NewLedgerService(db *sql.DB, accounts *AccountService, transactions *TransactionService) *LedgerService {
	return &LedgerService{
		db:           db,
		accounts:     accounts,
		transactions: transactions,
		audit:        audit.NewLogger(),
	}
}

// ExecuteTransaction applies a pending transaction
// @Summary Execute a transaction
// @Description Execute a pending transaction; idempotent on repeat calls
// @Tags transactions
// @Produce json
// @Security BearerAuth
// @Param id path string true "Transaction ID"
// @Success 200 {object} models.Transaction
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /transactions/{id}/execute [post]
func (s *LedgerService) ExecuteTransaction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	transaction, err := s.Execute(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			SendErrorResponse(w, fmt.Sprintf("transaction %q not found", id), http.StatusNotFound, nil)
			return
		}
		log.Printf("[LEDGER] Failed to execute transaction %s: %v", id, err)
		s.audit.LogError(id, "", err)
		SendErrorResponse(w, "Failed to execute transaction", StatusForError(err), nil)
		return
	}

	// Both complete and failed are successful executions as far as the API
	// is concerned; the outcome lives in the transaction state.
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(transaction)
}

// Execute drives a pending transaction to a terminal state. Re-invoking on a
// terminal transaction returns the stored result without touching balances.
func (s *LedgerService) Execute(ctx context.Context, transactionID string) (*models.Transaction, error) {
	// Ids that are not UUIDs cannot name a transaction row; rejecting them
	// here keeps the uuid cast error out of the storage path.
	if _, err := uuid.Parse(transactionID); err != nil {
		return nil, fmt.Errorf("transaction %q %w", transactionID, ErrNotFound)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	transaction, err := s.lockTransaction(tx, transactionID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("transaction %q %w", transactionID, ErrNotFound)
		}
		return nil, fmt.Errorf("lock transaction: %w", err)
	}

	// Racing executors serialize on the row lock above; everyone after the
	// first observes the terminal row here and returns it unchanged.
	if transaction.Terminal() {
		return transaction, nil
	}
	if transaction.State != models.TransactionPending {
		return nil, ErrInvalidState
	}

	source, dest, err := s.lockAccounts(tx, transaction.SourceAccountID, transaction.DestAccountID)
	if err != nil {
		return nil, fmt.Errorf("lock accounts: %w", err)
	}

	if source.Disabled || dest.Disabled {
		return s.fail(ctx, tx, transaction, models.ReasonAccountDisabled)
	}

	// System accounts may go negative; they are the issuance points.
	if !source.SystemAccount && source.Balance < transaction.Amount {
		return s.fail(ctx, tx, transaction, models.ReasonInsufficientFunds)
	}

	if source.ID == dest.ID {
		// Self-transfer: logged with both journal entries, net zero.
		if err := s.createLedgerEntry(tx, transaction.ID, source.ID, -transaction.Amount, "DEBIT", source.Balance-transaction.Amount); err != nil {
			return nil, err
		}
		if err := s.createLedgerEntry(tx, transaction.ID, source.ID, transaction.Amount, "CREDIT", source.Balance); err != nil {
			return nil, err
		}
	} else {
		if err := s.createLedgerEntry(tx, transaction.ID, source.ID, -transaction.Amount, "DEBIT", source.Balance-transaction.Amount); err != nil {
			return nil, err
		}
		if err := s.createLedgerEntry(tx, transaction.ID, dest.ID, transaction.Amount, "CREDIT", dest.Balance+transaction.Amount); err != nil {
			return nil, err
		}

		if err := s.accounts.ApplyBalanceTx(tx, source.ID, source.Balance-transaction.Amount, source.Version); err != nil {
			return nil, err
		}
		if err := s.accounts.ApplyBalanceTx(tx, dest.ID, dest.Balance+transaction.Amount, dest.Version); err != nil {
			return nil, err
		}
	}

	if err := s.markTerminal(tx, transaction, models.TransactionComplete, nil); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	s.accounts.InvalidateCache(ctx, source.ID, dest.ID)
	s.audit.LogTransfer(transaction.ID, source.ID, dest.ID, transaction.Amount, models.TransactionComplete)
	return transaction, nil
}

// fail records a business failure as the transaction's terminal state. This
// is a normal outcome, committed to the log, not an error to the caller.
func (s *LedgerService) fail(ctx context.Context, tx *sql.Tx, transaction *models.Transaction, reason string) (*models.Transaction, error) {
	if err := s.markTerminal(tx, transaction, models.TransactionFailed, &reason); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	s.accounts.InvalidateCache(ctx, transaction.SourceAccountID, transaction.DestAccountID)
	s.audit.LogTransfer(transaction.ID, transaction.SourceAccountID, transaction.DestAccountID, transaction.Amount, reason)
	return transaction, nil
}

func (s *LedgerService) lockTransaction(tx *sql.Tx, id string) (*models.Transaction, error) {
	row := tx.QueryRow(`SELECT`+transactionSelectColumns+`
		FROM transactions
		WHERE id = $1
		FOR UPDATE`, id)

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

// lockAccounts locks both rows in ascending id order to prevent deadlocks
// between concurrent transfers over the same account pair.
func (s *LedgerService) lockAccounts(tx *sql.Tx, sourceID, destID string) (*models.Account, *models.Account, error) {
	if sourceID == destID {
		account, err := s.accounts.LockAccountTx(tx, sourceID)
		if err != nil {
			return nil, nil, err
		}
		return account, account, nil
	}

	firstID, secondID := sourceID, destID
	if sourceID > destID {
		firstID, secondID = destID, sourceID
	}

	first, err := s.accounts.LockAccountTx(tx, firstID)
	if err != nil {
		return nil, nil, err
	}

	second, err := s.accounts.LockAccountTx(tx, secondID)
	if err != nil {
		return nil, nil, err
	}

	if firstID != sourceID {
		first, second = second, first
	}

	return first, second, nil
}

func (s *LedgerService) createLedgerEntry(tx *sql.Tx, transactionID, accountID string, amount int64, entryType string, balance int64) error {
	_, err := tx.Exec(`
		INSERT INTO ledger_entries (transaction_id, account_id, amount, entry_type, balance, date_created)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		transactionID, accountID, amount, entryType, balance, time.Now())
	return err
}

func (s *LedgerService) markTerminal(tx *sql.Tx, transaction *models.Transaction, state string, reason *string) error {
	now := time.Now()
	result, err := tx.Exec(`
		UPDATE transactions
		SET state = $1, state_reason = $2, date_modified = $3
		WHERE id = $4 AND state = $5`,
		state, reason, now, transaction.ID, models.TransactionPending)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		// Unreachable while the row lock is held; guards refactors.
		return ErrInvalidState
	}

	transaction.State = state
	transaction.StateReason = reason
	transaction.DateModified = now
	return nil
}
