package services

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/hyperion-ledger/hyperion/internal/models"
)

func newTestLedgerService(db *sql.DB) *LedgerService {
	accounts := NewAccountService(db, nil, "currency1", time.Minute)
	transactions := NewTransactionService(db, accounts, "currency1")
	return NewLedgerService(db, accounts, transactions)
}

func transactionRows(id string, amount int64, state string, reason driver.Value, sourceID, destID string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "amount", "state", "state_reason", "description",
		"source_currency_id", "source_account_id", "dest_currency_id", "dest_account_id",
		"integration_id", "date_created", "date_modified",
	}).AddRow(id, amount, state, reason, nil, "currency1", sourceID, "currency1", destID, "integration1", time.Now(), time.Now())
}

func lockedAccountRows(id string, balance int64, systemAccount bool, version int) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "currency_id", "balance", "system_account", "display_name", "disabled", "version", "date_created", "date_modified",
	}).AddRow(id, "currency1", balance, systemAccount, nil, false, version, time.Now(), time.Now())
}

func TestLedgerService_Execute(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := newTestLedgerService(db)

	t.Run("successful execution", func(t *testing.T) {
		transactionID := "6d4a2b1e-41d7-49a4-93f2-8a1e5d3c0a01"
		amount := int64(1000)

		mock.ExpectBegin()

		// Lock the transaction row
		mock.ExpectQuery("FROM transactions").
			WithArgs(transactionID).
			WillReturnRows(transactionRows(transactionID, amount, models.TransactionPending, nil, "alice", "bob"))

		// Lock both accounts in ascending id order
		mock.ExpectQuery("FROM accounts").
			WithArgs("alice").
			WillReturnRows(lockedAccountRows("alice", 5000, false, 1))
		mock.ExpectQuery("FROM accounts").
			WithArgs("bob").
			WillReturnRows(lockedAccountRows("bob", 2000, false, 3))

		// Journal entries, debit first
		mock.ExpectExec("INSERT INTO ledger_entries").
			WithArgs(transactionID, "alice", -amount, "DEBIT", int64(4000), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO ledger_entries").
			WithArgs(transactionID, "bob", amount, "CREDIT", int64(3000), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(2, 1))

		// Balance updates under the optimistic versions
		mock.ExpectExec("UPDATE accounts").
			WithArgs(int64(4000), sqlmock.AnyArg(), "alice", 1).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE accounts").
			WithArgs(int64(3000), sqlmock.AnyArg(), "bob", 3).
			WillReturnResult(sqlmock.NewResult(1, 1))

		// Terminal state write
		mock.ExpectExec("UPDATE transactions").
			WithArgs(models.TransactionComplete, nil, sqlmock.AnyArg(), transactionID, models.TransactionPending).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectCommit()

		transaction, err := service.Execute(context.Background(), transactionID)
		assert.NoError(t, err)
		assert.Equal(t, models.TransactionComplete, transaction.State)
		assert.Nil(t, transaction.StateReason)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient funds commits failed state", func(t *testing.T) {
		transactionID := "6d4a2b1e-41d7-49a4-93f2-8a1e5d3c0a02"
		amount := int64(6000) // more than alice has

		mock.ExpectBegin()

		mock.ExpectQuery("FROM transactions").
			WithArgs(transactionID).
			WillReturnRows(transactionRows(transactionID, amount, models.TransactionPending, nil, "alice", "bob"))

		mock.ExpectQuery("FROM accounts").
			WithArgs("alice").
			WillReturnRows(lockedAccountRows("alice", 5000, false, 1))
		mock.ExpectQuery("FROM accounts").
			WithArgs("bob").
			WillReturnRows(lockedAccountRows("bob", 2000, false, 1))

		// No journal entries, no balance updates: the failure itself is
		// recorded and committed.
		mock.ExpectExec("UPDATE transactions").
			WithArgs(models.TransactionFailed, models.ReasonInsufficientFunds, sqlmock.AnyArg(), transactionID, models.TransactionPending).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectCommit()

		transaction, err := service.Execute(context.Background(), transactionID)
		assert.NoError(t, err)
		assert.Equal(t, models.TransactionFailed, transaction.State)
		if assert.NotNil(t, transaction.StateReason) {
			assert.Equal(t, models.ReasonInsufficientFunds, *transaction.StateReason)
		}
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("system account may go negative", func(t *testing.T) {
		transactionID := "6d4a2b1e-41d7-49a4-93f2-8a1e5d3c0a03"
		amount := int64(500)

		mock.ExpectBegin()

		mock.ExpectQuery("FROM transactions").
			WithArgs(transactionID).
			WillReturnRows(transactionRows(transactionID, amount, models.TransactionPending, nil, "bank", "bob"))

		mock.ExpectQuery("FROM accounts").
			WithArgs("bank").
			WillReturnRows(lockedAccountRows("bank", 0, true, 1))
		mock.ExpectQuery("FROM accounts").
			WithArgs("bob").
			WillReturnRows(lockedAccountRows("bob", 2000, false, 1))

		mock.ExpectExec("INSERT INTO ledger_entries").
			WithArgs(transactionID, "bank", -amount, "DEBIT", int64(-500), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO ledger_entries").
			WithArgs(transactionID, "bob", amount, "CREDIT", int64(2500), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(2, 1))

		mock.ExpectExec("UPDATE accounts").
			WithArgs(int64(-500), sqlmock.AnyArg(), "bank", 1).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE accounts").
			WithArgs(int64(2500), sqlmock.AnyArg(), "bob", 1).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec("UPDATE transactions").
			WithArgs(models.TransactionComplete, nil, sqlmock.AnyArg(), transactionID, models.TransactionPending).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectCommit()

		transaction, err := service.Execute(context.Background(), transactionID)
		assert.NoError(t, err)
		assert.Equal(t, models.TransactionComplete, transaction.State)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("repeat execution returns stored result", func(t *testing.T) {
		transactionID := "6d4a2b1e-41d7-49a4-93f2-8a1e5d3c0a01"
		reason := models.ReasonInsufficientFunds

		mock.ExpectBegin()

		mock.ExpectQuery("FROM transactions").
			WithArgs(transactionID).
			WillReturnRows(transactionRows(transactionID, 1000, models.TransactionFailed, reason, "alice", "bob"))

		mock.ExpectRollback()

		transaction, err := service.Execute(context.Background(), transactionID)
		assert.NoError(t, err)
		assert.Equal(t, models.TransactionFailed, transaction.State)
		if assert.NotNil(t, transaction.StateReason) {
			assert.Equal(t, reason, *transaction.StateReason)
		}
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown transaction", func(t *testing.T) {
		missingID := "6d4a2b1e-41d7-49a4-93f2-8a1e5d3c0a06"

		mock.ExpectBegin()

		mock.ExpectQuery("FROM transactions").
			WithArgs(missingID).
			WillReturnError(sql.ErrNoRows)

		mock.ExpectRollback()

		_, err := service.Execute(context.Background(), missingID)
		assert.True(t, errors.Is(err, ErrNotFound))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("malformed transaction id", func(t *testing.T) {
		// Not a UUID: rejected before any storage work, same contract as an
		// unknown id.
		_, err := service.Execute(context.Background(), "abc")
		assert.True(t, errors.Is(err, ErrNotFound))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("disabled account fails transaction", func(t *testing.T) {
		transactionID := "6d4a2b1e-41d7-49a4-93f2-8a1e5d3c0a04"

		mock.ExpectBegin()

		mock.ExpectQuery("FROM transactions").
			WithArgs(transactionID).
			WillReturnRows(transactionRows(transactionID, 100, models.TransactionPending, nil, "alice", "bob"))

		mock.ExpectQuery("FROM accounts").
			WithArgs("alice").
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "currency_id", "balance", "system_account", "display_name", "disabled", "version", "date_created", "date_modified",
			}).AddRow("alice", "currency1", 5000, false, nil, true, 1, time.Now(), time.Now()))
		mock.ExpectQuery("FROM accounts").
			WithArgs("bob").
			WillReturnRows(lockedAccountRows("bob", 2000, false, 1))

		mock.ExpectExec("UPDATE transactions").
			WithArgs(models.TransactionFailed, models.ReasonAccountDisabled, sqlmock.AnyArg(), transactionID, models.TransactionPending).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectCommit()

		transaction, err := service.Execute(context.Background(), transactionID)
		assert.NoError(t, err)
		assert.Equal(t, models.TransactionFailed, transaction.State)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLedgerService_Execute_SelfTransfer(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := newTestLedgerService(db)

	transactionID := "6d4a2b1e-41d7-49a4-93f2-8a1e5d3c0a05"
	amount := int64(300)

	mock.ExpectBegin()

	mock.ExpectQuery("FROM transactions").
		WithArgs(transactionID).
		WillReturnRows(transactionRows(transactionID, amount, models.TransactionPending, nil, "alice", "alice"))

	// Self-transfer locks the row once
	mock.ExpectQuery("FROM accounts").
		WithArgs("alice").
		WillReturnRows(lockedAccountRows("alice", 5000, false, 1))

	// Both journal sides are written, balance is untouched
	mock.ExpectExec("INSERT INTO ledger_entries").
		WithArgs(transactionID, "alice", -amount, "DEBIT", int64(4700), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO ledger_entries").
		WithArgs(transactionID, "alice", amount, "CREDIT", int64(5000), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(2, 1))

	mock.ExpectExec("UPDATE transactions").
		WithArgs(models.TransactionComplete, nil, sqlmock.AnyArg(), transactionID, models.TransactionPending).
		WillReturnResult(sqlmock.NewResult(1, 1))

	mock.ExpectCommit()

	transaction, err := service.Execute(context.Background(), transactionID)
	assert.NoError(t, err)
	assert.Equal(t, models.TransactionComplete, transaction.State)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerService_lockAccounts_Ordering(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := newTestLedgerService(db)

	// Source sorts after dest, so dest must be locked first.
	mock.ExpectBegin()
	tx, _ := db.Begin()

	mock.ExpectQuery("FROM accounts").
		WithArgs("alice").
		WillReturnRows(lockedAccountRows("alice", 100, false, 1))
	mock.ExpectQuery("FROM accounts").
		WithArgs("zara").
		WillReturnRows(lockedAccountRows("zara", 200, false, 1))

	source, dest, err := service.lockAccounts(tx, "zara", "alice")
	assert.NoError(t, err)
	assert.Equal(t, "zara", source.ID)
	assert.Equal(t, int64(200), source.Balance)
	assert.Equal(t, "alice", dest.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
