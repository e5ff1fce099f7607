package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"

	"github.com/hyperion-ledger/hyperion/internal/config"
	"github.com/hyperion-ledger/hyperion/internal/models"
)

func newTestAllowanceService(db *sql.DB) *AllowanceService {
	accounts := NewAccountService(db, nil, "currency1", time.Minute)
	transactions := NewTransactionService(db, accounts, "currency1")
	ledger := NewLedgerService(db, accounts, transactions)
	cfg := &config.LedgerConfig{
		PayoutAccountID: "recurring-payout",
		AllowanceAmount: 10,
		AllowancePeriod: 24 * time.Hour,
	}
	return NewAllowanceService(db, ledger, transactions, cfg)
}

func allowanceRows(accountID string, nextPayoutAt time.Time) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"account_id", "source_account_id", "amount", "period_seconds", "next_payout_at", "date_modified",
	}).AddRow(accountID, "recurring-payout", int64(10), int64(86400), nextPayoutAt, time.Now())
}

func TestAllowanceService_claim(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := newTestAllowanceService(db)

	t.Run("due payout is claimed", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO allowances").
			WithArgs("alice", "recurring-payout", int64(10), int64(86400)).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectQuery("UPDATE allowances").
			WithArgs("alice").
			WillReturnRows(allowanceRows("alice", time.Now().Add(24*time.Hour)))

		allowance, err := service.claim("alice")
		assert.NoError(t, err)
		if assert.NotNil(t, allowance) {
			assert.Equal(t, "recurring-payout", allowance.SourceAccountID)
			assert.Equal(t, int64(10), allowance.Amount)
		}
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("cooldown not elapsed", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO allowances").
			WithArgs("alice", "recurring-payout", int64(10), int64(86400)).
			WillReturnResult(sqlmock.NewResult(0, 0))

		// The conditional UPDATE matches no row while next_payout_at is in
		// the future.
		mock.ExpectQuery("UPDATE allowances").
			WithArgs("alice").
			WillReturnError(sql.ErrNoRows)

		allowance, err := service.claim("alice")
		assert.NoError(t, err)
		assert.Nil(t, allowance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAllowanceService_GetAllowance(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := newTestAllowanceService(db)

	getAllowance := func(id string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("GET", "/accounts/"+id+"/allowance", nil)
		rctx := chi.NewRouteContext()
		rctx.URLParams.Add("id", id)
		req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
		w := httptest.NewRecorder()
		service.GetAllowance(w, req)
		return w
	}

	t.Run("existing schedule", func(t *testing.T) {
		expectAccountExists(mock, "alice", true)

		nextPayout := time.Now().Add(6 * time.Hour)
		mock.ExpectQuery("FROM allowances").
			WithArgs("alice").
			WillReturnRows(allowanceRows("alice", nextPayout))

		w := getAllowance("alice")
		assert.Equal(t, http.StatusOK, w.Code)

		var allowance models.Allowance
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &allowance))
		assert.Equal(t, int64(10), allowance.Amount)
		assert.False(t, allowance.Due(time.Now()))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no claims yet returns default schedule", func(t *testing.T) {
		expectAccountExists(mock, "bob", true)

		mock.ExpectQuery("FROM allowances").
			WithArgs("bob").
			WillReturnError(sql.ErrNoRows)

		w := getAllowance("bob")
		assert.Equal(t, http.StatusOK, w.Code)

		var allowance models.Allowance
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &allowance))
		assert.Equal(t, "recurring-payout", allowance.SourceAccountID)
		assert.True(t, allowance.Due(time.Now()))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown account", func(t *testing.T) {
		expectAccountExists(mock, "ghost", false)

		w := getAllowance("ghost")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAllowanceService_ClaimAllowance_PayoutFailureReopensSchedule(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := newTestAllowanceService(db)

	expectAccountExists(mock, "alice", true)

	mock.ExpectExec("INSERT INTO allowances").
		WithArgs("alice", "recurring-payout", int64(10), int64(86400)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	mock.ExpectQuery("UPDATE allowances").
		WithArgs("alice").
		WillReturnRows(allowanceRows("alice", time.Now().Add(24*time.Hour)))

	// The payout transaction cannot be created; the claimed cooldown must be
	// handed back.
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("recurring-payout").
		WillReturnError(assert.AnError)

	mock.ExpectExec("UPDATE allowances").
		WithArgs("alice").
		WillReturnResult(sqlmock.NewResult(1, 1))

	req := httptest.NewRequest("POST", "/accounts/alice/allowance/claim", nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", "alice")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	w := httptest.NewRecorder()
	service.ClaimAllowance(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAllowanceService_ClaimAllowance_NotDue(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := newTestAllowanceService(db)

	expectAccountExists(mock, "alice", true)

	mock.ExpectExec("INSERT INTO allowances").
		WithArgs("alice", "recurring-payout", int64(10), int64(86400)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	mock.ExpectQuery("UPDATE allowances").
		WithArgs("alice").
		WillReturnError(sql.ErrNoRows)

	// Handler reloads the row to report when the payout becomes eligible.
	mock.ExpectQuery("FROM allowances").
		WithArgs("alice").
		WillReturnRows(allowanceRows("alice", time.Now().Add(12*time.Hour)))

	req := httptest.NewRequest("POST", "/accounts/alice/allowance/claim", nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", "alice")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	w := httptest.NewRecorder()
	service.ClaimAllowance(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)

	var response ErrorResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Contains(t, response.Detail, "allowance not available until")
	assert.NoError(t, mock.ExpectationsWereMet())
}
