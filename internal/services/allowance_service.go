package services

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hyperion-ledger/hyperion/internal/config"
	"github.com/hyperion-ledger/hyperion/internal/models"
)

// AllowanceService manages per-account payout schedules. The schedule is
// persisted so a restart cannot reset a cooldown.
type AllowanceService struct {
	db           *sql.DB
	ledger       *LedgerService
	transactions *TransactionService
	cfg          *config.LedgerConfig
}

func NewAllowanceService(db *sql.DB, ledger *LedgerService, transactions *TransactionService, cfg *config.LedgerConfig) *AllowanceService {
	return &AllowanceService{
		db:           db,
		ledger:       ledger,
		transactions: transactions,
		cfg:          cfg,
	}
}

// GetAllowance returns the account's payout schedule
// @Summary Get allowance schedule
// @Description Payout schedule for an account; accounts with no claims yet get the default schedule, due immediately
// @Tags allowances
// @Produce json
// @Security BearerAuth
// @Param id path string true "Account ID"
// @Success 200 {object} models.Allowance
// @Failure 404 {object} ErrorResponse
// @Router /accounts/{id}/allowance [get]
func (s *AllowanceService) GetAllowance(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")

	exists, err := s.ledger.accounts.Exists(accountID)
	if err != nil {
		log.Printf("[ALLOWANCE] Account lookup failed for %s: %v", accountID, err)
		SendErrorResponse(w, "Failed to fetch allowance", http.StatusInternalServerError, nil)
		return
	}
	if !exists {
		SendErrorResponse(w, fmt.Sprintf("account %q not found", accountID), http.StatusNotFound, nil)
		return
	}

	allowance, err := s.fetch(accountID)
	if err == sql.ErrNoRows {
		allowance = s.defaultAllowance(accountID)
		err = nil
	}
	if err != nil {
		log.Printf("[ALLOWANCE] Failed to fetch allowance for %s: %v", accountID, err)
		SendErrorResponse(w, "Failed to fetch allowance", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(allowance)
}

// ClaimAllowance claims a due payout
// @Summary Claim allowance
// @Description Execute the scheduled payout if due; 409 with the next eligible time otherwise
// @Tags allowances
// @Produce json
// @Security BearerAuth
// @Param id path string true "Account ID"
// @Success 200 {object} models.Transaction
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /accounts/{id}/allowance/claim [post]
func (s *AllowanceService) ClaimAllowance(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")

	exists, err := s.ledger.accounts.Exists(accountID)
	if err != nil {
		log.Printf("[ALLOWANCE] Account lookup failed for %s: %v", accountID, err)
		SendErrorResponse(w, "Failed to claim allowance", http.StatusInternalServerError, nil)
		return
	}
	if !exists {
		SendErrorResponse(w, fmt.Sprintf("account %q not found", accountID), http.StatusNotFound, nil)
		return
	}

	allowance, err := s.claim(accountID)
	if err != nil {
		log.Printf("[ALLOWANCE] Claim failed for %s: %v", accountID, err)
		SendErrorResponse(w, "Failed to claim allowance", http.StatusInternalServerError, nil)
		return
	}
	if allowance == nil {
		current, err := s.fetch(accountID)
		if err != nil {
			log.Printf("[ALLOWANCE] Failed to fetch allowance for %s: %v", accountID, err)
			SendErrorResponse(w, "Failed to claim allowance", http.StatusInternalServerError, nil)
			return
		}
		SendErrorResponse(w,
			fmt.Sprintf("allowance not available until %s", current.NextPayoutAt.UTC().Format(time.RFC3339)),
			http.StatusConflict, nil)
		return
	}

	description := "Recurring payout"
	integrationID, _ := r.Context().Value("integrationID").(string)
	transaction, err := s.transactions.Create(r.Context(), allowance.SourceAccountID, accountID, allowance.Amount, &description, integrationID)
	if err != nil {
		log.Printf("[ALLOWANCE] Failed to create payout transaction for %s: %v", accountID, err)
		s.reopen(accountID)
		SendErrorResponse(w, "Failed to claim allowance", http.StatusInternalServerError, nil)
		return
	}

	executed, err := s.ledger.Execute(r.Context(), transaction.ID)
	if err != nil {
		log.Printf("[ALLOWANCE] Failed to execute payout %s for %s: %v", transaction.ID, accountID, err)
		s.reopen(accountID)
		SendErrorResponse(w, "Failed to claim allowance", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[ALLOWANCE] Paid out %d to %s (transaction %s, state %s)", allowance.Amount, accountID, executed.ID, executed.State)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(executed)
}

// claim advances the schedule if the payout is due. Returns the claimed
// allowance, or nil when the cooldown has not elapsed. The single UPDATE with
// the due-time predicate makes concurrent claims race-safe: only one wins.
func (s *AllowanceService) claim(accountID string) (*models.Allowance, error) {
	_, err := s.db.Exec(`
		INSERT INTO allowances (account_id, source_account_id, amount, period_seconds, next_payout_at, date_modified)
		VALUES ($1, $2, $3, $4, to_timestamp(0), NOW())
		ON CONFLICT (account_id) DO NOTHING`,
		accountID, s.cfg.PayoutAccountID, s.cfg.AllowanceAmount, int64(s.cfg.AllowancePeriod.Seconds()))
	if err != nil {
		return nil, fmt.Errorf("ensure allowance row: %w", err)
	}

	row := s.db.QueryRow(`
		UPDATE allowances
		SET next_payout_at = NOW() + (period_seconds * interval '1 second'), date_modified = NOW()
		WHERE account_id = $1 AND next_payout_at <= NOW()
		RETURNING account_id, source_account_id, amount, period_seconds, next_payout_at, date_modified`,
		accountID)

	var allowance models.Allowance
	err = row.Scan(
		&allowance.AccountID, &allowance.SourceAccountID, &allowance.Amount,
		&allowance.Period, &allowance.NextPayoutAt, &allowance.DateModified,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim allowance: %w", err)
	}
	return &allowance, nil
}

// reopen makes the schedule immediately claimable again after a claim whose
// payout could not be recorded. The cooldown must not be consumed by a
// storage fault.
func (s *AllowanceService) reopen(accountID string) {
	_, err := s.db.Exec(`
		UPDATE allowances
		SET next_payout_at = NOW(), date_modified = NOW()
		WHERE account_id = $1`, accountID)
	if err != nil {
		log.Printf("[ALLOWANCE] Failed to reopen schedule for %s: %v", accountID, err)
	}
}

func (s *AllowanceService) fetch(accountID string) (*models.Allowance, error) {
	var allowance models.Allowance
	err := s.db.QueryRow(`
		SELECT account_id, source_account_id, amount, period_seconds, next_payout_at, date_modified
		FROM allowances
		WHERE account_id = $1`, accountID).Scan(
		&allowance.AccountID, &allowance.SourceAccountID, &allowance.Amount,
		&allowance.Period, &allowance.NextPayoutAt, &allowance.DateModified,
	)
	if err != nil {
		return nil, err
	}
	return &allowance, nil
}

func (s *AllowanceService) defaultAllowance(accountID string) *models.Allowance {
	return &models.Allowance{
		AccountID:       accountID,
		SourceAccountID: s.cfg.PayoutAccountID,
		Amount:          s.cfg.AllowanceAmount,
		Period:          int64(s.cfg.AllowancePeriod.Seconds()),
	}
}
