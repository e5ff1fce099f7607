package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hyperion-ledger/hyperion/internal/models"
	"github.com/hyperion-ledger/hyperion/internal/services"
)

type PaymentRequestHandler struct {
	service   *services.PaymentRequestService
	validator *services.ValidationHelper
}

func NewPaymentRequestHandler(service *services.PaymentRequestService) *PaymentRequestHandler {
	return &PaymentRequestHandler{
		service:   service,
		validator: services.NewValidationHelper(),
	}
}

// Create creates a payment request
// @Summary Create payment request
// @Description Create a short-lived payment request and its QR code
// @Tags payment-requests
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{dest_account_id=string,amount=int64,description=string} true "Payment request"
// @Success 200 {object} object{code=string,dest_account_id=string,amount=int64,qr_png=string}
// @Failure 400 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /payment-requests [post]
func (h *PaymentRequestHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DestAccountID models.AccountID `json:"dest_account_id" validate:"required"`
		Amount        int64            `json:"amount" validate:"required,gt=0"`
		Description   *string          `json:"description" validate:"omitempty,max=500"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	request, qrImage, err := h.service.Create(r.Context(), req.DestAccountID.String(), req.Amount, req.Description)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), services.StatusForError(err), nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"code":            request.Code,
		"dest_account_id": request.DestAccountID,
		"amount":          request.Amount,
		"description":     request.Description,
		"qr_png":          qrImage,
	})
}

// Redeem redeems a payment request
// @Summary Redeem payment request
// @Description Redeem a payment request code into a pending transaction
// @Tags payment-requests
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param code path string true "Payment request code"
// @Param request body object{source_account_id=string} true "Paying account"
// @Success 200 {object} models.Transaction
// @Failure 400 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /payment-requests/{code}/redeem [post]
func (h *PaymentRequestHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	var req struct {
		SourceAccountID models.AccountID `json:"source_account_id" validate:"required"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	integrationID, _ := r.Context().Value("integrationID").(string)
	transaction, err := h.service.Redeem(r.Context(), code, req.SourceAccountID.String(), integrationID)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), services.StatusForError(err), nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(transaction)
}
