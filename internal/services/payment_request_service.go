package services

import (
	"bytes"
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"image/png"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/skip2/go-qrcode"

	"github.com/hyperion-ledger/hyperion/internal/models"
)

// PaymentRequest is a short-lived invitation to pay: the payee fixes the
// destination and amount, the payer redeems the code into a pending
// transaction. Held in Redis only; expiry is the TTL.
type PaymentRequest struct {
	Code          string  `json:"code"`
	DestAccountID string  `json:"dest_account_id"`
	Amount        int64   `json:"amount"`
	Description   *string `json:"description"`
	CreatedAt     int64   `json:"created_at"`
}

type PaymentRequestService struct {
	db           *sql.DB
	redis        *redis.Client
	transactions *TransactionService
	ttl          time.Duration
}

func NewPaymentRequestService(db *sql.DB, redisClient *redis.Client, transactions *TransactionService, ttl time.Duration) *PaymentRequestService {
	return &PaymentRequestService{
		db:           db,
		redis:        redisClient,
		transactions: transactions,
		ttl:          ttl,
	}
}

// Create stores a payment request and renders its code as a QR PNG
// (base64). The code is random and single-use.
func (s *PaymentRequestService) Create(ctx context.Context, destAccountID string, amount int64, description *string) (*PaymentRequest, string, error) {
	if s.redis == nil {
		return nil, "", fmt.Errorf("payment requests unavailable without Redis")
	}
	if amount <= 0 {
		return nil, "", ErrInvalidAmount
	}

	exists, err := s.accountExists(ctx, destAccountID)
	if err != nil {
		return nil, "", err
	}
	if !exists {
		return nil, "", fmt.Errorf("account %q %w", destAccountID, ErrNotFound)
	}

	request := &PaymentRequest{
		Code:          generateRequestCode(),
		DestAccountID: destAccountID,
		Amount:        amount,
		Description:   description,
		CreatedAt:     time.Now().Unix(),
	}

	data, err := json.Marshal(request)
	if err != nil {
		return nil, "", err
	}

	if err := s.redis.Set(ctx, paymentRequestKey(request.Code), data, s.ttl).Err(); err != nil {
		return nil, "", err
	}

	qr, err := qrcode.New(request.Code, qrcode.Medium)
	if err != nil {
		return nil, "", err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return nil, "", err
	}

	return request, base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Redeem consumes a payment request and records the pending transaction. The
// request is deleted before the transaction is created so a code can never
// pay out twice.
func (s *PaymentRequestService) Redeem(ctx context.Context, code, sourceAccountID, integrationID string) (*models.Transaction, error) {
	if s.redis == nil {
		return nil, fmt.Errorf("payment requests unavailable without Redis")
	}

	// The code is destroyed on read, so the payer must be known before the
	// request is consumed; a typo'd account must not burn the code.
	exists, err := s.accountExists(ctx, sourceAccountID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("account %q %w", sourceAccountID, ErrNotFound)
	}

	data, err := s.redis.GetDel(ctx, paymentRequestKey(code)).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("payment request %w", ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	var request PaymentRequest
	if err := json.Unmarshal(data, &request); err != nil {
		return nil, err
	}

	return s.transactions.Create(ctx, sourceAccountID, request.DestAccountID, request.Amount, request.Description, integrationID)
}

func (s *PaymentRequestService) accountExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM accounts WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

func generateRequestCode() string {
	raw := make([]byte, 16)
	rand.Read(raw)
	return hex.EncodeToString(raw)
}

func paymentRequestKey(code string) string {
	return fmt.Sprintf("paymentreq:%s", code)
}
