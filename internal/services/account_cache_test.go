package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"

	"github.com/hyperion-ledger/hyperion/internal/models"
)

func TestAccountService_CacheHit(t *testing.T) {
	redisClient, redisMock := redismock.NewClientMock()
	service := NewAccountService(nil, redisClient, "currency1", 30*time.Second)

	cached := models.Account{
		ID:               "alice",
		CurrencyID:       "currency1",
		Balance:          5000,
		EffectiveBalance: 4200,
		DateCreated:      time.Now(),
		DateModified:     time.Now(),
	}
	data, err := json.Marshal(&cached)
	assert.NoError(t, err)

	redisMock.ExpectGet("account:alice").SetVal(string(data))

	req := httptest.NewRequest("GET", "/accounts/alice", nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", "alice")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	w := httptest.NewRecorder()

	// No database round trip on a cache hit; db is nil on purpose.
	service.GetAccount(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var account models.Account
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &account))
	assert.Equal(t, int64(5000), account.Balance)
	assert.NoError(t, redisMock.ExpectationsWereMet())
}

func TestAccountService_InvalidateCache(t *testing.T) {
	redisClient, redisMock := redismock.NewClientMock()
	service := NewAccountService(nil, redisClient, "currency1", 30*time.Second)

	redisMock.ExpectDel("account:alice", "account:bob").SetVal(2)

	service.InvalidateCache(context.Background(), "alice", "bob")
	assert.NoError(t, redisMock.ExpectationsWereMet())
}

func TestAccountService_CacheDisabled(t *testing.T) {
	service := NewAccountService(nil, nil, "currency1", 30*time.Second)

	// All cache paths are no-ops without Redis.
	account, ok := service.cacheGet(context.Background(), "alice")
	assert.False(t, ok)
	assert.Nil(t, account)

	service.cacheSet(context.Background(), &models.Account{ID: "alice"})
	service.InvalidateCache(context.Background(), "alice")
}
