package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"

	"github.com/hyperion-ledger/hyperion/internal/models"
)

func withIntegration(r *http.Request, integrationID string) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), "integrationID", integrationID))
}

func TestIntegrationService_GetIntegration(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewIntegrationService(db, time.Hour)

	mock.ExpectQuery("FROM integrations").
		WithArgs("integration1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "currency_id", "date_created"}).
			AddRow("integration1", "bootstrap", "currency1", time.Now()))

	req := withIntegration(httptest.NewRequest("GET", "/integration", nil), "integration1")
	w := httptest.NewRecorder()
	service.GetIntegration(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var integration models.Integration
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &integration))
	assert.Equal(t, "integration1", integration.ID)
	assert.Equal(t, "currency1", integration.CurrencyID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIntegrationService_GetCurrency(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewIntegrationService(db, time.Hour)

	mock.ExpectQuery("JOIN integrations").
		WithArgs("integration1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "name", "singular_form", "plural_form", "shortcode", "owner_id", "date_created", "date_modified",
		}).AddRow("currency1", "Hyperion Coin", "coin", "coins", "HYP", "system", time.Now(), time.Now()))

	req := withIntegration(httptest.NewRequest("GET", "/integration/currency", nil), "integration1")
	w := httptest.NewRecorder()
	service.GetCurrency(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var currency models.Currency
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &currency))
	assert.Equal(t, "coins", currency.PluralForm)
	assert.Equal(t, "HYP", currency.Shortcode)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIntegrationService_CreateConnection(t *testing.T) {
	viper.Set("jwt.secret_key", "test-signing-key")
	defer viper.Set("jwt.secret_key", "")

	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewIntegrationService(db, time.Hour)

	t.Run("issues a connection token", func(t *testing.T) {
		mock.ExpectQuery("INSERT INTO connections").
			WithArgs(sqlmock.AnyArg(), "integration1", "discord-bot").
			WillReturnRows(sqlmock.NewRows([]string{"date_created", "date_last_seen"}).
				AddRow(time.Now(), time.Now()))

		body := `{"client_name": "discord-bot"}`
		req := withIntegration(httptest.NewRequest("POST", "/integration/connection", strings.NewReader(body)), "integration1")
		w := httptest.NewRecorder()
		service.CreateConnection(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var response map[string]any
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, "integration1", response["integration_id"])
		assert.Equal(t, "discord-bot", response["client_name"])

		tokenString, _ := response["token"].(string)
		assert.NotEmpty(t, tokenString)

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			return []byte("test-signing-key"), nil
		})
		assert.NoError(t, err)
		assert.True(t, token.Valid)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing client name rejected", func(t *testing.T) {
		req := withIntegration(httptest.NewRequest("POST", "/integration/connection", strings.NewReader(`{}`)), "integration1")
		w := httptest.NewRecorder()
		service.CreateConnection(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestIntegrationService_GetConnection(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewIntegrationService(db, time.Hour)

	t.Run("connection token updates last seen", func(t *testing.T) {
		mock.ExpectQuery("UPDATE connections").
			WithArgs("connection1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "integration_id", "client_name", "date_created", "date_last_seen"}).
				AddRow("connection1", "integration1", "discord-bot", time.Now(), time.Now()))

		req := httptest.NewRequest("GET", "/integration/connection", nil)
		req = req.WithContext(context.WithValue(req.Context(), "connectionID", "connection1"))
		w := httptest.NewRecorder()
		service.GetConnection(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var connection models.Connection
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &connection))
		assert.Equal(t, "connection1", connection.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("integration token has no connection", func(t *testing.T) {
		req := withIntegration(httptest.NewRequest("GET", "/integration/connection", nil), "integration1")
		w := httptest.NewRecorder()
		service.GetConnection(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)

		var response ErrorResponse
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Contains(t, response.Detail, "no connection established")
	})
}
