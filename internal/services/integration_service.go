package services

import (
	"database/sql"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/hyperion-ledger/hyperion/internal/models"
)

// IntegrationService serves the read-mostly registry: the deployment
// currency, the authenticated integration and its connections.
type IntegrationService struct {
	db            *sql.DB
	validator     *ValidationHelper
	connectionTTL time.Duration
}

func NewIntegrationService(db *sql.DB, connectionTTL time.Duration) *IntegrationService {
	return &IntegrationService{
		db:            db,
		validator:     NewValidationHelper(),
		connectionTTL: connectionTTL,
	}
}

// GetIntegration returns the authenticated integration
// @Summary Get integration
// @Description Details of the integration the caller is authenticated as
// @Tags integration
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.Integration
// @Failure 404 {object} ErrorResponse
// @Router /integration [get]
func (s *IntegrationService) GetIntegration(w http.ResponseWriter, r *http.Request) {
	integrationID, _ := r.Context().Value("integrationID").(string)

	var integration models.Integration
	err := s.db.QueryRow(`
		SELECT id, name, currency_id, date_created
		FROM integrations
		WHERE id = $1`, integrationID).Scan(
		&integration.ID, &integration.Name, &integration.CurrencyID, &integration.DateCreated,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "integration not found", http.StatusNotFound, nil)
		} else {
			log.Printf("[INTEGRATION] Failed to fetch integration %s: %v", integrationID, err)
			SendErrorResponse(w, "Failed to fetch integration", http.StatusInternalServerError, nil)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(integration)
}

// GetCurrency returns the integration's currency
// @Summary Get currency
// @Description Display metadata of the currency the integration is connected to
// @Tags integration
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.Currency
// @Failure 404 {object} ErrorResponse
// @Router /integration/currency [get]
func (s *IntegrationService) GetCurrency(w http.ResponseWriter, r *http.Request) {
	integrationID, _ := r.Context().Value("integrationID").(string)

	var currency models.Currency
	err := s.db.QueryRow(`
		SELECT c.id, c.name, c.singular_form, c.plural_form, c.shortcode, c.owner_id, c.date_created, c.date_modified
		FROM currencies c
		JOIN integrations i ON i.currency_id = c.id
		WHERE i.id = $1`, integrationID).Scan(
		&currency.ID, &currency.Name, &currency.SingularForm, &currency.PluralForm,
		&currency.Shortcode, &currency.OwnerID, &currency.DateCreated, &currency.DateModified,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "currency not found", http.StatusNotFound, nil)
		} else {
			log.Printf("[INTEGRATION] Failed to fetch currency for %s: %v", integrationID, err)
			SendErrorResponse(w, "Failed to fetch currency", http.StatusInternalServerError, nil)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(currency)
}

type createConnectionRequest struct {
	ClientName string `json:"client_name" validate:"required,max=120"`
}

// CreateConnection establishes a connection
// @Summary Create connection
// @Description Establish a connection for the integration and issue a short-lived token for it
// @Tags integration
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param connection body createConnectionRequest true "Connection details"
// @Success 200 {object} object{id=string,integration_id=string,client_name=string,token=string}
// @Failure 400 {object} ErrorResponse
// @Router /integration/connection [post]
func (s *IntegrationService) CreateConnection(w http.ResponseWriter, r *http.Request) {
	integrationID, _ := r.Context().Value("integrationID").(string)

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req createConnectionRequest
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

	connection := models.Connection{
		ID:            uuid.NewString(),
		IntegrationID: integrationID,
		ClientName:    req.ClientName,
	}

	err := s.db.QueryRow(`
		INSERT INTO connections (id, integration_id, client_name, date_created, date_last_seen)
		VALUES ($1, $2, $3, NOW(), NOW())
		RETURNING date_created, date_last_seen`,
		connection.ID, connection.IntegrationID, connection.ClientName).Scan(
		&connection.DateCreated, &connection.DateLastSeen,
	)
	if err != nil {
		log.Printf("[INTEGRATION] Failed to create connection for %s: %v", integrationID, err)
		SendErrorResponse(w, "Failed to create connection", http.StatusInternalServerError, nil)
		return
	}

	token, err := GenerateConnectionJWT(integrationID, connection.ID, s.connectionTTL)
	if err != nil {
		log.Printf("[INTEGRATION] Failed to issue connection token for %s: %v", connection.ID, err)
		SendErrorResponse(w, "Failed to create connection", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[INTEGRATION] Connection %s established for integration %s (%s)", connection.ID, integrationID, req.ClientName)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"id":             connection.ID,
		"integration_id": connection.IntegrationID,
		"client_name":    connection.ClientName,
		"date_created":   connection.DateCreated,
		"date_last_seen": connection.DateLastSeen,
		"token":          token,
	})
}

// GetConnection returns the caller's connection
// @Summary Get connection
// @Description Details of the connection the caller is using; requires a connection token
// @Tags integration
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.Connection
// @Failure 404 {object} ErrorResponse
// @Router /integration/connection [get]
func (s *IntegrationService) GetConnection(w http.ResponseWriter, r *http.Request) {
	connectionID, _ := r.Context().Value("connectionID").(string)
	if connectionID == "" {
		SendErrorResponse(w, "no connection established for this token", http.StatusNotFound, nil)
		return
	}

	var connection models.Connection
	err := s.db.QueryRow(`
		UPDATE connections
		SET date_last_seen = NOW()
		WHERE id = $1
		RETURNING id, integration_id, client_name, date_created, date_last_seen`,
		connectionID).Scan(
		&connection.ID, &connection.IntegrationID, &connection.ClientName,
		&connection.DateCreated, &connection.DateLastSeen,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "connection not found", http.StatusNotFound, nil)
		} else {
			log.Printf("[INTEGRATION] Failed to fetch connection %s: %v", connectionID, err)
			SendErrorResponse(w, "Failed to fetch connection", http.StatusInternalServerError, nil)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(connection)
}
