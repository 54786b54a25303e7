/*
handlers.go - HTTP API handlers for the consigne engine

PURPOSE:
  Exposes the operation lifecycle and balance queries via REST. Handles
  HTTP request/response, JSON serialization, and delegates to the
  domain service.

ENDPOINTS:
  Operations:
    POST   /api/operations/{kind}                Create draft
    GET    /api/operations/{kind}/{id}           Fetch one operation
    PUT    /api/operations/{kind}/{id}           Edit draft
    DELETE /api/operations/{kind}/{id}           Delete draft
    POST   /api/operations/{kind}/{id}/validate  Validate + recalculate
    GET    /api/operations/{kind}/{id}/statement Receipt window
    GET    /api/operations?client=&site=&status= Chronological history

  Balances:
    GET    /api/balances/{client}/{site}             Stored balance
    POST   /api/balances/{client}/{site}/recalculate Explicit refresh

ERROR HANDLING:
  Typed engine rejections map to structured JSON with a stable code and
  the rejection's payload:
  - 400: Malformed input, unknown kind, negative quantities
  - 404: Operation not found
  - 409: Immutable operation, concurrent modification
  - 422: Admission rejections (insufficient balance, chain violations)
  - 503: Recalculation failed (retryable)
  - 500: Everything else

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - consigne/service.go: The domain logic behind every endpoint
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/palletdesk/consigne-engine/consigne"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service  *consigne.Service
	Log      *logrus.Logger
	validate *validator.Validate
}

// NewHandler creates a new handler backed by the given service.
func NewHandler(service *consigne.Service, log *logrus.Logger) *Handler {
	return &Handler{
		Service:  service,
		Log:      log,
		validate: validator.New(),
	}
}

// =============================================================================
// OPERATION HANDLERS
// =============================================================================

// CreateOperation creates a draft of the kind in the URL.
func (h *Handler) CreateOperation(w http.ResponseWriter, r *http.Request) {
	kind := consigne.Kind(chi.URLParam(r, "kind"))
	if !kind.Valid() {
		writeError(w, http.StatusBadRequest, "unknown_kind", "Unknown operation kind", nil)
		return
	}

	var req CreateOperationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "Invalid request body", nil)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), nil)
		return
	}

	op := consigne.Operation{
		Kind:               kind,
		Client:             consigne.ClientCode(req.ClientCode),
		Site:               consigne.SiteCode(req.SiteCode),
		Amount:             decimal.NewFromFloat(req.Amount),
		PalletsOut:         req.PalletsOut,
		PalletsReturned:    req.PalletsReturned,
		PalletsToDeconsign: req.PalletsToDeconsign,
		PalletsDeconsigned: req.PalletsDeconsigned,
	}
	if req.BusinessDate != "" {
		d, err := time.Parse("2006-01-02", req.BusinessDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "business_date must be YYYY-MM-DD", nil)
			return
		}
		op.BusinessDate = d
	}

	created, err := h.Service.Create(r.Context(), op)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOperationDTO(created))
}

// GetOperation returns one operation.
func (h *Handler) GetOperation(w http.ResponseWriter, r *http.Request) {
	kind, id, ok := operationRef(w, r)
	if !ok {
		return
	}

	op, err := h.Service.Get(r.Context(), kind, id)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOperationDTO(op))
}

// UpdateOperation edits a draft.
func (h *Handler) UpdateOperation(w http.ResponseWriter, r *http.Request) {
	kind, id, ok := operationRef(w, r)
	if !ok {
		return
	}

	var req UpdateOperationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "Invalid request body", nil)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), nil)
		return
	}

	existing, err := h.Service.Get(r.Context(), kind, id)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	op := consigne.Operation{
		Kind:               kind,
		ID:                 id,
		Client:             existing.Client,
		Site:               existing.Site,
		Version:            req.Version,
		Amount:             decimal.NewFromFloat(req.Amount),
		PalletsOut:         req.PalletsOut,
		PalletsReturned:    req.PalletsReturned,
		PalletsToDeconsign: req.PalletsToDeconsign,
		PalletsDeconsigned: req.PalletsDeconsigned,
	}
	if req.BusinessDate != "" {
		d, err := time.Parse("2006-01-02", req.BusinessDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "business_date must be YYYY-MM-DD", nil)
			return
		}
		op.BusinessDate = d
	}

	updated, err := h.Service.Update(r.Context(), op)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOperationDTO(updated))
}

// DeleteOperation removes a draft.
func (h *Handler) DeleteOperation(w http.ResponseWriter, r *http.Request) {
	kind, id, ok := operationRef(w, r)
	if !ok {
		return
	}

	if err := h.Service.Delete(r.Context(), kind, id); err != nil {
		h.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ValidateOperation flips a draft to Validated and returns the
// recalculated balance.
func (h *Handler) ValidateOperation(w http.ResponseWriter, r *http.Request) {
	kind, id, ok := operationRef(w, r)
	if !ok {
		return
	}

	op, balance, err := h.Service.Validate(r.Context(), kind, id)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	value, _ := balance.Float64()
	writeJSON(w, http.StatusOK, ValidateResponseDTO{
		Operation: toOperationDTO(op),
		Balance:   value,
	})
}

// GetStatement returns the before/after receipt window for an operation.
func (h *Handler) GetStatement(w http.ResponseWriter, r *http.Request) {
	kind, id, ok := operationRef(w, r)
	if !ok {
		return
	}

	op, err := h.Service.Get(r.Context(), kind, id)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	st, err := h.Service.Statement(r.Context(), kind, id)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatementDTO(op, st))
}

// ListOperations returns the chronological history for a balance key.
func (h *Handler) ListOperations(w http.ResponseWriter, r *http.Request) {
	client := r.URL.Query().Get("client")
	site := r.URL.Query().Get("site")
	if client == "" || site == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "client and site query parameters are required", nil)
		return
	}

	filter := consigne.AnyStatus
	switch r.URL.Query().Get("status") {
	case "":
	case string(consigne.StatusDraft):
		filter = consigne.DraftOnly
	case string(consigne.StatusValidated):
		filter = consigne.ValidatedOnly
	default:
		writeError(w, http.StatusBadRequest, "invalid_request", "status must be draft or validated", nil)
		return
	}

	key := consigne.BalanceKey{Client: consigne.ClientCode(client), Site: consigne.SiteCode(site)}
	ops, err := h.Service.Operations(r.Context(), key, filter)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOperationDTOs(ops))
}

// =============================================================================
// BALANCE HANDLERS
// =============================================================================

// GetBalance returns the persisted balance row.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	key := balanceKey(r)

	value, err := h.Service.Balance(r.Context(), key)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(key, value))
}

// RecalculateBalance triggers a full aggregate re-scan for the key.
func (h *Handler) RecalculateBalance(w http.ResponseWriter, r *http.Request) {
	key := balanceKey(r)

	value, err := h.Service.Recalculate(r.Context(), key)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(key, value))
}

// =============================================================================
// HELPERS
// =============================================================================

func operationRef(w http.ResponseWriter, r *http.Request) (consigne.Kind, consigne.OperationID, bool) {
	kind := consigne.Kind(chi.URLParam(r, "kind"))
	if !kind.Valid() {
		writeError(w, http.StatusBadRequest, "unknown_kind", "Unknown operation kind", nil)
		return "", "", false
	}
	id := consigne.OperationID(chi.URLParam(r, "id"))
	return kind, id, true
}

func balanceKey(r *http.Request) consigne.BalanceKey {
	return consigne.BalanceKey{
		Client: consigne.ClientCode(chi.URLParam(r, "client")),
		Site:   consigne.SiteCode(chi.URLParam(r, "site")),
	}
}

// writeEngineError maps typed engine errors onto status codes and
// structured payloads.
func (h *Handler) writeEngineError(w http.ResponseWriter, err error) {
	var insufficient *consigne.InsufficientBalanceError
	if errors.As(err, &insufficient) {
		current, _ := insufficient.Current.Float64()
		required, _ := insufficient.Required.Float64()
		missing, _ := insufficient.Missing.Float64()
		writeError(w, http.StatusUnprocessableEntity, "insufficient_balance", insufficient.Error(), map[string]any{
			"current":  current,
			"required": required,
			"missing":  missing,
		})
		return
	}

	var exceeds *consigne.ExceedsAvailableError
	if errors.As(err, &exceeds) {
		writeError(w, http.StatusUnprocessableEntity, "exceeds_available", exceeds.Error(), map[string]any{
			"requested":                 exceeds.Requested,
			"total_consigned":           exceeds.TotalConsigned,
			"total_already_deconsigned": exceeds.TotalDeconsigned,
			"available":                 exceeds.Available,
		})
		return
	}

	switch {
	case errors.Is(err, consigne.ErrInvalidPalletCount):
		writeError(w, http.StatusUnprocessableEntity, "invalid_pallet_count", err.Error(), nil)
	case errors.Is(err, consigne.ErrExceedsReturned):
		writeError(w, http.StatusUnprocessableEntity, "exceeds_returned", err.Error(), nil)
	case errors.Is(err, consigne.ErrExceedsRequested):
		writeError(w, http.StatusUnprocessableEntity, "exceeds_requested", err.Error(), nil)
	case errors.Is(err, consigne.ErrNegativeQuantity):
		writeError(w, http.StatusBadRequest, "negative_quantity", err.Error(), nil)
	case errors.Is(err, consigne.ErrUnknownKind):
		writeError(w, http.StatusBadRequest, "unknown_kind", err.Error(), nil)
	case errors.Is(err, consigne.ErrOperationNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, consigne.ErrOperationImmutable):
		writeError(w, http.StatusConflict, "operation_immutable", err.Error(), nil)
	case errors.Is(err, consigne.ErrConcurrentModification):
		writeError(w, http.StatusConflict, "concurrent_modification", err.Error(), nil)
	case errors.Is(err, consigne.ErrRecalculationFailed):
		if h.Log != nil {
			h.Log.WithFields(logrus.Fields{
				"module":   "api",
				"funcName": "writeEngineError",
			}).Error(err.Error())
		}
		writeError(w, http.StatusServiceUnavailable, "recalculation_failed", err.Error(), nil)
	default:
		if h.Log != nil {
			h.Log.WithFields(logrus.Fields{
				"module":   "api",
				"funcName": "writeEngineError",
			}).Error(err.Error())
		}
		writeError(w, http.StatusInternalServerError, "internal_error", "Internal server error", nil)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code, Details: details})
}
