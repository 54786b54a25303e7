/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Request structs carry go-playground/validator tags; handlers run the
  shared validator before touching domain logic. Cross-operation rules
  (balance coverage, deconsignation chains) stay in the engine - tags
  only cover shape.

SEE ALSO:
  - handlers.go: Uses these types
  - consigne/types.go: The domain model behind them
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/palletdesk/consigne-engine/consigne"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// CreateOperationRequest creates a draft of any kind. Quantity fields not
// belonging to the kind are ignored.
type CreateOperationRequest struct {
	ClientCode   string `json:"client_code" validate:"required"`
	SiteCode     string `json:"site_code" validate:"required"`
	BusinessDate string `json:"business_date,omitempty"`

	Amount             float64 `json:"amount,omitempty" validate:"gte=0"`
	PalletsOut         int     `json:"pallets_out,omitempty" validate:"gte=0"`
	PalletsReturned    int     `json:"pallets_returned,omitempty" validate:"gte=0"`
	PalletsToDeconsign int     `json:"pallets_to_deconsign,omitempty" validate:"gte=0"`
	PalletsDeconsigned int     `json:"pallets_deconsigned,omitempty" validate:"gte=0"`
}

// UpdateOperationRequest edits a draft. Version must match the stored
// record for the edit to win.
type UpdateOperationRequest struct {
	Version      int    `json:"version" validate:"gte=1"`
	BusinessDate string `json:"business_date,omitempty"`

	Amount             float64 `json:"amount,omitempty" validate:"gte=0"`
	PalletsOut         int     `json:"pallets_out,omitempty" validate:"gte=0"`
	PalletsReturned    int     `json:"pallets_returned,omitempty" validate:"gte=0"`
	PalletsToDeconsign int     `json:"pallets_to_deconsign,omitempty" validate:"gte=0"`
	PalletsDeconsigned int     `json:"pallets_deconsigned,omitempty" validate:"gte=0"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// OperationDTO represents one operation record.
type OperationDTO struct {
	ID           string `json:"id"`
	Kind         string `json:"kind"`
	ClientCode   string `json:"client_code"`
	SiteCode     string `json:"site_code"`
	Status       string `json:"status"`
	CreatedAt    string `json:"created_at"`
	BusinessDate string `json:"business_date,omitempty"`
	Version      int    `json:"version"`

	Amount             float64 `json:"amount,omitempty"`
	PalletsOut         int     `json:"pallets_out,omitempty"`
	PalletsReturned    int     `json:"pallets_returned,omitempty"`
	PalletsToDeconsign int     `json:"pallets_to_deconsign,omitempty"`
	PalletsDeconsigned int     `json:"pallets_deconsigned,omitempty"`
}

// BalanceDTO represents the persisted balance for one (client, site).
// PalletEquivalent is Value / 100 for pallet-denominated display.
type BalanceDTO struct {
	ClientCode       string  `json:"client_code"`
	SiteCode         string  `json:"site_code"`
	Value            float64 `json:"value"`
	PalletEquivalent float64 `json:"pallet_equivalent"`
}

// StatementDTO is the before/after receipt window for one operation.
// Monetary values; pallet counts are the physical pallets out.
type StatementDTO struct {
	OperationID string `json:"operation_id"`
	Kind        string `json:"kind"`

	Before float64 `json:"before"`
	After  float64 `json:"after"`

	BeforePallets int `json:"before_pallets"`
	AfterPallets  int `json:"after_pallets"`
}

// ValidateResponseDTO is returned after a successful validation.
type ValidateResponseDTO struct {
	Operation OperationDTO `json:"operation"`
	Balance   float64      `json:"balance"`
}

// ErrorResponse is the standard error response. Details carries the
// rejection's structured payload when there is one.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toOperationDTO(op consigne.Operation) OperationDTO {
	amount, _ := op.Amount.Float64()
	dto := OperationDTO{
		ID:         string(op.ID),
		Kind:       string(op.Kind),
		ClientCode: string(op.Client),
		SiteCode:   string(op.Site),
		Status:     string(op.Status),
		CreatedAt:  op.CreatedAt.Format(time.RFC3339Nano),
		Version:    op.Version,

		Amount:             amount,
		PalletsOut:         op.PalletsOut,
		PalletsReturned:    op.PalletsReturned,
		PalletsToDeconsign: op.PalletsToDeconsign,
		PalletsDeconsigned: op.PalletsDeconsigned,
	}
	if !op.BusinessDate.IsZero() {
		dto.BusinessDate = op.BusinessDate.Format("2006-01-02")
	}
	return dto
}

func toOperationDTOs(ops []consigne.Operation) []OperationDTO {
	dtos := make([]OperationDTO, len(ops))
	for i, op := range ops {
		dtos[i] = toOperationDTO(op)
	}
	return dtos
}

func toBalanceDTO(key consigne.BalanceKey, value decimal.Decimal) BalanceDTO {
	v, _ := value.Float64()
	equiv, _ := value.Div(decimal.NewFromInt(consigne.PalletValue)).Float64()
	return BalanceDTO{
		ClientCode:       string(key.Client),
		SiteCode:         string(key.Site),
		Value:            v,
		PalletEquivalent: equiv,
	}
}

func toStatementDTO(op consigne.Operation, st consigne.Statement) StatementDTO {
	before, _ := st.Before.Float64()
	after, _ := st.After.Float64()
	return StatementDTO{
		OperationID:   string(op.ID),
		Kind:          string(op.Kind),
		Before:        before,
		After:         after,
		BeforePallets: st.BeforePallets,
		AfterPallets:  st.AfterPallets,
	}
}
