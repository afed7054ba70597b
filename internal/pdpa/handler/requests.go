package handler

import (
	"strings"

	"zynx/internal/pdpa/models"
	"zynx/internal/pdpa/service"
	dErrors "zynx/pkg/domain-errors"
)

// maxCategories bounds data_categories in a single request.
const maxCategories = 16

// CreateConsentRequest is the body of POST /consents.
type CreateConsentRequest struct {
	UserID         string         `json:"user_id"`
	Purpose        string         `json:"purpose"`
	DataCategories []string       `json:"data_categories"`
	ExpiresInDays  *int           `json:"expires_in_days,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`

	purpose    models.Purpose
	categories []models.DataCategory
}

func (r *CreateConsentRequest) Normalize() {
	r.UserID = strings.TrimSpace(r.UserID)
	r.Purpose = strings.TrimSpace(r.Purpose)
}

func (r *CreateConsentRequest) Validate() error {
	if r.UserID == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "user_id is required")
	}
	purpose, err := models.ParsePurpose(r.Purpose)
	if err != nil {
		return err
	}
	categories, err := parseCategories(r.DataCategories)
	if err != nil {
		return err
	}
	r.purpose, r.categories = purpose, categories
	return nil
}

// ToCommand converts a validated request into a ledger command.
func (r *CreateConsentRequest) ToCommand() service.CreateConsentCommand {
	return service.CreateConsentCommand{
		UserID:         r.UserID,
		Purpose:        r.purpose,
		DataCategories: r.categories,
		ExpiresInDays:  r.ExpiresInDays,
		Metadata:       r.Metadata,
	}
}

// RecordProcessingRequest is the body of POST /processing.
type RecordProcessingRequest struct {
	UserID         string         `json:"user_id"`
	Purpose        string         `json:"purpose"`
	DataCategories []string       `json:"data_categories"`
	ConsentID      string         `json:"consent_id"`
	DataHash       string         `json:"data_hash"`
	Metadata       map[string]any `json:"metadata,omitempty"`

	purpose    models.Purpose
	categories []models.DataCategory
}

func (r *RecordProcessingRequest) Normalize() {
	r.UserID = strings.TrimSpace(r.UserID)
	r.Purpose = strings.TrimSpace(r.Purpose)
	r.ConsentID = strings.TrimSpace(r.ConsentID)
	r.DataHash = strings.TrimSpace(r.DataHash)
}

func (r *RecordProcessingRequest) Validate() error {
	if r.UserID == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "user_id is required")
	}
	if r.ConsentID == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "consent_id is required")
	}
	if r.DataHash == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "data_hash is required")
	}
	purpose, err := models.ParsePurpose(r.Purpose)
	if err != nil {
		return err
	}
	categories, err := parseCategories(r.DataCategories)
	if err != nil {
		return err
	}
	r.purpose, r.categories = purpose, categories
	return nil
}

func (r *RecordProcessingRequest) ToCommand() service.RecordProcessingCommand {
	return service.RecordProcessingCommand{
		UserID:         r.UserID,
		Purpose:        r.purpose,
		DataCategories: r.categories,
		ConsentID:      r.ConsentID,
		DataHash:       r.DataHash,
		Metadata:       r.Metadata,
	}
}

// RightsRequestRequest is the body of POST /rights.
type RightsRequestRequest struct {
	UserID      string         `json:"user_id"`
	RequestType string         `json:"request_type"`
	Details     map[string]any `json:"details,omitempty"`

	requestType models.RightsRequestType
}

func (r *RightsRequestRequest) Normalize() {
	r.UserID = strings.TrimSpace(r.UserID)
}

func (r *RightsRequestRequest) Validate() error {
	if r.UserID == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "user_id is required")
	}
	t, err := models.ParseRightsRequestType(r.RequestType)
	if err != nil {
		return err
	}
	r.requestType = t
	return nil
}

// ProcessRightsRequest is the body of POST /rights/{requestID}/process.
type ProcessRightsRequest struct {
	Action  string         `json:"action"`
	Details map[string]any `json:"details,omitempty"`

	action models.RightsStatus
}

func (r *ProcessRightsRequest) Validate() error {
	action, err := models.ParseRightsAction(r.Action)
	if err != nil {
		return err
	}
	r.action = action
	return nil
}

func parseCategories(raw []string) ([]models.DataCategory, error) {
	if len(raw) > maxCategories {
		return nil, dErrors.New(dErrors.CodeValidation, "too many data categories")
	}
	out := make([]models.DataCategory, 0, len(raw))
	for _, c := range raw {
		category, err := models.ParseDataCategory(c)
		if err != nil {
			return nil, err
		}
		out = append(out, category)
	}
	return models.NormalizeCategories(out)
}
