package service

import (
	"zynx/internal/pdpa/models"
)

// CreateConsentCommand carries the inputs of CreateConsent.
// A nil ExpiresInDays means the consent never expires; zero or negative
// values produce a consent that is already expired.
type CreateConsentCommand struct {
	UserID         string
	Purpose        models.Purpose
	DataCategories []models.DataCategory
	ExpiresInDays  *int
	Metadata       map[string]any
}

// RecordProcessingCommand carries the inputs of RecordDataProcessing.
// ConsentID is trusted: callers are expected to have run CheckConsent.
type RecordProcessingCommand struct {
	UserID         string
	Purpose        models.Purpose
	DataCategories []models.DataCategory
	ConsentID      string
	DataHash       string
	Metadata       map[string]any
}
