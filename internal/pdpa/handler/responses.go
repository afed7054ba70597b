package handler

import (
	"time"

	"zynx/internal/audit"
	"zynx/internal/pdpa/models"
)

type ConsentResponse struct {
	ConsentID      string         `json:"consent_id"`
	UserID         string         `json:"user_id"`
	Purpose        string         `json:"purpose"`
	DataCategories []string       `json:"data_categories"`
	Status         string         `json:"status"`
	GrantedAt      time.Time      `json:"granted_at"`
	ExpiresAt      *time.Time     `json:"expires_at,omitempty"`
	WithdrawnAt    *time.Time     `json:"withdrawn_at,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

type ProcessingResponse struct {
	ProcessingID    string         `json:"processing_id"`
	UserID          string         `json:"user_id"`
	Purpose         string         `json:"purpose"`
	DataCategories  []string       `json:"data_categories"`
	ConsentID       string         `json:"consent_id"`
	ProcessedAt     time.Time      `json:"processed_at"`
	DataHash        string         `json:"data_hash"`
	RetentionPeriod string         `json:"retention_period"`
	ExpiresAt       time.Time      `json:"expires_at"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

type RightsResponse struct {
	RequestID   string         `json:"request_id"`
	UserID      string         `json:"user_id"`
	RequestType string         `json:"request_type"`
	Status      string         `json:"status"`
	RequestedAt time.Time      `json:"requested_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
}

type WithdrawResponse struct {
	Withdrawn bool   `json:"withdrawn"`
	ConsentID string `json:"consent_id"`
}

type CheckConsentResponse struct {
	HasConsent bool   `json:"has_consent"`
	ConsentID  string `json:"consent_id,omitempty"`
}

type ProcessRightsResponse struct {
	Processed bool   `json:"processed"`
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
}

type UserDataResponse struct {
	UserID            string               `json:"user_id"`
	Consents          []ConsentResponse    `json:"consents"`
	ProcessingRecords []ProcessingResponse `json:"processing_records"`
	RightsRequests    []RightsResponse     `json:"rights_requests"`
}

type DeleteUserDataResponse struct {
	Deleted bool   `json:"deleted"`
	UserID  string `json:"user_id"`
}

type CleanupResponse struct {
	ExpiredConsents          int `json:"expired_consents"`
	ExpiredProcessingRecords int `json:"expired_processing_records"`
}

type ComplianceMetricsResponse struct {
	ActiveConsents         int `json:"active_consents"`
	ExpiredConsents        int `json:"expired_consents"`
	WithdrawnConsents      int `json:"withdrawn_consents"`
	TotalProcessingRecords int `json:"total_processing_records"`
	PendingRightsRequests  int `json:"pending_rights_requests"`
	TotalAuditEntries      int `json:"total_audit_entries"`
}

type ComplianceReportResponse struct {
	Timestamp         time.Time                 `json:"timestamp"`
	ComplianceMetrics ComplianceMetricsResponse `json:"compliance_metrics"`
	RetentionPolicies map[string]string         `json:"retention_policies"`
	DefaultRetention  string                    `json:"default_retention"`
}

type AuditLogResponse struct {
	Entries []audit.Entry `json:"entries"`
	Count   int           `json:"count"`
}

func toConsentResponse(c models.ConsentRecord) ConsentResponse {
	return ConsentResponse{
		ConsentID:      c.ID,
		UserID:         c.UserID,
		Purpose:        string(c.Purpose),
		DataCategories: categoryStrings(c.DataCategories),
		Status:         string(c.Status),
		GrantedAt:      c.GrantedAt,
		ExpiresAt:      c.ExpiresAt,
		WithdrawnAt:    c.WithdrawnAt,
		Metadata:       c.Metadata,
	}
}

func toProcessingResponse(p models.ProcessingRecord) ProcessingResponse {
	return ProcessingResponse{
		ProcessingID:    p.ID,
		UserID:          p.UserID,
		Purpose:         string(p.Purpose),
		DataCategories:  categoryStrings(p.DataCategories),
		ConsentID:       p.ConsentID,
		ProcessedAt:     p.ProcessedAt,
		DataHash:        p.DataHash,
		RetentionPeriod: models.FormatRetention(p.RetentionPeriod),
		ExpiresAt:       p.ExpiresAt(),
		Metadata:        p.Metadata,
	}
}

func toRightsResponse(r models.RightsRequest) RightsResponse {
	return RightsResponse{
		RequestID:   r.ID,
		UserID:      r.UserID,
		RequestType: string(r.Type),
		Status:      string(r.Status),
		RequestedAt: r.RequestedAt,
		CompletedAt: r.CompletedAt,
		Details:     r.Details,
	}
}

func toUserDataResponse(d *models.UserData) UserDataResponse {
	resp := UserDataResponse{
		UserID:            d.UserID,
		Consents:          make([]ConsentResponse, 0, len(d.Consents)),
		ProcessingRecords: make([]ProcessingResponse, 0, len(d.ProcessingRecords)),
		RightsRequests:    make([]RightsResponse, 0, len(d.RightsRequests)),
	}
	for _, c := range d.Consents {
		resp.Consents = append(resp.Consents, toConsentResponse(c))
	}
	for _, p := range d.ProcessingRecords {
		resp.ProcessingRecords = append(resp.ProcessingRecords, toProcessingResponse(p))
	}
	for _, r := range d.RightsRequests {
		resp.RightsRequests = append(resp.RightsRequests, toRightsResponse(r))
	}
	return resp
}

func toComplianceReportResponse(r *models.ComplianceReport) ComplianceReportResponse {
	policies := make(map[string]string, len(r.RetentionPolicies))
	for purpose, period := range r.RetentionPolicies {
		policies[string(purpose)] = models.FormatRetention(period)
	}
	m := r.Metrics
	return ComplianceReportResponse{
		Timestamp: r.GeneratedAt,
		ComplianceMetrics: ComplianceMetricsResponse{
			ActiveConsents:         m.ActiveConsents,
			ExpiredConsents:        m.ExpiredConsents,
			WithdrawnConsents:      m.WithdrawnConsents,
			TotalProcessingRecords: m.TotalProcessingRecords,
			PendingRightsRequests:  m.PendingRightsRequests,
			TotalAuditEntries:      m.TotalAuditEntries,
		},
		RetentionPolicies: policies,
		DefaultRetention:  models.FormatRetention(r.DefaultRetention),
	}
}

func categoryStrings(categories []models.DataCategory) []string {
	out := make([]string, len(categories))
	for i, c := range categories {
		out[i] = string(c)
	}
	return out
}
