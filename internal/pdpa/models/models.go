package models

import (
	"maps"
	"slices"
	"time"
)

// ConsentRecord captures a user's authorization to process data in the given
// categories for one purpose.
//
// Status is only rewritten for explicit transitions (withdrawal) and by the
// cleanup sweep. Time-based expiry is derived: use EffectiveStatus or IsValid
// rather than reading Status directly.
type ConsentRecord struct {
	ID             string
	UserID         string
	Purpose        Purpose
	DataCategories []DataCategory
	Status         ConsentStatus
	GrantedAt      time.Time
	ExpiresAt      *time.Time
	WithdrawnAt    *time.Time
	Metadata       map[string]any
}

// EffectiveStatus reports the lifecycle state at the provided time. A granted
// consent whose expiry has been reached reads as expired.
func (c ConsentRecord) EffectiveStatus(now time.Time) ConsentStatus {
	if c.Status == ConsentGranted && c.ExpiresAt != nil && !now.Before(*c.ExpiresAt) {
		return ConsentExpired
	}
	return c.Status
}

// IsValid returns true when the consent currently authorizes processing.
func (c ConsentRecord) IsValid(now time.Time) bool {
	return c.EffectiveStatus(now) == ConsentGranted
}

// Snapshot returns a deep copy with Status replaced by the effective status.
func (c ConsentRecord) Snapshot(now time.Time) ConsentRecord {
	out := c.Clone()
	out.Status = c.EffectiveStatus(now)
	return out
}

// Clone returns a deep copy so callers cannot mutate ledger state.
func (c ConsentRecord) Clone() ConsentRecord {
	out := c
	out.DataCategories = slices.Clone(c.DataCategories)
	out.ExpiresAt = cloneTime(c.ExpiresAt)
	out.WithdrawnAt = cloneTime(c.WithdrawnAt)
	out.Metadata = maps.Clone(c.Metadata)
	return out
}

// ProcessingRecord asserts that a user's data was used for a purpose under a
// specific consent. ConsentID is a back-reference, not ownership.
type ProcessingRecord struct {
	ID              string
	UserID          string
	Purpose         Purpose
	DataCategories  []DataCategory
	ConsentID       string
	ProcessedAt     time.Time
	DataHash        string
	RetentionPeriod time.Duration
	Metadata        map[string]any
}

// ExpiresAt is the end of the record's retention period.
func (r ProcessingRecord) ExpiresAt() time.Time {
	return r.ProcessedAt.Add(r.RetentionPeriod)
}

// IsExpired reports whether the record is eligible for cleanup at now.
func (r ProcessingRecord) IsExpired(now time.Time) bool {
	return !now.Before(r.ExpiresAt())
}

func (r ProcessingRecord) Clone() ProcessingRecord {
	out := r
	out.DataCategories = slices.Clone(r.DataCategories)
	out.Metadata = maps.Clone(r.Metadata)
	return out
}

// RightsRequest tracks a data subject rights workflow item to completion.
type RightsRequest struct {
	ID          string
	UserID      string
	Type        RightsRequestType
	Status      RightsStatus
	RequestedAt time.Time
	CompletedAt *time.Time
	Details     map[string]any
}

func (r RightsRequest) Clone() RightsRequest {
	out := r
	out.CompletedAt = cloneTime(r.CompletedAt)
	out.Details = maps.Clone(r.Details)
	return out
}

// UserData is a point-in-time copy of everything the ledger holds for a user.
type UserData struct {
	UserID            string
	Consents          []ConsentRecord
	ProcessingRecords []ProcessingRecord
	RightsRequests    []RightsRequest
}

// CleanupResult summarizes the deletions performed by a cleanup sweep.
type CleanupResult struct {
	ExpiredConsents          int
	ExpiredProcessingRecords int
}

// ComplianceMetrics are the counters reported by the compliance report.
type ComplianceMetrics struct {
	ActiveConsents         int
	ExpiredConsents        int
	WithdrawnConsents      int
	TotalProcessingRecords int
	PendingRightsRequests  int
	TotalAuditEntries      int
}

// ComplianceReport is a read-only snapshot of ledger health.
type ComplianceReport struct {
	GeneratedAt       time.Time
	Metrics           ComplianceMetrics
	RetentionPolicies map[Purpose]time.Duration
	DefaultRetention  time.Duration
}

// AuditFilter narrows GetAuditLog results. Empty fields match everything.
type AuditFilter struct {
	UserID    string
	EventType string
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
