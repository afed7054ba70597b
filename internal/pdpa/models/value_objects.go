package models

import (
	"fmt"
	"strings"

	dErrors "zynx/pkg/domain-errors"
)

// Purpose labels why personal data is processed. Consents and retention
// periods are both bound to a purpose.
type Purpose string

const (
	PurposeChatService      Purpose = "chat_service"
	PurposeEmotionDetection Purpose = "emotion_detection"
	PurposeAnalytics        Purpose = "analytics"
	PurposeImprovement      Purpose = "improvement"
	PurposeCompliance       Purpose = "compliance"
)

// ValidPurposes is the single source of truth for all valid processing purposes.
var ValidPurposes = map[Purpose]bool{
	PurposeChatService:      true,
	PurposeEmotionDetection: true,
	PurposeAnalytics:        true,
	PurposeImprovement:      true,
	PurposeCompliance:       true,
}

// IsValid checks if the purpose is one of the supported enum values.
func (p Purpose) IsValid() bool {
	return ValidPurposes[p]
}

// ParsePurpose converts a raw string into a Purpose, case-insensitively.
func ParsePurpose(raw string) (Purpose, error) {
	p := Purpose(strings.ToLower(strings.TrimSpace(raw)))
	if !p.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("invalid purpose: %q", raw))
	}
	return p, nil
}

// DataCategory classifies the data covered by a consent or processing record.
type DataCategory string

const (
	CategoryPersonal      DataCategory = "personal"
	CategorySensitive     DataCategory = "sensitive"
	CategoryAnonymized    DataCategory = "anonymized"
	CategoryPseudonymized DataCategory = "pseudonymized"
	CategoryAggregated    DataCategory = "aggregated"
)

var validCategories = map[DataCategory]bool{
	CategoryPersonal:      true,
	CategorySensitive:     true,
	CategoryAnonymized:    true,
	CategoryPseudonymized: true,
	CategoryAggregated:    true,
}

func (c DataCategory) IsValid() bool {
	return validCategories[c]
}

// ParseDataCategory converts a raw string into a DataCategory, case-insensitively.
func ParseDataCategory(raw string) (DataCategory, error) {
	c := DataCategory(strings.ToLower(strings.TrimSpace(raw)))
	if !c.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("invalid data category: %q", raw))
	}
	return c, nil
}

// NormalizeCategories validates categories and removes duplicates while
// preserving the caller's order, giving the slice set semantics.
func NormalizeCategories(categories []DataCategory) ([]DataCategory, error) {
	seen := make(map[DataCategory]struct{}, len(categories))
	result := make([]DataCategory, 0, len(categories))
	for _, c := range categories {
		if !c.IsValid() {
			return nil, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("invalid data category: %q", c))
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		result = append(result, c)
	}
	return result, nil
}

// ConsentStatus represents the stored lifecycle state of a consent record.
type ConsentStatus string

const (
	ConsentGranted   ConsentStatus = "granted"
	ConsentDenied    ConsentStatus = "denied"
	ConsentWithdrawn ConsentStatus = "withdrawn"
	ConsentExpired   ConsentStatus = "expired"
	ConsentPending   ConsentStatus = "pending"
)

// RightsRequestType enumerates the data subject rights a user can invoke.
type RightsRequestType string

const (
	RightsAccess        RightsRequestType = "access"
	RightsRectification RightsRequestType = "rectification"
	RightsErasure       RightsRequestType = "erasure"
	RightsPortability   RightsRequestType = "portability"
)

func (t RightsRequestType) IsValid() bool {
	switch t {
	case RightsAccess, RightsRectification, RightsErasure, RightsPortability:
		return true
	}
	return false
}

// ParseRightsRequestType converts a raw string into a RightsRequestType.
func ParseRightsRequestType(raw string) (RightsRequestType, error) {
	t := RightsRequestType(strings.ToLower(strings.TrimSpace(raw)))
	if !t.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("invalid rights request type: %q", raw))
	}
	return t, nil
}

// RightsStatus is the workflow state of a rights request.
type RightsStatus string

const (
	RightsPending   RightsStatus = "pending"
	RightsApproved  RightsStatus = "approved"
	RightsDenied    RightsStatus = "denied"
	RightsCompleted RightsStatus = "completed"
)

// rightsTransitions lists the statuses reachable from each status.
// Denied and completed are terminal.
var rightsTransitions = map[RightsStatus][]RightsStatus{
	RightsPending:  {RightsApproved, RightsDenied, RightsCompleted},
	RightsApproved: {RightsCompleted, RightsDenied},
}

func (s RightsStatus) IsValid() bool {
	switch s {
	case RightsPending, RightsApproved, RightsDenied, RightsCompleted:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is allowed.
func (s RightsStatus) IsTerminal() bool {
	return s.IsValid() && len(rightsTransitions[s]) == 0
}

// CanTransitionTo reports whether next is reachable from s.
func (s RightsStatus) CanTransitionTo(next RightsStatus) bool {
	for _, allowed := range rightsTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ParseRightsAction converts a caller-supplied action into the target status.
// "pending" is not an action: requests only start there.
func ParseRightsAction(raw string) (RightsStatus, error) {
	s := RightsStatus(strings.ToLower(strings.TrimSpace(raw)))
	if !s.IsValid() || s == RightsPending {
		return "", dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("invalid rights action: %q", raw))
	}
	return s, nil
}
