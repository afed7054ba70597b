package models

import (
	"fmt"
	"maps"
	"time"

	dErrors "zynx/pkg/domain-errors"
)

const day = 24 * time.Hour

// DefaultFallbackRetention applies to purposes missing from a policy table.
const DefaultFallbackRetention = 30 * day

// RetentionPolicy maps purposes to the maximum time a processing record may
// be kept. The durations are illustrative defaults, not legal guidance.
type RetentionPolicy struct {
	periods  map[Purpose]time.Duration
	fallback time.Duration
}

// DefaultRetentionPolicy returns the stock purpose table.
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{
		periods: map[Purpose]time.Duration{
			PurposeChatService:      30 * day,
			PurposeEmotionDetection: 7 * day,
			PurposeAnalytics:        90 * day,
			PurposeImprovement:      180 * day,
			PurposeCompliance:       365 * day,
		},
		fallback: DefaultFallbackRetention,
	}
}

// NewRetentionPolicy builds a policy from an explicit table. Purposes absent
// from periods use fallback; a non-positive fallback means 30 days.
func NewRetentionPolicy(periods map[Purpose]time.Duration, fallback time.Duration) (RetentionPolicy, error) {
	for purpose, period := range periods {
		if !purpose.IsValid() {
			return RetentionPolicy{}, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("invalid purpose in retention policy: %q", purpose))
		}
		if period <= 0 {
			return RetentionPolicy{}, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("retention for %s must be positive", purpose))
		}
	}
	if fallback <= 0 {
		fallback = DefaultFallbackRetention
	}
	return RetentionPolicy{periods: maps.Clone(periods), fallback: fallback}, nil
}

// WithOverrides returns a copy of p with the given purpose names replaced.
// Names are parsed with ParsePurpose.
func (p RetentionPolicy) WithOverrides(overrides map[string]time.Duration, fallback time.Duration) (RetentionPolicy, error) {
	periods := maps.Clone(p.periods)
	if periods == nil {
		periods = make(map[Purpose]time.Duration)
	}
	for raw, period := range overrides {
		purpose, err := ParsePurpose(raw)
		if err != nil {
			return RetentionPolicy{}, err
		}
		periods[purpose] = period
	}
	if fallback <= 0 {
		fallback = p.Fallback()
	}
	return NewRetentionPolicy(periods, fallback)
}

// PeriodFor returns the retention period for purpose.
func (p RetentionPolicy) PeriodFor(purpose Purpose) time.Duration {
	if period, ok := p.periods[purpose]; ok {
		return period
	}
	return p.Fallback()
}

// Fallback returns the period used for unconfigured purposes.
func (p RetentionPolicy) Fallback() time.Duration {
	if p.fallback <= 0 {
		return DefaultFallbackRetention
	}
	return p.fallback
}

// Table returns a copy of the configured purpose table.
func (p RetentionPolicy) Table() map[Purpose]time.Duration {
	out := maps.Clone(p.periods)
	if out == nil {
		out = make(map[Purpose]time.Duration)
	}
	return out
}

// FormatRetention renders whole days as "30d" and anything else in Go
// duration syntax.
func FormatRetention(d time.Duration) string {
	if d > 0 && d%day == 0 {
		return fmt.Sprintf("%dd", d/day)
	}
	return d.String()
}
