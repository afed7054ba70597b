package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"zynx/internal/audit"
	"zynx/internal/audit/mocks"
	"zynx/internal/pdpa/metrics"
	"zynx/internal/pdpa/models"
	"zynx/internal/pdpa/store"
	dErrors "zynx/pkg/domain-errors"
	"zynx/pkg/testutil"
)

type LedgerSuite struct {
	suite.Suite
	ctx     context.Context
	clock   *testutil.FakeClock
	metrics *metrics.Metrics
	ledger  *Ledger
}

func TestLedgerSuite(t *testing.T) {
	suite.Run(t, new(LedgerSuite))
}

func (s *LedgerSuite) SetupTest() {
	s.ctx = context.Background()
	s.clock = testutil.NewFakeClock(time.Time{})
	s.metrics = metrics.NewWithRegisterer(prometheus.NewRegistry())
	s.ledger = New(store.New(), audit.NewLog(audit.DefaultCapacity), discardLogger(),
		WithClock(s.clock.Now),
		WithMetrics(s.metrics),
	)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (s *LedgerSuite) createConsent(userID string, purpose models.Purpose, expiresInDays *int) *models.ConsentRecord {
	record, err := s.ledger.CreateConsent(s.ctx, CreateConsentCommand{
		UserID:         userID,
		Purpose:        purpose,
		DataCategories: []models.DataCategory{models.CategoryPersonal},
		ExpiresInDays:  expiresInDays,
	})
	s.Require().NoError(err)
	return record
}

func (s *LedgerSuite) auditTypes(filter models.AuditFilter) []string {
	entries, err := s.ledger.GetAuditLog(s.ctx, filter)
	s.Require().NoError(err)
	types := make([]string, 0, len(entries))
	for _, e := range entries {
		types = append(types, e.Type)
	}
	return types
}

func (s *LedgerSuite) TestCreateConsent() {
	s.Run("grants with expiry and normalized categories", func() {
		record, err := s.ledger.CreateConsent(s.ctx, CreateConsentCommand{
			UserID:         testutil.TestIDs.UserID1,
			Purpose:        models.PurposeChatService,
			DataCategories: []models.DataCategory{models.CategoryPersonal, models.CategorySensitive, models.CategoryPersonal},
			ExpiresInDays:  testutil.IntPtr(30),
			Metadata:       map[string]any{"source": "onboarding"},
		})
		s.Require().NoError(err)

		s.Contains(record.ID, "consent_")
		s.Equal(models.ConsentGranted, record.Status)
		s.Equal(s.clock.Now(), record.GrantedAt)
		s.Require().NotNil(record.ExpiresAt)
		s.Equal(s.clock.Now().Add(testutil.Days(30)), *record.ExpiresAt)
		s.Equal([]models.DataCategory{models.CategoryPersonal, models.CategorySensitive}, record.DataCategories)
		s.Equal("onboarding", record.Metadata["source"])
		s.Equal(1.0, promtestutil.ToFloat64(s.metrics.ConsentsCreated.WithLabelValues("chat_service")))
	})

	s.Run("no expiry when days omitted", func() {
		record := s.createConsent(testutil.TestIDs.UserID2, models.PurposeAnalytics, nil)
		s.Nil(record.ExpiresAt)
	})

	s.Run("appends consent_created audit entry", func() {
		record := s.createConsent(testutil.TestIDs.UserID3, models.PurposeCompliance, nil)
		entries, err := s.ledger.GetAuditLog(s.ctx, models.AuditFilter{UserID: testutil.TestIDs.UserID3})
		s.Require().NoError(err)
		s.Require().Len(entries, 1)
		s.Equal(models.AuditConsentCreated, entries[0].Type)
		s.Equal(record.ID, entries[0].Details["consent_id"])
		s.Equal(testutil.TestIDs.UserID3, entries[0].Details["user_id"])
	})

	s.Run("returned record is a copy", func() {
		record := s.createConsent("copy-user", models.PurposeAnalytics, nil)
		record.Status = models.ConsentWithdrawn
		record.DataCategories[0] = models.CategoryAggregated

		data, err := s.ledger.GetUserData(s.ctx, "copy-user")
		s.Require().NoError(err)
		s.Equal(models.ConsentGranted, data.Consents[0].Status)
		s.Equal(models.CategoryPersonal, data.Consents[0].DataCategories[0])
	})
}

func (s *LedgerSuite) TestCreateConsent_InvalidInput() {
	tests := []struct {
		name string
		cmd  CreateConsentCommand
	}{
		{name: "unknown purpose", cmd: CreateConsentCommand{UserID: "u", Purpose: "marketing"}},
		{name: "unknown category", cmd: CreateConsentCommand{UserID: "u", Purpose: models.PurposeAnalytics, DataCategories: []models.DataCategory{"biometric"}}},
		{name: "missing user", cmd: CreateConsentCommand{Purpose: models.PurposeAnalytics}},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			record, err := s.ledger.CreateConsent(s.ctx, tt.cmd)
			s.Nil(record)
			s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput), "got %v", err)
		})
	}
	s.Empty(s.auditTypes(models.AuditFilter{}), "rejected input must not be audited")
}

func (s *LedgerSuite) TestConsentIDsAreUnique() {
	seen := make(map[string]struct{})
	for i := 0; i < 200; i++ {
		record := s.createConsent(testutil.TestIDs.UserID1, models.PurposeAnalytics, nil)
		_, dup := seen[record.ID]
		s.Require().False(dup, "duplicate consent id %s", record.ID)
		seen[record.ID] = struct{}{}
	}
}

func (s *LedgerSuite) TestCheckConsent() {
	s.Run("valid consent for user and purpose", func() {
		record := s.createConsent(testutil.TestIDs.UserID1, models.PurposeChatService, testutil.IntPtr(30))
		ok, id, err := s.ledger.CheckConsent(s.ctx, testutil.TestIDs.UserID1, models.PurposeChatService)
		s.Require().NoError(err)
		s.True(ok)
		s.Equal(record.ID, id)
	})

	s.Run("other purpose or user has no consent", func() {
		ok, id, err := s.ledger.CheckConsent(s.ctx, testutil.TestIDs.UserID1, models.PurposeAnalytics)
		s.Require().NoError(err)
		s.False(ok)
		s.Empty(id)

		ok, _, err = s.ledger.CheckConsent(s.ctx, testutil.TestIDs.UserID2, models.PurposeChatService)
		s.Require().NoError(err)
		s.False(ok)
	})

	s.Run("invalid purpose is rejected", func() {
		_, _, err := s.ledger.CheckConsent(s.ctx, testutil.TestIDs.UserID1, "nope")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func (s *LedgerSuite) TestCheckConsent_FirstValidInInsertionOrder() {
	first := s.createConsent(testutil.TestIDs.UserID1, models.PurposeImprovement, testutil.IntPtr(1))
	second := s.createConsent(testutil.TestIDs.UserID1, models.PurposeImprovement, nil)

	_, id, err := s.ledger.CheckConsent(s.ctx, testutil.TestIDs.UserID1, models.PurposeImprovement)
	s.Require().NoError(err)
	s.Equal(first.ID, id)

	s.clock.Advance(testutil.Days(1))
	_, id, err = s.ledger.CheckConsent(s.ctx, testutil.TestIDs.UserID1, models.PurposeImprovement)
	s.Require().NoError(err)
	s.Equal(second.ID, id, "expired consent is skipped")
}

func (s *LedgerSuite) TestCheckConsent_ExpiryBoundary() {
	s.createConsent(testutil.TestIDs.UserID1, models.PurposeAnalytics, testutil.IntPtr(1))

	s.clock.Advance(testutil.Days(1) - time.Nanosecond)
	ok, _, err := s.ledger.CheckConsent(s.ctx, testutil.TestIDs.UserID1, models.PurposeAnalytics)
	s.Require().NoError(err)
	s.True(ok)

	s.clock.Advance(time.Nanosecond)
	ok, _, err = s.ledger.CheckConsent(s.ctx, testutil.TestIDs.UserID1, models.PurposeAnalytics)
	s.Require().NoError(err)
	s.False(ok, "consent is invalid once expires_at is reached")
}

func (s *LedgerSuite) TestZeroDayConsentIsImmediatelyExpired() {
	s.createConsent(testutil.TestIDs.UserID1, models.PurposeEmotionDetection, testutil.IntPtr(0))

	ok, _, err := s.ledger.CheckConsent(s.ctx, testutil.TestIDs.UserID1, models.PurposeEmotionDetection)
	s.Require().NoError(err)
	s.False(ok)

	data, err := s.ledger.GetUserData(s.ctx, testutil.TestIDs.UserID1)
	s.Require().NoError(err)
	s.Require().Len(data.Consents, 1)
	s.Equal(models.ConsentExpired, data.Consents[0].Status)
}

func (s *LedgerSuite) TestExpiredStatusIndependentOfCallOrder() {
	s.createConsent(testutil.TestIDs.UserID1, models.PurposeAnalytics, testutil.IntPtr(-1))

	report, err := s.ledger.GetComplianceReport(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, report.Metrics.ExpiredConsents, "report sees expiry without a prior check")
	s.Equal(0, report.Metrics.ActiveConsents)

	_, _, err = s.ledger.CheckConsent(s.ctx, testutil.TestIDs.UserID1, models.PurposeAnalytics)
	s.Require().NoError(err)

	again, err := s.ledger.GetComplianceReport(s.ctx)
	s.Require().NoError(err)
	s.Equal(report.Metrics, again.Metrics)
}

func (s *LedgerSuite) TestWithdrawConsent() {
	s.Run("unknown id is a soft failure", func() {
		s.createConsent(testutil.TestIDs.UserID2, models.PurposeAnalytics, nil)
		before, err := s.ledger.GetComplianceReport(s.ctx)
		s.Require().NoError(err)

		ok, err := s.ledger.WithdrawConsent(s.ctx, "consent_missing")
		s.Require().NoError(err)
		s.False(ok)

		after, err := s.ledger.GetComplianceReport(s.ctx)
		s.Require().NoError(err)
		s.Equal(before.Metrics.ActiveConsents, after.Metrics.ActiveConsents)
		s.Equal(before.Metrics.TotalAuditEntries, after.Metrics.TotalAuditEntries)
	})

	s.Run("withdraws granted consent", func() {
		record := s.createConsent(testutil.TestIDs.UserID1, models.PurposeChatService, nil)

		ok, err := s.ledger.WithdrawConsent(s.ctx, record.ID)
		s.Require().NoError(err)
		s.True(ok)

		valid, _, err := s.ledger.CheckConsent(s.ctx, testutil.TestIDs.UserID1, models.PurposeChatService)
		s.Require().NoError(err)
		s.False(valid)

		data, err := s.ledger.GetUserData(s.ctx, testutil.TestIDs.UserID1)
		s.Require().NoError(err)
		s.Equal(models.ConsentWithdrawn, data.Consents[0].Status)
		s.Require().NotNil(data.Consents[0].WithdrawnAt)
		s.Equal(s.clock.Now(), *data.Consents[0].WithdrawnAt)
	})
}

func (s *LedgerSuite) TestWithdrawConsent_RepeatIsNoop() {
	record := s.createConsent(testutil.TestIDs.UserID1, models.PurposeChatService, nil)
	withdrawnAt := s.clock.Now()

	ok, err := s.ledger.WithdrawConsent(s.ctx, record.ID)
	s.Require().NoError(err)
	s.True(ok)

	s.clock.Advance(time.Hour)
	ok, err = s.ledger.WithdrawConsent(s.ctx, record.ID)
	s.Require().NoError(err)
	s.True(ok)

	data, err := s.ledger.GetUserData(s.ctx, testutil.TestIDs.UserID1)
	s.Require().NoError(err)
	s.Equal(withdrawnAt, *data.Consents[0].WithdrawnAt, "withdrawn_at is not re-stamped")
	s.Equal(
		[]string{models.AuditConsentCreated, models.AuditConsentWithdrawn},
		s.auditTypes(models.AuditFilter{UserID: testutil.TestIDs.UserID1}),
	)
	s.Equal(1.0, promtestutil.ToFloat64(s.metrics.ConsentsWithdrawn.WithLabelValues("chat_service")))
}

func (s *LedgerSuite) TestWithdrawConsent_ExpiredConsent() {
	record := s.createConsent(testutil.TestIDs.UserID1, models.PurposeChatService, testutil.IntPtr(1))
	s.clock.Advance(testutil.Days(2))

	ok, err := s.ledger.WithdrawConsent(s.ctx, record.ID)
	s.Require().NoError(err)
	s.True(ok)

	data, err := s.ledger.GetUserData(s.ctx, testutil.TestIDs.UserID1)
	s.Require().NoError(err)
	s.Equal(models.ConsentWithdrawn, data.Consents[0].Status)
	s.Require().NotNil(data.Consents[0].WithdrawnAt)
	s.Equal(s.clock.Now(), *data.Consents[0].WithdrawnAt)

	entries, err := s.ledger.GetAuditLog(s.ctx, models.AuditFilter{EventType: models.AuditConsentWithdrawn})
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal(string(models.ConsentExpired), entries[0].Details["previous_status"])

	report, err := s.ledger.GetComplianceReport(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, report.Metrics.WithdrawnConsents)
	s.Zero(report.Metrics.ExpiredConsents)
}

func (s *LedgerSuite) TestCreateConsent_FarFutureExpiry() {
	s.clock.Set(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	record := s.createConsent(testutil.TestIDs.UserID1, models.PurposeAnalytics, testutil.IntPtr(200000))
	s.Require().NotNil(record.ExpiresAt)
	s.True(record.ExpiresAt.After(s.clock.Now()))
	s.Equal(2573, record.ExpiresAt.Year())

	ok, id, err := s.ledger.CheckConsent(s.ctx, testutil.TestIDs.UserID1, models.PurposeAnalytics)
	s.Require().NoError(err)
	s.True(ok)
	s.Equal(record.ID, id)
}

func (s *LedgerSuite) TestRecordDataProcessing() {
	s.Run("retention comes from the policy table", func() {
		consent := s.createConsent(testutil.TestIDs.UserID1, models.PurposeEmotionDetection, nil)
		record, err := s.ledger.RecordDataProcessing(s.ctx, RecordProcessingCommand{
			UserID:         testutil.TestIDs.UserID1,
			Purpose:        models.PurposeEmotionDetection,
			DataCategories: []models.DataCategory{models.CategorySensitive},
			ConsentID:      consent.ID,
			DataHash:       "hash-abc",
			Metadata:       map[string]any{"model": "v2"},
		})
		s.Require().NoError(err)
		s.Contains(record.ID, "processing_")
		s.Equal(testutil.Days(7), record.RetentionPeriod)
		s.Equal(consent.ID, record.ConsentID)
		s.Equal(s.clock.Now(), record.ProcessedAt)
		s.Equal("hash-abc", record.DataHash)
		s.Equal("v2", record.Metadata["model"])
	})

	s.Run("consent id is not re-validated", func() {
		record, err := s.ledger.RecordDataProcessing(s.ctx, RecordProcessingCommand{
			UserID:    testutil.TestIDs.UserID2,
			Purpose:   models.PurposeAnalytics,
			ConsentID: "consent_unknown",
			DataHash:  "hash-xyz",
		})
		s.Require().NoError(err)
		s.Equal("consent_unknown", record.ConsentID)
	})

	s.Run("invalid purpose is rejected", func() {
		_, err := s.ledger.RecordDataProcessing(s.ctx, RecordProcessingCommand{UserID: "u", Purpose: "x"})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func (s *LedgerSuite) TestRecordDataProcessing_UnconfiguredPurposeDefaultsTo30Days() {
	policy, err := models.NewRetentionPolicy(map[models.Purpose]time.Duration{
		models.PurposeChatService: testutil.Days(10),
	}, 0)
	s.Require().NoError(err)
	ledger := New(nil, nil, discardLogger(), WithClock(s.clock.Now), WithRetentionPolicy(policy))

	configured, err := ledger.RecordDataProcessing(s.ctx, RecordProcessingCommand{UserID: "u", Purpose: models.PurposeChatService})
	s.Require().NoError(err)
	s.Equal(testutil.Days(10), configured.RetentionPeriod)

	fallback, err := ledger.RecordDataProcessing(s.ctx, RecordProcessingCommand{UserID: "u", Purpose: models.PurposeCompliance})
	s.Require().NoError(err)
	s.Equal(testutil.Days(30), fallback.RetentionPeriod)
}

func (s *LedgerSuite) TestRightsRequestLifecycle() {
	request, err := s.ledger.RequestUserRights(s.ctx, testutil.TestIDs.UserID1, models.RightsAccess, map[string]any{"channel": "email"})
	s.Require().NoError(err)
	s.Contains(request.ID, "rights_")
	s.Equal(models.RightsPending, request.Status)
	s.Nil(request.CompletedAt)

	s.clock.Advance(time.Hour)
	ok, err := s.ledger.ProcessUserRightsRequest(s.ctx, request.ID, models.RightsApproved, map[string]any{"reviewer": "dpo"})
	s.Require().NoError(err)
	s.True(ok)

	data, err := s.ledger.GetUserData(s.ctx, testutil.TestIDs.UserID1)
	s.Require().NoError(err)
	s.Equal(models.RightsApproved, data.RightsRequests[0].Status)
	s.Nil(data.RightsRequests[0].CompletedAt, "approval is not completion")

	s.clock.Advance(time.Hour)
	ok, err = s.ledger.ProcessUserRightsRequest(s.ctx, request.ID, models.RightsCompleted, map[string]any{"channel": "portal"})
	s.Require().NoError(err)
	s.True(ok)

	data, err = s.ledger.GetUserData(s.ctx, testutil.TestIDs.UserID1)
	s.Require().NoError(err)
	got := data.RightsRequests[0]
	s.Equal(models.RightsCompleted, got.Status)
	s.Require().NotNil(got.CompletedAt)
	s.Equal(s.clock.Now(), *got.CompletedAt)
	s.Equal(map[string]any{"channel": "portal", "reviewer": "dpo"}, got.Details)

	s.Equal(
		[]string{models.AuditRightsRequested, models.AuditRightsProcessed, models.AuditRightsProcessed},
		s.auditTypes(models.AuditFilter{UserID: testutil.TestIDs.UserID1}),
	)
}

func (s *LedgerSuite) TestProcessUserRightsRequest_IllegalTransitions() {
	tests := []struct {
		name   string
		path   []models.RightsStatus
		action models.RightsStatus
	}{
		{name: "completed is terminal", path: []models.RightsStatus{models.RightsCompleted}, action: models.RightsApproved},
		{name: "denied is terminal", path: []models.RightsStatus{models.RightsDenied}, action: models.RightsCompleted},
		{name: "approved cannot be approved again", path: []models.RightsStatus{models.RightsApproved}, action: models.RightsApproved},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			request, err := s.ledger.RequestUserRights(s.ctx, testutil.TestIDs.UserID2, models.RightsErasure, nil)
			s.Require().NoError(err)
			for _, step := range tt.path {
				ok, err := s.ledger.ProcessUserRightsRequest(s.ctx, request.ID, step, nil)
				s.Require().NoError(err)
				s.Require().True(ok)
			}

			ok, err := s.ledger.ProcessUserRightsRequest(s.ctx, request.ID, tt.action, nil)
			s.False(ok)
			s.True(dErrors.HasCode(err, dErrors.CodeInvalidState), "got %v", err)

			data, err := s.ledger.GetUserData(s.ctx, testutil.TestIDs.UserID2)
			s.Require().NoError(err)
			for _, r := range data.RightsRequests {
				if r.ID == request.ID {
					s.Equal(tt.path[len(tt.path)-1], r.Status, "request unchanged")
				}
			}
		})
	}
}

func (s *LedgerSuite) TestProcessUserRightsRequest_SoftAndHardFailures() {
	s.Run("unknown request", func() {
		ok, err := s.ledger.ProcessUserRightsRequest(s.ctx, "rights_missing", models.RightsCompleted, nil)
		s.Require().NoError(err)
		s.False(ok)
	})

	s.Run("pending is not an action", func() {
		ok, err := s.ledger.ProcessUserRightsRequest(s.ctx, "rights_missing", models.RightsPending, nil)
		s.False(ok)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("unknown request type", func() {
		_, err := s.ledger.RequestUserRights(s.ctx, testutil.TestIDs.UserID1, "objection", nil)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func (s *LedgerSuite) TestDeleteUserData() {
	consent := s.createConsent(testutil.TestIDs.UserID1, models.PurposeChatService, nil)
	_, err := s.ledger.RecordDataProcessing(s.ctx, RecordProcessingCommand{
		UserID: testutil.TestIDs.UserID1, Purpose: models.PurposeChatService, ConsentID: consent.ID, DataHash: "h",
	})
	s.Require().NoError(err)
	_, err = s.ledger.RequestUserRights(s.ctx, testutil.TestIDs.UserID1, models.RightsErasure, nil)
	s.Require().NoError(err)
	other := s.createConsent(testutil.TestIDs.UserID2, models.PurposeChatService, nil)

	ok, err := s.ledger.DeleteUserData(s.ctx, testutil.TestIDs.UserID1)
	s.Require().NoError(err)
	s.True(ok)

	data, err := s.ledger.GetUserData(s.ctx, testutil.TestIDs.UserID1)
	s.Require().NoError(err)
	s.Empty(data.Consents)
	s.Empty(data.ProcessingRecords)
	s.Empty(data.RightsRequests)

	otherData, err := s.ledger.GetUserData(s.ctx, testutil.TestIDs.UserID2)
	s.Require().NoError(err)
	s.Require().Len(otherData.Consents, 1)
	s.Equal(other.ID, otherData.Consents[0].ID)

	entries, err := s.ledger.GetAuditLog(s.ctx, models.AuditFilter{UserID: testutil.TestIDs.UserID1})
	s.Require().NoError(err)
	s.Require().Len(entries, 4, "audit trail survives erasure")
	last := entries[len(entries)-1]
	s.Equal(models.AuditDataDeleted, last.Type)
	s.Equal(3, last.Details["deleted_records"])

	s.Run("nothing to delete still succeeds", func() {
		ok, err := s.ledger.DeleteUserData(s.ctx, "nobody")
		s.Require().NoError(err)
		s.True(ok)
	})
}

func (s *LedgerSuite) TestCleanupExpiredData() {
	s.createConsent(testutil.TestIDs.UserID1, models.PurposeAnalytics, testutil.IntPtr(1))
	keep := s.createConsent(testutil.TestIDs.UserID1, models.PurposeChatService, nil)

	record := func(purpose models.Purpose) {
		_, err := s.ledger.RecordDataProcessing(s.ctx, RecordProcessingCommand{UserID: testutil.TestIDs.UserID1, Purpose: purpose})
		s.Require().NoError(err)
	}
	record(models.PurposeEmotionDetection) // 7d
	record(models.PurposeChatService)      // 30d

	s.clock.Advance(testutil.Days(7))

	result, err := s.ledger.CleanupExpiredData(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, result.ExpiredConsents)
	s.Equal(1, result.ExpiredProcessingRecords, "retention reached exactly at now is removed")

	data, err := s.ledger.GetUserData(s.ctx, testutil.TestIDs.UserID1)
	s.Require().NoError(err)
	s.Require().Len(data.Consents, 1)
	s.Equal(keep.ID, data.Consents[0].ID)
	s.Require().Len(data.ProcessingRecords, 1)
	s.Equal(models.PurposeChatService, data.ProcessingRecords[0].Purpose)

	again, err := s.ledger.CleanupExpiredData(s.ctx)
	s.Require().NoError(err)
	s.Equal(&models.CleanupResult{}, again, "second sweep removes nothing")

	cleanups, err := s.ledger.GetAuditLog(s.ctx, models.AuditFilter{EventType: models.AuditDataCleanup})
	s.Require().NoError(err)
	s.Require().Len(cleanups, 2)
	s.Equal(1, cleanups[0].Details["expired_processing_records"])
	s.Equal(1.0, promtestutil.ToFloat64(s.metrics.CleanupRemoved.WithLabelValues("processing")))
}

func (s *LedgerSuite) TestComplianceReport() {
	s.createConsent(testutil.TestIDs.UserID1, models.PurposeChatService, nil)
	withdrawn := s.createConsent(testutil.TestIDs.UserID1, models.PurposeAnalytics, nil)
	s.createConsent(testutil.TestIDs.UserID2, models.PurposeAnalytics, testutil.IntPtr(-1))
	_, err := s.ledger.WithdrawConsent(s.ctx, withdrawn.ID)
	s.Require().NoError(err)
	_, err = s.ledger.RecordDataProcessing(s.ctx, RecordProcessingCommand{UserID: testutil.TestIDs.UserID1, Purpose: models.PurposeChatService})
	s.Require().NoError(err)
	pending, err := s.ledger.RequestUserRights(s.ctx, testutil.TestIDs.UserID1, models.RightsAccess, nil)
	s.Require().NoError(err)
	done, err := s.ledger.RequestUserRights(s.ctx, testutil.TestIDs.UserID2, models.RightsPortability, nil)
	s.Require().NoError(err)
	_, err = s.ledger.ProcessUserRightsRequest(s.ctx, done.ID, models.RightsCompleted, nil)
	s.Require().NoError(err)

	report, err := s.ledger.GetComplianceReport(s.ctx)
	s.Require().NoError(err)
	s.Equal(models.ComplianceMetrics{
		ActiveConsents:         1,
		ExpiredConsents:        1,
		WithdrawnConsents:      1,
		TotalProcessingRecords: 1,
		PendingRightsRequests:  1,
		TotalAuditEntries:      8,
	}, report.Metrics)
	s.Equal(s.clock.Now(), report.GeneratedAt)
	s.Equal(testutil.Days(90), report.RetentionPolicies[models.PurposeAnalytics])
	s.Equal(testutil.Days(30), report.DefaultRetention)
	s.NotEmpty(pending.ID)
}

func (s *LedgerSuite) TestAuditLog() {
	s.Run("filters by user and event type in append order", func() {
		a := s.createConsent("audit-a", models.PurposeChatService, nil)
		s.createConsent("audit-b", models.PurposeChatService, nil)
		_, err := s.ledger.WithdrawConsent(s.ctx, a.ID)
		s.Require().NoError(err)

		s.Equal([]string{models.AuditConsentCreated, models.AuditConsentWithdrawn},
			s.auditTypes(models.AuditFilter{UserID: "audit-a"}))

		withdrawals, err := s.ledger.GetAuditLog(s.ctx, models.AuditFilter{EventType: models.AuditConsentWithdrawn})
		s.Require().NoError(err)
		s.Require().Len(withdrawals, 1)
		s.Equal("audit-a", withdrawals[0].UserID)
	})

	s.Run("returned entries are copies", func() {
		entries, err := s.ledger.GetAuditLog(s.ctx, models.AuditFilter{UserID: "audit-a"})
		s.Require().NoError(err)
		entries[0].Details["user_id"] = "tampered"

		again, err := s.ledger.GetAuditLog(s.ctx, models.AuditFilter{UserID: "audit-a"})
		s.Require().NoError(err)
		s.Equal("audit-a", again[0].Details["user_id"])
	})
}

func (s *LedgerSuite) TestAuditLogIsBoundedAt1000() {
	first := s.createConsent("oldest", models.PurposeAnalytics, nil)
	for i := 0; i < audit.DefaultCapacity; i++ {
		s.createConsent(fmt.Sprintf("user-%d", i), models.PurposeAnalytics, nil)
	}

	report, err := s.ledger.GetComplianceReport(s.ctx)
	s.Require().NoError(err)
	s.Equal(audit.DefaultCapacity, report.Metrics.TotalAuditEntries)

	entries, err := s.ledger.GetAuditLog(s.ctx, models.AuditFilter{UserID: "oldest"})
	s.Require().NoError(err)
	s.Empty(entries, "entry for %s was evicted", first.ID)
	s.Equal(1.0, promtestutil.ToFloat64(s.metrics.AuditEvicted))
}

func (s *LedgerSuite) TestPanicsBecomeInternalErrors() {
	ledger := New(nil, nil, discardLogger(), WithClock(func() time.Time { panic("clock failure") }))

	record, err := ledger.CreateConsent(s.ctx, CreateConsentCommand{UserID: "u", Purpose: models.PurposeAnalytics})
	s.Nil(record)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))

	ok, id, err := ledger.CheckConsent(s.ctx, "u", models.PurposeAnalytics)
	s.False(ok)
	s.Empty(id)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))

	result, err := ledger.CleanupExpiredData(s.ctx)
	s.Nil(result)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))

	report, err := ledger.GetComplianceReport(s.ctx)
	s.Nil(report)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
}

func (s *LedgerSuite) TestExampleScenarios() {
	user := testutil.TestIDs.UserID1

	consent, err := s.ledger.CreateConsent(s.ctx, CreateConsentCommand{
		UserID:         user,
		Purpose:        models.PurposeChatService,
		DataCategories: []models.DataCategory{models.CategoryPersonal, models.CategorySensitive},
		ExpiresInDays:  testutil.IntPtr(30),
	})
	s.Require().NoError(err)
	ok, id, err := s.ledger.CheckConsent(s.ctx, user, models.PurposeChatService)
	s.Require().NoError(err)
	s.True(ok)
	s.Equal(consent.ID, id)

	_, err = s.ledger.RecordDataProcessing(s.ctx, RecordProcessingCommand{
		UserID:         user,
		Purpose:        models.PurposeChatService,
		DataCategories: []models.DataCategory{models.CategoryPersonal},
		ConsentID:      id,
		DataHash:       "hash-123",
	})
	s.Require().NoError(err)
	data, err := s.ledger.GetUserData(s.ctx, user)
	s.Require().NoError(err)
	s.Len(data.Consents, 1)
	s.Len(data.ProcessingRecords, 1)

	request, err := s.ledger.RequestUserRights(s.ctx, user, models.RightsAccess, nil)
	s.Require().NoError(err)
	s.Equal(models.RightsPending, request.Status)
	ok, err = s.ledger.ProcessUserRightsRequest(s.ctx, request.ID, models.RightsCompleted, nil)
	s.Require().NoError(err)
	s.True(ok)
	data, err = s.ledger.GetUserData(s.ctx, user)
	s.Require().NoError(err)
	s.Equal(models.RightsCompleted, data.RightsRequests[0].Status)
	s.NotNil(data.RightsRequests[0].CompletedAt)

	before, err := s.ledger.GetComplianceReport(s.ctx)
	s.Require().NoError(err)
	ok, err = s.ledger.DeleteUserData(s.ctx, user)
	s.Require().NoError(err)
	s.True(ok)
	data, err = s.ledger.GetUserData(s.ctx, user)
	s.Require().NoError(err)
	s.Empty(data.Consents)
	s.Empty(data.ProcessingRecords)
	s.Empty(data.RightsRequests)
	after, err := s.ledger.GetComplianceReport(s.ctx)
	s.Require().NoError(err)
	s.Equal(before.Metrics.ActiveConsents-1, after.Metrics.ActiveConsents)
	s.Equal(before.Metrics.TotalProcessingRecords-1, after.Metrics.TotalProcessingRecords)

	s.createConsent(testutil.TestIDs.UserID2, models.PurposeAnalytics, testutil.IntPtr(-1))
	ok, _, err = s.ledger.CheckConsent(s.ctx, testutil.TestIDs.UserID2, models.PurposeAnalytics)
	s.Require().NoError(err)
	s.False(ok)
	report, err := s.ledger.GetComplianceReport(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, report.Metrics.ExpiredConsents)
}

func TestLedger_ConcurrentCreatesAreAllVisible(t *testing.T) {
	ledger := New(nil, nil, discardLogger())
	ctx := context.Background()
	ids := make([]string, 50)

	result := testutil.RunConcurrent(50, func(idx int) error {
		record, err := ledger.CreateConsent(ctx, CreateConsentCommand{
			UserID:  "concurrent-user",
			Purpose: models.PurposeChatService,
		})
		if err != nil {
			return err
		}
		ids[idx] = record.ID
		return nil
	})
	require.Equal(t, int32(50), result.Successes)

	data, err := ledger.GetUserData(ctx, "concurrent-user")
	require.NoError(t, err)
	assert.Len(t, data.Consents, 50)

	unique := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		unique[id] = struct{}{}
	}
	assert.Len(t, unique, 50)
}

func TestLedger_ConcurrentWithdrawAuditsOnce(t *testing.T) {
	ledger := New(nil, nil, discardLogger())
	ctx := context.Background()
	record, err := ledger.CreateConsent(ctx, CreateConsentCommand{UserID: "u", Purpose: models.PurposeAnalytics})
	require.NoError(t, err)

	result := testutil.RunConcurrent(20, func(int) error {
		ok, err := ledger.WithdrawConsent(ctx, record.ID)
		if err == nil && !ok {
			return fmt.Errorf("withdraw reported not found")
		}
		return err
	})
	assert.Equal(t, int32(20), result.Successes)

	entries, err := ledger.GetAuditLog(ctx, models.AuditFilter{EventType: models.AuditConsentWithdrawn})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLedger_ConcurrentCleanupAndWrites(t *testing.T) {
	clock := testutil.NewFakeClock(time.Time{})
	ledger := New(nil, nil, discardLogger(), WithClock(clock.Now))
	ctx := context.Background()

	result := testutil.RunConcurrent(40, func(idx int) error {
		switch idx % 4 {
		case 0:
			_, err := ledger.CleanupExpiredData(ctx)
			return err
		case 1:
			_, err := ledger.CreateConsent(ctx, CreateConsentCommand{UserID: "u", Purpose: models.PurposeAnalytics, ExpiresInDays: testutil.IntPtr(0)})
			return err
		case 2:
			_, err := ledger.RecordDataProcessing(ctx, RecordProcessingCommand{UserID: "u", Purpose: models.PurposeAnalytics})
			return err
		default:
			_, err := ledger.GetComplianceReport(ctx)
			return err
		}
	})
	require.Equal(t, int32(40), result.Successes)

	_, err := ledger.CleanupExpiredData(ctx)
	require.NoError(t, err)
	report, err := ledger.GetComplianceReport(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Metrics.ExpiredConsents)
	assert.Equal(t, 10, report.Metrics.TotalProcessingRecords)
}

func TestLedger_PublishesAuditEntries(t *testing.T) {
	ctrl := gomock.NewController(t)
	sink := mocks.NewMockSink(ctrl)
	sink.EXPECT().Publish(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, e audit.Entry) error {
		assert.Equal(t, models.AuditConsentCreated, e.Type)
		assert.Equal(t, "u", e.UserID)
		return nil
	})
	sink.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(assert.AnError)

	ledger := New(nil, nil, discardLogger(), WithPublisher(audit.NewPublisher([]audit.Sink{sink})))
	ctx := context.Background()

	record, err := ledger.CreateConsent(ctx, CreateConsentCommand{UserID: "u", Purpose: models.PurposeAnalytics})
	require.NoError(t, err)
	ok, err := ledger.WithdrawConsent(ctx, record.ID)
	require.NoError(t, err, "sink failures never fail the operation")
	assert.True(t, ok)
}

type orderedSink struct {
	mu  sync.Mutex
	ids []string
}

func (o *orderedSink) Publish(_ context.Context, e audit.Entry) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ids = append(o.ids, e.ID)
	return nil
}

func TestLedger_SinkOrderMatchesAuditLog(t *testing.T) {
	recorder := &orderedSink{}
	publisher := audit.NewPublisher([]audit.Sink{recorder}, audit.WithAsyncBuffer(512))
	ledger := New(nil, nil, discardLogger(), WithPublisher(publisher))
	ctx := context.Background()

	result := testutil.RunConcurrent(60, func(idx int) error {
		user := fmt.Sprintf("user-%d", idx%3)
		if idx%2 == 0 {
			_, err := ledger.CreateConsent(ctx, CreateConsentCommand{UserID: user, Purpose: models.PurposeAnalytics})
			return err
		}
		_, err := ledger.RequestUserRights(ctx, user, models.RightsAccess, nil)
		return err
	})
	require.Equal(t, int32(60), result.Successes)
	publisher.Close()

	entries, err := ledger.GetAuditLog(ctx, models.AuditFilter{})
	require.NoError(t, err)
	logged := make([]string, len(entries))
	for i, e := range entries {
		logged[i] = e.ID
	}
	assert.Equal(t, logged, recorder.ids)
}
