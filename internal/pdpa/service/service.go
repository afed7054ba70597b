package service

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"zynx/internal/audit"
	"zynx/internal/pdpa/metrics"
	"zynx/internal/pdpa/models"
	"zynx/internal/pdpa/store"
	"zynx/internal/platform/tracer"
	dErrors "zynx/pkg/domain-errors"
)

// Ledger is the single authority for consent state, processing provenance,
// the rights-request workflow and the audit trail of all three. It is safe
// for concurrent use; construct one per process and share it.
type Ledger struct {
	store     *store.InMemoryStore
	auditLog  *audit.Log
	publisher *audit.Publisher
	retention models.RetentionPolicy
	metrics   *metrics.Metrics
	tracer    tracer.Tracer
	logger    *slog.Logger
	clock     func() time.Time
}

type Option func(*Ledger)

// WithClock overrides the time source. Tests use a fixed clock.
func WithClock(clock func() time.Time) Option {
	return func(l *Ledger) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// WithRetentionPolicy replaces the default purpose retention table.
func WithRetentionPolicy(policy models.RetentionPolicy) Option {
	return func(l *Ledger) {
		l.retention = policy
	}
}

// WithMetrics sets the metrics instance for the ledger.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Ledger) {
		l.metrics = m
	}
}

// WithPublisher fans appended audit entries out to external sinks.
func WithPublisher(p *audit.Publisher) Option {
	return func(l *Ledger) {
		l.publisher = p
	}
}

func WithTracer(t tracer.Tracer) Option {
	return func(l *Ledger) {
		if t != nil {
			l.tracer = t
		}
	}
}

// New builds a Ledger. A nil store, audit log or logger is replaced by a
// fresh in-memory store, a log with the default capacity, and slog.Default.
func New(st *store.InMemoryStore, auditLog *audit.Log, logger *slog.Logger, opts ...Option) *Ledger {
	if st == nil {
		st = store.New()
	}
	if auditLog == nil {
		auditLog = audit.NewLog(audit.DefaultCapacity)
	}
	if logger == nil {
		logger = slog.Default()
	}
	l := &Ledger{
		store:     st,
		auditLog:  auditLog,
		retention: models.DefaultRetentionPolicy(),
		tracer:    tracer.NewNoop(),
		logger:    logger,
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// RetentionPolicy returns the policy used to stamp processing records.
func (l *Ledger) RetentionPolicy() models.RetentionPolicy {
	return l.retention
}

// CreateConsent records a granted consent. Malformed purpose or category
// values and an empty user id fail with CodeInvalidInput. ExpiresInDays is
// applied in calendar days, so any int stays representable; zero or a
// negative count yields a consent that is already expired.
func (l *Ledger) CreateConsent(ctx context.Context, cmd CreateConsentCommand) (_ *models.ConsentRecord, err error) {
	ctx, finish := l.begin(ctx, "create_consent", tracer.String("purpose", string(cmd.Purpose)))
	defer finish(&err)

	if cmd.UserID == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "user_id is required")
	}
	if !cmd.Purpose.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("invalid purpose: %q", cmd.Purpose))
	}
	categories, err := models.NormalizeCategories(cmd.DataCategories)
	if err != nil {
		return nil, err
	}

	now := l.clock()
	record := models.ConsentRecord{
		ID:             fmt.Sprintf("consent_%s", uuid.New().String()),
		UserID:         cmd.UserID,
		Purpose:        cmd.Purpose,
		DataCategories: categories,
		Status:         models.ConsentGranted,
		GrantedAt:      now,
		Metadata:       cmd.Metadata,
	}
	if cmd.ExpiresInDays != nil {
		expiresAt := now.AddDate(0, 0, *cmd.ExpiresInDays)
		record.ExpiresAt = &expiresAt
	}

	details := map[string]any{
		"consent_id":      record.ID,
		"user_id":         record.UserID,
		"purpose":         string(record.Purpose),
		"data_categories": categoryNames(categories),
	}
	if record.ExpiresAt != nil {
		details["expires_at"] = record.ExpiresAt.Format(time.RFC3339)
	}

	err = l.store.Update(ctx, func(tx *store.Tx) error {
		tx.InsertConsent(record.Clone())
		l.appendAudit(ctx, models.AuditConsentCreated, record.UserID, now, details)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if l.metrics != nil {
		l.metrics.IncrementConsentsCreated(string(record.Purpose))
	}
	l.logger.InfoContext(ctx, "consent created",
		"consent_id", record.ID,
		"user_id", record.UserID,
		"purpose", record.Purpose,
	)
	out := record.Clone()
	return &out, nil
}

// WithdrawConsent moves a known consent to WITHDRAWN, including one whose
// expiry has passed, and stamps withdrawn_at. An unknown id is a soft
// failure: (false, nil) plus a warning. Withdrawing an already withdrawn
// consent changes nothing and returns true.
func (l *Ledger) WithdrawConsent(ctx context.Context, consentID string) (_ bool, err error) {
	ctx, finish := l.begin(ctx, "withdraw_consent")
	defer finish(&err)

	now := l.clock()
	var (
		found   bool
		changed bool
		record  models.ConsentRecord
	)
	err = l.store.Update(ctx, func(tx *store.Tx) error {
		c, ok := tx.Consent(consentID)
		if !ok {
			return nil
		}
		found = true
		record = c.Clone()
		if c.Status == models.ConsentWithdrawn {
			return nil
		}
		withdrawnAt := now
		c.Status = models.ConsentWithdrawn
		c.WithdrawnAt = &withdrawnAt
		changed = true
		l.appendAudit(ctx, models.AuditConsentWithdrawn, c.UserID, now, map[string]any{
			"consent_id":      c.ID,
			"user_id":         c.UserID,
			"purpose":         string(c.Purpose),
			"previous_status": string(record.EffectiveStatus(now)),
		})
		return nil
	})
	if err != nil {
		return false, err
	}
	if !found {
		l.logger.WarnContext(ctx, "consent not found for withdrawal", "consent_id", consentID)
		return false, nil
	}
	if !changed {
		l.logger.InfoContext(ctx, "consent already withdrawn", "consent_id", consentID)
		return true, nil
	}
	if l.metrics != nil {
		l.metrics.IncrementConsentsWithdrawn(string(record.Purpose))
	}
	l.logger.InfoContext(ctx, "consent withdrawn",
		"consent_id", consentID,
		"user_id", record.UserID,
		"purpose", record.Purpose,
	)
	return true, nil
}

// CheckConsent reports whether userID holds a currently valid consent for
// purpose and returns the id of the first one in insertion order.
func (l *Ledger) CheckConsent(ctx context.Context, userID string, purpose models.Purpose) (_ bool, _ string, err error) {
	ctx, finish := l.begin(ctx, "check_consent", tracer.String("purpose", string(purpose)))
	defer finish(&err)

	if !purpose.IsValid() {
		return false, "", dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("invalid purpose: %q", purpose))
	}

	now := l.clock()
	var consentID string
	err = l.store.View(ctx, func(tx *store.Tx) error {
		for _, c := range tx.Consents(func(c *models.ConsentRecord) bool {
			return c.UserID == userID && c.Purpose == purpose
		}) {
			if c.IsValid(now) {
				consentID = c.ID
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return false, "", err
	}

	valid := consentID != ""
	if l.metrics != nil {
		l.metrics.IncrementConsentCheck(string(purpose), valid)
	}
	l.logger.DebugContext(ctx, "consent checked",
		"user_id", userID,
		"purpose", purpose,
		"valid", valid,
	)
	return valid, consentID, nil
}

// RecordDataProcessing appends a processing record whose retention period is
// taken from the configured policy. The consent id is stored as given; an
// unknown or invalid consent is logged but not rejected. An empty user id or
// a malformed purpose or category fails with CodeInvalidInput.
func (l *Ledger) RecordDataProcessing(ctx context.Context, cmd RecordProcessingCommand) (_ *models.ProcessingRecord, err error) {
	ctx, finish := l.begin(ctx, "record_data_processing", tracer.String("purpose", string(cmd.Purpose)))
	defer finish(&err)

	if cmd.UserID == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "user_id is required")
	}
	if !cmd.Purpose.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("invalid purpose: %q", cmd.Purpose))
	}
	categories, err := models.NormalizeCategories(cmd.DataCategories)
	if err != nil {
		return nil, err
	}

	now := l.clock()
	record := models.ProcessingRecord{
		ID:              fmt.Sprintf("processing_%s", uuid.New().String()),
		UserID:          cmd.UserID,
		Purpose:         cmd.Purpose,
		DataCategories:  categories,
		ConsentID:       cmd.ConsentID,
		ProcessedAt:     now,
		DataHash:        cmd.DataHash,
		RetentionPeriod: l.retention.PeriodFor(cmd.Purpose),
		Metadata:        cmd.Metadata,
	}

	var consentValid bool
	err = l.store.Update(ctx, func(tx *store.Tx) error {
		if c, ok := tx.Consent(cmd.ConsentID); ok {
			consentValid = c.IsValid(now) && c.UserID == cmd.UserID
		}
		tx.InsertProcessing(record.Clone())
		l.appendAudit(ctx, models.AuditDataProcessed, record.UserID, now, map[string]any{
			"processing_id":    record.ID,
			"user_id":          record.UserID,
			"purpose":          string(record.Purpose),
			"consent_id":       record.ConsentID,
			"data_categories":  categoryNames(categories),
			"retention_period": models.FormatRetention(record.RetentionPeriod),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !consentValid {
		l.logger.WarnContext(ctx, "processing recorded without a valid consent",
			"processing_id", record.ID,
			"consent_id", record.ConsentID,
			"user_id", record.UserID,
		)
	}
	if l.metrics != nil {
		l.metrics.IncrementProcessingRecorded(string(record.Purpose))
	}
	l.logger.InfoContext(ctx, "data processing recorded",
		"processing_id", record.ID,
		"user_id", record.UserID,
		"purpose", record.Purpose,
		"retention", models.FormatRetention(record.RetentionPeriod),
	)
	out := record.Clone()
	return &out, nil
}

// RequestUserRights opens a pending rights request. An empty user id or an
// unknown request type fails with CodeInvalidInput.
func (l *Ledger) RequestUserRights(ctx context.Context, userID string, requestType models.RightsRequestType, details map[string]any) (_ *models.RightsRequest, err error) {
	ctx, finish := l.begin(ctx, "request_user_rights", tracer.String("request_type", string(requestType)))
	defer finish(&err)

	if userID == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "user_id is required")
	}
	if !requestType.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("invalid rights request type: %q", requestType))
	}

	now := l.clock()
	request := models.RightsRequest{
		ID:          fmt.Sprintf("rights_%s", uuid.New().String()),
		UserID:      userID,
		Type:        requestType,
		Status:      models.RightsPending,
		RequestedAt: now,
		Details:     details,
	}

	err = l.store.Update(ctx, func(tx *store.Tx) error {
		tx.InsertRights(request.Clone())
		l.appendAudit(ctx, models.AuditRightsRequested, userID, now, map[string]any{
			"request_id":   request.ID,
			"user_id":      userID,
			"request_type": string(requestType),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	if l.metrics != nil {
		l.metrics.IncrementRightsRequested(string(requestType))
	}
	l.logger.InfoContext(ctx, "user rights requested",
		"request_id", request.ID,
		"user_id", userID,
		"request_type", requestType,
	)
	out := request.Clone()
	return &out, nil
}

// ProcessUserRightsRequest moves a rights request to action. Unknown ids are
// a soft failure. Transitions not allowed from the current status fail with
// CodeInvalidState and leave the request unchanged. Reaching a terminal
// status stamps CompletedAt. Supplied details are merged over existing ones.
func (l *Ledger) ProcessUserRightsRequest(ctx context.Context, requestID string, action models.RightsStatus, details map[string]any) (_ bool, err error) {
	ctx, finish := l.begin(ctx, "process_user_rights_request", tracer.String("action", string(action)))
	defer finish(&err)

	if !action.IsValid() || action == models.RightsPending {
		return false, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("invalid rights action: %q", action))
	}

	now := l.clock()
	var (
		found    bool
		previous models.RightsStatus
		userID   string
	)
	err = l.store.Update(ctx, func(tx *store.Tx) error {
		req, ok := tx.Rights(requestID)
		if !ok {
			return nil
		}
		found = true
		previous = req.Status
		userID = req.UserID
		if !req.Status.CanTransitionTo(action) {
			return dErrors.New(dErrors.CodeInvalidState,
				fmt.Sprintf("rights request cannot move from %s to %s", req.Status, action))
		}
		req.Status = action
		if action.IsTerminal() {
			completedAt := now
			req.CompletedAt = &completedAt
		}
		if len(details) > 0 {
			if req.Details == nil {
				req.Details = make(map[string]any, len(details))
			}
			for k, v := range details {
				req.Details[k] = v
			}
		}
		l.appendAudit(ctx, models.AuditRightsProcessed, req.UserID, now, map[string]any{
			"request_id":      req.ID,
			"user_id":         req.UserID,
			"request_type":    string(req.Type),
			"action":          string(action),
			"previous_status": string(previous),
		})
		return nil
	})
	if err != nil {
		if found {
			l.logger.WarnContext(ctx, "rights request transition rejected",
				"request_id", requestID,
				"from", previous,
				"to", action,
			)
		}
		return false, err
	}
	if !found {
		l.logger.WarnContext(ctx, "rights request not found", "request_id", requestID)
		return false, nil
	}
	if l.metrics != nil {
		l.metrics.IncrementRightsProcessed(string(action))
	}
	l.logger.InfoContext(ctx, "user rights request processed",
		"request_id", requestID,
		"user_id", userID,
		"from", previous,
		"to", action,
	)
	return true, nil
}

// GetUserData returns copies of every record the ledger holds for userID.
// Consents carry their effective status.
func (l *Ledger) GetUserData(ctx context.Context, userID string) (_ *models.UserData, err error) {
	ctx, finish := l.begin(ctx, "get_user_data")
	defer finish(&err)

	now := l.clock()
	data := &models.UserData{
		UserID:            userID,
		Consents:          []models.ConsentRecord{},
		ProcessingRecords: []models.ProcessingRecord{},
		RightsRequests:    []models.RightsRequest{},
	}
	err = l.store.View(ctx, func(tx *store.Tx) error {
		for _, c := range tx.Consents(func(c *models.ConsentRecord) bool { return c.UserID == userID }) {
			data.Consents = append(data.Consents, c.Snapshot(now))
		}
		for _, p := range tx.ProcessingRecords(func(p *models.ProcessingRecord) bool { return p.UserID == userID }) {
			data.ProcessingRecords = append(data.ProcessingRecords, p.Clone())
		}
		for _, r := range tx.RightsRequests(func(r *models.RightsRequest) bool { return r.UserID == userID }) {
			data.RightsRequests = append(data.RightsRequests, r.Clone())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// DeleteUserData erases every consent, processing record and rights request
// owned by userID. It succeeds even when nothing matched; an empty user id
// fails with CodeInvalidInput. Audit entries are retained.
func (l *Ledger) DeleteUserData(ctx context.Context, userID string) (_ bool, err error) {
	ctx, finish := l.begin(ctx, "delete_user_data")
	defer finish(&err)

	if userID == "" {
		return false, dErrors.New(dErrors.CodeInvalidInput, "user_id is required")
	}

	now := l.clock()
	var consents, processing, rights int
	err = l.store.Update(ctx, func(tx *store.Tx) error {
		consents = tx.RemoveConsents(func(c *models.ConsentRecord) bool { return c.UserID == userID })
		processing = tx.RemoveProcessing(func(p *models.ProcessingRecord) bool { return p.UserID == userID })
		rights = tx.RemoveRights(func(r *models.RightsRequest) bool { return r.UserID == userID })
		l.appendAudit(ctx, models.AuditDataDeleted, userID, now, map[string]any{
			"user_id":                    userID,
			"deleted_records":            consents + processing + rights,
			"deleted_consents":           consents,
			"deleted_processing_records": processing,
			"deleted_rights_requests":    rights,
		})
		return nil
	})
	if err != nil {
		return false, err
	}
	l.logger.InfoContext(ctx, "user data deleted",
		"user_id", userID,
		"consents", consents,
		"processing_records", processing,
		"rights_requests", rights,
	)
	return true, nil
}

// CleanupExpiredData removes consents whose expiry has been reached and
// processing records whose retention period has elapsed. Expired consents
// are marked EXPIRED before removal.
func (l *Ledger) CleanupExpiredData(ctx context.Context) (_ *models.CleanupResult, err error) {
	ctx, finish := l.begin(ctx, "cleanup_expired_data")
	defer finish(&err)

	now := l.clock()
	result := &models.CleanupResult{}
	err = l.store.Update(ctx, func(tx *store.Tx) error {
		for _, c := range tx.Consents(store.ExpiredConsent(now)) {
			c.Status = models.ConsentExpired
		}
		result.ExpiredConsents = tx.RemoveConsents(func(c *models.ConsentRecord) bool {
			return c.Status == models.ConsentExpired
		})
		result.ExpiredProcessingRecords = tx.RemoveProcessing(func(p *models.ProcessingRecord) bool {
			return p.IsExpired(now)
		})
		l.appendAudit(ctx, models.AuditDataCleanup, "", now, map[string]any{
			"expired_consents":           result.ExpiredConsents,
			"expired_processing_records": result.ExpiredProcessingRecords,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	if l.metrics != nil {
		l.metrics.AddCleanupRemoved("consent", result.ExpiredConsents)
		l.metrics.AddCleanupRemoved("processing", result.ExpiredProcessingRecords)
	}
	l.logger.InfoContext(ctx, "expired data cleaned up",
		"expired_consents", result.ExpiredConsents,
		"expired_processing_records", result.ExpiredProcessingRecords,
	)
	return result, nil
}

// GetComplianceReport computes a read-only snapshot of ledger counters and
// the active retention table.
func (l *Ledger) GetComplianceReport(ctx context.Context) (_ *models.ComplianceReport, err error) {
	ctx, finish := l.begin(ctx, "get_compliance_report")
	defer finish(&err)

	now := l.clock()
	report := &models.ComplianceReport{
		GeneratedAt:       now,
		RetentionPolicies: l.retention.Table(),
		DefaultRetention:  l.retention.Fallback(),
	}
	err = l.store.View(ctx, func(tx *store.Tx) error {
		for _, c := range tx.Consents(nil) {
			switch c.EffectiveStatus(now) {
			case models.ConsentGranted:
				report.Metrics.ActiveConsents++
			case models.ConsentExpired:
				report.Metrics.ExpiredConsents++
			case models.ConsentWithdrawn:
				report.Metrics.WithdrawnConsents++
			}
		}
		_, report.Metrics.TotalProcessingRecords, _ = tx.Counts()
		report.Metrics.PendingRightsRequests = len(tx.RightsRequests(func(r *models.RightsRequest) bool {
			return r.Status == models.RightsPending
		}))
		report.Metrics.TotalAuditEntries = l.auditLog.Len()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// GetAuditLog returns retained audit entries matching filter, oldest first.
func (l *Ledger) GetAuditLog(ctx context.Context, filter models.AuditFilter) (_ []audit.Entry, err error) {
	_, finish := l.begin(ctx, "get_audit_log")
	defer finish(&err)

	return l.auditLog.Entries(func(e audit.Entry) bool {
		if filter.UserID != "" && e.UserID != filter.UserID {
			return false
		}
		if filter.EventType != "" && e.Type != filter.EventType {
			return false
		}
		return true
	}), nil
}

// begin opens a span and returns the deferred finisher every public method
// runs. The finisher converts a panic into CodeInternal, ends the span and
// records latency.
func (l *Ledger) begin(ctx context.Context, op string, attrs ...tracer.Attribute) (context.Context, func(*error)) {
	start := time.Now()
	ctx, span := l.tracer.Start(ctx, "pdpa."+op, attrs...)
	return ctx, func(errp *error) {
		if r := recover(); r != nil {
			l.logger.ErrorContext(ctx, "ledger operation panicked",
				"operation", op,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			*errp = dErrors.New(dErrors.CodeInternal, fmt.Sprintf("%s failed", op))
		}
		span.End(*errp)
		if l.metrics != nil {
			l.metrics.ObserveOperationLatency(op, time.Since(start).Seconds())
		}
	}
}

// appendAudit writes an entry to the bounded log and hands it to the
// publisher. Callers hold the store's write lock, so both the log and the
// publisher see entries in mutation order. Entries are only appended on the
// commit path of a transaction.
func (l *Ledger) appendAudit(ctx context.Context, eventType, userID string, now time.Time, details map[string]any) {
	entry := audit.Entry{
		ID:        fmt.Sprintf("audit_%s", uuid.New().String()),
		Type:      eventType,
		Timestamp: now,
		UserID:    userID,
		Details:   details,
	}
	if l.auditLog.Append(entry) && l.metrics != nil {
		l.metrics.IncrementAuditEvicted()
	}
	l.publish(ctx, entry)
}

// publish hands entry to the configured sinks. In async mode Emit only
// enqueues, so calling it under the store lock never waits on a broker.
// Sink failures never fail the ledger operation.
func (l *Ledger) publish(ctx context.Context, entry audit.Entry) {
	if l.publisher == nil {
		return
	}
	if err := l.publisher.Emit(ctx, entry); err != nil {
		l.logger.WarnContext(ctx, "audit entry not published",
			"event_id", entry.ID,
			"event_type", entry.Type,
			"error", err,
		)
	}
}

func categoryNames(categories []models.DataCategory) []string {
	out := make([]string, len(categories))
	for i, c := range categories {
		out[i] = string(c)
	}
	return out
}
