package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"zynx/internal/audit"
	"zynx/internal/pdpa/models"
	"zynx/internal/pdpa/service"
	dErrors "zynx/pkg/domain-errors"
	"zynx/pkg/platform/httputil"
	"zynx/pkg/requestcontext"
)

// Ledger is the subset of the consent ledger the HTTP layer calls.
type Ledger interface {
	CreateConsent(ctx context.Context, cmd service.CreateConsentCommand) (*models.ConsentRecord, error)
	WithdrawConsent(ctx context.Context, consentID string) (bool, error)
	CheckConsent(ctx context.Context, userID string, purpose models.Purpose) (bool, string, error)
	RecordDataProcessing(ctx context.Context, cmd service.RecordProcessingCommand) (*models.ProcessingRecord, error)
	RequestUserRights(ctx context.Context, userID string, requestType models.RightsRequestType, details map[string]any) (*models.RightsRequest, error)
	ProcessUserRightsRequest(ctx context.Context, requestID string, action models.RightsStatus, details map[string]any) (bool, error)
	GetUserData(ctx context.Context, userID string) (*models.UserData, error)
	DeleteUserData(ctx context.Context, userID string) (bool, error)
	CleanupExpiredData(ctx context.Context) (*models.CleanupResult, error)
	GetComplianceReport(ctx context.Context) (*models.ComplianceReport, error)
	GetAuditLog(ctx context.Context, filter models.AuditFilter) ([]audit.Entry, error)
}

// Handler exposes the ledger over JSON/HTTP.
type Handler struct {
	ledger Ledger
	logger *slog.Logger
}

func New(ledger Ledger, logger *slog.Logger) *Handler {
	return &Handler{ledger: ledger, logger: logger}
}

// Register mounts the ledger routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Post("/consents", h.handleCreateConsent)
	r.Get("/consents/check", h.handleCheckConsent)
	r.Post("/consents/{consentID}/withdraw", h.handleWithdrawConsent)
	r.Post("/processing", h.handleRecordProcessing)
	r.Post("/rights", h.handleRequestRights)
	r.Post("/rights/{requestID}/process", h.handleProcessRights)
	r.Get("/users/{userID}/data", h.handleGetUserData)
	r.Delete("/users/{userID}/data", h.handleDeleteUserData)
	r.Post("/cleanup", h.handleCleanup)
	r.Get("/report", h.handleReport)
	r.Get("/audit", h.handleAuditLog)
}

func (h *Handler) handleCreateConsent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[CreateConsentRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	record, err := h.ledger.CreateConsent(ctx, req.ToCommand())
	if err != nil {
		h.fail(ctx, w, "failed to create consent", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toConsentResponse(*record))
}

func (h *Handler) handleWithdrawConsent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	consentID := chi.URLParam(r, "consentID")

	withdrawn, err := h.ledger.WithdrawConsent(ctx, consentID)
	if err != nil {
		h.fail(ctx, w, "failed to withdraw consent", err)
		return
	}
	if !withdrawn {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "consent not found"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, WithdrawResponse{Withdrawn: true, ConsentID: consentID})
}

func (h *Handler) handleCheckConsent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()
	userID := strings.TrimSpace(query.Get("user_id"))
	if userID == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "user_id is required"))
		return
	}
	purpose, err := models.ParsePurpose(query.Get("purpose"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	valid, consentID, err := h.ledger.CheckConsent(ctx, userID, purpose)
	if err != nil {
		h.fail(ctx, w, "failed to check consent", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, CheckConsentResponse{HasConsent: valid, ConsentID: consentID})
}

func (h *Handler) handleRecordProcessing(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[RecordProcessingRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	record, err := h.ledger.RecordDataProcessing(ctx, req.ToCommand())
	if err != nil {
		h.fail(ctx, w, "failed to record data processing", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toProcessingResponse(*record))
}

func (h *Handler) handleRequestRights(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[RightsRequestRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	request, err := h.ledger.RequestUserRights(ctx, req.UserID, req.requestType, req.Details)
	if err != nil {
		h.fail(ctx, w, "failed to create rights request", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toRightsResponse(*request))
}

func (h *Handler) handleProcessRights(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	rightsID := chi.URLParam(r, "requestID")

	req, ok := httputil.DecodeAndPrepare[ProcessRightsRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	processed, err := h.ledger.ProcessUserRightsRequest(ctx, rightsID, req.action, req.Details)
	if err != nil {
		h.fail(ctx, w, "failed to process rights request", err)
		return
	}
	if !processed {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "rights request not found"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ProcessRightsResponse{
		Processed: true,
		RequestID: rightsID,
		Status:    string(req.action),
	})
}

func (h *Handler) handleGetUserData(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	data, err := h.ledger.GetUserData(ctx, chi.URLParam(r, "userID"))
	if err != nil {
		h.fail(ctx, w, "failed to get user data", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toUserDataResponse(data))
}

func (h *Handler) handleDeleteUserData(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := chi.URLParam(r, "userID")
	deleted, err := h.ledger.DeleteUserData(ctx, userID)
	if err != nil {
		h.fail(ctx, w, "failed to delete user data", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, DeleteUserDataResponse{Deleted: deleted, UserID: userID})
}

func (h *Handler) handleCleanup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	result, err := h.ledger.CleanupExpiredData(ctx)
	if err != nil {
		h.fail(ctx, w, "failed to clean up expired data", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, CleanupResponse{
		ExpiredConsents:          result.ExpiredConsents,
		ExpiredProcessingRecords: result.ExpiredProcessingRecords,
	})
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	report, err := h.ledger.GetComplianceReport(ctx)
	if err != nil {
		h.fail(ctx, w, "failed to generate compliance report", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toComplianceReportResponse(report))
}

func (h *Handler) handleAuditLog(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()
	entries, err := h.ledger.GetAuditLog(ctx, models.AuditFilter{
		UserID:    strings.TrimSpace(query.Get("user_id")),
		EventType: strings.TrimSpace(query.Get("event_type")),
	})
	if err != nil {
		h.fail(ctx, w, "failed to read audit log", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, AuditLogResponse{Entries: entries, Count: len(entries)})
}

// fail logs err at a level matching its code and writes the error response.
func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	level := slog.LevelError
	if dErrors.HasCode(err, dErrors.CodeInvalidInput) || dErrors.HasCode(err, dErrors.CodeInvalidState) {
		level = slog.LevelWarn
	}
	h.logger.Log(ctx, level, msg,
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	)
	httputil.WriteError(w, err)
}
