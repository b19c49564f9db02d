package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/dvloznov/welth/internal/api/middleware"
	"github.com/dvloznov/welth/internal/domain"
	"github.com/dvloznov/welth/internal/identity"
	"github.com/dvloznov/welth/internal/jobs"
	"github.com/dvloznov/welth/internal/ledger"
	"github.com/dvloznov/welth/internal/logger"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// LedgerService is the set of ledger operations exposed over HTTP.
type LedgerService interface {
	BulkDeleteTransactions(ctx context.Context, caller identity.Caller, ids []string) ledger.Result
	UpdateDefaultAccount(ctx context.Context, caller identity.Caller, accountID string) ledger.Result
	GetAccountWithTransactions(ctx context.Context, caller identity.Caller, accountID string) (*domain.AccountWithTransactions, error)
}

// statusFor maps ledger failures to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrNotAuthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ledger.ErrUserNotFound), errors.Is(err, ledger.ErrAccountNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeResult writes an operation result with the status matching its error.
func writeResult(w http.ResponseWriter, res ledger.Result) {
	if res.Success {
		middleware.WriteJSON(w, http.StatusOK, res)
		return
	}
	middleware.WriteJSON(w, statusFor(res.Err), res)
}

// AccountsHandler handles account endpoints.
type AccountsHandler struct {
	svc LedgerService
}

// NewAccountsHandler creates a new accounts handler.
func NewAccountsHandler(svc LedgerService) *AccountsHandler {
	return &AccountsHandler{svc: svc}
}

// GetAccount handles GET /api/accounts/{id}
func (h *AccountsHandler) GetAccount(w http.ResponseWriter, r *http.Request, accountID string) {
	ctx := r.Context()

	account, err := h.svc.GetAccountWithTransactions(ctx, identity.CallerFromContext(ctx), accountID)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			log := logger.FromContext(ctx)
			log.Error().Err(err).Str("account_id", accountID).Msg("Failed to get account")
		}
		middleware.WriteError(w, status, err.Error())
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    account,
	})
}

// SetDefault handles PUT /api/accounts/{id}/default
func (h *AccountsHandler) SetDefault(w http.ResponseWriter, r *http.Request, accountID string) {
	ctx := r.Context()
	writeResult(w, h.svc.UpdateDefaultAccount(ctx, identity.CallerFromContext(ctx), accountID))
}

// BulkDeleteRequest is the body of POST /api/transactions/bulk-delete.
// An empty list is accepted and deletes nothing.
type BulkDeleteRequest struct {
	TransactionIDs []string `json:"transaction_ids" validate:"required,max=1000,dive,required,max=128"`
}

// TransactionsHandler handles transaction endpoints.
type TransactionsHandler struct {
	svc      LedgerService
	validate *validator.Validate
}

// NewTransactionsHandler creates a new transactions handler.
func NewTransactionsHandler(svc LedgerService) *TransactionsHandler {
	return &TransactionsHandler{
		svc:      svc,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// BulkDelete handles POST /api/transactions/bulk-delete
func (h *TransactionsHandler) BulkDelete(w http.ResponseWriter, r *http.Request) {
	var req BulkDeleteRequest
	if err := decodeJSON(r, &req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	ctx := r.Context()
	writeResult(w, h.svc.BulkDeleteTransactions(ctx, identity.CallerFromContext(ctx), req.TransactionIDs))
}

// JobsHandler handles job-related endpoints.
type JobsHandler struct {
	store jobs.JobStore
	log   zerolog.Logger
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(store jobs.JobStore, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{
		store: store,
		log:   log,
	}
}

// GetJob handles GET /api/jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request, jobID string) {
	ctx := r.Context()

	job, err := h.store.GetJob(ctx, jobID)
	if errors.Is(err, jobs.ErrJobNotFound) {
		middleware.WriteError(w, http.StatusNotFound, "Job not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get job")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Parse query parameters
	query := r.URL.Query()
	filter := jobs.JobFilter{
		Type:   jobs.JobType(query.Get("type")),
		Status: jobs.JobStatus(query.Get("status")),
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	jobsList, err := h.store.ListJobs(ctx, filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}
	if jobsList == nil {
		jobsList = []*jobs.Job{}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}
