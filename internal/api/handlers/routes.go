package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/dvloznov/welth/internal/api/middleware"
	"github.com/dvloznov/welth/internal/identity"
	"github.com/rs/zerolog"
)

// Deps are the collaborators the HTTP surface needs.
type Deps struct {
	Ledger   LedgerService
	Identity identity.Provider
	Email    *EmailHandler
	Jobs     *JobsHandler
	Log      zerolog.Logger
	Now      func() time.Time
}

// NewRouter builds the routed handler with the middleware chain applied.
func NewRouter(d Deps) http.Handler {
	if d.Now == nil {
		d.Now = time.Now
	}
	accountsHandler := NewAccountsHandler(d.Ledger)
	transactionsHandler := NewTransactionsHandler(d.Ledger)
	notFound := NotFound(d.Now)

	mux := http.NewServeMux()

	// Accounts endpoints
	mux.HandleFunc("/api/accounts/", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/accounts/"), "/")
		accountID, action, _ := strings.Cut(rest, "/")
		if accountID == "" {
			middleware.WriteError(w, http.StatusBadRequest, "Account ID is required")
			return
		}
		switch action {
		case "":
			if r.Method != http.MethodGet {
				middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
				return
			}
			accountsHandler.GetAccount(w, r, accountID)
		case "default":
			if r.Method != http.MethodPut && r.Method != http.MethodPost {
				middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
				return
			}
			accountsHandler.SetDefault(w, r, accountID)
		default:
			notFound(w, r)
		}
	})

	// Transactions endpoints
	mux.HandleFunc("/api/transactions/bulk-delete", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			transactionsHandler.BulkDelete(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	// Diagnostic email
	if d.Email != nil {
		mux.HandleFunc("/api/test-email", func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet {
				d.Email.TestEmail(w, r)
			} else {
				middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			}
		})
	}

	// Jobs endpoints
	if d.Jobs != nil {
		mux.HandleFunc("/api/jobs", func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet {
				d.Jobs.ListJobs(w, r)
			} else {
				middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			}
		})

		mux.HandleFunc("/api/jobs/", func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet {
				// Extract job ID from path
				jobID := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
				if jobID == "" {
					middleware.WriteError(w, http.StatusBadRequest, "Job ID is required")
					return
				}
				d.Jobs.GetJob(w, r, jobID)
			} else {
				middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			}
		})
	}

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   d.Now().Format(time.RFC3339),
		})
	})

	// Everything else
	mux.HandleFunc("/", notFound)

	return middleware.Chain(mux,
		middleware.RequestID,
		middleware.Recovery(d.Log),
		middleware.Logger(d.Log),
		middleware.CORS,
		middleware.Auth(d.Identity),
	)
}
