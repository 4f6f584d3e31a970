package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/ilikefeeling/reshk-sub001/internal/api"
	"github.com/ilikefeeling/reshk-sub001/internal/auth"
	"github.com/rs/zerolog/log"
)

// NewRouter configures all routes and middleware. redeemLimiter may be nil.
func NewRouter(h *Handler, validator *auth.JWTValidator, redeemLimiter *auth.UserRateLimiter) *mux.Router {
	r := mux.NewRouter()

	r.Use(loggingMiddleware)
	r.Use(recoveryMiddleware)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		api.WriteProblem(w, req, http.StatusNotFound, "no such route")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		api.WriteProblem(w, req, http.StatusMethodNotAllowed, "method not supported for this route")
	})

	r.HandleFunc("/health", h.HealthCheckHandler).Methods(http.MethodGet)

	a := r.PathPrefix("/api").Subrouter()
	a.Use(auth.NewMiddleware(validator))

	a.HandleFunc("/images", h.UploadImageHandler).Methods(http.MethodPost)

	a.HandleFunc("/requests", h.ListRequestsHandler).Methods(http.MethodGet)
	a.HandleFunc("/requests", h.CreateRequestHandler).Methods(http.MethodPost)
	a.HandleFunc("/requests/{id}", h.GetRequestHandler).Methods(http.MethodGet)
	a.HandleFunc("/requests/{id}", h.UpdateRequestHandler).Methods(http.MethodPatch)
	a.HandleFunc("/requests/{id}/deposit", h.ConfirmDepositHandler).Methods(http.MethodPost)
	a.HandleFunc("/requests/{id}/accept", h.AcceptRequestHandler).Methods(http.MethodPost)
	a.HandleFunc("/requests/{id}/complete", h.CompleteRequestHandler).Methods(http.MethodPost)
	a.HandleFunc("/requests/{id}/cancel", h.CancelRequestHandler).Methods(http.MethodPost)
	a.HandleFunc("/requests/{id}/reports", h.ListReportsHandler).Methods(http.MethodGet)
	a.HandleFunc("/requests/{id}/reports", h.SubmitReportHandler).Methods(http.MethodPost)

	a.HandleFunc("/reports/{id}", h.GetReportHandler).Methods(http.MethodGet)
	a.HandleFunc("/reports/{id}", h.UpdateReportHandler).Methods(http.MethodPatch)
	a.HandleFunc("/reports/{id}/review", h.ReviewReportHandler).Methods(http.MethodPost)
	a.HandleFunc("/reports/{id}/delivery-token", h.IssueDeliveryTokenHandler).Methods(http.MethodPost)

	var redeem http.Handler = http.HandlerFunc(h.RedeemDeliveryTokenHandler)
	if redeemLimiter != nil {
		redeem = redeemLimiter.Middleware(redeem)
	}
	a.Handle("/reports/{id}/redeem", redeem).Methods(http.MethodPost)

	admin := a.PathPrefix("/admin").Subrouter()
	admin.Use(auth.RequireAdmin)
	admin.HandleFunc("/requests/approve", h.BulkApproveRequestsHandler).Methods(http.MethodPost)
	admin.HandleFunc("/requests/delete", h.BulkDeleteRequestsHandler).Methods(http.MethodPost)
	admin.HandleFunc("/requests/{id}/approve", h.ApproveRequestHandler).Methods(http.MethodPost)
	admin.HandleFunc("/reports/delete", h.BulkDeleteReportsHandler).Methods(http.MethodPost)
	admin.HandleFunc("/transactions", h.ListTransactionsHandler).Methods(http.MethodGet)
	admin.HandleFunc("/transactions/{id}/refund", h.RefundTransactionHandler).Methods(http.MethodPost)
	admin.HandleFunc("/audit-log", h.ListAuditLogHandler).Methods(http.MethodGet)

	log.Info().Msg("Routes configured successfully")
	return r
}

// loggingMiddleware logs all HTTP requests
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapped.statusCode).
			Dur("duration_ms", time.Since(start)).
			Str("remote_addr", r.RemoteAddr).
			Msg("HTTP request")
	})
}

// recoveryMiddleware recovers from panics
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Error().
					Interface("error", err).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Msg("Panic recovered")

				api.WriteProblem(w, r, http.StatusInternalServerError, "an unexpected error occurred")
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
