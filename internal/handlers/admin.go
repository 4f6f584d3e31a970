package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/ilikefeeling/reshk-sub001/internal/api"
	"github.com/ilikefeeling/reshk-sub001/internal/apperr"
	"github.com/ilikefeeling/reshk-sub001/internal/models"
)

// ApproveRequestHandler publishes one pending listing
func (h *Handler) ApproveRequestHandler(w http.ResponseWriter, r *http.Request) {
	req, err := h.svc.ApproveRequest(r.Context(), actor(r), pathID(r))
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, req)
}

// BulkApproveRequestsHandler publishes a batch of listings atomically
func (h *Handler) BulkApproveRequestsHandler(w http.ResponseWriter, r *http.Request) {
	var body idsBody
	if err := decode(r, &body); err != nil {
		api.WriteError(w, r, err)
		return
	}
	n, err := h.svc.BulkApproveRequests(r.Context(), actor(r), body.IDs)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"approved": n})
}

// BulkDeleteRequestsHandler removes requests and their dependents
func (h *Handler) BulkDeleteRequestsHandler(w http.ResponseWriter, r *http.Request) {
	var body idsBody
	if err := decode(r, &body); err != nil {
		api.WriteError(w, r, err)
		return
	}
	res, err := h.svc.BulkDeleteRequests(r.Context(), actor(r), body.IDs)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, res.Detail())
}

// BulkDeleteReportsHandler removes reports
func (h *Handler) BulkDeleteReportsHandler(w http.ResponseWriter, r *http.Request) {
	var body idsBody
	if err := decode(r, &body); err != nil {
		api.WriteError(w, r, err)
		return
	}
	res, err := h.svc.BulkDeleteReports(r.Context(), actor(r), body.IDs)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, res.Detail())
}

// RefundTransactionHandler reverses a completed ledger entry
func (h *Handler) RefundTransactionHandler(w http.ResponseWriter, r *http.Request) {
	refund, err := h.svc.RefundTransaction(r.Context(), actor(r), pathID(r))
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, refund)
}

// ListTransactionsHandler lists ledger entries
func (h *Handler) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := models.TransactionFilter{
		RequestID: q.Get("request_id"),
		UserID:    q.Get("user_id"),
	}
	if v := q.Get("type"); v != "" {
		t := models.TransactionType(strings.ToUpper(v))
		f.Type = &t
	}
	if v := q.Get("status"); v != "" {
		s := models.TransactionStatus(strings.ToUpper(v))
		f.Status = &s
	}
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	f.Limit = limit

	txs, err := h.svc.ListTransactions(r.Context(), actor(r), f)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{
		"transactions": txs,
		"count":        len(txs),
	})
}

// ListAuditLogHandler lists recent privileged actions
func (h *Handler) ListAuditLogHandler(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	entries, err := h.svc.ListAuditLog(r.Context(), actor(r), r.URL.Query().Get("action"), limit)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

func parseLimit(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, apperr.Validationf("invalid limit")
	}
	return n, nil
}
