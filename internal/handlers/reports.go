package handlers

import (
	"net/http"

	"github.com/ilikefeeling/reshk-sub001/internal/api"
	"github.com/ilikefeeling/reshk-sub001/internal/models"
)

// ListReportsHandler lists the reports on a request the caller may see
func (h *Handler) ListReportsHandler(w http.ResponseWriter, r *http.Request) {
	reports, err := h.svc.ListReports(r.Context(), actor(r), pathID(r))
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{
		"reports": reports,
		"count":   len(reports),
	})
}

// SubmitReportHandler files a finder's report against a request
func (h *Handler) SubmitReportHandler(w http.ResponseWriter, r *http.Request) {
	var in models.CreateReportInput
	if err := decode(r, &in); err != nil {
		api.WriteError(w, r, err)
		return
	}
	rep, err := h.svc.SubmitReport(r.Context(), actor(r), pathID(r), in)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, rep)
}

// GetReportHandler returns one report
func (h *Handler) GetReportHandler(w http.ResponseWriter, r *http.Request) {
	rep, err := h.svc.GetReport(r.Context(), actor(r), pathID(r))
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, rep)
}

// UpdateReportHandler edits a pending report
func (h *Handler) UpdateReportHandler(w http.ResponseWriter, r *http.Request) {
	var in models.UpdateReportInput
	if err := decode(r, &in); err != nil {
		api.WriteError(w, r, err)
		return
	}
	rep, err := h.svc.UpdateReport(r.Context(), actor(r), pathID(r), in)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, rep)
}

// ReviewReportHandler records an accept or reject verdict
func (h *Handler) ReviewReportHandler(w http.ResponseWriter, r *http.Request) {
	var decision models.ReviewDecision
	if err := decode(r, &decision); err != nil {
		api.WriteError(w, r, err)
		return
	}
	rep, err := h.svc.ReviewReport(r.Context(), actor(r), pathID(r), decision)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, rep)
}

// IssueDeliveryTokenHandler hands the reporter a fresh single-use secret.
// This is the only response that ever carries the secret.
func (h *Handler) IssueDeliveryTokenHandler(w http.ResponseWriter, r *http.Request) {
	token, err := h.svc.IssueDeliveryToken(r.Context(), actor(r), pathID(r))
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	api.WriteJSON(w, http.StatusCreated, map[string]string{"token": token})
}

type redeemBody struct {
	Token string `json:"token"`
}

// RedeemDeliveryTokenHandler proves the handoff and settles the reward
func (h *Handler) RedeemDeliveryTokenHandler(w http.ResponseWriter, r *http.Request) {
	var body redeemBody
	if err := decode(r, &body); err != nil {
		api.WriteError(w, r, err)
		return
	}
	reward, err := h.svc.RedeemDeliveryToken(r.Context(), actor(r), pathID(r), body.Token)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{
		"status":      models.ReportDelivered,
		"transaction": reward,
	})
}
