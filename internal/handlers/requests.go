package handlers

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ilikefeeling/reshk-sub001/internal/api"
	"github.com/ilikefeeling/reshk-sub001/internal/apperr"
	"github.com/ilikefeeling/reshk-sub001/internal/models"
)

// parseRequestFilter reads listing filters from the query string
func parseRequestFilter(q url.Values) (models.RequestFilter, error) {
	f := models.RequestFilter{
		Keyword: strings.TrimSpace(q.Get("q")),
		OwnerID: strings.TrimSpace(q.Get("owner")),
	}

	if v := q.Get("category"); v != "" {
		c := models.RequestCategory(strings.ToUpper(v))
		f.Category = &c
	}
	if v := q.Get("status"); v != "" {
		s := models.RequestStatus(strings.ToUpper(v))
		f.Status = &s
	}

	for _, p := range []struct {
		key string
		dst **time.Time
	}{
		{"from", &f.CreatedFrom},
		{"to", &f.CreatedTo},
	} {
		v := q.Get(p.key)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, apperr.Validationf("invalid %s date, expected RFC3339", p.key)
		}
		t = t.UTC()
		*p.dst = &t
	}

	for _, p := range []struct {
		key string
		dst *int
	}{
		{"limit", &f.Limit},
		{"offset", &f.Offset},
	} {
		v := q.Get(p.key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, apperr.Validationf("invalid %s", p.key)
		}
		*p.dst = n
	}

	return f, nil
}

// ListRequestsHandler lists requests visible to the caller
func (h *Handler) ListRequestsHandler(w http.ResponseWriter, r *http.Request) {
	f, err := parseRequestFilter(r.URL.Query())
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	reqs, err := h.svc.ListRequests(r.Context(), actor(r), f)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{
		"requests": reqs,
		"count":    len(reqs),
	})
}

// CreateRequestHandler files a new listing
func (h *Handler) CreateRequestHandler(w http.ResponseWriter, r *http.Request) {
	var in models.CreateRequestInput
	if err := decode(r, &in); err != nil {
		api.WriteError(w, r, err)
		return
	}
	req, err := h.svc.CreateRequest(r.Context(), actor(r), in)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, req)
}

// GetRequestHandler returns one listing
func (h *Handler) GetRequestHandler(w http.ResponseWriter, r *http.Request) {
	req, err := h.svc.GetRequest(r.Context(), actor(r), pathID(r))
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, req)
}

// UpdateRequestHandler edits a listing
func (h *Handler) UpdateRequestHandler(w http.ResponseWriter, r *http.Request) {
	var in models.UpdateRequestInput
	if err := decode(r, &in); err != nil {
		api.WriteError(w, r, err)
		return
	}
	req, err := h.svc.UpdateRequest(r.Context(), actor(r), pathID(r), in)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, req)
}

type depositBody struct {
	PaymentRef string `json:"payment_ref"`
}

// ConfirmDepositHandler verifies the escrow payment for a listing
func (h *Handler) ConfirmDepositHandler(w http.ResponseWriter, r *http.Request) {
	var body depositBody
	if err := decode(r, &body); err != nil {
		api.WriteError(w, r, err)
		return
	}
	req, err := h.svc.ConfirmDeposit(r.Context(), actor(r), pathID(r), body.PaymentRef)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, req)
}

type requestTransition func(ctx context.Context, a models.Actor, id string) (*models.Request, error)

// transitionHandler serves the body-less request transitions
func transitionHandler(apply requestTransition) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := apply(r.Context(), actor(r), pathID(r))
		if err != nil {
			api.WriteError(w, r, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, req)
	}
}

// AcceptRequestHandler matches the caller to an open listing
func (h *Handler) AcceptRequestHandler(w http.ResponseWriter, r *http.Request) {
	transitionHandler(h.svc.AcceptRequest)(w, r)
}

// CompleteRequestHandler closes an in-progress listing
func (h *Handler) CompleteRequestHandler(w http.ResponseWriter, r *http.Request) {
	transitionHandler(h.svc.CompleteRequest)(w, r)
}

// CancelRequestHandler withdraws a listing
func (h *Handler) CancelRequestHandler(w http.ResponseWriter, r *http.Request) {
	transitionHandler(h.svc.CancelRequest)(w, r)
}
