// Package lifecycle holds the transition guards for requests and reports.
// Guards are pure: they inspect current state and the acting identity and
// either return the next status or a typed error.
package lifecycle

import (
	"github.com/ilikefeeling/reshk-sub001/internal/apperr"
	"github.com/ilikefeeling/reshk-sub001/internal/models"
)

// InitialRequestStatus is the state a new request starts in. Listings with a
// reward wait for the escrow deposit first.
func InitialRequestStatus(reward int64) models.RequestStatus {
	if reward > 0 {
		return models.RequestPendingDeposit
	}
	return models.RequestPending
}

// Approve moves a pending listing to OPEN. Administrators only.
func Approve(req *models.Request, actor models.Actor) (models.RequestStatus, error) {
	if !actor.IsAdmin() {
		return "", apperr.Forbiddenf("only administrators can approve requests")
	}
	if req.Status != models.RequestPending && req.Status != models.RequestPendingDeposit {
		return "", apperr.InvalidStatef("request %s is %s, expected PENDING or PENDING_DEPOSIT", req.ID, req.Status)
	}
	return models.RequestOpen, nil
}

// ConfirmDeposit moves a listing whose escrow payment was verified to PENDING.
// Published listings stay where they are; their payment settles a top-up
// deposit after a raised reward.
func ConfirmDeposit(req *models.Request, actor models.Actor) (models.RequestStatus, error) {
	if actor.UserID != req.OwnerID && !actor.Privileged() {
		return "", apperr.Forbiddenf("only the owner can confirm the deposit")
	}
	switch req.Status {
	case models.RequestPendingDeposit:
		return models.RequestPending, nil
	case models.RequestOpen, models.RequestInProgress:
		return req.Status, nil
	}
	return "", apperr.InvalidStatef("request %s is %s, no deposit can be confirmed", req.ID, req.Status)
}

// Accept matches a finder to an open listing. The owner cannot accept their own.
func Accept(req *models.Request, actor models.Actor) (models.RequestStatus, error) {
	if req.Status != models.RequestOpen {
		return "", apperr.InvalidStatef("request %s is %s, expected OPEN", req.ID, req.Status)
	}
	if actor.UserID == req.OwnerID {
		return "", apperr.Forbiddenf("owners cannot accept their own request")
	}
	return models.RequestInProgress, nil
}

// Complete closes an in-progress listing. Owner only.
func Complete(req *models.Request, actor models.Actor) (models.RequestStatus, error) {
	if actor.UserID != req.OwnerID {
		return "", apperr.Forbiddenf("only the owner can complete the request")
	}
	if req.Status != models.RequestInProgress {
		return "", apperr.InvalidStatef("request %s is %s, expected IN_PROGRESS", req.ID, req.Status)
	}
	return models.RequestCompleted, nil
}

// Cancel withdraws a listing from any non-terminal state. Owner only.
func Cancel(req *models.Request, actor models.Actor) (models.RequestStatus, error) {
	if actor.UserID != req.OwnerID {
		return "", apperr.Forbiddenf("only the owner can cancel the request")
	}
	if req.Status.Terminal() {
		return "", apperr.InvalidStatef("request %s is already %s", req.ID, req.Status)
	}
	return models.RequestCanceled, nil
}

// Edit checks that the listing may still be changed by actor.
func Edit(req *models.Request, actor models.Actor) error {
	if actor.UserID != req.OwnerID {
		return apperr.Forbiddenf("only the owner can edit the request")
	}
	if req.Status.Terminal() {
		return apperr.InvalidStatef("request %s is %s and can no longer be edited", req.ID, req.Status)
	}
	return nil
}

// AcceptsReports reports whether finders may file reports against the listing.
func AcceptsReports(req *models.Request) error {
	if req.Status != models.RequestOpen && req.Status != models.RequestInProgress {
		return apperr.InvalidStatef("request %s is %s and does not accept reports", req.ID, req.Status)
	}
	return nil
}
