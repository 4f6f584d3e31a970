package lifecycle

import (
	"github.com/ilikefeeling/reshk-sub001/internal/apperr"
	"github.com/ilikefeeling/reshk-sub001/internal/models"
)

// Submit checks that actor may file a report against req.
func Submit(req *models.Request, actor models.Actor) error {
	if actor.UserID == req.OwnerID {
		return apperr.Forbiddenf("owners cannot report their own request as found")
	}
	return AcceptsReports(req)
}

// Review decides a pending report. Only the request owner or an administrator.
func Review(rep *models.Report, req *models.Request, actor models.Actor, approve bool) (models.ReportStatus, error) {
	if actor.UserID != req.OwnerID && !actor.IsAdmin() {
		return "", apperr.Forbiddenf("only the request owner or an administrator can review reports")
	}
	if rep.Status != models.ReportPending {
		return "", apperr.InvalidStatef("report %s is %s, expected PENDING", rep.ID, rep.Status)
	}
	if approve {
		return models.ReportAccepted, nil
	}
	return models.ReportRejected, nil
}

// EditReport checks that actor may still change the report.
func EditReport(rep *models.Report, actor models.Actor) error {
	if actor.UserID != rep.ReporterID {
		return apperr.Forbiddenf("only the reporter can edit the report")
	}
	if rep.Status != models.ReportPending {
		return apperr.InvalidStatef("report %s is %s and can no longer be edited", rep.ID, rep.Status)
	}
	return nil
}

// IssueDelivery checks that the reporter may request a handoff token.
func IssueDelivery(rep *models.Report, req *models.Request, actor models.Actor) error {
	if actor.UserID != rep.ReporterID {
		return apperr.Forbiddenf("only the reporter can issue a delivery token")
	}
	if req.Status == models.RequestPendingDeposit {
		return apperr.InvalidStatef("request %s has no confirmed deposit", req.ID)
	}
	if req.Status.Terminal() {
		return apperr.InvalidStatef("request %s is %s", req.ID, req.Status)
	}
	if rep.Status != models.ReportAccepted {
		return apperr.InvalidStatef("report %s is %s, expected ACCEPTED", rep.ID, rep.Status)
	}
	return nil
}

// RedeemDelivery checks that actor may redeem a handoff token for the report.
// Secret comparison happens in the caller under the store's row guard.
func RedeemDelivery(req *models.Request, actor models.Actor) error {
	if actor.UserID != req.OwnerID {
		return apperr.Forbiddenf("only the request owner can confirm delivery")
	}
	return nil
}
