package recovery

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/ilikefeeling/reshk-sub001/internal/apperr"
	"github.com/ilikefeeling/reshk-sub001/internal/lifecycle"
	"github.com/ilikefeeling/reshk-sub001/internal/models"
	"github.com/ilikefeeling/reshk-sub001/internal/storage"
	"github.com/ilikefeeling/reshk-sub001/internal/verification"
	"github.com/rs/zerolog/log"
)

// resolveCapture reads capture evidence from the stored photos. The first photo
// carrying any metadata wins; lookup failures leave the evidence empty.
func (s *Service) resolveCapture(ctx context.Context, photos []string) models.CaptureMetadata {
	if s.images == nil {
		return models.CaptureMetadata{}
	}
	for _, u := range photos {
		meta, err := s.images.CaptureMetadata(ctx, u)
		if err != nil {
			log.Warn().Err(err).Str("url", u).Msg("Failed to read capture metadata")
			continue
		}
		if validateCoordinates(meta.Latitude, meta.Longitude) != nil {
			meta.Latitude, meta.Longitude = nil, nil
		}
		if !meta.Empty() {
			return meta
		}
	}
	return models.CaptureMetadata{}
}

func setCapture(rep *models.Report, c models.CaptureMetadata) {
	rep.CaptureLatitude = c.Latitude
	rep.CaptureLongitude = c.Longitude
	rep.CapturedAt = c.TakenAt
}

func applyScore(rep *models.Report, res verification.Result) {
	rep.VerificationScore = res.Composite
	rep.SimilarityScore = res.Visual
	rep.Status = res.Status()
}

// SubmitReport files a finder's claim and scores it. Scoring never fails the
// submission; a collaborator outage only lowers the visual sub-score.
func (s *Service) SubmitReport(ctx context.Context, actor models.Actor, requestID string, in models.CreateReportInput) (*models.Report, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	photos := cleanPhotos(in.Photos)
	if strings.TrimSpace(in.Description) == "" && len(photos) == 0 {
		return nil, apperr.Validationf("a description or at least one photo is required")
	}

	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !canSeeRequest(req, actor) {
		return nil, apperr.NotFoundf("request %s not found", requestID)
	}
	if err := lifecycle.Submit(req, actor); err != nil {
		return nil, err
	}

	now := s.now()
	rep := &models.Report{
		ID:          uuid.New().String(),
		RequestID:   req.ID,
		ReporterID:  actor.UserID,
		Description: in.Description,
		Photos:      photos,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	setCapture(rep, s.resolveCapture(ctx, photos))
	applyScore(rep, s.engine.Evaluate(ctx, req, rep))

	err = s.store.WithTx(ctx, func(q *storage.Queries) error {
		current, err := q.GetRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if err := lifecycle.AcceptsReports(current); err != nil {
			return err
		}
		return q.CreateReport(ctx, rep)
	})
	if err != nil {
		return nil, err
	}

	s.reportSubmitted(ctx, rep)
	log.Info().
		Str("report_id", rep.ID).
		Str("request_id", req.ID).
		Float64("score", rep.VerificationScore).
		Str("status", string(rep.Status)).
		Msg("Report submitted")

	return rep, nil
}

// UpdateReport edits a pending report. Evidence changes are re-scored from scratch.
func (s *Service) UpdateReport(ctx context.Context, actor models.Actor, id string, in models.UpdateReportInput) (*models.Report, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}

	rep, err := s.store.GetReport(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := lifecycle.EditReport(rep, actor); err != nil {
		return nil, err
	}
	req, err := s.store.GetRequest(ctx, rep.RequestID)
	if err != nil {
		return nil, err
	}

	rescore := false
	if in.Description != nil {
		rep.Description = *in.Description
	}
	if in.Photos != nil {
		rep.Photos = cleanPhotos(*in.Photos)
		rescore = true
	}
	if strings.TrimSpace(rep.Description) == "" && len(rep.Photos) == 0 {
		return nil, apperr.Validationf("a description or at least one photo is required")
	}
	if rescore {
		setCapture(rep, s.resolveCapture(ctx, rep.Photos))
		applyScore(rep, s.engine.Evaluate(ctx, req, rep))
	}
	rep.UpdatedAt = s.now()

	err = s.store.WithTx(ctx, func(q *storage.Queries) error {
		current, err := q.GetReport(ctx, id)
		if err != nil {
			return err
		}
		if err := lifecycle.EditReport(current, actor); err != nil {
			return err
		}
		return q.UpdateReportEvidence(ctx, rep)
	})
	if err != nil {
		return nil, err
	}

	if rep.Status != models.ReportPending {
		s.statusChanged(ctx, "report", rep.ID, rep.RequestID, string(models.ReportPending), string(rep.Status), actor)
	}
	log.Info().
		Str("report_id", rep.ID).
		Bool("rescored", rescore).
		Float64("score", rep.VerificationScore).
		Msg("Report updated")

	return rep, nil
}

// ReviewReport records the owner's or an administrator's verdict. A rejection
// reason is kept in the stored description.
func (s *Service) ReviewReport(ctx context.Context, actor models.Actor, id string, decision models.ReviewDecision) (*models.Report, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}

	var rep *models.Report
	err := s.store.WithTx(ctx, func(q *storage.Queries) error {
		var err error
		rep, err = q.GetReport(ctx, id)
		if err != nil {
			return err
		}
		req, err := q.GetRequest(ctx, rep.RequestID)
		if err != nil {
			return err
		}
		to, err := lifecycle.Review(rep, req, actor, decision.Approve)
		if err != nil {
			return err
		}

		description := rep.Description
		if reason := strings.TrimSpace(decision.Reason); !decision.Approve && reason != "" {
			description = fmt.Sprintf("[Rejected: %s] %s", reason, rep.Description)
		}

		now := s.now()
		if err := q.ReviewReport(ctx, id, to, description, now); err != nil {
			return err
		}
		if actor.IsAdmin() && actor.UserID != req.OwnerID {
			if err := s.audit(ctx, q, actor, models.AuditReviewReport, "report", id, map[string]any{
				"request_id": req.ID,
				"decision":   string(to),
				"reason":     decision.Reason,
			}); err != nil {
				return err
			}
		}
		rep.Status, rep.Description, rep.UpdatedAt = to, description, now
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.statusChanged(ctx, "report", rep.ID, rep.RequestID, string(models.ReportPending), string(rep.Status), actor)
	log.Info().
		Str("report_id", rep.ID).
		Str("reviewer_id", actor.UserID).
		Str("status", string(rep.Status)).
		Msg("Report reviewed")

	return rep, nil
}

// GetReport returns a report to its reporter, the request owner or an administrator
func (s *Service) GetReport(ctx context.Context, actor models.Actor, id string) (*models.Report, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	rep, err := s.store.GetReport(ctx, id)
	if err != nil {
		return nil, err
	}
	if rep.ReporterID == actor.UserID || actor.Privileged() {
		return rep, nil
	}
	req, err := s.store.GetRequest(ctx, rep.RequestID)
	if err != nil {
		return nil, err
	}
	if req.OwnerID != actor.UserID {
		return nil, apperr.Forbiddenf("report %s belongs to another user", id)
	}
	return rep, nil
}

// ListReports returns the reports on a request. Owners and administrators see
// all of them, anyone else only their own.
func (s *Service) ListReports(ctx context.Context, actor models.Actor, requestID string) ([]*models.Report, error) {
	req, err := s.GetRequest(ctx, actor, requestID)
	if err != nil {
		return nil, err
	}
	reports, err := s.store.ListReportsByRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.OwnerID == actor.UserID || actor.Privileged() {
		return reports, nil
	}

	own := make([]*models.Report, 0, len(reports))
	for _, r := range reports {
		if r.ReporterID == actor.UserID {
			own = append(own, r)
		}
	}
	return own, nil
}
