package recovery

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ilikefeeling/reshk-sub001/internal/apperr"
	"github.com/ilikefeeling/reshk-sub001/internal/lifecycle"
	"github.com/ilikefeeling/reshk-sub001/internal/models"
	"github.com/ilikefeeling/reshk-sub001/internal/storage"
	"github.com/rs/zerolog/log"
)

// secretBytes is the delivery secret entropy: 256 bits
const secretBytes = 32

func newSecret() (string, error) {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate delivery secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// IssueDeliveryToken generates a fresh single-use handoff secret for an
// accepted report. Issuing again replaces the previous secret.
func (s *Service) IssueDeliveryToken(ctx context.Context, actor models.Actor, reportID string) (string, error) {
	if err := requireActor(actor); err != nil {
		return "", err
	}

	secret, err := newSecret()
	if err != nil {
		return "", err
	}

	err = s.store.WithTx(ctx, func(q *storage.Queries) error {
		rep, err := q.GetReport(ctx, reportID)
		if err != nil {
			return err
		}
		req, err := q.GetRequest(ctx, rep.RequestID)
		if err != nil {
			return err
		}
		if err := lifecycle.IssueDelivery(rep, req, actor); err != nil {
			return err
		}
		return q.SetDeliverySecret(ctx, reportID, secret, s.now())
	})
	if err != nil {
		return "", err
	}

	log.Info().Str("report_id", reportID).Str("reporter_id", actor.UserID).Msg("Delivery token issued")
	return secret, nil
}

// RedeemDeliveryToken proves the handoff. In one transaction it consumes the
// secret, marks the report DELIVERED, completes the request and records the
// reward payout. Of concurrent redemptions exactly one succeeds.
func (s *Service) RedeemDeliveryToken(ctx context.Context, actor models.Actor, reportID, token string) (*models.Transaction, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	token = strings.TrimSpace(token)

	var (
		rep    *models.Report
		from   models.RequestStatus
		reward *models.Transaction
	)
	err := s.store.WithTx(ctx, func(q *storage.Queries) error {
		var err error
		rep, err = q.GetReport(ctx, reportID)
		if err != nil {
			return err
		}
		req, err := q.GetRequest(ctx, rep.RequestID)
		if err != nil {
			return err
		}
		if err := lifecycle.RedeemDelivery(req, actor); err != nil {
			return err
		}
		if !secretMatches(rep.DeliverySecret, token) {
			return apperr.Validationf("delivery token is invalid or already used")
		}
		if req.Status.Terminal() {
			return apperr.InvalidStatef("request %s is already %s", req.ID, req.Status)
		}

		now := s.now()
		if err := q.MarkDelivered(ctx, rep.ID, *rep.DeliverySecret, now); err != nil {
			if apperr.Is(err, apperr.InvalidState) {
				return apperr.Wrap(apperr.ValidationFailed, err, "delivery token is invalid or already used")
			}
			return err
		}
		from = req.Status
		if err := q.TransitionRequest(ctx, req.ID, from, models.RequestCompleted, now); err != nil {
			return err
		}

		if req.RewardAmount > 0 {
			reward = &models.Transaction{
				ID:        uuid.New().String(),
				Type:      models.TransactionReward,
				Amount:    req.RewardAmount,
				Status:    models.TransactionCompleted,
				UserID:    rep.ReporterID,
				RequestID: &req.ID,
				ReportID:  &rep.ID,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := q.AppendTransaction(ctx, reward); err != nil {
				return err
			}
		}

		rep.Status, rep.DeliveredAt, rep.DeliverySecret = models.ReportDelivered, &now, nil
		return nil
	})
	if err != nil {
		if apperr.Is(err, apperr.ValidationFailed) {
			log.Warn().Str("report_id", reportID).Str("actor_id", actor.UserID).Msg("Rejected delivery token")
		}
		return nil, err
	}

	s.statusChanged(ctx, "report", rep.ID, rep.RequestID, string(models.ReportAccepted), string(models.ReportDelivered), actor)
	s.statusChanged(ctx, "request", rep.RequestID, rep.RequestID, string(from), string(models.RequestCompleted), actor)

	evt := log.Info().Str("report_id", rep.ID).Str("request_id", rep.RequestID)
	if reward != nil {
		evt = evt.Str("transaction_id", reward.ID).Int64("reward", reward.Amount)
	}
	evt.Msg("Delivery confirmed")

	return reward, nil
}

func secretMatches(stored *string, supplied string) bool {
	if stored == nil || *stored == "" || supplied == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(*stored), []byte(supplied)) == 1
}

// SweepExpiredDeliverySecrets clears secrets older than ttl. A zero ttl keeps secrets forever.
func (s *Service) SweepExpiredDeliverySecrets(ctx context.Context, ttl time.Duration) (int64, error) {
	if ttl <= 0 {
		return 0, nil
	}
	return s.store.ClearExpiredSecrets(ctx, s.now().Add(-ttl))
}
