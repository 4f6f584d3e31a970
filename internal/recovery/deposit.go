package recovery

import (
	"context"
	"strings"

	"github.com/ilikefeeling/reshk-sub001/internal/apperr"
	"github.com/ilikefeeling/reshk-sub001/internal/lifecycle"
	"github.com/ilikefeeling/reshk-sub001/internal/models"
	"github.com/ilikefeeling/reshk-sub001/internal/storage"
	"github.com/rs/zerolog/log"
)

// ConfirmDeposit checks a client-side payment with the gateway and, when it
// covers the unpaid deposit exactly, moves the listing on to admin review. On a
// published listing the payment settles the top-up deposit of a raised reward.
func (s *Service) ConfirmDeposit(ctx context.Context, actor models.Actor, requestID, paymentRef string) (*models.Request, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	paymentRef = strings.TrimSpace(paymentRef)
	if paymentRef == "" {
		return nil, apperr.Validationf("payment reference is required")
	}
	if s.payments == nil {
		return nil, apperr.New(apperr.UpstreamUnavailable, "payment gateway not configured")
	}

	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if _, err := lifecycle.ConfirmDeposit(req, actor); err != nil {
		return nil, err
	}
	unpaid, err := s.store.UnpaidDeposit(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if unpaid == nil {
		return nil, apperr.InvalidStatef("request %s has no unpaid deposit", requestID)
	}

	// the gateway call stays outside the transaction
	payment, err := s.verifyPayment(ctx, paymentRef)
	if err != nil {
		return nil, err
	}
	if payment.Status != models.PaymentPaid {
		return nil, apperr.Validationf("payment %s is %s, not paid", paymentRef, payment.Status)
	}
	if payment.Amount != unpaid.Amount {
		return nil, apperr.Validationf("payment amount %d does not match deposit %d", payment.Amount, unpaid.Amount)
	}

	var from models.RequestStatus
	err = s.store.WithTx(ctx, func(q *storage.Queries) error {
		current, err := q.GetRequest(ctx, requestID)
		if err != nil {
			return err
		}
		to, err := lifecycle.ConfirmDeposit(current, actor)
		if err != nil {
			return err
		}

		pending, err := q.UnpaidDeposit(ctx, requestID)
		if err != nil {
			return err
		}
		if pending == nil {
			return apperr.InvalidStatef("request %s has no unpaid deposit", requestID)
		}
		if payment.Amount != pending.Amount {
			return apperr.Validationf("payment amount %d does not match deposit %d", payment.Amount, pending.Amount)
		}

		now := s.now()
		if err := q.AttachPaymentRef(ctx, pending.ID, paymentRef, now); err != nil {
			return err
		}
		from = current.Status
		if from == to {
			// already published, nothing left to approve
			_, err := q.CompletePendingDeposits(ctx, []string{requestID}, now)
			req = current
			return err
		}
		if err := q.TransitionRequest(ctx, requestID, from, to, now); err != nil {
			return err
		}
		current.Status, current.UpdatedAt = to, now
		req = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	if from != req.Status {
		s.statusChanged(ctx, "request", requestID, requestID, string(from), string(req.Status), actor)
	}
	log.Info().
		Str("request_id", requestID).
		Str("payment_ref", paymentRef).
		Int64("amount", payment.Amount).
		Msg("Deposit confirmed")

	return req, nil
}

// HandleDepositPaid confirms a deposit announced asynchronously by the payment relay
func (s *Service) HandleDepositPaid(ctx context.Context, event models.DepositPaidEvent) error {
	_, err := s.ConfirmDeposit(ctx, models.SystemActor, event.RequestID, event.PaymentRef)
	return err
}

func (s *Service) verifyPayment(ctx context.Context, ref string) (*models.Payment, error) {
	ctx, cancel := context.WithTimeout(ctx, s.paymentTimeout)
	defer cancel()

	payment, err := s.payments.VerifyPayment(ctx, ref)
	if err != nil {
		if apperr.KindOf(err) != apperr.Internal {
			return nil, err
		}
		log.Error().Err(err).Str("payment_ref", ref).Msg("Payment gateway lookup failed")
		return nil, apperr.Wrap(apperr.UpstreamUnavailable, err, "payment gateway unavailable")
	}
	return payment, nil
}
