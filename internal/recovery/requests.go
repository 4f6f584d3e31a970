package recovery

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/ilikefeeling/reshk-sub001/internal/apperr"
	"github.com/ilikefeeling/reshk-sub001/internal/lifecycle"
	"github.com/ilikefeeling/reshk-sub001/internal/models"
	"github.com/ilikefeeling/reshk-sub001/internal/storage"
	"github.com/ilikefeeling/reshk-sub001/internal/verification"
	"github.com/rs/zerolog/log"
)

func validateCoordinates(lat, lng *float64) error {
	if (lat == nil) != (lng == nil) {
		return apperr.Validationf("latitude and longitude must be given together")
	}
	if lat != nil && (*lat < -90 || *lat > 90 || *lng < -180 || *lng > 180) {
		return apperr.Validationf("coordinates out of range")
	}
	return nil
}

func validateRequest(req *models.Request) error {
	if strings.TrimSpace(req.Title) == "" {
		return apperr.Validationf("title is required")
	}
	if !req.Category.Valid() {
		return apperr.Validationf("unknown category %q", req.Category)
	}
	if req.RewardAmount < 0 {
		return apperr.Validationf("reward amount cannot be negative")
	}
	return validateCoordinates(req.Latitude, req.Longitude)
}

// CreateRequest files a new listing. A reward requires an escrow deposit, so
// rewarded listings start in PENDING_DEPOSIT with a pending DEPOSIT entry.
func (s *Service) CreateRequest(ctx context.Context, actor models.Actor, in models.CreateRequestInput) (*models.Request, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}

	now := s.now()
	req := &models.Request{
		ID:            uuid.New().String(),
		OwnerID:       actor.UserID,
		Title:         strings.TrimSpace(in.Title),
		Description:   in.Description,
		Category:      models.RequestCategory(strings.ToUpper(string(in.Category))),
		RewardAmount:  in.RewardAmount,
		DepositAmount: verification.Deposit(in.RewardAmount),
		Location:      in.Location,
		Latitude:      in.Latitude,
		Longitude:     in.Longitude,
		Photos:        cleanPhotos(in.Photos),
		Status:        lifecycle.InitialRequestStatus(in.RewardAmount),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	err := s.store.WithTx(ctx, func(q *storage.Queries) error {
		if err := q.CreateRequest(ctx, req); err != nil {
			return err
		}
		if req.DepositAmount == 0 {
			return nil
		}
		return q.AppendTransaction(ctx, s.pendingDeposit(req))
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("request_id", req.ID).
		Str("owner_id", req.OwnerID).
		Int64("reward", req.RewardAmount).
		Int64("deposit", req.DepositAmount).
		Str("status", string(req.Status)).
		Msg("Request created")

	return req, nil
}

func (s *Service) pendingDeposit(req *models.Request) *models.Transaction {
	id := req.ID
	now := s.now()
	return &models.Transaction{
		ID:        uuid.New().String(),
		Type:      models.TransactionDeposit,
		Amount:    req.DepositAmount,
		Status:    models.TransactionPending,
		UserID:    req.OwnerID,
		RequestID: &id,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func cleanPhotos(photos []string) []string {
	out := make([]string, 0, len(photos))
	for _, p := range photos {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func canSeeRequest(req *models.Request, actor models.Actor) bool {
	return req.Status.Public() || req.OwnerID == actor.UserID || actor.Privileged()
}

// GetRequest returns a listing. Unpublished listings are hidden from everyone
// but their owner and administrators.
func (s *Service) GetRequest(ctx context.Context, actor models.Actor, id string) (*models.Request, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	req, err := s.store.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canSeeRequest(req, actor) {
		return nil, apperr.NotFoundf("request %s not found", id)
	}
	return req, nil
}

// ListRequests returns listings matching the filter that actor may see
func (s *Service) ListRequests(ctx context.Context, actor models.Actor, f models.RequestFilter) ([]*models.Request, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if f.Category != nil && !f.Category.Valid() {
		return nil, apperr.Validationf("unknown category %q", *f.Category)
	}
	f.VisibleTo = actor.UserID
	if actor.Privileged() {
		f.VisibleTo = ""
	}
	return s.store.ListRequests(ctx, f)
}

// UpdateRequest edits a non-terminal listing. The deposit always follows the
// reward and the ledger follows the deposit.
func (s *Service) UpdateRequest(ctx context.Context, actor models.Actor, id string, in models.UpdateRequestInput) (*models.Request, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}

	var (
		updated    *models.Request
		fromStatus models.RequestStatus
	)
	err := s.store.WithTx(ctx, func(q *storage.Queries) error {
		req, err := q.GetRequest(ctx, id)
		if err != nil {
			return err
		}
		if err := lifecycle.Edit(req, actor); err != nil {
			return err
		}
		fromStatus = req.Status
		oldReward := req.RewardAmount

		if in.Title != nil {
			req.Title = strings.TrimSpace(*in.Title)
		}
		if in.Description != nil {
			req.Description = *in.Description
		}
		if in.Location != nil {
			req.Location = *in.Location
		}
		if in.Latitude != nil {
			req.Latitude = in.Latitude
		}
		if in.Longitude != nil {
			req.Longitude = in.Longitude
		}
		if in.Photos != nil {
			req.Photos = cleanPhotos(*in.Photos)
		}
		if in.RewardAmount != nil {
			req.RewardAmount = *in.RewardAmount
		}
		if err := validateRequest(req); err != nil {
			return err
		}
		req.DepositAmount = verification.Deposit(req.RewardAmount)
		req.UpdatedAt = s.now()

		if req.RewardAmount != oldReward {
			if err := s.rebalanceDeposit(ctx, q, req); err != nil {
				return err
			}
		}
		if err := q.UpdateRequestFields(ctx, req); err != nil {
			return err
		}
		updated = req
		return nil
	})
	if err != nil {
		return nil, err
	}

	if updated.Status != fromStatus {
		s.statusChanged(ctx, "request", updated.ID, updated.ID, string(fromStatus), string(updated.Status), actor)
	}
	log.Info().Str("request_id", id).Msg("Request updated")
	return updated, nil
}

// rebalanceDeposit keeps the escrow in line with a changed reward. An unpaid
// deposit absorbs the difference; once the deposit is paid a raise adds a
// top-up deposit and a cut leaves the surplus escrowed for an admin refund.
func (s *Service) rebalanceDeposit(ctx context.Context, q *storage.Queries, req *models.Request) error {
	escrowed, err := q.EscrowedDeposits(ctx, req.ID)
	if err != nil {
		return err
	}
	delta := req.DepositAmount - escrowed
	if delta == 0 {
		return nil
	}

	unpaid, err := q.UnpaidDeposit(ctx, req.ID)
	if err != nil {
		return err
	}

	switch {
	case unpaid != nil && unpaid.Amount+delta > 0:
		return q.UpdatePendingAmount(ctx, unpaid.ID, unpaid.Amount+delta, req.UpdatedAt)

	case unpaid != nil:
		if err := q.DiscardUnpaidDeposit(ctx, unpaid.ID); err != nil {
			return err
		}
		if req.Status == models.RequestPendingDeposit {
			return s.moveRequest(ctx, q, req, models.RequestPending)
		}
		return nil

	case delta > 0:
		topUp := s.pendingDeposit(req)
		topUp.Amount = delta
		if err := q.AppendTransaction(ctx, topUp); err != nil {
			return err
		}
		// unpublished listings wait for the escrow before approval
		if req.Status == models.RequestPending {
			return s.moveRequest(ctx, q, req, models.RequestPendingDeposit)
		}
		return nil

	default:
		log.Info().
			Str("request_id", req.ID).
			Int64("surplus", -delta).
			Msg("Reward lowered, surplus deposit stays escrowed")
		return nil
	}
}

func (s *Service) moveRequest(ctx context.Context, q *storage.Queries, req *models.Request, to models.RequestStatus) error {
	if err := q.TransitionRequest(ctx, req.ID, req.Status, to, req.UpdatedAt); err != nil {
		return err
	}
	req.Status = to
	return nil
}

// ApproveRequest publishes a pending listing. Administrators only.
func (s *Service) ApproveRequest(ctx context.Context, actor models.Actor, id string) (*models.Request, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}

	var approved *models.Request
	var from models.RequestStatus
	err := s.store.WithTx(ctx, func(q *storage.Queries) error {
		req, err := q.GetRequest(ctx, id)
		if err != nil {
			return err
		}
		to, err := lifecycle.Approve(req, actor)
		if err != nil {
			return err
		}
		from = req.Status

		now := s.now()
		if _, err := q.OpenRequests(ctx, []string{id}, now); err != nil {
			return err
		}
		settled, err := q.CompletePendingDeposits(ctx, []string{id}, now)
		if err != nil {
			return err
		}
		if err := s.audit(ctx, q, actor, models.AuditApproveRequest, "request", id, map[string]any{
			"from":             string(from),
			"deposits_settled": settled,
		}); err != nil {
			return err
		}

		req.Status, req.CreatedAt, req.UpdatedAt = to, now, now
		approved = req
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.statusChanged(ctx, "request", id, id, string(from), string(approved.Status), actor)
	log.Info().Str("request_id", id).Str("admin_id", actor.UserID).Msg("Request approved")
	return approved, nil
}

// BulkApproveRequests approves a batch atomically: one ineligible id aborts the batch.
func (s *Service) BulkApproveRequests(ctx context.Context, actor models.Actor, ids []string) (int64, error) {
	if err := requireAdmin(actor); err != nil {
		return 0, err
	}
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return 0, apperr.Validationf("no request ids given")
	}

	var (
		opened int64
		from   = make(map[string]models.RequestStatus, len(ids))
	)
	err := s.store.WithTx(ctx, func(q *storage.Queries) error {
		reqs, err := q.GetRequests(ctx, ids)
		if err != nil {
			return err
		}
		if missing := missingIDs(ids, reqs); len(missing) > 0 {
			return apperr.NotFoundf("requests not found: %s", strings.Join(missing, ", "))
		}
		for _, req := range reqs {
			if _, err := lifecycle.Approve(req, actor); err != nil {
				return err
			}
			from[req.ID] = req.Status
		}

		now := s.now()
		opened, err = q.OpenRequests(ctx, ids, now)
		if err != nil {
			return err
		}
		if opened != int64(len(ids)) {
			return apperr.InvalidStatef("requests changed during approval")
		}
		settled, err := q.CompletePendingDeposits(ctx, ids, now)
		if err != nil {
			return err
		}
		return s.audit(ctx, q, actor, models.AuditBulkApproveRequests, "request", strings.Join(ids, ","), map[string]any{
			"ids":              ids,
			"count":            opened,
			"deposits_settled": settled,
		})
	})
	if err != nil {
		return 0, err
	}

	for _, id := range ids {
		s.statusChanged(ctx, "request", id, id, string(from[id]), string(models.RequestOpen), actor)
	}
	log.Info().Int64("count", opened).Str("admin_id", actor.UserID).Msg("Requests bulk approved")
	return opened, nil
}

func missingIDs(ids []string, reqs []*models.Request) []string {
	found := make(map[string]bool, len(reqs))
	for _, r := range reqs {
		found[r.ID] = true
	}
	var missing []string
	for _, id := range ids {
		if !found[id] {
			missing = append(missing, id)
		}
	}
	return missing
}

type requestGuard func(req *models.Request, actor models.Actor) (models.RequestStatus, error)

// transition applies a guarded status change inside one transaction
func (s *Service) transition(ctx context.Context, actor models.Actor, id string, guard requestGuard) (*models.Request, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}

	var (
		req  *models.Request
		from models.RequestStatus
	)
	err := s.store.WithTx(ctx, func(q *storage.Queries) error {
		var err error
		req, err = q.GetRequest(ctx, id)
		if err != nil {
			return err
		}
		if !canSeeRequest(req, actor) {
			return apperr.NotFoundf("request %s not found", id)
		}
		to, err := guard(req, actor)
		if err != nil {
			return err
		}
		from = req.Status
		now := s.now()
		if err := q.TransitionRequest(ctx, id, from, to, now); err != nil {
			return err
		}
		req.Status, req.UpdatedAt = to, now
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.statusChanged(ctx, "request", id, id, string(from), string(req.Status), actor)
	log.Info().
		Str("request_id", id).
		Str("actor_id", actor.UserID).
		Str("from", string(from)).
		Str("to", string(req.Status)).
		Msg("Request transitioned")
	return req, nil
}

// AcceptRequest matches the acting finder to an open listing
func (s *Service) AcceptRequest(ctx context.Context, actor models.Actor, id string) (*models.Request, error) {
	return s.transition(ctx, actor, id, lifecycle.Accept)
}

// CompleteRequest closes an in-progress listing
func (s *Service) CompleteRequest(ctx context.Context, actor models.Actor, id string) (*models.Request, error) {
	return s.transition(ctx, actor, id, lifecycle.Complete)
}

// CancelRequest withdraws a listing
func (s *Service) CancelRequest(ctx context.Context, actor models.Actor, id string) (*models.Request, error) {
	return s.transition(ctx, actor, id, lifecycle.Cancel)
}
