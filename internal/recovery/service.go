// Package recovery implements the trust and settlement core: request and report
// lifecycles, verification on submission, delivery proof and the ledger writes
// they trigger. Every multi-row mutation runs in one storage transaction.
package recovery

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ilikefeeling/reshk-sub001/internal/apperr"
	"github.com/ilikefeeling/reshk-sub001/internal/models"
	"github.com/ilikefeeling/reshk-sub001/internal/storage"
	"github.com/ilikefeeling/reshk-sub001/internal/verification"
	"github.com/rs/zerolog/log"
)

const defaultPaymentTimeout = 15 * time.Second

// PaymentVerifier looks up a completed client-side payment
type PaymentVerifier interface {
	VerifyPayment(ctx context.Context, ref string) (*models.Payment, error)
}

// Notifier receives committed lifecycle events
type Notifier interface {
	PublishStatusChanged(ctx context.Context, event models.StatusChangedEvent) error
	PublishReportSubmitted(ctx context.Context, event models.ReportSubmittedEvent) error
}

// ImageStore reads evidence from stored photos and deletes photos of removed entities
type ImageStore interface {
	CaptureMetadata(ctx context.Context, imageURL string) (models.CaptureMetadata, error)
	DeleteImage(ctx context.Context, imageURL string) error
}

// Service is the recovery core
type Service struct {
	store    *storage.PostgresStorage
	engine   *verification.Engine
	payments PaymentVerifier
	notifier Notifier
	images   ImageStore

	paymentTimeout time.Duration
	now            func() time.Time
}

// NewService wires the core. payments, notifier and images may be nil.
func NewService(store *storage.PostgresStorage, engine *verification.Engine, payments PaymentVerifier, notifier Notifier, images ImageStore) *Service {
	return &Service{
		store:          store,
		engine:         engine,
		payments:       payments,
		notifier:       notifier,
		images:         images,
		paymentTimeout: defaultPaymentTimeout,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

func requireActor(actor models.Actor) error {
	if strings.TrimSpace(actor.UserID) == "" {
		return apperr.New(apperr.Unauthorized, "authentication required")
	}
	return nil
}

func requireAdmin(actor models.Actor) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	if !actor.IsAdmin() {
		return apperr.Forbiddenf("administrator role required")
	}
	return nil
}

// uniqueIDs trims, drops empties and deduplicates while keeping order
func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func (s *Service) audit(ctx context.Context, q *storage.Queries, actor models.Actor, action, targetType, targetID string, detail map[string]any) error {
	return q.AppendAudit(ctx, &models.AuditLogEntry{
		ID:         uuid.New().String(),
		ActorID:    actor.UserID,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Detail:     detail,
		CreatedAt:  s.now(),
	})
}

// statusChanged publishes a transition after commit. Failures are only logged.
func (s *Service) statusChanged(ctx context.Context, entityType, entityID, requestID, from, to string, actor models.Actor) {
	if s.notifier == nil {
		return
	}
	err := s.notifier.PublishStatusChanged(ctx, models.StatusChangedEvent{
		EntityType: entityType,
		EntityID:   entityID,
		RequestID:  requestID,
		From:       from,
		To:         to,
		ActorID:    actor.UserID,
		Timestamp:  s.now(),
	})
	if err != nil {
		log.Warn().Err(err).
			Str("entity_type", entityType).
			Str("entity_id", entityID).
			Msg("Failed to publish status change")
	}
}

func (s *Service) reportSubmitted(ctx context.Context, rep *models.Report) {
	if s.notifier == nil {
		return
	}
	err := s.notifier.PublishReportSubmitted(ctx, models.ReportSubmittedEvent{
		ReportID:          rep.ID,
		RequestID:         rep.RequestID,
		ReporterID:        rep.ReporterID,
		Status:            string(rep.Status),
		VerificationScore: rep.VerificationScore,
		Timestamp:         s.now(),
	})
	if err != nil {
		log.Warn().Err(err).Str("report_id", rep.ID).Msg("Failed to publish report submission")
	}
}

// removeImages deletes photos of entities that no longer exist. Best effort.
func (s *Service) removeImages(ctx context.Context, urls []string) {
	if s.images == nil {
		return
	}
	for _, u := range urls {
		if err := s.images.DeleteImage(ctx, u); err != nil {
			log.Warn().Err(err).Str("url", u).Msg("Failed to delete image")
		}
	}
}
