package recovery

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/ilikefeeling/reshk-sub001/internal/apperr"
	"github.com/ilikefeeling/reshk-sub001/internal/models"
	"github.com/ilikefeeling/reshk-sub001/internal/storage"
	"github.com/rs/zerolog/log"
)

// BulkDeleteRequests removes requests and their dependents in one transaction.
// Ledger entries survive with their references nulled.
func (s *Service) BulkDeleteRequests(ctx context.Context, actor models.Actor, ids []string) (storage.DeleteResult, error) {
	if err := requireAdmin(actor); err != nil {
		return storage.DeleteResult{}, err
	}
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return storage.DeleteResult{}, apperr.Validationf("no request ids given")
	}

	var (
		res    storage.DeleteResult
		photos []string
	)
	err := s.store.WithTx(ctx, func(q *storage.Queries) error {
		reqs, err := q.GetRequests(ctx, ids)
		if err != nil {
			return err
		}
		for _, r := range reqs {
			photos = append(photos, r.Photos...)
			reports, err := q.ListReportsByRequest(ctx, r.ID)
			if err != nil {
				return err
			}
			for _, rep := range reports {
				photos = append(photos, rep.Photos...)
			}
		}

		res, err = q.DeleteRequestsCascade(ctx, ids)
		if err != nil {
			return err
		}
		return s.audit(ctx, q, actor, models.AuditBulkDeleteRequests, "request", strings.Join(ids, ","),
			bulkDetail(ids, res.Requests, res))
	})
	if err != nil {
		return storage.DeleteResult{}, err
	}

	s.removeImages(ctx, photos)
	log.Info().
		Str("admin_id", actor.UserID).
		Int64("requests", res.Requests).
		Int64("reports", res.Reports).
		Int64("detached_transactions", res.DetachedTransactions).
		Msg("Requests bulk deleted")

	return res, nil
}

// BulkDeleteReports removes reports in one transaction, detaching ledger entries first
func (s *Service) BulkDeleteReports(ctx context.Context, actor models.Actor, ids []string) (storage.DeleteResult, error) {
	if err := requireAdmin(actor); err != nil {
		return storage.DeleteResult{}, err
	}
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return storage.DeleteResult{}, apperr.Validationf("no report ids given")
	}

	var (
		res    storage.DeleteResult
		photos []string
	)
	err := s.store.WithTx(ctx, func(q *storage.Queries) error {
		for _, id := range ids {
			rep, err := q.GetReport(ctx, id)
			if apperr.Is(err, apperr.NotFound) {
				continue
			}
			if err != nil {
				return err
			}
			photos = append(photos, rep.Photos...)
		}

		var err error
		res, err = q.DeleteReportsCascade(ctx, ids)
		if err != nil {
			return err
		}
		return s.audit(ctx, q, actor, models.AuditBulkDeleteReports, "report", strings.Join(ids, ","),
			bulkDetail(ids, res.Reports, res))
	})
	if err != nil {
		return storage.DeleteResult{}, err
	}

	s.removeImages(ctx, photos)
	log.Info().
		Str("admin_id", actor.UserID).
		Int64("reports", res.Reports).
		Msg("Reports bulk deleted")

	return res, nil
}

func bulkDetail(ids []string, count int64, res storage.DeleteResult) map[string]any {
	detail := res.Detail()
	detail["ids"] = ids
	detail["count"] = count
	return detail
}

// RefundTransaction reverses a completed ledger entry: the entry moves to
// REFUNDED and a matching REFUND entry is appended. Administrators only.
func (s *Service) RefundTransaction(ctx context.Context, actor models.Actor, id string) (*models.Transaction, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}

	var refund *models.Transaction
	err := s.store.WithTx(ctx, func(q *storage.Queries) error {
		original, err := q.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		if original.Type == models.TransactionRefund {
			return apperr.InvalidStatef("refund entries cannot be refunded")
		}

		now := s.now()
		if err := q.RefundTransaction(ctx, id, now); err != nil {
			return err
		}
		refund = &models.Transaction{
			ID:        uuid.New().String(),
			Type:      models.TransactionRefund,
			Amount:    original.Amount,
			Status:    models.TransactionCompleted,
			UserID:    original.UserID,
			RequestID: original.RequestID,
			ReportID:  original.ReportID,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := q.AppendTransaction(ctx, refund); err != nil {
			return err
		}
		return s.audit(ctx, q, actor, models.AuditRefundTransaction, "transaction", id, map[string]any{
			"previous_status": string(original.Status),
			"type":            string(original.Type),
			"amount":          original.Amount,
			"refund_id":       refund.ID,
		})
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("transaction_id", id).
		Str("refund_id", refund.ID).
		Int64("amount", refund.Amount).
		Str("admin_id", actor.UserID).
		Msg("Transaction refunded")

	return refund, nil
}

// ListTransactions returns ledger entries. Administrators only.
func (s *Service) ListTransactions(ctx context.Context, actor models.Actor, f models.TransactionFilter) ([]*models.Transaction, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	return s.store.ListTransactions(ctx, f)
}

// ListAuditLog returns recent audit entries. Administrators only.
func (s *Service) ListAuditLog(ctx context.Context, actor models.Actor, action string, limit int) ([]*models.AuditLogEntry, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	return s.store.ListAudit(ctx, action, limit)
}
