package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ilikefeeling/reshk-sub001/internal/models"
)

const reportColumns = `id, request_id, reporter_id, description, photos, capture_latitude, capture_longitude,
	captured_at, verification_score, similarity_score, status, delivery_secret, secret_issued_at,
	delivered_at, created_at, updated_at`

func scanReport(row scanner) (*models.Report, error) {
	var (
		rep                  models.Report
		lat, lng             sql.NullFloat64
		capturedAt, issuedAt sql.NullTime
		deliveredAt          sql.NullTime
		secret               sql.NullString
		photosRaw            string
	)
	err := row.Scan(
		&rep.ID, &rep.RequestID, &rep.ReporterID, &rep.Description, &photosRaw,
		&lat, &lng, &capturedAt, &rep.VerificationScore, &rep.SimilarityScore,
		&rep.Status, &secret, &issuedAt, &deliveredAt, &rep.CreatedAt, &rep.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rep.Photos = decodeList(photosRaw)
	rep.CaptureLatitude = floatPtr(lat)
	rep.CaptureLongitude = floatPtr(lng)
	rep.CapturedAt = timePtr(capturedAt)
	rep.DeliverySecret = stringPtr(secret)
	rep.SecretIssuedAt = timePtr(issuedAt)
	rep.DeliveredAt = timePtr(deliveredAt)
	rep.CreatedAt = rep.CreatedAt.UTC()
	rep.UpdatedAt = rep.UpdatedAt.UTC()
	return &rep, nil
}

// CreateReport inserts a new report row
func (q *Queries) CreateReport(ctx context.Context, rep *models.Report) error {
	query := `
		INSERT INTO reports (` + reportColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err := q.q.ExecContext(ctx, query,
		rep.ID, rep.RequestID, rep.ReporterID, rep.Description, encodeList(rep.Photos),
		nullFloat(rep.CaptureLatitude), nullFloat(rep.CaptureLongitude), nullTime(rep.CapturedAt),
		rep.VerificationScore, rep.SimilarityScore, string(rep.Status),
		nullString(rep.DeliverySecret), nullTime(rep.SecretIssuedAt), nullTime(rep.DeliveredAt),
		rep.CreatedAt.UTC(), rep.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert report: %w", err)
	}
	return nil
}

// GetReport fetches a report by id
func (q *Queries) GetReport(ctx context.Context, id string) (*models.Report, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE id = $1`, id)
	rep, err := scanReport(row)
	if err != nil {
		return nil, notFound(err, "report", id)
	}
	return rep, nil
}

// ListReportsByRequest returns all reports filed against a request, oldest first
func (q *Queries) ListReportsByRequest(ctx context.Context, requestID string) ([]*models.Report, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT `+reportColumns+` FROM reports WHERE request_id = $1 ORDER BY created_at, id`, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to query reports: %w", err)
	}
	defer rows.Close()

	out := []*models.Report{}
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		out = append(out, rep)
	}
	return out, rows.Err()
}

// UpdateReportEvidence stores edited evidence and fresh scores. Only pending
// reports may change.
func (q *Queries) UpdateReportEvidence(ctx context.Context, rep *models.Report) error {
	query := `
		UPDATE reports
		SET description = $1, photos = $2, capture_latitude = $3, capture_longitude = $4,
			captured_at = $5, verification_score = $6, similarity_score = $7, status = $8, updated_at = $9
		WHERE id = $10 AND status = $11
	`
	res, err := q.q.ExecContext(ctx, query,
		rep.Description, encodeList(rep.Photos),
		nullFloat(rep.CaptureLatitude), nullFloat(rep.CaptureLongitude), nullTime(rep.CapturedAt),
		rep.VerificationScore, rep.SimilarityScore, string(rep.Status), rep.UpdatedAt.UTC(),
		rep.ID, string(models.ReportPending),
	)
	if err != nil {
		return fmt.Errorf("failed to update report: %w", err)
	}
	return expectOne(res, "report %s is no longer PENDING", rep.ID)
}

// ReviewReport records a review verdict on a pending report
func (q *Queries) ReviewReport(ctx context.Context, id string, to models.ReportStatus, description string, at time.Time) error {
	res, err := q.q.ExecContext(ctx,
		`UPDATE reports SET status = $1, description = $2, updated_at = $3 WHERE id = $4 AND status = $5`,
		string(to), description, at.UTC(), id, string(models.ReportPending),
	)
	if err != nil {
		return fmt.Errorf("failed to review report: %w", err)
	}
	return expectOne(res, "report %s is no longer PENDING", id)
}

// SetDeliverySecret stores a freshly issued secret on an accepted report,
// replacing any earlier one
func (q *Queries) SetDeliverySecret(ctx context.Context, id, secret string, at time.Time) error {
	res, err := q.q.ExecContext(ctx,
		`UPDATE reports SET delivery_secret = $1, secret_issued_at = $2, updated_at = $2 WHERE id = $3 AND status = $4`,
		secret, at.UTC(), id, string(models.ReportAccepted),
	)
	if err != nil {
		return fmt.Errorf("failed to store delivery secret: %w", err)
	}
	return expectOne(res, "report %s is no longer ACCEPTED", id)
}

// MarkDelivered consumes the delivery secret. The update only matches while the
// report still holds the same secret, so of two concurrent redemptions exactly
// one wins and the other sees InvalidState.
func (q *Queries) MarkDelivered(ctx context.Context, id, secret string, at time.Time) error {
	res, err := q.q.ExecContext(ctx, `
		UPDATE reports
		SET status = $1, delivered_at = $2, delivery_secret = NULL, secret_issued_at = NULL, updated_at = $2
		WHERE id = $3 AND status = $4 AND delivery_secret = $5
	`,
		string(models.ReportDelivered), at.UTC(), id, string(models.ReportAccepted), secret,
	)
	if err != nil {
		return fmt.Errorf("failed to mark report delivered: %w", err)
	}
	return expectOne(res, "report %s was already redeemed", id)
}

// ClearExpiredSecrets drops delivery secrets issued before the cutoff
func (q *Queries) ClearExpiredSecrets(ctx context.Context, issuedBefore time.Time) (int64, error) {
	res, err := q.q.ExecContext(ctx, `
		UPDATE reports SET delivery_secret = NULL, secret_issued_at = NULL
		WHERE delivery_secret IS NOT NULL AND secret_issued_at < $1
	`, issuedBefore.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to clear expired delivery secrets: %w", err)
	}
	return res.RowsAffected()
}
