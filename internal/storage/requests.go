package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/ilikefeeling/reshk-sub001/internal/models"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

const requestColumns = `id, owner_id, title, description, category, reward_amount, deposit_amount,
	location, latitude, longitude, photos, status, created_at, updated_at`

func scanRequest(row scanner) (*models.Request, error) {
	var (
		req       models.Request
		lat, lng  sql.NullFloat64
		photosRaw string
	)
	err := row.Scan(
		&req.ID, &req.OwnerID, &req.Title, &req.Description, &req.Category,
		&req.RewardAmount, &req.DepositAmount, &req.Location, &lat, &lng,
		&photosRaw, &req.Status, &req.CreatedAt, &req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	req.Latitude = floatPtr(lat)
	req.Longitude = floatPtr(lng)
	req.Photos = decodeList(photosRaw)
	req.CreatedAt = req.CreatedAt.UTC()
	req.UpdatedAt = req.UpdatedAt.UTC()
	return &req, nil
}

// CreateRequest inserts a new request row
func (q *Queries) CreateRequest(ctx context.Context, req *models.Request) error {
	query := `
		INSERT INTO requests (` + requestColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := q.q.ExecContext(ctx, query,
		req.ID, req.OwnerID, req.Title, req.Description, string(req.Category),
		req.RewardAmount, req.DepositAmount, req.Location,
		nullFloat(req.Latitude), nullFloat(req.Longitude), encodeList(req.Photos),
		string(req.Status), req.CreatedAt.UTC(), req.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert request: %w", err)
	}
	return nil
}

// GetRequest fetches a request by id
func (q *Queries) GetRequest(ctx context.Context, id string) (*models.Request, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM requests WHERE id = $1`, id)
	req, err := scanRequest(row)
	if err != nil {
		return nil, notFound(err, "request", id)
	}
	return req, nil
}

// GetRequests fetches every listed id; missing ids are simply absent from the result
func (q *Queries) GetRequests(ctx context.Context, ids []string) ([]*models.Request, error) {
	if len(ids) == 0 {
		return []*models.Request{}, nil
	}
	query := `SELECT ` + requestColumns + ` FROM requests WHERE id IN (` + placeholders(1, len(ids)) + `)`
	return q.queryRequests(ctx, query, stringArgs(ids)...)
}

// ListRequests returns requests matching the filter, newest first
func (q *Queries) ListRequests(ctx context.Context, f models.RequestFilter) ([]*models.Request, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.Category != nil {
		where = append(where, "category = "+arg(string(*f.Category)))
	}
	if f.Status != nil {
		where = append(where, "status = "+arg(string(*f.Status)))
	}
	if f.OwnerID != "" {
		where = append(where, "owner_id = "+arg(f.OwnerID))
	}
	if kw := strings.TrimSpace(f.Keyword); kw != "" {
		p := arg("%" + strings.ToLower(kw) + "%")
		where = append(where, fmt.Sprintf("(LOWER(title) LIKE %s OR LOWER(description) LIKE %s)", p, p))
	}
	if f.CreatedFrom != nil {
		where = append(where, "created_at >= "+arg(f.CreatedFrom.UTC()))
	}
	if f.CreatedTo != nil {
		where = append(where, "created_at <= "+arg(f.CreatedTo.UTC()))
	}
	if f.VisibleTo != "" {
		public := []string{
			arg(string(models.RequestOpen)),
			arg(string(models.RequestInProgress)),
			arg(string(models.RequestCompleted)),
		}
		where = append(where, fmt.Sprintf("(status IN (%s) OR owner_id = %s)",
			strings.Join(public, ", "), arg(f.VisibleTo)))
	}

	query := `SELECT ` + requestColumns + ` FROM requests`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC, id LIMIT %s OFFSET %s",
		arg(clampLimit(f.Limit)), arg(max(f.Offset, 0)))

	return q.queryRequests(ctx, query, args...)
}

func (q *Queries) queryRequests(ctx context.Context, query string, args ...any) ([]*models.Request, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query requests: %w", err)
	}
	defer rows.Close()

	out := []*models.Request{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// UpdateRequestFields persists the editable fields of a non-terminal request
func (q *Queries) UpdateRequestFields(ctx context.Context, req *models.Request) error {
	query := `
		UPDATE requests
		SET title = $1, description = $2, reward_amount = $3, deposit_amount = $4,
			location = $5, latitude = $6, longitude = $7, photos = $8, updated_at = $9
		WHERE id = $10 AND status NOT IN ($11, $12)
	`
	res, err := q.q.ExecContext(ctx, query,
		req.Title, req.Description, req.RewardAmount, req.DepositAmount,
		req.Location, nullFloat(req.Latitude), nullFloat(req.Longitude), encodeList(req.Photos),
		req.UpdatedAt.UTC(), req.ID,
		string(models.RequestCompleted), string(models.RequestCanceled),
	)
	if err != nil {
		return fmt.Errorf("failed to update request: %w", err)
	}
	return expectOne(res, "request %s can no longer be edited", req.ID)
}

// TransitionRequest moves a request from one status to another. It fails with
// InvalidState when the row is no longer in the expected status.
func (q *Queries) TransitionRequest(ctx context.Context, id string, from, to models.RequestStatus, at time.Time) error {
	res, err := q.q.ExecContext(ctx,
		`UPDATE requests SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
		string(to), at.UTC(), id, string(from),
	)
	if err != nil {
		return fmt.Errorf("failed to update request status: %w", err)
	}
	return expectOne(res, "request %s is no longer %s", id, from)
}

// OpenRequests publishes approved listings. created_at is reset to the approval
// time so freshly approved listings sort first.
func (q *Queries) OpenRequests(ctx context.Context, ids []string, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := []any{string(models.RequestOpen), at.UTC(),
		string(models.RequestPending), string(models.RequestPendingDeposit)}
	args = append(args, stringArgs(ids)...)

	query := `UPDATE requests SET status = $1, created_at = $2, updated_at = $2
		WHERE status IN ($3, $4) AND id IN (` + placeholders(5, len(ids)) + `)`
	res, err := q.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to open requests: %w", err)
	}
	return res.RowsAffected()
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
