package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ilikefeeling/reshk-sub001/internal/apperr"
	"github.com/ilikefeeling/reshk-sub001/internal/models"
)

const transactionColumns = `id, type, amount, status, user_id, request_id, report_id, payment_ref, created_at, updated_at`

func scanTransaction(row scanner) (*models.Transaction, error) {
	var (
		t                        models.Transaction
		requestID, reportID, ref sql.NullString
	)
	err := row.Scan(&t.ID, &t.Type, &t.Amount, &t.Status, &t.UserID,
		&requestID, &reportID, &ref, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.RequestID = stringPtr(requestID)
	t.ReportID = stringPtr(reportID)
	t.PaymentRef = stringPtr(ref)
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return &t, nil
}

// AppendTransaction adds a ledger entry. Only unpaid deposits are ever deleted.
func (q *Queries) AppendTransaction(ctx context.Context, t *models.Transaction) error {
	query := `INSERT INTO transactions (` + transactionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := q.q.ExecContext(ctx, query,
		t.ID, string(t.Type), t.Amount, string(t.Status), t.UserID,
		nullString(t.RequestID), nullString(t.ReportID), nullString(t.PaymentRef),
		t.CreatedAt.UTC(), t.UpdatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.Wrap(apperr.Conflict, err, "payment reference already used")
		}
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

// GetTransaction fetches a ledger entry by id
func (q *Queries) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
	t, err := scanTransaction(row)
	if err != nil {
		return nil, notFound(err, "transaction", id)
	}
	return t, nil
}

// PendingDeposit returns the open escrow deposit of a request, if any
func (q *Queries) PendingDeposit(ctx context.Context, requestID string) (*models.Transaction, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions
		WHERE request_id = $1 AND type = $2 AND status = $3
		ORDER BY created_at LIMIT 1`,
		requestID, string(models.TransactionDeposit), string(models.TransactionPending),
	)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load pending deposit: %w", err)
	}
	return t, nil
}

// UnpaidDeposit returns the pending deposit of a request that has no payment
// reference yet, if any
func (q *Queries) UnpaidDeposit(ctx context.Context, requestID string) (*models.Transaction, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions
		WHERE request_id = $1 AND type = $2 AND status = $3 AND payment_ref IS NULL
		ORDER BY created_at LIMIT 1`,
		requestID, string(models.TransactionDeposit), string(models.TransactionPending),
	)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load unpaid deposit: %w", err)
	}
	return t, nil
}

// EscrowedDeposits sums the deposits of a request that are owed or held,
// i.e. everything not refunded
func (q *Queries) EscrowedDeposits(ctx context.Context, requestID string) (int64, error) {
	var total int64
	err := q.q.QueryRowContext(ctx, `SELECT COALESCE(SUM(amount), 0) FROM transactions
		WHERE request_id = $1 AND type = $2 AND status IN ($3, $4)`,
		requestID, string(models.TransactionDeposit),
		string(models.TransactionPending), string(models.TransactionCompleted),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum deposits: %w", err)
	}
	return total, nil
}

// DiscardUnpaidDeposit drops a deposit no money was ever attached to
func (q *Queries) DiscardUnpaidDeposit(ctx context.Context, id string) error {
	res, err := q.q.ExecContext(ctx,
		`DELETE FROM transactions WHERE id = $1 AND status = $2 AND payment_ref IS NULL`,
		id, string(models.TransactionPending),
	)
	if err != nil {
		return fmt.Errorf("failed to discard deposit: %w", err)
	}
	return expectOne(res, "transaction %s is no longer an unpaid deposit", id)
}

// AttachPaymentRef records the gateway reference on a pending deposit. A
// reference may back at most one deposit.
func (q *Queries) AttachPaymentRef(ctx context.Context, id, ref string, at time.Time) error {
	res, err := q.q.ExecContext(ctx,
		`UPDATE transactions SET payment_ref = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
		ref, at.UTC(), id, string(models.TransactionPending),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.Wrap(apperr.Conflict, err, "payment reference already used")
		}
		return fmt.Errorf("failed to attach payment reference: %w", err)
	}
	return expectOne(res, "transaction %s is no longer PENDING", id)
}

// UpdatePendingAmount changes the amount of a deposit that has not settled yet
func (q *Queries) UpdatePendingAmount(ctx context.Context, id string, amount int64, at time.Time) error {
	res, err := q.q.ExecContext(ctx,
		`UPDATE transactions SET amount = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
		amount, at.UTC(), id, string(models.TransactionPending),
	)
	if err != nil {
		return fmt.Errorf("failed to update deposit amount: %w", err)
	}
	return expectOne(res, "transaction %s is no longer PENDING", id)
}

// CompletePendingDeposits settles the pending deposits of the given requests
func (q *Queries) CompletePendingDeposits(ctx context.Context, requestIDs []string, at time.Time) (int64, error) {
	if len(requestIDs) == 0 {
		return 0, nil
	}
	args := []any{string(models.TransactionCompleted), at.UTC(),
		string(models.TransactionDeposit), string(models.TransactionPending)}
	args = append(args, stringArgs(requestIDs)...)

	query := `UPDATE transactions SET status = $1, updated_at = $2
		WHERE type = $3 AND status = $4 AND request_id IN (` + placeholders(5, len(requestIDs)) + `)`
	res, err := q.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to complete deposits: %w", err)
	}
	return res.RowsAffected()
}

// RefundTransaction marks a completed entry as refunded
func (q *Queries) RefundTransaction(ctx context.Context, id string, at time.Time) error {
	res, err := q.q.ExecContext(ctx,
		`UPDATE transactions SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
		string(models.TransactionRefunded), at.UTC(), id, string(models.TransactionCompleted),
	)
	if err != nil {
		return fmt.Errorf("failed to refund transaction: %w", err)
	}
	return expectOne(res, "transaction %s is not COMPLETED", id)
}

// ListTransactions returns ledger entries matching the filter, newest first
func (q *Queries) ListTransactions(ctx context.Context, f models.TransactionFilter) ([]*models.Transaction, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.RequestID != "" {
		where = append(where, "request_id = "+arg(f.RequestID))
	}
	if f.UserID != "" {
		where = append(where, "user_id = "+arg(f.UserID))
	}
	if f.Type != nil {
		where = append(where, "type = "+arg(string(*f.Type)))
	}
	if f.Status != nil {
		where = append(where, "status = "+arg(string(*f.Status)))
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id LIMIT " + arg(clampLimit(f.Limit))

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	out := []*models.Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
