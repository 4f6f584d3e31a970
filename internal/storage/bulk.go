package storage

import (
	"context"
	"fmt"
)

// DeleteResult counts what a cascading delete touched
type DeleteResult struct {
	Requests             int64 `json:"requests"`
	Reports              int64 `json:"reports"`
	Reviews              int64 `json:"reviews"`
	ChatRooms            int64 `json:"chat_rooms"`
	ChatMessages         int64 `json:"chat_messages"`
	DetachedTransactions int64 `json:"detached_transactions"`
	DetachedTickets      int64 `json:"detached_tickets"`
}

// Detail renders the counts for an audit entry
func (r DeleteResult) Detail() map[string]any {
	return map[string]any{
		"requests":              r.Requests,
		"reports":               r.Reports,
		"reviews":               r.Reviews,
		"chat_rooms":            r.ChatRooms,
		"chat_messages":         r.ChatMessages,
		"detached_transactions": r.DetachedTransactions,
		"detached_tickets":      r.DetachedTickets,
	}
}

// deleteStep is one statement of a cascading delete. count receives RowsAffected.
type deleteStep struct {
	name  string
	query string
	args  []any
	count *int64
}

func (q *Queries) runSteps(ctx context.Context, steps []deleteStep) error {
	for _, step := range steps {
		res, err := q.q.ExecContext(ctx, step.query, step.args...)
		if err != nil {
			return fmt.Errorf("bulk delete step %q failed: %w", step.name, err)
		}
		if step.count == nil {
			continue
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("bulk delete step %q: %w", step.name, err)
		}
		*step.count += n
	}
	return nil
}

// reportIDsForRequests collects the reports filed against the given requests
func (q *Queries) reportIDsForRequests(ctx context.Context, requestIDs []string) ([]string, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT id FROM reports WHERE request_id IN (`+placeholders(1, len(requestIDs))+`)`,
		stringArgs(requestIDs)...)
	if err != nil {
		return nil, fmt.Errorf("failed to collect reports: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// linkedTransactions counts distinct ledger rows pointing at any of the
// requests or reports
func (q *Queries) linkedTransactions(ctx context.Context, requestIDs, reportIDs []string) (int64, error) {
	query := `SELECT COUNT(*) FROM transactions WHERE request_id IN (` + placeholders(1, len(requestIDs)) + `)`
	args := stringArgs(requestIDs)
	if len(reportIDs) > 0 {
		query += ` OR report_id IN (` + placeholders(len(requestIDs)+1, len(reportIDs)) + `)`
		args = append(args, stringArgs(reportIDs)...)
	}

	var n int64
	if err := q.q.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count linked transactions: %w", err)
	}
	return n, nil
}

// DeleteRequestsCascade removes requests and everything that depends on them.
// Ledger rows survive with their references nulled. Must run inside WithTx.
func (q *Queries) DeleteRequestsCascade(ctx context.Context, requestIDs []string) (DeleteResult, error) {
	var res DeleteResult
	if len(requestIDs) == 0 {
		return res, nil
	}

	reportIDs, err := q.reportIDsForRequests(ctx, requestIDs)
	if err != nil {
		return res, err
	}
	// a row linked to both a request and its report is detached twice but counted once
	detached, err := q.linkedTransactions(ctx, requestIDs, reportIDs)
	if err != nil {
		return res, err
	}

	in := placeholders(1, len(requestIDs))
	ids := stringArgs(requestIDs)

	steps := []deleteStep{
		{name: "reviews", query: `DELETE FROM reviews WHERE request_id IN (` + in + `)`, args: ids, count: &res.Reviews},
	}
	if len(reportIDs) > 0 {
		steps = append(steps, reportSteps(reportIDs, &res, false)...)
	}
	steps = append(steps,
		deleteStep{
			name:  "detach transactions from requests",
			query: `UPDATE transactions SET request_id = NULL WHERE request_id IN (` + in + `)`,
			args:  ids,
		},
		deleteStep{
			name:  "detach support tickets",
			query: `UPDATE support_tickets SET request_id = NULL WHERE request_id IN (` + in + `)`,
			args:  ids,
			count: &res.DetachedTickets,
		},
		deleteStep{
			name:  "chat messages",
			query: `DELETE FROM chat_messages WHERE room_id IN (SELECT id FROM chat_rooms WHERE request_id IN (` + in + `))`,
			args:  ids,
			count: &res.ChatMessages,
		},
		deleteStep{
			name:  "chat rooms",
			query: `DELETE FROM chat_rooms WHERE request_id IN (` + in + `)`,
			args:  ids,
			count: &res.ChatRooms,
		},
		deleteStep{
			name:  "requests",
			query: `DELETE FROM requests WHERE id IN (` + in + `)`,
			args:  ids,
			count: &res.Requests,
		},
	)

	if err := q.runSteps(ctx, steps); err != nil {
		return DeleteResult{}, err
	}
	res.DetachedTransactions = detached
	return res, nil
}

// DeleteReportsCascade removes reports, detaching ledger rows first. Must run inside WithTx.
func (q *Queries) DeleteReportsCascade(ctx context.Context, reportIDs []string) (DeleteResult, error) {
	var res DeleteResult
	if len(reportIDs) == 0 {
		return res, nil
	}
	if err := q.runSteps(ctx, reportSteps(reportIDs, &res, true)); err != nil {
		return DeleteResult{}, err
	}
	return res, nil
}

func reportSteps(reportIDs []string, res *DeleteResult, countDetached bool) []deleteStep {
	in := placeholders(1, len(reportIDs))
	ids := stringArgs(reportIDs)
	detach := deleteStep{
		name:  "detach transactions from reports",
		query: `UPDATE transactions SET report_id = NULL WHERE report_id IN (` + in + `)`,
		args:  ids,
	}
	if countDetached {
		detach.count = &res.DetachedTransactions
	}
	return []deleteStep{
		detach,
		{
			name:  "reports",
			query: `DELETE FROM reports WHERE id IN (` + in + `)`,
			args:  ids,
			count: &res.Reports,
		},
	}
}
