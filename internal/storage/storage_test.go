package storage_test

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/ilikefeeling/reshk-sub001/internal/apperr"
	"github.com/ilikefeeling/reshk-sub001/internal/models"
	"github.com/ilikefeeling/reshk-sub001/internal/storage"
	"github.com/ilikefeeling/reshk-sub001/internal/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func newRequest(owner string, status models.RequestStatus, created time.Time) *models.Request {
	return &models.Request{
		ID:           uuid.New().String(),
		OwnerID:      owner,
		Title:        "Black leather wallet",
		Description:  "Lost near the central station",
		Category:     models.CategoryLost,
		RewardAmount: 20_000,
		Location:     "Central station",
		Photos:       []string{},
		Status:       status,
		CreatedAt:    created,
		UpdatedAt:    created,
	}
}

func newReport(requestID, reporter string, status models.ReportStatus) *models.Report {
	return &models.Report{
		ID:          uuid.New().String(),
		RequestID:   requestID,
		ReporterID:  reporter,
		Description: "Found it on a bench",
		Photos:      []string{"https://img/found.jpg"},
		Status:      status,
		CreatedAt:   base,
		UpdatedAt:   base,
	}
}

func TestRequestRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := storagetest.New(t)

	req := newRequest("owner-1", models.RequestOpen, base)
	req.Latitude = ptr(52.2297)
	req.Longitude = ptr(21.0122)
	req.Photos = []string{"https://img/a.jpg", "https://img/b.jpg"}
	require.NoError(t, s.CreateRequest(ctx, req))

	got, err := s.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, req.OwnerID, got.OwnerID)
	assert.Equal(t, req.Photos, got.Photos)
	require.NotNil(t, got.Latitude)
	assert.InDelta(t, 52.2297, *got.Latitude, 1e-9)
	assert.True(t, got.CreatedAt.Equal(base))

	plain := newRequest("owner-1", models.RequestPending, base)
	require.NoError(t, s.CreateRequest(ctx, plain))
	got, err = s.GetRequest(ctx, plain.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Latitude)
	assert.Empty(t, got.Photos)
}

func TestGetRequestNotFound(t *testing.T) {
	s := storagetest.New(t)
	_, err := s.GetRequest(context.Background(), "missing")
	assert.True(t, apperr.Is(err, apperr.NotFound))
}

func TestListRequestsFilters(t *testing.T) {
	ctx := context.Background()
	s := storagetest.New(t)

	older := newRequest("alice", models.RequestOpen, base)
	newer := newRequest("bob", models.RequestOpen, base.Add(time.Hour))
	newer.Title = "Red UMBRELLA"
	newer.Category = models.CategoryFound
	hidden := newRequest("carol", models.RequestPending, base.Add(2*time.Hour))
	for _, r := range []*models.Request{older, newer, hidden} {
		require.NoError(t, s.CreateRequest(ctx, r))
	}

	t.Run("newest first without restriction", func(t *testing.T) {
		got, err := s.ListRequests(ctx, models.RequestFilter{})
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, hidden.ID, got[0].ID)
		assert.Equal(t, older.ID, got[2].ID)
	})

	t.Run("visibility hides other owners pending listings", func(t *testing.T) {
		got, err := s.ListRequests(ctx, models.RequestFilter{VisibleTo: "alice"})
		require.NoError(t, err)
		assert.Len(t, got, 2)

		got, err = s.ListRequests(ctx, models.RequestFilter{VisibleTo: "carol"})
		require.NoError(t, err)
		assert.Len(t, got, 3)
	})

	t.Run("keyword is case insensitive", func(t *testing.T) {
		got, err := s.ListRequests(ctx, models.RequestFilter{Keyword: "umbrella"})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, newer.ID, got[0].ID)
	})

	t.Run("category and status", func(t *testing.T) {
		got, err := s.ListRequests(ctx, models.RequestFilter{
			Category: ptr(models.CategoryLost),
			Status:   ptr(models.RequestOpen),
		})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, older.ID, got[0].ID)
	})

	t.Run("created range", func(t *testing.T) {
		got, err := s.ListRequests(ctx, models.RequestFilter{
			CreatedFrom: ptr(base.Add(30 * time.Minute)),
			CreatedTo:   ptr(base.Add(90 * time.Minute)),
		})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, newer.ID, got[0].ID)
	})

	t.Run("pagination", func(t *testing.T) {
		got, err := s.ListRequests(ctx, models.RequestFilter{Limit: 1, Offset: 1})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, newer.ID, got[0].ID)
	})
}

func TestTransitionRequestChecksCurrentStatus(t *testing.T) {
	ctx := context.Background()
	s := storagetest.New(t)

	req := newRequest("owner", models.RequestOpen, base)
	require.NoError(t, s.CreateRequest(ctx, req))

	err := s.TransitionRequest(ctx, req.ID, models.RequestInProgress, models.RequestCompleted, base)
	assert.True(t, apperr.Is(err, apperr.InvalidState))

	require.NoError(t, s.TransitionRequest(ctx, req.ID, models.RequestOpen, models.RequestInProgress, base))
	got, err := s.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestInProgress, got.Status)
}

func TestOpenRequestsResetsCreatedAt(t *testing.T) {
	ctx := context.Background()
	s := storagetest.New(t)

	pending := newRequest("owner", models.RequestPending, base)
	open := newRequest("owner", models.RequestOpen, base)
	require.NoError(t, s.CreateRequest(ctx, pending))
	require.NoError(t, s.CreateRequest(ctx, open))

	approvedAt := base.Add(48 * time.Hour)
	n, err := s.OpenRequests(ctx, []string{pending.ID, open.ID}, approvedAt)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := s.GetRequest(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestOpen, got.Status)
	assert.True(t, got.CreatedAt.Equal(approvedAt))
}

func TestMarkDeliveredSucceedsOnce(t *testing.T) {
	ctx := context.Background()
	s := storagetest.New(t)

	req := newRequest("owner", models.RequestInProgress, base)
	require.NoError(t, s.CreateRequest(ctx, req))
	rep := newReport(req.ID, "finder", models.ReportAccepted)
	require.NoError(t, s.CreateReport(ctx, rep))

	require.NoError(t, s.SetDeliverySecret(ctx, rep.ID, "first", base))
	require.NoError(t, s.SetDeliverySecret(ctx, rep.ID, "second", base.Add(time.Minute)))

	err := s.MarkDelivered(ctx, rep.ID, "first", base)
	assert.True(t, apperr.Is(err, apperr.InvalidState), "overwritten secret must not match")

	require.NoError(t, s.MarkDelivered(ctx, rep.ID, "second", base.Add(time.Hour)))
	err = s.MarkDelivered(ctx, rep.ID, "second", base.Add(time.Hour))
	assert.True(t, apperr.Is(err, apperr.InvalidState))

	got, err := s.GetReport(ctx, rep.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReportDelivered, got.Status)
	assert.Nil(t, got.DeliverySecret)
	require.NotNil(t, got.DeliveredAt)
	assert.True(t, got.DeliveredAt.Equal(base.Add(time.Hour)))
}

func TestClearExpiredSecrets(t *testing.T) {
	ctx := context.Background()
	s := storagetest.New(t)

	req := newRequest("owner", models.RequestInProgress, base)
	require.NoError(t, s.CreateRequest(ctx, req))
	stale := newReport(req.ID, "finder-1", models.ReportAccepted)
	fresh := newReport(req.ID, "finder-2", models.ReportAccepted)
	require.NoError(t, s.CreateReport(ctx, stale))
	require.NoError(t, s.CreateReport(ctx, fresh))
	require.NoError(t, s.SetDeliverySecret(ctx, stale.ID, "old", base))
	require.NoError(t, s.SetDeliverySecret(ctx, fresh.ID, "new", base.Add(2*time.Hour)))

	n, err := s.ClearExpiredSecrets(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := s.GetReport(ctx, stale.ID)
	require.NoError(t, err)
	assert.Nil(t, got.DeliverySecret)
	got, err = s.GetReport(ctx, fresh.ID)
	require.NoError(t, err)
	require.NotNil(t, got.DeliverySecret)
	assert.Equal(t, "new", *got.DeliverySecret)
}

func TestLedger(t *testing.T) {
	ctx := context.Background()
	s := storagetest.New(t)

	req := newRequest("owner", models.RequestPendingDeposit, base)
	require.NoError(t, s.CreateRequest(ctx, req))
	other := newRequest("owner", models.RequestPendingDeposit, base)
	require.NoError(t, s.CreateRequest(ctx, other))

	deposit := func(requestID string) *models.Transaction {
		return &models.Transaction{
			ID:        uuid.New().String(),
			Type:      models.TransactionDeposit,
			Amount:    20_000,
			Status:    models.TransactionPending,
			UserID:    "owner",
			RequestID: ptr(requestID),
			CreatedAt: base,
			UpdatedAt: base,
		}
	}
	d1, d2 := deposit(req.ID), deposit(other.ID)
	require.NoError(t, s.AppendTransaction(ctx, d1))
	require.NoError(t, s.AppendTransaction(ctx, d2))

	pending, err := s.PendingDeposit(ctx, req.ID)
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, d1.ID, pending.ID)

	t.Run("payment reference is unique", func(t *testing.T) {
		require.NoError(t, s.AttachPaymentRef(ctx, d1.ID, "chrg_1", base))
		err := s.AttachPaymentRef(ctx, d2.ID, "chrg_1", base)
		assert.True(t, apperr.Is(err, apperr.Conflict))
	})

	t.Run("refund requires a completed entry", func(t *testing.T) {
		err := s.RefundTransaction(ctx, d2.ID, base)
		assert.True(t, apperr.Is(err, apperr.InvalidState))

		n, err := s.CompletePendingDeposits(ctx, []string{req.ID, other.ID}, base)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		require.NoError(t, s.RefundTransaction(ctx, d2.ID, base))
		got, err := s.GetTransaction(ctx, d2.ID)
		require.NoError(t, err)
		assert.Equal(t, models.TransactionRefunded, got.Status)
		assert.Equal(t, int64(20_000), got.Amount)
	})

	t.Run("no pending deposit left", func(t *testing.T) {
		pending, err := s.PendingDeposit(ctx, req.ID)
		require.NoError(t, err)
		assert.Nil(t, pending)
	})

	t.Run("filter by request", func(t *testing.T) {
		got, err := s.ListTransactions(ctx, models.TransactionFilter{RequestID: other.ID})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, d2.ID, got[0].ID)
	})
}

func TestAuditRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := storagetest.New(t)

	require.NoError(t, s.AppendAudit(ctx, &models.AuditLogEntry{
		ID:         uuid.New().String(),
		ActorID:    "admin",
		Action:     models.AuditBulkDeleteRequests,
		TargetType: "request",
		TargetID:   "a,b",
		Detail:     map[string]any{"count": 2},
		CreatedAt:  base,
	}))

	entries, err := s.ListAudit(ctx, models.AuditBulkDeleteRequests, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "admin", entries[0].ActorID)
	assert.EqualValues(t, 2, entries[0].Detail["count"])

	entries, err = s.ListAudit(ctx, models.AuditRefundTransaction, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDeleteRequestsCascadeLeavesNoOrphans(t *testing.T) {
	ctx := context.Background()
	s := storagetest.New(t)
	db := s.DB()

	req := newRequest("owner", models.RequestInProgress, base)
	keep := newRequest("owner", models.RequestOpen, base)
	require.NoError(t, s.CreateRequest(ctx, req))
	require.NoError(t, s.CreateRequest(ctx, keep))
	rep := newReport(req.ID, "finder", models.ReportDelivered)
	require.NoError(t, s.CreateReport(ctx, rep))

	reward := &models.Transaction{
		ID: uuid.New().String(), Type: models.TransactionReward, Amount: 20_000,
		Status: models.TransactionCompleted, UserID: "finder",
		RequestID: ptr(req.ID), ReportID: ptr(rep.ID), CreatedAt: base, UpdatedAt: base,
	}
	require.NoError(t, s.AppendTransaction(ctx, reward))

	_, err := db.Exec(`INSERT INTO reviews (id, request_id, reviewer_id, reviewee_id, rating, comment, created_at)
		VALUES ($1, $2, 'owner', 'finder', 5, 'thanks', $3)`, "rev-1", req.ID, base)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO support_tickets (id, user_id, request_id, subject, body, status, created_at)
		VALUES ($1, 'owner', $2, 'help', '', 'OPEN', $3)`, "tic-1", req.ID, base)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO chat_rooms (id, request_id, created_at) VALUES ($1, $2, $3)`, "room-1", req.ID, base)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO chat_rooms (id, request_id, created_at) VALUES ($1, $2, $3)`, "room-2", keep.ID, base)
	require.NoError(t, err)
	for i, room := range []string{"room-1", "room-1", "room-2"} {
		_, err = db.Exec(`INSERT INTO chat_messages (id, room_id, sender_id, body, created_at) VALUES ($1, $2, 'owner', 'hi', $3)`,
			uuid.New().String(), room, base.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
	}

	var res storage.DeleteResult
	err = s.WithTx(ctx, func(q *storage.Queries) error {
		var err error
		res, err = q.DeleteRequestsCascade(ctx, []string{req.ID})
		return err
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1), res.Requests)
	assert.Equal(t, int64(1), res.Reports)
	assert.Equal(t, int64(1), res.Reviews)
	assert.Equal(t, int64(1), res.ChatRooms)
	assert.Equal(t, int64(2), res.ChatMessages)
	assert.Equal(t, int64(1), res.DetachedTickets)
	assert.Equal(t, int64(1), res.DetachedTransactions, "a reward linked to request and report is one row")

	assert.Equal(t, 0, storagetest.Count(t, s, "requests", "id = $1", req.ID))
	assert.Equal(t, 0, storagetest.Count(t, s, "reports", "request_id = $1", req.ID))
	assert.Equal(t, 0, storagetest.Count(t, s, "reviews", ""))
	assert.Equal(t, 0, storagetest.Count(t, s, "chat_rooms", "request_id = $1", req.ID))
	assert.Equal(t, 1, storagetest.Count(t, s, "chat_messages", ""))
	assert.Equal(t, 1, storagetest.Count(t, s, "support_tickets", "request_id IS NULL"))

	got, err := s.GetTransaction(ctx, reward.ID)
	require.NoError(t, err)
	assert.Nil(t, got.RequestID)
	assert.Nil(t, got.ReportID)
	assert.Equal(t, models.TransactionCompleted, got.Status)

	_, err = s.GetRequest(ctx, keep.ID)
	assert.NoError(t, err)
}

func TestDeleteReportsCascade(t *testing.T) {
	ctx := context.Background()
	s := storagetest.New(t)

	req := newRequest("owner", models.RequestOpen, base)
	require.NoError(t, s.CreateRequest(ctx, req))
	rep := newReport(req.ID, "finder", models.ReportRejected)
	require.NoError(t, s.CreateReport(ctx, rep))
	tx := &models.Transaction{
		ID: uuid.New().String(), Type: models.TransactionReward, Amount: 1, Status: models.TransactionCompleted,
		UserID: "finder", RequestID: ptr(req.ID), ReportID: ptr(rep.ID), CreatedAt: base, UpdatedAt: base,
	}
	require.NoError(t, s.AppendTransaction(ctx, tx))

	var res storage.DeleteResult
	require.NoError(t, s.WithTx(ctx, func(q *storage.Queries) error {
		var err error
		res, err = q.DeleteReportsCascade(ctx, []string{rep.ID, "unknown"})
		return err
	}))
	assert.Equal(t, int64(1), res.Reports)
	assert.Equal(t, int64(1), res.DetachedTransactions)

	got, err := s.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ReportID)
	require.NotNil(t, got.RequestID)
	assert.Equal(t, req.ID, *got.RequestID)
}

func TestWithTxRollsBackFailedCascade(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := storage.NewStorageFromDB(db)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM reports WHERE request_id IN ($1)")).
		WithArgs("req-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("rep-1"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM transactions WHERE request_id IN ($1) OR report_id IN ($2)")).
		WithArgs("req-1", "rep-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM reviews")).
		WithArgs("req-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE transactions SET report_id = NULL")).
		WithArgs("rep-1").
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err = s.WithTx(ctx, func(q *storage.Queries) error {
		_, err := q.DeleteRequestsCascade(ctx, []string{"req-1"})
		return err
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "detach transactions from reports")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestForeignKeysEnforced(t *testing.T) {
	ctx := context.Background()
	s := storagetest.New(t)

	_, err := s.DB().Exec(`INSERT INTO chat_messages (id, room_id, sender_id, body, created_at) VALUES ($1, 'no-such-room', 'owner', 'hi', $2)`,
		uuid.New().String(), base)
	assert.Error(t, err)

	err = s.CreateReport(ctx, newReport("no-such-request", "finder", models.ReportPending))
	assert.Error(t, err)
}

func TestExtractCaptureWithoutExif(t *testing.T) {
	meta := storage.ExtractCapture([]byte("\x89PNG\r\n\x1a\nnot really an image"))
	assert.True(t, meta.Empty())
}
