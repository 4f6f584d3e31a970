package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/ilikefeeling/reshk-sub001/internal/api"
	"github.com/ilikefeeling/reshk-sub001/internal/auth"
	"github.com/ilikefeeling/reshk-sub001/internal/models"
	"github.com/ilikefeeling/reshk-sub001/internal/recovery"
	"github.com/ilikefeeling/reshk-sub001/internal/storage"
	"github.com/ilikefeeling/reshk-sub001/internal/storage/storagetest"
	"github.com/ilikefeeling/reshk-sub001/internal/verification"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	owner  = models.Actor{UserID: "owner-1", Role: models.RoleUser}
	finder = models.Actor{UserID: "finder-1", Role: models.RoleUser}
	admin  = models.Actor{UserID: "admin-1", Role: models.RoleAdmin}
)

type fakeUploader struct {
	got []byte
}

func (f *fakeUploader) UploadImage(ctx context.Context, data []byte, filename, contentType string) (*storage.UploadedImage, error) {
	f.got = data
	return &storage.UploadedImage{Key: "2026/05/01/" + filename, URL: "http://img/" + filename}, nil
}

type testServer struct {
	t         *testing.T
	router    http.Handler
	validator *auth.JWTValidator
	uploader  *fakeUploader
}

func newTestServer(t *testing.T, checks map[string]HealthCheck, limiter *auth.UserRateLimiter) *testServer {
	t.Helper()
	store := storagetest.New(t)
	engine := verification.NewEngine(verification.NewVisualScorer(nil, time.Second))
	svc := recovery.NewService(store, engine, nil, nil, nil)

	uploader := &fakeUploader{}
	validator := auth.NewJWTValidator("handler-test-secret")
	return &testServer{
		t:         t,
		router:    NewRouter(NewHandler(svc, uploader, checks), validator, limiter),
		validator: validator,
		uploader:  uploader,
	}
}

func (s *testServer) do(a *models.Actor, method, path string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
		}
	}
	r := httptest.NewRequest(method, path, &buf)
	r.Header.Set("Content-Type", "application/json")
	if a != nil {
		token, err := s.validator.Sign(*a, time.Hour)
		require.NoError(s.t, err)
		r.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, r)
	return rec
}

func decodeInto[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func requireProblem(t *testing.T, rec *httptest.ResponseRecorder, status int) api.Problem {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	p := decodeInto[api.Problem](t, rec)
	assert.Equal(t, status, p.Status)
	return p
}

func TestDeliveryFlowOverHTTP(t *testing.T) {
	s := newTestServer(t, nil, nil)

	rec := s.do(&owner, http.MethodPost, "/api/requests", models.CreateRequestInput{
		Title:    "Lost umbrella",
		Category: "lost",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	req := decodeInto[models.Request](t, rec)
	assert.Equal(t, models.RequestPending, req.Status)

	rec = s.do(&finder, http.MethodGet, "/api/requests/"+req.ID, nil)
	requireProblem(t, rec, http.StatusNotFound)

	rec = s.do(&owner, http.MethodPost, "/api/admin/requests/"+req.ID+"/approve", nil)
	requireProblem(t, rec, http.StatusForbidden)

	rec = s.do(&admin, http.MethodPost, "/api/admin/requests/"+req.ID+"/approve", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(&finder, http.MethodPost, "/api/requests/"+req.ID+"/reports",
		`{"description":"at the cafe","capture":{"latitude":50.06,"longitude":19.94}}`)
	requireProblem(t, rec, http.StatusBadRequest)

	rec = s.do(&finder, http.MethodPost, "/api/requests/"+req.ID+"/reports", models.CreateReportInput{Description: "at the cafe"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rep := decodeInto[models.Report](t, rec)

	rec = s.do(&owner, http.MethodPost, "/api/reports/"+rep.ID+"/review", models.ReviewDecision{Approve: true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(&finder, http.MethodPost, "/api/reports/"+rep.ID+"/delivery-token", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	token := decodeInto[map[string]string](t, rec)["token"]
	require.Len(t, token, 64)

	rec = s.do(&owner, http.MethodGet, "/api/reports/"+rep.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), token)

	rec = s.do(&owner, http.MethodPost, "/api/reports/"+rep.ID+"/redeem", map[string]string{"token": "wrong"})
	requireProblem(t, rec, http.StatusBadRequest)

	rec = s.do(&owner, http.MethodPost, "/api/reports/"+rep.ID+"/redeem", map[string]string{"token": token})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(&owner, http.MethodPost, "/api/reports/"+rep.ID+"/redeem", map[string]string{"token": token})
	p := requireProblem(t, rec, http.StatusBadRequest)
	assert.Equal(t, "validation_failed", p.Kind)

	rec = s.do(&owner, http.MethodPost, "/api/requests/"+req.ID+"/cancel", nil)
	requireProblem(t, rec, http.StatusUnprocessableEntity)

	rec = s.do(&admin, http.MethodGet, "/api/admin/audit-log?action="+models.AuditApproveRequest, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decodeInto[map[string]any](t, rec)["count"])
}

func TestAuthenticationRequired(t *testing.T) {
	s := newTestServer(t, nil, nil)

	requireProblem(t, s.do(nil, http.MethodGet, "/api/requests", nil), http.StatusUnauthorized)

	r := httptest.NewRequest(http.MethodGet, "/api/requests", nil)
	r.Header.Set("Authorization", "Bearer nope")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, r)
	requireProblem(t, rec, http.StatusUnauthorized)

	requireProblem(t, s.do(&owner, http.MethodGet, "/api/admin/transactions", nil), http.StatusForbidden)
}

func TestRequestValidationErrors(t *testing.T) {
	s := newTestServer(t, nil, nil)

	requireProblem(t, s.do(&owner, http.MethodPost, "/api/requests", "{not json"), http.StatusBadRequest)
	requireProblem(t, s.do(&owner, http.MethodPost, "/api/requests", `{"title":"x","category":"LOST","colour":"red"}`), http.StatusBadRequest)
	requireProblem(t, s.do(&owner, http.MethodPost, "/api/requests", ""), http.StatusBadRequest)
	requireProblem(t, s.do(&owner, http.MethodPost, "/api/requests", models.CreateRequestInput{Title: "x", Category: "LOST", RewardAmount: -5}), http.StatusBadRequest)
	requireProblem(t, s.do(&owner, http.MethodGet, "/api/requests?from=yesterday", nil), http.StatusBadRequest)
	requireProblem(t, s.do(&owner, http.MethodGet, "/api/requests?limit=-1", nil), http.StatusBadRequest)
	requireProblem(t, s.do(&owner, http.MethodGet, "/api/requests/missing", nil), http.StatusNotFound)
	requireProblem(t, s.do(&owner, http.MethodPost, "/api/requests/missing/deposit", map[string]string{"payment_ref": "p"}), http.StatusBadGateway)
	requireProblem(t, s.do(&owner, http.MethodDelete, "/api/requests/missing", nil), http.StatusMethodNotAllowed)
}

func TestListRequestsFilters(t *testing.T) {
	s := newTestServer(t, nil, nil)

	for _, title := range []string{"Lost black wallet", "Lost red scarf"} {
		rec := s.do(&owner, http.MethodPost, "/api/requests", models.CreateRequestInput{Title: title, Category: models.CategoryLost})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := s.do(&owner, http.MethodGet, "/api/requests?q=wallet&status=pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeInto[struct {
		Requests []models.Request `json:"requests"`
		Count    int              `json:"count"`
	}](t, rec)
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "Lost black wallet", body.Requests[0].Title)

	rec = s.do(&finder, http.MethodGet, "/api/requests", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, decodeInto[map[string]any](t, rec)["count"])
}

func TestParseRequestFilter(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/requests?category=found&status=open&from=2026-01-02T03:04:05%2B02:00&limit=5&offset=10&owner=u1", nil)
	f, err := parseRequestFilter(r.URL.Query())
	require.NoError(t, err)

	require.NotNil(t, f.Category)
	assert.Equal(t, models.CategoryFound, *f.Category)
	require.NotNil(t, f.Status)
	assert.Equal(t, models.RequestOpen, *f.Status)
	require.NotNil(t, f.CreatedFrom)
	assert.Equal(t, time.Date(2026, 1, 2, 1, 4, 5, 0, time.UTC), *f.CreatedFrom)
	assert.Nil(t, f.CreatedTo)
	assert.Equal(t, 5, f.Limit)
	assert.Equal(t, 10, f.Offset)
	assert.Equal(t, "u1", f.OwnerID)
}

func TestAdminBulkEndpoints(t *testing.T) {
	s := newTestServer(t, nil, nil)

	var ids []string
	for i := 0; i < 2; i++ {
		rec := s.do(&owner, http.MethodPost, "/api/requests", models.CreateRequestInput{Title: "Lost key", Category: models.CategoryLost})
		require.Equal(t, http.StatusCreated, rec.Code)
		ids = append(ids, decodeInto[models.Request](t, rec).ID)
	}

	rec := s.do(&admin, http.MethodPost, "/api/admin/requests/approve", map[string]any{"ids": ids})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 2, decodeInto[map[string]any](t, rec)["approved"])

	rec = s.do(&admin, http.MethodPost, "/api/admin/requests/approve", map[string]any{"ids": ids})
	requireProblem(t, rec, http.StatusUnprocessableEntity)

	rec = s.do(&admin, http.MethodPost, "/api/admin/requests/delete", map[string]any{"ids": ids})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 2, decodeInto[map[string]any](t, rec)["requests"])

	requireProblem(t, s.do(&admin, http.MethodPost, "/api/admin/reports/delete", map[string]any{"ids": []string{}}), http.StatusBadRequest)
	requireProblem(t, s.do(&admin, http.MethodPost, "/api/admin/transactions/nope/refund", nil), http.StatusNotFound)

	rec = s.do(&admin, http.MethodGet, "/api/admin/transactions?type=deposit", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	requireProblem(t, s.do(&admin, http.MethodGet, "/api/admin/audit-log?limit=x", nil), http.StatusBadRequest)
}

func TestRedeemIsRateLimited(t *testing.T) {
	s := newTestServer(t, nil, auth.NewUserRateLimiter(1, 1))

	rec := s.do(&owner, http.MethodPost, "/api/reports/r1/redeem", map[string]string{"token": "t"})
	requireProblem(t, rec, http.StatusNotFound)

	rec = s.do(&owner, http.MethodPost, "/api/reports/r1/redeem", map[string]string{"token": "t"})
	requireProblem(t, rec, http.StatusTooManyRequests)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	rec = s.do(&finder, http.MethodPost, "/api/reports/r1/redeem", map[string]string{"token": "t"})
	requireProblem(t, rec, http.StatusNotFound)
}

func TestUploadImage(t *testing.T) {
	s := newTestServer(t, nil, nil)

	upload := func(contentType string) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		hdr := make(textproto.MIMEHeader)
		hdr.Set("Content-Disposition", `form-data; name="image"; filename="found.jpg"`)
		hdr.Set("Content-Type", contentType)
		part, err := mw.CreatePart(hdr)
		require.NoError(t, err)
		_, err = part.Write([]byte("jpeg-bytes"))
		require.NoError(t, err)
		require.NoError(t, mw.Close())

		r := httptest.NewRequest(http.MethodPost, "/api/images", &buf)
		r.Header.Set("Content-Type", mw.FormDataContentType())
		token, err := s.validator.Sign(finder, time.Hour)
		require.NoError(t, err)
		r.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, r)
		return rec
	}

	rec := upload("image/jpeg")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	img := decodeInto[storage.UploadedImage](t, rec)
	assert.Equal(t, "http://img/found.jpg", img.URL)
	assert.Equal(t, []byte("jpeg-bytes"), s.uploader.got)

	requireProblem(t, upload("text/plain"), http.StatusBadRequest)
}

func TestHealthCheck(t *testing.T) {
	healthy := newTestServer(t, map[string]HealthCheck{
		"postgres": func(ctx context.Context) error { return nil },
	}, nil)
	rec := healthy.do(nil, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decodeInto[map[string]any](t, rec)["status"])

	broken := newTestServer(t, map[string]HealthCheck{
		"postgres": func(ctx context.Context) error { return nil },
		"rabbitmq": func(ctx context.Context) error { return errors.New("channel closed") },
	}, nil)
	rec = broken.do(nil, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decodeInto[struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}](t, rec)
	assert.Equal(t, "unhealthy", body.Status)
	assert.Equal(t, "ok", body.Checks["postgres"])
	assert.Equal(t, "channel closed", body.Checks["rabbitmq"])
}

func TestRecoveryMiddleware(t *testing.T) {
	h := recoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	requireProblem(t, rec, http.StatusInternalServerError)
}
