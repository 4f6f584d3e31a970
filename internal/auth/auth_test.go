package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/ilikefeeling/reshk-sub001/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signClaims(t *testing.T, method jwt.SigningMethod, key any, claims Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func claimsFor(sub, role string, exp time.Time) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Role: role,
	}
}

func TestValidate(t *testing.T) {
	v := NewJWTValidator(testSecret)
	hour := time.Now().Add(time.Hour)

	tests := []struct {
		name    string
		token   string
		want    models.Actor
		wantErr bool
	}{
		{
			name:  "user",
			token: signClaims(t, jwt.SigningMethodHS256, []byte(testSecret), claimsFor("u1", "user", hour)),
			want:  models.Actor{UserID: "u1", Role: models.RoleUser},
		},
		{
			name:  "admin",
			token: signClaims(t, jwt.SigningMethodHS256, []byte(testSecret), claimsFor("a1", "admin", hour)),
			want:  models.Actor{UserID: "a1", Role: models.RoleAdmin},
		},
		{
			name:  "missing role defaults to user",
			token: signClaims(t, jwt.SigningMethodHS256, []byte(testSecret), claimsFor("u2", "", hour)),
			want:  models.Actor{UserID: "u2", Role: models.RoleUser},
		},
		{
			name:    "system role refused",
			token:   signClaims(t, jwt.SigningMethodHS256, []byte(testSecret), claimsFor("s", "system", hour)),
			wantErr: true,
		},
		{
			name:    "expired",
			token:   signClaims(t, jwt.SigningMethodHS256, []byte(testSecret), claimsFor("u1", "user", time.Now().Add(-time.Hour))),
			wantErr: true,
		},
		{
			name:    "wrong secret",
			token:   signClaims(t, jwt.SigningMethodHS256, []byte("other"), claimsFor("u1", "user", hour)),
			wantErr: true,
		},
		{
			name:    "wrong algorithm",
			token:   signClaims(t, jwt.SigningMethodHS512, []byte(testSecret), claimsFor("u1", "user", hour)),
			wantErr: true,
		},
		{
			name:    "no subject",
			token:   signClaims(t, jwt.SigningMethodHS256, []byte(testSecret), claimsFor("", "user", hour)),
			wantErr: true,
		},
		{
			name:    "garbage",
			token:   "not.a.jwt",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := v.Validate(tt.token)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNilValidator(t *testing.T) {
	v := NewJWTValidator("")
	assert.Nil(t, v)
	_, err := v.Validate("x")
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	v := NewJWTValidator(testSecret)
	token, err := v.Sign(models.Actor{UserID: "u1", Role: models.RoleUser}, time.Hour)
	require.NoError(t, err)

	var seen models.Actor
	h := NewMiddleware(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ActorFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"valid", "Bearer " + token, http.StatusNoContent},
		{"lowercase scheme", "bearer " + token, http.StatusNoContent},
		{"missing", "", http.StatusUnauthorized},
		{"basic", "Basic dXNlcjpwYXNz", http.StatusUnauthorized},
		{"empty token", "Bearer ", http.StatusUnauthorized},
		{"invalid", "Bearer abc.def.ghi", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = models.Actor{}
			r := httptest.NewRequest(http.MethodGet, "/api/requests", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, r)

			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusNoContent {
				assert.Equal(t, "u1", seen.UserID)
			} else {
				assert.Empty(t, seen.UserID)
				assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
			}
		})
	}
}

func TestMiddlewareFailsClosed(t *testing.T) {
	h := NewMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))
	r := httptest.NewRequest(http.MethodGet, "/api/requests", nil)
	r.Header.Set("Authorization", "Bearer anything")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAdmin(t *testing.T) {
	h := RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	run := func(actor models.Actor) int {
		r := httptest.NewRequest(http.MethodPost, "/api/admin/requests/approve", nil)
		r = r.WithContext(WithActor(r.Context(), actor))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, run(models.Actor{UserID: "a", Role: models.RoleAdmin}))
	assert.Equal(t, http.StatusForbidden, run(models.Actor{UserID: "u", Role: models.RoleUser}))
	assert.Equal(t, http.StatusUnauthorized, run(models.Actor{}))
}

func TestUserRateLimiter(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	rl := NewUserRateLimiter(6, 2)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("u1"))
	assert.True(t, rl.Allow("u1"))
	assert.False(t, rl.Allow("u1"), "burst exhausted")
	assert.True(t, rl.Allow("u2"), "buckets are per user")

	now = now.Add(11 * time.Second)
	assert.True(t, rl.Allow("u1"), "one token refills every 10s")
	assert.False(t, rl.Allow("u1"))

	now = now.Add(visitorIdle + time.Second)
	assert.Equal(t, 2, rl.Cleanup())
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := NewUserRateLimiter(1, 1)
	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	call := func() *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodPost, "/api/reports/r1/redeem", nil)
		r = r.WithContext(WithActor(r.Context(), models.Actor{UserID: "u1", Role: models.RoleUser}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		return rec
	}

	assert.Equal(t, http.StatusOK, call().Code)
	rec := call()
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}
