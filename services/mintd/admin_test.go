package mintd

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

type fakeController struct {
	mu      sync.Mutex
	running bool
	started int
	stopped int
	ctx     context.Context
}

func (f *fakeController) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return ErrAlreadyRunning
	}
	f.running = true
	f.started++
	f.ctx = ctx
	return nil
}

func (f *fakeController) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
	f.stopped++
}

func (f *fakeController) Status() Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	state := StateStopped
	if f.running {
		state = StateSleeping
	}
	return Status{Running: f.running, State: state, Date: "2024-03-01", TodayPrimaryLimit: 5000}
}

func newTestAdmin(t *testing.T) (*AdminServer, *fakeController) {
	t.Helper()
	auth, err := NewAuthenticator(AuthConfig{BearerToken: "token"})
	require.NoError(t, err)
	ctrl := &fakeController{}
	type baseKey struct{}
	base := context.WithValue(context.Background(), baseKey{}, "base")
	return NewAdminServer(base, ctrl, auth), ctrl
}

func doRequest(srv http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestAdminRequiresAuth(t *testing.T) {
	srv, ctrl := newTestAdmin(t)

	rec := doRequest(srv, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)

	for _, path := range []string{"/engine/status", "/metrics"} {
		rec = doRequest(srv, http.MethodGet, path, "")
		require.Equal(t, http.StatusUnauthorized, rec.Code, path)
		require.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")
		rec = doRequest(srv, http.MethodGet, path, "wrong")
		require.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
	rec = doRequest(srv, http.MethodPost, "/engine/start", "wrong")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Zero(t, ctrl.started)
}

func TestAdminStartStopStatus(t *testing.T) {
	srv, ctrl := newTestAdmin(t)

	rec := doRequest(srv, http.MethodPost, "/engine/start", "token")
	require.Equal(t, http.StatusAccepted, rec.Code)
	var status Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.True(t, status.Running)
	require.NotNil(t, ctrl.ctx)
	require.Nil(t, ctrl.ctx.Err(), "engine outlives the request")

	rec = doRequest(srv, http.MethodPost, "/engine/start", "token")
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, 1, ctrl.started)

	rec = doRequest(srv, http.MethodGet, "/engine/status", "token")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var raw map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	require.Equal(t, "sleeping", raw["state"])
	require.EqualValues(t, 5000, raw["today_primary_limit"])

	rec = doRequest(srv, http.MethodPost, "/engine/stop", "token")
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, 1, ctrl.stopped)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.False(t, status.Running)

	rec = doRequest(srv, http.MethodGet, "/metrics", "token")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthenticatorMTLS(t *testing.T) {
	_, err := NewAuthenticator(AuthConfig{})
	require.Error(t, err)

	auth, err := NewAuthenticator(AuthConfig{AllowMTLS: true})
	require.NoError(t, err)
	handler := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/engine/status", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/engine/status", nil)
	req.TLS = &tls.ConnectionState{VerifiedChains: [][]*x509.Certificate{{&x509.Certificate{}}}}
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestParseBearerToken(t *testing.T) {
	require.Equal(t, "abc", parseBearerToken("Bearer abc"))
	require.Equal(t, "abc", parseBearerToken("bearer   abc "))
	require.Empty(t, parseBearerToken("Basic abc"))
	require.Empty(t, parseBearerToken("abc"))
}

func signAdminToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestAuthenticatorJWT(t *testing.T) {
	auth, err := NewAuthenticator(AuthConfig{JWTSecret: "hmac-secret", JWTIssuer: "ops", JWTAudience: "mintd"})
	require.NoError(t, err)
	srv := NewAdminServer(context.Background(), &fakeController{}, auth)
	exp := time.Now().Add(time.Hour).Unix()

	valid := signAdminToken(t, "hmac-secret", jwt.MapClaims{"iss": "ops", "aud": "mintd", "exp": exp})
	require.Equal(t, http.StatusOK, doRequest(srv, http.MethodGet, "/engine/status", valid).Code)

	cases := map[string]string{
		"wrong secret":   signAdminToken(t, "other", jwt.MapClaims{"iss": "ops", "aud": "mintd", "exp": exp}),
		"wrong issuer":   signAdminToken(t, "hmac-secret", jwt.MapClaims{"iss": "dev", "aud": "mintd", "exp": exp}),
		"wrong audience": signAdminToken(t, "hmac-secret", jwt.MapClaims{"iss": "ops", "aud": "gateway", "exp": exp}),
		"expired":        signAdminToken(t, "hmac-secret", jwt.MapClaims{"iss": "ops", "aud": "mintd", "exp": time.Now().Add(-time.Hour).Unix()}),
		"no expiry":      signAdminToken(t, "hmac-secret", jwt.MapClaims{"iss": "ops", "aud": "mintd"}),
		"garbage":        "not-a-jwt",
	}
	for name, token := range cases {
		require.Equal(t, http.StatusUnauthorized, doRequest(srv, http.MethodGet, "/engine/status", token).Code, name)
	}
}
