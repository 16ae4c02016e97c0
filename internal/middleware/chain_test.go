package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/babyprofile/internal/auth"
	"github.com/hitoshi/babyprofile/internal/guard"
	"github.com/hitoshi/babyprofile/internal/store/storetest"
	"github.com/hitoshi/babyprofile/internal/workspace"
)

type decisionLog struct {
	mu       sync.Mutex
	outcomes []string
}

func (d *decisionLog) RecordGuardDecision(outcome string) {
	d.mu.Lock()
	d.outcomes = append(d.outcomes, outcome)
	d.mu.Unlock()
}

func TestPageGuard_RedirectsByRequirement(t *testing.T) {
	reg, srv := newTestRegistry(t)
	anon := anonymousWorkspace(t, reg)
	user := signedInWorkspace(t, reg, srv, "parent@example.com", "user")
	admin := signedInWorkspace(t, reg, srv, "admin@example.com", "admin")

	tests := []struct {
		name     string
		path     string
		ws       *workspace.Workspace
		wantCode int
		wantLoc  string
	}{
		{"public page", "/login", anon, http.StatusOK, ""},
		{"anonymous dashboard", "/dashboard", anon, http.StatusSeeOther, "/login"},
		{"anonymous admin page", "/system-management", anon, http.StatusSeeOther, "/login"},
		{"user dashboard", "/dashboard", user, http.StatusOK, ""},
		{"user admin page", "/system-management", user, http.StatusSeeOther, "/dashboard"},
		{"admin admin page", "/system-management", admin, http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := &decisionLog{}
			h := NewPageGuardMiddleware(log)(okHandler())
			req := withWorkspace(httptest.NewRequest(http.MethodGet, tt.path, nil), tt.ws)
			w := httptest.NewRecorder()

			h.ServeHTTP(w, req)

			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, tt.wantLoc, w.Header().Get("Location"))
			assert.Len(t, log.outcomes, 1)
		})
	}
}

func TestPageGuard_ReevaluatesAfterSignOut(t *testing.T) {
	reg, srv := newTestRegistry(t)
	ws := signedInWorkspace(t, reg, srv, "parent@example.com", "user")
	h := NewPageGuardMiddleware(nil)(okHandler())

	w := httptest.NewRecorder()
	h.ServeHTTP(w, withWorkspace(httptest.NewRequest(http.MethodGet, "/dashboard", nil), ws))
	require.Equal(t, http.StatusOK, w.Code)

	require.NoError(t, ws.Auth.Logout(t.Context()))

	w = httptest.NewRecorder()
	h.ServeHTTP(w, withWorkspace(httptest.NewRequest(http.MethodGet, "/dashboard", nil), ws))
	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, guard.LoginPath, w.Header().Get("Location"))
}

func TestRequireAccess_ReturnsJSONErrors(t *testing.T) {
	reg, srv := newTestRegistry(t)
	anon := anonymousWorkspace(t, reg)
	user := signedInWorkspace(t, reg, srv, "parent@example.com", "user")

	h := RequireAccess(guard.AdminOnly, nil)(okHandler())

	w := serve(h, http.MethodGet, anon)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"UNAUTHENTICATED"`)

	w = serve(h, http.MethodGet, user)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"FORBIDDEN"`)
	assert.Empty(t, w.Header().Get("Location"))
}

func TestMiddlewareChain_SessionGuardAndCSRF(t *testing.T) {
	reg, srv := newTestRegistry(t)
	srv.AddUser(storetest.User{ID: "user-1", Email: "parent@example.com", Password: "pw"})

	mux := http.NewServeMux()
	mux.Handle("POST /auth/password", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, _ := WorkspaceFromContext(r.Context())
		if err := ws.Auth.PasswordLogin(r.Context(), auth.PasswordInput{Email: "parent@example.com", Password: "pw"}); err != nil {
			WriteAPIError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	mux.Handle("/api/babies", RequireAccess(guard.Authenticated, nil)(okHandler()))

	var h http.Handler = mux
	h = NewCSRFMiddleware(CSRFConfig{})(h)
	h = NewSessionMiddleware(NewCookieStore(testCookieStoreConfig()), reg)(h)
	h = NewSecurityHeadersMiddleware()(h)
	h = NewRecoveryMiddleware(nil)(h)

	send := func(method, path string, cookies []*http.Cookie, csrf string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, nil)
		for _, c := range cookies {
			req.AddCookie(c)
		}
		if csrf != "" {
			req.Header.Set(csrfHeaderName, csrf)
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w
	}

	// セッションなしでは401。クライアントCookieとCSRF Cookieが発行される
	w := send(http.MethodGet, "/api/babies", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.True(t, strings.Contains(w.Header().Get("Content-Security-Policy"), "script-src 'self'"))
	clientCookie := findCookie(w.Result(), workspaceCookieName)
	csrfCookie := findCookie(w.Result(), csrfCookieName)
	require.NotNil(t, clientCookie)
	require.NotNil(t, csrfCookie)

	// CSRFトークンなしのサインインは拒否される
	w = send(http.MethodPost, "/auth/password", []*http.Cookie{clientCookie, csrfCookie}, "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = send(http.MethodPost, "/auth/password", []*http.Cookie{clientCookie, csrfCookie}, csrfCookie.Value)
	require.Equal(t, http.StatusNoContent, w.Code)
	clientCookie = findCookie(w.Result(), workspaceCookieName)
	require.NotNil(t, clientCookie, "refresh token is persisted after sign-in")

	w = send(http.MethodPost, "/api/babies", []*http.Cookie{clientCookie, csrfCookie}, csrfCookie.Value)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, reg.Len())
}

func TestSecurityHeaders_StaticAssetsAreCacheable(t *testing.T) {
	h := NewSecurityHeadersMiddleware()(okHandler())
	w := httptest.NewRecorder()

	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/static/app.js", nil))

	assert.Empty(t, w.Header().Get("Cache-Control"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
}
