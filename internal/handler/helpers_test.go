package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/babyprofile/internal/metrics"
	"github.com/hitoshi/babyprofile/internal/middleware"
	"github.com/hitoshi/babyprofile/internal/model"
	"github.com/hitoshi/babyprofile/internal/security"
	"github.com/hitoshi/babyprofile/internal/store/storetest"
	"github.com/hitoshi/babyprofile/internal/workspace"
)

// harness はインメモリストアに接続した完全なルーターを起動する。
type harness struct {
	t        *testing.T
	store    *storetest.Server
	registry *workspace.Registry
	gatherer *prometheus.Registry
	server   *httptest.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	srv := storetest.NewServer(t)
	srv.AddUser(storetest.User{ID: "user-1", Email: "parent@example.com", Password: "pw"})
	srv.AddUser(storetest.User{ID: "admin-1", Email: "admin@example.com", Password: "pw", Role: model.RoleAdmin})
	registerAdminRPCs(srv)

	promReg := prometheus.NewRegistry()
	collector := metrics.NewCollector(promReg)

	reg := workspace.NewRegistry(workspace.Config{
		OAuthProvider:   "google",
		CallbackURL:     "http://localhost/auth-callback",
		CleanupInterval: time.Hour,
	}, workspace.Deps{
		Transport: srv.Transport(),
		Sanitizer: security.NewTextSanitizer(),
		Metrics:   collector,
	})
	t.Cleanup(reg.Stop)

	pages, err := NewRenderer()
	require.NoError(t, err)

	router := NewRouter(&RouterDeps{
		Workspaces:    reg,
		Cookies:       middleware.NewCookieStore(middleware.CookieConfig{Secret: "test-secret", MaxAge: 3600}),
		CSRFConfig:    middleware.CSRFConfig{},
		Metrics:       collector,
		Gatherer:      promReg,
		HealthChecker: srv.Transport(),
		Pages:         pages,
	})

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &harness{t: t, store: srv, registry: reg, gatherer: promReg, server: server}
}

// registerAdminRPCs はストアの特権プロシージャを模す。管理者以外は42501を返す。
func registerAdminRPCs(srv *storetest.Server) {
	adminOnly := func(fn storetest.RPCFunc) storetest.RPCFunc {
		return func(caller storetest.Caller, args map[string]any) (int, any) {
			if caller == nil || caller.Role != model.RoleAdmin {
				return http.StatusForbidden, map[string]any{"code": "42501", "message": "permission denied"}
			}
			return fn(caller, args)
		}
	}
	srv.HandleRPC("get_all_users_for_admin", adminOnly(func(caller storetest.Caller, args map[string]any) (int, any) {
		return http.StatusOK, []map[string]any{
			{"id": "admin-1", "email": "admin@example.com", "created_at": "2024-01-01T00:00:00+00:00", "app_metadata": map[string]any{"role": "admin"}},
			{"id": "user-1", "email": "parent@example.com", "created_at": "2024-02-01T00:00:00+00:00", "app_metadata": map[string]any{}},
		}
	}))
	srv.HandleRPC("update_user_role_by_admin", adminOnly(func(caller storetest.Caller, args map[string]any) (int, any) {
		return http.StatusNoContent, nil
	}))
	srv.HandleRPC("delete_user_by_admin", adminOnly(func(caller storetest.Caller, args map[string]any) (int, any) {
		return http.StatusNoContent, nil
	}))
}

// browser はCookieを保持するクライアント。リダイレクトは追わない。
type browser struct {
	t      *testing.T
	base   *url.URL
	client *http.Client
}

func (h *harness) newBrowser() *browser {
	h.t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(h.t, err)
	base, err := url.Parse(h.server.URL)
	require.NoError(h.t, err)
	return &browser{
		t:    h.t,
		base: base,
		client: &http.Client{
			Jar: jar,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (b *browser) csrfToken() string {
	for _, c := range b.client.Jar.Cookies(b.base) {
		if c.Name == "csrf_token" {
			return c.Value
		}
	}
	return ""
}

// do はリクエストを送る。状態変更メソッドではCSRFトークンを付ける。
func (b *browser) do(method, path string, body any) *http.Response {
	b.t.Helper()
	safe := method == http.MethodGet || method == http.MethodHead
	if !safe && b.csrfToken() == "" {
		resp := b.do(http.MethodGet, "/api/csrf-token", nil)
		resp.Body.Close()
	}
	return b.send(method, path, body, !safe)
}

func (b *browser) send(method, path string, body any, withCSRF bool) *http.Response {
	b.t.Helper()
	var r io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(b.t, err)
		r = bytes.NewReader(buf)
	}
	req, err := http.NewRequest(method, b.base.String()+path, r)
	require.NoError(b.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if withCSRF {
		req.Header.Set("X-CSRF-Token", b.csrfToken())
	}
	resp, err := b.client.Do(req)
	require.NoError(b.t, err)
	b.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (b *browser) signIn(email string) {
	b.t.Helper()
	resp := b.do(http.MethodPost, "/auth/password", map[string]string{"email": email, "password": "pw"})
	require.Equal(b.t, http.StatusOK, resp.StatusCode, "sign in as %s", email)
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	return decodeBody[middleware.ErrorResponseBody](t, resp).Code
}
