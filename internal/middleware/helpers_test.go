package middleware

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/hitoshi/babyprofile/internal/auth"
	"github.com/hitoshi/babyprofile/internal/security"
	"github.com/hitoshi/babyprofile/internal/store/storetest"
	"github.com/hitoshi/babyprofile/internal/workspace"
)

// newTestRegistry はインメモリストアに向けたRegistryを生成する。
func newTestRegistry(t *testing.T) (*workspace.Registry, *storetest.Server) {
	t.Helper()
	srv := storetest.NewServer(t)
	return registryFor(t, srv), srv
}

// registryFor は既存のストアに向けた新しいRegistryを生成する。再起動を模す場合に使う。
func registryFor(t *testing.T, srv *storetest.Server) *workspace.Registry {
	t.Helper()
	reg := workspace.NewRegistry(workspace.Config{
		OAuthProvider:   "google",
		CallbackURL:     "http://localhost/auth-callback",
		CleanupInterval: time.Hour,
	}, workspace.Deps{
		Transport: srv.Transport(),
		Sanitizer: security.NewTextSanitizer(),
	})
	t.Cleanup(reg.Stop)
	return reg
}

// anonymousWorkspace はセッションのないWorkspaceを返す。
func anonymousWorkspace(t *testing.T, reg *workspace.Registry) *workspace.Workspace {
	t.Helper()
	return reg.Acquire(context.Background(), "", "")
}

// signedInWorkspace は指定したロールでサインイン済みのWorkspaceを返す。
func signedInWorkspace(t *testing.T, reg *workspace.Registry, srv *storetest.Server, email, role string) *workspace.Workspace {
	t.Helper()
	srv.AddUser(storetest.User{ID: "id-" + email, Email: email, Password: "pw", Role: role})
	ws := reg.Acquire(context.Background(), "", "")
	if err := ws.Auth.PasswordLogin(context.Background(), auth.PasswordInput{Email: email, Password: "pw"}); err != nil {
		t.Fatalf("failed to sign in as %s: %v", email, err)
	}
	return ws
}

func withWorkspace(r *http.Request, ws *workspace.Workspace) *http.Request {
	return r.WithContext(ContextWithWorkspace(r.Context(), ws))
}
