// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"fmt"
	"log/slog"
	"math"
	"net/http"

	"github.com/hitoshi/babyprofile/internal/auth"
	"github.com/hitoshi/babyprofile/internal/guard"
	"github.com/hitoshi/babyprofile/internal/middleware"
	"github.com/hitoshi/babyprofile/internal/model"
)

// AuthHandler は認証関連のHTTPハンドラー。
type AuthHandler struct {
	pages      *Renderer
	workspaces workspaceRemover
}

// workspaceRemover はサインアウトしたクライアントのWorkspaceを破棄する。
type workspaceRemover interface {
	Remove(clientID string)
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(pages *Renderer, workspaces workspaceRemover) *AuthHandler {
	return &AuthHandler{pages: pages, workspaces: workspaces}
}

// redirectResponse は画面遷移先を返すレスポンス。
type redirectResponse struct {
	Redirect string `json:"redirect"`
}

// meResponse は現在のユーザー情報。
type meResponse struct {
	UserID  string `json:"user_id"`
	Email   string `json:"email"`
	Role    string `json:"role"`
	IsAdmin bool   `json:"is_admin"`
}

// Login はOAuthプロバイダーの認証画面へ遷移させる。
// GET /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceOf(w, r)
	if !ok {
		return
	}
	if ws.Session() != nil {
		http.Redirect(w, r, guard.DashboardPath, http.StatusSeeOther)
		return
	}

	url, err := ws.Auth.LoginURL()
	if err != nil {
		slog.Error("failed to build oauth login url", slog.String("error", err.Error()))
		http.Redirect(w, r, guard.LoginPath+"?error=oauth", http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, url, http.StatusSeeOther)
}

// Password はメールアドレスとパスワードでサインインする。
// POST /auth/password
func (h *AuthHandler) Password(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceOf(w, r)
	if !ok {
		return
	}

	var in auth.PasswordInput
	if err := decodeJSON(r, &in); err != nil {
		middleware.WriteAPIError(w, err)
		return
	}

	exclusive(w, ws, "auth.password", func() {
		if err := ws.Auth.PasswordLogin(r.Context(), in); err != nil {
			middleware.WriteAPIError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, redirectResponse{Redirect: guard.DashboardPath})
	})
}

// Logout はサインアウトする。ストアへの通知に失敗してもローカルのセッションは破棄される。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceOf(w, r)
	if !ok {
		return
	}

	if err := ws.Auth.Logout(r.Context()); err != nil {
		slog.Warn("remote sign-out failed",
			slog.String("workspace_id", ws.ID),
			slog.String("error", err.Error()),
		)
	}
	// 次のリクエストではCookieのクライアントIDで空のWorkspaceが作られる
	if h.workspaces != nil {
		h.workspaces.Remove(ws.ID)
	}
	writeJSON(w, http.StatusOK, redirectResponse{Redirect: guard.LoginPath})
}

// Callback はOAuthプロバイダーからの戻りを処理する。
// 成功時はダッシュボードへ遷移し、失敗時はメッセージを表示して一定時間後にログイン画面へ戻す。
// GET /auth-callback?code=...
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceOf(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	providerError := q.Get("error_description")
	if providerError == "" {
		providerError = q.Get("error")
	}

	outcome := ws.Callback.Run(r.Context(), q.Get("code"), providerError)
	if outcome.State == auth.StateAuthenticated {
		http.Redirect(w, r, outcome.Redirect, http.StatusSeeOther)
		return
	}

	seconds := int(math.Ceil(outcome.Delay.Seconds()))
	w.Header().Set("Refresh", fmt.Sprintf("%d; url=%s", seconds, outcome.Redirect))
	h.pages.Render(w, http.StatusOK, "auth_callback", pageData{
		Title: "ログイン処理",
		Error: outcome.Message,
	})
}

// Me は現在のユーザー情報を返す。
// GET /api/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceOf(w, r)
	if !ok {
		return
	}

	sess := ws.Session()
	if sess == nil {
		middleware.WriteAPIError(w, model.NewUnauthenticatedError())
		return
	}
	writeJSON(w, http.StatusOK, meResponse{
		UserID:  sess.UserID,
		Email:   sess.Email,
		Role:    sess.Role,
		IsAdmin: sess.IsAdmin(),
	})
}
