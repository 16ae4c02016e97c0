// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/sessions"

	"github.com/hitoshi/babyprofile/internal/workspace"
)

const (
	workspaceCookieName = "babyprofile_client"
	clientIDKey         = "client_id"
	refreshTokenKey     = "refresh_token"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// workspaceContextKey はリクエストコンテキストにWorkspaceを格納するためのキー。
var workspaceContextKey = contextKey("workspace")

// WorkspaceResolver はクライアントIDからWorkspaceを取得・破棄する。workspace.Registryが実装する。
type WorkspaceResolver interface {
	Acquire(ctx context.Context, clientID, refreshToken string) *workspace.Workspace
	Remove(clientID string)
}

// CookieConfig はクライアントCookieの設定。
type CookieConfig struct {
	Secret string
	Secure bool
	Domain string
	MaxAge int // 秒
}

// NewCookieStore はクライアントIDとリフレッシュトークンを保持する暗号化Cookieストアを生成する。
// 署名鍵と暗号鍵はSecretから導出する。
func NewCookieStore(config CookieConfig) *sessions.CookieStore {
	hashKey := sha256.Sum256([]byte("sign:" + config.Secret))
	blockKey := sha256.Sum256([]byte("encrypt:" + config.Secret))

	store := sessions.NewCookieStore(hashKey[:], blockKey[:])
	store.Options = &sessions.Options{
		Path:     "/",
		Domain:   config.Domain,
		MaxAge:   config.MaxAge,
		HttpOnly: true,
		Secure:   config.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	return store
}

// NewSessionMiddleware はCookieからクライアントを識別し、Workspaceをコンテキストに注入するミドルウェアを返す。
// 認証の有無はここでは判定しない（ガードミドルウェアで行う）。
// トークンの更新やサインイン・サインアウトでリフレッシュトークンが変わった場合は、レスポンスの書き込み前にCookieを更新する。
func NewSessionMiddleware(store sessions.Store, resolver WorkspaceResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 復号できないCookieは新しいセッションとして扱う
			cookie, err := store.Get(r, workspaceCookieName)
			if err != nil {
				slog.Warn("discarding unreadable client cookie",
					slog.String("error", err.Error()),
				)
			}

			clientID, _ := cookie.Values[clientIDKey].(string)
			refreshToken, _ := cookie.Values[refreshTokenKey].(string)

			ws := resolver.Acquire(r.Context(), clientID, refreshToken)
			ws.Sync(r.Context())

			pw := &persistingWriter{
				ResponseWriter: w,
				r:              r,
				cookie:         cookie,
				ws:             ws,
				clientID:       clientID,
				refreshToken:   refreshToken,
			}

			ctx := context.WithValue(r.Context(), workspaceContextKey, ws)
			next.ServeHTTP(pw, r.WithContext(ctx))
			pw.persist()
		})
	}
}

// persistingWriter はヘッダー送信の直前にクライアントCookieを保存する。
type persistingWriter struct {
	http.ResponseWriter
	r            *http.Request
	cookie       *sessions.Session
	ws           *workspace.Workspace
	clientID     string
	refreshToken string
	once         sync.Once
}

func (pw *persistingWriter) WriteHeader(code int) {
	pw.persist()
	pw.ResponseWriter.WriteHeader(code)
}

func (pw *persistingWriter) Write(b []byte) (int, error) {
	pw.persist()
	return pw.ResponseWriter.Write(b)
}

// Unwrap はhttp.ResponseControllerのために元のWriterを返す。
func (pw *persistingWriter) Unwrap() http.ResponseWriter {
	return pw.ResponseWriter
}

func (pw *persistingWriter) persist() {
	pw.once.Do(func() {
		refreshToken := pw.ws.RefreshToken()
		if pw.ws.ID == pw.clientID && refreshToken == pw.refreshToken {
			return
		}

		pw.cookie.Values[clientIDKey] = pw.ws.ID
		if refreshToken != "" {
			pw.cookie.Values[refreshTokenKey] = refreshToken
		} else {
			delete(pw.cookie.Values, refreshTokenKey)
		}
		if err := pw.cookie.Save(pw.r, pw.ResponseWriter); err != nil {
			slog.Error("failed to save client cookie",
				slog.String("workspace_id", pw.ws.ID),
				slog.String("error", err.Error()),
			)
		}
	})
}

// WorkspaceFromContext はリクエストコンテキストからWorkspaceを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func WorkspaceFromContext(ctx context.Context) (*workspace.Workspace, bool) {
	ws, ok := ctx.Value(workspaceContextKey).(*workspace.Workspace)
	return ws, ok && ws != nil
}

// ContextWithWorkspace はコンテキストにWorkspaceを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithWorkspace(ctx context.Context, ws *workspace.Workspace) context.Context {
	return context.WithValue(ctx, workspaceContextKey, ws)
}

// UserIDFromContext はリクエストコンテキストから認証済みユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	ws, ok := WorkspaceFromContext(ctx)
	if !ok {
		return "", fmt.Errorf("workspace not found in context")
	}
	sess := ws.Session()
	if sess == nil || sess.UserID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return sess.UserID, nil
}
