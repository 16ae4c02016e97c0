// Package workspace はブラウザクライアントごとの作業領域を管理する。
//
// 1つのWorkspaceは1つのセッションマネージャーとストアクライアントを持ち、
// その上にエンティティマネージャーを構成する。
package workspace

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hitoshi/babyprofile/internal/admin"
	"github.com/hitoshi/babyprofile/internal/auth"
	"github.com/hitoshi/babyprofile/internal/baby"
	"github.com/hitoshi/babyprofile/internal/busy"
	"github.com/hitoshi/babyprofile/internal/confirm"
	"github.com/hitoshi/babyprofile/internal/identity"
	"github.com/hitoshi/babyprofile/internal/model"
	"github.com/hitoshi/babyprofile/internal/profile"
	"github.com/hitoshi/babyprofile/internal/repository"
	"github.com/hitoshi/babyprofile/internal/security"
	"github.com/hitoshi/babyprofile/internal/session"
	"github.com/hitoshi/babyprofile/internal/store"
)

// Metrics はWorkspaceが記録するメトリクス。
type Metrics interface {
	RecordSessionEvent(event string)
	RecordAllocationConflict()
	SetActiveWorkspaces(n int)
}

// Config はWorkspaceの生成設定。
type Config struct {
	OAuthProvider         string
	CallbackURL           string
	CallbackDelay         time.Duration
	MaxAllocationAttempts int
	ConfirmTTL            time.Duration
	IdleTimeout           time.Duration
	CleanupInterval       time.Duration
}

// Deps はすべてのWorkspaceで共有する依存。
type Deps struct {
	Transport *store.Transport
	Verifier  *store.TokenVerifier // nilの場合はトークンのクレームを検証しない
	Sanitizer security.TextSanitizer
	Metrics   Metrics
	Logger    *slog.Logger
	Now       func() time.Time
}

// Workspace は1つのブラウザクライアントの状態。
type Workspace struct {
	ID       string
	Client   *store.Client
	Sessions *session.Manager
	Auth     *auth.Service
	Callback *auth.CallbackFlow
	Babies   *baby.Service
	Profiles *profile.Service
	Admin    *admin.Service
	Busy     *busy.Gate

	confirmations *confirm.Issuer
	unsubscribe   func()
	lastAccess    atomic.Int64
}

// newWorkspace はWorkspaceを構成する。refreshTokenは前回のCookieから復元したもの。
func newWorkspace(id, refreshToken string, cfg Config, deps Deps) *Workspace {
	var recorder identity.ConflictRecorder
	var observer session.Observer
	if deps.Metrics != nil {
		recorder = deps.Metrics
		observer = deps.Metrics
	}

	storeAuth := store.NewAuth(deps.Transport, store.AuthOptions{
		Verifier:     deps.Verifier,
		RefreshToken: refreshToken,
		Now:          deps.Now,
	})
	client := store.NewClient(deps.Transport, storeAuth)
	logger := deps.Logger.With(slog.String("workspace_id", id))
	sessions := session.NewManager(storeAuth, observer, logger)
	issuer := confirm.NewIssuer(cfg.ConfirmTTL)

	babyRepo := repository.NewStoreBabyRepo(client)
	profileRepo := repository.NewStoreProfileRepo(client)
	adminRepo := repository.NewStoreAdminUserRepo(client)

	ws := &Workspace{
		ID:       id,
		Client:   client,
		Sessions: sessions,
		Auth: auth.NewService(storeAuth, auth.ServiceConfig{
			Provider:    cfg.OAuthProvider,
			CallbackURL: cfg.CallbackURL,
		}),
		Callback: auth.NewCallbackFlow(storeAuth, cfg.CallbackDelay, logger),
		Babies:   baby.NewService(babyRepo, sessions, deps.Sanitizer, issuer, deps.Now),
		Profiles: profile.NewService(
			profileRepo,
			babyRepo,
			sessions,
			identity.NewAllocator(cfg.MaxAllocationAttempts, recorder, logger),
			deps.Sanitizer,
			issuer,
			deps.Now,
		),
		Admin: admin.NewService(adminRepo, sessions, issuer),
		Busy:  busy.NewGate(),

		confirmations: issuer,
	}
	// サインアウトすると発行済みの削除確認は使えなくなる
	ws.unsubscribe = sessions.Subscribe(func(sess *model.Session) {
		if sess == nil {
			issuer.Reset()
		}
	})
	return ws
}

// Session は現在のセッションを返す。
func (w *Workspace) Session() *model.Session {
	return w.Sessions.Current()
}

// RefreshToken はCookieに保存するリフレッシュトークンを返す。
func (w *Workspace) RefreshToken() string {
	return w.Client.Auth().RefreshToken()
}

// Sync は期限の近いアクセストークンを更新する。
// 更新の結果はセッション変更通知としてManagerに届く。
func (w *Workspace) Sync(ctx context.Context) {
	if w.Sessions.Current() == nil {
		return
	}
	if _, err := w.Client.Auth().GetSession(ctx); err != nil {
		slog.Warn("failed to refresh session",
			slog.String("workspace_id", w.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (w *Workspace) touch(now time.Time) {
	w.lastAccess.Store(now.UnixNano())
}

func (w *Workspace) idleSince(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, w.lastAccess.Load()))
}

func (w *Workspace) close() {
	w.unsubscribe()
	w.Sessions.Close()
}
