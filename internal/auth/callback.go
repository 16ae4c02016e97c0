package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/babyprofile/internal/guard"
)

// CallbackState はOAuthコールバックフローの状態。
type CallbackState string

const (
	StateAwaitingSession CallbackState = "AWAITING_SESSION"
	StateAuthenticated   CallbackState = "AUTHENTICATED"
	StateFailed          CallbackState = "FAILED"
)

// DefaultRedirectDelay は失敗時にログイン画面へ戻るまでの既定の待ち時間。
const DefaultRedirectDelay = 3 * time.Second

// FailureMessage は失敗時に表示するメッセージ。
const FailureMessage = "Authentication failed or cancelled."

// Outcome はコールバックフローの結果。
type Outcome struct {
	State    CallbackState
	Redirect string
	Delay    time.Duration // FAILED のときのみ非ゼロ
	Message  string
	Err      error
}

// CallbackFlow はOAuthの戻り処理を行う。
// AWAITING_SESSION から AUTHENTICATED か FAILED のどちらかに1回だけ遷移し、再試行しない。
type CallbackFlow struct {
	auth   Authenticator
	delay  time.Duration
	logger *slog.Logger
}

// NewCallbackFlow はCallbackFlowを生成する。delayが0以下の場合は既定値を使う。
func NewCallbackFlow(auth Authenticator, delay time.Duration, logger *slog.Logger) *CallbackFlow {
	if delay <= 0 {
		delay = DefaultRedirectDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CallbackFlow{auth: auth, delay: delay, logger: logger}
}

// Run はコールバックを処理する。
// providerErrorはプロバイダーがクエリで返したエラー。codeがあればセッションに交換してから現在のセッションを取得する。
func (f *CallbackFlow) Run(ctx context.Context, code, providerError string) Outcome {
	if providerError != "" {
		f.logger.Warn("oauth provider returned error", slog.String("error", providerError))
		return f.failed(nil)
	}

	if code != "" {
		if err := f.auth.ExchangeCodeForSession(ctx, code); err != nil {
			f.logger.Warn("failed to exchange oauth code", slog.String("error", err.Error()))
			return f.failed(err)
		}
	}

	sess, err := f.auth.GetSession(ctx)
	if err != nil {
		f.logger.Warn("failed to get session after oauth callback", slog.String("error", err.Error()))
		return f.failed(err)
	}
	if sess == nil {
		return f.failed(nil)
	}

	f.logger.Info("oauth sign-in completed", slog.String("user_id", sess.UserID))
	return Outcome{
		State:    StateAuthenticated,
		Redirect: guard.DashboardPath,
	}
}

func (f *CallbackFlow) failed(err error) Outcome {
	return Outcome{
		State:    StateFailed,
		Redirect: guard.LoginPath,
		Delay:    f.delay,
		Message:  FailureMessage,
		Err:      err,
	}
}
