package middleware

import (
	"log/slog"
	"net/http"

	"github.com/hitoshi/babyprofile/internal/guard"
	"github.com/hitoshi/babyprofile/internal/model"
)

// DecisionRecorder はガードの判定結果を記録する。
type DecisionRecorder interface {
	RecordGuardDecision(outcome string)
}

// NewPageGuardMiddleware は画面ルートのアクセスガードを返す。
// 要件はパスから決まり、拒否時はログイン画面またはダッシュボードへリダイレクトする。
// 判定はキャッシュせず、リクエストごとに現在のセッションで行う。
func NewPageGuardMiddleware(recorder DecisionRecorder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := decide(r, guard.RequirementFor(r.URL.Path), recorder)
			if !d.Allowed() {
				http.Redirect(w, r, d.Redirect, http.StatusSeeOther)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAccess はAPIルートのアクセスガードを返す。
// 拒否時はリダイレクトせず、401または403のJSONを返す。
func RequireAccess(req guard.Requirement, recorder DecisionRecorder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := decide(r, req, recorder)
			if !d.Allowed() {
				WriteAPIError(w, d.Err())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func decide(r *http.Request, req guard.Requirement, recorder DecisionRecorder) guard.Decision {
	var sess *model.Session
	if ws, ok := WorkspaceFromContext(r.Context()); ok {
		sess = ws.Session()
	}

	d := guard.Decide(sess, req)
	if recorder != nil {
		recorder.RecordGuardDecision(d.Outcome.String())
	}
	if !d.Allowed() {
		slog.Info("access denied",
			slog.String("path", r.URL.Path),
			slog.String("outcome", d.Outcome.String()),
		)
	}
	return d
}
