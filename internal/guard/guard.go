// Package guard はルートへのアクセス可否を判定する。
// 判定はUI上の利便のためのもので、権限の最終的な境界はストア側の特権プロシージャにある。
package guard

import "github.com/hitoshi/babyprofile/internal/model"

// 遷移先
const (
	LoginPath     = "/login"
	DashboardPath = "/dashboard"
)

// Outcome は判定結果の種類。
type Outcome int

const (
	Allow Outcome = iota
	RedirectUnauthenticated
	RedirectForbidden
)

// String はメトリクス・ログ用の名前を返す。
func (o Outcome) String() string {
	switch o {
	case Allow:
		return "allow"
	case RedirectUnauthenticated:
		return "unauthenticated"
	case RedirectForbidden:
		return "forbidden"
	default:
		return "unknown"
	}
}

// Requirement はルートのアクセス要件。
type Requirement struct {
	Auth  bool
	Admin bool
}

var (
	// Public は要件なし。
	Public = Requirement{}
	// Authenticated はログイン済みであること。
	Authenticated = Requirement{Auth: true}
	// AdminOnly はadminロールであること。
	AdminOnly = Requirement{Auth: true, Admin: true}
)

// Decision は判定結果。RedirectはAllow以外で設定される。
type Decision struct {
	Outcome  Outcome
	Redirect string
}

// Allowed はアクセスを許可するかを返す。
func (d Decision) Allowed() bool {
	return d.Outcome == Allow
}

// Decide はセッションと要件からアクセス可否を判定する。状態を持たない。
//   - セッションなし: ログインへ（admin要件の有無に関係なく）
//   - admin要件かつロールがadmin以外: ダッシュボードへ
//   - それ以外: 許可
func Decide(sess *model.Session, req Requirement) Decision {
	if !req.Auth && !req.Admin {
		return Decision{Outcome: Allow}
	}
	if sess == nil {
		return Decision{Outcome: RedirectUnauthenticated, Redirect: LoginPath}
	}
	if req.Admin && sess.Role != model.RoleAdmin {
		return Decision{Outcome: RedirectForbidden, Redirect: DashboardPath}
	}
	return Decision{Outcome: Allow}
}

// Err は判定結果をAPI向けのエラーに変換する。許可の場合はnil。
func (d Decision) Err() *model.APIError {
	switch d.Outcome {
	case RedirectUnauthenticated:
		return model.NewUnauthenticatedError()
	case RedirectForbidden:
		return model.NewForbiddenError()
	default:
		return nil
	}
}
