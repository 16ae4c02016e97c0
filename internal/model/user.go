// Package model はドメインモデルを定義する。
package model

import "time"

// ロール
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// Session は認証済みプリンシパルを表す。
// 生成後は変更しない。差し替えは新しい値で丸ごと行う。
type Session struct {
	UserID       string
	Email        string
	Role         string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// IsAdmin はロールクレームがadminかどうかを返す。
func (s *Session) IsAdmin() bool {
	return s != nil && s.Role == RoleAdmin
}

// Expired は指定時刻においてトークンが失効しているかを返す。
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// ActorName は作成者・更新者として記録する名前を返す。
func (s *Session) ActorName() string {
	if s == nil || s.Email == "" {
		return "Unknown User"
	}
	return s.Email
}

// AdminUser は管理画面に表示するユーザーアカウントを表す。
type AdminUser struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	Role         string     `json:"role"`
	CreatedAt    time.Time  `json:"created_at"`
	LastSignInAt *time.Time `json:"last_sign_in_at,omitempty"`
}
