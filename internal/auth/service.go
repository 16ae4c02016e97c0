// Package auth はログイン、ログアウト、OAuthコールバックのフローを提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/babyprofile/internal/model"
	"github.com/hitoshi/babyprofile/internal/store"
	"github.com/hitoshi/babyprofile/internal/validation"
)

// Authenticator はリモート認証サブシステムの操作。store.Authが実装する。
type Authenticator interface {
	SignInWithPassword(ctx context.Context, email, password string) error
	SignInWithOAuth(provider, redirectTo string) (string, error)
	ExchangeCodeForSession(ctx context.Context, code string) error
	GetSession(ctx context.Context) (*model.Session, error)
	SignOut(ctx context.Context) error
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	Provider    string // OAuthプロバイダー名（"google" 等）
	CallbackURL string // OAuth後に戻るURL（/auth-callback）
}

// PasswordInput はパスワードログインの入力。
type PasswordInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	auth     Authenticator
	config   ServiceConfig
	validate *validator.Validate
}

// NewService はServiceを生成する。
func NewService(auth Authenticator, config ServiceConfig) *Service {
	return &Service{
		auth:     auth,
		config:   config,
		validate: validation.New(),
	}
}

// LoginURL はOAuthプロバイダーの認証URLを生成する。
// 結果はブラウザのリダイレクトでのみ観測され、コールバックフローで解決される。
func (s *Service) LoginURL() (string, error) {
	u, err := s.auth.SignInWithOAuth(s.config.Provider, s.config.CallbackURL)
	if err != nil {
		return "", fmt.Errorf("failed to build oauth url: %w", err)
	}
	return u, nil
}

// PasswordLogin はメールアドレスとパスワードでサインインする。
func (s *Service) PasswordLogin(ctx context.Context, in PasswordInput) error {
	if apiErr := validation.Struct(s.validate, in); apiErr != nil {
		return apiErr
	}

	if err := s.auth.SignInWithPassword(ctx, in.Email, in.Password); err != nil {
		var se *store.Error
		if errors.As(err, &se) && (se.Status == http.StatusBadRequest || se.Status == http.StatusUnauthorized) {
			return model.NewInvalidCredentialsError()
		}
		return store.ToAPIError(err)
	}

	slog.Info("user signed in with password")
	return nil
}

// Logout はサインアウトする。ローカルのセッションはリモートの失敗に関わらず破棄される。
func (s *Service) Logout(ctx context.Context) error {
	if err := s.auth.SignOut(ctx); err != nil {
		return store.ToAPIError(err)
	}
	return nil
}
