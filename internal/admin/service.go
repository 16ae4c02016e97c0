// Package admin はユーザーアカウント管理のドメインロジックを提供する。
//
// 操作はすべてストアの特権プロシージャを経由する。管理者かどうかの判定は
// プロシージャ側で行われ、画面のアクセスガードは補助にすぎない。
package admin

import (
	"context"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/babyprofile/internal/confirm"
	"github.com/hitoshi/babyprofile/internal/model"
	"github.com/hitoshi/babyprofile/internal/repository"
	"github.com/hitoshi/babyprofile/internal/store"
	"github.com/hitoshi/babyprofile/internal/validation"
)

// DeleteAction は削除確認トークンの操作名。
const DeleteAction = "user.delete"

// SessionReader は現在のセッションを返す。
type SessionReader interface {
	Current() *model.Session
}

// RoleInput はロール変更の内容。
type RoleInput struct {
	Role string `json:"role" validate:"required,oneof=admin user"`
}

// Service はユーザー管理のサービス層。
type Service struct {
	repo     repository.AdminUserRepository
	sessions SessionReader
	confirm  *confirm.Issuer
	validate *validator.Validate
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(repo repository.AdminUserRepository, sessions SessionReader, issuer *confirm.Issuer) *Service {
	return &Service{
		repo:     repo,
		sessions: sessions,
		confirm:  issuer,
		validate: validation.New(),
	}
}

// ListUsers は全ユーザーを返す。ロール未設定のユーザーは "user" として扱う。
func (s *Service) ListUsers(ctx context.Context) ([]*model.AdminUser, error) {
	if _, err := s.session(); err != nil {
		return nil, err
	}

	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return nil, store.ToAPIError(err)
	}
	for _, u := range users {
		if u.Role == "" {
			u.Role = model.RoleUser
		}
	}
	return users, nil
}

// UpdateRole はユーザーのロールを変更する。
func (s *Service) UpdateRole(ctx context.Context, userID string, in RoleInput) error {
	sess, err := s.session()
	if err != nil {
		return err
	}
	if userID == "" {
		return model.NewValidationError("user_idは必須です")
	}
	if apiErr := validation.Struct(s.validate, in); apiErr != nil {
		return apiErr
	}

	if err := s.repo.UpdateRole(ctx, userID, in.Role); err != nil {
		return store.ToAPIError(err)
	}

	slog.Info("ユーザーのロールを変更しました",
		slog.String("user_id", userID),
		slog.String("role", in.Role),
		slog.String("actor", sess.ActorName()),
	)
	return nil
}

// RequestDelete はユーザー削除の確認トークンを発行する。
func (s *Service) RequestDelete(ctx context.Context, userID string) (string, error) {
	if _, err := s.session(); err != nil {
		return "", err
	}
	if userID == "" {
		return "", model.NewValidationError("user_idは必須です")
	}

	token, err := s.confirm.Issue(DeleteAction, userID)
	if err != nil {
		return "", model.NewRemoteFailureError(err.Error())
	}
	return token, nil
}

// DeleteUser は確認済みのユーザーアカウントを削除する。
func (s *Service) DeleteUser(ctx context.Context, userID, token string) error {
	sess, err := s.session()
	if err != nil {
		return err
	}
	if err := s.confirm.Redeem(DeleteAction, userID, token); err != nil {
		return model.NewConfirmationRequiredError()
	}

	if err := s.repo.DeleteUser(ctx, userID); err != nil {
		return store.ToAPIError(err)
	}

	slog.Info("ユーザーを削除しました",
		slog.String("user_id", userID),
		slog.String("actor", sess.ActorName()),
	)
	return nil
}

func (s *Service) session() (*model.Session, error) {
	sess := s.sessions.Current()
	if sess == nil {
		return nil, model.NewUnauthenticatedError()
	}
	return sess, nil
}
