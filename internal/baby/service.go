// Package baby は赤ちゃん管理のドメインロジックを提供する。
package baby

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/babyprofile/internal/confirm"
	"github.com/hitoshi/babyprofile/internal/identity"
	"github.com/hitoshi/babyprofile/internal/model"
	"github.com/hitoshi/babyprofile/internal/repository"
	"github.com/hitoshi/babyprofile/internal/security"
	"github.com/hitoshi/babyprofile/internal/store"
	"github.com/hitoshi/babyprofile/internal/validation"
)

// DeleteAction は削除確認トークンの操作名。
const DeleteAction = "baby.delete"

const kind = "赤ちゃん"

// SessionReader は現在のセッションを返す。
type SessionReader interface {
	Current() *model.Session
}

// Input は赤ちゃんの登録・更新内容。
type Input struct {
	Name string `json:"name" validate:"required,max=100"`
	DOB  string `json:"dob" validate:"required,datetime=2006-01-02"`
	Note string `json:"note" validate:"max=2000"`
}

// Service は赤ちゃん管理のサービス層。
// すべての操作は現在のセッションの所有者に限定される。
type Service struct {
	repo      repository.BabyRepository
	sessions  SessionReader
	sanitizer security.TextSanitizer
	confirm   *confirm.Issuer
	validate  *validator.Validate
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
// nowがnilの場合はtime.Nowを使う。
func NewService(
	repo repository.BabyRepository,
	sessions SessionReader,
	sanitizer security.TextSanitizer,
	issuer *confirm.Issuer,
	now func() time.Time,
) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo:      repo,
		sessions:  sessions,
		sanitizer: sanitizer,
		confirm:   issuer,
		validate:  validation.New(),
		now:       now,
	}
}

// List は自分の赤ちゃんを登録の新しい順で返す。
func (s *Service) List(ctx context.Context) ([]*model.Baby, error) {
	sess, err := s.session()
	if err != nil {
		return nil, err
	}

	babies, err := s.repo.ListByOwner(ctx, sess.UserID)
	if err != nil {
		return nil, store.ToAPIError(err)
	}
	return babies, nil
}

// ListNames は選択肢用に自分の赤ちゃんのIDと名前を名前順で返す。
func (s *Service) ListNames(ctx context.Context) ([]model.BabyName, error) {
	sess, err := s.session()
	if err != nil {
		return nil, err
	}

	names, err := s.repo.ListNamesByOwner(ctx, sess.UserID)
	if err != nil {
		return nil, store.ToAPIError(err)
	}
	return names, nil
}

// Get は自分の赤ちゃんを1件返す。
func (s *Service) Get(ctx context.Context, id string) (*model.Baby, error) {
	sess, err := s.session()
	if err != nil {
		return nil, err
	}
	return s.find(ctx, id, sess.UserID)
}

// Create は赤ちゃんを登録する。
// IDは名前と生年月日から導出し、既存IDとの衝突はDUPLICATE_IDENTITYになる。
func (s *Service) Create(ctx context.Context, in Input) (*model.Baby, error) {
	sess, err := s.session()
	if err != nil {
		return nil, err
	}
	if apiErr := validation.Struct(s.validate, in); apiErr != nil {
		return nil, apiErr
	}

	name := identity.Normalize(in.Name)
	id, err := identity.BabyID(name, in.DOB)
	if err != nil {
		return nil, model.NewValidationError(err.Error())
	}

	now := s.now()
	actor := sess.ActorName()
	baby := &model.Baby{
		ID:        id,
		UserID:    sess.UserID,
		Name:      name,
		DOB:       in.DOB,
		Note:      s.sanitizer.Sanitize(in.Note),
		CreatedAt: now,
		CreatedBy: actor,
		UpdatedAt: now,
		UpdatedBy: actor,
	}

	if err := s.repo.Create(ctx, baby); err != nil {
		if store.IsUniqueViolation(err) {
			return nil, model.NewDuplicateIdentityError(id)
		}
		return nil, store.ToAPIError(err)
	}

	slog.Info("赤ちゃんを登録しました",
		slog.String("baby_id", id),
		slog.String("user_id", sess.UserID),
	)
	return baby, nil
}

// Update は赤ちゃんの名前・生年月日・メモを更新する。IDは再導出しない。
func (s *Service) Update(ctx context.Context, id string, in Input) (*model.Baby, error) {
	sess, err := s.session()
	if err != nil {
		return nil, err
	}
	if apiErr := validation.Struct(s.validate, in); apiErr != nil {
		return nil, apiErr
	}
	name := identity.Normalize(in.Name)
	if name == "" {
		return nil, model.NewValidationError(identity.ErrEmptyName.Error())
	}
	if err := identity.ValidateDOB(in.DOB); err != nil {
		return nil, model.NewValidationError(err.Error())
	}

	patch := model.BabyPatch{
		Name:      name,
		DOB:       in.DOB,
		Note:      s.sanitizer.Sanitize(in.Note),
		UpdatedAt: s.now(),
		UpdatedBy: sess.ActorName(),
	}
	if err := s.repo.Update(ctx, id, sess.UserID, patch); err != nil {
		return nil, s.mutationError(err, id)
	}

	return s.find(ctx, id, sess.UserID)
}

// RequestDelete は削除対象を確認し、削除確認トークンを発行する。
func (s *Service) RequestDelete(ctx context.Context, id string) (string, error) {
	sess, err := s.session()
	if err != nil {
		return "", err
	}
	if _, err := s.find(ctx, id, sess.UserID); err != nil {
		return "", err
	}

	token, err := s.confirm.Issue(DeleteAction, id)
	if err != nil {
		return "", model.NewRemoteFailureError(err.Error())
	}
	return token, nil
}

// Delete は確認済みの赤ちゃんを削除する。
// トークンが有効でない場合はストアに要求を送らない。
func (s *Service) Delete(ctx context.Context, id, token string) error {
	sess, err := s.session()
	if err != nil {
		return err
	}
	if err := s.confirm.Redeem(DeleteAction, id, token); err != nil {
		return model.NewConfirmationRequiredError()
	}

	if err := s.repo.Delete(ctx, id, sess.UserID); err != nil {
		return s.mutationError(err, id)
	}

	slog.Info("赤ちゃんを削除しました",
		slog.String("baby_id", id),
		slog.String("user_id", sess.UserID),
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

func (s *Service) find(ctx context.Context, id, userID string) (*model.Baby, error) {
	baby, err := s.repo.FindByID(ctx, id, userID)
	if err != nil {
		return nil, store.ToAPIError(err)
	}
	if baby == nil {
		return nil, model.NewNotFoundError(kind, id)
	}
	return baby, nil
}

func (s *Service) mutationError(err error, id string) error {
	if errors.Is(err, store.ErrNoRows) {
		return model.NewNotFoundError(kind, id)
	}
	return store.ToAPIError(err)
}
