// Package profile はプロフィール（定期評価）管理のドメインロジックを提供する。
package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

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
const DeleteAction = "profile.delete"

const kind = "プロフィール"

// 回答の上限
const (
	maxAnswers      = 200
	maxKeyLength    = 100
	maxAnswerLength = 2000
)

// SessionReader は現在のセッションを返す。
type SessionReader interface {
	Current() *model.Session
}

// BabyFinder は所有者の赤ちゃんを取得する。
type BabyFinder interface {
	FindByID(ctx context.Context, id, userID string) (*model.Baby, error)
}

// CreateInput はプロフィールの登録内容。
type CreateInput struct {
	BabyID  string        `json:"baby_id" validate:"required"`
	Answers model.Answers `json:"answers" validate:"required"`
}

// UpdateInput はプロフィールの更新内容。
type UpdateInput struct {
	Answers model.Answers `json:"answers" validate:"required"`
}

// Service はプロフィール管理のサービス層。
type Service struct {
	repo      repository.ProfileRepository
	babies    BabyFinder
	sessions  SessionReader
	allocator *identity.Allocator
	sanitizer security.TextSanitizer
	confirm   *confirm.Issuer
	validate  *validator.Validate
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	repo repository.ProfileRepository,
	babies BabyFinder,
	sessions SessionReader,
	allocator *identity.Allocator,
	sanitizer security.TextSanitizer,
	issuer *confirm.Issuer,
	now func() time.Time,
) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo:      repo,
		babies:    babies,
		sessions:  sessions,
		allocator: allocator,
		sanitizer: sanitizer,
		confirm:   issuer,
		validate:  validation.New(),
		now:       now,
	}
}

// Create は自分の赤ちゃんにプロフィールを追加する。
// IDは "{baby_id}_{n}" で、採番の競合は件数を取り直して再試行する。
func (s *Service) Create(ctx context.Context, in CreateInput) (*model.Profile, error) {
	sess, err := s.session()
	if err != nil {
		return nil, err
	}
	if apiErr := validation.Struct(s.validate, in); apiErr != nil {
		return nil, apiErr
	}
	answers, apiErr := s.cleanAnswers(in.Answers)
	if apiErr != nil {
		return nil, apiErr
	}

	baby, err := s.babies.FindByID(ctx, in.BabyID, sess.UserID)
	if err != nil {
		return nil, store.ToAPIError(err)
	}
	if baby == nil {
		return nil, model.NewNotFoundError("赤ちゃん", in.BabyID)
	}

	now := s.now()
	actor := sess.ActorName()
	var created *model.Profile

	insert := func(ctx context.Context, id string) error {
		p := &model.Profile{
			ID:        id,
			BabyID:    baby.ID,
			UserID:    sess.UserID,
			Answers:   answers,
			CreatedAt: now,
			CreatedBy: actor,
			UpdatedAt: now,
			UpdatedBy: actor,
		}
		if err := s.repo.Create(ctx, p); err != nil {
			return err
		}
		created = p
		return nil
	}

	id, err := s.allocator.AllocateProfile(ctx, baby.ID, s.repo.CountByBaby, insert)
	if err != nil {
		var conflict *identity.ConflictError
		if errors.As(err, &conflict) {
			return nil, model.NewTransientAllocationConflictError(baby.ID)
		}
		return nil, store.ToAPIError(err)
	}

	slog.Info("プロフィールを登録しました",
		slog.String("profile_id", id),
		slog.String("user_id", sess.UserID),
	)
	return created, nil
}

// ListByBaby は自分の赤ちゃんのプロフィール履歴を新しい順で返す。
func (s *Service) ListByBaby(ctx context.Context, babyID string) ([]*model.Profile, error) {
	sess, err := s.session()
	if err != nil {
		return nil, err
	}

	profiles, err := s.repo.ListByBabyAndOwner(ctx, babyID, sess.UserID)
	if err != nil {
		return nil, store.ToAPIError(err)
	}
	return profiles, nil
}

// Get は自分のプロフィールを1件返す。閲覧と印刷に使う。
func (s *Service) Get(ctx context.Context, id string) (*model.Profile, error) {
	sess, err := s.session()
	if err != nil {
		return nil, err
	}
	return s.find(ctx, id, sess.UserID)
}

// Update はプロフィールの回答を置き換える。
func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (*model.Profile, error) {
	sess, err := s.session()
	if err != nil {
		return nil, err
	}
	if apiErr := validation.Struct(s.validate, in); apiErr != nil {
		return nil, apiErr
	}
	answers, apiErr := s.cleanAnswers(in.Answers)
	if apiErr != nil {
		return nil, apiErr
	}

	patch := model.ProfilePatch{
		Answers:   answers,
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

// Delete は確認済みのプロフィールを削除する。
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

	slog.Info("プロフィールを削除しました",
		slog.String("profile_id", id),
		slog.String("user_id", sess.UserID),
	)
	return nil
}

// cleanAnswers は回答が数値または文字列であることを検証し、文字列を無害化する。
func (s *Service) cleanAnswers(in model.Answers) (model.Answers, *model.APIError) {
	if len(in) > maxAnswers {
		return nil, model.NewValidationError(fmt.Sprintf("回答は%d件以内にしてください", maxAnswers))
	}

	out := make(model.Answers, len(in))
	for key, v := range in {
		if key == "" || utf8.RuneCountInString(key) > maxKeyLength {
			return nil, model.NewValidationError(fmt.Sprintf("質問キーが不正です: %q", key))
		}
		switch val := v.(type) {
		case string:
			if utf8.RuneCountInString(val) > maxAnswerLength {
				return nil, model.NewValidationError(fmt.Sprintf("%sは%d文字以内で入力してください", key, maxAnswerLength))
			}
			out[key] = s.sanitizer.Sanitize(val)
		case float64, int, int64:
			out[key] = val
		case json.Number:
			f, err := val.Float64()
			if err != nil {
				return nil, model.NewValidationError(fmt.Sprintf("%sの数値が不正です", key))
			}
			out[key] = f
		default:
			return nil, model.NewValidationError(fmt.Sprintf("%sは数値または文字列で回答してください", key))
		}
	}
	return out, nil
}

func (s *Service) session() (*model.Session, error) {
	sess := s.sessions.Current()
	if sess == nil {
		return nil, model.NewUnauthenticatedError()
	}
	return sess, nil
}

func (s *Service) find(ctx context.Context, id, userID string) (*model.Profile, error) {
	p, err := s.repo.FindByID(ctx, id, userID)
	if err != nil {
		return nil, store.ToAPIError(err)
	}
	if p == nil {
		return nil, model.NewNotFoundError(kind, id)
	}
	return p, nil
}

func (s *Service) mutationError(err error, id string) error {
	if errors.Is(err, store.ErrNoRows) {
		return model.NewNotFoundError(kind, id)
	}
	return store.ToAPIError(err)
}
