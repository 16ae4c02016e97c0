package repository

import (
	"context"
	"fmt"

	"github.com/hitoshi/babyprofile/internal/model"
	"github.com/hitoshi/babyprofile/internal/store"
)

const profilesTable = "profiles"

// StoreProfileRepo はリモートストアを使用したプロフィールリポジトリ。
type StoreProfileRepo struct {
	client *store.Client
}

// NewStoreProfileRepo はStoreProfileRepoを生成する。
func NewStoreProfileRepo(client *store.Client) *StoreProfileRepo {
	return &StoreProfileRepo{client: client}
}

// CountByBaby は赤ちゃんに紐づくプロフィールの件数を返す。
// 所有者では絞り込まない。
func (r *StoreProfileRepo) CountByBaby(ctx context.Context, babyID string) (int, error) {
	n, err := r.client.From(profilesTable).
		Select().
		Eq("baby_id", babyID).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count profiles: %w", err)
	}
	return n, nil
}

// Create はプロフィールを作成する。
func (r *StoreProfileRepo) Create(ctx context.Context, profile *model.Profile) error {
	if err := r.client.From(profilesTable).Insert(ctx, newProfileRow(profile)); err != nil {
		return fmt.Errorf("failed to insert profile: %w", err)
	}
	return nil
}

// ListByBabyAndOwner は所有者のプロフィールを作成日時の新しい順で返す。
func (r *StoreProfileRepo) ListByBabyAndOwner(ctx context.Context, babyID, userID string) ([]*model.Profile, error) {
	var rows []profileRow
	err := r.client.From(profilesTable).
		Select().
		Eq("baby_id", babyID).
		Eq("user_id", userID).
		Order("created_at", store.Descending).
		Execute(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}

	profiles := make([]*model.Profile, 0, len(rows))
	for _, row := range rows {
		p, err := row.toModel()
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, nil
}

// FindByID は所有者のプロフィールを取得する。見つからない場合はnilを返す。
func (r *StoreProfileRepo) FindByID(ctx context.Context, id, userID string) (*model.Profile, error) {
	var rows []profileRow
	err := r.client.From(profilesTable).
		Select().
		Eq("id", id).
		Eq("user_id", userID).
		Execute(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("failed to find profile by ID: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].toModel()
}

// Update はプロフィールの回答を更新する。
func (r *StoreProfileRepo) Update(ctx context.Context, id, userID string, patch model.ProfilePatch) error {
	err := r.client.From(profilesTable).
		Update(map[string]any{
			"profile_data": patch.Answers,
			"updated_at":   model.FormatTimestamp(patch.UpdatedAt),
			"updated_by":   patch.UpdatedBy,
		}).
		Eq("id", id).
		Eq("user_id", userID).
		Execute(ctx)
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	return nil
}

// Delete はプロフィールを削除する。
func (r *StoreProfileRepo) Delete(ctx context.Context, id, userID string) error {
	err := r.client.From(profilesTable).
		Delete().
		Eq("id", id).
		Eq("user_id", userID).
		Execute(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete profile: %w", err)
	}
	return nil
}

var _ ProfileRepository = (*StoreProfileRepo)(nil)
