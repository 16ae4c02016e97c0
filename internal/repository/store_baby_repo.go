package repository

import (
	"context"
	"fmt"

	"github.com/hitoshi/babyprofile/internal/model"
	"github.com/hitoshi/babyprofile/internal/store"
)

const babiesTable = "babies"

// StoreBabyRepo はリモートストアを使用した赤ちゃんリポジトリ。
type StoreBabyRepo struct {
	client *store.Client
}

// NewStoreBabyRepo はStoreBabyRepoを生成する。
func NewStoreBabyRepo(client *store.Client) *StoreBabyRepo {
	return &StoreBabyRepo{client: client}
}

// ListByOwner は所有者の赤ちゃんを作成日時の新しい順で返す。
func (r *StoreBabyRepo) ListByOwner(ctx context.Context, userID string) ([]*model.Baby, error) {
	var rows []babyRow
	err := r.client.From(babiesTable).
		Select().
		Eq("user_id", userID).
		Order("created_at", store.Descending).
		Execute(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("failed to list babies: %w", err)
	}

	babies := make([]*model.Baby, 0, len(rows))
	for _, row := range rows {
		b, err := row.toModel()
		if err != nil {
			return nil, err
		}
		babies = append(babies, b)
	}
	return babies, nil
}

// ListNamesByOwner は所有者の赤ちゃんのIDと名前を名前順で返す。
func (r *StoreBabyRepo) ListNamesByOwner(ctx context.Context, userID string) ([]model.BabyName, error) {
	var names []model.BabyName
	err := r.client.From(babiesTable).
		Select("id", "name").
		Eq("user_id", userID).
		Order("name", store.Ascending).
		Execute(ctx, &names)
	if err != nil {
		return nil, fmt.Errorf("failed to list baby names: %w", err)
	}
	if names == nil {
		names = []model.BabyName{}
	}
	return names, nil
}

// FindByID は所有者の赤ちゃんを取得する。見つからない場合はnilを返す。
func (r *StoreBabyRepo) FindByID(ctx context.Context, id, userID string) (*model.Baby, error) {
	var rows []babyRow
	err := r.client.From(babiesTable).
		Select().
		Eq("id", id).
		Eq("user_id", userID).
		Execute(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("failed to find baby by ID: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].toModel()
}

// Create は赤ちゃんを作成する。
func (r *StoreBabyRepo) Create(ctx context.Context, baby *model.Baby) error {
	if err := r.client.From(babiesTable).Insert(ctx, newBabyRow(baby)); err != nil {
		return fmt.Errorf("failed to insert baby: %w", err)
	}
	return nil
}

// Update は赤ちゃん情報を更新する。
func (r *StoreBabyRepo) Update(ctx context.Context, id, userID string, patch model.BabyPatch) error {
	err := r.client.From(babiesTable).
		Update(map[string]string{
			"name":       patch.Name,
			"dob":        patch.DOB,
			"note":       patch.Note,
			"updated_at": model.FormatTimestamp(patch.UpdatedAt),
			"updated_by": patch.UpdatedBy,
		}).
		Eq("id", id).
		Eq("user_id", userID).
		Execute(ctx)
	if err != nil {
		return fmt.Errorf("failed to update baby: %w", err)
	}
	return nil
}

// Delete は赤ちゃんを削除する。
func (r *StoreBabyRepo) Delete(ctx context.Context, id, userID string) error {
	err := r.client.From(babiesTable).
		Delete().
		Eq("id", id).
		Eq("user_id", userID).
		Execute(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete baby: %w", err)
	}
	return nil
}

var _ BabyRepository = (*StoreBabyRepo)(nil)
