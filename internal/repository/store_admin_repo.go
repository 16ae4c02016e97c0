package repository

import (
	"context"
	"fmt"

	"github.com/hitoshi/babyprofile/internal/model"
	"github.com/hitoshi/babyprofile/internal/store"
)

// 特権プロシージャ名
const (
	procListUsers  = "get_all_users_for_admin"
	procUpdateRole = "update_user_role_by_admin"
	procDeleteUser = "delete_user_by_admin"
)

// StoreAdminUserRepo は特権プロシージャを使用したユーザー管理リポジトリ。
type StoreAdminUserRepo struct {
	client *store.Client
}

// NewStoreAdminUserRepo はStoreAdminUserRepoを生成する。
func NewStoreAdminUserRepo(client *store.Client) *StoreAdminUserRepo {
	return &StoreAdminUserRepo{client: client}
}

// ListUsers は全ユーザーを返す。
func (r *StoreAdminUserRepo) ListUsers(ctx context.Context) ([]*model.AdminUser, error) {
	var rows []adminUserRow
	if err := r.client.RPC(ctx, procListUsers, nil, &rows); err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	users := make([]*model.AdminUser, 0, len(rows))
	for _, row := range rows {
		users = append(users, row.toModel())
	}
	return users, nil
}

// UpdateRole はユーザーのロールを変更する。
func (r *StoreAdminUserRepo) UpdateRole(ctx context.Context, userID, role string) error {
	err := r.client.RPC(ctx, procUpdateRole, map[string]string{
		"user_id":  userID,
		"new_role": role,
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to update user role: %w", err)
	}
	return nil
}

// DeleteUser はユーザーアカウントを削除する。
func (r *StoreAdminUserRepo) DeleteUser(ctx context.Context, userID string) error {
	err := r.client.RPC(ctx, procDeleteUser, map[string]string{
		"user_id": userID,
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return nil
}

var _ AdminUserRepository = (*StoreAdminUserRepo)(nil)
