// Package repository はデータ永続化のインターフェースを定義する。
// 実装はリモートストア（PostgREST）のテーブルとRPCを呼び出す。
package repository

import (
	"context"

	"github.com/hitoshi/babyprofile/internal/model"
)

// BabyRepository は赤ちゃんデータの永続化インターフェース。
// すべての操作は所有者のuser_idで絞り込む。
type BabyRepository interface {
	// ListByOwner は所有者の赤ちゃんを作成日時の新しい順で返す。
	ListByOwner(ctx context.Context, userID string) ([]*model.Baby, error)

	// ListNamesByOwner は所有者の赤ちゃんのIDと名前を名前順で返す。
	ListNamesByOwner(ctx context.Context, userID string) ([]model.BabyName, error)

	// FindByID は所有者の赤ちゃんを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id, userID string) (*model.Baby, error)

	// Create は赤ちゃんを作成する。IDの重複はstore.IsUniqueViolationで判別できるエラーを返す。
	Create(ctx context.Context, baby *model.Baby) error

	// Update は赤ちゃん情報を更新する。対象がない場合はstore.ErrNoRowsを返す。
	Update(ctx context.Context, id, userID string, patch model.BabyPatch) error

	// Delete は赤ちゃんを削除する。対象がない場合はstore.ErrNoRowsを返す。
	Delete(ctx context.Context, id, userID string) error
}

// ProfileRepository はプロフィールデータの永続化インターフェース。
type ProfileRepository interface {
	// CountByBaby は赤ちゃんに紐づくプロフィールの件数を返す。採番に使う。
	CountByBaby(ctx context.Context, babyID string) (int, error)

	// Create はプロフィールを作成する。IDの重複は上書きせず一意制約違反を返す。
	Create(ctx context.Context, profile *model.Profile) error

	// ListByBabyAndOwner は所有者のプロフィールを作成日時の新しい順で返す。
	ListByBabyAndOwner(ctx context.Context, babyID, userID string) ([]*model.Profile, error)

	// FindByID は所有者のプロフィールを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id, userID string) (*model.Profile, error)

	// Update はプロフィールの回答を更新する。対象がない場合はstore.ErrNoRowsを返す。
	Update(ctx context.Context, id, userID string, patch model.ProfilePatch) error

	// Delete はプロフィールを削除する。対象がない場合はstore.ErrNoRowsを返す。
	Delete(ctx context.Context, id, userID string) error
}

// AdminUserRepository はユーザーアカウント管理のインターフェース。
// すべて特権プロシージャ経由で行い、権限チェックはストア側で行われる。
type AdminUserRepository interface {
	// ListUsers は全ユーザーを返す。
	ListUsers(ctx context.Context) ([]*model.AdminUser, error)

	// UpdateRole はユーザーのロールを変更する。
	UpdateRole(ctx context.Context, userID, role string) error

	// DeleteUser はユーザーアカウントを削除する。
	DeleteUser(ctx context.Context, userID string) error
}
