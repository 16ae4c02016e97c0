package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
)

// requiredTables はマイグレーション後に存在すべきテーブル。
var requiredTables = []string{"babies", "profiles"}

// requiredProcedures は管理画面が呼び出す特権プロシージャ。
var requiredProcedures = []string{
	"delete_user_by_admin",
	"get_all_users_for_admin",
	"update_user_role_by_admin",
}

// Open はPostgreSQLデータベース接続を開く。
// sql.Openは接続を試行しないため、実際の接続確認にはdb.Ping()を使用すること。
func Open(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return db, nil
}

// CheckSchema はアプリケーションが必要とするテーブルとプロシージャが揃っているかを確認する。
func CheckSchema(ctx context.Context, db *sql.DB) error {
	var missing []string

	for _, table := range requiredTables {
		var exists bool
		err := db.QueryRowContext(ctx,
			"SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_schema = 'public' AND table_name = $1)",
			table,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check table %s: %w", table, err)
		}
		if !exists {
			missing = append(missing, "table "+table)
		}
	}

	for _, proc := range requiredProcedures {
		var exists bool
		err := db.QueryRowContext(ctx,
			"SELECT EXISTS (SELECT FROM information_schema.routines WHERE routine_schema = 'public' AND routine_name = $1)",
			proc,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check procedure %s: %w", proc, err)
		}
		if !exists {
			missing = append(missing, "procedure "+proc)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("schema is incomplete: %s", strings.Join(missing, ", "))
	}
	return nil
}
