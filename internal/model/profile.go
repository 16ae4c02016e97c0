package model

import "time"

// Profile は赤ちゃんに紐づく定期評価の記録を表す。
// IDは "{baby_id}_{n}" 形式。
type Profile struct {
	ID        string
	BabyID    string
	UserID    string
	Answers   Answers
	CreatedAt time.Time
	CreatedBy string
	UpdatedAt time.Time
	UpdatedBy string
}

// Answers は質問キーから回答（数値または文字列）へのマッピング。
type Answers map[string]any

// ProfilePatch はプロフィールの更新内容を表す。
type ProfilePatch struct {
	Answers   Answers
	UpdatedAt time.Time
	UpdatedBy string
}
