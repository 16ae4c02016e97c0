package model

import "time"

// TimestampLayout はストアに書き込むタイムスタンプの形式。
// 呼び出し時点のクライアント時刻をUTCで記録する。
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatTimestamp はタイムスタンプをストアの正規形式に変換する。
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Baby は記録対象の赤ちゃんを表す。
// IDは名前と生年月日から導出され、ストア全体で一意。
type Baby struct {
	ID        string
	UserID    string
	Name      string
	DOB       string // YYYY-MM-DD
	Note      string
	CreatedAt time.Time
	CreatedBy string
	UpdatedAt time.Time
	UpdatedBy string
}

// BabyName は選択肢表示用の赤ちゃんのIDと名前。
type BabyName struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// BabyPatch は赤ちゃん情報の更新内容を表す。
// IDは再導出しない。
type BabyPatch struct {
	Name      string
	DOB       string
	Note      string
	UpdatedAt time.Time
	UpdatedBy string
}
