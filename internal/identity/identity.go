// Package identity は赤ちゃんとプロフィールの人が読める主キーを導出する。
package identity

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// DOBLayout は生年月日の入力形式。
const DOBLayout = "2006-01-02"

var (
	ErrEmptyName  = errors.New("name is empty")
	ErrInvalidDOB = errors.New("date of birth must be YYYY-MM-DD")
)

// Normalize は名前の前後の空白を除き、NFCに正規化する。大文字小文字は変えない。
func Normalize(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}

// DigitsOnly は数字以外の文字を取り除く。
func DigitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ValidateDOB は生年月日がISO形式の実在する日付かを検証する。
func ValidateDOB(dob string) error {
	if _, err := time.Parse(DOBLayout, dob); err != nil {
		return ErrInvalidDOB
	}
	return nil
}

// BabyID は "{名前}_{YYYYMMDD}" 形式の赤ちゃんIDを返す。
// 同じ入力からは常に同じIDになる。重複の検出はストアの一意制約に任せる。
func BabyID(name, dob string) (string, error) {
	n := Normalize(name)
	if n == "" {
		return "", ErrEmptyName
	}
	if err := ValidateDOB(dob); err != nil {
		return "", err
	}
	return n + "_" + DigitsOnly(dob), nil
}

// ProfileID は "{baby_id}_{n}" 形式のプロフィールIDを返す。
func ProfileID(babyID string, n int) string {
	return babyID + "_" + strconv.Itoa(n)
}

// ConflictError は採番の再試行が上限に達したことを表す。
type ConflictError struct {
	BabyID   string
	Attempts int
}

// Error はerrorインターフェースを実装する。
func (e *ConflictError) Error() string {
	return fmt.Sprintf("profile id allocation for %s still conflicting after %d attempts", e.BabyID, e.Attempts)
}
