// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, record, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthenticated             = "UNAUTHENTICATED"
	ErrCodeForbidden                   = "FORBIDDEN"
	ErrCodeDuplicateIdentity           = "DUPLICATE_IDENTITY"
	ErrCodeTransientAllocationConflict = "TRANSIENT_ALLOCATION_CONFLICT"
	ErrCodeRemoteFailure               = "REMOTE_FAILURE"
	ErrCodeValidation                  = "VALIDATION_ERROR"
	ErrCodeNotFound                    = "NOT_FOUND"
	ErrCodeConfirmationRequired        = "CONFIRMATION_REQUIRED"
	ErrCodeActionInProgress            = "ACTION_IN_PROGRESS"
)

// NewUnauthenticatedError はセッションが存在しない場合のエラーを生成する。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  "ログインが必要です。",
		Category: "auth",
		Action:   "ログインしてから再度お試しください。",
	}
}

// NewInvalidCredentialsError はパスワードログインの認証失敗エラーを生成する。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度ログインしてください。",
	}
}

// NewForbiddenError は権限不足エラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "この操作を行う権限がありません。",
		Category: "auth",
		Action:   "管理者に権限の付与を依頼してください。",
	}
}

// NewDuplicateIdentityError は派生IDの一意制約違反エラーを生成する。
func NewDuplicateIdentityError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateIdentity,
		Message:  fmt.Sprintf("同じIDのレコードが既に存在します: %s", id),
		Category: "validation",
		Action:   "名前または生年月日を変更してから再度登録してください。",
	}
}

// NewTransientAllocationConflictError はプロフィール番号の採番競合が解消しなかった場合のエラーを生成する。
func NewTransientAllocationConflictError(babyID string) *APIError {
	return &APIError{
		Code:     ErrCodeTransientAllocationConflict,
		Message:  fmt.Sprintf("プロフィール番号の採番が競合しました: %s", babyID),
		Category: "record",
		Action:   "入力内容はそのままで、もう一度保存してください。",
	}
}

// NewRemoteFailureError はリモートストア呼び出しの失敗エラーを生成する。
func NewRemoteFailureError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeRemoteFailure,
		Message:  fmt.Sprintf("データストアとの通信に失敗しました: %s", reason),
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewValidationError は入力値検証エラーを生成する。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("入力内容が正しくありません: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewNotFoundError はレコード未検出エラーを生成する。
// 他ユーザーのレコードも同じエラーとして扱う。
func NewNotFoundError(kind, id string) *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  fmt.Sprintf("%sが見つかりません: %s", kind, id),
		Category: "record",
		Action:   "一覧を再読み込みしてください。",
	}
}

// NewConfirmationRequiredError は削除確認が済んでいない場合のエラーを生成する。
func NewConfirmationRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeConfirmationRequired,
		Message:  "削除の確認が完了していません。",
		Category: "validation",
		Action:   "削除確認を行ってから再度お試しください。",
	}
}

// NewActionInProgressError は同じ操作が処理中の場合のエラーを生成する。
func NewActionInProgressError(action string) *APIError {
	return &APIError{
		Code:     ErrCodeActionInProgress,
		Message:  fmt.Sprintf("処理中の操作があります: %s", action),
		Category: "system",
		Action:   "処理の完了を待ってください。",
	}
}
