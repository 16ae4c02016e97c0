package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/hitoshi/babyprofile/internal/model"
)

// PostgreSQLのSQLSTATE
const (
	CodeUniqueViolation       = "23505"
	CodeInsufficientPrivilege = "42501"
)

var (
	// ErrNoRows は更新・削除の対象行が存在しなかったことを表す。
	ErrNoRows = errors.New("store: no rows matched")

	// ErrUnfiltered はフィルタなしの更新・削除を拒否したことを表す。
	ErrUnfiltered = errors.New("store: mutation without filter")

	// ErrMissingCodeVerifier はPKCEのverifierがない状態でコード交換しようとしたことを表す。
	ErrMissingCodeVerifier = errors.New("store: no pending oauth code verifier")
)

// Error はリモートストアが返した型付きエラー。
type Error struct {
	Status  int
	Code    string
	Message string
}

// Error はerrorインターフェースを実装する。
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("store error (status=%d, code=%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("store error (status=%d): %s", e.Status, e.Message)
}

// IsUniqueViolation は一意制約違反かどうかを判定する。
func IsUniqueViolation(err error) bool {
	var se *Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code == CodeUniqueViolation || (se.Status == http.StatusConflict && se.Code == "")
}

// IsPermissionDenied はストア側の権限チェックで拒否されたかどうかを判定する。
func IsPermissionDenied(err error) bool {
	var se *Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code == CodeInsufficientPrivilege || se.Status == http.StatusForbidden
}

// IsUnauthorized はトークンが無効または欠落しているかどうかを判定する。
func IsUnauthorized(err error) bool {
	var se *Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Status == http.StatusUnauthorized
}

// errorBody はPostgRESTとGoTrueのエラーレスポンスを両方受け取れる形。
type errorBody struct {
	Code             json.RawMessage `json:"code"`
	ErrorCode        string          `json:"error_code"`
	Message          string          `json:"message"`
	Msg              string          `json:"msg"`
	Error            string          `json:"error"`
	ErrorDescription string          `json:"error_description"`
}

// parseError はエラーレスポンスを*Errorに変換する。
func parseError(status int, body []byte) *Error {
	se := &Error{Status: status}

	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		se.Message = strings.TrimSpace(string(body))
		if se.Message == "" {
			se.Message = http.StatusText(status)
		}
		return se
	}

	// GoTrueはcodeに数値のHTTPステータスを入れることがある
	var code string
	if err := json.Unmarshal(eb.Code, &code); err == nil {
		se.Code = code
	} else {
		se.Code = eb.ErrorCode
	}

	for _, m := range []string{eb.Message, eb.Msg, eb.ErrorDescription, eb.Error} {
		if m != "" {
			se.Message = m
			break
		}
	}
	if se.Message == "" {
		se.Message = http.StatusText(status)
	}
	return se
}

// ToAPIError は想定外のストアエラーをAPIErrorに変換する。
// 一意制約違反や対象なしなど操作固有の分類は呼び出し側で先に行う。
func ToAPIError(err error) *model.APIError {
	var apiErr *model.APIError
	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case IsUnauthorized(err):
		return model.NewUnauthenticatedError()
	case IsPermissionDenied(err):
		return model.NewForbiddenError()
	default:
		return model.NewRemoteFailureError(err.Error())
	}
}
