// Package validation は入力値検証を提供する。
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/babyprofile/internal/model"
)

// New はJSONのフィールド名でエラーを報告するValidatorを生成する。
func New() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// Struct は構造体を検証し、失敗時はVALIDATION_ERRORを返す。
func Struct(v *validator.Validate, s any) *model.APIError {
	err := v.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return model.NewValidationError(err.Error())
	}

	reasons := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		reasons = append(reasons, describe(fe))
	}
	return model.NewValidationError(strings.Join(reasons, ", "))
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%sは必須です", fe.Field())
	case "max":
		return fmt.Sprintf("%sは%s文字以内で入力してください", fe.Field(), fe.Param())
	case "datetime":
		return fmt.Sprintf("%sは%s形式で入力してください", fe.Field(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%sは%sのいずれかを指定してください", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%sが不正です(%s)", fe.Field(), fe.Tag())
	}
}
