package repository

import (
	"fmt"
	"time"

	"github.com/hitoshi/babyprofile/internal/model"
)

// parseTimestamp はストアが返すタイムスタンプを解析する。空文字はゼロ値。
func parseTimestamp(field, v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse %s: %w", field, err)
	}
	return t, nil
}

// babyRow はbabiesテーブルの行。
type babyRow struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name"`
	DOB       string `json:"dob"`
	Note      string `json:"note"`
	CreatedAt string `json:"created_at"`
	CreatedBy string `json:"created_by"`
	UpdatedAt string `json:"updated_at"`
	UpdatedBy string `json:"updated_by"`
}

func newBabyRow(b *model.Baby) babyRow {
	return babyRow{
		ID:        b.ID,
		UserID:    b.UserID,
		Name:      b.Name,
		DOB:       b.DOB,
		Note:      b.Note,
		CreatedAt: model.FormatTimestamp(b.CreatedAt),
		CreatedBy: b.CreatedBy,
		UpdatedAt: model.FormatTimestamp(b.UpdatedAt),
		UpdatedBy: b.UpdatedBy,
	}
}

func (r babyRow) toModel() (*model.Baby, error) {
	createdAt, err := parseTimestamp("created_at", r.CreatedAt)
	if err != nil {
		return nil, err
	}
	updatedAt, err := parseTimestamp("updated_at", r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &model.Baby{
		ID:        r.ID,
		UserID:    r.UserID,
		Name:      r.Name,
		DOB:       r.DOB,
		Note:      r.Note,
		CreatedAt: createdAt,
		CreatedBy: r.CreatedBy,
		UpdatedAt: updatedAt,
		UpdatedBy: r.UpdatedBy,
	}, nil
}

// profileRow はprofilesテーブルの行。回答はJSONB列profile_dataに入る。
type profileRow struct {
	ID          string        `json:"id"`
	BabyID      string        `json:"baby_id"`
	UserID      string        `json:"user_id"`
	ProfileData model.Answers `json:"profile_data"`
	CreatedAt   string        `json:"created_at"`
	CreatedBy   string        `json:"created_by"`
	UpdatedAt   string        `json:"updated_at"`
	UpdatedBy   string        `json:"updated_by"`
}

func newProfileRow(p *model.Profile) profileRow {
	data := p.Answers
	if data == nil {
		data = model.Answers{}
	}
	return profileRow{
		ID:          p.ID,
		BabyID:      p.BabyID,
		UserID:      p.UserID,
		ProfileData: data,
		CreatedAt:   model.FormatTimestamp(p.CreatedAt),
		CreatedBy:   p.CreatedBy,
		UpdatedAt:   model.FormatTimestamp(p.UpdatedAt),
		UpdatedBy:   p.UpdatedBy,
	}
}

func (r profileRow) toModel() (*model.Profile, error) {
	createdAt, err := parseTimestamp("created_at", r.CreatedAt)
	if err != nil {
		return nil, err
	}
	updatedAt, err := parseTimestamp("updated_at", r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &model.Profile{
		ID:        r.ID,
		BabyID:    r.BabyID,
		UserID:    r.UserID,
		Answers:   r.ProfileData,
		CreatedAt: createdAt,
		CreatedBy: r.CreatedBy,
		UpdatedAt: updatedAt,
		UpdatedBy: r.UpdatedBy,
	}, nil
}

// adminUserRow はget_all_users_for_adminの結果行。
type adminUserRow struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	CreatedAt    time.Time      `json:"created_at"`
	LastSignInAt *time.Time     `json:"last_sign_in_at"`
	AppMetadata  map[string]any `json:"app_metadata"`
}

func (r adminUserRow) toModel() *model.AdminUser {
	role, _ := r.AppMetadata["role"].(string)
	if role == "" {
		role = model.RoleUser
	}
	return &model.AdminUser{
		ID:           r.ID,
		Email:        r.Email,
		Role:         role,
		CreatedAt:    r.CreatedAt,
		LastSignInAt: r.LastSignInAt,
	}
}
