package handler

import (
	"net/http"
	"time"

	"github.com/hitoshi/babyprofile/internal/middleware"
	"github.com/hitoshi/babyprofile/internal/model"
	"github.com/hitoshi/babyprofile/internal/profile"
)

// ProfileHandler はプロフィール管理のHTTPハンドラー。
type ProfileHandler struct{}

// NewProfileHandler はProfileHandlerを生成する。
func NewProfileHandler() *ProfileHandler {
	return &ProfileHandler{}
}

// profileResponse はプロフィールのAPIレスポンス。
type profileResponse struct {
	ID        string        `json:"id"`
	BabyID    string        `json:"baby_id"`
	Answers   model.Answers `json:"answers"`
	CreatedAt time.Time     `json:"created_at"`
	CreatedBy string        `json:"created_by"`
	UpdatedAt time.Time     `json:"updated_at"`
	UpdatedBy string        `json:"updated_by"`
}

func toProfileResponse(p *model.Profile) profileResponse {
	answers := p.Answers
	if answers == nil {
		answers = model.Answers{}
	}
	return profileResponse{
		ID:        p.ID,
		BabyID:    p.BabyID,
		Answers:   answers,
		CreatedAt: p.CreatedAt,
		CreatedBy: p.CreatedBy,
		UpdatedAt: p.UpdatedAt,
		UpdatedBy: p.UpdatedBy,
	}
}

// ListByBaby は赤ちゃんのプロフィール履歴を新しい順で返す。
// GET /api/babies/{id}/profiles
func (h *ProfileHandler) ListByBaby(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceOf(w, r)
	if !ok {
		return
	}

	profiles, err := ws.Profiles.ListByBaby(r.Context(), pathID(r))
	if err != nil {
		middleware.WriteAPIError(w, err)
		return
	}

	resp := make([]profileResponse, 0, len(profiles))
	for _, p := range profiles {
		resp = append(resp, toProfileResponse(p))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Create はプロフィールを登録する。IDは赤ちゃんごとの連番で採番される。
// POST /api/profiles
func (h *ProfileHandler) Create(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceOf(w, r)
	if !ok {
		return
	}

	var in profile.CreateInput
	if err := decodeJSON(r, &in); err != nil {
		middleware.WriteAPIError(w, err)
		return
	}

	exclusive(w, ws, "profile.create", func() {
		created, err := ws.Profiles.Create(r.Context(), in)
		if err != nil {
			middleware.WriteAPIError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toProfileResponse(created))
	})
}

// Get はプロフィールを返す。
// GET /api/profiles/{id}
func (h *ProfileHandler) Get(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceOf(w, r)
	if !ok {
		return
	}

	p, err := ws.Profiles.Get(r.Context(), pathID(r))
	if err != nil {
		middleware.WriteAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProfileResponse(p))
}

// Update はプロフィールの回答を更新する。
// PUT /api/profiles/{id}
func (h *ProfileHandler) Update(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceOf(w, r)
	if !ok {
		return
	}

	var in profile.UpdateInput
	if err := decodeJSON(r, &in); err != nil {
		middleware.WriteAPIError(w, err)
		return
	}

	id := pathID(r)
	exclusive(w, ws, "profile.update", func() {
		updated, err := ws.Profiles.Update(r.Context(), id, in)
		if err != nil {
			middleware.WriteAPIError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toProfileResponse(updated))
	})
}

// RequestDelete は削除確認トークンを発行する。
// POST /api/profiles/{id}/delete-confirmation
func (h *ProfileHandler) RequestDelete(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceOf(w, r)
	if !ok {
		return
	}

	token, err := ws.Profiles.RequestDelete(r.Context(), pathID(r))
	if err != nil {
		middleware.WriteAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, confirmationResponse{Token: token})
}

// Delete は確認済みのプロフィールを削除する。
// DELETE /api/profiles/{id}?confirm=token
func (h *ProfileHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceOf(w, r)
	if !ok {
		return
	}

	id := pathID(r)
	token := r.URL.Query().Get("confirm")
	exclusive(w, ws, "profile.delete", func() {
		if err := ws.Profiles.Delete(r.Context(), id, token); err != nil {
			middleware.WriteAPIError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}
