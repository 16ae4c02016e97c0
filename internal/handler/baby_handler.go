package handler

import (
	"net/http"
	"time"

	"github.com/hitoshi/babyprofile/internal/baby"
	"github.com/hitoshi/babyprofile/internal/middleware"
	"github.com/hitoshi/babyprofile/internal/model"
)

// BabyHandler は赤ちゃん管理のHTTPハンドラー。
// サービスはリクエストのWorkspaceから取得する。
type BabyHandler struct{}

// NewBabyHandler はBabyHandlerを生成する。
func NewBabyHandler() *BabyHandler {
	return &BabyHandler{}
}

// babyResponse は赤ちゃん情報のAPIレスポンス。
type babyResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	DOB       string    `json:"dob"`
	Note      string    `json:"note"`
	CreatedAt time.Time `json:"created_at"`
	CreatedBy string    `json:"created_by"`
	UpdatedAt time.Time `json:"updated_at"`
	UpdatedBy string    `json:"updated_by"`
}

func toBabyResponse(b *model.Baby) babyResponse {
	return babyResponse{
		ID:        b.ID,
		Name:      b.Name,
		DOB:       b.DOB,
		Note:      b.Note,
		CreatedAt: b.CreatedAt,
		CreatedBy: b.CreatedBy,
		UpdatedAt: b.UpdatedAt,
		UpdatedBy: b.UpdatedBy,
	}
}

// List は自分の赤ちゃん一覧を新しい順で返す。
// GET /api/babies
func (h *BabyHandler) List(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceOf(w, r)
	if !ok {
		return
	}

	babies, err := ws.Babies.List(r.Context())
	if err != nil {
		middleware.WriteAPIError(w, err)
		return
	}

	resp := make([]babyResponse, 0, len(babies))
	for _, b := range babies {
		resp = append(resp, toBabyResponse(b))
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListNames は選択肢用のIDと名前を名前順で返す。
// GET /api/babies/names
func (h *BabyHandler) ListNames(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceOf(w, r)
	if !ok {
		return
	}

	names, err := ws.Babies.ListNames(r.Context())
	if err != nil {
		middleware.WriteAPIError(w, err)
		return
	}
	if names == nil {
		names = []model.BabyName{}
	}
	writeJSON(w, http.StatusOK, names)
}

// Create は赤ちゃんを登録する。
// POST /api/babies
func (h *BabyHandler) Create(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceOf(w, r)
	if !ok {
		return
	}

	var in baby.Input
	if err := decodeJSON(r, &in); err != nil {
		middleware.WriteAPIError(w, err)
		return
	}

	exclusive(w, ws, "baby.create", func() {
		created, err := ws.Babies.Create(r.Context(), in)
		if err != nil {
			middleware.WriteAPIError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toBabyResponse(created))
	})
}

// Update は赤ちゃん情報を更新する。IDは変わらない。
// PUT /api/babies/{id}
func (h *BabyHandler) Update(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceOf(w, r)
	if !ok {
		return
	}

	var in baby.Input
	if err := decodeJSON(r, &in); err != nil {
		middleware.WriteAPIError(w, err)
		return
	}

	id := pathID(r)
	exclusive(w, ws, "baby.update", func() {
		updated, err := ws.Babies.Update(r.Context(), id, in)
		if err != nil {
			middleware.WriteAPIError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toBabyResponse(updated))
	})
}

// RequestDelete は削除確認トークンを発行する。
// POST /api/babies/{id}/delete-confirmation
func (h *BabyHandler) RequestDelete(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceOf(w, r)
	if !ok {
		return
	}

	token, err := ws.Babies.RequestDelete(r.Context(), pathID(r))
	if err != nil {
		middleware.WriteAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, confirmationResponse{Token: token})
}

// Delete は確認済みの赤ちゃんを削除する。
// DELETE /api/babies/{id}?confirm=token
func (h *BabyHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceOf(w, r)
	if !ok {
		return
	}

	id := pathID(r)
	token := r.URL.Query().Get("confirm")
	exclusive(w, ws, "baby.delete", func() {
		if err := ws.Babies.Delete(r.Context(), id, token); err != nil {
			middleware.WriteAPIError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}
