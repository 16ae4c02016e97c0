package handler

import (
	"net/http"

	"github.com/hitoshi/babyprofile/internal/admin"
	"github.com/hitoshi/babyprofile/internal/middleware"
	"github.com/hitoshi/babyprofile/internal/model"
)

// AdminHandler はユーザー管理のHTTPハンドラー。
// ルートはadminガードの内側に置くが、最終的な権限判定はストアの特権プロシージャが行う。
type AdminHandler struct{}

// NewAdminHandler はAdminHandlerを生成する。
func NewAdminHandler() *AdminHandler {
	return &AdminHandler{}
}

// ListUsers は全ユーザーを返す。
// GET /api/admin/users
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceOf(w, r)
	if !ok {
		return
	}

	users, err := ws.Admin.ListUsers(r.Context())
	if err != nil {
		middleware.WriteAPIError(w, err)
		return
	}
	if users == nil {
		users = []*model.AdminUser{}
	}
	writeJSON(w, http.StatusOK, users)
}

// UpdateRole はユーザーのロールを変更する。
// PUT /api/admin/users/{id}/role
func (h *AdminHandler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceOf(w, r)
	if !ok {
		return
	}

	var in admin.RoleInput
	if err := decodeJSON(r, &in); err != nil {
		middleware.WriteAPIError(w, err)
		return
	}

	id := pathID(r)
	exclusive(w, ws, "user.role", func() {
		if err := ws.Admin.UpdateRole(r.Context(), id, in); err != nil {
			middleware.WriteAPIError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

// RequestDelete は削除確認トークンを発行する。
// POST /api/admin/users/{id}/delete-confirmation
func (h *AdminHandler) RequestDelete(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceOf(w, r)
	if !ok {
		return
	}

	token, err := ws.Admin.RequestDelete(r.Context(), pathID(r))
	if err != nil {
		middleware.WriteAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, confirmationResponse{Token: token})
}

// DeleteUser は確認済みのユーザーを削除する。
// DELETE /api/admin/users/{id}?confirm=token
func (h *AdminHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceOf(w, r)
	if !ok {
		return
	}

	id := pathID(r)
	token := r.URL.Query().Get("confirm")
	exclusive(w, ws, "user.delete", func() {
		if err := ws.Admin.DeleteUser(r.Context(), id, token); err != nil {
			middleware.WriteAPIError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}
