package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/babyprofile/internal/guard"
	"github.com/hitoshi/babyprofile/internal/model"
)

// pageData は画面テンプレートに渡す値。
type pageData struct {
	Title   string
	Session *model.Session
	Error   string
	Message string

	Babies       []*model.Baby
	Names        []model.BabyName
	SelectedBaby string
	Profiles     []*model.Profile
	Profile      *model.Profile
	Users        []*model.AdminUser
	Questions    []question
}

// PageHandler は画面ルートのハンドラー。アクセス可否はページガードで判定済み。
type PageHandler struct {
	pages *Renderer
}

// NewPageHandler はPageHandlerを生成する。
func NewPageHandler(pages *Renderer) *PageHandler {
	return &PageHandler{pages: pages}
}

// Root はセッションの有無に応じてダッシュボードかログイン画面へ遷移させる。
// GET /
func (h *PageHandler) Root(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceOf(w, r)
	if !ok {
		return
	}
	if ws.Session() != nil {
		http.Redirect(w, r, guard.DashboardPath, http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, guard.LoginPath, http.StatusSeeOther)
}

// Login はログイン画面を表示する。ログイン済みの場合はダッシュボードへ遷移させる。
// GET /login
func (h *PageHandler) Login(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceOf(w, r)
	if !ok {
		return
	}
	if ws.Session() != nil {
		http.Redirect(w, r, guard.DashboardPath, http.StatusSeeOther)
		return
	}

	data := pageData{Title: "ログイン"}
	if r.URL.Query().Get("error") != "" {
		data.Error = "ログインを開始できませんでした。もう一度お試しください。"
	}
	h.pages.Render(w, http.StatusOK, "login", data)
}

// Dashboard はダッシュボードを表示する。
// GET /dashboard
func (h *PageHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceOf(w, r)
	if !ok {
		return
	}
	h.pages.Render(w, http.StatusOK, "dashboard", pageData{
		Title:   "ダッシュボード",
		Session: ws.Session(),
	})
}

// BabyList は赤ちゃん一覧と登録フォームを表示する。
// GET /baby-list-management
func (h *PageHandler) BabyList(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceOf(w, r)
	if !ok {
		return
	}

	data := pageData{Title: "赤ちゃん管理", Session: ws.Session()}
	babies, err := ws.Babies.List(r.Context())
	if err != nil {
		data.Error = errorMessage(err)
	}
	data.Babies = babies
	h.pages.Render(w, http.StatusOK, "baby_list", data)
}

// MakeNewProfile はプロフィール作成フォームを表示する。
// GET /make-new-profile
func (h *PageHandler) MakeNewProfile(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceOf(w, r)
	if !ok {
		return
	}

	data := pageData{Title: "プロフィール作成", Session: ws.Session(), Questions: questions}
	names, err := ws.Babies.ListNames(r.Context())
	if err != nil {
		data.Error = errorMessage(err)
	}
	data.Names = names
	if len(names) > 0 {
		data.SelectedBaby = names[0].ID
	}
	h.pages.Render(w, http.StatusOK, "make_new_profile", data)
}

// SearchProfileHistory は選択した赤ちゃんのプロフィール履歴を表示する。
// GET /search-profile-history?baby_id=...
func (h *PageHandler) SearchProfileHistory(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceOf(w, r)
	if !ok {
		return
	}

	data := pageData{Title: "プロフィール履歴", Session: ws.Session()}
	names, err := ws.Babies.ListNames(r.Context())
	if err != nil {
		data.Error = errorMessage(err)
		h.pages.Render(w, http.StatusOK, "search_profile_history", data)
		return
	}
	data.Names = names

	data.SelectedBaby = r.URL.Query().Get("baby_id")
	if data.SelectedBaby == "" && len(names) > 0 {
		data.SelectedBaby = names[0].ID
	}
	if data.SelectedBaby != "" {
		profiles, err := ws.Profiles.ListByBaby(r.Context(), data.SelectedBaby)
		if err != nil {
			data.Error = errorMessage(err)
		}
		data.Profiles = profiles
	}
	h.pages.Render(w, http.StatusOK, "search_profile_history", data)
}

// Print はプロフィールの印刷用画面を表示する。
// GET /profiles/{id}/print
func (h *PageHandler) Print(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceOf(w, r)
	if !ok {
		return
	}

	p, err := ws.Profiles.Get(r.Context(), pathID(r))
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	h.pages.Render(w, http.StatusOK, "print", pageData{
		Title:   "プロフィール " + p.ID,
		Session: ws.Session(),
		Profile: p,
	})
}

// SystemManagement はユーザー管理画面を表示する。
// GET /system-management
func (h *PageHandler) SystemManagement(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceOf(w, r)
	if !ok {
		return
	}

	data := pageData{Title: "システム管理", Session: ws.Session()}
	users, err := ws.Admin.ListUsers(r.Context())
	if err != nil {
		data.Error = errorMessage(err)
	}
	data.Users = users
	h.pages.Render(w, http.StatusOK, "system_management", data)
}

// NotFound は存在しない画面への遷移に応答する。
func (h *PageHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	h.pages.Render(w, http.StatusNotFound, "error", pageData{
		Title: "ページが見つかりません",
		Error: "指定されたページは存在しません。",
	})
}

// renderError はエラー画面を描画する。
func (h *PageHandler) renderError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		status = statusForPage(apiErr.Code)
	} else {
		slog.Error("page error",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	h.pages.Render(w, status, "error", pageData{
		Title: "エラー",
		Error: errorMessage(err),
	})
}

func statusForPage(code string) int {
	switch code {
	case model.ErrCodeNotFound:
		return http.StatusNotFound
	case model.ErrCodeForbidden:
		return http.StatusForbidden
	case model.ErrCodeRemoteFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// errorMessage は画面に表示するメッセージを返す。APIError以外は詳細を出さない。
func errorMessage(err error) string {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return "内部エラーが発生しました。"
}
