package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/babyprofile/internal/middleware"
	"github.com/hitoshi/babyprofile/internal/model"
	"github.com/hitoshi/babyprofile/internal/workspace"
)

// maxRequestBody はJSONリクエストボディの上限（バイト）。
const maxRequestBody = 1 << 20

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// decodeJSON はリクエストボディをdstにデコードする。
// 解析できない場合はVALIDATION_ERRORを返す。
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return model.NewValidationError("リクエストボディが空です。")
		}
		return model.NewValidationError("リクエストボディの解析に失敗しました。")
	}
	return nil
}

// workspaceOf はリクエストのWorkspaceを返す。
// セッションミドルウェアを通過していない場合は500を書き込んでfalseを返す。
func workspaceOf(w http.ResponseWriter, r *http.Request) (*workspace.Workspace, bool) {
	ws, ok := middleware.WorkspaceFromContext(r.Context())
	if !ok {
		slog.Error("workspace missing from request context", slog.String("path", r.URL.Path))
		middleware.WriteInternalServerError(w)
		return nil, false
	}
	return ws, true
}

// pathID はURLパスのIDパラメータを返す。
// IDは名前から作られるため、テンプレートではpathEscapeで埋め込まれる。
// chiはRawPathがある場合にエスケープされたままの値を返すので、ここで戻す。
func pathID(r *http.Request) string {
	v := chi.URLParam(r, "id")
	if r.URL.RawPath == "" {
		return v
	}
	if unescaped, err := url.PathUnescape(v); err == nil {
		return unescaped
	}
	return v
}

// exclusive は同じ操作の実行中であればACTION_IN_PROGRESSを返す。
// 実行権を取得できた場合はfnを実行する。
func exclusive(w http.ResponseWriter, ws *workspace.Workspace, action string, fn func()) {
	release, ok := ws.Busy.TryAcquire(action)
	if !ok {
		slog.Info("action already in progress",
			slog.String("workspace_id", ws.ID),
			slog.String("action", action),
			slog.Any("pending", ws.Busy.Pending()),
		)
		middleware.WriteAPIError(w, model.NewActionInProgressError(action))
		return
	}
	defer release()
	fn()
}

// confirmationResponse は削除確認トークンのレスポンス。
type confirmationResponse struct {
	Token string `json:"token"`
}
