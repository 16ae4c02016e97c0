package store

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// newTestClient はhttptestサーバーに向けたClientを生成する。
func newTestClient(t *testing.T, handler http.HandlerFunc, opts AuthOptions) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	transport := NewTransport(TransportConfig{
		BaseURL: srv.URL,
		APIKey:  "anon-key",
		Timeout: 5 * time.Second,
	})
	return NewClient(transport, NewAuth(transport, opts)), srv
}

// writeJSON はテスト用のJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// tokenBody はトークンエンドポイントのレスポンスを生成する。
func tokenBody(userID, email, role, access, refresh string, expiresAt time.Time) map[string]any {
	md := map[string]any{}
	if role != "" {
		md["role"] = role
	}
	return map[string]any{
		"access_token":  access,
		"token_type":    "bearer",
		"expires_at":    expiresAt.Unix(),
		"refresh_token": refresh,
		"user": map[string]any{
			"id":           userID,
			"email":        email,
			"app_metadata": md,
		},
	}
}
