// Package storetest はテスト用のインメモリなリモートストア（GoTrue + PostgREST互換の最小実装）を提供する。
package storetest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
)

// APIKey はテスト用の匿名キー。
const APIKey = "test-anon-key"

// User はテスト用のアカウント。
type User struct {
	ID       string
	Email    string
	Password string
	Role     string
}

// Caller はRPCを呼び出したユーザー。匿名の場合はnil。
type Caller = *User

// RPCFunc は特権プロシージャの実装。戻り値のstatusが400以上の場合bodyはエラーとして返す。
type RPCFunc func(caller Caller, args map[string]any) (status int, body any)

// Server はインメモリのリモートストア。
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	tables   map[string][]map[string]any
	users    map[string]*User // email -> user
	tokens   map[string]*User // access token -> user
	refresh  map[string]*User // refresh token -> user
	codes    map[string]*User // pkce auth code -> user
	rpcs     map[string]RPCFunc
	rpcArgs  map[string]map[string]any
	calls    map[string]int
	seq      int
	tokenTTL time.Duration

	// BeforeInsert はテーブルへの挿入直前に呼ばれる（ロックの外）。
	BeforeInsert func(table string, row map[string]any)
}

// NewServer はServerを起動する。テスト終了時に停止する。
func NewServer(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		tables:   make(map[string][]map[string]any),
		users:    make(map[string]*User),
		tokens:   make(map[string]*User),
		refresh:  make(map[string]*User),
		codes:    make(map[string]*User),
		rpcs:     make(map[string]RPCFunc),
		rpcArgs:  make(map[string]map[string]any),
		calls:    make(map[string]int),
		tokenTTL: time.Hour,
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// AddUser はアカウントを登録する。
func (s *Server) AddUser(u User) *User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.Role == "" {
		u.Role = "user"
	}
	user := &u
	s.users[u.Email] = user
	return user
}

// SetRole はアカウントのロールを変更する。
func (s *Server) SetRole(email, role string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[email]; ok {
		u.Role = role
	}
}

// AddAuthCode はOAuthコールバックで交換できる認可コードを登録する。
func (s *Server) AddAuthCode(code, email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[code] = s.users[email]
}

// IssueRefreshToken はユーザーの有効なリフレッシュトークンを発行する。
func (s *Server) IssueRefreshToken(email string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	token := fmt.Sprintf("refresh-%d", s.seq)
	s.refresh[token] = s.users[email]
	return token
}

// Seed はテーブルに行を直接追加する。
func (s *Server) Seed(table string, row map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[table] = append(s.tables[table], row)
}

// Rows はテーブルの全行のコピーを返す。
func (s *Server) Rows(table string) []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]map[string]any, 0, len(s.tables[table]))
	for _, r := range s.tables[table] {
		out = append(out, copyRow(r))
	}
	return out
}

// HandleRPC は特権プロシージャを登録する。
func (s *Server) HandleRPC(name string, fn RPCFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rpcs[name] = fn
}

// RPCArgs は最後に呼び出されたプロシージャの引数を返す。
func (s *Server) RPCArgs(name string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rpcArgs[name]
}

// Calls は "METHOD /path" ごとの呼び出し回数を返す。
func (s *Server) Calls(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method+" "+path]
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.calls[r.Method+" "+r.URL.Path]++
	s.mu.Unlock()

	if r.Header.Get("apikey") != APIKey {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "invalid api key"})
		return
	}

	switch {
	case r.URL.Path == "/auth/v1/health":
		writeJSON(w, http.StatusOK, map[string]any{"name": "GoTrue"})
	case r.URL.Path == "/auth/v1/token":
		s.handleToken(w, r)
	case r.URL.Path == "/auth/v1/logout":
		s.handleLogout(w, r)
	case strings.HasPrefix(r.URL.Path, "/rest/v1/rpc/"):
		s.handleRPC(w, r, strings.TrimPrefix(r.URL.Path, "/rest/v1/rpc/"))
	case strings.HasPrefix(r.URL.Path, "/rest/v1/"):
		s.handleTable(w, r, strings.TrimPrefix(r.URL.Path, "/rest/v1/"))
	default:
		writeJSON(w, http.StatusNotFound, map[string]any{"message": "not found"})
	}
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var body map[string]string
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"msg": "invalid body"})
		return
	}

	s.mu.Lock()
	var user *User
	switch r.URL.Query().Get("grant_type") {
	case "password":
		if u, ok := s.users[body["email"]]; ok && u.Password == body["password"] {
			user = u
		}
	case "pkce":
		if body["code_verifier"] != "" {
			user = s.codes[body["auth_code"]]
			delete(s.codes, body["auth_code"])
		}
	case "refresh_token":
		user = s.refresh[body["refresh_token"]]
		delete(s.refresh, body["refresh_token"])
	}
	if user == nil {
		s.mu.Unlock()
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"code":       400,
			"error_code": "invalid_grant",
			"msg":        "invalid credentials",
		})
		return
	}

	s.seq++
	access := fmt.Sprintf("access-%d", s.seq)
	refresh := fmt.Sprintf("refresh-%d", s.seq)
	s.tokens[access] = user
	s.refresh[refresh] = user
	resp := map[string]any{
		"access_token":  access,
		"token_type":    "bearer",
		"expires_in":    int(s.tokenTTL.Seconds()),
		"expires_at":    time.Now().Add(s.tokenTTL).Unix(),
		"refresh_token": refresh,
		"user": map[string]any{
			"id":           user.ID,
			"email":        user.Email,
			"app_metadata": map[string]any{"role": user.Role},
		},
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	token := bearer(r)
	s.mu.Lock()
	user := s.tokens[token]
	if user != nil {
		for t, u := range s.tokens {
			if u == user {
				delete(s.tokens, t)
			}
		}
	}
	s.mu.Unlock()

	if user == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"msg": "invalid token"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request, name string) {
	var args map[string]any
	if err := json.NewDecoder(r.Body).Decode(&args); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "invalid body"})
		return
	}

	s.mu.Lock()
	fn, ok := s.rpcs[name]
	caller := s.tokens[bearer(r)]
	s.rpcArgs[name] = args
	s.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"code": "PGRST202", "message": "function not found"})
		return
	}

	var c Caller
	if caller != nil {
		cp := *caller
		c = &cp
	}
	status, body := fn(c, args)
	if body == nil {
		w.WriteHeader(status)
		return
	}
	writeJSON(w, status, body)
}

func (s *Server) handleTable(w http.ResponseWriter, r *http.Request, table string) {
	q := r.URL.Query()
	filters := map[string]string{}
	for key, vals := range q {
		if key == "select" || key == "order" {
			continue
		}
		for _, v := range vals {
			filters[key] = strings.TrimPrefix(v, "eq.")
		}
	}

	switch r.Method {
	case http.MethodGet, http.MethodHead:
		s.mu.Lock()
		rows := s.match(table, filters)
		s.mu.Unlock()

		if r.Method == http.MethodHead {
			if len(rows) == 0 {
				w.Header().Set("Content-Range", "*/0")
			} else {
				w.Header().Set("Content-Range", fmt.Sprintf("0-%d/%d", len(rows)-1, len(rows)))
			}
			w.WriteHeader(http.StatusOK)
			return
		}

		sortRows(rows, q.Get("order"))
		writeJSON(w, http.StatusOK, project(rows, q.Get("select")))

	case http.MethodPost:
		var row map[string]any
		if err := json.NewDecoder(r.Body).Decode(&row); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"message": "invalid body"})
			return
		}
		if s.BeforeInsert != nil {
			s.BeforeInsert(table, row)
		}

		s.mu.Lock()
		for _, existing := range s.tables[table] {
			if fmt.Sprint(existing["id"]) == fmt.Sprint(row["id"]) {
				s.mu.Unlock()
				writeJSON(w, http.StatusConflict, map[string]any{
					"code":    "23505",
					"message": fmt.Sprintf("duplicate key value violates unique constraint \"%s_pkey\"", table),
				})
				return
			}
		}
		s.tables[table] = append(s.tables[table], row)
		s.mu.Unlock()
		w.WriteHeader(http.StatusCreated)

	case http.MethodPatch:
		var patch map[string]any
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"message": "invalid body"})
			return
		}
		s.mu.Lock()
		var updated []map[string]any
		for _, row := range s.tables[table] {
			if matches(row, filters) {
				for k, v := range patch {
					row[k] = v
				}
				updated = append(updated, copyRow(row))
			}
		}
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, nonNil(updated))

	case http.MethodDelete:
		s.mu.Lock()
		var kept, removed []map[string]any
		for _, row := range s.tables[table] {
			if matches(row, filters) {
				removed = append(removed, row)
			} else {
				kept = append(kept, row)
			}
		}
		s.tables[table] = kept
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, nonNil(removed))

	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"message": "method not allowed"})
	}
}

// match はs.muを保持した状態で呼び出すこと。
func (s *Server) match(table string, filters map[string]string) []map[string]any {
	var out []map[string]any
	for _, row := range s.tables[table] {
		if matches(row, filters) {
			out = append(out, copyRow(row))
		}
	}
	return out
}

func matches(row map[string]any, filters map[string]string) bool {
	for col, want := range filters {
		if fmt.Sprint(row[col]) != want {
			return false
		}
	}
	return true
}

func sortRows(rows []map[string]any, order string) {
	if order == "" {
		return
	}
	parts := strings.Split(order, ",")
	sort.SliceStable(rows, func(i, j int) bool {
		for _, p := range parts {
			col, dir, _ := strings.Cut(p, ".")
			a, b := fmt.Sprint(rows[i][col]), fmt.Sprint(rows[j][col])
			if a == b {
				continue
			}
			if dir == "desc" {
				return a > b
			}
			return a < b
		}
		return false
	})
}

func project(rows []map[string]any, sel string) []map[string]any {
	out := make([]map[string]any, 0, len(rows))
	if sel == "" || sel == "*" {
		return append(out, rows...)
	}
	cols := strings.Split(sel, ",")
	for _, row := range rows {
		p := make(map[string]any, len(cols))
		for _, c := range cols {
			p[c] = row[c]
		}
		out = append(out, p)
	}
	return out
}

func copyRow(r map[string]any) map[string]any {
	c := make(map[string]any, len(r))
	for k, v := range r {
		c[k] = v
	}
	return c
}

func nonNil(rows []map[string]any) []map[string]any {
	if rows == nil {
		return []map[string]any{}
	}
	return rows
}

func bearer(r *http.Request) string {
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
