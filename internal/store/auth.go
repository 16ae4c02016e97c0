package store

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/hitoshi/babyprofile/internal/model"
)

// refreshMargin はトークン失効前に更新を始める猶予。
const refreshMargin = 60 * time.Second

// Event はセッション変更通知の種類。
type Event string

const (
	EventSignedIn       Event = "SIGNED_IN"
	EventSignedOut      Event = "SIGNED_OUT"
	EventTokenRefreshed Event = "TOKEN_REFRESHED"
)

// Listener はセッション変更通知を受け取る。sessionはサインアウト時にnil。
type Listener func(event Event, session *model.Session)

// AuthOptions はAuthの生成オプション。
type AuthOptions struct {
	// Verifier が設定されている場合、アクセストークンのクレームからIDとロールを取得する。
	Verifier *TokenVerifier
	// RefreshToken は永続化されていたリフレッシュトークン。初回のGetSessionで復元に使う。
	RefreshToken string
	Now          func() time.Time
}

// Auth は1つのクライアントの認証状態を保持する。
type Auth struct {
	transport *Transport
	verifier  *TokenVerifier
	now       func() time.Time

	// refreshMuはトークン更新を1本に絞る。notifyMuは状態の差し替えと通知の順序を一致させる。
	refreshMu sync.Mutex
	notifyMu  sync.Mutex

	mu           sync.Mutex
	session      *model.Session
	gen          uint64 // 状態を差し替えるたびに増える
	pending      string
	codeVerifier string
	listeners    map[uint64]Listener
	nextID       uint64
}

// NewAuth はAuthを生成する。
func NewAuth(transport *Transport, opts AuthOptions) *Auth {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Auth{
		transport: transport,
		verifier:  opts.Verifier,
		now:       now,
		pending:   opts.RefreshToken,
		listeners: make(map[uint64]Listener),
	}
}

// tokenResponse はGoTrueのトークンエンドポイントの応答。
type tokenResponse struct {
	AccessToken  string   `json:"access_token"`
	TokenType    string   `json:"token_type"`
	ExpiresIn    int64    `json:"expires_in"`
	ExpiresAt    int64    `json:"expires_at"`
	RefreshToken string   `json:"refresh_token"`
	User         authUser `json:"user"`
}

type authUser struct {
	ID          string         `json:"id"`
	Email       string         `json:"email"`
	AppMetadata map[string]any `json:"app_metadata"`
}

// GetSession は現在のセッションを返す。セッションがない場合はnil。
// 失効間近のトークンは更新し、永続化されたリフレッシュトークンがあれば復元する。
func (a *Auth) GetSession(ctx context.Context) (*model.Session, error) {
	a.refreshMu.Lock()
	defer a.refreshMu.Unlock()

	a.mu.Lock()
	current := a.session
	pending := a.pending
	a.mu.Unlock()

	if current == nil {
		if pending == "" {
			return nil, nil
		}
		a.mu.Lock()
		a.pending = ""
		a.mu.Unlock()
		return a.refresh(ctx, pending)
	}

	if current.RefreshToken == "" {
		if current.Expired(a.now()) {
			a.clear()
			return nil, nil
		}
		return current, nil
	}
	if current.Expired(a.now().Add(refreshMargin)) {
		return a.refresh(ctx, current.RefreshToken)
	}

	return current, nil
}

// refresh はリフレッシュトークンで新しいセッションを取得する。
// 失敗した場合はローカルのセッションを破棄する。
// 更新中にサインイン・サインアウトがあった場合、更新結果は捨てて現在の状態を返す。
func (a *Auth) refresh(ctx context.Context, refreshToken string) (*model.Session, error) {
	a.mu.Lock()
	gen := a.gen
	a.mu.Unlock()

	sess, err := a.token(ctx, "refresh_token", map[string]string{
		"refresh_token": refreshToken,
	})
	if err != nil {
		if _, applied := a.transition(nil, EventSignedOut, gen); !applied {
			return a.current(), nil
		}
		return nil, fmt.Errorf("failed to refresh session: %w", err)
	}

	current, _ := a.transition(sess, EventTokenRefreshed, gen)
	return current, nil
}

// SignInWithPassword はメールアドレスとパスワードでサインインする。
func (a *Auth) SignInWithPassword(ctx context.Context, email, password string) error {
	sess, err := a.token(ctx, "password", map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return fmt.Errorf("failed to sign in with password: %w", err)
	}

	a.set(sess, EventSignedIn)
	return nil
}

// SignInWithOAuth はプロバイダの認可URLを生成する。
// PKCEのverifierはこのAuthに保持され、ExchangeCodeForSessionで使われる。
// サインインの結果はコールバック経由でのみ観測できる。
func (a *Auth) SignInWithOAuth(provider, redirectTo string) (string, error) {
	if provider == "" {
		return "", fmt.Errorf("failed to build oauth url: provider is empty")
	}

	verifier := oauth2.GenerateVerifier()

	a.mu.Lock()
	a.codeVerifier = verifier
	a.mu.Unlock()

	q := url.Values{}
	q.Set("provider", provider)
	if redirectTo != "" {
		q.Set("redirect_to", redirectTo)
	}
	q.Set("code_challenge", oauth2.S256ChallengeFromVerifier(verifier))
	q.Set("code_challenge_method", "s256")

	return a.transport.BaseURL() + "/auth/v1/authorize?" + q.Encode(), nil
}

// ExchangeCodeForSession はOAuthコールバックで受け取った認可コードをセッションに交換する。
func (a *Auth) ExchangeCodeForSession(ctx context.Context, code string) error {
	a.mu.Lock()
	verifier := a.codeVerifier
	a.codeVerifier = ""
	a.mu.Unlock()

	if verifier == "" {
		return ErrMissingCodeVerifier
	}

	sess, err := a.token(ctx, "pkce", map[string]string{
		"auth_code":     code,
		"code_verifier": verifier,
	})
	if err != nil {
		return fmt.Errorf("failed to exchange code: %w", err)
	}

	a.set(sess, EventSignedIn)
	return nil
}

// SignOut はサインアウトする。リモート呼び出しが失敗してもローカルのセッションは破棄する。
func (a *Auth) SignOut(ctx context.Context) error {
	a.mu.Lock()
	current := a.session
	a.mu.Unlock()

	var remoteErr error
	if current != nil {
		_, remoteErr = a.transport.send(ctx, request{
			op:     "auth_logout",
			target: "auth",
			method: http.MethodPost,
			path:   "/auth/v1/logout",
			token:  current.AccessToken,
		})
	}

	a.clear()

	if remoteErr != nil {
		return fmt.Errorf("failed to sign out: %w", remoteErr)
	}
	return nil
}

// OnSessionChange はセッション変更通知のリスナーを登録し、解除関数を返す。
func (a *Auth) OnSessionChange(listener Listener) func() {
	a.mu.Lock()
	id := a.nextID
	a.nextID++
	a.listeners[id] = listener
	a.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			a.mu.Lock()
			delete(a.listeners, id)
			a.mu.Unlock()
		})
	}
}

// AccessToken はテーブル・RPC呼び出しに使うアクセストークンを返す。
// セッションがない場合は空文字（匿名キーで呼び出す）。
func (a *Auth) AccessToken(ctx context.Context) (string, error) {
	sess, err := a.GetSession(ctx)
	if err != nil {
		return "", err
	}
	if sess == nil {
		return "", nil
	}
	return sess.AccessToken, nil
}

// RefreshToken は永続化用のリフレッシュトークンを返す。
// 復元前であれば永続化されていた値をそのまま返す。
func (a *Auth) RefreshToken() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session != nil {
		return a.session.RefreshToken
	}
	return a.pending
}

// token はトークンエンドポイントを呼び出し、応答をセッションに変換する。
func (a *Auth) token(ctx context.Context, grantType string, body map[string]string) (*model.Session, error) {
	resp, err := a.transport.send(ctx, request{
		op:     "auth_token",
		target: grantType,
		method: http.MethodPost,
		path:   "/auth/v1/token",
		query:  url.Values{"grant_type": []string{grantType}},
		body:   body,
	})
	if err != nil {
		return nil, err
	}

	var tr tokenResponse
	if err := decodeJSON(resp.body, &tr); err != nil {
		return nil, err
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("token response has no access token")
	}

	return a.sessionFromToken(&tr)
}

// sessionFromToken はトークン応答からSessionを組み立てる。
func (a *Auth) sessionFromToken(tr *tokenResponse) (*model.Session, error) {
	tok := &oauth2.Token{
		AccessToken:  tr.AccessToken,
		TokenType:    tr.TokenType,
		RefreshToken: tr.RefreshToken,
	}
	switch {
	case tr.ExpiresAt > 0:
		tok.Expiry = time.Unix(tr.ExpiresAt, 0)
	case tr.ExpiresIn > 0:
		tok.Expiry = a.now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}

	sess := &model.Session{
		UserID:       tr.User.ID,
		Email:        tr.User.Email,
		Role:         roleFromMetadata(tr.User.AppMetadata),
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}

	if a.verifier != nil {
		claims, err := a.verifier.Verify(tok.AccessToken)
		if err != nil {
			return nil, err
		}
		sess.UserID = claims.Subject
		sess.Email = claims.Email
		sess.Role = claims.Role()
		if claims.ExpiresAt != nil {
			sess.ExpiresAt = claims.ExpiresAt.Time
		}
	}

	if sess.UserID == "" {
		return nil, fmt.Errorf("token response has no user id")
	}
	return sess, nil
}

// anyGen はtransitionで世代を確認しないことを示す。
const anyGen = ^uint64(0)

// set はセッションを差し替えてリスナーに通知する。
func (a *Auth) set(sess *model.Session, event Event) {
	a.transition(sess, event, anyGen)
}

// clear はセッションを破棄し、セッションがあった場合はサインアウトを通知する。
func (a *Auth) clear() {
	a.transition(nil, EventSignedOut, anyGen)
}

// transition はセッションを差し替え、差し替えた順にリスナーへ通知する。
// expectがanyGen以外で、その後に別の差し替えがあった場合は何もせず現在のセッションとfalseを返す。
// リスナーはnotifyMuの保持中に呼ばれるため、Authの状態を変更してはならない。
func (a *Auth) transition(sess *model.Session, event Event, expect uint64) (*model.Session, bool) {
	a.notifyMu.Lock()
	defer a.notifyMu.Unlock()

	a.mu.Lock()
	if expect != anyGen && expect != a.gen {
		current := a.session
		a.mu.Unlock()
		return current, false
	}
	had := a.session != nil
	a.session = sess
	if sess == nil {
		a.pending = ""
	}
	a.gen++
	listeners := a.snapshotListeners()
	a.mu.Unlock()

	if sess == nil && !had {
		return nil, true
	}
	for _, l := range listeners {
		l(event, sess)
	}
	return sess, true
}

func (a *Auth) current() *model.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session
}

// snapshotListeners はa.muを保持した状態で呼び出すこと。
func (a *Auth) snapshotListeners() []Listener {
	out := make([]Listener, 0, len(a.listeners))
	for _, l := range a.listeners {
		out = append(out, l)
	}
	return out
}
