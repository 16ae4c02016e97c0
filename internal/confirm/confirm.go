// Package confirm は削除前の明示的な確認を表すワンタイムトークンを発行する。
package confirm

import (
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// DefaultTTL は確認トークンの既定の有効期間。
const DefaultTTL = 2 * time.Minute

// ErrNotConfirmed はトークンが無効・期限切れ・対象違いのいずれかであることを表す。
var ErrNotConfirmed = errors.New("deletion not confirmed")

type pending struct {
	action    string
	target    string
	expiresAt time.Time
}

// Issuer は確認トークンを発行・消費する。
type Issuer struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	pending map[string]pending
}

// NewIssuer はIssuerを生成する。ttlが0以下の場合はDefaultTTLを使う。
func NewIssuer(ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{
		ttl:     ttl,
		now:     time.Now,
		pending: make(map[string]pending),
	}
}

// Issue は操作と対象に紐づくトークンを発行する。
func (i *Issuer) Issue(action, target string) (string, error) {
	now := i.now()
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", fmt.Errorf("failed to generate confirmation token: %w", err)
	}
	token := id.String()

	i.mu.Lock()
	defer i.mu.Unlock()

	i.prune(now)
	i.pending[token] = pending{
		action:    action,
		target:    target,
		expiresAt: now.Add(i.ttl),
	}
	return token, nil
}

// Redeem はトークンを消費する。トークンは一致しなくても消費される。
func (i *Issuer) Redeem(action, target, token string) error {
	if token == "" {
		return ErrNotConfirmed
	}

	i.mu.Lock()
	p, ok := i.pending[token]
	delete(i.pending, token)
	i.mu.Unlock()

	if !ok || p.action != action || p.target != target || !i.now().Before(p.expiresAt) {
		return ErrNotConfirmed
	}
	return nil
}

// Reset は未使用のトークンをすべて無効にする。
func (i *Issuer) Reset() {
	i.mu.Lock()
	clear(i.pending)
	i.mu.Unlock()
}

// prune は期限切れのトークンを削除する。i.muを保持した状態で呼び出すこと。
func (i *Issuer) prune(now time.Time) {
	for token, p := range i.pending {
		if !now.Before(p.expiresAt) {
			delete(i.pending, token)
		}
	}
}
