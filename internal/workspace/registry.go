package workspace

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// 既定値
const (
	DefaultIdleTimeout     = 30 * time.Minute
	DefaultCleanupInterval = 5 * time.Minute
)

// Registry はクライアントIDごとのWorkspaceを保持する。
// 一定時間アクセスのないWorkspaceはバックグラウンドで破棄する。
type Registry struct {
	config Config
	deps   Deps

	mu    sync.RWMutex
	items map[string]*Workspace

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewRegistry は新しいRegistryを生成し、クリーンアップを開始する。
func NewRegistry(config Config, deps Deps) *Registry {
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = DefaultIdleTimeout
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = DefaultCleanupInterval
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	r := &Registry{
		config: config,
		deps:   deps,
		items:  make(map[string]*Workspace),
		stopCh: make(chan struct{}),
	}

	go r.cleanupLoop()

	return r
}

// Acquire はクライアントIDに対応するWorkspaceを返す。
// 存在しない場合はリフレッシュトークンから復元したWorkspaceを作成する。
// IDが空または不正な場合は新しいIDを払い出す。
func (r *Registry) Acquire(ctx context.Context, clientID, refreshToken string) *Workspace {
	now := r.deps.Now()

	if _, err := uuid.Parse(clientID); err != nil {
		clientID = uuid.NewString()
		refreshToken = ""
	}

	r.mu.RLock()
	ws, exists := r.items[clientID]
	r.mu.RUnlock()

	if !exists {
		r.mu.Lock()
		// ダブルチェック
		if ws, exists = r.items[clientID]; !exists {
			ws = newWorkspace(clientID, refreshToken, r.config, r.deps)
			r.items[clientID] = ws
		}
		count := len(r.items)
		r.mu.Unlock()

		r.recordCount(count)
	}

	ws.touch(now)
	ws.Sessions.Initialize(ctx)
	return ws
}

// Remove はWorkspaceを破棄する。
func (r *Registry) Remove(clientID string) {
	r.mu.Lock()
	ws, ok := r.items[clientID]
	delete(r.items, clientID)
	count := len(r.items)
	r.mu.Unlock()

	if ok {
		ws.close()
		r.recordCount(count)
	}
}

// Len は保持しているWorkspaceの数を返す。
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// Stop はクリーンアップを停止し、すべてのWorkspaceを破棄する。
func (r *Registry) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)

		r.mu.Lock()
		items := r.items
		r.items = make(map[string]*Workspace)
		r.mu.Unlock()

		for _, ws := range items {
			ws.close()
		}
		r.recordCount(0)
	})
}

// cleanupLoop はバックグラウンドで放置されたWorkspaceを定期的に破棄する。
func (r *Registry) cleanupLoop() {
	ticker := time.NewTicker(r.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.cleanup()
		case <-r.stopCh:
			return
		}
	}
}

// cleanup は最終アクセスからIdleTimeoutを超えたWorkspaceを破棄する。
func (r *Registry) cleanup() {
	now := r.deps.Now()

	var evicted []*Workspace
	r.mu.Lock()
	for id, ws := range r.items {
		if ws.idleSince(now) > r.config.IdleTimeout {
			delete(r.items, id)
			evicted = append(evicted, ws)
		}
	}
	count := len(r.items)
	r.mu.Unlock()

	for _, ws := range evicted {
		ws.close()
	}
	if len(evicted) > 0 {
		r.deps.Logger.Info("evicted idle workspaces",
			slog.Int("evicted", len(evicted)),
			slog.Int("remaining", count),
		)
		r.recordCount(count)
	}
}

func (r *Registry) recordCount(n int) {
	if r.deps.Metrics != nil {
		r.deps.Metrics.SetActiveWorkspaces(n)
	}
}
