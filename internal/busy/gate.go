// Package busy は同じ操作の二重実行を防ぐ。
// 実行中の操作を取り消すことはせず、後から来た呼び出しを拒否する。
package busy

import (
	"sort"
	"sync"
)

// Gate は操作名ごとの実行中フラグ。
type Gate struct {
	mu      sync.Mutex
	pending map[string]struct{}
}

// NewGate はGateを生成する。
func NewGate() *Gate {
	return &Gate{pending: make(map[string]struct{})}
}

// TryAcquire は操作の実行権を取得する。既に実行中の場合はfalseを返す。
// 取得できた場合は完了時にreleaseを呼ぶこと。
func (g *Gate) TryAcquire(action string) (release func(), ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, busy := g.pending[action]; busy {
		return nil, false
	}
	g.pending[action] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.pending, action)
			g.mu.Unlock()
		})
	}, true
}

// Pending は実行中の操作名を返す。
func (g *Gate) Pending() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]string, 0, len(g.pending))
	for action := range g.pending {
		out = append(out, action)
	}
	sort.Strings(out)
	return out
}
