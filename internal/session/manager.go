// Package session はクライアントごとの現在セッションを保持し、ストアからの変更通知を反映する。
package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/hitoshi/babyprofile/internal/model"
	"github.com/hitoshi/babyprofile/internal/store"
)

// lifecycle はセッション解決の進み具合。
type lifecycle int32

const (
	lifecycleUninitialized lifecycle = iota
	lifecycleLoading
	lifecycleResolved
)

// String はログ出力用の名前を返す。
func (s lifecycle) String() string {
	switch s {
	case lifecycleUninitialized:
		return "uninitialized"
	case lifecycleLoading:
		return "loading"
	case lifecycleResolved:
		return "resolved"
	default:
		return "unknown"
	}
}

// Authenticator はManagerが必要とするストア認証APIの部分集合。
type Authenticator interface {
	GetSession(ctx context.Context) (*model.Session, error)
	OnSessionChange(listener store.Listener) func()
}

// Observer はセッション変更の記録先（メトリクス等）。
type Observer interface {
	RecordSessionEvent(event string)
}

// snapshot はセッションと世代番号の組。ポインタごと差し替える。
type snapshot struct {
	session *model.Session
	gen     uint64
}

// Manager は現在のセッションを1つだけ保持する。
// 変更通知は常に丸ごと差し替え、最後に届いた通知が勝つ。
type Manager struct {
	auth     Authenticator
	observer Observer
	logger   *slog.Logger

	current atomic.Pointer[snapshot]
	phase   atomic.Int32

	initOnce sync.Once
	ready    chan struct{}

	unsubscribe func()

	mu          sync.Mutex
	subscribers map[uint64]func(*model.Session)
	nextID      uint64
}

// NewManager はManagerを生成し、ストアの変更通知を1回だけ購読する。
func NewManager(auth Authenticator, observer Observer, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		auth:        auth,
		observer:    observer,
		logger:      logger,
		ready:       make(chan struct{}),
		subscribers: make(map[uint64]func(*model.Session)),
	}
	m.current.Store(&snapshot{})
	m.unsubscribe = auth.OnSessionChange(m.handleEvent)
	return m
}

// Initialize は起動時のセッション取得を1回だけ行う。
// 並行して呼ばれた場合は最初の呼び出しの完了を待つ。
// 取得に失敗した場合はセッションなしとして解決する。
func (m *Manager) Initialize(ctx context.Context) *model.Session {
	m.initOnce.Do(func() {
		m.phase.Store(int32(lifecycleLoading))
		before := m.current.Load()

		sess, err := m.auth.GetSession(ctx)
		if err != nil {
			m.logger.Warn("initial session fetch failed",
				slog.String("error", err.Error()),
			)
			sess = nil
		}

		// 取得中に通知が届いていればそちらを優先する
		m.current.CompareAndSwap(before, &snapshot{session: sess, gen: before.gen + 1})

		m.phase.Store(int32(lifecycleResolved))
		close(m.ready)
		m.logger.Debug("session resolved",
			slog.String("phase", m.state().String()),
			slog.Bool("authenticated", m.Current() != nil),
		)
	})

	<-m.ready
	return m.Current()
}

// Current は現在のセッションを返す。セッションがない場合はnil。
// 解決前に呼ばれた場合もnilを返す。
func (m *Manager) Current() *model.Session {
	return m.current.Load().session
}

func (m *Manager) state() lifecycle {
	return lifecycle(m.phase.Load())
}

// Subscribe はセッション変更の購読者を登録し、解除関数を返す。
func (m *Manager) Subscribe(fn func(*model.Session)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subscribers[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subscribers, id)
		m.mu.Unlock()
	}
}

// Close はストアの購読を解除する。
func (m *Manager) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
}

// handleEvent はストアからの変更通知でセッションを差し替える。
func (m *Manager) handleEvent(event store.Event, sess *model.Session) {
	for {
		old := m.current.Load()
		if m.current.CompareAndSwap(old, &snapshot{session: sess, gen: old.gen + 1}) {
			break
		}
	}

	m.logger.Info("session changed",
		slog.String("event", string(event)),
		slog.Bool("authenticated", sess != nil),
	)
	if m.observer != nil {
		m.observer.RecordSessionEvent(string(event))
	}

	m.mu.Lock()
	subs := make([]func(*model.Session), 0, len(m.subscribers))
	for _, fn := range m.subscribers {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	for _, fn := range subs {
		fn(sess)
	}
}
