package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	"github.com/hitoshi/babyprofile/internal/config"
	"github.com/hitoshi/babyprofile/internal/database"
	"github.com/hitoshi/babyprofile/internal/handler"
	"github.com/hitoshi/babyprofile/internal/logger"
	"github.com/hitoshi/babyprofile/internal/metrics"
	"github.com/hitoshi/babyprofile/internal/middleware"
	"github.com/hitoshi/babyprofile/internal/security"
	"github.com/hitoshi/babyprofile/internal/store"
	"github.com/hitoshi/babyprofile/internal/workspace"
)

// shutdownTimeout はグレースフルシャットダウンの待ち時間。
const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、環境変数からConfigを読み込む。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd, known := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	if cmd == CommandMigrate {
		logger.SetupDefault(w)
		mcfg, err := config.LoadMigration()
		if err != nil {
			return fmt.Errorf("initialization failed: %w", err)
		}
		return runMigrate(mcfg)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}
	if !known {
		slog.Warn("unknown command, starting server", slog.String("command", args[0]))
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return runServe(ctx, cfg)
}

// Server は依存関係をワイヤリング済みのHTTPサーバー。
type Server struct {
	http       *http.Server
	workspaces *workspace.Registry
	limiter    *middleware.RateLimiter
}

// NewServer は設定からHTTPサーバーを構築する。ネットワーク接続は行わない。
func NewServer(cfg *config.Config) *Server {
	log := slog.Default()

	// 1. メトリクス
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(promReg)

	// 2. リモートストア
	transport := store.NewTransport(store.TransportConfig{
		BaseURL:   cfg.StoreURL,
		APIKey:    cfg.StoreAnonKey,
		Timeout:   cfg.StoreTimeout,
		RateLimit: rate.Limit(cfg.StoreRateLimit),
		Burst:     cfg.StoreRateBurst,
		Recorder:  collector,
		Logger:    log,
	})
	var verifier *store.TokenVerifier
	if cfg.StoreJWTSecret != "" {
		verifier = store.NewTokenVerifier(cfg.StoreJWTSecret)
	}

	// 3. ブラウザクライアントごとのWorkspace
	registry := workspace.NewRegistry(workspace.Config{
		OAuthProvider:         cfg.OAuthProvider,
		CallbackURL:           cfg.CallbackURL(),
		CallbackDelay:         cfg.CallbackRedirectDelay,
		MaxAllocationAttempts: cfg.ProfileAllocationMaxAttempts,
		IdleTimeout:           cfg.WorkspaceIdleTimeout,
	}, workspace.Deps{
		Transport: transport,
		Verifier:  verifier,
		Sanitizer: security.NewTextSanitizer(),
		Metrics:   collector,
		Logger:    log,
	})

	// 4. 画面テンプレート（埋め込みのため失敗はビルド不良）
	pages, err := handler.NewRenderer()
	if err != nil {
		panic(fmt.Sprintf("failed to parse templates: %v", err))
	}

	// 5. ルーター
	limiter := middleware.NewRateLimiter(
		middleware.PerMinuteRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitMutation),
	)
	router := handler.NewRouter(&handler.RouterDeps{
		Workspaces: registry,
		Cookies: middleware.NewCookieStore(middleware.CookieConfig{
			Secret: cfg.SessionSecret,
			Secure: cfg.CookieSecure,
			Domain: cfg.CookieDomain,
			MaxAge: cfg.SessionMaxAge,
		}),
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       limiter,
		Logger:            log,
		Metrics:           collector,
		Gatherer:          promReg,
		HealthChecker:     transport,
		Pages:             pages,
	})

	return &Server{
		http: &http.Server{
			Addr:         ":" + cfg.ServerPort,
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		workspaces: registry,
		limiter:    limiter,
	}
}

// Handler はルーターを返す。
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Close はバックグラウンドのクリーンアップを停止する。
func (s *Server) Close() {
	s.limiter.Stop()
	s.workspaces.Stop()
}

// Serve はlnで接続を受け付け、ctxがキャンセルされるとグレースフルシャットダウンする。
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", ln.Addr().String()))
		errCh <- s.http.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runServe はAPIサーバーモードで起動する。
// ctxがキャンセルされる（SIGINT/SIGTERM）とグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	srv := NewServer(cfg)
	defer srv.Close()

	ln, err := net.Listen("tcp", srv.http.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", srv.http.Addr, err)
	}
	return srv.Serve(ctx, ln)
}

// runMigrate はスキーマのマイグレーションを実行し、必要なオブジェクトが揃ったことを確認する。
func runMigrate(cfg *config.MigrationConfig) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := database.CheckSchema(ctx, db); err != nil {
		return fmt.Errorf("migration verification failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
