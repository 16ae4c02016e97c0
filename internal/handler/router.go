package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/sessions"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/babyprofile/internal/guard"
	"github.com/hitoshi/babyprofile/internal/metrics"
	"github.com/hitoshi/babyprofile/internal/middleware"
)

// HealthChecker はリモートストアの疎通を確認する。
type HealthChecker interface {
	Health(ctx context.Context) error
}

// RouterMetrics はルーターが記録するメトリクス。
type RouterMetrics interface {
	middleware.DecisionRecorder
	middleware.StatusRecorder
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Workspaces        middleware.WorkspaceResolver
	Cookies           sessions.Store
	CSRFConfig        middleware.CSRFConfig
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// 観測
	Metrics       RouterMetrics
	Gatherer      prometheus.Gatherer
	HealthChecker HealthChecker

	Pages *Renderer
}

// NewRouter は全ルートとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Recovery → Logging → Metrics → SecurityHeaders → CORS → Session → CSRF → RateLimit(General)
//
// /health と /metrics と静的ファイルはセッションの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger))
	if deps.Metrics != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.Metrics))
	}
	r.Use(middleware.NewSecurityHeadersMiddleware())
	if deps.CORSAllowedOrigin != "" {
		r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	}

	var recorder middleware.DecisionRecorder
	if deps.Metrics != nil {
		recorder = deps.Metrics
	}

	pages := NewPageHandler(deps.Pages)
	authHandler := NewAuthHandler(deps.Pages, deps.Workspaces)
	babyHandler := NewBabyHandler()
	profileHandler := NewProfileHandler()
	adminHandler := NewAdminHandler()

	// --- セッション不要のルート ---
	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}
	r.Handle("/static/*", staticHandler())

	// --- セッションを持つルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.Cookies, deps.Workspaces))
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.GeneralMiddleware())
		}

		r.Get(guard.RootPath, pages.Root)
		r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))

		// 認証
		r.Get("/auth/login", authHandler.Login)
		r.Post("/auth/password", authHandler.Password)
		r.Post("/auth/logout", authHandler.Logout)

		// 画面（要件はパスから決まる）
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewPageGuardMiddleware(recorder))

			r.Get(guard.LoginPath, pages.Login)
			r.Get(guard.AuthCallbackPath, authHandler.Callback)
			r.Get(guard.DashboardPath, pages.Dashboard)
			r.Get(guard.BabyListManagementPath, pages.BabyList)
			r.Get(guard.MakeNewProfilePath, pages.MakeNewProfile)
			r.Get(guard.SearchProfileHistoryPath, pages.SearchProfileHistory)
			r.Get("/profiles/{id}/print", pages.Print)
			r.Get(guard.SystemManagementPath, pages.SystemManagement)
		})

		// API（ログイン必須）
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAccess(guard.Authenticated, recorder))
			if deps.RateLimiter != nil {
				r.Use(deps.RateLimiter.MutationMiddleware())
			}

			r.Get("/api/me", authHandler.Me)

			r.Route("/api/babies", func(r chi.Router) {
				r.Get("/", babyHandler.List)
				r.Post("/", babyHandler.Create)
				r.Get("/names", babyHandler.ListNames)

				r.Route("/{id}", func(r chi.Router) {
					r.Put("/", babyHandler.Update)
					r.Delete("/", babyHandler.Delete)
					r.Post("/delete-confirmation", babyHandler.RequestDelete)
					r.Get("/profiles", profileHandler.ListByBaby)
				})
			})

			r.Route("/api/profiles", func(r chi.Router) {
				r.Post("/", profileHandler.Create)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", profileHandler.Get)
					r.Put("/", profileHandler.Update)
					r.Delete("/", profileHandler.Delete)
					r.Post("/delete-confirmation", profileHandler.RequestDelete)
				})
			})
		})

		// API（admin）
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAccess(guard.AdminOnly, recorder))
			if deps.RateLimiter != nil {
				r.Use(deps.RateLimiter.MutationMiddleware())
			}

			r.Route("/api/admin/users", func(r chi.Router) {
				r.Get("/", adminHandler.ListUsers)

				r.Route("/{id}", func(r chi.Router) {
					r.Put("/role", adminHandler.UpdateRole)
					r.Delete("/", adminHandler.DeleteUser)
					r.Post("/delete-confirmation", adminHandler.RequestDelete)
				})
			})
		})
	})

	r.NotFound(pages.NotFound)

	return r
}

// healthHandler はヘルスチェックのハンドラーを返す。
// ストアに到達できない場合は503を返す。
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel()
			if err := checker.Health(ctx); err != nil {
				slog.Warn("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
