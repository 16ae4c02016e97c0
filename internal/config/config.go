package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// CallbackPath はOAuthプロバイダーから戻るパス。
const CallbackPath = "/auth-callback"

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Remote store
	StoreURL       string
	StoreAnonKey   string
	StoreJWTSecret string
	StoreTimeout   time.Duration
	StoreRateLimit float64 // req/sec
	StoreRateBurst int

	// OAuth
	OAuthProvider         string
	CallbackRedirectDelay time.Duration

	// Session
	SessionSecret        string
	SessionMaxAge        int
	WorkspaceIdleTimeout time.Duration

	// Profile
	ProfileAllocationMaxAttempts int

	// Rate Limit (req/min)
	RateLimitGeneral  int
	RateLimitMutation int

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// CallbackURL はOAuthプロバイダーに渡す戻り先URLを返す。
func (c *Config) CallbackURL() string {
	return strings.TrimRight(c.BaseURL, "/") + CallbackPath
}

// MigrationConfig はmigrateコマンドの設定。
type MigrationConfig struct {
	DatabaseURL string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	cfg.StoreURL = strings.TrimRight(os.Getenv("STORE_URL"), "/")
	if cfg.StoreURL == "" {
		missing = append(missing, "STORE_URL")
	}

	cfg.StoreAnonKey = os.Getenv("STORE_ANON_KEY")
	if cfg.StoreAnonKey == "" {
		missing = append(missing, "STORE_ANON_KEY")
	}

	cfg.SessionSecret = os.Getenv("SESSION_SECRET")
	if cfg.SessionSecret == "" {
		missing = append(missing, "SESSION_SECRET")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.StoreJWTSecret = getEnvString("STORE_JWT_SECRET", "")
	cfg.StoreTimeout = getEnvDuration("STORE_TIMEOUT", 30*time.Second)
	cfg.StoreRateLimit = getEnvFloat("STORE_RATE_LIMIT", 20)
	cfg.StoreRateBurst = getEnvInt("STORE_RATE_BURST", 20)
	cfg.OAuthProvider = getEnvString("OAUTH_PROVIDER", "google")
	cfg.CallbackRedirectDelay = getEnvDuration("CALLBACK_REDIRECT_DELAY", 3*time.Second)
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 30*86400)
	cfg.WorkspaceIdleTimeout = getEnvDuration("WORKSPACE_IDLE_TIMEOUT", 30*time.Minute)
	cfg.ProfileAllocationMaxAttempts = getEnvInt("PROFILE_ALLOCATION_MAX_ATTEMPTS", 3)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitMutation = getEnvInt("RATE_LIMIT_MUTATION", 30)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "")

	return cfg, nil
}

// LoadMigration はmigrateコマンド用の設定を読み込む。
func LoadMigration() (*MigrationConfig, error) {
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		return nil, fmt.Errorf("required environment variables are not set: [DATABASE_URL]")
	}
	return &MigrationConfig{DatabaseURL: url}, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
