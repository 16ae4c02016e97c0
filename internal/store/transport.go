// Package store はSupabase互換のリモートストア（認証・テーブル・RPC）のクライアントを提供する。
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// maxResponseSize はレスポンスボディの最大読み取りサイズ。
const maxResponseSize = 10 * 1024 * 1024

// Recorder はストア呼び出しのメトリクスを記録する。
type Recorder interface {
	RecordStoreCall(op, target, outcome string, duration time.Duration)
}

// TransportConfig はTransportの設定。
type TransportConfig struct {
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	RateLimit rate.Limit // 0以下の場合は無制限
	Burst     int

	// HTTPClient はテスト用に差し替え可能。nilの場合はTimeoutから生成する。
	HTTPClient *http.Client
	Recorder   Recorder
	Logger     *slog.Logger
}

// Transport はリモートストアへのHTTP送信を担う。
// 状態を持たないため、すべてのWorkspaceで共有する。
type Transport struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	recorder   Recorder
	logger     *slog.Logger
}

// NewTransport はTransportを生成する。
func NewTransport(cfg TransportConfig) *Transport {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	limit := cfg.RateLimit
	burst := cfg.Burst
	if limit <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Transport{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(limit, burst),
		recorder:   cfg.Recorder,
		logger:     logger,
	}
}

// BaseURL はストアのベースURLを返す。
func (t *Transport) BaseURL() string {
	return t.baseURL
}

// request はストアへの1回の呼び出しを表す。
type request struct {
	op     string // メトリクス用の操作名（select, insert, rpc, auth_token など）
	target string // テーブル名・プロシージャ名
	method string
	path   string
	query  url.Values
	body   any
	token  string
	prefer string
}

// response はストアからの応答。
type response struct {
	status int
	header http.Header
	body   []byte
}

// send はリクエストを送信し、4xx/5xxを*Errorに変換して返す。
func (t *Transport) send(ctx context.Context, req request) (*response, error) {
	start := time.Now()
	resp, err := t.roundTrip(ctx, req)

	outcome := "success"
	if err != nil {
		outcome = "error"
		t.logger.Warn("store call failed",
			slog.String("op", req.op),
			slog.String("target", req.target),
			slog.String("error", err.Error()),
		)
	}
	if t.recorder != nil {
		t.recorder.RecordStoreCall(req.op, req.target, outcome, time.Since(start))
	}

	return resp, err
}

func (t *Transport) roundTrip(ctx context.Context, req request) (*response, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("failed to wait for store rate limiter: %w", err)
	}

	var body io.Reader
	if req.body != nil {
		data, err := json.Marshal(req.body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	endpoint := t.baseURL + req.path
	if len(req.query) > 0 {
		endpoint += "?" + req.query.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	token := req.token
	if token == "" {
		token = t.apiKey
	}
	httpReq.Header.Set("apikey", t.apiKey)
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Accept", "application/json")
	if req.body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.prefer != "" {
		httpReq.Header.Set("Prefer", req.prefer)
	}

	httpResp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to call store: %w", err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read store response: %w", err)
	}

	if httpResp.StatusCode >= http.StatusBadRequest {
		return nil, parseError(httpResp.StatusCode, data)
	}

	return &response{
		status: httpResp.StatusCode,
		header: httpResp.Header,
		body:   data,
	}, nil
}

// Health はストアの認証サブシステムの疎通を確認する。
func (t *Transport) Health(ctx context.Context) error {
	_, err := t.send(ctx, request{
		op:     "health",
		target: "auth",
		method: http.MethodGet,
		path:   "/auth/v1/health",
	})
	return err
}
