package store

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Client は1つのクライアント（ブラウザ）に紐づくストアクライアント。
// テーブル・RPC呼び出しは現在のセッションのアクセストークンで行う。
type Client struct {
	transport *Transport
	auth      *Auth
}

// NewClient はClientを生成する。
func NewClient(transport *Transport, auth *Auth) *Client {
	return &Client{
		transport: transport,
		auth:      auth,
	}
}

// Auth は認証APIを返す。
func (c *Client) Auth() *Auth {
	return c.auth
}

// From はテーブル操作のビルダーを返す。
func (c *Client) From(table string) *Table {
	return &Table{client: c, name: table}
}

// RPC はストアドプロシージャを呼び出し、結果をdestにデコードする。
// destがnilの場合は結果を読み捨てる。
func (c *Client) RPC(ctx context.Context, proc string, args any, dest any) error {
	token, err := c.auth.AccessToken(ctx)
	if err != nil {
		return err
	}

	if args == nil {
		args = map[string]any{}
	}

	resp, err := c.transport.send(ctx, request{
		op:     "rpc",
		target: proc,
		method: http.MethodPost,
		path:   "/rest/v1/rpc/" + proc,
		body:   args,
		token:  token,
	})
	if err != nil {
		return err
	}

	if dest == nil || len(resp.body) == 0 {
		return nil
	}
	return decodeJSON(resp.body, dest)
}

// decodeJSON はレスポンスボディをデコードする。
func decodeJSON(body []byte, dest any) error {
	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("failed to decode store response: %w", err)
	}
	return nil
}
