package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/hitoshi/babyprofile/internal/store"
)

// Transport はこのサーバーに向けたTransportを返す。
func (s *Server) Transport() *store.Transport {
	return store.NewTransport(store.TransportConfig{
		BaseURL: s.URL,
		APIKey:  APIKey,
		Timeout: 5 * time.Second,
	})
}

// NewClient はこのサーバーに向けたstore.Clientを返す。
func (s *Server) NewClient(opts store.AuthOptions) *store.Client {
	t := s.Transport()
	return store.NewClient(t, store.NewAuth(t, opts))
}

// SignedInClient はパスワードでサインイン済みのstore.Clientを返す。
func (s *Server) SignedInClient(t testing.TB, email, password string) *store.Client {
	t.Helper()
	c := s.NewClient(store.AuthOptions{})
	if err := c.Auth().SignInWithPassword(context.Background(), email, password); err != nil {
		t.Fatalf("failed to sign in as %s: %v", email, err)
	}
	return c
}
