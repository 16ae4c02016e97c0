package store

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/babyprofile/internal/model"
)

// Claims はストアが発行するアクセストークンのクレーム。
type Claims struct {
	Email       string         `json:"email"`
	AppMetadata map[string]any `json:"app_metadata"`
	jwt.RegisteredClaims
}

// Role はapp_metadataのロールクレームを返す。未設定の場合は"user"。
func (c *Claims) Role() string {
	return roleFromMetadata(c.AppMetadata)
}

// TokenVerifier はHS256で署名されたアクセストークンを検証する。
type TokenVerifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewTokenVerifier はJWTシークレットからTokenVerifierを生成する。
func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
		),
	}
}

// Verify はトークンの署名と有効期限を検証し、クレームを返す。
func (v *TokenVerifier) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := v.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to verify access token: %w", err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("failed to verify access token: missing subject")
	}
	return claims, nil
}

// roleFromMetadata はapp_metadataからロールを取り出す。
func roleFromMetadata(md map[string]any) string {
	if role, ok := md["role"].(string); ok && role != "" {
		return role
	}
	return model.RoleUser
}
