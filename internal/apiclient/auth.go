package apiclient

import (
	"context"
	"net/http"

	"github.com/diagnosis/staybook/internal/session"
)

// AuthClient covers the endpoints that run before a session holds a usable token.
type AuthClient struct {
	t *Transport
}

func NewAuthClient(t *Transport) *AuthClient {
	return &AuthClient{t: t}
}

type tokenResponse struct {
	Token        string `json:"token"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

func (r tokenResponse) tokens() session.Tokens {
	access := r.Token
	if access == "" {
		access = r.AccessToken
	}
	return session.Tokens{AccessToken: access, RefreshToken: r.RefreshToken}
}

func (c *AuthClient) Login(ctx context.Context, email, password string) (session.Tokens, error) {
	var out tokenResponse
	err := c.t.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/login",
		body:   map[string]string{"email": email, "password": password},
	}, &out)
	if err != nil {
		return session.Tokens{}, err
	}
	return out.tokens(), nil
}

func (c *AuthClient) Register(ctx context.Context, req session.RegisterRequest) (session.Tokens, error) {
	var out tokenResponse
	err := c.t.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/register",
		body:   req,
	}, &out)
	if err != nil {
		return session.Tokens{}, err
	}
	return out.tokens(), nil
}

func (c *AuthClient) Refresh(ctx context.Context, refreshToken string) (string, error) {
	var out tokenResponse
	err := c.t.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/refresh-token",
		body:   map[string]string{"refreshToken": refreshToken},
	}, &out)
	if err != nil {
		return "", err
	}
	return out.tokens().AccessToken, nil
}

func (c *AuthClient) Logout(ctx context.Context, accessToken string) error {
	return c.t.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/logout",
		token:  accessToken,
	}, nil)
}
