// Package backend is the HTTP client for the ToolLink REST API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/and161185/toollink/internal/errs"
	"github.com/and161185/toollink/internal/model"
	"golang.org/x/oauth2"
)

// TokenReader provides the current bearer token; empty means none.
type TokenReader interface {
	Token() (string, error)
}

// TokenFunc adapts a function to TokenReader.
type TokenFunc func() (string, error)

// Token returns f().
func (f TokenFunc) Token() (string, error) { return f() }

// Client calls the auth endpoints and exposes Do for the other resources.
type Client struct {
	base   *url.URL
	plain  *http.Client
	authed *http.Client
	tokens TokenReader
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying transport client (tests, proxies).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.plain = hc }
}

// New builds a client for baseURL (e.g. http://localhost:3001/api).
func New(baseURL string, tokens TokenReader, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("backend url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("backend url: unsupported scheme %q", u.Scheme)
	}
	if tokens == nil {
		return nil, errors.New("backend: token reader is required")
	}
	c := &Client{base: u, plain: &http.Client{}, tokens: tokens}
	for _, o := range opts {
		o(c)
	}
	baseRT := c.plain.Transport
	if baseRT == nil {
		baseRT = http.DefaultTransport
	}
	c.authed = &http.Client{
		Transport: &oauth2.Transport{Source: tokenSource{r: tokens}, Base: baseRT},
		Timeout:   c.plain.Timeout,
	}
	return c, nil
}

// Login posts credentials. Rejections come back as a response with Success=false, not as an error.
func (c *Client) Login(ctx context.Context, email, password string) (model.LoginResponse, error) {
	var out model.LoginResponse
	err := c.call(ctx, c.plain, http.MethodPost, "auth/login", model.LoginRequest{Email: email, Password: password}, &out, true)
	return out, err
}

// Register creates an account.
func (c *Client) Register(ctx context.Context, req model.RegisterRequest) (model.RegisterResponse, error) {
	var out model.RegisterResponse
	err := c.call(ctx, c.plain, http.MethodPost, "auth/register", req, &out, true)
	return out, err
}

// Logout invalidates the server-side session. Without a token (stored or pinned via
// ContextWithToken) it is sent anonymously.
func (c *Client) Logout(ctx context.Context) error {
	hc := c.plain
	if tok, err := c.tokens.Token(); err == nil && tok != "" {
		hc = c.authed
	}
	var out model.BasicResponse
	return c.call(ctx, hc, http.MethodPost, "auth/logout", nil, &out, false)
}

// Me fetches the identity bound to the current token.
func (c *Client) Me(ctx context.Context) (*model.Identity, error) {
	var raw json.RawMessage
	if err := c.call(ctx, c.authed, http.MethodGet, "auth/me", nil, &raw, false); err != nil {
		return nil, err
	}
	return decodeIdentity(raw)
}

// RefreshToken asks for a renewed token.
func (c *Client) RefreshToken(ctx context.Context) (string, error) {
	var out model.RefreshResponse
	if err := c.call(ctx, c.authed, http.MethodPost, "auth/refresh-token", nil, &out, false); err != nil {
		return "", err
	}
	if !out.Success || out.Token == "" {
		return "", fmt.Errorf("refresh token: %w", errs.ErrUnauthorized)
	}
	return out.Token, nil
}

// Do performs an authenticated JSON call against path relative to the base URL.
func (c *Client) Do(ctx context.Context, method, path string, in, out any) error {
	return c.call(ctx, c.authed, method, path, in, out, false)
}

// decodeIdentity accepts both a bare user object and a {"user": {...}} envelope.
func decodeIdentity(raw json.RawMessage) (*model.Identity, error) {
	var env struct {
		User *model.Identity `json:"user"`
	}
	if err := json.Unmarshal(raw, &env); err == nil && env.User != nil {
		return env.User, nil
	}
	var id model.Identity
	if err := json.Unmarshal(raw, &id); err != nil {
		return nil, fmt.Errorf("decode user: %w", err)
	}
	if id.ID == "" {
		return nil, fmt.Errorf("decode user: %w", errs.ErrUnauthorized)
	}
	return &id, nil
}

func (c *Client) call(ctx context.Context, hc *http.Client, method, path string, in, out any, decodeRejection bool) error {
	u := c.base.JoinPath(path)

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok, ok := TokenFromContext(ctx); ok {
		hc = c.plain
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return classify(ctx, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return classify(ctx, err)
	}

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("%s %s: status %d: %w", method, path, resp.StatusCode, errs.ErrBackendUnreachable)
	case resp.StatusCode >= 400 && decodeRejection:
		// credential endpoints carry {success:false, errorType, ...} in 4xx bodies
		if out != nil && len(bytes.TrimSpace(data)) > 0 && json.Unmarshal(data, out) == nil {
			return nil
		}
		return fmt.Errorf("%s %s: status %d: %w", method, path, resp.StatusCode, errs.ErrInvalidCredentials)
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%s %s: %w", method, path, errs.ErrUnauthorized)
	case resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%s %s: %w", method, path, errs.ErrForbidden)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s %s: %w", method, path, errs.ErrNotFound)
	case resp.StatusCode >= 400:
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, errorMessage(data))
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s %s: decode: %w", method, path, err)
	}
	return nil
}

func errorMessage(data []byte) string {
	var r model.BasicResponse
	if json.Unmarshal(data, &r) == nil && r.Error != "" {
		return r.Error
	}
	return strings.TrimSpace(string(data))
}

func classify(ctx context.Context, err error) error {
	if errors.Is(err, errs.ErrUnauthorized) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", errs.ErrNetworkTimeout, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %v", errs.ErrNetworkTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", errs.ErrBackendUnreachable, err)
}

// tokenSource feeds the persisted token to oauth2.Transport on every request.
type tokenSource struct{ r TokenReader }

func (s tokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.r.Token()
	if err != nil {
		return nil, err
	}
	if tok == "" {
		return nil, fmt.Errorf("no access token: %w", errs.ErrUnauthorized)
	}
	t := &oauth2.Token{AccessToken: tok, TokenType: "Bearer"}
	if exp, ok := TokenExpiry(tok); ok {
		t.Expiry = exp
	}
	return t, nil
}
