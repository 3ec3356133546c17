package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/and161185/toollink/internal/errs"
	"github.com/and161185/toollink/internal/model"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestServer(t *testing.T) (*httptest.Server, *atomic.Value) {
	t.Helper()
	var lastAuth atomic.Value
	lastAuth.Store("")

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			lastAuth.Store(req.Header.Get("Authorization"))
			next.ServeHTTP(w, req)
		})
	})
	r.Post("/api/auth/login", func(w http.ResponseWriter, req *http.Request) {
		var in model.LoginRequest
		_ = json.NewDecoder(req.Body).Decode(&in)
		if in.Password != "admin123" {
			two := 2
			writeJSON(w, http.StatusUnauthorized, model.LoginResponse{
				Error: "Invalid credentials", ErrorType: model.ErrorInvalidCredentials, RemainingAttempts: &two,
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true, "token": "tok-1",
			"user": map[string]any{"id": 1, "email": in.Email, "role": "admin", "isActive": true},
		})
	})
	r.Post("/api/auth/register", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusCreated, model.RegisterResponse{Success: true, RequiresApproval: true})
	})
	r.Get("/api/auth/me", func(w http.ResponseWriter, req *http.Request) {
		if req.Header.Get("Authorization") != "Bearer tok-1" {
			writeJSON(w, http.StatusUnauthorized, model.BasicResponse{Error: "no"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "user": map[string]any{"id": "1", "role": "Admin"}})
	})
	r.Post("/api/auth/logout", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, model.BasicResponse{Success: true})
	})
	r.Post("/api/auth/refresh-token", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, model.RefreshResponse{Success: true, Token: "tok-2"})
	})
	r.Get("/api/boom", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	r.Get("/api/slow", func(w http.ResponseWriter, req *http.Request) {
		select {
		case <-req.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	r.Get("/api/forbidden", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusForbidden, model.BasicResponse{Error: "no"})
	})
	r.Get("/api/teapot", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusTeapot, model.BasicResponse{Error: "short and stout"})
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, &lastAuth
}

func staticToken(tok string) TokenReader {
	return TokenFunc(func() (string, error) { return tok, nil })
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := New("ftp://x", staticToken("")); err == nil {
		t.Fatalf("want scheme error")
	}
	if _, err := New("http://x", nil); err == nil {
		t.Fatalf("want token reader error")
	}
}

func TestClient_LoginSuccessAndRejection(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)
	c, err := New(srv.URL+"/api/", staticToken(""))
	require.NoError(t, err)

	resp, err := c.Login(context.Background(), "admin@toollink.com", "admin123")
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.Equal(t, "tok-1", resp.BearerToken())
	require.Equal(t, model.UserID("1"), resp.User.ID)
	require.Equal(t, model.RoleAdmin, resp.User.Role)

	resp, err = c.Login(context.Background(), "admin@toollink.com", "nope")
	require.NoError(t, err, "rejection is a value, not an error")
	require.False(t, resp.Success)
	require.Equal(t, model.ErrorInvalidCredentials, resp.ErrorType)
	require.Equal(t, 2, *resp.RemainingAttempts)
}

func TestClient_Register(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)
	c, _ := New(srv.URL+"/api", staticToken(""))

	resp, err := c.Register(context.Background(), model.RegisterRequest{Email: "c@x", Password: "p", Name: "C"})
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.True(t, resp.RequiresApproval)
}

func TestClient_MeAttachesBearer(t *testing.T) {
	t.Parallel()
	srv, lastAuth := newTestServer(t)

	c, _ := New(srv.URL+"/api", staticToken("tok-1"))
	id, err := c.Me(context.Background())
	require.NoError(t, err)
	require.Equal(t, model.RoleAdmin, id.Role)
	require.Equal(t, "Bearer tok-1", lastAuth.Load())

	bad, _ := New(srv.URL+"/api", staticToken("stale"))
	_, err = bad.Me(context.Background())
	require.ErrorIs(t, err, errs.ErrUnauthorized)

	none, _ := New(srv.URL+"/api", staticToken(""))
	_, err = none.Me(context.Background())
	require.ErrorIs(t, err, errs.ErrUnauthorized)
}

func TestClient_LogoutWithoutTokenIsAnonymous(t *testing.T) {
	t.Parallel()
	srv, lastAuth := newTestServer(t)

	c, _ := New(srv.URL+"/api", staticToken(""))
	require.NoError(t, c.Logout(context.Background()))
	require.Equal(t, "", lastAuth.Load())

	c, _ = New(srv.URL+"/api", staticToken("tok-1"))
	require.NoError(t, c.Logout(context.Background()))
	require.Equal(t, "Bearer tok-1", lastAuth.Load())
}

func TestClient_RefreshToken(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	c, _ := New(srv.URL+"/api", staticToken("tok-1"))
	tok, err := c.RefreshToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, "tok-2", tok)
}

func TestClient_ErrorClassification(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)
	c, _ := New(srv.URL+"/api", staticToken("tok-1"))

	err := c.Do(context.Background(), http.MethodGet, "boom", nil, nil)
	require.ErrorIs(t, err, errs.ErrBackendUnreachable)

	err = c.Do(context.Background(), http.MethodGet, "forbidden", nil, nil)
	require.ErrorIs(t, err, errs.ErrForbidden)

	err = c.Do(context.Background(), http.MethodGet, "missing", nil, nil)
	require.ErrorIs(t, err, errs.ErrNotFound)

	err = c.Do(context.Background(), http.MethodGet, "teapot", nil, nil)
	require.ErrorContains(t, err, "short and stout")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = c.Do(ctx, http.MethodGet, "slow", nil, nil)
	require.ErrorIs(t, err, errs.ErrNetworkTimeout)
}

func TestClient_UnreachableHost(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, _ := New(url, staticToken(""))
	_, err := c.Login(context.Background(), "a", "b")
	if !errors.Is(err, errs.ErrBackendUnreachable) {
		t.Fatalf("want ErrBackendUnreachable, got %v", err)
	}
}

func TestTokenExpiry(t *testing.T) {
	t.Parallel()

	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("k"))
	require.NoError(t, err)

	got, ok := TokenExpiry(signed)
	require.True(t, ok)
	require.True(t, got.Equal(exp))
	require.False(t, TokenExpired(signed, time.Now()))
	require.True(t, TokenExpired(signed, exp.Add(time.Second)))

	_, ok = TokenExpiry("opaque-token")
	require.False(t, ok)
	require.False(t, TokenExpired("opaque-token", time.Now().Add(100*365*24*time.Hour)))
}

func TestClient_PinnedTokenWins(t *testing.T) {
	t.Parallel()
	srv, lastAuth := newTestServer(t)

	c, _ := New(srv.URL+"/api", staticToken(""))
	require.NoError(t, c.Logout(ContextWithToken(context.Background(), "tok-1")))
	require.Equal(t, "Bearer tok-1", lastAuth.Load())

	_, ok := TokenFromContext(ContextWithToken(context.Background(), ""))
	require.False(t, ok)
}
