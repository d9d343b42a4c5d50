package middlewares_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/geocoder89/edms/internal/actorctx"
	"github.com/geocoder89/edms/internal/auth"
	"github.com/geocoder89/edms/internal/domain/account"
	"github.com/geocoder89/edms/internal/http/middlewares"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeVerifier struct {
	subjects map[string]string // token -> username
}

func (f fakeVerifier) VerifyAccessToken(token string) (*auth.Claims, error) {
	sub, ok := f.subjects[token]
	if !ok {
		return nil, auth.ErrInvalidToken
	}
	return &auth.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: sub, ID: "jti-" + token}}, nil
}

type fakeResolver struct {
	getFn func(ctx context.Context, username string) (account.Account, error)
}

func (f fakeResolver) GetByUsername(ctx context.Context, username string) (account.Account, error) {
	return f.getFn(ctx, username)
}

var accounts = map[string]account.Account{
	"admin":   {ID: 1, Username: "admin", Role: account.RoleAdmin, Status: account.StatusActive},
	"bob":     {ID: 2, Username: "bob", Role: account.RoleStaff, Status: account.StatusActive},
	"retired": {ID: 4, Username: "retired", Role: account.RoleAdmin, Status: account.StatusInactive},
}

func newGate(resolve func(ctx context.Context, username string) (account.Account, error)) *middlewares.Gate {
	if resolve == nil {
		resolve = func(ctx context.Context, username string) (account.Account, error) {
			a, ok := accounts[username]
			if !ok {
				return account.Account{}, account.ErrNotFound
			}
			return a, nil
		}
	}

	verifier := fakeVerifier{subjects: map[string]string{
		"admin-token":   "admin",
		"bob-token":     "bob",
		"ghost-token":   "ghost",
		"retired-token": "retired",
	}}

	return middlewares.NewGate(verifier, fakeResolver{getFn: resolve}, nil, nil)
}

func newRouter(g *middlewares.Gate) *gin.Engine {
	r := gin.New()
	r.Use(middlewares.RequestID())

	ok := func(c *gin.Context) {
		a, _ := middlewares.AccountFromContext(c)
		fromCtx, _ := actorctx.AccountFrom(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"actor": a.Username, "ctx_actor": fromCtx.Username})
	}

	r.GET("/accounts", g.Authorize(middlewares.AdminOnly()), ok)
	r.GET("/accounts/:id", g.Authorize(middlewares.AdminOrSelf("id")), ok)
	r.GET("/me", g.Authorize(middlewares.Authenticated()), ok)

	return r
}

func TestGate_Authorize(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		header     string
		wantStatus int
		wantCode   string
	}{
		{"no header", "/accounts", "", http.StatusUnauthorized, "unauthorized"},
		{"wrong scheme", "/accounts", "Basic admin-token", http.StatusUnauthorized, "unauthorized"},
		{"empty bearer", "/accounts", "Bearer   ", http.StatusUnauthorized, "unauthorized"},
		{"invalid token", "/accounts", "Bearer forged", http.StatusUnauthorized, "unauthorized"},
		{"unknown subject", "/accounts", "Bearer ghost-token", http.StatusUnauthorized, "unauthorized"},
		{"inactive account", "/accounts", "Bearer retired-token", http.StatusUnauthorized, "unauthorized"},
		{"admin lists", "/accounts", "Bearer admin-token", http.StatusOK, ""},
		{"lowercase scheme", "/accounts", "bearer admin-token", http.StatusOK, ""},
		{"staff cannot list", "/accounts", "Bearer bob-token", http.StatusForbidden, "forbidden"},
		{"staff reads self", "/accounts/2", "Bearer bob-token", http.StatusOK, ""},
		{"staff reads other", "/accounts/3", "Bearer bob-token", http.StatusForbidden, "forbidden"},
		{"staff with bad id", "/accounts/abc", "Bearer bob-token", http.StatusForbidden, "forbidden"},
		{"admin reads other", "/accounts/3", "Bearer admin-token", http.StatusOK, ""},
		{"authenticated staff", "/me", "Bearer bob-token", http.StatusOK, ""},
	}

	r := newRouter(newGate(nil))

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("got status %d, want %d, body=%s", w.Code, tt.wantStatus, w.Body.String())
			}

			if tt.wantCode == "" {
				return
			}

			var resp struct {
				Error struct {
					Code      string `json:"code"`
					RequestID string `json:"requestId"`
				} `json:"error"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("unmarshal: %v body=%s", err, w.Body.String())
			}
			if resp.Error.Code != tt.wantCode {
				t.Fatalf("error code = %q, want %q", resp.Error.Code, tt.wantCode)
			}
			if resp.Error.RequestID == "" {
				t.Fatalf("error envelope should carry the request id")
			}
			if tt.wantStatus == http.StatusUnauthorized && w.Header().Get("WWW-Authenticate") != "Bearer" {
				t.Fatalf("401 should advertise the Bearer scheme")
			}
		})
	}
}

func TestGate_InjectsAccount(t *testing.T) {
	r := newRouter(newGate(nil))

	req := httptest.NewRequest(http.MethodGet, "/accounts/2", nil)
	req.Header.Set("Authorization", "Bearer bob-token")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["actor"] != "bob" || body["ctx_actor"] != "bob" {
		t.Fatalf("resolved account not injected: %v", body)
	}
}

func TestGate_StorageErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"unavailable", account.ErrStorageUnavailable, http.StatusServiceUnavailable},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			g := newGate(func(ctx context.Context, username string) (account.Account, error) {
				return account.Account{}, tt.err
			})
			r := newRouter(g)

			req := httptest.NewRequest(http.MethodGet, "/accounts", nil)
			req.Header.Set("Authorization", "Bearer admin-token")
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("got status %d, want %d, body=%s", w.Code, tt.wantStatus, w.Body.String())
			}
		})
	}
}

func TestRequestLogger_RecordsTokenID(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))

	r := gin.New()
	r.Use(middlewares.RequestID(), middlewares.RequestLogger(log))
	r.GET("/accounts/:id", newGate(nil).Authorize(middlewares.AdminOrSelf("id")), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/accounts/2", nil)
	req.Header.Set("Authorization", "Bearer bob-token")
	r.ServeHTTP(httptest.NewRecorder(), req)

	anon := httptest.NewRequest(http.MethodGet, "/accounts/2", nil)
	r.ServeHTTP(httptest.NewRecorder(), anon)

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 2 {
		t.Fatalf("got %d log lines: %s", len(lines), buf.String())
	}

	var authorized, rejected map[string]any
	if err := json.Unmarshal(lines[0], &authorized); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := json.Unmarshal(lines[1], &rejected); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if authorized["token_id"] != "jti-bob-token" {
		t.Fatalf("token_id = %v, want jti-bob-token", authorized["token_id"])
	}
	if _, ok := rejected["token_id"]; ok {
		t.Fatalf("unexpected token_id on a rejected request: %v", rejected)
	}
}
