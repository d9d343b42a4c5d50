package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/geocoder89/edms/internal/auth"
	"github.com/geocoder89/edms/internal/config"
	"github.com/geocoder89/edms/internal/db"
	apphttp "github.com/geocoder89/edms/internal/http"
	reposqlite "github.com/geocoder89/edms/internal/repo/sqlite"
	"github.com/geocoder89/edms/internal/security"
	"github.com/geocoder89/edms/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "integration-secret"

func testConfig() config.Config {
	return config.Config{
		Env:               "test",
		SecretKey:         testSecret,
		TokenTTL:          time.Hour,
		BcryptCost:        4,
		PasswordMinLength: 1,
		DB:                config.DBConfig{Driver: db.DriverSQLite, SQLiteDSN: ":memory:"},
		Bootstrap: config.BootstrapConfig{
			Allow:    true,
			Username: "admin",
			Password: "admin-pw",
		},
		ServiceName: "edms-api",
	}
}

type testApp struct {
	router http.Handler
	tokens *auth.Manager
}

// setupApp wires the real router over an in-memory sqlite store with the
// admin account bootstrapped.
func setupApp(t *testing.T, cfg config.Config) testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))

	handle, err := db.Open(ctx, cfg.DB)
	require.NoError(t, err)
	t.Cleanup(handle.Close)

	accounts := service.NewAccountService(
		reposqlite.NewAccountsRepo(handle.SQL(), nil),
		security.NewBcrypt(cfg.BcryptCost),
		service.Options{MinPasswordLength: cfg.PasswordMinLength, Logger: logger},
	)

	created, err := db.EnsureAdminAccount(ctx, accounts, cfg.Bootstrap, logger)
	require.NoError(t, err)
	require.True(t, created)

	tokens, err := auth.NewManager(cfg.SecretKey, cfg.TokenTTL)
	require.NoError(t, err)

	router := apphttp.NewRouter(logger, cfg, apphttp.Deps{
		Accounts: accounts,
		Tokens:   tokens,
		Ping:     handle.Ping,
	})

	return testApp{router: router, tokens: tokens}
}

// helpers

func doRequest(router http.Handler, method, path, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))

	if method == http.MethodPost || method == http.MethodPut {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	return w
}

func login(router http.Handler, username, password string) *httptest.ResponseRecorder {
	form := url.Values{"username": {username}, "password": {password}}
	req := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	return w
}

func mustReadJSON[T any](t *testing.T, w *httptest.ResponseRecorder, out *T) {
	t.Helper()
	err := json.Unmarshal(w.Body.Bytes(), out)
	if err != nil {
		t.Fatalf("failed to unmarshal json: %v, body=%s", err, w.Body.String())
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type accountBody struct {
	ID       int64   `json:"id"`
	Username string  `json:"username"`
	Email    *string `json:"email"`
	Role     string  `json:"role"`
	Status   string  `json:"status"`
}

type errorBody struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		RequestID string `json:"requestId"`
	} `json:"error"`
}

func mustLogin(t *testing.T, router http.Handler, username, password string) string {
	t.Helper()

	w := login(router, username, password)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var tok tokenResponse
	mustReadJSON(t, w, &tok)
	require.NotEmpty(t, tok.AccessToken)
	assert.Equal(t, "bearer", tok.TokenType)

	return tok.AccessToken
}

func TestAccounts_AdminLifecycle(t *testing.T) {
	app := setupApp(t, testConfig())
	r := app.router

	adminToken := mustLogin(t, r, "admin", "admin-pw")

	// create bob
	w := doRequest(r, http.MethodPost, "/accounts", `{"username":"bob","password":"bob-pw","email":"bob@x.io"}`, adminToken)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NotContains(t, w.Body.String(), "password")

	var bob accountBody
	mustReadJSON(t, w, &bob)
	assert.Equal(t, int64(2), bob.ID)
	assert.Equal(t, "staff", bob.Role)
	assert.Equal(t, "active", bob.Status)

	// list sees both, ordered by id
	w = doRequest(r, http.MethodGet, "/accounts", "", adminToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotContains(t, w.Body.String(), "password_hash")

	var list []accountBody
	mustReadJSON(t, w, &list)
	require.Len(t, list, 2)
	assert.Equal(t, "admin", list[0].Username)
	assert.Equal(t, "bob", list[1].Username)

	// paging
	w = doRequest(r, http.MethodGet, "/accounts?limit=1&offset=1", "", adminToken)
	require.Equal(t, http.StatusOK, w.Code)
	mustReadJSON(t, w, &list)
	require.Len(t, list, 1)
	assert.Equal(t, "bob", list[0].Username)

	// duplicate username
	w = doRequest(r, http.MethodPost, "/accounts", `{"username":"bob","password":"other"}`, adminToken)
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	var dup errorBody
	mustReadJSON(t, w, &dup)
	assert.Equal(t, "Username already exists", dup.Error.Message)
	assert.NotEmpty(t, dup.Error.RequestID)

	// admin changes bob's password; old password stops working
	w = doRequest(r, http.MethodPut, "/accounts/2", `{"password":"bob-pw-2","ignored":true}`, adminToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	assert.Equal(t, http.StatusBadRequest, login(r, "bob", "bob-pw").Code)
	mustLogin(t, r, "bob", "bob-pw-2")

	// delete, then delete again
	w = doRequest(r, http.MethodDelete, "/accounts/2", "", adminToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"deleted":true}`, w.Body.String())

	w = doRequest(r, http.MethodDelete, "/accounts/2", "", adminToken)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(r, http.MethodGet, "/accounts/2", "", adminToken)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAccounts_StaffAuthorization(t *testing.T) {
	app := setupApp(t, testConfig())
	r := app.router

	adminToken := mustLogin(t, r, "admin", "admin-pw")

	for _, body := range []string{
		`{"username":"bob","password":"bob-pw"}`,
		`{"username":"carol","password":"carol-pw"}`,
	} {
		w := doRequest(r, http.MethodPost, "/accounts", body, adminToken)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}

	bobToken := mustLogin(t, r, "bob", "bob-pw")

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
	}{
		{"reads self", http.MethodGet, "/accounts/2", "", http.StatusOK},
		{"reads other", http.MethodGet, "/accounts/3", "", http.StatusForbidden},
		{"reads missing other", http.MethodGet, "/accounts/42", "", http.StatusForbidden},
		{"lists", http.MethodGet, "/accounts", "", http.StatusForbidden},
		{"creates", http.MethodPost, "/accounts", `{"username":"eve","password":"x"}`, http.StatusForbidden},
		{"updates other", http.MethodPut, "/accounts/3", `{"email":"c@x.io"}`, http.StatusForbidden},
		{"deletes self", http.MethodDelete, "/accounts/2", "", http.StatusForbidden},
		{"escalates self", http.MethodPut, "/accounts/2", `{"role":"admin"}`, http.StatusForbidden},
		{"updates own email", http.MethodPut, "/accounts/2", `{"email":"bob@x.io"}`, http.StatusOK},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(r, tt.method, tt.path, tt.body, bobToken)
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
		})
	}

	w := doRequest(r, http.MethodGet, "/accounts/2", "", bobToken)
	var self accountBody
	mustReadJSON(t, w, &self)
	require.NotNil(t, self.Email)
	assert.Equal(t, "bob@x.io", *self.Email)
	assert.Equal(t, "staff", self.Role)
}

func TestAccounts_RejectsBadTokens(t *testing.T) {
	app := setupApp(t, testConfig())
	r := app.router

	expired, err := app.tokens.Issue("admin", time.Now().Add(-2*time.Hour), time.Hour)
	require.NoError(t, err)

	other, err := auth.NewManager("some-other-secret", time.Hour)
	require.NoError(t, err)
	forged, err := other.GenerateAccessToken("admin")
	require.NoError(t, err)

	ghost, err := app.tokens.GenerateAccessToken("ghost")
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"missing", ""},
		{"garbage", "not-a-jwt"},
		{"expired", expired.Raw},
		{"wrong secret", forged.Raw},
		{"unknown subject", ghost.Raw},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(r, http.MethodGet, "/accounts", "", tt.token)
			assert.Equal(t, http.StatusUnauthorized, w.Code, w.Body.String())
			assert.Equal(t, "Bearer", w.Header().Get("WWW-Authenticate"))
		})
	}
}

func TestToken_FailuresAreIndistinguishable(t *testing.T) {
	app := setupApp(t, testConfig())
	r := app.router

	wrong := login(r, "admin", "nope")
	unknown := login(r, "nobody", "nope")

	require.Equal(t, http.StatusBadRequest, wrong.Code)
	require.Equal(t, http.StatusBadRequest, unknown.Code)

	var a, b errorBody
	mustReadJSON(t, wrong, &a)
	mustReadJSON(t, unknown, &b)
	assert.Equal(t, "Incorrect username or password", a.Error.Message)
	assert.Equal(t, a.Error.Message, b.Error.Message)
	assert.Equal(t, a.Error.Code, b.Error.Code)
}

func TestToken_InactiveAccountCannotLogIn(t *testing.T) {
	app := setupApp(t, testConfig())
	r := app.router

	adminToken := mustLogin(t, r, "admin", "admin-pw")

	w := doRequest(r, http.MethodPost, "/accounts", `{"username":"bob","password":"bob-pw"}`, adminToken)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	bobToken := mustLogin(t, r, "bob", "bob-pw")

	w = doRequest(r, http.MethodPut, "/accounts/2", `{"status":"inactive"}`, adminToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	assert.Equal(t, http.StatusBadRequest, login(r, "bob", "bob-pw").Code)
	assert.Equal(t, http.StatusUnauthorized, doRequest(r, http.MethodGet, "/accounts/2", "", bobToken).Code)
}

func TestToken_LoginThrottling(t *testing.T) {
	cfg := testConfig()
	cfg.LoginRateLimit = 2
	cfg.LoginRateWindow = time.Minute

	app := setupApp(t, cfg)
	r := app.router

	assert.Equal(t, http.StatusBadRequest, login(r, "admin", "x").Code)
	assert.Equal(t, http.StatusBadRequest, login(r, "admin", "y").Code)

	w := login(r, "admin", "admin-pw")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestHealthProbes(t *testing.T) {
	app := setupApp(t, testConfig())

	assert.Equal(t, http.StatusOK, doRequest(app.router, http.MethodGet, "/healthz", "", "").Code)
	assert.Equal(t, http.StatusOK, doRequest(app.router, http.MethodGet, "/readyz", "", "").Code)
}
