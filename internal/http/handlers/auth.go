package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/geocoder89/edms/internal/auth"
	"github.com/geocoder89/edms/internal/domain/account"
	"github.com/geocoder89/edms/internal/observability"
	"github.com/gin-gonic/gin"
)

type CredentialVerifier interface {
	VerifyCredentials(ctx context.Context, username, password string) (account.Account, error)
}

type TokenIssuer interface {
	GenerateAccessToken(username string) (auth.Token, error)
}

type AuthHandler struct {
	accounts CredentialVerifier
	tokens   TokenIssuer
	prom     *observability.Prom
	log      *slog.Logger
}

func NewAuthHandler(accounts CredentialVerifier, tokens TokenIssuer, prom *observability.Prom, log *slog.Logger) *AuthHandler {
	if log == nil {
		log = slog.Default()
	}
	return &AuthHandler{accounts: accounts, tokens: tokens, prom: prom, log: log}
}

type TokenRequest struct {
	Username string `form:"username" binding:"required"`
	Password string `form:"password" binding:"required"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

const badCredentialsMessage = "Incorrect username or password"

// IssueToken exchanges form-encoded credentials for a bearer token.
func (h *AuthHandler) IssueToken(ctx *gin.Context) {
	var req TokenRequest

	if !BindForm(ctx, &req) {
		return
	}

	found, err := h.accounts.VerifyCredentials(ctx.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, account.ErrInvalidCredentials) {
			h.prom.ObserveLogin("invalid_credentials")
			h.log.InfoContext(ctx.Request.Context(), "login_failed", "request_id", requestIDFrom(ctx))
			RespondError(ctx, http.StatusBadRequest, "invalid_credentials", badCredentialsMessage, nil)
			return
		}

		h.prom.ObserveLogin("error")
		respondAccountError(ctx, h.log, err, "Could not verify credentials")
		return
	}

	token, err := h.tokens.GenerateAccessToken(found.Username)
	if err != nil {
		h.prom.ObserveLogin("error")
		h.log.ErrorContext(ctx.Request.Context(), "token issue failed", "err", err)
		RespondInternal(ctx, "Could not generate access token")
		return
	}

	h.prom.ObserveLogin("success")
	h.log.InfoContext(ctx.Request.Context(), "login_succeeded", "account_id", found.ID)

	expiresIn := int64(time.Until(token.ExpiresAt).Seconds())
	if expiresIn < 0 {
		expiresIn = 0
	}

	ctx.Header("Cache-Control", "no-store")
	ctx.JSON(http.StatusOK, TokenResponse{
		AccessToken: token.Raw,
		TokenType:   "bearer",
		ExpiresIn:   expiresIn,
	})
}
