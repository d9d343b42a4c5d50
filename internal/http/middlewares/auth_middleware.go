package middlewares

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/geocoder89/edms/internal/actorctx"
	"github.com/geocoder89/edms/internal/auth"
	"github.com/geocoder89/edms/internal/domain/account"
	"github.com/geocoder89/edms/internal/observability"
	"github.com/gin-gonic/gin"
)

// Keep these small so tests can fake them easily.
type TokenVerifier interface {
	VerifyAccessToken(token string) (*auth.Claims, error)
}

type AccountResolver interface {
	GetByUsername(ctx context.Context, username string) (account.Account, error)
}

// Gate turns a bearer token into an authorized account:
// Unauthenticated -> TokenValidated -> Authorized | Rejected.
type Gate struct {
	tokens   TokenVerifier
	accounts AccountResolver
	prom     *observability.Prom
	log      *slog.Logger
}

func NewGate(tokens TokenVerifier, accounts AccountResolver, prom *observability.Prom, log *slog.Logger) *Gate {
	if log == nil {
		log = slog.Default()
	}
	return &Gate{tokens: tokens, accounts: accounts, prom: prom, log: log}
}

// Authorize rejects the request unless the bearer token resolves to an active
// account that satisfies policy. The account is then available through
// AccountFromContext and actorctx.AccountFrom.
func (g *Gate) Authorize(policy Policy) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			g.reject(c, policy, http.StatusUnauthorized, "unauthorized", "Missing or invalid Authorization header")
			return
		}

		claims, err := g.tokens.VerifyAccessToken(raw)
		if err != nil {
			g.reject(c, policy, http.StatusUnauthorized, "unauthorized", "Invalid or expired access token")
			return
		}

		actor, err := g.accounts.GetByUsername(c.Request.Context(), claims.Username())
		if err != nil {
			if errors.Is(err, account.ErrNotFound) {
				g.reject(c, policy, http.StatusUnauthorized, "unauthorized", "Could not validate credentials")
				return
			}

			g.log.ErrorContext(c.Request.Context(), "authorization lookup failed", "err", err)
			g.prom.ObserveAuthz(policy.Name, "error")
			if errors.Is(err, account.ErrStorageUnavailable) {
				abortError(c, http.StatusServiceUnavailable, "storage_unavailable", "Service temporarily unavailable")
				return
			}
			abortError(c, http.StatusInternalServerError, "internal_error", "Internal server error")
			return
		}

		if !actor.IsActive() {
			g.reject(c, policy, http.StatusUnauthorized, "unauthorized", "Account is inactive")
			return
		}

		if !policy.allows(c, actor) {
			g.reject(c, policy, http.StatusForbidden, "forbidden", "Not enough permissions")
			return
		}

		c.Set(ctxAccountKey, actor)
		c.Set(ctxClaimsKey, claims)
		c.Request = c.Request.WithContext(actorctx.WithAccount(c.Request.Context(), actor))

		g.prom.ObserveAuthz(policy.Name, "authorized")
		c.Next()
	}
}

func (g *Gate) reject(c *gin.Context, policy Policy, status int, code, message string) {
	outcome := "unauthorized"
	if status == http.StatusForbidden {
		outcome = "forbidden"
	}
	g.prom.ObserveAuthz(policy.Name, outcome)

	if status == http.StatusUnauthorized {
		c.Header("WWW-Authenticate", "Bearer")
	}
	abortError(c, status, code, message)
}

func bearerToken(header string) (string, bool) {
	scheme, raw, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}

	raw = strings.TrimSpace(raw)
	return raw, raw != ""
}

// AccountFromContext returns the account the gate authorized for this request.
func AccountFromContext(c *gin.Context) (account.Account, bool) {
	v, ok := c.Get(ctxAccountKey)
	if !ok {
		return account.Account{}, false
	}
	a, ok := v.(account.Account)
	return a, ok
}

func ClaimsFromContext(c *gin.Context) (*auth.Claims, bool) {
	v, ok := c.Get(ctxClaimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*auth.Claims)
	return claims, ok
}

func abortError(c *gin.Context, status int, code, message string) {
	body := gin.H{
		"code":    code,
		"message": message,
	}
	if id, ok := c.Get(CtxRequestID); ok {
		if s, ok := id.(string); ok && s != "" {
			body["requestId"] = s
		}
	}

	c.AbortWithStatusJSON(status, gin.H{"error": body})
}
