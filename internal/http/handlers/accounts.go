package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/geocoder89/edms/internal/domain/account"
	"github.com/geocoder89/edms/internal/http/middlewares"
	"github.com/gin-gonic/gin"
)

type AccountsService interface {
	CreateAccount(ctx context.Context, p account.CreateParams) (account.Account, error)
	GetAccount(ctx context.Context, id int64) (account.Account, error)
	UpdateAccount(ctx context.Context, id int64, p account.UpdateParams) (account.Account, error)
	DeleteAccount(ctx context.Context, id int64) (bool, error)
	ListAccounts(ctx context.Context, filter account.ListFilter) ([]account.Account, error)
}

type AccountsHandler struct {
	svc AccountsService
	log *slog.Logger
}

func NewAccountsHandler(svc AccountsService, log *slog.Logger) *AccountsHandler {
	if log == nil {
		log = slog.Default()
	}
	return &AccountsHandler{svc: svc, log: log}
}

type CreateAccountRequest struct {
	Username string  `json:"username" binding:"required,max=128"`
	Password string  `json:"password" binding:"required,max=72"`
	Email    *string `json:"email" binding:"omitempty,email,max=255"`
	Role     string  `json:"role" binding:"omitempty,oneof=admin staff"`
	Status   string  `json:"status" binding:"omitempty,oneof=active inactive"`
}

// UpdateAccountRequest lists the recognised keys; anything else in the body is ignored.
type UpdateAccountRequest struct {
	Username *string `json:"username" binding:"omitempty,min=1,max=128"`
	Email    *string `json:"email" binding:"omitempty,email,max=255"`
	Password *string `json:"password" binding:"omitempty,max=72"`
	Role     *string `json:"role" binding:"omitempty,oneof=admin staff"`
	Status   *string `json:"status" binding:"omitempty,oneof=active inactive"`
}

type ListAccountsQuery struct {
	Limit  *int `form:"limit" binding:"omitempty,min=0"`
	Offset int  `form:"offset" binding:"omitempty,min=0"`
}

func (h *AccountsHandler) CreateAccount(ctx *gin.Context) {
	var req CreateAccountRequest

	if !BindJSON(ctx, &req) {
		return
	}

	created, err := h.svc.CreateAccount(ctx.Request.Context(), account.CreateParams{
		Username: req.Username,
		Password: req.Password,
		Email:    req.Email,
		Role:     account.Role(req.Role),
		Status:   account.Status(req.Status),
	})
	if err != nil {
		respondAccountError(ctx, h.log, err, "Could not create account")
		return
	}

	ctx.Header("Location", "/accounts/"+strconv.FormatInt(created.ID, 10))
	respondAccount(ctx, http.StatusCreated, created.ToPublic())
}

func (h *AccountsHandler) ListAccounts(ctx *gin.Context) {
	var q ListAccountsQuery

	if !BindQuery(ctx, &q) {
		return
	}

	accounts, err := h.svc.ListAccounts(ctx.Request.Context(), account.ListFilter{Limit: q.Limit, Offset: q.Offset})
	if err != nil {
		respondAccountError(ctx, h.log, err, "Could not list accounts")
		return
	}

	ctx.JSON(http.StatusOK, account.ToPublicList(accounts))
}

func (h *AccountsHandler) GetAccount(ctx *gin.Context) {
	id, ok := parseAccountID(ctx)
	if !ok {
		return
	}

	a, err := h.svc.GetAccount(ctx.Request.Context(), id)
	if err != nil {
		respondAccountError(ctx, h.log, err, "Could not fetch account")
		return
	}

	respondAccount(ctx, http.StatusOK, a.ToPublic())
}

func (h *AccountsHandler) UpdateAccount(ctx *gin.Context) {
	id, ok := parseAccountID(ctx)
	if !ok {
		return
	}

	var req UpdateAccountRequest

	if !BindJSON(ctx, &req) {
		return
	}

	params := account.UpdateParams{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	}
	if req.Role != nil {
		role := account.Role(*req.Role)
		params.Role = &role
	}
	if req.Status != nil {
		status := account.Status(*req.Status)
		params.Status = &status
	}

	actor, _ := middlewares.AccountFromContext(ctx)
	if !actor.IsAdmin() && escalates(actor, params) {
		RespondForbidden(ctx, "Only admins can change role or status")
		return
	}

	updated, err := h.svc.UpdateAccount(ctx.Request.Context(), id, params)
	if err != nil {
		respondAccountError(ctx, h.log, err, "Could not update account")
		return
	}

	respondAccount(ctx, http.StatusOK, updated.ToPublic())
}

func (h *AccountsHandler) DeleteAccount(ctx *gin.Context) {
	id, ok := parseAccountID(ctx)
	if !ok {
		return
	}

	deleted, err := h.svc.DeleteAccount(ctx.Request.Context(), id)
	if err != nil {
		respondAccountError(ctx, h.log, err, "Could not delete account")
		return
	}

	if !deleted {
		RespondNotFound(ctx, "Account not found")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"deleted": true})
}

// escalates reports whether a non-admin is trying to change their own role or status.
func escalates(actor account.Account, p account.UpdateParams) bool {
	if p.Role != nil && *p.Role != actor.Role {
		return true
	}
	if p.Status != nil && *p.Status != actor.Status {
		return true
	}
	return false
}

func parseAccountID(ctx *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		RespondBadRequest(ctx, "Account id must be a positive integer", gin.H{"field": "id"})
		return 0, false
	}
	return id, true
}
