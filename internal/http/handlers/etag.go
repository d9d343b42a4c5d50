package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/geocoder89/edms/internal/domain/account"
	"github.com/gin-gonic/gin"
)

// accountETag versions a projection by id and last mutation time. Every
// mutation refreshes updated_at, so the tag changes whenever the row does.
func accountETag(p account.Public) string {
	return `"` + strconv.FormatInt(p.ID, 10) + "-" + strconv.FormatInt(p.UpdatedAt.UnixNano(), 36) + `"`
}

// respondAccount writes p with its ETag, or 304 when the client already holds it.
func respondAccount(ctx *gin.Context, status int, p account.Public) {
	etag := accountETag(p)
	ctx.Header("ETag", etag)

	if ctx.Request.Method == http.MethodGet && ifNoneMatchMatches(ctx.GetHeader("If-None-Match"), etag) {
		ctx.Status(http.StatusNotModified)
		return
	}

	ctx.JSON(status, p)
}

func ifNoneMatchMatches(header, current string) bool {
	header = strings.TrimSpace(header)
	if header == "" {
		return false
	}
	if header == "*" {
		return true
	}

	for _, candidate := range strings.Split(header, ",") {
		// weak comparison: W/"x" matches "x"
		candidate = strings.TrimPrefix(strings.TrimSpace(candidate), "W/")
		if candidate == current {
			return true
		}
	}

	return false
}
