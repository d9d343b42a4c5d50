package middlewares

import (
	"strconv"

	"github.com/geocoder89/edms/internal/domain/account"
	"github.com/gin-gonic/gin"
)

// Policy is the access rule an operation declares for the gate.
type Policy struct {
	Name  string
	allow func(c *gin.Context, actor account.Account) bool
}

func (p Policy) allows(c *gin.Context, actor account.Account) bool {
	if p.allow == nil {
		return false
	}
	return p.allow(c, actor)
}

// Authenticated admits any active account.
func Authenticated() Policy {
	return Policy{
		Name:  "authenticated",
		allow: func(*gin.Context, account.Account) bool { return true },
	}
}

func AdminOnly() Policy {
	return Policy{
		Name: "admin_only",
		allow: func(_ *gin.Context, actor account.Account) bool {
			return actor.IsAdmin()
		},
	}
}

// AdminOrSelf admits admins, and any account whose id equals the path parameter.
func AdminOrSelf(param string) Policy {
	return Policy{
		Name: "admin_or_self",
		allow: func(c *gin.Context, actor account.Account) bool {
			if actor.IsAdmin() {
				return true
			}
			id, err := strconv.ParseInt(c.Param(param), 10, 64)
			return err == nil && id == actor.ID
		},
	}
}
