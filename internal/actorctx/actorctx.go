package actorctx

import (
	"context"

	"github.com/geocoder89/edms/internal/domain/account"
)

type ctxKey struct{}

// WithAccount stores the authorized account on ctx.
func WithAccount(ctx context.Context, a account.Account) context.Context {
	return context.WithValue(ctx, ctxKey{}, a)
}

func AccountFrom(ctx context.Context) (account.Account, bool) {
	a, ok := ctx.Value(ctxKey{}).(account.Account)
	return a, ok
}

// ActorID returns the authorized account id, or 0 for anonymous calls.
func ActorID(ctx context.Context) int64 {
	if a, ok := AccountFrom(ctx); ok {
		return a.ID
	}
	return 0
}
