package middlewares

const (
	CtxRequestID = "request_id"

	ctxAccountKey = "auth.account"
	ctxClaimsKey  = "auth.claims"
)
