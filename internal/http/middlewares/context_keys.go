package middlewares

// gin context keys
const (
	CtxRequestID = "request_id"
	CtxObjectKey = "batch.object_key"

	ctxCallerKey = "auth.caller"
	ctxRoleKey   = "auth.role"
)
