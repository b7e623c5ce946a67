package middleware

import (
	"github.com/flexprice/subledger/internal/types"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	HeaderRequestID = "X-Request-ID"

	// MaxRequestIDLength bounds caller supplied ids; longer ones are replaced
	MaxRequestIDLength = 128
)

// RequestIDMiddleware carries the caller's request id, or a fresh one, into the
// request context. The outbox stamps it on every notification as the user token.
func RequestIDMiddleware(c *gin.Context) {
	requestID := c.GetHeader(HeaderRequestID)
	if requestID == "" || len(requestID) > MaxRequestIDLength {
		requestID = uuid.New().String()
	}

	ctx := types.SetRequestID(c.Request.Context(), requestID)
	if types.GetUserID(ctx) == "" {
		ctx = types.SetUserID(ctx, types.DefaultUserID)
	}
	c.Request = c.Request.WithContext(ctx)

	c.Header(HeaderRequestID, requestID)
	c.Next()
}
