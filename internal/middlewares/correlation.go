package middlewares

import (
	"github.com/google/uuid"
	"github.com/wb-go/wbf/ginext"
)

// CorrelationIDKey is the gin context key holding the request correlation id.
const CorrelationIDKey = "correlation_id"

// CorrelationIDHeader is the header clients use to propagate a correlation id.
const CorrelationIDHeader = "X-Correlation-ID"

// CorrelationID assigns every request a correlation id, taking the client's
// if one was sent, and echoes it back in the response.
func CorrelationID() ginext.HandlerFunc {
	return func(c *ginext.Context) {
		id := c.Request.Header.Get(CorrelationIDHeader)
		if id == "" {
			id = uuid.NewString()
		}

		c.Set(CorrelationIDKey, id)
		c.Writer.Header().Set(CorrelationIDHeader, id)

		c.Next()
	}
}
