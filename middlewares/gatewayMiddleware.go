package middlewares

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/mto_backend/utils"
)

const (
	HeaderUserId       = "X-User-Id"
	HeaderCapabilities = "X-Capabilities"
)

// GatewayIdentityMiddleware copies the actor and capability headers set by the
// trusted gateway into the request context. Requests without an actor pass
// through anonymous and fail authorization later.
func GatewayIdentityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.Request.Header.Get(HeaderUserId))
		if raw == "" {
			c.Next()
			return
		}
		userId, err := strconv.Atoi(raw)
		if err != nil || userId <= 0 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		ctx := utils.SetUserIdInContext(c.Request.Context(), userId)
		ctx = utils.SetCapabilitiesInContext(ctx, ParseCapabilities(c.Request.Header.Get(HeaderCapabilities)))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// ParseCapabilities splits a comma separated capability header.
func ParseCapabilities(header string) []string {
	var caps []string
	for _, p := range strings.Split(header, ",") {
		if p = strings.TrimSpace(p); p != "" {
			caps = append(caps, p)
		}
	}
	return utils.UniqueSlice(caps)
}
