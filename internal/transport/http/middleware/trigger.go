package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// TickSecretHeader carries the shared secret of the external trigger.
const TickSecretHeader = "X-Tick-Secret"

// TriggerSecret guards the internal tick routes. The secret is read from X-Tick-Secret,
// falling back to a Bearer token, and compared in constant time. Nothing runs on mismatch.
func TriggerSecret(secret string) gin.HandlerFunc {
	want := []byte(secret)

	return func(c *gin.Context) {
		got := c.GetHeader(TickSecretHeader)
		if got == "" {
			if header := c.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") {
				got = strings.TrimPrefix(header, "Bearer ")
			}
		}

		if len(want) == 0 || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "unauthorized"})
			return
		}
		c.Next()
	}
}
