package security

import (
	"net/http"
	"strings"

	"RTChat/global"
	sec "RTChat/tools/security"

	"github.com/gin-gonic/gin"
)

type Options struct {
	JWT sec.Options
}

func DefaultOptions() Options {
	return Options{JWT: sec.DefaultOptions(global.GetJwtSecret())}
}

// Middleware 校验 Authorization: Bearer <token>（或 ?token= 方便 ws 握手），
// 通过后把身份写进 gin.Context。
func Middleware(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := TokenFromRequest(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}
		userID, userName, err := sec.Verify(opts.JWT, token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set("user_id", userID)
		c.Set("user_name", userName)
		c.Next()
	}
}

// TokenFromRequest 依次尝试 Authorization 头和 token 查询参数。
func TokenFromRequest(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return c.Query("token")
}
