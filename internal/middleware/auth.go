package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// AdminTokenHeader 管理接口令牌请求头
const AdminTokenHeader = "X-Admin-Token"

// AdminAuth 管理接口认证中间件
// 接受 X-Admin-Token 或 Authorization: Bearer，未配置令牌时管理接口全部拒绝
func AdminAuth(token string) gin.HandlerFunc {
	expected := []byte(token)

	return func(c *gin.Context) {
		if len(expected) == 0 {
			c.JSON(http.StatusForbidden, gin.H{
				"status":  "error",
				"message": "admin API disabled",
			})
			c.Abort()
			return
		}

		provided := c.GetHeader(AdminTokenHeader)
		if provided == "" {
			if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				provided = strings.TrimPrefix(auth, "Bearer ")
			}
		}

		if provided == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"status":  "error",
				"message": "missing admin token",
			})
			c.Abort()
			return
		}

		if subtle.ConstantTimeCompare([]byte(provided), expected) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{
				"status":  "error",
				"message": "invalid admin token",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
