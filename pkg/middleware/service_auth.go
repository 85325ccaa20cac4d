package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// HeaderServiceAPIKey はサービス間通信で使用するAPIキーのヘッダー名。
const HeaderServiceAPIKey = "X-Service-API-Key"

// ServiceAuth はサービスAPIキーを検証するGinミドルウェアを返す。
// 内部APIは記事サービスなどのバックエンドからのみ呼び出される。
func ServiceAuth(apiKey string) gin.HandlerFunc {
	expected := []byte(apiKey)
	return func(c *gin.Context) {
		got := c.GetHeader(HeaderServiceAPIKey)
		if got == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "サービスAPIキーが必要です",
			})
			return
		}
		if len(expected) == 0 || subtle.ConstantTimeCompare([]byte(got), expected) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "サービスAPIキーが無効です",
			})
			return
		}
		c.Next()
	}
}
