package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// JWTClaims はJWTトークンのクレーム（ペイロード）を表す。
// ユーザーIDは標準の sub クレームに格納する。
type JWTClaims struct {
	jwt.RegisteredClaims
	// UserID は sub を持たない旧形式のトークン向けのユーザーID。
	UserID string `json:"user_id,omitempty"`
	// Email はユーザーのメールアドレス。
	Email string `json:"email,omitempty"`
	// Role はユーザーの権限。
	Role string `json:"role,omitempty"`
}

// Subject はトークンが表すユーザーIDを返す。
func (c *JWTClaims) Subject() string {
	if c.RegisteredClaims.Subject != "" {
		return c.RegisteredClaims.Subject
	}
	return c.UserID
}

// ErrInvalidToken はトークンの検証に失敗した場合のエラー。
var ErrInvalidToken = errors.New("トークンが無効です")

// tokenIssuer は発行するトークンの iss クレーム。
const tokenIssuer = "livefeed"

// GenerateJWT はユーザー情報から有効期限24時間のJWTトークンを生成する。
// 通常トークンはユーザーサービスが発行するため、主に開発とテストで使用する。
func GenerateJWT(secret, userID, email string) (string, error) {
	now := time.Now()
	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
		},
		Email: email,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("JWTトークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// ParseJWT はトークンを検証してクレームを返す。
// HS256以外の署名やユーザーIDを持たないトークンは ErrInvalidToken になる。
func ParseJWT(secret, tokenString string) (*JWTClaims, error) {
	claims := &JWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject() == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// JWTAuth はJWTトークンを検証するGinミドルウェアを返す。
// 検証に成功した場合、コンテキストに "user_id"、"email"、"role" を設定する。
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorizationヘッダーが必要です",
			})
			return
		}

		tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
		if !found {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Bearer トークン形式が不正です",
			})
			return
		}

		claims, err := ParseJWT(secret, tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "トークンが無効です",
			})
			return
		}

		c.Set("user_id", claims.Subject())
		c.Set("email", claims.Email)
		c.Set("role", claims.Role)
		c.Next()
	}
}

// TokenAuthenticator はWebSocketのアップグレード要求からユーザーIDを取り出す関数を返す。
// トークンは Bearer 形式の Authorization ヘッダーまたは token クエリパラメータから読む。
// Bearer 以外の Authorization ヘッダーは無視する。
// トークンがない場合は匿名として空文字を返し、不正なトークンはエラーにする。
func TokenAuthenticator(secret string) func(r *http.Request) (string, error) {
	return func(r *http.Request) (string, error) {
		var tokenString string
		if bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
			tokenString = bearer
		}
		if tokenString == "" {
			tokenString = r.URL.Query().Get("token")
		}
		if tokenString == "" {
			return "", nil
		}
		claims, err := ParseJWT(secret, tokenString)
		if err != nil {
			return "", err
		}
		return claims.Subject(), nil
	}
}

// GetUserID はGinコンテキストからユーザーIDを取得する。
// JWTAuthミドルウェアが事前に適用されている必要がある。
func GetUserID(c *gin.Context) string {
	userID, _ := c.Get("user_id")
	if id, ok := userID.(string); ok {
		return id
	}
	return ""
}
