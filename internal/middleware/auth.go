// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/manabiya/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	// userIDContextKey はリクエストコンテキストにユーザーIDを格納するためのキー。
	userIDContextKey = contextKey("user_id")
	// roleContextKey はリクエストコンテキストにロールを格納するためのキー。
	roleContextKey = contextKey("role")
)

const (
	// RoleAdmin は管理者ロール。
	RoleAdmin = "admin"
	// RoleGateway は決済ゲートウェイからのコールバック用ロール。
	RoleGateway = "gateway"
)

// tokenLeeway はトークンの有効期限検証で許容する時刻のずれ。
const tokenLeeway = 30 * time.Second

// Claims はアクセストークンのクレーム。subにユーザーIDを持つ。
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// NewAuthMiddleware はAuthorizationヘッダーのBearerトークン（HS256）を検証するミドルウェアを返す。
// 認証済みユーザーIDとロールをリクエストコンテキストに注入する。
// トークンがない、または不正な場合は401を返す。
func NewAuthMiddleware(secret []byte) func(next http.Handler) http.Handler {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(tokenLeeway),
		jwt.WithExpirationRequired(),
	)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. Bearerトークンを取得
			auth := r.Header.Get("Authorization")
			raw, ok := strings.CutPrefix(auth, "Bearer ")
			if !ok || raw == "" {
				writeUnauthorized(w, "missing bearer token")
				return
			}

			// 2. 署名と有効期限を検証
			claims := &Claims{}
			_, err := parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
				return secret, nil
			})
			if err != nil {
				slog.Debug("invalid access token", slog.String("error", err.Error()))
				writeUnauthorized(w, "invalid token")
				return
			}

			userID, err := claims.GetSubject()
			if err != nil || userID == "" {
				writeUnauthorized(w, "missing subject")
				return
			}

			// 3. 認証済みユーザーIDとロールをコンテキストに注入
			recordUserID(r.Context(), userID)
			ctx := ContextWithUserID(r.Context(), userID)
			ctx = context.WithValue(ctx, roleContextKey, claims.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole は指定ロールのいずれかを持つリクエストのみを通すミドルウェアを返す。
// NewAuthMiddlewareの後に配置する。
func RequireRole(roles ...string) func(next http.Handler) http.Handler {
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !allowed[RoleFromContext(r.Context())] {
				WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IssueToken はユーザーIDとロールを持つHS256トークンを発行する。
// 認証は外部で行われるため、開発用ツールとテストでのみ使用する。
func IssueToken(secret []byte, userID, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("トークンの署名に失敗しました: %w", err)
	}
	return signed, nil
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}

// RoleFromContext はリクエストコンテキストからロールを取得する。ロールがない場合は空文字を返す。
func RoleFromContext(ctx context.Context) string {
	role, _ := ctx.Value(roleContextKey).(string)
	return role
}

// ContextWithRole はコンテキストにロールを注入する。
func ContextWithRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, roleContextKey, role)
}

func writeUnauthorized(w http.ResponseWriter, desc string) {
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token", error_description="`+desc+`"`)
	WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
}
