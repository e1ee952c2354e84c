// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// VisitorCookieName は閲覧者IDを保持するCookie名。
const VisitorCookieName = "analogview_visitor"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var visitorIDContextKey = contextKey("visitor_id")

// VisitorConfig は閲覧者Cookieの設定。
type VisitorConfig struct {
	CookieSecure bool
	MaxAge       time.Duration
}

// NewVisitorMiddleware は閲覧者IDをCookieから読み取り、リクエストコンテキストに注入するミドルウェアを返す。
// Cookieがない、またはUUIDとして不正な場合は新しいIDを発行してCookieに設定する。
func NewVisitorMiddleware(cfg VisitorConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := visitorIDFromCookie(r)
			if !ok {
				id = uuid.New()
			}
			// アクセスのたびに有効期限を延ばす
			http.SetCookie(w, &http.Cookie{
				Name:     VisitorCookieName,
				Value:    id.String(),
				Path:     "/",
				MaxAge:   int(cfg.MaxAge.Seconds()),
				HttpOnly: true,
				Secure:   cfg.CookieSecure,
				SameSite: http.SameSiteLaxMode,
			})
			next.ServeHTTP(w, r.WithContext(ContextWithVisitorID(r.Context(), id)))
		})
	}
}

func visitorIDFromCookie(r *http.Request) (uuid.UUID, bool) {
	cookie, err := r.Cookie(VisitorCookieName)
	if err != nil || cookie.Value == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(cookie.Value)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}

// VisitorIDFromContext はリクエストコンテキストから閲覧者IDを取得する。
// 閲覧者ミドルウェアを通過したリクエストでのみ有効。
func VisitorIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(visitorIDContextKey).(uuid.UUID)
	if !ok || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}

// ContextWithVisitorID はコンテキストに閲覧者IDを注入する。
func ContextWithVisitorID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, visitorIDContextKey, id)
}
