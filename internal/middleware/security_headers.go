package middleware

import (
	"net/http"
	"strings"
)

// DefaultImageOrigins はAnalogDBの画像配信元。
var DefaultImageOrigins = []string{"https://*.analogdb.com", "https://*.cloudfront.net"}

// NewSecurityHeadersMiddleware はセキュリティ関連のレスポンスヘッダーを付与するミドルウェアを返す。
// 画像は外部CDNから読み込むため、img-srcにだけimageOriginsを追加する。省略時はDefaultImageOrigins。
func NewSecurityHeadersMiddleware(imageOrigins ...string) func(next http.Handler) http.Handler {
	if len(imageOrigins) == 0 {
		imageOrigins = DefaultImageOrigins
	}
	csp := contentSecurityPolicy(imageOrigins)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			h.Set("Content-Security-Policy", csp)
			next.ServeHTTP(w, r)
		})
	}
}

func contentSecurityPolicy(imageOrigins []string) string {
	directives := []string{
		"default-src 'self'",
		"img-src 'self' data: " + strings.Join(imageOrigins, " "),
		"script-src 'self'",
		"style-src 'self' 'unsafe-inline'",
		"connect-src 'self'",
		"frame-ancestors 'none'",
	}
	return strings.Join(directives, "; ")
}
