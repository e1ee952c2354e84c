package apiclient

import "net/http"

// StatusClass はAnalogDB APIのHTTPステータスの分類。
type StatusClass int

const (
	// StatusOK は2xx。
	StatusOK StatusClass = iota
	// StatusNotFound は404/410。投稿が存在しない。
	StatusNotFound
	// StatusAuthFailed は401/403。Basic認証の設定誤り。
	StatusAuthFailed
	// StatusRetryLater は429/5xx。時間をおけば回復しうる。
	StatusRetryLater
	// StatusUnexpected はそれ以外。
	StatusUnexpected
)

// ClassifyHTTPStatus はHTTPステータスコードを分類する。
func ClassifyHTTPStatus(statusCode int) StatusClass {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return StatusOK
	case statusCode == http.StatusNotFound || statusCode == http.StatusGone:
		return StatusNotFound
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return StatusAuthFailed
	case statusCode == http.StatusTooManyRequests:
		return StatusRetryLater
	case statusCode >= 500:
		return StatusRetryLater
	default:
		return StatusUnexpected
	}
}

// String はログ用のラベルを返す。
func (c StatusClass) String() string {
	switch c {
	case StatusOK:
		return "ok"
	case StatusNotFound:
		return "not_found"
	case StatusAuthFailed:
		return "auth_failed"
	case StatusRetryLater:
		return "retry_later"
	default:
		return "unexpected"
	}
}
