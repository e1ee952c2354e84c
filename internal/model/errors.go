package model

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, upstream, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodePostNotFound   = "POST_NOT_FOUND"
	ErrCodeInvalidPostID  = "INVALID_POST_ID"
	ErrCodeUpstreamFailed = "UPSTREAM_FAILED"
	ErrCodeRateLimited    = "RATE_LIMITED"
	ErrCodeInternal       = "INTERNAL_ERROR"
)

// NewPostNotFoundError は投稿未検出エラーを生成する。
func NewPostNotFoundError(postID string) *APIError {
	return &APIError{
		Code:     ErrCodePostNotFound,
		Message:  fmt.Sprintf("post not found: %s", postID),
		Category: "validation",
		Action:   "Check the post id or return to the gallery.",
	}
}

// NewInvalidPostIDError は数値でない投稿IDのエラーを生成する。
func NewInvalidPostIDError(postID string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPostID,
		Message:  fmt.Sprintf("invalid post id: %q", postID),
		Category: "validation",
		Action:   "Post ids are positive integers.",
	}
}

// NewUpstreamError はAnalogDB API呼び出し失敗のエラーを生成する。
func NewUpstreamError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeUpstreamFailed,
		Message:  fmt.Sprintf("photo service unavailable: %s", reason),
		Category: "upstream",
		Action:   "Please wait a moment and try again.",
	}
}

// NewRateLimitedError はレート制限超過のエラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "too many requests",
		Category: "system",
		Action:   "Please wait and retry after the specified time.",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログのみに記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "internal error",
		Category: "system",
		Action:   "Please wait a moment and try again.",
	}
}

// FetchErrorKind はAPI取得失敗の分類。
type FetchErrorKind int

const (
	// KindNetworkFailure は接続失敗・タイムアウト・キャンセル。
	KindNetworkFailure FetchErrorKind = iota + 1
	// KindHTTPError は2xx以外のステータス。
	KindHTTPError
	// KindMalformedResponse はJSONが期待した形をしていない。
	KindMalformedResponse
)

// String はログ・メトリクス用のラベルを返す。
func (k FetchErrorKind) String() string {
	switch k {
	case KindNetworkFailure:
		return "network_failure"
	case KindHTTPError:
		return "http_error"
	case KindMalformedResponse:
		return "malformed_response"
	default:
		return "unknown"
	}
}

// FetchError はAnalogDB APIの取得失敗を表す。
// 取得境界で生成され、フィードでは一時エラーフラグとして扱われる。
type FetchError struct {
	Kind       FetchErrorKind
	StatusCode int // KindHTTPErrorのときのみ有効
	URL        string
	Err        error
}

// Error はerrorインターフェースを実装する。
func (e *FetchError) Error() string {
	switch e.Kind {
	case KindHTTPError:
		return fmt.Sprintf("%s: GET %s returned status %d", e.Kind, e.URL, e.StatusCode)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s: GET %s: %v", e.Kind, e.URL, e.Err)
		}
		return fmt.Sprintf("%s: GET %s", e.Kind, e.URL)
	}
}

// Unwrap は元のエラーを返す。
func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsNotFound はerrが404のFetchErrorかを判定する。
func IsNotFound(err error) bool {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind == KindHTTPError && fe.StatusCode == http.StatusNotFound
	}
	return false
}

// FetchErrorKindOf はerrに含まれるFetchErrorの分類を返す。該当しなければ0。
func FetchErrorKindOf(err error) FetchErrorKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}
