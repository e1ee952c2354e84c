package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/analogview/internal/model"
)

// ErrorResponseBody はJSONエンドポイントのエラーレスポンス。
// Retryableは同じリクエストを後で再送すれば成功しうるかを表し、無限スクロールのスクリプトが参照する。
type ErrorResponseBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Category  string `json:"category"`
	Action    string `json:"action"`
	Retryable bool   `json:"retryable"`
}

// WriteErrorResponse はapiErrをJSONで書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:      apiErr.Code,
		Message:   apiErr.Message,
		Category:  apiErr.Category,
		Action:    apiErr.Action,
		Retryable: apiErr.Category == "upstream" || apiErr.Code == model.ErrCodeRateLimited,
	})
}

// WriteUpstreamError はAPI取得の失敗を書き込む。
// 上流の404は404、それ以外は失敗の分類を添えて502にする。
func WriteUpstreamError(w http.ResponseWriter, err error) {
	if model.IsNotFound(err) {
		WriteErrorResponse(w, http.StatusNotFound, &model.APIError{
			Code:     model.ErrCodePostNotFound,
			Message:  "not found",
			Category: "validation",
			Action:   "Return to the gallery.",
		})
		return
	}
	WriteErrorResponse(w, http.StatusBadGateway, model.NewUpstreamError(model.FetchErrorKindOf(err).String()))
}

// WriteInternalServerError は内部エラーのレスポンスを書き込む。詳細はログにのみ残す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, model.NewInternalError())
}
