package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/analogview/internal/model"
)

func TestWriteErrorResponse_WritesUnifiedFormat(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		apiErr     *model.APIError
		wantCode   string
		wantCat    string
	}{
		{"not found", http.StatusNotFound, model.NewPostNotFoundError("42"), model.ErrCodePostNotFound, "validation"},
		{"invalid id", http.StatusBadRequest, model.NewInvalidPostIDError("abc"), model.ErrCodeInvalidPostID, "validation"},
		{"upstream", http.StatusBadGateway, model.NewUpstreamError("timeout"), model.ErrCodeUpstreamFailed, "upstream"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteErrorResponse(w, tt.statusCode, tt.apiErr)

			resp := w.Result()
			if resp.StatusCode != tt.statusCode {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.statusCode)
			}
			if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", ct)
			}

			var body ErrorResponseBody
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode response body: %v", err)
			}
			if body.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", body.Code, tt.wantCode)
			}
			if body.Category != tt.wantCat {
				t.Errorf("category = %q, want %q", body.Category, tt.wantCat)
			}
			if body.Message != tt.apiErr.Message || body.Action == "" {
				t.Errorf("body = %+v", body)
			}
		})
	}
}

func TestWriteInternalServerError_HidesDetails(t *testing.T) {
	w := httptest.NewRecorder()
	WriteInternalServerError(w)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	if body.Code != model.ErrCodeInternal || body.Category != "system" {
		t.Errorf("body = %+v", body)
	}
}

func TestWriteUpstreamError_MapsFetchErrors(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantStatus    int
		wantCode      string
		wantRetryable bool
	}{
		{"404", &model.FetchError{Kind: model.KindHTTPError, StatusCode: http.StatusNotFound}, http.StatusNotFound, model.ErrCodePostNotFound, false},
		{"500", &model.FetchError{Kind: model.KindHTTPError, StatusCode: http.StatusInternalServerError}, http.StatusBadGateway, model.ErrCodeUpstreamFailed, true},
		{"分類なし", errors.New("boom"), http.StatusBadGateway, model.ErrCodeUpstreamFailed, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteUpstreamError(w, tt.err)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			var body ErrorResponseBody
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode response body: %v", err)
			}
			if body.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", body.Code, tt.wantCode)
			}
			if body.Retryable != tt.wantRetryable {
				t.Errorf("retryable = %v, want %v", body.Retryable, tt.wantRetryable)
			}
		})
	}
}

func TestWriteErrorResponse_RateLimitedIsRetryable(t *testing.T) {
	w := httptest.NewRecorder()
	WriteErrorResponse(w, http.StatusTooManyRequests, model.NewRateLimitedError())

	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	if !body.Retryable {
		t.Error("レート制限は再試行可能として返すべき")
	}
}
