package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/authman/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
// すべてのAPIエンドポイントで一貫したエラーレスポンスを提供する。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// StatusCodeForError はAPIエラーコードに対応するHTTPステータスコードを返す。
func StatusCodeForError(apiErr *model.APIError) int {
	switch apiErr.Code {
	case "STORE_UNAVAILABLE":
		return http.StatusServiceUnavailable
	case "PROVIDER_AUTH_FAILED":
		return http.StatusUnauthorized
	case "MISSING_PROVIDER_ID":
		return http.StatusBadGateway
	case "MERGE_ABORTED":
		return http.StatusConflict
	case "UNKNOWN_PROVIDER":
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
