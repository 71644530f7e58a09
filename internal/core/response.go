package core

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"flui/internal/types"
)

// maxRequestBodySize caps access, refund and purchase bodies at 1 MB.
const maxRequestBodySize = 1 << 20

// APIResponse wraps successful payloads as {"data": ...}.
type APIResponse struct {
	Data any `json:"data,omitempty"`
}

// APIErrorResponse wraps failures as {"error": {...}}.
type APIErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail is the client-facing part of a types.AppError.
type ErrorDetail struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id"`
}

const genericErrorMessage = "an unexpected error occurred"

// JSON marshals data and writes it with status. A value that cannot be
// marshalled becomes a 500 envelope.
func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")

	body, err := json.Marshal(data)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(APIErrorResponse{Error: ErrorDetail{
			Code:      string(types.ErrCodeInternalUnexpected),
			Message:   "failed to marshal response",
			RequestID: types.GetRequestID(r.Context()),
		}})
		return
	}

	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// Error maps err to its envelope. A *types.AppError keeps its code, message
// and details unless it is internal; anything else is a 500 with a generic
// message. Causes are logged, never sent.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	detail := ErrorDetail{
		Code:      string(types.ErrCodeInternalUnexpected),
		Message:   genericErrorMessage,
		RequestID: types.GetRequestID(r.Context()),
	}
	status := http.StatusInternalServerError

	var appErr *types.AppError
	switch {
	case errors.As(err, &appErr) && !appErr.IsInternal():
		detail.Code = string(appErr.Code)
		detail.Message = appErr.Message
		detail.Details = appErr.Details
		status = appErr.HTTPStatus()
	case appErr != nil:
		detail.Code = string(appErr.Code)
		status = appErr.HTTPStatus()
		logError(r, err)
	default:
		logError(r, err)
	}

	JSON(w, r, status, APIErrorResponse{Error: detail})
}

// DecodeJSON strictly decodes a single JSON object from the body into dst.
// Unknown fields, empty or oversized bodies and trailing values are
// rejected with validation_invalid_request_body.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return mapDecodeError(err)
	}
	if dec.More() {
		return invalidBody("request body must contain a single JSON object", nil)
	}
	return nil
}

func invalidBody(message string, cause error) *types.AppError {
	return types.NewAppError(types.ErrCodeValidationInvalidBody, message, cause)
}

func mapDecodeError(err error) *types.AppError {
	var (
		tooLarge   *http.MaxBytesError
		syntax     *json.SyntaxError
		wrongType  *json.UnmarshalTypeError
		unknownKey = "json: unknown field "
	)

	switch {
	case errors.As(err, &tooLarge):
		return invalidBody("request body must not exceed 1MB", err)
	case errors.As(err, &syntax):
		return invalidBody("malformed JSON in request body", err)
	case errors.As(err, &wrongType):
		return types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidBody, "invalid value for field", err,
			map[string]any{"field": wrongType.Field, "expected": wrongType.Type.String()})
	case strings.HasPrefix(err.Error(), unknownKey):
		return invalidBody("unknown field in request body: "+strings.TrimPrefix(err.Error(), unknownKey), err)
	case errors.Is(err, io.EOF):
		return invalidBody("request body must not be empty", err)
	default:
		return invalidBody("invalid JSON in request body", err)
	}
}

// logError records a 5xx cause with the request-scoped logger.
func logError(r *http.Request, err error) {
	logger := types.LoggerFromContext(r.Context())
	if logger == nil {
		logger = slog.Default()
	}
	logger.Error("request failed", "error", err.Error(), "path", r.URL.Path)
}
