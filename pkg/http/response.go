package http

import (
	"encoding/json"
	"net/http"
)

// Stable machine-readable error codes
const (
	CodeUserExists         = "USER_EXISTS"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeInternalError      = "INTERNAL_ERROR"
)

const contentTypeJSON = "application/json"

// jsonHeaders are set on every Response, including the ones the Lambda adapter
// returns without a middleware chain.
func jsonHeaders() map[string]string {
	return map[string]string{
		"Content-Type":  contentTypeJSON,
		"Cache-Control": "no-store",
	}
}

// Response is a transport-neutral reply: status, headers and a serialized JSON body.
// The HTTP server writes it with WriteResponse, the Lambda adapter copies it into
// an API Gateway response.
type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       string
}

// ErrorResponse represents a standard API error body
type ErrorResponse struct {
	Message   string `json:"message"`             // Human-readable message
	ErrorCode string `json:"errorCode,omitempty"` // Machine-readable error code
	Details   string `json:"details,omitempty"`   // Optional field-level context
}

// MessageResponse is a body carrying only a message
type MessageResponse struct {
	Message string `json:"message"`
}

// JSON serializes v into a Response with the given status
func JSON(statusCode int, v any) Response {
	body, err := json.Marshal(v)
	if err != nil {
		return InternalError()
	}

	return Response{
		StatusCode: statusCode,
		Headers:    jsonHeaders(),
		Body:       string(body),
	}
}

// Error builds an error Response
func Error(statusCode int, errorCode, message string) Response {
	return JSON(statusCode, ErrorResponse{Message: message, ErrorCode: errorCode})
}

// Common error responses for consistency
func BadRequest(message, details string) Response {
	return JSON(http.StatusBadRequest, ErrorResponse{Message: message, Details: details})
}

func Unauthorized(errorCode, message string) Response {
	return Error(http.StatusUnauthorized, errorCode, message)
}

func Conflict(errorCode, message string) Response {
	return Error(http.StatusConflict, errorCode, message)
}

func NotFound(message string) Response {
	return Error(http.StatusNotFound, "", message)
}

// InternalError never carries the underlying cause
func InternalError() Response {
	return Response{
		StatusCode: http.StatusInternalServerError,
		Headers:    jsonHeaders(),
		Body:       `{"message":"Internal server error","errorCode":"` + CodeInternalError + `"}`,
	}
}

// WriteResponse writes a Response to an http.ResponseWriter
func WriteResponse(w http.ResponseWriter, resp Response) {
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", contentTypeJSON)
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write([]byte(resp.Body))
}

// WriteJSON serializes v and writes it with the given status
func WriteJSON(w http.ResponseWriter, statusCode int, v any) {
	WriteResponse(w, JSON(statusCode, v))
}
