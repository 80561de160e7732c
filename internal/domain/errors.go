// Package domain provides the canonical request/response types and error
// model for the proxy.
package domain

import (
	"fmt"
	"net/http"
)

// ErrorType is the broad category of an APIError; each type maps to a
// default HTTP status.
type ErrorType string

const (
	// ErrorTypeInvalidRequest covers malformed bodies and bad parameters.
	ErrorTypeInvalidRequest ErrorType = "invalid_request"

	// ErrorTypeAuthentication covers missing or unknown API keys.
	ErrorTypeAuthentication ErrorType = "authentication"

	// ErrorTypePermission covers keys that exist but may not do this.
	ErrorTypePermission ErrorType = "permission"

	// ErrorTypeNotFound covers unknown models and routes.
	ErrorTypeNotFound ErrorType = "not_found"

	// ErrorTypeValidation indicates media or field validation rejected the
	// request before any provider call was made.
	ErrorTypeValidation ErrorType = "validation"

	// ErrorTypeUpstream indicates the provider responded with a non-success
	// status; the upstream status and body are passed through.
	ErrorTypeUpstream ErrorType = "upstream_error"

	// ErrorTypeTransformation indicates an upstream response violated a
	// documented contract (e.g. an expected array came back empty).
	ErrorTypeTransformation ErrorType = "transformation_error"

	// ErrorTypeServer covers internal failures.
	ErrorTypeServer ErrorType = "server"
)

// ErrorCode names a specific documented failure within a type, for
// programmatic handling by clients.
type ErrorCode string

const (
	ErrorCodeImageValidationFailed     ErrorCode = "image_validation_failed"
	ErrorCodeImageUploadNotSupported   ErrorCode = "image_upload_not_supported"
	ErrorCodeVideoUploadNotSupported   ErrorCode = "video_upload_not_supported"
	ErrorCodeInvalidMultipartData      ErrorCode = "invalid_multipart_data"
	ErrorCodeModelNotFound             ErrorCode = "model_not_found"
	ErrorCodeModelNotAllowed           ErrorCode = "model_not_allowed"
	ErrorCodeInvalidAPIKey             ErrorCode = "invalid_api_key"
	ErrorCodeProviderNotFound          ErrorCode = "provider_not_found"
	ErrorCodeUnsupportedCapability     ErrorCode = "unsupported_capability"
	ErrorCodeUpstreamTimeout           ErrorCode = "upstream_timeout"
	ErrorCodeMalformedResponseEnvelope ErrorCode = "malformed_response_envelope"
)

// APIError is the canonical error surfaced to callers. The HTTP layer renders
// it as {"error":{"message","type","code","param"}}.
type APIError struct {
	Type    ErrorType `json:"type"`
	Code    ErrorCode `json:"code,omitempty"`
	Message string    `json:"message"`

	// Param names the request field at fault, when one can be blamed.
	Param string `json:"param,omitempty"`

	// StatusCode overrides the type-derived HTTP status when non-zero.
	StatusCode int `json:"-"`

	// Body holds the verbatim upstream response body for upstream errors so
	// it can be passed through largely unmodified.
	Body []byte `json:"-"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// HTTPStatusCode maps the error to an HTTP status, preferring an explicit
// override from WithStatusCode.
func (e *APIError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}

	switch e.Type {
	case ErrorTypeInvalidRequest, ErrorTypeValidation:
		return http.StatusBadRequest
	case ErrorTypeAuthentication:
		return http.StatusUnauthorized
	case ErrorTypePermission:
		return http.StatusForbidden
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeUpstream, ErrorTypeTransformation:
		return http.StatusBadGateway
	case ErrorTypeServer:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// NewAPIError builds an error of the given category.
func NewAPIError(errType ErrorType, message string) *APIError {
	return &APIError{Type: errType, Message: message}
}

// WithCode narrows the error with a code clients can switch on.
func (e *APIError) WithCode(code ErrorCode) *APIError {
	e.Code = code
	return e
}

// WithParam names the offending request parameter.
func (e *APIError) WithParam(param string) *APIError {
	e.Param = param
	return e
}

// WithStatusCode pins the HTTP status regardless of type.
func (e *APIError) WithStatusCode(code int) *APIError {
	e.StatusCode = code
	return e
}

// WithBody attaches a verbatim upstream body.
func (e *APIError) WithBody(body []byte) *APIError {
	e.Body = body
	return e
}

// Constructors for the documented error conditions

// ErrInvalidRequest reports a malformed request body or parameter.
func ErrInvalidRequest(message string) *APIError {
	return NewAPIError(ErrorTypeInvalidRequest, message)
}

// ErrAuthentication reports a missing or unknown API key.
func ErrAuthentication(message string) *APIError {
	return NewAPIError(ErrorTypeAuthentication, message).
		WithCode(ErrorCodeInvalidAPIKey)
}

// ErrModelNotFound reports a model id that no configured model matches.
func ErrModelNotFound(model string) *APIError {
	return NewAPIError(ErrorTypeNotFound, fmt.Sprintf("model %q not found", model)).
		WithCode(ErrorCodeModelNotFound).
		WithParam("model")
}

// ErrModelNotAllowed reports a model the authenticated user may not use.
func ErrModelNotAllowed(model string) *APIError {
	return NewAPIError(ErrorTypePermission, fmt.Sprintf("model %q is not allowed for this API key", model)).
		WithCode(ErrorCodeModelNotAllowed).
		WithParam("model")
}

// ErrImageValidation reports an image that failed size validation. The whole
// request is aborted, not just the offending block.
func ErrImageValidation(message string) *APIError {
	return NewAPIError(ErrorTypeValidation, message).
		WithCode(ErrorCodeImageValidationFailed)
}

// ErrImageUploadNotSupported reports image content sent to a model without
// the image upload capability.
func ErrImageUploadNotSupported(model string) *APIError {
	return NewAPIError(ErrorTypeValidation, fmt.Sprintf("model %q does not support image uploads", model)).
		WithCode(ErrorCodeImageUploadNotSupported)
}

// ErrVideoUploadNotSupported reports video content sent to a model without
// the video upload capability.
func ErrVideoUploadNotSupported(model string) *APIError {
	return NewAPIError(ErrorTypeValidation, fmt.Sprintf("model %q does not support video uploads", model)).
		WithCode(ErrorCodeVideoUploadNotSupported)
}

// ErrInvalidMultipart reports a multipart body that could not be decoded.
func ErrInvalidMultipart(message string) *APIError {
	return NewAPIError(ErrorTypeInvalidRequest, message).
		WithCode(ErrorCodeInvalidMultipartData)
}

// ErrUpstream wraps a non-success provider response, preserving its status
// and verbatim body.
func ErrUpstream(status int, body []byte) *APIError {
	return NewAPIError(ErrorTypeUpstream, fmt.Sprintf("upstream returned status %d", status)).
		WithStatusCode(status).
		WithBody(body)
}

// ErrTransformation reports a documented-contract break in an upstream
// response shape.
func ErrTransformation(message string) *APIError {
	return NewAPIError(ErrorTypeTransformation, message).
		WithCode(ErrorCodeMalformedResponseEnvelope)
}

// ErrServer reports an internal failure.
func ErrServer(message string) *APIError {
	return NewAPIError(ErrorTypeServer, message)
}
