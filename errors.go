package otcs

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorType represents the category of error
type ErrorType string

const (
	ErrorTypeValidation   ErrorType = "validation"
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeUnauthorized ErrorType = "unauthorized"
	ErrorTypeTransport    ErrorType = "transport"
	ErrorTypeSchema       ErrorType = "schema"
	ErrorTypeEncoding     ErrorType = "encoding"
	ErrorTypeBatch        ErrorType = "batch"
	ErrorTypeInternal     ErrorType = "internal"
)

// OTCSError is the structured error returned by the client, codec and tool layers.
type OTCSError struct {
	Type       ErrorType      `json:"type"`
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	Field      string         `json:"field,omitempty"`
	NodeID     int64          `json:"node_id,omitempty"`
	CategoryID int64          `json:"category_id,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	Cause      error          `json:"-"`
}

func (e *OTCSError) Error() string {
	if e.NodeID != 0 && e.CategoryID != 0 {
		return fmt.Sprintf("[%s:%s] node %d category %d: %s",
			e.Type, e.Code, e.NodeID, e.CategoryID, e.Message)
	}
	if e.NodeID != 0 {
		return fmt.Sprintf("[%s:%s] node %d: %s", e.Type, e.Code, e.NodeID, e.Message)
	}
	if e.Field != "" {
		return fmt.Sprintf("[%s:%s] field '%s': %s", e.Type, e.Code, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Type, e.Code, e.Message)
}

func (e *OTCSError) Unwrap() error {
	return e.Cause
}

// WithDetails adds details to an OTCSError
func (e *OTCSError) WithDetails(details map[string]any) *OTCSError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// WithDetail adds a single detail to an OTCSError
func (e *OTCSError) WithDetail(key string, value any) *OTCSError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause adds a cause to an OTCSError
func (e *OTCSError) WithCause(cause error) *OTCSError {
	e.Cause = cause
	return e
}

// WithField adds field context to an OTCSError
func (e *OTCSError) WithField(field string) *OTCSError {
	e.Field = field
	return e
}

// WithNode adds node context to an OTCSError
func (e *OTCSError) WithNode(nodeID int64) *OTCSError {
	e.NodeID = nodeID
	return e
}

// WithCategory adds category context to an OTCSError
func (e *OTCSError) WithCategory(categoryID int64) *OTCSError {
	e.CategoryID = categoryID
	return e
}

const (
	// Client and codec errors
	ErrCodeValidationFailed     = "VALIDATION_FAILED"
	ErrCodeAttributeUnresolved  = "ATTRIBUTE_UNRESOLVED"
	ErrCodeCategoryNotFound     = "CATEGORY_NOT_FOUND"
	ErrCodeInvalidResponse      = "INVALID_RESPONSE"
	ErrCodeEncodingFailed       = "ENCODING_FAILED"
	ErrCodeBatchUpdateFailed    = "BATCH_UPDATE_FAILED"
	ErrCodeCategoryUpdateFailed = "CATEGORY_UPDATE_FAILED"
	ErrCodeInternalError        = "INTERNAL_ERROR"

	// Transport errors
	ErrCodeRequestFailed = "REQUEST_FAILED"
	ErrCodeAuthFailed    = "AUTH_FAILED"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeCircuitOpen   = "CIRCUIT_OPEN"

	// Tool layer errors
	ErrCodeInvalidArguments = "INVALID_ARGUMENTS"
	ErrCodeUnknownTool      = "UNKNOWN_TOOL"
)

// ============================================================================
// OTCSError Constructors
// ============================================================================

// NewOTCSError creates a new OTCSError
func NewOTCSError(errorType ErrorType, code, message string) *OTCSError {
	return &OTCSError{
		Type:    errorType,
		Code:    code,
		Message: message,
		Details: make(map[string]any),
	}
}

// NewValidationError creates a validation error
func NewValidationError(field, message string) *OTCSError {
	return &OTCSError{
		Type:    ErrorTypeValidation,
		Code:    ErrCodeValidationFailed,
		Message: message,
		Field:   field,
		Details: make(map[string]any),
	}
}

// NewUnresolvedAttributeError reports friendly names that matched no attribute.
func NewUnresolvedAttributeError(names []string) *OTCSError {
	return &OTCSError{
		Type:    ErrorTypeValidation,
		Code:    ErrCodeAttributeUnresolved,
		Message: "no attribute matches: " + strings.Join(names, ", "),
		Details: map[string]any{"names": names},
	}
}

// NewInvalidResponseError reports a response body that could not be decoded.
func NewInvalidResponseError(message string, cause error) *OTCSError {
	return &OTCSError{
		Type:    ErrorTypeSchema,
		Code:    ErrCodeInvalidResponse,
		Message: message,
		Cause:   cause,
		Details: make(map[string]any),
	}
}

// NewEncodingError reports a write value that cannot be converted to form pairs.
func NewEncodingError(key string, cause error) *OTCSError {
	return &OTCSError{
		Type:    ErrorTypeEncoding,
		Code:    ErrCodeEncodingFailed,
		Message: "value is not JSON encodable: " + cause.Error(),
		Field:   key,
		Cause:   cause,
		Details: make(map[string]any),
	}
}

// NewRequestError maps a non-2xx server response to an OTCSError.
func NewRequestError(method, path string, status int, serverMessage string) *OTCSError {
	errorType := ErrorTypeTransport
	code := ErrCodeRequestFailed
	switch status {
	case http.StatusNotFound:
		errorType = ErrorTypeNotFound
		code = ErrCodeNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		errorType = ErrorTypeUnauthorized
		code = ErrCodeAuthFailed
	}

	message := fmt.Sprintf("%s %s returned %d", method, path, status)
	if serverMessage != "" {
		message += ": " + serverMessage
	}
	return &OTCSError{
		Type:    errorType,
		Code:    code,
		Message: message,
		Details: map[string]any{
			"method": method,
			"path":   path,
			"status": status,
		},
	}
}

// NewBatchUpdateError reports a multi-category write in which every category failed.
func NewBatchUpdateError(workspaceID int64, failed []CategoryFailure) *OTCSError {
	return &OTCSError{
		Type:    ErrorTypeBatch,
		Code:    ErrCodeBatchUpdateFailed,
		Message: fmt.Sprintf("all %d category updates failed", len(failed)),
		NodeID:  workspaceID,
		Details: map[string]any{"failed": failed},
	}
}

// NewInternalError creates an internal error
func NewInternalError(message string, cause error) *OTCSError {
	return &OTCSError{
		Type:    ErrorTypeInternal,
		Code:    ErrCodeInternalError,
		Message: message,
		Cause:   cause,
		Details: make(map[string]any),
	}
}

// ============================================================================
// Predicates
// ============================================================================

// IsNotFound reports whether err carries a not_found OTCSError.
func IsNotFound(err error) bool {
	return hasType(err, ErrorTypeNotFound)
}

// IsUnauthorized reports whether err carries an unauthorized OTCSError.
func IsUnauthorized(err error) bool {
	return hasType(err, ErrorTypeUnauthorized)
}

// ErrorCode returns the code of the first OTCSError in err's chain, or "".
func ErrorCode(err error) string {
	var otcsErr *OTCSError
	if errors.As(err, &otcsErr) {
		return otcsErr.Code
	}
	return ""
}

func hasType(err error, errorType ErrorType) bool {
	var otcsErr *OTCSError
	return errors.As(err, &otcsErr) && otcsErr.Type == errorType
}
