package internal

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

type ErrorType string

const (
	ErrorTypeValidation     ErrorType = "VALIDATION_ERROR"
	ErrorTypeNotFound       ErrorType = "NOT_FOUND"
	ErrorTypeUnauthorized   ErrorType = "UNAUTHORIZED"
	ErrorTypeForbidden      ErrorType = "FORBIDDEN"
	ErrorTypeConflict       ErrorType = "CONFLICT"
	ErrorTypeRouting        ErrorType = "ROUTING_ERROR"
	ErrorTypeProvider       ErrorType = "PROVIDER_ERROR"
	ErrorTypeReconciliation ErrorType = "RECONCILIATION_ERROR"
	ErrorTypeInternal       ErrorType = "INTERNAL_ERROR"
	ErrorTypeExternal       ErrorType = "EXTERNAL_ERROR"
)

type ErrorCode string

const (
	ErrCodeValidationFailed    ErrorCode = "VALIDATION_FAILED"
	ErrCodeInvalidAmount       ErrorCode = "INVALID_AMOUNT"
	ErrCodeAmountTooLow        ErrorCode = "AMOUNT_TOO_LOW"
	ErrCodeAmountTooHigh       ErrorCode = "AMOUNT_TOO_HIGH"
	ErrCodeUnsupportedCurrency ErrorCode = "UNSUPPORTED_CURRENCY"
	ErrCodeDailyCountExceeded  ErrorCode = "DAILY_COUNT_EXCEEDED"
	ErrCodeDailyAmountExceeded ErrorCode = "DAILY_AMOUNT_EXCEEDED"
	ErrCodeVelocityExceeded    ErrorCode = "VELOCITY_EXCEEDED"
	ErrCodeDuplicateAmounts    ErrorCode = "DUPLICATE_AMOUNT_PATTERN"
	ErrCodeRepeatedFailures    ErrorCode = "REPEATED_FAILURES"
	ErrCodeInvalidMetadata     ErrorCode = "INVALID_METADATA"

	ErrCodeCodeNotFound         ErrorCode = "DEPOSIT_CODE_NOT_FOUND"
	ErrCodeCodeWrongStatus      ErrorCode = "DEPOSIT_CODE_WRONG_STATUS"
	ErrCodeCodeExpired          ErrorCode = "DEPOSIT_CODE_EXPIRED"
	ErrCodeCodeAmountMismatch   ErrorCode = "DEPOSIT_CODE_AMOUNT_MISMATCH"
	ErrCodeCodeCurrencyMismatch ErrorCode = "DEPOSIT_CODE_CURRENCY_MISMATCH"
	ErrCodeCodeUnauthorized     ErrorCode = "DEPOSIT_CODE_UNAUTHORIZED"
	ErrCodeCodeInvalidFormat    ErrorCode = "DEPOSIT_CODE_INVALID_FORMAT"
	ErrCodeCodeAlreadyUsed      ErrorCode = "DEPOSIT_CODE_ALREADY_USED"
	ErrCodeCodeCollision        ErrorCode = "DEPOSIT_CODE_COLLISION"
	ErrCodeGenerationExhausted  ErrorCode = "DEPOSIT_CODE_GENERATION_EXHAUSTED"

	ErrCodePaymentNotFound    ErrorCode = "PAYMENT_NOT_FOUND"
	ErrCodeInvalidTransition  ErrorCode = "INVALID_STATUS_TRANSITION"
	ErrCodeRetryNotAllowed    ErrorCode = "RETRY_NOT_ALLOWED"
	ErrCodeCancelNotAllowed   ErrorCode = "CANCEL_NOT_ALLOWED"
	ErrCodeNoGatewayAvailable ErrorCode = "NO_GATEWAY_AVAILABLE"
	ErrCodeProviderFailed     ErrorCode = "PROVIDER_FAILED"
	ErrCodeGatewayNotFound    ErrorCode = "GATEWAY_NOT_FOUND"

	ErrCodeInvalidSignature ErrorCode = "INVALID_WEBHOOK_SIGNATURE"
	ErrCodeInvalidPayload   ErrorCode = "INVALID_WEBHOOK_PAYLOAD"
	ErrCodeWebhookNotFound  ErrorCode = "WEBHOOK_NOT_FOUND"
)

type AppError struct {
	Type       ErrorType   `json:"type"`
	Code       ErrorCode   `json:"code"`
	Message    string      `json:"message"`
	Details    interface{} `json:"details,omitempty"`
	StatusCode int         `json:"-"`
	Cause      error       `json:"-"`
}

func (e *AppError) Error() string {
	if e.Details != nil {
		if validationErrors, ok := e.Details.(ValidationErrors); ok && len(validationErrors.Errors) > 0 {
			return validationErrors.Errors[0].Message
		}
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) GetDetailedMessage() string {
	if e.Details != nil {
		if validationErrors, ok := e.Details.(ValidationErrors); ok {
			if len(validationErrors.Errors) == 1 {
				return validationErrors.Errors[0].Message
			} else if len(validationErrors.Errors) > 1 {
				messages := make([]string, len(validationErrors.Errors))
				for i, err := range validationErrors.Errors {
					messages[i] = err.Message
				}
				return strings.Join(messages, "; ")
			}
		}
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

func (e *AppError) WithDetails(details interface{}) *AppError {
	e.Details = details
	return e
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func NewValidationError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

func NewValidationFieldError(field, message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       ErrCodeValidationFailed,
		Message:    "Validation failed",
		StatusCode: http.StatusBadRequest,
		Details: ValidationErrors{
			Errors: []ValidationError{
				{Field: field, Message: message, Code: string(code)},
			},
		},
	}
}

func NewNotFoundError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusNotFound,
	}
}

func NewUnauthorizedError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeUnauthorized,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
	}
}

func NewForbiddenError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeForbidden,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusForbidden,
	}
}

func NewConflictError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeConflict,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

// NewRoutingError means no provider qualified for the request; the payment is
// never created in that case.
func NewRoutingError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeRouting,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusUnprocessableEntity,
	}
}

func NewProviderError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeProvider,
		Code:       ErrCodeProviderFailed,
		Message:    message,
		StatusCode: http.StatusBadGateway,
		Cause:      cause,
	}
}

func NewReconciliationError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeReconciliation,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

func NewInternalError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Cause:      cause,
	}
}

var (
	ErrPaymentNotFound    = NewNotFoundError("Payment not found", ErrCodePaymentNotFound)
	ErrGatewayNotFound    = NewNotFoundError("No gateway matches the request", ErrCodeGatewayNotFound)
	ErrNoGatewayAvailable = NewRoutingError("no provider available for amount and currency", ErrCodeNoGatewayAvailable)
	ErrRetryNotAllowed    = NewConflictError("payment is not retryable", ErrCodeRetryNotAllowed)
	ErrCancelNotAllowed   = NewConflictError("payment can no longer be cancelled", ErrCodeCancelNotAllowed)

	ErrDepositCodeNotFound     = NewNotFoundError("deposit code not found", ErrCodeCodeNotFound)
	ErrDepositCodeBadFormat    = NewValidationError("deposit code must be 8 alphanumeric characters", ErrCodeCodeInvalidFormat)
	ErrDepositCodeWrongStatus  = NewValidationError("deposit code is not active", ErrCodeCodeWrongStatus)
	ErrDepositCodeExpired      = NewValidationError("deposit code has expired", ErrCodeCodeExpired)
	ErrDepositCodeAmount       = NewValidationError("amount does not match deposit code", ErrCodeCodeAmountMismatch)
	ErrDepositCodeCurrency     = NewValidationError("currency does not match deposit code", ErrCodeCodeCurrencyMismatch)
	ErrDepositCodeUnauthorized = NewForbiddenError("deposit code belongs to another user", ErrCodeCodeUnauthorized)
	ErrDepositCodeUsed         = NewConflictError("deposit code has already been used", ErrCodeCodeAlreadyUsed)
	ErrDepositCodeCollision    = NewConflictError("deposit code already exists", ErrCodeCodeCollision)

	ErrGenerationExhausted = &AppError{
		Type:       ErrorTypeInternal,
		Code:       ErrCodeGenerationExhausted,
		Message:    "deposit code generation exhausted retry budget",
		StatusCode: http.StatusInternalServerError,
	}

	ErrWebhookBadSignature = NewReconciliationError("webhook signature verification failed", ErrCodeInvalidSignature)
)

func IsAppError(err error) (*AppError, bool) {
	if appErr, ok := err.(*AppError); ok {
		return appErr, true
	}
	return nil, false
}

type Response struct {
	Error *AppError `json:"error"`
}

func (e *AppError) ToHTTPResponse() (int, interface{}) {
	return e.StatusCode, Response{Error: e}
}

func (e *AppError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    ErrorType   `json:"type"`
		Code    ErrorCode   `json:"code"`
		Message string      `json:"message"`
		Details interface{} `json:"details,omitempty"`
	}{
		Type:    e.Type,
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	})
}
