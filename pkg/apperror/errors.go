package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// Error codes.
const (
	CodeInvalidSignature  = "SEC_002"
	CodeInsufficientFunds = "PAY_001"
	CodeValidation        = "PAY_002"
	CodeConflict          = "PAY_003"
	CodeNotFound          = "PAY_004"
	CodeInvalidToken      = "AUTH_003"
	CodeRateLimited       = "RATE_001"
	CodePersistence       = "SYS_001"
	CodeLockExhausted     = "SYS_002"
	CodeUpstream          = "UPS_001"
)

// ---- Security & Authentication (SEC) ----

func ErrInvalidSignature() *AppError {
	return New(CodeInvalidSignature, "Invalid signature", http.StatusUnauthorized)
}

// ---- Wallet Business Logic (PAY) ----

func ErrInsufficientFunds() *AppError {
	return New(CodeInsufficientFunds, "Insufficient balance in wallet", http.StatusPaymentRequired)
}

func ErrInvalidAmount() *AppError {
	return New(CodeValidation, "Amount must be greater than zero", http.StatusBadRequest)
}

func ErrDuplicateTransaction(reference string) *AppError {
	return New(CodeConflict, fmt.Sprintf("Transaction with reference %s already exists", reference), http.StatusConflict)
}

func ErrNotFound(entity string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

// ---- Authentication (AUTH) ----

func ErrInvalidToken() *AppError {
	return New(CodeInvalidToken, "Invalid or expired token", http.StatusUnauthorized)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New(CodeRateLimited, "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- Upstream provider (UPS) ----

func ErrUpstream(message string, err error) *AppError {
	if message == "" {
		message = "Payment provider request failed"
	}
	return Wrap(CodeUpstream, message, http.StatusBadGateway, err)
}

// ---- System & Infrastructure (SYS) ----

func ErrDatabaseError(err error) *AppError {
	return Wrap(CodePersistence, "Internal database error", http.StatusInternalServerError, err)
}

func ErrLockTimeout(err error) *AppError {
	return Wrap(CodeLockExhausted, "Wallet is busy, please retry", http.StatusServiceUnavailable, err)
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap(CodePersistence, "Internal server error", http.StatusInternalServerError, err)
}

// Validation returns a PAY_002-style validation error.
func Validation(message string) *AppError {
	return New(CodeValidation, message, http.StatusBadRequest)
}

// CodeOf returns the AppError code carried by err, or "" when err is not an AppError.
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// Is reports whether err carries the given AppError code.
func Is(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}

// Attempted reports whether err was raised after a balance mutation had begun,
// meaning the operation was rolled back or compensated rather than never started.
// Errors that are not AppErrors are treated as attempted.
func Attempted(err error) bool {
	if err == nil {
		return false
	}
	switch CodeOf(err) {
	case CodeValidation, CodeNotFound, CodeConflict, CodeInsufficientFunds,
		CodeLockExhausted, CodeInvalidSignature, CodeInvalidToken, CodeRateLimited:
		return false
	}
	return true
}
