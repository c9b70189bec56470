// Package errors provides error handling and HTTP status code mapping.
package errors

import (
	"errors"
	"net/http"

	"github.com/remiblancher/asic/internal/api/dto"
	"github.com/remiblancher/asic/internal/api/service"
	"github.com/remiblancher/asic/pkg/asic"
)

// Error codes for API responses.
const (
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodeNotFound           = "NOT_FOUND"
	CodeValidation         = "VALIDATION_ERROR"
	CodeInternal           = "INTERNAL_ERROR"
	CodeContainerNotFound  = "CONTAINER_NOT_FOUND"
	CodeSessionNotFound    = "SESSION_NOT_FOUND"
	CodeSessionExpired     = "SESSION_EXPIRED"
	CodeSignatureIDInUse   = "SIGNATURE_ID_IN_USE"
	CodeIllegalProfile     = "ILLEGAL_SIGNATURE_PROFILE"
	CodeNotSupported       = "NOT_SUPPORTED"
	CodeTokenMissing       = "SIGNATURE_TOKEN_MISSING"
	CodeInvalidSignature   = "INVALID_SIGNATURE"
	CodeInvalidValue       = "INVALID_SIGNATURE_VALUE"
	CodeAlreadyFinalized   = "ALREADY_FINALIZED"
	CodeNoDataFiles        = "NO_DATA_FILES"
	CodeServiceUnreachable = "SERVICE_UNREACHABLE"
	CodeTimestampedASiCS   = "TIMESTAMPED_CONTAINER"
	CodeSignatureOpPrefix  = "ASIC_"
	CodeSignatureOpSuffix  = "_ERROR"
)

// MapError maps an internal error to an HTTP status code and APIError.
func MapError(err error) (int, *dto.APIError) {
	if err == nil {
		return http.StatusOK, nil
	}

	var unreachable *asic.ServiceUnreachableError
	if errors.As(err, &unreachable) {
		return http.StatusBadGateway, &dto.APIError{
			Code:    CodeServiceUnreachable,
			Message: unreachable.Error(),
			Details: map[string]string{
				"service": unreachable.Service,
				"url":     unreachable.URL,
			},
		}
	}

	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		return http.StatusBadRequest, NewBadRequest(err.Error())
	case errors.Is(err, service.ErrContainerNotFound):
		return http.StatusNotFound, &dto.APIError{Code: CodeContainerNotFound, Message: err.Error()}
	case errors.Is(err, service.ErrSessionNotFound):
		return http.StatusNotFound, &dto.APIError{Code: CodeSessionNotFound, Message: err.Error()}
	case errors.Is(err, service.ErrSessionExpired):
		return http.StatusGone, &dto.APIError{Code: CodeSessionExpired, Message: err.Error()}
	case errors.Is(err, service.ErrSignatureIDInUse):
		return http.StatusConflict, &dto.APIError{Code: CodeSignatureIDInUse, Message: err.Error()}
	case errors.Is(err, asic.ErrTimestampedContainer):
		return http.StatusConflict, &dto.APIError{
			Code:    CodeTimestampedASiCS,
			Message: asic.DiagnosticTimestampedASiCS,
		}
	case errors.Is(err, asic.ErrIllegalSignatureProfile):
		return http.StatusUnprocessableEntity, &dto.APIError{Code: CodeIllegalProfile, Message: err.Error()}
	case errors.Is(err, asic.ErrDataToSignConsumed):
		return http.StatusConflict, &dto.APIError{Code: CodeAlreadyFinalized, Message: err.Error()}
	case errors.Is(err, asic.ErrInvalidSignatureValue):
		return http.StatusBadRequest, &dto.APIError{Code: CodeInvalidValue, Message: err.Error()}
	case errors.Is(err, asic.ErrSignatureTokenMissing):
		return http.StatusBadRequest, &dto.APIError{Code: CodeTokenMissing, Message: err.Error()}
	case errors.Is(err, asic.ErrNoDataFiles):
		return http.StatusBadRequest, &dto.APIError{Code: CodeNoDataFiles, Message: err.Error()}
	case errors.Is(err, asic.ErrInvalidSignature):
		return http.StatusUnprocessableEntity, &dto.APIError{Code: CodeInvalidSignature, Message: err.Error()}
	case errors.Is(err, asic.ErrNotSupported):
		return http.StatusUnprocessableEntity, &dto.APIError{Code: CodeNotSupported, Message: err.Error()}
	}

	// Check for SignatureError with operation context
	var sigErr *asic.SignatureError
	if errors.As(err, &sigErr) {
		return http.StatusInternalServerError, &dto.APIError{
			Code:    CodeSignatureOpPrefix + sigErr.Op + CodeSignatureOpSuffix,
			Message: sigErr.Error(),
			Details: map[string]string{
				"operation": sigErr.Op,
			},
		}
	}

	// Default internal error
	return http.StatusInternalServerError, &dto.APIError{
		Code:    CodeInternal,
		Message: "An internal error occurred",
	}
}

// NewBadRequest creates a bad request error.
func NewBadRequest(message string) *dto.APIError {
	return &dto.APIError{
		Code:    CodeInvalidRequest,
		Message: message,
	}
}

// NewNotFound creates a not found error.
func NewNotFound(resource, id string) *dto.APIError {
	return &dto.APIError{
		Code:    CodeNotFound,
		Message: resource + " not found",
		Details: map[string]string{"id": id},
	}
}

// NewValidationError creates a validation error.
func NewValidationError(message string, details map[string]string) *dto.APIError {
	return &dto.APIError{
		Code:    CodeValidation,
		Message: message,
		Details: details,
	}
}
