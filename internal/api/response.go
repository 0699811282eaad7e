package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cloo-solutions/profundo/internal/domain"
)

// SuccessResponse wraps successful API responses
type SuccessResponse struct {
	Data interface{} `json:"data"`
}

// ErrorResponse represents an error API response
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// JSON writes a JSON response with the given status code
func JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// Success writes a successful JSON response
func Success(w http.ResponseWriter, status int, data interface{}) {
	JSON(w, status, SuccessResponse{Data: data})
}

// Error writes an error JSON response
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, ErrorResponse{Error: message})
}

// DomainErrorToHTTP maps domain errors to HTTP status codes
func DomainErrorToHTTP(err error) int {
	if err == nil {
		return http.StatusOK
	}

	var providerErr *domain.ProviderError
	if errors.As(err, &providerErr) {
		if providerErr.Retryable {
			return http.StatusServiceUnavailable
		}
		return http.StatusBadGateway
	}
	var extractionErr *domain.ExtractionError
	if errors.As(err, &extractionErr) {
		return http.StatusBadGateway
	}

	var domainErr *domain.DomainError
	if !errors.As(err, &domainErr) {
		return http.StatusInternalServerError
	}

	switch domainErr.Code {
	case domain.ErrCodeValidation:
		return http.StatusBadRequest
	case domain.ErrCodeNotFound:
		return http.StatusNotFound
	case domain.ErrCodeAlreadyRunning:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// errorCode extracts the taxonomy code of err, if any.
func errorCode(err error) string {
	var (
		domainErr     *domain.DomainError
		providerErr   *domain.ProviderError
		extractionErr *domain.ExtractionError
		invariant     *domain.InvariantViolation
		storageErr    *domain.StorageError
	)
	switch {
	case errors.As(err, &providerErr):
		return domain.ErrCodeProvider
	case errors.As(err, &extractionErr):
		return domain.ErrCodeExtraction
	case errors.As(err, &invariant):
		return domain.ErrCodeInvariant
	case errors.As(err, &storageErr):
		return domain.ErrCodeStorage
	case errors.As(err, &domainErr):
		return domainErr.Code
	}
	return domain.ErrCodeInternalError
}

// HandleError writes an appropriate error response based on the error type
func HandleError(w http.ResponseWriter, err error) {
	status := DomainErrorToHTTP(err)
	JSON(w, status, ErrorResponse{Error: err.Error(), Code: errorCode(err)})
}
