package domain

import (
	"errors"
	"fmt"
)

// Common domain errors
var (
	// ErrClientAlreadyExists is returned when trying to register a client that already exists
	ErrClientAlreadyExists = errors.New("client already exists")

	// ErrRelayStopped is returned when trying to use a relay that has been stopped
	ErrRelayStopped = errors.New("relay stopped")

	// ErrConnectionClosed is returned when trying to use a closed connection
	ErrConnectionClosed = errors.New("connection closed")

	// ErrSendBufferFull is returned when a client cannot keep up with deliveries
	ErrSendBufferFull = errors.New("send buffer full")

	// ErrPartyNotFound is returned when no party has the requested id
	ErrPartyNotFound = errors.New("party not found")

	// ErrInvalidParty is returned when a party misses required fields
	ErrInvalidParty = errors.New("invalid party")
)

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Cause   error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string, cause error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// ErrCodeInvalid marks input that failed validation
const ErrCodeInvalid = "INVALID"
