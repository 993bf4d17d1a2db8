// Package services defines the business logic for customer queries and user
// authentication. This file centralizes common service-level error values so
// that they can be consistently returned by service methods and checked by
// callers.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer.
package services

import "errors"

// Query-related errors.
var (
	// ErrValidation is returned when input fails a field rule: unknown enum
	// value, empty content, unknown filter value.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidID is returned when an identifier is not a well-formed UUID.
	ErrInvalidID = errors.New("invalid query id")

	// ErrQueryNotFound indicates that no query has the requested ID.
	ErrQueryNotFound = errors.New("query not found")

	// ErrDeleteNotPermitted is returned when deleting a query whose status is
	// neither Resolved nor Closed.
	ErrDeleteNotPermitted = errors.New("only resolved or closed queries can be deleted")
)

// Auth-related errors.
var (
	// ErrUserExists is returned when registering an email that is taken.
	ErrUserExists = errors.New("user already exists")

	// ErrInvalidCredentials is returned for an unknown email or a wrong
	// password; callers cannot tell which.
	ErrInvalidCredentials = errors.New("invalid credentials")
)
