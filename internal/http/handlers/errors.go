// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// Codes are lowercase snake_case and stable: clients branch on them, not on
// messages. Generic codes mirror HTTP status semantics; the *_failed codes
// name the operation whose persistence step failed and always come with a 500.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "delete_not_permitted",
//	  "message": "only resolved or closed queries can be deleted"
//	}
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeInvalidID        = "invalid_id"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeForbidden        = "forbidden"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeInternal         = "internal_error"
	ErrCodeUnavailable      = "unavailable"

	// Domain-specific:
	ErrCodeDeleteNotPermitted = "delete_not_permitted"
	ErrCodeUserExists         = "user_exists"
	ErrCodeInvalidCredentials = "invalid_credentials"

	// Persistence failures, one per operation:
	ErrCodeCreateFailed   = "create_failed"
	ErrCodeListFailed     = "list_failed"
	ErrCodeGetFailed      = "get_failed"
	ErrCodeUpdateFailed   = "update_failed"
	ErrCodeDeleteFailed   = "delete_failed"
	ErrCodeStatsFailed    = "stats_failed"
	ErrCodeRegisterFailed = "register_failed"
	ErrCodeLoginFailed    = "login_failed"
)
