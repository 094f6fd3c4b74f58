// Package errors provides structured error handling for the edge service.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Version lifecycle errors
	CodeSeedUnavailable     Code = "SEED_UNAVAILABLE"
	CodeInstallFailed       Code = "INSTALL_FAILED"
	CodeInvalidLifecycle    Code = "INVALID_LIFECYCLE_TRANSITION"
	CodeInvalidTierName     Code = "INVALID_TIER_NAME"
	CodeDuplicateTierName   Code = "DUPLICATE_TIER_NAME"
	CodeInvalidOrigin       Code = "INVALID_ORIGIN"
	CodeNoActiveVersion     Code = "NO_ACTIVE_VERSION"
	CodeStorageUnavailable  Code = "STORAGE_UNAVAILABLE"
	CodeUnsupportedStorage  Code = "UNSUPPORTED_STORAGE"
	CodeAdminTokenInvalid   Code = "ADMIN_TOKEN_INVALID"
	CodeAdminTokenMissing   Code = "ADMIN_TOKEN_MISSING"
	CodeEventsNotRecorded   Code = "EVENTS_NOT_RECORDED"
	CodeInvalidRequestLimit Code = "INVALID_REQUEST_LIMIT"
)

// HTTPStatus maps domain codes to HTTP status codes for the admin API.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeInvalidTierName,
		CodeDuplicateTierName,
		CodeInvalidOrigin,
		CodeUnsupportedStorage,
		CodeInvalidRequestLimit:
		return http.StatusBadRequest

	case CodeAdminTokenInvalid,
		CodeAdminTokenMissing:
		return http.StatusUnauthorized

	case CodeEventsNotRecorded:
		return http.StatusNotFound

	case CodeInvalidLifecycle:
		return http.StatusConflict

	case CodeSeedUnavailable,
		CodeInstallFailed,
		CodeNoActiveVersion,
		CodeStorageUnavailable:
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}
