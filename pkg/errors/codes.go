package errors

import (
	"strings"
)

// ErrorCode is a string representation of a specific error condition.
type ErrorCode string

func (c ErrorCode) String() string {
	return string(c)
}

// Common Error Codes
const (
	ErrCodeInternal      ErrorCode = "COMMON_001"
	ErrCodeBadRequest    ErrorCode = "COMMON_002"
	ErrCodeNotFound      ErrorCode = "COMMON_005"
	ErrCodeConflict      ErrorCode = "COMMON_006"
	ErrCodeTimeout       ErrorCode = "COMMON_009"
	ErrCodeValidation    ErrorCode = "COMMON_010"
	ErrCodeSerialization ErrorCode = "COMMON_011"
	CodeOK               ErrorCode = "OK"
	CodeUnknown          ErrorCode = "UNKNOWN"
)

// Chemistry record and predicate codes
const (
	ErrCodeFingerprintUnavailable ErrorCode = "CHEM_001"
	ErrCodeCorruptRecord          ErrorCode = "CHEM_002"
	ErrCodeInvalidPredicate       ErrorCode = "CHEM_003"
	ErrCodeStructureInvalid       ErrorCode = "CHEM_004"
	ErrCodeVerificationFailed     ErrorCode = "CHEM_005"
)

// Search backend codes
const (
	ErrCodeIndexAlreadyExists ErrorCode = "SRCH_001"
	ErrCodeIndexNotFound      ErrorCode = "SRCH_002"
	ErrCodeTransport          ErrorCode = "SRCH_003"
	ErrCodeBulkRejected       ErrorCode = "SRCH_004"
	ErrCodeMalformedResponse  ErrorCode = "SRCH_005"
)

// Aliases kept for call sites that read better with the short form.
const (
	CodeInternal     = ErrCodeInternal
	CodeInvalidParam = ErrCodeBadRequest
	CodeNotFound     = ErrCodeNotFound
	CodeConflict     = ErrCodeConflict
)

// ErrorCodeMessage maps ErrorCodes to default messages.
var ErrorCodeMessage = map[ErrorCode]string{
	ErrCodeInternal:      "internal error",
	ErrCodeBadRequest:    "bad request",
	ErrCodeNotFound:      "resource not found",
	ErrCodeConflict:      "resource conflict",
	ErrCodeTimeout:       "request timeout",
	ErrCodeValidation:    "validation failed",
	ErrCodeSerialization: "serialization failed",

	ErrCodeFingerprintUnavailable: "fingerprint unavailable",
	ErrCodeCorruptRecord:          "corrupt record",
	ErrCodeInvalidPredicate:       "invalid predicate",
	ErrCodeStructureInvalid:       "invalid structure",
	ErrCodeVerificationFailed:     "structure verification failed",

	ErrCodeIndexAlreadyExists: "index already exists",
	ErrCodeIndexNotFound:      "index not found",
	ErrCodeTransport:          "search backend transport error",
	ErrCodeBulkRejected:       "bulk request rejected",
	ErrCodeMalformedResponse:  "malformed search backend response",
}

// DefaultMessageForCode returns the default message for an ErrorCode.
func DefaultMessageForCode(code ErrorCode) string {
	if msg, ok := ErrorCodeMessage[code]; ok {
		return msg
	}
	return "unknown error"
}

// ModuleForCode returns the module prefix of an ErrorCode.
func ModuleForCode(code ErrorCode) string {
	parts := strings.Split(string(code), "_")
	if len(parts) > 1 && parts[0] != "" {
		return parts[0]
	}
	return "UNKNOWN"
}
