// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package auth

import (
	"errors"

	"github.com/samber/oops"
)

// Repository sentinels. Implementations wrap these so callers can use errors.Is.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateEmail is returned when an account with the same email already exists.
	ErrDuplicateEmail = errors.New("duplicate email")

	// ErrConflict is returned when a conditional write matched no rows because
	// the expected state was changed by a concurrent writer.
	ErrConflict = errors.New("conflict")
)

// Outcome codes returned by Service operations.
const (
	CodeDuplicateEmail     = "DUPLICATE_EMAIL"
	CodeNotFound           = "NOT_FOUND"
	CodeTokenNotFound      = "TOKEN_NOT_FOUND"
	CodeEmailNotVerified   = "EMAIL_NOT_VERIFIED"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeMissingCredential  = "MISSING_CREDENTIAL"
	CodeInvalidCredential  = "INVALID_CREDENTIAL"
	CodeValidation         = "VALIDATION"
	CodeInternal           = "INTERNAL_ERROR"
)

// User-facing messages.
const (
	MsgRegistered         = "User registered successfully, please check your email for verification"
	MsgEmailVerified      = "Email verified successfully"
	MsgLoggedIn           = "User logged in successfully"
	MsgResetLinkSent      = "Reset password link sent to your email"
	MsgPasswordReset      = "Password reset successfully"
	MsgDuplicateEmail     = "Email already exists"
	MsgNotFound           = "User not found"
	MsgTokenNotFound      = "Invalid or expired token"
	MsgEmailNotVerified   = "Email not verified"
	MsgInvalidCredentials = "Invalid Credentials"
	MsgMissingCredential  = "Access Denied. Token not provided"
	MsgInvalidCredential  = "Invalid token"
	MsgValidation         = "Invalid request"
	MsgInternal           = "Internal server error"
)

var messages = map[string]string{
	CodeDuplicateEmail:     MsgDuplicateEmail,
	CodeNotFound:           MsgNotFound,
	CodeTokenNotFound:      MsgTokenNotFound,
	CodeEmailNotVerified:   MsgEmailNotVerified,
	CodeInvalidCredentials: MsgInvalidCredentials,
	CodeMissingCredential:  MsgMissingCredential,
	CodeInvalidCredential:  MsgInvalidCredential,
	CodeValidation:         MsgValidation,
	CodeInternal:           MsgInternal,
}

// ErrorCode returns the outcome code carried by err.
// Errors that carry no outcome code, including raw collaborator faults,
// collapse to CodeInternal. A nil error yields "".
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return CodeInternal
	}
	code, _ := oopsErr.Code().(string)
	if _, known := messages[code]; !known {
		return CodeInternal
	}
	return code
}

// Message returns the user-facing message for err's outcome code.
func Message(err error) string {
	return messages[ErrorCode(err)]
}

func outcome(code string) oops.OopsErrorBuilder {
	return oops.Code(code).Public(messages[code])
}

// invalidInput reports a caller mistake; msg is safe to show the caller.
func invalidInput(field, msg string) error {
	return oops.Code(CodeValidation).Public(msg).With("field", field).Errorf("%s", msg)
}

func internalError(operation string, err error) error {
	return outcome(CodeInternal).With("operation", operation).Wrap(err)
}
