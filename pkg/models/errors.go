package models

import (
	"fmt"

	platformerrors "github.com/jmgilman/go/errors"
)

// Every failure leaving a backend carries exactly one of these codes.
const (
	// CodeNotFound is returned when the target path is absent
	CodeNotFound = platformerrors.CodeNotFound
	// CodeBadRequest covers malformed wire replies, wrong-kind targets and
	// missing mandatory parameters
	CodeBadRequest = platformerrors.CodeInvalidInput
	// CodePermissionDenied is an OS or server rejection of an access or change
	CodePermissionDenied = platformerrors.CodeForbidden
	// CodeAuthentication is a connection or login failure
	CodeAuthentication = platformerrors.CodeUnauthorized
	// CodeConfiguration is a missing or contradictory connection setting
	CodeConfiguration = platformerrors.CodeInvalidConfig
)

// newError builds a coded error with the operation and path attached as context.
func newError(code platformerrors.ErrorCode, op, path string, cause error, format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	var err platformerrors.PlatformError
	if cause != nil {
		err = platformerrors.Wrap(cause, code, msg)
	} else {
		err = platformerrors.New(code, msg)
	}
	ctx := map[string]interface{}{}
	if op != "" {
		ctx["op"] = op
	}
	if path != "" {
		ctx["path"] = path
	}
	if len(ctx) == 0 {
		return err
	}
	return platformerrors.WithContextMap(err, ctx)
}

// NotFound reports an absent path
func NotFound(op, path string, cause error) error {
	return newError(CodeNotFound, op, path, cause, "%s: no such file or directory: %s", op, path)
}

// BadRequest reports a malformed request or reply
func BadRequest(op, path string, cause error, format string, args ...interface{}) error {
	return newError(CodeBadRequest, op, path, cause, format, args...)
}

// PermissionDenied reports a rejected access or change
func PermissionDenied(op, path string, cause error) error {
	return newError(CodePermissionDenied, op, path, cause, "%s: permission denied: %s", op, path)
}

// Authentication reports a connection or login failure
func Authentication(op string, cause error, format string, args ...interface{}) error {
	return newError(CodeAuthentication, op, "", cause, format, args...)
}

// Configuration reports unusable connection settings
func Configuration(op string, cause error, format string, args ...interface{}) error {
	return newError(CodeConfiguration, op, "", cause, format, args...)
}

// Rebuild recreates a coded error from its parts, e.g. after it crossed a
// process boundary as JSON.
func Rebuild(code, message string, ctx map[string]interface{}) error {
	err := platformerrors.New(platformerrors.ErrorCode(code), message)
	if len(ctx) == 0 {
		return err
	}
	return platformerrors.WithContextMap(err, ctx)
}

// CodeOf returns the code of the outermost coded error in the chain.
func CodeOf(err error) platformerrors.ErrorCode {
	return platformerrors.GetCode(err)
}

// IsCoded reports whether err already carries one of the taxonomy codes
func IsCoded(err error) bool {
	switch CodeOf(err) {
	case CodeNotFound, CodeBadRequest, CodePermissionDenied, CodeAuthentication, CodeConfiguration:
		return err != nil
	}
	return false
}

// IsNotFound reports whether err is a NotFound error
func IsNotFound(err error) bool { return err != nil && CodeOf(err) == CodeNotFound }

// IsBadRequest reports whether err is a BadRequest error
func IsBadRequest(err error) bool { return err != nil && CodeOf(err) == CodeBadRequest }

// IsPermissionDenied reports whether err is a PermissionDenied error
func IsPermissionDenied(err error) bool { return err != nil && CodeOf(err) == CodePermissionDenied }

// IsAuthentication reports whether err is an Authentication error
func IsAuthentication(err error) bool { return err != nil && CodeOf(err) == CodeAuthentication }

// IsConfiguration reports whether err is a Configuration error
func IsConfiguration(err error) bool { return err != nil && CodeOf(err) == CodeConfiguration }

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}
