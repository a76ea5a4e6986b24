package distlib

import (
	"context"
	"errors"
	"fmt"
)

// ErrorCode is the structured failure reason reported to listeners.
type ErrorCode int

const (
	ErrorNone ErrorCode = iota
	ErrorPackageIncompatible
	ErrorCertificateChanged
	ErrorCacheObsolete
	ErrorArchiveNotFound
	ErrorNetworkUnavailable
	ErrorUnknown
)

func (c ErrorCode) String() string {
	switch c {
	case ErrorNone:
		return "none"
	case ErrorPackageIncompatible:
		return "package_incompatible"
	case ErrorCertificateChanged:
		return "package_certificate_changed"
	case ErrorCacheObsolete:
		return "package_cache_obsolete"
	case ErrorArchiveNotFound:
		return "archive_file_not_found"
	case ErrorNetworkUnavailable:
		return "network_unavailable"
	case ErrorUnknown:
		return "unknown"
	}
	return fmt.Sprintf("error(%d)", int(c))
}

var (
	ErrArchiveNotFound     = &InstallError{Code: ErrorArchiveNotFound, Err: errors.New("local archive file not found")}
	ErrNetworkUnavailable  = &InstallError{Code: ErrorNetworkUnavailable, Err: errors.New("network unavailable")}
	ErrCertificateChanged  = &InstallError{Code: ErrorCertificateChanged, Err: errors.New("package certificate changed")}
	ErrPackageIncompatible = &InstallError{Code: ErrorPackageIncompatible, Err: errors.New("package version below pinned minimum")}

	ErrServiceClosed   = errors.New("distribution service is closed")
	ErrEmptyPackage    = errors.New("package name is required")
	ErrListenerUnknown = errors.New("listener is not registered")
	ErrDispatcherShut  = errors.New("dispatcher is shut down")
)

// InstallError attaches an ErrorCode to an underlying error.
type InstallError struct {
	Code ErrorCode
	Err  error
}

// NewInstallError wraps err with code.
func NewInstallError(code ErrorCode, err error) *InstallError {
	return &InstallError{Code: code, Err: err}
}

func (e *InstallError) Error() string {
	if e.Err == nil {
		return e.Code.String()
	}
	return e.Err.Error()
}

func (e *InstallError) Unwrap() error {
	return e.Err
}

// Is matches any InstallError with the same code, so wrapped sentinels
// compare equal through errors.Is.
func (e *InstallError) Is(target error) bool {
	t, ok := target.(*InstallError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// ErrorCodeOf extracts the structured code from err. Errors without one map
// to ErrorUnknown, nil and cancellations to ErrorNone.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil || isCanceled(err) {
		return ErrorNone
	}
	var ie *InstallError
	if errors.As(err, &ie) {
		return ie.Code
	}
	return ErrorUnknown
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}
