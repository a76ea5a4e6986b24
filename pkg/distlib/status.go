// Package distlib implements the package distribution scheduler: task graph
// construction, the per-task fetch/install algorithm, resumable and delayed
// installs, status merging across sibling sub-packages and listener fan-out.
package distlib

import (
	"fmt"
	"time"
)

// StatusCode is the coarse lifecycle stage of an install.
// FINISHED must stay the highest value, Merge relies on it.
type StatusCode int

const (
	StatusInstalling StatusCode = iota
	StatusStreaming
	StatusUpdateDelayed
	StatusFinished
)

func (c StatusCode) String() string {
	switch c {
	case StatusInstalling:
		return "installing"
	case StatusStreaming:
		return "streaming"
	case StatusUpdateDelayed:
		return "update_delayed"
	case StatusFinished:
		return "finished"
	}
	return fmt.Sprintf("status(%d)", int(c))
}

// ResultCode is the outcome of a finished install. Larger values dominate
// smaller ones when statuses are merged.
type ResultCode int

const (
	ResultOK ResultCode = iota
	ResultUnknown
	ResultCancel
	ResultError
)

func (c ResultCode) String() string {
	switch c {
	case ResultOK:
		return "ok"
	case ResultUnknown:
		return "unknown"
	case ResultCancel:
		return "cancel"
	case ResultError:
		return "error"
	}
	return fmt.Sprintf("result(%d)", int(c))
}

// DefaultStatusTTL is how long a cached status is replayed to late listeners.
const DefaultStatusTTL = 5 * time.Minute

// InstallStatus is an immutable snapshot of an install's state.
type InstallStatus struct {
	StatusCode StatusCode `json:"status_code"`
	ResultCode ResultCode `json:"result_code"`
	ErrorCode  ErrorCode  `json:"error_code"`
	Cause      string     `json:"cause,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
	ExpiresAt  time.Time  `json:"expires_at"`
}

// NewInstallStatus creates a status stamped with now and the given ttl.
func NewInstallStatus(code StatusCode, result ResultCode, errCode ErrorCode, ttl time.Duration) *InstallStatus {
	now := time.Now()
	return &InstallStatus{
		StatusCode: code,
		ResultCode: result,
		ErrorCode:  errCode,
		Timestamp:  now,
		ExpiresAt:  now.Add(ttl),
	}
}

// NewErrorStatus creates a FINISHED/ERROR status carrying err as its cause.
// Cancellation errors produce FINISHED/CANCEL instead.
func NewErrorStatus(err error, ttl time.Duration) *InstallStatus {
	result := ResultError
	if isCanceled(err) {
		result = ResultCancel
	}
	st := NewInstallStatus(StatusFinished, result, ErrorCodeOf(err), ttl)
	if err != nil {
		st.Cause = err.Error()
	}
	return st
}

// IsFinished reports whether the status is terminal.
func (s *InstallStatus) IsFinished() bool {
	return s.StatusCode == StatusFinished
}

// IsExpired reports whether the status should no longer be replayed.
func (s *InstallStatus) IsExpired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

func (s *InstallStatus) String() string {
	if s == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s/%s(%s)", s.StatusCode, s.ResultCode, s.ErrorCode)
}

// Merge folds a sibling task's status into the package-level status.
//
// When the group is not all finished and one side is FINISHED, the status
// code collapses to the other side via old+new-FINISHED. Both sides FINISHED
// therefore stays FINISHED. A nil old is treated as INSTALLING/OK.
func Merge(old, update *InstallStatus, allFinished bool) *InstallStatus {
	if old == nil {
		old = &InstallStatus{StatusCode: StatusInstalling, ResultCode: ResultOK}
	}
	merged := *update

	switch {
	case allFinished:
		merged.StatusCode = StatusFinished
	case old.StatusCode == StatusFinished || update.StatusCode == StatusFinished:
		merged.StatusCode = old.StatusCode + update.StatusCode - StatusFinished
	default:
		merged.StatusCode = max(old.StatusCode, update.StatusCode)
	}

	if old.ResultCode > update.ResultCode {
		merged.ResultCode = old.ResultCode
		merged.ErrorCode = old.ErrorCode
		merged.Cause = old.Cause
	} else {
		merged.ResultCode = update.ResultCode
		merged.ErrorCode = update.ErrorCode
		merged.Cause = update.Cause
	}
	if merged.ExpiresAt.Before(old.ExpiresAt) {
		merged.ExpiresAt = old.ExpiresAt
	}
	return &merged
}
