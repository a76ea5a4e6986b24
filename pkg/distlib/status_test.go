package distlib

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func st(code StatusCode, result ResultCode, errCode ErrorCode) *InstallStatus {
	return NewInstallStatus(code, result, errCode, time.Minute)
}

func TestMerge_FinishedWithInstallingStaysOpen(t *testing.T) {
	got := Merge(st(StatusFinished, ResultOK, ErrorNone), st(StatusInstalling, ResultOK, ErrorNone), false)
	if got.IsFinished() {
		t.Fatalf("expected non-finished, got %s", got)
	}
	got = Merge(st(StatusInstalling, ResultOK, ErrorNone), st(StatusFinished, ResultOK, ErrorNone), false)
	if got.IsFinished() {
		t.Fatalf("expected non-finished, got %s", got)
	}
}

func TestMerge_FinishedOKWithFinishedError(t *testing.T) {
	ok := st(StatusFinished, ResultOK, ErrorNone)
	bad := st(StatusFinished, ResultError, ErrorNetworkUnavailable)
	bad.Cause = "network unavailable"

	for _, allFinished := range []bool{true, false} {
		got := Merge(ok, bad, allFinished)
		if got.StatusCode != StatusFinished {
			t.Fatalf("allFinished=%v: expected finished, got %s", allFinished, got)
		}
		if got.ResultCode != ResultError || got.ErrorCode != ErrorNetworkUnavailable {
			t.Fatalf("allFinished=%v: expected error result, got %s", allFinished, got)
		}
		if got.Cause != bad.Cause {
			t.Fatalf("expected cause %q, got %q", bad.Cause, got.Cause)
		}

		got = Merge(bad, ok, allFinished)
		if got.ResultCode != ResultError || got.ErrorCode != ErrorNetworkUnavailable {
			t.Fatalf("allFinished=%v: older error must win, got %s", allFinished, got)
		}
	}
}

func TestMerge_StatusTable(t *testing.T) {
	codes := []StatusCode{StatusInstalling, StatusStreaming, StatusUpdateDelayed, StatusFinished}
	for _, o := range codes {
		for _, n := range codes {
			got := Merge(st(o, ResultOK, ErrorNone), st(n, ResultOK, ErrorNone), false).StatusCode
			var want StatusCode
			switch {
			case o == StatusFinished && n == StatusFinished:
				want = StatusFinished
			case o == StatusFinished:
				want = n
			case n == StatusFinished:
				want = o
			default:
				want = max(o, n)
			}
			if got != want {
				t.Errorf("merge(%s, %s) = %s, want %s", o, n, got, want)
			}
			if all := Merge(st(o, ResultOK, ErrorNone), st(n, ResultOK, ErrorNone), true); !all.IsFinished() {
				t.Errorf("merge(%s, %s, all) = %s, want finished", o, n, all)
			}
		}
	}
}

func TestMerge_ResultTieTakesUpdate(t *testing.T) {
	old := st(StatusFinished, ResultError, ErrorNetworkUnavailable)
	upd := st(StatusFinished, ResultError, ErrorArchiveNotFound)
	if got := Merge(old, upd, true); got.ErrorCode != ErrorArchiveNotFound {
		t.Fatalf("expected update error code on tie, got %s", got.ErrorCode)
	}
}

func TestMerge_NilOld(t *testing.T) {
	got := Merge(nil, st(StatusFinished, ResultCancel, ErrorNone), false)
	if got.StatusCode != StatusInstalling {
		t.Fatalf("nil old acts as installing, got %s", got)
	}
	if got.ResultCode != ResultCancel {
		t.Fatalf("expected cancel result, got %s", got)
	}
}

func TestMerge_KeepsLaterExpiry(t *testing.T) {
	old := NewInstallStatus(StatusInstalling, ResultOK, ErrorNone, time.Hour)
	upd := NewInstallStatus(StatusStreaming, ResultOK, ErrorNone, time.Second)
	if got := Merge(old, upd, false); !got.ExpiresAt.Equal(old.ExpiresAt) {
		t.Fatalf("expected expiry %v, got %v", old.ExpiresAt, got.ExpiresAt)
	}
}

func TestNewErrorStatus(t *testing.T) {
	s := NewErrorStatus(fmt.Errorf("fetch: %w", ErrNetworkUnavailable), time.Minute)
	if s.StatusCode != StatusFinished || s.ResultCode != ResultError || s.ErrorCode != ErrorNetworkUnavailable {
		t.Fatalf("unexpected status %s", s)
	}
	if s.Cause == "" {
		t.Fatal("expected cause")
	}

	s = NewErrorStatus(context.Canceled, time.Minute)
	if s.ResultCode != ResultCancel || s.ErrorCode != ErrorNone {
		t.Fatalf("cancellation should map to cancel, got %s", s)
	}

	s = NewErrorStatus(errors.New("disk on fire"), time.Minute)
	if s.ErrorCode != ErrorUnknown {
		t.Fatalf("expected unknown code, got %s", s.ErrorCode)
	}
}

func TestInstallStatus_IsExpired(t *testing.T) {
	s := NewInstallStatus(StatusFinished, ResultOK, ErrorNone, time.Minute)
	if s.IsExpired(s.Timestamp) {
		t.Fatal("fresh status expired")
	}
	if !s.IsExpired(s.Timestamp.Add(2 * time.Minute)) {
		t.Fatal("status should expire after ttl")
	}
	if (&InstallStatus{}).IsExpired(time.Now()) {
		t.Fatal("status without expiry never expires")
	}
}

func TestInstallError_Is(t *testing.T) {
	wrapped := fmt.Errorf("open: %w", NewInstallError(ErrorArchiveNotFound, errors.New("gone")))
	if !errors.Is(wrapped, ErrArchiveNotFound) {
		t.Fatal("errors.Is should match by code")
	}
	if errors.Is(wrapped, ErrCertificateChanged) {
		t.Fatal("different codes must not match")
	}
	if ErrorCodeOf(wrapped) != ErrorArchiveNotFound {
		t.Fatalf("unexpected code %s", ErrorCodeOf(wrapped))
	}
	if ErrorCodeOf(nil) != ErrorNone {
		t.Fatal("nil error has no code")
	}
}
