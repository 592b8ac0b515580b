package xerrors

import (
	"context"
	"errors"
	"fmt"
	iofs "io/fs"
	"net"
	"os"
	"testing"
)

func TestKindOf(t *testing.T) {
	wrapped := Wrap(KindPermission, "op", "", errors.New("boom"))

	testcases := []struct {
		name string
		err  error
		kind Kind
	}{
		{name: "nil", err: nil, kind: KindInvalid},
		{name: "wrapped error", err: wrapped, kind: KindPermission},
		{name: "wrapped twice", err: fmt.Errorf("outer: %w", wrapped), kind: KindPermission},
		{name: "iofs permission", err: iofs.ErrPermission, kind: KindPermission},
		{name: "iofs invalid", err: iofs.ErrInvalid, kind: KindInvalid},
		{name: "os not exist", err: os.ErrNotExist, kind: KindNotFound},
		{name: "deadline", err: context.DeadlineExceeded, kind: KindTimeout},
		{name: "dial failure", err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, kind: KindUnavailable},
		{name: "unknown error defaults internal", err: errors.New("other"), kind: KindInternal},
	}

	for _, tc := range testcases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			if got := KindOf(tc.err); got != tc.kind {
				t.Fatalf("KindOf() = %v, want %v", got, tc.kind)
			}
		})
	}
}

func TestErrorMessage(t *testing.T) {
	err := Wrap(KindNotFound, "minio.put", "b1/key", errors.New("NoSuchBucket"))
	want := "minio.put: not found b1/key: NoSuchBucket"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
	if Wrap(KindInternal, "op", "", nil) != nil {
		t.Fatalf("expected nil for nil error")
	}
}
