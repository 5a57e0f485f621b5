package errors

import (
	stderr "errors"
	"fmt"
	"testing"
)

func TestStorageError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *StorageError
		want string
	}{
		{
			name: "not found with path",
			err:  NewNotFound("owner/repo"),
			want: `NOT_FOUND: no such file or directory: "owner/repo"`,
		},
		{
			name: "rate limit without path",
			err:  NewRateLimit("API rate limit exceeded"),
			want: "RATE_LIMIT_EXCEEDED: API rate limit exceeded",
		},
		{
			name: "unsupported names the operation",
			err:  NewUnsupported("write"),
			want: `UNSUPPORTED_OPERATION: operation "write" not supported`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStorageError_Is(t *testing.T) {
	err := NewNotFound("a/b")
	if !stderr.Is(err, &StorageError{Code: ErrCodeNotFound}) {
		t.Error("expected errors.Is match on code")
	}
	if stderr.Is(err, &StorageError{Code: ErrCodePermission}) {
		t.Error("unexpected errors.Is match across codes")
	}
}

func TestPredicates_UnwrapChain(t *testing.T) {
	wrapped := fmt.Errorf("head failed: %w", NewPermission("secret/repo"))
	if !IsPermission(wrapped) {
		t.Error("IsPermission should see through fmt.Errorf wrapping")
	}
	if IsNotFound(wrapped) {
		t.Error("IsNotFound should not match a permission error")
	}

	caused := NewNotFound("x").WithCause(stderr.New("network down"))
	if !IsNotFound(caused) {
		t.Error("IsNotFound should match the outer error")
	}
	if caused.Unwrap() == nil {
		t.Error("Unwrap should expose the cause")
	}
}

func TestFromStatusCode(t *testing.T) {
	tests := []struct {
		status int
		check  func(error) bool
		ok     bool
	}{
		{200, nil, true},
		{304, nil, true},
		{403, IsPermission, false},
		{404, IsNotFound, false},
		{422, IsNotFound, false},
		{500, nil, false},
	}

	for _, tt := range tests {
		err := FromStatusCode(tt.status, "p")
		if tt.ok {
			if err != nil {
				t.Errorf("status %d: unexpected error %v", tt.status, err)
			}
			continue
		}
		if err == nil {
			t.Errorf("status %d: expected error", tt.status)
			continue
		}
		if tt.check != nil && !tt.check(err) {
			t.Errorf("status %d: wrong error class %v", tt.status, err)
		}
	}
}
