package aviation

import (
	"errors"
	"fmt"
	"testing"
)

// TestErrorFormatting tests the error message layout.
func TestErrorFormatting(t *testing.T) {
	err := NewError(KindRateLimited, "opensky", "fetch aircraft", "provider rate limit exceeded (status 429)")
	want := "opensky: fetch aircraft: provider rate limit exceeded (status 429)"
	if err.Error() != want {
		t.Errorf("Expected %q, got %q", want, err.Error())
	}

	noProvider := NewError(KindInvalidInput, "", "parse query", "lat must be a number")
	if noProvider.Error() != "parse query: lat must be a number" {
		t.Errorf("Unexpected message: %q", noProvider.Error())
	}
}

// TestErrorWrapping tests cause wrapping and errors.Is/As traversal.
func TestErrorWrapping(t *testing.T) {
	cause := errors.New("connection refused")
	err := WrapError(KindNetwork, "opensky", "fetch aircraft", cause)

	if !errors.Is(err, cause) {
		t.Error("Expected errors.Is to find the wrapped cause")
	}

	var e *Error
	wrapped := fmt.Errorf("outer: %w", err)
	if !errors.As(wrapped, &e) {
		t.Fatal("Expected errors.As to find the engine error through wrapping")
	}
	if e.Kind != KindNetwork {
		t.Errorf("Expected KindNetwork, got %v", e.Kind)
	}
}

// TestKindOf tests kind extraction.
func TestKindOf(t *testing.T) {
	if got := KindOf(NewError(KindParse, "opensky", "fetch flights", "bad json")); got != KindParse {
		t.Errorf("Expected KindParse, got %v", got)
	}
	if got := KindOf(errors.New("plain")); got != 0 {
		t.Errorf("Expected 0 for a non-engine error, got %v", got)
	}
	if got := KindOf(nil); got != 0 {
		t.Errorf("Expected 0 for nil, got %v", got)
	}

	if !IsKind(NewError(KindRateLimited, "", "op", "msg"), KindRateLimited) {
		t.Error("Expected IsKind to match")
	}
	if IsKind(errors.New("plain"), KindRateLimited) {
		t.Error("Expected IsKind not to match a plain error")
	}
}

// TestKindString tests the kind labels used in API responses.
func TestKindString(t *testing.T) {
	tests := []struct {
		kind ErrorKind
		want string
	}{
		{KindInvalidInput, "invalid_input"},
		{KindMissingCredentials, "missing_credentials"},
		{KindInvalidCredentialsFormat, "invalid_credentials_format"},
		{KindAuthenticationFailed, "authentication_failed"},
		{KindRateLimited, "rate_limited"},
		{KindNetwork, "network"},
		{KindParse, "parse"},
		{ErrorKind(0), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("Expected %q, got %q", tt.want, got)
		}
	}
}
