package errors

import (
	"errors"
	"testing"
)

func TestNew(t *testing.T) {
	err := New(ErrCodeInvalidOperation, "node %q is clamped", "y")

	if err.Code != ErrCodeInvalidOperation {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeInvalidOperation)
	}

	if err.Message != `node "y" is clamped` {
		t.Errorf("Message = %v, want %v", err.Message, `node "y" is clamped`)
	}

	expected := `INVALID_OPERATION: node "y" is clamped`
	if err.Error() != expected {
		t.Errorf("Error() = %v, want %v", err.Error(), expected)
	}
}

func TestWrap(t *testing.T) {
	cause := errors.New("log of negative number")
	err := Wrap(ErrCodeDomain, cause, "evaluate log")

	if err.Code != ErrCodeDomain {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeDomain)
	}

	if err.Cause != cause {
		t.Errorf("Cause = %v, want %v", err.Cause, cause)
	}

	if unwrapped := errors.Unwrap(err); unwrapped != cause {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, cause)
	}

	if !errors.Is(err, cause) {
		t.Error("errors.Is(err, cause) = false, want true")
	}

	expected := "DOMAIN_ERROR: evaluate log: log of negative number"
	if err.Error() != expected {
		t.Errorf("Error() = %v, want %v", err.Error(), expected)
	}
}

func TestIs(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		code     Code
		expected bool
	}{
		{
			name:     "matching code",
			err:      New(ErrCodeCycle, "test"),
			code:     ErrCodeCycle,
			expected: true,
		},
		{
			name:     "non-matching code",
			err:      New(ErrCodeCycle, "test"),
			code:     ErrCodeDanglingEdge,
			expected: false,
		},
		{
			name:     "outer code wins",
			err:      Wrap(ErrCodeInvalidModel, New(ErrCodeTypeMismatch, "inner"), "outer"),
			code:     ErrCodeInvalidModel,
			expected: true,
		},
		{
			name:     "non-Error type",
			err:      errors.New("plain error"),
			code:     ErrCodeInvalidInput,
			expected: false,
		},
		{
			name:     "nil error",
			err:      nil,
			code:     ErrCodeInvalidInput,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Is(tt.err, tt.code); got != tt.expected {
				t.Errorf("Is() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestGetCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Code
	}{
		{"Error type", New(ErrCodeIndexOutOfRange, "test"), ErrCodeIndexOutOfRange},
		{"plain error", errors.New("plain"), ""},
		{"nil", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetCode(tt.err); got != tt.expected {
				t.Errorf("GetCode() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"Error type", New(ErrCodeInvalidInput, "friendly message"), "friendly message"},
		{"plain error", errors.New("plain error"), "plain error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := UserMessage(tt.err); got != tt.expected {
				t.Errorf("UserMessage() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{New(ErrCodeDomain, "x"), true},
		{New(ErrCodeIndexOutOfRange, "x"), true},
		{New(ErrCodeInvalidOperation, "x"), false},
		{New(ErrCodeCycle, "x"), false},
		{errors.New("plain"), false},
		{nil, false},
	}
	for _, tt := range tests {
		if got := Retryable(tt.err); got != tt.want {
			t.Errorf("Retryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestGetCodeOr(t *testing.T) {
	if got := GetCodeOr(New(ErrCodeCycle, "x"), ErrCodeInternal); got != ErrCodeCycle {
		t.Errorf("GetCodeOr() = %v, want %v", got, ErrCodeCycle)
	}
	if got := GetCodeOr(errors.New("plain"), ErrCodeInternal); got != ErrCodeInternal {
		t.Errorf("GetCodeOr() = %v, want %v", got, ErrCodeInternal)
	}
}
