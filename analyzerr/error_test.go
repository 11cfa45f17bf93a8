package analyzerr

import (
	"errors"
	"testing"
)

func TestKindString(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{UnknownFormat, "unknown container format"},
		{AmbiguousFormat, "ambiguous container format"},
		{DecodeFailure, "instruction decode failure"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.kind.String(); got != tt.want {
				t.Errorf("Kind.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorIsKind(t *testing.T) {
	err := New(TruncatedFile, "read past EOF at offset %d", 128)

	if !IsKind(err, TruncatedFile) {
		t.Errorf("IsKind(err, TruncatedFile) = false, want true")
	}
	if IsKind(err, MalformedHeader) {
		t.Errorf("IsKind(err, MalformedHeader) = true, want false")
	}
}

func TestErrorWrapUnwrap(t *testing.T) {
	cause := errors.New("short read")
	err := Wrap(TruncatedFile, cause, "section table")

	if !errors.Is(err, cause) {
		t.Errorf("errors.Is(err, cause) = false, want true")
	}
}

func TestErrorIsSentinel(t *testing.T) {
	a := New(DanglingReference, "string table index 7")
	b := New(DanglingReference, "segment index 3")

	if !errors.Is(a, b) {
		t.Errorf("errors.Is(a, b) = false, want true for matching Kind")
	}

	c := New(MalformedHeader, "bad class")
	if errors.Is(a, c) {
		t.Errorf("errors.Is(a, c) = true, want false for differing Kind")
	}
}
