package errors

import (
	stderrors "errors"
	"strings"
	"testing"
)

func TestNewCarriesLocation(t *testing.T) {
	err := New("bad session %q", "x/y")
	if !strings.Contains(err.Error(), "errors_test.go:") {
		t.Errorf("expected file:line prefix, got %q", err.Error())
	}
	if !strings.Contains(err.Error(), `bad session "x/y"`) {
		t.Errorf("expected formatted message, got %q", err.Error())
	}
}

func TestWrapfNil(t *testing.T) {
	if Wrapf(nil, "context") != nil {
		t.Error("Wrapf(nil) should be nil")
	}
}

func TestMarkKeepsBothChains(t *testing.T) {
	base := stderrors.New("disk full")
	err := Wrapf(Mark(base, ErrStorage), "append failed")

	if !Is(err, ErrStorage) {
		t.Error("expected ErrStorage in chain")
	}
	if !Is(err, base) {
		t.Error("expected original error in chain")
	}
	if Is(err, ErrProvider) {
		t.Error("unexpected ErrProvider in chain")
	}
	if !strings.Contains(err.Error(), "disk full") {
		t.Errorf("message lost: %q", err.Error())
	}
}

func TestMarkIdempotent(t *testing.T) {
	err := Mark(ErrPolicy, ErrPolicy)
	if err != ErrPolicy {
		t.Errorf("expected sentinel returned unchanged, got %v", err)
	}
	if Mark(nil, ErrPolicy) != nil {
		t.Error("Mark(nil) should be nil")
	}
}
