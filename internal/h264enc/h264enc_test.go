package h264enc

import (
	"errors"
	"testing"
)

func TestEncodeBeforeInitReturnsErrNotInitialized(t *testing.T) {
	e := New()
	_, err := e.EncodeI420(nil, nil, nil)
	if !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("err = %v, want ErrNotInitialized", err)
	}
}

func TestForceIDRBeforeInitDoesNotPanic(t *testing.T) {
	e := New()
	e.ForceIDR() // must be safe even without Init
	e.Close()    // teardown on a never-initialized encoder must be safe
}
