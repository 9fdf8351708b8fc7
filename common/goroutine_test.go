package common

import (
	"testing"
	"time"
)

func TestCatch(t *testing.T) {
	if Catch(func() {}) {
		t.Fatal("should not report a panic")
	}
	if !Catch(func() { panic("boom") }) {
		t.Fatal("should report a panic")
	}
}

func TestGo(t *testing.T) {
	done := make(chan struct{})
	Go(func() {
		defer close(done)
		panic("boom")
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("goroutine did not run")
	}
}
