package common

import (
	"runtime/debug"

	"github.com/inconshreveable/log15"
)

var glog = log15.New("module", "common/goroutine")

// Go runs fn in a new goroutine. A panic inside fn is logged with its stack
// and swallowed, a crashed callback must not take the node down.
func Go(fn func()) {
	go Catch(fn)
}

// Catch runs fn on the calling goroutine and recovers a panic from it.
// It returns true if fn panicked.
func Catch(fn func()) (panicked bool) {
	defer func() {
		if err := recover(); err != nil {
			glog.Error("panic", "err", err, "stack", string(debug.Stack()))
			panicked = true
		}
	}()
	fn()
	return false
}
