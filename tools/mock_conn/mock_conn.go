// Package mock_conn provides an in-memory net.Conn pair with deadlines,
// closing either end makes both ends fail.
package mock_conn

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"
)

var errTimeout = errors.New("i/o timeout")
var errClosed = errors.New("mock conn closed")

type mockConnAddress struct {
	name string
}

func (m mockConnAddress) Network() string {
	return "mock"
}

func (m mockConnAddress) String() string {
	return m.name
}

type pipe struct {
	once sync.Once
	term chan struct{}
}

func (p *pipe) close() bool {
	closed := false
	p.once.Do(func() {
		close(p.term)
		closed = true
	})
	return closed
}

type mockConn struct {
	name  string
	rname string
	read  <-chan []byte
	write chan<- []byte
	pipe  *pipe

	rest []byte

	mu        sync.Mutex
	rdeadline time.Time
	wdeadline time.Time
}

func deadlineTimer(d time.Time) (<-chan time.Time, func(), bool) {
	if d.IsZero() {
		return nil, func() {}, true
	}
	wait := time.Until(d)
	if wait <= 0 {
		return nil, func() {}, false
	}
	t := time.NewTimer(wait)
	return t.C, func() { t.Stop() }, true
}

func (mc *mockConn) Read(b []byte) (n int, err error) {
	if len(mc.rest) > 0 {
		n = copy(b, mc.rest)
		mc.rest = mc.rest[n:]
		return n, nil
	}

	mc.mu.Lock()
	d := mc.rdeadline
	mc.mu.Unlock()

	timer, stop, ok := deadlineTimer(d)
	if !ok {
		return 0, errTimeout
	}
	defer stop()

	select {
	case <-timer:
		return 0, errTimeout
	case chunk := <-mc.read:
		n = copy(b, chunk)
		mc.rest = chunk[n:]
		return n, nil
	case <-mc.pipe.term:
		return 0, io.EOF
	}
}

func (mc *mockConn) Write(b []byte) (n int, err error) {
	select {
	case <-mc.pipe.term:
		return 0, errClosed
	default:
	}

	mc.mu.Lock()
	d := mc.wdeadline
	mc.mu.Unlock()

	timer, stop, ok := deadlineTimer(d)
	if !ok {
		return 0, errTimeout
	}
	defer stop()

	chunk := make([]byte, len(b))
	copy(chunk, b)

	select {
	case <-timer:
		return 0, errTimeout
	case mc.write <- chunk:
		return len(b), nil
	case <-mc.pipe.term:
		return 0, errClosed
	}
}

func (mc *mockConn) Close() error {
	if mc.pipe.close() {
		return nil
	}

	return errClosed
}

func (mc *mockConn) LocalAddr() net.Addr {
	return mockConnAddress{
		name: mc.name,
	}
}

func (mc *mockConn) RemoteAddr() net.Addr {
	return mockConnAddress{
		name: mc.rname,
	}
}

func (mc *mockConn) SetDeadline(t time.Time) error {
	mc.mu.Lock()
	mc.rdeadline = t
	mc.wdeadline = t
	mc.mu.Unlock()

	return nil
}

func (mc *mockConn) SetReadDeadline(t time.Time) error {
	mc.mu.Lock()
	mc.rdeadline = t
	mc.mu.Unlock()
	return nil
}

func (mc *mockConn) SetWriteDeadline(t time.Time) error {
	mc.mu.Lock()
	mc.wdeadline = t
	mc.mu.Unlock()
	return nil
}

// Pipe return two connected ends, addr1 and addr2 are used as their local
// addresses, written chunks are buffered up to 64 writes.
func Pipe(addr1, addr2 string) (c1, c2 net.Conn) {
	ch1 := make(chan []byte, 64)
	ch2 := make(chan []byte, 64)
	p := &pipe{term: make(chan struct{})}

	c1 = &mockConn{
		name:  addr1,
		rname: addr2,
		read:  ch1,
		write: ch2,
		pipe:  p,
	}
	c2 = &mockConn{
		name:  addr2,
		rname: addr1,
		read:  ch2,
		write: ch1,
		pipe:  p,
	}

	return
}
