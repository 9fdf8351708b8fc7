package p2p

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/bcosnet/go-bcosnet/p2p/vnode"
)

var errSocketClosed = errors.New("socket closed")

// Socket is one transport connection, plain or TLS.
// Read and Write may be called from different goroutines, but never concurrently with themselves.
type Socket interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)

	// Handshake authenticates the peer, a no-op for plain sockets
	Handshake(ctx context.Context) error

	// Close is idempotent, it gives up a graceful shutdown after the close timeout
	Close() error
	IsConnected() bool

	RemoteEndpoint() vnode.EndPoint
	LocalEndpoint() vnode.EndPoint

	// NodeIPEndpoint is the dial target for outbound sockets, the remote endpoint otherwise
	NodeIPEndpoint() vnode.EndPoint
	SetNodeIPEndpoint(e vnode.EndPoint)

	// Identity is valid after a successful Handshake
	Identity() Identity
}

type socketRole byte

const (
	roleServer socketRole = iota
	roleClient
)

func (r socketRole) String() string {
	if r == roleClient {
		return "client"
	}
	return "server"
}

type socketOptions struct {
	closeTimeout time.Duration
	writeTimeout time.Duration
}

// baseSocket keeps what plain and TLS sockets share
type baseSocket struct {
	raw    net.Conn
	opts   socketOptions
	closed atomic.Bool
	once   sync.Once

	mu       sync.RWMutex
	nodeIP   vnode.EndPoint
	identity Identity
}

func (s *baseSocket) IsConnected() bool {
	return !s.closed.Load()
}

func (s *baseSocket) RemoteEndpoint() vnode.EndPoint {
	return vnode.FromAddr(s.raw.RemoteAddr())
}

func (s *baseSocket) LocalEndpoint() vnode.EndPoint {
	return vnode.FromAddr(s.raw.LocalAddr())
}

func (s *baseSocket) NodeIPEndpoint() vnode.EndPoint {
	s.mu.RLock()
	e := s.nodeIP
	s.mu.RUnlock()

	if e.IsZero() {
		return s.RemoteEndpoint()
	}
	return e
}

func (s *baseSocket) SetNodeIPEndpoint(e vnode.EndPoint) {
	s.mu.Lock()
	s.nodeIP = e
	s.mu.Unlock()
}

func (s *baseSocket) Identity() Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.identity
}

func (s *baseSocket) setIdentity(id Identity) {
	s.mu.Lock()
	s.identity = id
	s.mu.Unlock()
}

func (s *baseSocket) setWriteDeadline() {
	if s.opts.writeTimeout > 0 {
		_ = s.raw.SetWriteDeadline(time.Now().Add(s.opts.writeTimeout))
	}
}

// shutdown runs graceful once, the raw connection is force closed if graceful takes longer than closeTimeout
func (s *baseSocket) shutdown(graceful func() error) (err error) {
	err = errSocketClosed
	s.once.Do(func() {
		s.closed.Store(true)

		if s.opts.closeTimeout <= 0 {
			err = graceful()
			return
		}

		_ = s.raw.SetDeadline(time.Now().Add(s.opts.closeTimeout))
		force := time.AfterFunc(s.opts.closeTimeout, func() {
			_ = s.raw.Close()
		})
		err = graceful()
		force.Stop()
	})

	return
}

// plainSocket carries no authentication, the identity is given by the creator
type plainSocket struct {
	baseSocket
}

// NewPlainSocket wrap conn without TLS, id is reported as the peer identity
func NewPlainSocket(conn net.Conn, id Identity) Socket {
	s := &plainSocket{
		baseSocket: baseSocket{
			raw:      conn,
			identity: id,
		},
	}

	return s
}

func (s *plainSocket) Read(p []byte) (int, error) {
	return s.raw.Read(p)
}

func (s *plainSocket) Write(p []byte) (int, error) {
	s.setWriteDeadline()
	return s.raw.Write(p)
}

func (s *plainSocket) Handshake(ctx context.Context) error {
	return ctx.Err()
}

func (s *plainSocket) Close() error {
	return s.shutdown(s.raw.Close)
}

type tlsSocket struct {
	baseSocket
	role socketRole
	conn *tls.Conn
}

// newTLSSocket wrap raw with TLS, verifier decides whether the peer is accepted
func newTLSSocket(raw net.Conn, role socketRole, base *tls.Config, verifier *Verifier, opts socketOptions) *tlsSocket {
	s := &tlsSocket{
		baseSocket: baseSocket{
			raw:  raw,
			opts: opts,
		},
		role: role,
	}

	cfg := base.Clone()
	cfg.VerifyPeerCertificate = func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		id, err := verifier.VerifyPeerCertificates(rawCerts)
		if err != nil {
			return err
		}
		s.setIdentity(id)
		return nil
	}

	if role == roleClient {
		s.conn = tls.Client(raw, cfg)
	} else {
		s.conn = tls.Server(raw, cfg)
	}

	return s
}

func (s *tlsSocket) Read(p []byte) (int, error) {
	return s.conn.Read(p)
}

func (s *tlsSocket) Write(p []byte) (int, error) {
	s.setWriteDeadline()
	return s.conn.Write(p)
}

func (s *tlsSocket) Handshake(ctx context.Context) error {
	if s.closed.Load() {
		return errSocketClosed
	}

	return s.conn.HandshakeContext(ctx)
}

func (s *tlsSocket) Close() error {
	return s.shutdown(s.conn.Close)
}
