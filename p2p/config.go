/*
 * Copyright 2018 The go-vite Authors
 * This file is part of the go-vite library.
 *
 * The go-vite library is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Lesser General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * The go-vite library is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Lesser General Public License for more details.
 *
 * You should have received a copy of the GNU Lesser General Public License
 * along with the go-vite library. If not, see <http://www.gnu.org/licenses/>.
 */

package p2p

import (
	"errors"
	"net"
	"strconv"
	"time"

	"github.com/bcosnet/go-bcosnet/p2p/vnode"
)

const (
	DefaultListenIP             = "0.0.0.0"
	DefaultListenPort           = vnode.DefaultPort
	DefaultMaxPeers             = 100
	DefaultMaxPendingHandshakes = 20
	DefaultConnectTimeout       = 3 * time.Second
	DefaultHandshakeTimeout     = 10 * time.Second
	DefaultIdleTimeout          = 60 * time.Second
	DefaultCloseTimeout         = 30 * time.Second
	DefaultWriteTimeout         = 30 * time.Second
	DefaultKeepAliveInterval    = 30 * time.Second
	DefaultReconnectInterval    = 60 * time.Second
	DefaultMinReconnectInterval = 5 * time.Second
	DefaultHeartbeatInterval    = 10 * time.Second
	DefaultRequestTimeout       = 30 * time.Second
	DefaultMaxWriteQueue        = 10000
	DefaultReadBufferSize       = 16 * 1024
	DefaultWorkers              = 16
	DefaultVerifyDepth          = 3
	DefaultAMOPProtocolID       = 1
	DefaultTopicProtocolID      = 2
	DefaultPeerStoreExpiration  = 7 * 24 * time.Hour
)

var errMissingCredentials = errors.New("missing ca, node certificate or node key")
var errSameReservedProtocol = errors.New("AMOP and topic protocol id must differ")

// Config is the essential configuration to create Host and Service.
// It is built once at startup and handed to the constructors.
type Config struct {
	// ListenIP and ListenPort is where the acceptor binds, port 0 picks a free port
	ListenIP   string
	ListenPort int

	// PublicAddress is how other nodes reach us, used to skip ourself in static nodes
	PublicAddress string

	// StaticNodes will be connected and reconnected, ID may be zero
	StaticNodes []vnode.Node

	// DataDir keeps the peer store, empty means in memory
	DataDir string
	// PeerStoreExpiration forgets stored peers not seen for this long
	PeerStoreExpiration time.Duration

	// PEM files
	CACert   string
	NodeCert string
	NodeKey  string

	// EnableSSLVerify rejects a handshake if the peer chain does not verify against CACert
	EnableSSLVerify bool
	// CheckIssuer compares the issuer of peer certificate with ExpectedIssuer,
	// ExpectedIssuer defaults to the issuer of our own certificate
	CheckIssuer    bool
	ExpectedIssuer string
	CheckExpiry    bool
	// VerifyDepth is the max count of certificates above the leaf
	VerifyDepth int

	EnableWhitelist bool
	Whitelist       []vnode.NodeID
	EnableBlacklist bool
	Blacklist       []vnode.NodeID

	// MaxPeers counts live sessions and pending outbound connections
	MaxPeers int
	// MaxPendingHandshakes bounds concurrent inbound handshakes
	MaxPendingHandshakes int

	ConnectTimeout       time.Duration
	HandshakeTimeout     time.Duration
	IdleTimeout          time.Duration
	CloseTimeout         time.Duration
	WriteTimeout         time.Duration
	KeepAliveInterval    time.Duration
	ReconnectInterval    time.Duration
	MinReconnectInterval time.Duration
	HeartbeatInterval    time.Duration
	// RequestTimeout is used by blocking sends called without a timeout
	RequestTimeout time.Duration

	// ReconnectBackoff makes reconnect skip static endpoints whose last dials failed, the wait doubles
	// from MinReconnectInterval up to ReconnectInterval. Off by default, every heartbeat redials.
	ReconnectBackoff bool

	MaxWriteQueue  int
	ReadBufferSize int

	Compress          bool
	MinCompressLength int
	MaxMsgLength      int

	// Workers is the size of the callback pool
	Workers int

	// BandwidthLimit in bytes per second for multicast and broadcast, 0 means no limit
	BandwidthLimit int
	BandwidthBurst int

	AMOPProtocolID  int32
	TopicProtocolID int32
}

// NewConfig return a config with every default set, credentials are left empty
func NewConfig() *Config {
	cfg := &Config{
		ListenPort:      DefaultListenPort,
		EnableSSLVerify: true,
		CheckExpiry:     true,
	}
	cfg.ensureDefaults()
	return cfg
}

func (cfg *Config) ensureDefaults() {
	if cfg.ListenIP == "" {
		cfg.ListenIP = DefaultListenIP
	}
	if cfg.VerifyDepth == 0 {
		cfg.VerifyDepth = DefaultVerifyDepth
	}
	if cfg.MaxPeers == 0 {
		cfg.MaxPeers = DefaultMaxPeers
	}
	if cfg.MaxPendingHandshakes == 0 {
		cfg.MaxPendingHandshakes = DefaultMaxPendingHandshakes
	}

	durations := []struct {
		d   *time.Duration
		def time.Duration
	}{
		{&cfg.ConnectTimeout, DefaultConnectTimeout},
		{&cfg.HandshakeTimeout, DefaultHandshakeTimeout},
		{&cfg.IdleTimeout, DefaultIdleTimeout},
		{&cfg.CloseTimeout, DefaultCloseTimeout},
		{&cfg.WriteTimeout, DefaultWriteTimeout},
		{&cfg.KeepAliveInterval, DefaultKeepAliveInterval},
		{&cfg.ReconnectInterval, DefaultReconnectInterval},
		{&cfg.MinReconnectInterval, DefaultMinReconnectInterval},
		{&cfg.HeartbeatInterval, DefaultHeartbeatInterval},
		{&cfg.RequestTimeout, DefaultRequestTimeout},
		{&cfg.PeerStoreExpiration, DefaultPeerStoreExpiration},
	}
	for _, item := range durations {
		if *item.d == 0 {
			*item.d = item.def
		}
	}

	if cfg.MaxWriteQueue == 0 {
		cfg.MaxWriteQueue = DefaultMaxWriteQueue
	}
	if cfg.ReadBufferSize == 0 {
		cfg.ReadBufferSize = DefaultReadBufferSize
	}
	if cfg.MinCompressLength == 0 {
		cfg.MinCompressLength = DefaultMinCompressLength
	}
	if cfg.MaxMsgLength == 0 {
		cfg.MaxMsgLength = DefaultMaxMsgLength
	}
	if cfg.Workers == 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.AMOPProtocolID == 0 {
		cfg.AMOPProtocolID = DefaultAMOPProtocolID
	}
	if cfg.TopicProtocolID == 0 {
		cfg.TopicProtocolID = DefaultTopicProtocolID
	}
}

// Validate fill defaults and check the fields a node can not start without
func (cfg *Config) Validate() error {
	cfg.ensureDefaults()

	if cfg.CACert == "" || cfg.NodeCert == "" || cfg.NodeKey == "" {
		return errMissingCredentials
	}
	if cfg.AMOPProtocolID == cfg.TopicProtocolID {
		return errSameReservedProtocol
	}
	if cfg.ListenPort < 0 || cfg.ListenPort > 65535 {
		return errors.New("invalid listen port " + strconv.Itoa(cfg.ListenPort))
	}

	return nil
}

// ListenAddress is ListenIP:ListenPort
func (cfg *Config) ListenAddress() string {
	return net.JoinHostPort(cfg.ListenIP, strconv.Itoa(cfg.ListenPort))
}

func (cfg *Config) publicEndPoint() (e vnode.EndPoint, ok bool) {
	if cfg.PublicAddress == "" {
		return
	}

	var err error
	e, err = vnode.ParseEndPoint(cfg.PublicAddress)
	return e, err == nil
}

// accessControl build the black and white lists from the config
func (cfg *Config) accessControl() *AccessControl {
	return &AccessControl{
		Blacklist: NewPeerList(cfg.EnableBlacklist, cfg.Blacklist...),
		Whitelist: NewPeerList(cfg.EnableWhitelist, cfg.Whitelist...),
	}
}

func (cfg *Config) codec() *Codec {
	return NewCodec(cfg.Compress, cfg.MinCompressLength, cfg.MaxMsgLength)
}

func (cfg *Config) sessionConfig() SessionConfig {
	return SessionConfig{
		IdleTimeout:    cfg.IdleTimeout,
		MaxWriteQueue:  cfg.MaxWriteQueue,
		ReadBufferSize: cfg.ReadBufferSize,
	}
}
