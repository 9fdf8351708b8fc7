package config

import (
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/bcosnet/go-bcosnet/p2p"
	"github.com/bcosnet/go-bcosnet/p2p/vnode"
)

// P2P is the JSON form of p2p.Config, durations are in seconds
type P2P struct {
	ListenIP      string   `json:"ListenIP"`
	ListenPort    int      `json:"ListenPort"`
	PublicAddress string   `json:"PublicAddress"`
	StaticNodes   []string `json:"StaticNodes"`
	DataDir       string   `json:"DataDir"`

	CACert   string `json:"CACert"`
	NodeCert string `json:"NodeCert"`
	NodeKey  string `json:"NodeKey"`

	EnableSSLVerify bool   `json:"EnableSSLVerify"`
	CheckIssuer     bool   `json:"CheckIssuer"`
	ExpectedIssuer  string `json:"ExpectedIssuer"`
	CheckExpiry     bool   `json:"CheckExpiry"`
	VerifyDepth     int    `json:"VerifyDepth"`

	EnableWhitelist bool     `json:"EnableWhitelist"`
	Whitelist       []string `json:"Whitelist"`
	EnableBlacklist bool     `json:"EnableBlacklist"`
	Blacklist       []string `json:"Blacklist"`

	MaxPeers             int `json:"MaxPeers"`
	MaxPendingHandshakes int `json:"MaxPendingHandshakes"`

	ConnectTimeout       int64 `json:"ConnectTimeout"`
	HandshakeTimeout     int64 `json:"HandshakeTimeout"`
	IdleTimeout          int64 `json:"IdleTimeout"`
	CloseTimeout         int64 `json:"CloseTimeout"`
	WriteTimeout         int64 `json:"WriteTimeout"`
	KeepAliveInterval    int64 `json:"KeepAliveInterval"`
	ReconnectInterval    int64 `json:"ReconnectInterval"`
	MinReconnectInterval int64 `json:"MinReconnectInterval"`
	ReconnectBackoff     bool  `json:"ReconnectBackoff"`
	HeartbeatInterval    int64 `json:"HeartbeatInterval"`
	RequestTimeout       int64 `json:"RequestTimeout"`
	PeerStoreExpiration  int64 `json:"PeerStoreExpiration"`

	MaxWriteQueue  int `json:"MaxWriteQueue"`
	ReadBufferSize int `json:"ReadBufferSize"`

	Compress          bool `json:"Compress"`
	MinCompressLength int  `json:"MinCompressLength"`
	MaxMsgLength      int  `json:"MaxMsgLength"`

	Workers int `json:"Workers"`

	BandwidthLimit int `json:"BandwidthLimit"`
	BandwidthBurst int `json:"BandwidthBurst"`

	AMOPProtocolID  int32 `json:"AMOPProtocolID"`
	TopicProtocolID int32 `json:"TopicProtocolID"`
}

func seconds(n int64) time.Duration {
	return time.Duration(n) * time.Second
}

func toSeconds(d time.Duration) int64 {
	return int64(d / time.Second)
}

func parseNodeIDs(strs []string) ([]vnode.NodeID, error) {
	ids := make([]vnode.NodeID, 0, len(strs))
	for _, str := range strs {
		id, err := vnode.Hex2NodeID(str)
		if err != nil {
			return nil, errors.Wrapf(err, "parse node id %q", str)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func formatNodeIDs(ids []vnode.NodeID) []string {
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = id.String()
	}
	return strs
}

// resolve make certificate paths absolute against dir
func (c *P2P) resolve(dir string) {
	for _, p := range []*string{&c.CACert, &c.NodeCert, &c.NodeKey} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(dir, *p)
		}
	}
}

// ToP2PConfig convert to p2p.Config, zero fields get the p2p defaults
func (c *P2P) ToP2PConfig() (*p2p.Config, error) {
	nodes := make([]vnode.Node, 0, len(c.StaticNodes))
	for _, str := range c.StaticNodes {
		n, err := vnode.ParseNode(str)
		if err != nil {
			return nil, errors.Wrapf(err, "parse static node %q", str)
		}
		nodes = append(nodes, n)
	}

	whitelist, err := parseNodeIDs(c.Whitelist)
	if err != nil {
		return nil, errors.Wrap(err, "whitelist")
	}
	blacklist, err := parseNodeIDs(c.Blacklist)
	if err != nil {
		return nil, errors.Wrap(err, "blacklist")
	}

	cfg := &p2p.Config{
		ListenIP:             c.ListenIP,
		ListenPort:           c.ListenPort,
		PublicAddress:        c.PublicAddress,
		StaticNodes:          nodes,
		DataDir:              c.DataDir,
		PeerStoreExpiration:  seconds(c.PeerStoreExpiration),
		CACert:               c.CACert,
		NodeCert:             c.NodeCert,
		NodeKey:              c.NodeKey,
		EnableSSLVerify:      c.EnableSSLVerify,
		CheckIssuer:          c.CheckIssuer,
		ExpectedIssuer:       c.ExpectedIssuer,
		CheckExpiry:          c.CheckExpiry,
		VerifyDepth:          c.VerifyDepth,
		EnableWhitelist:      c.EnableWhitelist,
		Whitelist:            whitelist,
		EnableBlacklist:      c.EnableBlacklist,
		Blacklist:            blacklist,
		MaxPeers:             c.MaxPeers,
		MaxPendingHandshakes: c.MaxPendingHandshakes,
		ConnectTimeout:       seconds(c.ConnectTimeout),
		HandshakeTimeout:     seconds(c.HandshakeTimeout),
		IdleTimeout:          seconds(c.IdleTimeout),
		CloseTimeout:         seconds(c.CloseTimeout),
		WriteTimeout:         seconds(c.WriteTimeout),
		KeepAliveInterval:    seconds(c.KeepAliveInterval),
		ReconnectInterval:    seconds(c.ReconnectInterval),
		MinReconnectInterval: seconds(c.MinReconnectInterval),
		ReconnectBackoff:     c.ReconnectBackoff,
		HeartbeatInterval:    seconds(c.HeartbeatInterval),
		RequestTimeout:       seconds(c.RequestTimeout),
		MaxWriteQueue:        c.MaxWriteQueue,
		ReadBufferSize:       c.ReadBufferSize,
		Compress:             c.Compress,
		MinCompressLength:    c.MinCompressLength,
		MaxMsgLength:         c.MaxMsgLength,
		Workers:              c.Workers,
		BandwidthLimit:       c.BandwidthLimit,
		BandwidthBurst:       c.BandwidthBurst,
		AMOPProtocolID:       c.AMOPProtocolID,
		TopicProtocolID:      c.TopicProtocolID,
	}

	return cfg, nil
}

// FromP2PConfig is the reverse of ToP2PConfig, used to write a default config file
func FromP2PConfig(cfg *p2p.Config) *P2P {
	nodes := make([]string, len(cfg.StaticNodes))
	for i, n := range cfg.StaticNodes {
		nodes[i] = n.String()
	}

	return &P2P{
		ListenIP:             cfg.ListenIP,
		ListenPort:           cfg.ListenPort,
		PublicAddress:        cfg.PublicAddress,
		StaticNodes:          nodes,
		DataDir:              cfg.DataDir,
		PeerStoreExpiration:  toSeconds(cfg.PeerStoreExpiration),
		CACert:               cfg.CACert,
		NodeCert:             cfg.NodeCert,
		NodeKey:              cfg.NodeKey,
		EnableSSLVerify:      cfg.EnableSSLVerify,
		CheckIssuer:          cfg.CheckIssuer,
		ExpectedIssuer:       cfg.ExpectedIssuer,
		CheckExpiry:          cfg.CheckExpiry,
		VerifyDepth:          cfg.VerifyDepth,
		EnableWhitelist:      cfg.EnableWhitelist,
		Whitelist:            formatNodeIDs(cfg.Whitelist),
		EnableBlacklist:      cfg.EnableBlacklist,
		Blacklist:            formatNodeIDs(cfg.Blacklist),
		MaxPeers:             cfg.MaxPeers,
		MaxPendingHandshakes: cfg.MaxPendingHandshakes,
		ConnectTimeout:       toSeconds(cfg.ConnectTimeout),
		HandshakeTimeout:     toSeconds(cfg.HandshakeTimeout),
		IdleTimeout:          toSeconds(cfg.IdleTimeout),
		CloseTimeout:         toSeconds(cfg.CloseTimeout),
		WriteTimeout:         toSeconds(cfg.WriteTimeout),
		KeepAliveInterval:    toSeconds(cfg.KeepAliveInterval),
		ReconnectInterval:    toSeconds(cfg.ReconnectInterval),
		MinReconnectInterval: toSeconds(cfg.MinReconnectInterval),
		ReconnectBackoff:     cfg.ReconnectBackoff,
		HeartbeatInterval:    toSeconds(cfg.HeartbeatInterval),
		RequestTimeout:       toSeconds(cfg.RequestTimeout),
		MaxWriteQueue:        cfg.MaxWriteQueue,
		ReadBufferSize:       cfg.ReadBufferSize,
		Compress:             cfg.Compress,
		MinCompressLength:    cfg.MinCompressLength,
		MaxMsgLength:         cfg.MaxMsgLength,
		Workers:              cfg.Workers,
		BandwidthLimit:       cfg.BandwidthLimit,
		BandwidthBurst:       cfg.BandwidthBurst,
		AMOPProtocolID:       cfg.AMOPProtocolID,
		TopicProtocolID:      cfg.TopicProtocolID,
	}
}
