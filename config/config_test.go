package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcosnet/go-bcosnet/p2p"
)

const nodeID = "8c1b6c1dd1e9ec4c5b9e21f9c9e22a37d7d9bc20cc9e2ba5c1a09dd1d2e0d7f33f6e1e1cfe3e5c7c0a8ba4c8ab0e9b7f5f3b8f81c5a7c7c9f6a3e6d8c0e1b2a4"

func writeFile(t *testing.T, dir, name, content string) string {
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.json", `{
		"DataDir": "/var/bcos",
		"LogLevel": "debug",
		"P2P": {
			"ListenPort": 30301,
			"StaticNodes": ["127.0.0.1:30302", "`+nodeID+`@10.0.0.1:30303"],
			"CACert": "conf/ca.crt",
			"NodeCert": "/etc/node.crt",
			"NodeKey": "conf/node.key",
			"EnableWhitelist": true,
			"Whitelist": ["`+nodeID+`"],
			"HeartbeatInterval": 3,
			"BandwidthLimit": 1024
		}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)

	pc, err := cfg.P2PConfig()
	require.NoError(t, err)

	assert.Equal(t, 30301, pc.ListenPort)
	assert.Equal(t, "/var/bcos", pc.DataDir)
	assert.Equal(t, filepath.Join(dir, "conf/ca.crt"), pc.CACert)
	assert.Equal(t, "/etc/node.crt", pc.NodeCert)
	assert.Equal(t, filepath.Join(dir, "conf/node.key"), pc.NodeKey)

	require.Len(t, pc.StaticNodes, 2)
	assert.True(t, pc.StaticNodes[0].ID.IsZero())
	assert.Equal(t, nodeID, pc.StaticNodes[1].ID.String())
	assert.Equal(t, 30303, pc.StaticNodes[1].Port)

	assert.True(t, pc.EnableWhitelist)
	require.Len(t, pc.Whitelist, 1)
	assert.Equal(t, nodeID, pc.Whitelist[0].String())

	assert.Equal(t, 3*time.Second, pc.HeartbeatInterval)
	assert.Equal(t, 1024, pc.BandwidthLimit)

	// fields not in the file keep the defaults
	assert.True(t, pc.EnableSSLVerify)
	assert.Equal(t, p2p.DefaultIdleTimeout, pc.IdleTimeout)
	assert.Equal(t, p2p.DefaultMaxPeers, pc.MaxPeers)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, dir, "bad.json", `{"P2P": `))
	assert.Error(t, err)

	cfg, err := Load(writeFile(t, dir, "node.json", `{"P2P": {"StaticNodes": ["nohost@"]}}`))
	require.NoError(t, err)
	_, err = cfg.P2PConfig()
	assert.Error(t, err)

	cfg, err = Load(writeFile(t, dir, "list.json", `{"P2P": {"Blacklist": ["zz"]}}`))
	require.NoError(t, err)
	_, err = cfg.P2PConfig()
	assert.Error(t, err)
}

func TestSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg := Default()
	cfg.DataDir = "data"
	cfg.P2P.Whitelist = []string{nodeID}
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)

	pc, err := loaded.P2PConfig()
	require.NoError(t, err)
	assert.Equal(t, p2p.DefaultHeartbeatInterval, pc.HeartbeatInterval)
	assert.Equal(t, p2p.DefaultPeerStoreExpiration, pc.PeerStoreExpiration)
}
