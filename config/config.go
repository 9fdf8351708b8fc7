package config

import (
	"os"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/bcosnet/go-bcosnet/p2p"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Config is the node configuration file
type Config struct {
	P2P *P2P `json:"P2P"`

	// global keys
	DataDir  string `json:"DataDir"`
	LogLevel string `json:"LogLevel"`
	LogDir   string `json:"LogDir"`
}

// Default return a Config with every p2p default set
func Default() *Config {
	return &Config{
		P2P:      FromP2PConfig(p2p.NewConfig()),
		LogLevel: "info",
	}
}

// Load read the JSON file at path, relative certificate paths are resolved against the file directory
func Load(path string) (*Config, error) {
	text, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config file")
	}

	cfg := Default()
	if err = json.Unmarshal(text, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config file %s", path)
	}

	if cfg.P2P == nil {
		cfg.P2P = FromP2PConfig(p2p.NewConfig())
	}
	cfg.P2P.resolve(filepath.Dir(path))

	return cfg, nil
}

// Save write cfg to path as indented JSON
func (cfg *Config) Save(path string) error {
	text, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, text, 0600)
}

// P2PConfig build the p2p.Config, DataDir of the file applies when P2P does not set its own
func (cfg *Config) P2PConfig() (*p2p.Config, error) {
	pc, err := cfg.P2P.ToP2PConfig()
	if err != nil {
		return nil, err
	}

	if pc.DataDir == "" {
		pc.DataDir = cfg.DataDir
	}

	return pc, nil
}
