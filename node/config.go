// Package node wires the state store, mempool, BFT consensus engine,
// transport, and metrics into one running validator process; the HTTP
// API is built around a Node by cmd/miniroha.
package node

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/miniroha/miniroha/consensus/bft"
)

// Config holds a node's process configuration, loaded from the
// environment (with sane defaults) through Viper.
type Config struct {
	NodeID  string
	ChainID string

	Port       string
	DBPath     string
	ListenAddr string
	KeyPath    string

	UseBFT bool
	Peers  []string // "nodeID@host:port"

	GenesisPath string

	ProposeTimeout   time.Duration
	PrevoteTimeout   time.Duration
	PrecommitTimeout time.Duration
	BlockInterval    time.Duration
	MaxTxPerBlock    int
	MaxBytesPerBlock int64

	MetricsEnabled bool
	MetricsAddr    string
}

// LoadConfig reads process configuration from the environment,
// binding the same names the teacher's node package documents:
// PORT, DB_PATH, USE_BFT, plus the BFT-specific additions this engine
// needs (LISTEN_ADDR, PEERS, consensus timeouts).
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetDefault("PORT", "3000")
	v.SetDefault("DB_PATH", "./miniroha-db")
	v.SetDefault("NODE_ID", "node1")
	v.SetDefault("CHAIN_ID", "miniroha")
	v.SetDefault("LISTEN_ADDR", "0.0.0.0:26656")
	v.SetDefault("USE_BFT", true)
	v.SetDefault("PEERS", "")
	v.SetDefault("GENESIS_PATH", "./genesis.json")
	v.SetDefault("PROPOSE_TIMEOUT_MS", 3000)
	v.SetDefault("PREVOTE_TIMEOUT_MS", 2000)
	v.SetDefault("PRECOMMIT_TIMEOUT_MS", 2000)
	v.SetDefault("BLOCK_INTERVAL_MS", 10000)
	v.SetDefault("MAX_TX_PER_BLOCK", 500)
	v.SetDefault("MAX_BYTES_PER_BLOCK", 4*1024*1024)
	v.SetDefault("METRICS_ENABLED", true)
	v.SetDefault("METRICS_ADDR", "0.0.0.0:26660")
	v.AutomaticEnv()

	var peers []string
	if raw := v.GetString("PEERS"); raw != "" {
		peers = strings.Split(raw, ",")
	}
	nodeID := v.GetString("NODE_ID")
	keyPath := v.GetString("KEY_PATH")
	if keyPath == "" {
		keyPath = "./" + nodeID + ".key"
	}

	cfg := &Config{
		NodeID:           nodeID,
		ChainID:          v.GetString("CHAIN_ID"),
		Port:             v.GetString("PORT"),
		DBPath:           v.GetString("DB_PATH"),
		ListenAddr:       v.GetString("LISTEN_ADDR"),
		KeyPath:          keyPath,
		UseBFT:           v.GetBool("USE_BFT"),
		Peers:            peers,
		GenesisPath:      v.GetString("GENESIS_PATH"),
		ProposeTimeout:   time.Duration(v.GetInt("PROPOSE_TIMEOUT_MS")) * time.Millisecond,
		PrevoteTimeout:   time.Duration(v.GetInt("PREVOTE_TIMEOUT_MS")) * time.Millisecond,
		PrecommitTimeout: time.Duration(v.GetInt("PRECOMMIT_TIMEOUT_MS")) * time.Millisecond,
		BlockInterval:    time.Duration(v.GetInt("BLOCK_INTERVAL_MS")) * time.Millisecond,
		MaxTxPerBlock:    v.GetInt("MAX_TX_PER_BLOCK"),
		MaxBytesPerBlock: int64(v.GetInt("MAX_BYTES_PER_BLOCK")),
		MetricsEnabled:   v.GetBool("METRICS_ENABLED"),
		MetricsAddr:      v.GetString("METRICS_ADDR"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// bftConfig derives a consensus/bft.Config from the process config.
func (c *Config) bftConfig() bft.Config {
	return bft.Config{
		NodeID:           c.NodeID,
		ProposeTimeout:   c.ProposeTimeout,
		PrevoteTimeout:   c.PrevoteTimeout,
		PrecommitTimeout: c.PrecommitTimeout,
		BlockInterval:    c.BlockInterval,
		MaxTxPerBlock:    c.MaxTxPerBlock,
		MaxBytesPerBlock: c.MaxBytesPerBlock,
	}
}

var (
	ErrEmptyNodeID     = errors.New("node: node id is required")
	ErrEmptyChainID    = errors.New("node: chain id is required")
	ErrEmptyListenAddr = errors.New("node: listen address is required")
	ErrEmptyDBPath     = errors.New("node: db path is required")
)

// Validate checks that the config is complete enough to start a node.
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return ErrEmptyNodeID
	}
	if c.ChainID == "" {
		return ErrEmptyChainID
	}
	if c.ListenAddr == "" {
		return ErrEmptyListenAddr
	}
	if c.DBPath == "" {
		return ErrEmptyDBPath
	}
	return nil
}
