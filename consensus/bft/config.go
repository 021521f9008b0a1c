// Package bft implements the round-based BFT consensus engine: a
// single logical event loop per node running propose/prevote/precommit
// over a static validator set, grounded in the same select-loop,
// timer, and mutex-guarded-state pattern the PBFT reference engine
// used, generalized to Tendermint-style round voting instead of
// pre-prepare/prepare/commit view-changes.
package bft

import "time"

// Config holds the engine's timeouts and idle interval.
type Config struct {
	NodeID string

	ProposeTimeout   time.Duration
	PrevoteTimeout   time.Duration
	PrecommitTimeout time.Duration
	BlockInterval    time.Duration

	MaxTxPerBlock  int
	MaxBytesPerBlock int64
}

// DefaultConfig returns the timeouts named in §4.8: 3s propose, 2s
// prevote, 2s precommit, 10s block interval.
func DefaultConfig(nodeID string) Config {
	return Config{
		NodeID:           nodeID,
		ProposeTimeout:   3 * time.Second,
		PrevoteTimeout:   2 * time.Second,
		PrecommitTimeout: 2 * time.Second,
		BlockInterval:    10 * time.Second,
		MaxTxPerBlock:    500,
		MaxBytesPerBlock: 4 * 1024 * 1024,
	}
}
