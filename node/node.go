package node

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/miniroha/miniroha/block"
	"github.com/miniroha/miniroha/consensus/bft"
	"github.com/miniroha/miniroha/crypto"
	"github.com/miniroha/miniroha/genesis"
	"github.com/miniroha/miniroha/mempool"
	"github.com/miniroha/miniroha/metrics"
	"github.com/miniroha/miniroha/store"
	"github.com/miniroha/miniroha/transport"
	"github.com/miniroha/miniroha/txvalidator"
	"github.com/miniroha/miniroha/types"
)

// Node is one running validator process: state store, mempool,
// validator, block pipeline, consensus engine (or the non-BFT
// timer-driven producer when USE_BFT=false), transport, and metrics.
// The HTTP API server is constructed separately, by cmd/miniroha.
type Node struct {
	mu sync.RWMutex

	cfg   *Config
	priv  crypto.KeyPair
	store *store.Store

	pool      *mempool.Mempool
	validator *txvalidator.Validator
	producer  *block.Producer
	applier   *block.Applier

	validators *types.ValidatorSet
	engine     *bft.Engine
	transport  *transport.Node

	metrics       *metrics.Metrics
	metricsServer *metrics.Server

	seenMu   sync.Mutex
	seen     map[string]struct{}
	simpleWg sync.WaitGroup
	cancel   context.CancelFunc

	logger  *log.Logger
	running bool
}

// New wires a node from cfg: opens the store, bootstraps genesis on a
// fresh database, and constructs (without starting) every component.
func New(cfg *Config) (*Node, error) {
	priv, err := loadOrCreateKey(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("node: load key: %w", err)
	}

	s, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("node: open store: %w", err)
	}

	bootstrapped, err := s.IsBootstrapped()
	if err != nil {
		return nil, fmt.Errorf("node: check bootstrap: %w", err)
	}
	if !bootstrapped {
		if err := bootstrapFromFile(s, cfg.GenesisPath); err != nil {
			return nil, fmt.Errorf("node: bootstrap: %w", err)
		}
	}

	validatorList, err := s.ListValidators()
	if err != nil {
		return nil, fmt.Errorf("node: list validators: %w", err)
	}
	validatorSet := types.NewValidatorSet(validatorList)

	pool := mempool.New(mempool.DefaultMaxSize)
	producer := block.NewProducer(s, pool, cfg.MaxTxPerBlock, cfg.MaxBytesPerBlock)
	applier := block.NewApplier(s, pool)
	validator := txvalidator.New(s)

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New("miniroha")
	}

	n := &Node{
		cfg:        cfg,
		priv:       *priv,
		store:      s,
		pool:       pool,
		validator:  validator,
		producer:   producer,
		applier:    applier,
		validators: validatorSet,
		metrics:    m,
		seen:       make(map[string]struct{}),
		logger:     log.New(os.Stderr, fmt.Sprintf("[node:%s] ", cfg.NodeID), log.LstdFlags),
	}

	n.transport = transport.NewNode(cfg.NodeID, cfg.ListenAddr, func(env bft.Envelope) {
		_ = n.SubmitConsensusMessage(env)
	})

	if cfg.UseBFT {
		bftCfg := cfg.bftConfig()
		n.engine = bft.New(bftCfg, validatorSet, priv.PrivateKey, s, producer, applier, n.transport, m, n.onCommit)
	}
	if cfg.MetricsEnabled {
		n.metricsServer = metrics.NewServer(cfg.MetricsAddr)
	}
	return n, nil
}

func loadOrCreateKey(path string) (*crypto.KeyPair, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		priv, err := crypto.DecodePrivateKey(string(data))
		if err != nil {
			return nil, err
		}
		return &crypto.KeyPair{PublicKey: priv.Public().(ed25519.PublicKey), PrivateKey: priv}, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(crypto.EncodePrivateKey(kp.PrivateKey)), 0600); err != nil {
		return nil, err
	}
	return kp, nil
}

func bootstrapFromFile(s *store.Store, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read genesis file %s: %w", path, err)
	}
	var cfg genesis.Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parse genesis file %s: %w", path, err)
	}
	return genesis.Bootstrap(s, cfg)
}

// Start starts the transport, the metrics server (if enabled), and
// either the BFT engine or the non-BFT timer-driven producer,
// depending on cfg.UseBFT.
func (n *Node) Start() error {
	n.mu.Lock()
	if n.running {
		n.mu.Unlock()
		return fmt.Errorf("node: %s already running", n.cfg.NodeID)
	}
	n.running = true
	n.mu.Unlock()

	if err := n.transport.Start(); err != nil {
		return fmt.Errorf("node: start transport: %w", err)
	}
	for _, peer := range n.cfg.Peers {
		id, addr, ok := splitPeer(peer)
		if !ok || id == n.cfg.NodeID {
			continue
		}
		if err := n.transport.AddPeer(id, addr); err != nil {
			n.logger.Printf("failed to connect to peer %s: %v", id, err)
		}
	}

	if n.metricsServer != nil {
		if err := n.metricsServer.Start(); err != nil {
			return fmt.Errorf("node: start metrics server: %w", err)
		}
	}

	if n.cfg.UseBFT {
		if err := n.engine.Start(); err != nil {
			return fmt.Errorf("node: start consensus engine: %w", err)
		}
	} else {
		ctx, cancel := context.WithCancel(context.Background())
		n.cancel = cancel
		n.simpleWg.Add(1)
		go n.runSimpleProducer(ctx)
	}

	n.logger.Printf("started: chain_id=%s bft=%t listen=%s", n.cfg.ChainID, n.cfg.UseBFT, n.cfg.ListenAddr)
	return nil
}

// Stop shuts down every started component.
func (n *Node) Stop() error {
	n.mu.Lock()
	if !n.running {
		n.mu.Unlock()
		return nil
	}
	n.running = false
	n.mu.Unlock()

	if n.cfg.UseBFT {
		n.engine.Stop()
	} else if n.cancel != nil {
		n.cancel()
		n.simpleWg.Wait()
	}
	if n.metricsServer != nil {
		n.metricsServer.Stop()
	}
	n.transport.Stop()
	return n.store.Close()
}

// runSimpleProducer implements the USE_BFT=false path per §6: a
// single-node timer-driven producer that both produces and applies
// its own blocks every block_interval when the mempool is non-empty.
// It must never run alongside the consensus engine.
func (n *Node) runSimpleProducer(ctx context.Context) {
	defer n.simpleWg.Done()
	ticker := time.NewTicker(n.cfg.BlockInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n.pool.Size() == 0 {
				continue
			}
			candidate, err := n.producer.Produce(n.cfg.NodeID, n.priv.PrivateKey)
			if err != nil {
				if err != block.ErrEmptyMempool {
					n.logger.Printf("simple producer: produce failed: %v", err)
				}
				continue
			}
			if err := n.applier.Apply(candidate); err != nil {
				n.logger.Printf("simple producer: apply failed: %v", err)
				continue
			}
			n.onCommit(candidate)
		}
	}
}

func (n *Node) onCommit(b types.Block) {
	if n.metrics != nil {
		n.metrics.SetBlockHeight(b.Header.Height)
		n.metrics.SetMempoolSize(n.pool.Size())
	}
	n.logger.Printf("committed height=%d txs=%d", b.Header.Height, len(b.Transactions))
}

// deliverEnvelope forwards a consensus message, received over gRPC or
// POST /consensus, to the BFT engine.
func (n *Node) deliverEnvelope(env bft.Envelope) {
	if n.engine != nil {
		n.engine.HandleEnvelope(env)
	}
}

// SubmitConsensusMessage handles POST /consensus and the transport's
// inbound gRPC deliveries: it is idempotent per
// message hash, so a message already seen (whether from the network
// or from this same HTTP call) is a silent no-op.
func (n *Node) SubmitConsensusMessage(env bft.Envelope) error {
	raw, err := types.Canonical(env)
	if err != nil {
		return err
	}
	hash := crypto.Hash(raw)

	n.seenMu.Lock()
	_, dup := n.seen[hash]
	n.seen[hash] = struct{}{}
	n.seenMu.Unlock()
	if dup {
		return nil
	}
	n.deliverEnvelope(env)
	return nil
}

// SubmitTx validates tx and inserts it into the mempool, returning its
// content hash.
func (n *Node) SubmitTx(tx types.Transaction) (string, error) {
	if err := n.validator.Validate(tx); err != nil {
		var verr *txvalidator.Error
		if asError(err, &verr) && n.metrics != nil {
			n.metrics.IncrementTxRejected(string(verr.Code))
		}
		return "", err
	}
	raw, err := types.Canonical(tx)
	if err != nil {
		return "", err
	}
	hash := crypto.Hash(raw)
	if _, err := n.pool.Insert(tx, hash); err != nil {
		return "", err
	}
	if n.metrics != nil {
		n.metrics.SetMempoolSize(n.pool.Size())
	}
	return hash, nil
}

func (n *Node) Store() *store.Store       { return n.store }
func (n *Node) Mempool() *mempool.Mempool { return n.pool }
func (n *Node) Config() *Config           { return n.cfg }

// Info returns the fields the /info endpoint reports.
func (n *Node) Info() map[string]interface{} {
	height, _ := n.store.GetLastHeight()
	info := map[string]interface{}{
		"node_id":      n.cfg.NodeID,
		"chain_id":     n.cfg.ChainID,
		"height":       height,
		"use_bft":      n.cfg.UseBFT,
		"mempool_size": n.pool.Size(),
		"peer_count":   n.transport.PeerCount(),
	}
	if n.engine != nil {
		h, r, step := n.engine.Info()
		info["round_height"] = h
		info["round"] = r
		info["step"] = step
	}
	return info
}

func splitPeer(s string) (id, addr string, ok bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == '@' {
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}

func asError(err error, target **txvalidator.Error) bool {
	for err != nil {
		if v, ok := err.(*txvalidator.Error); ok {
			*target = v
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
