package bft

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/miniroha/miniroha/block"
	"github.com/miniroha/miniroha/crypto"
	"github.com/miniroha/miniroha/mempool"
	"github.com/miniroha/miniroha/store"
	"github.com/miniroha/miniroha/types"
)

// fakeNetwork wires each node's Transport.Broadcast to every other
// node's HandleEnvelope, enqueuing synchronously from the
// broadcaster's goroutine into each receiver's inbox.
type fakeNetwork struct {
	engines map[string]*Engine
}

func (n *fakeNetwork) transportFor(self string) Transport {
	return broadcastFunc(func(env Envelope) error {
		for id, e := range n.engines {
			if id == self {
				continue
			}
			e.HandleEnvelope(env)
		}
		return nil
	})
}

type broadcastFunc func(Envelope) error

func (f broadcastFunc) Broadcast(env Envelope) error { return f(env) }

type harnessNode struct {
	id       string
	kp       *crypto.KeyPair
	store    *store.Store
	pool     *mempool.Mempool
	producer *block.Producer
	applier  *block.Applier
	engine   *Engine
}

func setupHarness(t *testing.T, n int) ([]*harnessNode, *fakeNetwork) {
	t.Helper()
	validators := make([]*types.Validator, 0, n)
	kps := make([]*crypto.KeyPair, 0, n)
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		kp, err := crypto.GenerateKeyPair()
		if err != nil {
			t.Fatalf("GenerateKeyPair: %v", err)
		}
		id := "node" + string(rune('1'+i))
		kps = append(kps, kp)
		ids = append(ids, id)
		validators = append(validators, &types.Validator{ID: id, PublicKey: crypto.EncodePublicKey(kp.PublicKey)})
	}
	set := types.NewValidatorSet(validators)

	net := &fakeNetwork{engines: make(map[string]*Engine, n)}
	nodes := make([]*harnessNode, 0, n)

	for i := 0; i < n; i++ {
		dir := t.TempDir()
		s, err := store.Open(filepath.Join(dir, "db"))
		if err != nil {
			t.Fatalf("store.Open: %v", err)
		}
		t.Cleanup(func() { s.Close() })
		bootstrapValidatorGenesis(t, s, validators, kps[0])

		pool := mempool.New(100)
		producer := block.NewProducer(s, pool, 500, 4*1024*1024)
		applier := block.NewApplier(s, pool)

		cfg := DefaultConfig(ids[i])
		cfg.ProposeTimeout = 200 * time.Millisecond
		cfg.PrevoteTimeout = 200 * time.Millisecond
		cfg.PrecommitTimeout = 200 * time.Millisecond
		cfg.BlockInterval = 50 * time.Millisecond

		node := &harnessNode{id: ids[i], kp: kps[i], store: s, pool: pool, producer: producer, applier: applier}
		e := New(cfg, set, kps[i].PrivateKey, s, producer, applier, nil, nil, nil)
		node.engine = e
		net.engines[ids[i]] = e
		nodes = append(nodes, node)
	}
	for _, node := range nodes {
		node.engine.transport = net.transportFor(node.id)
	}
	return nodes, net
}

func bootstrapValidatorGenesis(t *testing.T, s *store.Store, validators []*types.Validator, adminKP *crypto.KeyPair) {
	t.Helper()
	b := s.NewBatch()
	if err := b.PutDomain(&types.Domain{ID: "root", CreatedAt: 1}); err != nil {
		t.Fatal(err)
	}
	if err := b.PutAccount(&types.Account{ID: "alice@root", PublicKey: crypto.EncodePublicKey(adminKP.PublicKey)}); err != nil {
		t.Fatal(err)
	}
	if err := b.PutAccountRoles("alice@root", []string{"admin"}); err != nil {
		t.Fatal(err)
	}
	if err := b.PutRole(&types.Role{ID: "admin", Permissions: []string{"*"}}); err != nil {
		t.Fatal(err)
	}
	if err := b.PutAsset(&types.Asset{ID: "usd#root", Precision: 2}); err != nil {
		t.Fatal(err)
	}
	for _, v := range validators {
		if err := b.PutValidator(v); err != nil {
			t.Fatal(err)
		}
	}
	genesisBlock := &types.Block{Header: types.BlockHeader{Height: 1, PrevHash: ""}, ProposerID: "genesis"}
	if err := b.PutBlock(genesisBlock, "genesis-hash"); err != nil {
		t.Fatal(err)
	}
	b.PutChainID("miniroha-test")
	b.PutLastHeight(1)
	if err := s.Commit(b); err != nil {
		t.Fatalf("commit genesis: %v", err)
	}
}

// TestEngineDoesNotCommitEmptyBlockAcrossFourNodes: with every mempool
// empty the producer refuses to build a block, so each proposer votes
// nil and rounds advance without any node committing height 2.
func TestEngineDoesNotCommitEmptyBlockAcrossFourNodes(t *testing.T) {
	nodes, _ := setupHarness(t, 4)
	for _, node := range nodes {
		if err := node.engine.Start(); err != nil {
			t.Fatalf("Start: %v", err)
		}
	}
	defer func() {
		for _, node := range nodes {
			node.engine.Stop()
		}
	}()

	deadline := time.After(3 * time.Second)
	for {
		select {
		case <-deadline:
			h, r, step := nodes[0].engine.Info()
			t.Fatalf("timed out waiting for a round change, at height=%d round=%d step=%s", h, r, step)
		default:
		}
		for _, node := range nodes {
			last, err := node.store.GetLastHeight()
			if err != nil {
				t.Fatalf("GetLastHeight: %v", err)
			}
			if last != 1 {
				t.Fatalf("%s committed height %d with an empty mempool, want last_height 1", node.id, last)
			}
		}
		if _, r, _ := nodes[0].engine.Info(); r >= 1 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestEngineCommitsSubmittedTransaction(t *testing.T) {
	nodes, _ := setupHarness(t, 4)
	tx := signedTestMint(t, nodes[0].kp, 1)
	raw, err := types.Canonical(tx)
	if err != nil {
		t.Fatalf("Canonical: %v", err)
	}
	hash := crypto.Hash(raw)
	if _, err := nodes[0].pool.Insert(tx, hash); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	for _, node := range nodes {
		if err := node.engine.Start(); err != nil {
			t.Fatalf("Start: %v", err)
		}
	}
	defer func() {
		for _, node := range nodes {
			node.engine.Stop()
		}
	}()

	deadline := time.After(4 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for balance to reflect the committed transaction")
		default:
		}
		bal, err := nodes[1].store.GetBalance("usd#root", "alice@root")
		if err == nil && bal != nil && bal.Amount == "1000" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
}

// signedTestBlock builds a height-2 block proposed and signed by
// proposer, distinguished from other test blocks by timestamp so two
// calls never collide on hash.
func signedTestBlock(t *testing.T, proposer *harnessNode, prevHash string, timestamp int64) types.Block {
	t.Helper()
	b := types.Block{
		Header:     types.BlockHeader{Height: 2, PrevHash: prevHash, Timestamp: timestamp},
		ProposerID: proposer.id,
	}
	payload, err := types.BlockSigningPayload(b)
	if err != nil {
		t.Fatalf("BlockSigningPayload: %v", err)
	}
	b.Signature = crypto.Sign(proposer.kp.PrivateKey, payload)
	return b
}

func mustHash(t *testing.T, b types.Block) string {
	t.Helper()
	h, err := block.Hash(b)
	if err != nil {
		t.Fatalf("block.Hash: %v", err)
	}
	return h
}

// proposerRound finds a round at height where the validator set elects
// wantProposer, searching a small window since round-robin cycles
// through every validator at least once per len(validators) rounds.
func proposerRound(t *testing.T, e *Engine, height uint64, wantProposer string) uint64 {
	t.Helper()
	for r := uint64(0); r < 8; r++ {
		if e.validators.ProposerAt(height, r) == wantProposer {
			return r
		}
	}
	t.Fatalf("no round in [0,8) elects %s as proposer at height %d", wantProposer, height)
	return 0
}

// TestHandleProposalRejectsConflictWithLock exercises the locking rule:
// a validator already holding a lock must vote nil rather than accept
// a different, well-formed and correctly signed block from the round's
// (possibly Byzantine) proposer.
func TestHandleProposalRejectsConflictWithLock(t *testing.T) {
	nodes, _ := setupHarness(t, 4)
	us := nodes[0]
	e := us.engine
	e.ctx, e.cancel = context.WithCancel(context.Background())
	t.Cleanup(e.cancel)

	genesisHash, err := block.HeaderHash(types.BlockHeader{Height: 1, PrevHash: ""})
	if err != nil {
		t.Fatalf("HeaderHash: %v", err)
	}

	locked := signedTestBlock(t, nodes[1], genesisHash, 100)
	lockedHash := mustHash(t, locked)

	conflicting := signedTestBlock(t, nodes[2], genesisHash, 200)
	conflictingHash := mustHash(t, conflicting)

	round := proposerRound(t, e, 2, nodes[2].id)

	state := newRoundState(2)
	state.LockedBlock = &locked
	state.LockedRound = 0
	state.Round = round
	e.setState(state)

	payload, err := voteSigningPayload(KindProposal, 2, round, conflictingHash)
	if err != nil {
		t.Fatalf("voteSigningPayload: %v", err)
	}
	e.handleProposal(Proposal{
		Height:      2,
		Round:       round,
		ValidatorID: nodes[2].id,
		BlockHash:   conflictingHash,
		Block:       conflicting,
		Signature:   crypto.Sign(nodes[2].kp.PrivateKey, payload),
	})

	got := e.getState()
	pv, ok := got.Prevotes[us.id]
	if !ok {
		t.Fatalf("expected %s to have cast a prevote", us.id)
	}
	if pv.BlockHash != "" {
		t.Fatalf("locked validator prevoted for conflicting block %q, want a nil vote", pv.BlockHash)
	}
	if got.LockedBlock == nil || mustHash(t, *got.LockedBlock) != lockedHash {
		t.Fatalf("lock was overwritten by a conflicting proposal")
	}
}

// TestDoProposeReProposesLockedBlock exercises the other half of the
// locking rule: a validator re-elected proposer while locked must
// re-propose its locked block instead of producing a new one.
func TestDoProposeReProposesLockedBlock(t *testing.T) {
	nodes, _ := setupHarness(t, 4)
	us := nodes[0]
	e := us.engine
	e.ctx, e.cancel = context.WithCancel(context.Background())
	t.Cleanup(e.cancel)

	genesisHash, err := block.HeaderHash(types.BlockHeader{Height: 1, PrevHash: ""})
	if err != nil {
		t.Fatalf("HeaderHash: %v", err)
	}
	locked := signedTestBlock(t, nodes[1], genesisHash, 300)
	lockedHash := mustHash(t, locked)

	// doPropose broadcasts the proposal and then its own prevote; keep
	// the proposal.
	var broadcast Envelope
	e.transport = broadcastFunc(func(env Envelope) error {
		if env.Kind == KindProposal {
			broadcast = env
		}
		return nil
	})

	round := proposerRound(t, e, 2, us.id)
	state := newRoundState(2)
	state.LockedBlock = &locked
	state.LockedRound = 0
	state.Round = round
	e.setState(state)

	e.doPropose(2, round)

	if broadcast.Kind != KindProposal || broadcast.Proposal == nil {
		t.Fatalf("expected a proposal to be broadcast, got %+v", broadcast)
	}
	if broadcast.Proposal.BlockHash != lockedHash {
		t.Fatalf("proposer re-proposed a different block: got hash %q, want locked hash %q", broadcast.Proposal.BlockHash, lockedHash)
	}
	got := e.getState()
	if got.ValidBlock == nil || mustHash(t, *got.ValidBlock) != lockedHash {
		t.Fatalf("engine's valid block after re-proposing does not match the lock")
	}
}

func signedTestMint(t *testing.T, kp *crypto.KeyPair, nonce uint64) types.Transaction {
	t.Helper()
	body := types.TxBody{
		ChainID: "miniroha-test", SignerID: "alice@root", Nonce: nonce, CreatedAt: 1000,
		Instructions: []types.Instruction{
			{Kind: types.KindMintAsset, AssetID: "usd#root", AccountID: "alice@root", Amount: "10.00"},
		},
	}
	payload, err := types.TxSigningPayload(body)
	if err != nil {
		t.Fatalf("TxSigningPayload: %v", err)
	}
	return types.Transaction{Body: body, Signature: crypto.Sign(kp.PrivateKey, payload)}
}
