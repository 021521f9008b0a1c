package bft

import (
	"context"
	"crypto/ed25519"
	"log"
	"sync"
	"time"

	"github.com/miniroha/miniroha/block"
	"github.com/miniroha/miniroha/crypto"
	"github.com/miniroha/miniroha/metrics"
	"github.com/miniroha/miniroha/types"
)

// StateStore is the read side of the store the engine needs directly
// (block application goes through block.Applier).
type StateStore interface {
	GetLastHeight() (uint64, error)
	GetValidator(id string) (*types.Validator, error)
}

type timeoutMsg struct {
	Height uint64
	Round  uint64
	Step   Step
}

type startHeightMsg struct {
	Height uint64
}

// Engine is a single logical event loop per node: every state-mutating
// handler runs serialized on the run() goroutine, driven by an inbox
// channel exactly the way the PBFT reference engine serializes
// handleMessage calls through its msgChan.
type Engine struct {
	cfg        Config
	validators *types.ValidatorSet
	priv       ed25519.PrivateKey

	store     StateStore
	producer  *block.Producer
	applier   *block.Applier
	transport Transport
	metrics   *metrics.Metrics
	logger    *log.Logger

	onCommit func(types.Block)

	stateMu sync.RWMutex // guards state for concurrent Info() reads only
	state   *roundState

	timer *time.Timer
	inbox chan interface{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds an engine. onCommit, if non-nil, is notified after every
// successful commit (the node uses it for metrics and logging).
func New(cfg Config, validators *types.ValidatorSet, priv ed25519.PrivateKey, store StateStore,
	producer *block.Producer, applier *block.Applier, transport Transport, m *metrics.Metrics, onCommit func(types.Block)) *Engine {
	return &Engine{
		cfg:        cfg,
		validators: validators,
		priv:       priv,
		store:      store,
		producer:   producer,
		applier:    applier,
		transport:  transport,
		metrics:    m,
		logger:     log.Default(),
		onCommit:   onCommit,
		inbox:      make(chan interface{}, 256),
	}
}

// Start restarts the engine from the persisted last height and runs
// its event loop in a background goroutine.
func (e *Engine) Start() error {
	lastHeight, err := e.store.GetLastHeight()
	if err != nil {
		return err
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.setState(newRoundState(lastHeight + 1))

	e.wg.Add(1)
	go e.run()
	return nil
}

// Stop cancels outstanding timers and waits for the currently running
// handler, if any, to finish. A block apply in progress is atomic at
// the store level, so shutdown cannot leave half-applied state.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

// HandleEnvelope enqueues an incoming message for processing on the
// event loop; it never blocks the caller (an HTTP handler or a gRPC
// server goroutine).
func (e *Engine) HandleEnvelope(env Envelope) {
	select {
	case e.inbox <- env:
	default:
		e.logger.Printf("[bft] inbox full, dropping %s message", env.Kind)
	}
}

func (e *Engine) run() {
	defer e.wg.Done()
	e.enterRound(e.getState().Height, 0)
	for {
		select {
		case <-e.ctx.Done():
			e.stopTimer()
			return
		case msg := <-e.inbox:
			e.dispatch(msg)
		}
	}
}

func (e *Engine) dispatch(msg interface{}) {
	switch m := msg.(type) {
	case Envelope:
		e.handleEnvelope(m)
	case timeoutMsg:
		e.handleTimeout(m)
	case startHeightMsg:
		if e.getState().Height == m.Height {
			e.enterRound(m.Height, 0)
		}
	}
}

func (e *Engine) getState() *roundState {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.state
}

func (e *Engine) setState(s *roundState) {
	e.stateMu.Lock()
	e.state = s
	e.stateMu.Unlock()
}

// Info returns a snapshot of engine state for query endpoints.
func (e *Engine) Info() (height, round uint64, step string) {
	s := e.getState()
	if s == nil {
		return 0, 0, ""
	}
	return s.Height, s.Round, s.Step.String()
}

func (e *Engine) stopTimer() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

func (e *Engine) armTimer(d time.Duration, msg timeoutMsg) {
	e.stopTimer()
	e.timer = time.AfterFunc(d, func() {
		select {
		case e.inbox <- msg:
		case <-e.ctx.Done():
		}
	})
}

// enterRound begins round (height, round): clears the round's vote
// maps, sets step = propose, and either produces+broadcasts a
// proposal (if this node is the proposer) or arms the propose timeout.
func (e *Engine) enterRound(height, round uint64) {
	state := e.state
	if state == nil || state.Height != height {
		state = newRoundState(height)
	}
	state.resetRound(round)
	e.setState(state)
	e.stopTimer()

	if e.metrics != nil {
		e.metrics.StartRound(height)
		e.metrics.SetRound(round)
	}

	proposer := e.validators.ProposerAt(height, round)
	if proposer == e.cfg.NodeID {
		e.doPropose(height, round)
		return
	}
	e.armTimer(e.cfg.ProposeTimeout, timeoutMsg{Height: height, Round: round, Step: StepPropose})
}

// doPropose builds and broadcasts this round's proposal. Per the
// locking rule, a proposer that already has a locked (or otherwise
// valid) block from an earlier round of this height must re-propose
// that exact block rather than produce a new one — v1 has no
// unlocking mechanism, so proposing anything else would let a
// Byzantine proposer split honest, already-locked validators across
// two different blocks at the same height.
func (e *Engine) doPropose(height, round uint64) {
	state := e.state

	var candidate types.Block
	if state.LockedBlock != nil {
		candidate = *state.LockedBlock
	} else if state.ValidBlock != nil {
		candidate = *state.ValidBlock
	} else {
		produced, err := e.producer.Produce(e.cfg.NodeID, e.priv)
		if err != nil {
			e.logger.Printf("[bft] h=%d r=%d: production failed, voting nil: %v", height, round, err)
			e.transitionToPrevote(height, round, "")
			return
		}
		candidate = produced
	}

	hash, err := block.Hash(candidate)
	if err != nil {
		e.logger.Printf("[bft] h=%d r=%d: hashing candidate failed, voting nil: %v", height, round, err)
		e.transitionToPrevote(height, round, "")
		return
	}

	state.ValidBlock = &candidate
	state.ValidRound = int64(round)

	sig, err := signVote(e.priv, "proposal", height, round, hash)
	if err != nil {
		e.logger.Printf("[bft] h=%d r=%d: signing proposal failed: %v", height, round, err)
	} else if e.transport != nil {
		proposal := Proposal{Height: height, Round: round, ValidatorID: e.cfg.NodeID, BlockHash: hash, Block: candidate, Signature: sig}
		if err := e.transport.Broadcast(Envelope{Kind: KindProposal, Proposal: &proposal}); err != nil {
			e.logger.Printf("[bft] h=%d r=%d: broadcast proposal failed: %v", height, round, err)
		}
	}

	e.transitionToPrevote(height, round, hash)
}

func (e *Engine) handleEnvelope(env Envelope) {
	switch env.Kind {
	case KindProposal:
		if env.Proposal != nil {
			e.handleProposal(*env.Proposal)
		}
	case KindPreVote:
		if env.PreVote != nil {
			e.handlePreVoteMsg(*env.PreVote)
		}
	case KindPreCommit:
		if env.PreCommit != nil {
			e.handlePreCommitMsg(*env.PreCommit)
		}
	}
}

func (e *Engine) handleProposal(p Proposal) {
	state := e.state
	if p.Height != state.Height || p.Round != state.Round || state.Step != StepPropose {
		return // stale or premature, dropped per §7 ConsensusError handling
	}
	if p.ValidatorID != e.validators.ProposerAt(p.Height, p.Round) {
		e.logger.Printf("[bft] h=%d r=%d: proposal from non-proposer %s", p.Height, p.Round, p.ValidatorID)
		return
	}
	validator, err := e.store.GetValidator(p.ValidatorID)
	if err != nil || validator == nil {
		e.logger.Printf("[bft] h=%d r=%d: unknown proposer %s", p.Height, p.Round, p.ValidatorID)
		return
	}
	payload, err := voteSigningPayload("proposal", p.Height, p.Round, p.BlockHash)
	if err != nil || !crypto.Verify(validator.PublicKey, string(payload), p.Signature) {
		e.logger.Printf("[bft] h=%d r=%d: proposal signature invalid", p.Height, p.Round)
		e.transitionToPrevote(p.Height, p.Round, "")
		return
	}

	if err := e.applier.Verify(p.Block); err != nil {
		e.logger.Printf("[bft] h=%d r=%d: block failed verification: %v", p.Height, p.Round, err)
		e.transitionToPrevote(p.Height, p.Round, "")
		return
	}
	hash, err := block.Hash(p.Block)
	if err != nil || hash != p.BlockHash {
		e.logger.Printf("[bft] h=%d r=%d: block hash mismatch", p.Height, p.Round)
		e.transitionToPrevote(p.Height, p.Round, "")
		return
	}

	// Locking rule (v1 has no unlocking proof): once locked on a block,
	// this validator may only ever prevote for that same block at this
	// height, no matter what a later-round proposer proposes.
	if state.LockedBlock != nil {
		lockedHash, err := block.Hash(*state.LockedBlock)
		if err != nil || lockedHash != hash {
			e.logger.Printf("[bft] h=%d r=%d: proposal does not match locked block, voting nil", p.Height, p.Round)
			e.transitionToPrevote(p.Height, p.Round, "")
			return
		}
	}

	state.ValidBlock = &p.Block
	state.ValidRound = int64(p.Round)
	e.transitionToPrevote(p.Height, p.Round, hash)
}

func (e *Engine) transitionToPrevote(height, round uint64, hash string) {
	state := e.state
	state.Step = StepPrevote
	e.emitPrevote(height, round, hash)
	e.armTimer(e.cfg.PrevoteTimeout, timeoutMsg{Height: height, Round: round, Step: StepPrevote})
	e.recordPrevote(PreVote{Height: height, Round: round, ValidatorID: e.cfg.NodeID, BlockHash: hash})
}

func (e *Engine) emitPrevote(height, round uint64, hash string) {
	sig, err := signVote(e.priv, "prevote", height, round, hash)
	if err != nil {
		e.logger.Printf("[bft] h=%d r=%d: signing prevote failed: %v", height, round, err)
		return
	}
	if hash == "" && e.metrics != nil {
		e.metrics.IncrementNilVote("prevote")
	}
	if e.transport != nil {
		pv := PreVote{Height: height, Round: round, ValidatorID: e.cfg.NodeID, BlockHash: hash, Signature: sig}
		if err := e.transport.Broadcast(Envelope{Kind: KindPreVote, PreVote: &pv}); err != nil {
			e.logger.Printf("[bft] h=%d r=%d: broadcast prevote failed: %v", height, round, err)
		}
	}
}

func (e *Engine) handlePreVoteMsg(v PreVote) {
	state := e.state
	if v.Height != state.Height || v.Round != state.Round {
		return
	}
	validator, err := e.store.GetValidator(v.ValidatorID)
	if err != nil || validator == nil {
		return
	}
	payload, err := voteSigningPayload("prevote", v.Height, v.Round, v.BlockHash)
	if err != nil || !crypto.Verify(validator.PublicKey, string(payload), v.Signature) {
		return
	}
	e.recordPrevote(v)
}

// recordPrevote stores a prevote (trusted: either our own or already
// validated) and, if still in the prevote step, checks for quorum.
func (e *Engine) recordPrevote(v PreVote) {
	state := e.state
	state.Prevotes[v.ValidatorID] = v
	if state.Step != StepPrevote {
		return
	}

	byHash, nilCount := countPrevotes(state.Prevotes)
	quorum := e.validators.Quorum()
	for hash, count := range byHash {
		if count < quorum {
			continue
		}
		if state.ValidBlock != nil {
			if validHash, err := block.Hash(*state.ValidBlock); err == nil && validHash == hash {
				state.LockedBlock = state.ValidBlock
				state.LockedRound = int64(state.Round)
			}
		}
		e.transitionToPrecommit(state.Height, state.Round, hash)
		return
	}
	if nilCount >= quorum {
		e.transitionToPrecommit(state.Height, state.Round, "")
	}
}

func (e *Engine) transitionToPrecommit(height, round uint64, hash string) {
	state := e.state
	state.Step = StepPrecommit
	e.emitPrecommit(height, round, hash)
	e.armTimer(e.cfg.PrecommitTimeout, timeoutMsg{Height: height, Round: round, Step: StepPrecommit})
	e.recordPrecommit(PreCommit{Height: height, Round: round, ValidatorID: e.cfg.NodeID, BlockHash: hash})
}

func (e *Engine) emitPrecommit(height, round uint64, hash string) {
	sig, err := signVote(e.priv, "precommit", height, round, hash)
	if err != nil {
		e.logger.Printf("[bft] h=%d r=%d: signing precommit failed: %v", height, round, err)
		return
	}
	if hash == "" && e.metrics != nil {
		e.metrics.IncrementNilVote("precommit")
	}
	if e.transport != nil {
		pc := PreCommit{Height: height, Round: round, ValidatorID: e.cfg.NodeID, BlockHash: hash, Signature: sig}
		if err := e.transport.Broadcast(Envelope{Kind: KindPreCommit, PreCommit: &pc}); err != nil {
			e.logger.Printf("[bft] h=%d r=%d: broadcast precommit failed: %v", height, round, err)
		}
	}
}

func (e *Engine) handlePreCommitMsg(v PreCommit) {
	state := e.state
	if v.Height != state.Height || v.Round != state.Round {
		return
	}
	validator, err := e.store.GetValidator(v.ValidatorID)
	if err != nil || validator == nil {
		return
	}
	payload, err := voteSigningPayload("precommit", v.Height, v.Round, v.BlockHash)
	if err != nil || !crypto.Verify(validator.PublicKey, string(payload), v.Signature) {
		return
	}
	e.recordPrecommit(v)
}

func (e *Engine) recordPrecommit(v PreCommit) {
	state := e.state
	state.Precommits[v.ValidatorID] = v

	byHash, nilCount := countPrecommits(state.Precommits)
	quorum := e.validators.Quorum()
	for hash, count := range byHash {
		if count < quorum {
			continue
		}
		if state.LockedBlock == nil {
			continue
		}
		lockedHash, err := block.Hash(*state.LockedBlock)
		if err != nil || lockedHash != hash {
			continue
		}
		e.commit(*state.LockedBlock)
		return
	}
	if nilCount >= quorum {
		e.enterRound(state.Height, state.Round+1)
	}
}

func (e *Engine) commit(b types.Block) {
	e.stopTimer()
	start := time.Now()
	if err := e.applier.Apply(b); err != nil {
		e.logger.Printf("[bft] h=%d: commit failed: %v", b.Header.Height, err)
		return
	}
	if e.metrics != nil {
		e.metrics.EndRound(b.Header.Height)
		e.metrics.RecordBlockApplyTime(time.Since(start))
		e.metrics.AddCommittedTransactions(len(b.Transactions))
		e.metrics.SetBlockHeight(b.Header.Height)
	}
	if e.onCommit != nil {
		e.onCommit(b)
	}

	nextHeight := b.Header.Height + 1
	e.setState(newRoundState(nextHeight))

	interval := e.cfg.BlockInterval
	go func() {
		select {
		case <-time.After(interval):
			select {
			case e.inbox <- startHeightMsg{Height: nextHeight}:
			case <-e.ctx.Done():
			}
		case <-e.ctx.Done():
		}
	}()
}

func (e *Engine) handleTimeout(m timeoutMsg) {
	state := e.state
	if m.Height != state.Height || m.Round != state.Round || m.Step != state.Step {
		return // stale timeout, superseded by a later transition
	}
	switch m.Step {
	case StepPropose:
		e.transitionToPrevote(m.Height, m.Round, "")
	case StepPrevote:
		e.transitionToPrecommit(m.Height, m.Round, "")
	case StepPrecommit:
		e.enterRound(m.Height, m.Round+1)
	}
}

func signVote(priv ed25519.PrivateKey, kind string, height, round uint64, blockHash string) (string, error) {
	payload, err := voteSigningPayload(kind, height, round, blockHash)
	if err != nil {
		return "", err
	}
	return crypto.Sign(priv, payload), nil
}
