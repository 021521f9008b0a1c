package bft

import "github.com/miniroha/miniroha/types"

// Step is one of the four per-round states a validator moves through.
type Step int

const (
	StepPropose Step = iota
	StepPrevote
	StepPrecommit
	StepCommit
)

func (s Step) String() string {
	switch s {
	case StepPropose:
		return "propose"
	case StepPrevote:
		return "prevote"
	case StepPrecommit:
		return "precommit"
	case StepCommit:
		return "commit"
	default:
		return "unknown"
	}
}

// roundState is a validator's local view of the round in progress.
type roundState struct {
	Height uint64
	Round  uint64
	Step   Step

	LockedBlock *types.Block
	LockedRound int64 // -1 when unset

	ValidBlock *types.Block
	ValidRound int64 // -1 when unset

	Prevotes   map[string]PreVote
	Precommits map[string]PreCommit

	// ownPrevoted/ownPrecommitted are cleared by resetRound and not
	// otherwise set or read; double emission is prevented by the step
	// checks in handleProposal and handleTimeout.
	ownPrevoted     bool
	ownPrecommitted bool
}

func newRoundState(height uint64) *roundState {
	return &roundState{
		Height:      height,
		Round:       0,
		Step:        StepPropose,
		LockedRound: -1,
		ValidRound:  -1,
		Prevotes:    make(map[string]PreVote),
		Precommits:  make(map[string]PreCommit),
	}
}

// resetRound clears vote maps for a fresh round at the same height,
// preserving locked_* and valid_* across rounds per §4.8's locking
// rule.
func (s *roundState) resetRound(round uint64) {
	s.Round = round
	s.Step = StepPropose
	s.Prevotes = make(map[string]PreVote)
	s.Precommits = make(map[string]PreCommit)
	s.ownPrevoted = false
	s.ownPrecommitted = false
}

// countPrevotes tallies prevotes by block hash ("" = nil) and returns
// the per-hash counts plus the nil count.
func countPrevotes(votes map[string]PreVote) (byHash map[string]int, nilCount int) {
	byHash = make(map[string]int)
	for _, v := range votes {
		if v.BlockHash == "" {
			nilCount++
			continue
		}
		byHash[v.BlockHash]++
	}
	return byHash, nilCount
}

func countPrecommits(votes map[string]PreCommit) (byHash map[string]int, nilCount int) {
	byHash = make(map[string]int)
	for _, v := range votes {
		if v.BlockHash == "" {
			nilCount++
			continue
		}
		byHash[v.BlockHash]++
	}
	return byHash, nilCount
}
