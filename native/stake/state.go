package stake

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/rlp"

	coreerrors "github.com/omahs/rusk/core/errors"
	"github.com/omahs/rusk/core/types"
	"github.com/omahs/rusk/crypto"
)

// State is the ledger proper: provisioner key to stake record, plus the
// slashed pool. Records persist at zero value for replay protection, so
// deletion never happens.
//
// The withdraw and unstake flows are split into Prepare/Commit pairs: the
// Prepare step performs every check that can fail, the value then moves
// through the transfer contract, and Commit applies the record mutation.
// A failure in between leaves the ledger untouched.
type State struct {
	stakes  map[crypto.PublicKey]*types.StakeData
	slashed uint64
}

// NewState returns an empty ledger.
func NewState() *State {
	return &State{stakes: make(map[crypto.PublicKey]*types.StakeData)}
}

// Get returns a copy of the record at pk, if present.
func (s *State) Get(pk crypto.PublicKey) (*types.StakeData, bool) {
	record, ok := s.stakes[pk]
	if !ok {
		return nil, false
	}
	return record.Copy(), true
}

// Len returns the number of records, including empty-but-present ones.
func (s *State) Len() int {
	return len(s.stakes)
}

// SortedKeys returns every provisioner key in canonical byte order. All
// observable iteration goes through this, so every node sees the same order.
func (s *State) SortedKeys() []crypto.PublicKey {
	keys := make([]crypto.PublicKey, 0, len(s.stakes))
	for pk := range s.stakes {
		keys = append(keys, pk)
	}
	sort.Slice(keys, func(i, j int) bool { return bytes.Compare(keys[i][:], keys[j][:]) < 0 })
	return keys
}

// SlashedAmount returns the running slashed pool total.
func (s *State) SlashedAmount() uint64 {
	return s.slashed
}

// SetSlashedAmount overwrites the slashed pool. Migration only.
func (s *State) SetSlashedAmount(value uint64) {
	s.slashed = value
}

// Deposit validates and applies a deposit, returning the deposited value.
// A deposit whose resulting amount would sit below the minimum stake is
// rejected; topping up an already sufficient stake has no floor of its own.
func (s *State) Deposit(pk crypto.PublicKey, value, eligibleSince, counter uint64, sig []byte) (uint64, error) {
	record := s.stakes[pk]
	var currentAmount, currentCounter uint64
	if record != nil {
		currentAmount = record.Amount
		currentCounter = record.Counter
	}
	if currentAmount+value < MinimumStake {
		return 0, coreerrors.ErrInsufficientStake
	}
	if counter != currentCounter {
		return 0, coreerrors.ErrReplay
	}
	if !crypto.Verify(pk, types.DepositMessage(counter, value), sig) {
		return 0, coreerrors.ErrInvalidSignature
	}
	if record == nil {
		record = &types.StakeData{EligibleSince: eligibleSince}
		s.stakes[pk] = record
	} else if eligibleSince > record.EligibleSince {
		// Eligibility is monotone: topping up may push it forward, never back.
		record.EligibleSince = eligibleSince
	}
	record.Amount += value
	record.Counter++
	return value, nil
}

// PrepareUnstake checks an unstake request and returns the amount that will
// leave the ledger. The record is not mutated until CommitUnstake.
func (s *State) PrepareUnstake(pk crypto.PublicKey, counter uint64, sig []byte, note [32]byte) (uint64, error) {
	record, ok := s.stakes[pk]
	if !ok || !record.HasStake() {
		return 0, coreerrors.ErrNoStake
	}
	if counter != record.Counter {
		return 0, coreerrors.ErrReplay
	}
	if !crypto.Verify(pk, types.UnstakeMessage(counter, note[:]), sig) {
		return 0, coreerrors.ErrInvalidSignature
	}
	return record.Amount, nil
}

// CommitUnstake zeroes the staked amount and bumps the counter. The record
// itself is retained.
func (s *State) CommitUnstake(pk crypto.PublicKey) {
	record := s.stakes[pk]
	record.Amount = 0
	record.Counter++
}

// PrepareWithdraw checks a reward withdrawal and returns the reward that
// will leave the ledger.
func (s *State) PrepareWithdraw(pk crypto.PublicKey, counter uint64, sig []byte, address [32]byte, nonce uint64) (uint64, error) {
	record, ok := s.stakes[pk]
	if !ok || record.Reward == 0 {
		return 0, coreerrors.ErrNoReward
	}
	if counter != record.Counter {
		return 0, coreerrors.ErrReplay
	}
	if !crypto.Verify(pk, types.WithdrawMessage(counter, address, nonce), sig) {
		return 0, coreerrors.ErrInvalidSignature
	}
	return record.Reward, nil
}

// CommitWithdraw zeroes the accumulated reward and bumps the counter.
func (s *State) CommitWithdraw(pk crypto.PublicKey) {
	record := s.stakes[pk]
	record.Reward = 0
	record.Counter++
}

// Reward credits value to pk's reward, creating an empty record if none
// exists: coinbase rewards may land on keys that have never staked. The
// counter tracks user-authored actions only and is left alone.
func (s *State) Reward(pk crypto.PublicKey, value uint64) {
	record, ok := s.stakes[pk]
	if !ok {
		record = &types.StakeData{}
		s.stakes[pk] = record
	}
	record.Reward += value
}

// Slash soft-confiscates up to value from pk, taking reward first and the
// surplus from the staked amount. It returns the total actually moved into
// the slashed pool.
func (s *State) Slash(pk crypto.PublicKey, value uint64) (uint64, error) {
	record, ok := s.stakes[pk]
	if !ok {
		return 0, coreerrors.ErrNoStake
	}
	fromReward := min(value, record.Reward)
	fromAmount := min(value-fromReward, record.Amount)
	record.Reward -= fromReward
	record.Amount -= fromAmount
	total := fromReward + fromAmount
	s.slashed += total
	return total, nil
}

// HardSlash confiscates up to value from pk, taking the staked amount first
// and the surplus from reward. A stake slashed below the minimum floor
// stays on-ledger at whatever remains.
func (s *State) HardSlash(pk crypto.PublicKey, value uint64) (uint64, error) {
	record, ok := s.stakes[pk]
	if !ok {
		return 0, coreerrors.ErrNoStake
	}
	fromAmount := min(value, record.Amount)
	fromReward := min(value-fromAmount, record.Reward)
	record.Amount -= fromAmount
	record.Reward -= fromReward
	total := fromAmount + fromReward
	s.slashed += total
	return total, nil
}

// Insert replaces whatever record exists at pk. Migration and bootstrap
// only; no authorization or counter checks apply.
func (s *State) Insert(pk crypto.PublicKey, data types.StakeData) {
	s.stakes[pk] = data.Copy()
}

// MarshalBinary encodes the ledger canonically: entries in key order, then
// the slashed pool.
func (s *State) MarshalBinary() ([]byte, error) {
	entries := make([]Entry, 0, len(s.stakes))
	for _, pk := range s.SortedKeys() {
		entries = append(entries, Entry{PublicKey: pk, Data: *s.stakes[pk]})
	}
	return rlp.EncodeToBytes(&stateImage{Stakes: entries, Slashed: s.slashed})
}

// UnmarshalBinary loads a previously encoded ledger.
func (s *State) UnmarshalBinary(data []byte) error {
	var image stateImage
	if err := rlp.DecodeBytes(data, &image); err != nil {
		return fmt.Errorf("stake: decode state: %w", err)
	}
	s.stakes = make(map[crypto.PublicKey]*types.StakeData, len(image.Stakes))
	for _, entry := range image.Stakes {
		s.stakes[entry.PublicKey] = entry.Data.Copy()
	}
	s.slashed = image.Slashed
	return nil
}

type stateImage struct {
	Stakes  []Entry
	Slashed uint64
}
