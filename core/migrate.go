package core

import (
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/omahs/rusk/core/types"
	"github.com/omahs/rusk/native/stake"
	"github.com/omahs/rusk/vm"
)

// Migrate swaps the stake contract's code image when the given height is
// the designated migration block; at any other height it is a no-op. The
// swap runs inside a session that is committed like any other block work,
// so the transition lands in the chain's state root.
//
// Every record and the slashed pool are streamed out of the old image and
// re-inserted into the new one. The old image's owner is preserved.
func (c *Chain) Migrate(blockHeight uint64) error {
	if c.migration == nil || blockHeight != c.migration.Height {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.log.Info("migrating stake contract", "height", blockHeight, "version", c.migration.Image.Version)

	session, err := c.vm.Session(c.currentCommit, blockHeight)
	if err != nil {
		return err
	}
	owner, err := session.ContractOwner(vm.StakeContract)
	if err != nil {
		return err
	}

	err = session.Migrate(vm.StakeContract, c.migration.Image, owner, func(newID types.ContractID, s *vm.Session) error {
		entries, err := drainStakes(s, vm.StakeContract)
		if err != nil {
			return err
		}
		for i := range entries {
			arg, err := rlp.EncodeToBytes(&stake.InsertArgs{
				PublicKey: entries[i].PublicKey,
				Data:      entries[i].Data,
			})
			if err != nil {
				return err
			}
			if _, err := s.Call(newID, "insert_stake", arg, math.MaxUint64); err != nil {
				return fmt.Errorf("insert stake: %w", err)
			}
		}

		receipt, err := s.Call(vm.StakeContract, "slashed_amount", nil, math.MaxUint64)
		if err != nil {
			return err
		}
		if _, err := s.Call(newID, "set_slashed_amount", receipt.Data, math.MaxUint64); err != nil {
			return fmt.Errorf("set slashed amount: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	commitID, err := session.Commit()
	if err != nil {
		return err
	}
	c.currentCommit = commitID
	c.log.Info("stake contract migration finished", "commit", fmt.Sprintf("%x", commitID))
	return nil
}

// drainStakes collects every (key, record) pair the old image feeds out.
// The feeder runs on its own worker; the session is not touched again until
// the stream has fully drained.
func drainStakes(s *vm.Session, id types.ContractID) ([]stake.Entry, error) {
	sink := make(chan []byte, 64)
	done := make(chan error, 1)
	go func() {
		done <- s.FeederCall(id, "stakes", nil, sink)
	}()

	var entries []stake.Entry
	var decodeErr error
	for item := range sink {
		if decodeErr != nil {
			continue
		}
		var entry stake.Entry
		if err := rlp.DecodeBytes(item, &entry); err != nil {
			decodeErr = fmt.Errorf("decode stakes entry: %w", err)
			continue
		}
		entries = append(entries, entry)
	}
	if err := <-done; err != nil {
		return nil, err
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	return entries, nil
}
