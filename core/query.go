package core

import (
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/omahs/rusk/consensus/provisioners"
	"github.com/omahs/rusk/core/types"
	"github.com/omahs/rusk/crypto"
	"github.com/omahs/rusk/native/stake"
	"github.com/omahs/rusk/vm"
)

// snapshotCommit takes the session lock only long enough to read the commit
// a read-only session should run against.
func (c *Chain) snapshotCommit(baseCommit *[32]byte) [32]byte {
	if baseCommit != nil {
		return *baseCommit
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentCommit
}

// Query performs a single read-only contract call against the current
// commit. Queries run at effectively infinite gas and height zero, since
// neither affects the result.
func (c *Chain) Query(contract types.ContractID, method string, arg []byte) ([]byte, error) {
	commit := c.snapshotCommit(nil)
	session, err := c.vm.Session(commit, 0)
	if err != nil {
		return nil, err
	}
	receipt, err := session.Call(contract, method, arg, math.MaxUint64)
	if err != nil {
		return nil, err
	}
	return receipt.Data, nil
}

// FeederQuery streams a contract's unbounded result set into the sink. The
// feeder runs on its own worker so the caller can start consuming
// immediately; the sink is closed when the stream ends. A nil baseCommit
// streams from the current commit.
func (c *Chain) FeederQuery(
	contract types.ContractID,
	method string,
	arg []byte,
	sink chan<- []byte,
	baseCommit *[32]byte,
) error {
	commit := c.snapshotCommit(baseCommit)
	session, err := c.vm.Session(commit, 0)
	if err != nil {
		close(sink)
		return err
	}
	go func() {
		if err := session.FeederCall(contract, method, arg, sink); err != nil {
			c.log.Error("feeder query failed", "contract", contract.String(), "method", method, "err", err)
		}
	}()
	return nil
}

// Provisioner returns the stake record for the given key, or nil if the key
// has never appeared on the ledger.
func (c *Chain) Provisioner(pk crypto.PublicKey) (*types.StakeData, error) {
	arg, err := rlp.EncodeToBytes(&pk)
	if err != nil {
		return nil, err
	}
	data, err := c.Query(vm.StakeContract, "get_stake", arg)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	record := new(types.StakeData)
	if err := rlp.DecodeBytes(data, record); err != nil {
		return nil, fmt.Errorf("decode stake record: %w", err)
	}
	return record, nil
}

// SlashedAmount returns the running slashed pool total.
func (c *Chain) SlashedAmount() (uint64, error) {
	data, err := c.Query(vm.StakeContract, "slashed_amount", nil)
	if err != nil {
		return 0, err
	}
	var amount uint64
	if err := rlp.DecodeBytes(data, &amount); err != nil {
		return 0, err
	}
	return amount, nil
}

// Provisioners projects the stake ledger at the given commit (current when
// nil) into the sortition view. Stakes below the minimum are filtered: they
// remain on the ledger but hold no seat in any committee.
func (c *Chain) Provisioners(baseCommit *[32]byte) (*provisioners.Provisioners, error) {
	sink := make(chan []byte, c.feederBuf)
	if err := c.FeederQuery(vm.StakeContract, "stakes", nil, sink, baseCommit); err != nil {
		return nil, err
	}

	set := provisioners.New()
	var decodeErr error
	for item := range sink {
		// Keep draining on error so the feeder worker can run to completion.
		if decodeErr != nil {
			continue
		}
		var entry stake.Entry
		if err := rlp.DecodeBytes(item, &entry); err != nil {
			decodeErr = fmt.Errorf("decode stakes entry: %w", err)
			continue
		}
		if entry.Data.Amount < stake.MinimumStake {
			continue
		}
		set.AddMemberWithStake(entry.PublicKey, provisioners.NewStake(
			entry.Data.Amount, entry.Data.Reward, entry.Data.EligibleSince,
		))
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	return set, nil
}
