package core

import (
	"fmt"
	"math"
	"os"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/omahs/rusk/core/types"
	"github.com/omahs/rusk/crypto"
	"github.com/omahs/rusk/native/stake"
	"github.com/omahs/rusk/native/transfer"
	"github.com/omahs/rusk/storage"
	"github.com/omahs/rusk/vm"
)

// GenesisStake seeds an initial provisioner.
type GenesisStake struct {
	PublicKey crypto.PublicKey
	Data      types.StakeData
}

// Genesis describes the chain's initial state.
type Genesis struct {
	Owner  [32]byte
	Notes  []types.Note
	Stakes []GenesisStake
}

// InitState provisions a fresh state at dir: it deploys the transfer and
// stake contracts, seeds the genesis notes and stakes, commits, and writes
// the state id file NewChain starts from. It fails if the anchor file
// already exists.
func InitState(dir string, db storage.Database, gen *Genesis) ([32]byte, error) {
	if _, err := os.Stat(stateIDPath(dir)); err == nil {
		return [32]byte{}, fmt.Errorf("state id file already exists in %s", dir)
	}

	machine := vm.New(db)
	session := machine.GenesisSession(0, []vm.Deployment{
		{ID: vm.TransferContract, Owner: gen.Owner, Image: transfer.Image()},
		{ID: vm.StakeContract, Owner: gen.Owner, Image: stake.Image(1)},
	})

	for i := range gen.Notes {
		arg, err := rlp.EncodeToBytes(&gen.Notes[i])
		if err != nil {
			return [32]byte{}, err
		}
		if _, err := session.Call(vm.TransferContract, "mint", arg, math.MaxUint64); err != nil {
			return [32]byte{}, fmt.Errorf("mint genesis note: %w", err)
		}
	}

	var stakedTotal uint64
	for i := range gen.Stakes {
		arg, err := rlp.EncodeToBytes(&stake.InsertArgs{
			PublicKey: gen.Stakes[i].PublicKey,
			Data:      gen.Stakes[i].Data,
		})
		if err != nil {
			return [32]byte{}, err
		}
		if _, err := session.Call(vm.StakeContract, "insert_stake", arg, math.MaxUint64); err != nil {
			return [32]byte{}, fmt.Errorf("insert genesis stake: %w", err)
		}
		stakedTotal += gen.Stakes[i].Data.Amount + gen.Stakes[i].Data.Reward
	}
	if stakedTotal > 0 {
		// Back the seeded stakes with a matching module balance, so unstake
		// can pay them out.
		arg, err := rlp.EncodeToBytes(&transfer.BalanceArgs{Contract: vm.StakeContract, Value: stakedTotal})
		if err != nil {
			return [32]byte{}, err
		}
		if _, err := session.Call(vm.TransferContract, "add_module_balance", arg, math.MaxUint64); err != nil {
			return [32]byte{}, fmt.Errorf("fund stake contract: %w", err)
		}
	}

	if _, err := session.Call(vm.TransferContract, "update_root", nil, math.MaxUint64); err != nil {
		return [32]byte{}, err
	}

	commitID, err := session.Commit()
	if err != nil {
		return [32]byte{}, err
	}
	if err := os.WriteFile(stateIDPath(dir), commitID[:], 0o644); err != nil {
		return [32]byte{}, fmt.Errorf("write state id: %w", err)
	}
	return commitID, nil
}
