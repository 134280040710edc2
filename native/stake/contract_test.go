package stake

import (
	"bytes"
	stderrors "errors"
	"math"
	"testing"

	"github.com/ethereum/go-ethereum/rlp"

	coreerrors "github.com/omahs/rusk/core/errors"
	"github.com/omahs/rusk/core/types"
	"github.com/omahs/rusk/crypto"
	"github.com/omahs/rusk/native/transfer"
	"github.com/omahs/rusk/storage"
	"github.com/omahs/rusk/vm"
)

// proxyContract forwards a call to the stake contract from inside the VM,
// to exercise the external-caller gate.
type proxyContract struct{}

func (proxyContract) Invoke(ctx *vm.CallContext, method string, arg []byte) ([]byte, error) {
	return ctx.Call(vm.StakeContract, method, arg)
}

func (proxyContract) Snapshot() ([]byte, error) { return []byte{0x80}, nil }

func (proxyContract) Restore([]byte) error { return nil }

var proxyID = vm.Reserved(0x7f)

func newStakeSession(t *testing.T) *vm.Session {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	machine := vm.New(db)
	return machine.GenesisSession(1, []vm.Deployment{
		{ID: vm.TransferContract, Image: transfer.Image()},
		{ID: vm.StakeContract, Image: Image(1)},
		{ID: proxyID, Image: vm.Image{Version: 1, New: func() vm.Contract { return proxyContract{} }}},
	})
}

func mustEncode(t *testing.T, v interface{}) []byte {
	t.Helper()
	encoded, err := rlp.EncodeToBytes(v)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return encoded
}

func TestStakeRequiresTransferCaller(t *testing.T) {
	session := newStakeSession(t)
	pk, sk, err := crypto.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	value := types.Coins(2_000)
	arg := mustEncode(t, &StakeArgs{
		PublicKey: pk,
		Signature: sk.Sign(types.DepositMessage(0, value)),
		Value:     value,
	})
	for _, method := range []string{"stake", "unstake", "withdraw"} {
		if _, err := session.Call(vm.StakeContract, method, arg, math.MaxUint64); !stderrors.Is(err, coreerrors.ErrUnauthorized) {
			t.Fatalf("%s from outside the transfer contract: expected ErrUnauthorized, got %v", method, err)
		}
	}
}

func TestManagementRejectsContractCallers(t *testing.T) {
	session := newStakeSession(t)
	pk, _, err := crypto.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	arg := mustEncode(t, &ValueArgs{PublicKey: pk, Value: types.Coins(1)})

	for _, method := range []string{"reward", "slash", "hard_slash", "insert_stake", "set_slashed_amount"} {
		if _, err := session.Call(proxyID, method, arg, math.MaxUint64); !stderrors.Is(err, coreerrors.ErrUnauthorized) {
			t.Fatalf("%s from inside the VM: expected ErrUnauthorized, got %v", method, err)
		}
	}
}

func TestManagementFromOutsideTheVM(t *testing.T) {
	session := newStakeSession(t)
	pk, _, err := crypto.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	arg := mustEncode(t, &ValueArgs{PublicKey: pk, Value: types.Coins(9)})
	receipt, err := session.Call(vm.StakeContract, "reward", arg, math.MaxUint64)
	if err != nil {
		t.Fatalf("reward: %v", err)
	}
	if len(receipt.Events) != 1 || receipt.Events[0].Topic != "reward" {
		t.Fatalf("expected a single reward event, got %+v", receipt.Events)
	}

	data, err := session.Call(vm.StakeContract, "get_stake", mustEncode(t, &pk), math.MaxUint64)
	if err != nil {
		t.Fatalf("get_stake: %v", err)
	}
	var record types.StakeData
	if err := rlp.DecodeBytes(data.Data, &record); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if record.Reward != types.Coins(9) {
		t.Fatalf("unexpected record: %+v", record)
	}
}

func TestGetStakeAbsentReturnsNothing(t *testing.T) {
	session := newStakeSession(t)
	pk, _, err := crypto.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	receipt, err := session.Call(vm.StakeContract, "get_stake", mustEncode(t, &pk), math.MaxUint64)
	if err != nil {
		t.Fatalf("get_stake: %v", err)
	}
	if len(receipt.Data) != 0 {
		t.Fatalf("expected empty payload for an absent key")
	}
}

func TestGetVersion(t *testing.T) {
	session := newStakeSession(t)
	receipt, err := session.Call(vm.StakeContract, "get_version", nil, math.MaxUint64)
	if err != nil {
		t.Fatalf("get_version: %v", err)
	}
	var version uint32
	if err := rlp.DecodeBytes(receipt.Data, &version); err != nil {
		t.Fatalf("decode version: %v", err)
	}
	if version != 1 {
		t.Fatalf("version %d, want 1", version)
	}
}

func TestStakesFeederStreamsInCanonicalOrder(t *testing.T) {
	session := newStakeSession(t)

	for i := 0; i < 6; i++ {
		pk, _, err := crypto.GenerateKey(nil)
		if err != nil {
			t.Fatalf("generate key: %v", err)
		}
		arg := mustEncode(t, &InsertArgs{PublicKey: pk, Data: types.StakeData{
			Amount:  types.Coins(uint64(1_000 * (i + 1))),
			Counter: uint64(i),
		}})
		if _, err := session.Call(vm.StakeContract, "insert_stake", arg, math.MaxUint64); err != nil {
			t.Fatalf("insert_stake: %v", err)
		}
	}

	sink := make(chan []byte, 16)
	done := make(chan error, 1)
	go func() {
		done <- session.FeederCall(vm.StakeContract, "stakes", nil, sink)
	}()

	var previous *crypto.PublicKey
	count := 0
	for item := range sink {
		var entry Entry
		if err := rlp.DecodeBytes(item, &entry); err != nil {
			t.Fatalf("decode entry: %v", err)
		}
		if previous != nil && bytes.Compare(previous[:], entry.PublicKey[:]) >= 0 {
			t.Fatalf("feeder items out of canonical order")
		}
		pk := entry.PublicKey
		previous = &pk
		count++
	}
	if err := <-done; err != nil {
		t.Fatalf("feeder call: %v", err)
	}
	if count != 6 {
		t.Fatalf("streamed %d entries, want 6", count)
	}
}

func TestSnapshotRestoreAcrossImages(t *testing.T) {
	contract := New(1)
	pk, _, err := crypto.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	contract.state.Insert(pk, types.StakeData{Amount: types.Coins(5_000), Counter: 2})
	contract.state.SetSlashedAmount(types.Coins(11))

	snapshot, err := contract.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	restored := New(2)
	if err := restored.Restore(snapshot); err != nil {
		t.Fatalf("restore: %v", err)
	}
	record, ok := restored.state.Get(pk)
	if !ok || record.Amount != types.Coins(5_000) || record.Counter != 2 {
		t.Fatalf("record lost across restore: %+v", record)
	}
	if restored.state.SlashedAmount() != types.Coins(11) {
		t.Fatalf("slashed pool lost across restore")
	}
}
