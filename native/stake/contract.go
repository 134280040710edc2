package stake

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	coreerrors "github.com/omahs/rusk/core/errors"
	"github.com/omahs/rusk/core/events"
	"github.com/omahs/rusk/core/types"
	"github.com/omahs/rusk/crypto"
	"github.com/omahs/rusk/vm"
)

// MinimumStake is the stake floor: a deposit is rejected when the resulting
// amount would sit below it, so topping up a stake already at or above the
// floor has no per-deposit minimum. Stakes may fall below the floor
// afterwards through slashing; only deposits are gated.
const MinimumStake uint64 = 1_000 * types.Dusk

// Gas charged per user-facing operation, on top of the host's call cost.
// insert_stake is a management primitive and is deliberately unmetered.
const (
	gasStake    uint64 = 25_000
	gasUnstake  uint64 = 25_000
	gasWithdraw uint64 = 20_000
	gasManage   uint64 = 10_000
)

// StakeArgs parameterizes a deposit.
type StakeArgs struct {
	PublicKey     crypto.PublicKey
	Signature     []byte
	Counter       uint64
	Value         uint64
	EligibleSince uint64
}

// UnstakeArgs parameterizes a full principal withdrawal. Note is the owner
// of the destination note the principal is pushed into.
type UnstakeArgs struct {
	PublicKey crypto.PublicKey
	Signature []byte
	Counter   uint64
	Note      [32]byte
}

// WithdrawArgs parameterizes a reward withdrawal.
type WithdrawArgs struct {
	PublicKey crypto.PublicKey
	Signature []byte
	Counter   uint64
	Address   [32]byte
	Nonce     uint64
}

// ValueArgs parameterizes reward, slash and hard_slash.
type ValueArgs struct {
	PublicKey crypto.PublicKey
	Value     uint64
}

// InsertArgs parameterizes insert_stake.
type InsertArgs struct {
	PublicKey crypto.PublicKey
	Data      types.StakeData
}

// Entry is the (key, record) pair streamed by the stakes feeder.
type Entry struct {
	PublicKey crypto.PublicKey
	Data      types.StakeData
}

// Contract is the stake ledger: the authoritative mapping of provisioner
// key to stake record, plus the running slashed pool.
type Contract struct {
	state   *State
	version uint32
}

// New returns an empty stake contract claiming the given image version.
func New(version uint32) *Contract {
	return &Contract{state: NewState(), version: version}
}

// Image packages the contract for deployment at the given version.
func Image(version uint32) vm.Image {
	return vm.Image{Version: version, New: func() vm.Contract { return New(version) }}
}

// Invoke dispatches a contract method.
//
// Transactions (stake, unstake, withdraw) are gated on the transfer
// contract; management entry points are gated on calls from outside the VM.
// Gate violations panic, terminating the calling transaction.
func (c *Contract) Invoke(ctx *vm.CallContext, method string, arg []byte) ([]byte, error) {
	switch method {
	// Transactions.
	case "stake":
		assertTransferCaller(ctx)
		if err := ctx.Charge(gasStake); err != nil {
			return nil, err
		}
		return nil, c.stake(ctx, arg)
	case "unstake":
		assertTransferCaller(ctx)
		if err := ctx.Charge(gasUnstake); err != nil {
			return nil, err
		}
		return nil, c.unstake(ctx, arg)
	case "withdraw":
		assertTransferCaller(ctx)
		if err := ctx.Charge(gasWithdraw); err != nil {
			return nil, err
		}
		return nil, c.withdraw(ctx, arg)

	// Management.
	case "insert_stake":
		assertExternalCaller(ctx)
		return nil, c.insertStake(arg)
	case "reward":
		assertExternalCaller(ctx)
		if err := ctx.Charge(gasManage); err != nil {
			return nil, err
		}
		return nil, c.reward(ctx, arg)
	case "slash":
		assertExternalCaller(ctx)
		if err := ctx.Charge(gasManage); err != nil {
			return nil, err
		}
		return nil, c.slash(ctx, arg, false)
	case "hard_slash":
		assertExternalCaller(ctx)
		if err := ctx.Charge(gasManage); err != nil {
			return nil, err
		}
		return nil, c.slash(ctx, arg, true)
	case "set_slashed_amount":
		assertExternalCaller(ctx)
		return nil, c.setSlashedAmount(arg)

	// Queries.
	case "get_stake":
		return c.getStake(arg)
	case "slashed_amount":
		return rlp.EncodeToBytes(c.state.SlashedAmount())
	case "get_version":
		return rlp.EncodeToBytes(c.version)

	// Feeder.
	case "stakes":
		c.stakes(ctx)
		return nil, nil

	default:
		return nil, fmt.Errorf("stake: unknown method %q", method)
	}
}

func (c *Contract) stake(ctx *vm.CallContext, arg []byte) error {
	var args StakeArgs
	if err := rlp.DecodeBytes(arg, &args); err != nil {
		return fmt.Errorf("stake: decode stake args: %w", err)
	}
	if ctx.TransferredValue() != args.Value {
		return fmt.Errorf("stake: transferred value %d does not match declared %d",
			ctx.TransferredValue(), args.Value)
	}
	value, err := c.state.Deposit(args.PublicKey, args.Value, args.EligibleSince, args.Counter, args.Signature)
	if err != nil {
		return err
	}
	ctx.Emit(events.TopicStake, events.EncodeStakePayload(args.PublicKey, value))
	return nil
}

func (c *Contract) unstake(ctx *vm.CallContext, arg []byte) error {
	var args UnstakeArgs
	if err := rlp.DecodeBytes(arg, &args); err != nil {
		return fmt.Errorf("stake: decode unstake args: %w", err)
	}
	value, err := c.state.PrepareUnstake(args.PublicKey, args.Counter, args.Signature, args.Note)
	if err != nil {
		return err
	}
	if err := pushNote(ctx, args.Note, value); err != nil {
		return err
	}
	c.state.CommitUnstake(args.PublicKey)
	ctx.Emit(events.TopicUnstake, events.EncodeStakePayload(args.PublicKey, value))
	return nil
}

func (c *Contract) withdraw(ctx *vm.CallContext, arg []byte) error {
	var args WithdrawArgs
	if err := rlp.DecodeBytes(arg, &args); err != nil {
		return fmt.Errorf("stake: decode withdraw args: %w", err)
	}
	value, err := c.state.PrepareWithdraw(args.PublicKey, args.Counter, args.Signature, args.Address, args.Nonce)
	if err != nil {
		return err
	}
	if err := pushNote(ctx, args.Address, value); err != nil {
		return err
	}
	c.state.CommitWithdraw(args.PublicKey)
	ctx.Emit(events.TopicWithdraw, events.EncodeStakePayload(args.PublicKey, value))
	return nil
}

func pushNote(ctx *vm.CallContext, owner [32]byte, value uint64) error {
	note := types.Note{Owner: owner, Value: value}
	encoded, err := rlp.EncodeToBytes(&note)
	if err != nil {
		return err
	}
	if _, err := ctx.Call(vm.TransferContract, "push_note", encoded); err != nil {
		return fmt.Errorf("stake: push note: %w", err)
	}
	return nil
}

func (c *Contract) reward(ctx *vm.CallContext, arg []byte) error {
	var args ValueArgs
	if err := rlp.DecodeBytes(arg, &args); err != nil {
		return fmt.Errorf("stake: decode reward args: %w", err)
	}
	c.state.Reward(args.PublicKey, args.Value)
	ctx.Emit(events.TopicReward, events.EncodeStakePayload(args.PublicKey, args.Value))
	return nil
}

func (c *Contract) slash(ctx *vm.CallContext, arg []byte, hard bool) error {
	var args ValueArgs
	if err := rlp.DecodeBytes(arg, &args); err != nil {
		return fmt.Errorf("stake: decode slash args: %w", err)
	}
	var (
		confiscated uint64
		err         error
		topic       string
	)
	if hard {
		confiscated, err = c.state.HardSlash(args.PublicKey, args.Value)
		topic = events.TopicHardSlash
	} else {
		confiscated, err = c.state.Slash(args.PublicKey, args.Value)
		topic = events.TopicSlash
	}
	if err != nil {
		return err
	}
	ctx.Emit(topic, events.EncodeStakePayload(args.PublicKey, confiscated))
	return nil
}

func (c *Contract) insertStake(arg []byte) error {
	var args InsertArgs
	if err := rlp.DecodeBytes(arg, &args); err != nil {
		return fmt.Errorf("stake: decode insert args: %w", err)
	}
	c.state.Insert(args.PublicKey, args.Data)
	return nil
}

func (c *Contract) setSlashedAmount(arg []byte) error {
	var value uint64
	if err := rlp.DecodeBytes(arg, &value); err != nil {
		return fmt.Errorf("stake: decode slashed amount: %w", err)
	}
	c.state.SetSlashedAmount(value)
	return nil
}

func (c *Contract) getStake(arg []byte) ([]byte, error) {
	var pk crypto.PublicKey
	if err := rlp.DecodeBytes(arg, &pk); err != nil {
		return nil, fmt.Errorf("stake: decode public key: %w", err)
	}
	record, ok := c.state.Get(pk)
	if !ok {
		return nil, nil
	}
	return rlp.EncodeToBytes(record)
}

func (c *Contract) stakes(ctx *vm.CallContext) {
	for _, pk := range c.state.SortedKeys() {
		record, _ := c.state.Get(pk)
		encoded, err := rlp.EncodeToBytes(&Entry{PublicKey: pk, Data: *record})
		if err != nil {
			panic(err)
		}
		ctx.Feed(encoded)
	}
}

// assertTransferCaller panics unless the call came from the transfer
// contract.
func assertTransferCaller(ctx *vm.CallContext) {
	if ctx.Caller() != vm.TransferContract {
		panic(coreerrors.ErrUnauthorized)
	}
}

// assertExternalCaller panics unless the call originated outside the VM.
func assertExternalCaller(ctx *vm.CallContext) {
	if !ctx.Caller().IsZero() {
		panic(coreerrors.ErrUnauthorized)
	}
}

// Snapshot encodes the ledger state canonically.
func (c *Contract) Snapshot() ([]byte, error) {
	return c.state.MarshalBinary()
}

// Restore loads a previously snapshotted ledger.
func (c *Contract) Restore(state []byte) error {
	return c.state.UnmarshalBinary(state)
}
