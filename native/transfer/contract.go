package transfer

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/rlp"
	"lukechampine.com/blake3"

	coreerrors "github.com/omahs/rusk/core/errors"
	"github.com/omahs/rusk/core/types"
	"github.com/omahs/rusk/vm"
)

// Per-operation gas costs charged on top of the host's call cost.
const (
	gasPerNullifier uint64 = 2_000
	gasPerOutput    uint64 = 1_500
)

var (
	errUnknownNote   = errors.New("transfer: unknown or spent note")
	errDoubleSpend   = errors.New("transfer: duplicate nullifier in transaction")
	errValueOverflow = errors.New("transfer: input value overflow")
	errInsufficient  = errors.New("transfer: insufficient input value")
	errNoBalance     = errors.New("transfer: module balance too low")
)

// Contract is the transparent transfer collaborator: it keeps the note
// registry, the nullifier set, and per-contract module balances, and it is
// the only entry point through which value reaches other contracts.
type Contract struct {
	notes    []types.Note
	spent    map[[32]byte]struct{}
	balances map[types.ContractID]uint64
	root     [32]byte
}

// New returns an empty transfer contract.
func New() *Contract {
	return &Contract{
		spent:    make(map[[32]byte]struct{}),
		balances: make(map[types.ContractID]uint64),
	}
}

// Image packages the contract for deployment.
func Image() vm.Image {
	return vm.Image{Version: 1, New: func() vm.Contract { return New() }}
}

// RefundArgs parameterizes the refund entry point.
type RefundArgs struct {
	Fee      types.TxFee
	GasSpent uint64
}

// BalanceArgs parameterizes add_module_balance.
type BalanceArgs struct {
	Contract types.ContractID
	Value    uint64
}

// Invoke dispatches a contract method.
func (c *Contract) Invoke(ctx *vm.CallContext, method string, arg []byte) ([]byte, error) {
	switch method {
	case "spend_and_execute":
		assertExternalCaller(ctx)
		return c.spendAndExecute(ctx, arg)
	case "refund":
		assertExternalCaller(ctx)
		return nil, c.refund(ctx, arg)
	case "update_root":
		assertExternalCaller(ctx)
		c.updateRoot()
		return nil, nil
	case "push_note":
		return c.pushNote(ctx, arg)
	case "existing_nullifiers":
		return c.existingNullifiers(arg)
	case "add_module_balance":
		assertExternalCaller(ctx)
		return nil, c.addModuleBalance(arg)
	case "mint":
		assertExternalCaller(ctx)
		return nil, c.mint(ctx, arg)
	case "module_balance":
		return c.moduleBalance(arg)
	case "owned_notes":
		return c.ownedNotes(arg)
	case "root":
		return c.root[:], nil
	default:
		return nil, fmt.Errorf("transfer: unknown method %q", method)
	}
}

// spendAndExecute consumes the transaction's notes, locks the fee, moves the
// attached value to the called contract, and dispatches the call. A failure
// before the dispatch makes the transaction unspendable; a failure of the
// dispatched call is reported in the CallResult with the value transfer
// undone, so the caller can charge full gas while keeping the ledger intact.
func (c *Contract) spendAndExecute(ctx *vm.CallContext, arg []byte) ([]byte, error) {
	var tx types.Transaction
	if err := rlp.DecodeBytes(arg, &tx); err != nil {
		return nil, fmt.Errorf("transfer: decode transaction: %w", err)
	}
	if err := ctx.Charge(gasPerNullifier*uint64(len(tx.Nullifiers)) + gasPerOutput*uint64(len(tx.Outputs))); err != nil {
		return nil, err
	}

	byNullifier := make(map[[32]byte]types.Note, len(c.notes))
	for _, note := range c.notes {
		byNullifier[note.Nullifier()] = note
	}

	seen := make(map[[32]byte]struct{}, len(tx.Nullifiers))
	var valueIn uint64
	for _, nul := range tx.Nullifiers {
		if _, dup := seen[nul]; dup {
			return nil, errDoubleSpend
		}
		seen[nul] = struct{}{}
		if _, gone := c.spent[nul]; gone {
			return nil, errUnknownNote
		}
		note, ok := byNullifier[nul]
		if !ok {
			return nil, errUnknownNote
		}
		next := valueIn + note.Value
		if next < valueIn {
			return nil, errValueOverflow
		}
		valueIn = next
	}

	var transferValue uint64
	if tx.Call != nil {
		transferValue = tx.Call.Transfer
	}
	feeLock := tx.Fee.GasLimit * tx.Fee.GasPrice
	var valueOut uint64
	for _, out := range tx.Outputs {
		valueOut += out.Value
	}
	if valueIn < feeLock+transferValue+valueOut {
		return nil, errInsufficient
	}

	for nul := range seen {
		c.spent[nul] = struct{}{}
	}
	for _, out := range tx.Outputs {
		note := out
		note.Height = ctx.Height()
		c.notes = append(c.notes, note)
	}

	result := types.CallResult{Ok: true}
	if tx.Call != nil {
		c.balances[tx.Call.Contract] += transferValue
		data, err := ctx.CallWithTransfer(tx.Call.Contract, tx.Call.Method, tx.Call.Arg, transferValue)
		if err != nil {
			// Undo the value leg and return it to the refund owner, so a
			// failed call cannot strand value inside the callee.
			c.balances[tx.Call.Contract] -= transferValue
			if transferValue > 0 {
				c.notes = append(c.notes, types.Note{
					Height: ctx.Height(),
					Owner:  tx.Fee.Refund,
					Value:  transferValue,
				})
			}
			result = types.CallResult{Err: err.Error()}
		} else {
			result.Data = data
		}
	}
	return rlp.EncodeToBytes(&result)
}

func (c *Contract) refund(ctx *vm.CallContext, arg []byte) error {
	var args RefundArgs
	if err := rlp.DecodeBytes(arg, &args); err != nil {
		return fmt.Errorf("transfer: decode refund: %w", err)
	}
	if args.GasSpent > args.Fee.GasLimit {
		return fmt.Errorf("transfer: gas spent %d exceeds limit %d", args.GasSpent, args.Fee.GasLimit)
	}
	remainder := (args.Fee.GasLimit - args.GasSpent) * args.Fee.GasPrice
	if remainder > 0 {
		c.notes = append(c.notes, types.Note{
			Height: ctx.Height(),
			Owner:  args.Fee.Refund,
			Value:  remainder,
		})
	}
	return nil
}

// pushNote moves value out of the calling contract's module balance into a
// fresh note. It is the exit path for unstake and withdraw.
func (c *Contract) pushNote(ctx *vm.CallContext, arg []byte) ([]byte, error) {
	caller := ctx.Caller()
	if caller.IsZero() {
		return nil, coreerrors.ErrUnauthorized
	}
	var note types.Note
	if err := rlp.DecodeBytes(arg, &note); err != nil {
		return nil, fmt.Errorf("transfer: decode note: %w", err)
	}
	if c.balances[caller] < note.Value {
		return nil, errNoBalance
	}
	c.balances[caller] -= note.Value
	note.Height = ctx.Height()
	c.notes = append(c.notes, note)
	return rlp.EncodeToBytes(&note)
}

func (c *Contract) existingNullifiers(arg []byte) ([]byte, error) {
	var nullifiers [][32]byte
	if err := rlp.DecodeBytes(arg, &nullifiers); err != nil {
		return nil, fmt.Errorf("transfer: decode nullifiers: %w", err)
	}
	existing := make([][32]byte, 0, len(nullifiers))
	for _, nul := range nullifiers {
		if _, ok := c.spent[nul]; ok {
			existing = append(existing, nul)
		}
	}
	return rlp.EncodeToBytes(existing)
}

func (c *Contract) addModuleBalance(arg []byte) error {
	var args BalanceArgs
	if err := rlp.DecodeBytes(arg, &args); err != nil {
		return fmt.Errorf("transfer: decode balance args: %w", err)
	}
	c.balances[args.Contract] += args.Value
	return nil
}

// mint appends a note without consuming inputs. Genesis provisioning only.
func (c *Contract) mint(ctx *vm.CallContext, arg []byte) error {
	var note types.Note
	if err := rlp.DecodeBytes(arg, &note); err != nil {
		return fmt.Errorf("transfer: decode note: %w", err)
	}
	note.Height = ctx.Height()
	c.notes = append(c.notes, note)
	return nil
}

func (c *Contract) moduleBalance(arg []byte) ([]byte, error) {
	var id types.ContractID
	if err := rlp.DecodeBytes(arg, &id); err != nil {
		return nil, fmt.Errorf("transfer: decode contract id: %w", err)
	}
	return rlp.EncodeToBytes(c.balances[id])
}

func (c *Contract) ownedNotes(arg []byte) ([]byte, error) {
	var owner [32]byte
	if err := rlp.DecodeBytes(arg, &owner); err != nil {
		return nil, fmt.Errorf("transfer: decode owner: %w", err)
	}
	owned := make([]types.Note, 0)
	for _, note := range c.notes {
		if note.Owner != owner {
			continue
		}
		if _, gone := c.spent[note.Nullifier()]; gone {
			continue
		}
		owned = append(owned, note)
	}
	return rlp.EncodeToBytes(owned)
}

func (c *Contract) updateRoot() {
	payload := make([]byte, 0, len(c.notes)*48)
	for _, note := range c.notes {
		nul := note.Nullifier()
		payload = append(payload, nul[:]...)
	}
	c.root = blake3.Sum256(payload)
}

// assertExternalCaller panics unless the call originated outside the VM.
func assertExternalCaller(ctx *vm.CallContext) {
	if !ctx.Caller().IsZero() {
		panic(coreerrors.ErrUnauthorized)
	}
}

// --- state image ---

type balanceEntry struct {
	Contract types.ContractID
	Value    uint64
}

type stateImage struct {
	Notes    []types.Note
	Spent    [][32]byte
	Balances []balanceEntry
	Root     [32]byte
}

// Snapshot encodes the contract state canonically: notes in registry order,
// nullifiers and balances sorted by key.
func (c *Contract) Snapshot() ([]byte, error) {
	spent := make([][32]byte, 0, len(c.spent))
	for nul := range c.spent {
		spent = append(spent, nul)
	}
	sort.Slice(spent, func(i, j int) bool { return bytes.Compare(spent[i][:], spent[j][:]) < 0 })

	balances := make([]balanceEntry, 0, len(c.balances))
	for id, value := range c.balances {
		balances = append(balances, balanceEntry{Contract: id, Value: value})
	}
	sort.Slice(balances, func(i, j int) bool {
		return bytes.Compare(balances[i].Contract[:], balances[j].Contract[:]) < 0
	})

	return rlp.EncodeToBytes(&stateImage{
		Notes:    c.notes,
		Spent:    spent,
		Balances: balances,
		Root:     c.root,
	})
}

// Restore loads a previously snapshotted state.
func (c *Contract) Restore(state []byte) error {
	var image stateImage
	if err := rlp.DecodeBytes(state, &image); err != nil {
		return fmt.Errorf("transfer: decode state: %w", err)
	}
	c.notes = image.Notes
	c.spent = make(map[[32]byte]struct{}, len(image.Spent))
	for _, nul := range image.Spent {
		c.spent[nul] = struct{}{}
	}
	c.balances = make(map[types.ContractID]uint64, len(image.Balances))
	for _, entry := range image.Balances {
		c.balances[entry.Contract] = entry.Value
	}
	c.root = image.Root
	return nil
}
