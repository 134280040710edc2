package vm

import (
	"fmt"
	"math"

	"lukechampine.com/blake3"

	"github.com/omahs/rusk/core/types"
)

// Per-call gas schedule. The costs are flat and deterministic: gas here is
// an accounting device, not a performance model.
const (
	gasCallBase   uint64 = 5_000
	gasPerArgByte uint64 = 10
)

type instance struct {
	contract Contract
	owner    [32]byte
	version  uint32
}

// Session is a transaction boundary over the VM's state: a writable set of
// contract instances loaded at a commit, mutated by calls, and either
// committed or dropped. Sessions are single-threaded.
type Session struct {
	vm        *VM
	height    uint64
	instances map[types.ContractID]*instance
}

func newSession(vm *VM, height uint64) *Session {
	return &Session{
		vm:        vm,
		height:    height,
		instances: make(map[types.ContractID]*instance),
	}
}

// Height returns the block height the session executes at.
func (s *Session) Height() uint64 {
	return s.height
}

// CallReceipt is the outcome of a top-level call: the gas it consumed and
// every event emitted by the call tree, in emission order.
type CallReceipt struct {
	GasSpent uint64
	GasLimit uint64
	Data     []byte
	Events   []types.Event
}

type gasMeter struct {
	limit uint64
	spent uint64
}

func (m *gasMeter) charge(n uint64) error {
	if m.spent+n > m.limit || m.spent+n < m.spent {
		m.spent = m.limit
		return ErrGasExhausted
	}
	m.spent += n
	return nil
}

// CallContext is the view a contract gets of the session during an
// invocation: its caller, the value transferred to it, gas, event emission,
// nested calls, and the feeder sink when present.
type CallContext struct {
	session     *Session
	caller      types.ContractID
	self        types.ContractID
	meter       *gasMeter
	events      *[]types.Event
	sink        chan<- []byte
	transferred uint64
}

// Caller returns the id of the calling contract. The zero id means the call
// originated outside the VM.
func (ctx *CallContext) Caller() types.ContractID {
	return ctx.caller
}

// Self returns the id of the contract being invoked.
func (ctx *CallContext) Self() types.ContractID {
	return ctx.self
}

// Height returns the session's block height.
func (ctx *CallContext) Height() uint64 {
	return ctx.session.height
}

// TransferredValue returns the value moved to this contract for this call.
func (ctx *CallContext) TransferredValue() uint64 {
	return ctx.transferred
}

// Charge deducts gas from the call's meter.
func (ctx *CallContext) Charge(n uint64) error {
	return ctx.meter.charge(n)
}

// Emit appends an event sourced at the running contract.
func (ctx *CallContext) Emit(topic string, data []byte) {
	*ctx.events = append(*ctx.events, types.Event{Source: ctx.self, Topic: topic, Data: data})
}

// Feed streams an item into the feeder sink. It blocks when the consumer is
// slow and is a no-op outside feeder calls.
func (ctx *CallContext) Feed(item []byte) {
	if ctx.sink != nil {
		ctx.sink <- item
	}
}

// Call performs a nested contract call, drawing on the parent's gas meter.
func (ctx *CallContext) Call(target types.ContractID, method string, arg []byte) ([]byte, error) {
	return ctx.CallWithTransfer(target, method, arg, 0)
}

// CallWithTransfer performs a nested call carrying a value transfer, which
// the callee observes through TransferredValue.
func (ctx *CallContext) CallWithTransfer(target types.ContractID, method string, arg []byte, value uint64) ([]byte, error) {
	return ctx.session.invoke(ctx.self, target, method, arg, ctx.meter, ctx.events, ctx.sink, value)
}

// Call invokes a contract method from outside the VM with the given gas
// limit. The receipt carries the gas spent and the events produced by the
// whole call tree; the returned error covers both host failures and errors
// surfaced by the contract.
func (s *Session) Call(id types.ContractID, method string, arg []byte, gasLimit uint64) (*CallReceipt, error) {
	meter := &gasMeter{limit: gasLimit}
	var events []types.Event
	data, err := s.invoke(types.ContractID{}, id, method, arg, meter, &events, nil, 0)
	receipt := &CallReceipt{
		GasSpent: meter.spent,
		GasLimit: gasLimit,
		Data:     data,
		Events:   events,
	}
	if err != nil {
		return receipt, err
	}
	return receipt, nil
}

// FeederCall invokes a contract method with an effectively unlimited gas
// budget, streaming items produced via Feed into the sink. The sink is
// closed when the call returns.
func (s *Session) FeederCall(id types.ContractID, method string, arg []byte, sink chan<- []byte) error {
	defer close(sink)
	meter := &gasMeter{limit: math.MaxUint64}
	var events []types.Event
	_, err := s.invoke(types.ContractID{}, id, method, arg, meter, &events, sink, 0)
	return err
}

func (s *Session) invoke(
	caller, target types.ContractID,
	method string,
	arg []byte,
	meter *gasMeter,
	events *[]types.Event,
	sink chan<- []byte,
	value uint64,
) (data []byte, err error) {
	inst, ok := s.instances[target]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrContractNotFound, target)
	}
	if err := meter.charge(gasCallBase + gasPerArgByte*uint64(len(arg))); err != nil {
		return nil, err
	}
	ctx := &CallContext{
		session:     s,
		caller:      caller,
		self:        target,
		meter:       meter,
		events:      events,
		sink:        sink,
		transferred: value,
	}
	defer func() {
		// Contracts abort by panicking on gate violations; surface the
		// panic as a contract error terminating the call.
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = e
				return
			}
			err = fmt.Errorf("vm: contract %s: %v", target, r)
		}
	}()
	return inst.contract.Invoke(ctx, method, arg)
}

// ContractOwner returns the owner recorded for a deployed contract.
func (s *Session) ContractOwner(id types.ContractID) ([32]byte, error) {
	inst, ok := s.instances[id]
	if !ok {
		return [32]byte{}, fmt.Errorf("%w: %s", ErrContractNotFound, id)
	}
	return inst.owner, nil
}

// ContractVersion returns the image version a deployed contract runs.
func (s *Session) ContractVersion(id types.ContractID) (uint32, error) {
	inst, ok := s.instances[id]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrContractNotFound, id)
	}
	return inst.version, nil
}

// Migrate swaps the contract at id for a fresh instance of the new image.
// The callback runs with both images live: the old one still bound at id,
// the new one at a scratch id, so state can be streamed across. When the
// callback returns without error the new instance replaces the old at id,
// keeping the supplied owner.
func (s *Session) Migrate(
	id types.ContractID,
	img Image,
	owner [32]byte,
	fn func(newID types.ContractID, s *Session) error,
) error {
	if _, ok := s.instances[id]; !ok {
		return fmt.Errorf("%w: %s", ErrContractNotFound, id)
	}
	scratch := scratchID(id, img.Version)
	s.instances[scratch] = &instance{contract: img.New(), owner: owner, version: img.Version}
	if err := fn(scratch, s); err != nil {
		delete(s.instances, scratch)
		return fmt.Errorf("vm: migrate %s: %w", id, err)
	}
	s.instances[id] = s.instances[scratch]
	delete(s.instances, scratch)
	s.vm.RegisterImage(id, img)
	return nil
}

func scratchID(id types.ContractID, version uint32) types.ContractID {
	buf := make([]byte, 0, 36)
	buf = append(buf, id[:]...)
	buf = append(buf, byte(version), byte(version>>8), byte(version>>16), byte(version>>24))
	return blake3.Sum256(buf)
}

// Root computes the session's state root: the content id its state would
// commit under, without storing anything.
func (s *Session) Root() ([32]byte, error) {
	payload, err := encodeSnapshot(s.instances)
	if err != nil {
		return [32]byte{}, err
	}
	return blake3.Sum256(payload), nil
}

// Commit persists the session's state and returns the commit id.
func (s *Session) Commit() ([32]byte, error) {
	payload, err := encodeSnapshot(s.instances)
	if err != nil {
		return [32]byte{}, err
	}
	return s.vm.commits.Put(payload)
}
