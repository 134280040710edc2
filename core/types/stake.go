package types

import "encoding/binary"

// StakeData is the ledger record kept per provisioner key.
//
// A record may be empty-but-present: zero amount and reward with a nonzero
// counter. Such records are retained for replay protection and must survive
// serialization round trips unchanged.
type StakeData struct {
	Amount        uint64
	Reward        uint64
	Counter       uint64
	EligibleSince uint64
}

// HasStake reports whether the record holds any staked amount.
func (s *StakeData) HasStake() bool {
	return s.Amount > 0
}

// Copy returns an independent copy of the record.
func (s *StakeData) Copy() *StakeData {
	cloned := *s
	return &cloned
}

// DepositMessage is the signed preimage for a deposit: counter then value,
// both 64-bit little-endian. Binding the current counter to the message is
// what makes each authorization single-use.
func DepositMessage(counter, value uint64) []byte {
	msg := make([]byte, 16)
	binary.LittleEndian.PutUint64(msg[0:8], counter)
	binary.LittleEndian.PutUint64(msg[8:16], value)
	return msg
}

// WithdrawMessage is the signed preimage for a reward withdrawal: counter,
// destination address, then nonce.
func WithdrawMessage(counter uint64, address [32]byte, nonce uint64) []byte {
	msg := make([]byte, 48)
	binary.LittleEndian.PutUint64(msg[0:8], counter)
	copy(msg[8:40], address[:])
	binary.LittleEndian.PutUint64(msg[40:48], nonce)
	return msg
}

// UnstakeMessage is the signed preimage for a full unstake: counter followed
// by the destination note bytes.
func UnstakeMessage(counter uint64, note []byte) []byte {
	msg := make([]byte, 8, 8+len(note))
	binary.LittleEndian.PutUint64(msg[0:8], counter)
	return append(msg, note...)
}
