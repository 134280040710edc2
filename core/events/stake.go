package events

import (
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/omahs/rusk/crypto"
)

const (
	// TopicStake is emitted when a deposit lands on the ledger.
	TopicStake = "stake"
	// TopicUnstake is emitted when a full principal withdrawal completes.
	TopicUnstake = "unstake"
	// TopicWithdraw is emitted when accumulated reward is withdrawn.
	TopicWithdraw = "withdraw"
	// TopicReward is emitted on coinbase reward credit.
	TopicReward = "reward"
	// TopicSlash is emitted on soft confiscation.
	TopicSlash = "slash"
	// TopicHardSlash is emitted on hard confiscation.
	TopicHardSlash = "hard_slash"
)

// StakePayload is the payload shared by every stake event: the provisioner
// key and the value the operation moved.
type StakePayload struct {
	PublicKey crypto.PublicKey
	Value     uint64
}

// EncodeStakePayload produces the canonical payload bytes for a stake event.
func EncodeStakePayload(pk crypto.PublicKey, value uint64) []byte {
	data, err := rlp.EncodeToBytes(&StakePayload{PublicKey: pk, Value: value})
	if err != nil {
		panic(err)
	}
	return data
}

// DecodeStakePayload parses a stake event payload.
func DecodeStakePayload(data []byte) (*StakePayload, error) {
	payload := new(StakePayload)
	if err := rlp.DecodeBytes(data, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
