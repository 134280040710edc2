package errors

import stderrors "errors"

var (
	// ErrUnauthorized is returned when a contract entry point is invoked by a
	// caller that its gate does not admit.
	ErrUnauthorized = stderrors.New("stake: unauthorized caller")
	// ErrReplay is returned when a signed request carries a counter that does
	// not match the record's current counter.
	ErrReplay = stderrors.New("stake: counter mismatch")
	// ErrInvalidSignature is returned when a signed stake message fails
	// verification against the provisioner key.
	ErrInvalidSignature = stderrors.New("stake: invalid signature")
	// ErrNoReward is returned by withdraw when the accumulated reward is zero.
	ErrNoReward = stderrors.New("stake: nothing to withdraw")
	// ErrNoStake is returned by unstake when the staked amount is zero.
	ErrNoStake = stderrors.New("stake: nothing to unstake")
	// ErrInsufficientStake rejects deposits below the minimum stake floor.
	ErrInsufficientStake = stderrors.New("stake: deposit below minimum")

	// ErrOutOfGas is returned when a block's cumulative gas exceeds its limit
	// during verification or acceptance.
	ErrOutOfGas = stderrors.New("chain: block out of gas")
	// ErrInconsistentState is returned when the produced verification output
	// does not match the one claimed by the block.
	ErrInconsistentState = stderrors.New("chain: inconsistent verification output")
	// ErrCommitNotFound is returned when a revert targets an unknown commit.
	ErrCommitNotFound = stderrors.New("chain: commit not found")
	// ErrUnspendable marks a transaction whose spend failed; such transactions
	// are discarded from the block rather than spent.
	ErrUnspendable = stderrors.New("chain: unspendable transaction")
	// ErrBaseCommit is returned on startup when the persisted base commit
	// anchor is missing or malformed.
	ErrBaseCommit = stderrors.New("chain: invalid base commit file")
)
