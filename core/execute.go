package core

import (
	stderrors "errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/omahs/rusk/core/emission"
	coreerrors "github.com/omahs/rusk/core/errors"
	"github.com/omahs/rusk/core/events"
	"github.com/omahs/rusk/core/types"
	"github.com/omahs/rusk/crypto"
	"github.com/omahs/rusk/native/stake"
	"github.com/omahs/rusk/native/transfer"
	"github.com/omahs/rusk/vm"
)

type executedTx struct {
	GasSpent uint64
	Events   []types.Event
	CallErr  string
}

// executeTx runs one transaction through the transfer contract.
//
// The spend itself failing makes the transaction unspendable. A spendable
// transaction whose attached contract call failed is charged its full gas
// limit. The refund call is issued either way and may not fail.
func executeTx(session *vm.Session, tx *types.Transaction) (*executedTx, error) {
	encoded, err := rlp.EncodeToBytes(tx)
	if err != nil {
		return nil, fmt.Errorf("encode transaction: %w", err)
	}
	receipt, err := session.Call(vm.TransferContract, "spend_and_execute", encoded, tx.Fee.GasLimit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", coreerrors.ErrUnspendable, err)
	}
	var result types.CallResult
	if err := rlp.DecodeBytes(receipt.Data, &result); err != nil {
		return nil, fmt.Errorf("decode spend result: %w", err)
	}

	gasSpent := receipt.GasSpent
	callErr := ""
	if !result.Ok {
		// The caller pays full gas for a failed contract call.
		gasSpent = receipt.GasLimit
		callErr = result.Err
		if callErr == "" {
			callErr = "contract call failed"
		}
	}

	refundArg, err := rlp.EncodeToBytes(&transfer.RefundArgs{Fee: tx.Fee, GasSpent: gasSpent})
	if err != nil {
		return nil, fmt.Errorf("encode refund: %w", err)
	}
	refundReceipt, err := session.Call(vm.TransferContract, "refund", refundArg, math.MaxUint64)
	if err != nil {
		return nil, fmt.Errorf("refunding must succeed: %w", err)
	}

	return &executedTx{
		GasSpent: gasSpent,
		Events:   append(receipt.Events, refundReceipt.Events...),
		CallErr:  callErr,
	}, nil
}

// ExecuteTransactions builds a block's state transition out of candidate
// transactions. Unspendable transactions are discarded. A transaction whose
// gas would overflow the remaining block gas is neither spent nor
// discarded: the session rewinds to the block's initial commit, the
// already-spent prefix is re-applied, and the transaction is left for a
// later block.
func (c *Chain) ExecuteTransactions(
	blockHeight, blockGasLimit uint64,
	generator crypto.PublicKey,
	txs []types.Transaction,
	missedGenerators []crypto.PublicKey,
) ([]types.SpentTransaction, []types.Transaction, types.VerificationOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	c.log.Debug("executing state transition", "height", blockHeight, "txs", len(txs))

	currentCommit := c.currentCommit
	session, err := c.vm.Session(currentCommit, blockHeight)
	if err != nil {
		return nil, nil, types.VerificationOutput{}, err
	}

	blockGasLeft := blockGasLimit
	var (
		spentTxs     []types.SpentTransaction
		discardedTxs []types.Transaction
		feesSpent    uint64
	)
	hasher := events.NewHasher()

	for i := range txs {
		tx := txs[i]
		executed, err := executeTx(session, &tx)
		if err != nil {
			if !stderrors.Is(err, coreerrors.ErrUnspendable) {
				return nil, nil, types.VerificationOutput{}, err
			}
			// An unspendable transaction is discarded from the block.
			discardedTxs = append(discardedTxs, tx)
			continue
		}

		// If the transaction went over the remaining block gas, rewind and
		// re-apply the spent prefix; the transaction itself stays valid for
		// a later block.
		if executed.GasSpent > blockGasLeft {
			session, err = c.vm.Session(currentCommit, blockHeight)
			if err != nil {
				return nil, nil, types.VerificationOutput{}, err
			}
			for j := range spentTxs {
				// These executed correctly before; outcomes are known.
				if _, err := executeTx(session, &spentTxs[j].Tx); err != nil {
					return nil, nil, types.VerificationOutput{}, fmt.Errorf("re-execute spent transaction: %w", err)
				}
			}
			continue
		}

		for _, ev := range executed.Events {
			hasher.Update(ev)
		}
		blockGasLeft -= executed.GasSpent
		feesSpent += executed.GasSpent * tx.Fee.GasPrice

		spentTxs = append(spentTxs, types.SpentTransaction{
			Tx:          tx,
			GasSpent:    executed.GasSpent,
			BlockHeight: blockHeight,
			Err:         executed.CallErr,
		})
	}

	if err := rewardSlashAndUpdateRoot(session, blockHeight, feesSpent, generator, missedGenerators); err != nil {
		return nil, nil, types.VerificationOutput{}, err
	}

	root, err := session.Root()
	if err != nil {
		return nil, nil, types.VerificationOutput{}, err
	}

	if c.metrics != nil {
		c.metrics.BlockExecutionSeconds.Observe(time.Since(start).Seconds())
		c.metrics.TxsSpent.Add(float64(len(spentTxs)))
		c.metrics.TxsDiscarded.Add(float64(len(discardedTxs)))
	}

	return spentTxs, discardedTxs, types.VerificationOutput{
		StateRoot: root,
		EventHash: hasher.Sum(),
	}, nil
}

// acceptSession runs the strict transition used by verify, accept and
// finalize: every transaction must spend, and cumulative gas may not exceed
// the block limit.
func (c *Chain) acceptSession(
	session *vm.Session,
	blockHeight, blockGasLimit uint64,
	generator crypto.PublicKey,
	txs []types.Transaction,
	missedGenerators []crypto.PublicKey,
) ([]types.SpentTransaction, types.VerificationOutput, error) {
	blockGasLeft := blockGasLimit
	spentTxs := make([]types.SpentTransaction, 0, len(txs))
	var feesSpent uint64
	hasher := events.NewHasher()

	for i := range txs {
		tx := txs[i]
		executed, err := executeTx(session, &tx)
		if err != nil {
			return nil, types.VerificationOutput{}, err
		}
		for _, ev := range executed.Events {
			hasher.Update(ev)
		}
		if executed.GasSpent > blockGasLeft {
			return nil, types.VerificationOutput{}, coreerrors.ErrOutOfGas
		}
		blockGasLeft -= executed.GasSpent
		feesSpent += executed.GasSpent * tx.Fee.GasPrice

		spentTxs = append(spentTxs, types.SpentTransaction{
			Tx:          tx,
			GasSpent:    executed.GasSpent,
			BlockHeight: blockHeight,
			Err:         executed.CallErr,
		})
	}

	if err := rewardSlashAndUpdateRoot(session, blockHeight, feesSpent, generator, missedGenerators); err != nil {
		return nil, types.VerificationOutput{}, err
	}

	root, err := session.Root()
	if err != nil {
		return nil, types.VerificationOutput{}, err
	}
	return spentTxs, types.VerificationOutput{StateRoot: root, EventHash: hasher.Sum()}, nil
}

// VerifyTransactions checks the given transactions against the current
// commit without mutating the chain.
func (c *Chain) VerifyTransactions(
	blockHeight, blockGasLimit uint64,
	generator crypto.PublicKey,
	txs []types.Transaction,
	missedGenerators []crypto.PublicKey,
) ([]types.SpentTransaction, types.VerificationOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	session, err := c.vm.Session(c.currentCommit, blockHeight)
	if err != nil {
		return nil, types.VerificationOutput{}, err
	}
	spent, output, err := c.acceptSession(session, blockHeight, blockGasLimit, generator, txs, missedGenerators)
	if err == nil {
		c.observeValidation(start)
	}
	return spent, output, err
}

// AcceptTransactions runs the strict transition and commits the session.
// When a consistency check is supplied, a mismatching verification output
// aborts the acceptance without committing.
func (c *Chain) AcceptTransactions(
	blockHeight, blockGasLimit uint64,
	generator crypto.PublicKey,
	txs []types.Transaction,
	consistencyCheck *types.VerificationOutput,
	missedGenerators []crypto.PublicKey,
) ([]types.SpentTransaction, types.VerificationOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	session, err := c.vm.Session(c.currentCommit, blockHeight)
	if err != nil {
		return nil, types.VerificationOutput{}, err
	}
	spent, output, err := c.acceptSession(session, blockHeight, blockGasLimit, generator, txs, missedGenerators)
	if err != nil {
		return nil, types.VerificationOutput{}, err
	}
	if consistencyCheck != nil && !consistencyCheck.Equal(output) {
		// Drop the session: the produced state disagrees with the block.
		return nil, output, fmt.Errorf("%w: state root %x, event hash %x",
			coreerrors.ErrInconsistentState, output.StateRoot, output.EventHash)
	}

	commitID, err := session.Commit()
	if err != nil {
		return nil, types.VerificationOutput{}, err
	}
	c.currentCommit = commitID
	c.observeValidation(start)
	if c.metrics != nil {
		c.metrics.SessionsCommitted.Inc()
	}
	c.log.Info("block accepted", "height", blockHeight, "commit", fmt.Sprintf("%x", commitID))

	return spent, output, nil
}

// FinalizeTransactions accepts the block and makes its commit the new
// finalized base: every stored commit other than the new base, the previous
// base and the previous current commit is deleted, and the new base id is
// written to the state id file.
func (c *Chain) FinalizeTransactions(
	blockHeight, blockGasLimit uint64,
	generator crypto.PublicKey,
	txs []types.Transaction,
	consistencyCheck *types.VerificationOutput,
	missedGenerators []crypto.PublicKey,
) ([]types.SpentTransaction, types.VerificationOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	session, err := c.vm.Session(c.currentCommit, blockHeight)
	if err != nil {
		return nil, types.VerificationOutput{}, err
	}
	previousCurrent := c.currentCommit

	spent, output, err := c.acceptSession(session, blockHeight, blockGasLimit, generator, txs, missedGenerators)
	if err != nil {
		return nil, types.VerificationOutput{}, err
	}
	if consistencyCheck != nil && !consistencyCheck.Equal(output) {
		return nil, output, fmt.Errorf("%w: state root %x, event hash %x",
			coreerrors.ErrInconsistentState, output.StateRoot, output.EventHash)
	}

	commitID, err := session.Commit()
	if err != nil {
		return nil, types.VerificationOutput{}, err
	}
	c.currentCommit = commitID

	commits, err := c.vm.Commits()
	if err != nil {
		return nil, types.VerificationOutput{}, err
	}
	for _, commit := range commits {
		if commit == c.currentCommit || commit == c.baseCommit || commit == previousCurrent {
			continue
		}
		if err := c.vm.DeleteCommit(commit); err != nil {
			return nil, types.VerificationOutput{}, err
		}
	}

	if err := os.WriteFile(stateIDPath(c.dir), commitID[:], 0o644); err != nil {
		return nil, types.VerificationOutput{}, fmt.Errorf("write state id: %w", err)
	}
	c.baseCommit = commitID
	if c.metrics != nil {
		c.metrics.SessionsCommitted.Inc()
	}
	c.log.Info("block finalized", "height", blockHeight, "commit", fmt.Sprintf("%x", commitID))

	return spent, output, nil
}

func (c *Chain) observeValidation(start time.Time) {
	if c.metrics == nil {
		return
	}
	millis := time.Since(start).Milliseconds()
	if millis > math.MaxUint16 {
		millis = math.MaxUint16
	}
	c.metrics.ObserveValidation(uint16(millis))
}

// rewardSlashAndUpdateRoot issues the built-in coinbase calls: the protocol
// key's fixed share, the generator's residual, one slash per missed
// generator, then the transfer contract's root update. All run with
// unbounded gas.
func rewardSlashAndUpdateRoot(
	session *vm.Session,
	blockHeight, feesSpent uint64,
	generator crypto.PublicKey,
	missedGenerators []crypto.PublicKey,
) error {
	protocolValue, generatorValue := emission.CoinbaseValue(blockHeight, feesSpent)

	if err := callStake(session, "reward", DuskKey(), protocolValue); err != nil {
		return err
	}
	if err := callStake(session, "reward", generator, generatorValue); err != nil {
		return err
	}

	// The minted coinbase backs the credited rewards, so later withdrawals
	// can be paid out of the stake contract's balance.
	balanceArg, err := rlp.EncodeToBytes(&transfer.BalanceArgs{
		Contract: vm.StakeContract,
		Value:    protocolValue + generatorValue,
	})
	if err != nil {
		return err
	}
	if _, err := session.Call(vm.TransferContract, "add_module_balance", balanceArg, math.MaxUint64); err != nil {
		return fmt.Errorf("back coinbase: %w", err)
	}

	slashAmount := emission.Amount(blockHeight)
	for _, missed := range missedGenerators {
		if err := callStake(session, "slash", missed, slashAmount); err != nil {
			return err
		}
	}

	if _, err := session.Call(vm.TransferContract, "update_root", nil, math.MaxUint64); err != nil {
		return fmt.Errorf("update root: %w", err)
	}
	return nil
}

func callStake(session *vm.Session, method string, pk crypto.PublicKey, value uint64) error {
	arg, err := rlp.EncodeToBytes(&stake.ValueArgs{PublicKey: pk, Value: value})
	if err != nil {
		return err
	}
	if _, err := session.Call(vm.StakeContract, method, arg, math.MaxUint64); err != nil {
		return fmt.Errorf("stake %s: %w", method, err)
	}
	return nil
}

// VerifyBlock runs the strict transition for the block and returns the
// produced verification output.
func (c *Chain) VerifyBlock(blk *types.Block) (types.VerificationOutput, error) {
	_, output, err := c.VerifyTransactions(
		blk.Header.Height, blk.Header.GasLimit, blk.Header.Generator,
		blk.Txs, blk.MissedGenerators,
	)
	return output, err
}

// AcceptBlock accepts the block, checking the produced output against the
// header's claimed state root and event hash.
func (c *Chain) AcceptBlock(blk *types.Block) ([]types.SpentTransaction, types.VerificationOutput, error) {
	claimed := blk.ClaimedOutput()
	return c.AcceptTransactions(
		blk.Header.Height, blk.Header.GasLimit, blk.Header.Generator,
		blk.Txs, &claimed, blk.MissedGenerators,
	)
}

// FinalizeBlock finalizes the block and then gives the migration
// orchestrator its chance to run at this height.
func (c *Chain) FinalizeBlock(blk *types.Block) ([]types.SpentTransaction, types.VerificationOutput, error) {
	claimed := blk.ClaimedOutput()
	spent, output, err := c.FinalizeTransactions(
		blk.Header.Height, blk.Header.GasLimit, blk.Header.Generator,
		blk.Txs, &claimed, blk.MissedGenerators,
	)
	if err != nil {
		return nil, types.VerificationOutput{}, err
	}
	if err := c.Migrate(blk.Header.Height); err != nil {
		return nil, types.VerificationOutput{}, fmt.Errorf("migrate stake contract: %w", err)
	}
	return spent, output, nil
}
