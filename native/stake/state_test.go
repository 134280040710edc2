package stake

import (
	"bytes"
	stderrors "errors"
	"math/rand"
	"testing"

	coreerrors "github.com/omahs/rusk/core/errors"
	"github.com/omahs/rusk/core/types"
	"github.com/omahs/rusk/crypto"
)

func newTestKey(t *testing.T) (crypto.PublicKey, *crypto.SecretKey) {
	t.Helper()
	pk, sk, err := crypto.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return pk, sk
}

func deposit(t *testing.T, state *State, pk crypto.PublicKey, sk *crypto.SecretKey, value, eligibleSince, counter uint64) {
	t.Helper()
	sig := sk.Sign(types.DepositMessage(counter, value))
	if _, err := state.Deposit(pk, value, eligibleSince, counter, sig); err != nil {
		t.Fatalf("deposit: %v", err)
	}
}

func TestDepositCreatesRecord(t *testing.T) {
	state := NewState()
	pk, sk := newTestKey(t)

	deposit(t, state, pk, sk, types.Coins(500_000), 0, 0)

	record, ok := state.Get(pk)
	if !ok {
		t.Fatalf("record missing after deposit")
	}
	if record.Amount != types.Coins(500_000) || record.Reward != 0 || record.Counter != 1 {
		t.Fatalf("unexpected record: %+v", record)
	}
}

func TestDepositBelowMinimumRejected(t *testing.T) {
	state := NewState()
	pk, sk := newTestKey(t)

	value := MinimumStake - 1
	sig := sk.Sign(types.DepositMessage(0, value))
	if _, err := state.Deposit(pk, value, 0, 0, sig); !stderrors.Is(err, coreerrors.ErrInsufficientStake) {
		t.Fatalf("expected ErrInsufficientStake, got %v", err)
	}
	if state.Len() != 0 {
		t.Fatalf("rejected deposit must not create a record")
	}
}

func TestDepositReplayRejected(t *testing.T) {
	state := NewState()
	pk, sk := newTestKey(t)

	value := types.Coins(2_000)
	sig := sk.Sign(types.DepositMessage(0, value))
	if _, err := state.Deposit(pk, value, 0, 0, sig); err != nil {
		t.Fatalf("first deposit: %v", err)
	}

	// Replaying the identical signed message must fail without state change.
	if _, err := state.Deposit(pk, value, 0, 0, sig); !stderrors.Is(err, coreerrors.ErrReplay) {
		t.Fatalf("expected ErrReplay, got %v", err)
	}
	record, _ := state.Get(pk)
	if record.Amount != value || record.Counter != 1 {
		t.Fatalf("replay mutated the record: %+v", record)
	}
}

func TestDepositBadSignatureRejected(t *testing.T) {
	state := NewState()
	pk, _ := newTestKey(t)
	_, otherSK := newTestKey(t)

	value := types.Coins(2_000)
	sig := otherSK.Sign(types.DepositMessage(0, value))
	if _, err := state.Deposit(pk, value, 0, 0, sig); !stderrors.Is(err, coreerrors.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestEligibilityNeverDecreases(t *testing.T) {
	state := NewState()
	pk, sk := newTestKey(t)

	deposit(t, state, pk, sk, types.Coins(2_000), 10, 0)
	deposit(t, state, pk, sk, types.Coins(2_000), 5, 1)

	record, _ := state.Get(pk)
	if record.EligibleSince != 10 {
		t.Fatalf("eligibility decreased to %d", record.EligibleSince)
	}

	deposit(t, state, pk, sk, types.Coins(2_000), 20, 2)
	record, _ = state.Get(pk)
	if record.EligibleSince != 20 {
		t.Fatalf("eligibility not advanced, got %d", record.EligibleSince)
	}
}

func TestWithdrawLifecycle(t *testing.T) {
	state := NewState()
	pk, sk := newTestKey(t)
	var dest [32]byte
	copy(dest[:], pk[:])

	deposit(t, state, pk, sk, types.Coins(500_000), 0, 0)

	// Nothing accrued yet.
	sig := sk.Sign(types.WithdrawMessage(1, dest, 1))
	if _, err := state.PrepareWithdraw(pk, 1, sig, dest, 1); !stderrors.Is(err, coreerrors.ErrNoReward) {
		t.Fatalf("expected ErrNoReward, got %v", err)
	}

	state.Reward(pk, types.Coins(5))
	record, _ := state.Get(pk)
	if record.Reward != types.Coins(5) || record.Counter != 1 {
		t.Fatalf("reward must not touch the counter: %+v", record)
	}

	value, err := state.PrepareWithdraw(pk, 1, sig, dest, 1)
	if err != nil {
		t.Fatalf("prepare withdraw: %v", err)
	}
	if value != types.Coins(5) {
		t.Fatalf("unexpected withdraw value %d", value)
	}
	state.CommitWithdraw(pk)

	record, _ = state.Get(pk)
	if record.Reward != 0 || record.Counter != 2 {
		t.Fatalf("unexpected record after withdraw: %+v", record)
	}
}

func TestUnstakeLifecycle(t *testing.T) {
	state := NewState()
	pk, sk := newTestKey(t)
	var note [32]byte
	copy(note[:], pk[:])

	deposit(t, state, pk, sk, types.Coins(500_000), 0, 0)

	sig := sk.Sign(types.UnstakeMessage(1, note[:]))
	value, err := state.PrepareUnstake(pk, 1, sig, note)
	if err != nil {
		t.Fatalf("prepare unstake: %v", err)
	}
	if value != types.Coins(500_000) {
		t.Fatalf("unexpected unstake value %d", value)
	}
	state.CommitUnstake(pk)

	record, _ := state.Get(pk)
	if record.Amount != 0 || record.Counter != 2 {
		t.Fatalf("unexpected record after unstake: %+v", record)
	}

	// The record stays for replay protection; a second unstake finds nothing.
	sig = sk.Sign(types.UnstakeMessage(2, note[:]))
	if _, err := state.PrepareUnstake(pk, 2, sig, note); !stderrors.Is(err, coreerrors.ErrNoStake) {
		t.Fatalf("expected ErrNoStake, got %v", err)
	}
}

func TestSlashTakesRewardFirst(t *testing.T) {
	state := NewState()
	pk, sk := newTestKey(t)

	deposit(t, state, pk, sk, types.Coins(1_000), 0, 0)
	state.Reward(pk, types.Coins(10))

	confiscated, err := state.Slash(pk, types.Coins(15))
	if err != nil {
		t.Fatalf("slash: %v", err)
	}
	if confiscated != types.Coins(15) {
		t.Fatalf("confiscated %d, want %d", confiscated, types.Coins(15))
	}
	record, _ := state.Get(pk)
	if record.Reward != 0 {
		t.Fatalf("reward not drained first: %+v", record)
	}
	if record.Amount != types.Coins(995) {
		t.Fatalf("surplus not taken from amount: %+v", record)
	}
	if state.SlashedAmount() != types.Coins(15) {
		t.Fatalf("slashed pool %d", state.SlashedAmount())
	}
}

func TestHardSlashTakesAmountFirst(t *testing.T) {
	state := NewState()
	pk, sk := newTestKey(t)

	// A stake slashed below the minimum floor stays on-ledger.
	deposit(t, state, pk, sk, types.Coins(1_200), 0, 0)
	confiscated, err := state.HardSlash(pk, types.Coins(300))
	if err != nil {
		t.Fatalf("hard slash: %v", err)
	}
	if confiscated != types.Coins(300) {
		t.Fatalf("confiscated %d", confiscated)
	}
	record, ok := state.Get(pk)
	if !ok {
		t.Fatalf("record dropped by hard slash")
	}
	if record.Amount != types.Coins(900) {
		t.Fatalf("amount %d, want %d", record.Amount, types.Coins(900))
	}
	if record.Amount >= MinimumStake {
		t.Fatalf("test expects a post-slash stake below the floor")
	}
}

func TestSlashClampsAtAvailableValue(t *testing.T) {
	state := NewState()
	pk, sk := newTestKey(t)

	deposit(t, state, pk, sk, types.Coins(1_000), 0, 0)
	state.Reward(pk, types.Coins(3))

	confiscated, err := state.HardSlash(pk, types.Coins(10_000))
	if err != nil {
		t.Fatalf("hard slash: %v", err)
	}
	if confiscated != types.Coins(1_003) {
		t.Fatalf("confiscated %d, want everything available", confiscated)
	}
	record, _ := state.Get(pk)
	if record.Amount != 0 || record.Reward != 0 {
		t.Fatalf("record not fully drained: %+v", record)
	}
}

func TestRewardCreatesEmptyRecord(t *testing.T) {
	state := NewState()
	pk, _ := newTestKey(t)

	state.Reward(pk, types.Coins(7))
	record, ok := state.Get(pk)
	if !ok {
		t.Fatalf("reward must create a record for unknown keys")
	}
	if record.Amount != 0 || record.Reward != types.Coins(7) || record.Counter != 0 {
		t.Fatalf("unexpected record: %+v", record)
	}
}

// TestValueConservation drives a random operation sequence and checks that
// sum(amount+reward)+slashed equals the initial value plus inflows minus
// outflows.
func TestValueConservation(t *testing.T) {
	rng := rand.New(rand.NewSource(0xfeeb))
	state := NewState()

	type holder struct {
		pk crypto.PublicKey
		sk *crypto.SecretKey
	}
	holders := make([]holder, 4)
	for i := range holders {
		pk, sk := newTestKey(t)
		holders[i] = holder{pk, sk}
	}

	var inflows, outflows uint64
	for i := 0; i < 500; i++ {
		h := holders[rng.Intn(len(holders))]
		record, _ := state.Get(h.pk)
		counter := uint64(0)
		if record != nil {
			counter = record.Counter
		}
		switch rng.Intn(5) {
		case 0:
			value := types.Coins(uint64(1_000 + rng.Intn(9_000)))
			sig := h.sk.Sign(types.DepositMessage(counter, value))
			if _, err := state.Deposit(h.pk, value, 0, counter, sig); err != nil {
				t.Fatalf("deposit: %v", err)
			}
			inflows += value
		case 1:
			value := types.Coins(uint64(rng.Intn(50)))
			state.Reward(h.pk, value)
			inflows += value
		case 2:
			if record == nil {
				continue
			}
			if _, err := state.Slash(h.pk, types.Coins(uint64(rng.Intn(100)))); err != nil {
				t.Fatalf("slash: %v", err)
			}
		case 3:
			if record == nil || record.Reward == 0 {
				continue
			}
			var dest [32]byte
			sig := h.sk.Sign(types.WithdrawMessage(counter, dest, 0))
			value, err := state.PrepareWithdraw(h.pk, counter, sig, dest, 0)
			if err != nil {
				t.Fatalf("withdraw: %v", err)
			}
			state.CommitWithdraw(h.pk)
			outflows += value
		case 4:
			if record == nil || record.Amount == 0 {
				continue
			}
			var note [32]byte
			sig := h.sk.Sign(types.UnstakeMessage(counter, note[:]))
			value, err := state.PrepareUnstake(h.pk, counter, sig, note)
			if err != nil {
				t.Fatalf("unstake: %v", err)
			}
			state.CommitUnstake(h.pk)
			outflows += value
		}
	}

	var ledgerTotal uint64
	for _, pk := range state.SortedKeys() {
		record, _ := state.Get(pk)
		ledgerTotal += record.Amount + record.Reward
	}
	if ledgerTotal+state.SlashedAmount() != inflows-outflows {
		t.Fatalf("conservation violated: ledger %d + slashed %d != in %d - out %d",
			ledgerTotal, state.SlashedAmount(), inflows, outflows)
	}
}

func TestSortedKeysCanonicalOrder(t *testing.T) {
	state := NewState()
	for i := 0; i < 8; i++ {
		pk, _ := newTestKey(t)
		state.Insert(pk, types.StakeData{Amount: types.Coins(1_000)})
	}
	keys := state.SortedKeys()
	for i := 1; i < len(keys); i++ {
		if bytes.Compare(keys[i-1][:], keys[i][:]) >= 0 {
			t.Fatalf("keys not in canonical order at %d", i)
		}
	}
}

func TestStateMarshalRoundTrip(t *testing.T) {
	state := NewState()
	for i := 0; i < 5; i++ {
		pk, _ := newTestKey(t)
		state.Insert(pk, types.StakeData{
			Amount:        types.Coins(uint64(1_000 * (i + 1))),
			Reward:        uint64(i),
			Counter:       uint64(i * 3),
			EligibleSince: uint64(i),
		})
	}
	state.SetSlashedAmount(types.Coins(42))

	encoded, err := state.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	restored := NewState()
	if err := restored.UnmarshalBinary(encoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	reencoded, err := restored.MarshalBinary()
	if err != nil {
		t.Fatalf("re-marshal: %v", err)
	}
	if !bytes.Equal(encoded, reencoded) {
		t.Fatalf("state encoding not canonical")
	}
	if restored.SlashedAmount() != types.Coins(42) {
		t.Fatalf("slashed pool lost in round trip")
	}
}
