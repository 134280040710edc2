package provisioners

import (
	"encoding/binary"
	"math/big"

	"golang.org/x/crypto/sha3"

	"github.com/omahs/rusk/core/types"
	"github.com/omahs/rusk/crypto"
)

// Config parameterizes one committee draw.
type Config struct {
	Round         uint64
	Step          uint16
	Seed          [32]byte
	CommitteeSize int
}

// createSortitionHash computes H(seed ‖ round ‖ step ‖ counter) with
// SHA3-256. The widths and byte order are protocol constants: seed is the
// raw 32 bytes, round is u64 LE, step u16 LE, counter u32 LE. Any
// divergence yields a different committee on this node only, which is a
// consensus failure.
func createSortitionHash(cfg *Config, counter uint32) [32]byte {
	var scalars [14]byte
	binary.LittleEndian.PutUint64(scalars[0:8], cfg.Round)
	binary.LittleEndian.PutUint16(scalars[8:10], cfg.Step)
	binary.LittleEndian.PutUint32(scalars[10:14], counter)

	h := sha3.New256()
	h.Write(cfg.Seed[:])
	h.Write(scalars[:])

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// generateSortitionScore reduces the hash, read as a big-endian unsigned
// integer, modulo the total eligible weight.
func generateSortitionScore(hash [32]byte, total *big.Int) *big.Int {
	score := new(big.Int).SetBytes(hash[:])
	return score.Mod(score, total)
}

// CreateCommittee runs the deterministic sortition that selects the
// committee for the configured round, step and seed. It returns an ordered
// list of at most CommitteeSize keys; the same key may win multiple seats
// in proportion to its stake.
//
// Each seat drains one whole coin from the winner's intermediate value, so
// a large staker stays in the pool across draws while its dominance shrinks
// seat by seat.
func (p *Provisioners) CreateCommittee(cfg *Config) []crypto.PublicKey {
	committee := make([]crypto.PublicKey, 0, cfg.CommitteeSize)

	view := p.Copy()
	for _, member := range view.members {
		member.restoreIntermediateValues()
	}
	keys := view.SortedKeys()

	total := view.totalEligibleWeight(cfg.Round)

	counter := uint32(0)
	for total.Sign() > 0 && len(committee) < cfg.CommitteeSize {
		hash := createSortitionHash(cfg, counter)
		counter++

		score := generateSortitionScore(hash, total)
		pk, subtracted := view.extractAndSubtract(keys, score, cfg.Round)
		committee = append(committee, pk)

		if total.Cmp(subtracted) > 0 {
			total.Sub(total, subtracted)
		} else {
			total.SetInt64(0)
		}
	}

	return committee
}

// extractAndSubtract walks the members in canonical order until the running
// score falls inside a member's eligible weight, then drains one coin from
// the winner. The caller guarantees score < total eligible weight, so the
// walk always lands.
func (p *Provisioners) extractAndSubtract(keys []crypto.PublicKey, score *big.Int, round uint64) (crypto.PublicKey, *big.Int) {
	for _, pk := range keys {
		member := p.members[pk]
		memberWeight := member.eligibleIntermediate(round)
		// A drained or ineligible member holds no weight and can win no
		// seat, not even against a zero score.
		if memberWeight.Sign() > 0 && memberWeight.Cmp(score) >= 0 {
			subtracted := member.SubtractFromStake(types.Dusk)
			return pk, new(big.Int).SetUint64(subtracted)
		}
		score.Sub(score, memberWeight)
	}
	// score is always reduced modulo the live total, so falling through the
	// whole member list cannot happen.
	panic("sortition: score exceeds total eligible weight")
}
