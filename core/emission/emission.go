package emission

import "github.com/omahs/rusk/core/types"

// The emission schedule halves geometrically: eraEmission coins per block
// during the first era, half that in the next, down to zero after the last
// era. The same per-height amount prices the penalty applied to generators
// that missed their slot.
const (
	eraLength   uint64 = 12_500_000
	eraCount    uint64 = 16
	eraEmission uint64 = 1_000 * types.Dusk
)

// protocolShareBps is the protocol key's cut of each block's coinbase, in
// basis points.
const protocolShareBps uint64 = 1_000

// Amount returns the emission for the given block height.
func Amount(height uint64) uint64 {
	era := height / eraLength
	if era >= eraCount {
		return 0
	}
	return eraEmission >> era
}

// CoinbaseValue splits a block's total coinbase — emission plus the fees
// spent in the block — between the protocol key and the block generator.
func CoinbaseValue(height, feesSpent uint64) (protocolValue, generatorValue uint64) {
	total := Amount(height) + feesSpent
	protocolValue = total * protocolShareBps / 10_000
	generatorValue = total - protocolValue
	return protocolValue, generatorValue
}
