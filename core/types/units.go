package types

// Dusk is the number of base units in one whole coin. It is also the fixed
// amount subtracted from a provisioner's intermediate value for every
// committee seat won, so it is a protocol constant: changing it changes
// every committee.
const Dusk uint64 = 1_000_000_000

// Coins converts a whole-coin count into base units.
func Coins(n uint64) uint64 {
	return n * Dusk
}
