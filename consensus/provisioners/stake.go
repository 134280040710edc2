package provisioners

// Stake is the sortition-side view of a single stake: the canonical fields
// plus an intermediate-value scratch that is drawn down during committee
// extraction. The scratch never bleeds back into the ledger; views are
// built per committee and discarded.
type Stake struct {
	Value         uint64
	Reward        uint64
	Counter       uint64
	EligibleSince uint64

	intermediateValue uint64
}

// NewStake builds a stake with its intermediate value primed to the amount.
func NewStake(value, reward, eligibleSince uint64) *Stake {
	return &Stake{
		Value:             value,
		Reward:            reward,
		EligibleSince:     eligibleSince,
		intermediateValue: value,
	}
}

// IsEligible reports whether the stake counts toward sortition at round.
func (s *Stake) IsEligible(round uint64) bool {
	return s.EligibleSince <= round
}

// IntermediateValue returns the remaining drawable weight.
func (s *Stake) IntermediateValue() uint64 {
	return s.intermediateValue
}

// RestoreIntermediateValue resets the scratch back to the full amount.
func (s *Stake) RestoreIntermediateValue() {
	s.intermediateValue = s.Value
}

// SubtractIntermediate removes up to sub from the scratch, clamping at zero,
// and returns the amount actually removed.
func (s *Stake) SubtractIntermediate(sub uint64) uint64 {
	if s.intermediateValue <= sub {
		removed := s.intermediateValue
		s.intermediateValue = 0
		return removed
	}
	s.intermediateValue -= sub
	return sub
}

func (s *Stake) copy() *Stake {
	cloned := *s
	return &cloned
}
