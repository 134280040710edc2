package provisioners

import (
	"bytes"
	"math/big"
	"sort"

	"github.com/omahs/rusk/crypto"
)

// Member groups a provisioner's stakes under its public key.
type Member struct {
	publicKey crypto.PublicKey
	stakes    []*Stake
}

// NewMember creates a member with no stakes.
func NewMember(pk crypto.PublicKey) *Member {
	return &Member{publicKey: pk}
}

// PublicKey returns the member's key.
func (m *Member) PublicKey() crypto.PublicKey {
	return m.publicKey
}

// FirstStake returns the member's first stake, if any.
func (m *Member) FirstStake() *Stake {
	if len(m.stakes) == 0 {
		return nil
	}
	return m.stakes[0]
}

// AddStake appends a stake to the member.
func (m *Member) AddStake(stake *Stake) {
	m.stakes = append(m.stakes, stake)
}

// IsEligible reports whether any of the member's stakes counts at round.
func (m *Member) IsEligible(round uint64) bool {
	for _, stake := range m.stakes {
		if stake.IsEligible(round) {
			return true
		}
	}
	return false
}

// SubtractFromStake draws up to value from the first of the member's stakes
// that still holds intermediate value, returning the amount actually
// removed. Later stakes are not drawn on in the same call.
func (m *Member) SubtractFromStake(value uint64) uint64 {
	for _, stake := range m.stakes {
		if stake.intermediateValue == 0 {
			continue
		}
		return stake.SubtractIntermediate(value)
	}
	return 0
}

func (m *Member) restoreIntermediateValues() {
	for _, stake := range m.stakes {
		stake.RestoreIntermediateValue()
	}
}

// eligibleIntermediate sums the member's eligible intermediate values.
func (m *Member) eligibleIntermediate(round uint64) *big.Int {
	var total uint64
	for _, stake := range m.stakes {
		if stake.IsEligible(round) {
			total += stake.intermediateValue
		}
	}
	return new(big.Int).SetUint64(total)
}

func (m *Member) copy() *Member {
	cloned := &Member{publicKey: m.publicKey, stakes: make([]*Stake, 0, len(m.stakes))}
	for _, stake := range m.stakes {
		cloned.stakes = append(cloned.stakes, stake.copy())
	}
	return cloned
}

// Provisioners is the round-scoped, read-only projection of the stake
// ledger that sortition runs against. Members iterate in the canonical
// order of their key bytes.
type Provisioners struct {
	members map[crypto.PublicKey]*Member
}

// New returns an empty provisioner set.
func New() *Provisioners {
	return &Provisioners{members: make(map[crypto.PublicKey]*Member)}
}

// AddMemberWithStake appends a stake to the given provisioner, creating the
// member if needed.
func (p *Provisioners) AddMemberWithStake(pk crypto.PublicKey, stake *Stake) {
	member, ok := p.members[pk]
	if !ok {
		member = NewMember(pk)
		p.members[pk] = member
	}
	member.AddStake(stake)
}

// AddMemberWithValue adds a member holding a single stake of the given
// value, eligible from round zero. Test helper.
func (p *Provisioners) AddMemberWithValue(pk crypto.PublicKey, value uint64) {
	p.AddMemberWithStake(pk, NewStake(value, 0, 0))
}

// GetMember returns the member at pk, if present.
func (p *Provisioners) GetMember(pk crypto.PublicKey) (*Member, bool) {
	member, ok := p.members[pk]
	return member, ok
}

// Info returns the total member count and the count eligible at round.
func (p *Provisioners) Info(round uint64) (total, eligible int) {
	for _, member := range p.members {
		if member.IsEligible(round) {
			eligible++
		}
	}
	return len(p.members), eligible
}

// SortedKeys returns the member keys in canonical byte order.
func (p *Provisioners) SortedKeys() []crypto.PublicKey {
	keys := make([]crypto.PublicKey, 0, len(p.members))
	for pk := range p.members {
		keys = append(keys, pk)
	}
	sort.Slice(keys, func(i, j int) bool { return bytes.Compare(keys[i][:], keys[j][:]) < 0 })
	return keys
}

// Copy deep-copies the set, so a committee draw never mutates the caller's
// view.
func (p *Provisioners) Copy() *Provisioners {
	cloned := New()
	for pk, member := range p.members {
		cloned.members[pk] = member.copy()
	}
	return cloned
}

// totalEligibleWeight sums the intermediate values of every stake eligible
// at round. The total can exceed 64 bits, so it accumulates into a big.Int.
func (p *Provisioners) totalEligibleWeight(round uint64) *big.Int {
	total := new(big.Int)
	weight := new(big.Int)
	for _, member := range p.members {
		for _, stake := range member.stakes {
			if stake.IsEligible(round) {
				weight.SetUint64(stake.intermediateValue)
				total.Add(total, weight)
			}
		}
	}
	return total
}
