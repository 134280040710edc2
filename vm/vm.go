package vm

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/omahs/rusk/core/types"
	"github.com/omahs/rusk/storage"
	"github.com/omahs/rusk/storage/commitdb"
)

var (
	// ErrContractNotFound is returned when a call targets an id with no
	// deployed contract.
	ErrContractNotFound = errors.New("vm: contract not found")
	// ErrUnknownImage is returned when a commit references a contract
	// version with no registered image.
	ErrUnknownImage = errors.New("vm: unknown contract image")
	// ErrGasExhausted terminates a call whose meter ran dry.
	ErrGasExhausted = errors.New("vm: gas exhausted")
)

// Reserved returns one of the protocol's reserved contract ids.
func Reserved(b byte) types.ContractID {
	var id types.ContractID
	id[0] = b
	return id
}

// Well-known contract ids.
var (
	TransferContract = Reserved(0x1)
	StakeContract    = Reserved(0x2)
)

// Contract is a deployed code image's runtime interface. State crosses
// commits through Snapshot/Restore; the encoding is the image's own but
// must be canonical, since commit ids are content hashes over it.
type Contract interface {
	Invoke(ctx *CallContext, method string, arg []byte) ([]byte, error)
	Snapshot() ([]byte, error)
	Restore(state []byte) error
}

// Image is a deployable code image: a version and a constructor for fresh
// instances of it.
type Image struct {
	Version uint32
	New     func() Contract
}

// Deployment describes a contract present at genesis.
type Deployment struct {
	ID    types.ContractID
	Owner [32]byte
	Image Image
}

// VM hosts contracts and the content-addressed commit store underneath
// them. It is not safe for concurrent use; the chain serializes access
// behind its session lock.
type VM struct {
	commits *commitdb.Store
	images  map[types.ContractID][]Image
}

// New creates a VM over the given database.
func New(db storage.Database) *VM {
	return &VM{
		commits: commitdb.New(db),
		images:  make(map[types.ContractID][]Image),
	}
}

// RegisterImage makes an image available for instantiation at the given id.
// Every version that may appear in a stored commit must be registered,
// including migration targets.
func (vm *VM) RegisterImage(id types.ContractID, img Image) {
	vm.images[id] = append(vm.images[id], img)
}

func (vm *VM) image(id types.ContractID, version uint32) (Image, bool) {
	for _, img := range vm.images[id] {
		if img.Version == version {
			return img, true
		}
	}
	return Image{}, false
}

// contractRecord is the per-contract entry of a commit payload.
type contractRecord struct {
	ID      types.ContractID
	Owner   [32]byte
	Version uint32
	State   []byte
}

// Session opens a session over the state at the given commit.
func (vm *VM) Session(commit [32]byte, height uint64) (*Session, error) {
	payload, err := vm.commits.Get(commit)
	if err != nil {
		return nil, err
	}
	var records []contractRecord
	if err := rlp.DecodeBytes(payload, &records); err != nil {
		return nil, fmt.Errorf("vm: decode commit %x: %w", commit, err)
	}
	s := newSession(vm, height)
	for _, rec := range records {
		img, ok := vm.image(rec.ID, rec.Version)
		if !ok {
			return nil, fmt.Errorf("%w: contract %s version %d", ErrUnknownImage, rec.ID, rec.Version)
		}
		contract := img.New()
		if err := contract.Restore(rec.State); err != nil {
			return nil, fmt.Errorf("vm: restore contract %s: %w", rec.ID, err)
		}
		s.instances[rec.ID] = &instance{contract: contract, owner: rec.Owner, version: rec.Version}
	}
	return s, nil
}

// GenesisSession opens a session with freshly deployed contracts and no
// backing commit. Committing it produces the chain's first commit.
func (vm *VM) GenesisSession(height uint64, deployments []Deployment) *Session {
	s := newSession(vm, height)
	for _, d := range deployments {
		vm.RegisterImage(d.ID, d.Image)
		s.instances[d.ID] = &instance{contract: d.Image.New(), owner: d.Owner, version: d.Image.Version}
	}
	return s
}

// Commits enumerates the stored commit ids.
func (vm *VM) Commits() ([][32]byte, error) {
	return vm.commits.Commits()
}

// HasCommit reports whether the commit exists in the store.
func (vm *VM) HasCommit(id [32]byte) bool {
	return vm.commits.Has(id)
}

// DeleteCommit removes a commit from the store.
func (vm *VM) DeleteCommit(id [32]byte) error {
	return vm.commits.Delete(id)
}

func encodeSnapshot(instances map[types.ContractID]*instance) ([]byte, error) {
	ids := make([]types.ContractID, 0, len(instances))
	for id := range instances {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return bytes.Compare(ids[i][:], ids[j][:]) < 0 })

	records := make([]contractRecord, 0, len(ids))
	for _, id := range ids {
		inst := instances[id]
		state, err := inst.contract.Snapshot()
		if err != nil {
			return nil, fmt.Errorf("vm: snapshot contract %s: %w", id, err)
		}
		records = append(records, contractRecord{
			ID:      id,
			Owner:   inst.owner,
			Version: inst.version,
			State:   state,
		})
	}
	return rlp.EncodeToBytes(records)
}
