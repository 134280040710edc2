package core

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	coreerrors "github.com/omahs/rusk/core/errors"
	"github.com/omahs/rusk/crypto"
	"github.com/omahs/rusk/native/stake"
	"github.com/omahs/rusk/native/transfer"
	"github.com/omahs/rusk/observability/metrics"
	"github.com/omahs/rusk/storage"
	"github.com/omahs/rusk/vm"
)

// duskKeyBytes is the protocol consensus key: the key every block's fixed
// coinbase share is credited to.
//
//go:embed assets/dusk.cpk
var duskKeyBytes []byte

// DuskKey returns the protocol consensus public key.
func DuskKey() crypto.PublicKey {
	pk, err := crypto.PublicKeyFromBytes(duskKeyBytes)
	if err != nil {
		panic(fmt.Sprintf("embedded protocol key invalid: %v", err))
	}
	return pk
}

// stateIDFile is the well-known file holding the finalized commit id. It is
// the recovery anchor: startup reads the base commit from it, finalization
// rewrites it.
const stateIDFile = "state_id"

func stateIDPath(dir string) string {
	return filepath.Join(dir, stateIDFile)
}

// Migration designates the block height at which the stake contract's code
// image is swapped, and the image to swap in.
type Migration struct {
	Height uint64
	Image  vm.Image
}

// Chain is the execution hub: it owns the VM, the current and base commits,
// and serializes every mutating session behind a single lock. Read-only
// queries take the lock only to snapshot the current commit and then run
// against their own immutable session.
type Chain struct {
	mu            sync.Mutex
	vm            *vm.VM
	currentCommit [32]byte
	baseCommit    [32]byte

	dir       string
	migration *Migration
	feederBuf int
	log       *slog.Logger
	metrics   *metrics.Chain
}

// Option customizes a Chain.
type Option func(*Chain)

// WithMigration arms the migration orchestrator.
func WithMigration(m Migration) Option {
	return func(c *Chain) { c.migration = &m }
}

// WithLogger sets the chain's logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Chain) { c.log = log }
}

// WithFeederBuffer sets the feeder channel capacity.
func WithFeederBuffer(n int) Option {
	return func(c *Chain) { c.feederBuf = n }
}

// WithMetrics attaches chain metrics collectors.
func WithMetrics(m *metrics.Chain) Option {
	return func(c *Chain) { c.metrics = m }
}

// NewChain opens the chain at dir, loading the finalized base commit from
// the state id file. Startup fails if the file is missing or not exactly
// 32 bytes.
func NewChain(dir string, db storage.Database, opts ...Option) (*Chain, error) {
	baseCommitBytes, err := os.ReadFile(stateIDPath(dir))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", coreerrors.ErrBaseCommit, err)
	}
	if len(baseCommitBytes) != 32 {
		return nil, fmt.Errorf("%w: expected commit id to have 32 bytes, got %d",
			coreerrors.ErrBaseCommit, len(baseCommitBytes))
	}
	var baseCommit [32]byte
	copy(baseCommit[:], baseCommitBytes)

	machine := vm.New(db)
	machine.RegisterImage(vm.TransferContract, transfer.Image())
	machine.RegisterImage(vm.StakeContract, stake.Image(1))

	c := &Chain{
		vm:            machine,
		currentCommit: baseCommit,
		baseCommit:    baseCommit,
		dir:           dir,
		feederBuf:     64,
		log:           slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.migration != nil {
		machine.RegisterImage(vm.StakeContract, c.migration.Image)
	}
	if !machine.HasCommit(baseCommit) {
		return nil, fmt.Errorf("%w: base commit %x missing from state store",
			coreerrors.ErrBaseCommit, baseCommit)
	}
	return c, nil
}

// BaseRoot returns the finalized base commit.
func (c *Chain) BaseRoot() [32]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.baseCommit
}

// StateRoot returns the current commit.
func (c *Chain) StateRoot() [32]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentCommit
}

// Revert rewinds the current commit to the given state hash.
func (c *Chain) Revert(stateHash [32]byte) ([32]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.vm.HasCommit(stateHash) {
		return [32]byte{}, fmt.Errorf("%w: %x", coreerrors.ErrCommitNotFound, stateHash)
	}
	c.currentCommit = stateHash
	c.log.Info("state reverted", "commit", fmt.Sprintf("%x", stateHash))
	return c.currentCommit, nil
}

// RevertToBaseRoot rewinds the current commit to the finalized base.
func (c *Chain) RevertToBaseRoot() ([32]byte, error) {
	return c.Revert(c.BaseRoot())
}
