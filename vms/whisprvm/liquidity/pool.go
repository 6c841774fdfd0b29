// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package liquidity implements constant-product pools whose reserves live in
// the token ledger, in a vault account derived from the pool id.
package liquidity

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/luxfi/cache"
	"github.com/luxfi/cache/lru"
	"github.com/luxfi/database"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/whispr/utils/timer/mockable"
	"github.com/luxfi/whispr/vms/whisprvm/curve"
	"github.com/luxfi/whispr/vms/whisprvm/metrics"
	"github.com/luxfi/whispr/vms/whisprvm/state"
)

const poolCacheSize = 1024

var (
	ErrPoolNotFound          = errors.New("pool not found")
	ErrPoolExists            = errors.New("pool already exists")
	ErrSameToken             = errors.New("cannot create pool with same token")
	ErrPoolLocked            = errors.New("pool is locked")
	ErrInvalidAuthority      = errors.New("invalid authority")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrInvariantViolated     = errors.New("constant product invariant violated")

	ErrInvalidAmount    = curve.ErrInvalidAmount
	ErrSlippageExceeded = curve.ErrSlippageExceeded
	ErrInvalidFee       = curve.ErrInvalidFee

	prefixPool  = []byte("pool:")
	vaultDomain = []byte("whispr/vault")
)

// Pool is the persisted configuration of one trading pair. Reserves and LP
// supply are not stored here: they are read from the ledger at call time.
type Pool struct {
	ID        ids.ID       `json:"id"`
	TokenX    ids.ID       `json:"tokenX"`
	TokenY    ids.ID       `json:"tokenY"`
	Seed      uint64       `json:"seed"`
	Vault     ids.ShortID  `json:"vault"`
	FeeBps    uint16       `json:"feeBps"`
	Locked    bool         `json:"locked"`
	Authority *ids.ShortID `json:"authority,omitempty"`
	CreatedAt int64        `json:"createdAt"`
}

// Snapshot is a pool together with its reserves and LP supply as of one
// ledger read.
type Snapshot struct {
	Pool
	ReserveX uint64 `json:"reserveX"`
	ReserveY uint64 `json:"reserveY"`
	LPSupply uint64 `json:"lpSupply"`
}

// InitParams configures a new pool.
type InitParams struct {
	TokenX    ids.ID
	TokenY    ids.ID
	Seed      uint64
	FeeBps    uint16
	Authority *ids.ShortID
}

// PoolID derives the id of the pool for (tokenX, tokenY, seed). Token order is
// significant: confidential swaps always sell TokenX for TokenY.
func PoolID(tokenX, tokenY ids.ID, seed uint64) ids.ID {
	buf := make([]byte, 0, 2*ids.IDLen+8)
	buf = append(buf, tokenX[:]...)
	buf = append(buf, tokenY[:]...)
	buf = binary.BigEndian.AppendUint64(buf, seed)
	return ids.ID(sha256.Sum256(buf))
}

// VaultAddress derives the ledger account holding a pool's reserves.
func VaultAddress(poolID ids.ID) ids.ShortID {
	h := sha256.Sum256(append(append([]byte{}, vaultDomain...), poolID[:]...))
	var vault ids.ShortID
	copy(vault[:], h[:])
	return vault
}

// Ledger is the subset of the token ledger pools need.
type Ledger interface {
	state.Ledger

	LPBalances(pool ids.ID) (map[ids.ShortID]uint64, error)
	IterateRecords(prefix []byte, fn func(key, value []byte) error) error
}

// Manager owns every pool. Operations on one pool are serialized; operations
// on different pools only contend on the ledger's commit.
type Manager struct {
	log     log.Logger
	ledger  Ledger
	clock   *mockable.Clock
	metrics *metrics.Metrics

	locksLock sync.Mutex
	locks     map[ids.ID]*sync.Mutex

	// pools caches committed pool records. It is only written while the
	// pool's lock is held.
	pools cache.Cacher[ids.ID, Pool]
}

// NewManager creates a pool manager over ledger.
func NewManager(logger log.Logger, ledger Ledger, clock *mockable.Clock, m *metrics.Metrics) *Manager {
	return &Manager{
		log:     logger,
		ledger:  ledger,
		clock:   clock,
		metrics: m,
		locks:   make(map[ids.ID]*sync.Mutex),
		pools:   lru.NewCache[ids.ID, Pool](poolCacheSize),
	}
}

// InitializePool creates the pool for (TokenX, TokenY, Seed).
func (m *Manager) InitializePool(params InitParams) (*Pool, error) {
	if params.TokenX == params.TokenY {
		return nil, ErrSameToken
	}
	if params.FeeBps > curve.BasisPoints {
		return nil, ErrInvalidFee
	}

	id := PoolID(params.TokenX, params.TokenY, params.Seed)
	unlock := m.lockPool(id)
	defer unlock()

	pool := &Pool{
		ID:        id,
		TokenX:    params.TokenX,
		TokenY:    params.TokenY,
		Seed:      params.Seed,
		Vault:     VaultAddress(id),
		FeeBps:    params.FeeBps,
		Authority: params.Authority,
		CreatedAt: m.clock.Time().Unix(),
	}
	err := m.ledger.Atomic(func(tx state.Tx) error {
		_, err := tx.Get(poolKey(id))
		switch {
		case err == nil:
			return ErrPoolExists
		case !errors.Is(err, database.ErrNotFound):
			return err
		}
		return putPool(tx, pool)
	})
	if err != nil {
		return nil, err
	}
	m.pools.Put(id, *pool)

	m.log.Info("pool initialized",
		log.Stringer("poolID", id),
		log.Stringer("tokenX", pool.TokenX),
		log.Stringer("tokenY", pool.TokenY),
		log.Uint64("seed", pool.Seed),
		log.Uint32("feeBps", uint32(pool.FeeBps)),
		log.Bool("hasAuthority", pool.Authority != nil),
	)
	return pool, nil
}

// GetPool returns the configuration of poolID.
func (m *Manager) GetPool(poolID ids.ID) (*Pool, error) {
	unlock := m.lockPool(poolID)
	defer unlock()

	return m.getPool(m.ledger, poolID)
}

// Snapshot returns poolID with its current reserves and LP supply.
func (m *Manager) Snapshot(poolID ids.ID) (Snapshot, error) {
	unlock := m.lockPool(poolID)
	defer unlock()

	return m.snapshot(poolID)
}

// snapshot requires the pool's lock.
func (m *Manager) snapshot(poolID ids.ID) (Snapshot, error) {
	var snap Snapshot
	err := m.ledger.Atomic(func(tx state.Tx) error {
		var err error
		snap, err = m.loadSnapshot(tx, poolID)
		return err
	})
	return snap, err
}

// Pools returns the ids of every pool, ordered by id.
func (m *Manager) Pools() ([]ids.ID, error) {
	var pools []ids.ID
	err := m.ledger.IterateRecords(prefixPool, func(key, _ []byte) error {
		id, err := ids.ToID(key[len(prefixPool):])
		if err != nil {
			return err
		}
		pools = append(pools, id)
		return nil
	})
	return pools, err
}

// Lock stops every deposit, withdraw and swap on poolID until Unlock.
func (m *Manager) Lock(poolID ids.ID, caller ids.ShortID) error {
	return m.setLocked(poolID, caller, true)
}

func (m *Manager) Unlock(poolID ids.ID, caller ids.ShortID) error {
	return m.setLocked(poolID, caller, false)
}

func (m *Manager) setLocked(poolID ids.ID, caller ids.ShortID, locked bool) error {
	op := "unlock"
	if locked {
		op = "lock"
	}

	unlock := m.lockPool(poolID)
	defer unlock()

	var updated Pool
	err := m.ledger.Atomic(func(tx state.Tx) error {
		pool, err := m.getPool(tx, poolID)
		if err != nil {
			return err
		}
		if pool.Authority == nil || *pool.Authority != caller {
			return fmt.Errorf("%w: %s cannot %s pool %s", ErrInvalidAuthority, caller, op, poolID)
		}
		pool.Locked = locked
		updated = *pool
		return putPool(tx, pool)
	})
	m.metrics.PoolOp(op, err)
	if err != nil {
		return err
	}
	m.pools.Put(poolID, updated)

	m.log.Info("pool "+op+"ed",
		log.Stringer("poolID", poolID),
		log.Stringer("authority", caller),
	)
	return nil
}

// lockPool serializes mutations of one pool.
func (m *Manager) lockPool(poolID ids.ID) func() {
	m.locksLock.Lock()
	mu, ok := m.locks[poolID]
	if !ok {
		mu = &sync.Mutex{}
		m.locks[poolID] = mu
	}
	m.locksLock.Unlock()

	mu.Lock()
	return mu.Unlock
}

func poolKey(id ids.ID) []byte {
	return append(append([]byte{}, prefixPool...), id[:]...)
}

// getPool requires the pool's lock. The returned pool is a copy.
func (m *Manager) getPool(r state.Reader, id ids.ID) (*Pool, error) {
	if pool, ok := m.pools.Get(id); ok {
		return &pool, nil
	}
	pool, err := readPool(r, id)
	if err != nil {
		return nil, err
	}
	m.pools.Put(id, *pool)
	return pool, nil
}

func readPool(r state.Reader, id ids.ID) (*Pool, error) {
	b, err := r.Get(poolKey(id))
	if errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrPoolNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	pool := &Pool{}
	if err := json.Unmarshal(b, pool); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pool %s: %w", id, err)
	}
	return pool, nil
}

func putPool(tx state.Tx, pool *Pool) error {
	b, err := json.Marshal(pool)
	if err != nil {
		return fmt.Errorf("failed to marshal pool: %w", err)
	}
	return tx.Put(poolKey(pool.ID), b)
}

func (m *Manager) loadSnapshot(r state.Reader, id ids.ID) (Snapshot, error) {
	pool, err := m.getPool(r, id)
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{Pool: *pool}
	if snap.ReserveX, err = r.Balance(pool.Vault, pool.TokenX); err != nil {
		return Snapshot{}, err
	}
	if snap.ReserveY, err = r.Balance(pool.Vault, pool.TokenY); err != nil {
		return Snapshot{}, err
	}
	if snap.LPSupply, err = r.LPSupply(id); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}
