// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package state is the token ledger pools settle against: per-account token
// balances, LP balances and LP supply, plus an opaque record keyspace the pool
// and swap bookkeeping is written to in the same unit of work.
package state

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/luxfi/database"
	"github.com/luxfi/database/prefixdb"
	"github.com/luxfi/database/versiondb"
	"github.com/luxfi/ids"
)

const shortIDLen = len(ids.ShortID{})

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInsufficientLP      = errors.New("insufficient LP balance")
	ErrBalanceOverflow     = errors.New("balance overflow")
	ErrStateCorrupted      = errors.New("state corrupted")

	// Database prefixes
	prefixBalance  = []byte("balance:")
	prefixLP       = []byte("lp:")
	prefixLPSupply = []byte("lpSupply:")
	prefixRecord   = []byte("record:")

	_ Ledger = (*State)(nil)
	_ Tx     = (*tx)(nil)
)

// Reader is the read side of the ledger.
type Reader interface {
	Balance(owner ids.ShortID, token ids.ID) (uint64, error)
	LPBalance(owner ids.ShortID, pool ids.ID) (uint64, error)
	LPSupply(pool ids.ID) (uint64, error)

	// Get returns a record, or database.ErrNotFound.
	Get(key []byte) ([]byte, error)
}

// Tx is one unit of work. Nothing written through a Tx is visible to other
// callers until the function passed to Atomic returns nil.
type Tx interface {
	Reader

	Transfer(from, to ids.ShortID, token ids.ID, amount uint64) error
	MintLP(to ids.ShortID, pool ids.ID, amount uint64) error
	BurnLP(from ids.ShortID, pool ids.ID, amount uint64) error

	// Credit mints amount of token to owner.
	Credit(owner ids.ShortID, token ids.ID, amount uint64) error

	Put(key, value []byte) error
	Delete(key []byte) error
}

// Ledger is implemented by State.
type Ledger interface {
	Reader

	// Atomic runs fn as a single unit of work. If fn returns an error, or the
	// commit fails, no write made by fn is persisted.
	Atomic(fn func(Tx) error) error
}

// State is a database backed Ledger.
type State struct {
	mu sync.RWMutex
	db database.Database
}

// New returns a ledger over db.
func New(db database.Database) *State {
	return &State{db: db}
}

func (s *State) Balance(owner ids.ShortID, token ids.ID) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return getUint64(prefixdb.New(prefixBalance, s.db), balanceKey(owner, token))
}

func (s *State) LPBalance(owner ids.ShortID, pool ids.ID) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return getUint64(prefixdb.New(prefixLP, s.db), lpKey(pool, owner))
}

func (s *State) LPSupply(pool ids.ID) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return getUint64(prefixdb.New(prefixLPSupply, s.db), pool[:])
}

func (s *State) Get(key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return prefixdb.New(prefixRecord, s.db).Get(key)
}

// LPBalances returns every non-zero LP balance of pool.
func (s *State) LPBalances(pool ids.ID) (map[ids.ShortID]uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	it := prefixdb.New(prefixLP, s.db).NewIteratorWithPrefix(pool[:])
	defer it.Release()

	holders := make(map[ids.ShortID]uint64)
	for it.Next() {
		key := it.Key()
		if len(key) != ids.IDLen+shortIDLen || len(it.Value()) != 8 {
			return nil, fmt.Errorf("%w: LP entry %x", ErrStateCorrupted, key)
		}
		var owner ids.ShortID
		copy(owner[:], key[ids.IDLen:])
		if v := binary.BigEndian.Uint64(it.Value()); v > 0 {
			holders[owner] = v
		}
	}
	return holders, it.Error()
}

// IterateRecords calls fn for every record whose key starts with prefix, in
// key order.
func (s *State) IterateRecords(prefix []byte, fn func(key, value []byte) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	it := prefixdb.New(prefixRecord, s.db).NewIteratorWithPrefix(prefix)
	defer it.Release()

	for it.Next() {
		if err := fn(it.Key(), it.Value()); err != nil {
			return err
		}
	}
	return it.Error()
}

// Credit mints amount of token to owner in its own unit of work.
func (s *State) Credit(owner ids.ShortID, token ids.ID, amount uint64) error {
	return s.Atomic(func(t Tx) error {
		return t.Credit(owner, token, amount)
	})
}

func (s *State) Atomic(fn func(Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	vdb := versiondb.New(s.db)
	defer vdb.Abort()

	t := &tx{
		balances: prefixdb.New(prefixBalance, vdb),
		lp:       prefixdb.New(prefixLP, vdb),
		supply:   prefixdb.New(prefixLPSupply, vdb),
		records:  prefixdb.New(prefixRecord, vdb),
	}
	if err := fn(t); err != nil {
		return err
	}
	return vdb.Commit()
}

type tx struct {
	balances database.Database
	lp       database.Database
	supply   database.Database
	records  database.Database
}

func (t *tx) Balance(owner ids.ShortID, token ids.ID) (uint64, error) {
	return getUint64(t.balances, balanceKey(owner, token))
}

func (t *tx) LPBalance(owner ids.ShortID, pool ids.ID) (uint64, error) {
	return getUint64(t.lp, lpKey(pool, owner))
}

func (t *tx) LPSupply(pool ids.ID) (uint64, error) {
	return getUint64(t.supply, pool[:])
}

func (t *tx) Transfer(from, to ids.ShortID, token ids.ID, amount uint64) error {
	if amount == 0 || from == to {
		return nil
	}
	if err := sub(t.balances, balanceKey(from, token), amount, ErrInsufficientBalance); err != nil {
		return fmt.Errorf("transfer from %s: %w", from, err)
	}
	return add(t.balances, balanceKey(to, token), amount)
}

func (t *tx) MintLP(to ids.ShortID, pool ids.ID, amount uint64) error {
	if err := add(t.supply, pool[:], amount); err != nil {
		return err
	}
	return add(t.lp, lpKey(pool, to), amount)
}

func (t *tx) BurnLP(from ids.ShortID, pool ids.ID, amount uint64) error {
	if err := sub(t.lp, lpKey(pool, from), amount, ErrInsufficientLP); err != nil {
		return err
	}
	return sub(t.supply, pool[:], amount, ErrStateCorrupted)
}

func (t *tx) Get(key []byte) ([]byte, error) {
	return t.records.Get(key)
}

func (t *tx) Put(key, value []byte) error {
	return t.records.Put(key, value)
}

func (t *tx) Delete(key []byte) error {
	return t.records.Delete(key)
}

func (t *tx) Credit(owner ids.ShortID, token ids.ID, amount uint64) error {
	return add(t.balances, balanceKey(owner, token), amount)
}

func balanceKey(owner ids.ShortID, token ids.ID) []byte {
	key := make([]byte, 0, shortIDLen+ids.IDLen)
	key = append(key, owner[:]...)
	return append(key, token[:]...)
}

// LP balances are keyed pool first so a pool's holders can be iterated.
func lpKey(pool ids.ID, owner ids.ShortID) []byte {
	key := make([]byte, 0, ids.IDLen+shortIDLen)
	key = append(key, pool[:]...)
	return append(key, owner[:]...)
}

func getUint64(db database.KeyValueReader, key []byte) (uint64, error) {
	b, err := db.Get(key)
	if errors.Is(err, database.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(b) != 8 {
		return 0, fmt.Errorf("%w: value of %x has length %d", ErrStateCorrupted, key, len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

func putUint64(db database.Database, key []byte, v uint64) error {
	if v == 0 {
		return db.Delete(key)
	}
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return db.Put(key, b)
}

func add(db database.Database, key []byte, amount uint64) error {
	cur, err := getUint64(db, key)
	if err != nil {
		return err
	}
	if cur > math.MaxUint64-amount {
		return ErrBalanceOverflow
	}
	return putUint64(db, key, cur+amount)
}

func sub(db database.Database, key []byte, amount uint64, insufficient error) error {
	cur, err := getUint64(db, key)
	if err != nil {
		return err
	}
	if cur < amount {
		return insufficient
	}
	return putUint64(db, key, cur-amount)
}
