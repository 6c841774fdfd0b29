// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package confidential

import (
	"sync"

	"github.com/google/btree"
)

const defaultTreeDegree = 2

type expiryEntry struct {
	deadline      int64
	computationID uint64
}

func (e expiryEntry) Less(o expiryEntry) bool {
	if e.deadline != o.deadline {
		return e.deadline < o.deadline
	}
	return e.computationID < o.computationID
}

// expiryIndex orders the unresolved requests by deadline.
type expiryIndex struct {
	mu   sync.Mutex
	tree *btree.BTreeG[expiryEntry]
}

func newExpiryIndex() *expiryIndex {
	return &expiryIndex{
		tree: btree.NewG(defaultTreeDegree, expiryEntry.Less),
	}
}

func (x *expiryIndex) add(req *SwapRequest) {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.tree.ReplaceOrInsert(expiryEntry{deadline: req.Deadline, computationID: req.ComputationID})
}

func (x *expiryIndex) remove(req *SwapRequest) {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.tree.Delete(expiryEntry{deadline: req.Deadline, computationID: req.ComputationID})
}

func (x *expiryIndex) len() int {
	x.mu.Lock()
	defer x.mu.Unlock()

	return x.tree.Len()
}

// expired returns the ids of every entry with a deadline at or before now.
func (x *expiryIndex) expired(now int64) []uint64 {
	x.mu.Lock()
	defer x.mu.Unlock()

	var out []uint64
	x.tree.Ascend(func(e expiryEntry) bool {
		if e.deadline > now {
			return false
		}
		out = append(out, e.computationID)
		return true
	})
	return out
}
