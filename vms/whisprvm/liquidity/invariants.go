// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package liquidity

import (
	"errors"
	"fmt"

	"github.com/luxfi/ids"

	"github.com/luxfi/whispr/vms/whisprvm/curve"
)

var ErrInvariantBroken = errors.New("pool invariant broken")

// CheckInvariants audits every pool:
//   - fee is at most 10000 basis points
//   - both reserves are positive once LP units exist
//   - LP supply equals the sum of LP balances
//
// It returns every broken invariant joined into one error.
func (m *Manager) CheckInvariants() error {
	poolIDs, err := m.Pools()
	if err != nil {
		return err
	}

	var errs []error
	for _, id := range poolIDs {
		if err := m.checkPool(id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) checkPool(id ids.ID) error {
	unlock := m.lockPool(id)
	defer unlock()

	snap, err := m.snapshot(id)
	if err != nil {
		return err
	}
	if snap.FeeBps > curve.BasisPoints {
		return fmt.Errorf("%w: pool %s fee %d bps", ErrInvariantBroken, id, snap.FeeBps)
	}
	if snap.LPSupply > 0 && (snap.ReserveX == 0 || snap.ReserveY == 0) {
		return fmt.Errorf("%w: pool %s has LP supply %d with reserves (%d, %d)",
			ErrInvariantBroken, id, snap.LPSupply, snap.ReserveX, snap.ReserveY)
	}

	holders, err := m.ledger.LPBalances(id)
	if err != nil {
		return err
	}
	var sum uint64
	for _, bal := range holders {
		sum += bal
	}
	if sum != snap.LPSupply {
		return fmt.Errorf("%w: pool %s LP supply %d, balances sum to %d", ErrInvariantBroken, id, snap.LPSupply, sum)
	}
	return nil
}
