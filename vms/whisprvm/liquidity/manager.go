// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package liquidity

import (
	"fmt"
	"math"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/whispr/vms/whisprvm/curve"
	"github.com/luxfi/whispr/vms/whisprvm/state"
)

// DepositResult is what a provider paid for the LP units it received.
type DepositResult struct {
	AmountX  uint64 `json:"amountX"`
	AmountY  uint64 `json:"amountY"`
	LPMinted uint64 `json:"lpMinted"`
}

// WithdrawResult is what a provider received for the LP units it burned.
type WithdrawResult struct {
	AmountX  uint64 `json:"amountX"`
	AmountY  uint64 `json:"amountY"`
	LPBurned uint64 `json:"lpBurned"`
}

// Deposit mints amount LP units of poolID to owner, charging the proportional
// share of both reserves, bounded by maxX and maxY. The first deposit into an
// empty pool pays exactly (maxX, maxY) and sets the price.
func (m *Manager) Deposit(poolID ids.ID, owner ids.ShortID, amount, maxX, maxY uint64) (DepositResult, error) {
	unlock := m.lockPool(poolID)
	defer unlock()

	var res DepositResult
	err := m.ledger.Atomic(func(tx state.Tx) error {
		snap, err := m.loadSnapshot(tx, poolID)
		if err != nil {
			return err
		}
		if snap.Locked {
			return ErrPoolLocked
		}
		if snap.LPSupply == 0 && (maxX == 0 || maxY == 0) {
			return fmt.Errorf("%w: initial deposit must fund both reserves", ErrInvalidAmount)
		}

		x, y, err := curve.DepositAmounts(snap.ReserveX, snap.ReserveY, snap.LPSupply, amount, maxX, maxY)
		if err != nil {
			return err
		}
		if err := tx.Transfer(owner, snap.Vault, snap.TokenX, x); err != nil {
			return err
		}
		if err := tx.Transfer(owner, snap.Vault, snap.TokenY, y); err != nil {
			return err
		}
		if err := tx.MintLP(owner, poolID, amount); err != nil {
			return err
		}
		res = DepositResult{AmountX: x, AmountY: y, LPMinted: amount}
		return nil
	})
	m.metrics.PoolOp("deposit", err)
	if err != nil {
		return DepositResult{}, err
	}

	m.log.Info("deposit",
		log.Stringer("poolID", poolID),
		log.Stringer("owner", owner),
		log.Uint64("amountX", res.AmountX),
		log.Uint64("amountY", res.AmountY),
		log.Uint64("lpMinted", res.LPMinted),
	)
	return res, nil
}

// Withdraw burns amount LP units of poolID held by owner and pays out the
// proportional share of both reserves, bounded below by minX and minY.
func (m *Manager) Withdraw(poolID ids.ID, owner ids.ShortID, amount, minX, minY uint64) (WithdrawResult, error) {
	unlock := m.lockPool(poolID)
	defer unlock()

	var res WithdrawResult
	err := m.ledger.Atomic(func(tx state.Tx) error {
		snap, err := m.loadSnapshot(tx, poolID)
		if err != nil {
			return err
		}
		if snap.Locked {
			return ErrPoolLocked
		}

		x, y, err := curve.WithdrawAmounts(snap.ReserveX, snap.ReserveY, snap.LPSupply, amount, minX, minY)
		if err != nil {
			return err
		}
		if err := tx.BurnLP(owner, poolID, amount); err != nil {
			return err
		}
		if err := tx.Transfer(snap.Vault, owner, snap.TokenX, x); err != nil {
			return err
		}
		if err := tx.Transfer(snap.Vault, owner, snap.TokenY, y); err != nil {
			return err
		}
		res = WithdrawResult{AmountX: x, AmountY: y, LPBurned: amount}
		return nil
	})
	m.metrics.PoolOp("withdraw", err)
	if err != nil {
		return WithdrawResult{}, err
	}

	m.log.Info("withdraw",
		log.Stringer("poolID", poolID),
		log.Stringer("owner", owner),
		log.Uint64("amountX", res.AmountX),
		log.Uint64("amountY", res.AmountY),
		log.Uint64("lpBurned", res.LPBurned),
	)
	return res, nil
}

// Swap sells amountIn of TokenX for TokenY in the clear.
func (m *Manager) Swap(poolID ids.ID, trader ids.ShortID, amountIn, minAmountOut uint64) (curve.SwapQuote, error) {
	unlock := m.lockPool(poolID)
	defer unlock()

	var q curve.SwapQuote
	err := m.ledger.Atomic(func(tx state.Tx) error {
		snap, err := m.loadSnapshot(tx, poolID)
		if err != nil {
			return err
		}
		if snap.Locked {
			return ErrPoolLocked
		}

		q, err = curve.Quote(snap.ReserveX, snap.ReserveY, amountIn, snap.FeeBps)
		if err != nil {
			return err
		}
		if q.AmountOut == 0 {
			return fmt.Errorf("%w: swap output rounds to zero", ErrInvalidAmount)
		}
		if q.AmountOut < minAmountOut {
			return ErrSlippageExceeded
		}
		return settle(tx, snap, trader, amountIn, q.AmountOut)
	})
	m.metrics.PoolOp("swap", err)
	if err != nil {
		return curve.SwapQuote{}, err
	}

	m.log.Info("swap",
		log.Stringer("poolID", poolID),
		log.Stringer("trader", trader),
		log.Uint64("amountIn", q.AmountIn),
		log.Uint64("amountOut", q.AmountOut),
		log.Uint64("fee", q.Fee),
	)
	return q, nil
}

// Quote prices selling amountIn of TokenX against the current reserves
// without moving funds.
func (m *Manager) Quote(poolID ids.ID, amountIn uint64) (curve.SwapQuote, error) {
	snap, err := m.Snapshot(poolID)
	if err != nil {
		return curve.SwapQuote{}, err
	}
	return curve.Quote(snap.ReserveX, snap.ReserveY, amountIn, snap.FeeBps)
}

// ApplySwap settles a swap whose amounts were computed elsewhere: deposit of
// TokenX moves from requester to the vault and withdraw of TokenY moves back.
// The amounts are checked against the reserves at apply time, which may
// differ from the reserves the amounts were priced on. record runs in the
// same unit of work, so bookkeeping commits if and only if the transfers do.
func (m *Manager) ApplySwap(poolID ids.ID, requester ids.ShortID, deposit, withdraw uint64, record func(state.Tx) error) error {
	unlock := m.lockPool(poolID)
	defer unlock()

	err := m.ledger.Atomic(func(tx state.Tx) error {
		snap, err := m.loadSnapshot(tx, poolID)
		if err != nil {
			return err
		}
		if snap.Locked {
			return ErrPoolLocked
		}
		if err := settle(tx, snap, requester, deposit, withdraw); err != nil {
			return err
		}
		if record == nil {
			return nil
		}
		return record(tx)
	})
	m.metrics.PoolOp("apply_swap", err)
	return err
}

// settle moves amountIn of TokenX into the vault and amountOut of TokenY out
// of it, refusing any trade that would shrink reserveX * reserveY.
func settle(tx state.Tx, snap Snapshot, trader ids.ShortID, amountIn, amountOut uint64) error {
	if amountOut > snap.ReserveY {
		return fmt.Errorf("%w: vault holds %d, owes %d", ErrInsufficientLiquidity, snap.ReserveY, amountOut)
	}
	if amountIn > math.MaxUint64-snap.ReserveX {
		return curve.ErrOverflow
	}
	if !curve.ProductHolds(snap.ReserveX, snap.ReserveY, snap.ReserveX+amountIn, snap.ReserveY-amountOut) {
		return fmt.Errorf("%w: (%d, %d) -> (%d, %d)", ErrInvariantViolated,
			snap.ReserveX, snap.ReserveY, snap.ReserveX+amountIn, snap.ReserveY-amountOut)
	}
	if err := tx.Transfer(trader, snap.Vault, snap.TokenX, amountIn); err != nil {
		return err
	}
	return tx.Transfer(snap.Vault, trader, snap.TokenY, amountOut)
}
