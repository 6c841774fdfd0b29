// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package curve

import (
	"testing"

	"github.com/holiman/uint256"
	"pgregory.net/rapid"
)

const maxReserve = 1 << 40

func TestPropertySwapNeverOverdraws(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		rx := rapid.Uint64Range(1, maxReserve).Draw(t, "reserveIn")
		ry := rapid.Uint64Range(1, maxReserve).Draw(t, "reserveOut")
		in := rapid.Uint64Range(1, maxReserve).Draw(t, "amountIn")
		fee := rapid.Uint16Range(0, BasisPoints).Draw(t, "fee")

		q, err := Quote(rx, ry, in, fee)
		if err != nil {
			t.Fatalf("quote: %v", err)
		}
		if q.AmountOut > q.RawOut || q.RawOut > ry {
			t.Fatalf("out %d raw %d reserve %d", q.AmountOut, q.RawOut, ry)
		}
		if q.NewReserveOut != ry-q.AmountOut {
			t.Fatalf("reserve out %d, expected %d", q.NewReserveOut, ry-q.AmountOut)
		}
		if q.RawOut-q.AmountOut != q.Fee {
			t.Fatalf("fee %d does not reconcile", q.Fee)
		}
	})
}

func TestPropertySwapMonotonicInFee(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		rx := rapid.Uint64Range(1, maxReserve).Draw(t, "reserveIn")
		ry := rapid.Uint64Range(1, maxReserve).Draw(t, "reserveOut")
		in := rapid.Uint64Range(1, maxReserve).Draw(t, "amountIn")
		lo := rapid.Uint16Range(0, BasisPoints).Draw(t, "lowFee")
		hi := rapid.Uint16Range(lo, BasisPoints).Draw(t, "highFee")

		outLo, err := SwapOutput(rx, ry, in, lo)
		if err != nil {
			t.Fatalf("swap: %v", err)
		}
		outHi, err := SwapOutput(rx, ry, in, hi)
		if err != nil {
			t.Fatalf("swap: %v", err)
		}
		if outHi > outLo {
			t.Fatalf("higher fee paid more: %d > %d", outHi, outLo)
		}
	})
}

func TestPropertySwapMonotonicInAmount(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		rx := rapid.Uint64Range(1, maxReserve).Draw(t, "reserveIn")
		ry := rapid.Uint64Range(1, maxReserve).Draw(t, "reserveOut")
		small := rapid.Uint64Range(1, maxReserve).Draw(t, "small")
		large := rapid.Uint64Range(small, maxReserve).Draw(t, "large")
		fee := rapid.Uint16Range(0, BasisPoints).Draw(t, "fee")

		outSmall, err := SwapOutput(rx, ry, small, fee)
		if err != nil {
			t.Fatalf("swap: %v", err)
		}
		outLarge, err := SwapOutput(rx, ry, large, fee)
		if err != nil {
			t.Fatalf("swap: %v", err)
		}
		if outLarge < outSmall {
			t.Fatalf("larger input paid less: %d < %d", outLarge, outSmall)
		}
	})
}

func TestPropertyWithdrawWithinReserves(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		rx := rapid.Uint64Range(0, maxReserve).Draw(t, "reserveX")
		ry := rapid.Uint64Range(0, maxReserve).Draw(t, "reserveY")
		lp := rapid.Uint64Range(1, maxReserve).Draw(t, "lpSupply")
		burn := rapid.Uint64Range(1, lp).Draw(t, "burn")

		x, y, err := WithdrawAmounts(rx, ry, lp, burn, 0, 0)
		if err != nil {
			return
		}
		if x > rx || y > ry {
			t.Fatalf("withdrew (%d,%d) from (%d,%d)", x, y, rx, ry)
		}
	})
}

func TestPropertyDepositPaysFullShare(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		rx := rapid.Uint64Range(1, maxReserve).Draw(t, "reserveX")
		ry := rapid.Uint64Range(1, maxReserve).Draw(t, "reserveY")
		supply := rapid.Uint64Range(1, maxReserve).Draw(t, "lpSupply")
		contribution := rapid.Uint64Range(1, supply).Draw(t, "contribution")

		x, y, err := DepositAmounts(rx, ry, supply, contribution, rx, ry)
		if err != nil {
			t.Fatalf("deposit: %v", err)
		}
		for _, side := range []struct {
			paid, reserve uint64
		}{{x, rx}, {y, ry}} {
			// paid * supply >= reserve * contribution, and paying one
			// unit less would not.
			paid := new(uint256.Int).Mul(uint256.NewInt(side.paid), uint256.NewInt(supply))
			owed := new(uint256.Int).Mul(uint256.NewInt(side.reserve), uint256.NewInt(contribution))
			if paid.Lt(owed) {
				t.Fatalf("paid %d for %d of %d LP over reserve %d", side.paid, contribution, supply, side.reserve)
			}
			less := new(uint256.Int).Mul(uint256.NewInt(side.paid-1), uint256.NewInt(supply))
			if !less.Lt(owed) {
				t.Fatalf("overcharged: paid %d for %d of %d LP over reserve %d", side.paid, contribution, supply, side.reserve)
			}
		}
	})
}
