// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package curve implements the constant-product (x * y = k) arithmetic used by
// both the transparent pool path and the confidential swap circuit.
//
// Every function is pure and integer-only. Products are widened to 256 bits
// before being divided back down, so results are identical wherever the
// package is linked and no intermediate can wrap.
package curve

import (
	"errors"

	"github.com/holiman/uint256"
)

const (
	// BasisPoints is the fee denominator: a fee of 30 is 0.3%.
	BasisPoints = 10_000

	// Precision is the number of decimal places kept for withdrawal share
	// ratios.
	Precision = 6
)

var (
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrSlippageExceeded     = errors.New("slippage exceeded")
	ErrInvalidFee           = errors.New("fee exceeds 10000 basis points")
	ErrInconsistentReserves = errors.New("inconsistent pool reserves")
	ErrOverflow             = errors.New("arithmetic overflow")

	// 10^Precision
	precisionScale = uint256.NewInt(1_000_000)
	basisPoints    = uint256.NewInt(BasisPoints)
)

// SwapQuote is the full breakdown of a single swap_output evaluation.
type SwapQuote struct {
	AmountIn  uint64 `json:"amountIn"`
	RawOut    uint64 `json:"rawOut"`
	Fee       uint64 `json:"fee"`
	AmountOut uint64 `json:"amountOut"`

	// Reserves after the trade. The fee stays in the pool, so NewReserveOut is
	// reserveOut - AmountOut.
	NewReserveIn  uint64 `json:"newReserveIn"`
	NewReserveOut uint64 `json:"newReserveOut"`
}

// DepositAmounts returns the token amounts (x, y) a provider must pay to mint
// contribution LP units, ceil(reserve * contribution / lpSupply) per side. When
// the pool has no LP supply the provider sets the initial price and pays
// exactly (maxX, maxY).
func DepositAmounts(reserveX, reserveY, lpSupply, contribution, maxX, maxY uint64) (uint64, uint64, error) {
	if contribution == 0 {
		return 0, 0, ErrInvalidAmount
	}
	if lpSupply == 0 {
		return maxX, maxY, nil
	}
	if reserveX == 0 || reserveY == 0 {
		return 0, 0, ErrInconsistentReserves
	}

	x, err := mulDivUp(reserveX, contribution, lpSupply)
	if err != nil {
		return 0, 0, err
	}
	y, err := mulDivUp(reserveY, contribution, lpSupply)
	if err != nil {
		return 0, 0, err
	}
	if x > maxX || y > maxY {
		return 0, 0, ErrSlippageExceeded
	}
	return x, y, nil
}

// WithdrawAmounts returns the token amounts (x, y) released by burning burn LP
// units out of lpSupply.
func WithdrawAmounts(reserveX, reserveY, lpSupply, burn, minX, minY uint64) (uint64, uint64, error) {
	if burn == 0 || lpSupply == 0 || burn > lpSupply {
		return 0, 0, ErrInvalidAmount
	}

	ratio := shareRatio(burn, lpSupply)
	x, err := applyRatio(reserveX, ratio)
	if err != nil {
		return 0, 0, err
	}
	y, err := applyRatio(reserveY, ratio)
	if err != nil {
		return 0, 0, err
	}
	if x == 0 && y == 0 {
		return 0, 0, ErrInvalidAmount
	}
	if x < minX || y < minY {
		return 0, 0, ErrSlippageExceeded
	}
	return x, y, nil
}

// SwapOutput returns the amount of the out token paid for amountIn of the in
// token. Direction is positional: reserveIn is the reserve of the deposited
// token.
func SwapOutput(reserveIn, reserveOut, amountIn uint64, feeBps uint16) (uint64, error) {
	q, err := Quote(reserveIn, reserveOut, amountIn, feeBps)
	if err != nil {
		return 0, err
	}
	return q.AmountOut, nil
}

// Quote evaluates
//
//	k       = reserveIn * reserveOut
//	rawOut  = reserveOut - k / (reserveIn + amountIn)
//	fee     = rawOut * feeBps / 10000
//	out     = rawOut - fee
//
// with truncating division at every step.
func Quote(reserveIn, reserveOut, amountIn uint64, feeBps uint16) (SwapQuote, error) {
	if amountIn == 0 {
		return SwapQuote{}, ErrInvalidAmount
	}
	if feeBps > BasisPoints {
		return SwapQuote{}, ErrInvalidFee
	}
	if reserveIn == 0 || reserveOut == 0 {
		return SwapQuote{}, ErrInconsistentReserves
	}

	var (
		rIn   = uint256.NewInt(reserveIn)
		rOut  = uint256.NewInt(reserveOut)
		k     = new(uint256.Int).Mul(rIn, rOut)
		newIn = new(uint256.Int).Add(rIn, uint256.NewInt(amountIn))
	)
	if !newIn.IsUint64() {
		return SwapQuote{}, ErrOverflow
	}

	newOut := new(uint256.Int).Div(k, newIn)
	if newOut.Gt(rOut) {
		return SwapQuote{}, ErrInconsistentReserves
	}
	raw := new(uint256.Int).Sub(rOut, newOut)
	fee := new(uint256.Int).Mul(raw, uint256.NewInt(uint64(feeBps)))
	fee.Div(fee, basisPoints)
	out := new(uint256.Int).Sub(raw, fee)

	return SwapQuote{
		AmountIn:      amountIn,
		RawOut:        raw.Uint64(),
		Fee:           fee.Uint64(),
		AmountOut:     out.Uint64(),
		NewReserveIn:  newIn.Uint64(),
		NewReserveOut: reserveOut - out.Uint64(),
	}, nil
}

// ProductHolds reports whether afterX * afterY >= beforeX * beforeY. Truncation
// in SwapOutput can favour the trader by one unit on tiny pools, so settlement
// checks this before moving funds.
func ProductHolds(beforeX, beforeY, afterX, afterY uint64) bool {
	before := new(uint256.Int).Mul(uint256.NewInt(beforeX), uint256.NewInt(beforeY))
	after := new(uint256.Int).Mul(uint256.NewInt(afterX), uint256.NewInt(afterY))
	return !after.Lt(before)
}

// shareRatio returns floor(part * 10^Precision / whole).
func shareRatio(part, whole uint64) *uint256.Int {
	r := new(uint256.Int).Mul(uint256.NewInt(part), precisionScale)
	return r.Div(r, uint256.NewInt(whole))
}

// applyRatio returns floor(reserve * ratio / 10^Precision).
func applyRatio(reserve uint64, ratio *uint256.Int) (uint64, error) {
	q := new(uint256.Int).Mul(uint256.NewInt(reserve), ratio)
	q.Div(q, precisionScale)
	if !q.IsUint64() {
		return 0, ErrOverflow
	}
	return q.Uint64(), nil
}

// mulDivUp returns ceil(a * b / d).
func mulDivUp(a, b, d uint64) (uint64, error) {
	q, rem := new(uint256.Int), new(uint256.Int)
	q.DivMod(new(uint256.Int).Mul(uint256.NewInt(a), uint256.NewInt(b)), uint256.NewInt(d), rem)
	if !rem.IsZero() {
		q.AddUint64(q, 1)
	}
	if !q.IsUint64() {
		return 0, ErrOverflow
	}
	return q.Uint64(), nil
}
