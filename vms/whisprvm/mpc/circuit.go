// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package mpc

import "github.com/luxfi/whispr/vms/whisprvm/curve"

// CircuitInput is everything one swap computation sees in the clear.
type CircuitInput struct {
	Order    Order
	ReserveX uint64
	ReserveY uint64
	LPSupply uint64
	FeeBps   uint16
}

// ComputeSwap prices selling Order.Amount of TokenX with the same function the
// transparent path uses. An output below Order.MinOutput yields the zero
// result, which settles as a slippage failure.
func ComputeSwap(in CircuitInput) (SwapResult, error) {
	out, err := curve.SwapOutput(in.ReserveX, in.ReserveY, in.Order.Amount, in.FeeBps)
	if err != nil {
		return SwapResult{}, err
	}
	if out < in.Order.MinOutput {
		return SwapResult{}, nil
	}
	return SwapResult{Deposit: in.Order.Amount, Withdraw: out}, nil
}
