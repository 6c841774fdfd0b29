// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package mpc

import (
	"encoding/binary"
	"fmt"
)

// Both payloads are two little-endian u64s.
const payloadLen = 16

// Order is the plaintext a requester encrypts: the amount of TokenX to sell
// and the least TokenY it accepts.
type Order struct {
	Amount    uint64
	MinOutput uint64
}

func (o Order) Bytes() []byte {
	return pack(o.Amount, o.MinOutput)
}

func ParseOrder(b []byte) (Order, error) {
	a, m, err := unpack(b)
	return Order{Amount: a, MinOutput: m}, err
}

// SwapResult is the output of one swap computation. Deposit is the TokenX
// taken from the requester, Withdraw the TokenY paid to it.
type SwapResult struct {
	Deposit  uint64 `json:"deposit"`
	Withdraw uint64 `json:"withdraw"`
}

func (r SwapResult) Bytes() []byte {
	return pack(r.Deposit, r.Withdraw)
}

func ParseSwapResult(b []byte) (SwapResult, error) {
	d, w, err := unpack(b)
	return SwapResult{Deposit: d, Withdraw: w}, err
}

func pack(a, b uint64) []byte {
	out := make([]byte, payloadLen)
	binary.LittleEndian.PutUint64(out, a)
	binary.LittleEndian.PutUint64(out[8:], b)
	return out
}

func unpack(b []byte) (uint64, uint64, error) {
	if len(b) != payloadLen {
		return 0, 0, fmt.Errorf("%w: expected %d bytes, got %d", ErrMalformedPayload, payloadLen, len(b))
	}
	return binary.LittleEndian.Uint64(b), binary.LittleEndian.Uint64(b[8:]), nil
}
