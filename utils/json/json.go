// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package json provides integer types that marshal as decimal strings, so
// 64-bit token amounts survive JSON clients that parse numbers as doubles.
package json

import (
	"fmt"
	"strconv"
)

const Null = "null"

// Uint16 is a uint16 that is JSON marshaled as a string.
type Uint16 uint16

func (u Uint16) MarshalJSON() ([]byte, error) {
	return quote(uint64(u)), nil
}

func (u *Uint16) UnmarshalJSON(b []byte) error {
	v, ok, err := parse(b, 16)
	if ok {
		*u = Uint16(v)
	}
	return err
}

// Uint64 is a uint64 that is JSON marshaled as a string.
type Uint64 uint64

func (u Uint64) MarshalJSON() ([]byte, error) {
	return quote(uint64(u)), nil
}

func (u *Uint64) UnmarshalJSON(b []byte) error {
	v, ok, err := parse(b, 64)
	if ok {
		*u = Uint64(v)
	}
	return err
}

func quote(v uint64) []byte {
	return strconv.AppendQuote(nil, strconv.FormatUint(v, 10))
}

// parse accepts both quoted and bare numbers. null leaves the target
// untouched.
func parse(b []byte, bitSize int) (uint64, bool, error) {
	str := string(b)
	if str == Null {
		return 0, false, nil
	}
	if n := len(str); n >= 2 && str[0] == '"' && str[n-1] == '"' {
		str = str[1 : n-1]
	}
	v, err := strconv.ParseUint(str, 10, bitSize)
	if err != nil {
		return 0, false, fmt.Errorf("invalid uint%d %q: %w", bitSize, str, err)
	}
	return v, true, nil
}
