// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package mpc

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/ids"
)

func newTestKey(t *testing.T) PrivateKey {
	t.Helper()

	k, err := GenerateKey(rand.Reader)
	require.NoError(t, err)
	return k
}

func TestOrderRoundTrip(t *testing.T) {
	require := require.New(t)

	clusterKey := newTestKey(t)
	client, err := NewClientSession(rand.Reader, clusterKey.PublicKey())
	require.NoError(err)

	poolID := ids.GenerateTestID()
	nonce := Nonce{1, 2, 3}
	order := Order{Amount: 1_000, MinOutput: 990}
	ct := client.EncryptOrder(poolID, 7, nonce, order)

	s, err := newSession(clusterKey, client.PublicKey())
	require.NoError(err)
	pt, err := open(s.order, nonce, OrderAD(poolID, 7), ct)
	require.NoError(err)
	got, err := ParseOrder(pt)
	require.NoError(err)
	require.Equal(order, got)

	// The reply is only readable by the requester.
	fill := SwapResult{Deposit: 1_000, Withdraw: 997}
	sealed := s.result.Seal(nil, nonce[:], fill.Bytes(), OrderAD(poolID, 7))
	res, err := client.DecryptResult(poolID, 7, nonce, sealed)
	require.NoError(err)
	require.Equal(fill, res)

	other, err := NewClientSession(rand.Reader, clusterKey.PublicKey())
	require.NoError(err)
	_, err = other.DecryptResult(poolID, 7, nonce, sealed)
	require.ErrorIs(err, ErrDecryptionFailed)
}

func TestOrderBoundToPoolAndComputation(t *testing.T) {
	require := require.New(t)

	clusterKey := newTestKey(t)
	client, err := NewClientSession(rand.Reader, clusterKey.PublicKey())
	require.NoError(err)
	s, err := newSession(clusterKey, client.PublicKey())
	require.NoError(err)

	poolID := ids.GenerateTestID()
	var nonce Nonce
	ct := client.EncryptOrder(poolID, 1, nonce, Order{Amount: 5})

	_, err = open(s.order, nonce, OrderAD(ids.GenerateTestID(), 1), ct)
	require.ErrorIs(err, ErrDecryptionFailed)
	_, err = open(s.order, nonce, OrderAD(poolID, 2), ct)
	require.ErrorIs(err, ErrDecryptionFailed)

	ct[0] ^= 1
	_, err = open(s.order, nonce, OrderAD(poolID, 1), ct)
	require.ErrorIs(err, ErrDecryptionFailed)
}

func TestPrivateKeyFromBytes(t *testing.T) {
	require := require.New(t)

	k := newTestKey(t)
	got, err := PrivateKeyFromBytes(k[:])
	require.NoError(err)
	require.Equal(k.PublicKey(), got.PublicKey())

	_, err = PrivateKeyFromBytes(k[:31])
	require.ErrorIs(err, ErrInvalidKey)
}

func TestLowOrderPeerRejected(t *testing.T) {
	_, err := newSession(newTestKey(t), PublicKey{})
	require.ErrorIs(t, err, ErrInvalidKey)
}

func TestKeyText(t *testing.T) {
	require := require.New(t)

	pub := newTestKey(t).PublicKey()
	text, err := pub.MarshalText()
	require.NoError(err)

	var got PublicKey
	require.NoError(got.UnmarshalText(text))
	require.Equal(pub, got)
	require.Error(got.UnmarshalText(text[:10]))

	var n Nonce
	require.NoError(n.UnmarshalText([]byte("000102030405060708090a0b0c0d0e0f1011121314151617")))
	require.Equal(byte(0x17), n[23])
}
