// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package mpc

import (
	"crypto/cipher"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/luxfi/ids"
)

const (
	KeySize   = curve25519.ScalarSize
	NonceSize = chacha20poly1305.NonceSizeX

	// OrderCiphertextLen is the length of every sealed Order.
	OrderCiphertextLen = payloadLen + chacha20poly1305.Overhead

	orderInfo  = "whispr-swap-order"
	resultInfo = "whispr-swap-result"
)

var (
	ErrInvalidKey       = errors.New("invalid x25519 key")
	ErrDecryptionFailed = errors.New("decryption failed")
	ErrMalformedPayload = errors.New("malformed payload")
)

type (
	PrivateKey [KeySize]byte
	PublicKey  [KeySize]byte
	Nonce      [NonceSize]byte
)

// GenerateKey draws a new x25519 key pair from rand.
func GenerateKey(rand io.Reader) (PrivateKey, error) {
	var k PrivateKey
	if _, err := io.ReadFull(rand, k[:]); err != nil {
		return PrivateKey{}, fmt.Errorf("failed to read key: %w", err)
	}
	return k, nil
}

// PrivateKeyFromBytes returns the key whose scalar is b.
func PrivateKeyFromBytes(b []byte) (PrivateKey, error) {
	if len(b) != KeySize {
		return PrivateKey{}, fmt.Errorf("%w: length %d", ErrInvalidKey, len(b))
	}
	var k PrivateKey
	copy(k[:], b)
	return k, nil
}

func (k PrivateKey) PublicKey() PublicKey {
	pub, err := curve25519.X25519(k[:], curve25519.Basepoint)
	if err != nil {
		// only reachable for a low order base point
		panic(err)
	}
	var p PublicKey
	copy(p[:], pub)
	return p
}

func (p PublicKey) String() string {
	return hex.EncodeToString(p[:])
}

func (p PublicKey) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *PublicKey) UnmarshalText(text []byte) error {
	return decodeHex(p[:], text)
}

func (n Nonce) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(n[:])), nil
}

func (n *Nonce) UnmarshalText(text []byte) error {
	return decodeHex(n[:], text)
}

func decodeHex(dst, text []byte) error {
	b, err := hex.DecodeString(string(text))
	if err != nil {
		return err
	}
	if len(b) != len(dst) {
		return fmt.Errorf("expected %d bytes, got %d", len(dst), len(b))
	}
	copy(dst, b)
	return nil
}

// OrderAD binds an order ciphertext to the pool and computation it was
// submitted for, so it cannot be replayed elsewhere.
func OrderAD(poolID ids.ID, computationID uint64) []byte {
	ad := make([]byte, 0, ids.IDLen+8)
	ad = append(ad, poolID[:]...)
	return binary.BigEndian.AppendUint64(ad, computationID)
}

// session holds the two AEADs derived from one x25519 shared secret. The
// order and the result use different keys, so the caller's nonce is safe to
// reuse for the reply.
type session struct {
	order  cipher.AEAD
	result cipher.AEAD
}

func newSession(priv PrivateKey, peer PublicKey) (*session, error) {
	shared, err := curve25519.X25519(priv[:], peer[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	order, err := deriveAEAD(shared, orderInfo)
	if err != nil {
		return nil, err
	}
	result, err := deriveAEAD(shared, resultInfo)
	if err != nil {
		return nil, err
	}
	return &session{order: order, result: result}, nil
}

func deriveAEAD(shared []byte, info string) (cipher.AEAD, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, nil, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("hkdf read failed: %w", err)
	}
	return chacha20poly1305.NewX(key)
}

func open(aead cipher.AEAD, nonce Nonce, ad, ciphertext []byte) ([]byte, error) {
	plaintext, err := aead.Open(nil, nonce[:], ciphertext, ad)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// ClientSession is the requester's side of the encryption context: an
// ephemeral key pair agreed with the cluster's public key.
type ClientSession struct {
	pub PublicKey
	s   *session
}

// NewClientSession generates an ephemeral key and agrees it with clusterKey.
func NewClientSession(rand io.Reader, clusterKey PublicKey) (*ClientSession, error) {
	priv, err := GenerateKey(rand)
	if err != nil {
		return nil, err
	}
	s, err := newSession(priv, clusterKey)
	if err != nil {
		return nil, err
	}
	return &ClientSession{pub: priv.PublicKey(), s: s}, nil
}

// PublicKey is submitted alongside every ciphertext of this session.
func (c *ClientSession) PublicKey() PublicKey {
	return c.pub
}

// EncryptOrder seals o for the cluster. nonce must not be reused within the
// session.
func (c *ClientSession) EncryptOrder(poolID ids.ID, computationID uint64, nonce Nonce, o Order) []byte {
	return c.s.order.Seal(nil, nonce[:], o.Bytes(), OrderAD(poolID, computationID))
}

// DecryptResult opens the sealed fill returned for the order encrypted with
// the same pool, computation id and nonce.
func (c *ClientSession) DecryptResult(poolID ids.ID, computationID uint64, nonce Nonce, sealed []byte) (SwapResult, error) {
	b, err := open(c.s.result, nonce, OrderAD(poolID, computationID), sealed)
	if err != nil {
		return SwapResult{}, err
	}
	return ParseSwapResult(b)
}
