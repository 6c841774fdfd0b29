// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config defines configuration types for the Whispr VM.
package config

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/luxfi/ids"

	utilsjson "github.com/luxfi/whispr/utils/json"
	"github.com/luxfi/whispr/vms/whisprvm/curve"
	"github.com/luxfi/whispr/vms/whisprvm/mpc"
)

var ErrInvalidConfig = errors.New("invalid config")

// Config contains configuration parameters for the Whispr VM.
type Config struct {
	// DefaultFeeBps is applied to pools initialized without an explicit fee
	DefaultFeeBps uint16 `json:"defaultFeeBps"`

	// ComputationTimeout bounds how long a confidential swap may wait for
	// its computation result before it is failed
	ComputationTimeout time.Duration `json:"computationTimeout"`
	// ReapInterval is how often timed out swaps are failed
	ReapInterval time.Duration `json:"reapInterval"`

	// Computation cluster
	QueueSize int `json:"queueSize"`
	Workers   int `json:"workers"`
	// ClusterKey is the hex encoded x25519 private key of the cluster. A
	// fresh key is generated when empty.
	ClusterKey string `json:"clusterKey"`

	// MetricsNamespace prefixes every metric name
	MetricsNamespace string `json:"metricsNamespace"`

	// AllowCredit exposes the Credit API. Development networks only.
	AllowCredit bool `json:"allowCredit"`
	// Genesis balances credited when the VM is first initialized
	Genesis []Allocation `json:"genesis"`
}

// Allocation credits Amount of Token to Owner.
type Allocation struct {
	Owner  ids.ShortID      `json:"owner"`
	Token  ids.ID           `json:"token"`
	Amount utilsjson.Uint64 `json:"amount"`
}

// DefaultConfig returns the default configuration for the Whispr VM.
func DefaultConfig() Config {
	return Config{
		DefaultFeeBps: 30, // 0.3%

		ComputationTimeout: 2 * time.Minute,
		ReapInterval:       5 * time.Second,

		QueueSize: 1024,
		Workers:   4,

		MetricsNamespace: "whispr",
	}
}

// Parse overlays configBytes on the defaults and verifies the result. Empty
// input yields the defaults.
func Parse(configBytes []byte) (Config, error) {
	config := DefaultConfig()
	if len(configBytes) == 0 {
		return config, nil
	}
	if err := json.Unmarshal(configBytes, &config); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return config, config.Verify()
}

func (c Config) Verify() error {
	switch {
	case c.DefaultFeeBps > curve.BasisPoints:
		return fmt.Errorf("%w: defaultFeeBps %d exceeds %d", ErrInvalidConfig, c.DefaultFeeBps, curve.BasisPoints)
	case c.ComputationTimeout <= 0:
		return fmt.Errorf("%w: computationTimeout must be positive", ErrInvalidConfig)
	case c.ReapInterval <= 0:
		return fmt.Errorf("%w: reapInterval must be positive", ErrInvalidConfig)
	case c.QueueSize <= 0:
		return fmt.Errorf("%w: queueSize must be positive", ErrInvalidConfig)
	case c.Workers <= 0:
		return fmt.Errorf("%w: workers must be positive", ErrInvalidConfig)
	}
	if c.ClusterKey != "" {
		if _, err := c.decodeKey(); err != nil {
			return err
		}
	}
	for i, a := range c.Genesis {
		if a.Amount == 0 {
			return fmt.Errorf("%w: genesis allocation %d has no amount", ErrInvalidConfig, i)
		}
	}
	return nil
}

// Key returns the configured cluster key, or a new one drawn from rand.
func (c Config) Key(rand io.Reader) (mpc.PrivateKey, error) {
	if c.ClusterKey == "" {
		return mpc.GenerateKey(rand)
	}
	return c.decodeKey()
}

func (c Config) decodeKey() (mpc.PrivateKey, error) {
	b, err := hex.DecodeString(c.ClusterKey)
	if err != nil {
		return mpc.PrivateKey{}, fmt.Errorf("%w: clusterKey: %w", ErrInvalidConfig, err)
	}
	key, err := mpc.PrivateKeyFromBytes(b)
	if err != nil {
		return mpc.PrivateKey{}, fmt.Errorf("%w: clusterKey: %w", ErrInvalidConfig, err)
	}
	return key, nil
}
