// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/ids"

	"github.com/luxfi/whispr/vms/whisprvm/mpc"
)

func TestParseDefaults(t *testing.T) {
	require := require.New(t)

	config, err := Parse(nil)
	require.NoError(err)
	require.Equal(DefaultConfig(), config)
	require.NoError(config.Verify())
}

func TestParseOverlay(t *testing.T) {
	require := require.New(t)

	config, err := Parse([]byte(`{"defaultFeeBps":5,"workers":1,"allowCredit":true}`))
	require.NoError(err)
	require.Equal(uint16(5), config.DefaultFeeBps)
	require.Equal(1, config.Workers)
	require.True(config.AllowCredit)
	require.Equal(DefaultConfig().QueueSize, config.QueueSize)
	require.Equal(DefaultConfig().ComputationTimeout, config.ComputationTimeout)
}

func TestParseGenesis(t *testing.T) {
	require := require.New(t)

	want := DefaultConfig()
	want.Genesis = []Allocation{{
		Owner:  ids.GenerateTestShortID(),
		Token:  ids.GenerateTestID(),
		Amount: 1_000_000,
	}}
	b, err := json.Marshal(want)
	require.NoError(err)

	got, err := Parse(b)
	require.NoError(err)
	require.Equal(want, got)
}

func TestVerify(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{
			name:   "fee above 100%",
			modify: func(c *Config) { c.DefaultFeeBps = 10_001 },
		},
		{
			name:   "no timeout",
			modify: func(c *Config) { c.ComputationTimeout = 0 },
		},
		{
			name:   "negative reap interval",
			modify: func(c *Config) { c.ReapInterval = -time.Second },
		},
		{
			name:   "no queue",
			modify: func(c *Config) { c.QueueSize = 0 },
		},
		{
			name:   "no workers",
			modify: func(c *Config) { c.Workers = 0 },
		},
		{
			name:   "key not hex",
			modify: func(c *Config) { c.ClusterKey = "zz" },
		},
		{
			name:   "short key",
			modify: func(c *Config) { c.ClusterKey = "abcd" },
		},
		{
			name: "empty allocation",
			modify: func(c *Config) {
				c.Genesis = []Allocation{{Owner: ids.GenerateTestShortID()}}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.modify(&config)
			require.ErrorIs(t, config.Verify(), ErrInvalidConfig)
		})
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	_, err := Parse([]byte(`{"workers":"many"}`))
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = Parse([]byte(`{"defaultFeeBps":20000}`))
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestKey(t *testing.T) {
	require := require.New(t)

	config := DefaultConfig()
	generated, err := config.Key(bytes.NewReader(bytes.Repeat([]byte{7}, mpc.KeySize)))
	require.NoError(err)

	config.ClusterKey = hex.EncodeToString(generated[:])
	require.NoError(config.Verify())
	loaded, err := config.Key(nil)
	require.NoError(err)
	require.Equal(generated, loaded)
	require.Equal(generated.PublicKey(), loaded.PublicKey())
}
