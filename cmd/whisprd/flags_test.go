// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/ids"

	"github.com/luxfi/whispr/vms/whisprvm/config"
)

func parse(t *testing.T, args ...string) (*Config, error) {
	t.Helper()

	flags := pflag.NewFlagSet("whisprd", pflag.ContinueOnError)
	AddFlags(flags)
	return ParseFlags(flags, args)
}

func TestParseFlagsDefaults(t *testing.T) {
	require := require.New(t)

	c, err := parse(t)
	require.NoError(err)
	require.Equal("127.0.0.1:9650", c.Address())
	require.Equal([]string{"*"}, c.CORSOrigins)
	require.Empty(c.DBDir)

	want := config.DefaultConfig()
	require.Equal(want, c.VM)
}

func TestParseFlagsPriority(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	configFile := filepath.Join(dir, "whisprd.yaml")
	require.NoError(os.WriteFile(configFile, []byte("workers: 2\nqueue-size: 7\nhttp-port: 8000\n"), 0o600))
	t.Setenv("WHISPR_QUEUE_SIZE", "9")

	c, err := parse(t, "--config-file", configFile, "--http-port", "8001", "--computation-timeout", "30s")
	require.NoError(err)
	require.Equal(2, c.VM.Workers)
	require.Equal(9, c.VM.QueueSize)
	require.Equal(uint16(8001), c.HTTPPort)
	require.Equal(30*time.Second, c.VM.ComputationTimeout)
}

func TestParseFlagsGenesis(t *testing.T) {
	require := require.New(t)

	allocations := []config.Allocation{{
		Owner:  ids.GenerateTestShortID(),
		Token:  ids.GenerateTestID(),
		Amount: 42,
	}}
	b, err := json.Marshal(allocations)
	require.NoError(err)
	genesisFile := filepath.Join(t.TempDir(), "genesis.json")
	require.NoError(os.WriteFile(genesisFile, b, 0o600))

	c, err := parse(t, "--genesis-file", genesisFile, "--allow-credit")
	require.NoError(err)
	require.Equal(allocations, c.VM.Genesis)
	require.True(c.VM.AllowCredit)
}

func TestParseFlagsInvalid(t *testing.T) {
	_, err := parse(t, "--default-fee-bps", "10001")
	require.ErrorIs(t, err, config.ErrInvalidConfig)

	_, err = parse(t, "--genesis-file", filepath.Join(t.TempDir(), "missing.json"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
