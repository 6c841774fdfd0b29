// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/whispr/vms/whisprvm/mpc"
)

func TestClusterKeyFile(t *testing.T) {
	require := require.New(t)
	path := filepath.Join(t.TempDir(), "cluster.key")

	first, err := parse(t, "--cluster-key-file", path)
	require.NoError(err)
	require.Len(first.VM.ClusterKey, 2*mpc.KeySize)

	info, err := os.Stat(path)
	require.NoError(err)
	require.Equal(os.FileMode(0o600), info.Mode().Perm())

	second, err := parse(t, "--cluster-key-file", path)
	require.NoError(err)
	require.Equal(first.VM.ClusterKey, second.VM.ClusterKey)

	key := strings.Repeat("11", mpc.KeySize)
	explicit, err := parse(t, "--cluster-key-file", path, "--cluster-key", key)
	require.NoError(err)
	require.Equal(key, explicit.VM.ClusterKey)
}
