// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/google/renameio/v2"

	"github.com/luxfi/whispr/vms/whisprvm/mpc"
)

// loadOrCreateKey returns the hex cluster key stored at path, creating the
// file with a new key when it does not exist. Keeping the key keeps the
// cluster id stable across restarts.
func loadOrCreateKey(path string) (string, error) {
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		return strings.TrimSpace(string(b)), nil
	case !errors.Is(err, fs.ErrNotExist):
		return "", fmt.Errorf("failed to read cluster key: %w", err)
	}

	key, err := mpc.GenerateKey(rand.Reader)
	if err != nil {
		return "", err
	}
	encoded := hex.EncodeToString(key[:])
	if err := renameio.WriteFile(path, []byte(encoded+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("failed to write cluster key: %w", err)
	}
	return encoded, nil
}
