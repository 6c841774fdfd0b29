// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	require := require.New(t)

	reg := prometheus.NewRegistry()
	m, err := New("whispr", reg)
	require.NoError(err)

	m.PoolOp("deposit", nil)
	m.PoolOp("deposit", errors.New("boom"))
	m.SwapSubmitted()
	m.SwapSubmitted()
	m.SwapResolved("executed", "", time.Second)
	m.CallbackRejected("unauthorized")

	require.InDelta(1, testutil.ToFloat64(m.poolOps.WithLabelValues("deposit", resultOK)), 0)
	require.InDelta(1, testutil.ToFloat64(m.poolOps.WithLabelValues("deposit", resultError)), 0)
	require.InDelta(2, testutil.ToFloat64(m.swapsSubmitted), 0)
	require.InDelta(1, testutil.ToFloat64(m.swapsPending), 0)
	require.InDelta(1, testutil.ToFloat64(m.callbacksDenied.WithLabelValues("unauthorized")), 0)

	// Registering twice fails.
	_, err = New("whispr", reg)
	require.Error(err)
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.PoolOp("swap", nil)
	m.SwapSubmitted()
	m.SwapResolved("failed", "aborted", 0)
	m.SetPending(3)
	m.CallbackRejected("replay")
}
