// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package whisprvm implements Whispr, a constant product AMM whose swaps can
// be submitted as encrypted orders.
//
// A confidential swap is priced inside a computation cluster that alone can
// decrypt the order. The VM only learns the settlement amounts when the
// cluster reports them, and applies them to the pool in one unit of work.
package whisprvm

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/whispr/vms"
	"github.com/luxfi/whispr/vms/whisprvm/api"
)

var (
	// VMID is the unique identifier for the Whispr VM
	VMID = ids.ID{'w', 'h', 'i', 's', 'p', 'r'}

	_ vms.Factory         = (*Factory)(nil)
	_ vms.HandlerProvider = (*VM)(nil)
	_ api.VM              = (*VM)(nil)
)

// Factory creates new Whispr VM instances.
type Factory struct {
	// Registerer receives the VM metrics. Nil disables metrics.
	Registerer prometheus.Registerer
}

func (f *Factory) New(logger log.Logger) (interface{}, error) {
	return New(logger, f.Registerer), nil
}
