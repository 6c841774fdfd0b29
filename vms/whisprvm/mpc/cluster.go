// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package mpc is the confidential computation boundary. Requesters encrypt
// swap orders to the cluster's x25519 key; the cluster decrypts them, runs
// the swap circuit and reports each result exactly once through a callback,
// asynchronously to the submission.
package mpc

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"
)

var (
	ErrQueueFull           = errors.New("computation queue full")
	ErrDuplicateSubmission = errors.New("computation already submitted")
	ErrClusterStopped      = errors.New("cluster stopped")
	ErrNoCallback          = errors.New("no callback registered")
)

// Computation is one queued swap: the requester's encryption context and
// ciphertext plus the public pool parameters captured at submission.
type Computation struct {
	ID         uint64
	PoolID     ids.ID
	PublicKey  PublicKey
	Nonce      Nonce
	Ciphertext []byte

	ReserveX uint64
	ReserveY uint64
	LPSupply uint64
	FeeBps   uint16
}

// Result is delivered to the callback once per accepted Computation. When
// Aborted is false, Payload is the settlement pair in the clear and Sealed is
// the same pair encrypted for the requester.
type Result struct {
	ComputationID uint64
	PoolID        ids.ID
	ClusterID     ids.ID
	Aborted       bool
	Reason        string
	Payload       []byte
	Sealed        []byte
}

// Callback receives results. Its error is logged and otherwise ignored: a
// result is never redelivered.
type Callback func(context.Context, Result) error

// ClusterConfig configures a Cluster.
type ClusterConfig struct {
	Key       PrivateKey
	QueueSize int
	Workers   int
}

// Cluster is an in-process stand-in for an MPC cluster.
type Cluster struct {
	log     log.Logger
	id      ids.ID
	key     PrivateKey
	pub     PublicKey
	workers int

	queue chan Computation

	mu       sync.Mutex
	inflight map[uint64]struct{}
	callback Callback
	stopped  bool
	cancel   context.CancelFunc
	group    *errgroup.Group
}

// NewCluster returns a stopped cluster.
func NewCluster(logger log.Logger, config ClusterConfig) (*Cluster, error) {
	if config.QueueSize <= 0 || config.Workers <= 0 {
		return nil, fmt.Errorf("invalid cluster config: queue size %d, workers %d", config.QueueSize, config.Workers)
	}
	pub := config.Key.PublicKey()
	return &Cluster{
		log:      logger,
		id:       ids.ID(sha256.Sum256(pub[:])),
		key:      config.Key,
		pub:      pub,
		workers:  config.Workers,
		queue:    make(chan Computation, config.QueueSize),
		inflight: make(map[uint64]struct{}),
	}, nil
}

// ID identifies this cluster in every Result it produces.
func (c *Cluster) ID() ids.ID {
	return c.id
}

// PublicKey is the key requesters encrypt orders to.
func (c *Cluster) PublicKey() PublicKey {
	return c.pub
}

// SetCallback must be called before Start.
func (c *Cluster) SetCallback(cb Callback) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.callback = cb
}

// Start launches the workers. They run until Stop or until ctx is done.
func (c *Cluster) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return ErrClusterStopped
	}
	if c.callback == nil {
		return ErrNoCallback
	}
	if c.group != nil {
		return nil
	}

	ctx, c.cancel = context.WithCancel(ctx)
	c.group, ctx = errgroup.WithContext(ctx)
	for i := 0; i < c.workers; i++ {
		c.group.Go(func() error {
			return c.work(ctx)
		})
	}

	c.log.Info("computation cluster started",
		log.Stringer("clusterID", c.id),
		log.Int("workers", c.workers),
	)
	return nil
}

// Stop halts the workers and waits for them. Queued computations are dropped
// without a callback.
func (c *Cluster) Stop() error {
	c.mu.Lock()
	c.stopped = true
	cancel, group := c.cancel, c.group
	c.mu.Unlock()

	if group == nil {
		return nil
	}
	cancel()
	err := group.Wait()

	c.log.Info("computation cluster stopped",
		log.Stringer("clusterID", c.id),
		log.Int("dropped", len(c.queue)),
	)
	return err
}

// Submit queues comp without blocking. Each computation id is accepted at
// most once while it is in flight.
func (c *Cluster) Submit(comp Computation) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return ErrClusterStopped
	}
	if _, ok := c.inflight[comp.ID]; ok {
		return fmt.Errorf("%w: %d", ErrDuplicateSubmission, comp.ID)
	}

	select {
	case c.queue <- comp:
	default:
		c.log.Warn("computation queue full",
			log.Uint64("computationID", comp.ID),
		)
		return ErrQueueFull
	}
	c.inflight[comp.ID] = struct{}{}

	c.log.Debug("computation queued",
		log.Uint64("computationID", comp.ID),
		log.Stringer("poolID", comp.PoolID),
	)
	return nil
}

func (c *Cluster) work(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case comp := <-c.queue:
			c.deliver(ctx, c.execute(comp))
		}
	}
}

func (c *Cluster) deliver(ctx context.Context, res Result) {
	c.mu.Lock()
	cb := c.callback
	c.mu.Unlock()

	if err := cb(ctx, res); err != nil {
		c.log.Debug("computation result not applied",
			log.Uint64("computationID", res.ComputationID),
			log.Err(err),
		)
	}

	c.mu.Lock()
	delete(c.inflight, res.ComputationID)
	c.mu.Unlock()
}

// execute runs the swap circuit over comp. Any failure aborts the
// computation rather than returning a partial result.
func (c *Cluster) execute(comp Computation) Result {
	res := Result{
		ComputationID: comp.ID,
		PoolID:        comp.PoolID,
		ClusterID:     c.id,
	}
	abort := func(err error) Result {
		res.Aborted = true
		res.Reason = err.Error()
		return res
	}

	s, err := newSession(c.key, comp.PublicKey)
	if err != nil {
		return abort(err)
	}
	ad := OrderAD(comp.PoolID, comp.ID)
	plaintext, err := open(s.order, comp.Nonce, ad, comp.Ciphertext)
	if err != nil {
		return abort(err)
	}
	order, err := ParseOrder(plaintext)
	if err != nil {
		return abort(err)
	}

	out, err := ComputeSwap(CircuitInput{
		Order:    order,
		ReserveX: comp.ReserveX,
		ReserveY: comp.ReserveY,
		LPSupply: comp.LPSupply,
		FeeBps:   comp.FeeBps,
	})
	if err != nil {
		return abort(err)
	}

	res.Payload = out.Bytes()
	res.Sealed = s.result.Seal(nil, comp.Nonce[:], res.Payload, ad)
	return res
}
