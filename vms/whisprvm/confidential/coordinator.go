// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package confidential coordinates confidential swaps. A swap is submitted as
// an encrypted order and resolved later, by correlation id, when the
// computation cluster reports its result.
package confidential

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/whispr/utils/timer/mockable"
	"github.com/luxfi/whispr/vms/whisprvm/liquidity"
	"github.com/luxfi/whispr/vms/whisprvm/metrics"
	"github.com/luxfi/whispr/vms/whisprvm/mpc"
	"github.com/luxfi/whispr/vms/whisprvm/state"
)

const (
	ReasonAborted   = "computation aborted"
	ReasonMalformed = "malformed computation result"
	ReasonSlippage  = "slippage protection triggered"
	ReasonSettle    = "settlement failed"
	ReasonTimeout   = "computation timed out"
)

var (
	ErrDuplicateComputation = errors.New("computation id already pending")
	ErrComputationReused    = errors.New("computation id already resolved")
	ErrRequestNotFound      = errors.New("swap request not found")
	ErrAlreadyResolved      = errors.New("swap request already resolved")
	ErrUnauthorizedCallback = errors.New("callback from unauthorized cluster")
	ErrPoolMismatch         = errors.New("callback pool does not match request")
	ErrAbortedComputation   = errors.New("computation aborted")
	ErrSubmissionRejected   = errors.New("computation rejected by queue")
)

// Pools is the pool ledger the coordinator reads and settles against.
type Pools interface {
	Snapshot(poolID ids.ID) (liquidity.Snapshot, error)
	ApplySwap(poolID ids.ID, requester ids.ShortID, deposit, withdraw uint64, record func(state.Tx) error) error
}

//go:generate go run go.uber.org/mock/mockgen -package=confidentialmock -destination=confidentialmock/queue.go -mock_names=Queue=Queue . Queue

// Queue accepts computations for asynchronous execution.
type Queue interface {
	Submit(mpc.Computation) error
}

// Ledger stores swap requests.
type Ledger interface {
	state.Ledger

	IterateRecords(prefix []byte, fn func(key, value []byte) error) error
}

type Config struct {
	// ClusterID is the only cluster whose results are accepted.
	ClusterID ids.ID
	// Timeout bounds how long a request may wait for its result.
	Timeout time.Duration
	// ReapInterval is how often expired requests are failed.
	ReapInterval time.Duration
}

// SubmitParams describes one encrypted swap order.
type SubmitParams struct {
	ComputationID uint64
	Requester     ids.ShortID
	PoolID        ids.ID
	PublicKey     mpc.PublicKey
	Nonce         mpc.Nonce
	Ciphertext    []byte
}

type requestLock struct {
	mu   sync.Mutex
	refs int
}

// Coordinator owns every SwapRequest. Submit and HandleResult for the same
// computation id never interleave.
type Coordinator struct {
	log     log.Logger
	config  Config
	ledger  Ledger
	pools   Pools
	queue   Queue
	clock   *mockable.Clock
	metrics *metrics.Metrics

	locksLock sync.Mutex
	locks     map[uint64]*requestLock

	expiry *expiryIndex

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

func NewCoordinator(
	logger log.Logger,
	config Config,
	ledger Ledger,
	pools Pools,
	queue Queue,
	clock *mockable.Clock,
	m *metrics.Metrics,
) *Coordinator {
	return &Coordinator{
		log:     logger,
		config:  config,
		ledger:  ledger,
		pools:   pools,
		queue:   queue,
		clock:   clock,
		metrics: m,
		locks:   make(map[uint64]*requestLock),
		expiry:  newExpiryIndex(),
		stop:    make(chan struct{}),
	}
}

// Initialize rebuilds the expiry index from the persisted requests.
func (c *Coordinator) Initialize() error {
	err := c.ledger.IterateRecords(prefixSwap, func(_, value []byte) error {
		req, err := parseRequest(value)
		if err != nil {
			return err
		}
		if !req.Status.Terminal() {
			c.expiry.add(req)
		}
		return nil
	})
	if err != nil {
		return err
	}

	pending := c.expiry.len()
	c.metrics.SetPending(pending)
	c.log.Info("swap coordinator initialized",
		log.Int("pending", pending),
	)
	return nil
}

// Submit records a new request and hands its order to the queue. The pool's
// reserves are captured now and priced inside the computation; the request
// is left Computing until HandleResult or Reap resolves it.
func (c *Coordinator) Submit(p SubmitParams) (*SwapRequest, error) {
	if len(p.Ciphertext) != mpc.OrderCiphertextLen {
		return nil, fmt.Errorf("%w: order ciphertext is %d bytes", mpc.ErrMalformedPayload, len(p.Ciphertext))
	}

	unlock := c.lockRequest(p.ComputationID)
	defer unlock()

	snap, err := c.pools.Snapshot(p.PoolID)
	if err != nil {
		return nil, err
	}
	if snap.Locked {
		return nil, liquidity.ErrPoolLocked
	}

	existing, err := getRequest(c.ledger, p.ComputationID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.Status.Terminal() {
			return nil, fmt.Errorf("%w: %d is %s", ErrComputationReused, p.ComputationID, existing.Status)
		}
		return nil, fmt.Errorf("%w: %d", ErrDuplicateComputation, p.ComputationID)
	}

	now := c.clock.Time()
	req := &SwapRequest{
		ComputationID: p.ComputationID,
		Requester:     p.Requester,
		PoolID:        p.PoolID,
		ClusterID:     c.config.ClusterID,
		PublicKey:     p.PublicKey,
		Nonce:         p.Nonce,
		Status:        Initiated,
		CreatedAt:     now.Unix(),
		SubmittedAt:   now,
		Deadline:      now.Add(c.config.Timeout).Unix(),
	}
	if err := c.save(req); err != nil {
		return nil, err
	}

	err = c.queue.Submit(mpc.Computation{
		ID:         p.ComputationID,
		PoolID:     p.PoolID,
		PublicKey:  p.PublicKey,
		Nonce:      p.Nonce,
		Ciphertext: p.Ciphertext,
		ReserveX:   snap.ReserveX,
		ReserveY:   snap.ReserveY,
		LPSupply:   snap.LPSupply,
		FeeBps:     snap.FeeBps,
	})
	if err != nil {
		// Rejected before acceptance: forget the request so the id can be
		// retried.
		if delErr := c.ledger.Atomic(func(tx state.Tx) error {
			return tx.Delete(requestKey(p.ComputationID))
		}); delErr != nil {
			return nil, errors.Join(err, delErr)
		}
		return nil, fmt.Errorf("%w: %w", ErrSubmissionRejected, err)
	}

	// Indexed before the transition is persisted so a failed write still
	// expires. Every indexed request counts as pending.
	c.expiry.add(req)
	c.metrics.SwapSubmitted()
	if err := req.transition(Computing); err != nil {
		return nil, err
	}
	if err := c.save(req); err != nil {
		return nil, err
	}

	c.log.Info("confidential swap initiated",
		log.Uint64("computationID", req.ComputationID),
		log.Stringer("poolID", req.PoolID),
		log.Stringer("requester", req.Requester),
		log.Uint64("reserveX", snap.ReserveX),
		log.Uint64("reserveY", snap.ReserveY),
	)
	return req, nil
}

// HandleResult is the computation callback. Results from another cluster or
// for another pool are rejected without touching the request, as are
// results for a request that is already resolved.
func (c *Coordinator) HandleResult(_ context.Context, res mpc.Result) error {
	unlock := c.lockRequest(res.ComputationID)
	defer unlock()

	req, err := getRequest(c.ledger, res.ComputationID)
	if err != nil {
		return err
	}
	switch {
	case req == nil:
		return c.reject(res, "unknown", fmt.Errorf("%w: %d", ErrRequestNotFound, res.ComputationID))
	case req.Status.Terminal():
		return c.reject(res, "replay", fmt.Errorf("%w: %d is %s", ErrAlreadyResolved, res.ComputationID, req.Status))
	case res.ClusterID != req.ClusterID:
		return c.reject(res, "unauthorized", fmt.Errorf("%w: %s", ErrUnauthorizedCallback, res.ClusterID))
	case res.PoolID != req.PoolID:
		return c.reject(res, "pool_mismatch", fmt.Errorf("%w: got %s, want %s", ErrPoolMismatch, res.PoolID, req.PoolID))
	}

	if res.Aborted {
		if err := c.fail(req, ReasonAborted, res.Reason); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s", ErrAbortedComputation, res.Reason)
	}

	out, err := mpc.ParseSwapResult(res.Payload)
	if err != nil {
		if failErr := c.fail(req, ReasonMalformed, err.Error()); failErr != nil {
			return failErr
		}
		return err
	}
	req.SealedResult = res.Sealed

	// A zero deposit paired with a payout can only come from a broken
	// computation.
	if out.Deposit == 0 && out.Withdraw != 0 {
		if err := c.fail(req, ReasonMalformed, "withdraw without deposit"); err != nil {
			return err
		}
		return fmt.Errorf("%w: withdraw %d without deposit", liquidity.ErrInvalidAmount, out.Withdraw)
	}
	if out.Withdraw == 0 {
		return c.fail(req, ReasonSlippage, "")
	}

	executed := *req
	now := c.clock.Time()
	err = c.pools.ApplySwap(req.PoolID, req.Requester, out.Deposit, out.Withdraw, func(tx state.Tx) error {
		if err := executed.transition(Executed); err != nil {
			return err
		}
		executed.AppliedDeposit = out.Deposit
		executed.AppliedWithdraw = out.Withdraw
		executed.ResolvedAt = now.Unix()
		return putRequest(tx, &executed)
	})
	if err != nil {
		if failErr := c.fail(req, ReasonSettle, err.Error()); failErr != nil {
			return errors.Join(err, failErr)
		}
		return err
	}

	c.resolved(&executed, now)
	c.log.Info("confidential swap executed",
		log.Uint64("computationID", executed.ComputationID),
		log.Stringer("poolID", executed.PoolID),
		log.Stringer("requester", executed.Requester),
		log.Uint64("deposit", executed.AppliedDeposit),
		log.Uint64("withdraw", executed.AppliedWithdraw),
	)
	return nil
}

// Get returns the request for computationID.
func (c *Coordinator) Get(computationID uint64) (*SwapRequest, error) {
	req, err := getRequest(c.ledger, computationID)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, fmt.Errorf("%w: %d", ErrRequestNotFound, computationID)
	}
	return req, nil
}

// Pending returns the number of unresolved requests.
func (c *Coordinator) Pending() int {
	return c.expiry.len()
}

// Reap fails every unresolved request whose deadline is at or before now and
// returns how many it failed. Results that arrive later are replays.
func (c *Coordinator) Reap(now time.Time) (int, error) {
	var (
		reaped int
		errs   []error
	)
	for _, id := range c.expiry.expired(now.Unix()) {
		ok, err := c.reapOne(id, now.Unix())
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			reaped++
		}
	}
	return reaped, errors.Join(errs...)
}

func (c *Coordinator) reapOne(computationID uint64, now int64) (bool, error) {
	unlock := c.lockRequest(computationID)
	defer unlock()

	req, err := getRequest(c.ledger, computationID)
	if err != nil {
		return false, err
	}
	// Resolved or deleted while waiting for the lock.
	if req == nil || req.Status.Terminal() || req.Deadline > now {
		return false, nil
	}
	return true, c.fail(req, ReasonTimeout, "")
}

// Start runs the reaper until Stop.
func (c *Coordinator) Start() {
	if c.config.ReapInterval <= 0 {
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		ticker := time.NewTicker(c.config.ReapInterval)
		defer ticker.Stop()

		for {
			select {
			case <-c.stop:
				return
			case <-ticker.C:
				n, err := c.Reap(c.clock.Time())
				if err != nil {
					c.log.Error("failed to reap swap requests",
						log.Err(err),
					)
				}
				if n > 0 {
					c.log.Warn("reaped expired swap requests",
						log.Int("count", n),
					)
				}
			}
		}
	}()
}

func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
	c.wg.Wait()
}

// fail resolves req to Failed with no transfers.
func (c *Coordinator) fail(req *SwapRequest, reason, detail string) error {
	if err := req.transition(Failed); err != nil {
		return err
	}
	req.FailureReason = reason
	if detail != "" {
		req.FailureReason = reason + ": " + detail
	}
	now := c.clock.Time()
	req.ResolvedAt = now.Unix()
	if err := c.save(req); err != nil {
		return err
	}

	c.resolved(req, now)
	c.log.Info("confidential swap failed",
		log.Uint64("computationID", req.ComputationID),
		log.Stringer("poolID", req.PoolID),
		log.Stringer("requester", req.Requester),
		log.String("reason", req.FailureReason),
	)
	return nil
}

func (c *Coordinator) resolved(req *SwapRequest, now time.Time) {
	c.expiry.remove(req)
	elapsed := max(now.Sub(req.SubmittedAt), 0)
	reason := ""
	if req.Status == Failed {
		reason = failureLabel(req.FailureReason)
	}
	c.metrics.SwapResolved(req.Status.String(), reason, elapsed)
}

func (c *Coordinator) reject(res mpc.Result, label string, err error) error {
	c.metrics.CallbackRejected(label)
	c.log.Warn("rejected computation result",
		log.Uint64("computationID", res.ComputationID),
		log.Stringer("clusterID", res.ClusterID),
		log.Err(err),
	)
	return err
}

func (c *Coordinator) save(req *SwapRequest) error {
	return c.ledger.Atomic(func(tx state.Tx) error {
		return putRequest(tx, req)
	})
}

func (c *Coordinator) lockRequest(computationID uint64) func() {
	c.locksLock.Lock()
	l, ok := c.locks[computationID]
	if !ok {
		l = &requestLock{}
		c.locks[computationID] = l
	}
	l.refs++
	c.locksLock.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		c.locksLock.Lock()
		l.refs--
		if l.refs == 0 {
			delete(c.locks, computationID)
		}
		c.locksLock.Unlock()
	}
}

// failureLabel maps a failure reason to a bounded metric label.
func failureLabel(reason string) string {
	for _, r := range []string{ReasonAborted, ReasonMalformed, ReasonSlippage, ReasonSettle, ReasonTimeout} {
		if strings.HasPrefix(reason, r) {
			return r
		}
	}
	return "other"
}
