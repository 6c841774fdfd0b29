// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package whisprvm

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/rpc/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/luxfi/database"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/utils/json"

	"github.com/luxfi/whispr/utils/timer/mockable"
	"github.com/luxfi/whispr/vms/whisprvm/api"
	"github.com/luxfi/whispr/vms/whisprvm/confidential"
	"github.com/luxfi/whispr/vms/whisprvm/config"
	"github.com/luxfi/whispr/vms/whisprvm/liquidity"
	"github.com/luxfi/whispr/vms/whisprvm/metrics"
	"github.com/luxfi/whispr/vms/whisprvm/mpc"
	"github.com/luxfi/whispr/vms/whisprvm/state"
)

const serviceName = "whispr"

var (
	errNotInitialized = errors.New("VM not initialized")
	errShutdown       = errors.New("VM is shutting down")

	genesisKey = []byte("meta:genesis")
)

// VM wires the pool ledger, the computation cluster and the confidential swap
// coordinator over one database:
//   - constant product pools with transparent deposit, withdraw and swap
//   - confidential swaps priced inside the computation cluster
//   - a background reaper failing swaps whose result never arrives
type VM struct {
	config config.Config

	log        log.Logger
	registerer prometheus.Registerer

	lock sync.RWMutex

	db    database.Database
	clock mockable.Clock

	metrics     *metrics.Metrics
	ledger      *state.State
	pools       *liquidity.Manager
	cluster     *mpc.Cluster
	coordinator *confidential.Coordinator

	isInitialized bool
	bootstrapped  bool
	shutdown      bool
}

// New returns an uninitialized VM. registerer may be nil.
func New(logger log.Logger, registerer prometheus.Registerer) *VM {
	return &VM{
		log:        logger,
		registerer: registerer,
	}
}

// Initialize parses configBytes and builds every component over db. Genesis
// balances are credited the first time db is initialized.
func (vm *VM) Initialize(ctx context.Context, db database.Database, configBytes []byte) error {
	vm.lock.Lock()
	defer vm.lock.Unlock()

	cfg, err := config.Parse(configBytes)
	if err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	vm.config = cfg
	vm.db = db

	if vm.registerer != nil {
		vm.metrics, err = metrics.New(cfg.MetricsNamespace, vm.registerer)
		if err != nil {
			return fmt.Errorf("failed to register metrics: %w", err)
		}
	}

	vm.ledger = state.New(db)
	vm.pools = liquidity.NewManager(vm.log, vm.ledger, &vm.clock, vm.metrics)

	key, err := cfg.Key(rand.Reader)
	if err != nil {
		return err
	}
	vm.cluster, err = mpc.NewCluster(vm.log, mpc.ClusterConfig{
		Key:       key,
		QueueSize: cfg.QueueSize,
		Workers:   cfg.Workers,
	})
	if err != nil {
		return fmt.Errorf("failed to create computation cluster: %w", err)
	}

	vm.coordinator = confidential.NewCoordinator(
		vm.log,
		confidential.Config{
			ClusterID:    vm.cluster.ID(),
			Timeout:      cfg.ComputationTimeout,
			ReapInterval: cfg.ReapInterval,
		},
		vm.ledger,
		vm.pools,
		vm.cluster,
		&vm.clock,
		vm.metrics,
	)
	vm.cluster.SetCallback(vm.coordinator.HandleResult)
	if err := vm.coordinator.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize swap coordinator: %w", err)
	}

	if err := vm.applyGenesis(); err != nil {
		return fmt.Errorf("failed to apply genesis: %w", err)
	}

	vm.isInitialized = true
	vm.log.Info("whispr VM initialized",
		log.Stringer("clusterID", vm.cluster.ID()),
		log.Stringer("clusterKey", vm.cluster.PublicKey()),
		log.Int("genesisAllocations", len(cfg.Genesis)),
		log.Bool("allowCredit", cfg.AllowCredit),
	)
	return nil
}

// applyGenesis credits every allocation and writes the marker in one unit of
// work, so a crash can never leave allocations without the marker.
func (vm *VM) applyGenesis() error {
	return vm.ledger.Atomic(func(tx state.Tx) error {
		_, err := tx.Get(genesisKey)
		if err == nil {
			return nil
		}
		if !errors.Is(err, database.ErrNotFound) {
			return err
		}

		for _, a := range vm.config.Genesis {
			if err := tx.Credit(a.Owner, a.Token, uint64(a.Amount)); err != nil {
				return fmt.Errorf("allocation to %s: %w", a.Owner, err)
			}
		}
		return tx.Put(genesisKey, []byte{1})
	})
}

// Start launches the computation workers and the reaper.
func (vm *VM) Start(ctx context.Context) error {
	vm.lock.Lock()
	defer vm.lock.Unlock()

	switch {
	case !vm.isInitialized:
		return errNotInitialized
	case vm.shutdown:
		return errShutdown
	case vm.bootstrapped:
		return nil
	}

	if err := vm.cluster.Start(ctx); err != nil {
		return err
	}
	vm.coordinator.Start()
	vm.bootstrapped = true

	vm.log.Info("whispr VM started",
		log.Int("workers", vm.config.Workers),
		log.Duration("computationTimeout", vm.config.ComputationTimeout),
	)
	return nil
}

// Shutdown stops the background work and closes the database. Computations
// still queued are dropped and later fail by timeout.
func (vm *VM) Shutdown(context.Context) error {
	vm.lock.Lock()
	defer vm.lock.Unlock()

	if vm.shutdown {
		return nil
	}
	vm.shutdown = true
	vm.bootstrapped = false
	if !vm.isInitialized {
		return nil
	}

	vm.coordinator.Stop()
	errs := []error{vm.cluster.Stop()}
	if err := vm.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close database: %w", err))
	}

	vm.log.Info("whispr VM shutdown complete")
	return errors.Join(errs...)
}

// CreateHandlers returns the JSON-RPC handler of the VM.
func (vm *VM) CreateHandlers(context.Context) (map[string]http.Handler, error) {
	server := rpc.NewServer()
	server.RegisterCodec(json.NewCodec(), "application/json")
	server.RegisterCodec(json.NewCodec(), "application/json;charset=UTF-8")
	if err := server.RegisterService(api.NewService(vm), serviceName); err != nil {
		return nil, fmt.Errorf("failed to register %s service: %w", serviceName, err)
	}
	return map[string]http.Handler{
		"": server,
	}, nil
}

// HealthCheck audits every pool. It errors when any invariant is broken.
func (vm *VM) HealthCheck(context.Context) (interface{}, error) {
	vm.lock.RLock()
	defer vm.lock.RUnlock()

	if !vm.isInitialized {
		return nil, errNotInitialized
	}
	pools, err := vm.pools.Pools()
	if err != nil {
		return nil, err
	}
	details := map[string]interface{}{
		"bootstrapped": vm.bootstrapped,
		"pools":        len(pools),
		"pendingSwaps": vm.coordinator.Pending(),
	}
	return details, vm.pools.CheckInvariants()
}

func (vm *VM) IsBootstrapped() bool {
	vm.lock.RLock()
	defer vm.lock.RUnlock()

	return vm.bootstrapped
}

func (vm *VM) GetLiquidityManager() *liquidity.Manager {
	return vm.pools
}

func (vm *VM) GetCoordinator() *confidential.Coordinator {
	return vm.coordinator
}

func (vm *VM) GetLedger() *state.State {
	return vm.ledger
}

func (vm *VM) GetCluster() (ids.ID, mpc.PublicKey) {
	return vm.cluster.ID(), vm.cluster.PublicKey()
}

func (vm *VM) DefaultFeeBps() uint16 {
	return vm.config.DefaultFeeBps
}

func (vm *VM) CreditEnabled() bool {
	return vm.config.AllowCredit
}
