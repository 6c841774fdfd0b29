// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package api

import (
	"context"
	"crypto/rand"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/database/memdb"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/whispr/utils/json"
	"github.com/luxfi/whispr/utils/timer/mockable"
	"github.com/luxfi/whispr/vms/whisprvm/confidential"
	"github.com/luxfi/whispr/vms/whisprvm/liquidity"
	"github.com/luxfi/whispr/vms/whisprvm/mpc"
	"github.com/luxfi/whispr/vms/whisprvm/state"
)

type testVM struct {
	bootstrapped bool
	allowCredit  bool
	ledger       *state.State
	pools        *liquidity.Manager
	cluster      *mpc.Cluster
	coordinator  *confidential.Coordinator
}

func (vm *testVM) IsBootstrapped() bool                      { return vm.bootstrapped }
func (vm *testVM) GetLiquidityManager() *liquidity.Manager   { return vm.pools }
func (vm *testVM) GetCoordinator() *confidential.Coordinator { return vm.coordinator }
func (vm *testVM) GetLedger() *state.State                   { return vm.ledger }
func (vm *testVM) DefaultFeeBps() uint16                     { return 30 }
func (vm *testVM) CreditEnabled() bool                       { return vm.allowCredit }

func (vm *testVM) GetCluster() (ids.ID, mpc.PublicKey) {
	return vm.cluster.ID(), vm.cluster.PublicKey()
}

func newTestService(t *testing.T) (*Service, *testVM) {
	t.Helper()
	require := require.New(t)

	logger := log.NewNoOpLogger()
	clock := &mockable.Clock{}
	ledger := state.New(memdb.New())
	pools := liquidity.NewManager(logger, ledger, clock, nil)

	key, err := mpc.GenerateKey(rand.Reader)
	require.NoError(err)
	cluster, err := mpc.NewCluster(logger, mpc.ClusterConfig{Key: key, QueueSize: 4, Workers: 1})
	require.NoError(err)

	coordinator := confidential.NewCoordinator(
		logger,
		confidential.Config{ClusterID: cluster.ID(), Timeout: time.Minute},
		ledger,
		pools,
		cluster,
		clock,
		nil,
	)
	cluster.SetCallback(coordinator.HandleResult)
	require.NoError(cluster.Start(context.Background()))
	t.Cleanup(func() {
		require.NoError(cluster.Stop())
	})

	vm := &testVM{
		bootstrapped: true,
		allowCredit:  true,
		ledger:       ledger,
		pools:        pools,
		cluster:      cluster,
		coordinator:  coordinator,
	}
	return NewService(vm), vm
}

type testPool struct {
	id     string
	tokenX string
	tokenY string
	owner  string
}

// newTestPool creates a pool seeded with (1_000_000, 1_000_000) by owner.
func newTestPool(t *testing.T, s *Service) testPool {
	t.Helper()
	require := require.New(t)
	req := httptest.NewRequest("POST", "/", nil)

	p := testPool{
		tokenX: ids.GenerateTestID().String(),
		tokenY: ids.GenerateTestID().String(),
		owner:  ids.GenerateTestShortID().String(),
	}
	for _, token := range []string{p.tokenX, p.tokenY} {
		require.NoError(s.Credit(req, &CreditArgs{Owner: p.owner, Token: token, Amount: 1_000_000}, &BalanceReply{}))
	}

	initReply := &InitializePoolReply{}
	require.NoError(s.InitializePool(req, &InitializePoolArgs{
		TokenX:    p.tokenX,
		TokenY:    p.tokenY,
		Authority: p.owner,
	}, initReply))
	p.id = initReply.PoolID

	depositReply := &DepositReply{}
	require.NoError(s.Deposit(req, &DepositArgs{
		PoolID: p.id,
		Owner:  p.owner,
		Amount: 1_000_000,
		MaxX:   1_000_000,
		MaxY:   1_000_000,
	}, depositReply))
	require.Equal(json.Uint64(1_000_000), depositReply.LPMinted)
	return p
}

func TestPoolLifecycle(t *testing.T) {
	require := require.New(t)
	s, _ := newTestService(t)
	req := httptest.NewRequest("POST", "/", nil)
	p := newTestPool(t, s)

	pool := &GetPoolReply{}
	require.NoError(s.GetPool(req, &PoolArgs{PoolID: p.id}, pool))
	require.Equal(json.Uint16(30), pool.FeeBps)
	require.Equal(p.owner, pool.Authority)
	require.Equal(json.Uint64(1_000_000), pool.ReserveX)
	require.Equal(json.Uint64(1_000_000), pool.LPSupply)

	list := &ListPoolsReply{}
	require.NoError(s.ListPools(req, &struct{}{}, list))
	require.Equal([]string{p.id}, list.PoolIDs)

	quote := &QuoteReply{}
	require.NoError(s.Quote(req, &QuoteArgs{PoolID: p.id, AmountIn: 1_000}, quote))
	require.Equal(json.Uint64(997), quote.AmountOut)

	trader := ids.GenerateTestShortID().String()
	require.NoError(s.Credit(req, &CreditArgs{Owner: trader, Token: p.tokenX, Amount: 1_000}, &BalanceReply{}))
	swap := &QuoteReply{}
	require.NoError(s.Swap(req, &SwapArgs{PoolID: p.id, Trader: trader, AmountIn: 1_000, MinAmountOut: 997}, swap))
	require.Equal(*quote, *swap)

	balance := &BalanceReply{}
	require.NoError(s.GetBalance(req, &BalanceArgs{Owner: trader, Token: p.tokenY}, balance))
	require.Equal(json.Uint64(997), balance.Balance)

	withdraw := &WithdrawReply{}
	require.NoError(s.Withdraw(req, &WithdrawArgs{PoolID: p.id, Owner: p.owner, Amount: 1_000_000}, withdraw))
	require.Equal(json.Uint64(1_001_000), withdraw.AmountX)
	require.Equal(json.Uint64(999_003), withdraw.AmountY)
}

func TestLockUnlock(t *testing.T) {
	require := require.New(t)
	s, _ := newTestService(t)
	req := httptest.NewRequest("POST", "/", nil)
	p := newTestPool(t, s)

	stranger := ids.GenerateTestShortID().String()
	err := s.Lock(req, &LockArgs{PoolID: p.id, Caller: stranger}, &SuccessReply{})
	require.ErrorIs(err, liquidity.ErrInvalidAuthority)

	reply := &SuccessReply{}
	require.NoError(s.Lock(req, &LockArgs{PoolID: p.id, Caller: p.owner}, reply))
	require.True(reply.Success)

	err = s.Swap(req, &SwapArgs{PoolID: p.id, Trader: p.owner, AmountIn: 1}, &QuoteReply{})
	require.ErrorIs(err, liquidity.ErrPoolLocked)

	require.NoError(s.Unlock(req, &LockArgs{PoolID: p.id, Caller: p.owner}, &SuccessReply{}))
}

func TestConfidentialSwap(t *testing.T) {
	require := require.New(t)
	s, _ := newTestService(t)
	req := httptest.NewRequest("POST", "/", nil)
	p := newTestPool(t, s)

	key := &ClusterKeyReply{}
	require.NoError(s.ClusterKey(req, &struct{}{}, key))
	client, err := mpc.NewClientSession(rand.Reader, key.PublicKey)
	require.NoError(err)

	requester := ids.GenerateTestShortID().String()
	require.NoError(s.Credit(req, &CreditArgs{Owner: requester, Token: p.tokenX, Amount: 1_000}, &BalanceReply{}))

	poolID, err := ids.FromString(p.id)
	require.NoError(err)
	nonce := mpc.Nonce{9}
	submitted := &SwapRequestReply{}
	require.NoError(s.SubmitConfidentialSwap(req, &SubmitConfidentialSwapArgs{
		ComputationID: 1,
		Requester:     requester,
		PoolID:        p.id,
		PublicKey:     client.PublicKey(),
		Nonce:         nonce,
		Ciphertext:    client.EncryptOrder(poolID, 1, nonce, mpc.Order{Amount: 1_000, MinOutput: 1}),
	}, submitted))
	require.Equal(confidential.Computing, submitted.Request.Status)

	reply := &SwapRequestReply{}
	require.Eventually(func() bool {
		return s.GetSwapRequest(req, &GetSwapRequestArgs{ComputationID: 1}, reply) == nil &&
			reply.Request.Status.Terminal()
	}, 5*time.Second, time.Millisecond)
	require.Equal(confidential.Executed, reply.Request.Status)

	fill, err := client.DecryptResult(poolID, 1, nonce, reply.Request.SealedResult)
	require.NoError(err)
	require.Equal(uint64(997), fill.Withdraw)

	balance := &BalanceReply{}
	require.NoError(s.GetBalance(req, &BalanceArgs{Owner: requester, Token: p.tokenY}, balance))
	require.Equal(json.Uint64(997), balance.Balance)

	err = s.GetSwapRequest(req, &GetSwapRequestArgs{ComputationID: 2}, &SwapRequestReply{})
	require.ErrorIs(err, confidential.ErrRequestNotFound)
}

func TestHealth(t *testing.T) {
	require := require.New(t)
	s, vm := newTestService(t)
	req := httptest.NewRequest("POST", "/", nil)
	newTestPool(t, s)

	reply := &HealthReply{}
	require.NoError(s.Health(req, &HealthArgs{}, reply))
	require.True(reply.Healthy)
	require.Equal(1, reply.Pools)

	vm.bootstrapped = false
	reply = &HealthReply{}
	require.NoError(s.Health(req, &HealthArgs{}, reply))
	require.False(reply.Healthy)
	require.False(reply.Bootstrapped)
}

func TestRequestValidation(t *testing.T) {
	require := require.New(t)
	s, vm := newTestService(t)
	req := httptest.NewRequest("POST", "/", nil)

	err := s.GetPool(req, &PoolArgs{PoolID: "not an id"}, &GetPoolReply{})
	require.ErrorIs(err, ErrInvalidRequest)

	err = s.GetPool(req, &PoolArgs{PoolID: ids.GenerateTestID().String()}, &GetPoolReply{})
	require.ErrorIs(err, liquidity.ErrPoolNotFound)

	err = s.GetBalance(req, &BalanceArgs{Owner: "bad", Token: ids.GenerateTestID().String()}, &BalanceReply{})
	require.ErrorIs(err, ErrInvalidRequest)

	vm.allowCredit = false
	err = s.Credit(req, &CreditArgs{Owner: ids.GenerateTestShortID().String(), Token: ids.GenerateTestID().String(), Amount: 1}, &BalanceReply{})
	require.ErrorIs(err, ErrCreditDisabled)

	vm.bootstrapped = false
	err = s.Deposit(req, &DepositArgs{}, &DepositReply{})
	require.ErrorIs(err, ErrNotBootstrapped)
}
