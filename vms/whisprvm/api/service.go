// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package api provides the JSON-RPC API of the Whispr VM.
package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/luxfi/ids"

	"github.com/luxfi/whispr/utils/json"
	"github.com/luxfi/whispr/vms/whisprvm/confidential"
	"github.com/luxfi/whispr/vms/whisprvm/liquidity"
	"github.com/luxfi/whispr/vms/whisprvm/mpc"
	"github.com/luxfi/whispr/vms/whisprvm/state"
)

var (
	ErrNotBootstrapped = errors.New("whispr not bootstrapped")
	ErrInvalidRequest  = errors.New("invalid request")
	ErrCreditDisabled  = errors.New("credit is disabled")
)

// VM interface for the API service.
type VM interface {
	IsBootstrapped() bool
	GetLiquidityManager() *liquidity.Manager
	GetCoordinator() *confidential.Coordinator
	GetLedger() *state.State
	GetCluster() (ids.ID, mpc.PublicKey)
	DefaultFeeBps() uint16
	CreditEnabled() bool
}

// Service provides the RPC API for the Whispr VM.
type Service struct {
	vm VM
}

// NewService creates a new API service.
func NewService(vm VM) *Service {
	return &Service{vm: vm}
}

// ============================================
// Health
// ============================================

type HealthArgs struct{}

type HealthReply struct {
	Healthy      bool `json:"healthy"`
	Bootstrapped bool `json:"bootstrapped"`
	Pools        int  `json:"pools"`
	PendingSwaps int  `json:"pendingSwaps"`
}

// Health reports whether the pools pass their invariant audit.
func (s *Service) Health(_ *http.Request, _ *HealthArgs, reply *HealthReply) error {
	reply.Bootstrapped = s.vm.IsBootstrapped()
	if !reply.Bootstrapped {
		return nil
	}

	pools, err := s.vm.GetLiquidityManager().Pools()
	if err != nil {
		return err
	}
	reply.Pools = len(pools)
	reply.PendingSwaps = s.vm.GetCoordinator().Pending()
	reply.Healthy = s.vm.GetLiquidityManager().CheckInvariants() == nil
	return nil
}

// ============================================
// Pool APIs
// ============================================

type InitializePoolArgs struct {
	TokenX    string       `json:"tokenX"`
	TokenY    string       `json:"tokenY"`
	Seed      json.Uint64  `json:"seed"`
	FeeBps    *json.Uint16 `json:"feeBps"`    // defaults to the VM's default fee
	Authority string       `json:"authority"` // optional
}

type InitializePoolReply struct {
	PoolID string `json:"poolId"`
	Vault  string `json:"vault"`
}

// InitializePool creates a new pool.
func (s *Service) InitializePool(_ *http.Request, args *InitializePoolArgs, reply *InitializePoolReply) error {
	if !s.vm.IsBootstrapped() {
		return ErrNotBootstrapped
	}

	params := liquidity.InitParams{
		Seed:   uint64(args.Seed),
		FeeBps: s.vm.DefaultFeeBps(),
	}
	var err error
	if params.TokenX, err = parseID("tokenX", args.TokenX); err != nil {
		return err
	}
	if params.TokenY, err = parseID("tokenY", args.TokenY); err != nil {
		return err
	}
	if args.FeeBps != nil {
		params.FeeBps = uint16(*args.FeeBps)
	}
	if args.Authority != "" {
		authority, err := parseShortID("authority", args.Authority)
		if err != nil {
			return err
		}
		params.Authority = &authority
	}

	pool, err := s.vm.GetLiquidityManager().InitializePool(params)
	if err != nil {
		return err
	}
	reply.PoolID = pool.ID.String()
	reply.Vault = pool.Vault.String()
	return nil
}

type PoolArgs struct {
	PoolID string `json:"poolId"`
}

type GetPoolReply struct {
	PoolID    string      `json:"poolId"`
	TokenX    string      `json:"tokenX"`
	TokenY    string      `json:"tokenY"`
	Seed      json.Uint64 `json:"seed"`
	Vault     string      `json:"vault"`
	FeeBps    json.Uint16 `json:"feeBps"`
	Locked    bool        `json:"locked"`
	Authority string      `json:"authority,omitempty"`
	ReserveX  json.Uint64 `json:"reserveX"`
	ReserveY  json.Uint64 `json:"reserveY"`
	LPSupply  json.Uint64 `json:"lpSupply"`
}

// GetPool returns a pool with its current reserves.
func (s *Service) GetPool(_ *http.Request, args *PoolArgs, reply *GetPoolReply) error {
	poolID, err := parseID("poolId", args.PoolID)
	if err != nil {
		return err
	}
	snap, err := s.vm.GetLiquidityManager().Snapshot(poolID)
	if err != nil {
		return err
	}

	reply.PoolID = snap.ID.String()
	reply.TokenX = snap.TokenX.String()
	reply.TokenY = snap.TokenY.String()
	reply.Seed = json.Uint64(snap.Seed)
	reply.Vault = snap.Vault.String()
	reply.FeeBps = json.Uint16(snap.FeeBps)
	reply.Locked = snap.Locked
	if snap.Authority != nil {
		reply.Authority = snap.Authority.String()
	}
	reply.ReserveX = json.Uint64(snap.ReserveX)
	reply.ReserveY = json.Uint64(snap.ReserveY)
	reply.LPSupply = json.Uint64(snap.LPSupply)
	return nil
}

type ListPoolsReply struct {
	PoolIDs []string `json:"poolIds"`
}

// ListPools returns every pool id.
func (s *Service) ListPools(_ *http.Request, _ *struct{}, reply *ListPoolsReply) error {
	pools, err := s.vm.GetLiquidityManager().Pools()
	if err != nil {
		return err
	}
	reply.PoolIDs = make([]string, len(pools))
	for i, id := range pools {
		reply.PoolIDs[i] = id.String()
	}
	return nil
}

type DepositArgs struct {
	PoolID string      `json:"poolId"`
	Owner  string      `json:"owner"`
	Amount json.Uint64 `json:"amount"` // LP units to mint
	MaxX   json.Uint64 `json:"maxX"`
	MaxY   json.Uint64 `json:"maxY"`
}

type DepositReply struct {
	AmountX  json.Uint64 `json:"amountX"`
	AmountY  json.Uint64 `json:"amountY"`
	LPMinted json.Uint64 `json:"lpMinted"`
}

// Deposit adds liquidity to a pool.
func (s *Service) Deposit(_ *http.Request, args *DepositArgs, reply *DepositReply) error {
	if !s.vm.IsBootstrapped() {
		return ErrNotBootstrapped
	}

	poolID, err := parseID("poolId", args.PoolID)
	if err != nil {
		return err
	}
	owner, err := parseShortID("owner", args.Owner)
	if err != nil {
		return err
	}

	res, err := s.vm.GetLiquidityManager().Deposit(poolID, owner, uint64(args.Amount), uint64(args.MaxX), uint64(args.MaxY))
	if err != nil {
		return err
	}
	reply.AmountX = json.Uint64(res.AmountX)
	reply.AmountY = json.Uint64(res.AmountY)
	reply.LPMinted = json.Uint64(res.LPMinted)
	return nil
}

type WithdrawArgs struct {
	PoolID string      `json:"poolId"`
	Owner  string      `json:"owner"`
	Amount json.Uint64 `json:"amount"` // LP units to burn
	MinX   json.Uint64 `json:"minX"`
	MinY   json.Uint64 `json:"minY"`
}

type WithdrawReply struct {
	AmountX  json.Uint64 `json:"amountX"`
	AmountY  json.Uint64 `json:"amountY"`
	LPBurned json.Uint64 `json:"lpBurned"`
}

// Withdraw removes liquidity from a pool.
func (s *Service) Withdraw(_ *http.Request, args *WithdrawArgs, reply *WithdrawReply) error {
	if !s.vm.IsBootstrapped() {
		return ErrNotBootstrapped
	}

	poolID, err := parseID("poolId", args.PoolID)
	if err != nil {
		return err
	}
	owner, err := parseShortID("owner", args.Owner)
	if err != nil {
		return err
	}

	res, err := s.vm.GetLiquidityManager().Withdraw(poolID, owner, uint64(args.Amount), uint64(args.MinX), uint64(args.MinY))
	if err != nil {
		return err
	}
	reply.AmountX = json.Uint64(res.AmountX)
	reply.AmountY = json.Uint64(res.AmountY)
	reply.LPBurned = json.Uint64(res.LPBurned)
	return nil
}

type SwapArgs struct {
	PoolID       string      `json:"poolId"`
	Trader       string      `json:"trader"`
	AmountIn     json.Uint64 `json:"amountIn"`
	MinAmountOut json.Uint64 `json:"minAmountOut"`
}

type QuoteArgs struct {
	PoolID   string      `json:"poolId"`
	AmountIn json.Uint64 `json:"amountIn"`
}

type QuoteReply struct {
	AmountIn  json.Uint64 `json:"amountIn"`
	RawOut    json.Uint64 `json:"rawOut"`
	Fee       json.Uint64 `json:"fee"`
	AmountOut json.Uint64 `json:"amountOut"`
}

// Swap sells AmountIn of the pool's TokenX for TokenY in the clear.
func (s *Service) Swap(_ *http.Request, args *SwapArgs, reply *QuoteReply) error {
	if !s.vm.IsBootstrapped() {
		return ErrNotBootstrapped
	}

	poolID, err := parseID("poolId", args.PoolID)
	if err != nil {
		return err
	}
	trader, err := parseShortID("trader", args.Trader)
	if err != nil {
		return err
	}

	q, err := s.vm.GetLiquidityManager().Swap(poolID, trader, uint64(args.AmountIn), uint64(args.MinAmountOut))
	if err != nil {
		return err
	}
	reply.fill(q.AmountIn, q.RawOut, q.Fee, q.AmountOut)
	return nil
}

// Quote prices a swap against the current reserves without executing it.
func (s *Service) Quote(_ *http.Request, args *QuoteArgs, reply *QuoteReply) error {
	poolID, err := parseID("poolId", args.PoolID)
	if err != nil {
		return err
	}

	q, err := s.vm.GetLiquidityManager().Quote(poolID, uint64(args.AmountIn))
	if err != nil {
		return err
	}
	reply.fill(q.AmountIn, q.RawOut, q.Fee, q.AmountOut)
	return nil
}

func (r *QuoteReply) fill(in, raw, fee, out uint64) {
	r.AmountIn = json.Uint64(in)
	r.RawOut = json.Uint64(raw)
	r.Fee = json.Uint64(fee)
	r.AmountOut = json.Uint64(out)
}

type LockArgs struct {
	PoolID string `json:"poolId"`
	Caller string `json:"caller"`
}

type SuccessReply struct {
	Success bool `json:"success"`
}

// Lock stops deposits, withdrawals and swaps on a pool.
func (s *Service) Lock(_ *http.Request, args *LockArgs, reply *SuccessReply) error {
	return s.setLocked(args, reply, true)
}

// Unlock reopens a locked pool.
func (s *Service) Unlock(_ *http.Request, args *LockArgs, reply *SuccessReply) error {
	return s.setLocked(args, reply, false)
}

func (s *Service) setLocked(args *LockArgs, reply *SuccessReply, locked bool) error {
	if !s.vm.IsBootstrapped() {
		return ErrNotBootstrapped
	}

	poolID, err := parseID("poolId", args.PoolID)
	if err != nil {
		return err
	}
	caller, err := parseShortID("caller", args.Caller)
	if err != nil {
		return err
	}

	m := s.vm.GetLiquidityManager()
	if locked {
		err = m.Lock(poolID, caller)
	} else {
		err = m.Unlock(poolID, caller)
	}
	if err != nil {
		return err
	}
	reply.Success = true
	return nil
}

// ============================================
// Confidential swap APIs
// ============================================

type ClusterKeyReply struct {
	ClusterID string        `json:"clusterId"`
	PublicKey mpc.PublicKey `json:"publicKey"`
}

// ClusterKey returns the key orders must be encrypted to.
func (s *Service) ClusterKey(_ *http.Request, _ *struct{}, reply *ClusterKeyReply) error {
	id, pub := s.vm.GetCluster()
	reply.ClusterID = id.String()
	reply.PublicKey = pub
	return nil
}

type SubmitConfidentialSwapArgs struct {
	ComputationID json.Uint64   `json:"computationId"`
	Requester     string        `json:"requester"`
	PoolID        string        `json:"poolId"`
	PublicKey     mpc.PublicKey `json:"publicKey"`
	Nonce         mpc.Nonce     `json:"nonce"`
	Ciphertext    []byte        `json:"ciphertext"`
}

type SwapRequestReply struct {
	Request *confidential.SwapRequest `json:"request"`
}

// SubmitConfidentialSwap queues an encrypted swap order. The reply carries the
// request as accepted; its outcome is read later with GetSwapRequest.
func (s *Service) SubmitConfidentialSwap(_ *http.Request, args *SubmitConfidentialSwapArgs, reply *SwapRequestReply) error {
	if !s.vm.IsBootstrapped() {
		return ErrNotBootstrapped
	}

	poolID, err := parseID("poolId", args.PoolID)
	if err != nil {
		return err
	}
	requester, err := parseShortID("requester", args.Requester)
	if err != nil {
		return err
	}

	req, err := s.vm.GetCoordinator().Submit(confidential.SubmitParams{
		ComputationID: uint64(args.ComputationID),
		Requester:     requester,
		PoolID:        poolID,
		PublicKey:     args.PublicKey,
		Nonce:         args.Nonce,
		Ciphertext:    args.Ciphertext,
	})
	if err != nil {
		return err
	}
	reply.Request = req
	return nil
}

type GetSwapRequestArgs struct {
	ComputationID json.Uint64 `json:"computationId"`
}

// GetSwapRequest returns a confidential swap by computation id.
func (s *Service) GetSwapRequest(_ *http.Request, args *GetSwapRequestArgs, reply *SwapRequestReply) error {
	req, err := s.vm.GetCoordinator().Get(uint64(args.ComputationID))
	if err != nil {
		return err
	}
	reply.Request = req
	return nil
}

// ============================================
// Ledger APIs
// ============================================

type BalanceArgs struct {
	Owner string `json:"owner"`
	Token string `json:"token"`
}

type BalanceReply struct {
	Balance json.Uint64 `json:"balance"`
}

// GetBalance returns an account's balance of one token.
func (s *Service) GetBalance(_ *http.Request, args *BalanceArgs, reply *BalanceReply) error {
	owner, err := parseShortID("owner", args.Owner)
	if err != nil {
		return err
	}
	token, err := parseID("token", args.Token)
	if err != nil {
		return err
	}

	balance, err := s.vm.GetLedger().Balance(owner, token)
	if err != nil {
		return err
	}
	reply.Balance = json.Uint64(balance)
	return nil
}

type CreditArgs struct {
	Owner  string      `json:"owner"`
	Token  string      `json:"token"`
	Amount json.Uint64 `json:"amount"`
}

// Credit mints tokens to an account. Only available when enabled in the
// VM config.
func (s *Service) Credit(_ *http.Request, args *CreditArgs, reply *BalanceReply) error {
	if !s.vm.CreditEnabled() {
		return ErrCreditDisabled
	}

	owner, err := parseShortID("owner", args.Owner)
	if err != nil {
		return err
	}
	token, err := parseID("token", args.Token)
	if err != nil {
		return err
	}

	ledger := s.vm.GetLedger()
	if err := ledger.Credit(owner, token, uint64(args.Amount)); err != nil {
		return err
	}
	balance, err := ledger.Balance(owner, token)
	if err != nil {
		return err
	}
	reply.Balance = json.Uint64(balance)
	return nil
}

func parseID(field, s string) (ids.ID, error) {
	id, err := ids.FromString(s)
	if err != nil {
		return ids.Empty, fmt.Errorf("%w: invalid %s: %w", ErrInvalidRequest, field, err)
	}
	return id, nil
}

func parseShortID(field, s string) (ids.ShortID, error) {
	id, err := ids.ShortFromString(s)
	if err != nil {
		return ids.ShortEmpty, fmt.Errorf("%w: invalid %s: %w", ErrInvalidRequest, field, err)
	}
	return id, nil
}
