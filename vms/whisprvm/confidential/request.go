// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package confidential

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/luxfi/database"
	"github.com/luxfi/ids"

	"github.com/luxfi/whispr/vms/whisprvm/mpc"
	"github.com/luxfi/whispr/vms/whisprvm/state"
)

var (
	ErrIllegalTransition = errors.New("illegal swap request transition")
	ErrUnknownStatus     = errors.New("unknown swap request status")

	prefixSwap = []byte("swap:")
)

// Status is the state of a SwapRequest.
//
//	Initiated -> Computing -> Executed
//	                       -> Failed
//
// Executed and Failed are final.
type Status uint8

const (
	Initiated Status = iota
	Computing
	Executed
	Failed
)

func (s Status) String() string {
	switch s {
	case Initiated:
		return "initiated"
	case Computing:
		return "computing"
	case Executed:
		return "executed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s Status) Terminal() bool {
	return s == Executed || s == Failed
}

func (s Status) MarshalText() ([]byte, error) {
	if s > Failed {
		return nil, fmt.Errorf("%w: %d", ErrUnknownStatus, s)
	}
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	for candidate := Initiated; candidate <= Failed; candidate++ {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownStatus, text)
}

// canTransition lists the legal edges. Initiated may fail directly when the
// request expires before its computation was recorded as accepted.
func (s Status) canTransition(to Status) bool {
	switch s {
	case Initiated:
		return to == Computing || to == Failed
	case Computing:
		return to == Executed || to == Failed
	default:
		return false
	}
}

// SwapRequest tracks one confidential swap from submission to settlement.
// AppliedDeposit and AppliedWithdraw stay zero unless Status is Executed.
type SwapRequest struct {
	ComputationID   uint64        `json:"computationId"`
	Requester       ids.ShortID   `json:"requester"`
	PoolID          ids.ID        `json:"poolId"`
	ClusterID       ids.ID        `json:"clusterId"`
	PublicKey       mpc.PublicKey `json:"publicKey"`
	Nonce           mpc.Nonce     `json:"nonce"`
	Status          Status        `json:"status"`
	CreatedAt       int64         `json:"createdAt"`
	SubmittedAt     time.Time     `json:"submittedAt"`
	Deadline        int64         `json:"deadline"`
	ResolvedAt      int64         `json:"resolvedAt,omitempty"`
	AppliedDeposit  uint64        `json:"appliedDeposit"`
	AppliedWithdraw uint64        `json:"appliedWithdraw"`
	FailureReason   string        `json:"failureReason,omitempty"`
	SealedResult    []byte        `json:"sealedResult,omitempty"`
}

func (r *SwapRequest) transition(to Status) error {
	if !r.Status.canTransition(to) {
		return fmt.Errorf("%w: %s -> %s for computation %d", ErrIllegalTransition, r.Status, to, r.ComputationID)
	}
	r.Status = to
	return nil
}

func requestKey(computationID uint64) []byte {
	return binary.BigEndian.AppendUint64(append([]byte{}, prefixSwap...), computationID)
}

// getRequest returns the request for computationID, or nil if none exists.
func getRequest(r state.Reader, computationID uint64) (*SwapRequest, error) {
	b, err := r.Get(requestKey(computationID))
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return parseRequest(b)
}

func parseRequest(b []byte) (*SwapRequest, error) {
	req := &SwapRequest{}
	if err := json.Unmarshal(b, req); err != nil {
		return nil, fmt.Errorf("failed to unmarshal swap request: %w", err)
	}
	return req, nil
}

func putRequest(tx state.Tx, req *SwapRequest) error {
	b, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal swap request: %w", err)
	}
	return tx.Put(requestKey(req.ComputationID), b)
}
