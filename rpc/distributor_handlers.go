package rpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"cycledrop/config"
	"cycledrop/native/distributor"
)

const (
	codeDistributorInvalidParams = -32051
	codeDistributorUnauthorized  = -32052
	codeDistributorConflict      = -32053
	codeDistributorWindow        = -32054
	codeDistributorCapacity      = -32055
	codeDistributorProof         = -32056
	codeDistributorBusy          = -32057
	codeDistributorInternal      = -32058
)

type setRootParams struct {
	Caller string `json:"caller"`
	Cycle  uint64 `json:"cycle"`
	Root   string `json:"root"`
}

type claimParams struct {
	Caller string   `json:"caller"`
	Cycle  uint64   `json:"cycle"`
	Amount string   `json:"amount"`
	Proof  []string `json:"proof"`
}

type cycleParams struct {
	Cycle uint64 `json:"cycle"`
}

type hasClaimedParams struct {
	Cycle     uint64 `json:"cycle"`
	Recipient string `json:"recipient"`
}

type okResult struct {
	OK bool `json:"ok"`
}

type rootResult struct {
	Cycle uint64 `json:"cycle"`
	Root  string `json:"root,omitempty"`
	Set   bool   `json:"set"`
}

type claimedResult struct {
	Cycle     uint64 `json:"cycle"`
	Recipient string `json:"recipient"`
	Claimed   bool   `json:"claimed"`
}

type statusResult struct {
	CurrentCycle           uint64 `json:"currentCycle"`
	CycleStart             int64  `json:"cycleStart"`
	CycleEnd               int64  `json:"cycleEnd"`
	PlannedEnd             int64  `json:"plannedEnd"`
	TotalClaimed           string `json:"totalClaimed"`
	RemainingPool          string `json:"remainingPool"`
	RemainingDistributable string `json:"remainingDistributable"`
	Balance                string `json:"balance"`
	Exhausted              bool   `json:"exhausted"`
}

func decodeSingleParam(req *RPCRequest, target interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("exactly one parameter object expected")
	}
	return json.Unmarshal(req.Params[0], target)
}

func parseRoot(raw string) ([32]byte, error) {
	var root [32]byte
	trimmed := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(raw), "0x"), "0X")
	if len(trimmed) != 64 {
		return root, fmt.Errorf("root must be 32 bytes (got %d hex chars)", len(trimmed))
	}
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return root, fmt.Errorf("decode root: %w", err)
	}
	copy(root[:], decoded)
	return root, nil
}

func parseProof(raw []string) ([][32]byte, error) {
	proof := make([][32]byte, 0, len(raw))
	for i, element := range raw {
		digest, err := parseRoot(element)
		if err != nil {
			return nil, fmt.Errorf("proof element %d: %w", i, err)
		}
		proof = append(proof, digest)
	}
	return proof, nil
}

func (s *Server) handleSetMerkleRoot(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params setRootParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeDistributorInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := config.ParseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeDistributorInvalidParams, "invalid_params", err.Error())
		return
	}
	root, err := parseRoot(params.Root)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeDistributorInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.engine.SetMerkleRoot(caller, params.Cycle, root); err != nil {
		status, code := distributorErrorCode(err)
		writeError(w, status, req.ID, code, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, okResult{OK: true})
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params claimParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeDistributorInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := config.ParseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeDistributorInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := config.ParseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeDistributorInvalidParams, "invalid_params", err.Error())
		return
	}
	proof, err := parseProof(params.Proof)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeDistributorInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.engine.Claim(caller, params.Cycle, amount, proof); err != nil {
		status, code := distributorErrorCode(err)
		writeError(w, status, req.ID, code, err.Error(), distributor.ReasonLabel(err))
		return
	}
	writeResult(w, req.ID, okResult{OK: true})
}

func (s *Server) handleGetRoot(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params cycleParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeDistributorInvalidParams, "invalid_params", err.Error())
		return
	}
	root, ok, err := s.engine.MerkleRoot(params.Cycle)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeDistributorInternal, err.Error(), nil)
		return
	}
	result := rootResult{Cycle: params.Cycle, Set: ok}
	if ok {
		result.Root = "0x" + hex.EncodeToString(root[:])
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleHasClaimed(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params hasClaimedParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeDistributorInvalidParams, "invalid_params", err.Error())
		return
	}
	recipient, err := config.ParseAddress(params.Recipient)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeDistributorInvalidParams, "invalid_params", err.Error())
		return
	}
	claimed, err := s.engine.HasClaimed(params.Cycle, recipient)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeDistributorInternal, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, claimedResult{Cycle: params.Cycle, Recipient: params.Recipient, Claimed: claimed})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	cycle := s.engine.CurrentCycle()
	total, err := s.engine.TotalClaimed()
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeDistributorInternal, err.Error(), nil)
		return
	}
	remainingPool, err := s.engine.RemainingPool()
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeDistributorInternal, err.Error(), nil)
		return
	}
	distributable, err := s.engine.RemainingDistributable()
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeDistributorInternal, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, statusResult{
		CurrentCycle:           cycle,
		CycleStart:             s.engine.CycleStart(cycle),
		CycleEnd:               s.engine.CycleEnd(cycle),
		PlannedEnd:             s.engine.PlannedEnd(),
		TotalClaimed:           total.String(),
		RemainingPool:          remainingPool.String(),
		RemainingDistributable: distributable.String(),
		Balance:                s.engine.Balance().String(),
		Exhausted:              distributable.Sign() <= 0,
	})
}

// distributorErrorCode maps engine failures onto the module's RPC error
// space, keeping the taxonomy of the error surface visible to clients.
func distributorErrorCode(err error) (int, int) {
	switch {
	case errors.Is(err, distributor.ErrUnauthorized):
		return http.StatusForbidden, codeDistributorUnauthorized
	case errors.Is(err, distributor.ErrRootExists), errors.Is(err, distributor.ErrAlreadyClaimed):
		return http.StatusConflict, codeDistributorConflict
	case errors.Is(err, distributor.ErrCycleNotStarted),
		errors.Is(err, distributor.ErrRootWindowClosed),
		errors.Is(err, distributor.ErrClaimWindowClosed):
		return http.StatusBadRequest, codeDistributorWindow
	case errors.Is(err, distributor.ErrInvalidAmount),
		errors.Is(err, distributor.ErrEmptyRoot),
		errors.Is(err, distributor.ErrRootNotSet),
		errors.Is(err, distributor.ErrPoolExhausted),
		errors.Is(err, distributor.ErrExceedsDistributable),
		errors.Is(err, distributor.ErrPoolCeiling),
		errors.Is(err, distributor.ErrInsufficientVault):
		return http.StatusBadRequest, codeDistributorCapacity
	case errors.Is(err, distributor.ErrInvalidProof):
		return http.StatusBadRequest, codeDistributorProof
	case errors.Is(err, distributor.ErrReentrantCall):
		return http.StatusServiceUnavailable, codeDistributorBusy
	default:
		return http.StatusInternalServerError, codeDistributorInternal
	}
}
