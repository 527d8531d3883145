package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/optionledger/optiond/internal/core/amount"
	"github.com/optionledger/optiond/internal/core/ledger"
	"github.com/optionledger/optiond/internal/core/option"
	"github.com/optionledger/optiond/internal/core/registry"
	"github.com/optionledger/optiond/internal/core/token"
	"github.com/optionledger/optiond/internal/pool"
)

type createRequest struct {
	Caller      string `json:"caller"`
	Beneficiary string `json:"beneficiary"`
	Amount      int64  `json:"amount"`
	Referrer    string `json:"referrer"`
	Meta        string `json:"meta"`
}

type splitRequest struct {
	Caller string   `json:"caller"`
	Units  []uint64 `json:"units"`
}

type mergeRequest struct {
	Caller    string   `json:"caller"`
	SourceIDs []uint64 `json:"source_ids"`
}

type transferRequest struct {
	Caller   string `json:"caller"`
	From     string `json:"from"`
	To       string `json:"to"`
	TargetID uint64 `json:"target_id"`
	Units    uint64 `json:"units"`
}

type exerciseRequest struct {
	Caller string `json:"caller"`
}

type positionResponse struct {
	ID           uint64 `json:"id"`
	Owner        string `json:"owner"`
	SlotID       uint64 `json:"slot_id"`
	Units        uint64 `json:"units"`
	Amount       int64  `json:"amount"`
	LockedAmount int64  `json:"locked_amount"`
	Premium      int64  `json:"premium"`
	State        string `json:"state"`
	Meta         string `json:"meta,omitempty"`
}

func toPositionResponse(pos option.Position) positionResponse {
	return positionResponse{
		ID:           pos.ID,
		Owner:        string(pos.Owner),
		SlotID:       pos.SlotID,
		Units:        pos.Units,
		Amount:       pos.Amount.Int64(),
		LockedAmount: pos.LockedAmount.Int64(),
		Premium:      pos.Premium.Int64(),
		State:        pos.State.String(),
		Meta:         pos.Meta,
	}
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !decode(w, r, &req) {
		return
	}
	id, err := s.reg.Create(
		token.AccountID(req.Caller),
		token.AccountID(req.Beneficiary),
		amount.New(req.Amount),
		token.AccountID(req.Referrer),
		req.Meta,
	)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]uint64{"position_id": id})
}

func (s *Server) handleGetOption(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	pos, err := s.led.Get(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPositionResponse(pos))
}

func (s *Server) handleSplit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req splitRequest
	if !decode(w, r, &req) {
		return
	}
	newIDs, err := s.led.Split(token.AccountID(req.Caller), id, req.Units)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]uint64{"position_ids": newIDs})
}

func (s *Server) handleMerge(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req mergeRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.led.Merge(token.AccountID(req.Caller), req.SourceIDs, id); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"position_id": id})
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req transferRequest
	if !decode(w, r, &req) {
		return
	}
	dstID, err := s.led.TransferUnits(
		token.AccountID(req.Caller),
		token.AccountID(req.From),
		token.AccountID(req.To),
		id, req.TargetID, req.Units,
	)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"position_id": dstID})
}

func (s *Server) handleExercise(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req exerciseRequest
	if !decode(w, r, &req) {
		return
	}
	profit, err := s.reg.Exercise(token.AccountID(req.Caller), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"profit": profit.Int64()})
}

func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.reg.Unlock(id); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"position_id": id})
}

func (s *Server) handlePool(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int64{
		"total_balance":  s.pool.TotalBalance().Int64(),
		"locked_balance": s.pool.LockedBalance().Int64(),
	})
}

type provideRequest struct {
	Provider string `json:"provider"`
	Amount   int64  `json:"amount"`
}

func (s *Server) handleProvide(w http.ResponseWriter, r *http.Request) {
	var req provideRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.pool.Provide(token.AccountID(req.Provider), amount.New(req.Amount)); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"total_balance": s.pool.TotalBalance().Int64()})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	acct := token.AccountID(mux.Vars(r)["account"])
	writeJSON(w, http.StatusOK, map[string]int64{"balance": s.book.BalanceOf(acct).Int64()})
}

type fundRequest struct {
	Amount int64 `json:"amount"`
}

// handleFund mints settlement asset to an account. Standalone-mode faucet.
func (s *Server) handleFund(w http.ResponseWriter, r *http.Request) {
	acct := token.AccountID(mux.Vars(r)["account"])
	var req fundRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.book.Mint(acct, amount.New(req.Amount)); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"balance": s.book.BalanceOf(acct).Int64()})
}

type approveRequest struct {
	Spender string `json:"spender"`
	Amount  int64  `json:"amount"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	acct := token.AccountID(mux.Vars(r)["account"])
	var req approveRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.book.Approve(acct, token.AccountID(req.Spender), amount.New(req.Amount)); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{
		"allowance": s.book.Allowance(acct, token.AccountID(req.Spender)).Int64(),
	})
}

func pathID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid position id"})
		return 0, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps core errors onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, ledger.ErrUnknownPosition) || errors.Is(err, ledger.ErrUnknownSlot):
		status = http.StatusNotFound
	case errors.Is(err, ledger.ErrUnauthorized) || errors.Is(err, registry.ErrNotEligible):
		status = http.StatusForbidden
	case errors.Is(err, registry.ErrAlreadyExercised),
		errors.Is(err, registry.ErrAlreadyExpired),
		errors.Is(err, registry.ErrNotExpiredYet),
		errors.Is(err, registry.ErrBlockNotPermitted),
		errors.Is(err, registry.ErrCannotChangeBeforeExpiry),
		errors.Is(err, ledger.ErrPositionNotActive):
		status = http.StatusConflict
	case errors.Is(err, registry.ErrInternalInvariant):
		status = http.StatusInternalServerError
	case errors.Is(err, pool.ErrInsufficientLiquidity):
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
