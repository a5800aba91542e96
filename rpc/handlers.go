package rpc

import (
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"filamint/core"
	"filamint/crypto"
	"filamint/native/escrow"
)

func decodeBody(w http.ResponseWriter, r *http.Request, out interface{}) error {
	body := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body required")
		}
		return err
	}
	return nil
}

// callFrom builds the node call for an authenticated request.
func callFrom(r *http.Request) (core.Call, error) {
	caller, _ := CallerFromContext(r.Context())
	call := core.Call{Caller: caller}
	if raw := strings.TrimSpace(r.Header.Get(TxCostHeader)); raw != "" {
		cost, err := parseAmount(raw)
		if err != nil {
			return core.Call{}, err
		}
		call.TxCost = cost
	}
	return call, nil
}

func addrParam(r *http.Request, name string) ([20]byte, error) {
	return crypto.ParseAddress(chi.URLParam(r, name))
}

func uintQuery(r *http.Request, name string, fallback uint64) (uint64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback, nil
	}
	return strconv.ParseUint(raw, 10, 64)
}

func invalidParams(w http.ResponseWriter, err error) {
	writeProblem(w, http.StatusBadRequest, codeInvalidParams, "invalid_params", err.Error())
}

func (s *Server) handleRegistry(w http.ResponseWriter, r *http.Request) {
	reg, err := s.node.Registry()
	if err != nil {
		writeEscrowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newRegistryJSON(reg))
}

func (s *Server) handleRegistryUpdate(w http.ResponseWriter, r *http.Request) {
	setting, err := core.ParseRegistrySetting(chi.URLParam(r, "setting"))
	if err != nil {
		writeProblem(w, http.StatusNotFound, codeEscrowNotFound, "not_found", err.Error())
		return
	}
	var req registryUpdateRequest
	if err := decodeBody(w, r, &req); err != nil {
		invalidParams(w, err)
		return
	}
	call, err := callFrom(r)
	if err != nil {
		invalidParams(w, err)
		return
	}
	var (
		target [20]byte
		amount *big.Int
	)
	switch {
	case setting == core.RegistrySettingMinOrder:
		amount, err = parseAmount(req.Value)
	case setting == core.RegistrySettingShippingOracle && strings.TrimSpace(req.Value) == "":
		// zero target clears the oracle for orders created afterwards
	default:
		target, err = crypto.ParseAddress(req.Value)
	}
	if err != nil {
		invalidParams(w, err)
		return
	}
	if err := s.node.UpdateRegistry(r.Context(), setting, call, target, amount); err != nil {
		writeEscrowError(w, err)
		return
	}
	s.handleRegistry(w, r)
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := addrParam(r, "addr")
	if err != nil {
		invalidParams(w, err)
		return
	}
	account, err := s.node.Account(addr)
	if err != nil {
		writeEscrowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newAccountJSON(addr, account))
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	offset, err := uintQuery(r, "offset", 0)
	if err != nil {
		invalidParams(w, err)
		return
	}
	limit, err := uintQuery(r, "limit", 50)
	if err != nil {
		invalidParams(w, err)
		return
	}
	addrs, err := s.node.Escrows(offset, limit)
	if err != nil {
		writeEscrowError(w, err)
		return
	}
	out := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		out = append(out, crypto.Format(addr))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"escrows": out, "offset": offset})
}

func (s *Server) handleOrderCount(w http.ResponseWriter, r *http.Request) {
	total, err := s.node.TotalOrders()
	if err != nil {
		writeEscrowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"total": total})
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	salt, err := parseBytes32(chi.URLParam(r, "salt"))
	if err != nil {
		invalidParams(w, err)
		return
	}
	addr, err := s.node.PredictAddress(salt)
	if err != nil {
		writeEscrowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"escrow": crypto.Format(addr)})
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decodeBody(w, r, &req); err != nil {
		invalidParams(w, err)
		return
	}
	contentHash, err := parseBytes32(req.ContentHash)
	if err != nil {
		invalidParams(w, err)
		return
	}
	deposit, err := parseAmount(req.Deposit)
	if err != nil {
		invalidParams(w, err)
		return
	}
	var salt *[32]byte
	if strings.TrimSpace(req.Salt) != "" {
		parsed, err := parseBytes32(req.Salt)
		if err != nil {
			invalidParams(w, err)
			return
		}
		salt = &parsed
	}
	call, err := callFrom(r)
	if err != nil {
		invalidParams(w, err)
		return
	}
	id, addr, err := s.node.CreateOrder(r.Context(), call, contentHash, deposit, salt)
	if err != nil {
		writeEscrowError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createOrderResult{OrderID: id, Escrow: crypto.Format(addr)})
}

func (s *Server) handleEscrow(w http.ResponseWriter, r *http.Request) {
	addr, err := addrParam(r, "addr")
	if err != nil {
		invalidParams(w, err)
		return
	}
	esc, err := s.node.Escrow(addr)
	if err != nil {
		writeEscrowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newEscrowJSON(esc))
}

func (s *Server) handleTimeRemaining(w http.ResponseWriter, r *http.Request) {
	addr, err := addrParam(r, "addr")
	if err != nil {
		invalidParams(w, err)
		return
	}
	remaining, err := s.node.TimeRemaining(addr)
	if err != nil {
		writeEscrowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"seconds": remaining})
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	addr, err := addrParam(r, "addr")
	if err != nil {
		invalidParams(w, err)
		return
	}
	action, err := core.ParseAction(chi.URLParam(r, "action"))
	if err != nil {
		writeProblem(w, http.StatusNotFound, codeEscrowNotFound, "not_found", err.Error())
		return
	}
	percent := 0
	if action.TakesPercent() {
		var req actionRequest
		if err := decodeBody(w, r, &req); err != nil {
			invalidParams(w, err)
			return
		}
		if req.Percent == nil {
			invalidParams(w, errors.New("percent required"))
			return
		}
		percent = *req.Percent
	}
	call, err := callFrom(r)
	if err != nil {
		invalidParams(w, err)
		return
	}
	if err := s.node.Perform(r.Context(), addr, action, call, percent); err != nil {
		writeEscrowError(w, err)
		return
	}
	s.handleEscrow(w, r)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		writeProblem(w, http.StatusServiceUnavailable, codeServerError, "unavailable", "indexer disabled")
		return
	}
	addr, err := addrParam(r, "addr")
	if err != nil {
		invalidParams(w, err)
		return
	}
	limit, err := uintQuery(r, "limit", 0)
	if err != nil {
		invalidParams(w, err)
		return
	}
	records, err := s.jobs.History(r.Context(), crypto.Format(addr), int(limit))
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, codeServerError, "internal_error", err.Error())
		return
	}
	type historyEntry struct {
		Sequence   uint64            `json:"sequence"`
		Type       string            `json:"type"`
		Attributes map[string]string `json:"attributes"`
		CreatedAt  int64             `json:"createdAt"`
	}
	out := make([]historyEntry, 0, len(records))
	for _, rec := range records {
		entry := historyEntry{Sequence: rec.Sequence, Type: rec.Type, CreatedAt: rec.CreatedAt.Unix()}
		_ = json.Unmarshal([]byte(rec.Attributes), &entry.Attributes)
		out = append(out, entry)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": out})
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		writeProblem(w, http.StatusServiceUnavailable, codeServerError, "unavailable", "indexer disabled")
		return
	}
	status := escrow.StatusPending
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		parsed, err := escrow.ParseStatus(raw)
		if err != nil {
			invalidParams(w, err)
			return
		}
		status = parsed
	}
	limit, err := uintQuery(r, "limit", 0)
	if err != nil {
		invalidParams(w, err)
		return
	}
	summaries, err := s.jobs.ByStatus(r.Context(), status, int(limit))
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, codeServerError, "internal_error", err.Error())
		return
	}
	out := make([]jobJSON, 0, len(summaries))
	for _, summary := range summaries {
		out = append(out, newJobJSON(summary))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": out})
}
