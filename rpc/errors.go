package rpc

import (
	"encoding/json"
	"net/http"

	"filamint/native/escrow"
)

const (
	codeInvalidParams = -32602
	codeUnauthorized  = -32001
	codeServerError   = -32000
	codeRateLimited   = -32020

	codeEscrowInvalidParams = -32021
	codeEscrowNotFound      = -32022
	codeEscrowForbidden     = -32023
	codeEscrowConflict      = -32024
	codeEscrowInternal      = -32025
	codeEscrowTooEarly      = -32026
)

type problem struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

type errorResponse struct {
	Error problem `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeProblem(w http.ResponseWriter, status, code int, message, data string) {
	writeJSON(w, status, errorResponse{Error: problem{Code: code, Message: message, Data: data}})
}

// writeEscrowError maps a rejected call onto an HTTP status by its kind.
func writeEscrowError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	status := http.StatusInternalServerError
	code := codeEscrowInternal
	message := "internal_error"
	switch escrow.KindOf(err) {
	case escrow.KindAuthorization:
		status, code, message = http.StatusForbidden, codeEscrowForbidden, "forbidden"
	case escrow.KindState:
		status, code, message = http.StatusConflict, codeEscrowConflict, "conflict"
	case escrow.KindTiming:
		status, code, message = http.StatusConflict, codeEscrowTooEarly, "timing"
	case escrow.KindValidation:
		status, code, message = http.StatusBadRequest, codeEscrowInvalidParams, "invalid_params"
	case escrow.KindNotFound:
		status, code, message = http.StatusNotFound, codeEscrowNotFound, "not_found"
	case escrow.KindInvariant:
		status, code, message = http.StatusInternalServerError, codeEscrowInternal, "invariant_breach"
	}
	writeProblem(w, status, code, message, err.Error())
}
