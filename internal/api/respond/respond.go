// Package respond writes the JSON envelopes every handler returns.
package respond

import (
	"encoding/json"
	"net/http"

	"github.com/wb-go/wbf/zlog"
)

type response struct {
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

func write(w http.ResponseWriter, status int, body response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to encode response")
	}
}

// OK writes a 200 with the result payload.
func OK(w http.ResponseWriter, result any) {
	write(w, http.StatusOK, response{Result: result})
}

// Created writes a 201 with the result payload.
func Created(w http.ResponseWriter, result any) {
	write(w, http.StatusCreated, response{Result: result})
}

// Fail writes an error status with an { error } body.
func Fail(w http.ResponseWriter, status int, err error) {
	write(w, status, response{Error: err.Error()})
}
