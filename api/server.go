package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/miniroha/miniroha/consensus/bft"
	"github.com/miniroha/miniroha/node"
	"github.com/miniroha/miniroha/txvalidator"
	"github.com/miniroha/miniroha/types"
)

// NewServer builds the HTTP submit/query server for n, listening on
// addr when started.
func NewServer(n *node.Node, addr string) *http.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /tx", submitTxHandler(n))
	mux.HandleFunc("POST /consensus", submitConsensusHandler(n))
	mux.HandleFunc("GET /health", healthHandler())
	mux.HandleFunc("GET /info", infoHandler(n))
	mux.HandleFunc("GET /mempool", mempoolHandler(n))
	mux.HandleFunc("GET /query/domain/{id}", queryDomainHandler(n))
	mux.HandleFunc("GET /query/account/{id}", queryAccountHandler(n))
	mux.HandleFunc("GET /query/asset/{id}", queryAssetHandler(n))
	mux.HandleFunc("GET /query/balance/{asset_id}/{account_id}", queryBalanceHandler(n))
	mux.HandleFunc("GET /query/block/{height}", queryBlockHandler(n))

	return &http.Server{Addr: addr, Handler: mux}
}

type submitTxRequest struct {
	Tx types.Transaction `json:"tx"`
}

func submitTxHandler(n *node.Node) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req submitTxRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "malformed request body")
			return
		}
		hash, err := n.SubmitTx(req.Tx)
		if err != nil {
			if verr, ok := err.(*txvalidator.Error); ok {
				writeErrorWithDetails(w, http.StatusBadRequest, verr.Message, map[string]string{"code": string(verr.Code)})
				return
			}
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeTxAccepted(w, hash)
	}
}

func submitConsensusHandler(n *node.Node) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var env bft.Envelope
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
			writeError(w, http.StatusBadRequest, "malformed request body")
			return
		}
		if err := n.SubmitConsensusMessage(env); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeData(w, map[string]bool{"accepted": true})
	}
}

func healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeData(w, map[string]string{"status": "ok"})
	}
}

func infoHandler(n *node.Node) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeData(w, n.Info())
	}
}

func mempoolHandler(n *node.Node) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries := n.Mempool().Entries()
		txs := make([]types.Transaction, 0, len(entries))
		for _, e := range entries {
			txs = append(txs, e.Tx)
		}
		writeData(w, map[string]interface{}{"size": len(txs), "transactions": txs})
	}
}

func queryDomainHandler(n *node.Node) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := n.Store().GetDomain(r.PathValue("id"))
		if err != nil || d == nil {
			writeNotFound(w)
			return
		}
		writeData(w, d)
	}
}

func queryAccountHandler(n *node.Node) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		a, err := n.Store().GetAccount(id)
		if err != nil || a == nil {
			writeNotFound(w)
			return
		}
		roles, err := n.Store().GetAccountRoles(id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		a.Roles = roles
		writeData(w, a)
	}
}

func queryAssetHandler(n *node.Node) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := n.Store().GetAsset(r.PathValue("id"))
		if err != nil || a == nil {
			writeNotFound(w)
			return
		}
		writeData(w, a)
	}
}

func queryBalanceHandler(n *node.Node) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bal, err := n.Store().GetBalance(r.PathValue("asset_id"), r.PathValue("account_id"))
		if err != nil || bal == nil {
			writeNotFound(w)
			return
		}
		writeData(w, bal)
	}
}

func queryBlockHandler(n *node.Node) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		height, err := strconv.ParseUint(r.PathValue("height"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "height must be a non-negative integer")
			return
		}
		b, err := n.Store().GetBlock(height)
		if err != nil || b == nil {
			writeNotFound(w)
			return
		}
		writeData(w, b)
	}
}
