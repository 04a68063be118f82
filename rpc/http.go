package rpc

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"

	"crowdvault/core/state"
	"crowdvault/native/crowdfund"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeNotFound       = -32040
	codePrecondition   = -32050
)

// Server exposes the crowdfund engine over JSON-RPC 2.0. Mutating methods are
// serialised behind a single mutex so each engine operation runs as one
// atomic step against the record store.
type Server struct {
	mu        sync.Mutex
	engine    *crowdfund.Engine
	state     *state.Manager
	authToken string
}

// NewServer wires the engine and record store into an RPC server. The bearer
// token for mutating methods is read from CROWDVAULT_RPC_TOKEN; when unset,
// mutating methods are open (local development).
func NewServer(engine *crowdfund.Engine, st *state.Manager) *Server {
	token := strings.TrimSpace(os.Getenv("CROWDVAULT_RPC_TOKEN"))
	return &Server{
		engine:    engine,
		state:     st,
		authToken: token,
	}
}

// SetAuthToken overrides the bearer token; used by tests and the daemon when
// the token comes from configuration rather than the environment.
func (s *Server) SetAuthToken(token string) {
	s.authToken = strings.TrimSpace(token)
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) requireAuth(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	supplied := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	return subtle.ConstantTimeCompare([]byte(supplied), []byte(s.authToken)) == 1
}

// ServeHTTP implements http.Handler so the server can be mounted on any
// router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handle(w, r)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, nil, codeInvalidRequest, "invalid_request", "POST required")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "parse_error", err.Error())
		return
	}
	if len(body) > maxRequestBytes {
		writeError(w, http.StatusRequestEntityTooLarge, nil, codeInvalidRequest, "invalid_request", "request body too large")
		return
	}
	var req RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "parse_error", err.Error())
		return
	}
	if req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "invalid_request", fmt.Sprintf("jsonrpc must be %q", jsonRPCVersion))
		return
	}

	handler, ok := s.methods()[req.Method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method_not_found", req.Method)
		return
	}
	if handler.mutating {
		if !s.requireAuth(r) {
			writeError(w, http.StatusUnauthorized, req.ID, codeUnauthorized, "unauthorized", "missing or invalid bearer token")
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	handler.fn(w, &req)
}

type method struct {
	mutating bool
	fn       func(http.ResponseWriter, *RPCRequest)
}

func (s *Server) methods() map[string]method {
	return map[string]method{
		"crowdfund_initiateContract":     {mutating: true, fn: s.handleInitiateContract},
		"crowdfund_updateAuthority":      {mutating: true, fn: s.handleUpdateAuthority},
		"crowdfund_updateDisputeSeconds": {mutating: true, fn: s.handleUpdateDisputeSeconds},
		"crowdfund_lockCampaign":         {mutating: true, fn: s.handleLockCampaign},
		"crowdfund_createCampaign":       {mutating: true, fn: s.handleCreateCampaign},
		"crowdfund_donate":               {mutating: true, fn: s.handleDonate},
		"crowdfund_release":              {mutating: true, fn: s.handleRelease},
		"crowdfund_refund":               {mutating: true, fn: s.handleRefund},
		"crowdfund_getConfig":            {fn: s.handleGetConfig},
		"crowdfund_getCampaign":          {fn: s.handleGetCampaign},
		"crowdfund_listCampaigns":        {fn: s.handleListCampaigns},
		"crowdfund_getReceipt":           {fn: s.handleGetReceipt},
		"crowdfund_milestoneStatus":      {fn: s.handleMilestoneStatus},
	}
}
