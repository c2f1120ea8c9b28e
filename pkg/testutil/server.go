package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
)

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// RPCReply is what a handler answers with. A non-zero HTTPStatus is written
// with an empty body instead of a JSON-RPC response.
type RPCReply struct {
	Result     interface{}
	Error      *RPCError
	HTTPStatus int
}

// RPCHandler answers one JSON-RPC call. params holds the raw positional
// parameters.
type RPCHandler func(params []json.RawMessage) RPCReply

// RPCServer is an in-process JSON-RPC 2.0 server for testing clients against
// canned node behaviour with no external dependencies.
type RPCServer struct {
	sync.Mutex

	log      *logrus.Entry
	server   *httptest.Server
	handlers map[string]RPCHandler
	requests map[string][][]json.RawMessage
}

// NewRPCServer starts a server that is closed when the test ends. Calls to
// methods without a handler are answered with a method-not-found error.
func NewRPCServer(t *testing.T) *RPCServer {
	s := &RPCServer{
		log:      logrus.StandardLogger().WithField("type", "testutil/rpc_server"),
		handlers: make(map[string]RPCHandler),
		requests: make(map[string][][]json.RawMessage),
	}
	s.server = httptest.NewServer(http.HandlerFunc(s.serveHTTP))
	t.Cleanup(s.server.Close)
	return s
}

// URL is the endpoint clients should dial.
func (s *RPCServer) URL() string {
	return s.server.URL
}

// Handle installs h for method, replacing any previous handler.
func (s *RPCServer) Handle(method string, h RPCHandler) {
	s.Lock()
	defer s.Unlock()

	s.handlers[method] = h
}

// Reply installs a handler that always answers with reply.
func (s *RPCServer) Reply(method string, reply RPCReply) {
	s.Handle(method, func([]json.RawMessage) RPCReply {
		return reply
	})
}

// Sequence installs a handler that answers with replies in order, repeating
// the last one once they run out.
func (s *RPCServer) Sequence(method string, replies ...RPCReply) {
	var mu sync.Mutex
	var next int
	s.Handle(method, func([]json.RawMessage) RPCReply {
		mu.Lock()
		defer mu.Unlock()

		reply := replies[next]
		if next < len(replies)-1 {
			next++
		}
		return reply
	})
}

// Calls returns how many times method was called.
func (s *RPCServer) Calls(method string) int {
	s.Lock()
	defer s.Unlock()

	return len(s.requests[method])
}

// TotalCalls returns the number of calls across all methods.
func (s *RPCServer) TotalCalls() int {
	s.Lock()
	defer s.Unlock()

	var total int
	for _, r := range s.requests {
		total += len(r)
	}
	return total
}

// Params returns the parameters of every call to method, in call order.
func (s *RPCServer) Params(method string) [][]json.RawMessage {
	s.Lock()
	defer s.Unlock()

	return append([][]json.RawMessage(nil), s.requests[method]...)
}

func (s *RPCServer) serveHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     json.RawMessage   `json:"id"`
		Method string            `json:"method"`
		Params []json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.log.WithError(err).Warn("malformed request")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	s.Lock()
	s.requests[req.Method] = append(s.requests[req.Method], req.Params)
	h, ok := s.handlers[req.Method]
	s.Unlock()

	reply := RPCReply{Error: &RPCError{Code: -32601, Message: "Method not found"}}
	if ok {
		reply = h(req.Params)
	}

	if reply.HTTPStatus != 0 {
		w.WriteHeader(reply.HTTPStatus)
		return
	}

	resp := struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id"`
		Result  interface{}     `json:"result,omitempty"`
		Error   *RPCError       `json:"error,omitempty"`
	}{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result:  reply.Result,
		Error:   reply.Error,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.WithError(err).Warn("failed to write response")
	}
}

// LatestBlockhashReply answers getLatestBlockhash with the base58 blockhash.
func LatestBlockhashReply(blockhash string) RPCReply {
	return RPCReply{Result: map[string]interface{}{
		"context": map[string]interface{}{"slot": 1},
		"value": map[string]interface{}{
			"blockhash":            blockhash,
			"lastValidBlockHeight": 150,
		},
	}}
}

// SendTransactionReply answers sendTransaction with the base58 signature.
func SendTransactionReply(signature string) RPCReply {
	return RPCReply{Result: signature}
}

// PreflightFailureReply answers sendTransaction the way a node reports a
// transaction error, with txErr in the error data.
func PreflightFailureReply(txErr interface{}) RPCReply {
	return RPCReply{Error: &RPCError{
		Code:    -32002,
		Message: "Transaction simulation failed",
		Data:    map[string]interface{}{"err": txErr, "logs": []string{}},
	}}
}

// SignatureStatusReply answers getSignatureStatuses for a single signature.
// A nil status means the node has not seen the signature.
func SignatureStatusReply(status map[string]interface{}) RPCReply {
	var value interface{}
	if status != nil {
		value = status
	}
	return RPCReply{Result: map[string]interface{}{
		"context": map[string]interface{}{"slot": 10},
		"value":   []interface{}{value},
	}}
}

// SignatureStatus builds a status entry with the confirmation status level.
// Finalized entries have no confirmation count.
func SignatureStatus(level string, txErr interface{}) map[string]interface{} {
	var confirmations interface{} = 1
	if level == "finalized" {
		confirmations = nil
	}
	return map[string]interface{}{
		"slot":               9,
		"confirmations":      confirmations,
		"confirmationStatus": level,
		"err":                txErr,
	}
}

// BlockhashValidReply answers isBlockhashValid.
func BlockhashValidReply(valid bool) RPCReply {
	return RPCReply{Result: map[string]interface{}{
		"context": map[string]interface{}{"slot": 10},
		"value":   valid,
	}}
}
