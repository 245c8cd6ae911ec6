package relay

import (
	"encoding/json"
	"time"

	"moff.io/wallet-bridge/pkg/errors"
	"moff.io/wallet-bridge/pkg/log"
)

// JSON-RPC error codes used on the wire. 4001 is the EIP-1193 user rejection
// code; the 5000/6000 range codes are session-level reasons distinct from
// standard JSON-RPC errors.
const (
	CodeUserRejectedRequest = 4001
	CodeRejectedProposal    = 5000
	CodeUnsupportedChains   = 5100
	CodeUserDisconnected    = 6000
)

// Metadata describes a session peer (name, landing page, icons).
type Metadata struct {
	Description string   `json:"description"`
	URL         string   `json:"url"`
	Icons       []string `json:"icons"`
	Name        string   `json:"name"`
}

// Namespace is a permission scope keyed by chain family: the chains, accounts,
// methods and events a session may use.
type Namespace struct {
	Chains   []string `json:"chains,omitempty"`
	Accounts []string `json:"accounts,omitempty"`
	Methods  []string `json:"methods"`
	Events   []string `json:"events"`
}

// SessionProposal is a dapp's ask to open a session. Immutable once received.
type SessionProposal struct {
	ID                 int64                `json:"id"`
	PairingTopic       string               `json:"pairingTopic"`
	Proposer           Metadata             `json:"proposer"`
	ProposerPublicKey  string               `json:"proposerPublicKey"`
	RequiredNamespaces map[string]Namespace `json:"requiredNamespaces"`
	OptionalNamespaces map[string]Namespace `json:"optionalNamespaces"`
	Expiry             int64                `json:"expiry"`
}

// Session is a live, approved pairing between wallet and dapp.
type Session struct {
	Topic         string               `json:"topic"`
	Peer          Metadata             `json:"peer"`
	Namespaces    map[string]Namespace `json:"namespaces"`
	ControllerKey string               `json:"controllerKey"`
	Expiry        int64                `json:"expiry"`
}

// SessionRequest is one inbound JSON-RPC call scoped to a session.
type SessionRequest struct {
	ID      int64           `json:"id"`
	Topic   string          `json:"topic"`
	ChainID string          `json:"chainId"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// SessionDelete notifies that a peer terminated a session.
type SessionDelete struct {
	Topic   string `json:"topic"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// RPCError is the JSON-RPC error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// RPCResponse is the JSON-RPC response envelope. Exactly one of Result and
// Error is set.
type RPCResponse struct {
	ID      int64       `json:"id"`
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

// NewResult builds a success response for a request id.
func NewResult(id int64, result interface{}) *RPCResponse {
	return &RPCResponse{ID: id, JSONRPC: "2.0", Result: result}
}

// NewError builds an error response for a request id.
func NewError(id int64, code int, message string) *RPCResponse {
	return &RPCResponse{ID: id, JSONRPC: "2.0", Error: &RPCError{Code: code, Message: message}}
}

type jsonRpcRequest struct {
	Id      int64       `json:"id"`
	JSONRpc string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

func newJSONRpcRequest(method string, params interface{}) *jsonRpcRequest {
	return &jsonRpcRequest{
		Id:      payloadID(),
		JSONRpc: "2.0",
		Method:  method,
		Params:  params,
	}
}

func (e *jsonRpcRequest) Marshal() []byte {
	s, err := json.Marshal(e)
	if err != nil {
		log.Errorf("marshal:%v", err)
	}
	return s
}

// wcMessage is the relay envelope published on a topic.
type wcMessage struct {
	Topic string `json:"topic"`
	// pub sub ack
	Type    string `json:"type"`
	Payload string `json:"payload"`
	Silent  bool   `json:"silent"`
}

func newWCMessageFromBytes(data []byte) (*wcMessage, error) {
	var msg wcMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, errors.WrapAndReport(err, "unmarshal relay message")
	}
	return &msg, nil
}

func (msg *wcMessage) Marshal() []byte {
	bytes, _ := json.Marshal(msg)
	return bytes
}

func payloadID() int64 {
	return time.Now().UnixNano() / 1000
}
