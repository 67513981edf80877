// Package jsonrpc implements the framed JSON transport of §4.D.1/§6.1: a
// length-free stream of line-delimited JSON objects, correlated by a
// per-connection monotonic id, with unsolicited no-id objects dispatched
// as notifications. This is deliberately not the teacher's HTTP+JSON-RPC
// 2.0 request/response client (internal/rpcclient) — that transport has no
// notification channel and cannot carry a headers-subscribe push.
package jsonrpc

import "encoding/json"

// envelope is the superset shape of everything that can arrive on the
// wire: a response carries id plus result or error; a notification
// carries method/params and no id; this client never receives a
// server-to-client request.
type envelope struct {
	ID     *uint64         `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// request is what the client sends: {id, method, params}.
type request struct {
	ID     uint64      `json:"id"`
	Method string      `json:"method"`
	Params interface{} `json:"params,omitempty"`
}

// RPCError is returned when the server answers a call with an error
// object.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return e.Message
}

// headersSubscribeResult is the payload of a blockchain.headers.subscribe
// response and of each subsequent notification pushed under the same
// method name (§6.1).
type headersSubscribeResult struct {
	Height uint64 `json:"height"`
	Hex    string `json:"hex"`
}

// blockHeadersResult is the payload of blockchain.block.headers.
type blockHeadersResult struct {
	Count uint32 `json:"count"`
	Hex   string `json:"hex"`
	Max   uint32 `json:"max"`
}

// txKeyOutputWire is one output entry of a TxKey tuple (§6.1).
type txKeyOutputWire struct {
	BlindingKey string `json:"blindingKey"`
	SpendingKey string `json:"spendingKey"`
	ViewTag     uint16 `json:"viewTag"`
	OutputHash  string `json:"outputHash"`
}

// txKeyInputWire accepts the several input-field aliases §6.1 calls out:
// outputHash, prevoutHash, or a nested prevout.hash.
type txKeyInputWire struct {
	OutputHash  string `json:"outputHash,omitempty"`
	PrevoutHash string `json:"prevoutHash,omitempty"`
	Prevout     *struct {
		Hash string `json:"hash"`
	} `json:"prevout,omitempty"`
}

func (w txKeyInputWire) resolvedHash() string {
	switch {
	case w.OutputHash != "":
		return w.OutputHash
	case w.PrevoutHash != "":
		return w.PrevoutHash
	case w.Prevout != nil:
		return w.Prevout.Hash
	default:
		return ""
	}
}

// txKeyBody is the second element of a TxKey tuple: [tx_hash_hex, body].
type txKeyBody struct {
	Outputs []txKeyOutputWire `json:"outputs"`
	Inputs  []txKeyInputWire  `json:"inputs"`
}

// txKeyWire is one TxKey tuple: [tx_hash_hex, {outputs, inputs}] (§6.1).
type txKeyWire struct {
	TxHash string
	Body   txKeyBody
}

func (w *txKeyWire) UnmarshalJSON(data []byte) error {
	var arr [2]json.RawMessage
	if err := json.Unmarshal(data, &arr); err != nil {
		return err
	}
	if err := json.Unmarshal(arr[0], &w.TxHash); err != nil {
		return err
	}
	return json.Unmarshal(arr[1], &w.Body)
}

// txKeysRangeResult is the payload of blockchain.block.get_range_txs_keys:
// blocks is indexed contiguously from the request's start height — the
// abstract §4.D contract's per-block height is this array position plus
// start, not carried explicitly on the wire.
type txKeysRangeResult struct {
	Blocks     [][]txKeyWire `json:"blocks"`
	NextHeight uint64        `json:"next_height"`
}
