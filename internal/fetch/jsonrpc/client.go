package jsonrpc

import (
	"bufio"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klingon-tech/lightwalletd/internal/fetch"
	klog "github.com/klingon-tech/lightwalletd/internal/log"
	"github.com/klingon-tech/lightwalletd/pkg/cryptoadapter"
	"github.com/klingon-tech/lightwalletd/pkg/types"
)

// DefaultRequestTimeout is T_req from §4.D.1 when the caller leaves
// RequestTimeout unset.
const DefaultRequestTimeout = 30 * time.Second

// ClientName/ClientVersion identify this wallet to the server during
// server.version.
const (
	ClientName    = "lightwalletd"
	ClientVersion = "0.1"
)

// Client implements fetch.Provider over the framed JSON transport.
type Client struct {
	endpoint       string
	requestTimeout time.Duration

	mu         sync.Mutex
	conn       net.Conn
	nextID     atomic.Uint64
	pending    map[uint64]chan envelope
	subscribed bool
	tipHeight  atomic.Uint64
	headerCB   func(height uint64, header []byte)
	closed     chan struct{}
}

// New creates a client targeting endpoint (host:port), with T_req taken
// from requestTimeout or DefaultRequestTimeout if zero.
func New(endpoint string, requestTimeout time.Duration) *Client {
	if requestTimeout <= 0 {
		requestTimeout = DefaultRequestTimeout
	}
	return &Client{
		endpoint:       endpoint,
		requestTimeout: requestTimeout,
	}
}

// Connect dials the endpoint, starts the dispatch loop, and sends
// server.version. Idempotent: calling it again while connected is a
// no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.endpoint)
	if err != nil {
		return &fetch.ConnectError{Err: err}
	}

	c.mu.Lock()
	c.conn = conn
	c.pending = make(map[uint64]chan envelope)
	c.closed = make(chan struct{})
	c.subscribed = false
	c.mu.Unlock()

	go c.dispatchLoop(conn, c.closed)

	var result struct {
		Accepted bool `json:"accepted"`
	}
	if err := c.call(ctx, "server.version", []interface{}{ClientName, ClientVersion}, &result); err != nil {
		c.Close()
		return &fetch.ConnectError{Err: err}
	}
	return nil
}

// Close drops the connection. Outstanding requests fail with
// DisconnectedError.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	closed := c.closed
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	if closed != nil {
		select {
		case <-closed:
		default:
			close(closed)
		}
	}
	return conn.Close()
}

// dispatchLoop reads line-delimited envelopes until the connection
// breaks, routing responses to their pending channel and notifications to
// the registered header callback.
func (c *Client) dispatchLoop(conn net.Conn, closed chan struct{}) {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	for scanner.Scan() {
		var env envelope
		if err := json.Unmarshal(scanner.Bytes(), &env); err != nil {
			klog.Fetch.Warn().Err(err).Msg("jsonrpc: discarding malformed frame")
			continue
		}
		c.route(env)
	}
	c.failAllPending(fmt.Errorf("jsonrpc: connection closed"))
}

func (c *Client) route(env envelope) {
	if env.ID != nil {
		c.mu.Lock()
		ch, ok := c.pending[*env.ID]
		if ok {
			delete(c.pending, *env.ID)
		}
		c.mu.Unlock()
		if ok {
			ch <- env
		}
		return
	}

	// No id: a notification. The only one this client consumes is
	// blockchain.headers.subscribe's push.
	if env.Method == "blockchain.headers.subscribe" {
		var res headersSubscribeResult
		if err := json.Unmarshal(env.Params, &res); err != nil {
			klog.Fetch.Warn().Err(err).Msg("jsonrpc: malformed headers notification")
			return
		}
		c.tipHeight.Store(res.Height)

		c.mu.Lock()
		cb := c.headerCB
		c.mu.Unlock()
		if cb == nil {
			return
		}
		raw, err := hex.DecodeString(res.Hex)
		if err != nil {
			klog.Fetch.Warn().Err(err).Msg("jsonrpc: non-hex header in notification")
			return
		}
		cb(res.Height, raw)
	}
}

func (c *Client) failAllPending(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- envelope{Error: &rpcError{Message: err.Error()}}
	}
}

// call issues one request and waits for its correlated response, per
// §4.D.1: one monotonic id counter per connection, timeout at T_req.
func (c *Client) call(ctx context.Context, method string, params interface{}, result interface{}) error {
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return &fetch.DisconnectedError{Err: fmt.Errorf("jsonrpc: not connected")}
	}
	id := c.nextID.Add(1)
	ch := make(chan envelope, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	req := request{ID: id, Method: method, Params: params}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("jsonrpc: encode request: %w", err)
	}
	body = append(body, '\n')

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetWriteDeadline(deadline)
	} else {
		conn.SetWriteDeadline(time.Now().Add(c.requestTimeout))
	}
	if _, err := conn.Write(body); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return &fetch.DisconnectedError{Err: err}
	}

	timer := time.NewTimer(c.requestTimeout)
	defer timer.Stop()

	select {
	case env := <-ch:
		if env.ID == nil {
			// failAllPending's envelope: the connection dropped mid-request.
			return &fetch.DisconnectedError{Err: fmt.Errorf("%s", env.Error.Message)}
		}
		if env.Error != nil {
			return &RPCError{Code: env.Error.Code, Message: env.Error.Message}
		}
		if result != nil && env.Result != nil {
			if err := json.Unmarshal(env.Result, result); err != nil {
				return fmt.Errorf("jsonrpc: decode result for %s: %w", method, err)
			}
		}
		return nil
	case <-timer.C:
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return &fetch.TimeoutError{Op: method}
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return ctx.Err()
	}
}

// ChainTipHeight returns the cached tip, subscribing on first call. Per
// §4.D.1, the subscription request is sent at most once per connection;
// the cached value is kept current by the notification handler in route.
func (c *Client) ChainTipHeight(ctx context.Context) (uint64, error) {
	if err := c.ensureSubscribed(ctx); err != nil {
		return 0, err
	}
	return c.tipHeight.Load(), nil
}

// SubscribeHeaders registers cb for subsequent tip-notification pushes,
// subscribing on first call per the same one-subscription-per-connection
// rule as ChainTipHeight.
func (c *Client) SubscribeHeaders(ctx context.Context, cb func(height uint64, header []byte)) error {
	c.mu.Lock()
	c.headerCB = cb
	c.mu.Unlock()
	return c.ensureSubscribed(ctx)
}

func (c *Client) ensureSubscribed(ctx context.Context) error {
	c.mu.Lock()
	if c.subscribed {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	var res headersSubscribeResult
	if err := c.call(ctx, "blockchain.headers.subscribe", nil, &res); err != nil {
		return err
	}
	c.tipHeight.Store(res.Height)

	c.mu.Lock()
	c.subscribed = true
	cb := c.headerCB
	c.mu.Unlock()

	if cb != nil {
		if raw, err := hex.DecodeString(res.Hex); err == nil && len(raw) > 0 {
			cb(res.Height, raw)
		}
	}
	return nil
}

// BlockHeader fetches one 80-byte raw header.
func (c *Client) BlockHeader(ctx context.Context, height uint64) ([]byte, error) {
	var hexHeader string
	if err := c.call(ctx, "blockchain.block.header", []interface{}{height}, &hexHeader); err != nil {
		return nil, err
	}
	raw, err := hex.DecodeString(hexHeader)
	if err != nil {
		return nil, &fetch.ProtocolInvariantViolation{Reason: fmt.Sprintf("block.header: non-hex response: %v", err)}
	}
	return raw, nil
}

// BlockHeaders fetches up to count concatenated headers, splitting the
// hex blob into individual 80-byte raw headers. The server may return
// fewer than count (§4.D).
func (c *Client) BlockHeaders(ctx context.Context, start uint64, count uint32) ([][]byte, error) {
	var res blockHeadersResult
	if err := c.call(ctx, "blockchain.block.headers", []interface{}{start, count}, &res); err != nil {
		return nil, err
	}
	raw, err := hex.DecodeString(res.Hex)
	if err != nil {
		return nil, &fetch.ProtocolInvariantViolation{Reason: fmt.Sprintf("block.headers: non-hex response: %v", err)}
	}
	const headerSize = 80
	if len(raw)%headerSize != 0 {
		return nil, &fetch.ProtocolInvariantViolation{Reason: fmt.Sprintf("block.headers: length %d not a multiple of %d", len(raw), headerSize)}
	}
	n := len(raw) / headerSize
	headers := make([][]byte, n)
	for i := 0; i < n; i++ {
		headers[i] = raw[i*headerSize : (i+1)*headerSize]
	}
	return headers, nil
}

// BlockTxKeysRange fetches transaction-key summaries starting at start.
func (c *Client) BlockTxKeysRange(ctx context.Context, start uint64) (fetch.TxKeysRange, error) {
	var res txKeysRangeResult
	if err := c.call(ctx, "blockchain.block.get_range_txs_keys", []interface{}{start}, &res); err != nil {
		return fetch.TxKeysRange{}, err
	}

	out := fetch.TxKeysRange{NextHeight: res.NextHeight}
	for i, blockKeys := range res.Blocks {
		height := start + uint64(i)
		bk := fetch.BlockTxKeys{Height: height}
		for _, tk := range blockKeys {
			summary, err := decodeTxKey(tk)
			if err != nil {
				return fetch.TxKeysRange{}, &fetch.ProtocolInvariantViolation{Reason: err.Error()}
			}
			bk.Keys = append(bk.Keys, summary)
		}
		out.Blocks = append(out.Blocks, bk)
	}
	return out, nil
}

func decodeTxKey(tk txKeyWire) (fetch.TxKeySummary, error) {
	txHash, err := types.HexToHash(tk.TxHash)
	if err != nil {
		return fetch.TxKeySummary{}, fmt.Errorf("tx hash: %w", err)
	}

	summary := fetch.TxKeySummary{TxHash: txHash}
	for _, o := range tk.Body.Outputs {
		outHash, err := types.HexToHash(o.OutputHash)
		if err != nil {
			return fetch.TxKeySummary{}, fmt.Errorf("output hash: %w", err)
		}
		blindingPK, err := decodePoint(o.BlindingKey)
		if err != nil {
			return fetch.TxKeySummary{}, fmt.Errorf("blinding key: %w", err)
		}
		spendingPK, err := decodePoint(o.SpendingKey)
		if err != nil {
			return fetch.TxKeySummary{}, fmt.Errorf("spending key: %w", err)
		}
		summary.Outputs = append(summary.Outputs, fetch.TxKeyOutput{
			BlindingPK: blindingPK,
			SpendingPK: spendingPK,
			ViewTag:    o.ViewTag,
			OutputHash: outHash,
		})
	}
	for _, in := range tk.Body.Inputs {
		hashHex := in.resolvedHash()
		if hashHex == "" {
			continue
		}
		prevHash, err := types.HexToHash(hashHex)
		if err != nil {
			return fetch.TxKeySummary{}, fmt.Errorf("input hash: %w", err)
		}
		summary.Inputs = append(summary.Inputs, fetch.TxKeyInput{PrevOutHash: prevHash})
	}
	return summary, nil
}

func decodePoint(hexStr string) (cryptoadapter.Point, error) {
	raw, err := hex.DecodeString(hexStr)
	if err != nil {
		return cryptoadapter.Point{}, err
	}
	if len(raw) != cryptoadapter.PointSize {
		return cryptoadapter.Point{}, fmt.Errorf("point must be %d bytes, got %d", cryptoadapter.PointSize, len(raw))
	}
	var p cryptoadapter.Point
	copy(p[:], raw)
	return p, nil
}

// TxOutputByHash fetches one serialized confidential output.
func (c *Client) TxOutputByHash(ctx context.Context, outputHash types.Hash) ([]byte, error) {
	var hexOut string
	if err := c.call(ctx, "blockchain.transaction.get_output", []interface{}{outputHash.String()}, &hexOut); err != nil {
		return nil, err
	}
	raw, err := hex.DecodeString(hexOut)
	if err != nil {
		return nil, &fetch.ProtocolInvariantViolation{Reason: fmt.Sprintf("transaction.get_output: non-hex response: %v", err)}
	}
	return raw, nil
}

// Broadcast relays a raw transaction and returns its hash.
func (c *Client) Broadcast(ctx context.Context, rawTx []byte) (types.Hash, error) {
	var txidHex string
	if err := c.call(ctx, "blockchain.transaction.broadcast", []interface{}{hex.EncodeToString(rawTx)}, &txidHex); err != nil {
		return types.Hash{}, err
	}
	return types.HexToHash(txidHex)
}

var _ fetch.Provider = (*Client)(nil)
