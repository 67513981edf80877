package jsonrpc

import (
	"bufio"
	"context"
	"encoding/hex"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/klingon-tech/lightwalletd/pkg/types"
)

// fakeServer accepts exactly one connection and answers each request with
// whatever handler returns for its method, matching the framed
// line-delimited JSON shape of §4.D.1/§6.1.
type fakeServer struct {
	ln net.Listener
}

func startFakeServer(t *testing.T, handler func(method string, params json.RawMessage) interface{}) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &fakeServer{ln: ln}

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			var req struct {
				ID     uint64          `json:"id"`
				Method string          `json:"method"`
				Params json.RawMessage `json:"params"`
			}
			if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
				continue
			}
			result := handler(req.Method, req.Params)
			resp := struct {
				ID     uint64      `json:"id"`
				Result interface{} `json:"result"`
			}{ID: req.ID, Result: result}
			body, _ := json.Marshal(resp)
			body = append(body, '\n')
			conn.Write(body)
		}
	}()

	t.Cleanup(func() { ln.Close() })
	return s
}

func (s *fakeServer) addr() string { return s.ln.Addr().String() }

func TestClient_ConnectAndChainTipHeight(t *testing.T) {
	srv := startFakeServer(t, func(method string, params json.RawMessage) interface{} {
		switch method {
		case "server.version":
			return map[string]bool{"accepted": true}
		case "blockchain.headers.subscribe":
			return headersSubscribeResult{Height: 42, Hex: ""}
		default:
			return nil
		}
	})

	c := New(srv.addr(), time.Second)
	ctx := context.Background()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	defer c.Close()

	height, err := c.ChainTipHeight(ctx)
	if err != nil {
		t.Fatalf("ChainTipHeight() error: %v", err)
	}
	if height != 42 {
		t.Errorf("height = %d, want 42", height)
	}
}

func TestClient_BlockHeader(t *testing.T) {
	rawHeader := make([]byte, 80)
	for i := range rawHeader {
		rawHeader[i] = byte(i)
	}
	headerHex := hex.EncodeToString(rawHeader)

	srv := startFakeServer(t, func(method string, params json.RawMessage) interface{} {
		switch method {
		case "server.version":
			return map[string]bool{"accepted": true}
		case "blockchain.block.header":
			return headerHex
		default:
			return nil
		}
	})

	c := New(srv.addr(), time.Second)
	ctx := context.Background()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	defer c.Close()

	got, err := c.BlockHeader(ctx, 100)
	if err != nil {
		t.Fatalf("BlockHeader() error: %v", err)
	}
	if len(got) != 80 {
		t.Fatalf("len(got) = %d, want 80", len(got))
	}
	if got[0] != 0 || got[79] != 79 {
		t.Errorf("header bytes not round-tripped correctly")
	}
}

func TestClient_BlockHeaders_SplitsConcatenatedBlob(t *testing.T) {
	raw := make([]byte, 160)
	for i := range raw {
		raw[i] = byte(i)
	}
	blob := hex.EncodeToString(raw)

	srv := startFakeServer(t, func(method string, params json.RawMessage) interface{} {
		switch method {
		case "server.version":
			return map[string]bool{"accepted": true}
		case "blockchain.block.headers":
			return blockHeadersResult{Count: 2, Hex: blob, Max: 2}
		default:
			return nil
		}
	})

	c := New(srv.addr(), time.Second)
	ctx := context.Background()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	defer c.Close()

	headers, err := c.BlockHeaders(ctx, 0, 2)
	if err != nil {
		t.Fatalf("BlockHeaders() error: %v", err)
	}
	if len(headers) != 2 {
		t.Fatalf("len(headers) = %d, want 2", len(headers))
	}
	if len(headers[0]) != 80 || len(headers[1]) != 80 {
		t.Errorf("each header should be 80 bytes")
	}
}

func TestClient_BlockTxKeysRange(t *testing.T) {
	outHash := types.Hash{1}
	txHash := types.Hash{2}
	blindingKey := make([]byte, 48)
	spendingKey := make([]byte, 48)

	srv := startFakeServer(t, func(method string, params json.RawMessage) interface{} {
		switch method {
		case "server.version":
			return map[string]bool{"accepted": true}
		case "blockchain.block.get_range_txs_keys":
			return map[string]interface{}{
				"blocks": [][]interface{}{
					{
						[]interface{}{
							txHash.String(),
							map[string]interface{}{
								"outputs": []interface{}{
									map[string]interface{}{
										"blindingKey": hex.EncodeToString(blindingKey),
										"spendingKey": hex.EncodeToString(spendingKey),
										"viewTag":     1234,
										"outputHash":  outHash.String(),
									},
								},
								"inputs": []interface{}{},
							},
						},
					},
				},
				"next_height": 101,
			}
		default:
			return nil
		}
	})

	c := New(srv.addr(), time.Second)
	ctx := context.Background()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	defer c.Close()

	res, err := c.BlockTxKeysRange(ctx, 100)
	if err != nil {
		t.Fatalf("BlockTxKeysRange() error: %v", err)
	}
	if res.NextHeight != 101 {
		t.Errorf("NextHeight = %d, want 101", res.NextHeight)
	}
	if len(res.Blocks) != 1 || res.Blocks[0].Height != 100 {
		t.Fatalf("Blocks = %+v, want one block at height 100", res.Blocks)
	}
	if len(res.Blocks[0].Keys) != 1 || res.Blocks[0].Keys[0].TxHash != txHash {
		t.Fatalf("Keys = %+v", res.Blocks[0].Keys)
	}
	if len(res.Blocks[0].Keys[0].Outputs) != 1 || res.Blocks[0].Keys[0].Outputs[0].OutputHash != outHash {
		t.Fatalf("Outputs = %+v", res.Blocks[0].Keys[0].Outputs)
	}
	if res.Blocks[0].Keys[0].Outputs[0].ViewTag != 1234 {
		t.Errorf("ViewTag = %d, want 1234", res.Blocks[0].Keys[0].Outputs[0].ViewTag)
	}
}

func TestClient_Broadcast(t *testing.T) {
	txHash := types.Hash{9}

	srv := startFakeServer(t, func(method string, params json.RawMessage) interface{} {
		switch method {
		case "server.version":
			return map[string]bool{"accepted": true}
		case "blockchain.transaction.broadcast":
			return txHash.String()
		default:
			return nil
		}
	})

	c := New(srv.addr(), time.Second)
	ctx := context.Background()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	defer c.Close()

	got, err := c.Broadcast(ctx, []byte{0xde, 0xad})
	if err != nil {
		t.Fatalf("Broadcast() error: %v", err)
	}
	if got != txHash {
		t.Errorf("Broadcast() = %s, want %s", got, txHash)
	}
}

func TestClient_ConnectFailsOnRefusedConnection(t *testing.T) {
	c := New("127.0.0.1:1", time.Second)
	if err := c.Connect(context.Background()); err == nil {
		t.Error("expected a connect error against an unreachable port")
	}
}
