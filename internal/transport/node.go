package transport

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	"chainfetch/internal/blockparam"
	"chainfetch/internal/eth"
	"chainfetch/internal/jsonrpc"
)

// Node is a JSON-RPC client for a single node endpoint
type Node struct {
	name     string
	rpcURL   string
	wsURL    string
	preferWS bool

	messageTimeout    time.Duration
	reconnectInterval time.Duration

	httpClient *http.Client
	wsClient   atomic.Pointer[WSClient]
	connectMu  sync.Mutex
	logger     zerolog.Logger

	nextID   atomic.Int64
	requests atomic.Uint64
}

// Config for creating a new Node
type Config struct {
	Name              string
	RPCURL            string
	WSURL             string
	PreferWS          bool
	RequestTimeout    time.Duration
	MessageTimeout    time.Duration
	ReconnectInterval time.Duration
	Logger            zerolog.Logger
}

var _ Client = (*Node)(nil)

// NewNode creates a new Node. The WebSocket connection, if any, is opened by Connect.
func NewNode(cfg Config) *Node {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
		DisableCompression:  true,
	}

	httpClient := &http.Client{
		Transport: transport,
		Timeout:   cfg.RequestTimeout,
	}

	name := cfg.Name
	if name == "" {
		name = "node"
	}

	return &Node{
		name:              name,
		rpcURL:            cfg.RPCURL,
		wsURL:             cfg.WSURL,
		preferWS:          cfg.PreferWS,
		messageTimeout:    cfg.MessageTimeout,
		reconnectInterval: cfg.ReconnectInterval,
		httpClient:        httpClient,
		logger:            cfg.Logger.With().Str("node", name).Logger(),
	}
}

// Name returns the node name
func (n *Node) Name() string {
	return n.name
}

// HasRPC returns true if HTTP RPC URL is configured
func (n *Node) HasRPC() bool {
	return n.rpcURL != ""
}

// HasWS returns true if WebSocket URL is configured
func (n *Node) HasWS() bool {
	return n.wsURL != ""
}

// RequestCount returns the number of requests written to the node so far
func (n *Node) RequestCount() uint64 {
	return n.requests.Load()
}

// Connect establishes the WebSocket connection when a WebSocket URL is configured.
// It is a no-op for HTTP-only nodes.
func (n *Node) Connect(ctx context.Context) error {
	if !n.HasWS() {
		return nil
	}
	n.connectMu.Lock()
	defer n.connectMu.Unlock()
	if n.wsClient.Load() != nil {
		return nil
	}

	ws := NewWSClient(n.wsURL, n.messageTimeout, n.reconnectInterval, &n.requests, n.logger)
	if err := ws.Connect(ctx); err != nil {
		return err
	}
	n.wsClient.Store(ws)
	return nil
}

// Close closes all connections. The WebSocket client stays in place after
// Close so calls still in flight fail with a connection error.
func (n *Node) Close() {
	if ws := n.wsClient.Load(); ws != nil {
		ws.Close()
	}
	n.httpClient.CloseIdleConnections()
}

// Call performs one JSON-RPC call and decodes the result into out.
// A null result leaves out untouched.
func (n *Node) Call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	req, err := jsonrpc.NewRequest(method, params, jsonrpc.NewIDInt(n.nextID.Add(1)))
	if err != nil {
		return &Error{Kind: KindEncode, Method: method, Err: err}
	}

	resp, err := n.Execute(ctx, req)
	if err != nil {
		return err
	}

	if resp.HasError() {
		n.logger.Debug().
			Str("method", method).
			Int("errorCode", resp.Error.Code).
			Str("errorMessage", resp.Error.Message).
			Msg("RPC error response")
		return &Error{Kind: KindRPC, Method: method, RPC: resp.Error}
	}

	if err := resp.DecodeResult(out); err != nil {
		return malformedError(method, errors.Wrap(err, "failed to decode result"))
	}
	return nil
}

// Execute sends a JSON-RPC request and returns the response.
// When preferWS is true and the WebSocket is connected, uses WebSocket.
// Otherwise prefers HTTP RPC, falls back to WebSocket if HTTP is not available.
func (n *Node) Execute(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	ws := n.wsClient.Load()
	if n.preferWS && ws != nil && ws.Connected() {
		return n.ExecuteWS(ctx, req)
	}
	if n.HasRPC() {
		return n.ExecuteHTTP(ctx, req)
	}
	if n.HasWS() {
		return n.ExecuteWS(ctx, req)
	}
	return nil, &Error{Kind: KindEncode, Method: req.Method, Err: errors.Newf("no endpoint configured for node %s", n.name)}
}

// ExecuteHTTP sends a JSON-RPC request via HTTP
func (n *Node) ExecuteHTTP(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	reqBytes, err := req.Bytes()
	if err != nil {
		return nil, &Error{Kind: KindEncode, Method: req.Method, Err: errors.Wrap(err, "failed to marshal request")}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, n.rpcURL, bytes.NewReader(reqBytes))
	if err != nil {
		return nil, &Error{Kind: KindEncode, Method: req.Method, Err: errors.Wrap(err, "failed to create HTTP request")}
	}

	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(httpReq)
	if err != nil {
		return nil, requestError(ctx, req.Method, err, "HTTP request failed")
	}
	defer resp.Body.Close()

	n.requests.Add(1)

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &Error{Kind: KindHTTPStatus, Method: req.Method, Status: resp.StatusCode, Body: string(body)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, requestError(ctx, req.Method, err, "failed to read response")
	}

	rpcResp, err := jsonrpc.ParseResponse(body)
	if err != nil {
		return nil, malformedError(req.Method, errors.Wrap(err, "failed to parse response"))
	}

	return rpcResp, nil
}

// ExecuteWS sends a JSON-RPC request via WebSocket
func (n *Node) ExecuteWS(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	ws := n.wsClient.Load()
	if ws == nil {
		return nil, connectionError(req.Method, errors.New("WebSocket not connected"))
	}
	resp, err := ws.SendRequest(ctx, req)
	if err != nil {
		return nil, requestError(ctx, req.Method, err, "WebSocket request failed")
	}
	return resp, nil
}

// GetLogs returns the logs matching filter
func (n *Node) GetLogs(ctx context.Context, filter eth.Filter) ([]eth.Log, error) {
	logs := []eth.Log{}
	err := n.Call(ctx, MethodGetLogs, []interface{}{filter}, &logs)
	return logs, err
}

// GetBlock returns the block with transaction hashes only
func (n *Node) GetBlock(ctx context.Context, number uint64) (*eth.Block[eth.Hash], error) {
	var block *eth.Block[eth.Hash]
	err := n.Call(ctx, MethodGetBlockByNumber, []interface{}{blockparam.Number(number), false}, &block)
	return block, err
}

// GetBlockWithTxs returns the block with full transaction objects
func (n *Node) GetBlockWithTxs(ctx context.Context, number uint64) (*eth.Block[eth.Transaction], error) {
	var block *eth.Block[eth.Transaction]
	err := n.Call(ctx, MethodGetBlockByNumber, []interface{}{blockparam.Number(number), true}, &block)
	return block, err
}

// GetBlockReceipts returns all receipts of a block
func (n *Node) GetBlockReceipts(ctx context.Context, number uint64) ([]eth.Receipt, error) {
	var receipts []eth.Receipt
	err := n.Call(ctx, MethodGetBlockReceipts, []interface{}{blockparam.Number(number)}, &receipts)
	return receipts, err
}

// GetTransaction returns the transaction with the given hash
func (n *Node) GetTransaction(ctx context.Context, hash eth.Hash) (*eth.Transaction, error) {
	var tx *eth.Transaction
	err := n.Call(ctx, MethodGetTransactionByHash, []interface{}{hash}, &tx)
	return tx, err
}

// GetTransactionReceipt returns the receipt of the transaction with the given hash
func (n *Node) GetTransactionReceipt(ctx context.Context, hash eth.Hash) (*eth.Receipt, error) {
	var receipt *eth.Receipt
	err := n.Call(ctx, MethodGetTransactionReceipt, []interface{}{hash}, &receipt)
	return receipt, err
}

// TraceBlock returns the traces created at the given block
func (n *Node) TraceBlock(ctx context.Context, block blockparam.BlockNumber) ([]eth.Trace, error) {
	traces := []eth.Trace{}
	err := n.Call(ctx, MethodTraceBlock, []interface{}{block}, &traces)
	return traces, err
}

// TraceTransaction returns all traces of a given transaction
func (n *Node) TraceTransaction(ctx context.Context, hash eth.Hash) ([]eth.Trace, error) {
	traces := []eth.Trace{}
	err := n.Call(ctx, MethodTraceTransaction, []interface{}{hash}, &traces)
	return traces, err
}

// TraceReplayBlockTransactions replays every transaction of a block
func (n *Node) TraceReplayBlockTransactions(ctx context.Context, block blockparam.BlockNumber, traceTypes []eth.TraceType) ([]eth.BlockTrace, error) {
	var traces []eth.BlockTrace
	err := n.Call(ctx, MethodTraceReplayBlockTransactions, []interface{}{block, traceTypesParam(traceTypes)}, &traces)
	return traces, err
}

// TraceReplayTransaction replays a single transaction
func (n *Node) TraceReplayTransaction(ctx context.Context, hash eth.Hash, traceTypes []eth.TraceType) (eth.BlockTrace, error) {
	var trace eth.BlockTrace
	err := n.Call(ctx, MethodTraceReplayTransaction, []interface{}{hash, traceTypesParam(traceTypes)}, &trace)
	return trace, err
}

// GetBlockNumber returns the current chain head height
func (n *Node) GetBlockNumber(ctx context.Context) (uint64, error) {
	return n.callQuantity(ctx, MethodBlockNumber)
}

// ChainID returns the chain id reported by the node
func (n *Node) ChainID(ctx context.Context) (uint64, error) {
	return n.callQuantity(ctx, MethodChainID)
}

func (n *Node) callQuantity(ctx context.Context, method string) (uint64, error) {
	var hex string
	if err := n.Call(ctx, method, nil, &hex); err != nil {
		return 0, err
	}
	value, err := blockparam.ParseHexUint64(hex)
	if err != nil {
		return 0, malformedError(method, err)
	}
	return value, nil
}

// traceTypesParam keeps an empty selection encoded as [] rather than null
func traceTypesParam(traceTypes []eth.TraceType) []eth.TraceType {
	if traceTypes == nil {
		return []eth.TraceType{}
	}
	return traceTypes
}
