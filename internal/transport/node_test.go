package transport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainfetch/internal/blockparam"
	"chainfetch/internal/eth"
	"chainfetch/internal/jsonrpc"
)

// fakeNode answers JSON-RPC requests from a method -> handler table
type fakeNode struct {
	mu       sync.Mutex
	handlers map[string]func(params json.RawMessage) (interface{}, *jsonrpc.Error)
	seen     []*jsonrpc.Request
}

func newFakeNode() *fakeNode {
	return &fakeNode{handlers: make(map[string]func(json.RawMessage) (interface{}, *jsonrpc.Error))}
}

func (f *fakeNode) on(method string, h func(params json.RawMessage) (interface{}, *jsonrpc.Error)) {
	f.mu.Lock()
	f.handlers[method] = h
	f.mu.Unlock()
}

func (f *fakeNode) answer(data []byte) []byte {
	req, err := jsonrpc.ParseRequest(data)
	if err != nil {
		out, _ := jsonrpc.NewErrorResponse(jsonrpc.NewIDNull(), jsonrpc.ErrParse).Bytes()
		return out
	}

	f.mu.Lock()
	f.seen = append(f.seen, req)
	h, ok := f.handlers[req.Method]
	f.mu.Unlock()

	if !ok {
		out, _ := jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrMethodNotFound).Bytes()
		return out
	}

	result, rpcErr := h(req.Params)
	if rpcErr != nil {
		out, _ := jsonrpc.NewErrorResponse(req.ID, rpcErr).Bytes()
		return out
	}
	resp, _ := jsonrpc.NewResponse(req.ID, result)
	out, _ := resp.Bytes()
	return out
}

func (f *fakeNode) lastParams(t *testing.T) json.RawMessage {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.seen)
	return f.seen[len(f.seen)-1].Params
}

func (f *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	w.Header().Set("Content-Type", "application/json")
	w.Write(f.answer(body))
}

func newHTTPNode(t *testing.T, handler http.Handler) *Node {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	n := NewNode(Config{Name: "test", RPCURL: srv.URL, RequestTimeout: 5 * time.Second, Logger: zerolog.Nop()})
	t.Cleanup(n.Close)
	return n
}

func TestNode_GetBlock(t *testing.T) {
	fake := newFakeNode()
	fake.on(MethodGetBlockByNumber, func(params json.RawMessage) (interface{}, *jsonrpc.Error) {
		var p []json.RawMessage
		json.Unmarshal(params, &p)
		if string(p[0]) == `"0x64"` {
			return map[string]interface{}{"number": "0x64", "hash": "0xabc", "transactions": []string{"0x1"}}, nil
		}
		return nil, nil
	})
	n := newHTTPNode(t, fake)
	ctx := context.Background()

	block, err := n.GetBlock(ctx, 100)
	require.NoError(t, err)
	require.NotNil(t, block)
	assert.Equal(t, eth.Hash("0xabc"), block.Hash)
	assert.Equal(t, []eth.Hash{"0x1"}, block.Transactions)
	assert.JSONEq(t, `["0x64",false]`, string(fake.lastParams(t)))

	missing, err := n.GetBlock(ctx, 101)
	require.NoError(t, err)
	assert.Nil(t, missing)
	assert.Equal(t, uint64(2), n.RequestCount())
}

func TestNode_GetTransactionNotFound(t *testing.T) {
	fake := newFakeNode()
	fake.on(MethodGetTransactionByHash, func(json.RawMessage) (interface{}, *jsonrpc.Error) { return nil, nil })
	fake.on(MethodGetTransactionReceipt, func(json.RawMessage) (interface{}, *jsonrpc.Error) { return nil, nil })
	n := newHTTPNode(t, fake)

	tx, err := n.GetTransaction(context.Background(), "0xdead")
	require.NoError(t, err)
	assert.Nil(t, tx)

	receipt, err := n.GetTransactionReceipt(context.Background(), "0xdead")
	require.NoError(t, err)
	assert.Nil(t, receipt)
}

func TestNode_GetLogs(t *testing.T) {
	fake := newFakeNode()
	fake.on(MethodGetLogs, func(json.RawMessage) (interface{}, *jsonrpc.Error) {
		return []map[string]interface{}{{"address": "0xa", "logIndex": "0x0", "topics": []string{"0x01"}}}, nil
	})
	n := newHTTPNode(t, fake)

	logs, err := n.GetLogs(context.Background(), eth.NewRangeFilter(1, 2))
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, eth.Address("0xa"), logs[0].Address)
	assert.JSONEq(t, `[{"fromBlock":"0x1","toBlock":"0x2"}]`, string(fake.lastParams(t)))
}

func TestNode_GetLogsEmpty(t *testing.T) {
	fake := newFakeNode()
	fake.on(MethodGetLogs, func(json.RawMessage) (interface{}, *jsonrpc.Error) { return []interface{}{}, nil })
	n := newHTTPNode(t, fake)

	logs, err := n.GetLogs(context.Background(), eth.NewRangeFilter(1, 2))
	require.NoError(t, err)
	assert.NotNil(t, logs)
	assert.Empty(t, logs)
}

func TestNode_TraceReplayTransaction(t *testing.T) {
	fake := newFakeNode()
	fake.on(MethodTraceReplayTransaction, func(json.RawMessage) (interface{}, *jsonrpc.Error) {
		return map[string]interface{}{"output": "0x", "trace": []map[string]interface{}{{"type": "call", "subtraces": 0}}}, nil
	})
	n := newHTTPNode(t, fake)

	trace, err := n.TraceReplayTransaction(context.Background(), "0xbeef", []eth.TraceType{eth.TraceTypeTrace, eth.TraceTypeStateDiff})
	require.NoError(t, err)
	require.Len(t, trace.Trace, 1)
	assert.Equal(t, "call", trace.Trace[0].Type)
	assert.JSONEq(t, `["0xbeef",["trace","stateDiff"]]`, string(fake.lastParams(t)))
}

func TestNode_TraceBlockByTag(t *testing.T) {
	fake := newFakeNode()
	fake.on(MethodTraceBlock, func(json.RawMessage) (interface{}, *jsonrpc.Error) { return []interface{}{}, nil })
	n := newHTTPNode(t, fake)

	traces, err := n.TraceBlock(context.Background(), blockparam.Latest)
	require.NoError(t, err)
	assert.Empty(t, traces)
	assert.JSONEq(t, `["latest"]`, string(fake.lastParams(t)))
}

func TestNode_BlockNumberAndChainID(t *testing.T) {
	fake := newFakeNode()
	fake.on(MethodBlockNumber, func(json.RawMessage) (interface{}, *jsonrpc.Error) { return "0x1b4", nil })
	fake.on(MethodChainID, func(json.RawMessage) (interface{}, *jsonrpc.Error) { return "0x1", nil })
	n := newHTTPNode(t, fake)

	head, err := n.GetBlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(436), head)

	chainID, err := n.ChainID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), chainID)
}

func TestNode_RPCError(t *testing.T) {
	fake := newFakeNode()
	fake.on(MethodGetBlockReceipts, func(json.RawMessage) (interface{}, *jsonrpc.Error) {
		return nil, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "invalid params")
	})
	n := newHTTPNode(t, fake)

	_, err := n.GetBlockReceipts(context.Background(), 5)
	require.Error(t, err)

	var terr *Error
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, KindRPC, terr.Kind)
	assert.Equal(t, jsonrpc.CodeInvalidParams, terr.RPC.Code)
	assert.False(t, IsRetryable(err))
}

func TestNode_HTTPStatusError(t *testing.T) {
	n := newHTTPNode(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))

	_, err := n.GetBlockNumber(context.Background())
	require.Error(t, err)

	var terr *Error
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, KindHTTPStatus, terr.Kind)
	assert.Equal(t, http.StatusTooManyRequests, terr.Status)
	assert.True(t, IsRetryable(err))
}

func TestNode_MalformedResponse(t *testing.T) {
	n := newHTTPNode(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":`))
	}))

	_, err := n.GetBlockNumber(context.Background())
	require.Error(t, err)

	var terr *Error
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, KindMalformed, terr.Kind)
	assert.True(t, IsRetryable(err))
}

func TestNode_ConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	n := NewNode(Config{RPCURL: url, RequestTimeout: time.Second, Logger: zerolog.Nop()})
	defer n.Close()

	_, err := n.GetBlockNumber(context.Background())
	require.Error(t, err)

	var terr *Error
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, KindConnection, terr.Kind)
	assert.True(t, IsRetryable(err))
}

func TestNode_CanceledContext(t *testing.T) {
	fake := newFakeNode()
	n := newHTTPNode(t, fake)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := n.GetBlockNumber(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, IsRetryable(err))
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("boom"), false},
		{"connection", connectionError("m", errors.New("reset")), true},
		{"http 503", &Error{Kind: KindHTTPStatus, Status: 503}, true},
		{"http 400", &Error{Kind: KindHTTPStatus, Status: 400}, false},
		{"encode", &Error{Kind: KindEncode, Err: errors.New("bad")}, false},
		{"rpc internal", &Error{Kind: KindRPC, RPC: jsonrpc.ErrInternal}, true},
		{"wrapped", errors.Wrap(connectionError("m", errors.New("eof")), "outer"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

// newWSServer serves fake over a WebSocket endpoint and returns its ws:// URL
func newWSServer(t *testing.T, fake *fakeNode) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, fake.answer(data)); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestNode_WebSocket(t *testing.T) {
	fake := newFakeNode()
	fake.on(MethodBlockNumber, func(json.RawMessage) (interface{}, *jsonrpc.Error) { return "0x10", nil })

	n := NewNode(Config{WSURL: newWSServer(t, fake), PreferWS: true, Logger: zerolog.Nop()})
	defer n.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, n.Connect(ctx))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			head, err := n.GetBlockNumber(ctx)
			assert.NoError(t, err)
			assert.Equal(t, uint64(16), head)
		}()
	}
	wg.Wait()

	assert.Equal(t, uint64(8), n.RequestCount())
}

func TestNode_CloseDuringWebSocketCalls(t *testing.T) {
	fake := newFakeNode()
	fake.on(MethodBlockNumber, func(json.RawMessage) (interface{}, *jsonrpc.Error) { return "0x10", nil })

	n := NewNode(Config{WSURL: newWSServer(t, fake), PreferWS: true, Logger: zerolog.Nop()})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, n.Connect(ctx))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_, err := n.GetBlockNumber(ctx)
				if err == nil {
					continue
				}
				var terr *Error
				if assert.True(t, errors.As(err, &terr), "unexpected error %v", err) {
					assert.Equal(t, KindConnection, terr.Kind)
				}
			}
		}()
	}

	time.Sleep(5 * time.Millisecond)
	n.Close()
	wg.Wait()

	// a second Close and calls after Close must not panic
	n.Close()
	_, err := n.GetBlockNumber(ctx)
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
}

func TestNode_WebSocketDroppedFailsPromptly(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	defer srv.Close()

	n := NewNode(Config{
		WSURL:             "ws" + strings.TrimPrefix(srv.URL, "http"),
		ReconnectInterval: time.Second,
		Logger:            zerolog.Nop(),
	})
	defer n.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, n.Connect(ctx))

	for i := 0; i < 5; i++ {
		start := time.Now()
		_, err := n.GetBlockNumber(ctx)
		require.Error(t, err)
		assert.Less(t, time.Since(start), 500*time.Millisecond)
		assert.True(t, IsRetryable(err))
		assert.NoError(t, ctx.Err())
		time.Sleep(10 * time.Millisecond)
	}
}

func TestNode_RequestTimeoutIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(200 * time.Millisecond):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	n := NewNode(Config{RPCURL: srv.URL, RequestTimeout: 20 * time.Millisecond, Logger: zerolog.Nop()})
	defer n.Close()

	_, err := n.GetBlockNumber(context.Background())
	require.Error(t, err)

	var terr *Error
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, KindConnection, terr.Kind)
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.False(t, errors.Is(err, context.DeadlineExceeded))
	assert.False(t, errors.Is(err, context.Canceled))
	assert.True(t, IsRetryable(err))
}

func TestRequestError(t *testing.T) {
	live := context.Background()
	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	err := requestError(canceled, "m", errors.New("reset"), "HTTP request failed")
	assert.Equal(t, context.Canceled, err)

	err = requestError(live, "m", errors.New("reset"), "HTTP request failed")
	assert.True(t, IsRetryable(err))
	assert.False(t, errors.Is(err, ErrTimeout))

	err = requestError(live, "m", errors.Wrap(context.DeadlineExceeded, "awaiting headers"), "HTTP request failed")
	assert.True(t, IsRetryable(err))
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.False(t, errors.Is(err, context.DeadlineExceeded))
	assert.Contains(t, err.Error(), "awaiting headers")
}

func TestNode_NoEndpoint(t *testing.T) {
	n := NewNode(Config{Logger: zerolog.Nop()})
	defer n.Close()

	_, err := n.GetBlockNumber(context.Background())
	var terr *Error
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, KindEncode, terr.Kind)
	assert.False(t, IsRetryable(err))
}
