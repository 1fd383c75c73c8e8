package transport

import (
	"context"

	"chainfetch/internal/blockparam"
	"chainfetch/internal/eth"
)

// Client is the capability the fetcher needs from a node connection.
// Every method performs exactly one JSON-RPC call and returns either the
// decoded value or a *Error. Methods returning pointers yield nil when the
// node answers null (block or transaction not found).
type Client interface {
	GetLogs(ctx context.Context, filter eth.Filter) ([]eth.Log, error)
	GetBlock(ctx context.Context, number uint64) (*eth.Block[eth.Hash], error)
	GetBlockWithTxs(ctx context.Context, number uint64) (*eth.Block[eth.Transaction], error)
	GetBlockReceipts(ctx context.Context, number uint64) ([]eth.Receipt, error)
	GetTransaction(ctx context.Context, hash eth.Hash) (*eth.Transaction, error)
	GetTransactionReceipt(ctx context.Context, hash eth.Hash) (*eth.Receipt, error)
	TraceBlock(ctx context.Context, block blockparam.BlockNumber) ([]eth.Trace, error)
	TraceTransaction(ctx context.Context, hash eth.Hash) ([]eth.Trace, error)
	TraceReplayBlockTransactions(ctx context.Context, block blockparam.BlockNumber, traceTypes []eth.TraceType) ([]eth.BlockTrace, error)
	TraceReplayTransaction(ctx context.Context, hash eth.Hash, traceTypes []eth.TraceType) (eth.BlockTrace, error)
	GetBlockNumber(ctx context.Context) (uint64, error)
	ChainID(ctx context.Context) (uint64, error)

	// Close releases the underlying connections
	Close()
}

// RPC method names
const (
	MethodGetLogs                      = "eth_getLogs"
	MethodGetBlockByNumber             = "eth_getBlockByNumber"
	MethodGetBlockReceipts             = "eth_getBlockReceipts"
	MethodGetTransactionByHash         = "eth_getTransactionByHash"
	MethodGetTransactionReceipt        = "eth_getTransactionReceipt"
	MethodTraceBlock                   = "trace_block"
	MethodTraceTransaction             = "trace_transaction"
	MethodTraceReplayBlockTransactions = "trace_replayBlockTransactions"
	MethodTraceReplayTransaction       = "trace_replayTransaction"
	MethodBlockNumber                  = "eth_blockNumber"
	MethodChainID                      = "eth_chainId"
)
