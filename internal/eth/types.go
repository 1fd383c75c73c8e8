// Package eth holds the decoded records returned by an Ethereum-style node.
// Quantities stay in their 0x-prefixed hex wire form; callers convert with
// blockparam.ParseHexUint64 when they need numbers.
package eth

import (
	"encoding/json"

	"github.com/cockroachdb/errors"

	"chainfetch/internal/blockparam"
)

// Hash is a 0x-prefixed 32-byte hex string
type Hash string

// Address is a 0x-prefixed 20-byte hex string
type Address string

// Block represents a block; T is Hash for hashes-only blocks and
// Transaction for blocks fetched with full transactions.
type Block[T any] struct {
	Hash             Hash    `json:"hash"`
	ParentHash       Hash    `json:"parentHash"`
	Number           string  `json:"number"`
	Timestamp        string  `json:"timestamp"`
	Nonce            string  `json:"nonce,omitempty"`
	Difficulty       string  `json:"difficulty,omitempty"`
	GasLimit         string  `json:"gasLimit"`
	GasUsed          string  `json:"gasUsed"`
	Miner            Address `json:"miner"`
	ExtraData        string  `json:"extraData"`
	LogsBloom        string  `json:"logsBloom"`
	TransactionsRoot Hash    `json:"transactionsRoot"`
	StateRoot        Hash    `json:"stateRoot"`
	ReceiptsRoot     Hash    `json:"receiptsRoot"`
	BaseFeePerGas    string  `json:"baseFeePerGas,omitempty"`
	Size             string  `json:"size,omitempty"`
	Transactions     []T     `json:"transactions"`
	Uncles           []Hash  `json:"uncles"`
}

// Height returns the decoded block number
func (b *Block[T]) Height() (uint64, error) {
	return blockparam.ParseHexUint64(b.Number)
}

// Transaction represents a transaction as returned by eth_getTransactionByHash
type Transaction struct {
	Hash                 Hash     `json:"hash"`
	BlockHash            *Hash    `json:"blockHash"`
	BlockNumber          *string  `json:"blockNumber"`
	TransactionIndex     *string  `json:"transactionIndex"`
	From                 Address  `json:"from"`
	To                   *Address `json:"to"`
	Value                string   `json:"value"`
	Gas                  string   `json:"gas"`
	GasPrice             string   `json:"gasPrice,omitempty"`
	MaxFeePerGas         string   `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas string   `json:"maxPriorityFeePerGas,omitempty"`
	Input                string   `json:"input"`
	Nonce                string   `json:"nonce"`
	Type                 string   `json:"type,omitempty"`
	ChainID              string   `json:"chainId,omitempty"`
	V                    string   `json:"v,omitempty"`
	R                    string   `json:"r,omitempty"`
	S                    string   `json:"s,omitempty"`
}

// Receipt represents a transaction receipt
type Receipt struct {
	TransactionHash   Hash     `json:"transactionHash"`
	TransactionIndex  string   `json:"transactionIndex"`
	BlockHash         Hash     `json:"blockHash"`
	BlockNumber       string   `json:"blockNumber"`
	From              Address  `json:"from"`
	To                *Address `json:"to"`
	CumulativeGasUsed string   `json:"cumulativeGasUsed"`
	GasUsed           string   `json:"gasUsed"`
	EffectiveGasPrice string   `json:"effectiveGasPrice,omitempty"`
	ContractAddress   *Address `json:"contractAddress"`
	Logs              []Log    `json:"logs"`
	LogsBloom         string   `json:"logsBloom"`
	Status            string   `json:"status,omitempty"`
	Type              string   `json:"type,omitempty"`
}

// Log represents an Ethereum log entry
type Log struct {
	Address          Address `json:"address"`
	Topics           []Hash  `json:"topics"`
	Data             string  `json:"data"`
	BlockNumber      string  `json:"blockNumber"`
	TransactionHash  Hash    `json:"transactionHash"`
	TransactionIndex string  `json:"transactionIndex"`
	BlockHash        Hash    `json:"blockHash"`
	LogIndex         string  `json:"logIndex"`
	Removed          bool    `json:"removed"`
}

// Filter is the eth_getLogs filter object.
// BlockHash is mutually exclusive with FromBlock/ToBlock.
type Filter struct {
	FromBlock *blockparam.BlockNumber `json:"fromBlock,omitempty"`
	ToBlock   *blockparam.BlockNumber `json:"toBlock,omitempty"`
	BlockHash *Hash                   `json:"blockHash,omitempty"`
	Addresses []Address               `json:"address,omitempty"`
	Topics    [][]Hash                `json:"topics,omitempty"`
}

// NewRangeFilter returns a filter for the inclusive block range [from, to]
func NewRangeFilter(from, to uint64) Filter {
	fromBlock := blockparam.Number(from)
	toBlock := blockparam.Number(to)
	return Filter{FromBlock: &fromBlock, ToBlock: &toBlock}
}

// Validate checks the filter for combinations the node would reject
func (f Filter) Validate() error {
	if f.BlockHash != nil && (f.FromBlock != nil || f.ToBlock != nil) {
		return errors.New("blockHash cannot be combined with fromBlock/toBlock")
	}
	if f.FromBlock != nil && f.ToBlock != nil {
		from, fromOK := f.FromBlock.Uint64()
		to, toOK := f.ToBlock.Uint64()
		if fromOK && toOK && from > to {
			return errors.Newf("fromBlock %d is after toBlock %d", from, to)
		}
	}
	return nil
}

// TraceType selects the outputs of trace_replay* calls
type TraceType string

const (
	TraceTypeTrace     TraceType = "trace"
	TraceTypeVMTrace   TraceType = "vmTrace"
	TraceTypeStateDiff TraceType = "stateDiff"
)

// ParseTraceType validates a trace type name
func ParseTraceType(s string) (TraceType, error) {
	switch TraceType(s) {
	case TraceTypeTrace, TraceTypeVMTrace, TraceTypeStateDiff:
		return TraceType(s), nil
	default:
		return "", errors.Newf("unknown trace type %q (want trace, vmTrace or stateDiff)", s)
	}
}

// Trace is a single parity-style trace as returned by trace_block / trace_transaction
type Trace struct {
	Action              json.RawMessage `json:"action"`
	Result              json.RawMessage `json:"result,omitempty"`
	Error               string          `json:"error,omitempty"`
	Subtraces           int             `json:"subtraces"`
	TraceAddress        []int           `json:"traceAddress"`
	TransactionHash     *Hash           `json:"transactionHash,omitempty"`
	TransactionPosition *int            `json:"transactionPosition,omitempty"`
	BlockHash           Hash            `json:"blockHash,omitempty"`
	BlockNumber         uint64          `json:"blockNumber,omitempty"`
	Type                string          `json:"type"`
}

// BlockTrace is the result of replaying a transaction with the requested trace types
type BlockTrace struct {
	Output          string          `json:"output"`
	Trace           []Trace         `json:"trace,omitempty"`
	VMTrace         json.RawMessage `json:"vmTrace,omitempty"`
	StateDiff       json.RawMessage `json:"stateDiff,omitempty"`
	TransactionHash *Hash           `json:"transactionHash,omitempty"`
}
