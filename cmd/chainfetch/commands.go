package main

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"chainfetch/internal/blockparam"
	"chainfetch/internal/eth"
)

func (a *app) blockNumberCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "block-number",
		Short: "Print the current chain head",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			head, err := a.source.Fetcher.GetBlockNumber(cmd.Context())
			if err != nil {
				return err
			}
			return a.print(head)
		},
	}
}

func (a *app) blockCmd() *cobra.Command {
	var withTxs bool
	cmd := &cobra.Command{
		Use:   "block <number|latest>",
		Short: "Print a block",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			number, err := a.resolveNumber(ctx, args[0])
			if err != nil {
				return err
			}
			if withTxs {
				block, err := a.source.Fetcher.GetBlockWithTxs(ctx, number)
				if err != nil {
					return err
				}
				return a.print(block)
			}
			block, err := a.source.Fetcher.GetBlock(ctx, number)
			if err != nil {
				return err
			}
			return a.print(block)
		},
	}
	cmd.Flags().BoolVar(&withTxs, "txs", false, "include full transaction objects")
	return cmd
}

func (a *app) blockReceiptsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "block-receipts <number|latest>",
		Short: "Print every receipt of a block",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			number, err := a.resolveNumber(ctx, args[0])
			if err != nil {
				return err
			}
			receipts, err := a.source.Fetcher.GetBlockReceipts(ctx, number)
			if err != nil {
				return err
			}
			return a.print(receipts)
		},
	}
}

func (a *app) txCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tx <hash>",
		Short: "Print a transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tx, err := a.source.Fetcher.GetTransaction(cmd.Context(), eth.Hash(args[0]))
			if err != nil {
				return err
			}
			return a.print(tx)
		},
	}
}

func (a *app) receiptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "receipt <hash>",
		Short: "Print a transaction receipt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			receipt, err := a.source.Fetcher.GetTransactionReceipt(cmd.Context(), eth.Hash(args[0]))
			if err != nil {
				return err
			}
			return a.print(receipt)
		},
	}
}

func (a *app) traceBlockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trace-block <number|tag>",
		Short: "Print the traces of a block",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			block, err := blockparam.Parse(args[0])
			if err != nil {
				return err
			}
			traces, err := a.source.Fetcher.TraceBlock(cmd.Context(), block)
			if err != nil {
				return err
			}
			return a.print(traces)
		},
	}
}

func (a *app) traceTxCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trace-tx <hash>",
		Short: "Print the traces of a transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			traces, err := a.source.Fetcher.TraceTransaction(cmd.Context(), eth.Hash(args[0]))
			if err != nil {
				return err
			}
			return a.print(traces)
		},
	}
}

func (a *app) replayBlockCmd() *cobra.Command {
	var types []string
	cmd := &cobra.Command{
		Use:   "replay-block <number|tag>",
		Short: "Replay every transaction of a block",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			block, err := blockparam.Parse(args[0])
			if err != nil {
				return err
			}
			traceTypes, err := parseTraceTypes(types)
			if err != nil {
				return err
			}
			traces, err := a.source.Fetcher.TraceReplayBlockTransactions(cmd.Context(), block, traceTypes)
			if err != nil {
				return err
			}
			return a.print(traces)
		},
	}
	cmd.Flags().StringSliceVar(&types, "type", []string{string(eth.TraceTypeTrace)}, "trace types: trace, vmTrace, stateDiff")
	return cmd
}

func (a *app) replayTxCmd() *cobra.Command {
	var types []string
	cmd := &cobra.Command{
		Use:   "replay-tx <hash>",
		Short: "Replay a transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			traceTypes, err := parseTraceTypes(types)
			if err != nil {
				return err
			}
			trace, err := a.source.Fetcher.TraceReplayTransaction(cmd.Context(), eth.Hash(args[0]), traceTypes)
			if err != nil {
				return err
			}
			return a.print(trace)
		},
	}
	cmd.Flags().StringSliceVar(&types, "type", []string{string(eth.TraceTypeTrace)}, "trace types: trace, vmTrace, stateDiff")
	return cmd
}

// resolveNumber turns a height or the latest tag into a concrete height
func (a *app) resolveNumber(ctx context.Context, arg string) (uint64, error) {
	block, err := blockparam.Parse(arg)
	if err != nil {
		return 0, err
	}
	if n, ok := block.Uint64(); ok {
		return n, nil
	}
	if block != blockparam.Latest {
		return 0, errors.Newf("block tag %q is not supported here, use a number or latest", arg)
	}
	return a.source.Fetcher.GetBlockNumber(ctx)
}

func parseTraceTypes(names []string) ([]eth.TraceType, error) {
	traceTypes := make([]eth.TraceType, 0, len(names))
	for _, name := range names {
		tt, err := eth.ParseTraceType(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		traceTypes = append(traceTypes, tt)
	}
	return traceTypes, nil
}
