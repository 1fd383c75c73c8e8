package main

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"chainfetch/internal/eth"
	"chainfetch/internal/fetcher"
)

// blockRange is an inclusive range of block heights
type blockRange struct {
	from, to uint64
}

// splitRange cuts [from, to] into consecutive ranges of at most size blocks
func splitRange(from, to, size uint64) []blockRange {
	if size == 0 {
		size = 1
	}
	var chunks []blockRange
	for start := from; start <= to; {
		end := to
		if to-start >= size {
			end = start + size - 1
		}
		chunks = append(chunks, blockRange{from: start, to: end})
		if end == to {
			break
		}
		start = end + 1
	}
	return chunks
}

// collectLogs fetches the logs of [from, to] in InnerRequestSize chunks,
// at most MaxConcurrentChunks at a time, and returns them in block order.
func collectLogs(ctx context.Context, src fetcher.Source, from, to uint64, template eth.Filter) ([]eth.Log, error) {
	chunks := splitRange(from, to, src.InnerRequestSize)
	results := make([][]eth.Log, len(chunks))

	g, ctx := errgroup.WithContext(ctx)
	if src.MaxConcurrentChunks > 0 {
		g.SetLimit(int(src.MaxConcurrentChunks))
	}

	for i, chunk := range chunks {
		g.Go(func() error {
			filter := eth.NewRangeFilter(chunk.from, chunk.to)
			filter.Addresses = template.Addresses
			filter.Topics = template.Topics

			logs, err := src.Fetcher.GetLogs(ctx, filter)
			if err != nil {
				return errors.Wrapf(err, "blocks %d-%d", chunk.from, chunk.to)
			}
			results[i] = logs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	all := []eth.Log{}
	for _, logs := range results {
		all = append(all, logs...)
	}
	return all, nil
}

// parseTopics reads one --topic value per position; alternatives within a
// position are separated by "|" and an empty value matches anything
func parseTopics(values []string) [][]eth.Hash {
	if len(values) == 0 {
		return nil
	}
	topics := make([][]eth.Hash, len(values))
	for i, v := range values {
		if strings.TrimSpace(v) == "" {
			continue
		}
		for _, alt := range strings.Split(v, "|") {
			topics[i] = append(topics[i], eth.Hash(strings.TrimSpace(alt)))
		}
	}
	return topics
}

func (a *app) logsCmd() *cobra.Command {
	var (
		fromArg, toArg string
		addresses      []string
		topics         []string
	)
	cmd := &cobra.Command{
		Use:   "logs --from <block> --to <block>",
		Short: "Print the logs of a block range",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			from, err := a.resolveNumber(ctx, fromArg)
			if err != nil {
				return errors.Wrap(err, "--from")
			}
			to, err := a.resolveNumber(ctx, toArg)
			if err != nil {
				return errors.Wrap(err, "--to")
			}
			if from > to {
				return errors.Newf("--from %d is after --to %d", from, to)
			}

			template := eth.Filter{Topics: parseTopics(topics)}
			for _, addr := range addresses {
				template.Addresses = append(template.Addresses, eth.Address(addr))
			}

			logs, err := collectLogs(ctx, a.source, from, to, template)
			if err != nil {
				return err
			}
			a.logger.Debug().
				Uint64("from", from).
				Uint64("to", to).
				Int("logs", len(logs)).
				Msg("logs collected")
			return a.print(logs)
		},
	}
	cmd.Flags().StringVar(&fromArg, "from", "", "first block (number or latest)")
	cmd.Flags().StringVar(&toArg, "to", "latest", "last block (number or latest)")
	cmd.Flags().StringSliceVar(&addresses, "address", nil, "contract addresses to match")
	cmd.Flags().StringArrayVar(&topics, "topic", nil, "topic filter per position, alternatives separated by |")
	cmd.MarkFlagRequired("from")
	return cmd
}
