package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"chainfetch/internal/config"
	"chainfetch/internal/fetcher"
	"chainfetch/internal/stats"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root, a := newRootCmd(os.Stdout)
	err := root.ExecuteContext(ctx)
	a.teardown()
	if err != nil {
		log := zerolog.New(os.Stderr).With().Timestamp().Logger()
		log.Error().Err(err).Msg("chainfetch failed")
		stop()
		os.Exit(1)
	}
}

// app carries state shared by the subcommands of one invocation
type app struct {
	v       *viper.Viper
	cfgFile string
	out     io.Writer

	cfg    *config.Config
	logger zerolog.Logger
	source fetcher.Source
}

func newRootCmd(out io.Writer) (*cobra.Command, *app) {
	a := &app{v: config.New(), out: out, logger: zerolog.Nop()}

	root := &cobra.Command{
		Use:           "chainfetch",
		Short:         "Fetch blocks, transactions, logs and traces from an Ethereum JSON-RPC node",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd.Context())
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "path to config file (json, yaml or toml)")
	flags.String("rpc-url", "", "node HTTP JSON-RPC URL")
	flags.String("ws-url", "", "node WebSocket URL")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	a.v.BindPFlag("rpcUrl", flags.Lookup("rpc-url"))
	a.v.BindPFlag("wsUrl", flags.Lookup("ws-url"))
	a.v.BindPFlag("logLevel", flags.Lookup("log-level"))

	root.AddCommand(
		a.blockNumberCmd(),
		a.blockCmd(),
		a.blockReceiptsCmd(),
		a.txCmd(),
		a.receiptCmd(),
		a.logsCmd(),
		a.traceBlockCmd(),
		a.traceTxCmd(),
		a.replayBlockCmd(),
		a.replayTxCmd(),
	)
	return root, a
}

func (a *app) setup(ctx context.Context) error {
	if err := config.ReadFile(a.v, a.cfgFile); err != nil {
		return err
	}
	cfg, err := config.LoadWithViper(a.v)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = setupLogger(cfg.LogLevel, os.Stderr)

	a.logger.Debug().
		Str("config", a.cfgFile).
		Uint64("chainId", cfg.ChainID).
		Msg("starting chainfetch")

	f, err := fetcher.NewFromConfig(ctx, cfg, a.logger)
	if err != nil {
		return err
	}

	src, err := fetcher.NewSource(ctx, f, fetcher.SourceConfig{
		ChainID:             cfg.ChainID,
		InnerRequestSize:    cfg.InnerRequestSize,
		MaxConcurrentChunks: cfg.MaxConcurrentChunks,
		VerifyChainID:       cfg.VerifyChainID,
	})
	if err != nil {
		f.Close()
		return err
	}
	a.source = src
	return nil
}

// teardown closes the fetcher and logs the statistics snapshot; safe to call more than once
func (a *app) teardown() {
	f := a.source.Fetcher
	if f == nil {
		return
	}
	a.source.Fetcher = nil
	f.Close()
	if memory, ok := f.Stats().(*stats.Memory); ok {
		snap := memory.Snapshot()
		a.logger.Info().
			Int64("calls", snap.Total.Calls).
			Int64("failed", snap.Total.Failed).
			Int64("attempts", snap.Total.Attempts).
			Dur("duration", snap.Total.Duration).
			Msg("request statistics")
	}
}

// print writes v to the command output as indented JSON
func (a *app) print(v interface{}) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return errors.Wrap(err, "failed to write output")
	}
	return nil
}

// setupLogger configures the zerolog logger
func setupLogger(level string, out io.Writer) zerolog.Logger {
	var logLevel zerolog.Level
	switch level {
	case "debug":
		logLevel = zerolog.DebugLevel
	case "info":
		logLevel = zerolog.InfoLevel
	case "warn":
		logLevel = zerolog.WarnLevel
	case "error":
		logLevel = zerolog.ErrorLevel
	default:
		logLevel = zerolog.InfoLevel
	}

	output := zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
	}

	return zerolog.New(output).Level(logLevel).With().Timestamp().Logger()
}
