package fetcher

import (
	"context"

	"github.com/cockroachdb/errors"
)

// ErrChainIDMismatch is returned by NewSource when the node serves another chain
var ErrChainIDMismatch = errors.New("chain id mismatch")

// Source is what the collection pipeline receives: the shared fetcher plus
// the parameters it uses to partition work. It is a plain value.
type Source struct {
	Fetcher             *Fetcher
	ChainID             uint64
	InnerRequestSize    uint64
	MaxConcurrentChunks uint64
}

// SourceConfig holds the Source parameters.
// A zero ChainID is filled in from the node.
type SourceConfig struct {
	ChainID             uint64
	InnerRequestSize    uint64
	MaxConcurrentChunks uint64
	// VerifyChainID asks the node for its chain id and rejects a mismatch
	VerifyChainID bool
}

// NewSource builds a Source around f
func NewSource(ctx context.Context, f *Fetcher, cfg SourceConfig) (Source, error) {
	src := Source{
		Fetcher:             f,
		ChainID:             cfg.ChainID,
		InnerRequestSize:    cfg.InnerRequestSize,
		MaxConcurrentChunks: cfg.MaxConcurrentChunks,
	}

	if !cfg.VerifyChainID && cfg.ChainID != 0 {
		return src, nil
	}

	nodeChainID, err := f.ChainID(ctx)
	if err != nil {
		return Source{}, errors.Wrap(err, "failed to read chain id")
	}

	if cfg.ChainID == 0 {
		src.ChainID = nodeChainID
		return src, nil
	}
	if nodeChainID != cfg.ChainID {
		return Source{}, errors.Wrapf(ErrChainIDMismatch, "configured %d, node reports %d", cfg.ChainID, nodeChainID)
	}
	return src, nil
}
