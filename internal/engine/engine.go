// Package engine collapses a declarative batch of read-only contract calls
// into the minimal set of individual RPC calls, submits them as one
// network-level batch, and reshapes the flat results back into a structured
// per-address, per-method, per-block tree.
package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"batchread/internal/abicache"
	"batchread/internal/config"
	"batchread/internal/ethrpc"
	"batchread/internal/etherscan"
)

// Engine executes batch requests. The ABI cache is the only state with a
// lifetime beyond a single Execute call; concurrent executions share it.
type Engine struct {
	cfg    *config.Config
	caller ethrpc.Caller
	cache  *abicache.Cache
	logger zerolog.Logger
}

// New wires an engine from explicit collaborators
func New(cfg *config.Config, caller ethrpc.Caller, cache *abicache.Cache, logger zerolog.Logger) (*Engine, error) {
	if caller == nil {
		return nil, &config.Error{Reason: "an rpc endpoint is required"}
	}
	if cfg == nil {
		cfg = &config.Config{}
	}

	return &Engine{
		cfg:    cfg,
		caller: caller,
		cache:  cache,
		logger: logger.With().Str("component", "engine").Logger(),
	}, nil
}

// Open dials the configured RPC endpoint and wires the default collaborators:
// an Etherscan-backed ABI cache with the configured fetch throttle.
func Open(cfg *config.Config, logger zerolog.Logger) (*Engine, error) {
	if cfg.RPCURL == "" {
		return nil, &config.Error{Reason: "an rpc endpoint is required"}
	}

	client, err := ethrpc.Dial(cfg.RPCURL)
	if err != nil {
		return nil, err
	}

	fetcher := etherscan.NewClient(cfg.Etherscan.APIKey, logger)
	cache, err := abicache.New(fetcher, cfg.Etherscan.GetDelayDuration(), logger)
	if err != nil {
		return nil, err
	}

	return New(cfg, client, cache, logger)
}

// Cache exposes the engine's ABI cache
func (e *Engine) Cache() *abicache.Cache {
	return e.cache
}

// Execute runs one declarative batch: cache warm-up, expansion, a single
// batched submission, and result reduction.
//
// ABI resolution failures (no cached or supplied ABI and no usable remote
// lookup) and whole-batch submission failures are fatal and return an error
// with no partial result. Individual call failures resolve that call's value
// to nil and the batch continues.
func (e *Engine) Execute(ctx context.Context, req BatchRequest, opts ExecOptions) (*Result, error) {
	start := time.Now()
	opts = opts.withDefaults()

	if err := e.warmCache(ctx, req); err != nil {
		return nil, err
	}

	head, err := e.caller.BlockNumber(ctx)
	if err != nil {
		return nil, err
	}
	blocks := blockSamples(head, opts.BlockHeight, opts.BlockResolution)

	descs, results, err := e.expand(req, blocks)
	if err != nil {
		return nil, err
	}

	if err := e.submit(ctx, descs); err != nil {
		return nil, err
	}

	builder := newTreeBuilder()
	for _, res := range results {
		builder.add(res)
	}
	tree := builder.result(e.cfg.SimplifyResponse, e.cfg.GroupByNamespace)

	if e.cfg.ClearMemoryAfterExecution {
		e.cache.Reset()
	}

	if e.cfg.Logging {
		e.logger.Info().
			Int("calls", len(descs)).
			Uint64("head", head).
			Dur("took", time.Since(start)).
			Msg("batch executed")
	}

	return tree, nil
}

// warmCache makes an ABI available for every address in the request before
// expansion. Explicitly supplied ABIs are cached in group order (a later
// group's ABI overwrites unconditionally); the remaining addresses are
// ensured concurrently, with the cache deduplicating in-flight fetches.
func (e *Engine) warmCache(ctx context.Context, req BatchRequest) error {
	pending := make(map[string]bool)

	for _, group := range req {
		if len(group.ABI) > 0 {
			for _, address := range group.addressList() {
				if err := e.cache.Put(address, group.ABI); err != nil {
					return err
				}
			}
			continue
		}

		for _, contract := range group.Contracts {
			if len(contract.ABI) > 0 {
				if err := e.cache.Put(contract.Address, contract.ABI); err != nil {
					return err
				}
				continue
			}
			pending[contract.Address] = true
		}
		for _, address := range group.Addresses {
			pending[address] = true
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	for address := range pending {
		g.Go(func() error {
			return e.cache.Ensure(ctx, address, nil)
		})
	}
	return g.Wait()
}
