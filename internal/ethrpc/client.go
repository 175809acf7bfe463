// Package ethrpc is the boundary to the contract-call collaborator. It knows
// how to look up the chain head and how to flush many read calls as a single
// network-level batch; everything above it works with opaque call futures.
package ethrpc

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// Caller exposes the two suspension points the engine needs from the
// underlying client: the chain-head lookup and batched call submission.
type Caller interface {
	BlockNumber(ctx context.Context) (uint64, error)
	NewBatch() Batch
}

// Batch accumulates read calls and flushes them in one network round-trip.
// Execute must be called exactly once, after every call has been added.
type Batch interface {
	AddCall(to common.Address, input []byte, blockNumber uint64) *Pending
	Execute(ctx context.Context) error
}

// Pending is the future for a single batched call. Raw and Err are populated
// once the owning batch has executed.
type Pending struct {
	Raw hexutil.Bytes
	Err error
}

// Client implements Caller over a go-ethereum RPC client
type Client struct {
	rpc *rpc.Client
}

// Dial connects to an RPC endpoint (http, https, ws or wss)
func Dial(url string) (*Client, error) {
	c, err := rpc.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial rpc endpoint: %w", err)
	}
	return &Client{rpc: c}, nil
}

// NewClient wraps an existing RPC client
func NewClient(c *rpc.Client) *Client {
	return &Client{rpc: c}
}

// BlockNumber returns the latest known block number
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var out hexutil.Uint64
	if err := c.rpc.CallContext(ctx, &out, "eth_blockNumber"); err != nil {
		return 0, fmt.Errorf("eth_blockNumber failed: %w", err)
	}
	return uint64(out), nil
}

// NewBatch creates an empty call batch
func (c *Client) NewBatch() Batch {
	return &batch{rpc: c.rpc}
}

// Close releases the underlying connection
func (c *Client) Close() {
	c.rpc.Close()
}

type batch struct {
	rpc     *rpc.Client
	elems   []rpc.BatchElem
	pending []*Pending
}

// AddCall registers an eth_call bound to a specific historical block
func (b *batch) AddCall(to common.Address, input []byte, blockNumber uint64) *Pending {
	p := &Pending{}

	arg := map[string]interface{}{
		"to":    to,
		"input": hexutil.Bytes(input),
	}
	b.elems = append(b.elems, rpc.BatchElem{
		Method: "eth_call",
		Args:   []interface{}{arg, hexutil.EncodeUint64(blockNumber)},
		Result: &p.Raw,
	})
	b.pending = append(b.pending, p)
	return p
}

// Execute flushes all registered calls as one batch request. A transport-level
// failure of the whole batch is returned; per-call errors land on the
// individual pending results.
func (b *batch) Execute(ctx context.Context) error {
	if len(b.elems) == 0 {
		return nil
	}

	if err := b.rpc.BatchCallContext(ctx, b.elems); err != nil {
		return err
	}

	for i := range b.elems {
		b.pending[i].Err = b.elems[i].Error
	}
	return nil
}
