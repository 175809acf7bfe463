package engine

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// submit registers every descriptor on one batch, flushes it with a single
// network round-trip, and decodes each call's raw return into its result
// slot.
//
// A transport error on an individual call is tolerated: it is logged and that
// call's value resolves to nil. A synchronous failure of the whole batch is
// fatal and no partial result survives.
func (e *Engine) submit(ctx context.Context, descs []*callDescriptor) error {
	batch := e.caller.NewBatch()

	for _, d := range descs {
		d.pending = batch.AddCall(common.HexToAddress(d.address), d.input, d.block)
	}

	if err := batch.Execute(ctx); err != nil {
		return fmt.Errorf("batch submission failed: %w", err)
	}

	for _, d := range descs {
		if d.pending.Err != nil {
			e.logger.Warn().
				Err(d.pending.Err).
				Str("address", d.address).
				Str("method", d.method.Name).
				Uint64("block", d.block).
				Msg("call failed, resolving empty")
			continue
		}

		value, err := unpackValue(d.method, d.pending.Raw)
		if err != nil {
			e.logger.Warn().
				Err(err).
				Str("address", d.address).
				Str("method", d.method.Name).
				Uint64("block", d.block).
				Msg("failed to decode return data, resolving empty")
			continue
		}
		d.result.samples[d.slot].Value = value
	}

	return nil
}

// unpackValue decodes a call's return data. A single output is unwrapped;
// multiple outputs stay a slice.
func unpackValue(method *abi.Method, raw []byte) (interface{}, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	values, err := method.Outputs.Unpack(raw)
	if err != nil {
		return nil, err
	}
	if len(values) == 1 {
		return values[0], nil
	}
	return values, nil
}
