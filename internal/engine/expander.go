package engine

import (
	"fmt"
	"slices"
)

// blockSamples produces the historical sampling sequence: starting at the
// chain head, step backward by resolution for height iterations, then reverse
// so samples are emitted oldest-to-newest. Steps that would cross block zero
// are dropped.
func blockSamples(head, height, resolution uint64) []uint64 {
	out := make([]uint64, 0, height)
	for i := uint64(0); i < height; i++ {
		step := i * resolution
		if step > head {
			break
		}
		out = append(out, head-step)
	}
	slices.Reverse(out)
	return out
}

// expand walks the request and produces one call descriptor per
// (address, method, block-sample) combination, plus the per-read result
// accumulators the descriptors write into.
//
// Method names absent from an address's callable surface are skipped
// silently: stale configuration is tolerated, not an error. Methods marked
// constant in the ABI are read at most once per address across the whole
// batch; groups after the first read of an address skip them.
func (e *Engine) expand(req BatchRequest, blocks []uint64) ([]*callDescriptor, []*callResult, error) {
	var (
		descs   []*callDescriptor
		results []*callResult
	)

	// Addresses fully processed by an earlier group
	visited := make(map[string]bool)

	for _, group := range req {
		ns := group.namespace()
		seenInGroup := make(map[string]bool)

		for _, address := range group.addressList() {
			for _, spec := range e.effectiveMethods(&group, address) {
				field, ok := e.cache.Method(address, spec.Name)
				if !ok {
					e.logger.Debug().
						Str("address", address).
						Str("method", spec.Name).
						Msg("method not on callable surface, skipping")
					continue
				}

				if visited[address] && field.Constant {
					continue
				}

				args := spec.Args
				if len(args) > len(field.Inputs) {
					args = args[:len(field.Inputs)]
				}
				coerced, err := coerceArgs(field.Inputs, args)
				if err != nil {
					return nil, nil, fmt.Errorf("invalid arguments for %s.%s: %w", address, spec.Name, err)
				}

				parsed, _ := e.cache.Get(address)
				input, err := parsed.Pack(field.Name, coerced...)
				if err != nil {
					return nil, nil, fmt.Errorf("failed to encode call to %s.%s: %w", address, spec.Name, err)
				}

				res := &callResult{
					address:   address,
					namespace: ns,
					method:    spec.Name,
					args:      coerced,
					samples:   make([]BlockSample, len(blocks)),
				}
				if len(coerced) > 0 {
					res.input = input
				}

				for i, block := range blocks {
					res.samples[i].BlockNumber = block
					descs = append(descs, &callDescriptor{
						address: address,
						method:  field,
						input:   input,
						block:   block,
						slot:    i,
						result:  res,
					})
				}
				results = append(results, res)
			}
			seenInGroup[address] = true
		}

		for address := range seenInGroup {
			visited[address] = true
		}
	}

	return descs, results, nil
}

// effectiveMethods merges a group's explicit read methods with the address's
// discovered zero-argument readable fields when allReadMethods is set.
// Discovered names already requested explicitly are not added twice.
func (e *Engine) effectiveMethods(group *ContractGroup, address string) []MethodSpec {
	methods := make([]MethodSpec, 0, len(group.ReadMethods))
	methods = append(methods, group.ReadMethods...)

	if !group.AllReadMethods {
		return methods
	}

	explicit := make(map[string]bool, len(group.ReadMethods))
	for _, spec := range group.ReadMethods {
		if len(spec.Args) == 0 {
			explicit[spec.Name] = true
		}
	}

	for _, name := range e.cache.ReadableFields(address) {
		if explicit[name] {
			continue
		}
		methods = append(methods, MethodSpec{Name: name})
	}
	return methods
}
