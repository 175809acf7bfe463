package engine

import (
	"bytes"
	"encoding/json"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// MethodEntry is one argument-signature bucket of a method's results: the
// block samples of a read distinguished by its encoded input.
type MethodEntry struct {
	Args    []interface{}
	Input   hexutil.Bytes // nil when no arguments were supplied
	Samples []BlockSample
}

// methodResult groups a method's entries, one per distinct signature
type methodResult struct {
	name    string
	entries []*MethodEntry
}

// AddressResult is one address node of the result tree. Methods iterate in
// insertion order, never in map-key order.
type AddressResult struct {
	Address   string
	Namespace string

	methods []*methodResult
	byName  map[string]*methodResult
}

// MethodNames returns the node's method names in insertion order
func (a *AddressResult) MethodNames() []string {
	names := make([]string, 0, len(a.methods))
	for _, m := range a.methods {
		names = append(names, m.name)
	}
	return names
}

// Entries returns the signature buckets recorded for a method
func (a *AddressResult) Entries(method string) []*MethodEntry {
	m, ok := a.byName[method]
	if !ok {
		return nil
	}
	return m.entries
}

// Result is the reshaped response: a sequence of address nodes, optionally
// partitioned by namespace.
type Result struct {
	nodes    []*AddressResult
	simplify bool

	grouped    bool
	groupOrder []string
	groups     map[string][]*AddressResult
}

// Addresses returns the flat address nodes in insertion order
func (r *Result) Addresses() []*AddressResult {
	return r.nodes
}

// IsGrouped reports whether the result is partitioned by namespace
func (r *Result) IsGrouped() bool {
	return r.grouped
}

// Namespaces returns the group keys in first-appearance order
func (r *Result) Namespaces() []string {
	return r.groupOrder
}

// Group returns the address nodes filed under a namespace
func (r *Result) Group(namespace string) []*AddressResult {
	return r.groups[namespace]
}

// Flatten returns the un-grouped form of the result. Each node keeps its
// namespace, so grouping and flattening round-trip exactly.
func (r *Result) Flatten() *Result {
	if !r.grouped {
		return r
	}
	return &Result{nodes: r.nodes, simplify: r.simplify}
}

// treeBuilder folds flat call results into the nested tree. Insertion order
// is preserved at every level so output never depends on map iteration or on
// callback arrival order.
type treeBuilder struct {
	nodes []*AddressResult
	index map[string]*AddressResult
}

func newTreeBuilder() *treeBuilder {
	return &treeBuilder{index: make(map[string]*AddressResult)}
}

// add folds one call result into the tree. An identical (method, input)
// signature on the same address appends its block samples to the existing
// entry; a distinct signature appends a new entry alongside.
func (b *treeBuilder) add(res *callResult) {
	node, ok := b.index[res.address]
	if !ok {
		node = &AddressResult{
			Address:   res.address,
			Namespace: res.namespace,
			byName:    make(map[string]*methodResult),
		}
		b.index[res.address] = node
		b.nodes = append(b.nodes, node)
	}

	m, ok := node.byName[res.method]
	if !ok {
		m = &methodResult{name: res.method}
		node.byName[res.method] = m
		node.methods = append(node.methods, m)
	}

	for _, entry := range m.entries {
		if bytes.Equal(entry.Input, res.input) {
			entry.Samples = append(entry.Samples, res.samples...)
			return
		}
	}

	m.entries = append(m.entries, &MethodEntry{
		Args:    res.args,
		Input:   res.input,
		Samples: res.samples,
	})
}

// result finalizes the tree, optionally partitioning by namespace
func (b *treeBuilder) result(simplify, groupByNamespace bool) *Result {
	r := &Result{nodes: b.nodes, simplify: simplify}
	if !groupByNamespace {
		return r
	}

	r.grouped = true
	r.groups = make(map[string][]*AddressResult)
	for _, node := range b.nodes {
		if _, ok := r.groups[node.Namespace]; !ok {
			r.groupOrder = append(r.groupOrder, node.Namespace)
		}
		r.groups[node.Namespace] = append(r.groups[node.Namespace], node)
	}
	return r
}

// MarshalJSON renders the tree. Flat results are a sequence of address
// nodes; grouped results map each namespace to its nodes with the namespace
// field stripped.
func (r *Result) MarshalJSON() ([]byte, error) {
	if !r.grouped {
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, node := range r.nodes {
			if i > 0 {
				buf.WriteByte(',')
			}
			data, err := node.marshal(true, r.simplify)
			if err != nil {
				return nil, err
			}
			buf.Write(data)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, ns := range r.groupOrder {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(ns)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.WriteByte('[')
		for j, node := range r.groups[ns] {
			if j > 0 {
				buf.WriteByte(',')
			}
			data, err := node.marshal(false, r.simplify)
			if err != nil {
				return nil, err
			}
			buf.Write(data)
		}
		buf.WriteByte(']')
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalJSON renders a node with its namespace attached
func (a *AddressResult) MarshalJSON() ([]byte, error) {
	return a.marshal(true, false)
}

// marshal renders the node as an object with each method as a top-level key
func (a *AddressResult) marshal(withNamespace, simplify bool) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"address":`)
	addr, err := json.Marshal(a.Address)
	if err != nil {
		return nil, err
	}
	buf.Write(addr)

	if withNamespace {
		buf.WriteString(`,"namespace":`)
		ns, err := json.Marshal(a.Namespace)
		if err != nil {
			return nil, err
		}
		buf.Write(ns)
	}

	for _, m := range a.methods {
		buf.WriteByte(',')
		name, err := json.Marshal(m.name)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		value, err := m.marshal(simplify)
		if err != nil {
			return nil, err
		}
		buf.Write(value)
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// marshal renders a method's value. With simplify enabled and a single
// signature bucket, the whole method collapses to that bucket's scalar; when
// no single scalar is available the per-block values stay exposed.
func (m *methodResult) marshal(simplify bool) ([]byte, error) {
	if simplify && len(m.entries) == 1 {
		entry := m.entries[0]
		if len(entry.Samples) == 1 {
			return json.Marshal(entry.Samples[0].Value)
		}
		return json.Marshal(entry.Samples)
	}

	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, entry := range m.entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		data, err := entry.marshal()
		if err != nil {
			return nil, err
		}
		buf.Write(data)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// marshal renders one signature bucket. A bucket whose samples collapse to
// exactly one value carries a bare "value" instead of a "values" array.
func (e *MethodEntry) marshal() ([]byte, error) {
	obj := make(map[string]interface{}, 3)
	if len(e.Samples) == 1 {
		obj["value"] = e.Samples[0].Value
	} else {
		obj["values"] = e.Samples
	}
	if e.Input != nil {
		obj["input"] = e.Input
		obj["args"] = e.Args
	}
	return json.Marshal(obj)
}
