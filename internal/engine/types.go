package engine

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"batchread/internal/ethrpc"
)

// DefaultNamespace is assigned to groups that don't set one
const DefaultNamespace = "default"

// BatchRequest is an ordered sequence of contract groups executed as one
// network-level batch. Duplicate namespaces across groups are legal and
// simply co-grouped in the response.
type BatchRequest []ContractGroup

// ContractGroup declares a set of contracts and which read methods to invoke
// on each. Exactly one of Addresses/Contracts is populated. A supplied ABI is
// cached against every address in the group before expansion.
type ContractGroup struct {
	Addresses      []string        `json:"addresses,omitempty"`
	Contracts      []BoundContract `json:"contracts,omitempty"`
	Namespace      string          `json:"namespace,omitempty"`
	ReadMethods    []MethodSpec    `json:"readMethods,omitempty"`
	AllReadMethods bool            `json:"allReadMethods,omitempty"`
	ABI            json.RawMessage `json:"abi,omitempty"`
}

// BoundContract is a contract handle carrying its own address and ABI
type BoundContract struct {
	Address string          `json:"address"`
	ABI     json.RawMessage `json:"abi"`
}

// MethodSpec names a read method and its arguments.
//
// Args longer than the ABI-declared input arity are silently truncated to the
// arity rather than rejected; callers relying on every argument being used
// should make sure the count matches the ABI.
type MethodSpec struct {
	Name string        `json:"name"`
	Args []interface{} `json:"args,omitempty"`
}

// addressList resolves the group's effective addresses
func (g *ContractGroup) addressList() []string {
	if len(g.Addresses) > 0 {
		return g.Addresses
	}
	addrs := make([]string, 0, len(g.Contracts))
	for _, c := range g.Contracts {
		addrs = append(addrs, c.Address)
	}
	return addrs
}

// namespace returns the group namespace, defaulted
func (g *ContractGroup) namespace() string {
	if g.Namespace == "" {
		return DefaultNamespace
	}
	return g.Namespace
}

// ExecOptions are the per-execution block sampling options
type ExecOptions struct {
	// BlockHeight is how many historical samples to read (default 1, the head)
	BlockHeight uint64
	// BlockResolution is the stride between samples (default 1)
	BlockResolution uint64
}

// withDefaults fills zero options
func (o ExecOptions) withDefaults() ExecOptions {
	if o.BlockHeight < 1 {
		o.BlockHeight = 1
	}
	if o.BlockResolution < 1 {
		o.BlockResolution = 1
	}
	return o
}

// BlockSample is one historical read of a value
type BlockSample struct {
	BlockNumber uint64      `json:"blockNumber"`
	Value       interface{} `json:"value"`
}

// callDescriptor is one RPC call: a (address, method, block-sample) triple.
// slot is the sample's position in the originally requested order, so results
// land in request order regardless of callback arrival.
type callDescriptor struct {
	address string
	method  *abi.Method
	input   []byte
	block   uint64
	slot    int
	result  *callResult
	pending *ethrpc.Pending
}

// callResult accumulates the per-block values of one (address, method, args)
// read across all of its block samples.
type callResult struct {
	address   string
	namespace string
	method    string
	args      []interface{}
	input     []byte // nil when no arguments were supplied
	samples   []BlockSample
}
