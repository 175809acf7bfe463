// Package abicache stores contract ABIs content-addressed by hash.
//
// Two addresses carrying byte-identical ABI JSON share one stored ABI and one
// hash, so memory grows with distinct ABIs rather than with addresses. ABIs
// missing from the cache are fetched on demand through a remote fetcher, with
// at most one in-flight fetch per address and a fixed delay after every real
// network fetch.
package abicache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"batchread/internal/config"
)

// DefaultAddressCapacity bounds the address-to-hash mapping
const DefaultAddressCapacity = 4096

// Fetcher retrieves an ABI for an address from a remote source
type Fetcher interface {
	FetchABI(ctx context.Context, address string) (json.RawMessage, error)
}

// entry holds one distinct ABI, both raw and parsed
type entry struct {
	raw    json.RawMessage
	parsed abi.ABI
}

// Cache is the process-lifetime ABI store shared across executions
type Cache struct {
	mu         sync.RWMutex
	hashByAddr *lru.Cache[string, string]
	byHash     map[string]*entry

	fetcher Fetcher
	delay   time.Duration

	fetchMu sync.Mutex // serializes remote fetches so the delay spaces them
	group   singleflight.Group

	logger zerolog.Logger
}

// New creates an ABI cache. fetcher may be nil when no remote lookup is
// configured; delay is the minimum spacing applied after each remote fetch.
func New(fetcher Fetcher, delay time.Duration, logger zerolog.Logger) (*Cache, error) {
	hashByAddr, err := lru.New[string, string](DefaultAddressCapacity)
	if err != nil {
		return nil, err
	}

	return &Cache{
		hashByAddr: hashByAddr,
		byHash:     make(map[string]*entry),
		fetcher:    fetcher,
		delay:      delay,
		logger:     logger.With().Str("component", "abicache").Logger(),
	}, nil
}

// normalizeAddress lowercases an address so cache identity ignores checksum casing
func normalizeAddress(address string) string {
	return strings.ToLower(address)
}

// Put parses and stores an ABI for an address. Re-putting byte-identical
// content for another address reuses the existing hash entry.
func (c *Cache) Put(address string, raw json.RawMessage) error {
	parsed, err := abi.JSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("failed to parse abi for %s: %w", address, err)
	}

	sum := sha256.Sum256(raw)
	hash := hex.EncodeToString(sum[:])

	c.mu.Lock()
	if _, ok := c.byHash[hash]; !ok {
		c.byHash[hash] = &entry{raw: raw, parsed: parsed}
	}
	c.mu.Unlock()

	c.hashByAddr.Add(normalizeAddress(address), hash)
	return nil
}

// lookup resolves the stored entry for an address
func (c *Cache) lookup(address string) (*entry, bool) {
	hash, ok := c.hashByAddr.Get(normalizeAddress(address))
	if !ok {
		return nil, false
	}

	c.mu.RLock()
	e, ok := c.byHash[hash]
	c.mu.RUnlock()
	return e, ok
}

// Get returns the parsed ABI cached for an address
func (c *Cache) Get(address string) (*abi.ABI, bool) {
	e, ok := c.lookup(address)
	if !ok {
		return nil, false
	}
	return &e.parsed, true
}

// Raw returns the raw ABI JSON cached for an address
func (c *Cache) Raw(address string) (json.RawMessage, bool) {
	e, ok := c.lookup(address)
	if !ok {
		return nil, false
	}
	return e.raw, true
}

// Method resolves a callable ABI field by name. The second return is false
// when nothing is cached for the address or the name is not on its surface.
func (c *Cache) Method(address, name string) (*abi.Method, bool) {
	e, ok := c.lookup(address)
	if !ok {
		return nil, false
	}
	m, ok := e.parsed.Methods[name]
	if !ok {
		return nil, false
	}
	return &m, true
}

// IsConstant reports whether a method is marked constant in the cached ABI
func (c *Cache) IsConstant(address, name string) bool {
	m, ok := c.Method(address, name)
	return ok && m.Constant
}

// ReadableFields returns the names of every method readable with no
// arguments: zero inputs, at least one output, a name, and "view" state
// mutability. Names are sorted for deterministic expansion. Returns an empty
// slice when nothing is cached for the address.
func (c *Cache) ReadableFields(address string) []string {
	e, ok := c.lookup(address)
	if !ok {
		return nil
	}

	var names []string
	for name, m := range e.parsed.Methods {
		if name == "" {
			continue
		}
		if len(m.Inputs) != 0 || len(m.Outputs) == 0 {
			continue
		}
		if m.StateMutability != "view" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Ensure makes an ABI available for an address. A supplied ABI is cached
// unconditionally (overwriting any previous mapping); otherwise a cache hit
// is a no-op and a miss triggers exactly one remote fetch per address, even
// under concurrent callers. The throttle delay is applied strictly after a
// real fetch, never after a cache hit.
func (c *Cache) Ensure(ctx context.Context, address string, supplied json.RawMessage) error {
	if len(supplied) > 0 {
		return c.Put(address, supplied)
	}

	if _, ok := c.lookup(address); ok {
		return nil
	}

	_, err, _ := c.group.Do(normalizeAddress(address), func() (interface{}, error) {
		// A concurrent Ensure may have filled the cache while this call
		// waited its turn.
		if _, ok := c.lookup(address); ok {
			return nil, nil
		}

		if c.fetcher == nil {
			return nil, &config.Error{Reason: "no abi cached for " + address + " and no remote lookup configured"}
		}

		c.fetchMu.Lock()
		defer c.fetchMu.Unlock()

		raw, err := c.fetcher.FetchABI(ctx, address)
		if err != nil {
			return nil, err
		}
		if err := c.Put(address, raw); err != nil {
			return nil, err
		}

		c.logger.Debug().Str("address", address).Msg("ABI fetched and cached")

		if c.delay > 0 {
			select {
			case <-time.After(c.delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return nil, nil
	})
	return err
}

// Len returns the number of distinct ABIs stored
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byHash)
}

// Reset drops every cached ABI and address mapping
func (c *Cache) Reset() {
	c.mu.Lock()
	c.byHash = make(map[string]*entry)
	c.mu.Unlock()
	c.hashByAddr.Purge()

	c.logger.Debug().Msg("cache reset")
}
