package abicache

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"batchread/internal/config"
)

const erc20ABI = `[` +
	`{"name":"totalSupply","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},` +
	`{"name":"decimals","type":"function","constant":true,"stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},` +
	`{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},` +
	`{"name":"transfer","type":"function","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}` +
	`]`

const pairABI = `[` +
	`{"name":"token0","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]}` +
	`]`

const (
	addr1 = "0x1111111111111111111111111111111111111111"
	addr2 = "0x2222222222222222222222222222222222222222"
)

func newTestCache(t *testing.T, fetcher Fetcher, delay time.Duration) *Cache {
	t.Helper()
	c, err := New(fetcher, delay, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

// countingFetcher returns a fixed ABI and counts fetches
type countingFetcher struct {
	abi   string
	err   error
	count atomic.Int64
}

func (f *countingFetcher) FetchABI(ctx context.Context, address string) (json.RawMessage, error) {
	f.count.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return json.RawMessage(f.abi), nil
}

func TestPutGet(t *testing.T) {
	c := newTestCache(t, nil, 0)

	if err := c.Put(addr1, json.RawMessage(erc20ABI)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	parsed, ok := c.Get(addr1)
	if !ok {
		t.Fatal("Get miss after Put")
	}
	if _, ok := parsed.Methods["totalSupply"]; !ok {
		t.Error("parsed ABI is missing totalSupply")
	}

	// identity ignores checksum casing
	if _, ok := c.Get("0x1111111111111111111111111111111111111111"); !ok {
		t.Error("lowercase lookup missed")
	}
}

func TestPut_Idempotent(t *testing.T) {
	c := newTestCache(t, nil, 0)

	if err := c.Put(addr1, json.RawMessage(erc20ABI)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := c.Put(addr1, json.RawMessage(erc20ABI)); err != nil {
		t.Fatalf("Put again: %v", err)
	}

	if got := c.Len(); got != 1 {
		t.Errorf("Len = %d, want 1 stored hash entry", got)
	}
}

func TestPut_DedupAcrossAddresses(t *testing.T) {
	c := newTestCache(t, nil, 0)

	c.Put(addr1, json.RawMessage(erc20ABI))
	c.Put(addr2, json.RawMessage(erc20ABI))

	if got := c.Len(); got != 1 {
		t.Errorf("Len = %d, want 1: byte-identical ABIs must share one entry", got)
	}

	c.Put(addr2, json.RawMessage(pairABI))
	if got := c.Len(); got != 2 {
		t.Errorf("Len = %d, want 2 after distinct ABI", got)
	}
}

func TestPut_InvalidJSON(t *testing.T) {
	c := newTestCache(t, nil, 0)

	if err := c.Put(addr1, json.RawMessage(`{"not":"an abi"`)); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestReadableFields(t *testing.T) {
	c := newTestCache(t, nil, 0)
	c.Put(addr1, json.RawMessage(erc20ABI))

	got := c.ReadableFields(addr1)
	want := []string{"decimals", "totalSupply"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ReadableFields = %v, want %v", got, want)
	}

	if fields := c.ReadableFields(addr2); len(fields) != 0 {
		t.Errorf("ReadableFields for uncached address = %v, want empty", fields)
	}
}

func TestMethodAndIsConstant(t *testing.T) {
	c := newTestCache(t, nil, 0)
	c.Put(addr1, json.RawMessage(erc20ABI))

	m, ok := c.Method(addr1, "balanceOf")
	if !ok {
		t.Fatal("Method miss for balanceOf")
	}
	if len(m.Inputs) != 1 {
		t.Errorf("balanceOf inputs = %d, want 1", len(m.Inputs))
	}

	if _, ok := c.Method(addr1, "nonexistent"); ok {
		t.Error("Method hit for nonexistent name")
	}

	if !c.IsConstant(addr1, "decimals") {
		t.Error("decimals should be constant")
	}
	if c.IsConstant(addr1, "totalSupply") {
		t.Error("totalSupply should not be constant")
	}
}

func TestEnsure_SuppliedOverwrites(t *testing.T) {
	c := newTestCache(t, nil, 0)
	c.Put(addr1, json.RawMessage(erc20ABI))

	if err := c.Ensure(context.Background(), addr1, json.RawMessage(pairABI)); err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	if _, ok := c.Method(addr1, "token0"); !ok {
		t.Error("supplied ABI should overwrite the cached one")
	}
}

func TestEnsure_CacheHitSkipsFetch(t *testing.T) {
	fetcher := &countingFetcher{abi: erc20ABI}
	c := newTestCache(t, fetcher, 0)
	c.Put(addr1, json.RawMessage(erc20ABI))

	if err := c.Ensure(context.Background(), addr1, nil); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if got := fetcher.count.Load(); got != 0 {
		t.Errorf("fetch count = %d, want 0 on cache hit", got)
	}
}

func TestEnsure_FetchesOnMiss(t *testing.T) {
	fetcher := &countingFetcher{abi: erc20ABI}
	c := newTestCache(t, fetcher, 0)

	if err := c.Ensure(context.Background(), addr1, nil); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if _, ok := c.Get(addr1); !ok {
		t.Error("fetched ABI not cached")
	}
	if got := fetcher.count.Load(); got != 1 {
		t.Errorf("fetch count = %d, want 1", got)
	}

	// second ensure is a cache hit
	if err := c.Ensure(context.Background(), addr1, nil); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if got := fetcher.count.Load(); got != 1 {
		t.Errorf("fetch count = %d, want still 1", got)
	}
}

func TestEnsure_NoFetcher(t *testing.T) {
	c := newTestCache(t, nil, 0)

	err := c.Ensure(context.Background(), addr1, nil)
	var cfgErr *config.Error
	if !errors.As(err, &cfgErr) {
		t.Fatalf("error = %v, want *config.Error", err)
	}
}

func TestEnsure_FetchErrorPropagates(t *testing.T) {
	wantErr := errors.New("service unreachable")
	fetcher := &countingFetcher{err: wantErr}
	c := newTestCache(t, fetcher, 0)

	if err := c.Ensure(context.Background(), addr1, nil); !errors.Is(err, wantErr) {
		t.Fatalf("error = %v, want %v", err, wantErr)
	}
}

func TestEnsure_ConcurrentSingleFetch(t *testing.T) {
	fetcher := &countingFetcher{abi: erc20ABI}
	c := newTestCache(t, fetcher, 10*time.Millisecond)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = c.Ensure(context.Background(), addr1, nil)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("Ensure[%d]: %v", i, err)
		}
	}
	if got := fetcher.count.Load(); got != 1 {
		t.Errorf("fetch count = %d, want exactly 1 for concurrent ensures", got)
	}
}

func TestReset(t *testing.T) {
	c := newTestCache(t, nil, 0)
	c.Put(addr1, json.RawMessage(erc20ABI))
	c.Put(addr2, json.RawMessage(pairABI))

	c.Reset()

	if got := c.Len(); got != 0 {
		t.Errorf("Len = %d after Reset, want 0", got)
	}
	if _, ok := c.Get(addr1); ok {
		t.Error("Get hit after Reset")
	}
}
