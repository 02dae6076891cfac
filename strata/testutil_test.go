package strata

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/justapithecus/strata/internal/blockfmt"
)

// fakeStore wraps a MemoryBlobStore with call counters and deterministic
// fault injection for exercising the read path under controlled failures.
type fakeStore struct {
	mem *MemoryBlobStore

	mu         sync.Mutex
	statCalls  int
	openCalls  int
	rangeCalls int

	statErr  error // injected on every Stat call
	openErr  error // injected on every Open call
	rangeErr error // injected on every ReadRange call

	rangeBlock chan struct{} // if non-nil, ReadRange blocks until closed
}

func newFakeStore() *fakeStore {
	return &fakeStore{mem: NewMemoryBlobStore()}
}

func (f *fakeStore) Stat(ctx context.Context, bucket, key string) (BlobInfo, error) {
	f.mu.Lock()
	f.statCalls++
	err := f.statErr
	f.mu.Unlock()
	if err != nil {
		return BlobInfo{}, err
	}
	return f.mem.Stat(ctx, bucket, key)
}

func (f *fakeStore) Open(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	f.openCalls++
	err := f.openErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.mem.Open(ctx, bucket, key)
}

func (f *fakeStore) ReadRange(ctx context.Context, bucket, key string, offset, length int64) ([]byte, error) {
	f.mu.Lock()
	f.rangeCalls++
	err := f.rangeErr
	block := f.rangeBlock
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.mem.ReadRange(ctx, bucket, key, offset, length)
}

func (f *fakeStore) counts() (stat, open, rng int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statCalls, f.openCalls, f.rangeCalls
}

func (f *fakeStore) resetCounts() {
	f.mu.Lock()
	f.statCalls, f.openCalls, f.rangeCalls = 0, 0, 0
	f.mu.Unlock()
}

const (
	testBucket   = "cold-tier"
	testDataKey  = "ledger-42/data"
	testIndexKey = "ledger-42/index"
	testLedgerID = int64(42)
)

// seedLedger builds the data and index blobs for the given payloads
// (entries 0..len-1) and stores them under the test keys.
func seedLedger(t *testing.T, fs *fakeStore, payloads [][]byte, blockSize int) {
	t.Helper()
	data, index, err := blockfmt.BuildLedgerBlobs(payloads, blockSize, blockfmt.LedgerInfo{
		LedgerID:    testLedgerID,
		CreatedAt:   time.Unix(1700000000, 0).UTC(),
		OffloadedAt: time.Unix(1700003600, 0).UTC(),
	}, false)
	if err != nil {
		t.Fatalf("building ledger blobs: %v", err)
	}
	fs.mem.PutBlob(testBucket, testDataKey, data, nil)
	fs.mem.PutBlob(testBucket, testIndexKey, index, map[string]string{
		FormatVersionKey: CurrentFormatVersion,
	})
}

// openTestHandle opens a handle over the seeded ledger with the shared
// cache and sensible defaults.
func openTestHandle(t *testing.T, fs *fakeStore, cache *OffsetsCache, readAhead int) *ReadHandle {
	t.Helper()
	h, err := Open(context.Background(), OpenConfig{
		Store:          fs,
		Bucket:         testBucket,
		DataKey:        testDataKey,
		IndexKey:       testIndexKey,
		LedgerID:       testLedgerID,
		LedgerName:     "public/default/persistent/orders",
		ReadAheadBytes: readAhead,
		VersionCheck:   CheckFormatVersion,
		OffsetsCache:   cache,
	})
	if err != nil {
		t.Fatalf("opening handle: %v", err)
	}
	t.Cleanup(func() {
		_, _ = h.CloseAsync().Wait(context.Background())
	})
	return h
}

// payloadsOf builds n payloads of size bytes each with distinct contents.
func payloadsOf(n, size int) [][]byte {
	out := make([][]byte, n)
	for i := range out {
		p := make([]byte, size)
		for j := range p {
			p[j] = byte(i + j)
		}
		out[i] = p
	}
	return out
}

// mustRead waits for a read future and fails the test on error.
func mustRead(t *testing.T, f *Future[Entries]) Entries {
	t.Helper()
	entries, err := f.Wait(context.Background())
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	return entries
}
