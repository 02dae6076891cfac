package strata

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/justapithecus/strata/internal/blockfmt"
)

// openAttempts bounds index blob fetch/decode retries at open time. There
// is deliberately no backoff between attempts: a timer would turn the open
// path into a concurrent operation, and in the common case the loop runs
// once. A read that still fails lands back at the dispatcher, which
// schedules the next read anyway.
const openAttempts = 3

// defaultReadAhead is the remote fetch window when OpenConfig leaves
// ReadAheadBytes zero.
const defaultReadAhead = 1 << 20

const (
	stateOpened int32 = iota
	stateClosed
)

// OpenConfig carries everything needed to open one offloaded ledger.
type OpenConfig struct {
	// Store is the object storage backend. Required.
	Store BlobStore

	// Bucket and the two keys locate the offloaded blobs. Required. Keys
	// are opaque to strata; naming policy belongs to the offload side.
	Bucket   string
	DataKey  string
	IndexKey string

	// LedgerID identifies the ledger being opened.
	LedgerID int64

	// LedgerName is the broker-internal storage name of the ledger, used
	// only to derive the topic label for logs and metrics.
	LedgerName string

	// ReadAheadBytes is the remote fetch window for the data stream.
	// Defaults to 1MiB.
	ReadAheadBytes int

	// VersionCheck validates index blob format compatibility before
	// decoding. Optional; nil skips the check.
	VersionCheck VersionCheck

	// OffsetsCache is the process-wide entry offset cache shared across
	// handles. Optional; nil gives the handle a small private cache.
	OffsetsCache *OffsetsCache

	// Stats receives fetch latency and byte count observations.
	// Optional.
	Stats StatsRecorder

	// Logger for read-path diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// ReadHandle reconstructs one offloaded ledger behind the hot-tier read
// contract. A handle exclusively owns its index block and data stream; the
// offsets cache is shared across handles. All I/O for one handle runs on a
// single worker goroutine in submission order, which is the only mutual
// exclusion the stream cursor needs; reads on different handles proceed
// fully in parallel.
type ReadHandle struct {
	ledgerID int64
	topic    string
	meta     LedgerMetadata
	index    *indexBlock
	stream   *backedReader
	cache    *OffsetsCache
	stats    StatsRecorder
	log      *slog.Logger

	mu       sync.Mutex // guards the task queue and shutdown flags
	cond     *sync.Cond
	queue    []func()
	stopping bool // set by CloseAsync; rejects further submissions
	stopped  bool // set by the close task; lets the worker exit

	state       atomic.Int32
	pendingRead atomic.Int32
	lastAccess  atomic.Int64 // unix nanoseconds

	closeOnce   sync.Once
	closeFuture *Future[struct{}]
}

// Open fetches and decodes the ledger's index blob, then constructs the
// buffered stream over its data blob. Fetch, decode, and not-found failures
// are retried up to openAttempts times; a missing index blob after the last
// attempt reports ErrNoSuchLedger. A version-check failure is never
// retried.
//
// ctx is captured by the returned handle and scopes every later data fetch
// its reads perform, so it must outlive the handle: pass a long-lived
// context (the broker's, not a request's). Opening with a request-scoped
// context fails all reads once that request ends.
func Open(ctx context.Context, cfg OpenConfig) (*ReadHandle, error) {
	if cfg.Store == nil {
		return nil, errors.New("strata: blob store is required")
	}
	if cfg.Bucket == "" || cfg.DataKey == "" || cfg.IndexKey == "" {
		return nil, errors.New("strata: bucket, data key and index key are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	stats := cfg.Stats
	if stats == nil {
		stats = NopStats
	}
	cache := cfg.OffsetsCache
	if cache == nil {
		cache = NewOffsetsCache(1024)
	}
	readAhead := int64(cfg.ReadAheadBytes)
	if readAhead <= 0 {
		readAhead = defaultReadAhead
	}
	topic := TopicFromPersistenceName(cfg.LedgerName)

	var index *indexBlock
	var lastErr error
	for attempt := 1; attempt <= openAttempts; attempt++ {
		start := time.Now()
		info, err := cfg.Store.Stat(ctx, cfg.Bucket, cfg.IndexKey)
		if err != nil {
			if errors.Is(err, ErrBlobNotFound) {
				logger.Warn("offload index blob not found",
					"bucket", cfg.Bucket, "key", cfg.IndexKey,
					"attempt", attempt, "attempts", openAttempts)
				lastErr = ErrNoSuchLedger
				continue
			}
			lastErr = fmt.Errorf("strata: fetching index blob %q: %w", cfg.IndexKey, err)
			continue
		}
		stats.RecordIndexReadLatency(topic, time.Since(start))

		if cfg.VersionCheck != nil {
			if err := cfg.VersionCheck(cfg.IndexKey, info); err != nil {
				return nil, err
			}
		}

		rc, err := cfg.Store.Open(ctx, cfg.Bucket, cfg.IndexKey)
		if err != nil {
			if errors.Is(err, ErrBlobNotFound) {
				lastErr = ErrNoSuchLedger
			} else {
				lastErr = fmt.Errorf("strata: fetching index blob %q: %w", cfg.IndexKey, err)
			}
			continue
		}
		index, err = decodeIndex(rc)
		_ = rc.Close()
		if err != nil {
			logger.Warn("failed to decode offload index blob",
				"key", cfg.IndexKey, "attempt", attempt, "attempts", openAttempts,
				"error", err)
			lastErr = err
			continue
		}
		lastErr = nil
		break
	}
	if lastErr != nil {
		return nil, lastErr
	}

	h := &ReadHandle{
		ledgerID: cfg.LedgerID,
		topic:    topic,
		meta:     index.metadata(),
		index:    index,
		cache:    cache,
		stats:    stats,
		log:      logger,
	}
	h.cond = sync.NewCond(&h.mu)
	h.stream = newBackedReader(ctx, cfg.Store, cfg.Bucket, cfg.DataKey,
		index.dataObjectLength(), readAhead)
	h.state.Store(stateOpened)
	h.lastAccess.Store(time.Now().UnixNano())
	go h.run()
	return h, nil
}

// run executes queued work in submission order until the close task, which
// is always the last queued item, marks the handle stopped.
func (h *ReadHandle) run() {
	for {
		h.mu.Lock()
		for len(h.queue) == 0 && !h.stopped {
			h.cond.Wait()
		}
		if len(h.queue) == 0 {
			h.mu.Unlock()
			return
		}
		fn := h.queue[0]
		h.queue = h.queue[1:]
		h.mu.Unlock()
		fn()
	}
}

// submit enqueues fn on the handle's worker. The queue is unbounded, so
// submission never blocks the caller, however many reads are parked behind
// an in-flight fetch. After CloseAsync has been invoked it fails with
// ErrHandleClosed without enqueueing.
func (h *ReadHandle) submit(fn func()) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopping {
		return ErrHandleClosed
	}
	h.queue = append(h.queue, fn)
	h.cond.Signal()
	return nil
}

// ID returns the ledger identifier this handle reads.
func (h *ReadHandle) ID() int64 {
	return h.ledgerID
}

// Metadata returns the ledger metadata decoded from the index blob.
func (h *ReadHandle) Metadata() LedgerMetadata {
	return h.meta
}

// LastAddConfirmed returns the highest entry ID in the ledger.
func (h *ReadHandle) LastAddConfirmed() int64 {
	return h.meta.LastEntryID
}

// Length returns the total payload length of the ledger in bytes.
func (h *ReadHandle) Length() int64 {
	return h.meta.Length
}

// IsClosed reports whether the ledger was sealed before offload. This is a
// property of the ledger, not of the handle; offloaded ledgers are always
// closed.
func (h *ReadHandle) IsClosed() bool {
	return h.meta.Closed
}

// LastAccessTimestamp returns when the last read settled. It is updated
// only after a read fully completes, success or failure, never at read
// start, so a long-running read is never mistaken for idle.
func (h *ReadHandle) LastAccessTimestamp() time.Time {
	return time.Unix(0, h.lastAccess.Load())
}

// PendingRead returns the number of in-flight reads. Together with
// LastAccessTimestamp it drives the external idle-handle eviction policy.
func (h *ReadHandle) PendingRead() int {
	return int(h.pendingRead.Load())
}

// ReadAsync reads entries [firstEntry, lastEntry], both inclusive. Range
// violations settle the future with ErrInvalidRange before any I/O. The
// parse work is queued on the handle's worker; the returned future settles
// with the entries in increasing entry-ID order, or with an error and no
// entries. Abandoning the future does not cancel the work.
func (h *ReadHandle) ReadAsync(firstEntry, lastEntry int64) *Future[Entries] {
	h.log.Debug("reading offloaded entries",
		"ledger", h.ledgerID, "first", firstEntry, "last", lastEntry)

	f := newFuture[Entries]()
	h.pendingRead.Add(1)
	f.onSettle = func() {
		h.lastAccess.Store(time.Now().UnixNano())
		h.pendingRead.Add(-1)
	}

	if firstEntry > lastEntry || firstEntry < 0 || lastEntry > h.meta.LastEntryID {
		f.complete(nil, ErrInvalidRange)
		return f
	}
	if err := h.submit(func() { h.runRead(f, firstEntry, lastEntry) }); err != nil {
		f.complete(nil, err)
	}
	return f
}

// ReadUnconfirmedAsync is identical to ReadAsync: offloaded ledgers are
// closed and immutable, so there is no unconfirmed tail.
func (h *ReadHandle) ReadUnconfirmedAsync(firstEntry, lastEntry int64) *Future[Entries] {
	return h.ReadAsync(firstEntry, lastEntry)
}

// ReadLastAddConfirmedAsync completes immediately from index metadata.
func (h *ReadHandle) ReadLastAddConfirmedAsync() *Future[int64] {
	return completedFuture(h.meta.LastEntryID, nil)
}

// TryReadLastAddConfirmedAsync completes immediately from index metadata.
func (h *ReadHandle) TryReadLastAddConfirmedAsync() *Future[int64] {
	return completedFuture(h.meta.LastEntryID, nil)
}

// LastConfirmedAndEntry pairs the last confirmed entry ID with an entry,
// for parity with the hot-tier read contract.
type LastConfirmedAndEntry struct {
	LastAddConfirmed int64
	Entry            *Entry
}

// ReadLastAddConfirmedAndEntryAsync always fails with ErrUnsupported: an
// offloaded ledger has no "latest" concept beyond its static last entry.
func (h *ReadHandle) ReadLastAddConfirmedAndEntryAsync(int64, time.Duration, bool) *Future[*LastConfirmedAndEntry] {
	return completedFuture[*LastConfirmedAndEntry](nil, ErrUnsupported)
}

// CloseAsync closes the handle: already-queued reads drain first, then the
// data stream is closed on the worker, the handle transitions to its
// terminal closed state, and the worker shuts down. Reads submitted after
// this call fail with ErrHandleClosed. Every call, concurrent or later,
// returns the same future; the close logic executes exactly once.
func (h *ReadHandle) CloseAsync() *Future[struct{}] {
	h.closeOnce.Do(func() {
		h.closeFuture = newFuture[struct{}]()
		h.mu.Lock()
		h.stopping = true
		// stopping blocks further submissions, so the close task is the
		// last item the worker drains; stopped then lets it exit.
		h.queue = append(h.queue, func() {
			err := h.stream.Close()
			h.state.Store(stateClosed)
			h.closeFuture.complete(struct{}{}, err)
			h.mu.Lock()
			h.stopped = true
			h.mu.Unlock()
		})
		h.cond.Signal()
		h.mu.Unlock()
	})
	return h.closeFuture
}

// runRead executes one read on the worker goroutine.
func (h *ReadHandle) runRead(f *Future[Entries], firstEntry, lastEntry int64) {
	if h.state.Load() == stateClosed {
		h.log.Warn("read on closed ledger handle",
			"ledger", h.ledgerID, "first", firstEntry, "last", lastEntry)
		f.complete(nil, ErrHandleClosed)
		return
	}

	entries, err := h.readEntries(firstEntry, lastEntry)
	if err != nil {
		h.log.Error("failed to read offloaded entries",
			"ledger", h.ledgerID, "topic", h.topic,
			"first", firstEntry, "last", lastEntry, "error", err)
		// No partial results: whatever was materialized goes back.
		entries.Release()
		if errors.Is(err, ErrBlobNotFound) {
			err = ErrNoSuchLedger
		}
		f.complete(nil, err)
		return
	}
	f.complete(entries, nil)
}

// stepResult is the per-iteration outcome of decoding one record header
// against the expected entry ID.
type stepResult int

const (
	stepMatch stepResult = iota
	stepSeekRetry
	stepSkipScan
	stepFatalOvershoot
)

// readEntries runs the entry-stream parse loop. The data blob is a
// sequence of [int32 length][int64 entryID][payload] records grouped into
// fixed-size blocks; a negative length is block padding, not an error. When
// the decoded entry ID and the expected one diverge the loop reseeks from
// the best known position for the expected entry, except that a stale entry
// inside the same index segment is cheaper to skip-scan past. An entry ID
// beyond the requested range is tolerated exactly once, to correct an
// initial misposition; the second occurrence fails the read.
func (h *ReadHandle) readEntries(firstEntry, lastEntry int64) (Entries, error) {
	toRead := lastEntry - firstEntry + 1
	nextExpected := firstEntry
	prealloc := toRead
	if prealloc > 1024 {
		prealloc = 1024
	}
	entries := make(Entries, 0, prealloc)
	overshootCorrected := false
	var payloadBytes int64

	// A record header is 12 bytes. If fewer remain in the buffered window
	// the cursor may sit at a fetch-window boundary; reseek on the first
	// entry instead of reading into a spurious short fetch.
	if h.stream.Available() < blockfmt.RecordHeaderLen {
		h.log.Warn("buffered window too short for a record header, seeking to first entry",
			"ledger", h.ledgerID, "available", h.stream.Available(), "first", firstEntry)
		if err := h.seekToEntry(firstEntry); err != nil {
			return entries, err
		}
	}

	for toRead > 0 {
		recordPos := h.stream.Position()
		length, err := h.stream.ReadInt32()
		if err != nil {
			return entries, err
		}
		if length < 0 {
			// Block padding; realign on the next expected entry.
			if err := h.seekToEntry(nextExpected); err != nil {
				return entries, err
			}
			continue
		}
		entryID, err := h.stream.ReadInt64()
		if err != nil {
			return entries, err
		}

		switch h.classify(entryID, nextExpected, lastEntry) {
		case stepMatch:
			h.cache.Put(h.ledgerID, entryID, recordPos)
			payload := getPayload(int(length))
			if _, err := io.ReadFull(h.stream, payload); err != nil {
				putPayload(payload)
				return entries, err
			}
			entries = append(entries, Entry{LedgerID: h.ledgerID, EntryID: entryID, Payload: payload})
			payloadBytes += int64(length)
			toRead--
			nextExpected++

		case stepFatalOvershoot:
			if !overshootCorrected {
				if err := h.seekToEntry(nextExpected); err != nil {
					return entries, err
				}
				overshootCorrected = true
				continue
			}
			h.log.Warn("entry id beyond requested range after corrective seek",
				"ledger", h.ledgerID, "entry", entryID,
				"expected", nextExpected, "last", lastEntry)
			return entries, ErrUnexpectedEntry

		case stepSeekRetry:
			h.log.Warn("stream mispositioned, seeking to expected entry",
				"ledger", h.ledgerID, "entry", entryID, "expected", nextExpected)
			if err := h.seekToEntry(nextExpected); err != nil {
				return entries, err
			}

		case stepSkipScan:
			h.stream.Skip(int64(length))
		}
	}

	h.stats.RecordDataReadBytes(h.topic, payloadBytes)
	return entries, nil
}

// classify decides how the parse loop handles a decoded entry ID.
func (h *ReadHandle) classify(entryID, nextExpected, lastEntry int64) stepResult {
	switch {
	case entryID == nextExpected:
		return stepMatch
	case entryID > lastEntry:
		return stepFatalOvershoot
	case entryID > nextExpected:
		// Ahead but still inside the requested range: a fetch-window
		// boundary landed mid-record.
		return stepSeekRetry
	case h.index.sameSegment(entryID, nextExpected):
		// Stale entry in the same segment; the expected one is further
		// along, scanning forward is cheaper than a remote seek.
		return stepSkipScan
	default:
		return stepSeekRetry
	}
}

// seekToEntry repositions the stream on entryID: exactly, on an offsets
// cache hit, or at the start of the covering index segment otherwise.
func (h *ReadHandle) seekToEntry(entryID int64) error {
	if off, ok := h.cache.Get(h.ledgerID, entryID); ok {
		return h.stream.Seek(off)
	}
	seg, err := h.index.entryAt(entryID)
	if err != nil {
		return err
	}
	return h.stream.Seek(seg.DataOffset())
}
