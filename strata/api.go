// Package strata implements the cold-tier read path for offloaded ledgers:
// immutable, closed sequences of entries migrated from a broker's hot
// storage into an object store as a data blob plus a compact index blob.
//
// Strata reconstructs such a ledger behind the same random-access read
// contract used for ledgers still resident in the hot tier, so dispatch and
// replay logic can treat both identically. It does not implement the
// offload write path, bucket or key naming policy, or handle eviction; it
// only exposes the idle signals (pending reads, last access time) that an
// eviction policy consumes.
package strata

import (
	"context"
	"io"
	"time"
)

// -----------------------------------------------------------------------------
// Blob store collaborator
// -----------------------------------------------------------------------------

// BlobInfo describes one remote blob.
type BlobInfo struct {
	// Key is the blob's key within its bucket.
	Key string

	// Size is the blob length in bytes.
	Size int64

	// Metadata holds the user metadata stored with the blob.
	Metadata map[string]string
}

// BlobStore abstracts the object storage backend holding offloaded blobs.
//
// Implementations must be safe for concurrent use; strata issues calls from
// many ledger handles in parallel. Missing blobs surface as ErrBlobNotFound
// so callers can distinguish a vanished ledger from a transport failure.
type BlobStore interface {
	// Stat returns metadata for the blob at key.
	Stat(ctx context.Context, bucket, key string) (BlobInfo, error)

	// Open returns the full contents of the blob at key.
	Open(ctx context.Context, bucket, key string) (io.ReadCloser, error)

	// ReadRange reads length bytes starting at offset. Short reads at the
	// end of the blob return the available bytes.
	ReadRange(ctx context.Context, bucket, key string, offset, length int64) ([]byte, error)
}

// VersionCheck validates the format compatibility of an index blob before
// it is decoded, typically from blob user metadata written by the offload
// side. A non-nil error fails the open immediately, without retry.
type VersionCheck func(key string, info BlobInfo) error

// StatsRecorder receives read-path latency observations. Implementations
// must be non-blocking; recording never affects control flow.
type StatsRecorder interface {
	// RecordIndexReadLatency observes one index blob fetch for topic.
	RecordIndexReadLatency(topic string, d time.Duration)

	// RecordDataReadBytes counts payload bytes served for topic.
	RecordDataReadBytes(topic string, n int64)
}

// -----------------------------------------------------------------------------
// Ledger data model
// -----------------------------------------------------------------------------

// LedgerMetadata is the immutable description of an offloaded ledger,
// decoded once from the index blob.
type LedgerMetadata struct {
	// LedgerID identifies the ledger.
	LedgerID int64

	// LastEntryID is the highest entry ID in the ledger. Valid entry IDs
	// are the contiguous range [0, LastEntryID].
	LastEntryID int64

	// Length is the total payload length of the ledger in bytes.
	Length int64

	// Closed reports whether the ledger was sealed before offload.
	// Offloaded ledgers are always closed.
	Closed bool

	// CreatedAt is when the ledger was created, OffloadedAt when it was
	// migrated to the cold tier.
	CreatedAt   time.Time
	OffloadedAt time.Time
}

// Entry is one record read back from an offloaded ledger. The payload is
// owned by the Entries that produced it; see Entries.Release.
type Entry struct {
	LedgerID int64
	EntryID  int64
	Payload  []byte
}

// Entries is an ordered batch of entries returned by a single read, in
// increasing entry-ID order.
type Entries []Entry

// Release returns the payload buffers to the handle's pool. After Release
// the payloads must not be used. Failed reads release internally; callers
// release successful results when finished with them.
func (es Entries) Release() {
	for i := range es {
		putPayload(es[i].Payload)
		es[i].Payload = nil
	}
}

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

// Error sentinel values for the read-path taxonomy.
var (
	// ErrNoSuchLedger indicates the index or data blob for a ledger is
	// missing from the store.
	ErrNoSuchLedger = errNoSuchLedger{}

	// ErrInvalidRange indicates an out-of-range or inverted entry range.
	ErrInvalidRange = errInvalidRange{}

	// ErrHandleClosed indicates an operation on a closed read handle.
	ErrHandleClosed = errHandleClosed{}

	// ErrUnexpectedEntry indicates the data blob could not be read back in
	// the expected entry order even after resynchronization.
	ErrUnexpectedEntry = errUnexpectedEntry{}

	// ErrUnsupported indicates an operation that offloaded ledgers do not
	// provide.
	ErrUnsupported = errUnsupported{}

	// ErrBlobNotFound indicates a blob key absent from the store. Blob
	// store implementations return it; handle operations translate it to
	// ErrNoSuchLedger.
	ErrBlobNotFound = errBlobNotFound{}

	// ErrEntryOutOfRange indicates an index lookup beyond the ledger's
	// entry range.
	ErrEntryOutOfRange = errEntryOutOfRange{}

	// ErrBadVersion indicates an index blob whose format version failed
	// the open-time version check.
	ErrBadVersion = errBadVersion{}
)

type errNoSuchLedger struct{}

func (errNoSuchLedger) Error() string { return "no such ledger" }

type errInvalidRange struct{}

func (errInvalidRange) Error() string { return "invalid entry range" }

type errHandleClosed struct{}

func (errHandleClosed) Error() string { return "read handle closed" }

type errUnexpectedEntry struct{}

func (errUnexpectedEntry) Error() string { return "unexpected entry id in data stream" }

type errUnsupported struct{}

func (errUnsupported) Error() string { return "unsupported operation for offloaded ledger" }

type errBlobNotFound struct{}

func (errBlobNotFound) Error() string { return "blob not found" }

type errEntryOutOfRange struct{}

func (errEntryOutOfRange) Error() string { return "entry id out of range" }

type errBadVersion struct{}

func (errBadVersion) Error() string { return "incompatible index blob version" }
