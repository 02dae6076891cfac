package strata

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// backedReader is a buffered, seekable byte source over one remote blob.
// It fetches read-ahead sized windows lazily and serves reads from the
// buffered window; a seek outside the window only invalidates it, the next
// read triggers the single fetch. Not safe for concurrent use: the owning
// handle serializes access on its worker.
type backedReader struct {
	ctx       context.Context
	store     BlobStore
	bucket    string
	key       string
	objectLen int64
	readAhead int64

	window    []byte
	windowOff int64 // absolute offset of window[0]
	cursor    int64 // absolute offset of the next byte to read
	closed    bool

	scratch [8]byte
}

// errStreamClosed guards against use after the handle closed the stream.
var errStreamClosed = errors.New("strata: backed stream closed")

func newBackedReader(ctx context.Context, store BlobStore, bucket, key string, objectLen, readAhead int64) *backedReader {
	return &backedReader{
		ctx:       ctx,
		store:     store,
		bucket:    bucket,
		key:       key,
		objectLen: objectLen,
		readAhead: readAhead,
	}
}

// Read implements io.Reader over the remote blob. Fetch failures surface
// unretried; retry policy belongs to the caller.
func (b *backedReader) Read(p []byte) (int, error) {
	if b.closed {
		return 0, errStreamClosed
	}
	if b.cursor >= b.objectLen {
		return 0, io.EOF
	}
	if !b.buffered(b.cursor) {
		if err := b.refill(); err != nil {
			return 0, err
		}
	}
	n := copy(p, b.window[b.cursor-b.windowOff:])
	b.cursor += int64(n)
	return n, nil
}

func (b *backedReader) refill() error {
	length := b.readAhead
	if remaining := b.objectLen - b.cursor; remaining < length {
		length = remaining
	}
	data, err := b.store.ReadRange(b.ctx, b.bucket, b.key, b.cursor, length)
	if err != nil {
		return fmt.Errorf("strata: fetching %q at offset %d: %w", b.key, b.cursor, err)
	}
	if len(data) == 0 {
		return io.EOF
	}
	b.window = data
	b.windowOff = b.cursor
	return nil
}

func (b *backedReader) buffered(off int64) bool {
	return off >= b.windowOff && off < b.windowOff+int64(len(b.window))
}

// ReadInt32 reads a big-endian int32 at the cursor.
func (b *backedReader) ReadInt32() (int32, error) {
	if _, err := io.ReadFull(b, b.scratch[:4]); err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b.scratch[:4])), nil
}

// ReadInt64 reads a big-endian int64 at the cursor.
func (b *backedReader) ReadInt64() (int64, error) {
	if _, err := io.ReadFull(b, b.scratch[:8]); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b.scratch[:8])), nil
}

// Seek repositions the cursor to an absolute offset. O(1): a target outside
// the buffered window is not fetched until the next read.
func (b *backedReader) Seek(offset int64) error {
	if offset < 0 {
		return fmt.Errorf("strata: seek to negative offset %d", offset)
	}
	b.cursor = offset
	return nil
}

// Skip advances the cursor n bytes without materializing them.
func (b *backedReader) Skip(n int64) {
	b.cursor += n
}

// Position returns the absolute cursor offset. No I/O.
func (b *backedReader) Position() int64 {
	return b.cursor
}

// Available returns how many bytes can be read from the buffered window
// without a remote fetch. No I/O.
func (b *backedReader) Available() int64 {
	if !b.buffered(b.cursor) {
		return 0
	}
	return b.windowOff + int64(len(b.window)) - b.cursor
}

// Close releases the buffered window and rejects further reads.
func (b *backedReader) Close() error {
	b.closed = true
	b.window = nil
	return nil
}
