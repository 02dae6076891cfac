// Package blockfmt defines the binary layout of offloaded ledger blobs: the
// data blob (fixed-size blocks of length-prefixed entry records) and the
// index blob (ledger metadata plus a sorted segment table). The read path
// decodes these; the encoder side exists as the format's reference
// implementation and is exercised by the read-path tests.
//
// All integers are big-endian.
package blockfmt

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/klauspost/compress/zstd"
	"github.com/spaolacci/murmur3"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	// BlockMagic marks the start of every data block header. Its top bit
	// is set on purpose: a record scanner that lands on a block boundary
	// reads the magic as a negative length and takes the padding path,
	// the same way it recovers inside real padding.
	BlockMagic = int32(0xFADE5354 - 1<<32)

	// IndexMagic marks the start of an index blob.
	IndexMagic = int32(0x53545849) // "STXI"

	// IndexFormatVersion is the current index blob format version.
	IndexFormatVersion = int32(1)

	// BlockHeaderLen is the fixed length of a data block header. The
	// region between the header and the block's first record is zero
	// padded so that index offsets can address record starts directly.
	BlockHeaderLen = int64(64)

	// RecordHeaderLen is the length prefix plus the entry ID of a record.
	RecordHeaderLen = 12
)

// padding is the repeating byte pattern filling the tail of a block. Every
// 4-byte window of the pattern has its top bit set, so a reader that lands
// anywhere inside padding decodes a negative length and skips ahead.
var padding = []byte{0xfe, 0xdc, 0xde, 0xad}

// closedFlag marks a ledger that was sealed before offload.
const closedFlag = int32(1)

// ErrTruncated indicates an index blob ended before its declared contents.
var ErrTruncated = errors.New("blockfmt: truncated index blob")

// ErrChecksum indicates the index segment table failed integrity checking.
var ErrChecksum = errors.New("blockfmt: index segment table checksum mismatch")

// ErrBadMagic indicates the blob does not start with an index header.
var ErrBadMagic = errors.New("blockfmt: bad index magic")

// ErrBadVersion indicates an index blob with an unsupported format version.
var ErrBadVersion = errors.New("blockfmt: unsupported index format version")

// LedgerInfo is the JSON metadata section embedded in the index blob.
type LedgerInfo struct {
	LedgerID    int64     `json:"ledger_id"`
	CreatedAt   time.Time `json:"created_at"`
	OffloadedAt time.Time `json:"offloaded_at"`
}

// IndexEntry maps the first entry ID of a segment to the offset of the data
// block holding it. One entry covers every ledger entry up to the next
// segment's first entry ID.
type IndexEntry struct {
	// FirstEntryID is the lowest entry ID stored in the segment.
	FirstEntryID int64

	// PartID numbers the data block within the blob.
	PartID int32

	// BlockOffset is the byte offset of the block header in the data blob.
	BlockOffset int64
}

// DataOffset returns the offset of the segment's first record, past the
// block header.
func (e IndexEntry) DataOffset() int64 {
	return e.BlockOffset + BlockHeaderLen
}

// Index is the decoded form of an index blob.
type Index struct {
	DataObjectLength int64
	DataHeaderLength int64
	LastEntryID      int64
	LedgerLength     int64
	Closed           bool
	Info             LedgerInfo

	// Entries is sorted by FirstEntryID, ascending.
	Entries []IndexEntry
}

// zstdMagic is the Zstandard frame header (RFC 8878).
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// DecodeIndex parses an index blob. A blob compressed as a single zstd
// frame is decompressed transparently; compression is sniffed from the
// frame magic, not negotiated.
func DecodeIndex(r io.Reader) (*Index, error) {
	payload, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("blockfmt: reading index blob: %w", err)
	}
	if bytes.HasPrefix(payload, zstdMagic) {
		dec, err := zstd.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("blockfmt: opening zstd frame: %w", err)
		}
		defer dec.Close()
		payload, err = io.ReadAll(dec.IOReadCloser())
		if err != nil {
			return nil, fmt.Errorf("blockfmt: decompressing index blob: %w", err)
		}
	}
	return decodeIndexPayload(payload)
}

func decodeIndexPayload(payload []byte) (*Index, error) {
	br := bytes.NewReader(payload)

	var magic, version int32
	if err := readBE(br, &magic); err != nil {
		return nil, ErrTruncated
	}
	if magic != IndexMagic {
		return nil, ErrBadMagic
	}
	if err := readBE(br, &version); err != nil {
		return nil, ErrTruncated
	}
	if version != IndexFormatVersion {
		return nil, fmt.Errorf("%w: %d", ErrBadVersion, version)
	}

	idx := &Index{}
	var flags int32
	for _, dst := range []any{
		&idx.DataObjectLength,
		&idx.DataHeaderLength,
		&idx.LastEntryID,
		&idx.LedgerLength,
		&flags,
	} {
		if err := readBE(br, dst); err != nil {
			return nil, ErrTruncated
		}
	}
	idx.Closed = flags&closedFlag != 0

	var metaLen int32
	if err := readBE(br, &metaLen); err != nil {
		return nil, ErrTruncated
	}
	if metaLen < 0 || int64(metaLen) > int64(br.Len()) {
		return nil, ErrTruncated
	}
	meta := make([]byte, metaLen)
	if _, err := io.ReadFull(br, meta); err != nil {
		return nil, ErrTruncated
	}
	if err := json.Unmarshal(meta, &idx.Info); err != nil {
		return nil, fmt.Errorf("blockfmt: decoding ledger info: %w", err)
	}

	var count int32
	if err := readBE(br, &count); err != nil {
		return nil, ErrTruncated
	}
	if count < 0 || int64(count)*indexEntryLen > int64(br.Len()) {
		return nil, ErrTruncated
	}

	table := make([]byte, int64(count)*indexEntryLen)
	if _, err := io.ReadFull(br, table); err != nil {
		return nil, ErrTruncated
	}
	var sum uint64
	if err := readBE(br, &sum); err != nil {
		return nil, ErrTruncated
	}
	if murmur3.Sum64(table) != sum {
		return nil, ErrChecksum
	}

	tr := bytes.NewReader(table)
	idx.Entries = make([]IndexEntry, count)
	for i := range idx.Entries {
		e := &idx.Entries[i]
		if err := readBE(tr, &e.FirstEntryID); err != nil {
			return nil, ErrTruncated
		}
		if err := readBE(tr, &e.PartID); err != nil {
			return nil, ErrTruncated
		}
		if err := readBE(tr, &e.BlockOffset); err != nil {
			return nil, ErrTruncated
		}
	}
	return idx, nil
}

// indexEntryLen is the wire size of one segment table entry.
const indexEntryLen = int64(8 + 4 + 8)

// EncodeIndex writes idx in the index blob format. When compress is true
// the whole blob is wrapped in a single zstd frame.
func EncodeIndex(w io.Writer, idx *Index, compress bool) error {
	meta, err := json.Marshal(idx.Info)
	if err != nil {
		return fmt.Errorf("blockfmt: encoding ledger info: %w", err)
	}

	var table bytes.Buffer
	for _, e := range idx.Entries {
		writeBE(&table, e.FirstEntryID)
		writeBE(&table, e.PartID)
		writeBE(&table, e.BlockOffset)
	}

	var buf bytes.Buffer
	flags := int32(0)
	if idx.Closed {
		flags |= closedFlag
	}
	writeBE(&buf, IndexMagic)
	writeBE(&buf, IndexFormatVersion)
	writeBE(&buf, idx.DataObjectLength)
	writeBE(&buf, idx.DataHeaderLength)
	writeBE(&buf, idx.LastEntryID)
	writeBE(&buf, idx.LedgerLength)
	writeBE(&buf, flags)
	writeBE(&buf, int32(len(meta)))
	buf.Write(meta)
	writeBE(&buf, int32(len(idx.Entries)))
	buf.Write(table.Bytes())
	writeBE(&buf, murmur3.Sum64(table.Bytes()))

	if !compress {
		_, err := w.Write(buf.Bytes())
		return err
	}
	enc, err := zstd.NewWriter(w)
	if err != nil {
		return err
	}
	if _, err := enc.Write(buf.Bytes()); err != nil {
		return err
	}
	return enc.Close()
}

func readBE(r io.Reader, dst any) error {
	return binary.Read(r, binary.BigEndian, dst)
}

func writeBE(w io.Writer, v any) {
	// bytes.Buffer writes cannot fail.
	_ = binary.Write(w, binary.BigEndian, v)
}
