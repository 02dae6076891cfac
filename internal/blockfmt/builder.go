package blockfmt

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// BlobBuilder assembles a data blob out of fixed-size blocks. Records that
// do not fit in the remaining space of the current block roll over to a new
// block; the trailing space is filled with the padding pattern.
type BlobBuilder struct {
	blockSize int
	buf       bytes.Buffer
	entries   []IndexEntry

	blockStart   int64 // offset of the current block header, -1 when none
	firstInBlock int64
	nextPart     int32
}

// NewBlobBuilder creates a builder producing blocks of blockSize bytes.
// blockSize must leave room for a header and at least one record header.
func NewBlobBuilder(blockSize int) *BlobBuilder {
	if int64(blockSize) < BlockHeaderLen+RecordHeaderLen {
		panic(fmt.Sprintf("blockfmt: block size %d too small", blockSize))
	}
	return &BlobBuilder{blockSize: blockSize, blockStart: -1}
}

// AddEntry appends one entry record, opening a new block when the current
// one cannot hold it. Entry IDs are expected in ascending order; the
// builder does not enforce this, which lets tests construct stale and
// out-of-order streams.
func (b *BlobBuilder) AddEntry(entryID int64, payload []byte) {
	need := RecordHeaderLen + len(payload)
	if b.blockStart < 0 || b.remaining() < need {
		b.closeBlock()
		b.openBlock(entryID)
	}
	writeBE(&b.buf, int32(len(payload)))
	writeBE(&b.buf, entryID)
	b.buf.Write(payload)
}

// Finish pads the final block and returns the blob bytes along with the
// segment table describing it.
func (b *BlobBuilder) Finish() ([]byte, []IndexEntry) {
	b.closeBlock()
	return b.buf.Bytes(), b.entries
}

func (b *BlobBuilder) remaining() int {
	return b.blockSize - int(int64(b.buf.Len())-b.blockStart)
}

func (b *BlobBuilder) openBlock(firstEntryID int64) {
	b.blockStart = int64(b.buf.Len())
	b.firstInBlock = firstEntryID

	writeBE(&b.buf, BlockMagic)
	writeBE(&b.buf, int32(BlockHeaderLen))
	writeBE(&b.buf, int64(0)) // block length, patched in closeBlock
	writeBE(&b.buf, firstEntryID)
	b.buf.Write(make([]byte, BlockHeaderLen-(4+4+8+8)))

	b.entries = append(b.entries, IndexEntry{
		FirstEntryID: firstEntryID,
		PartID:       b.nextPart,
		BlockOffset:  b.blockStart,
	})
	b.nextPart++
}

func (b *BlobBuilder) closeBlock() {
	if b.blockStart < 0 {
		return
	}
	used := int64(b.buf.Len()) - b.blockStart
	binary.BigEndian.PutUint64(b.buf.Bytes()[b.blockStart+8:], uint64(used))
	for b.remaining() > 0 {
		n := b.remaining()
		if n > len(padding) {
			n = len(padding)
		}
		b.buf.Write(padding[:n])
	}
	b.blockStart = -1
}

// BuildLedgerBlobs encodes payloads as entries 0..len(payloads)-1 and
// returns the data blob plus a matching index blob for a closed ledger.
func BuildLedgerBlobs(payloads [][]byte, blockSize int, info LedgerInfo, compress bool) (data, index []byte, err error) {
	bb := NewBlobBuilder(blockSize)
	var ledgerLen int64
	for id, p := range payloads {
		bb.AddEntry(int64(id), p)
		ledgerLen += int64(len(p))
	}
	blob, entries := bb.Finish()

	idx := &Index{
		DataObjectLength: int64(len(blob)),
		DataHeaderLength: BlockHeaderLen,
		LastEntryID:      int64(len(payloads)) - 1,
		LedgerLength:     ledgerLen,
		Closed:           true,
		Info:             info,
		Entries:          entries,
	}
	var buf bytes.Buffer
	if err := EncodeIndex(&buf, idx, compress); err != nil {
		return nil, nil, err
	}
	return blob, buf.Bytes(), nil
}
