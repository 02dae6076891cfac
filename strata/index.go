package strata

import (
	"fmt"
	"io"
	"sort"

	"github.com/justapithecus/strata/internal/blockfmt"
)

// indexBlock is the decoded, immutable index of one offloaded ledger:
// ledger metadata plus a sorted table of segments mapping entry-ID ranges
// to data block offsets. Built once at open time, lookups only afterwards,
// so no locking is needed.
type indexBlock struct {
	raw *blockfmt.Index
}

// decodeIndex parses an index blob fetched from the store.
func decodeIndex(r io.Reader) (*indexBlock, error) {
	raw, err := blockfmt.DecodeIndex(r)
	if err != nil {
		return nil, fmt.Errorf("strata: decoding index blob: %w", err)
	}
	if raw.LastEntryID < 0 || len(raw.Entries) == 0 {
		return nil, fmt.Errorf("strata: index blob describes an empty ledger")
	}
	for i := 1; i < len(raw.Entries); i++ {
		if raw.Entries[i].FirstEntryID <= raw.Entries[i-1].FirstEntryID {
			return nil, fmt.Errorf("strata: index segment table not strictly ascending at %d", i)
		}
	}
	return &indexBlock{raw: raw}, nil
}

func (ib *indexBlock) metadata() LedgerMetadata {
	return LedgerMetadata{
		LedgerID:    ib.raw.Info.LedgerID,
		LastEntryID: ib.raw.LastEntryID,
		Length:      ib.raw.LedgerLength,
		Closed:      ib.raw.Closed,
		CreatedAt:   ib.raw.Info.CreatedAt,
		OffloadedAt: ib.raw.Info.OffloadedAt,
	}
}

func (ib *indexBlock) dataObjectLength() int64 {
	return ib.raw.DataObjectLength
}

// entryAt returns the segment covering entryID: the one with the greatest
// FirstEntryID at or below it. Offsets are non-decreasing in entryID
// because the table is ascending on both fields.
func (ib *indexBlock) entryAt(entryID int64) (blockfmt.IndexEntry, error) {
	if entryID < 0 || entryID > ib.raw.LastEntryID {
		return blockfmt.IndexEntry{}, ErrEntryOutOfRange
	}
	i := sort.Search(len(ib.raw.Entries), func(i int) bool {
		return ib.raw.Entries[i].FirstEntryID > entryID
	})
	if i == 0 {
		return blockfmt.IndexEntry{}, ErrEntryOutOfRange
	}
	return ib.raw.Entries[i-1], nil
}

// sameSegment reports whether two entry IDs fall inside the same index
// segment. Out-of-range IDs are never in the same segment as anything.
func (ib *indexBlock) sameSegment(a, b int64) bool {
	ea, errA := ib.entryAt(a)
	eb, errB := ib.entryAt(b)
	if errA != nil || errB != nil {
		return false
	}
	return ea.PartID == eb.PartID
}
