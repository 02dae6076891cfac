package strata

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"testing"
)

func newTestReader(t *testing.T, data []byte, readAhead int64) (*backedReader, *fakeStore) {
	t.Helper()
	fs := newFakeStore()
	fs.mem.PutBlob(testBucket, testDataKey, data, nil)
	r := newBackedReader(context.Background(), fs, testBucket, testDataKey,
		int64(len(data)), readAhead)
	return r, fs
}

func sequentialBytes(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i)
	}
	return data
}

func TestBackedReader_SequentialRead(t *testing.T) {
	data := sequentialBytes(1000)
	r, fs := newTestReader(t, data, 256)

	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("read bytes differ from blob contents")
	}
	// 1000 bytes through a 256-byte window is exactly four fetches.
	if _, _, rng := fs.counts(); rng != 4 {
		t.Errorf("sequential read made %d fetches, want 4", rng)
	}
}

func TestBackedReader_ReadWithinWindowNoRefetch(t *testing.T) {
	data := sequentialBytes(512)
	r, fs := newTestReader(t, data, 1024)

	buf := make([]byte, 64)
	for i := 0; i < 8; i++ {
		if _, err := io.ReadFull(r, buf); err != nil {
			t.Fatalf("read %d failed: %v", i, err)
		}
	}
	if _, _, rng := fs.counts(); rng != 1 {
		t.Errorf("window-covered reads made %d fetches, want 1", rng)
	}
}

func TestBackedReader_SeekIsLazy(t *testing.T) {
	data := sequentialBytes(1024)
	r, fs := newTestReader(t, data, 128)

	for _, off := range []int64{512, 17, 900, 0} {
		if err := r.Seek(off); err != nil {
			t.Fatalf("seek to %d failed: %v", off, err)
		}
		if r.Position() != off {
			t.Fatalf("position after seek = %d, want %d", r.Position(), off)
		}
	}
	if _, _, rng := fs.counts(); rng != 0 {
		t.Errorf("seeks performed %d fetches, want 0", rng)
	}

	// The next read fetches exactly once, at the final seek target.
	b := make([]byte, 4)
	if _, err := io.ReadFull(r, b); err != nil {
		t.Fatalf("read after seek failed: %v", err)
	}
	if !bytes.Equal(b, data[:4]) {
		t.Errorf("read after seek returned %v, want %v", b, data[:4])
	}
	if _, _, rng := fs.counts(); rng != 1 {
		t.Errorf("read after seeks made %d fetches, want 1", rng)
	}
}

func TestBackedReader_SeekNegativeFails(t *testing.T) {
	r, _ := newTestReader(t, sequentialBytes(16), 16)
	if err := r.Seek(-1); err == nil {
		t.Fatal("negative seek must fail")
	}
}

func TestBackedReader_SkipAdvancesWithoutIO(t *testing.T) {
	data := sequentialBytes(256)
	r, fs := newTestReader(t, data, 64)

	r.Skip(100)
	if r.Position() != 100 {
		t.Fatalf("position after skip = %d, want 100", r.Position())
	}
	if _, _, rng := fs.counts(); rng != 0 {
		t.Errorf("skip performed %d fetches, want 0", rng)
	}

	b := make([]byte, 1)
	if _, err := io.ReadFull(r, b); err != nil {
		t.Fatalf("read after skip failed: %v", err)
	}
	if b[0] != data[100] {
		t.Errorf("read after skip returned byte %d, want %d", b[0], data[100])
	}
}

func TestBackedReader_BigEndianIntegers(t *testing.T) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, int32(-7))
	binary.Write(&buf, binary.BigEndian, int64(1<<40))
	r, _ := newTestReader(t, buf.Bytes(), 64)

	i32, err := r.ReadInt32()
	if err != nil || i32 != -7 {
		t.Fatalf("ReadInt32 = (%d, %v), want (-7, nil)", i32, err)
	}
	i64, err := r.ReadInt64()
	if err != nil || i64 != 1<<40 {
		t.Fatalf("ReadInt64 = (%d, %v), want (%d, nil)", i64, err, int64(1<<40))
	}
}

func TestBackedReader_IntegerStraddlesWindowBoundary(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(make([]byte, 6)) // push the int64 across the 8-byte window edge
	binary.Write(&buf, binary.BigEndian, int64(0x0102030405060708))
	r, _ := newTestReader(t, buf.Bytes(), 8)

	// Materialize the first window so the int64 genuinely spans two
	// fetches instead of landing in a fresh window.
	if _, err := io.ReadFull(r, make([]byte, 6)); err != nil {
		t.Fatal(err)
	}
	i64, err := r.ReadInt64()
	if err != nil || i64 != 0x0102030405060708 {
		t.Fatalf("ReadInt64 across windows = (%#x, %v)", i64, err)
	}
}

func TestBackedReader_EOF(t *testing.T) {
	data := sequentialBytes(10)
	r, _ := newTestReader(t, data, 64)

	if _, err := io.ReadAll(r); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if _, err := r.ReadInt32(); !errors.Is(err, io.EOF) {
		t.Fatalf("read at end of blob = %v, want io.EOF", err)
	}

	r.Skip(1000)
	buf := make([]byte, 1)
	if _, err := r.Read(buf); !errors.Is(err, io.EOF) {
		t.Fatalf("read past end of blob = %v, want io.EOF", err)
	}
}

func TestBackedReader_Available(t *testing.T) {
	data := sequentialBytes(100)
	r, _ := newTestReader(t, data, 40)

	if got := r.Available(); got != 0 {
		t.Fatalf("Available before any read = %d, want 0", got)
	}

	b := make([]byte, 10)
	if _, err := io.ReadFull(r, b); err != nil {
		t.Fatal(err)
	}
	if got := r.Available(); got != 30 {
		t.Fatalf("Available mid-window = %d, want 30", got)
	}

	if err := r.Seek(90); err != nil {
		t.Fatal(err)
	}
	if got := r.Available(); got != 0 {
		t.Fatalf("Available after seek outside window = %d, want 0", got)
	}
}

func TestBackedReader_FetchErrorUnretried(t *testing.T) {
	data := sequentialBytes(64)
	r, fs := newTestReader(t, data, 16)

	injected := errors.New("throttled")
	fs.mu.Lock()
	fs.rangeErr = injected
	fs.mu.Unlock()

	if _, err := r.ReadInt32(); !errors.Is(err, injected) {
		t.Fatalf("expected injected error, got: %v", err)
	}
	if _, _, rng := fs.counts(); rng != 1 {
		t.Errorf("failed fetch retried internally: %d calls", rng)
	}

	// Clearing the fault lets the same reader proceed; the cursor did not move.
	fs.mu.Lock()
	fs.rangeErr = nil
	fs.mu.Unlock()
	i32, err := r.ReadInt32()
	if err != nil {
		t.Fatalf("read after fault cleared: %v", err)
	}
	if want := int32(binary.BigEndian.Uint32(data[:4])); i32 != want {
		t.Errorf("read after fault = %#x, want %#x", i32, want)
	}
}

func TestBackedReader_UseAfterClose(t *testing.T) {
	r, _ := newTestReader(t, sequentialBytes(16), 16)
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 1)
	if _, err := r.Read(buf); !errors.Is(err, errStreamClosed) {
		t.Fatalf("read after close = %v, want errStreamClosed", err)
	}
}
