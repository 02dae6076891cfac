package strata

import (
	"bytes"
	"context"
	"io"
	"sync"
)

// MemoryBlobStore is an in-memory BlobStore. It exists for examples and for
// tests of code built on strata; offloaded data in production lives behind
// a real object store adapter.
//
// MemoryBlobStore is safe for concurrent use.
type MemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string]memBlob
}

type memBlob struct {
	data     []byte
	metadata map[string]string
}

// NewMemoryBlobStore creates an empty in-memory blob store.
func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{blobs: make(map[string]memBlob)}
}

// PutBlob stores a blob. Later puts overwrite.
func (m *MemoryBlobStore) PutBlob(bucket, key string, data []byte, metadata map[string]string) {
	m.mu.Lock()
	m.blobs[bucket+"/"+key] = memBlob{data: data, metadata: metadata}
	m.mu.Unlock()
}

// DeleteBlob removes a blob if present.
func (m *MemoryBlobStore) DeleteBlob(bucket, key string) {
	m.mu.Lock()
	delete(m.blobs, bucket+"/"+key)
	m.mu.Unlock()
}

// Stat implements BlobStore.
func (m *MemoryBlobStore) Stat(_ context.Context, bucket, key string) (BlobInfo, error) {
	m.mu.RLock()
	b, ok := m.blobs[bucket+"/"+key]
	m.mu.RUnlock()
	if !ok {
		return BlobInfo{}, ErrBlobNotFound
	}
	return BlobInfo{Key: key, Size: int64(len(b.data)), Metadata: b.metadata}, nil
}

// Open implements BlobStore.
func (m *MemoryBlobStore) Open(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	m.mu.RLock()
	b, ok := m.blobs[bucket+"/"+key]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrBlobNotFound
	}
	data := make([]byte, len(b.data))
	copy(data, b.data)
	return io.NopCloser(bytes.NewReader(data)), nil
}

// ReadRange implements BlobStore. Ranges past the end of the blob return
// the available bytes.
func (m *MemoryBlobStore) ReadRange(_ context.Context, bucket, key string, offset, length int64) ([]byte, error) {
	m.mu.RLock()
	b, ok := m.blobs[bucket+"/"+key]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrBlobNotFound
	}
	if offset < 0 || offset >= int64(len(b.data)) {
		return []byte{}, nil
	}
	end := offset + length
	if end > int64(len(b.data)) {
		end = int64(len(b.data))
	}
	data := make([]byte, end-offset)
	copy(data, b.data[offset:end])
	return data, nil
}
