package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/justapithecus/strata/strata"
)

func newTestStore(t *testing.T, cfg Config) (*Store, *MockS3Client) {
	t.Helper()
	client := NewMockS3Client()
	store, err := New(client, cfg)
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	return store, client
}

func TestNew_RequiresClient(t *testing.T) {
	if _, err := New(nil, Config{}); err == nil {
		t.Fatal("expected error for nil client")
	}
}

func TestStat(t *testing.T) {
	store, client := newTestStore(t, Config{})
	client.PutObjectBytes("ledger-7/index", make([]byte, 321), map[string]string{
		"strata-format-version": "1",
	})

	info, err := store.Stat(context.Background(), "cold", "ledger-7/index")
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if info.Size != 321 {
		t.Errorf("size = %d, want 321", info.Size)
	}
	if info.Key != "ledger-7/index" {
		t.Errorf("key = %q", info.Key)
	}
	if info.Metadata["strata-format-version"] != "1" {
		t.Errorf("metadata not surfaced: %v", info.Metadata)
	}
	if client.HeadObjectCalls != 1 {
		t.Errorf("HeadObject called %d times, want 1", client.HeadObjectCalls)
	}
}

func TestStat_NotFound(t *testing.T) {
	store, _ := newTestStore(t, Config{})
	_, err := store.Stat(context.Background(), "cold", "missing")
	if !errors.Is(err, strata.ErrBlobNotFound) {
		t.Fatalf("got %v, want ErrBlobNotFound", err)
	}
}

func TestOpen(t *testing.T) {
	store, client := newTestStore(t, Config{})
	want := []byte("index blob contents")
	client.PutObjectBytes("ledger-7/index", want, nil)

	rc, err := store.Open(context.Background(), "cold", "ledger-7/index")
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer rc.Close()

	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestOpen_NotFound(t *testing.T) {
	store, _ := newTestStore(t, Config{})
	_, err := store.Open(context.Background(), "cold", "missing")
	if !errors.Is(err, strata.ErrBlobNotFound) {
		t.Fatalf("got %v, want ErrBlobNotFound", err)
	}
}

func TestReadRange(t *testing.T) {
	data := []byte("0123456789abcdef")

	cases := []struct {
		name           string
		offset, length int64
		want           string
	}{
		{"interior", 4, 4, "4567"},
		{"from start", 0, 3, "012"},
		{"to exact end", 10, 6, "abcdef"},
		{"past end clamps", 10, 100, "abcdef"},
		{"zero length", 3, 0, ""},
		{"start beyond end", 100, 4, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store, client := newTestStore(t, Config{})
			client.PutObjectBytes("blob", data, nil)

			got, err := store.ReadRange(context.Background(), "cold", "blob", tc.offset, tc.length)
			if err != nil {
				t.Fatalf("range read failed: %v", err)
			}
			if string(got) != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestReadRange_InvalidArgs(t *testing.T) {
	store, _ := newTestStore(t, Config{})
	if _, err := store.ReadRange(context.Background(), "cold", "blob", -1, 4); err == nil {
		t.Error("negative offset must fail")
	}
	if _, err := store.ReadRange(context.Background(), "cold", "blob", 0, -4); err == nil {
		t.Error("negative length must fail")
	}
}

func TestReadRange_NotFound(t *testing.T) {
	store, _ := newTestStore(t, Config{})
	_, err := store.ReadRange(context.Background(), "cold", "missing", 0, 10)
	if !errors.Is(err, strata.ErrBlobNotFound) {
		t.Fatalf("got %v, want ErrBlobNotFound", err)
	}
}

func TestReadRange_TransportError(t *testing.T) {
	store, client := newTestStore(t, Config{})
	client.PutObjectBytes("blob", []byte("data"), nil)
	client.GetObjectErr = errors.New("dial tcp: connection refused")

	_, err := store.ReadRange(context.Background(), "cold", "blob", 0, 4)
	if err == nil || errors.Is(err, strata.ErrBlobNotFound) {
		t.Fatalf("transport error must not masquerade as not-found: %v", err)
	}
}

func TestKeyPrefix(t *testing.T) {
	store, client := newTestStore(t, Config{KeyPrefix: "tenants/acme"})
	client.PutObjectBytes("tenants/acme/ledger-7/data", []byte("payload"), nil)

	got, err := store.ReadRange(context.Background(), "cold", "ledger-7/data", 0, 7)
	if err != nil {
		t.Fatalf("prefixed read failed: %v", err)
	}
	if string(got) != "payload" {
		t.Errorf("got %q", got)
	}

	// Prefix applies to Stat and Open too.
	if _, err := store.Stat(context.Background(), "cold", "ledger-7/data"); err != nil {
		t.Errorf("prefixed stat failed: %v", err)
	}
	if _, err := store.Open(context.Background(), "cold", "ledger-7/data"); err != nil {
		t.Errorf("prefixed open failed: %v", err)
	}
}

func TestIsNotFound(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"NotFound code", &smithyAPIError{code: "NotFound"}, true},
		{"NoSuchKey code", &smithyAPIError{code: "NoSuchKey"}, true},
		{"404 code", &smithyAPIError{code: "404"}, true},
		{"other api error", &smithyAPIError{code: "SlowDown"}, false},
		{"plain error", errors.New("boom"), false},
		{"nil", nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := isNotFound(tc.err); got != tc.want {
				t.Errorf("isNotFound = %v, want %v", got, tc.want)
			}
		})
	}
}
