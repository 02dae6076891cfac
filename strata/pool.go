package strata

import "sync"

// payloadPool recycles entry payload buffers between reads. A read that
// fails part-way releases everything it materialized, so failed calls leave
// no live payloads behind.
var payloadPool = sync.Pool{
	New: func() any {
		b := make([]byte, 0, 4096)
		return &b
	},
}

func getPayload(n int) []byte {
	p := payloadPool.Get().(*[]byte)
	if cap(*p) >= n {
		return (*p)[:n]
	}
	payloadPool.Put(p)
	return make([]byte, n)
}

func putPayload(buf []byte) {
	if cap(buf) == 0 {
		return
	}
	buf = buf[:0]
	payloadPool.Put(&buf)
}
