// Package bufpool provides the shared, thread-safe buffer pool the
// fetch-verify-install pipeline rents chunk buffers from (spec §4.6,
// §5: "every rented buffer is returned to the shared pool on all exit
// paths").
package bufpool

import "sync"

// ChunkSize is the read size used by the pipeline (spec §4.6: "read up to
// 64 KiB at a time").
const ChunkSize = 64 * 1024

// MinCapacity is the floor spec §4.6 requires ("buffer is >= 32 KiB").
const MinCapacity = 32 * 1024

var pool = sync.Pool{
	New: func() any {
		b := make([]byte, ChunkSize)
		return &b
	},
}

// Get rents a buffer of at least ChunkSize bytes.
func Get() *[]byte {
	buf := pool.Get().(*[]byte)
	if cap(*buf) < MinCapacity {
		b := make([]byte, ChunkSize)
		buf = &b
	}
	*buf = (*buf)[:ChunkSize]
	return buf
}

// Put returns a buffer to the pool. Safe to call on every exit path,
// including after errors.
func Put(buf *[]byte) {
	pool.Put(buf)
}
