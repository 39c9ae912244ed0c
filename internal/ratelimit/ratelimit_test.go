package ratelimit

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReaderLimitsThroughput(t *testing.T) {
	data := make([]byte, 100*1024) // 100KB
	for i := range data {
		data[i] = byte(i % 256)
	}

	// 50KB/s cap: reading 100KB should take ~1s once the initial bucket drains.
	limiter := NewLimiter(50 * 1024)
	r := NewReader(bytes.NewReader(data), limiter)

	start := time.Now()
	buf, err := io.ReadAll(r)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, data, buf)
	assert.GreaterOrEqual(t, elapsed, 1*time.Second)
}

func TestReaderPreservesData(t *testing.T) {
	data := []byte("hello, world!")
	limiter := NewLimiter(1024 * 1024) // fast enough to not slow the test
	r := NewReader(bytes.NewReader(data), limiter)

	buf, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, data, buf)
}

func TestReaderReportsEOF(t *testing.T) {
	data := []byte("short")
	limiter := NewLimiter(1024 * 1024)
	r := NewReader(bytes.NewReader(data), limiter)

	buf := make([]byte, 1024)
	n, err := r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)

	n, err = r.Read(buf)
	assert.Equal(t, io.EOF, err)
	assert.Zero(t, n)
}

func TestSharedLimiterAcrossReaders(t *testing.T) {
	// Two readers sharing a 50KB/s limiter, each reading 50KB: combined
	// throughput is still capped by the one shared bucket.
	limiter := NewLimiter(50 * 1024)

	data1 := make([]byte, 50*1024)
	data2 := make([]byte, 50*1024)

	r1 := NewReader(bytes.NewReader(data1), limiter)
	r2 := NewReader(bytes.NewReader(data2), limiter)

	start := time.Now()
	_, err := io.ReadAll(r1)
	require.NoError(t, err)
	_, err = io.ReadAll(r2)
	require.NoError(t, err)
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 1*time.Second)
}
