package errclass

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Sakurayuki-A/stardriver/internal/manifestclient"
)

func TestClassifyForbidden(t *testing.T) {
	err := &manifestclient.ForbiddenError{URL: "https://example.com/list"}
	assert.Equal(t, KindForbidden, Classify(context.Background(), err))
	assert.False(t, KindForbidden.Retryable())
}

func TestClassifyStatus(t *testing.T) {
	assert.Equal(t, KindServerStatus5xx, Classify(context.Background(), &manifestclient.StatusError{StatusCode: 503}))
	assert.Equal(t, KindClientStatus4xx, Classify(context.Background(), &manifestclient.StatusError{StatusCode: 404}))
}

func TestClassifyDigestMismatch(t *testing.T) {
	err := MarkDigestMismatch(errors.New("md5 mismatch"))
	assert.Equal(t, KindDigestMismatch, Classify(context.Background(), err))
	assert.Equal(t, 500*time.Millisecond, KindDigestMismatch.Backoff())
}

func TestClassifyIOError(t *testing.T) {
	err := MarkIOError(errors.New("disk full"))
	assert.Equal(t, KindIOError, Classify(context.Background(), err))
}

func TestClassifyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, KindCancelled, Classify(ctx, ctx.Err()))
	assert.False(t, KindCancelled.Retryable())
}

func TestClassifyManifestParseError(t *testing.T) {
	err := &manifestclient.ManifestParseError{Missing: "PatchURL"}
	assert.Equal(t, KindManifestParseError, Classify(context.Background(), err))
	assert.False(t, KindManifestParseError.Retryable())
}

func TestClassifyUnhandledFallback(t *testing.T) {
	assert.Equal(t, KindUnhandled, Classify(context.Background(), errors.New("something weird")))
}

func TestBackoffTable(t *testing.T) {
	cases := map[Kind]time.Duration{
		KindConnectionReset: 500 * time.Millisecond,
		KindServerStatus5xx: time.Second,
		KindOtherSocket:     time.Second,
		KindTimeout:         time.Second,
		KindUnhandled:       time.Second,
		KindClientStatus4xx: 2 * time.Second,
		KindDigestMismatch:  500 * time.Millisecond,
		KindIOError:         500 * time.Millisecond,
	}
	for kind, want := range cases {
		assert.Equal(t, want, kind.Backoff(), kind.String())
	}
}
