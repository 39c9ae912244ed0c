package health

import (
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sakurayuki-A/stardriver/internal/errclass"
)

func TestRecordSuccessAndError(t *testing.T) {
	m := New()
	m.RecordSuccess()
	m.RecordSuccess()
	m.RecordError(errclass.KindTimeout)

	assert.Equal(t, int64(3), m.TotalRequests())
	assert.Equal(t, int64(1), m.TotalErrors())
	assert.Equal(t, 1, m.LiveErrorCount())
}

func TestShouldResetPoolThreshold(t *testing.T) {
	m := New()
	for i := 0; i < unhealthyErrCount-1; i++ {
		m.RecordError(errclass.KindServerStatus5xx)
	}
	require.False(t, m.ShouldResetPool(), "below threshold must not trip")

	m.RecordError(errclass.KindServerStatus5xx)
	assert.True(t, m.ShouldResetPool(), "at threshold must trip")
}

func TestShouldResetPoolCooldown(t *testing.T) {
	m := New()
	for i := 0; i < unhealthyErrCount; i++ {
		m.RecordError(errclass.KindServerStatus5xx)
	}
	require.True(t, m.ShouldResetPool())
	assert.False(t, m.ShouldResetPool(), "must not fire again inside the cooldown window")
}

func TestWindowExpiry(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		m := New()
		for i := 0; i < unhealthyErrCount; i++ {
			m.RecordError(errclass.KindTimeout)
		}
		require.Equal(t, unhealthyErrCount, m.LiveErrorCount())

		time.Sleep(windowDuration + time.Second)
		synctest.Wait()

		assert.Equal(t, 0, m.LiveErrorCount(), "entries older than 5 minutes must be expired")
	})
}

func TestMetricsRegistryGathers(t *testing.T) {
	m := New()
	m.RecordSuccess()
	m.RecordError(errclass.KindTimeout)

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
