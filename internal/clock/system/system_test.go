package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNowIsUTCMicroseconds(t *testing.T) {
	t.Parallel()

	before := time.Now().Add(-time.Second)
	got := New().Now()
	after := time.Now().Add(time.Second)

	require.Equal(t, time.UTC, got.Location())
	assert.Zero(t, got.Nanosecond()%int(time.Microsecond))
	assert.True(t, got.After(before) && got.Before(after), "got %v outside [%v, %v]", got, before, after)
}

func TestNowIsNonDecreasing(t *testing.T) {
	t.Parallel()

	clk := New()
	prev := clk.Now()
	for i := 0; i < 100; i++ {
		next := clk.Now()
		require.False(t, next.Before(prev), "%v before %v", next, prev)
		prev = next
	}
}
