package usage

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryMeterRecordAndUsage(t *testing.T) {
	m := NewMemoryMeter()
	ctx := context.Background()

	total, err := m.Usage(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)

	require.NoError(t, m.Record(ctx, 1, 120))
	require.NoError(t, m.Record(ctx, 1, 30))

	total, err = m.Usage(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(150), total)

	// other users unaffected
	total, err = m.Usage(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)
}

func TestMemoryMeterConcurrentIncrements(t *testing.T) {
	m := NewMemoryMeter()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Record(ctx, 7, 2)
		}()
	}
	wg.Wait()

	total, err := m.Usage(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(100), total)
}
