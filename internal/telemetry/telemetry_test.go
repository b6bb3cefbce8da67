package telemetry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// countingSource counts acquisitions and optionally blocks until released.
type countingSource struct {
	calls   atomic.Int64
	release chan struct{}
	err     error
}

func (s *countingSource) Location(ctx context.Context) (*Location, error) {
	s.calls.Add(1)
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return &Location{
		Lat:       34.05,
		Lng:       -118.25,
		Accuracy:  5,
		Timestamp: 1700000000000,
	}, nil
}

func TestTelemetryNoSource(t *testing.T) {
	service := NewService(nil, "device-1", time.Second, zap.NewNop())
	_, err := service.Telemetry(context.Background())
	assert.Error(t, err)
}

func TestTelemetryConvertsLocation(t *testing.T) {
	service := NewService(&countingSource{}, "device-1", time.Second, zap.NewNop())

	fix, err := service.Telemetry(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "device-1", fix.DeviceID)
	assert.Equal(t, int64(1700000000000), fix.Timestamp)
	require.NotNil(t, fix.GPS)
	assert.Equal(t, 34.05, fix.GPS.Lat)
	assert.Equal(t, 5.0, fix.GPS.Accuracy)
	// Unreported optional fields stay zero.
	assert.Zero(t, fix.GPS.Heading)
}

func TestTelemetrySharesInFlightRequest(t *testing.T) {
	source := &countingSource{release: make(chan struct{})}
	service := NewService(source, "device-1", time.Second, zap.NewNop())

	const callers = 5
	var wg sync.WaitGroup
	results := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = service.Telemetry(context.Background())
		}(i)
	}

	// Give every caller time to join the pending request, then let the
	// single acquisition finish.
	time.Sleep(20 * time.Millisecond)
	close(source.release)
	wg.Wait()

	for i, err := range results {
		assert.NoError(t, err, "caller %d", i)
	}
	assert.Equal(t, int64(1), source.calls.Load())
}

func TestTelemetryNewRequestAfterCacheWindow(t *testing.T) {
	source := &countingSource{}
	service := NewService(source, "device-1", 10*time.Millisecond, zap.NewNop())

	_, err := service.Telemetry(context.Background())
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	_, err = service.Telemetry(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), source.calls.Load())
}

func TestTelemetrySharedFailure(t *testing.T) {
	source := &countingSource{err: errors.New("gps unavailable")}
	service := NewService(source, "device-1", time.Second, zap.NewNop())

	_, err := service.Telemetry(context.Background())
	assert.Error(t, err)
}

func TestTelemetryCallerContextCancellation(t *testing.T) {
	source := &countingSource{release: make(chan struct{})}
	service := NewService(source, "device-1", time.Second, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := service.Telemetry(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	close(source.release)
}
