package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

func newTestMeter(t *testing.T) *sdkmetric.MeterProvider {
	t.Helper()
	return sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
}

func TestNewMetricsBuildsAllInstruments(t *testing.T) {
	mp := newTestMeter(t)
	m, err := NewMetrics(mp.Meter("justpipe-test"), "demo")
	require.NoError(t, err)
	require.NotNil(t, m)
}

func TestMetricsSnapshotAccumulatesAcrossCalls(t *testing.T) {
	mp := newTestMeter(t)
	m, err := NewMetrics(mp.Meter("justpipe-test"), "demo")
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordSpawn(ctx)
	m.RecordSpawn(ctx)
	m.RecordStepDuration(ctx, 10*time.Millisecond, false)
	m.RecordStepDuration(ctx, 20*time.Millisecond, true)
	m.RecordBarrierWait(ctx, 5*time.Millisecond)
	m.RecordMapWorkerDelta(ctx, 3)
	m.RecordMapWorkerDelta(ctx, -1)
	m.RecordMapWorkerDelta(ctx, 2)

	snap := m.Snapshot(7)
	assert.Equal(t, int64(2), snap.TasksSpawned)
	assert.Equal(t, int64(1), snap.StepsSucceeded)
	assert.Equal(t, int64(1), snap.StepsFailed)
	assert.Equal(t, 30*time.Millisecond, snap.StepDurationTotal)
	assert.Equal(t, 5*time.Millisecond, snap.BarrierWaitTotal)
	assert.Equal(t, int64(7), snap.EventsPublished)
	assert.Equal(t, int64(4), snap.MapWorkerPeak, "peak must track the running high-water mark of net in-flight workers, not the final value")
}

func TestNilMetricsSnapshotIsSafe(t *testing.T) {
	var m *Metrics
	snap := m.Snapshot(3)
	assert.Equal(t, int64(3), snap.EventsPublished)

	m.RecordSpawn(context.Background())
	m.RecordStepDuration(context.Background(), time.Millisecond, false)
}
