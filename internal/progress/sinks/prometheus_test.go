package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/showtimes-crawler/internal/progress"
)

// TestPrometheusSinkRecordsTaskGauges ensures gauges follow task changes.
func TestPrometheusSinkRecordsTaskGauges(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now()
	batch := []progress.Event{
		{TS: now, Stage: progress.StageTaskAdded, Task: "workOnCinema", Total: 4, Weight: 5, Aggregate: progress.Info{Total: 20}},
		{TS: now, Stage: progress.StageTaskStep, Task: "workOnCinema", Completed: 1, Total: 4, Weight: 5, Aggregate: progress.Info{Completed: 5, Total: 20}},
		{TS: now, Stage: progress.StageTaskAdded, Task: "placeholder", Total: 10, Weight: 1},
		{TS: now, Stage: progress.StageTaskRemoved, Task: "placeholder", Total: 10, Weight: 1, Aggregate: progress.Info{Completed: 5, Total: 20}},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.InDelta(t, 1.0, testutil.ToFloat64(sink.taskCompleted.WithLabelValues("workOnCinema")), 1e-9)
	require.InDelta(t, 4.0, testutil.ToFloat64(sink.taskTotal.WithLabelValues("workOnCinema")), 1e-9)
	require.InDelta(t, 0.25, testutil.ToFloat64(sink.ratio), 1e-9)
	require.InDelta(t, 2.0, testutil.ToFloat64(sink.changes.WithLabelValues(string(progress.StageTaskAdded))), 1e-9)
	require.Equal(t, 1, testutil.CollectAndCount(sink.taskTotal, "showtimes_task_total_steps"))
}

// TestPrometheusSinkDuplicateRegistration surfaces registry conflicts.
func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}

// TestLogSinkWritesDebugEntries checks the structured fields.
func TestLogSinkWritesDebugEntries(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	sink := NewLogSink(zap.New(core))
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{{
		RunID: "run-1", TS: time.Now(), Stage: progress.StageTaskStep, Task: "crawl", Completed: 1, Total: 2,
		Aggregate: progress.Info{Completed: 1, Total: 2},
	}}))
	require.NoError(t, sink.Close(context.Background()))

	entries := logs.FilterMessage("progress").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, "crawl", fields["task"])
	require.Equal(t, "1/2 ≈ 50%", fields["aggregate"])
}
