package prometheus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Swind/go-sim-runner/core"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestMetricsExporter_RecordMethods(t *testing.T) {
	reg := prom.NewRegistry()
	exporter, err := NewMetricsExporter("simrunner", reg, ExporterOptions{})
	if err != nil {
		t.Fatalf("NewMetricsExporter failed: %v", err)
	}

	exporter.RecordTaskDuration("engine-a", 250*time.Millisecond)
	exporter.RecordTaskPanic("engine-a", "panic")
	exporter.RecordTaskFailure("engine-a")
	exporter.RecordQueueDepth("engine-a", 7)
	exporter.RecordTaskRejected("engine-a", "shutdown")
	exporter.RecordSuspension("engine-a")
	exporter.RecordSuspension("engine-a")

	panicTotal := testutil.ToFloat64(exporter.taskPanicTotal.WithLabelValues("engine-a"))
	if panicTotal != 1 {
		t.Fatalf("panic total = %v, want 1", panicTotal)
	}

	failures := testutil.ToFloat64(exporter.taskFailureTotal.WithLabelValues("engine-a"))
	if failures != 1 {
		t.Fatalf("failure total = %v, want 1", failures)
	}

	queueDepth := testutil.ToFloat64(exporter.queueDepth.WithLabelValues("engine-a"))
	if queueDepth != 7 {
		t.Fatalf("queue depth = %v, want 7", queueDepth)
	}

	rejected := testutil.ToFloat64(exporter.taskRejectedTotal.WithLabelValues("engine-a", "shutdown"))
	if rejected != 1 {
		t.Fatalf("rejected total = %v, want 1", rejected)
	}

	suspensions := testutil.ToFloat64(exporter.suspensionTotal.WithLabelValues("engine-a"))
	if suspensions != 2 {
		t.Fatalf("suspension total = %v, want 2", suspensions)
	}

	histCount, err := histogramSampleCount(exporter.taskDurationSeconds.WithLabelValues("engine-a"))
	if err != nil {
		t.Fatalf("histogramSampleCount failed: %v", err)
	}
	if histCount != 1 {
		t.Fatalf("duration sample count = %d, want 1", histCount)
	}
}

func TestMetricsExporter_AlreadyRegisteredReuse(t *testing.T) {
	reg := prom.NewRegistry()
	first, err := NewMetricsExporter("simrunner", reg, ExporterOptions{})
	if err != nil {
		t.Fatalf("first NewMetricsExporter failed: %v", err)
	}
	second, err := NewMetricsExporter("simrunner", reg, ExporterOptions{})
	if err != nil {
		t.Fatalf("second NewMetricsExporter failed: %v", err)
	}

	first.RecordTaskPanic("engine-a", nil)
	second.RecordTaskPanic("engine-a", nil)

	got := testutil.ToFloat64(first.taskPanicTotal.WithLabelValues("engine-a"))
	if got != 2 {
		t.Fatalf("shared panic counter = %v, want 2", got)
	}
}

func TestMetricsExporter_WiredIntoEngine(t *testing.T) {
	reg := prom.NewRegistry()
	exporter, err := NewMetricsExporter("simrunner", reg, ExporterOptions{})
	if err != nil {
		t.Fatalf("NewMetricsExporter failed: %v", err)
	}
	engine := core.NewEngineWithConfig(2, &core.EngineConfig{
		Name:    "wired",
		Logger:  core.NewNoOpLogger(),
		Metrics: exporter,
	})

	_ = engine.SubmitFunc("ok", func(ctx context.Context) error { return nil })
	_ = engine.SubmitFunc("fails", func(ctx context.Context) error { return errors.New("nope") })
	engine.AwaitQuiescenceTimeout(time.Second)
	engine.Shutdown()
	engine.AwaitTermination(time.Second)
	_ = engine.SubmitFunc("late", func(ctx context.Context) error { return nil })

	if got := testutil.ToFloat64(exporter.taskFailureTotal.WithLabelValues("wired")); got != 1 {
		t.Fatalf("failure total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(exporter.taskRejectedTotal.WithLabelValues("wired", "shutdown")); got != 1 {
		t.Fatalf("rejected total = %v, want 1", got)
	}
	histCount, err := histogramSampleCount(exporter.taskDurationSeconds.WithLabelValues("wired"))
	if err != nil {
		t.Fatalf("histogramSampleCount failed: %v", err)
	}
	if histCount != 2 {
		t.Fatalf("duration sample count = %d, want 2", histCount)
	}
}

func histogramSampleCount(observer prom.Observer) (uint64, error) {
	collector, ok := observer.(prom.Collector)
	if !ok {
		return 0, nil
	}

	metricCh := make(chan prom.Metric, 1)
	collector.Collect(metricCh)
	close(metricCh)
	for metric := range metricCh {
		msg := &dto.Metric{}
		if err := metric.Write(msg); err != nil {
			return 0, err
		}
		if msg.Histogram != nil {
			return msg.Histogram.GetSampleCount(), nil
		}
	}
	return 0, nil
}
