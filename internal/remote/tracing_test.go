package remote

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/me/weaver/internal/tracing"
)

func TestDispatcherRecordsSpans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := tracing.NewProvider(sdktrace.WithSpanProcessor(sr))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { tp.Shutdown(context.Background()) })

	f := newFakeADES(t)
	f.deployed = true
	d := newTestDispatcher(t.TempDir())
	_, err := d.Run(context.Background(), StepRequest{
		Remote:    newTestADES(f),
		Outputs:   []ExpectedOutput{{ID: "output"}},
		OutputDir: t.TempDir(),
	})
	require.NoError(t, err)

	f.mu.Lock()
	f.statuses = []string{"failed"}
	f.polls = 0
	f.failMessage = "out of memory"
	f.mu.Unlock()
	_, err = d.Run(context.Background(), StepRequest{
		Remote:    newTestADES(f),
		Outputs:   []ExpectedOutput{{ID: "output"}},
		OutputDir: t.TempDir(),
	})
	require.Error(t, err)

	var runs []sdktrace.ReadOnlySpan
	for _, s := range sr.Ended() {
		if s.Name() == "remote.Run" {
			runs = append(runs, s)
		}
	}
	require.Len(t, runs, 2)
	assert.Equal(t, codes.Unset, runs[0].Status().Code)
	assert.Equal(t, codes.Error, runs[1].Status().Code)
	assert.Contains(t, runs[1].Status().Description, "out of memory")

	var location string
	for _, kv := range runs[0].Attributes() {
		if kv.Key == "remote.job" {
			location = kv.Value.AsString()
		}
	}
	assert.Equal(t, f.srv.URL+"/jobs/j1", location)
}
