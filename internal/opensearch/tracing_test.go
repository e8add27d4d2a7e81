package opensearch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/me/weaver/internal/tracing"
	"github.com/me/weaver/pkg/model"
)

func TestQueryRecordsSpans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := tracing.NewProvider(sdktrace.WithSpanProcessor(sr))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { tp.Shutdown(context.Background()) })

	c := newCatalog(t, 6, 4)
	links, err := newTestEngine(c, 100).Query(context.Background(), c.osdd(), Params{Collection: sentinel2, MaxOccurs: model.Unbounded})
	require.NoError(t, err)
	require.Len(t, links, 6)

	var query sdktrace.ReadOnlySpan
	var pages []sdktrace.ReadOnlySpan
	for _, s := range sr.Ended() {
		switch s.Name() {
		case "opensearch.Query":
			query = s
		case "opensearch.Page":
			pages = append(pages, s)
		}
	}
	require.NotNil(t, query, "query span recorded")
	require.Len(t, pages, 2)
	for _, p := range pages {
		assert.Equal(t, query.SpanContext().SpanID(), p.Parent().SpanID())
	}
	attrs := map[string]any{}
	for _, kv := range query.Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	assert.Equal(t, sentinel2, attrs["opensearch.collection"])
	assert.Equal(t, int64(6), attrs["opensearch.links"])
}
