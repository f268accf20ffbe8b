package tracing

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNewProvider_DisabledIsNoop(t *testing.T) {
	p, err := NewProvider(DefaultConfig())
	require.NoError(t, err)
	require.False(t, p.Enabled())

	_, span := p.Tracer().Start(context.Background(), "x")
	require.False(t, span.SpanContext().IsValid(), "no-op spans carry no ids")
	span.End()
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestNewProvider_Errors(t *testing.T) {
	_, err := NewProvider(Config{Enabled: true, Exporter: ExporterFile})
	require.ErrorContains(t, err, "file_path required")

	_, err = NewProvider(Config{Enabled: true, Exporter: "zipkin"})
	require.ErrorContains(t, err, `unsupported exporter "zipkin"`)
}

func TestNewProvider_FileExporterWritesSpans(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "traces.jsonl")
	p, err := NewProvider(Config{Enabled: true, Exporter: ExporterFile, FilePath: path, SampleRate: 1})
	require.NoError(t, err)
	require.True(t, p.Enabled())

	_, span := p.Tracer().Start(context.Background(), SpanBridgeRequest)
	span.SetAttributes(attribute.String(AttrBridgeOp, "snapshot"))
	span.End()
	require.NoError(t, p.Shutdown(context.Background()))

	recs := readRecords(t, path)
	require.Len(t, recs, 1)
	require.Equal(t, SpanBridgeRequest, recs[0].Name)
	require.Equal(t, "snapshot", recs[0].Attributes[AttrBridgeOp])
	require.Len(t, recs[0].TraceID, 32)
}

func TestFileExporter_RecordShape(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traces.jsonl")
	exp, err := NewFileExporter(path)
	require.NoError(t, err)

	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	stub := tracetest.SpanStub{
		Name:      SpanEventsLine,
		StartTime: start,
		EndTime:   start.Add(1500 * time.Microsecond),
		Status:    sdktrace.Status{Code: codes.Error, Description: "bad line"},
		Events:    []sdktrace.Event{{Name: "dropped", Time: start, Attributes: []attribute.KeyValue{attribute.Int("len", 9)}}},
	}
	require.NoError(t, exp.ExportSpans(context.Background(), []sdktrace.ReadOnlySpan{stub.Snapshot()}))
	require.NoError(t, exp.Shutdown(context.Background()))
	require.NoError(t, exp.Shutdown(context.Background()), "shutdown twice is fine")

	err = exp.ExportSpans(context.Background(), []sdktrace.ReadOnlySpan{stub.Snapshot()})
	require.True(t, errors.Is(err, os.ErrClosed))

	recs := readRecords(t, path)
	require.Len(t, recs, 1)
	rec := recs[0]
	require.Equal(t, "ERROR", rec.Status)
	require.Equal(t, "bad line", rec.StatusMsg)
	require.InDelta(t, 1.5, rec.DurationMs, 0.001)
	require.Empty(t, rec.ParentID)
	require.Len(t, rec.Events, 1)
	require.Equal(t, float64(9), rec.Events[0].Attributes["len"])
}

func TestFail(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))

	_, span := tp.Tracer("t").Start(context.Background(), "op")
	Fail(span, "not_found", errors.New("session x: not found"))
	span.End()

	ended := rec.Ended()
	require.Len(t, ended, 1)
	require.Equal(t, codes.Error, ended[0].Status().Code)
	require.Contains(t, ended[0].Attributes(), attribute.String(AttrErrorCode, "not_found"))
}

func readRecords(t *testing.T, path string) []SpanRecord {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var recs []SpanRecord
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec SpanRecord
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		recs = append(recs, rec)
	}
	require.NoError(t, sc.Err())
	return recs
}
