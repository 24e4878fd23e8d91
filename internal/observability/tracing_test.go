package observability

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/oggyb/tubematch/internal/config"
)

func TestInitTracing_ExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	cfg := &config.Config{}
	cfg.App.ENV = "test"

	shutdown, err := initTracing(cfg, "tubematch-test", &buf, nil)
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "unit-span")
	span.End()

	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, buf.String(), "unit-span")
	assert.Contains(t, buf.String(), "tubematch-test")
}

func TestInitTracing_NoExporter(t *testing.T) {
	shutdown, err := InitTracing(nil, "tubematch-test", nil)
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}
