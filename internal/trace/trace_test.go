package trace

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"okx-tracker/internal/config"
)

func TestNew_DisabledUsesNoop(t *testing.T) {
	p, err := New(config.TracingConfig{Enabled: false}, nil)
	require.NoError(t, err)
	assert.False(t, p.Enabled())

	ctx, span := p.Tracer().Start(context.Background(), "noop")
	span.End()

	_, _, ok := Fields(ctx)
	assert.False(t, ok)
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNew_EnabledExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	p, err := New(config.TracingConfig{Enabled: true, ServiceName: "tracker-test"}, &buf)
	require.NoError(t, err)
	assert.True(t, p.Enabled())

	ctx, span := p.Tracer().Start(context.Background(), "snapshot.Refresh")
	traceID, spanID, ok := Fields(ctx)
	span.End()

	require.True(t, ok)
	assert.Len(t, traceID, 32)
	assert.Len(t, spanID, 16)

	require.NoError(t, p.Shutdown(context.Background()))
	assert.Contains(t, buf.String(), "snapshot.Refresh")
	assert.Contains(t, buf.String(), "tracker-test")
}

func TestNilProvider(t *testing.T) {
	var p *Provider
	assert.NotNil(t, p.Tracer())
	assert.False(t, p.Enabled())
	assert.NoError(t, p.Shutdown(context.Background()))
}
