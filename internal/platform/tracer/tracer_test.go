package tracer_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zynx/internal/platform/tracer"
)

func TestNoopTracer(t *testing.T) {
	tr := tracer.NewNoop()
	ctx := context.Background()

	newCtx, span := tr.Start(ctx, "pdpa.create_consent", tracer.String("purpose", "analytics"))
	assert.Equal(t, ctx, newCtx)
	require.NotNil(t, span)

	span.SetAttributes(tracer.Bool("valid", true))
	span.AddEvent("audit.appended", tracer.Int("count", 1))
	span.End(errors.New("boom"))
}

func TestOTelTracer_GlobalProviderDoesNotPanic(t *testing.T) {
	tr := tracer.NewOTel("zynx/test")
	ctx, span := tr.Start(context.Background(), "pdpa.cleanup", tracer.Int("removed", 2))
	require.NotNil(t, ctx)
	span.SetAttributes(tracer.String("k", "v"), tracer.Duration("elapsed", time.Second))
	span.End(nil)
}

func TestAttributeConstructors(t *testing.T) {
	assert.Equal(t, tracer.Attribute{Key: "k", Value: "v"}, tracer.String("k", "v"))
	assert.Equal(t, tracer.Attribute{Key: "b", Value: true}, tracer.Bool("b", true))
	assert.Equal(t, tracer.Attribute{Key: "n", Value: int64(3)}, tracer.Int("n", 3))
	assert.Equal(t, tracer.Attribute{Key: "d", Value: int64(150)}, tracer.Duration("d", 150*time.Millisecond))
}
