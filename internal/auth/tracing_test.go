// AngelaMos | 2026
// tracing_test.go

package auth

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/carterperez-dev/templates/auth-service/internal/core"
)

func spanOutcome(span sdktrace.ReadOnlySpan) string {
	for _, kv := range span.Attributes() {
		if kv.Key == attrOutcome {
			return kv.Value.AsString()
		}
	}
	return ""
}

func lastSpan(t *testing.T, rec *tracetest.SpanRecorder, name string) sdktrace.ReadOnlySpan {
	t.Helper()

	ended := rec.Ended()
	for i := len(ended) - 1; i >= 0; i-- {
		if ended[i].Name() == name {
			return ended[i]
		}
	}
	t.Fatalf("no ended span named %s", name)
	return nil
}

// The package tracer binds to the first global provider, so every span
// assertion lives in this one test.
func TestEngineSpansRecordOutcome(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))

	f := newEngineFixture(t)
	ctx := context.Background()

	t0, err := f.engine.Issue(ctx, "user-1", "")
	require.NoError(t, err)
	assert.Equal(t, outcomeOK, spanOutcome(lastSpan(t, rec, "refresh.issue")))

	_, err = f.engine.Rotate(ctx, "never-issued")
	require.ErrorIs(t, err, ErrInvalidRefreshToken)
	rejected := lastSpan(t, rec, "refresh.rotate")
	assert.Equal(t, outcomeRejected, spanOutcome(rejected))
	assert.Equal(t, codes.Unset, rejected.Status().Code)

	_, err = f.engine.Rotate(ctx, t0.Secret)
	require.NoError(t, err)

	_, err = f.engine.Rotate(ctx, t0.Secret)
	require.ErrorIs(t, err, ErrRefreshReuseDetected)

	reuse := lastSpan(t, rec, "refresh.rotate")
	assert.Equal(t, outcomeReuse, spanOutcome(reuse))
	assert.Contains(t, reuse.Attributes(), attrFamilyID.String(t0.Record.FamilyID))
	require.Len(t, reuse.Events(), 1)
	assert.Equal(t, "refresh.reuse_detected", reuse.Events()[0].Name)
	assert.Contains(t, reuse.Events()[0].Attributes, attrState.String(string(StateRotated)))

	cascade := lastSpan(t, rec, "refresh.revoke_family")
	assert.Equal(t, reuse.SpanContext().SpanID(), cascade.Parent().SpanID())
	assert.Contains(t, cascade.Attributes(), attribute.Int(string(attrRevoked), 1))

	broken := NewRotationEngine(
		failingRepo{err: fmt.Errorf("dial tcp: %w", core.ErrStoreUnavailable)},
		RotationConfig{RefreshTTL: testRefreshTTL},
		WithLogger(discardLogger()),
	)
	_, err = broken.Rotate(ctx, "anything")
	require.ErrorIs(t, err, core.ErrStoreUnavailable)

	failed := lastSpan(t, rec, "refresh.rotate")
	assert.Equal(t, outcomeError, spanOutcome(failed))
	assert.Equal(t, codes.Error, failed.Status().Code)
}
