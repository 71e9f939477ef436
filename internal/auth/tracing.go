// AngelaMos | 2026
// tracing.go

package auth

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/carterperez-dev/templates/auth-service/internal/auth")

const (
	attrUserID   = attribute.Key("enduser.id")
	attrFamilyID = attribute.Key("refresh.family_id")
	attrTokenID  = attribute.Key("refresh.token_id")
	attrState    = attribute.Key("refresh.state")
	attrOutcome  = attribute.Key("refresh.outcome")
	attrRevoked  = attribute.Key("refresh.revoked")
)

const (
	outcomeOK       = "ok"
	outcomeRejected = "rejected"
	outcomeReuse    = "reuse"
	outcomeError    = "error"
)

func startSpan(
	ctx context.Context,
	op string,
	attrs ...attribute.KeyValue,
) (context.Context, trace.Span) {
	return tracer.Start(ctx, "refresh."+op, trace.WithAttributes(attrs...))
}

func familyAttrs(userID, familyID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attrUserID.String(userID),
		attrFamilyID.String(familyID),
	}
}

// endSpan records how an engine operation ended. Rejected and replayed
// secrets are expected traffic and leave the status unset; only failures
// of the engine itself mark the span as an error.
func endSpan(span trace.Span, err error) {
	switch {
	case err == nil:
		span.SetAttributes(attrOutcome.String(outcomeOK))
	case errors.Is(err, ErrRefreshReuseDetected):
		span.SetAttributes(attrOutcome.String(outcomeReuse))
	case errors.Is(err, ErrInvalidRefreshToken):
		span.SetAttributes(attrOutcome.String(outcomeRejected))
	default:
		span.SetAttributes(attrOutcome.String(outcomeError))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func recordReuse(ctx context.Context, token *RefreshToken, state TokenState) {
	trace.SpanFromContext(ctx).AddEvent("refresh.reuse_detected",
		trace.WithAttributes(
			attrTokenID.String(token.ID),
			attrState.String(string(state)),
		))
}
