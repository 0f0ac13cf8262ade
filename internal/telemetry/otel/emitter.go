package otel

import (
	"context"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// Event is a structured audit event: a verification outcome or a sweep
// revocation, with just enough identity to trace it later.
type Event struct {
	Type    string // e.g. "verification.committed", "sweep.revoked"
	GuildID string
	UserID  string
	Alias   string
	Reason  string
	At      time.Time
}

// EventEmitter records audit events. Implementations are best-effort;
// emission never influences command outcomes.
type EventEmitter interface {
	Emit(ctx context.Context, event Event)
}

// NewEventEmitter returns an EventEmitter that sends events as OTel log
// records via the given LoggerProvider. If provider is nil, returns a
// no-op emitter.
func NewEventEmitter(provider *sdklog.LoggerProvider) EventEmitter {
	if provider == nil {
		return noopEmitter{}
	}
	return &otelEmitter{logger: provider.Logger("corpverifier.audit")}
}

type noopEmitter struct{}

func (noopEmitter) Emit(context.Context, Event) {}

type otelEmitter struct {
	logger otellog.Logger
}

func (e *otelEmitter) Emit(ctx context.Context, event Event) {
	rec := otellog.Record{}
	rec.SetBody(otellog.StringValue(event.Type))
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	rec.SetTimestamp(event.At)
	if event.GuildID != "" {
		rec.AddAttributes(otellog.String("guild_id", event.GuildID))
	}
	if event.UserID != "" {
		rec.AddAttributes(otellog.String("user_id", event.UserID))
	}
	if event.Alias != "" {
		rec.AddAttributes(otellog.String("alias", event.Alias))
	}
	if event.Reason != "" {
		rec.AddAttributes(otellog.String("reason", event.Reason))
	}
	e.logger.Emit(ctx, rec)
}
