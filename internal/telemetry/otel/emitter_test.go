package otel

import (
	"context"
	"sync"
	"testing"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

type captureProcessor struct {
	mu      sync.Mutex
	records []sdklog.Record
}

func (p *captureProcessor) OnEmit(ctx context.Context, record *sdklog.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records = append(p.records, *record)
	return nil
}

func (p *captureProcessor) Shutdown(ctx context.Context) error   { return nil }
func (p *captureProcessor) ForceFlush(ctx context.Context) error { return nil }

func (p *captureProcessor) Enabled(ctx context.Context, param sdklog.EnabledParameters) bool {
	return true
}

func TestEventEmitter_NilProviderIsNoop(t *testing.T) {
	e := NewEventEmitter(nil)
	e.Emit(context.Background(), Event{Type: "verification.committed"})
}

func TestEventEmitter_RecordsAttributes(t *testing.T) {
	proc := &captureProcessor{}
	provider := sdklog.NewLoggerProvider(sdklog.WithProcessor(proc))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	e := NewEventEmitter(provider)
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	e.Emit(context.Background(), Event{
		Type:    "sweep.revoked",
		GuildID: "g1",
		UserID:  "u1",
		Alias:   "jdoe",
		Reason:  "identity_gone",
		At:      at,
	})

	proc.mu.Lock()
	defer proc.mu.Unlock()
	if len(proc.records) != 1 {
		t.Fatalf("records = %d, want 1", len(proc.records))
	}
	rec := proc.records[0]
	if rec.Body().AsString() != "sweep.revoked" {
		t.Errorf("body = %q", rec.Body().AsString())
	}
	if !rec.Timestamp().Equal(at) {
		t.Errorf("timestamp = %v, want %v", rec.Timestamp(), at)
	}
	attrs := map[string]string{}
	rec.WalkAttributes(func(kv otellog.KeyValue) bool {
		attrs[kv.Key] = kv.Value.AsString()
		return true
	})
	for key, want := range map[string]string{
		"guild_id": "g1", "user_id": "u1", "alias": "jdoe", "reason": "identity_gone",
	} {
		if attrs[key] != want {
			t.Errorf("attr %s = %q, want %q", key, attrs[key], want)
		}
	}
}
