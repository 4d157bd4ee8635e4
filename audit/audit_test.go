package audit

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapSink_Record(t *testing.T) {
	t.Parallel()
	core, logs := observer.New(zap.InfoLevel)
	sink := NewZapSink(zap.New(core))

	err := sink.Record(context.Background(), Event{
		Type:        EventKeyRotation,
		Actor:       "system",
		Severity:    SeverityInfo,
		Description: "data encryption keys rotated",
		Metadata:    map[string]string{"keyCount": "3"},
		At:          time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("entries = %d", len(entries))
	}
	e := entries[0]
	if e.Message != "data encryption keys rotated" {
		t.Fatalf("message = %q", e.Message)
	}
	fields := e.ContextMap()
	if fields["type"] != EventKeyRotation || fields["keyCount"] != "3" {
		t.Fatalf("fields = %v", fields)
	}
}

func TestZapSink_SeverityLevels(t *testing.T) {
	t.Parallel()
	core, logs := observer.New(zap.DebugLevel)
	sink := NewZapSink(zap.New(core))

	for _, sev := range []Severity{SeverityInfo, SeverityWarning, SeverityCritical} {
		_ = sink.Record(context.Background(), Event{Type: EventKeyExport, Severity: sev, Description: string(sev)})
	}

	entries := logs.All()
	if len(entries) != 3 {
		t.Fatalf("entries = %d", len(entries))
	}
	if entries[0].Level != zap.InfoLevel || entries[1].Level != zap.WarnLevel || entries[2].Level != zap.ErrorLevel {
		t.Fatalf("levels = %v %v %v", entries[0].Level, entries[1].Level, entries[2].Level)
	}
}

func TestNopSink(t *testing.T) {
	t.Parallel()
	if err := (NopSink{}).Record(context.Background(), Event{Type: EventKeyImport}); err != nil {
		t.Fatalf("NopSink must never fail: %v", err)
	}
}
