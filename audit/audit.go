// Package audit declares the security/compliance event sink the engine
// reports to, plus a zap-backed reference sink.
package audit

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Severity grades an audit event.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event types emitted by the engine.
const (
	EventKeyRotation      = "key_rotation"
	EventKeyExport        = "key_export"
	EventKeyImport        = "key_import"
	EventManualResolution = "manual_conflict_resolution"
)

// Event is one structured security/compliance record.
type Event struct {
	Type        string
	Actor       string
	Severity    Severity
	Description string
	Metadata    map[string]string
	At          time.Time
}

// Sink accepts audit events. Record is called synchronously: the engine
// does not consider an operation complete until Record returns.
type Sink interface {
	Record(ctx context.Context, e Event) error
}

// ZapSink writes audit events to a structured zap logger. Storage and
// transport of the log stream are the application's concern.
type ZapSink struct {
	log *zap.Logger
}

// NewZapSink constructs a sink over the given logger.
func NewZapSink(log *zap.Logger) *ZapSink {
	if log == nil {
		log = zap.NewNop()
	}
	return &ZapSink{log: log}
}

// Record logs the event at a level matching its severity.
func (s *ZapSink) Record(_ context.Context, e Event) error {
	fields := []zap.Field{
		zap.String("type", e.Type),
		zap.String("actor", e.Actor),
		zap.String("severity", string(e.Severity)),
		zap.Time("at", e.At),
	}
	for k, v := range e.Metadata {
		fields = append(fields, zap.String(k, v))
	}
	switch e.Severity {
	case SeverityCritical:
		s.log.Error(e.Description, fields...)
	case SeverityWarning:
		s.log.Warn(e.Description, fields...)
	default:
		s.log.Info(e.Description, fields...)
	}
	return nil
}

// NopSink discards every event.
type NopSink struct{}

// Record implements Sink.
func (NopSink) Record(context.Context, Event) error { return nil }
