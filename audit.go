package goRecover

import "github.com/MrEthical07/goRecover/internal/audit"

type (
	// AuditEvent is one record emitted by the engine. Codes and passwords
	// never appear in it.
	AuditEvent = audit.Event

	// AuditSink receives events from the engine's dispatcher goroutine.
	AuditSink = audit.Sink

	// NoOpAuditSink discards events.
	NoOpAuditSink = audit.NoOpSink

	// AuditChannelSink buffers events on a channel; see NewChannelAuditSink.
	AuditChannelSink = audit.ChannelSink
)

// Built-in sinks.
var (
	NewZapAuditSink        = audit.NewZapSink
	NewJSONWriterAuditSink = audit.NewJSONWriterSink
	NewChannelAuditSink    = audit.NewChannelSink
)
