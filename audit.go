package ticketauth

import (
	"io"

	internalaudit "github.com/MrEthical07/ticketauth/internal/audit"
	"go.uber.org/zap"
)

type (
	// NoOpSink drops every event.
	NoOpSink = internalaudit.NoOpSink
	// ChannelSink buffers events in a channel for the caller to drain.
	ChannelSink = internalaudit.ChannelSink
	// JSONWriterSink writes one JSON object per line.
	JSONWriterSink = internalaudit.JSONWriterSink
	// ZapSink logs events through zap.
	ZapSink = internalaudit.ZapSink
)

func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

func NewZapSink(logger *zap.Logger) *ZapSink {
	return internalaudit.NewZapSink(logger)
}
