package reactor

import "go.uber.org/zap"

// loggerOrNop returns l, or a no-op logger if l is nil, following
// jsonrpc2's defaultLogger = zap.NewNop() convention for an optional
// constructor-injected *zap.Logger.
func loggerOrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

func channelFields(ch Channel) []zap.Field {
	return []zap.Field{
		zap.Uint64("channel_id", uint64(ch.ID())),
		zap.Int("fd", ch.FD()),
		zap.Stringer("state", ch.State()),
	}
}
