package auth

import "go.uber.org/zap"

type zapLogger struct {
	s *zap.SugaredLogger
}

// NewZapLogger adapts a zap logger to Logger. A nil logger discards output.
func NewZapLogger(l *zap.Logger) Logger {
	if l == nil {
		l = zap.NewNop()
	}
	return zapLogger{s: l.Sugar()}
}

func (z zapLogger) Debug(format string, args ...any) { z.s.Debugf(format, args...) }
func (z zapLogger) Info(format string, args ...any)  { z.s.Infof(format, args...) }
func (z zapLogger) Warn(format string, args ...any)  { z.s.Warnf(format, args...) }
func (z zapLogger) Error(format string, args ...any) { z.s.Errorf(format, args...) }
