package redistore

import "go.uber.org/zap"

// Logger is the structured-logging seam used throughout NodeConnection and
// ClusterRouter: debug on each command, warn on concurrency retries and
// reconciled key/version mismatches, error/critical on protocol and fatal
// conditions. This mirrors the injected logging category the original
// implementation threads through every decision point; here it is
// satisfied by a zap.SugaredLogger adapter, with a safe no-op default so a
// caller that does not configure one pays nothing.
type Logger interface {
	Debugw(msg string, keysAndValues ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
	Criticalw(msg string, keysAndValues ...interface{})
}

// zapLogger adapts a *zap.SugaredLogger to the Logger interface. Critical
// conditions (redirect-port parse failure, fatal router states) are logged
// at zap's Error level with a "critical" marker field, since zap has no
// distinct critical level.
type zapLogger struct {
	sugar *zap.SugaredLogger
}

// NewZapLogger wraps a *zap.Logger as a Logger.
func NewZapLogger(l *zap.Logger) Logger {
	return &zapLogger{sugar: l.Sugar()}
}

func (z *zapLogger) Debugw(msg string, kv ...interface{})    { z.sugar.Debugw(msg, kv...) }
func (z *zapLogger) Warnw(msg string, kv ...interface{})     { z.sugar.Warnw(msg, kv...) }
func (z *zapLogger) Errorw(msg string, kv ...interface{})    { z.sugar.Errorw(msg, kv...) }
func (z *zapLogger) Criticalw(msg string, kv ...interface{}) {
	z.sugar.Errorw(msg, append(append([]interface{}{}, kv...), "level", "critical")...)
}

// noopLogger discards everything. It is the default when Options/
// ClusterOptions leave Logger unset.
type noopLogger struct{}

func (noopLogger) Debugw(string, ...interface{})    {}
func (noopLogger) Warnw(string, ...interface{})     {}
func (noopLogger) Errorw(string, ...interface{})    {}
func (noopLogger) Criticalw(string, ...interface{}) {}

func defaultLogger() Logger { return noopLogger{} }
