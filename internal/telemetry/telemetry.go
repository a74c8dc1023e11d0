// Package telemetry emits per-stage counter summaries as structured log
// events. Events carry counters only; raw titles, URLs with credentials, and
// provider response bodies are never included.
package telemetry

import (
	"go.uber.org/zap"
)

// Emit logs one telemetry event for a pipeline stage.
func Emit(module, event string, fields ...zap.Field) {
	base := []zap.Field{
		zap.String("module", module),
		zap.String("event", event),
	}
	zap.L().Info("telemetry", append(base, fields...)...)
}
