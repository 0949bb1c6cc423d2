package logger

import (
	"github.com/moin0420/hybrid-app/internal/metrics"
	log "github.com/sirupsen/logrus"
)

// errorTypeOther labels errors logged without a known error_type, which keeps
// the label set of tracker_errors_total bounded.
const errorTypeOther = "other"

var errorTypes = map[string]bool{
	ErrorTypeDb:    true,
	ErrorTypeHttp:  true,
	ErrorTypeClaim: true,
	ErrorTypeAudit: true,
	ErrorTypeLoki:  true,
}

// errorMetricsHook counts error entries by their error_type field.
type errorMetricsHook struct{}

func (h *errorMetricsHook) Fire(entry *log.Entry) error {
	metrics.ErrorsCounter.WithLabelValues(errorTypeOf(entry)).Inc()
	return nil
}

func (h *errorMetricsHook) Levels() []log.Level {
	return []log.Level{log.ErrorLevel, log.FatalLevel, log.PanicLevel}
}

func errorTypeOf(entry *log.Entry) string {
	if errorType, ok := entry.Data[ErrorTypeField].(string); ok && errorTypes[errorType] {
		return errorType
	}
	return errorTypeOther
}

func addErrorMetricsHook() {
	log.AddHook(&errorMetricsHook{})
}
