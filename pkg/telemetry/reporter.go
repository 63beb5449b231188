package telemetry

import (
	"github.com/sirupsen/logrus"
)

// LogReporter es el sink de excepciones por defecto cuando no hay un
// colector externo configurado. Fire and forget.
type LogReporter struct{}

func NewLogReporter() *LogReporter {
	return &LogReporter{}
}

func (r *LogReporter) CaptureException(err error) {
	if err == nil {
		return
	}
	logrus.WithError(err).Error("[REPORTER] Captured exception")
}
