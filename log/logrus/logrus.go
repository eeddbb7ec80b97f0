// Package logrus adapts sirupsen/logrus to logger.Logger.
package logrus

import (
	"github.com/sirupsen/logrus"

	"github.com/unkn0wn-root/tiercache/logger"
)

var _ logger.Logger = LogrusLogger{}

type LogrusLogger struct{ E *logrus.Entry }

// New wraps l; nil => the logrus standard logger.
func New(l *logrus.Logger) LogrusLogger {
	if l == nil {
		l = logrus.StandardLogger()
	}
	return LogrusLogger{E: logrus.NewEntry(l)}
}

func (l LogrusLogger) Debug(msg string, f logger.Fields) { l.with(f).Debug(msg) }
func (l LogrusLogger) Info(msg string, f logger.Fields)  { l.with(f).Info(msg) }
func (l LogrusLogger) Warn(msg string, f logger.Fields)  { l.with(f).Warn(msg) }
func (l LogrusLogger) Error(msg string, f logger.Fields) { l.with(f).Error(msg) }

func (l LogrusLogger) with(f logger.Fields) *logrus.Entry {
	if len(f) == 0 {
		return l.E
	}
	return l.E.WithFields(logrus.Fields(f))
}
