package logger

import (
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// New builds the service logger. Every entry carries a "service" field.
func New(serviceName, level, format string) *logrus.Entry {
	return NewWithOutput(os.Stdout, serviceName, level, format)
}

func NewWithOutput(out io.Writer, serviceName, level, format string) *logrus.Entry {
	l := logrus.New()
	l.SetOutput(out)

	if format == "text" {
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	} else {
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "ts",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)

	return l.WithField("service", serviceName)
}

// Discard returns a logger that drops everything; used by tests.
func Discard() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// WithRequestID adds the request id to log entries when one is known.
func WithRequestID(log logrus.FieldLogger, requestID string) logrus.FieldLogger {
	if requestID == "" {
		return log
	}
	return log.WithField("request_id", requestID)
}
