package logutils

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// Log is the logger used by the package.
var Log = logrus.New()

// Fields is the type of logrus.Fields.
type Fields = logrus.Fields

//nolint:gochecknoinits // This is the only place where we should set the log format.
func init() {
	Log.SetLevel(logrus.InfoLevel)
	Log.SetFormatter(&logrus.TextFormatter{
		TimestampFormat:           "2006-01-02 15:04:05",
		EnvironmentOverrideColors: true,
		FullTimestamp:             true,
	})
}

// SetLevel applies a textual log level (debug, info, warn, error).
// Unknown levels leave the current level untouched and are reported.
func SetLevel(level string) {
	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		Log.WithField("level", level).Warn("unknown log level, keeping ", Log.GetLevel())
		return
	}
	Log.SetLevel(lvl)
}

// SetReportCaller toggles file:line annotations, useful when debugging.
func SetReportCaller(enabled bool) {
	Log.SetReportCaller(enabled)
}
