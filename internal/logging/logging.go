package logging

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var base = logrus.New()

// Setup configures the process-wide logger. Unknown levels fall back to info.
func Setup(level, format string) {
	base.SetOutput(os.Stdout)

	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	base.SetLevel(lvl)

	if strings.EqualFold(format, "json") {
		base.SetFormatter(&logrus.JSONFormatter{})
		return
	}
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

// For returns an entry tagged with the given component name.
func For(component string) *logrus.Entry {
	return base.WithField("component", component)
}

// Logger exposes the underlying logger (tests swap its output).
func Logger() *logrus.Logger {
	return base
}
