package config

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var (
	logg *logrus.Logger
)

func GetLogger() *logrus.Logger {
	return logg
}

func init() {
	logg = logrus.New()
	logg.SetFormatter(&logrus.JSONFormatter{})
	logg.SetLevel(logrus.ErrorLevel)
	logg.SetOutput(os.Stdout)
}

// NewSupplyLogger builds the supply channel logger. Unknown or unwritable
// paths fall back to stdout.
func NewSupplyLogger(channel string) *logrus.Entry {
	l := logrus.New()
	l.SetFormatter(&logrus.JSONFormatter{})
	l.SetLevel(logrus.InfoLevel)
	l.SetOutput(channelWriter(channel))
	return l.WithField("channel", "supply")
}

func channelWriter(channel string) io.Writer {
	switch c := strings.TrimSpace(channel); strings.ToLower(c) {
	case "", "stdout":
		return os.Stdout
	case "stderr":
		return os.Stderr
	default:
		f, err := os.OpenFile(c, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			logg.WithField("channel", c).Warn("supply log channel not writable, using stdout: " + err.Error())
			return os.Stdout
		}
		return f
	}
}

func LogError(logger *logrus.Logger, moduleName string, funcName string, context string, data any, err error) {
	if data != nil {
		logger.WithFields(logrus.Fields{
			"module":   moduleName,
			"funcName": funcName,
			"context":  context,
			"data":     data,
		}).Error(err.Error())
	} else {
		logger.WithFields(logrus.Fields{
			"module":   moduleName,
			"funcName": funcName,
			"context":  context,
		}).Error(err.Error())
	}
}
