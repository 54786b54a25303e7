package config

import (
	"os"

	"github.com/sirupsen/logrus"
)

// NewLogger builds the shared JSON logger. Unknown level names fall back
// to info rather than failing startup.
func NewLogger(level string) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetOutput(os.Stdout)

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	log.SetLevel(parsed)

	return log
}
