package logger

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rizkirmdhn/memzip/internal/common/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUsesConfiguredLevel(t *testing.T) {
	log := New(&config.Config{App: config.AppConfig{LogLevel: int(logrus.DebugLevel)}})
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())
	assert.Equal(t, os.Stderr, log.Out)
}

func TestOutputWritesLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memzip.log")
	log := New(&config.Config{App: config.AppConfig{
		LogLevel:   int(logrus.InfoLevel),
		LogFile:    path,
		LogMaxSize: 1,
	}})

	log.Info("hello file")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello file")
}

func TestComponentLoggerAddsComponent(t *testing.T) {
	var buf bytes.Buffer
	base := logrus.New()
	base.SetOutput(&buf)
	base.SetFormatter(&logrus.JSONFormatter{})

	log := NewComponentLogger(base, "scheduler")
	assert.Equal(t, "scheduler", log.Component())

	log.WithField("record", "a.jpg").Info("one")
	log.WithFields(logrus.Fields{"n": 1}).Info("two")
	log.WithFields(logrus.Fields{"component": "override"}).Info("three")
	log.WithError(errors.New("boom")).Error("four")

	out := buf.String()
	assert.Contains(t, out, `"component":"scheduler","level":"info","msg":"one","record":"a.jpg"`)
	assert.Contains(t, out, `"component":"scheduler","level":"info","msg":"two","n":1`)
	assert.Contains(t, out, `"component":"override"`)
	assert.Contains(t, out, `"error":"boom"`)
}
