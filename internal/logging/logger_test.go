package logging

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	Logger.SetOutput(&buf)
	t.Cleanup(func() { Silence() })
	return &buf
}

func TestSetupLevel(t *testing.T) {
	Setup("debug")
	assert.Equal(t, logrus.DebugLevel, Logger.GetLevel())
	Setup("nonsense")
	assert.Equal(t, logrus.InfoLevel, Logger.GetLevel())
}

func TestGormTraceLogsErrorsButNotRecordNotFound(t *testing.T) {
	buf := capture(t)
	l := GormLogger()
	fc := func() (string, int64) { return "SELECT 1", 0 }

	l.Trace(context.Background(), time.Now(), fc, gorm.ErrRecordNotFound)
	assert.Empty(t, buf.String())

	l.Trace(context.Background(), time.Now(), fc, errors.New("syntax error"))
	assert.Contains(t, buf.String(), "SQL query error")
	assert.Contains(t, buf.String(), "syntax error")
}

func TestGormSilentMode(t *testing.T) {
	buf := capture(t)
	l := GormLogger().LogMode(logger.Silent)

	l.Trace(context.Background(), time.Now(), func() (string, int64) { return "SELECT 1", 0 }, errors.New("x"))
	l.Error(context.Background(), "nope")
	assert.Empty(t, buf.String())
}
