package gorm

import (
	"strings"
	"time"

	gormlogger "gorm.io/gorm/logger"

	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// NewGormLogger returns a GORM logger writing through the batch logger.
// Unknown levels are silent.
func NewGormLogger(level string) gormlogger.Interface {
	var gormLevel gormlogger.LogLevel
	switch strings.ToLower(level) {
	case "error":
		gormLevel = gormlogger.Error
	case "warn":
		gormLevel = gormlogger.Warn
	case "info":
		gormLevel = gormlogger.Info
	default:
		gormLevel = gormlogger.Silent
	}
	return gormlogger.New(gormWriter{}, gormlogger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  gormLevel,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}

// gormWriter implements gormlogger.Writer.
type gormWriter struct{}

func (gormWriter) Printf(format string, args ...interface{}) {
	logger.Debugf("[gorm] "+strings.ReplaceAll(format, "\n", " "), args...)
}
