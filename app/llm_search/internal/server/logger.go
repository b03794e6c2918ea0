package server

import (
	"fmt"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/sirupsen/logrus"

	"github.com/puneetrinity/LLMsearch/app/llm_search/pkg/logger"
)

// logrusLogger 将 kratos 日志转发到全局 logrus 实例
type logrusLogger struct {
	base func() *logrus.Logger
}

// NewLogger 返回写入 logger.Log 的 kratos 日志适配器
func NewLogger() log.Logger {
	return &logrusLogger{base: func() *logrus.Logger { return logger.Log }}
}

func (l *logrusLogger) Log(level log.Level, keyvals ...any) error {
	if len(keyvals) == 0 {
		return nil
	}
	if len(keyvals)%2 != 0 {
		keyvals = append(keyvals, "KEYVALS UNPAIRED")
	}

	var msg string
	fields := logrus.Fields{}
	for i := 0; i < len(keyvals); i += 2 {
		key := fmt.Sprint(keyvals[i])
		if key == log.DefaultMessageKey {
			msg = fmt.Sprint(keyvals[i+1])
			continue
		}
		fields[key] = keyvals[i+1]
	}

	entry := l.base().WithFields(fields)
	switch level {
	case log.LevelDebug:
		entry.Debug(msg)
	case log.LevelWarn:
		entry.Warn(msg)
	case log.LevelError, log.LevelFatal:
		entry.Error(msg)
	default:
		entry.Info(msg)
	}
	return nil
}
