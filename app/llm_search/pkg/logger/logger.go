package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log 全局日志实例
var Log = newDefault()

// CustomFormatter 自定义日志格式
type CustomFormatter struct{}

// Format 实现 logrus.Formatter 接口
func (f *CustomFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	// 获取文件名和行号
	var fileLine string
	if entry.HasCaller() {
		fileName := filepath.Base(entry.Caller.File)
		fileLine = fmt.Sprintf("%s:%d", fileName, entry.Caller.Line)
	}

	// 对齐级别长度，例如 INFO, WARN, ERRO
	level := strings.ToUpper(entry.Level.String())
	if len(level) > 4 {
		level = level[:4]
	}

	timeStr := entry.Time.Format("2006-01-02 15:04:05")

	var sb strings.Builder
	// 组装日志信息: [TIME] [LEVEL] [FILE:LINE] MSG k=v...
	fmt.Fprintf(&sb, "[%s] [%s] [%s] %s", timeStr, level, fileLine, entry.Message)
	if rid, ok := entry.Data[FieldRequestID]; ok {
		fmt.Fprintf(&sb, " request_id=%v", rid)
	}
	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		if k != FieldRequestID {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, " %s=%v", k, entry.Data[k])
	}
	sb.WriteByte('\n')
	return []byte(sb.String()), nil
}

// FieldRequestID 请求追踪 ID 字段名
const FieldRequestID = "request_id"

// Options 文件日志轮转参数
type Options struct {
	MaxSizeMB  int
	MaxAgeDays int
}

func newDefault() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&CustomFormatter{})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// InitLogger 初始化日志
func InitLogger(levelStr string, filePath string, opts ...Options) error {
	l := logrus.New()

	// 开启 ReportCaller 以获取文件名和行号
	l.SetReportCaller(true)
	l.SetFormatter(&CustomFormatter{})

	level, err := logrus.ParseLevel(levelStr)
	if err != nil {
		level = logrus.InfoLevel // 默认级别
	}
	l.SetLevel(level)

	// 同时输出到控制台和文件，文件按大小轮转
	writers := []io.Writer{os.Stdout}
	if filePath != "" {
		logDir := filepath.Dir(filePath)
		if logDir != "." {
			if err := os.MkdirAll(logDir, 0o755); err != nil {
				return fmt.Errorf("failed to create log directory: %w", err)
			}
		}
		o := Options{MaxSizeMB: 100, MaxAgeDays: 28}
		if len(opts) > 0 {
			o = opts[0]
		}
		writers = append(writers, &lumberjack.Logger{
			Filename: filePath,
			MaxSize:  o.MaxSizeMB,
			MaxAge:   o.MaxAgeDays,
			Compress: true,
		})
	}
	l.SetOutput(io.MultiWriter(writers...))

	Log = l
	return nil
}

// WithRequest 返回带请求 ID 的日志条目
func WithRequest(requestID string) *logrus.Entry {
	return Log.WithField(FieldRequestID, requestID)
}

// LogDuration 用法: defer logger.LogDuration(entry, "stage")()
func LogDuration(entry *logrus.Entry, name string) func() {
	start := time.Now()
	return func() {
		entry.WithFields(logrus.Fields{
			"stage":       name,
			"duration_ms": time.Since(start).Milliseconds(),
		}).Debug("阶段耗时")
	}
}
