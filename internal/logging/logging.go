// =============================================================================
// 文件: internal/logging/logging.go
// 描述: 分级日志 - 统一输出到 stdout，支持 debug/info/warn/error 四级
// =============================================================================
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Level 日志级别
type Level int32

const (
	LevelDebug Level = 0
	LevelInfo  Level = 1
	LevelWarn  Level = 2
	LevelError Level = 3
)

var levelNames = map[Level]string{
	LevelDebug: "[DEBUG]",
	LevelInfo:  "[INFO]",
	LevelWarn:  "[WARN]",
	LevelError: "[ERROR]",
}

var (
	minLevel int32 = int32(LevelInfo)

	outMu sync.Mutex
	out   io.Writer = os.Stdout
)

// ParseLevel 解析日志级别字符串（大小写不敏感，未知值回退 info）
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "info", "":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// SetLevel 设置全局最低输出级别
func SetLevel(l Level) {
	atomic.StoreInt32(&minLevel, int32(l))
}

// GetLevel 获取全局最低输出级别
func GetLevel() Level {
	return Level(atomic.LoadInt32(&minLevel))
}

// SetOutput 重定向日志输出（用于测试）
func SetOutput(w io.Writer) {
	outMu.Lock()
	out = w
	outMu.Unlock()
}

// Logger 带子系统前缀的日志器
type Logger struct {
	prefix string
}

// New 创建日志器
func New(prefix string) *Logger {
	return &Logger{prefix: "[" + prefix + "]"}
}

func (l *Logger) write(level Level, format string, args ...interface{}) {
	if level < GetLevel() {
		return
	}
	line := fmt.Sprintf("%s %s %s %s\n",
		levelNames[level],
		time.Now().Format("15:04:05"),
		l.prefix,
		fmt.Sprintf(format, args...))

	outMu.Lock()
	io.WriteString(out, line)
	outMu.Unlock()
}

// Debugf 输出调试日志
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.write(LevelDebug, format, args...)
}

// Infof 输出信息日志
func (l *Logger) Infof(format string, args ...interface{}) {
	l.write(LevelInfo, format, args...)
}

// Warnf 输出警告日志
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.write(LevelWarn, format, args...)
}

// Errorf 输出错误日志
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.write(LevelError, format, args...)
}
