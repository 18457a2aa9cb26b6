package logx

import (
	"io"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultLevel 让结构化日志默认只输出 warn 及以上：逐条进度由 CLI 的 progress 输出负责。
const DefaultLevel = "warn"

// New 构造写往 w 的 console 编码 zap logger。
//
// 约束：
// - w 必须是 stderr 一类的旁路输出，不能是 stdout（stdout 可能承载 RunReport JSON）
// - 未知 level 按 DefaultLevel 处理
func New(level string, w io.Writer) *zap.Logger {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	encCfg.EncodeCaller = zapcore.ShortCallerEncoder

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.AddSync(w),
		zap.NewAtomicLevelAt(ParseLevel(level)),
	)
	return zap.New(core, zap.AddStacktrace(zapcore.FatalLevel))
}

// ParseLevel 把字符串转成 zapcore.Level。
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning", "":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.WarnLevel
	}
}

// ValidLevel 报告 level 是否是可识别的取值（配置校验用）。
func ValidLevel(level string) bool {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug", "info", "warn", "warning", "error", "":
		return true
	default:
		return false
	}
}

// OrNop 让可选 logger 参数在未注入时静默。
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
