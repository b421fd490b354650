package logger

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger 封装zap日志器，提供结构化日志功能
type Logger struct {
	*zap.Logger
	config Config
}

// Config 日志配置
type Config struct {
	Level      string   `yaml:"level"`       // debug, info, warn, error
	Outputs    []string `yaml:"outputs"`     // stdout, file
	OutputFile string   `yaml:"output_file"` // outputs 含 file 时必填
	ErrorFile  string   `yaml:"error_file"`  // 仅 error 及以上
	Format     string   `yaml:"format"`      // json 或 console，文件始终是 json
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Level:   "info",
		Outputs: []string{"stdout"},
		Format:  "json",
	}
}

// New 按配置组装 zap core：stdout、主日志文件、错误文件三路 Tee。
func New(cfg Config) (*Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %s: %w", cfg.Level, err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	jsonEnc := zapcore.NewJSONEncoder(encCfg)

	var cores []zapcore.Core
	if contains(cfg.Outputs, "stdout") {
		enc := jsonEnc
		if cfg.Format == "console" {
			devCfg := zap.NewDevelopmentEncoderConfig()
			devCfg.EncodeTime = zapcore.ISO8601TimeEncoder
			devCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
			enc = zapcore.NewConsoleEncoder(devCfg)
		}
		cores = append(cores, zapcore.NewCore(enc, zapcore.AddSync(os.Stdout), level))
	}
	if contains(cfg.Outputs, "file") {
		if cfg.OutputFile == "" {
			return nil, errors.New("logging output file required when outputs include file")
		}
		core, err := openCore(jsonEnc.Clone(), cfg.OutputFile, level)
		if err != nil {
			return nil, err
		}
		cores = append(cores, core)
	}
	if cfg.ErrorFile != "" {
		core, err := openCore(jsonEnc.Clone(), cfg.ErrorFile, zapcore.ErrorLevel)
		if err != nil {
			return nil, err
		}
		cores = append(cores, core)
	}

	zl := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return &Logger{Logger: zl, config: cfg}, nil
}

func openCore(enc zapcore.Encoder, path string, level zapcore.LevelEnabler) (zapcore.Core, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	return zapcore.NewCore(enc, zapcore.AddSync(f), level), nil
}

// NewNop 返回丢弃所有输出的 Logger，测试使用。
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop(), config: DefaultConfig()}
}

// Zap 返回底层 zap.Logger，供只依赖 *zap.Logger 的组件使用。
func (l *Logger) Zap() *zap.Logger {
	return l.Logger
}

// Named 返回带模块名的子 logger
func (l *Logger) Named(name string) *Logger {
	return &Logger{Logger: l.Logger.Named(name), config: l.config}
}

// WithFields 添加字段返回新的logger
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return &Logger{
		Logger: l.Logger.With(toFields(fields)...),
		config: l.config,
	}
}

// LogOrder 记录订单相关事件
func (l *Logger) LogOrder(event string, orderID string, fields map[string]interface{}) {
	fields = withEvent(fields, event)
	fields["order_id"] = orderID
	l.Info("order_event", toFields(fields)...)
}

// LogTrade 记录成交/对冲相关事件
func (l *Logger) LogTrade(event string, fields map[string]interface{}) {
	l.Info("trade_event", toFields(withEvent(fields, event))...)
}

// LogError 记录错误并附带上下文
func (l *Logger) LogError(err error, context map[string]interface{}) {
	if context == nil {
		context = make(map[string]interface{})
	}
	context["error"] = err.Error()
	context["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	l.Error("error_event", toFields(context)...)
}

// LogRisk 记录风控事件
func (l *Logger) LogRisk(event string, fields map[string]interface{}) {
	l.Warn("risk_event", toFields(withEvent(fields, event))...)
}

// Close 关闭日志器
func (l *Logger) Close() error {
	err := l.Sync()
	if err != nil && isStdSyncErr(err) {
		// stdout/stderr 在终端上 Sync 会返回 EINVAL/ENOTTY，忽略
		return nil
	}
	return err
}

func withEvent(fields map[string]interface{}, event string) map[string]interface{} {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["event"] = event
	fields["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	return fields
}

// toFields 按 key 排序，保证日志字段顺序稳定。
func toFields(fields map[string]interface{}) []zap.Field {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		out = append(out, zap.Any(k, fields[k]))
	}
	return out
}

func isStdSyncErr(err error) bool {
	return errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
