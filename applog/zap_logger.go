package applog

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	slogzap "github.com/samber/slog-zap/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type (
	// Config zap backed logger settings
	Config struct {
		Level     string
		Format    string // text | json
		AddSource bool
		Output    io.Writer
	}

	// ZapLogger adapt a zap logger into CacheLogger
	ZapLogger struct {
		sugar *zap.SugaredLogger
	}
)

func NewZapLogger(l *zap.Logger) *ZapLogger {
	if l == nil {
		l = zap.NewNop()
	}
	return &ZapLogger{sugar: l.WithOptions(zap.AddCallerSkip(2)).Sugar()}
}

func (l *ZapLogger) Debugf(format string, v ...interface{}) {
	l.sugar.Debugf(format, v...)
}

func (l *ZapLogger) Infof(format string, v ...interface{}) {
	l.sugar.Infof(format, v...)
}

func (l *ZapLogger) Errorf(format string, v ...interface{}) {
	l.sugar.Errorf(format, v...)
}

func (l *ZapLogger) Sync() error {
	return l.sugar.Sync()
}

// Init build a zap logger from cfg, install it as package logger and bridge
// log/slog and the std logger onto it
func Init(cfg Config) *zap.Logger {
	logger := buildZapLogger(cfg)
	zap.ReplaceGlobals(logger)

	LogLevel = parseLevel(cfg.Level)
	SetLogger(NewZapLogger(logger))

	handler := slogzap.Option{
		Level:     parseSlogLevel(cfg.Level),
		Logger:    logger,
		AddSource: cfg.AddSource,
	}.NewZapHandler()
	slog.SetDefault(slog.New(handler))

	log.SetOutput(cfg.OutputOrStdout())
	log.SetFlags(0)
	return logger
}

func (c Config) OutputOrStdout() io.Writer {
	if c.Output == nil {
		return os.Stdout
	}
	return c.Output
}

func buildZapLogger(cfg Config) *zap.Logger {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.TimeKey = "time"

	var encoder zapcore.Encoder
	if strings.EqualFold(cfg.Format, "json") {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	} else {
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	}

	core := zapcore.NewCore(
		encoder,
		zapcore.AddSync(cfg.OutputOrStdout()),
		parseZapLevel(cfg.Level),
	)

	options := []zap.Option{zap.AddStacktrace(zapcore.ErrorLevel)}
	if cfg.AddSource {
		options = append(options, zap.AddCaller())
	}
	return zap.New(core, options...)
}

func parseLevel(level string) int {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return DebugLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

func parseSlogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func parseZapLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
