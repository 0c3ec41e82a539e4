package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"automation-service/pkg/config"
)

// New builds the process logger and installs it as the zap global.
func New(cfg *config.Config) *zap.Logger {
	level := zapcore.InfoLevel
	if cfg != nil && cfg.LogLevel != "" {
		if parsed, err := zapcore.ParseLevel(cfg.LogLevel); err == nil {
			level = parsed
		}
	}

	zc := zap.NewDevelopmentConfig()
	if cfg != nil && cfg.AppEnv == "production" {
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.TimeKey = "timestamp"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		zc.EncoderConfig.StacktraceKey = "stacktrace"
		zc.EncoderConfig.LevelKey = "severity"
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		zc.EncoderConfig.CallerKey = "caller"
		zc.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
		zc.Encoding = "json"
		zc.OutputPaths = []string{"stdout"}
		zc.ErrorOutputPaths = []string{"stderr"}
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	log, err := zc.Build()
	if err != nil {
		panic(err)
	}

	if cfg != nil {
		log = log.With(
			zap.String("env", cfg.AppEnv),
			zap.String("service_name", cfg.AppName),
		)
	}

	zap.ReplaceGlobals(log)
	return log
}

// GocronLogger adapts zap to gocron's Logger interface.
type GocronLogger struct {
	sugar *zap.SugaredLogger
}

func NewGocronLogger(z *zap.Logger) *GocronLogger {
	return &GocronLogger{sugar: z.Named("gocron").Sugar()}
}

func (l *GocronLogger) Debug(msg string, args ...any) { l.sugar.Debugw(msg, pairs(args)...) }
func (l *GocronLogger) Info(msg string, args ...any)  { l.sugar.Infow(msg, pairs(args)...) }
func (l *GocronLogger) Warn(msg string, args ...any)  { l.sugar.Warnw(msg, pairs(args)...) }
func (l *GocronLogger) Error(msg string, args ...any) { l.sugar.Errorw(msg, pairs(args)...) }

// gocron passes loosely typed key/value args; an odd tail is kept under "extra".
func pairs(args []any) []any {
	if len(args)%2 == 0 {
		for i := 0; i < len(args); i += 2 {
			if _, ok := args[i].(string); !ok {
				args[i] = fmt.Sprint(args[i])
			}
		}
		return args
	}
	out := append([]any{}, args[:len(args)-1]...)
	return append(pairs(out), "extra", args[len(args)-1])
}
