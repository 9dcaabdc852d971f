package mzap

import (
	"context"
	"log"
	"os"

	"github.com/CorventLabs/corvent/common/mlog"
	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// InitializeLogger initializes our log layer and returns it
//
//nolint:ireturn
func InitializeLogger() mlog.Logger {
	var zapCfg zap.Config

	ctx := context.Background()

	if os.Getenv("ENV_NAME") == "production" {
		zapCfg = zap.NewProductionConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	if val, ok := os.LookupEnv("LOG_LEVEL"); ok {
		var lvl zapcore.Level
		if err := lvl.Set(val); err != nil {
			log.Printf("Invalid LOG_LEVEL, fallback to InfoLevel: %v", err)

			lvl = zapcore.InfoLevel
		}

		zapCfg.Level = zap.NewAtomicLevelAt(lvl)
	}

	zapCfg.DisableStacktrace = true

	var (
		lp   *sdklog.LoggerProvider
		opts []zap.Option
	)

	opts = append(opts, zap.AddCallerSkip(1))

	if os.Getenv("ENABLE_TELEMETRY") == "true" {
		lExp, err := otlploggrpc.New(ctx, otlploggrpc.WithInsecure())
		if err != nil {
			log.Fatalf("can't initialize logger exporter: %v", err)
		}

		lp = sdklog.NewLoggerProvider(sdklog.WithProcessor(sdklog.NewBatchProcessor(lExp)))
		global.SetLoggerProvider(lp)

		opts = append(opts, zap.WrapCore(func(core zapcore.Core) zapcore.Core {
			return zapcore.NewTee(core, otelzap.NewCore(os.Getenv("OTEL_LIBRARY_NAME")))
		}))
	}

	logger, err := zapCfg.Build(opts...)
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}

	sugarLogger := logger.Sugar()

	sugarLogger.Infof("Log level is (%v)", zapCfg.Level)

	return &ZapWithTraceLogger{
		Logger:         sugarLogger,
		LoggerProvider: lp,
		shutdown: func() {
			if lp != nil {
				if err := lp.Shutdown(ctx); err != nil {
					sugarLogger.Errorf("can't shutdown logger provider: %v", err)
				}
			}
		},
	}
}
