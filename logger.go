package main

import (
	"time"

	"github.com/TheZeroSlave/zapsentry"
	"github.com/fiffu/reviewwatch/config"
	"github.com/getsentry/sentry-go"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func NewLogger(lc fx.Lifecycle, cfg *config.Config) (*zap.Logger, error) {
	log, err := newBaseLogger(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.SentryDSN == "" {
		return log, nil
	}

	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:         cfg.SentryDSN,
		Environment: cfg.Env,
	})
	if err != nil {
		return nil, err
	}
	core, err := zapsentry.NewCore(zapsentry.Configuration{
		Level:             zapcore.ErrorLevel,
		EnableBreadcrumbs: true,
		BreadcrumbLevel:   zapcore.InfoLevel,
		Tags:              map[string]string{"component": "reviewwatch"},
	}, zapsentry.NewSentryClientFromClient(client))
	if err != nil {
		return nil, err
	}

	lc.Append(fx.StopHook(func() {
		client.Flush(2 * time.Second)
	}))
	return zapsentry.AttachCoreToLogger(core, log), nil
}

func newBaseLogger(cfg *config.Config) (*zap.Logger, error) {
	if !cfg.IsProduction() {
		return zap.NewDevelopment()
	}

	logCfg := zap.NewProductionConfig()
	logCfg.EncoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		t = t.UTC()
		zapcore.ISO8601TimeEncoder(t, enc)
	}
	return logCfg.Build()
}
