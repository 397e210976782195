package main

import (
	"EliteCompanion/internal/adapter/edsm"
	"EliteCompanion/internal/app/monitor"
	"EliteCompanion/internal/config"
	"EliteCompanion/internal/service/status"
	"EliteCompanion/internal/storage"
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	cfg := config.NewConfig()

	// development-логгер в режиме дебага, иначе production с уровнем Info
	var logger *zap.Logger
	var err error
	if cfg.DebugMode {
		logger, err = zap.NewDevelopment()
	} else {
		zc := zap.NewProductionConfig()
		zc.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
		zc.Encoding = "console"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		logger, err = zc.Build()
	}
	if err != nil {
		panic(err)
	}
	sugar := logger.Sugar()
	defer func() {
		if err := logger.Sync(); err != nil && !errors.Is(err, syscall.EINVAL) && !errors.Is(err, syscall.ENOTTY) {
			sugar.Errorw("Failed to sync logger", "error", err)
		}
	}()

	sugar.Infow(
		"Starting companion",
		"DebugMode", cfg.DebugMode,
		"JournalDir", cfg.JournalDir,
		"LLMService", cfg.LLMService,
		"TTSService", cfg.TTSService,
	)

	if code := run(cfg, sugar); code != 0 {
		_ = logger.Sync()
		os.Exit(code)
	}
}

func run(cfg *config.Config, sugar *zap.SugaredLogger) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	model, err := monitor.NewLanguageModel(cfg, sugar)
	if err != nil {
		sugar.Errorw("Language model setup failed", "error", err)
		return 1
	}
	synth, err := monitor.NewSynthesizer(cfg, sugar)
	if err != nil {
		sugar.Errorw("TTS setup failed", "error", err)
		return 1
	}
	if c, ok := synth.(interface{ Close() error }); ok {
		defer func() { _ = c.Close() }()
	}

	deps := monitor.Deps{
		Model:  model,
		Synth:  synth,
		Output: monitor.NewAudioOutput(cfg, sugar),
		Logger: sugar,
	}
	if cfg.EDSM.Enabled {
		deps.Enricher = edsm.New(cfg.EDSM, sugar.With("component", "edsm"))
	}
	if cfg.Storage.Enabled {
		store, err := storage.NewSQLite(cfg.Storage.Path, sugar)
		if err != nil {
			sugar.Warnw("Storage unavailable, running without checkpoints", "path", cfg.Storage.Path, "error", err)
		} else {
			defer store.Close()
			deps.Store = store
		}
	}

	mon, err := monitor.New(cfg, deps)
	if err != nil {
		sugar.Errorw("Monitor setup failed", "error", err)
		return 1
	}

	if cfg.StatusServer.Enabled {
		srv := status.New(cfg.StatusServer, mon, sugar.With("component", "status"))
		if err := srv.Start(ctx); err != nil {
			sugar.Errorw("Failed to start status server", "error", err)
		}
		defer func() { _ = srv.Stop(context.Background()) }()
	}

	if err := mon.Start(ctx); err != nil {
		sugar.Errorw("Failed to start monitor", "error", err)
		return 1
	}

	code := 0
	select {
	case <-ctx.Done():
		sugar.Infow("Shutdown signal received")
	case err := <-mon.Failures():
		sugar.Errorw("Journal monitoring failed", "error", err)
		code = 2
	}

	stopCtx, cancel := context.WithTimeoutCause(context.Background(), cfg.ShutdownTimeout+5*time.Second, errors.New("shutdown timeout"))
	defer cancel()
	if err := mon.Stop(stopCtx); err != nil {
		sugar.Warnw("Monitor did not stop cleanly", "error", err)
	}
	st := mon.Status()
	sugar.Infow("Companion stopped",
		"played", st.Playback.Counters.Played,
		"preempted", st.Playback.Counters.Preempted,
		"modelFailures", st.Dispatcher.ModelFailures,
		"synthesisFailures", st.Dispatcher.SynthesisFailures,
		"parseErrors", st.ParseErrors,
	)
	return code
}
