package main

import (
	"EliteCompanion/internal/classifier"
	"EliteCompanion/internal/config"
	"EliteCompanion/internal/journal"
	"EliteCompanion/internal/service/gamestate"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Диагностика: следит за журналом и печатает классифицированные события. Без модели и звука.
func main() {
	var (
		fromStart bool
		all       bool
	)
	flag.BoolVar(&fromStart, "from-start", false, "прочитать активный журнал с начала, а не с конца")
	flag.BoolVar(&all, "all", false, "печатать и игнорируемые события")
	cfg := config.NewConfig()

	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	sugar := logger.Sugar()
	defer func() { _ = logger.Sync() }()

	overrides, err := classifier.ParseOverrides(cfg.TierOverrides)
	if err != nil {
		sugar.Fatalw("Bad tier overrides", "error", err)
	}
	cls := classifier.New(overrides)
	tracker := gamestate.New()

	opts := []journal.Option{
		journal.WithPattern(cfg.JournalPattern),
		journal.WithPollInterval(cfg.PollInterval),
		journal.WithMaxFailures(cfg.MaxWatchFailures),
		journal.WithBackoff(cfg.RetryBackoff, cfg.RetryBackoffMax),
		journal.WithLogger(sugar),
	}
	if fromStart {
		latest, err := journal.LatestFile(cfg.JournalDir, cfg.JournalPattern)
		if err != nil {
			sugar.Fatalw("Cannot list journal dir", "dir", cfg.JournalDir, "error", err)
		}
		opts = append(opts, journal.WithResume(journal.Checkpoint{File: latest, Offset: 0}))
	}
	reader := journal.New(cfg.JournalDir, opts...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	entries := make(chan journal.Entry, 64)
	errCh := make(chan error, 1)
	go func() {
		defer close(entries)
		errCh <- reader.Run(ctx, entries)
	}()

	counts := make(map[classifier.Tier]int)
	for e := range entries {
		if e.Kind == journal.EntryRotation {
			fmt.Printf("---- rotated to %s\n", e.File)
			tracker.Reset()
			continue
		}
		tracker.Update(e.Record)
		ev := cls.Classify(e.Record)
		counts[ev.Tier]++
		if ev.Tier == classifier.Ignored && !all {
			continue
		}
		fmt.Printf("%s %-9s %-22s %s\n", ev.Timestamp.Local().Format(time.TimeOnly), ev.Tier, ev.Type, ev.Summary)
	}

	if err := <-errCh; err != nil {
		var wf *journal.WatcherFailure
		if errors.As(err, &wf) {
			sugar.Errorw("Journal watcher failed", "dir", wf.Dir, "failures", wf.Failures, "error", wf.Err)
		}
		os.Exit(1)
	}
	sugar.Infow("Stopped",
		"ambient", counts[classifier.Ambient],
		"important", counts[classifier.Important],
		"critical", counts[classifier.Critical],
		"ignored", counts[classifier.Ignored],
		"parseErrors", reader.ParseErrors(),
		"state", tracker.Describe(),
	)
}
