package monitor

import (
	"EliteCompanion/internal/ai"
	"EliteCompanion/internal/app/dispatcher"
	"EliteCompanion/internal/classifier"
	"EliteCompanion/internal/config"
	"EliteCompanion/internal/journal"
	"EliteCompanion/internal/service/gamestate"
	"EliteCompanion/internal/service/playback"
	"EliteCompanion/internal/service/state"
	"EliteCompanion/internal/service/tts"
	"EliteCompanion/internal/storage"
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const testPhrase = "Audio test complete. All systems operational."

// ErrQueueClosed — очередь воспроизведения больше не принимает фразы.
var ErrQueueClosed = errors.New("monitor: playback queue closed")

// Deps — внешние зависимости монитора. Store и Enricher необязательны.
type Deps struct {
	Model    ai.LanguageModel
	Synth    tts.Synthesizer
	Output   playback.AudioOutput
	Store    storage.Store
	Enricher dispatcher.Enricher
	Logger   *zap.SugaredLogger
}

// run — один сеанс мониторинга между Start и Stop (или отказом журнала).
type run struct {
	cancel context.CancelFunc
	done   chan struct{}
	reader *journal.Reader
	disp   *dispatcher.Dispatcher
	queue  *playback.Queue
}

// Monitor связывает журнал, классификатор, диспетчер и очередь воспроизведения.
type Monitor struct {
	cfg    *config.Config
	deps   Deps
	logger *zap.SugaredLogger

	classifier *classifier.Classifier
	tracker    *gamestate.Tracker
	recent     *state.State[classifier.Event]
	preempt    playback.PreemptPolicy
	shutdown   playback.ShutdownMode

	mu       sync.Mutex
	cur      *run // активный сеанс, nil — монитор остановлен
	last     *run // последний сеанс (для счётчиков в статусе)
	lastErr  error
	failures chan error
}

func New(cfg *config.Config, deps Deps) (*Monitor, error) {
	if deps.Model == nil || deps.Synth == nil || deps.Output == nil {
		return nil, errors.New("monitor: model, synthesizer and output are required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop().Sugar()
	}
	overrides, err := classifier.ParseOverrides(cfg.TierOverrides)
	if err != nil {
		return nil, err
	}
	preempt, err := playback.ParsePreemptPolicy(cfg.PreemptPolicy)
	if err != nil {
		return nil, err
	}
	shutdown, err := playback.ParseShutdownMode(cfg.ShutdownMode)
	if err != nil {
		return nil, err
	}
	return &Monitor{
		cfg:        cfg,
		deps:       deps,
		logger:     deps.Logger,
		classifier: classifier.New(overrides),
		tracker:    gamestate.New(),
		recent:     state.New[classifier.Event](cfg.StatusHistory),
		preempt:    preempt,
		shutdown:   shutdown,
		failures:   make(chan error, 1),
	}, nil
}

// Failures сигналит о терминальном отказе чтения журнала. Монитор к этому моменту уже остановлен.
func (m *Monitor) Failures() <-chan error { return m.failures }

// Start запускает мониторинг. Повторный вызов на работающем мониторе ничего не делает.
// Мониторинг живёт до Stop, отмены ctx или отказа журнала.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.cur != nil {
		m.mu.Unlock()
		return nil
	}
	prev := m.last
	m.mu.Unlock()

	// Предыдущий сеанс мог ещё сворачиваться
	if prev != nil {
		select {
		case <-prev.done:
		case <-ctx.Done():
			return context.Cause(ctx)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur != nil {
		return nil
	}

	readerOpts := []journal.Option{
		journal.WithPattern(m.cfg.JournalPattern),
		journal.WithPollInterval(m.cfg.PollInterval),
		journal.WithMaxFailures(m.cfg.MaxWatchFailures),
		journal.WithBackoff(m.cfg.RetryBackoff, m.cfg.RetryBackoffMax),
		journal.WithLogger(m.logger.With("component", "journal")),
	}
	resumed := false
	if m.cfg.ResumeFromOffset && m.deps.Store != nil {
		cp, ok, err := m.deps.Store.LoadCheckpoint(ctx)
		switch {
		case err != nil:
			m.logger.Warnw("Failed to load journal checkpoint, tailing from the end", "error", err)
		case ok:
			readerOpts = append(readerOpts, journal.WithResume(cp))
			resumed = true
			m.logger.Infow("Resuming journal", "file", cp.File, "offset", cp.Offset)
		}
	}
	if m.cfg.LoadInitialState && !resumed {
		m.primeState()
	}

	queue := playback.New(m.deps.Output, m.logger.With("component", "playback"), playback.Options{
		PreemptPolicy:   m.preempt,
		PlaybackTimeout: m.cfg.PlaybackTimeout,
		SupersedeLower:  m.cfg.SupersedeLower,
	})
	disp := dispatcher.New(m.deps.Model, m.deps.Synth, queue, dispatcher.Options{
		SystemPrompt: m.cfg.SystemPrompt,
		Voice:        m.cfg.Voice,
		BacklogBounds: map[classifier.Tier]int{
			classifier.Ambient:   m.cfg.BacklogAmbient,
			classifier.Important: m.cfg.BacklogImportant,
		},
		CriticalCeiling:  m.cfg.CriticalCeiling,
		ContextWindow:    m.cfg.ContextWindow,
		ModelTimeout:     m.cfg.ModelTimeout,
		SynthesisTimeout: m.cfg.SynthesisTimeout,
		EnrichTimeout:    m.cfg.EDSM.Timeout,
		CannedCritical:   m.cfg.CannedCritical,
		RawDataMode:      m.cfg.RawDataMode,
		GameState:        m.tracker,
		Enricher:         m.deps.Enricher,
		OnResponse:       m.recordResponse,
		Logger:           m.logger.With("component", "dispatcher"),
	})
	reader := journal.New(m.cfg.JournalDir, readerOpts...)

	runCtx, cancel := context.WithCancel(ctx)
	r := &run{cancel: cancel, done: make(chan struct{}), reader: reader, disp: disp, queue: queue}
	m.cur, m.last = r, r

	entries := make(chan journal.Entry, 64)
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		defer close(entries)
		return reader.Run(gctx, entries)
	})
	g.Go(func() error {
		m.consume(gctx, entries, disp)
		return nil
	})
	g.Go(func() error { return disp.Run(gctx) })
	if m.deps.Store != nil && m.cfg.CheckpointEvery > 0 {
		g.Go(func() error {
			m.checkpointLoop(gctx, reader)
			return nil
		})
	}
	go func() {
		err := g.Wait()
		m.finish(r, err)
	}()

	m.logger.Infow("Monitor started", "dir", m.cfg.JournalDir, "preempt", m.preempt, "shutdown", m.shutdown)
	return nil
}

// Stop останавливает мониторинг и ждёт завершения, не дольше ctx. Повторный вызов ничего не делает.
func (m *Monitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	r := m.cur
	m.cur = nil
	m.mu.Unlock()
	if r == nil {
		return nil
	}
	r.cancel()
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

// finish сворачивает сеанс: закрывает очередь, сохраняет позицию журнала, публикует отказ.
func (m *Monitor) finish(r *run, err error) {
	defer close(r.done)
	r.cancel()

	shutdownCtx, cancel := context.WithTimeoutCause(context.Background(), orDefault(m.cfg.ShutdownTimeout, 10*time.Second), errors.New("playback shutdown timeout"))
	if cerr := r.queue.Close(shutdownCtx, m.shutdown); cerr != nil {
		m.logger.Warnw("Playback queue close", "error", cerr)
	}
	cancel()
	m.saveCheckpoint(context.Background(), r.reader)

	m.mu.Lock()
	if m.cur == r {
		m.cur = nil
	}
	if err != nil {
		m.lastErr = err
	}
	m.mu.Unlock()

	if err != nil {
		m.logger.Errorw("Monitor stopped on failure", "error", err)
		select {
		case m.failures <- err:
		default:
		}
		return
	}
	m.logger.Infow("Monitor stopped")
}

func (m *Monitor) consume(ctx context.Context, entries <-chan journal.Entry, disp *dispatcher.Dispatcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-entries:
			if !ok {
				return
			}
			switch e.Kind {
			case journal.EntryRotation:
				m.logger.Infow("Journal rotated, game state reset", "file", e.File)
				m.tracker.Reset()
			case journal.EntryRecord:
				m.tracker.Update(e.Record)
				ev := m.classifier.Classify(e.Record)
				if ev.Tier == classifier.Ignored {
					continue
				}
				m.logger.Debugw("Event classified", "event", ev.Type, "tier", ev.Tier, "summary", ev.Summary)
				m.recent.Add(ev)
				if m.deps.Store != nil {
					if err := m.deps.Store.SaveEvent(ctx, ev); err != nil {
						m.logger.Warnw("Failed to store event", "event", ev.Type, "error", err)
					}
				}
				disp.Submit(ev)
			}
		}
	}
}

// primeState молча восстанавливает состояние корабля из уже записанной части журнала.
func (m *Monitor) primeState() {
	path, err := journal.LatestFile(m.cfg.JournalDir, m.cfg.JournalPattern)
	if err != nil || path == "" {
		m.logger.Debugw("No journal to prime game state from", "dir", m.cfg.JournalDir, "error", err)
		return
	}
	records, err := journal.ReadHistory(path, journal.StateEvents)
	if err != nil {
		m.logger.Warnw("Failed to read journal history", "file", path, "error", err)
	}
	m.tracker.Reset()
	for _, rec := range records {
		m.tracker.Update(rec)
	}
	m.logger.Infow("Game state primed", "file", path, "records", len(records), "state", m.tracker.Describe())
}

func (m *Monitor) checkpointLoop(ctx context.Context, reader *journal.Reader) {
	t := time.NewTicker(m.cfg.CheckpointEvery)
	defer t.Stop()
	var saved journal.Checkpoint
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if cp := reader.Checkpoint(); cp != saved && cp.File != "" {
				if m.saveCheckpoint(ctx, reader) {
					saved = cp
				}
			}
		}
	}
}

func (m *Monitor) saveCheckpoint(ctx context.Context, reader *journal.Reader) bool {
	if m.deps.Store == nil {
		return false
	}
	cp := reader.Checkpoint()
	if cp.File == "" {
		return false
	}
	if err := m.deps.Store.SaveCheckpoint(ctx, cp); err != nil {
		m.logger.Warnw("Failed to save journal checkpoint", "error", err)
		return false
	}
	return true
}

func (m *Monitor) recordResponse(pr dispatcher.PendingResponse) {
	if m.deps.Store == nil {
		return
	}
	rec := storage.Response{
		ID:        pr.ID.String(),
		Event:     pr.Event.Type,
		Tier:      pr.Event.Tier.String(),
		State:     pr.State.String(),
		Text:      pr.Text,
		CreatedAt: pr.CreatedAt,
	}
	if pr.Err != nil {
		rec.Error = pr.Err.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.deps.Store.SaveResponse(ctx, rec); err != nil {
		m.logger.Warnw("Failed to store response", "id", rec.ID, "error", err)
	}
}

// TestAudio озвучивает проверочную фразу в обход модели. На работающем мониторе фраза
// встаёт в очередь как критичная, иначе играет сразу и метод ждёт её окончания.
func (m *Monitor) TestAudio(ctx context.Context) error {
	synthCtx, cancel := context.WithTimeoutCause(ctx, orDefault(m.cfg.SynthesisTimeout, 20*time.Second), errors.New("synthesis timeout"))
	payload, err := m.deps.Synth.Speak(synthCtx, testPhrase, m.cfg.Voice)
	cancel()
	if err != nil {
		return tts.Wrap("synthesizer", err)
	}

	m.mu.Lock()
	r := m.cur
	m.mu.Unlock()
	if r != nil {
		// Seq в конец: не обгоняет уже ожидающие критичные фразы
		ok := r.queue.Enqueue(playback.Item{
			Tier:       classifier.Critical,
			Payload:    payload,
			Label:      "AudioTest",
			EnqueuedAt: time.Now(),
			Seq:        math.MaxInt64,
		})
		if !ok {
			return ErrQueueClosed
		}
		return nil
	}

	done, err := m.deps.Output.Play(payload)
	if err != nil {
		return err
	}
	playCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if m.cfg.PlaybackTimeout > 0 {
		playCtx, cancel = context.WithTimeoutCause(ctx, m.cfg.PlaybackTimeout, playback.ErrPlaybackTimeout)
		defer cancel()
	}
	select {
	case err := <-done:
		return err
	case <-playCtx.Done():
		m.deps.Output.Stop()
		return context.Cause(playCtx)
	}
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// Status — снимок состояния для хоста.
type Status struct {
	Running      bool               `json:"running"`
	RecentEvents []classifier.Event `json:"recentEvents"`
	Playback     playback.Status    `json:"playback"`
	Dispatcher   dispatcher.Stats   `json:"dispatcher"`
	ParseErrors  int64              `json:"parseErrors"`
	Checkpoint   journal.Checkpoint `json:"checkpoint"`
	GameState    gamestate.State    `json:"gameState"`
	LastError    string             `json:"lastError,omitempty"`
}

func (m *Monitor) Status() Status {
	m.mu.Lock()
	cur, last, lastErr := m.cur, m.last, m.lastErr
	m.mu.Unlock()

	st := Status{
		Running:      cur != nil,
		RecentEvents: m.recent.Snapshot(),
		GameState:    m.tracker.Snapshot(),
	}
	if lastErr != nil {
		st.LastError = lastErr.Error()
	}
	if last != nil {
		st.Playback = last.queue.Snapshot()
		st.Dispatcher = last.disp.Stats()
		st.ParseErrors = last.reader.ParseErrors()
		st.Checkpoint = last.reader.Checkpoint()
	}
	return st
}
