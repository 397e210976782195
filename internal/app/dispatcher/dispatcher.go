package dispatcher

import (
	"EliteCompanion/internal/ai"
	"EliteCompanion/internal/classifier"
	"EliteCompanion/internal/service/playback"
	"EliteCompanion/internal/service/state"
	"EliteCompanion/internal/service/tts"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const promptPrefix = "Ship's computer status update: "

var errModelTimeout = errors.New("model timeout")

// Sink принимает готовые фразы (очередь воспроизведения). Владение фразой переходит к Sink.
type Sink interface {
	Enqueue(item playback.Item) bool
}

// Enricher добавляет справку о звёздной системе к промпту после прыжка.
type Enricher interface {
	Describe(ctx context.Context, system string) (string, error)
}

// StateDescriber описывает текущее состояние корабля для промпта.
type StateDescriber interface {
	Describe() string
}

// Phase — стадия обработки события.
type Phase int

const (
	Requested Phase = iota
	Generated
	Synthesized
	Failed
)

func (p Phase) String() string {
	switch p {
	case Requested:
		return "requested"
	case Generated:
		return "generated"
	case Synthesized:
		return "synthesized"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// PendingResponse — одно событие на пути модель → синтез → очередь.
type PendingResponse struct {
	ID        uuid.UUID
	Event     classifier.Event
	State     Phase
	Text      string
	Payload   tts.Payload
	Err       error
	CreatedAt time.Time
}

type Options struct {
	SystemPrompt string
	Voice        string
	// BacklogBounds — размер очереди ожидания для Ambient и Important.
	BacklogBounds map[classifier.Tier]int
	// CriticalCeiling — аварийный потолок очереди Critical.
	CriticalCeiling int
	ContextWindow   int
	// ModelTimeout ограничивает всю генерацию: справку о системе и запрос к модели вместе.
	ModelTimeout     time.Duration
	SynthesisTimeout time.Duration
	// EnrichTimeout — отдельный короткий дедлайн справки о системе.
	EnrichTimeout time.Duration
	// CannedCritical — критичные события с заготовкой озвучиваются без модели.
	CannedCritical bool
	// RawDataMode — озвучивается сама сводка, модель не вызывается.
	RawDataMode bool
	GameState   StateDescriber
	Enricher    Enricher
	// OnResponse вызывается по завершении обработки каждого события (успех или отказ).
	OnResponse func(PendingResponse)
	Logger     *zap.SugaredLogger
}

const (
	defaultBacklog         = 10
	defaultCriticalCeiling = 100
	defaultTimeout         = 20 * time.Second
	defaultEnrichTimeout   = 5 * time.Second
)

type pending struct {
	event   classifier.Event
	history []string
	arrival int64
}

// lane — очередь одного уровня и её единственный обработчик.
type lane struct {
	tier     classifier.Tier
	bound    int
	mu       sync.Mutex
	backlog  []pending
	notify   chan struct{}
	inFlight atomic.Int32
	dropped  atomic.Int64
}

func (l *lane) push(p pending) (dropped *pending) {
	l.mu.Lock()
	if len(l.backlog) >= l.bound {
		old := l.backlog[0]
		dropped = &old
		l.backlog = l.backlog[1:]
	}
	l.backlog = append(l.backlog, p)
	l.mu.Unlock()
	select {
	case l.notify <- struct{}{}:
	default:
	}
	return dropped
}

func (l *lane) pop() (pending, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.backlog) == 0 {
		return pending{}, false
	}
	p := l.backlog[0]
	l.backlog = l.backlog[1:]
	return p, true
}

func (l *lane) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.backlog)
}

// Dispatcher превращает классифицированные события в фразы: по одному обработчику на уровень,
// значит не больше одного запроса к модели на уровень одновременно.
type Dispatcher struct {
	model  ai.LanguageModel
	synth  tts.Synthesizer
	sink   Sink
	opts   Options
	logger *zap.SugaredLogger

	lanes   map[classifier.Tier]*lane
	history *state.State[string]
	seq     atomic.Int64
	arrival atomic.Int64 // номер поступления, общий для всех уровней
	canned  atomic.Int64
	running atomic.Bool

	submitted         atomic.Int64
	ignored           atomic.Int64
	completed         atomic.Int64
	enqueued          atomic.Int64
	rejected          atomic.Int64
	modelFailures     atomic.Int64
	synthesisFailures atomic.Int64
}

func New(model ai.LanguageModel, synth tts.Synthesizer, sink Sink, opts Options) *Dispatcher {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.ModelTimeout <= 0 {
		opts.ModelTimeout = defaultTimeout
	}
	if opts.SynthesisTimeout <= 0 {
		opts.SynthesisTimeout = defaultTimeout
	}
	if opts.EnrichTimeout <= 0 {
		opts.EnrichTimeout = defaultEnrichTimeout
	}
	if opts.CriticalCeiling <= 0 {
		opts.CriticalCeiling = defaultCriticalCeiling
	}
	if opts.ContextWindow <= 0 {
		opts.ContextWindow = 10
	}
	d := &Dispatcher{
		model:   model,
		synth:   synth,
		sink:    sink,
		opts:    opts,
		logger:  opts.Logger,
		lanes:   make(map[classifier.Tier]*lane, len(classifier.Tiers)),
		history: state.New[string](opts.ContextWindow),
	}
	for _, t := range classifier.Tiers {
		bound := opts.BacklogBounds[t]
		if bound <= 0 {
			bound = defaultBacklog
		}
		if t == classifier.Critical {
			bound = opts.CriticalCeiling
		}
		d.lanes[t] = &lane{tier: t, bound: bound, notify: make(chan struct{}, 1)}
	}
	return d
}

// Submit ставит событие в очередь его уровня и сразу возвращается. Ignored отбрасываются.
// При переполнении выбрасывается самое старое ожидающее событие.
func (d *Dispatcher) Submit(ev classifier.Event) {
	l, ok := d.lanes[ev.Tier]
	if !ok {
		d.ignored.Add(1)
		return
	}
	d.submitted.Add(1)
	// Контекст для модели — события до этого, сам он идёт в промпт
	hist := d.history.Snapshot()
	d.history.Add(ev.Summary)

	if old := l.push(pending{event: ev, history: hist, arrival: d.arrival.Add(1)}); old != nil {
		l.dropped.Add(1)
		if ev.Tier == classifier.Critical {
			d.logger.Errorw("Critical backlog ceiling reached, oldest event dropped", "dropped", old.event.Type, "ceiling", l.bound)
		} else {
			d.logger.Warnw("Backlog overflow, oldest event dropped", "tier", ev.Tier, "dropped", old.event.Type, "bound", l.bound)
		}
	}
}

// Run запускает обработчики уровней и ждёт отмены контекста. События, поданные до Run, ждут в очередях.
func (d *Dispatcher) Run(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return errors.New("dispatcher: already running")
	}
	defer d.running.Store(false)

	d.logger.Infow("Dispatcher started", "modelTimeout", d.opts.ModelTimeout.String(), "synthesisTimeout", d.opts.SynthesisTimeout.String())
	g, gctx := errgroup.WithContext(ctx)
	for _, t := range classifier.Tiers {
		l := d.lanes[t]
		g.Go(func() error {
			d.work(gctx, l)
			return nil
		})
	}
	err := g.Wait()
	d.logger.Infow("Dispatcher stopped")
	return err
}

func (d *Dispatcher) work(ctx context.Context, l *lane) {
	for {
		if ctx.Err() != nil {
			return
		}
		p, ok := l.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-l.notify:
				continue
			}
		}
		d.process(ctx, l, p)
	}
}

func (d *Dispatcher) process(ctx context.Context, l *lane, p pending) {
	l.inFlight.Add(1)
	defer l.inFlight.Add(-1)

	pr := PendingResponse{ID: uuid.New(), Event: p.event, State: Requested, CreatedAt: time.Now()}
	defer func() {
		d.completed.Add(1)
		if d.opts.OnResponse != nil {
			d.opts.OnResponse(pr)
		}
	}()

	text, err := d.generate(ctx, p)
	if err != nil {
		if ctx.Err() != nil {
			pr.State, pr.Err = Failed, context.Cause(ctx)
			return
		}
		d.modelFailures.Add(1)
		pr.State, pr.Err = Failed, err
		d.logger.Warnw("Model request failed, event dropped", "id", pr.ID, "event", p.event.Type, "tier", p.event.Tier, "error", err)
		return
	}
	pr.State, pr.Text = Generated, text

	payload, err := guarded(ctx, d.opts.SynthesisTimeout, errors.New("synthesis timeout"), func(c context.Context) (tts.Payload, error) {
		return d.synth.Speak(c, text, d.opts.Voice)
	})
	if err != nil {
		if ctx.Err() != nil {
			pr.State, pr.Err = Failed, context.Cause(ctx)
			return
		}
		d.synthesisFailures.Add(1)
		pr.State, pr.Err = Failed, tts.Wrap("synthesizer", err)
		d.logger.Warnw("Synthesis failed, event dropped", "id", pr.ID, "event", p.event.Type, "tier", p.event.Tier, "error", err)
		return
	}
	pr.State, pr.Payload = Synthesized, payload

	item := playback.Item{
		Tier:       p.event.Tier,
		Payload:    payload,
		Label:      p.event.Type,
		EnqueuedAt: time.Now(),
		Seq:        d.seq.Add(1),
		Arrival:    p.arrival,
	}
	if !d.sink.Enqueue(item) {
		d.rejected.Add(1)
		d.logger.Warnw("Playback queue refused item", "id", pr.ID, "event", p.event.Type)
		return
	}
	d.enqueued.Add(1)
	d.logger.Infow("Response queued", "id", pr.ID, "event", p.event.Type, "tier", p.event.Tier, "seq", item.Seq, "text", text)
}

// generate возвращает текст фразы: заготовку, сырую сводку или ответ модели.
func (d *Dispatcher) generate(ctx context.Context, p pending) (string, error) {
	ev := p.event
	if d.opts.RawDataMode {
		return ev.Summary, nil
	}
	if d.opts.CannedCritical && ev.Tier == classifier.Critical {
		if phrase, ok := cannedFor(ev, d.canned.Add(1)); ok {
			return phrase, nil
		}
	}
	genCtx, cancel := context.WithTimeoutCause(ctx, d.opts.ModelTimeout, errModelTimeout)
	defer cancel()
	prompt := d.buildPrompt(genCtx, ev)
	text, err := guarded(genCtx, d.opts.ModelTimeout, errModelTimeout, func(c context.Context) (string, error) {
		return d.model.Generate(c, prompt, p.history)
	})
	if err != nil {
		var ie *ai.InferenceError
		if !errors.As(err, &ie) {
			err = &ai.InferenceError{Backend: "model", Err: err}
		}
		return "", err
	}
	if text = ai.CleanResponse(text); text == "" {
		return "", &ai.InferenceError{Backend: "model", Err: ai.ErrEmptyResponse}
	}
	return text, nil
}

func (d *Dispatcher) buildPrompt(ctx context.Context, ev classifier.Event) string {
	var b strings.Builder
	if sp := strings.TrimSpace(d.opts.SystemPrompt); sp != "" {
		b.WriteString(sp)
		b.WriteString("\n\n")
	}
	b.WriteString(promptPrefix)
	b.WriteString(ev.Summary)
	if d.opts.GameState != nil {
		b.WriteString("\nShip status: ")
		b.WriteString(d.opts.GameState.Describe())
	}
	if d.opts.Enricher != nil && ev.Type == "FSDJump" {
		if sys, _ := ev.Fields["StarSystem"].(string); sys != "" {
			info, err := guarded(ctx, d.opts.EnrichTimeout, errors.New("enrichment timeout"), func(c context.Context) (string, error) {
				return d.opts.Enricher.Describe(c, sys)
			})
			if err != nil {
				d.logger.Debugw("System enrichment unavailable", "system", sys, "error", err)
			} else if info != "" {
				b.WriteString("\nSystem information: ")
				b.WriteString(info)
			}
		}
	}
	b.WriteString("\nProvide a brief, in-character response (under 20 words).")
	return b.String()
}

// guarded выполняет вызов с дедлайном. Если вызываемый игнорирует контекст,
// его результат выбрасывается, а вызов возвращает причину отмены.
func guarded[T any](parent context.Context, timeout time.Duration, cause error, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeoutCause(parent, timeout, cause)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		ch <- result{v, err}
	}()
	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, context.Cause(ctx)
	}
}

// Stats — счётчики диспетчера.
type Stats struct {
	Submitted         int64                     `json:"submitted"`
	Ignored           int64                     `json:"ignored"`
	Completed         int64                     `json:"completed"`
	Enqueued          int64                     `json:"enqueued"`
	Rejected          int64                     `json:"rejected"`
	ModelFailures     int64                     `json:"modelFailures"`
	SynthesisFailures int64                     `json:"synthesisFailures"`
	Dropped           map[classifier.Tier]int64 `json:"dropped"`
	Backlog           map[classifier.Tier]int   `json:"backlog"`
}

func (d *Dispatcher) Stats() Stats {
	s := Stats{
		Submitted:         d.submitted.Load(),
		Ignored:           d.ignored.Load(),
		Completed:         d.completed.Load(),
		Enqueued:          d.enqueued.Load(),
		Rejected:          d.rejected.Load(),
		ModelFailures:     d.modelFailures.Load(),
		SynthesisFailures: d.synthesisFailures.Load(),
		Dropped:           make(map[classifier.Tier]int64, len(d.lanes)),
		Backlog:           make(map[classifier.Tier]int, len(d.lanes)),
	}
	for t, l := range d.lanes {
		s.Dropped[t] = l.dropped.Load()
		s.Backlog[t] = l.size()
	}
	return s
}

// InFlight — сколько событий уровня сейчас в обработке (0 или 1).
func (d *Dispatcher) InFlight(tier classifier.Tier) int {
	if l, ok := d.lanes[tier]; ok {
		return int(l.inFlight.Load())
	}
	return 0
}

// History — последние сводки событий (контекст модели).
func (d *Dispatcher) History() []string { return d.history.Snapshot() }
