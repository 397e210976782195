package playback

import (
	"EliteCompanion/internal/classifier"
	"EliteCompanion/internal/service/tts"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// AudioOutput — устройство воспроизведения. Play не блокирует: завершение
// (или ошибка) приходит в канал. Stop обрывает текущую фразу немедленно.
type AudioOutput interface {
	Play(p tts.Payload) (<-chan error, error)
	Stop()
}

// Item — готовая к воспроизведению фраза.
type Item struct {
	Tier       classifier.Tier
	Payload    tts.Payload
	Label      string // тип события, для логов и статуса
	EnqueuedAt time.Time
	Seq        int64 // монотонный номер, задаёт порядок внутри уровня
	// Arrival — номер поступления исходного события; 0 — фраза не привязана к событию.
	Arrival int64
}

// Phase — фаза очереди.
type Phase int

const (
	Idle Phase = iota
	Playing
	Preempting
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Playing:
		return "playing"
	case Preempting:
		return "preempting"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// PreemptPolicy — судьба прерванной фразы.
type PreemptPolicy int

const (
	DiscardPreempted PreemptPolicy = iota
	RequeuePreempted
)

// ShutdownMode — режим Close.
type ShutdownMode int

const (
	Discard ShutdownMode = iota
	Drain
)

func (p PreemptPolicy) String() string {
	if p == RequeuePreempted {
		return "requeue"
	}
	return "discard"
}

func (m ShutdownMode) String() string {
	if m == Drain {
		return "drain"
	}
	return "discard"
}

func ParsePreemptPolicy(s string) (PreemptPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "discard":
		return DiscardPreempted, nil
	case "requeue":
		return RequeuePreempted, nil
	default:
		return DiscardPreempted, fmt.Errorf("playback: unknown preempt policy %q", s)
	}
}

func ParseShutdownMode(s string) (ShutdownMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "discard":
		return Discard, nil
	case "drain":
		return Drain, nil
	default:
		return Discard, fmt.Errorf("playback: unknown shutdown mode %q", s)
	}
}

type Options struct {
	PreemptPolicy PreemptPolicy
	// SupersedeLower: критичная фраза снимает ожидающие фразы ниже уровнем, а фразы ниже уровнем
	// для событий, поступивших раньше неё, отклоняются.
	SupersedeLower bool
	// PlaybackTimeout — сколько максимум ждём завершения одной фразы; 0 — без ограничения.
	PlaybackTimeout time.Duration
}

var ErrPlaybackTimeout = errors.New("playback: item did not finish in time")

const numTiers = int(classifier.Critical) + 1

// state — явное состояние очереди. Меняется только под Queue.mu.
type state struct {
	phase   Phase
	current *Item
	abort   chan struct{} // закрывается, когда текущая фраза снята (вытеснение, Close)
	pending [numTiers][]Item
}

// Queue — приоритетная очередь воспроизведения. Все переходы под одним мьютексом;
// сигналы завершения помечены поколением, устаревшие игнорируются.
type Queue struct {
	out    AudioOutput
	logger *zap.SugaredLogger
	opts   Options

	mu      sync.Mutex
	st      state
	gen     uint64
	closed  bool
	drained chan struct{} // закрывается при переходе в Idle после Close(Drain)
	stats   Counters
	// lastCritical — наибольший Arrival принятой критичной фразы.
	lastCritical int64
}

// Counters — накопительные счётчики очереди.
type Counters struct {
	Played    int64 `json:"played"`
	Preempted int64 `json:"preempted"`
	Discarded int64 `json:"discarded"`
	Failed    int64 `json:"failed"`
	Rejected  int64 `json:"rejected"`
	// Superseded — фразы, снятые или отклонённые из-за более поздней критичной.
	Superseded int64 `json:"superseded"`
}

func New(out AudioOutput, logger *zap.SugaredLogger, opts Options) *Queue {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Queue{out: out, logger: logger, opts: opts}
}

// Enqueue принимает фразу. Более высокий уровень вытесняет звучащую фразу,
// равный или ниже — встаёт в очередь своего уровня по Seq. false — очередь закрыта.
// Фраза, вытесненная правилом SupersedeLower, считается принятой и сразу выбрасывается.
func (q *Queue) Enqueue(item Item) bool {
	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = time.Now()
	}
	item.Tier = clampTier(item.Tier)

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.stats.Rejected++
		q.logger.Warnw("Playback queue closed, item rejected", "label", item.Label, "tier", item.Tier)
		return false
	}

	if q.opts.SupersedeLower && q.supersede(item) {
		return true
	}

	switch q.st.phase {
	case Idle:
		q.start(item)
	default:
		if item.Tier > q.st.current.Tier {
			q.preempt(item)
		} else {
			q.insert(item)
		}
	}
	return true
}

// supersede применяет правило SupersedeLower; true — фраза устарела и выброшена. Под q.mu.
func (q *Queue) supersede(item Item) bool {
	if item.Tier < classifier.Critical {
		if item.Arrival > 0 && item.Arrival < q.lastCritical {
			q.stats.Superseded++
			q.logger.Infow("Stale phrase superseded by critical", "label", item.Label, "tier", item.Tier, "arrival", item.Arrival, "critical", q.lastCritical)
			return true
		}
		return false
	}
	if item.Arrival == 0 {
		// Служебная фраза (проверка звука) чужие не снимает
		return false
	}
	q.lastCritical = max(q.lastCritical, item.Arrival)
	n := 0
	for t := range classifier.Critical {
		n += len(q.st.pending[t])
		q.st.pending[t] = nil
	}
	if n > 0 {
		q.stats.Superseded += int64(n)
		q.logger.Infow("Lower tier phrases cleared by critical", "count", n, "by", item.Label)
	}
	return false
}

// start запускает фразу; если устройство отказало — берёт следующую. Под q.mu.
func (q *Queue) start(item Item) {
	for {
		q.gen++
		gen := q.gen
		done, err := q.out.Play(item.Payload)
		if err == nil {
			it := item
			abort := make(chan struct{})
			q.st.phase = Playing
			q.st.current = &it
			q.st.abort = abort
			q.logger.Infow("Playback started", "label", item.Label, "tier", item.Tier, "seq", item.Seq)
			go q.wait(gen, done, abort)
			return
		}
		q.stats.Failed++
		q.logger.Errorw("Audio output failed", "label", item.Label, "tier", item.Tier, "error", err)
		next, ok := q.popNext()
		if !ok {
			q.toIdle()
			return
		}
		item = next
	}
}

func (q *Queue) wait(gen uint64, done <-chan error, abort <-chan struct{}) {
	var timeout <-chan time.Time
	if q.opts.PlaybackTimeout > 0 {
		t := time.NewTimer(q.opts.PlaybackTimeout)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case err := <-done:
		q.advance(gen, err)
	case <-timeout:
		q.advance(gen, ErrPlaybackTimeout)
	case <-abort:
	}
}

// advance обрабатывает завершение фразы поколения gen.
func (q *Queue) advance(gen uint64, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if gen != q.gen || q.st.phase != Playing {
		q.logger.Debugw("Stale playback completion ignored", "gen", gen, "current", q.gen)
		return
	}
	cur := q.st.current
	switch {
	case errors.Is(err, ErrPlaybackTimeout):
		q.out.Stop()
		q.stats.Failed++
		q.logger.Warnw("Playback timed out", "label", cur.Label, "timeout", q.opts.PlaybackTimeout.String())
	case err != nil:
		q.stats.Failed++
		q.logger.Warnw("Playback finished with error", "label", cur.Label, "error", err)
	default:
		q.stats.Played++
		q.logger.Infow("Playback finished", "label", cur.Label, "tier", cur.Tier, "seq", cur.Seq)
	}
	q.st.current = nil
	q.st.abort = nil
	if next, ok := q.popNext(); ok {
		q.start(next)
		return
	}
	q.toIdle()
}

// preempt обрывает текущую фразу ради более срочной. Под q.mu.
func (q *Queue) preempt(item Item) {
	q.st.phase = Preempting
	prev := *q.st.current
	close(q.st.abort)
	q.out.Stop()
	q.gen++
	q.stats.Preempted++
	if q.opts.PreemptPolicy == RequeuePreempted {
		q.st.pending[prev.Tier] = slices.Insert(q.st.pending[prev.Tier], 0, prev)
	} else {
		q.stats.Discarded++
	}
	q.logger.Infow("Playback preempted", "preempted", prev.Label, "tier", prev.Tier, "by", item.Label, "byTier", item.Tier, "policy", q.opts.PreemptPolicy)
	q.st.current = nil
	q.st.abort = nil
	q.start(item)
}

// insert ставит фразу в очередь её уровня с сохранением порядка Seq.
func (q *Queue) insert(item Item) {
	list := q.st.pending[item.Tier]
	idx, _ := slices.BinarySearchFunc(list, item, func(a, b Item) int {
		if a.Seq != b.Seq {
			if a.Seq < b.Seq {
				return -1
			}
			return 1
		}
		// Равные встают после уже стоящих
		if a.EnqueuedAt.After(b.EnqueuedAt) {
			return 1
		}
		return -1
	})
	q.st.pending[item.Tier] = slices.Insert(list, idx, item)
}

// popNext снимает голову самого высокого непустого уровня.
func (q *Queue) popNext() (Item, bool) {
	for t := numTiers - 1; t >= 0; t-- {
		if len(q.st.pending[t]) > 0 {
			it := q.st.pending[t][0]
			q.st.pending[t] = q.st.pending[t][1:]
			return it, true
		}
	}
	return Item{}, false
}

func (q *Queue) toIdle() {
	q.st.phase = Idle
	q.st.current = nil
	q.st.abort = nil
	if q.closed && q.drained != nil {
		close(q.drained)
		q.drained = nil
	}
}

// Close закрывает очередь. Discard — обрывает текущую фразу и выбрасывает ожидающие.
// Drain — перестаёт принимать новые и ждёт, пока ожидающие доиграют, не дольше ctx;
// по истечении ctx оставшееся выбрасывается.
func (q *Queue) Close(ctx context.Context, mode ShutdownMode) error {
	q.mu.Lock()
	alreadyClosed := q.closed
	q.closed = true
	if mode == Discard || q.st.phase == Idle {
		q.discardLocked()
		q.mu.Unlock()
		if !alreadyClosed {
			q.logger.Infow("Playback queue closed", "mode", "discard")
		}
		return nil
	}
	if q.drained == nil {
		q.drained = make(chan struct{})
	}
	drained := q.drained
	q.mu.Unlock()

	q.logger.Infow("Draining playback queue")
	select {
	case <-drained:
		q.logger.Infow("Playback queue drained")
		return nil
	case <-ctx.Done():
		q.mu.Lock()
		q.discardLocked()
		q.mu.Unlock()
		q.logger.Warnw("Playback drain interrupted", "cause", context.Cause(ctx))
		return context.Cause(ctx)
	}
}

func (q *Queue) discardLocked() {
	for t := range q.st.pending {
		q.stats.Discarded += int64(len(q.st.pending[t]))
		q.st.pending[t] = nil
	}
	if q.st.current != nil {
		close(q.st.abort)
		q.out.Stop()
		q.gen++
		q.stats.Discarded++
	}
	q.toIdle()
}

// ItemInfo — фраза в снимке состояния (без аудио).
type ItemInfo struct {
	Tier       classifier.Tier `json:"tier"`
	Label      string          `json:"label"`
	Text       string          `json:"text"`
	Seq        int64           `json:"seq"`
	Arrival    int64           `json:"arrival,omitempty"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
}

// Status — снимок состояния очереди.
type Status struct {
	Phase    Phase                          `json:"phase"`
	Current  *ItemInfo                      `json:"current,omitempty"`
	Pending  map[classifier.Tier]int        `json:"pending"`
	Queued   map[classifier.Tier][]ItemInfo `json:"-"`
	Closed   bool                           `json:"closed"`
	Counters Counters                       `json:"counters"`
}

func (s Status) PendingTotal() int {
	n := 0
	for _, c := range s.Pending {
		n += c
	}
	return n
}

func (q *Queue) Snapshot() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	st := Status{
		Phase:    q.st.phase,
		Pending:  make(map[classifier.Tier]int, numTiers),
		Queued:   make(map[classifier.Tier][]ItemInfo, numTiers),
		Closed:   q.closed,
		Counters: q.stats,
	}
	if q.st.current != nil {
		info := toInfo(*q.st.current)
		st.Current = &info
	}
	for t := range numTiers {
		tier := classifier.Tier(t)
		if len(q.st.pending[t]) == 0 {
			continue
		}
		st.Pending[tier] = len(q.st.pending[t])
		infos := make([]ItemInfo, 0, len(q.st.pending[t]))
		for _, it := range q.st.pending[t] {
			infos = append(infos, toInfo(it))
		}
		st.Queued[tier] = infos
	}
	return st
}

func toInfo(it Item) ItemInfo {
	return ItemInfo{Tier: it.Tier, Label: it.Label, Text: it.Payload.Text, Seq: it.Seq, Arrival: it.Arrival, EnqueuedAt: it.EnqueuedAt}
}

func clampTier(t classifier.Tier) classifier.Tier {
	return min(max(t, classifier.Ignored), classifier.Critical)
}
