package dispatcher

import (
	"EliteCompanion/internal/ai"
	"EliteCompanion/internal/classifier"
	"EliteCompanion/internal/service/playback"
	"EliteCompanion/internal/service/tts"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

type modelFunc func(ctx context.Context, prompt string, history []string) (string, error)

func (f modelFunc) Generate(ctx context.Context, prompt string, history []string) (string, error) {
	return f(ctx, prompt, history)
}

type synthFunc func(ctx context.Context, text, voice string) (tts.Payload, error)

func (f synthFunc) Speak(ctx context.Context, text, voice string) (tts.Payload, error) {
	return f(ctx, text, voice)
}

type memorySink struct {
	mu    sync.Mutex
	items []playback.Item
}

func (s *memorySink) Enqueue(it playback.Item) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, it)
	return true
}

func (s *memorySink) snapshot() []playback.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]playback.Item(nil), s.items...)
}

type describerFunc func(ctx context.Context, system string) (string, error)

func (f describerFunc) Describe(ctx context.Context, system string) (string, error) {
	return f(ctx, system)
}

type fixedState string

func (s fixedState) Describe() string { return string(s) }

func ev(typ string, tier classifier.Tier, summary string) classifier.Event {
	return classifier.Event{Type: typ, Tier: tier, Summary: summary, Timestamp: time.Now()}
}

func run(t *testing.T, d *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("Run did not return after cancel")
		}
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func echoModel() modelFunc {
	return func(_ context.Context, prompt string, _ []string) (string, error) {
		i := strings.Index(prompt, promptPrefix)
		line := prompt[i+len(promptPrefix):]
		if j := strings.IndexByte(line, '\n'); j >= 0 {
			line = line[:j]
		}
		return "Copy: " + line, nil
	}
}

func TestBurstKeepsNewestWithinBound(t *testing.T) {
	sink := &memorySink{}
	d := New(echoModel(), tts.NewStub(), sink, Options{
		BacklogBounds: map[classifier.Tier]int{classifier.Ambient: 10, classifier.Important: 10},
	})
	for i := range 50 {
		d.Submit(ev("Music", classifier.Ambient, fmt.Sprintf("e%02d", i)))
	}
	if got := d.Stats().Dropped[classifier.Ambient]; got != 40 {
		t.Fatalf("dropped = %d, want 40", got)
	}
	run(t, d)
	waitFor(t, "10 enqueued", func() bool { return d.Stats().Enqueued == 10 })

	items := sink.snapshot()
	for i, it := range items {
		want := fmt.Sprintf("Copy: e%02d", 40+i)
		if it.Payload.Text != want {
			t.Fatalf("item %d = %q, want %q", i, it.Payload.Text, want)
		}
		if it.Seq != int64(i+1) {
			t.Fatalf("item %d seq = %d", i, it.Seq)
		}
	}
	if st := d.Stats(); st.Submitted != 50 || st.Completed != 10 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestFailingModelEnqueuesNothing(t *testing.T) {
	sink := &memorySink{}
	var failed []PendingResponse
	var mu sync.Mutex
	d := New(modelFunc(func(context.Context, string, []string) (string, error) {
		return "", errors.New("backend unavailable")
	}), tts.NewStub(), sink, Options{OnResponse: func(pr PendingResponse) {
		mu.Lock()
		failed = append(failed, pr)
		mu.Unlock()
	}})
	d.Submit(ev("FSDJump", classifier.Ambient, "a"))
	d.Submit(ev("Bounty", classifier.Important, "b"))
	d.Submit(ev("HullDamage", classifier.Critical, "c"))
	d.Submit(ev("Docked", classifier.Important, "d"))
	run(t, d)
	waitFor(t, "all processed", func() bool { return d.Stats().Completed == 4 })

	st := d.Stats()
	if st.ModelFailures != 4 || st.Enqueued != 0 || len(sink.snapshot()) != 0 {
		t.Fatalf("stats = %+v", st)
	}
	mu.Lock()
	defer mu.Unlock()
	for _, pr := range failed {
		var ie *ai.InferenceError
		if pr.State != Failed || !errors.As(pr.Err, &ie) {
			t.Fatalf("response = %+v", pr)
		}
	}
}

func TestOneModelCallPerTier(t *testing.T) {
	gate := make(chan struct{})
	var mu sync.Mutex
	active := map[string]int{}
	peak := map[string]int{}
	model := modelFunc(func(_ context.Context, prompt string, _ []string) (string, error) {
		key := "amb"
		if strings.Contains(prompt, promptPrefix+"imp") {
			key = "imp"
		}
		mu.Lock()
		active[key]++
		peak[key] = max(peak[key], active[key])
		mu.Unlock()
		<-gate
		mu.Lock()
		active[key]--
		mu.Unlock()
		return "ok", nil
	})
	sink := &memorySink{}
	d := New(model, tts.NewStub(), sink, Options{})
	for i := range 3 {
		d.Submit(ev("Music", classifier.Ambient, fmt.Sprintf("amb-%d", i)))
		d.Submit(ev("Bounty", classifier.Important, fmt.Sprintf("imp-%d", i)))
	}
	run(t, d)
	waitFor(t, "both tiers in flight", func() bool {
		return d.InFlight(classifier.Ambient) == 1 && d.InFlight(classifier.Important) == 1
	})
	close(gate)
	waitFor(t, "all processed", func() bool { return d.Stats().Enqueued == 6 })

	mu.Lock()
	defer mu.Unlock()
	if peak["amb"] != 1 || peak["imp"] != 1 {
		t.Fatalf("peak concurrency = %v, want 1 per tier", peak)
	}
}

func TestHungModelIsAbandoned(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	d := New(modelFunc(func(context.Context, string, []string) (string, error) {
		<-release
		return "too late", nil
	}), tts.NewStub(), &memorySink{}, Options{ModelTimeout: 30 * time.Millisecond})

	var got PendingResponse
	done := make(chan struct{})
	d.opts.OnResponse = func(pr PendingResponse) {
		got = pr
		close(done)
	}
	d.Submit(ev("ShieldState", classifier.Critical, "Shields down"))
	run(t, d)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("hung model call was not abandoned")
	}
	if got.State != Failed || !strings.Contains(got.Err.Error(), "model timeout") {
		t.Fatalf("response = %+v", got)
	}
	if d.Stats().ModelFailures != 1 {
		t.Fatalf("stats = %+v", d.Stats())
	}
}

func TestSynthesisFailureDropsEvent(t *testing.T) {
	sink := &memorySink{}
	d := New(echoModel(), synthFunc(func(context.Context, string, string) (tts.Payload, error) {
		return tts.Payload{}, errors.New("quota exceeded")
	}), sink, Options{})
	d.Submit(ev("Docked", classifier.Important, "Docked at Jameson Memorial"))
	run(t, d)
	waitFor(t, "processed", func() bool { return d.Stats().Completed == 1 })

	if st := d.Stats(); st.SynthesisFailures != 1 || st.ModelFailures != 0 || st.Enqueued != 0 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestPromptCarriesStateAndSystemInfo(t *testing.T) {
	var mu sync.Mutex
	prompts := map[string]string{}
	model := modelFunc(func(_ context.Context, prompt string, _ []string) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case strings.Contains(prompt, "Jumped"):
			prompts["jump"] = prompt
		case strings.Contains(prompt, "Shields"):
			prompts["shields"] = prompt
		default:
			prompts["fuel"] = prompt
		}
		return "Understood.", nil
	})
	sink := &memorySink{}
	d := New(model, tts.NewStub(), sink, Options{
		SystemPrompt: "You are Orca.",
		GameState:    fixedState("Currently in Sol."),
		Enricher: describerFunc(func(_ context.Context, system string) (string, error) {
			if system != "Sol" {
				return "", errors.New("unexpected system " + system)
			}
			return "Federation controlled", nil
		}),
	})
	jump := ev("FSDJump", classifier.Ambient, "Jumped to Sol.")
	jump.Fields = map[string]any{"StarSystem": "Sol"}
	d.Submit(jump)
	d.Submit(ev("ShieldState", classifier.Critical, "Shields are down!"))
	d.Submit(ev("ShipLowFuel", classifier.Critical, "Fuel is low."))
	run(t, d)
	waitFor(t, "3 enqueued", func() bool { return d.Stats().Enqueued == 3 })

	mu.Lock()
	defer mu.Unlock()
	if p := prompts["jump"]; !strings.HasPrefix(p, "You are Orca.\n\n"+promptPrefix+"Jumped to Sol.") ||
		!strings.Contains(p, "\nShip status: Currently in Sol.") ||
		!strings.Contains(p, "\nSystem information: Federation controlled") {
		t.Fatalf("jump prompt = %q", p)
	}
	if strings.Contains(prompts["shields"], "System information") {
		t.Fatalf("non-jump prompt enriched: %q", prompts["shields"])
	}

	var critical []playback.Item
	for _, it := range sink.snapshot() {
		if it.Tier == classifier.Critical {
			critical = append(critical, it)
		}
	}
	if len(critical) != 2 || critical[0].Label != "ShieldState" || critical[1].Label != "ShipLowFuel" || critical[0].Seq >= critical[1].Seq {
		t.Fatalf("critical items = %+v", critical)
	}
}

func TestEnrichmentFailureIsNotFatal(t *testing.T) {
	sink := &memorySink{}
	d := New(echoModel(), tts.NewStub(), sink, Options{
		Enricher: describerFunc(func(context.Context, string) (string, error) {
			return "", errors.New("edsm down")
		}),
	})
	jump := ev("FSDJump", classifier.Ambient, "Jumped to Achenar.")
	jump.Fields = map[string]any{"StarSystem": "Achenar"}
	d.Submit(jump)
	run(t, d)
	waitFor(t, "enqueued", func() bool { return d.Stats().Enqueued == 1 })
}

func TestSlowEnrichmentHasOwnDeadline(t *testing.T) {
	sink := &memorySink{}
	d := New(echoModel(), tts.NewStub(), sink, Options{
		ModelTimeout:  time.Second,
		EnrichTimeout: 20 * time.Millisecond,
		Enricher: describerFunc(func(ctx context.Context, _ string) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		}),
	})
	jump := ev("FSDJump", classifier.Ambient, "Jumped to Achenar.")
	jump.Fields = map[string]any{"StarSystem": "Achenar"}
	start := time.Now()
	d.Submit(jump)
	run(t, d)
	waitFor(t, "enqueued", func() bool { return d.Stats().Enqueued == 1 })
	if took := time.Since(start); took > 500*time.Millisecond {
		t.Fatalf("generation took %s, enrichment deadline not applied", took)
	}
}

func TestEnrichmentAndModelShareDeadline(t *testing.T) {
	var (
		mu       sync.Mutex
		finished time.Duration
		failure  error
	)
	start := time.Now()
	d := New(echoModel(), tts.NewStub(), &memorySink{}, Options{
		ModelTimeout:  100 * time.Millisecond,
		EnrichTimeout: time.Second,
		Enricher: describerFunc(func(context.Context, string) (string, error) {
			select {} // не слушает контекст
		}),
		OnResponse: func(pr PendingResponse) {
			mu.Lock()
			finished, failure = time.Since(start), pr.Err
			mu.Unlock()
		},
	})
	jump := ev("FSDJump", classifier.Ambient, "Jumped to Achenar.")
	jump.Fields = map[string]any{"StarSystem": "Achenar"}
	d.Submit(jump)
	run(t, d)
	waitFor(t, "model failure", func() bool { return d.Stats().ModelFailures == 1 })

	mu.Lock()
	defer mu.Unlock()
	if failure == nil || !strings.Contains(failure.Error(), "model timeout") {
		t.Fatalf("failure = %v", failure)
	}
	if finished >= 190*time.Millisecond {
		t.Fatalf("generation took %s, want a single model deadline", finished)
	}
}

func TestCannedCriticalSkipsModel(t *testing.T) {
	var calls int
	var mu sync.Mutex
	model := modelFunc(func(context.Context, string, []string) (string, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return "From the model.", nil
	})
	sink := &memorySink{}
	d := New(model, tts.NewStub(), sink, Options{CannedCritical: true})
	d.Submit(ev("ShipLowFuel", classifier.Critical, "Fuel is low."))
	d.Submit(ev("HullDamage", classifier.Critical, "Hull at 20%."))
	run(t, d)
	waitFor(t, "2 enqueued", func() bool { return d.Stats().Enqueued == 2 })

	items := sink.snapshot()
	if items[0].Payload.Text != "Fuel critical! Find a refuel immediately!" {
		t.Fatalf("canned text = %q", items[0].Payload.Text)
	}
	if items[1].Payload.Text != "From the model." {
		t.Fatalf("HullDamage text = %q", items[1].Payload.Text)
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("model calls = %d, want 1", calls)
	}
}

func TestRawDataModeSpeaksSummary(t *testing.T) {
	sink := &memorySink{}
	d := New(modelFunc(func(context.Context, string, []string) (string, error) {
		t.Error("model called in raw data mode")
		return "", nil
	}), tts.NewStub(), sink, Options{RawDataMode: true})
	d.Submit(ev("FSDJump", classifier.Ambient, "Jumped to Lave."))
	run(t, d)
	waitFor(t, "enqueued", func() bool { return d.Stats().Enqueued == 1 })
	if got := sink.snapshot()[0].Payload.Text; got != "Jumped to Lave." {
		t.Fatalf("text = %q", got)
	}
}

func TestIgnoredEventsAreNotQueued(t *testing.T) {
	d := New(echoModel(), tts.NewStub(), &memorySink{}, Options{})
	d.Submit(ev("Fileheader", classifier.Ignored, ""))
	if st := d.Stats(); st.Ignored != 1 || st.Submitted != 0 || len(d.History()) != 0 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestModelSeesPrecedingSummaries(t *testing.T) {
	var mu sync.Mutex
	var seen [][]string
	model := modelFunc(func(_ context.Context, _ string, history []string) (string, error) {
		mu.Lock()
		seen = append(seen, history)
		mu.Unlock()
		return "ok", nil
	})
	d := New(model, tts.NewStub(), &memorySink{}, Options{ContextWindow: 2})
	for _, s := range []string{"one", "two", "three", "four"} {
		d.Submit(ev("Music", classifier.Ambient, s))
	}
	run(t, d)
	waitFor(t, "processed", func() bool { return d.Stats().Completed == 4 })

	mu.Lock()
	defer mu.Unlock()
	want := [][]string{nil, {"one"}, {"one", "two"}, {"two", "three"}}
	for i := range want {
		if strings.Join(seen[i], ",") != strings.Join(want[i], ",") {
			t.Fatalf("history %d = %v, want %v", i, seen[i], want[i])
		}
	}
}

func TestRunTwiceFails(t *testing.T) {
	d := New(echoModel(), tts.NewStub(), &memorySink{}, Options{})
	run(t, d)
	waitFor(t, "running", func() bool { return d.running.Load() })
	if err := d.Run(context.Background()); err == nil {
		t.Fatal("second Run must fail")
	}
}

// timedOutput «звучит» d на каждую фразу и запоминает порядок.
type timedOutput struct {
	d     time.Duration
	mu    sync.Mutex
	texts []string
}

func (o *timedOutput) Play(p tts.Payload) (<-chan error, error) {
	o.mu.Lock()
	o.texts = append(o.texts, p.Text)
	o.mu.Unlock()
	ch := make(chan error, 1)
	time.AfterFunc(o.d, func() { ch <- nil })
	return ch, nil
}

func (o *timedOutput) Stop() {}

func (o *timedOutput) played() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.texts...)
}

// slowOn задерживает ответ на сводки, содержащие keyword.
func slowOn(keyword string, delay time.Duration) modelFunc {
	echo := echoModel()
	return func(ctx context.Context, prompt string, history []string) (string, error) {
		if strings.Contains(prompt, keyword) {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", context.Cause(ctx)
			}
		}
		return echo(ctx, prompt, history)
	}
}

func TestArrivalIsAssignedAtSubmit(t *testing.T) {
	sink := &memorySink{}
	d := New(slowOn("jump", 50*time.Millisecond), tts.NewStub(), sink, Options{})
	d.Submit(ev("FSDJump", classifier.Ambient, "jump"))
	d.Submit(ev("ShieldState", classifier.Critical, "shields"))
	run(t, d)
	waitFor(t, "both enqueued", func() bool { return d.Stats().Enqueued == 2 })

	items := sink.snapshot()
	if items[0].Label != "ShieldState" || items[0].Arrival != 2 || items[0].Seq != 1 {
		t.Fatalf("first item = %+v", items[0])
	}
	if items[1].Label != "FSDJump" || items[1].Arrival != 1 || items[1].Seq != 2 {
		t.Fatalf("second item = %+v", items[1])
	}
}

func TestLateAmbientNeverFollowsCritical(t *testing.T) {
	out := &timedOutput{d: 30 * time.Millisecond}
	q := playback.New(out, nil, playback.Options{SupersedeLower: true})
	d := New(slowOn("jump", 80*time.Millisecond), tts.NewStub(), q, Options{})

	d.Submit(ev("FSDJump", classifier.Ambient, "jump"))
	d.Submit(ev("ShieldState", classifier.Critical, "shields"))
	d.Submit(ev("ShipLowFuel", classifier.Critical, "fuel"))
	run(t, d)

	waitFor(t, "all processed", func() bool { return d.Stats().Completed == 3 })
	waitFor(t, "queue idle", func() bool { return q.Snapshot().Phase == playback.Idle })

	got := out.played()
	want := []string{"Copy: shields", "Copy: fuel"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("play order = %q, want %q", got, want)
	}
	if c := q.Snapshot().Counters; c.Superseded != 1 {
		t.Fatalf("superseded = %d, want 1", c.Superseded)
	}
}
