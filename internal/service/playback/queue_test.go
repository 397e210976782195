package playback

import (
	"EliteCompanion/internal/classifier"
	"EliteCompanion/internal/service/tts"
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"
)

// fakeOutput запоминает запуски; завершение фразы тест выдаёт вручную через finish.
type fakeOutput struct {
	mu    sync.Mutex
	plays []string
	chans []chan error
	stops int
	fail  map[string]error
}

func newFakeOutput() *fakeOutput { return &fakeOutput{fail: map[string]error{}} }

func (f *fakeOutput) Play(p tts.Payload) (<-chan error, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[p.Text]; err != nil {
		return nil, err
	}
	ch := make(chan error, 1)
	f.plays = append(f.plays, p.Text)
	f.chans = append(f.chans, ch)
	return ch, nil
}

func (f *fakeOutput) Stop() {
	f.mu.Lock()
	f.stops++
	f.mu.Unlock()
}

func (f *fakeOutput) played() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.plays)
}

func (f *fakeOutput) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

// finish завершает i-й запуск (в порядке вызовов Play).
func (f *fakeOutput) finish(i int) {
	f.mu.Lock()
	ch := f.chans[i]
	f.mu.Unlock()
	ch <- nil
}

func item(tier classifier.Tier, text string, seq int64) Item {
	return Item{Tier: tier, Label: text, Payload: tts.Payload{Format: "stub", Audio: []byte(text), Text: text}, Seq: seq}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func currentLabel(q *Queue) string {
	if c := q.Snapshot().Current; c != nil {
		return c.Label
	}
	return ""
}

func TestCriticalPreemptsAmbient(t *testing.T) {
	out := newFakeOutput()
	q := New(out, nil, Options{})

	q.Enqueue(item(classifier.Ambient, "jump", 1))
	q.Enqueue(item(classifier.Critical, "shields", 2))

	if out.stopCount() != 1 {
		t.Fatalf("Stop called %d times, want 1", out.stopCount())
	}
	if got := out.played(); !slices.Equal(got, []string{"jump", "shields"}) {
		t.Fatalf("played = %v", got)
	}
	st := q.Snapshot()
	if st.Phase != Playing || st.Current == nil || st.Current.Label != "shields" {
		t.Fatalf("snapshot = %+v", st)
	}
	if st.Counters.Preempted != 1 || st.Counters.Discarded != 1 {
		t.Fatalf("counters = %+v", st.Counters)
	}

	// Запоздалое завершение вытесненной фразы не двигает очередь
	out.finish(0)
	time.Sleep(20 * time.Millisecond)
	if currentLabel(q) != "shields" {
		t.Fatalf("stale completion advanced the queue: %+v", q.Snapshot())
	}

	out.finish(1)
	waitFor(t, "idle", func() bool { return q.Snapshot().Phase == Idle })
	if c := q.Snapshot().Counters; c.Played != 1 {
		t.Fatalf("played counter = %d, want 1", c.Played)
	}
}

func TestFIFOWithinTier(t *testing.T) {
	out := newFakeOutput()
	q := New(out, nil, Options{})

	for i, s := range []string{"a1", "a2", "a3"} {
		q.Enqueue(item(classifier.Ambient, s, int64(i+1)))
	}
	if st := q.Snapshot(); st.Pending[classifier.Ambient] != 2 {
		t.Fatalf("pending = %v", st.Pending)
	}
	for i := range 3 {
		waitFor(t, "next item", func() bool { return len(out.played()) == i+1 })
		out.finish(i)
	}
	waitFor(t, "idle", func() bool { return q.Snapshot().Phase == Idle })
	if got := out.played(); !slices.Equal(got, []string{"a1", "a2", "a3"}) {
		t.Fatalf("played = %v", got)
	}
}

func TestSeqOrderWithinTier(t *testing.T) {
	out := newFakeOutput()
	q := New(out, nil, Options{})

	q.Enqueue(item(classifier.Critical, "busy", 1))
	q.Enqueue(item(classifier.Ambient, "late", 5))
	q.Enqueue(item(classifier.Ambient, "early", 3))

	queued := q.Snapshot().Queued[classifier.Ambient]
	if len(queued) != 2 || queued[0].Label != "early" || queued[1].Label != "late" {
		t.Fatalf("queued = %+v", queued)
	}
}

func TestHigherTierQueuedPlaysFirst(t *testing.T) {
	out := newFakeOutput()
	q := New(out, nil, Options{})

	q.Enqueue(item(classifier.Important, "i1", 1))
	q.Enqueue(item(classifier.Ambient, "a1", 2))
	q.Enqueue(item(classifier.Important, "i2", 3))

	out.finish(0)
	waitFor(t, "i2", func() bool { return currentLabel(q) == "i2" })
	out.finish(1)
	waitFor(t, "a1", func() bool { return currentLabel(q) == "a1" })
	if out.stopCount() != 0 {
		t.Fatalf("equal/lower tier arrivals must not stop playback, stops = %d", out.stopCount())
	}
}

func arrived(it Item, arrival int64) Item {
	it.Arrival = arrival
	return it
}

func TestCriticalSupersedesLowerTiers(t *testing.T) {
	out := newFakeOutput()
	q := New(out, nil, Options{SupersedeLower: true})

	q.Enqueue(arrived(item(classifier.Important, "dock", 1), 1))
	q.Enqueue(arrived(item(classifier.Ambient, "scan", 2), 2))
	q.Enqueue(arrived(item(classifier.Important, "bounty", 3), 3))
	q.Enqueue(arrived(item(classifier.Critical, "shields", 4), 5))

	st := q.Snapshot()
	if st.PendingTotal() != 0 || st.Counters.Superseded != 2 {
		t.Fatalf("pending lower tiers not cleared: %+v", st)
	}

	// Ответ на событие, поступившее до критичного, готов позже него
	if !q.Enqueue(arrived(item(classifier.Ambient, "jump", 5), 4)) {
		t.Fatal("stale item must be accepted and dropped, not refused")
	}
	q.Enqueue(arrived(item(classifier.Ambient, "music", 6), 6))
	q.Enqueue(item(classifier.Ambient, "audio test", 7))

	if c := q.Snapshot().Counters; c.Superseded != 3 {
		t.Fatalf("superseded = %d, want 3", c.Superseded)
	}
	out.finish(1)
	waitFor(t, "music", func() bool { return currentLabel(q) == "music" })
	out.finish(2)
	waitFor(t, "audio test", func() bool { return currentLabel(q) == "audio test" })

	if got := out.played(); !slices.Equal(got, []string{"dock", "shields", "music", "audio test"}) {
		t.Fatalf("played = %v", got)
	}
}

func TestUnboundCriticalKeepsLowerTiers(t *testing.T) {
	out := newFakeOutput()
	q := New(out, nil, Options{SupersedeLower: true})

	q.Enqueue(arrived(item(classifier.Ambient, "music", 1), 1))
	q.Enqueue(arrived(item(classifier.Ambient, "scan", 2), 2))
	q.Enqueue(item(classifier.Critical, "audio test", 3))

	st := q.Snapshot()
	if st.Pending[classifier.Ambient] != 1 || st.Counters.Superseded != 0 {
		t.Fatalf("snapshot = %+v", st)
	}
}

func TestLateLowerTierPlaysWithoutSupersede(t *testing.T) {
	out := newFakeOutput()
	q := New(out, nil, Options{})

	q.Enqueue(arrived(item(classifier.Critical, "shields", 1), 2))
	q.Enqueue(arrived(item(classifier.Ambient, "jump", 2), 1))
	out.finish(0)
	waitFor(t, "jump", func() bool { return currentLabel(q) == "jump" })
	if c := q.Snapshot().Counters; c.Superseded != 0 {
		t.Fatalf("superseded = %d", c.Superseded)
	}
}

func TestRequeuePolicy(t *testing.T) {
	out := newFakeOutput()
	q := New(out, nil, Options{PreemptPolicy: RequeuePreempted})

	q.Enqueue(item(classifier.Ambient, "jump", 1))
	q.Enqueue(item(classifier.Ambient, "scan", 2))
	q.Enqueue(item(classifier.Critical, "fuel", 3))

	queued := q.Snapshot().Queued[classifier.Ambient]
	if len(queued) != 2 || queued[0].Label != "jump" || queued[1].Label != "scan" {
		t.Fatalf("requeued item not at head: %+v", queued)
	}
	out.finish(1)
	waitFor(t, "jump replay", func() bool { return currentLabel(q) == "jump" })
	if c := q.Snapshot().Counters; c.Discarded != 0 || c.Preempted != 1 {
		t.Fatalf("counters = %+v", c)
	}
}

func TestOutputFailureSkipsToNext(t *testing.T) {
	out := newFakeOutput()
	out.fail["broken"] = errors.New("device lost")
	q := New(out, nil, Options{})

	q.Enqueue(item(classifier.Ambient, "first", 1))
	q.Enqueue(item(classifier.Ambient, "broken", 2))
	q.Enqueue(item(classifier.Ambient, "third", 3))

	out.finish(0)
	waitFor(t, "third", func() bool { return currentLabel(q) == "third" })
	if c := q.Snapshot().Counters; c.Failed != 1 || c.Played != 1 {
		t.Fatalf("counters = %+v", c)
	}
}

func TestPlaybackTimeout(t *testing.T) {
	out := newFakeOutput()
	q := New(out, nil, Options{PlaybackTimeout: 20 * time.Millisecond})

	q.Enqueue(item(classifier.Important, "stuck", 1))
	waitFor(t, "idle after timeout", func() bool { return q.Snapshot().Phase == Idle })
	if c := q.Snapshot().Counters; c.Failed != 1 {
		t.Fatalf("counters = %+v", c)
	}
	if out.stopCount() != 1 {
		t.Fatalf("Stop calls = %d, want 1", out.stopCount())
	}
}

func TestCloseDiscard(t *testing.T) {
	out := newFakeOutput()
	q := New(out, nil, Options{})

	q.Enqueue(item(classifier.Ambient, "a1", 1))
	q.Enqueue(item(classifier.Ambient, "a2", 2))
	q.Enqueue(item(classifier.Important, "i1", 3))

	if err := q.Close(context.Background(), Discard); err != nil {
		t.Fatalf("Close: %v", err)
	}
	st := q.Snapshot()
	if st.Phase != Idle || st.PendingTotal() != 0 || !st.Closed {
		t.Fatalf("snapshot after close = %+v", st)
	}
	if q.Enqueue(item(classifier.Critical, "late", 4)) {
		t.Fatal("Enqueue after Close accepted")
	}
	// i1 вытеснил a1, затем Close: a2 и i1 выброшены
	if st.Counters.Discarded != 3 || st.Counters.Rejected != 0 {
		t.Fatalf("counters = %+v", st.Counters)
	}
	if q.Snapshot().Counters.Rejected != 1 {
		t.Fatal("rejected item not counted")
	}
}

func TestCloseDrain(t *testing.T) {
	out := newFakeOutput()
	q := New(out, nil, Options{})

	q.Enqueue(item(classifier.Ambient, "a1", 1))
	q.Enqueue(item(classifier.Ambient, "a2", 2))

	done := make(chan error, 1)
	go func() { done <- q.Close(context.Background(), Drain) }()
	waitFor(t, "closed", func() bool { return q.Snapshot().Closed })
	if q.Enqueue(item(classifier.Critical, "late", 3)) {
		t.Fatal("Enqueue during drain accepted")
	}

	out.finish(0)
	waitFor(t, "a2", func() bool { return currentLabel(q) == "a2" })
	select {
	case err := <-done:
		t.Fatalf("Close returned before drain finished: %v", err)
	default:
	}
	out.finish(1)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Close: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close(Drain) did not return")
	}
	if c := q.Snapshot().Counters; c.Played != 2 {
		t.Fatalf("counters = %+v", c)
	}
}

func TestCloseDrainBoundedByContext(t *testing.T) {
	out := newFakeOutput()
	q := New(out, nil, Options{})
	q.Enqueue(item(classifier.Ambient, "endless", 1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.Close(ctx, Drain); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Close = %v, want deadline exceeded", err)
	}
	if st := q.Snapshot(); st.Phase != Idle || st.Counters.Discarded != 1 {
		t.Fatalf("snapshot = %+v", st)
	}
}

func TestParsePolicies(t *testing.T) {
	if p, err := ParsePreemptPolicy("Requeue"); err != nil || p != RequeuePreempted {
		t.Fatalf("ParsePreemptPolicy = %v, %v", p, err)
	}
	if _, err := ParsePreemptPolicy("keep"); err == nil {
		t.Fatal("expected error for unknown policy")
	}
	if m, err := ParseShutdownMode("drain"); err != nil || m != Drain {
		t.Fatalf("ParseShutdownMode = %v, %v", m, err)
	}
}
