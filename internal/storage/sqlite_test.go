package storage

import (
	"EliteCompanion/internal/classifier"
	"EliteCompanion/internal/journal"
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "companion.db"), nil)
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCheckpointRoundTrip(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	if _, ok, err := s.LoadCheckpoint(ctx); err != nil || ok {
		t.Fatalf("empty store: ok=%v err=%v", ok, err)
	}
	if err := s.SaveCheckpoint(ctx, journal.Checkpoint{File: "Journal.01.log", Offset: 120}); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}
	if err := s.SaveCheckpoint(ctx, journal.Checkpoint{File: "Journal.02.log", Offset: 42}); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}
	cp, ok, err := s.LoadCheckpoint(ctx)
	if err != nil || !ok {
		t.Fatalf("LoadCheckpoint: ok=%v err=%v", ok, err)
	}
	if cp.File != "Journal.02.log" || cp.Offset != 42 {
		t.Fatalf("checkpoint = %+v", cp)
	}
}

func TestEventsNewestFirst(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	for i, typ := range []string{"FSDJump", "ShieldState", "ShipLowFuel"} {
		ev := classifier.Event{Type: typ, Tier: classifier.Critical, Summary: typ + " happened", Timestamp: now.Add(time.Duration(i) * time.Second)}
		if err := s.SaveEvent(ctx, ev); err != nil {
			t.Fatalf("SaveEvent failed: %v", err)
		}
	}
	got, err := s.RecentEvents(ctx, 2)
	if err != nil {
		t.Fatalf("RecentEvents failed: %v", err)
	}
	if len(got) != 2 || got[0].Type != "ShipLowFuel" || got[1].Type != "ShieldState" {
		t.Fatalf("events = %+v", got)
	}
	if got[0].Tier != classifier.Critical || !got[0].Timestamp.Equal(now.Add(2*time.Second)) {
		t.Fatalf("event = %+v", got[0])
	}
}

func TestResponses(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	rs := []Response{
		{ID: "a", Event: "Docked", Tier: "important", State: "synthesized", Text: "Docked.", CreatedAt: base},
		{ID: "b", Event: "Bounty", Tier: "important", State: "failed", Error: "model timeout", CreatedAt: base.Add(time.Second)},
	}
	for _, r := range rs {
		if err := s.SaveResponse(ctx, r); err != nil {
			t.Fatalf("SaveResponse failed: %v", err)
		}
	}
	got, err := s.RecentResponses(ctx, 10)
	if err != nil {
		t.Fatalf("RecentResponses failed: %v", err)
	}
	if len(got) != 2 || got[0].ID != "b" || got[0].Error != "model timeout" || got[1].Text != "Docked." {
		t.Fatalf("responses = %+v", got)
	}
}
