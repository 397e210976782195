package tts

import (
	"context"
	"errors"
	"testing"
)

func TestStubSpeak(t *testing.T) {
	p, err := NewStub().Speak(context.Background(), "Audio test complete.", "alba")
	if err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if p.Format != "stub" || string(p.Audio) != "Audio test complete." {
		t.Fatalf("payload = %+v", p)
	}
	if _, err := NewStub().Speak(context.Background(), " ", ""); !errors.Is(err, ErrEmptyText) {
		t.Fatalf("expected ErrEmptyText, got %v", err)
	}
}

func TestWrapKeepsExistingSynthesisError(t *testing.T) {
	inner := Wrap("google", errors.New("boom"))
	outer := Wrap("yandex", inner)
	var se *SynthesisError
	if !errors.As(outer, &se) || se.Provider != "google" {
		t.Fatalf("Wrap re-wrapped: %v", outer)
	}
	if Wrap("x", nil) != nil {
		t.Fatal("Wrap(nil) != nil")
	}
}
