package gemini

import (
	"EliteCompanion/internal/config"
	"EliteCompanion/internal/service/tts"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSpeakDecodesBase64Audio(t *testing.T) {
	var got requestPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(jsonAudioResponse{AudioContent: base64.StdEncoding.EncodeToString([]byte("mp3-bytes"))})
	}))
	defer srv.Close()

	c := New(config.GeminiTTSConfig{Endpoint: srv.URL, ModelName: "gemini-2.5-flash-tts", VoiceName: "Charon", Prompt: "calm"}, nil)
	c.httpClient = srv.Client()

	p, err := c.Speak(context.Background(), "Fuel critical", "")
	if err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if p.Format != "mp3" || string(p.Audio) != "mp3-bytes" {
		t.Fatalf("payload = %+v", p)
	}
	if got.Input.Text != "Fuel critical" || got.Input.Prompt != "calm" || got.Voice.VoiceName != "Charon" || got.AudioConfig.AudioEncoding != "MP3" {
		t.Fatalf("request = %+v", got)
	}
}

func TestSpeakRejectsEmptyText(t *testing.T) {
	c := New(config.GeminiTTSConfig{}, nil)
	_, err := c.Speak(context.Background(), "  ", "")
	if !errors.Is(err, tts.ErrEmptyText) {
		t.Fatalf("expected ErrEmptyText, got %v", err)
	}
	var se *tts.SynthesisError
	if !errors.As(err, &se) {
		t.Fatalf("expected SynthesisError, got %T", err)
	}
}
