package tts

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Payload — синтезированная речь, готовая к воспроизведению.
type Payload struct {
	Format string // mp3|wav; stub — тестовый формат без звука
	Audio  []byte
	Text   string
}

// Synthesizer абстракция TTS. Метод только синтезирует и возвращает аудио, воспроизведением занимается очередь.
// voice — идентификатор голоса; пустой — голос из конфигурации провайдера.
type Synthesizer interface {
	Speak(ctx context.Context, text, voice string) (Payload, error)
}

// ErrEmptyText — синтезировать нечего.
var ErrEmptyText = errors.New("tts: empty input text")

// SynthesisError — ошибка провайдера синтеза.
type SynthesisError struct {
	Provider string
	Err      error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("%s tts: %v", e.Provider, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// Wrap оборачивает ошибку провайдера в SynthesisError; nil остаётся nil.
func Wrap(provider string, err error) error {
	if err == nil {
		return nil
	}
	var se *SynthesisError
	if errors.As(err, &se) {
		return err
	}
	return &SynthesisError{Provider: provider, Err: err}
}

// Stub ничего не синтезирует: текст кладётся в Payload как есть. Для режима без сети и тестов.
type Stub struct{}

func NewStub() *Stub { return &Stub{} }

func (s *Stub) Speak(_ context.Context, text, voice string) (Payload, error) {
	if strings.TrimSpace(text) == "" {
		return Payload{}, Wrap("stub", ErrEmptyText)
	}
	return Payload{Format: "stub", Audio: []byte(text), Text: text}, nil
}
