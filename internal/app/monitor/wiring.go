package monitor

import (
	"EliteCompanion/internal/ai"
	"EliteCompanion/internal/config"
	"EliteCompanion/internal/service/playback"
	"EliteCompanion/internal/service/tts"
	"EliteCompanion/internal/service/tts/gemini"
	"EliteCompanion/internal/service/tts/google"
	"EliteCompanion/internal/service/tts/player"
	"EliteCompanion/internal/service/tts/yandex"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"go.uber.org/zap"
)

// NewLanguageModel выбирает бэкенд модели по LLM_SERVICE.
func NewLanguageModel(cfg *config.Config, logger *zap.SugaredLogger) (ai.LanguageModel, error) {
	service := strings.ToLower(strings.TrimSpace(cfg.LLMService))
	var model ai.LanguageModel
	switch service {
	case "", "openai":
		// Ключ берётся SDK из OPENAI_API_KEY
		client := openai.NewClient()
		model = ai.NewResponsesClient(&client, cfg.OpenAI)
		service = "openai"
	case "local", "llama", "llamacpp":
		model = ai.NewLocalClient(cfg.LocalLLM)
	case "stub":
		model = ai.NewStubClient()
	default:
		return nil, fmt.Errorf("monitor: unknown LLM service %q", cfg.LLMService)
	}
	logger.Infow("Language model selected", "service", service)
	return model, nil
}

// NewSynthesizer выбирает провайдера TTS по TTS_SERVICE.
func NewSynthesizer(cfg *config.Config, logger *zap.SugaredLogger) (tts.Synthesizer, error) {
	service := strings.ToLower(strings.TrimSpace(cfg.TTSService))
	var synth tts.Synthesizer
	switch service {
	case "yandex", "yc", "speechkit":
		synth = yandex.New(cfg.YandexTTS)
	case "gemini", "google-gemini":
		synth = gemini.New(cfg.GeminiTTS, logger)
	case "", "google":
		synth = google.New(cfg.GoogleTTS, logger)
		service = "google"
	case "stub":
		synth = tts.NewStub()
	default:
		return nil, fmt.Errorf("monitor: unknown TTS service %q", cfg.TTSService)
	}
	logger.Infow("TTS selected", "service", service)
	return synth, nil
}

// NewAudioOutput подбирает устройство вывода под провайдера TTS.
// Для Yandex громкость регулируем на своей стороне, для Google/Gemini — через VolumeGainDb провайдера.
func NewAudioOutput(cfg *config.Config, logger *zap.SugaredLogger) playback.AudioOutput {
	switch strings.ToLower(strings.TrimSpace(cfg.TTSService)) {
	case "stub":
		return player.NewSilent(40*time.Millisecond, logger)
	case "yandex", "yc", "speechkit":
		v := max(0, min(100, cfg.YandexTTS.Volume))
		return player.NewWithVolume(float64(v-100) / 5.0)
	default:
		return player.New()
	}
}
