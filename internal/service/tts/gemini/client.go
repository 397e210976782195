package gemini

import (
	"EliteCompanion/internal/config"
	"EliteCompanion/internal/service/tts"
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"
	"golang.org/x/oauth2/google"
)

// По умолчанию используем Cloud TTS v1beta1 text:synthesize, совместимый с Generative AI TTS.
const defaultEndpoint = "https://texttospeech.googleapis.com/v1beta1/text:synthesize"

// Ensure interface compliance
var _ tts.Synthesizer = (*Client)(nil)

// Client реализует синтез речи через Cloud Text-to-Speech: Gemini‑TTS.
type Client struct {
	cfg    config.GeminiTTSConfig
	logger *zap.SugaredLogger
	// httpClient — для тестов; nil означает OAuth2 клиент из ADC.
	httpClient *http.Client
}

func New(cfg config.GeminiTTSConfig, logger *zap.SugaredLogger) *Client {
	return &Client{cfg: cfg, logger: logger}
}

// requestPayload — максимально нейтральная структура, покрывающая input.prompt и voice.model_name.
type requestPayload struct {
	Input struct {
		Prompt string `json:"prompt,omitempty"`
		Text   string `json:"text,omitempty"`
		Ssml   string `json:"ssml,omitempty"`
	} `json:"input"`
	Voice struct {
		ModelName    string `json:"modelName,omitempty"`
		LanguageCode string `json:"languageCode,omitempty"`
		VoiceName    string `json:"name,omitempty"`
	} `json:"voice"`
	AudioConfig struct {
		AudioEncoding  string   `json:"audioEncoding,omitempty"`
		SpeakingRate   float64  `json:"speakingRate,omitempty"`
		Pitch          float64  `json:"pitch,omitempty"`
		VolumeGainDb   float64  `json:"volumeGainDb,omitempty"`
		EffectsProfile []string `json:"effectsProfileId,omitempty"`
	} `json:"audioConfig"`
}

type jsonAudioResponse struct {
	AudioContent string `json:"audioContent"`
}

// Speak выполняет запрос к Gemini‑TTS и возвращает MP3. Стилистический промпт берётся из конфигурации.
func (c *Client) Speak(ctx context.Context, text, voice string) (tts.Payload, error) {
	data, err := c.synthesize(ctx, text, voice)
	if err != nil {
		return tts.Payload{}, tts.Wrap("gemini", err)
	}
	return tts.Payload{Format: "mp3", Audio: data, Text: text}, nil
}

func (c *Client) synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	// Cloud TTS ожидает text или ssml. Пустой ввод приведёт к 400.
	if strings.TrimSpace(text) == "" {
		return nil, tts.ErrEmptyText
	}

	var rp requestPayload
	switch strings.ToLower(strings.TrimSpace(c.cfg.InputType)) {
	case "ssml":
		rp.Input.Ssml = text
	default:
		// Неизвестный тип — отправим как text, чтобы избежать 400 INVALID_ARGUMENT.
		rp.Input.Text = text
	}
	if p := strings.TrimSpace(c.cfg.Prompt); p != "" {
		rp.Input.Prompt = p
	}
	rp.Voice.ModelName = strings.TrimSpace(c.cfg.ModelName)
	rp.Voice.LanguageCode = strings.TrimSpace(c.cfg.Language)
	rp.Voice.VoiceName = strings.TrimSpace(c.cfg.VoiceName)
	if v := strings.TrimSpace(voice); v != "" {
		rp.Voice.VoiceName = v
	}
	rp.AudioConfig.AudioEncoding = "MP3"
	rp.AudioConfig.SpeakingRate = c.cfg.SpeakingRate
	rp.AudioConfig.Pitch = c.cfg.Pitch
	rp.AudioConfig.VolumeGainDb = c.cfg.VolumeGainDb
	if ep := strings.TrimSpace(c.cfg.EffectsProfileID); ep != "" {
		rp.AudioConfig.EffectsProfile = []string{ep}
	}

	body, err := sonic.Marshal(&rp)
	if err != nil {
		return nil, err
	}

	endpoint := strings.TrimSpace(c.cfg.Endpoint)
	if endpoint == "" {
		endpoint = defaultEndpoint
	}

	httpClient := c.httpClient
	if httpClient == nil {
		// OAuth2 HTTP‑клиент только через ADC/metadata. API Key не используется.
		httpClient, err = google.DefaultClient(ctx, "https://www.googleapis.com/auth/cloud-platform")
		if err != nil {
			return nil, errors.New("ADC credentials not found. Set GOOGLE_APPLICATION_CREDENTIALS to a service account JSON or run in GCE/GKE with default credentials")
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	started := time.Now()
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if c.logger != nil {
		c.logger.Infow("Gemini TTS request completed", "status", resp.StatusCode, "took", time.Since(started).String())
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if len(b) == 0 {
			b = []byte(resp.Status)
		}
		return nil, fmt.Errorf("status=%d, body=%s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	// JSON с base64 полем audioContent
	var jr jsonAudioResponse
	dec := sonic.ConfigDefault.NewDecoder(io.LimitReader(resp.Body, 5<<20)) // до 5 МБ JSON
	if err := dec.Decode(&jr); err != nil {
		return nil, fmt.Errorf("decode json response: %w", err)
	}
	if strings.TrimSpace(jr.AudioContent) == "" {
		return nil, errors.New("empty audioContent in response")
	}
	data, err := base64.StdEncoding.DecodeString(jr.AudioContent)
	if err != nil {
		return nil, fmt.Errorf("base64 decode: %w", err)
	}
	return data, nil
}
