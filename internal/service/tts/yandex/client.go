package yandex

import (
	"EliteCompanion/internal/config"
	"EliteCompanion/internal/service/tts"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const defaultEndpoint = "https://tts.api.cloud.yandex.net/speech/v1/tts:synthesize"

// Ensure interface compliance
var _ tts.Synthesizer = (*Client)(nil)

// Client реализует синтез речи через Yandex SpeechKit.
type Client struct {
	cfg      config.YandexTTSConfig
	http     *http.Client
	endpoint string
}

func New(cfg config.YandexTTSConfig) *Client {
	return &Client{cfg: cfg, http: http.DefaultClient, endpoint: defaultEndpoint}
}

// Speak выполняет запрос к Yandex TTS и возвращает аудио в формате из конфигурации.
func (c *Client) Speak(ctx context.Context, text, voice string) (tts.Payload, error) {
	format := strings.ToLower(c.cfg.Format)
	data, err := c.synthesize(ctx, text, voice, format)
	if err != nil {
		return tts.Payload{}, tts.Wrap("yandex", err)
	}
	return tts.Payload{Format: format, Audio: data, Text: text}, nil
}

func (c *Client) synthesize(ctx context.Context, text, voice, format string) ([]byte, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return nil, errors.New("empty API key (set YC_TTS_API_KEY in .env/ENV or pass via flag)")
	}
	if strings.TrimSpace(text) == "" {
		return nil, tts.ErrEmptyText
	}
	// Значения по умолчанию задаются исключительно в config.Defaults().
	if strings.TrimSpace(voice) == "" {
		voice = c.cfg.Voice
	}

	form := url.Values{}
	form.Set("text", text)
	form.Set("voice", voice)
	form.Set("format", format)
	form.Set("speed", c.cfg.Speed)
	form.Set("emotion", strings.ToLower(c.cfg.Emotion))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Api-Key "+c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if len(b) == 0 {
			b = []byte(resp.Status)
		}
		return nil, fmt.Errorf("status=%d, body=%s", resp.StatusCode, bytes.TrimSpace(b))
	}
	return io.ReadAll(resp.Body)
}
