package google

import (
	"EliteCompanion/internal/config"
	"EliteCompanion/internal/service/tts"
	"context"
	"strings"
	"sync"
	"time"

	gctts "cloud.google.com/go/texttospeech/apiv1"
	ttspb "cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
	"go.uber.org/zap"
)

// Ensure interface compliance
var _ tts.Synthesizer = (*Client)(nil)

// Client реализует синтез речи через Google Cloud Text-to-Speech.
type Client struct {
	cfg    config.GoogleTTSConfig
	logger *zap.SugaredLogger

	mu  sync.Mutex
	sdk *gctts.Client
}

func New(cfg config.GoogleTTSConfig, logger *zap.SugaredLogger) *Client {
	return &Client{cfg: cfg, logger: logger}
}

// client лениво создаёт клиента SDK и переиспользует его между вызовами.
func (c *Client) client(ctx context.Context) (*gctts.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sdk != nil {
		return c.sdk, nil
	}
	cl, err := gctts.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	c.sdk = cl
	return cl, nil
}

// Speak выполняет запрос к Google TTS и возвращает MP3.
func (c *Client) Speak(ctx context.Context, text, voiceName string) (tts.Payload, error) {
	if strings.TrimSpace(text) == "" {
		return tts.Payload{}, tts.Wrap("google", tts.ErrEmptyText)
	}
	ttsClient, err := c.client(ctx)
	if err != nil {
		return tts.Payload{}, tts.Wrap("google", err)
	}

	// Определяем тип входа (text|ssml)
	var input *ttspb.SynthesisInput
	it := strings.ToLower(strings.TrimSpace(c.cfg.InputType))
	if it == "ssml" {
		input = &ttspb.SynthesisInput{InputSource: &ttspb.SynthesisInput_Ssml{Ssml: text}}
	} else {
		input = &ttspb.SynthesisInput{InputSource: &ttspb.SynthesisInput_Text{Text: text}}
	}

	name := c.cfg.Voice
	if v := strings.TrimSpace(voiceName); v != "" {
		name = v
	}
	voice := &ttspb.VoiceSelectionParams{
		LanguageCode: c.cfg.Language,
		Name:         name, // поддержка Standard/Wavenet голосов
	}

	// Только MP3
	audio := &ttspb.AudioConfig{
		AudioEncoding: ttspb.AudioEncoding_MP3,
		SpeakingRate:  c.cfg.SpeakingRate,
		Pitch:         c.cfg.Pitch,
		VolumeGainDb:  c.cfg.VolumeGainDb,
	}
	if ep := strings.TrimSpace(c.cfg.EffectsProfileID); ep != "" {
		audio.EffectsProfileId = []string{ep}
	}

	req := &ttspb.SynthesizeSpeechRequest{Input: input, Voice: voice, AudioConfig: audio}
	started := time.Now()
	resp, err := ttsClient.SynthesizeSpeech(ctx, req)
	if err != nil {
		return tts.Payload{}, tts.Wrap("google", err)
	}
	if c.logger != nil {
		c.logger.Infow("Google TTS synthesize completed", "took", time.Since(started).String(), "bytes", len(resp.GetAudioContent()))
	}
	return tts.Payload{Format: "mp3", Audio: resp.GetAudioContent(), Text: text}, nil
}

// Close освобождает клиента SDK.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sdk == nil {
		return nil
	}
	err := c.sdk.Close()
	c.sdk = nil
	return err
}
