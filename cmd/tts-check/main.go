package main

import (
	"EliteCompanion/internal/app/monitor"
	"EliteCompanion/internal/config"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	gctts "cloud.google.com/go/texttospeech/apiv1"
	ttspb "cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
	"go.uber.org/zap"
)

// Утилита проверки TTS: печатает голоса Google для языка из конфига (-list)
// и/или синтезирует фразу выбранным провайдером и проигрывает её (-say).
func main() {
	var (
		list bool
		say  string
	)
	// Флаги регистрируем до NewConfig: он разбирает flag.CommandLine целиком
	flag.BoolVar(&list, "list", false, "напечатать голоса Google TTS для GOOGLE_TTS_LANGUAGE")
	flag.StringVar(&say, "say", "", "синтезировать и проиграть фразу провайдером TTS_SERVICE")
	cfg := config.NewConfig()

	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	sugar := logger.Sugar()
	defer func() { _ = logger.Sync() }()

	if !list && say == "" {
		say = "Audio test complete. All systems operational."
	}
	if list {
		if err := listVoices(cfg); err != nil {
			fmt.Println("не удалось получить список голосов:", err)
			os.Exit(1)
		}
	}
	if say != "" {
		if err := speak(cfg, sugar, say); err != nil {
			fmt.Println("проверка синтеза не удалась:", err)
			os.Exit(1)
		}
	}
}

func listVoices(cfg *config.Config) error {
	ctx, cancel := context.WithTimeoutCause(context.Background(), 15*time.Second, errors.New("google tts voices request timeout"))
	defer cancel()

	client, err := gctts.NewClient(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	lang := cfg.GoogleTTS.Language
	if lang == "" {
		lang = "en-US"
	}
	resp, err := client.ListVoices(ctx, &ttspb.ListVoicesRequest{LanguageCode: lang})
	if err != nil {
		return err
	}
	for _, v := range resp.GetVoices() {
		fmt.Printf("%-32s %-8s %6d Hz  %s\n", v.GetName(), v.GetSsmlGender().String(), v.GetNaturalSampleRateHertz(), strings.Join(v.GetLanguageCodes(), ","))
	}
	return nil
}

func speak(cfg *config.Config, sugar *zap.SugaredLogger, text string) error {
	synth, err := monitor.NewSynthesizer(cfg, sugar)
	if err != nil {
		return err
	}
	if c, ok := synth.(interface{ Close() error }); ok {
		defer func() { _ = c.Close() }()
	}

	ctx, cancel := context.WithTimeoutCause(context.Background(), cfg.SynthesisTimeout+cfg.PlaybackTimeout, errors.New("tts check timeout"))
	defer cancel()

	start := time.Now()
	payload, err := synth.Speak(ctx, text, cfg.Voice)
	if err != nil {
		return err
	}
	sugar.Infow("Synthesized", "format", payload.Format, "bytes", len(payload.Audio), "took", time.Since(start).String())

	out := monitor.NewAudioOutput(cfg, sugar)
	done, err := out.Play(payload)
	if err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		out.Stop()
		return context.Cause(ctx)
	}
}
