package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

type Config struct {
	DebugMode bool `env:"DEBUG_MODE"` // Режим дебага (development-логгер, уровень debug)

	// Журнал игры
	JournalDir       string        `env:"JOURNAL_DIR"`           // Папка с Journal.*.log
	JournalPattern   string        `env:"JOURNAL_PATTERN"`       // Glob-шаблон активного журнала
	PollInterval     time.Duration `env:"JOURNAL_POLL_INTERVAL"` // Период опроса файла
	MaxWatchFailures int           `env:"JOURNAL_MAX_FAILURES"`  // Сколько ошибок ввода-вывода подряд до WatcherFailure
	RetryBackoff     time.Duration `env:"JOURNAL_RETRY_BACKOFF"` // Начальная пауза между повторами
	RetryBackoffMax  time.Duration `env:"JOURNAL_RETRY_BACKOFF_MAX"`
	ResumeFromOffset bool          `env:"JOURNAL_RESUME"`              // Продолжить с сохранённого смещения вместо хвоста файла
	LoadInitialState bool          `env:"LOAD_INITIAL_STATE"`          // Прочитать состояние игры из уже записанной части журнала
	CheckpointEvery  time.Duration `env:"JOURNAL_CHECKPOINT_INTERVAL"` // Как часто сохранять смещение

	// Классификация и диспетчер
	TierOverrides    []string      `env:"TIER_OVERRIDES" envSeparator:";"` // Event=tier;Event=tier
	SystemPrompt     string        `env:"SYSTEM_PROMPT"`                   // Системный промпт (характер корабельного ИИ)
	Voice            string        `env:"VOICE"`                           // Идентификатор голоса, пусто — голос провайдера из его конфига
	BacklogAmbient   int           `env:"BACKLOG_AMBIENT"`                 // Очередь ожидания фоновых событий
	BacklogImportant int           `env:"BACKLOG_IMPORTANT"`               // Очередь ожидания важных событий
	CriticalCeiling  int           `env:"CRITICAL_CEILING"`                // Жёсткий потолок очереди критичных событий
	ContextWindow    int           `env:"CONTEXT_WINDOW"`                  // Сколько последних событий отдаём модели
	StatusHistory    int           `env:"STATUS_HISTORY"`                  // Сколько последних событий показывает статус
	ModelTimeout     time.Duration `env:"MODEL_TIMEOUT"`
	SynthesisTimeout time.Duration `env:"SYNTHESIS_TIMEOUT"`
	PlaybackTimeout  time.Duration `env:"PLAYBACK_TIMEOUT"` // Максимальная длительность одной фразы
	CannedCritical   bool          `env:"CANNED_CRITICAL"`  // Критичные события озвучиваются заготовками без модели
	RawDataMode      bool          `env:"RAW_DATA_MODE"`    // Озвучивать сводку события без модели

	// Очередь воспроизведения
	PreemptPolicy   string        `env:"PREEMPT_POLICY"`  // discard|requeue
	ShutdownMode    string        `env:"SHUTDOWN_MODE"`   // discard|drain
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT"`
	SupersedeLower  bool          `env:"SUPERSEDE_LOWER"` // Критичная фраза снимает более ранние фразы ниже уровнем

	// Модель
	LLMService string `env:"LLM_SERVICE"` // openai|local|stub
	OpenAI     OpenAIConfig
	LocalLLM   LocalLLMConfig

	// Общий переключатель сервиса TTS и конфиги провайдеров
	TTSService string `env:"TTS_SERVICE"` // google|gemini|yandex|stub
	GoogleTTS  GoogleTTSConfig
	GeminiTTS  GeminiTTSConfig
	YandexTTS  YandexTTSConfig

	EDSM         EDSMConfig
	StatusServer StatusServerConfig
	Storage      StorageConfig
}

// OpenAIConfig — Responses API (ключ берётся SDK из OPENAI_API_KEY).
type OpenAIConfig struct {
	Model           string  `env:"OPENAI_MODEL"`
	MaxOutputTokens int64   `env:"OPENAI_MAX_OUTPUT_TOKENS"`
	Temperature     float64 `env:"OPENAI_TEMPERATURE"`
}

// LocalLLMConfig — OpenAI-совместимый локальный сервер (llama.cpp server, LM Studio и т.п.).
type LocalLLMConfig struct {
	BaseURL     string  `env:"LOCAL_LLM_BASE_URL"`
	APIKey      string  `env:"LOCAL_LLM_API_KEY"`
	Model       string  `env:"LOCAL_LLM_MODEL"`
	MaxTokens   int     `env:"LOCAL_LLM_MAX_TOKENS"`
	Temperature float32 `env:"LOCAL_LLM_TEMPERATURE"`
}

// YandexTTSConfig конфигурация для синтеза речи через Yandex SpeechKit.
type YandexTTSConfig struct {
	APIKey  string `env:"YC_TTS_API_KEY"` // Ключ берём из .env/ENV. Если пуст — при использовании будет ошибка
	Voice   string `env:"YC_TTS_VOICE"`
	Format  string `env:"YC_TTS_FORMAT"` // mp3|wav
	Speed   string `env:"YC_TTS_SPEED"`
	Emotion string `env:"YC_TTS_EMOTION"` // neutral|good|evil
	Volume  int    `env:"YC_TTS_VOLUME"`  // 0-100; 100 — не изменять громкость
}

// GoogleTTSConfig конфигурация для синтеза речи через Google Cloud Text-to-Speech.
type GoogleTTSConfig struct {
	// Путь к файлу ключа сервисного аккаунта. Фактически читается из ENV GOOGLE_APPLICATION_CREDENTIALS.
	CredentialsPath  string  `env:"GOOGLE_APPLICATION_CREDENTIALS"`
	Language         string  `env:"GOOGLE_TTS_LANGUAGE"`
	Voice            string  `env:"GOOGLE_TTS_VOICE"`
	SpeakingRate     float64 `env:"GOOGLE_TTS_SPEAKING_RATE"`
	Pitch            float64 `env:"GOOGLE_TTS_PITCH"`
	VolumeGainDb     float64 `env:"GOOGLE_TTS_VOLUME_DB"`
	EffectsProfileID string  `env:"GOOGLE_TTS_EFFECTS_PROFILE_ID"`
	// Тип входа: text|ssml. Пусто — text.
	InputType string `env:"GOOGLE_TTS_INPUT_TYPE"`
}

// GeminiTTSConfig конфигурация Cloud Text-to-Speech: Gemini-TTS (авторизация через ADC).
type GeminiTTSConfig struct {
	Endpoint         string  `env:"GEMINI_TTS_ENDPOINT"`
	ModelName        string  `env:"GEMINI_TTS_MODEL"`
	Language         string  `env:"GEMINI_TTS_LANGUAGE"`
	VoiceName        string  `env:"GEMINI_TTS_VOICE"`
	Prompt           string  `env:"GEMINI_TTS_PROMPT"` // Стилистический промпт для голоса
	SpeakingRate     float64 `env:"GEMINI_TTS_SPEAKING_RATE"`
	Pitch            float64 `env:"GEMINI_TTS_PITCH"`
	VolumeGainDb     float64 `env:"GEMINI_TTS_VOLUME_DB"`
	EffectsProfileID string  `env:"GEMINI_TTS_EFFECTS_PROFILE_ID"`
	InputType        string  `env:"GEMINI_TTS_INPUT_TYPE"`
}

// EDSMConfig — справочник звёздных систем для обогащения промпта после прыжка.
type EDSMConfig struct {
	Enabled bool          `env:"EDSM_ENABLED"`
	BaseURL string        `env:"EDSM_BASE_URL"`
	Timeout time.Duration `env:"EDSM_TIMEOUT"`
}

// StatusServerConfig конфигурация HTTP-поверхности статуса (для GUI/скриптов).
type StatusServerConfig struct {
	Enabled   bool   `env:"STATUS_SERVER_ENABLED"`    // Главный флаг включения/выключения
	BindAddr  string `env:"STATUS_SERVER_BIND_ADDR"`  // Адрес слушателя, напр. 127.0.0.1:3000
	Path      string `env:"STATUS_SERVER_PATH"`       // Префикс HTTP-путей, напр. "/"
	AuthToken string `env:"STATUS_SERVER_AUTH_TOKEN"` // Токен авторизации (опционально)
}

// StorageConfig — sqlite для контрольных точек журнала и истории событий.
type StorageConfig struct {
	Enabled bool   `env:"STORAGE_ENABLED"`
	Path    string `env:"STORAGE_PATH"`
}

// Defaults возвращает конфигурацию с предустановленными значениями по умолчанию.
// Эти значения перекрываются .env, переменными окружения и флагами CLI.
func Defaults() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		DebugMode:        false,
		JournalDir:       home + string(os.PathSeparator) + "Saved Games" + string(os.PathSeparator) + "Frontier Developments" + string(os.PathSeparator) + "Elite Dangerous",
		JournalPattern:   "Journal.*.log",
		PollInterval:     250 * time.Millisecond,
		MaxWatchFailures: 10,
		RetryBackoff:     500 * time.Millisecond,
		RetryBackoffMax:  10 * time.Second,
		ResumeFromOffset: false,
		LoadInitialState: true,
		CheckpointEvery:  5 * time.Second,

		SystemPrompt:     "You are the AI of an Elite Dangerous ship called the 'Orca'. You are sarcastic but helpful. Keep responses under 20 words. Stay in character as a ship's computer.",
		Voice:            "",
		BacklogAmbient:   10,
		BacklogImportant: 10,
		CriticalCeiling:  100,
		ContextWindow:    10,
		StatusHistory:    20,
		ModelTimeout:     20 * time.Second,
		SynthesisTimeout: 20 * time.Second,
		PlaybackTimeout:  2 * time.Minute,

		PreemptPolicy:   "discard", //`discard`|`requeue`
		ShutdownMode:    "discard", //`discard`|`drain`
		ShutdownTimeout: 10 * time.Second,
		SupersedeLower:  true,

		LLMService: "openai",
		OpenAI: OpenAIConfig{
			Model:           "gpt-4o",
			MaxOutputTokens: 80,
			Temperature:     0.3,
		},
		LocalLLM: LocalLLMConfig{
			BaseURL:     "http://127.0.0.1:8080/v1",
			Model:       "gemma-2-2b-it",
			MaxTokens:   50,
			Temperature: 0.3,
		},

		TTSService: "google",
		GoogleTTS: GoogleTTSConfig{
			CredentialsPath:  "service-account.json",
			Language:         "en-US",
			Voice:            "en-US-Standard-C",
			SpeakingRate:     1.0,
			Pitch:            0.0,
			VolumeGainDb:     0.0,
			EffectsProfileID: "large-home-entertainment-class-device",
			InputType:        "",
		},
		GeminiTTS: GeminiTTSConfig{
			ModelName:    "gemini-2.5-flash-tts",
			Language:     "en-US",
			VoiceName:    "Charon",
			Prompt:       "Speak like a calm, slightly sarcastic ship computer",
			SpeakingRate: 1.0,
		},
		YandexTTS: YandexTTSConfig{
			Voice:   "john",
			Format:  "mp3",
			Speed:   "1.1",
			Emotion: "neutral",
			Volume:  100,
		},
		EDSM: EDSMConfig{
			Enabled: true,
			BaseURL: "https://www.edsm.net/api-v1",
			Timeout: 5 * time.Second,
		},
		StatusServer: StatusServerConfig{
			Enabled:  false,
			BindAddr: "127.0.0.1:3000",
			Path:     "/",
		},
		Storage: StorageConfig{
			Enabled: true,
			Path:    "companion.db",
		},
	}
}

// NewConfig загружает конфигурацию приложения: дефолты → .env → ENV → флаги командной строки.
// Ошибка конфигурации фатальна — как и раньше, паникуем.
func NewConfig() *Config {
	_ = godotenv.Load()

	cfg, err := Load(flag.CommandLine, os.Args[1:])
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load разбирает окружение и флаги в указанный FlagSet. Вынесено отдельно от NewConfig ради тестов.
func Load(fs *flag.FlagSet, args []string) (*Config, error) {
	// Стартуем с дефолтов, затем перекрываем окружением и флагами
	cfg := Defaults()
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse env: %w", err)
	}

	fs.BoolVar(&cfg.DebugMode, "debug-mode", cfg.DebugMode, "включить режим дебага")
	// Журнал
	fs.StringVar(&cfg.JournalDir, "journal-dir", cfg.JournalDir, "папка с журналами игры")
	fs.StringVar(&cfg.JournalPattern, "journal-pattern", cfg.JournalPattern, "glob-шаблон файлов журнала")
	fs.DurationVar(&cfg.PollInterval, "journal-poll-interval", cfg.PollInterval, "период опроса журнала, напр. 250ms")
	fs.IntVar(&cfg.MaxWatchFailures, "journal-max-failures", cfg.MaxWatchFailures, "ошибок ввода-вывода подряд до остановки мониторинга")
	fs.BoolVar(&cfg.ResumeFromOffset, "journal-resume", cfg.ResumeFromOffset, "продолжить чтение с сохранённого смещения")
	fs.BoolVar(&cfg.LoadInitialState, "load-initial-state", cfg.LoadInitialState, "восстановить состояние игры из уже записанного журнала")
	// Классификация и диспетчер
	tierOverridesFlag := strings.Join(cfg.TierOverrides, ";")
	fs.StringVar(&tierOverridesFlag, "tier-overrides", tierOverridesFlag, "переопределения уровней, напр. Scan=ignored;Bounty=important")
	fs.StringVar(&cfg.SystemPrompt, "system-prompt", cfg.SystemPrompt, "системный промпт корабельного ИИ")
	fs.StringVar(&cfg.Voice, "voice", cfg.Voice, "идентификатор голоса (перекрывает голос провайдера)")
	fs.IntVar(&cfg.BacklogAmbient, "backlog-ambient", cfg.BacklogAmbient, "размер очереди фоновых событий")
	fs.IntVar(&cfg.BacklogImportant, "backlog-important", cfg.BacklogImportant, "размер очереди важных событий")
	fs.IntVar(&cfg.CriticalCeiling, "critical-ceiling", cfg.CriticalCeiling, "жёсткий потолок очереди критичных событий")
	fs.IntVar(&cfg.ContextWindow, "context-window", cfg.ContextWindow, "сколько последних событий передавать модели")
	fs.DurationVar(&cfg.ModelTimeout, "model-timeout", cfg.ModelTimeout, "таймаут запроса к модели")
	fs.DurationVar(&cfg.SynthesisTimeout, "synthesis-timeout", cfg.SynthesisTimeout, "таймаут синтеза речи")
	fs.BoolVar(&cfg.CannedCritical, "canned-critical", cfg.CannedCritical, "критичные события озвучивать заготовками")
	fs.BoolVar(&cfg.RawDataMode, "raw-data-mode", cfg.RawDataMode, "озвучивать сводку события без модели")
	// Воспроизведение
	fs.StringVar(&cfg.PreemptPolicy, "preempt-policy", cfg.PreemptPolicy, "что делать с прерванной фразой: discard|requeue")
	fs.StringVar(&cfg.ShutdownMode, "shutdown-mode", cfg.ShutdownMode, "режим остановки очереди: discard|drain")
	fs.BoolVar(&cfg.SupersedeLower, "supersede-lower", cfg.SupersedeLower, "критичная фраза снимает более ранние фразы ниже уровнем")
	// Сервисы
	fs.StringVar(&cfg.LLMService, "llm-service", cfg.LLMService, "выбор модели: openai|local|stub")
	fs.StringVar(&cfg.OpenAI.Model, "openai-model", cfg.OpenAI.Model, "модель OpenAI Responses API")
	fs.StringVar(&cfg.LocalLLM.BaseURL, "local-llm-base-url", cfg.LocalLLM.BaseURL, "адрес OpenAI-совместимого локального сервера")
	fs.StringVar(&cfg.LocalLLM.Model, "local-llm-model", cfg.LocalLLM.Model, "имя локальной модели")
	fs.StringVar(&cfg.TTSService, "tts-service", cfg.TTSService, "выбор сервиса TTS: google|gemini|yandex|stub")
	fs.StringVar(&cfg.GoogleTTS.CredentialsPath, "google-tts-credentials", cfg.GoogleTTS.CredentialsPath, "путь к service-account.json (также читается из ENV GOOGLE_APPLICATION_CREDENTIALS)")
	fs.StringVar(&cfg.GoogleTTS.Language, "google-tts-language", cfg.GoogleTTS.Language, "язык синтеза, напр. en-US")
	fs.StringVar(&cfg.GoogleTTS.Voice, "google-tts-voice", cfg.GoogleTTS.Voice, "имя голоса, напр. en-US-Standard-C")
	fs.StringVar(&cfg.YandexTTS.APIKey, "yc-tts-api-key", cfg.YandexTTS.APIKey, "API ключ Yandex SpeechKit TTS (перекрывает ENV)")
	fs.IntVar(&cfg.YandexTTS.Volume, "yc-tts-volume", cfg.YandexTTS.Volume, "громкость 0-100 (100 — без изменений)")
	fs.BoolVar(&cfg.EDSM.Enabled, "edsm-enabled", cfg.EDSM.Enabled, "обогащать прыжки данными EDSM")
	// StatusServer
	fs.BoolVar(&cfg.StatusServer.Enabled, "status-server-enabled", cfg.StatusServer.Enabled, "включить HTTP-сервер статуса")
	fs.StringVar(&cfg.StatusServer.BindAddr, "status-server-bind-addr", cfg.StatusServer.BindAddr, "адрес для прослушивания сервера статуса")
	fs.StringVar(&cfg.StatusServer.AuthToken, "status-server-auth-token", cfg.StatusServer.AuthToken, "токен авторизации сервера статуса (опционально)")
	// Storage
	fs.BoolVar(&cfg.Storage.Enabled, "storage-enabled", cfg.Storage.Enabled, "хранить контрольные точки и историю в sqlite")
	fs.StringVar(&cfg.Storage.Path, "storage-path", cfg.Storage.Path, "путь к файлу sqlite")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg.TierOverrides = parseListFlag(tierOverridesFlag, nil)
	cfg.PreemptPolicy = normalizeChoice(cfg.PreemptPolicy, "discard", "discard", "requeue")
	cfg.ShutdownMode = normalizeChoice(cfg.ShutdownMode, "discard", "discard", "drain")

	if err := cfg.prepareGoogleCredentials(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// prepareGoogleCredentials — валидация и подготовка окружения для Google TTS.
// Если ENV пуст, но в конфиге указан путь — устанавливаем ENV.
func (c *Config) prepareGoogleCredentials() error {
	if !strings.EqualFold(c.TTSService, "google") && !strings.EqualFold(c.TTSService, "gemini") {
		return nil
	}
	cred := strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	if cred == "" {
		if cp := strings.TrimSpace(c.GoogleTTS.CredentialsPath); cp != "" {
			_ = os.Setenv("GOOGLE_APPLICATION_CREDENTIALS", cp)
			cred = cp
		}
	}
	if cred == "" {
		return fmt.Errorf("google tts: переменная окружения GOOGLE_APPLICATION_CREDENTIALS не задана; укажите ENV или флаг -google-tts-credentials")
	}
	if _, err := os.Stat(cred); err != nil {
		return fmt.Errorf("google tts: файл ключа не найден: %s", cred)
	}
	return nil
}

// parseListFlag разбирает значение флага со списком, разделённым ';'
func parseListFlag(v string, def []string) []string {
	// Пустая строка → дефолт
	if v == "" {
		return def
	}
	parts := strings.Split(v, ";")
	cleaned := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			cleaned = append(cleaned, p)
		}
	}
	if len(cleaned) == 0 {
		return def
	}
	return cleaned
}

// normalizeChoice приводит значение к нижнему регистру; неизвестное значение заменяется дефолтом.
func normalizeChoice(v, def string, allowed ...string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	for _, a := range allowed {
		if v == a {
			return v
		}
	}
	return def
}
