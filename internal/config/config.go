// Package config centralizes the flat os.Getenv-with-defaults style a CLI
// entrypoint would otherwise read inline, into one typed Config loaded once
// at process start and validated against the five-kind error taxonomy
// (internal/callerr.ErrConfiguration on anything missing).
package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/lokutor-ai/dialcore/internal/callerr"
	"github.com/lokutor-ai/dialcore/pkg/contracts"
)

// Config is the process-wide, session-independent configuration: VAD
// thresholds, turn-handling tunables, provider selection, and credentials.
// Per-call overrides (engine/voice/speed, system prompt) live on the call
// session, not here.
type Config struct {
	Port string

	// VAD / segmentation (spec.md §6).
	VADThresholdIdle             float64
	VADThresholdWhilePlaying     float64
	SpeechWarmupFramesIdle       int
	SpeechWarmupFramesPlaying    int
	SilenceMS                    int
	MinSpeechFrames              int
	MinSpeechBytes               int
	MinSpeechMS                  int
	MergeWindowMS                int
	MergeWindowMSWhilePlaying    int

	// Cleanup filter chain applied before STT (spec.md §4.6 step 1).
	WhisperGainDB       float64
	WhisperAudioFilters string

	// Turn handling.
	MaxResponseChars int
	ChatModel        string
	ClassifierModel  string
	MinInterruptWords int

	// Cache.
	FillerVersion string
	CacheBucket   string

	// Provider selection.
	STTProvider string
	LLMProvider string
	TTSEngine   contracts.Engine
	Language    contracts.Language

	// Credentials, read but never logged.
	GroqAPIKey       string
	OpenAIAPIKey     string
	AnthropicAPIKey  string
	GoogleAPIKey     string
	DeepgramAPIKey   string
	AssemblyAIAPIKey string
	LokutorAPIKey    string
	CloudtalkAPIKey  string

	// Object-store credentials are picked up by the AWS SDK's default
	// credential chain; only the bucket/region are explicit config here.
	AWSRegion string

	TranscoderBinary string

	GreetingTimeout time.Duration
	SocketTimeout   time.Duration
}

// Load reads .env (if present) then the process environment, filling in
// the defaults from spec.md §6, and validates that the credentials required
// by the selected providers are present.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("note: no .env file found, using system environment variables")
	}

	cfg := Config{
		Port: getenv("PORT", "8080"),

		VADThresholdIdle:          getenvFloat("VAD_THRESHOLD", 2),
		VADThresholdWhilePlaying:  getenvFloat("VAD_THRESHOLD_WHILE_PLAYING", 6),
		SpeechWarmupFramesIdle:    getenvInt("SPEECH_WARMUP_FRAMES", 2),
		SpeechWarmupFramesPlaying: getenvInt("SPEECH_WARMUP_FRAMES_WHILE_PLAYING", 4),
		SilenceMS:                 getenvInt("SILENCE_MS", 400),
		MinSpeechFrames:           getenvInt("MIN_SPEECH_FRAMES", 10),
		MinSpeechBytes:            getenvInt("MIN_SPEECH_BYTES", 1600),
		MinSpeechMS:               getenvInt("MIN_SPEECH_MS", 400),
		MergeWindowMS:             getenvInt("MERGE_WINDOW_MS", 1200),
		MergeWindowMSWhilePlaying: getenvInt("MERGE_WINDOW_MS_WHILE_PLAYING", 1800),

		WhisperGainDB:       getenvFloat("WHISPER_GAIN_DB", 6),
		WhisperAudioFilters: getenv("WHISPER_AUDIO_FILTERS", "highpass=f=120,lowpass=f=3800,volume=6dB"),

		MaxResponseChars:  getenvInt("MAX_RESPONSE_CHARS", 140),
		ChatModel:         getenv("CHAT_MODEL", "llama-3.3-70b-versatile"),
		ClassifierModel:   getenv("CLASSIFIER_MODEL", "llama-3.1-8b-instant"),
		MinInterruptWords: getenvInt("MIN_INTERRUPT_WORDS", 2),

		FillerVersion: getenv("FILLER_VERSION", "v1"),
		CacheBucket:   getenv("TTS_CACHE_BUCKET", ""),

		STTProvider: getenv("STT_PROVIDER", "groq"),
		LLMProvider: getenv("LLM_PROVIDER", "groq"),
		TTSEngine:   contracts.Engine(getenv("TTS_ENGINE", string(contracts.EngineLokutor))),
		Language:    contracts.Language(getenv("AGENT_LANGUAGE", string(contracts.LanguageEn))),

		GroqAPIKey:       os.Getenv("GROQ_API_KEY"),
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
		AnthropicAPIKey:  os.Getenv("ANTHROPIC_API_KEY"),
		GoogleAPIKey:     os.Getenv("GOOGLE_API_KEY"),
		DeepgramAPIKey:   os.Getenv("DEEPGRAM_API_KEY"),
		AssemblyAIAPIKey: os.Getenv("ASSEMBLYAI_API_KEY"),
		LokutorAPIKey:    os.Getenv("LOKUTOR_API_KEY"),
		CloudtalkAPIKey:  os.Getenv("CLOUDTALK_API_KEY"),

		AWSRegion: getenv("AWS_REGION", "us-east-1"),

		TranscoderBinary: getenv("TRANSCODER_BINARY", "ffmpeg"),

		GreetingTimeout: 2 * time.Second,
		SocketTimeout:   2 * time.Second,
	}

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// validate enforces that the selected providers have their credentials
// set. It does not fail the whole process (ConfigurationError is
// recoverable at the process boundary: cmd/dialcore then serves /health
// only and rejects calls).
func (c Config) validate() error {
	switch c.STTProvider {
	case "openai":
		if c.OpenAIAPIKey == "" {
			return callerr.Configuration("OPENAI_API_KEY required for STT_PROVIDER=openai", nil)
		}
	case "deepgram":
		if c.DeepgramAPIKey == "" {
			return callerr.Configuration("DEEPGRAM_API_KEY required for STT_PROVIDER=deepgram", nil)
		}
	case "assemblyai":
		if c.AssemblyAIAPIKey == "" {
			return callerr.Configuration("ASSEMBLYAI_API_KEY required for STT_PROVIDER=assemblyai", nil)
		}
	default:
		if c.GroqAPIKey == "" {
			return callerr.Configuration("GROQ_API_KEY required for STT_PROVIDER=groq", nil)
		}
	}

	switch c.LLMProvider {
	case "openai":
		if c.OpenAIAPIKey == "" {
			return callerr.Configuration("OPENAI_API_KEY required for LLM_PROVIDER=openai", nil)
		}
	case "anthropic":
		if c.AnthropicAPIKey == "" {
			return callerr.Configuration("ANTHROPIC_API_KEY required for LLM_PROVIDER=anthropic", nil)
		}
	case "google":
		if c.GoogleAPIKey == "" {
			return callerr.Configuration("GOOGLE_API_KEY required for LLM_PROVIDER=google", nil)
		}
	default:
		if c.GroqAPIKey == "" {
			return callerr.Configuration("GROQ_API_KEY required for LLM_PROVIDER=groq", nil)
		}
	}

	switch c.TTSEngine {
	case contracts.EngineCloudtalk:
		if c.CloudtalkAPIKey == "" {
			return callerr.Configuration("CLOUDTALK_API_KEY required for TTS_ENGINE=cloudtalk", nil)
		}
	default:
		if c.LokutorAPIKey == "" {
			return callerr.Configuration("LOKUTOR_API_KEY required for TTS_ENGINE=lokutor", nil)
		}
	}

	return nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}
