// Command dialcore is the production server entrypoint: it loads
// configuration, wires the selected STT/LLM/TTS providers, the TTS cache,
// the turn handler, and the control-surface HTTP server, then serves
// telephony WebSocket streams at /streams until terminated.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/lokutor-ai/dialcore/internal/config"
	"github.com/lokutor-ai/dialcore/internal/filler"
	"github.com/lokutor-ai/dialcore/internal/logging"
	"github.com/lokutor-ai/dialcore/internal/server"
	"github.com/lokutor-ai/dialcore/internal/session"
	"github.com/lokutor-ai/dialcore/internal/ttscache"
	"github.com/lokutor-ai/dialcore/internal/turn"
	"github.com/lokutor-ai/dialcore/internal/vad"
	"github.com/lokutor-ai/dialcore/pkg/contracts"
	llmProvider "github.com/lokutor-ai/dialcore/pkg/providers/llm"
	sttProvider "github.com/lokutor-ai/dialcore/pkg/providers/stt"
	ttsProvider "github.com/lokutor-ai/dialcore/pkg/providers/tts"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// A configuration error keeps the process up on /health only; every
		// other path, /streams included, is rejected with 404.
		log.Printf("configuration error: %v; serving /health only, calls are rejected", err)
		healthOnly := http.NewServeMux()
		healthOnly.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			_, _ = w.Write([]byte(`{"status":"ok"}` + "\n"))
		})
		log.Fatal(http.ListenAndServe(":"+cfg.Port, healthOnly))
	}

	logger := logging.NewConsole(zerolog.InfoLevel)

	stt := buildSTT(cfg)
	chatLLM := buildLLM(cfg, cfg.ChatModel)
	classifierLLM := buildLLM(cfg, cfg.ClassifierModel)
	synth := buildSynthesizer(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cache, err := buildCache(ctx, cfg, synth, logger)
	if err != nil {
		log.Fatalf("tts cache init: %v", err)
	}

	// Prime the default-config greeting and filler on cold start (spec.md
	// §4.7) so the greeting fast-path has a hit on the very first call.
	defaultBinding := session.TTSBinding{Engine: cfg.TTSEngine, Voice: "default", Speed: 1}
	if err := cache.Prime(ctx, defaultBinding.Engine, defaultBinding.Voice, defaultBinding.Speed); err != nil {
		logger.Warn("tts cache prime failed", "err", err)
	}

	vadCfg := vad.Config{
		ThresholdIdle:         cfg.VADThresholdIdle,
		ThresholdWhilePlaying: cfg.VADThresholdWhilePlaying,
		WarmupIdle:            cfg.SpeechWarmupFramesIdle,
		WarmupWhilePlaying:    cfg.SpeechWarmupFramesPlaying,
		SilenceMS:             cfg.SilenceMS,
		MinSpeechFrames:       cfg.MinSpeechFrames,
		MinSpeechBytes:        cfg.MinSpeechBytes,
		MinSpeechMS:           cfg.MinSpeechMS,
	}

	fillerCoord := filler.New(filler.Config{MinInterruptFrames: cfg.MinInterruptWords * 5}, cache, logger)

	classifier := turn.NewClassifier(classifierLLM)
	transcoder := turn.NewSpeechTranscoder(cfg.TranscoderBinary, cfg.WhisperAudioFilters)

	// The external call-control registry, persisted conversation log, and
	// telephony transfer trigger are out of scope (spec.md §1): every
	// collaborator that takes them tolerates nil, so a future HTTP-backed
	// implementation can be wired in here without touching the engine.
	handler := turn.New(turn.Config{
		MergeWindowMS:             cfg.MergeWindowMS,
		MergeWindowMSWhilePlaying: cfg.MergeWindowMSWhilePlaying,
		MaxResponseChars:          cfg.MaxResponseChars,
		Language:                  cfg.Language,
	}, stt, chatLLM, classifier, synth, transcoder, fillerCoord, nil, logger)

	metrics := server.NewMetrics(prometheus.DefaultRegisterer)
	handler.OnTurn = func(action string, lat turn.LatencyBreakdown) {
		metrics.ObserveTurn(action, lat.STTMS(), lat.ClassifierMS(), lat.LLMMS(), lat.TTSMS(), lat.TotalMS())
	}

	srv := server.New(server.Config{
		VAD:            vadCfg,
		DefaultBinding: defaultBinding,
		GreetingConfig: session.GreetingConfig{StartWait: cfg.GreetingTimeout, SocketOpenWait: cfg.SocketTimeout},
	}, handler, fillerCoord, cache, nil, nil, metrics, logger)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // long-lived WebSocket connections
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
}

func buildSTT(cfg config.Config) contracts.STTProvider {
	switch cfg.STTProvider {
	case "openai":
		return sttProvider.NewOpenAISTT(cfg.OpenAIAPIKey, "whisper-1")
	case "deepgram":
		return sttProvider.NewDeepgramSTT(cfg.DeepgramAPIKey)
	case "assemblyai":
		return sttProvider.NewAssemblyAISTT(cfg.AssemblyAIAPIKey)
	default:
		return sttProvider.NewGroqSTT(cfg.GroqAPIKey, "whisper-large-v3-turbo")
	}
}

func buildLLM(cfg config.Config, model string) contracts.LLMProvider {
	switch cfg.LLMProvider {
	case "openai":
		return llmProvider.NewOpenAILLM(cfg.OpenAIAPIKey, model)
	case "anthropic":
		return llmProvider.NewAnthropicLLM(cfg.AnthropicAPIKey, model)
	case "google":
		return llmProvider.NewGoogleLLM(cfg.GoogleAPIKey, model)
	default:
		return llmProvider.NewGroqLLM(cfg.GroqAPIKey, model)
	}
}

func buildSynthesizer(cfg config.Config) *ttsProvider.ProviderSynthesizer {
	engines := map[contracts.Engine]contracts.TTSProvider{
		contracts.EngineLokutor: ttsProvider.NewLokutorTTS(cfg.LokutorAPIKey),
	}
	if cfg.CloudtalkAPIKey != "" {
		engines[contracts.EngineCloudtalk] = ttsProvider.NewCloudtalkTTS(cfg.CloudtalkAPIKey)
	}
	transcoder := ttsProvider.NewTranscoder(cfg.TranscoderBinary)
	return ttsProvider.NewProviderSynthesizer(engines, transcoder)
}

func buildCache(ctx context.Context, cfg config.Config, synth ttscache.Synthesizer, logger contracts.Logger) (*ttscache.Cache, error) {
	store, err := ttscache.NewS3Store(ctx, cfg.AWSRegion, cfg.CacheBucket)
	if err != nil {
		return nil, err
	}
	return ttscache.New(ttscache.Config{
		GreetingText:  turn.GreetingText,
		FillerText:    filler.FillerText,
		FillerVersion: cfg.FillerVersion,
		Logger:        logger,
	}, store, synth), nil
}
