// Package turn implements the turn handler (spec.md §4.6): per-call segment
// merging, the single-flight STT→classify→LLM→TTS→send pipeline, and the
// closing/farewell/take-message routing policy. Latency instrumentation is
// adapted from a GetLatencyBreakdown/GetEndToEndLatency pattern, renamed
// onto one telephony turn instead of a standing microphone conversation.
package turn

import (
	"context"
	"strings"
	"time"

	"github.com/lokutor-ai/dialcore/internal/audiosend"
	"github.com/lokutor-ai/dialcore/internal/filler"
	"github.com/lokutor-ai/dialcore/internal/registry"
	"github.com/lokutor-ai/dialcore/internal/session"
	"github.com/lokutor-ai/dialcore/internal/ttscache"
	"github.com/lokutor-ai/dialcore/pkg/contracts"
)

// Config tunes the handler's merge window and reply shaping.
type Config struct {
	MergeWindowMS             int
	MergeWindowMSWhilePlaying int
	MaxResponseChars          int
	Language                  contracts.Language
	HistoryWindow             int // messages of context sent to the conversational LLM
}

// SpeechCleaner is the subset of SpeechTranscoder the handler depends on,
// narrowed to an interface so tests can substitute a fake instead of
// shelling out to ffmpeg.
type SpeechCleaner interface {
	Clean(ctx context.Context, mulaw8k []byte) ([]byte, error)
}

// Handler owns the STT/LLM/classifier/TTS dependencies and drives one
// call's turns. A single Handler is shared across all live calls; all
// per-call mutable state lives on the session.CallSession passed in.
type Handler struct {
	cfg Config

	STT        contracts.STTProvider
	LLM        contracts.LLMProvider
	Classifier *Classifier
	Synth      ttscache.Synthesizer
	Transcoder SpeechCleaner
	Filler     *filler.Coordinator
	Log        registry.ConversationLog
	Logger     contracts.Logger

	// OnTurn, if set, is called once at the end of every runTurn with the
	// routing label taken and the latency breakdown, for metrics export.
	OnTurn func(action string, lat LatencyBreakdown)
}

// New builds a Handler.
func New(cfg Config, stt contracts.STTProvider, llm contracts.LLMProvider, classifier *Classifier, synth ttscache.Synthesizer, transcoder SpeechCleaner, fillerCoord *filler.Coordinator, log registry.ConversationLog, logger contracts.Logger) *Handler {
	if logger == nil {
		logger = contracts.NoOpLogger{}
	}
	if cfg.HistoryWindow == 0 {
		cfg.HistoryWindow = 10
	}
	return &Handler{
		cfg: cfg, STT: stt, LLM: llm, Classifier: classifier, Synth: synth,
		Transcoder: transcoder, Filler: fillerCoord, Log: log, Logger: logger,
	}
}

// LatencyBreakdown records the per-turn instrumentation timestamps, the
// telephony-turn counterpart of a per-stream latency field set.
type LatencyBreakdown struct {
	TurnStart time.Time

	STTStart, STTEnd               time.Time
	ClassifierStart, ClassifierEnd time.Time
	LLMStart, LLMEnd               time.Time
	TTSStart, TTSEnd               time.Time
}

func (l LatencyBreakdown) STTMS() int64        { return msBetween(l.STTStart, l.STTEnd) }
func (l LatencyBreakdown) ClassifierMS() int64  { return msBetween(l.ClassifierStart, l.ClassifierEnd) }
func (l LatencyBreakdown) LLMMS() int64         { return msBetween(l.LLMStart, l.LLMEnd) }
func (l LatencyBreakdown) TTSMS() int64         { return msBetween(l.TTSStart, l.TTSEnd) }

// TotalMS is end-to-end: turn acceptance to the last stage that actually
// ran (TTS, or whichever stage the turn stopped at).
func (l LatencyBreakdown) TotalMS() int64 {
	end := l.TTSEnd
	if end.IsZero() {
		end = l.LLMEnd
	}
	if end.IsZero() {
		end = l.ClassifierEnd
	}
	if end.IsZero() {
		end = l.STTEnd
	}
	return msBetween(l.TurnStart, end)
}

func msBetween(start, end time.Time) int64 {
	if start.IsZero() || end.IsZero() {
		return 0
	}
	return end.Sub(start).Milliseconds()
}

// EnqueueSegment implements spec.md §4.6's enqueue_segment: merge with any
// pending segments and (re)start the merge-window deadline timer. When the
// timer fires without a newer segment having arrived, the merged batch is
// handed to accept. The window is the longer "while playing" value when the
// agent is currently sending audio, to allow caller "continuation" phrasing
// to land in one turn.
func (h *Handler) EnqueueSegment(ctx context.Context, sess *session.CallSession, sender audiosend.Sender, live func() bool, mulaw []byte) {
	windowMS := h.cfg.MergeWindowMS
	if sess.Sched.Sending() {
		windowMS = h.cfg.MergeWindowMSWhilePlaying
	}

	_, deadline, token := sess.MergePush(mulaw, windowMS)
	delay := time.Until(deadline)
	if delay < 0 {
		delay = 0
	}

	time.AfterFunc(delay, func() {
		batch, ok := sess.MergeFlush(token)
		if !ok || len(batch) == 0 {
			return
		}
		h.accept(ctx, sess, sender, live, concat(batch))
	})
}

// accept implements the non-reentrant single-flight guard: a merged
// segment either starts a fresh run (if none is in flight) or queues
// behind the one that is. A started run keeps draining the queue until
// it's empty, all under the same logical single-flight turn.
func (h *Handler) accept(ctx context.Context, sess *session.CallSession, sender audiosend.Sender, live func() bool, seg []byte) {
	if !sess.TryStartTurn(seg) {
		return
	}
	go func() {
		for {
			h.runTurn(ctx, sess, sender, live, seg)
			next, ok := sess.FinishTurn()
			if !ok {
				return
			}
			seg = next
		}
	}()
}

// runTurn drives one merged segment through the full pipeline
// (spec.md §4.6 step 1-6).
func (h *Handler) runTurn(ctx context.Context, sess *session.CallSession, sender audiosend.Sender, live func() bool, seg []byte) LatencyBreakdown {
	var lat LatencyBreakdown
	lat.TurnStart = time.Now()
	action := "empty_transcription"
	defer func() {
		if h.OnTurn != nil {
			h.OnTurn(action, lat)
		}
	}()

	binding := sess.Binding()
	h.Filler.MaybePlayFiller(ctx, sess.Sched, sender, live, binding.Engine, binding.Voice, binding.Speed)

	cleaned, err := h.Transcoder.Clean(ctx, seg)
	if err != nil {
		h.Logger.Warn("speech cleanup transcode failed", "call_id", sess.CallID(), "err", err)
		h.sendReply(ctx, sess, sender, live, EmptyTranscriptionText, &lat)
		return lat
	}

	lat.STTStart = time.Now()
	transcription, err := h.STT.Transcribe(ctx, cleaned, contracts.STTOptions{Language: h.cfg.Language, Temperature: 0, Verbose: true})
	lat.STTEnd = time.Now()
	if err != nil {
		h.Logger.Warn("stt failed", "call_id", sess.CallID(), "err", err)
		h.sendReply(ctx, sess, sender, live, EmptyTranscriptionText, &lat)
		return lat
	}

	text := strings.TrimSpace(transcription.Text)
	if text == "" {
		h.sendReply(ctx, sess, sender, live, EmptyTranscriptionText, &lat)
		return lat
	}

	sess.AppendMessage("user", text)
	if h.Log != nil {
		if err := h.Log.AppendUser(ctx, sess.CallID(), text); err != nil {
			h.Logger.Warn("conversation log append (user) failed", "call_id", sess.CallID(), "err", err)
		}
	}

	if !sess.AIEnabled() {
		action = "ai_disabled"
		return lat
	}

	closingAsked, _ := sess.DialogFlags()
	lat.ClassifierStart = time.Now()
	result := h.Classifier.Classify(ctx, closingAsked, text)
	lat.ClassifierEnd = time.Now()
	action = string(result.Action)

	switch result.Action {
	case ActionFarewell:
		h.sendReply(ctx, sess, sender, live, FarewellText, &lat)
	case ActionTakeMessage:
		h.sendReply(ctx, sess, sender, live, TakeMessagePromptText, &lat)
	case ActionClosing:
		sess.SetClosing(true, true)
		if h.Log != nil {
			if err := h.Log.RecordPurpose(ctx, sess.CallID(), text); err != nil {
				h.Logger.Warn("purpose record failed", "call_id", sess.CallID(), "err", err)
			}
		}
		h.sendReply(ctx, sess, sender, live, "Understood. "+ClosingQuestionText, &lat)
	default:
		if closingAsked && matchesNothingFurther(text) {
			action = "farewell"
			h.sendReply(ctx, sess, sender, live, FarewellText, &lat)
			break
		}
		lat.LLMStart = time.Now()
		reply, err := h.LLM.Complete(ctx, h.buildContext(sess), contracts.LLMOptions{Temperature: 0.3, MaxTokens: 80})
		lat.LLMEnd = time.Now()
		if err != nil {
			h.Logger.Warn("conversational llm failed, skipping turn", "call_id", sess.CallID(), "err", err)
			break
		}
		h.sendReply(ctx, sess, sender, live, Truncate(reply, h.cfg.MaxResponseChars), &lat)
	}

	return lat
}

// buildContext assembles the system prompt plus the last HistoryWindow
// messages of conversation for the conversational LLM call.
func (h *Handler) buildContext(sess *session.CallSession) []contracts.Message {
	msgs := make([]contracts.Message, 0, h.cfg.HistoryWindow+1)
	msgs = append(msgs, contracts.Message{Role: "system", Content: ConversationalSystemPrompt})
	msgs = append(msgs, sess.History(h.cfg.HistoryWindow)...)
	return msgs
}

// sendReply appends the assistant message, stops any in-flight audio
// (honoring the uninterruptible rule — this also cancels the filler, if
// it's still playing, per spec.md §4.6 step 6), synthesizes via the
// uncached direct synthesizer, and streams the result through the
// scheduler. A TTS failure is logged; the next turn is still accepted.
func (h *Handler) sendReply(ctx context.Context, sess *session.CallSession, sender audiosend.Sender, live func() bool, text string, lat *LatencyBreakdown) {
	sess.AppendMessage("assistant", text)
	if h.Log != nil {
		if err := h.Log.AppendAssistant(ctx, sess.CallID(), text); err != nil {
			h.Logger.Warn("conversation log append (assistant) failed", "call_id", sess.CallID(), "err", err)
		}
	}

	sess.Sched.StopAndWait(ctx, "new_reply")

	binding := sess.Binding()
	lat.TTSStart = time.Now()
	audio, err := h.Synth.Synthesize(ctx, text, ttscache.Key{Role: "reply", Engine: binding.Engine, Voice: binding.Voice, Speed: binding.Speed})
	lat.TTSEnd = time.Now()
	if err != nil {
		h.Logger.Warn("tts synthesis failed, turn logged, next turn still accepted", "call_id", sess.CallID(), "err", err)
		return
	}

	if _, err := sess.Sched.Send(ctx, sender, audio, audiosend.Options{Label: "reply"}, live); err != nil {
		h.Logger.Warn("reply send failed", "call_id", sess.CallID(), "err", err)
	}
}

func concat(segments [][]byte) []byte {
	total := 0
	for _, s := range segments {
		total += len(s)
	}
	out := make([]byte, 0, total)
	for _, s := range segments {
		out = append(out, s...)
	}
	return out
}
