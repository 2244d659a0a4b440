package turn

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lokutor-ai/dialcore/internal/filler"
	"github.com/lokutor-ai/dialcore/internal/session"
	"github.com/lokutor-ai/dialcore/internal/ttscache"
	"github.com/lokutor-ai/dialcore/internal/vad"
	"github.com/lokutor-ai/dialcore/pkg/contracts"
)

type fakeSTT struct {
	text string
	err  error
}

func (f *fakeSTT) Transcribe(ctx context.Context, wavAudio []byte, opts contracts.STTOptions) (contracts.Transcription, error) {
	return contracts.Transcription{Text: f.text}, f.err
}
func (f *fakeSTT) Name() string { return "fakeSTT" }

type fakeLLM struct {
	reply string
	err   error
}

func (f *fakeLLM) Complete(ctx context.Context, messages []contracts.Message, opts contracts.LLMOptions) (string, error) {
	return f.reply, f.err
}
func (f *fakeLLM) Name() string { return "fakeLLM" }

type fakeSynth struct {
	audio []byte
	err   error
}

func (f *fakeSynth) Synthesize(ctx context.Context, text string, key ttscache.Key) ([]byte, error) {
	return f.audio, f.err
}

type fakeCleaner struct{}

func (fakeCleaner) Clean(ctx context.Context, mulaw8k []byte) ([]byte, error) { return mulaw8k, nil }

type fakeFillerCache struct{}

func (fakeFillerCache) Filler(ctx context.Context, engine contracts.Engine, voice contracts.Voice, speed float64) ([]byte, error) {
	return nil, nil
}

type fakeSender struct {
	mu     sync.Mutex
	frames int
	marks  int
}

func (f *fakeSender) WriteMediaFrame(ctx context.Context, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames++
	return nil
}
func (f *fakeSender) WriteMark(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marks++
	return nil
}

type fakeLog struct {
	mu        sync.Mutex
	users     []string
	assistant []string
	purpose   string
}

func (l *fakeLog) AppendUser(ctx context.Context, callID, text string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.users = append(l.users, text)
	return nil
}
func (l *fakeLog) AppendAssistant(ctx context.Context, callID, text string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.assistant = append(l.assistant, text)
	return nil
}
func (l *fakeLog) RecordPurpose(ctx context.Context, callID, purpose string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.purpose = purpose
	return nil
}

func testVADConfig() vad.Config {
	return vad.Config{
		ThresholdIdle:         0.02,
		ThresholdWhilePlaying: 0.05,
		WarmupIdle:            20,
		WarmupWhilePlaying:    40,
		SilenceMS:             300,
		MinSpeechFrames:       2,
		MinSpeechBytes:        160,
		MinSpeechMS:           100,
	}
}

func newTestHandler(stt contracts.STTProvider, llm contracts.LLMProvider, log *fakeLog) (*Handler, *fakeSender) {
	classifier := NewClassifier(llm)
	fc := filler.New(filler.Config{MinInterruptFrames: 5}, fakeFillerCache{}, nil)
	h := New(Config{MaxResponseChars: 300, HistoryWindow: 10}, stt, llm, classifier,
		&fakeSynth{audio: make([]byte, 320)}, fakeCleaner{}, fc, log, nil)
	return h, &fakeSender{}
}

func TestRunTurnEmptyTranscriptionSendsFixedReply(t *testing.T) {
	sess := session.New("C1", testVADConfig(), session.TTSBinding{Engine: contracts.EngineLokutor, Voice: "F1", Speed: 1})
	stt := &fakeSTT{text: ""}
	llm := &fakeLLM{reply: "ignored"}
	log := &fakeLog{}
	h, sender := newTestHandler(stt, llm, log)

	lat := h.runTurn(context.Background(), sess, sender, nil, []byte{0, 0, 0, 0})

	assert.Empty(t, log.users)
	assert.Zero(t, lat.ClassifierMS())
	sender.mu.Lock()
	defer sender.mu.Unlock()
	assert.Greater(t, sender.frames, 0)
}

func TestRunTurnClassifierFarewellSkipsConversationalLLM(t *testing.T) {
	sess := session.New("C1", testVADConfig(), session.TTSBinding{Engine: contracts.EngineLokutor, Voice: "F1", Speed: 1})
	stt := &fakeSTT{text: "goodbye, talk to you later"}
	llm := &fakeLLM{reply: `{"action":"farewell","reason":"caller said goodbye"}`}
	log := &fakeLog{}
	h, sender := newTestHandler(stt, llm, log)

	h.runTurn(context.Background(), sess, sender, nil, []byte{0, 0, 0, 0})

	hist := sess.History(0)
	require.Len(t, hist, 2)
	assert.Equal(t, "user", hist[0].Role)
	assert.Equal(t, FarewellText, hist[1].Content)
}

func TestRunTurnClassifierClosingSetsFlagsAndRecordsPurpose(t *testing.T) {
	sess := session.New("C1", testVADConfig(), session.TTSBinding{Engine: contracts.EngineLokutor, Voice: "F1", Speed: 1})
	stt := &fakeSTT{text: "I just needed to reschedule my appointment"}
	llm := &fakeLLM{reply: `{"action":"closing","reason":"purpose captured"}`}
	log := &fakeLog{}
	h, sender := newTestHandler(stt, llm, log)

	h.runTurn(context.Background(), sess, sender, nil, []byte{0, 0, 0, 0})

	closingAsked, purposeCaptured := sess.DialogFlags()
	assert.True(t, closingAsked)
	assert.True(t, purposeCaptured)
	assert.Equal(t, "I just needed to reschedule my appointment", log.purpose)
}

func TestRunTurnNothingFurtherAfterClosingRoutesToFarewell(t *testing.T) {
	sess := session.New("C1", testVADConfig(), session.TTSBinding{Engine: contracts.EngineLokutor, Voice: "F1", Speed: 1})
	sess.SetClosing(true, true)
	stt := &fakeSTT{text: "no that's all, thanks"}
	// the classifier is never consulted for its conversational-LLM leg here;
	// a "normal" verdict plus the nothing-further match should still route
	// to farewell without spending an LLM call on a reply.
	llm := &fakeLLM{reply: `{"action":"normal","reason":"plain statement"}`}
	log := &fakeLog{}
	h, sender := newTestHandler(stt, llm, log)

	h.runTurn(context.Background(), sess, sender, nil, []byte{0, 0, 0, 0})

	hist := sess.History(0)
	require.Len(t, hist, 2)
	assert.Equal(t, FarewellText, hist[1].Content)
}

func TestRunTurnAIDisabledSkipsClassifyAndReply(t *testing.T) {
	sess := session.New("C1", testVADConfig(), session.TTSBinding{Engine: contracts.EngineLokutor, Voice: "F1", Speed: 1})
	sess.SetAIEnabled(false)
	stt := &fakeSTT{text: "hello is anyone there"}
	llm := &fakeLLM{reply: `{"action":"normal","reason":"n/a"}`}
	log := &fakeLog{}
	h, sender := newTestHandler(stt, llm, log)

	lat := h.runTurn(context.Background(), sess, sender, nil, []byte{0, 0, 0, 0})

	hist := sess.History(0)
	require.Len(t, hist, 1)
	assert.Equal(t, "user", hist[0].Role)
	assert.Zero(t, lat.ClassifierMS())
}

func TestEnqueueSegmentMergesWithinWindow(t *testing.T) {
	sess := session.New("C1", testVADConfig(), session.TTSBinding{Engine: contracts.EngineLokutor, Voice: "F1", Speed: 1})
	stt := &fakeSTT{text: "merged segment text"}
	llm := &fakeLLM{reply: `{"action":"normal","reason":"n/a"}`}
	log := &fakeLog{}
	h, sender := newTestHandler(stt, llm, log)
	h.cfg.MergeWindowMS = 20

	h.EnqueueSegment(context.Background(), sess, sender, nil, []byte{1, 1, 1, 1})
	time.Sleep(5 * time.Millisecond)
	h.EnqueueSegment(context.Background(), sess, sender, nil, []byte{2, 2, 2, 2})

	require.Eventually(t, func() bool {
		log.mu.Lock()
		defer log.mu.Unlock()
		return len(log.users) >= 1
	}, time.Second, 5*time.Millisecond)

	log.mu.Lock()
	defer log.mu.Unlock()
	assert.Len(t, log.users, 1, "two segments within the merge window should produce exactly one turn")
}

func TestTryStartTurnQueuesConcurrentSegment(t *testing.T) {
	sess := session.New("C1", testVADConfig(), session.TTSBinding{})
	require.True(t, sess.TryStartTurn([]byte{1}))
	require.False(t, sess.TryStartTurn([]byte{2}))

	next, ok := sess.FinishTurn()
	require.True(t, ok)
	assert.Equal(t, []byte{2}, next)

	_, ok = sess.FinishTurn()
	assert.False(t, ok)
}
