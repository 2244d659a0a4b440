package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lokutor-ai/dialcore/internal/registry"
	"github.com/lokutor-ai/dialcore/pkg/contracts"
)

type fakeGreetingCache struct {
	peekHit  []byte
	peekOK   bool
	synth    []byte
	synthErr error
}

func (c *fakeGreetingCache) PeekGreeting(ctx context.Context, engine contracts.Engine, voice contracts.Voice, speed float64) ([]byte, bool) {
	return c.peekHit, c.peekOK
}

func (c *fakeGreetingCache) Greeting(ctx context.Context, engine contracts.Engine, voice contracts.Voice, speed float64) ([]byte, error) {
	return c.synth, c.synthErr
}

type fakeGreetingSender struct {
	mu     sync.Mutex
	frames int
	marks  int
}

func (f *fakeGreetingSender) WriteMediaFrame(ctx context.Context, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames++
	return nil
}

func (f *fakeGreetingSender) WriteMark(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marks++
	return nil
}

type fakeRegistry struct {
	binding registry.RingingCall
	err     error
}

func (r *fakeRegistry) MostRecentRinging(ctx context.Context) (registry.RingingCall, bool, error) {
	return registry.RingingCall{}, false, nil
}

func (r *fakeRegistry) TTSBinding(ctx context.Context, callID string) (registry.RingingCall, error) {
	return r.binding, r.err
}

func greetingAudio(n int) []byte {
	return make([]byte, n*160)
}

func TestScheduleGreetingFastPathOnCacheHit(t *testing.T) {
	s := New("C1", testVADConfig(), TTSBinding{Engine: contracts.EngineLokutor, Voice: "F1", Speed: 1})
	cache := &fakeGreetingCache{peekHit: greetingAudio(4), peekOK: true}
	sender := &fakeGreetingSender{}

	ScheduleGreeting(context.Background(), s, cache, sender, nil, nil, GreetingConfig{}, nil)

	sender.mu.Lock()
	defer sender.mu.Unlock()
	assert.Equal(t, 4, sender.frames)
	assert.Equal(t, 1, sender.marks)
	assert.True(t, s.Snapshot().InitialSent)
}

func TestScheduleGreetingFallsBackToRegistryBindingOnMiss(t *testing.T) {
	s := New("C1", testVADConfig(), TTSBinding{Engine: contracts.EngineLokutor, Voice: "F1", Speed: 1})
	cache := &fakeGreetingCache{peekOK: false, synth: greetingAudio(2)}
	sender := &fakeGreetingSender{}
	reg := &fakeRegistry{binding: registry.RingingCall{Engine: "cloudtalk", Voice: "en-US-Neutral", Speed: 1.1}}

	ScheduleGreeting(context.Background(), s, cache, sender, nil, reg, GreetingConfig{}, nil)

	sender.mu.Lock()
	defer sender.mu.Unlock()
	assert.Equal(t, 2, sender.frames)
	binding := s.Binding()
	assert.Equal(t, contracts.EngineCloudtalk, binding.Engine)
	assert.Equal(t, contracts.Voice("en-US-Neutral"), binding.Voice)
}

func TestScheduleGreetingSkipsWhenSocketNeverOpens(t *testing.T) {
	s := New("C1", testVADConfig(), TTSBinding{})
	cache := &fakeGreetingCache{peekOK: false, synth: greetingAudio(2)}
	sender := &fakeGreetingSender{}

	never := func() bool { return false }
	ScheduleGreeting(context.Background(), s, cache, sender, never, nil, GreetingConfig{SocketOpenWait: 30 * time.Millisecond}, nil)

	sender.mu.Lock()
	defer sender.mu.Unlock()
	assert.Equal(t, 0, sender.frames)
	assert.False(t, s.Snapshot().InitialSent)
}

func TestScheduleGreetingSendsNothingOnSynthesisFailure(t *testing.T) {
	s := New("C1", testVADConfig(), TTSBinding{})
	cache := &fakeGreetingCache{peekOK: false, synthErr: assertError{}}
	sender := &fakeGreetingSender{}

	ScheduleGreeting(context.Background(), s, cache, sender, nil, nil, GreetingConfig{}, nil)

	require.Equal(t, 0, sender.frames)
}

type assertError struct{}

func (assertError) Error() string { return "synthesis failed" }
