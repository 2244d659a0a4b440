package ttscache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lokutor-ai/dialcore/pkg/contracts"
)

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
	puts int32
}

func newMemStore() *memStore { return &memStore{data: map[string][]byte{}} }

func (m *memStore) Get(ctx context.Context, name string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.data[name]
	return b, ok, nil
}

func (m *memStore) Put(ctx context.Context, name string, data []byte) error {
	m.mu.Lock()
	m.data[name] = data
	m.mu.Unlock()
	atomic.AddInt32(&m.puts, 1)
	return nil
}

type countingSynth struct {
	calls int32
	delay time.Duration
}

func (s *countingSynth) Synthesize(ctx context.Context, text string, key Key) ([]byte, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	return []byte("audio:" + text), nil
}

func TestGetSynthesizesOnFullMiss(t *testing.T) {
	store := newMemStore()
	synth := &countingSynth{}
	c := New(Config{GreetingText: "hello"}, store, synth)

	audio, err := c.Greeting(context.Background(), contracts.EngineLokutor, "F1", 1.0)
	require.NoError(t, err)
	assert.Equal(t, "audio:hello", string(audio))
	assert.EqualValues(t, 1, atomic.LoadInt32(&synth.calls))

	// write-back is fire-and-forget; give it a moment.
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&store.puts) == 1 }, time.Second, 5*time.Millisecond)
}

func TestGetHitsMemoryOnSecondCall(t *testing.T) {
	store := newMemStore()
	synth := &countingSynth{}
	c := New(Config{FillerText: "please wait"}, store, synth)

	_, err := c.Filler(context.Background(), contracts.EngineLokutor, "F1", 1.0)
	require.NoError(t, err)
	_, err = c.Filler(context.Background(), contracts.EngineLokutor, "F1", 1.0)
	require.NoError(t, err)

	assert.EqualValues(t, 1, atomic.LoadInt32(&synth.calls), "expected only one synthesis across two calls")
}

func TestGetHitsObjectStoreBeforeSynthesizing(t *testing.T) {
	store := newMemStore()
	key := Key{Role: "greeting", Engine: contracts.EngineLokutor, Voice: "F1", Speed: 1.0}
	store.data[key.ObjectName()] = []byte("precomputed")

	synth := &countingSynth{}
	c := New(Config{GreetingText: "hello"}, store, synth)

	audio, err := c.Greeting(context.Background(), contracts.EngineLokutor, "F1", 1.0)
	require.NoError(t, err)
	assert.Equal(t, "precomputed", string(audio))
	assert.EqualValues(t, 0, atomic.LoadInt32(&synth.calls))
}

func TestConcurrentMissSynthesizesOnce(t *testing.T) {
	store := newMemStore()
	synth := &countingSynth{delay: 50 * time.Millisecond}
	c := New(Config{GreetingText: "hello"}, store, synth)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Greeting(context.Background(), contracts.EngineLokutor, "F1", 1.0)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&synth.calls), "expected a concurrent miss to launch exactly one synthesis")
}

func TestObjectNameGrammar(t *testing.T) {
	g := Key{Role: "greeting", Engine: contracts.EngineLokutor, Voice: "F1", Speed: 1.0}
	assert.Equal(t, "initial-greeting-lokutor-F1-1.00.ulaw", g.ObjectName())

	f := Key{Role: "filler", Engine: contracts.EngineLokutor, Voice: "F1", Speed: 1.0, Tag: "default", Version: "v1"}
	assert.Equal(t, "filler-default-v1-lokutor-F1-1.00.ulaw", f.ObjectName())
}
