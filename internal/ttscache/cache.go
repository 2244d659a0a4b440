// Package ttscache implements the two-tier (memory + object-store) cache
// for the two fixed-text roles — greeting and filler — keyed by
// (role, engine, voice, speed[, tag, version]) per spec.md §3/§4.7.
// A concurrent miss on the same key launches exactly one synthesis via
// golang.org/x/sync/singleflight (grounded in MrWong99-glyphoxa's use of
// the same package), never two.
package ttscache

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/lokutor-ai/dialcore/pkg/contracts"
)

// Key identifies one cache entry. Tag/Version only matter for the filler
// role (Tag distinguishes fixed-text variants, Version is FILLER_VERSION
// from config, invalidating the key when the filler text changes).
type Key struct {
	Role   string // "greeting" or "filler"
	Engine contracts.Engine
	Voice  contracts.Voice
	Speed  float64
	Tag    string
	Version string
}

// ObjectName renders the persisted wire object's file name, per spec.md
// §6's grammar: initial-greeting-<engine>-<voice>-<speed>.ulaw and
// filler-<tag>-<version>-<engine>-<voice>-<speed>.ulaw.
func (k Key) ObjectName() string {
	speed := strconv.FormatFloat(k.Speed, 'f', 2, 64)
	switch k.Role {
	case "greeting":
		return fmt.Sprintf("initial-greeting-%s-%s-%s.ulaw", k.Engine, k.Voice, speed)
	case "filler":
		return fmt.Sprintf("filler-%s-%s-%s-%s-%s.ulaw", k.Tag, k.Version, k.Engine, k.Voice, speed)
	default:
		return fmt.Sprintf("%s-%s-%s-%s.ulaw", k.Role, k.Engine, k.Voice, speed)
	}
}

// ObjectStore is the object-store tier: large max-age, content is raw
// μ-law with no header.
type ObjectStore interface {
	Get(ctx context.Context, name string) ([]byte, bool, error)
	Put(ctx context.Context, name string, data []byte) error
}

// Synthesizer produces the final μ-law bytes for a cache miss: vendor TTS
// synthesis followed by the external transcoder.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, key Key) ([]byte, error)
}

// Cache is the two-tier greeting/filler cache.
type Cache struct {
	mu    sync.RWMutex
	mem   map[string][]byte
	store ObjectStore
	synth Synthesizer
	group singleflight.Group

	greetingText  string
	fillerText    string
	fillerVersion string

	logger contracts.Logger

	writeBackTimeout time.Duration
}

// Config configures the cache's fixed texts and logger.
type Config struct {
	GreetingText  string
	FillerText    string
	FillerVersion string
	Logger        contracts.Logger
}

// New builds a Cache.
func New(cfg Config, store ObjectStore, synth Synthesizer) *Cache {
	logger := cfg.Logger
	if logger == nil {
		logger = contracts.NoOpLogger{}
	}
	return &Cache{
		mem:              make(map[string][]byte),
		store:            store,
		synth:            synth,
		greetingText:     cfg.GreetingText,
		fillerText:       cfg.FillerText,
		fillerVersion:    cfg.FillerVersion,
		logger:           logger,
		writeBackTimeout: 10 * time.Second,
	}
}

// Greeting returns the cached (or freshly synthesized) greeting audio for
// the given per-call TTS binding.
func (c *Cache) Greeting(ctx context.Context, engine contracts.Engine, voice contracts.Voice, speed float64) ([]byte, error) {
	key := Key{Role: "greeting", Engine: engine, Voice: voice, Speed: speed}
	return c.get(ctx, key, c.greetingText)
}

// Filler returns the cached (or freshly synthesized) filler audio.
func (c *Cache) Filler(ctx context.Context, engine contracts.Engine, voice contracts.Voice, speed float64) ([]byte, error) {
	key := Key{Role: "filler", Engine: engine, Voice: voice, Speed: speed, Tag: "default", Version: c.fillerVersion}
	return c.get(ctx, key, c.fillerText)
}

// Prime synthesizes (or loads) the default-config greeting and filler at
// process start, so the greeting fast-path (spec.md §4.5) has a hit on the
// very first call.
func (c *Cache) Prime(ctx context.Context, engine contracts.Engine, voice contracts.Voice, speed float64) error {
	if _, err := c.Greeting(ctx, engine, voice, speed); err != nil {
		return err
	}
	if _, err := c.Filler(ctx, engine, voice, speed); err != nil {
		return err
	}
	return nil
}

// PeekGreeting checks the memory and object-store tiers only, for the
// greeting fast-path (spec.md §4.5): a hit can be sent immediately without
// waiting on the per-call TTS binding lookup a cold synthesis would need.
func (c *Cache) PeekGreeting(ctx context.Context, engine contracts.Engine, voice contracts.Voice, speed float64) ([]byte, bool) {
	key := Key{Role: "greeting", Engine: engine, Voice: voice, Speed: speed}
	return c.peek(ctx, key)
}

func (c *Cache) peek(ctx context.Context, key Key) ([]byte, bool) {
	name := key.ObjectName()

	c.mu.RLock()
	if b, ok := c.mem[name]; ok {
		c.mu.RUnlock()
		return b, true
	}
	c.mu.RUnlock()

	if c.store != nil {
		if b, ok, err := c.store.Get(ctx, name); err == nil && ok {
			c.mu.Lock()
			c.mem[name] = b
			c.mu.Unlock()
			return b, true
		}
	}
	return nil, false
}

// get implements the memory → object-store → synthesize-now lookup chain.
// On a synthesis, the memory cache is populated immediately and the
// object-store write is fire-and-forget.
func (c *Cache) get(ctx context.Context, key Key, text string) ([]byte, error) {
	name := key.ObjectName()

	c.mu.RLock()
	if b, ok := c.mem[name]; ok {
		c.mu.RUnlock()
		return b, nil
	}
	c.mu.RUnlock()

	v, err, _ := c.group.Do(name, func() (interface{}, error) {
		c.mu.RLock()
		if b, ok := c.mem[name]; ok {
			c.mu.RUnlock()
			return b, nil
		}
		c.mu.RUnlock()

		if c.store != nil {
			if b, ok, err := c.store.Get(ctx, name); err == nil && ok {
				c.mu.Lock()
				c.mem[name] = b
				c.mu.Unlock()
				return b, nil
			}
		}

		audio, err := c.synth.Synthesize(ctx, text, key)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.mem[name] = audio
		c.mu.Unlock()

		if c.store != nil {
			go func() {
				wctx, cancel := context.WithTimeout(context.Background(), c.writeBackTimeout)
				defer cancel()
				if err := c.store.Put(wctx, name, audio); err != nil {
					c.logger.Warn("object-store write-back failed", "name", name, "err", err)
				}
			}()
		}

		return audio, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}
