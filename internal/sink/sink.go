// Package sink implements the downstream destinations packets are drained into.
package sink

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/mitchellh/mapstructure"

	"firestige.xyz/udpin/internal/core"
)

// Sink receives packets read from a session.
type Sink interface {
	Name() string
	Open(ctx context.Context, info Info) error
	Write(ctx context.Context, p *core.Packet) error
	Flush(ctx context.Context) error
	Close() error
}

// Info describes the session a sink is attached to.
type Info struct {
	SessionID string
	Local     string
}

// Factory creates a sink from its option map.
type Factory func(options map[string]any) (Sink, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a sink type available to New. Registering a name twice panics.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	if _, dup := factories[name]; dup {
		panic("sink: Register called twice for " + name)
	}
	factories[name] = f
}

func init() {
	Register("console", newConsole)
	Register("file", newFile)
	Register("kafka", newKafka)
	Register("discard", newDiscard)
}

// New creates a sink of the named type.
func New(name string, options map[string]any) (Sink, error) {
	mu.RLock()
	f, ok := factories[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, core.ErrSinkNotFound)
	}
	return f(options)
}

// Types returns the registered sink types, sorted.
func Types() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// decode maps an option map onto out. Durations may be given as strings.
func decode(options map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(options); err != nil {
		return fmt.Errorf("decode sink options: %w: %w", err, core.ErrConfigInvalid)
	}
	return nil
}

// discard counts packets and drops them.
type discard struct {
	sessionID string
	count     uint64
}

func newDiscard(options map[string]any) (Sink, error) {
	if err := decode(options, &struct{}{}); err != nil {
		return nil, err
	}
	return &discard{}, nil
}

func (d *discard) Name() string { return "discard" }

func (d *discard) Open(_ context.Context, info Info) error {
	d.sessionID = info.SessionID
	return nil
}

func (d *discard) Write(context.Context, *core.Packet) error {
	d.count++
	return nil
}

func (d *discard) Flush(context.Context) error { return nil }

func (d *discard) Close() error {
	slog.Info("discard sink closed", "session_id", d.sessionID, "total_discarded", d.count)
	return nil
}
