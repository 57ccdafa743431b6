// Package library resolves sounds for the engine. It keeps the bundles
// registered per group, opens sounds out of them and maps numeric script
// ids to sound names through a catalog that can be swapped at runtime.
package library

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/scoreflow/internal/observe"
	"github.com/MrWong99/scoreflow/pkg/audio"
	"github.com/MrWong99/scoreflow/pkg/bundle"
	"github.com/MrWong99/scoreflow/pkg/sound"
)

// ErrUnknownSound is returned when a catalog id has no entry.
var ErrUnknownSound = errors.New("library: unknown sound id")

// Entry maps a script sound id to a sound in a bundle.
type Entry struct {
	ID    int
	Name  string
	Group audio.Group
}

// Library is safe for concurrent use.
type Library struct {
	cache    *bundle.Cache
	observer bundle.Observer

	mu      sync.RWMutex
	bundles map[audio.Group][]*bundle.Archive
	catalog map[int]Entry
}

// Option configures a Library.
type Option func(*Library)

// WithObserver reports block decodes of every opened sound to o.
func WithObserver(o bundle.Observer) Option {
	return func(l *Library) { l.observer = o }
}

// New returns an empty library. Archives opened by path are shared through
// cache, which the caller owns and closes.
func New(cache *bundle.Cache, opts ...Option) *Library {
	l := &Library{
		cache:   cache,
		bundles: make(map[audio.Group][]*bundle.Archive),
		catalog: make(map[int]Entry),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// AddBundle opens the archive at path and searches it for sounds of group.
func (l *Library) AddBundle(path string, group audio.Group) error {
	a, err := l.cache.Open(path)
	if err != nil {
		return fmt.Errorf("library: add bundle: %w", err)
	}
	l.AddArchive(a, group)
	return nil
}

// AddArchive registers an already opened archive for group. Archives are
// searched in the order they were added.
func (l *Library) AddArchive(a *bundle.Archive, group audio.Group) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.bundles[group] = append(l.bundles[group], a)
}

// Bundles returns the number of registered archives across all groups.
func (l *Library) Bundles() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, as := range l.bundles {
		n += len(as)
	}
	return n
}

// SetCatalog replaces the id to name catalog.
func (l *Library) SetCatalog(entries []Entry) {
	catalog := make(map[int]Entry, len(entries))
	for _, e := range entries {
		catalog[e.ID] = e
	}
	l.mu.Lock()
	l.catalog = catalog
	l.mu.Unlock()
}

// Lookup returns the catalog entry for id.
func (l *Library) Lookup(id int) (Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.catalog[id]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %d", ErrUnknownSound, id)
	}
	return e, nil
}

// Open locates name in the bundles of group and parses its header. The
// first archive that contains the name wins.
func (l *Library) Open(ctx context.Context, name string, group audio.Group) (_ *sound.Sound, err error) {
	_, span := observe.StartSpan(ctx, "library.open", trace.WithAttributes(
		attribute.String("sound", name),
		attribute.String("group", group.String()),
	))
	defer func() { observe.EndSpan(span, err) }()

	l.mu.RLock()
	archives := l.bundles[group]
	l.mu.RUnlock()
	if len(archives) == 0 {
		return nil, fmt.Errorf("library: open %q: no %s bundles: %w", name, group, bundle.ErrNotFound)
	}

	var opts []bundle.ReaderOption
	if l.observer != nil {
		opts = append(opts, bundle.WithObserver(l.observer))
	}

	var lastErr error
	for _, a := range archives {
		r, err := a.OpenSound(name, opts...)
		if errors.Is(err, bundle.ErrNotFound) {
			lastErr = err
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("library: open %q: %w", name, err)
		}
		s, err := sound.Open(r)
		if err != nil {
			return nil, fmt.Errorf("library: open %q: %w", name, err)
		}
		return s, nil
	}
	return nil, fmt.Errorf("library: open %q: %w", name, lastErr)
}
