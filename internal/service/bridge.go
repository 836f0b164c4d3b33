package service

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bnema/gifcap/internal/domain"
	"github.com/bnema/gifcap/internal/infrastructure/logger"
	"github.com/bnema/gifcap/internal/port"
)

const (
	ContextWorker = "worker"
	ContextPopup  = "popup"

	defaultWatchDebounce = 200 * time.Millisecond
)

// Bridge gives every execution context the same view of the library. No
// context keeps a store handle between calls: each operation opens the store,
// checks the schema version, runs and closes.
type Bridge struct {
	opener   port.ArtifactOpener
	dbPath   string
	debounce time.Duration

	mu    sync.Mutex
	views map[string]*View
}

func NewBridge(opener port.ArtifactOpener, dbPath string) *Bridge {
	return &Bridge{
		opener:   opener,
		dbPath:   dbPath,
		debounce: defaultWatchDebounce,
		views:    make(map[string]*View),
	}
}

// Context returns the named execution context, registering it with cache as
// its local projection on first use. cache may be nil.
func (b *Bridge) Context(name string, cache port.ProjectionCache) *View {
	b.mu.Lock()
	defer b.mu.Unlock()
	if v, ok := b.views[name]; ok {
		return v
	}
	v := &View{name: name, bridge: b, cache: cache}
	b.views[name] = v
	return v
}

func (b *Bridge) with(ctx context.Context, fn func(port.ArtifactStore) error) error {
	store, err := b.opener.Open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			logger.Warn.Printf("close artifact store: %v", cerr)
		}
	}()

	version, err := store.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	if version != domain.SchemaVersion {
		return &domain.StorageError{
			Op:  "open",
			Err: fmt.Errorf("%w: store is at version %d, expected %d", domain.ErrSchemaMismatch, version, domain.SchemaVersion),
		}
	}
	return fn(store)
}

// Watch reports library changes made by any context, batched so a burst of
// writes to the database files produces one notification. The channel closes
// when ctx ends.
func (b *Bridge) Watch(ctx context.Context) (<-chan struct{}, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	dir := filepath.Dir(b.dbPath)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	base := filepath.Base(b.dbPath)
	out := make(chan struct{}, 1)
	log := logger.Named("bridge")

	go func() {
		defer close(out)
		defer watcher.Close()

		ticker := time.NewTicker(b.debounce)
		defer ticker.Stop()
		pending := false

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !strings.HasPrefix(filepath.Base(event.Name), base) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					pending = true
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn("library watcher", "dir", dir, "error", err)
			case <-ticker.C:
				if !pending {
					continue
				}
				pending = false
				log.Debug("library changed", "db", base)
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()

	return out, nil
}

// View is one execution context's handle on the library.
type View struct {
	name   string
	bridge *Bridge
	cache  port.ProjectionCache
}

func (v *View) Name() string {
	return v.name
}

// List reads the authoritative library and refreshes the local projection.
func (v *View) List(ctx context.Context) (*domain.LibraryIndex, error) {
	var index *domain.LibraryIndex
	err := v.bridge.with(ctx, func(store port.ArtifactStore) error {
		entries, err := store.List(ctx)
		if err != nil {
			return err
		}
		index = domain.NewLibraryIndex(entries, domain.SchemaVersion)
		return nil
	})
	if err != nil {
		return nil, err
	}
	v.project(index.Entries)
	return index, nil
}

func (v *View) Get(ctx context.Context, id string) (*domain.GifArtifact, error) {
	var artifact *domain.GifArtifact
	err := v.bridge.with(ctx, func(store port.ArtifactStore) error {
		a, err := store.Get(ctx, id)
		if err != nil {
			return err
		}
		artifact = a
		return nil
	})
	return artifact, err
}

func (v *View) Put(ctx context.Context, a *domain.GifArtifact) (string, error) {
	var id string
	err := v.bridge.with(ctx, func(store port.ArtifactStore) error {
		var err error
		id, err = store.Put(ctx, a)
		return err
	})
	if err != nil {
		return "", err
	}
	logger.Debug.Printf("%s: stored artifact %s (%s)", v.name, id, domain.FormatSize(a.SizeBytes))
	return id, nil
}

func (v *View) Delete(ctx context.Context, id string) error {
	return v.bridge.with(ctx, func(store port.ArtifactStore) error {
		return store.Delete(ctx, id)
	})
}

// Cached returns the projection written by the last List in this context.
// It may be stale and is never used to answer List or Get.
func (v *View) Cached() ([]domain.Metadata, error) {
	if v.cache == nil {
		return nil, nil
	}
	return v.cache.Entries()
}

func (v *View) project(entries []domain.Metadata) {
	if v.cache == nil {
		return
	}
	if err := v.cache.Replace(entries); err != nil {
		logger.Warn.Printf("%s: refresh library projection: %v", v.name, err)
	}
}
