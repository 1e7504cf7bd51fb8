package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// dirPerms is used when creating the signal directory.
const dirPerms = 0o700

// FileBus carries signals between processes on one host through a signal
// file per origin. Publishing atomically replaces the file; every
// subscriber watches the directory with fsnotify and reads the new content.
type FileBus struct {
	dir    string
	origin string
	sender string
	logger *slog.Logger
}

// NewFileBus returns a FileBus for origin whose signal file lives in dir.
func NewFileBus(dir, origin string, logger *slog.Logger) *FileBus {
	if logger == nil {
		logger = slog.Default()
	}

	return &FileBus{
		dir:    dir,
		origin: origin,
		sender: newSenderID(),
		logger: logger,
	}
}

// signalPath is the origin's signal file. The origin is escaped so any URL
// yields one flat, valid file name.
func (b *FileBus) signalPath() string {
	return filepath.Join(b.dir, url.QueryEscape(b.origin)+".signal")
}

func (b *FileBus) Publish(_ context.Context, msg Message) error {
	data, err := encodeEnvelope(newEnvelope(b.origin, b.sender, msg))
	if err != nil {
		return err
	}

	if err := os.MkdirAll(b.dir, dirPerms); err != nil {
		return fmt.Errorf("broadcast: creating signal directory %s: %w", b.dir, err)
	}

	tmp, err := os.CreateTemp(b.dir, ".signal-*.tmp")
	if err != nil {
		return fmt.Errorf("broadcast: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)

		return fmt.Errorf("broadcast: writing signal: %w", err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("broadcast: closing signal: %w", err)
	}

	if err := os.Rename(tmpPath, b.signalPath()); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("broadcast: publishing signal: %w", err)
	}

	b.logger.Debug("published signal",
		slog.String("origin", b.origin),
		slog.String("message", string(msg)),
	)

	return nil
}

func (b *FileBus) Subscribe(ctx context.Context) (<-chan Message, error) {
	if err := os.MkdirAll(b.dir, dirPerms); err != nil {
		return nil, fmt.Errorf("broadcast: creating signal directory %s: %w", b.dir, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("broadcast: creating watcher: %w", err)
	}

	// Watch the directory, not the file: rename replaces the inode.
	if err := watcher.Add(b.dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("broadcast: watching %s: %w", b.dir, err)
	}

	out := make(chan Message, subscriberBuffer)
	go b.watch(ctx, watcher, out)

	return out, nil
}

func (b *FileBus) watch(ctx context.Context, watcher *fsnotify.Watcher, out chan<- Message) {
	defer close(out)
	defer watcher.Close()

	path := b.signalPath()
	lastID := ""

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}

			if filepath.Clean(ev.Name) != path || !(ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write)) {
				continue
			}

			env, err := b.read(path)
			if err != nil {
				b.logger.Warn("reading signal file", slog.String("error", err.Error()))
				continue
			}

			// One publish can surface as several events (create, write).
			if env.ID == lastID || env.Sender == b.sender || env.Origin != b.origin {
				continue
			}

			lastID = env.ID

			select {
			case out <- env.Message:
			default:
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}

			b.logger.Warn("signal watcher error", slog.String("error", err.Error()))
		}
	}
}

func (b *FileBus) read(path string) (envelope, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return envelope{}, fmt.Errorf("broadcast: reading %s: %w", path, err)
	}

	return decodeEnvelope(data)
}
