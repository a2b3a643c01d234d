package credential

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"meshdash/internal/eventbus"
	"meshdash/pkg/exception"
)

// DefaultDebounce coalesces the burst of events editors produce on save.
const DefaultDebounce = 100 * time.Millisecond

// File reads the bearer token from a file and watches it. A changed
// non-empty token publishes AUTH_TOKEN_REFRESHED; an emptied or removed
// file publishes AUTH_LOGOUT.
type File struct {
	path     string
	bus      *eventbus.Bus
	debounce time.Duration
	watcher  *fsnotify.Watcher

	mu    sync.RWMutex
	token string

	closeOnce sync.Once
	closeErr  error
}

// NewFile loads the current token and starts watching the parent
// directory, so atomic replace-by-rename is seen as well. A missing file
// means no token yet.
func NewFile(path string, bus *eventbus.Bus) (*File, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.Wrap(exception.ErrInvalidArgument, "empty token file path")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrap(err, "resolve token file path")
	}

	token, err := readToken(abs)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "create token file watcher")
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		_ = watcher.Close()
		return nil, errors.Wrap(err, "watch token file directory")
	}

	return &File{
		path:     abs,
		bus:      bus,
		debounce: DefaultDebounce,
		watcher:  watcher,
		token:    token,
	}, nil
}

// Path returns the watched file.
func (f *File) Path() string {
	return f.path
}

// Token returns the last token read from the file.
func (f *File) Token() (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.token, f.token != ""
}

// Run dispatches file events until ctx is done or Close is called.
func (f *File) Run(ctx context.Context) error {
	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-f.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != f.path {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(f.debounce)
			} else {
				timer.Reset(f.debounce)
			}
			pending = timer.C
		case <-pending:
			pending = nil
			if err := f.Reload(); err != nil {
				logs.Errorf("reload token file, err: %+v", err)
			}
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return nil
			}
			logs.Errorf("watch token file, err: %+v", err)
		}
	}
}

// Reload rereads the file and publishes the resulting session signal, if any.
func (f *File) Reload() error {
	token, err := readToken(f.path)
	if err != nil {
		return err
	}

	f.mu.Lock()
	prev := f.token
	f.token = token
	f.mu.Unlock()

	switch {
	case token == prev:
		return nil
	case token == "":
		logs.Infof("token file cleared, path: %s", f.path)
		f.bus.Emit(eventbus.LoggedOut{})
	default:
		logs.Infof("token file refreshed, path: %s", f.path)
		f.bus.Emit(eventbus.TokenRefreshed{})
	}
	return nil
}

// Close stops the watcher and makes Run return.
func (f *File) Close() error {
	f.closeOnce.Do(func() {
		f.closeErr = f.watcher.Close()
	})
	return f.closeErr
}

func readToken(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", errors.Wrap(err, "read token file")
	}
	return strings.TrimSpace(string(b)), nil
}
