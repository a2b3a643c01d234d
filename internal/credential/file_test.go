package credential

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"meshdash/internal/eventbus"
	"meshdash/pkg/exception"
)

type signals struct {
	mu   sync.Mutex
	tags []eventbus.Tag
}

func watchSignals(bus *eventbus.Bus) *signals {
	s := &signals{}
	for _, tag := range []eventbus.Tag{eventbus.TagTokenRefreshed, eventbus.TagLogout} {
		bus.Subscribe(tag, func(e eventbus.Event) {
			s.mu.Lock()
			s.tags = append(s.tags, e.Tag())
			s.mu.Unlock()
		})
	}
	return s
}

func (s *signals) list() []eventbus.Tag {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]eventbus.Tag(nil), s.tags...)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestStatic(t *testing.T) {
	token, ok := Static("  abc\n").Token()
	assert.True(t, ok)
	assert.Equal(t, "abc", token)

	_, ok = Static("").Token()
	assert.False(t, ok)
}

func TestNewFileRejectsEmptyPath(t *testing.T) {
	_, err := NewFile(" ", eventbus.New())
	require.ErrorIs(t, err, exception.ErrInvalidArgument)
}

func TestFileReadsInitialToken(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	path := filepath.Join(t.TempDir(), "token")
	writeFile(t, path, "abc\n")

	f, err := NewFile(path, eventbus.New())
	require.NoError(t, err)
	defer f.Close()

	token, ok := f.Token()
	assert.True(t, ok)
	assert.Equal(t, "abc", token)
	assert.Equal(t, path, f.Path())
}

func TestFileMissingMeansNoToken(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	f, err := NewFile(filepath.Join(t.TempDir(), "token"), eventbus.New())
	require.NoError(t, err)
	defer f.Close()

	_, ok := f.Token()
	assert.False(t, ok)
}

func TestFileReloadPublishesSignals(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	bus := eventbus.New()
	got := watchSignals(bus)
	path := filepath.Join(t.TempDir(), "token")
	writeFile(t, path, "one")

	f, err := NewFile(path, bus)
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, f.Reload())
	assert.Empty(t, got.list())

	writeFile(t, path, "two\n")
	require.NoError(t, f.Reload())
	writeFile(t, path, "  ")
	require.NoError(t, f.Reload())
	require.NoError(t, os.Remove(path))
	require.NoError(t, f.Reload())
	writeFile(t, path, "three")
	require.NoError(t, f.Reload())

	assert.Equal(t, []eventbus.Tag{eventbus.TagTokenRefreshed, eventbus.TagLogout, eventbus.TagTokenRefreshed}, got.list())
	token, ok := f.Token()
	assert.True(t, ok)
	assert.Equal(t, "three", token)
}

func TestFileRunWatchesChanges(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	bus := eventbus.New()
	got := watchSignals(bus)
	dir := t.TempDir()
	path := filepath.Join(dir, "token")
	writeFile(t, path, "one")

	f, err := NewFile(path, bus)
	require.NoError(t, err)
	f.debounce = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	writeFile(t, filepath.Join(dir, "other"), "ignored")
	writeFile(t, path, "two")
	require.Eventually(t, func() bool { return len(got.list()) == 1 }, 2*time.Second, 10*time.Millisecond)
	token, _ := f.Token()
	assert.Equal(t, "two", token)

	tmp := filepath.Join(dir, "token.tmp")
	writeFile(t, tmp, "three")
	require.NoError(t, os.Rename(tmp, path))
	require.Eventually(t, func() bool { return len(got.list()) == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool { return len(got.list()) == 3 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []eventbus.Tag{eventbus.TagTokenRefreshed, eventbus.TagTokenRefreshed, eventbus.TagLogout}, got.list())

	cancel()
	require.NoError(t, <-done)
	require.NoError(t, f.Close())
	require.NoError(t, f.Close())
}

func TestFileRunStopsOnClose(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	f, err := NewFile(filepath.Join(t.TempDir(), "token"), nil)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- f.Run(context.Background()) }()
	require.NoError(t, f.Close())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}
}
