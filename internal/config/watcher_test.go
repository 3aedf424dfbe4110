package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"
)

type watchedConfig struct {
	Name  string `toml:"name"`
	Value int    `toml:"value"`
}

func loadWatched(path string) (watchedConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return watchedConfig{}, err
	}
	var cfg watchedConfig
	err = toml.Unmarshal(data, &cfg)
	return cfg, err
}

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// startWatcher writes initial to a fresh config file and starts watching it.
func startWatcher(t *testing.T, initial string, opts ...WatcherOption[watchedConfig]) (*Watcher[watchedConfig], string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(initial), 0o644); err != nil {
		t.Fatal(err)
	}
	opts = append([]WatcherOption[watchedConfig]{WithDebounce[watchedConfig](50 * time.Millisecond)}, opts...)
	w := NewWatcher(path, loadWatched, quiet, opts...)
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := w.Stop(); err != nil {
			t.Errorf("Stop: %v", err)
		}
	})
	return w, path
}

func write(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func receive(t *testing.T, ch <-chan watchedConfig) watchedConfig {
	t.Helper()
	select {
	case cfg := <-ch:
		return cfg
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for reload")
		return watchedConfig{}
	}
}

func TestWatcherReload(t *testing.T) {
	w, path := startWatcher(t, "name = \"initial\"\nvalue = 1\n")
	received := make(chan watchedConfig, 1)
	w.OnReload(func(cfg watchedConfig) { received <- cfg })

	write(t, path, "name = \"updated\"\nvalue = 42\n")
	if cfg := receive(t, received); cfg.Name != "updated" || cfg.Value != 42 {
		t.Errorf("got %+v", cfg)
	}

	write(t, path, "value = 20\n")
	if cfg := receive(t, received); cfg.Value != 20 {
		t.Errorf("second reload got %+v", cfg)
	}
}

func TestWatcherAtomicReplace(t *testing.T) {
	w, path := startWatcher(t, "value = 1\n")
	received := make(chan watchedConfig, 1)
	w.OnReload(func(cfg watchedConfig) { received <- cfg })

	tmp := path + ".tmp"
	write(t, tmp, "value = 7\n")
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}
	if cfg := receive(t, received); cfg.Value != 7 {
		t.Errorf("got %+v", cfg)
	}

	// The watch survives the replacement.
	write(t, path, "value = 8\n")
	if cfg := receive(t, received); cfg.Value != 8 {
		t.Errorf("got %+v after replacement", cfg)
	}
}

func TestWatcherIgnoresSiblings(t *testing.T) {
	w, path := startWatcher(t, "value = 1\n")
	var count atomic.Int32
	w.OnReload(func(watchedConfig) { count.Add(1) })

	write(t, filepath.Join(filepath.Dir(path), "other.toml"), "value = 2\n")
	time.Sleep(200 * time.Millisecond)
	if got := count.Load(); got != 0 {
		t.Errorf("handler called %d times for another file", got)
	}
}

func TestWatcherMultipleHandlersAndUnsubscribe(t *testing.T) {
	w, path := startWatcher(t, "value = 1\n")

	var mu sync.Mutex
	calls := map[string][]int{}
	record := func(name string) func(watchedConfig) {
		return func(cfg watchedConfig) {
			mu.Lock()
			calls[name] = append(calls[name], cfg.Value)
			mu.Unlock()
		}
	}
	received := make(chan watchedConfig, 1)
	w.OnReload(record("a"))
	unsubB := w.OnReload(record("b"))
	w.OnReload(func(cfg watchedConfig) { received <- cfg })

	write(t, path, "value = 10\n")
	receive(t, received)
	unsubB()
	write(t, path, "value = 20\n")
	receive(t, received)

	mu.Lock()
	defer mu.Unlock()
	if fmt.Sprint(calls["a"]) != "[10 20]" {
		t.Errorf("handler a saw %v", calls["a"])
	}
	if fmt.Sprint(calls["b"]) != "[10]" {
		t.Errorf("handler b saw %v after unsubscribing", calls["b"])
	}
}

func TestWatcherErrorHandler(t *testing.T) {
	errs := make(chan error, 1)
	w, path := startWatcher(t, "value = 1\n", WithErrorHandler[watchedConfig](func(err error) { errs <- err }))
	received := make(chan watchedConfig, 1)
	w.OnReload(func(cfg watchedConfig) { received <- cfg })

	write(t, path, "invalid toml [[[")
	select {
	case <-errs:
	case <-received:
		t.Fatal("handler called for an invalid file")
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for error handler")
	}
}

func TestWatcherDebounce(t *testing.T) {
	w, path := startWatcher(t, "value = 0\n", WithDebounce[watchedConfig](200*time.Millisecond))
	var count, last atomic.Int32
	w.OnReload(func(cfg watchedConfig) {
		count.Add(1)
		last.Store(int32(cfg.Value))
	})

	for i := 1; i <= 5; i++ {
		write(t, path, fmt.Sprintf("value = %d\n", i))
		time.Sleep(50 * time.Millisecond)
	}
	time.Sleep(500 * time.Millisecond)

	if got := count.Load(); got != 1 {
		t.Errorf("expected 1 debounced reload, got %d", got)
	}
	if got := last.Load(); got != 5 {
		t.Errorf("expected final value 5, got %d", got)
	}
}

func TestWatcherConcurrentSubscribe(t *testing.T) {
	w, path := startWatcher(t, "value = 0\n", WithDebounce[watchedConfig](10*time.Millisecond))

	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unsub := w.OnReload(func(watchedConfig) {})
			time.Sleep(time.Millisecond)
			unsub()
		}()
	}
	for i := range 10 {
		write(t, path, fmt.Sprintf("value = %d\n", i))
		time.Sleep(20 * time.Millisecond)
	}
	wg.Wait()
}

func TestWatcherStop(t *testing.T) {
	w, path := startWatcher(t, "value = 1\n")
	var count atomic.Int32
	w.OnReload(func(watchedConfig) { count.Add(1) })

	if err := w.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}

	write(t, path, "value = 99\n")
	time.Sleep(200 * time.Millisecond)
	if got := count.Load(); got != 0 {
		t.Errorf("expected no reloads after Stop, got %d", got)
	}
}

func TestStopWithoutStart(t *testing.T) {
	w := NewWatcher(filepath.Join(t.TempDir(), "config.toml"), loadWatched, quiet)
	if err := w.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
}

func TestWatchLoggingMissingDirectory(t *testing.T) {
	if _, err := WatchLogging(filepath.Join(t.TempDir(), "missing", "config.toml"), quiet); err == nil {
		t.Error("expected an error for a missing directory")
	}
}
