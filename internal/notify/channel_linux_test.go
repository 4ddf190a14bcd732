//go:build linux

package vigil

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func testOptions() Options {
	return Options{Logger: zap.NewNop()}
}

func TestOpenClose(t *testing.T) {
	ch, err := Open(testOptions())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if err := ch.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	// Closing again must be a no-op.
	if err := ch.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}

	if _, err := ch.AddWatch(t.TempDir(), Create); !errors.Is(err, ErrChannelClosed) {
		t.Errorf("AddWatch after Close = %v, want ErrChannelClosed", err)
	}
}

func TestAddWatchInvalidPath(t *testing.T) {
	ch, err := Open(testOptions())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer ch.Close()

	wd, err := ch.AddWatch(filepath.Join(t.TempDir(), "does-not-exist"), Create)
	if !errors.Is(err, ErrInvalidPath) {
		t.Errorf("AddWatch error = %v, want ErrInvalidPath", err)
	}
	if wd >= 0 {
		t.Errorf("AddWatch issued handle %d for a nonexistent path", wd)
	}
}

func TestAddRemoveWatch(t *testing.T) {
	ch, err := Open(testOptions())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer ch.Close()

	dir := t.TempDir()
	wd, err := ch.AddWatch(dir, Create|Delete)
	if err != nil {
		t.Fatalf("AddWatch failed: %v", err)
	}

	if path, ok := ch.Path(wd); !ok || path != dir {
		t.Errorf("Path(%d) = %q, %v; want %q, true", wd, path, ok, dir)
	}

	if err := ch.RemoveWatch(wd); err != nil {
		t.Fatalf("RemoveWatch failed: %v", err)
	}
	if _, ok := ch.Path(wd); ok {
		t.Errorf("Path(%d) still resolves after RemoveWatch", wd)
	}
}

func TestRemoveWatchUnknownHandle(t *testing.T) {
	ch, err := Open(testOptions())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer ch.Close()

	if err := ch.RemoveWatch(9999); !errors.Is(err, ErrUnknownHandle) {
		t.Errorf("RemoveWatch error = %v, want ErrUnknownHandle", err)
	}
}

func TestServeDeliversCreateEvent(t *testing.T) {
	ch, err := Open(testOptions())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer ch.Close()

	dir := t.TempDir()
	wd, err := ch.AddWatch(dir, Create|Delete)
	if err != nil {
		t.Fatalf("AddWatch failed: %v", err)
	}

	eventChan := make(chan Event, 20)
	serveDone := make(chan error, 1)
	go func() {
		serveDone <- ch.Serve(context.Background(), func(_ context.Context, ev Event) error {
			eventChan <- ev
			return nil
		})
	}()

	// Give the loop a moment to block in its read.
	time.Sleep(100 * time.Millisecond)

	file := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(file, []byte("hello"), 0644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	var got Event
	select {
	case got = <-eventChan:
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered for file creation")
	}

	if got.WD != wd {
		t.Errorf("event wd = %d, want %d", got.WD, wd)
	}
	if !got.Mask.Has(Create) {
		t.Errorf("event mask = %v, want create bit set", got.Mask)
	}
	if got.Name != "a.txt" {
		t.Errorf("event name = %q, want %q", got.Name, "a.txt")
	}

	ch.Close()
	select {
	case err := <-serveDone:
		if err != nil {
			t.Errorf("Serve returned %v after Close, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Close")
	}
}

func TestCloseUnblocksServe(t *testing.T) {
	ch, err := Open(testOptions())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if _, err := ch.AddWatch(t.TempDir(), AllEvents); err != nil {
		t.Fatalf("AddWatch failed: %v", err)
	}

	serveDone := make(chan error, 1)
	go func() {
		serveDone <- ch.Serve(context.Background(), nil)
	}()

	// No events arrive, so the loop is blocked in its read when the
	// channel is released underneath it.
	time.Sleep(100 * time.Millisecond)
	if err := ch.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	select {
	case err := <-serveDone:
		if err != nil {
			t.Errorf("Serve returned %v, want nil on the shutdown path", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve still blocked after Close")
	}
}

func TestSinkErrorDoesNotStopLoop(t *testing.T) {
	ch, err := Open(testOptions())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer ch.Close()

	dir := t.TempDir()
	if _, err := ch.AddWatch(dir, Create); err != nil {
		t.Fatalf("AddWatch failed: %v", err)
	}

	eventChan := make(chan Event, 20)
	serveDone := make(chan error, 1)
	go func() {
		serveDone <- ch.Serve(context.Background(), func(_ context.Context, ev Event) error {
			eventChan <- ev
			if ev.Name == "bad.txt" {
				return errors.New("sink rejected event")
			}
			if ev.Name == "worse.txt" {
				panic("sink blew up")
			}
			return nil
		})
	}()
	time.Sleep(100 * time.Millisecond)

	for _, name := range []string{"bad.txt", "worse.txt", "good.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0644); err != nil {
			t.Fatalf("failed to create %s: %v", name, err)
		}
	}

	// All three creates must come through despite the failing sink calls.
	seen := make(map[string]bool)
	deadline := time.After(3 * time.Second)
	for len(seen) < 3 {
		select {
		case ev := <-eventChan:
			seen[ev.Name] = true
		case <-deadline:
			t.Fatalf("only saw %v before timeout", seen)
		}
	}

	select {
	case err := <-serveDone:
		t.Fatalf("Serve stopped with %v, sink failures must not end the loop", err)
	default:
	}
}

func TestConcurrentAddRemove(t *testing.T) {
	ch, err := Open(testOptions())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer ch.Close()

	root := t.TempDir()
	serveDone := make(chan error, 1)
	go func() {
		serveDone <- ch.Serve(context.Background(), func(context.Context, Event) error { return nil })
	}()

	const workers = 8
	const perWorker = 20

	var wg sync.WaitGroup
	keep := make([][]int32, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				dir := filepath.Join(root, fmt.Sprintf("w%d-%d", worker, j))
				if err := os.Mkdir(dir, 0755); err != nil {
					t.Errorf("mkdir %s: %v", dir, err)
					return
				}
				wd, err := ch.AddWatch(dir, Create|Delete)
				if err != nil {
					t.Errorf("AddWatch %s: %v", dir, err)
					return
				}
				if j%2 == 0 {
					if err := ch.RemoveWatch(wd); err != nil {
						t.Errorf("RemoveWatch %d: %v", wd, err)
					}
				} else {
					keep[worker] = append(keep[worker], wd)
				}
			}
		}(i)
	}
	wg.Wait()

	// Every handle that was not removed must still resolve to its path.
	watches := ch.Watches()
	wantKept := 0
	for _, wds := range keep {
		wantKept += len(wds)
		for _, wd := range wds {
			if _, ok := watches[wd]; !ok {
				t.Errorf("kept handle %d missing from descriptor table", wd)
			}
		}
	}
	if len(watches) != wantKept {
		t.Errorf("descriptor table has %d entries, want %d", len(watches), wantKept)
	}

	select {
	case err := <-serveDone:
		t.Fatalf("Serve stopped with %v during registration churn", err)
	default:
	}
}
