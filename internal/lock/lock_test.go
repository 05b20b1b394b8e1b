package lock

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	m := NewKeyedMutex()
	ctx := context.Background()

	var mu sync.Mutex
	inSection := 0
	maxInSection := 0

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := m.Acquire(ctx, "NB001")
			if err != nil {
				t.Errorf("acquire failed: %v", err)
				return
			}
			mu.Lock()
			inSection++
			if inSection > maxInSection {
				maxInSection = inSection
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inSection--
			mu.Unlock()
			release()
		}()
	}
	wg.Wait()

	if maxInSection != 1 {
		t.Fatalf("expected at most one holder for the same key, saw %d", maxInSection)
	}
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	m := NewKeyedMutex()
	ctx := context.Background()

	releaseA, err := m.Acquire(ctx, "NB001")
	if err != nil {
		t.Fatalf("acquire NB001 failed: %v", err)
	}
	defer releaseA()

	done := make(chan struct{})
	go func() {
		releaseB, err := m.Acquire(ctx, "NB002")
		if err != nil {
			t.Errorf("acquire NB002 failed: %v", err)
			return
		}
		releaseB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("independent key blocked behind a different key")
	}
}

func TestKeyedMutexAcquireHonorsContext(t *testing.T) {
	m := NewKeyedMutex()

	release, err := m.Acquire(context.Background(), "NB001")
	if err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := m.Acquire(ctx, "NB001"); err == nil {
		t.Fatalf("expected second acquire to fail once context expires")
	}
}

func TestKeyedMutexReleaseIsIdempotent(t *testing.T) {
	m := NewKeyedMutex()
	release, err := m.Acquire(context.Background(), "NB001")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	release()
	release()

	again, err := m.Acquire(context.Background(), "NB001")
	if err != nil {
		t.Fatalf("re-acquire after release failed: %v", err)
	}
	again()
}
