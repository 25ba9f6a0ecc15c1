package coordinator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"cubdb/internal/config"
	"cubdb/pkg/batch"
	"cubdb/pkg/dberrors"
)

func openTestCoordinator(t *testing.T, cfg config.Config) *Coordinator {
	t.Helper()
	if cfg.DataDir == "" {
		cfg = config.Default()
	}
	cfg.DataDir = t.TempDir()
	cfg.Btree.Order = 8
	ctx, cancel := context.WithCancel(context.Background())
	c, err := Open(ctx, cfg.DataDir, cfg, nil, nil, nil)
	if err != nil {
		cancel()
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		c.Close()
		cancel()
	})
	return c
}

func TestPutGetDeleteRoundTrip(t *testing.T) {
	c := openTestCoordinator(t, config.Config{})

	if err := c.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	value, err := c.Fetch([]byte("k"))
	if err != nil || string(value) != "v" {
		t.Fatalf("Fetch(k) = %q, %v, want v", value, err)
	}

	if err := c.Delete([]byte("k")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := c.Fetch([]byte("k")); err != dberrors.ErrNotFound {
		t.Fatalf("Fetch(k) after delete = %v, want ErrNotFound", err)
	}
}

func TestGetReturnsDefaultOnAbsence(t *testing.T) {
	c := openTestCoordinator(t, config.Config{})
	value, err := c.Get([]byte("missing"), []byte("fallback"))
	if err != nil || string(value) != "fallback" {
		t.Fatalf("Get(missing) = %q, %v, want fallback", value, err)
	}
}

func TestGetAndUpdateMultiRollsBackOnError(t *testing.T) {
	c := openTestCoordinator(t, config.Config{})
	if err := c.Put([]byte("balance"), []byte("100")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	_, err := c.GetAndUpdateMulti([][]byte{[]byte("balance")}, func(snapshot map[string][]byte) (any, *batch.Slice, error) {
		b := batch.New()
		b.Put([]byte("balance"), []byte("999"))
		return nil, b, fmt.Errorf("insufficient funds")
	}, 0)
	if err == nil {
		t.Fatalf("GetAndUpdateMulti returned nil error, want rollback error")
	}

	value, fetchErr := c.Fetch([]byte("balance"))
	if fetchErr != nil || string(value) != "100" {
		t.Fatalf("balance after rolled-back transaction = %q, %v, want unchanged 100", value, fetchErr)
	}
}

func TestGetAndUpdateMultiCommitsAtomically(t *testing.T) {
	c := openTestCoordinator(t, config.Config{})
	if err := c.Put([]byte("from"), []byte("100")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := c.Put([]byte("to"), []byte("0")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	_, err := c.GetAndUpdateMulti([][]byte{[]byte("from"), []byte("to")}, func(snapshot map[string][]byte) (any, *batch.Slice, error) {
		b := batch.New()
		b.Put([]byte("from"), []byte("50"))
		b.Put([]byte("to"), []byte("50"))
		return nil, b, nil
	}, 0)
	if err != nil {
		t.Fatalf("GetAndUpdateMulti: %v", err)
	}

	from, _ := c.Fetch([]byte("from"))
	to, _ := c.Fetch([]byte("to"))
	if string(from) != "50" || string(to) != "50" {
		t.Fatalf("from=%q to=%q, want both 50", from, to)
	}
}

func TestConcurrentReadersDoNotBlockEachOtherOrTheWriter(t *testing.T) {
	c := openTestCoordinator(t, config.Config{})
	for i := 0; i < 20; i++ {
		key := []byte(fmt.Sprintf("k%02d", i))
		if err := c.Put(key, key); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := []byte(fmt.Sprintf("k%02d", i))
			value, err := c.Fetch(key)
			if err != nil {
				errs <- err
				return
			}
			if string(value) != string(key) {
				errs <- fmt.Errorf("Fetch(%s) = %q", key, value)
			}
		}(i)
	}
	for i := 20; i < 25; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := []byte(fmt.Sprintf("k%02d", i))
			if err := c.Put(key, key); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent op failed: %v", err)
	}
}

func TestCompactReturnsPendingCompactionWhileRunning(t *testing.T) {
	c := openTestCoordinator(t, config.Config{})
	for i := 0; i < 50; i++ {
		key := []byte(fmt.Sprintf("k%03d", i))
		if err := c.Put(key, key); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	events := make(chan Event, 8)
	c.Subscribe(events)

	if err := c.Compact(); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if err := c.Compact(); err != dberrors.ErrPendingCompaction {
		t.Fatalf("second Compact() = %v, want ErrPendingCompaction", err)
	}

	deadline := time.After(5 * time.Second)
	sawCompleted := false
	for !sawCompleted {
		select {
		case ev := <-events:
			if ev.Kind == CompactionCompleted {
				sawCompleted = true
			}
		case <-deadline:
			t.Fatalf("compaction did not complete in time")
		}
	}

	value, err := c.Fetch([]byte("k000"))
	if err != nil || string(value) != "k000" {
		t.Fatalf("Fetch(k000) after compaction = %q, %v", value, err)
	}
}

func TestCompactedStoreSurvivesCloseAndReopen(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Btree.Order = 8

	ctx, cancel := context.WithCancel(context.Background())
	c, err := Open(ctx, cfg.DataDir, cfg, nil, nil, nil)
	if err != nil {
		cancel()
		t.Fatalf("Open: %v", err)
	}

	for i := 0; i < 50; i++ {
		key := []byte(fmt.Sprintf("k%03d", i))
		if err := c.Put(key, key); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	// Overwrite half the keys so the live tree carries dirt into compaction.
	for i := 0; i < 25; i++ {
		key := []byte(fmt.Sprintf("k%03d", i))
		if err := c.Put(key, []byte("updated")); err != nil {
			t.Fatalf("Put (overwrite): %v", err)
		}
	}

	events := make(chan Event, 8)
	c.Subscribe(events)

	if err := c.Compact(); err != nil {
		t.Fatalf("Compact: %v", err)
	}

	// Promotion to the compacted store happens while CatchUpCompleted is
	// handled, so the next command already sees the compacted tree.
	deadline := time.After(5 * time.Second)
	sawCompleted := false
	for !sawCompleted {
		select {
		case ev := <-events:
			if ev.Kind == CatchUpCompleted {
				sawCompleted = true
			}
		case <-deadline:
			t.Fatalf("compaction did not complete in time")
		}
	}

	wantSize := c.Size()
	wantDirt := c.DirtFactor()

	c.Close()
	cancel()

	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	reopened, err := Open(ctx2, cfg.DataDir, cfg, nil, nil, nil)
	if err != nil {
		t.Fatalf("reopen after compaction: %v", err)
	}
	defer reopened.Close()

	if got := reopened.Size(); got != wantSize {
		t.Fatalf("Size() after reopen = %d, want %d", got, wantSize)
	}
	if got := reopened.DirtFactor(); got != wantDirt {
		t.Fatalf("DirtFactor() after reopen = %v, want %v", got, wantDirt)
	}

	value, err := reopened.Fetch([]byte("k000"))
	if err != nil || string(value) != "updated" {
		t.Fatalf("Fetch(k000) after reopen = %q, %v, want updated", value, err)
	}
	value, err = reopened.Fetch([]byte("k049"))
	if err != nil || string(value) != "k049" {
		t.Fatalf("Fetch(k049) after reopen = %q, %v, want k049", value, err)
	}
}

func TestAutoCompactTriggersPastThreshold(t *testing.T) {
	c := openTestCoordinator(t, config.Config{})
	if err := c.SetAutoCompact(config.AutoCompactConfig{Enabled: true, MinWrites: 5, MinDirtFactor: 0}); err != nil {
		t.Fatalf("SetAutoCompact: %v", err)
	}

	events := make(chan Event, 8)
	c.Subscribe(events)

	for i := 0; i < 10; i++ {
		key := []byte(fmt.Sprintf("k%02d", i))
		if err := c.Put(key, key); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	select {
	case ev := <-events:
		if ev.Kind != CompactionStarted {
			t.Fatalf("first event = %v, want CompactionStarted", ev.Kind)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("auto-compact never started")
	}
}
