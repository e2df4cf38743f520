package redis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"testing"
	"time"

	"github.com/vietddude/racefetch/internal/infra/storage"
)

var _ storage.MetaStore = (*MetaStore)(nil)

func TestKeyHelpers(t *testing.T) {
	if got := metaKey("racefetch", "races_2023"); got != "racefetch:meta:races_2023" {
		t.Errorf("metaKey = %s", got)
	}
	if got := lockKey("racefetch", 9161); got != "racefetch:lock:session:9161" {
		t.Errorf("lockKey = %s", got)
	}
}

// newLiveClient connects to REDIS_URL; the test is skipped without it.
func newLiveClient(t *testing.T) *Client {
	t.Helper()
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	c, err := NewClient(Config{URL: url, Prefix: fmt.Sprintf("racefetch-test-%d", time.Now().UnixNano())})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestMetaStoreLive(t *testing.T) {
	m := NewMetaStore(newLiveClient(t))
	t.Cleanup(func() { m.Clear() })

	var got []int
	if m.Read("drivers_9161", &got) {
		t.Fatal("Expected miss")
	}
	if _, err := m.Write("drivers_9161", []int{1, 44}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if !m.Read("drivers_9161", &got) || !slices.Equal(got, []int{1, 44}) {
		t.Errorf("Read = %v", got)
	}

	keys, err := m.List()
	if err != nil || !slices.Equal(keys, []string{"drivers_9161"}) {
		t.Errorf("List = %v, %v", keys, err)
	}

	info, err := m.Stat("drivers_9161")
	if err != nil || info.Size == 0 || info.ModTime.IsZero() {
		t.Errorf("Stat = %+v, %v", info, err)
	}
	if _, err := m.Stat("absent"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	if n := m.Clear(); n != 1 {
		t.Errorf("Clear = %d", n)
	}
}

func TestSessionLockLive(t *testing.T) {
	c := newLiveClient(t)
	ctx := context.Background()

	ok, err := c.AcquireLock(ctx, 9161, "a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("AcquireLock = %v, %v", ok, err)
	}
	if ok, _ := c.AcquireLock(ctx, 9161, "b", time.Minute); ok {
		t.Error("Second owner must not acquire a held lock")
	}

	c.ReleaseLock(ctx, 9161, "b")
	if ok, _ := c.AcquireLock(ctx, 9161, "b", time.Minute); ok {
		t.Error("Release by a non-owner must not free the lock")
	}

	c.ReleaseLock(ctx, 9161, "a")
	if ok, _ := c.AcquireLock(ctx, 9161, "b", time.Minute); !ok {
		t.Error("Expected lock to be free after owner release")
	}
	c.ReleaseLock(ctx, 9161, "b")
}
