package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vietddude/racefetch/internal/core/domain"
	"github.com/vietddude/racefetch/internal/infra/storage"
)

var (
	_ storage.RunRepository = (*RunRepo)(nil)
	_ storage.MetaStore     = (*MetaStore)(nil)
)

func TestRunRepoOrdering(t *testing.T) {
	ctx := context.Background()
	r := NewRunRepo()
	base := time.Now()

	r.Record(ctx, &domain.Run{SessionKey: 1, DriverNumber: 44, StartedAt: base})
	r.Record(ctx, &domain.Run{SessionKey: 1, DriverNumber: 1, StartedAt: base.Add(time.Second)})
	r.Record(ctx, &domain.Run{SessionKey: 2, DriverNumber: 16, StartedAt: base.Add(2 * time.Second)})

	recent, _ := r.Recent(ctx, 2)
	if len(recent) != 2 || recent[0].DriverNumber != 16 {
		t.Errorf("Unexpected recent runs: %+v", recent)
	}

	session, _ := r.ForSession(ctx, 1)
	if len(session) != 2 || session[0].DriverNumber != 1 || session[0].ID == "" {
		t.Errorf("Unexpected session runs: %+v", session)
	}
}

func TestMetaStore(t *testing.T) {
	m := NewMetaStore()

	var got []int
	if m.Read("drivers_1", &got) {
		t.Fatal("Expected miss")
	}

	m.Write("drivers_1", []int{1, 44})
	if !m.Read("drivers_1", &got) || len(got) != 2 {
		t.Errorf("Read = %v", got)
	}

	if _, err := m.Stat("absent"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if n := m.Clear(); n != 1 {
		t.Errorf("Clear = %d", n)
	}
}
