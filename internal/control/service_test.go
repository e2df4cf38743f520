package control

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"slices"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/vietddude/racefetch/internal/core/domain"
	"github.com/vietddude/racefetch/internal/indexing/fetcher"
	"github.com/vietddude/racefetch/internal/indexing/health"
	"github.com/vietddude/racefetch/internal/infra/rpc"
	"github.com/vietddude/racefetch/internal/infra/rpc/provider"
	"github.com/vietddude/racefetch/internal/infra/rpc/retry"
	"github.com/vietddude/racefetch/internal/infra/storage/filecache"
	"github.com/vietddude/racefetch/internal/infra/storage/memory"
)

// =============================================================================
// Fake API
// =============================================================================

const testSessionKey = 9161

var sessionStart = time.Date(2023, 9, 17, 12, 0, 0, 0, time.UTC)

// fakeAPI serves a 10 second session with one sample every 500ms per
// driver, offset by 250ms so no sample sits on a window boundary.
// Windows wider than 4s are rejected as too large.
type fakeAPI struct {
	drivers      []int
	sessionCalls atomic.Int32
	rosterCalls  atomic.Int32
	windowCalls  atomic.Int32
	probeCalls   atomic.Int32
	allowProbe   bool
}

func (f *fakeAPI) samples(driver int) []map[string]any {
	var out []map[string]any
	for t := 250 * time.Millisecond; t < 10*time.Second; t += 500 * time.Millisecond {
		out = append(out, map[string]any{
			"driver_number": driver,
			"date":          domain.FormatTimestamp(sessionStart.Add(t)),
			"session_key":   testSessionKey,
			"x":             int(t / time.Millisecond),
		})
	}
	return out
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	write := func(status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(v)
	}

	switch r.URL.Path {
	case "/sessions":
		f.sessionCalls.Add(1)
		if q.Get("year") != "" {
			write(http.StatusOK, []map[string]any{{"session_key": testSessionKey, "location": "Marina Bay", "year": 2023}})
			return
		}
		if q.Get("session_key") != strconv.Itoa(testSessionKey) {
			write(http.StatusOK, []any{})
			return
		}
		write(http.StatusOK, []map[string]any{{
			"session_key":  testSessionKey,
			"meeting_key":  1219,
			"location":     "Marina Bay",
			"session_name": "Race",
			"session_type": "Race",
			"date_start":   domain.FormatTimestamp(sessionStart),
			"date_end":     domain.FormatTimestamp(sessionStart.Add(10 * time.Second)),
			"year":         2023,
		}})

	case "/drivers":
		f.rosterCalls.Add(1)
		var roster []map[string]any
		for _, d := range f.drivers {
			roster = append(roster, map[string]any{"driver_number": d, "name_acronym": fmt.Sprintf("D%d", d)})
		}
		write(http.StatusOK, roster)

	case "/location", "/car_data":
		if q.Get("driver_number") == "" {
			f.probeCalls.Add(1)
			if !f.allowProbe {
				write(http.StatusUnprocessableEntity, map[string]string{"detail": "too much data"})
				return
			}
			var all []map[string]any
			for i := len(f.drivers) - 1; i >= 0; i-- {
				s := f.samples(f.drivers[i])
				slices.Reverse(s)
				all = append(all, s...)
			}
			write(http.StatusOK, all)
			return
		}

		f.windowCalls.Add(1)
		driver, _ := strconv.Atoi(q.Get("driver_number"))
		from, err1 := domain.ParseTimestamp(q.Get("date>"))
		to, err2 := domain.ParseTimestamp(q.Get("date<"))
		if err1 != nil || err2 != nil {
			write(http.StatusBadRequest, map[string]string{"detail": "bad date filter"})
			return
		}
		if to.Sub(from) > 4*time.Second {
			write(http.StatusUnprocessableEntity, map[string]string{"detail": "too much data"})
			return
		}
		if !slices.Contains(f.drivers, driver) {
			write(http.StatusNotFound, map[string]string{"detail": "No results found."})
			return
		}
		var out []map[string]any
		for _, s := range f.samples(driver) {
			date, _ := domain.ParseTimestamp(s["date"].(string))
			if date.After(from) && date.Before(to) {
				out = append(out, s)
			}
		}
		write(http.StatusOK, out)

	default:
		http.NotFound(w, r)
	}
}

// =============================================================================
// Helpers
// =============================================================================

type fakeLocker struct {
	held     bool
	released bool
}

func (l *fakeLocker) AcquireLock(ctx context.Context, sessionKey int, owner string, ttl time.Duration) (bool, error) {
	return !l.held, nil
}

func (l *fakeLocker) RefreshLock(ctx context.Context, sessionKey int, ttl time.Duration) error {
	return nil
}

func (l *fakeLocker) ReleaseLock(ctx context.Context, sessionKey int, owner string) error {
	l.released = true
	return nil
}

type testEnv struct {
	api     *fakeAPI
	svc     *Service
	runs    *memory.RunRepo
	monitor *health.Monitor
}

func newTestEnv(t *testing.T, locker Locker) *testEnv {
	t.Helper()

	api := &fakeAPI{drivers: []int{44, 1}}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	client := rpc.NewClient(provider.NewHTTPProvider(provider.Config{BaseURL: srv.URL}), retry.Policy{})
	runs := memory.NewRunRepo()
	monitor := health.NewMonitor(client)

	cfg := fetcher.DefaultConfig()
	cfg.DelayBetweenRequests = 0
	cfg.MaxRetriesPerWindow = 0

	svc := NewService(Deps{
		API:     client,
		Fetcher: cfg,
		Data:    filecache.New(t.TempDir()),
		Meta:    memory.NewMetaStore(),
		Runs:    runs,
		Locker:  locker,
		Monitor: monitor,
	})
	return &testEnv{api: api, svc: svc, runs: runs, monitor: monitor}
}

// =============================================================================
// Tests
// =============================================================================

func TestFetchRaceDataWholeRoster(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	data, summary, err := env.svc.FetchRaceData(ctx, testSessionKey, nil, FetchOptions{CarData: true, SampleEvery: 2})
	if err != nil {
		t.Fatalf("FetchRaceData failed: %v", err)
	}
	if summary.Loaded != 2 || summary.Failed != 0 || summary.Probed {
		t.Errorf("Unexpected summary %+v", summary)
	}

	// 20 samples per driver, every 2nd kept
	for _, key := range []string{"1", "44"} {
		if got := len(data.LocationData[key]); got != 10 {
			t.Errorf("Driver %s: expected 10 sampled points, got %d", key, got)
		}
		if got := len(data.CarData[key]); got != 20 {
			t.Errorf("Driver %s: expected 20 car points, got %d", key, got)
		}
	}
	points := data.LocationData["1"]
	for i := 1; i < len(points); i++ {
		if !points[i].Date.After(points[i-1].Date) {
			t.Fatalf("Samples not sorted at %d", i)
		}
	}

	if len(data.Drivers) != 2 || data.SessionInfo.Location != "Marina Bay" || data.SavedAt == "" {
		t.Errorf("Unexpected dataset header %+v", data.SessionInfo)
	}

	runs, _ := env.runs.ForSession(ctx, testSessionKey)
	if len(runs) != 2 {
		t.Fatalf("Expected 2 ledger rows, got %d", len(runs))
	}
	for _, r := range runs {
		if r.Status != domain.RunStatusOK || r.PositionSamples != 20 || r.Shrinks == 0 {
			t.Errorf("Unexpected run %+v", r)
		}
	}

	report := env.monitor.Report()
	if report.Completed != 2 {
		t.Errorf("Monitor should report 2 completed drivers, got %d", report.Completed)
	}
}

func TestFetchRaceDataCountsEmptyDriver(t *testing.T) {
	env := newTestEnv(t, nil)

	data, summary, err := env.svc.FetchRaceData(context.Background(), testSessionKey, []int{1, 99}, FetchOptions{})
	if err != nil {
		t.Fatalf("FetchRaceData failed: %v", err)
	}
	if summary.Loaded != 1 || summary.Failed != 1 {
		t.Errorf("Expected 1 loaded / 1 failed, got %+v", summary)
	}
	if _, ok := data.LocationData["99"]; ok {
		t.Error("Empty driver must not appear in location data")
	}
	if data.CarData != nil {
		t.Error("Car data must stay nil when not requested")
	}

	runs, _ := env.runs.ForSession(context.Background(), testSessionKey)
	statuses := map[int]domain.RunStatus{}
	for _, r := range runs {
		statuses[r.DriverNumber] = r.Status
	}
	if statuses[99] != domain.RunStatusEmpty || statuses[1] != domain.RunStatusOK {
		t.Errorf("Unexpected run statuses %v", statuses)
	}
}

func TestFetchRaceDataProbe(t *testing.T) {
	t.Run("probe splits by driver", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.api.allowProbe = true

		data, summary, err := env.svc.FetchRaceData(context.Background(), testSessionKey, nil, FetchOptions{ProbeSession: true})
		if err != nil {
			t.Fatalf("FetchRaceData failed: %v", err)
		}
		if !summary.Probed || summary.Loaded != 2 {
			t.Errorf("Unexpected summary %+v", summary)
		}
		if env.api.windowCalls.Load() != 0 {
			t.Errorf("Windowed requests should be skipped after a successful probe")
		}
		points := data.LocationData["44"]
		if len(points) != 20 || !points[0].Date.Before(points[19].Date) {
			t.Errorf("Probe samples must be split and sorted, got %d", len(points))
		}
	})

	t.Run("rejected probe falls back", func(t *testing.T) {
		env := newTestEnv(t, nil)

		_, summary, err := env.svc.FetchRaceData(context.Background(), testSessionKey, []int{1}, FetchOptions{ProbeSession: true})
		if err != nil {
			t.Fatalf("FetchRaceData failed: %v", err)
		}
		if summary.Probed || summary.Loaded != 1 {
			t.Errorf("Unexpected summary %+v", summary)
		}
		if env.api.probeCalls.Load() != 1 || env.api.windowCalls.Load() == 0 {
			t.Errorf("Expected one probe then windowed requests")
		}
	})
}

func TestFetchRaceDataSessionNotFound(t *testing.T) {
	env := newTestEnv(t, nil)

	_, _, err := env.svc.FetchRaceData(context.Background(), 1, nil, FetchOptions{})
	if !errors.Is(err, domain.ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}
}

func TestFetchRaceDataLocked(t *testing.T) {
	env := newTestEnv(t, &fakeLocker{held: true})

	_, _, err := env.svc.FetchRaceData(context.Background(), testSessionKey, nil, FetchOptions{})
	if !errors.Is(err, ErrSessionLocked) {
		t.Errorf("Expected ErrSessionLocked, got %v", err)
	}
	if env.api.sessionCalls.Load() != 0 {
		t.Error("No request should be made without the lock")
	}

	locker := &fakeLocker{}
	env = newTestEnv(t, locker)
	if _, _, err := env.svc.FetchRaceData(context.Background(), testSessionKey, []int{1}, FetchOptions{}); err != nil {
		t.Fatalf("FetchRaceData failed: %v", err)
	}
	if !locker.released {
		t.Error("Lock should be released after the fetch")
	}
}

func TestListRacesAndRosterCache(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	for range 2 {
		races, err := env.svc.ListRaces(ctx, 2023, true)
		if err != nil {
			t.Fatalf("ListRaces failed: %v", err)
		}
		if len(races) != 1 || races[0].SessionKey != testSessionKey {
			t.Errorf("Unexpected races %+v", races)
		}
	}
	if got := env.api.sessionCalls.Load(); got != 1 {
		t.Errorf("Second call should be served from cache, got %d requests", got)
	}

	if _, err := env.svc.ListRaces(ctx, 2023, false); err != nil {
		t.Fatal(err)
	}
	if got := env.api.sessionCalls.Load(); got != 2 {
		t.Errorf("useCache=false must bypass the cache, got %d requests", got)
	}

	drivers, err := env.svc.DriversForSession(ctx, testSessionKey, true)
	if err != nil {
		t.Fatalf("DriversForSession failed: %v", err)
	}
	if !slices.Equal(drivers, []int{1, 44}) {
		t.Errorf("Expected sorted [1 44], got %v", drivers)
	}
	if _, err := env.svc.DriversForSession(ctx, testSessionKey, true); err != nil {
		t.Fatal(err)
	}
	if got := env.api.rosterCalls.Load(); got != 1 {
		t.Errorf("Roster should be cached, got %d requests", got)
	}

	entries, err := env.svc.CacheInfo()
	if err != nil || len(entries) != 2 {
		t.Errorf("Expected 2 cache entries, got %d (%v)", len(entries), err)
	}
	if n := env.svc.ClearCache(); n != 2 {
		t.Errorf("ClearCache removed %d, want 2", n)
	}
}

func TestSaveLoad(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	data, _, err := env.svc.FetchRaceData(ctx, testSessionKey, []int{1}, FetchOptions{})
	if err != nil {
		t.Fatal(err)
	}

	path, err := env.svc.Save(data)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	files, err := env.svc.CachedFiles()
	if err != nil || !slices.Equal(files, []string{"f1_race_Marina_Bay_9161.json"}) {
		t.Errorf("Unexpected cached files %v (%v)", files, err)
	}

	loaded, err := env.svc.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(loaded.LocationData["1"]) != 20 {
		t.Errorf("Expected 20 points after reload, got %d", len(loaded.LocationData["1"]))
	}
	var before, after map[string]any
	if err := json.Unmarshal(data.LocationData["1"][0].Raw, &before); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(loaded.LocationData["1"][0].Raw, &after); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(before, after) {
		t.Errorf("Sample payload changed: %v != %v", before, after)
	}

	empty := &domain.SavedRaceData{SessionInfo: data.SessionInfo, LocationData: map[string][]domain.Sample{"1": {}}}
	if _, err := env.svc.Save(empty); !errors.Is(err, ErrEmptyDataset) {
		t.Errorf("Expected ErrEmptyDataset, got %v", err)
	}
}

func TestSampleEvery(t *testing.T) {
	samples := make([]domain.Sample, 7)
	for i := range samples {
		samples[i].DriverNumber = i
	}

	tests := []struct {
		n    int
		want []int
	}{
		{0, []int{0, 1, 2, 3, 4, 5, 6}},
		{1, []int{0, 1, 2, 3, 4, 5, 6}},
		{3, []int{0, 3, 6}},
		{10, []int{0}},
	}
	for _, tt := range tests {
		var got []int
		for _, s := range sampleEvery(samples, tt.n) {
			got = append(got, s.DriverNumber)
		}
		if !slices.Equal(got, tt.want) {
			t.Errorf("sampleEvery(%d) = %v, want %v", tt.n, got, tt.want)
		}
	}
}
