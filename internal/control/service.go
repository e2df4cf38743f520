package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/racefetch/internal/core/domain"
	"github.com/vietddude/racefetch/internal/indexing/fetcher"
	"github.com/vietddude/racefetch/internal/indexing/health"
	"github.com/vietddude/racefetch/internal/indexing/metrics"
	"github.com/vietddude/racefetch/internal/infra/storage"
	"github.com/vietddude/racefetch/internal/infra/storage/filecache"
)

// ErrEmptyDataset is returned by Save when no driver has position data.
var ErrEmptyDataset = errors.New("dataset has no position data")

// Deps holds the collaborators of a Service. Runs, Locker and Monitor
// are optional.
type Deps struct {
	API         RaceAPI
	Fetcher     fetcher.Config
	Data        *filecache.Cache  // saved datasets
	Meta        storage.MetaStore // race lists and rosters
	Runs        storage.RunRepository
	Locker      Locker
	Monitor     *health.Monitor
	DriverDelay time.Duration
	LockTTL     time.Duration
}

// Service implements race listing, batch fetching and dataset storage.
type Service struct {
	api         RaceAPI
	fetchCfg    fetcher.Config
	data        *filecache.Cache
	meta        storage.MetaStore
	runs        storage.RunRepository
	locker      Locker
	monitor     *health.Monitor
	driverDelay time.Duration
	lockTTL     time.Duration
	owner       string
	logger      *slog.Logger
}

// NewService creates a service from its dependencies.
func NewService(d Deps) *Service {
	if d.LockTTL <= 0 {
		d.LockTTL = 30 * time.Minute
	}
	return &Service{
		api:         d.API,
		fetchCfg:    d.Fetcher,
		data:        d.Data,
		meta:        d.Meta,
		runs:        d.Runs,
		locker:      d.Locker,
		monitor:     d.Monitor,
		driverDelay: d.DriverDelay,
		lockTTL:     d.LockTTL,
		owner:       uuid.NewString(),
		logger:      slog.Default().With("component", "service"),
	}
}

// ListRaces returns the race sessions of a year, from the metadata cache
// when useCache is set and an entry exists.
func (s *Service) ListRaces(ctx context.Context, year int, useCache bool) ([]domain.SessionInfo, error) {
	key := fmt.Sprintf("races_%d", year)

	var races []domain.SessionInfo
	if useCache && s.meta.Read(key, &races) {
		s.logger.Debug("Race list served from cache", "year", year, "count", len(races))
		return races, nil
	}

	races, err := s.api.Sessions(ctx, year)
	if err != nil {
		return nil, err
	}
	s.cache(key, races)
	return races, nil
}

// DriversForSession returns the sorted driver numbers of a session.
func (s *Service) DriversForSession(ctx context.Context, sessionKey int, useCache bool) ([]int, error) {
	roster, err := s.roster(ctx, sessionKey, useCache)
	if err != nil {
		return nil, err
	}
	return driverNumbers(roster), nil
}

func (s *Service) roster(ctx context.Context, sessionKey int, useCache bool) ([]domain.DriverInfo, error) {
	key := fmt.Sprintf("drivers_%d", sessionKey)

	var roster []domain.DriverInfo
	if useCache && s.meta.Read(key, &roster) {
		return roster, nil
	}

	roster, err := s.api.Drivers(ctx, sessionKey)
	if err != nil {
		return nil, err
	}
	s.cache(key, roster)
	return roster, nil
}

func (s *Service) cache(key string, v any) {
	if _, err := s.meta.Write(key, v); err != nil {
		s.logger.Warn("Failed to write metadata cache", "key", key, "error", err)
	}
}

func driverNumbers(roster []domain.DriverInfo) []int {
	out := make([]int, 0, len(roster))
	for _, d := range roster {
		if !slices.Contains(out, d.DriverNumber) {
			out = append(out, d.DriverNumber)
		}
	}
	slices.Sort(out)
	return out
}

// FetchRaceData fetches telemetry of drivers (the whole roster when empty)
// for one session. A failed driver is counted and skipped; only session
// lookup, locking and cancellation abort the batch.
func (s *Service) FetchRaceData(
	ctx context.Context,
	sessionKey int,
	drivers []int,
	opts FetchOptions,
) (*domain.SavedRaceData, FetchSummary, error) {
	var summary FetchSummary
	logger := s.logger.With("session_key", sessionKey)

	if s.locker != nil {
		ok, err := s.locker.AcquireLock(ctx, sessionKey, s.owner, s.lockTTL)
		if err != nil {
			return nil, summary, fmt.Errorf("acquire session lock: %w", err)
		}
		if !ok {
			return nil, summary, fmt.Errorf("session %d: %w", sessionKey, ErrSessionLocked)
		}
		defer func() {
			if err := s.locker.ReleaseLock(context.WithoutCancel(ctx), sessionKey, s.owner); err != nil {
				logger.Warn("Failed to release session lock", "error", err)
			}
		}()
	}

	// 1. Resolve session and roster
	session, err := s.api.Session(ctx, sessionKey)
	if err != nil {
		return nil, summary, err
	}
	logger.Info("Session resolved", "location", session.Location, "session", session.SessionName)

	roster, err := s.roster(ctx, sessionKey, opts.UseCache)
	if err != nil {
		if len(drivers) == 0 {
			return nil, summary, err
		}
		logger.Warn("Driver roster unavailable", "error", err)
	}
	if len(drivers) == 0 {
		drivers = driverNumbers(roster)
	}
	if len(drivers) == 0 {
		return nil, summary, fmt.Errorf("session %d: no drivers", sessionKey)
	}

	data := &domain.SavedRaceData{
		SessionInfo:  *session,
		LocationData: make(map[string][]domain.Sample, len(drivers)),
	}
	if opts.CarData {
		data.CarData = make(map[string][]domain.Sample, len(drivers))
	}
	if s.monitor != nil {
		s.monitor.Begin(sessionKey, drivers)
	}

	// 2. Session-wide probe, then per-driver windows
	if opts.ProbeSession {
		summary.Probed = s.probe(ctx, *session, drivers, opts, data, &summary)
	}
	if !summary.Probed {
		logger.Info("Fetching drivers", "count", len(drivers), "car_data", opts.CarData)
		for i, dn := range drivers {
			if i > 0 && s.driverDelay > 0 {
				select {
				case <-ctx.Done():
					return nil, summary, ctx.Err()
				case <-time.After(s.driverDelay):
				}
			}

			logger.Info("Fetching driver", "driver", dn, "progress", fmt.Sprintf("%d/%d", i+1, len(drivers)))
			if err := s.fetchDriver(ctx, *session, dn, opts, data, &summary); err != nil {
				return nil, summary, err
			}

			if s.locker != nil {
				if err := s.locker.RefreshLock(ctx, sessionKey, s.lockTTL); err != nil {
					logger.Warn("Failed to refresh session lock", "error", err)
				}
			}
		}
	}

	// 3. Attach roster details of the fetched drivers
	for _, d := range roster {
		if slices.Contains(drivers, d.DriverNumber) {
			data.Drivers = append(data.Drivers, d)
		}
	}
	data.SavedAt = domain.FormatTimestamp(time.Now())

	metrics.DriversTotal.WithLabelValues("loaded").Add(float64(summary.Loaded))
	metrics.DriversTotal.WithLabelValues("failed").Add(float64(summary.Failed))
	logger.Info("Fetch summary", "loaded", summary.Loaded, "failed", summary.Failed, "probed", summary.Probed)

	return data, summary, nil
}

// fetchDriver runs the adaptive fetcher for one driver and merges the
// outcome into data. Only cancellation is returned as an error.
func (s *Service) fetchDriver(
	ctx context.Context,
	session domain.SessionInfo,
	driverNumber int,
	opts FetchOptions,
	data *domain.SavedRaceData,
	summary *FetchSummary,
) error {
	cfg := s.fetchCfg
	logger := s.logger.With("session_key", session.SessionKey, "driver", driverNumber)
	if s.monitor != nil {
		s.monitor.Start(driverNumber)
		cfg.Progress = s.monitor.Progress(driverNumber)
	}

	run := &domain.Run{
		SessionKey:   session.SessionKey,
		DriverNumber: driverNumber,
		StartedAt:    time.Now(),
	}

	f := fetcher.New(s.api, cfg)
	var (
		res *fetcher.Result
		err error
	)
	if opts.CarData {
		res, err = f.FetchDriverWithCarData(ctx, session, driverNumber)
	} else {
		res, err = f.FetchDriver(ctx, session, driverNumber)
	}
	run.FinishedAt = time.Now()

	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}

	key := strconv.Itoa(driverNumber)
	switch {
	case err != nil:
		summary.Failed++
		run.Status = domain.RunStatusFailed
		run.Error = err.Error()
		logger.Error("Driver fetch failed", "error", err)
	case len(res.Position) == 0:
		summary.Failed++
		run.Status = domain.RunStatusEmpty
		logger.Warn("No position data available")
	default:
		summary.Loaded++
		run.Status = domain.RunStatusOK
		position := sampleEvery(res.Position, opts.SampleEvery)
		data.LocationData[key] = position
		if opts.CarData {
			data.CarData[key] = res.CarData
		}
		logger.Info("Driver loaded",
			"points", len(position),
			"sampled_from", len(res.Position),
			"car_points", len(res.CarData),
			"windows", res.Stats.Windows,
			"shrinks", res.Stats.Shrinks,
		)
	}

	if res != nil {
		run.PositionSamples = len(res.Position)
		run.StateSamples = len(res.CarData)
		run.Windows = res.Stats.Windows
		run.Shrinks = res.Stats.Shrinks
	}
	s.finish(ctx, run, err)
	return nil
}

// probe requests all position samples of the session at once and splits
// them by driver. It reports false when the answer is unusable and the
// per-driver fetch must run.
func (s *Service) probe(
	ctx context.Context,
	session domain.SessionInfo,
	drivers []int,
	opts FetchOptions,
	data *domain.SavedRaceData,
	summary *FetchSummary,
) bool {
	logger := s.logger.With("session_key", session.SessionKey)
	started := time.Now()

	samples, err := s.api.SessionLocation(ctx, session.SessionKey)
	if err != nil {
		logger.Warn("Session probe failed, falling back to per-driver fetch", "error", err)
		return false
	}
	if len(samples) == 0 {
		logger.Info("Session probe empty, falling back to per-driver fetch")
		return false
	}
	logger.Info("Session probe returned data, splitting by driver", "points", len(samples))

	byDriver := make(map[int][]domain.Sample)
	for _, smp := range samples {
		byDriver[smp.DriverNumber] = append(byDriver[smp.DriverNumber], smp)
	}

	for _, dn := range drivers {
		run := &domain.Run{
			SessionKey:   session.SessionKey,
			DriverNumber: dn,
			StartedAt:    started,
			FinishedAt:   time.Now(),
			Windows:      1,
		}

		points := byDriver[dn]
		if len(points) == 0 {
			summary.Failed++
			run.Status = domain.RunStatusEmpty
			logger.Warn("No position data available", "driver", dn)
			s.finish(ctx, run, nil)
			continue
		}

		slices.SortStableFunc(points, func(a, b domain.Sample) int {
			return a.Date.Compare(b.Date)
		})
		summary.Loaded++
		run.Status = domain.RunStatusOK
		run.PositionSamples = len(points)
		data.LocationData[strconv.Itoa(dn)] = sampleEvery(points, opts.SampleEvery)
		s.finish(ctx, run, nil)
	}
	return true
}

// finish records a run in the ledger and the progress monitor.
func (s *Service) finish(ctx context.Context, run *domain.Run, err error) {
	if s.monitor != nil {
		s.monitor.Finish(run.DriverNumber, run.PositionSamples, err)
	}
	if s.runs == nil {
		return
	}
	if recErr := s.runs.Record(ctx, run); recErr != nil {
		s.logger.Warn("Failed to record run", "driver", run.DriverNumber, "error", recErr)
	}
}

// sampleEvery keeps samples at indexes 0, n, 2n, ...
func sampleEvery(samples []domain.Sample, n int) []domain.Sample {
	if n <= 1 {
		return samples
	}
	out := make([]domain.Sample, 0, (len(samples)+n-1)/n)
	for i := 0; i < len(samples); i += n {
		out = append(out, samples[i])
	}
	return out
}

// Save writes the dataset to the data directory and returns its path.
func (s *Service) Save(data *domain.SavedRaceData) (string, error) {
	hasData := false
	for _, samples := range data.LocationData {
		if len(samples) > 0 {
			hasData = true
			break
		}
	}
	if !hasData {
		return "", ErrEmptyDataset
	}

	path, err := s.data.Write(data.Key(), data)
	if err != nil {
		return "", fmt.Errorf("save dataset: %w", err)
	}

	attrs := []any{"path", path}
	if info, err := s.data.Stat(data.Key()); err == nil {
		attrs = append(attrs, "size_mb", fmt.Sprintf("%.2f", float64(info.Size)/(1024*1024)))
	}
	s.logger.Info("Dataset saved", attrs...)
	return path, nil
}

// Load reads a saved dataset from path.
func (s *Service) Load(path string) (*domain.SavedRaceData, error) {
	var data domain.SavedRaceData
	if err := filecache.ReadFile(path, &data); err != nil {
		return nil, err
	}
	s.logger.Info("Dataset loaded", "path", path, "drivers", len(data.LocationData))
	return &data, nil
}

// CachedFiles returns the file names of saved datasets.
func (s *Service) CachedFiles() ([]string, error) {
	keys, err := s.data.List()
	if err != nil {
		return nil, err
	}
	files := make([]string, 0, len(keys))
	for _, k := range keys {
		files = append(files, filepath.Base(s.data.Path(k)))
	}
	return files, nil
}

// CacheInfo describes the metadata cache entries.
func (s *Service) CacheInfo() ([]CacheEntry, error) {
	keys, err := s.meta.List()
	if err != nil {
		return nil, err
	}
	entries := make([]CacheEntry, 0, len(keys))
	for _, k := range keys {
		info, err := s.meta.Stat(k)
		if err != nil {
			continue
		}
		entries = append(entries, CacheEntry{Key: k, Size: info.Size, ModTime: info.ModTime})
	}
	return entries, nil
}

// ClearCache empties the metadata cache and returns the removed count.
func (s *Service) ClearCache() int {
	n := s.meta.Clear()
	s.logger.Info("Metadata cache cleared", "entries", n)
	return n
}

// Runs returns ledger rows of a session, or the latest rows when
// sessionKey is zero.
func (s *Service) Runs(ctx context.Context, sessionKey, limit int) ([]*domain.Run, error) {
	if s.runs == nil {
		return nil, nil
	}
	if sessionKey != 0 {
		return s.runs.ForSession(ctx, sessionKey)
	}
	return s.runs.Recent(ctx, limit)
}
