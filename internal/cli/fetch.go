package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vietddude/racefetch/internal/control"
)

var (
	fetchNoCache      bool
	fetchCarData      bool
	fetchProbeSession bool
	fetchSampleEvery  int
	fetchMetricsPort  int
)

var fetchCmd = &cobra.Command{
	Use:   "fetch [session_key] [drivers]",
	Short: "Fetch telemetry of a session and save it",
	Long: `Fetch position telemetry of every driver of a session, or of a
comma-separated list of driver numbers, and save the dataset.`,
	Args: cobra.RangeArgs(1, 2),
	Run:  runFetch,
}

func init() {
	fetchCmd.Flags().BoolVar(&fetchNoCache, "no-cache", false, "bypass the metadata cache")
	fetchCmd.Flags().BoolVar(&fetchCarData, "car-data", false, "also fetch car telemetry")
	fetchCmd.Flags().BoolVar(&fetchProbeSession, "probe-session", false, "try one session-wide request first")
	fetchCmd.Flags().IntVar(&fetchSampleEvery, "sample-every", 0, "keep every Nth position sample (default from config)")
	fetchCmd.Flags().IntVar(&fetchMetricsPort, "metrics-port", 0, "serve progress and metrics on this port")
	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, args []string) {
	sessionKey, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Printf("Invalid session key: %v\n", err)
		os.Exit(1)
	}
	var drivers []int
	if len(args) == 2 {
		if drivers, err = parseDrivers(args[1]); err != nil {
			fmt.Printf("Invalid driver list: %v\n", err)
			os.Exit(1)
		}
	}

	cfg := loadConfig()
	ctx, app, closeApp := newApp(cfg)
	defer closeApp()

	port := cfg.Server.Port
	if fetchMetricsPort > 0 {
		port = fetchMetricsPort
	}
	if port > 0 {
		app.StartServer(port)
	}

	opts := control.FetchOptions{
		UseCache:     !fetchNoCache,
		CarData:      fetchCarData || cfg.Fetch.CarData,
		ProbeSession: fetchProbeSession || cfg.Fetch.ProbeSession,
		SampleEvery:  cfg.Fetch.SampleEvery,
	}
	if fetchSampleEvery > 0 {
		opts.SampleEvery = fetchSampleEvery
	}

	data, summary, err := app.Service.FetchRaceData(ctx, sessionKey, drivers, opts)
	if err != nil {
		slog.Error("Fetch failed", "session_key", sessionKey, "error", err)
		closeApp()
		os.Exit(1)
	}

	path, err := app.Service.Save(data)
	if errors.Is(err, control.ErrEmptyDataset) {
		slog.Warn("No position data loaded, not saving empty dataset", "failed", summary.Failed)
		return
	}
	if err != nil {
		slog.Error("Failed to save dataset", "error", err)
		closeApp()
		os.Exit(1)
	}

	fmt.Printf("Saved %d drivers (%d failed) to %s\n", summary.Loaded, summary.Failed, path)
}

func parseDrivers(s string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("driver %q: %w", part, err)
		}
		out = append(out, n)
	}
	return out, nil
}
