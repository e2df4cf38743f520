package cli

import (
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var (
	runsSession int
	runsLimit   int
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Show recorded per-driver fetch runs",
	Args:  cobra.NoArgs,
	Run:   runRuns,
}

func init() {
	runsCmd.Flags().IntVar(&runsSession, "session", 0, "only show runs of this session")
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "number of recent runs")
	rootCmd.AddCommand(runsCmd)
}

func runRuns(cmd *cobra.Command, args []string) {
	ctx, app, closeApp := newApp(loadConfig())
	defer closeApp()

	runs, err := app.Service.Runs(ctx, runsSession, runsLimit)
	if err != nil {
		slog.Error("Failed to query runs", "error", err)
		closeApp()
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "SESSION\tDRIVER\tSTATUS\tPOINTS\tCAR\tWINDOWS\tSHRINKS\tSTARTED\tERROR")
	for _, r := range runs {
		_, _ = fmt.Fprintf(w, "%d\t%d\t%s\t%d\t%d\t%d\t%d\t%s\t%s\n",
			r.SessionKey, r.DriverNumber, r.Status,
			r.PositionSamples, r.StateSamples, r.Windows, r.Shrinks,
			r.StartedAt.Format(time.RFC3339), r.Error)
	}
	_ = w.Flush()
}
