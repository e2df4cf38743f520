package cli

import (
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var cachedCmd = &cobra.Command{
	Use:   "cached",
	Short: "List saved datasets",
	Args:  cobra.NoArgs,
	Run:   runCached,
}

var cacheInfoCmd = &cobra.Command{
	Use:   "cache-info",
	Short: "Show metadata cache entries",
	Args:  cobra.NoArgs,
	Run:   runCacheInfo,
}

var clearCacheCmd = &cobra.Command{
	Use:   "clear-cache",
	Short: "Delete all metadata cache entries",
	Args:  cobra.NoArgs,
	Run:   runClearCache,
}

func init() {
	rootCmd.AddCommand(cachedCmd)
	rootCmd.AddCommand(cacheInfoCmd)
	rootCmd.AddCommand(clearCacheCmd)
}

func runCached(cmd *cobra.Command, args []string) {
	_, app, closeApp := newApp(loadConfig())
	defer closeApp()

	files, err := app.Service.CachedFiles()
	if err != nil {
		slog.Error("Failed to list datasets", "error", err)
		closeApp()
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Println("No cached data")
		return
	}
	for i, f := range files {
		fmt.Printf("%d. %s\n", i+1, f)
	}
}

func runCacheInfo(cmd *cobra.Command, args []string) {
	_, app, closeApp := newApp(loadConfig())
	defer closeApp()

	entries, err := app.Service.CacheInfo()
	if err != nil {
		slog.Error("Failed to read cache", "error", err)
		closeApp()
		os.Exit(1)
	}
	if len(entries) == 0 {
		fmt.Println("No cached data")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(w, "KEY\tSIZE (KB)\tMODIFIED")
	for _, e := range entries {
		_, _ = fmt.Fprintf(w, "%s\t%.2f\t%s\n", e.Key, float64(e.Size)/1024, e.ModTime.Format("2006-01-02 15:04"))
	}
	_ = w.Flush()
}

func runClearCache(cmd *cobra.Command, args []string) {
	_, app, closeApp := newApp(loadConfig())
	defer closeApp()

	n := app.Service.ClearCache()
	fmt.Printf("Cleared %d cache entries\n", n)
}
