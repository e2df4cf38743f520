package cli

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var listNoCache bool

var listCmd = &cobra.Command{
	Use:   "list [year]",
	Short: "List the race sessions of a year",
	Args:  cobra.ExactArgs(1),
	Run:   runList,
}

func init() {
	listCmd.Flags().BoolVar(&listNoCache, "no-cache", false, "bypass the metadata cache")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) {
	year, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Printf("Invalid year: %v\n", err)
		os.Exit(1)
	}

	cfg := loadConfig()
	ctx, app, closeApp := newApp(cfg)
	defer closeApp()

	races, err := app.Service.ListRaces(ctx, year, !listNoCache)
	if err != nil {
		slog.Error("Failed to list races", "year", year, "error", err)
		closeApp()
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(w, "SESSION\tLOCATION\tCOUNTRY\tDATE")
	for _, r := range races {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", r.SessionKey, r.Location, r.CountryName, r.DateStart)
	}
	_ = w.Flush()
}
