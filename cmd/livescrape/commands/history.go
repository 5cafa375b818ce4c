package commands

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"livescrape/internal/components/chrono"
	"livescrape/internal/components/telemetry"
	"livescrape/internal/history"
	"livescrape/lib/serviceutil"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	historyStream *string
	historyLimit  *int
)

func init() {
	historyStream = historyCmd.Flags().String("stream", "", "Only list captures of this stream id.")
	historyLimit = historyCmd.Flags().Int("limit", history.DefaultListLimit, "The maximum number of captures to list.")
	rootCmd.AddCommand(historyCmd)
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(os.Stdout)
	return t
}

func formatFloat(value *float64) string {
	if value == nil {
		return "-"
	}
	return strconv.FormatFloat(*value, 'f', 2, 64)
}

func formatInt(value *int64) string {
	if value == nil {
		return "-"
	}
	return strconv.FormatInt(*value, 10)
}

var historyCmd = &cobra.Command{
	Use:   "history [--stream <id>] [--limit <n>]",
	Short: "Lists the most recent deliveries and what became of them.",
	Run: func(cmd *cobra.Command, args []string) {
		telemetry.InitSlog(*verbose)

		cfg, err := readConfig()
		if err != nil {
			serviceutil.Fatal("read config", err)
		}
		timeApi, err := chrono.NewStandardImpl(cfg.Monitor.Timezone)
		if err != nil {
			serviceutil.Fatal("load timezone", err)
		}

		store, err := history.Open(cmd.Context(), cfg.History, timeApi, telemetry.SlogAPI{})
		if err != nil {
			serviceutil.Fatal("open history", err)
		}
		defer store.Close()

		entries, err := store.List(cmd.Context(), *historyStream, *historyLimit)
		if err != nil {
			serviceutil.Fatal("list history", err)
		}

		t := newTable()
		t.AppendHeader(table.Row{
			"Recorded", "Stream", "Status", "Outcome", "Attempts",
			"Gross", "Orders", "Tips", "Hours", "Error",
		})
		for _, e := range entries {
			t.AppendRow(table.Row{
				e.RecordedAt.Format(time.DateTime),
				e.StreamID,
				e.Status,
				e.Outcome,
				e.Attempts,
				formatFloat(e.GrossSales),
				formatInt(e.EstimatedOrders),
				formatFloat(e.Tips),
				formatFloat(e.HoursStreamed),
				e.Error,
			})
		}
		t.AppendFooter(table.Row{"", "", "", "", "", "", "", "", "", fmt.Sprintf("%d captures", len(entries))})
		t.Render()
	},
}
