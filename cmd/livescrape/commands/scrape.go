package commands

import (
	"encoding/json"
	"os"

	"livescrape/internal/bridge"
	"livescrape/internal/components/chrono"
	"livescrape/internal/components/telemetry"
	"livescrape/internal/dashboard"
	"livescrape/internal/record"
	"livescrape/lib/serviceutil"

	"github.com/spf13/cobra"
)

var scrapeUrl *string

func init() {
	scrapeUrl = scrapeCmd.Flags().String("url", "", "The url the page was saved from, the stream id is read from it.")
	scrapeCmd.MarkFlagRequired("url")
	rootCmd.AddCommand(scrapeCmd)
}

type scrapeOutput struct {
	Record  record.Record     `json:"record"`
	Signals dashboard.Signals `json:"signals"`
	Ended   bool              `json:"ended"`
}

var scrapeCmd = &cobra.Command{
	Use:   "scrape <page.html> --url <page url>",
	Short: "Extracts a record out of a saved dashboard page and prints it as JSON.",
	Args:  cobra.ExactArgs(1),
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

		source := bridge.FileSource{Path: args[0], URL: *scrapeUrl, Time: timeApi}
		snapshot, err := source.Snapshot(cmd.Context())
		if err != nil {
			serviceutil.Fatal("read page", err)
		}
		page, err := dashboard.ParsePageBytes(snapshot.URL, []byte(snapshot.HTML), snapshot.CapturedAt)
		if err != nil {
			serviceutil.Fatal("parse page", err)
		}

		extractor := dashboard.NewExtractor(cfg.Monitor.extractorOptions(timeApi.Location()), telemetry.SlogAPI{})
		capture, err := extractor.Extract(cmd.Context(), page)
		if err != nil {
			serviceutil.Fatal("extract", err)
		}

		out := scrapeOutput{
			Record:  capture.Record,
			Signals: capture.Signals,
			Ended:   extractor.Policy().Ended(capture.Signals),
		}
		if out.Ended {
			out.Record.StreamEnded = true
			if endedAt, ok := extractor.RecoverEndTime(page); ok {
				out.Record.Timestamp = endedAt
			}
		}

		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		err = encoder.Encode(out)
		if err != nil {
			serviceutil.Fatal("write record", err)
		}
	},
}
