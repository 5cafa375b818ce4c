package commands

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"livescrape/internal/bridge"
	"livescrape/internal/components/chrono"
	"livescrape/internal/components/telemetry"
	"livescrape/internal/dashboard"
	"livescrape/internal/history"
	"livescrape/internal/monitor"
	"livescrape/internal/sink"
	"livescrape/lib/restyutil"
	"livescrape/lib/serviceutil"

	"github.com/spf13/cobra"
)

var (
	scrapeNow *bool
	dumpHttp  *string
)

func init() {
	scrapeNow = monitorCmd.Flags().Bool("scrape-now", false, "Run the first extraction cycle right away instead of after the startup delay.")
	dumpHttp = monitorCmd.Flags().String("dump-http", "", "Write every sink and bridge request/response to this directory.")
	rootCmd.AddCommand(monitorCmd)
}

func dumpOutput(name string) restyutil.Output {
	if *dumpHttp == "" {
		return nil
	}
	output, err := restyutil.NewFilesystemOutput(filepath.Join(*dumpHttp, name))
	if err != nil {
		serviceutil.Fatal("create http dump directory", err)
	}
	return output
}

func initTelemetry(ctx context.Context, verbose bool) {
	telemetry.InitSlog(verbose)

	if verbose {
		slog.DebugContext(ctx, "verbose logging enabled")
	}

	shutdown, err := telemetry.SetupFromEnv(ctx, "livescrape")
	if err != nil {
		serviceutil.Fatal("setup telemetry", err)
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		shutdown(shutdownCtx)
	}()
	telemetry.InstrumentPerfStats(ctx)
}

var monitorCmd = &cobra.Command{
	Use:   "monitor [--scrape-now] [--dump-http <dir>]",
	Short: "Watches the browser tab's stream dashboard and delivers its metrics until interrupted.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		initTelemetry(ctx, *verbose)

		cfg, err := readConfig()
		if err != nil {
			serviceutil.Fatal("read config", err)
		}

		tel := telemetry.SlogAPI{}
		timeApi, err := chrono.NewStandardImpl(cfg.Monitor.Timezone)
		if err != nil {
			serviceutil.Fatal("load timezone", err)
		}
		cron := chrono.NewStandardCron(tel, timeApi.Location())
		defer cron.Stop()

		slog.Info("opening history...")
		store, err := history.Open(ctx, cfg.History, timeApi, tel)
		if err != nil {
			serviceutil.Fatal("open history", err)
		}
		defer store.Close()

		sinkOpts := cfg.Sink.options()
		sinkOpts.Dump = dumpOutput("sink")
		pipeline, err := sink.NewPipeline(sinkOpts, timeApi, store, tel)
		if err != nil {
			serviceutil.Fatal("init sink", err)
		}

		client := bridge.NewClient(
			cfg.Bridge.Url,
			time.Duration(cfg.Bridge.TimeoutSeconds)*time.Second,
			timeApi,
			tel,
		)
		client.DumpTo(dumpOutput("bridge"))
		var source bridge.DocumentSource = client
		var navigator bridge.Navigator = client
		if cfg.Bridge.Direct {
			fetcher := bridge.NewPageFetcher(cfg.Monitor.StartUrl, client, timeApi, tel)
			fetcher.DumpTo(dumpOutput("fetcher"))
			source = fetcher
			navigator = fetcher
		}

		if cfg.Monitor.StartUrl != "" {
			err := navigator.Navigate(ctx, cfg.Monitor.StartUrl)
			if err != nil {
				slog.Warn("failed to open start url", "url", cfg.Monitor.StartUrl, "err", err)
			}
		}

		extractor := dashboard.NewExtractor(cfg.Monitor.extractorOptions(timeApi.Location()), tel)
		m := monitor.NewMonitor(
			cfg.Monitor.options(*scrapeNow),
			source,
			navigator,
			extractor,
			pipeline,
			timeApi,
			cron,
			tel,
		)
		slog.Info("monitoring", "interval", m.IntervalDuration().String(), "direct", cfg.Bridge.Direct)
		m.Start(ctx)

		go func() {
			err := serviceutil.StartHttpServer(
				ctx,
				cfg.Trigger.Host,
				cfg.Trigger.Port,
				monitor.NewTriggerHandler(m, tel),
			)
			if err != nil {
				serviceutil.Fatal("start trigger server", err)
			}
		}()

		<-ctx.Done()
		slog.Info("shutting down, waiting for in-flight deliveries...")
		m.Close()
	},
}
