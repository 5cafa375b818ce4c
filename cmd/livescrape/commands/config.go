package commands

import (
	"time"

	"livescrape/internal/dashboard"
	"livescrape/internal/lifecycle"
	"livescrape/internal/monitor"
	"livescrape/internal/sink"
	"livescrape/lib/configutil"
	configlibsql "livescrape/lib/configutil/libsql"
)

type BridgeConfig struct {
	Url            string `json:"url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	// Direct fetches pages with the bridge's cookies instead of asking the
	// bridge for the rendered document.
	Direct bool `json:"direct"`
}

type RetryConfig struct {
	InitialIntervalMs int     `json:"initial_interval_ms"`
	Multiplier        float64 `json:"multiplier"`
	MaxRetries        uint64  `json:"max_retries"`
}

type SinkConfig struct {
	BaseUrl           string      `json:"base_url"`
	ApiKey            string      `json:"api_key"`
	RecordsPath       string      `json:"records_path"`
	SchedulePath      string      `json:"schedule_path"`
	RequestsPerSecond float64     `json:"requests_per_second"`
	TimeoutSeconds    int         `json:"timeout_seconds"`
	Retry             RetryConfig `json:"retry"`
}

type MonitorConfig struct {
	// StartUrl is navigated to on start, empty keeps whatever the tab shows.
	StartUrl              string `json:"start_url"`
	IntervalSeconds       int    `json:"interval_seconds"`
	StartupDelayMs        int    `json:"startup_delay_ms"`
	FinalRetryDelayMs     int    `json:"final_retry_delay_ms"`
	NavigationPollSeconds int    `json:"navigation_poll_seconds"`
	StaleThreshold        int    `json:"stale_threshold"`
	MissThreshold         int    `json:"miss_threshold"`
	LiveSuppressesEnd     *bool  `json:"live_suppresses_end"`
	UrlTemplate           string `json:"url_template"`
	Timezone              string `json:"timezone"`
}

type TriggerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

type Config struct {
	Bridge  BridgeConfig        `json:"bridge"`
	Sink    SinkConfig          `json:"sink"`
	Monitor MonitorConfig       `json:"monitor"`
	History configlibsql.Struct `json:"history"`
	Trigger TriggerConfig       `json:"trigger"`
}

func defaultConfig() Config {
	retry := sink.DefaultRetryPolicy()
	monitorOpts := monitor.DefaultOptions()
	liveSuppressesEnd := dashboard.DefaultSignalPolicy().LiveSuppressesEnd

	return Config{
		Bridge: BridgeConfig{
			Url:            "http://127.0.0.1:8765",
			TimeoutSeconds: 30,
		},
		Sink: SinkConfig{
			RecordsPath:       "/stream_metrics",
			SchedulePath:      "/scheduled_sessions",
			RequestsPerSecond: 5,
			TimeoutSeconds:    15,
			Retry: RetryConfig{
				InitialIntervalMs: int(retry.InitialInterval / time.Millisecond),
				Multiplier:        retry.Multiplier,
				MaxRetries:        retry.MaxRetries,
			},
		},
		Monitor: MonitorConfig{
			IntervalSeconds:       monitorOpts.IntervalSeconds,
			StartupDelayMs:        int(monitorOpts.StartupDelay / time.Millisecond),
			FinalRetryDelayMs:     int(monitorOpts.FinalRetryDelay / time.Millisecond),
			NavigationPollSeconds: int(monitorOpts.NavigationPoll / time.Second),
			StaleThreshold:        lifecycle.DefaultStaleThreshold,
			MissThreshold:         lifecycle.DefaultMissThreshold,
			LiveSuppressesEnd:     &liveSuppressesEnd,
			UrlTemplate:           dashboard.DefaultURLTemplate,
		},
		History: configlibsql.Struct{
			File: ".livescrape/history.db",
		},
		Trigger: TriggerConfig{
			Host: "127.0.0.1",
			Port: 8766,
		},
	}
}

func readConfig() (Config, error) {
	return configutil.ReadConfigDefault(*configPath, defaultConfig())
}

func (c SinkConfig) options() sink.Options {
	return sink.Options{
		BaseURL:           c.BaseUrl,
		APIKey:            c.ApiKey,
		RecordsPath:       c.RecordsPath,
		SchedulePath:      c.SchedulePath,
		RequestsPerSecond: c.RequestsPerSecond,
		Timeout:           time.Duration(c.TimeoutSeconds) * time.Second,
		Retry: sink.RetryPolicy{
			InitialInterval: time.Duration(c.Retry.InitialIntervalMs) * time.Millisecond,
			Multiplier:      c.Retry.Multiplier,
			MaxRetries:      c.Retry.MaxRetries,
		},
	}
}

func (c MonitorConfig) options(scrapeNow bool) monitor.Options {
	opts := monitor.Options{
		IntervalSeconds: c.IntervalSeconds,
		StartupDelay:    time.Duration(c.StartupDelayMs) * time.Millisecond,
		FinalRetryDelay: time.Duration(c.FinalRetryDelayMs) * time.Millisecond,
		NavigationPoll:  time.Duration(c.NavigationPollSeconds) * time.Second,
		Lifecycle: lifecycle.Options{
			StaleThreshold: c.StaleThreshold,
			MissThreshold:  c.MissThreshold,
		},
	}
	if scrapeNow {
		opts.StartupDelay = 0
	}
	return opts
}

func (c MonitorConfig) extractorOptions(location *time.Location) dashboard.Options {
	policy := dashboard.DefaultSignalPolicy()
	if c.LiveSuppressesEnd != nil {
		policy.LiveSuppressesEnd = *c.LiveSuppressesEnd
	}
	return dashboard.Options{
		URLTemplate: c.UrlTemplate,
		Policy:      policy,
		Location:    location,
	}
}
