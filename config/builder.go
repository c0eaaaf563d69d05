package config

import (
	"github.com/upnest/growthsync"
)

// BuildOptions converts parsed configuration into SDK options.
//
// The returned options do not include a logger; callers append
// [growthsync.WithLogger] with a logger built from [LogConfig].
func BuildOptions(cfg *Config) []growthsync.Option {
	opts := []growthsync.Option{
		growthsync.WithBaseURL(cfg.API.BaseURL),
		growthsync.WithInterval(cfg.Polling.Interval.Duration()),
		growthsync.WithMaxRetries(cfg.Polling.MaxRetries),
		growthsync.WithBackoffFactor(cfg.Polling.BackoffFactor),
		growthsync.WithTolerance(cfg.Polling.Tolerance),
		growthsync.WithWriteRetries(cfg.Write.Retries),
		growthsync.WithWriteBackoff(cfg.Write.InitialBackoff.Duration(), cfg.Write.MaxBackoff.Duration()),
		growthsync.WithRequestTimeout(cfg.API.Timeout.Duration()),
	}

	if cfg.API.Token != "" {
		opts = append(opts, growthsync.WithToken(cfg.API.Token))
	}
	if cfg.API.UserAgent != "" {
		opts = append(opts, growthsync.WithUserAgent(cfg.API.UserAgent))
	}
	if cfg.Polling.Jitter != nil {
		opts = append(opts, growthsync.WithJitter(*cfg.Polling.Jitter))
	}
	if cfg.Polling.Leading != nil {
		opts = append(opts, growthsync.WithLeading(*cfg.Polling.Leading))
	}
	if cfg.Log.Level == "debug" {
		opts = append(opts, growthsync.WithDebug(true))
	}

	return opts
}
