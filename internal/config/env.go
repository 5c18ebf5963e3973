package config

import (
	"os"
	"strconv"
)

// FromEnv overlays MAPS_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("MAPS_DATA_DIR"); v != "" {
		cfg.Store.DataDir = v
	}
	if v := os.Getenv("MAPS_FSYNC"); v != "" {
		cfg.Store.Fsync = v
	}
	setInt("MAPS_FSYNC_INTERVAL_MS", &cfg.Store.FsyncIntervalMs)
	setInt("MAPS_SEGMENT_SIZE", &cfg.Delivery.SegmentSize)
	setInt("MAPS_DEFAULT_RECEIVE_MAXIMUM", &cfg.Delivery.DefaultReceiveMaximum)
	setInt("MAPS_SHARED_GROUP_CREDIT", &cfg.Delivery.SharedGroupCredit)
	setInt("MAPS_BROWSER_SLICE_MS", &cfg.Delivery.BrowserSliceMs)
	setInt("MAPS_ROLLBACK_PRIORITY_INCREMENT", &cfg.Delivery.RollbackPriorityIncrement)
	setInt("MAPS_MAX_REDELIVERIES", &cfg.Delivery.MaxRedeliveries)
	if v := os.Getenv("MAPS_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("MAPS_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("MAPS_METRICS_NAMESPACE"); v != "" {
		cfg.Metrics.Namespace = v
	}
	if v := os.Getenv("MAPS_METRICS_ADDR"); v != "" {
		cfg.Metrics.ListenAddr = v
	}
}

// setInt leaves dst untouched when the variable is unset or not a number.
func setInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
