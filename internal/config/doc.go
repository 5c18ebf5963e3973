// Package config provides loading and environment overlay for the delivery
// engine configuration. It exposes a Default() baseline, JSON/YAML file
// loading and a MAPS_* environment overlay.
//
// Example:
//
//	cfg, err := config.Load("/etc/mapsd.yaml")
//	if err != nil { /* handle */ }
//	config.FromEnv(&cfg)
//	if err := cfg.Validate(); err != nil { /* handle */ }
//	rt, _ := runtime.Open(runtime.Options{Config: cfg, Logger: logger})
//	defer rt.Close()
package config
